/*
 *  Copyright © 成都黢黑数字科技有限公司 - All Rights Reserved
 *  * Unauthorized copying of this file, via any medium is strictly prohibited
 *  * Proprietary and confidential
 *  * Written by 李相君 lxjpub@gmail.com, April 2019
 *
 */

package wcbridge

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"

	"moff.io/moff-estate/pkg/errors"
)

const (
	KeySize = 256 / 8
	ivSize  = 128 / 8
)

var (
	ErrInvalidPadding = errors.New("invalid pkcs7 padding")
	ErrHmacMismatch   = errors.New("inconsistent session message hmac")
)

// Envelope is the encrypted payload exchanged through the bridge.
type Envelope struct {
	Data string `json:"data"`
	Hmac string `json:"hmac"`
	IV   string `json:"iv"`
}

// Seal encrypts plaintext with key and authenticates cipher||iv.
func Seal(plaintext, key []byte) (*Envelope, error) {
	iv, err := GenerateRandomBytes(ivSize)
	if err != nil {
		return nil, errors.Wrap(err, "generate random bytes")
	}
	data, err := Aes256Encrypt(plaintext, key, iv)
	if err != nil {
		return nil, err
	}
	unsigned := append(append([]byte{}, data...), iv...)
	return &Envelope{
		Data: hex.EncodeToString(data),
		IV:   hex.EncodeToString(iv),
		Hmac: hex.EncodeToString(HmacSha256(unsigned, key)),
	}, nil
}

// Open verifies and decrypts an envelope.
func Open(env *Envelope, key []byte) ([]byte, error) {
	iv, err := hex.DecodeString(env.IV)
	if err != nil {
		return nil, errors.Wrap(err, "decode iv hex")
	}
	data, err := hex.DecodeString(env.Data)
	if err != nil {
		return nil, errors.Wrap(err, "decode cipher hex")
	}
	mac, err := hex.DecodeString(env.Hmac)
	if err != nil {
		return nil, errors.Wrap(err, "decode hmac hex")
	}
	unsigned := append(append([]byte{}, data...), iv...)
	if !hmac.Equal(mac, HmacSha256(unsigned, key)) {
		return nil, ErrHmacMismatch
	}
	return Aes256Decrypt(data, key, iv)
}

func Aes256Encrypt(content, encryptionKey, iv []byte) ([]byte, error) {
	bPlaintext := pkcs7Padding(content, aes.BlockSize)
	block, err := aes.NewCipher(encryptionKey)
	if err != nil {
		return nil, errors.Wrap(err, "create new cipher block")
	}
	ciphertext := make([]byte, len(bPlaintext))
	mode := cipher.NewCBCEncrypter(block, iv)
	mode.CryptBlocks(ciphertext, bPlaintext)
	return ciphertext, nil
}

func Aes256Decrypt(cipherText, encryptionKey, iv []byte) ([]byte, error) {
	block, err := aes.NewCipher(encryptionKey)
	if err != nil {
		return nil, errors.Wrap(err, "create new cipher block")
	}
	if len(cipherText) == 0 || len(cipherText)%aes.BlockSize != 0 {
		return nil, errors.New("cipher text is not a multiple of the block size")
	}
	plain := make([]byte, len(cipherText))
	mode := cipher.NewCBCDecrypter(block, iv)
	mode.CryptBlocks(plain, cipherText)
	return pkcs7Unpadding(plain)
}

func pkcs7Padding(cipherText []byte, blockSize int) []byte {
	padding := blockSize - len(cipherText)%blockSize
	padText := bytes.Repeat([]byte{byte(padding)}, padding)
	return append(append([]byte{}, cipherText...), padText...)
}

func pkcs7Unpadding(plain []byte) ([]byte, error) {
	n := len(plain)
	if n == 0 {
		return nil, ErrInvalidPadding
	}
	padding := int(plain[n-1])
	if padding == 0 || padding > aes.BlockSize || padding > n {
		return nil, ErrInvalidPadding
	}
	for _, b := range plain[n-padding:] {
		if int(b) != padding {
			return nil, ErrInvalidPadding
		}
	}
	return plain[:n-padding], nil
}

func GenerateRandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func HmacSha256(data, secret []byte) []byte {
	h := hmac.New(sha256.New, secret)
	h.Write(data)
	return h.Sum(nil)
}
