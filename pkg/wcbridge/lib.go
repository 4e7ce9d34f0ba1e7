package wcbridge

import (
	"fmt"
	"math/rand"
	"net/url"
	"strings"
	"time"
)

// 建立会话流程：
// 	1. 订阅自己的 clientID 主题
// 	2. 在握手主题上发布加密的 wc_sessionRequest，钱包扫码后取得主题与密钥
// 	3. 钱包在 clientID 主题上回复会话结果，之后通过 wc_sessionUpdate 推送账户变化或断开

const (
	alphanumerical  = "abcdefghijklmnopqrstuvwxyz0123456789"
	bridgeURLFormat = "https://%v.bridge.walletconnect.org"

	Protocol = "wc"
	Version  = "1"
)

var random = rand.New(rand.NewSource(time.Now().UnixNano()))

// RandomBridgeURL picks one of the public bridge shards.
func RandomBridgeURL() string {
	c := alphanumerical[random.Intn(len(alphanumerical))]
	return fmt.Sprintf(bridgeURLFormat, string(c))
}

// WebSocketURL converts a bridge URL into its websocket endpoint.
func WebSocketURL(bridgeURL string) string {
	switch {
	case strings.HasPrefix(bridgeURL, "https://"):
		bridgeURL = "wss://" + strings.TrimPrefix(bridgeURL, "https://")
	case strings.HasPrefix(bridgeURL, "http://"):
		bridgeURL = "ws://" + strings.TrimPrefix(bridgeURL, "http://")
	}
	q := url.Values{}
	q.Set("protocol", Protocol)
	q.Set("version", Version)
	q.Set("env", "browser")
	return bridgeURL + "?" + q.Encode()
}

// PairingURI builds the wc: URI shown to the wallet as a QR code.
func PairingURI(handshakeTopic, bridgeURL string, key []byte) string {
	return fmt.Sprintf("wc:%s@%s?bridge=%s&key=%x", handshakeTopic, Version, url.QueryEscape(bridgeURL), key)
}
