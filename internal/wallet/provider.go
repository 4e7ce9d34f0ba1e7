package wallet

import (
	"context"
	"encoding/json"

	"github.com/ethereum/go-ethereum/event"
)

// JSON-RPC methods and events the injected provider must support.
const (
	MethodRequestAccounts = "eth_requestAccounts"
	MethodAccounts        = "eth_accounts"
	MethodChainID         = "eth_chainId"

	EventAccountsChanged = "accountsChanged"
)

// Provider is the injected wallet object as seen from Go.
// Implementations live in internal/ethrpc and internal/walletconnect.
type Provider interface {
	// IsMetaMask reports whether the provider identifies itself as MetaMask.
	IsMetaMask() bool

	// Request performs an EIP-1193 request and returns the raw JSON result.
	// It blocks until the wallet answers or ctx is done.
	Request(ctx context.Context, method string, params ...interface{}) (json.RawMessage, error)

	// SubscribeAccountsChanged delivers every new authorized account list on ch.
	// An empty list means the wallet revoked access.
	SubscribeAccountsChanged(ctx context.Context, ch chan<- []string) (event.Subscription, error)
}

// Pairer is implemented by providers that need an out-of-band pairing step,
// e.g. a QR code scanned by a mobile wallet.
type Pairer interface {
	PairingURI() string
	PairingQRCode() ([]byte, error)
}

// Navigator opens a URL in a new browsing context.
type Navigator interface {
	Open(url string)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(url string)

func (f NavigatorFunc) Open(url string) {
	f(url)
}
