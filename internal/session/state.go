package session

import "moff.io/moff-estate/internal/wallet"

// State is a point-in-time view of the wallet connection.
// Error is empty when no error is recorded.
type State struct {
	Wallet       wallet.Info `json:"walletInfo"`
	IsConnecting bool        `json:"isConnecting"`
	Error        string      `json:"error,omitempty"`
}

// Phase names the state the connection is in. Connecting is a transient flag
// layered over the other two, so Phase reports it first.
func (s State) Phase() string {
	switch {
	case s.IsConnecting:
		return "connecting"
	case s.Wallet.IsConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

const (
	displayMinLen = 10
	displayHead   = 6
	displayTail   = 4
)

// FormatAddress abbreviates an address for display, e.g. 0x1234...7890.
// The result is never used for equality or persistence.
func FormatAddress(address string) string {
	if address == "" {
		return ""
	}
	if len(address) <= displayMinLen {
		return address
	}
	return address[:displayHead] + "..." + address[len(address)-displayTail:]
}
