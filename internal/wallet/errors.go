package wallet

import (
	"moff.io/moff-estate/pkg/errors"
)

var (
	// ErrNotInstalled is returned before any request when no MetaMask provider is present.
	ErrNotInstalled = errors.New("MetaMask is not installed")
)

const (
	msgNoAccounts      = "No accounts found"
	msgConnectFailed   = "Failed to connect to MetaMask"
	msgGetAccountsFail = "Failed to get accounts"
	msgNoProvider      = "No Ethereum provider found"
)

// ConnectionError reports a rejected, failed or empty account request.
type ConnectionError struct {
	Message string
	cause   error
}

func newConnectionError(cause error, fallback string) *ConnectionError {
	msg := fallback
	if cause != nil && cause.Error() != "" {
		msg = cause.Error()
	}
	return &ConnectionError{Message: msg, cause: cause}
}

func (e *ConnectionError) Error() string {
	return e.Message
}

func (e *ConnectionError) Unwrap() error {
	return e.cause
}

// IsConnectionError reports whether err carries a *ConnectionError.
func IsConnectionError(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce)
}
