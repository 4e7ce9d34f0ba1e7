package wallet

import (
	"context"
	"encoding/json"
	"sync"

	"moff.io/moff-estate/pkg/log"
)

const (
	DefaultDownloadURL = "https://metamask.io/download/"
	DefaultGuidanceURL = "https://support.metamask.io/more-web3/dapps/disconnect-wallet-from-a-dapp/"

	accountsBuffer = 8
)

// Service isolates every interaction with the injected provider.
// It holds no connection state of its own.
type Service struct {
	provider  Provider
	installed bool

	navigator   Navigator
	downloadURL string
	guidanceURL string
}

// Option configures a Service.
type Option func(*Service)

// WithNavigator sets where the disconnect guidance page is opened.
func WithNavigator(n Navigator) Option {
	return func(s *Service) {
		if n != nil {
			s.navigator = n
		}
	}
}

func WithDownloadURL(url string) Option {
	return func(s *Service) {
		if url != "" {
			s.downloadURL = url
		}
	}
}

func WithGuidanceURL(url string) Option {
	return func(s *Service) {
		if url != "" {
			s.guidanceURL = url
		}
	}
}

// NewService wraps provider. A nil provider means no wallet is injected;
// presence is decided here once and never re-checked.
func NewService(provider Provider, opts ...Option) *Service {
	s := &Service{
		provider:    provider,
		downloadURL: DefaultDownloadURL,
		guidanceURL: DefaultGuidanceURL,
		navigator: NavigatorFunc(func(url string) {
			log.Infof("wallet - open %v", url)
		}),
	}
	s.installed = provider != nil && provider.IsMetaMask()
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IsInstalled reports whether a MetaMask provider is present.
func (s *Service) IsInstalled() bool {
	return s.installed
}

// Pairer returns the provider's pairing capability, if any.
func (s *Service) Pairer() (Pairer, bool) {
	if s.provider == nil {
		return nil, false
	}
	p, ok := s.provider.(Pairer)
	return p, ok
}

func (s *Service) DownloadURL() string {
	return s.downloadURL
}

func (s *Service) GuidanceURL() string {
	return s.guidanceURL
}

// RequestAccounts asks the wallet to prompt the user for account access.
// Zero granted accounts is a failure; on success the first account is the active one.
func (s *Service) RequestAccounts(ctx context.Context) ([]string, error) {
	if !s.IsInstalled() {
		return nil, ErrNotInstalled
	}
	raw, err := s.provider.Request(ctx, MethodRequestAccounts)
	if err != nil {
		return nil, newConnectionError(err, msgConnectFailed)
	}
	accounts, err := decodeAccounts(raw)
	if err != nil {
		return nil, &ConnectionError{Message: msgConnectFailed, cause: err}
	}
	if len(accounts) == 0 || accounts[0] == "" {
		return nil, &ConnectionError{Message: msgNoAccounts}
	}
	return accounts, nil
}

// QueryAccounts returns the already authorized accounts without prompting.
// An empty result is valid.
func (s *Service) QueryAccounts(ctx context.Context) ([]string, error) {
	if !s.IsInstalled() {
		return nil, ErrNotInstalled
	}
	raw, err := s.provider.Request(ctx, MethodAccounts)
	if err != nil {
		return nil, newConnectionError(err, msgGetAccountsFail)
	}
	accounts, err := decodeAccounts(raw)
	if err != nil {
		return nil, &ConnectionError{Message: msgGetAccountsFail, cause: err}
	}
	return accounts, nil
}

// Subscription is a registered account-change handler.
type Subscription interface {
	Unsubscribe()
}

type noopSubscription struct{}

func (noopSubscription) Unsubscribe() {}

type accountsSubscription struct {
	once sync.Once
	quit chan struct{}
	done chan struct{}
	stop func()
}

// Unsubscribe releases the provider subscription and waits for the
// delivery goroutine to exit. Safe to call more than once.
func (a *accountsSubscription) Unsubscribe() {
	a.once.Do(func() {
		a.stop()
		close(a.quit)
	})
	<-a.done
}

// OnAccountsChanged registers handler for account list changes. Calls to
// handler are serialized. Without a provider the returned handle does nothing.
func (s *Service) OnAccountsChanged(handler func(accounts []string)) Subscription {
	if s.provider == nil {
		return noopSubscription{}
	}
	ch := make(chan []string, accountsBuffer)
	sub, err := s.provider.SubscribeAccountsChanged(context.Background(), ch)
	if err != nil {
		log.Errorf("wallet - subscribe %v: %v", EventAccountsChanged, err)
		return noopSubscription{}
	}
	as := &accountsSubscription{
		quit: make(chan struct{}),
		done: make(chan struct{}),
		stop: sub.Unsubscribe,
	}
	go func() {
		defer close(as.done)
		for {
			select {
			case accounts := <-ch:
				handler(accounts)
			case err, ok := <-sub.Err():
				if ok && err != nil {
					log.Errorf("wallet - %v subscription dropped: %v", EventAccountsChanged, err)
				}
				return
			case <-as.quit:
				return
			}
		}
	}()
	return as
}

// OpenDisconnectTutorial sends the user to the vendor's manual disconnect
// instructions. The provider API offers no programmatic revoke.
func (s *Service) OpenDisconnectTutorial() {
	s.navigator.Open(s.guidanceURL)
}

func decodeAccounts(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var accounts []string
	if err := json.Unmarshal(raw, &accounts); err != nil {
		return nil, err
	}
	return accounts, nil
}
