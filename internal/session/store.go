package session

import (
	"context"
	"sync"

	"moff.io/moff-estate/internal/wallet"
	"moff.io/moff-estate/pkg/log"
)

// Store is the single source of truth for the wallet connection. It is
// created at application start, started once and stopped once.
type Store struct {
	svc *wallet.Service

	mu    sync.Mutex
	state State
	// generation changes on every transition that an in-flight async result
	// must not overwrite: disconnect, account change, completed connect.
	generation uint64

	watchers    map[uint64]func(State)
	nextWatcher uint64

	startOnce sync.Once
	stopOnce  sync.Once
	sub       wallet.Subscription
}

func NewStore(svc *wallet.Service) *Store {
	return &Store{
		svc:      svc,
		watchers: make(map[uint64]func(State)),
	}
}

// Service exposes the adapter for read-only URL lookups by UI layers.
func (s *Store) Service() *wallet.Service {
	return s.svc
}

// State returns the current snapshot.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsConnected is the only signal the route guard reads.
func (s *Store) IsConnected() bool {
	return s.State().Wallet.IsConnected
}

// DisplayAddress returns the abbreviated current address.
func (s *Store) DisplayAddress() string {
	return FormatAddress(s.State().Wallet.Address)
}

// Watch registers fn for every state change. fn runs with the store locked,
// so it must be quick and must not call back into the store.
func (s *Store) Watch(fn func(State)) (cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextWatcher
	s.nextWatcher++
	s.watchers[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.watchers, id)
	}
}

// Follow is Watch, except fn is first called with the current state before
// Follow returns, so no change can slip in between reading and watching.
func (s *Store) Follow(fn func(State)) (cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextWatcher
	s.nextWatcher++
	s.watchers[id] = fn
	fn(s.state)
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.watchers, id)
	}
}

// update applies fn under the lock and notifies watchers when anything changed.
func (s *Store) update(fn func(st *State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.state
	fn(&s.state)
	if s.state == prev {
		return
	}
	for _, w := range s.watchers {
		w(s.state)
	}
}

// Connect asks the wallet for account access. A call made while another
// connect is in flight is a no-op. Failures are recorded in State.Error;
// the error is also returned for callers that want it.
func (s *Store) Connect(ctx context.Context) (err error) {
	var (
		gen     uint64
		started bool
	)
	s.update(func(st *State) {
		if st.IsConnecting {
			return
		}
		st.IsConnecting = true
		st.Error = ""
		gen = s.generation
		started = true
	})
	if !started {
		return nil
	}

	var accounts []string
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("wallet connection panic: %v", r)
			s.finishConnect(gen, nil, "Failed to connect to wallet")
			panic(r)
		}
		if err != nil {
			log.Errorf("Wallet connection error: %v", err)
			s.finishConnect(gen, nil, err.Error())
			return
		}
		s.finishConnect(gen, accounts, "")
	}()
	accounts, err = s.svc.RequestAccounts(ctx)
	return err
}

// finishConnect clears the in-flight flag and applies the result unless a
// newer transition happened while the request was pending.
func (s *Store) finishConnect(gen uint64, accounts []string, errMsg string) {
	s.update(func(st *State) {
		st.IsConnecting = false
		if s.generation != gen {
			log.Infof("wallet - discarding stale connect result")
			return
		}
		s.generation++
		if errMsg != "" {
			st.Error = errMsg
			st.Wallet = wallet.Disconnected()
			return
		}
		st.Wallet = wallet.Connected(accounts[0])
	})
}

// Disconnect resets local state and opens the wallet vendor's instructions
// for revoking access, which only the user can do.
func (s *Store) Disconnect() {
	s.update(func(st *State) {
		s.generation++
		st.Wallet = wallet.Disconnected()
		st.Error = ""
	})
	s.svc.OpenDisconnectTutorial()
}

// Start runs the passive "already connected" check and subscribes to account
// changes. Only the first call has any effect.
func (s *Store) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		if !s.svc.IsInstalled() {
			log.Infof("wallet - provider not installed, download at %v", s.svc.DownloadURL())
			return
		}
		s.mu.Lock()
		s.sub = s.svc.OnAccountsChanged(s.handleAccountsChanged)
		s.mu.Unlock()
		s.checkConnection(ctx)
	})
}

// Stop releases the account-change subscription. Only the first call has any effect.
func (s *Store) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		sub := s.sub
		s.sub = nil
		s.mu.Unlock()
		if sub != nil {
			sub.Unsubscribe()
		}
	})
}

func (s *Store) checkConnection(ctx context.Context) {
	s.mu.Lock()
	gen := s.generation
	s.mu.Unlock()

	accounts, err := s.svc.QueryAccounts(ctx)
	if err != nil {
		log.Errorf("Error checking wallet connection: %v", err)
		return
	}
	if len(accounts) == 0 || accounts[0] == "" {
		return
	}
	s.update(func(st *State) {
		if s.generation != gen {
			return
		}
		s.generation++
		st.Wallet = wallet.Connected(accounts[0])
	})
}

func (s *Store) handleAccountsChanged(accounts []string) {
	if len(accounts) == 0 || accounts[0] == "" {
		log.Infof("wallet - accounts revoked by the wallet")
		s.Disconnect()
		return
	}
	log.Infof("wallet - active account changed to %v", FormatAddress(accounts[0]))
	s.update(func(st *State) {
		s.generation++
		st.Wallet = wallet.Connected(accounts[0])
	})
}
