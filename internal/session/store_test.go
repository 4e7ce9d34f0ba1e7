package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"moff.io/moff-estate/internal/wallet"
	"moff.io/moff-estate/internal/wallet/wallettest"
)

type navigations struct {
	mu   sync.Mutex
	urls []string
}

func (n *navigations) Open(url string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.urls = append(n.urls, url)
}

func (n *navigations) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.urls)
}

type recorder struct {
	mu     sync.Mutex
	states []State
}

func (r *recorder) record(s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *recorder) sawConnecting() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.states {
		if s.IsConnecting {
			return true
		}
	}
	return false
}

func newStore(t *testing.T, p wallet.Provider) (*Store, *navigations) {
	t.Helper()
	nav := &navigations{}
	store := NewStore(wallet.NewService(p, wallet.WithNavigator(nav)))
	t.Cleanup(store.Stop)
	return store, nav
}

func TestFormatAddress(t *testing.T) {
	tests := []struct {
		name    string
		address string
		want    string
	}{
		{"empty", "", ""},
		{"full address", "0x1234567890123456789012345678901234567890", "0x1234...7890"},
		{"nine characters", "0x1234567", "0x1234567"},
		{"exactly ten", "0x12345678", "0x12345678"},
		{"eleven", "0x123456789", "0x1234...6789"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatAddress(tt.address))
		})
	}
}

func TestConnectUsesFirstAccount(t *testing.T) {
	for _, accounts := range [][]string{
		{"0xAAA"},
		{"0xAAA", "0xBBB"},
		{"0x1234567890123456789012345678901234567890", "0xCCC", "0xDDD"},
	} {
		p := wallettest.New()
		p.Reply(wallet.MethodRequestAccounts, accounts...)
		store, _ := newStore(t, p)

		require.NoError(t, store.Connect(context.Background()))
		st := store.State()
		assert.Equal(t, wallet.Info{Address: accounts[0], IsConnected: true}, st.Wallet)
		assert.Empty(t, st.Error)
		assert.False(t, st.IsConnecting)
	}
}

func TestConnectSuccess(t *testing.T) {
	p := wallettest.New()
	p.Reply(wallet.MethodRequestAccounts, "0xAAA")
	store, _ := newStore(t, p)
	rec := &recorder{}
	store.Watch(rec.record)

	require.NoError(t, store.Connect(context.Background()))

	assert.Equal(t, State{Wallet: wallet.Info{Address: "0xAAA", IsConnected: true}}, store.State())
	assert.True(t, store.IsConnected())
	assert.Equal(t, "0xAAA", store.DisplayAddress())
	assert.True(t, rec.sawConnecting())
	assert.Equal(t, "connected", store.State().Phase())
}

func TestConnectEmptyAccountsIsError(t *testing.T) {
	p := wallettest.New()
	p.Reply(wallet.MethodRequestAccounts)
	store, _ := newStore(t, p)

	err := store.Connect(context.Background())
	require.Error(t, err)
	st := store.State()
	assert.Equal(t, "No accounts found", st.Error)
	assert.False(t, st.Wallet.IsConnected)
	assert.False(t, st.IsConnecting)
}

func TestConnectProviderAbsent(t *testing.T) {
	store, _ := newStore(t, nil)

	err := store.Connect(context.Background())
	assert.ErrorIs(t, err, wallet.ErrNotInstalled)
	st := store.State()
	assert.Equal(t, "MetaMask is not installed", st.Error)
	assert.False(t, st.IsConnecting)
	assert.Equal(t, wallet.Disconnected(), st.Wallet)
	assert.Equal(t, "disconnected", st.Phase())
}

func TestConnectRejectedClearsOnRetry(t *testing.T) {
	p := wallettest.New()
	p.Fail(wallet.MethodRequestAccounts, errors.New("User rejected the request."))
	store, _ := newStore(t, p)

	require.Error(t, store.Connect(context.Background()))
	assert.Equal(t, "User rejected the request.", store.State().Error)

	gate := p.Hold(wallet.MethodRequestAccounts)
	done := make(chan error, 1)
	go func() { done <- store.Connect(context.Background()) }()
	<-gate.Entered()

	st := store.State()
	assert.True(t, st.IsConnecting)
	assert.Empty(t, st.Error)

	gate.Release([]string{"0xAAA"}, nil)
	require.NoError(t, <-done)
	assert.True(t, store.IsConnected())
}

func TestConnectWhileConnectingIsNoop(t *testing.T) {
	p := wallettest.New()
	gate := p.Hold(wallet.MethodRequestAccounts)
	store, _ := newStore(t, p)

	done := make(chan error, 1)
	go func() { done <- store.Connect(context.Background()) }()
	<-gate.Entered()

	before := store.State()
	require.NoError(t, store.Connect(context.Background()))
	assert.Equal(t, before, store.State())
	assert.Equal(t, 1, p.Calls(wallet.MethodRequestAccounts))

	gate.Release([]string{"0xAAA"}, nil)
	require.NoError(t, <-done)
	assert.Equal(t, 1, p.Calls(wallet.MethodRequestAccounts))
	assert.True(t, store.IsConnected())
}

func TestDisconnectDuringConnectIsNotUndone(t *testing.T) {
	p := wallettest.New()
	gate := p.Hold(wallet.MethodRequestAccounts)
	store, nav := newStore(t, p)

	done := make(chan error, 1)
	go func() { done <- store.Connect(context.Background()) }()
	<-gate.Entered()

	store.Disconnect()
	gate.Release([]string{"0xAAA"}, nil)
	require.NoError(t, <-done)

	st := store.State()
	assert.Equal(t, wallet.Disconnected(), st.Wallet)
	assert.False(t, st.IsConnecting)
	assert.Equal(t, 1, nav.count())
}

func TestDisconnectResetsEverything(t *testing.T) {
	p := wallettest.New()
	p.Reply(wallet.MethodRequestAccounts, "0xAAA")
	store, nav := newStore(t, p)
	require.NoError(t, store.Connect(context.Background()))

	store.Disconnect()
	assert.Equal(t, State{}, store.State())
	assert.Equal(t, []string{wallet.DefaultGuidanceURL}, nav.urls)

	p.Fail(wallet.MethodRequestAccounts, errors.New("denied"))
	require.Error(t, store.Connect(context.Background()))
	store.Disconnect()
	assert.Empty(t, store.State().Error)
	assert.Equal(t, 2, nav.count())
}

func TestDisconnectWhenAlreadyDisconnected(t *testing.T) {
	store, nav := newStore(t, nil)
	store.Disconnect()
	assert.Equal(t, State{}, store.State())
	assert.Equal(t, 1, nav.count())
}

func TestStartFindsAuthorizedAccount(t *testing.T) {
	p := wallettest.New()
	p.Reply(wallet.MethodAccounts, "0xAAA")
	store, _ := newStore(t, p)
	rec := &recorder{}
	store.Watch(rec.record)

	store.Start(context.Background())

	assert.Equal(t, wallet.Info{Address: "0xAAA", IsConnected: true}, store.State().Wallet)
	assert.False(t, rec.sawConnecting())
	assert.Zero(t, p.Calls(wallet.MethodRequestAccounts))

	store.Start(context.Background())
	assert.Equal(t, 1, p.Calls(wallet.MethodAccounts))
}

func TestStartWithoutAuthorizedAccount(t *testing.T) {
	p := wallettest.New()
	p.Reply(wallet.MethodAccounts)
	store, _ := newStore(t, p)

	store.Start(context.Background())
	assert.Equal(t, State{}, store.State())
}

func TestStartCheckFailureIsNotSurfaced(t *testing.T) {
	p := wallettest.New()
	p.Fail(wallet.MethodAccounts, errors.New("provider busy"))
	store, _ := newStore(t, p)

	store.Start(context.Background())
	assert.Equal(t, State{}, store.State())
}

func TestStartNotInstalled(t *testing.T) {
	p := wallettest.New().NotMetaMask()
	store, _ := newStore(t, p)

	store.Start(context.Background())
	assert.Zero(t, p.Calls(wallet.MethodAccounts))
	assert.Zero(t, p.EmitAccountsChanged("0xAAA"))
}

func waitFor(t *testing.T, store *Store, cond func(State) bool) {
	t.Helper()
	assert.Eventually(t, func() bool { return cond(store.State()) }, time.Second, 5*time.Millisecond)
}

func TestAccountsChangedEmptyDisconnects(t *testing.T) {
	p := wallettest.New()
	p.Reply(wallet.MethodAccounts, "0xAAA")
	store, nav := newStore(t, p)
	store.Start(context.Background())
	require.True(t, store.IsConnected())

	require.Equal(t, 1, p.EmitAccountsChanged())
	waitFor(t, store, func(s State) bool { return !s.Wallet.IsConnected })
	assert.Equal(t, State{}, store.State())
	assert.Eventually(t, func() bool { return nav.count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestAccountsChangedSwitchesAccount(t *testing.T) {
	p := wallettest.New()
	p.Reply(wallet.MethodAccounts, "0xAAA")
	store, nav := newStore(t, p)
	store.Start(context.Background())
	rec := &recorder{}
	store.Watch(rec.record)

	require.Equal(t, 1, p.EmitAccountsChanged("0xBBB", "0xAAA"))
	waitFor(t, store, func(s State) bool { return s.Wallet.Address == "0xBBB" })
	assert.Equal(t, wallet.Info{Address: "0xBBB", IsConnected: true}, store.State().Wallet)
	assert.False(t, rec.sawConnecting())
	assert.Zero(t, nav.count())
}

func TestStopReleasesSubscription(t *testing.T) {
	p := wallettest.New()
	store, _ := newStore(t, p)
	store.Start(context.Background())

	store.Stop()
	store.Stop()
	assert.Zero(t, p.EmitAccountsChanged("0xAAA"))
}

func TestWatchCancel(t *testing.T) {
	p := wallettest.New()
	p.Reply(wallet.MethodRequestAccounts, "0xAAA")
	store, _ := newStore(t, p)

	rec := &recorder{}
	cancel := store.Watch(rec.record)
	cancel()
	require.NoError(t, store.Connect(context.Background()))
	assert.Empty(t, rec.states)
}

func TestFollowStartsWithCurrentState(t *testing.T) {
	p := wallettest.New()
	p.Reply(wallet.MethodAccounts, "0xAAA")
	store, _ := newStore(t, p)
	store.Start(context.Background())
	require.True(t, store.IsConnected())

	rec := &recorder{}
	cancel := store.Follow(rec.record)
	rec.mu.Lock()
	require.Len(t, rec.states, 1)
	assert.Equal(t, "0xAAA", rec.states[0].Wallet.Address)
	rec.mu.Unlock()

	store.Disconnect()
	cancel()
	store.Disconnect()
	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.states, 2)
	assert.False(t, rec.states[1].Wallet.IsConnected)
}
