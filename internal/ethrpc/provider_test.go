package ethrpc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"moff.io/moff-estate/internal/wallet"
)

// fakeEth serves the eth namespace of a wallet.
type fakeEth struct {
	granted    []string
	authorized []string
	reject     bool
	changes    [][]string
}

func (f *fakeEth) RequestAccounts() ([]string, error) {
	if f.reject {
		return nil, errors.New("User rejected the request.")
	}
	return f.granted, nil
}

func (f *fakeEth) Accounts() []string {
	return f.authorized
}

func (f *fakeEth) AccountsChanged(ctx context.Context) (*rpc.Subscription, error) {
	notifier, supported := rpc.NotifierFromContext(ctx)
	if !supported {
		return nil, rpc.ErrNotificationsUnsupported
	}
	sub := notifier.CreateSubscription()
	go func() {
		for _, accounts := range f.changes {
			if err := notifier.Notify(sub.ID, accounts); err != nil {
				return
			}
		}
	}()
	return sub, nil
}

type fakeWeb3 struct {
	version string
}

func (f *fakeWeb3) ClientVersion() string {
	return f.version
}

func newServer(t *testing.T, eth *fakeEth, version string) *rpc.Server {
	t.Helper()
	server := rpc.NewServer()
	require.NoError(t, server.RegisterName("eth", eth))
	require.NoError(t, server.RegisterName("web3", &fakeWeb3{version: version}))
	t.Cleanup(server.Stop)
	return server
}

func TestRequestAccountsThroughService(t *testing.T) {
	server := newServer(t, &fakeEth{granted: []string{"0xAAA", "0xBBB"}}, "MetaMask/v11.0.0")
	p := NewProvider(rpc.DialInProc(server), true)
	defer p.Close()

	accounts, err := wallet.NewService(p).RequestAccounts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"0xAAA", "0xBBB"}, accounts)
}

func TestRequestAccountsRejected(t *testing.T) {
	server := newServer(t, &fakeEth{reject: true}, "MetaMask/v11.0.0")
	p := NewProvider(rpc.DialInProc(server), true)
	defer p.Close()

	_, err := wallet.NewService(p).RequestAccounts(context.Background())
	require.Error(t, err)
	assert.True(t, wallet.IsConnectionError(err))
	assert.Equal(t, "User rejected the request.", err.Error())
}

func TestQueryAccounts(t *testing.T) {
	server := newServer(t, &fakeEth{}, "MetaMask/v11.0.0")
	p := NewProvider(rpc.DialInProc(server), true)
	defer p.Close()

	accounts, err := wallet.NewService(p).QueryAccounts(context.Background())
	require.NoError(t, err)
	assert.Empty(t, accounts)
}

func TestAccountsChangedSubscription(t *testing.T) {
	eth := &fakeEth{changes: [][]string{{"0xBBB"}, {}}}
	server := newServer(t, eth, "MetaMask/v11.0.0")
	p := NewProvider(rpc.DialInProc(server), true)
	defer p.Close()

	got := make(chan []string, 2)
	sub := wallet.NewService(p).OnAccountsChanged(func(accounts []string) { got <- accounts })
	defer sub.Unsubscribe()

	for _, want := range eth.changes {
		select {
		case accounts := <-got:
			assert.Equal(t, want, accounts)
		case <-time.After(2 * time.Second):
			t.Fatal("accountsChanged not delivered")
		}
	}
}

func TestDialIdentifiesWallet(t *testing.T) {
	tests := []struct {
		version string
		want    bool
	}{
		{"MetaMask/v11.0.0", true},
		{"Frame/v0.6.9", false},
	}
	for _, tt := range tests {
		t.Run(tt.version, func(t *testing.T) {
			server := newServer(t, &fakeEth{}, tt.version)
			client := rpc.DialInProc(server)
			defer client.Close()

			var version string
			require.NoError(t, client.CallContext(context.Background(), &version, "web3_clientVersion"))
			assert.Equal(t, tt.want, NewProvider(client, isMetaMaskVersion(version)).IsMetaMask())
		})
	}
}
