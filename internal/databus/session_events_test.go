package databus

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/Shopify/sarama.v1"

	"moff.io/moff-estate/internal/config"
	"moff.io/moff-estate/internal/session"
	"moff.io/moff-estate/internal/wallet"
	"moff.io/moff-estate/internal/wallet/wallettest"
)

type fakeProducer struct {
	mu     sync.Mutex
	msgs   []*sarama.ProducerMessage
	closed bool
}

func (f *fakeProducer) SendMessage(msg *sarama.ProducerMessage) (int32, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, msg)
	return 0, int64(len(f.msgs) - 1), nil
}

func (f *fakeProducer) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeProducer) events(t *testing.T) []SessionEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []SessionEvent
	for _, m := range f.msgs {
		raw, err := m.Value.Encode()
		require.NoError(t, err)
		var e SessionEvent
		require.NoError(t, json.Unmarshal(raw, &e))
		out = append(out, e)
	}
	return out
}

func connected(addr string) session.State {
	return session.State{Wallet: wallet.Connected(addr)}
}

func TestTransition(t *testing.T) {
	disconnected := session.State{Wallet: wallet.Disconnected()}
	connecting := session.State{Wallet: wallet.Disconnected(), IsConnecting: true}
	failed := session.State{Wallet: wallet.Disconnected(), Error: "User rejected the request."}

	tests := []struct {
		name     string
		prev     session.State
		next     session.State
		want     string
		address  string
		previous string
	}{
		{"start connecting", disconnected, connecting, EventConnecting, "", ""},
		{"connected", connecting, connected("0xAAA"), EventConnected, "0xAAA", ""},
		{"account switched", connected("0xAAA"), connected("0xBBB"), EventAccountChanged, "0xBBB", "0xAAA"},
		{"disconnected", connected("0xAAA"), disconnected, EventDisconnected, "", "0xAAA"},
		{"connect failed", connecting, failed, EventConnectFailed, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, ok := Transition(tt.prev, tt.next)
			require.True(t, ok)
			assert.Equal(t, tt.want, e.Type)
			assert.Equal(t, tt.address, e.Address)
			assert.Equal(t, tt.previous, e.Previous)
			assert.NotEmpty(t, e.ID)
		})
	}

	_, ok := Transition(failed, disconnected)
	assert.False(t, ok, "clearing an error is not published")
}

func TestSessionEventKey(t *testing.T) {
	assert.Equal(t, "0xBBB", (&SessionEvent{Address: "0xBBB", Previous: "0xAAA"}).Key())
	assert.Equal(t, "0xAAA", (&SessionEvent{Previous: "0xAAA"}).Key())
}

func TestPublishRawSkipsEmpty(t *testing.T) {
	fp := &fakeProducer{}
	bus := &DataBus{producer: fp}
	require.NoError(t, bus.PublishRaw("topic", "", nil))
	assert.Empty(t, fp.msgs)

	require.NoError(t, bus.PublishRaw("topic", "k", []byte("v")))
	require.Len(t, fp.msgs, 1)
	assert.Equal(t, sarama.StringEncoder("k"), fp.msgs[0].Key)
}

func TestSessionPublisher(t *testing.T) {
	p := wallettest.New()
	p.Reply(wallet.MethodRequestAccounts, "0xAAA")
	store := session.NewStore(wallet.NewService(p, wallet.WithNavigator(wallet.NavigatorFunc(func(string) {}))))
	fp := &fakeProducer{}
	pub := NewSessionPublisher(store, &DataBus{producer: fp})
	pub.Apply(&config.Configuration{WalletEventsTopic: "estate_wallet"})
	pub.Start(context.Background())

	require.NoError(t, store.Connect(context.Background()))
	store.Disconnect()

	assert.Eventually(t, func() bool {
		fp.mu.Lock()
		defer fp.mu.Unlock()
		return len(fp.msgs) == 3
	}, time.Second, 10*time.Millisecond)
	pub.Stop()
	pub.Stop()

	events := fp.events(t)
	require.Len(t, events, 3)
	assert.Equal(t, EventConnecting, events[0].Type)
	assert.Equal(t, EventConnected, events[1].Type)
	assert.Equal(t, "0xAAA", events[1].Address)
	assert.Equal(t, EventDisconnected, events[2].Type)
	assert.Equal(t, "0xAAA", events[2].Previous)
	for _, m := range fp.msgs {
		assert.Equal(t, "estate_wallet", m.Topic)
	}
}

func TestCloseNilBus(t *testing.T) {
	var bus *DataBus
	assert.NoError(t, bus.Close())
}

func TestSessionPublisherStartedAfterStore(t *testing.T) {
	p := wallettest.New()
	p.Reply(wallet.MethodAccounts, "0xAAA")
	store := session.NewStore(wallet.NewService(p, wallet.WithNavigator(wallet.NavigatorFunc(func(string) {}))))
	defer store.Stop()
	store.Start(context.Background())
	require.True(t, store.IsConnected())

	fp := &fakeProducer{}
	pub := NewSessionPublisher(store, &DataBus{producer: fp})
	pub.Start(context.Background())

	assert.Eventually(t, func() bool {
		fp.mu.Lock()
		defer fp.mu.Unlock()
		return len(fp.msgs) == 1
	}, time.Second, 10*time.Millisecond)
	pub.Stop()

	events := fp.events(t)
	require.Len(t, events, 1)
	assert.Equal(t, EventConnected, events[0].Type)
	assert.Equal(t, "0xAAA", events[0].Address)
	assert.Equal(t, DefaultWalletEventsTopic, fp.msgs[0].Topic)
}

func TestSessionPublisherIgnoresIdleStore(t *testing.T) {
	store := session.NewStore(wallet.NewService(nil))
	fp := &fakeProducer{}
	pub := NewSessionPublisher(store, &DataBus{producer: fp})
	pub.Start(context.Background())
	pub.Stop()
	assert.Empty(t, fp.events(t))
}
