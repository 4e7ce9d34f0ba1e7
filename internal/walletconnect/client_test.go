package walletconnect

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"moff.io/moff-estate/internal/wallet"
	"moff.io/moff-estate/pkg/wcbridge"
)

// fakeBridge relays between the client and a scripted wallet.
type fakeBridge struct {
	t       *testing.T
	client  *Client
	respond func(id int64) string

	mu        sync.Mutex
	conn      *websocket.Conn
	subs      []string
	acks      int
	displayed []string
}

func newFakeBridge(t *testing.T, respond func(id int64) string) (*fakeBridge, *Client) {
	t.Helper()
	b := &fakeBridge{t: t, respond: respond}
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		b.mu.Lock()
		b.conn = conn
		b.mu.Unlock()
		b.serve(conn)
	}))
	t.Cleanup(server.Close)

	client, err := NewClient(Config{
		BridgeURL:    server.URL,
		Meta:         ClientMeta{Name: "moff-estate"},
		MetaMask:     true,
		OnDisplayURI: func(uri string) {
			b.mu.Lock()
			b.displayed = append(b.displayed, uri)
			b.mu.Unlock()
		},
	})
	require.NoError(t, err)
	t.Cleanup(client.Close)
	b.client = client
	return b, client
}

func (b *fakeBridge) serve(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg wcMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		switch msg.Type {
		case "sub":
			b.mu.Lock()
			b.subs = append(b.subs, msg.Topic)
			b.mu.Unlock()
		case "ack":
			b.mu.Lock()
			b.acks++
			b.mu.Unlock()
		case "pub":
			if msg.Topic != b.client.handshakeTopic {
				continue
			}
			env, err := newEnvelopeFromString(msg.Payload)
			if !assert.NoError(b.t, err) {
				continue
			}
			plain, err := wcbridge.Open(env, b.client.encryptionKey)
			if !assert.NoError(b.t, err) {
				continue
			}
			assert.Equal(b.t, methodSessionRequest, gjson.GetBytes(plain, "method").String())
			b.push(b.respond(gjson.GetBytes(plain, "id").Int()))
		}
	}
}

// push publishes an encrypted JSON-RPC payload to the client's topic.
func (b *fakeBridge) push(payload string) {
	env, err := wcbridge.Seal([]byte(payload), b.client.encryptionKey)
	if !assert.NoError(b.t, err) {
		return
	}
	msg := wcMessage{Topic: b.client.clientID, Type: "pub", Payload: marshalEnvelope(env)}
	b.mu.Lock()
	defer b.mu.Unlock()
	assert.NoError(b.t, b.conn.WriteMessage(websocket.TextMessage, msg.Marshal()))
}

func approve(accounts ...string) func(int64) string {
	return func(id int64) string {
		quoted, _ := json.Marshal(accounts)
		return fmt.Sprintf(`{"id":%d,"jsonrpc":"2.0","result":{"approved":true,"chainId":1,"networkId":0,`+
			`"accounts":%s,"peerId":"wallet-peer","peerMeta":{"name":"MetaMask Mobile"}}}`, id, quoted)
	}
}

func sessionUpdate(approved bool, accounts ...string) string {
	quoted, _ := json.Marshal(accounts)
	return fmt.Sprintf(`{"id":1,"jsonrpc":"2.0","method":"wc_sessionUpdate","params":[{"approved":%t,"chainId":1,"accounts":%s}]}`,
		approved, quoted)
}

func request(t *testing.T, c *Client, method string) []string {
	t.Helper()
	raw, err := c.Request(context.Background(), method)
	require.NoError(t, err)
	var accounts []string
	require.NoError(t, json.Unmarshal(raw, &accounts))
	return accounts
}

func TestSessionApproved(t *testing.T) {
	bridge, client := newFakeBridge(t, approve("0xAAA", "0xCCC"))

	assert.Empty(t, request(t, client, wallet.MethodAccounts))
	assert.Equal(t, []string{"0xAAA", "0xCCC"}, request(t, client, wallet.MethodRequestAccounts))
	assert.Equal(t, []string{"0xAAA", "0xCCC"}, request(t, client, wallet.MethodAccounts))
	assert.True(t, client.IsMetaMask())

	raw, err := client.Request(context.Background(), wallet.MethodChainID)
	require.NoError(t, err)
	assert.JSONEq(t, `"0x1"`, string(raw))

	bridge.mu.Lock()
	assert.Contains(t, bridge.subs, client.clientID)
	assert.Equal(t, []string{client.PairingURI()}, bridge.displayed)
	bridge.mu.Unlock()
	assert.Eventually(t, func() bool {
		bridge.mu.Lock()
		defer bridge.mu.Unlock()
		return bridge.acks > 0
	}, time.Second, 10*time.Millisecond)

	// already approved: no second session request
	assert.Equal(t, []string{"0xAAA", "0xCCC"}, request(t, client, wallet.MethodRequestAccounts))
}

func TestSessionUpdatesFeedAccountsChanged(t *testing.T) {
	bridge, client := newFakeBridge(t, approve("0xAAA"))
	request(t, client, wallet.MethodRequestAccounts)

	ch := make(chan []string, 2)
	sub, err := client.SubscribeAccountsChanged(context.Background(), ch)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	bridge.push(sessionUpdate(true, "0xBBB"))
	select {
	case accounts := <-ch:
		assert.Equal(t, []string{"0xBBB"}, accounts)
	case <-time.After(2 * time.Second):
		t.Fatal("session update not delivered")
	}
	assert.Equal(t, []string{"0xBBB"}, request(t, client, wallet.MethodAccounts))

	bridge.push(sessionUpdate(false))
	select {
	case accounts := <-ch:
		assert.Empty(t, accounts)
	case <-time.After(2 * time.Second):
		t.Fatal("session close not delivered")
	}
	assert.Empty(t, request(t, client, wallet.MethodAccounts))
	_, ok := client.Session()
	assert.False(t, ok)
}

func TestSessionRejected(t *testing.T) {
	_, client := newFakeBridge(t, func(id int64) string {
		return fmt.Sprintf(`{"id":%d,"jsonrpc":"2.0","error":{"code":-32000,"message":"Session Rejected"}}`, id)
	})

	_, err := client.Request(context.Background(), wallet.MethodRequestAccounts)
	assert.ErrorIs(t, err, ErrSessionRejected)

	_, err = wallet.NewService(client).RequestAccounts(context.Background())
	require.Error(t, err)
	assert.Equal(t, "User rejected the request.", err.Error())
}

func TestSessionWithoutAccounts(t *testing.T) {
	_, client := newFakeBridge(t, approve())

	_, err := wallet.NewService(client).RequestAccounts(context.Background())
	require.Error(t, err)
	assert.Equal(t, "No accounts found", err.Error())
}

func TestRequestHonoursContext(t *testing.T) {
	_, client := newFakeBridge(t, func(int64) string { return `{"id":0,"jsonrpc":"2.0","result":{}}` })

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := client.Request(ctx, wallet.MethodRequestAccounts)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestUnsupportedMethod(t *testing.T) {
	client, err := NewClient(Config{BridgeURL: "https://a.bridge.walletconnect.org"})
	require.NoError(t, err)

	_, err = client.Request(context.Background(), "eth_sendTransaction")
	assert.ErrorIs(t, err, ErrUnsupported)
	_, err = client.Request(context.Background(), wallet.MethodChainID)
	assert.Error(t, err)
	assert.False(t, client.IsMetaMask())
}

func TestPairing(t *testing.T) {
	client, err := NewClient(Config{BridgeURL: "https://a.bridge.walletconnect.org"})
	require.NoError(t, err)

	uri := client.PairingURI()
	assert.True(t, strings.HasPrefix(uri, "wc:"+client.handshakeTopic+"@1?bridge="))
	png, err := client.PairingQRCode()
	require.NoError(t, err)
	assert.Equal(t, []byte("\x89PNG"), png[:4])
}

func TestDuplicateResponseDoesNotBlock(t *testing.T) {
	client, err := NewClient(Config{BridgeURL: "https://a.bridge.walletconnect.org"})
	require.NoError(t, err)
	id, ch := client.expectResponse()
	defer client.dropResponse(id)

	payload := fmt.Sprintf(`{"id":%d,"jsonrpc":"2.0","result":{"approved":true}}`, id)
	done := make(chan struct{})
	go func() {
		defer close(done)
		client.deliverResponse(payload)
		client.deliverResponse(payload)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("deliverResponse blocked on a duplicate id")
	}
	assert.Equal(t, payload, <-ch)
	assert.Empty(t, ch)
}
