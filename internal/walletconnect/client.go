// Package walletconnect exposes a WalletConnect v1 bridge session as a
// wallet.Provider. Interaction flow:
// https://docs.walletconnect.com/tech-spec#establishing-connection
package walletconnect

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/event"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/skip2/go-qrcode"
	"github.com/tidwall/gjson"
	"go.uber.org/atomic"

	"moff.io/moff-estate/internal/wallet"
	"moff.io/moff-estate/pkg/errors"
	"moff.io/moff-estate/pkg/log"
	"moff.io/moff-estate/pkg/wcbridge"
)

const (
	methodSessionRequest = "wc_sessionRequest"
	methodSessionUpdate  = "wc_sessionUpdate"

	qrCodeSize = 256
)

var (
	errSessionClosed   = errors.New("session closed")
	ErrSessionRejected = errors.New("User rejected the request.")
	ErrRequestPending  = errors.New("Already processing eth_requestAccounts. Please wait.")
	ErrUnsupported     = errors.New("unsupported method")
)

// Config describes the dApp and where the bridge lives.
type Config struct {
	BridgeURL string
	Meta      ClientMeta
	// MetaMask marks the provider as MetaMask before any session exists;
	// MetaMask Mobile speaks this protocol.
	MetaMask bool
	// OnDisplayURI is called with the pairing URI once the session request
	// has been published, so the UI can show the QR code.
	OnDisplayURI func(uri string)
}

// Client is a long-lived WalletConnect v1 session.
type Client struct {
	bridgeURL      string
	handshakeTopic string
	clientID       string
	encryptionKey  []byte
	meta           ClientMeta
	metaMask       bool
	onDisplayURI   func(string)

	requesting atomic.Bool
	payloadID  atomic.Int64

	mu      sync.Mutex
	conn    *websocket.Conn
	session *Session
	pending map[int64]chan string

	writeMu sync.Mutex
	feed    event.Feed
}

var _ wallet.Provider = (*Client)(nil)
var _ wallet.Pairer = (*Client)(nil)

func NewClient(cfg Config) (*Client, error) {
	encryptionKey, err := wcbridge.GenerateRandomBytes(wcbridge.KeySize)
	if err != nil {
		return nil, errors.Wrap(err, "generate wallet connect key")
	}
	bridgeURL := cfg.BridgeURL
	if bridgeURL == "" {
		bridgeURL = wcbridge.RandomBridgeURL()
	}
	c := &Client{
		encryptionKey:  encryptionKey,
		bridgeURL:      bridgeURL,
		handshakeTopic: uuid.NewString(),
		clientID:       uuid.NewString(),
		meta:           cfg.Meta,
		metaMask:       cfg.MetaMask,
		onDisplayURI:   cfg.OnDisplayURI,
		pending:        make(map[int64]chan string),
	}
	c.payloadID.Store(time.Now().UnixNano() / 1000)
	return c, nil
}

func (c *Client) IsMetaMask() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil {
		return c.session.IsMetaMask()
	}
	return c.metaMask
}

// PairingURI returns the wc: URI the wallet scans.
func (c *Client) PairingURI() string {
	return wcbridge.PairingURI(c.handshakeTopic, c.bridgeURL, c.encryptionKey)
}

// PairingQRCode returns the pairing URI as a PNG QR code.
func (c *Client) PairingQRCode() ([]byte, error) {
	png, err := qrcode.Encode(c.PairingURI(), qrcode.Medium, qrCodeSize)
	if err != nil {
		return nil, errors.WrapAndReport(err, "encode wallet connect qr code")
	}
	return png, nil
}

// Session returns a copy of the approved session, if any.
func (c *Client) Session() (Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return Session{}, false
	}
	s := *c.session
	s.Accounts = c.session.accounts()
	return s, true
}

func (c *Client) Request(ctx context.Context, method string, _ ...interface{}) (json.RawMessage, error) {
	switch method {
	case wallet.MethodAccounts:
		return json.Marshal(c.currentAccounts())
	case wallet.MethodChainID:
		s, ok := c.Session()
		if !ok {
			return nil, errSessionClosed
		}
		return json.Marshal(hexutil.EncodeUint64(uint64(s.ChainID)))
	case wallet.MethodRequestAccounts:
		if accounts := c.currentAccounts(); len(accounts) > 0 {
			return json.Marshal(accounts)
		}
		accounts, err := c.requestSession(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(accounts)
	default:
		return nil, errors.Wrap(ErrUnsupported, method)
	}
}

func (c *Client) SubscribeAccountsChanged(_ context.Context, ch chan<- []string) (event.Subscription, error) {
	return c.feed.Subscribe(ch), nil
}

// Close drops the bridge connection and forgets the session.
func (c *Client) Close() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.session = nil
	c.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

func (c *Client) currentAccounts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return []string{}
	}
	return c.session.accounts()
}

// requestSession publishes wc_sessionRequest and waits, without a deadline
// beyond ctx, for the user to approve or reject it in the wallet.
func (c *Client) requestSession(ctx context.Context) ([]string, error) {
	if !c.requesting.CAS(false, true) {
		return nil, ErrRequestPending
	}
	defer c.requesting.Store(false)

	if err := c.dialWS(ctx); err != nil {
		return nil, err
	}
	if err := c.subscribeSession(); err != nil {
		return nil, err
	}
	id, reply := c.expectResponse()
	defer c.dropResponse(id)
	if err := c.createSessionRequest(id); err != nil {
		return nil, err
	}
	if c.onDisplayURI != nil {
		c.onDisplayURI(c.PairingURI())
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case result, ok := <-reply:
		if !ok {
			return nil, errSessionClosed
		}
		return c.createSessionResponse(result)
	}
}

func (c *Client) dialWS(ctx context.Context) error {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	wsURL := wcbridge.WebSocketURL(c.bridgeURL)
	dialer := websocket.Dialer{}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return errors.WrapAndReport(err, "dial to wallet connect bridge url")
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	go c.readLoop(conn)
	return nil
}

func (c *Client) expectResponse() (int64, chan string) {
	id := c.payloadID.Inc()
	ch := make(chan string, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()
	return id, ch
}

func (c *Client) dropResponse(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Client) sendRequest(payload []byte) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return errSessionClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return errors.WrapAndReport(err, "write wallet connect message to server")
	}
	return nil
}

func (c *Client) encryptJSONRpc(req *jsonRpcRequest) (string, error) {
	env, err := wcbridge.Seal(req.Marshal(), c.encryptionKey)
	if err != nil {
		return "", errors.WrapAndReport(err, "encrypt wallet connect payload")
	}
	return marshalEnvelope(env), nil
}

func (c *Client) decryptJSONRpc(msg *wcMessage) (string, error) {
	env, err := newEnvelopeFromString(msg.Payload)
	if err != nil {
		return "", err
	}
	data, err := wcbridge.Open(env, c.encryptionKey)
	if err != nil {
		return "", errors.WrapAndReport(err, "decrypt wallet connect payload")
	}
	return string(data), nil
}

// readLoop owns all reads from conn until it fails or is closed.
func (c *Client) readLoop(conn *websocket.Conn) {
	defer c.connectionLost(conn)
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			log.Debugf("wallet connect - read loop stopped: %v", err)
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		log.Debugf("wallet connect - receive:%v", string(data))
		if err := c.sessionMessageACK(); err != nil {
			log.Error(err)
		}
		msg, err := newWCMessageFromBytes(data)
		if err != nil {
			log.Error(err)
			continue
		}
		payload, err := c.decryptJSONRpc(msg)
		if err != nil {
			log.Error(err)
			continue
		}
		if method := gjson.Get(payload, "method").String(); method != "" {
			if c.handleRequest(method, payload) {
				return
			}
			continue
		}
		c.deliverResponse(payload)
	}
}

func (c *Client) deliverResponse(payload string) {
	id := gjson.Get(payload, "id").Int()
	c.mu.Lock()
	ch, ok := c.pending[id]
	c.mu.Unlock()
	if !ok {
		log.Debugf("wallet connect - unexpected response %v", id)
		return
	}
	// 同一 id 的重复响应直接丢弃，不能阻塞读循环
	select {
	case ch <- payload:
	default:
		log.Debugf("wallet connect - duplicate response %v dropped", id)
	}
}

// handleRequest reacts to wallet-initiated requests; it reports true when the
// session has ended.
func (c *Client) handleRequest(method, payload string) (sessionClosed bool) {
	if method != methodSessionUpdate {
		log.Debugf("wallet connect - ignoring %v", method)
		return false
	}
	params := gjson.Get(payload, "params").Array()
	if len(params) == 0 {
		// 不应该发生
		return false
	}
	approved := params[0].Get("approved")
	if approved.Exists() && !approved.Bool() {
		// 用户断开链接
		log.Warnf("wallet connect - session closed from request %v", payload)
		return true
	}
	accounts := make([]string, 0)
	for _, a := range params[0].Get("accounts").Array() {
		accounts = append(accounts, a.String())
	}
	c.mu.Lock()
	if c.session != nil {
		c.session.Accounts = accounts
		if chainID := params[0].Get("chainId"); chainID.Exists() {
			c.session.ChainID = int(chainID.Int())
		}
	}
	c.mu.Unlock()
	c.feed.Send(accounts)
	return false
}

// connectionLost tears down after the bridge connection ends. A live session
// surfaces to subscribers as an empty account list.
func (c *Client) connectionLost(conn *websocket.Conn) {
	conn.Close()
	c.mu.Lock()
	hadSession := c.session != nil
	if c.conn == conn {
		c.conn = nil
	}
	c.session = nil
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if hadSession {
		c.feed.Send([]string{})
	}
}

func (c *Client) sessionMessageACK() error {
	msg := wcMessage{
		Topic:   c.clientID,
		Type:    "ack",
		Payload: "",
		Silent:  true,
	}
	return c.sendRequest(msg.Marshal())
}

func (c *Client) subscribeSession() error {
	msg := wcMessage{
		Topic:   c.clientID,
		Type:    "sub",
		Payload: "",
		Silent:  true,
	}
	log.Debugf("wallet connect - subscribe session:%v", string(msg.Marshal()))
	return c.sendRequest(msg.Marshal())
}

func (c *Client) createSessionRequest(id int64) error {
	req := newJSONRpcRequest(id, methodSessionRequest, peer{
		PeerID:   c.clientID,
		PeerMeta: c.meta,
	})
	payload, err := c.encryptJSONRpc(req)
	if err != nil {
		return err
	}
	msg := wcMessage{
		Topic:   c.handshakeTopic,
		Type:    "pub",
		Payload: payload,
		Silent:  req.IsSilentPayload(),
	}
	log.Debugf("wallet connect - create session request:%v", string(msg.Marshal()))
	return c.sendRequest(msg.Marshal())
}

func (c *Client) createSessionResponse(sessionResult string) ([]string, error) {
	log.Debugf("wallet connect - create session response:%v", sessionResult)
	if rpcErr := gjson.Get(sessionResult, "error"); rpcErr.Exists() {
		c.Close()
		errMsg := rpcErr.Get("message").String()
		if errMsg == "" {
			errMsg = rpcErr.String()
		}
		if strings.Contains(errMsg, "Session Rejected") {
			return nil, ErrSessionRejected
		}
		return nil, errors.New(errMsg)
	}
	result := gjson.Get(sessionResult, "result")
	if !result.Get("approved").Bool() {
		c.Close()
		return nil, ErrSessionRejected
	}
	var session Session
	if err := json.Unmarshal([]byte(result.Raw), &session); err != nil {
		return nil, errors.WrapAndReport(err, "unmarshal wallet info")
	}
	if len(session.Accounts) == 0 {
		log.Warn("wallet connect - no wallet accounts acquired")
		return []string{}, nil
	}
	c.mu.Lock()
	c.session = &session
	c.mu.Unlock()
	return session.accounts(), nil
}
