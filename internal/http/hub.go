package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"moff.io/moff-estate/internal/session"
	"moff.io/moff-estate/internal/wallet"
	"moff.io/moff-estate/pkg/concurrent"
	"moff.io/moff-estate/pkg/errors"
	"moff.io/moff-estate/pkg/log"
)

const (
	MessageState    = "state"
	MessageNavigate = "navigate"

	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = pongWait * 9 / 10
	sendBuffer   = 16
	maxReadBytes = 512
	maxClients   = 256
)

var ErrTooManyClients = errors.New("too many wallet event subscribers")

type message struct {
	Type  string      `json:"type"`
	State *walletView `json:"state,omitempty"`
	URL   string      `json:"url,omitempty"`
}

type client struct {
	conn *websocket.Conn
	send chan message
}

// Hub pushes wallet state to browser tabs over websocket and doubles as the
// wallet.Navigator, asking every tab to open a page.
type Hub struct {
	upgrader websocket.Upgrader
	slots    concurrent.Limiter

	mu      sync.Mutex
	clients map[*client]struct{}
	store   *session.Store
	last    message
	seen    bool
	closed  bool
	cancel  func()
}

var _ wallet.Navigator = (*Hub)(nil)

func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		slots:   concurrent.NewLimiter(maxClients),
		clients: make(map[*client]struct{}),
	}
}

// Bind sets the store whose state is pushed. It must be called before Start.
func (h *Hub) Bind(store *session.Store) {
	h.store = store
}

func (h *Hub) Start(context.Context) {
	if h.store == nil {
		log.Warn("wallet hub started without a store")
		return
	}
	svc := h.store.Service()
	// watcher 在 store 锁内执行，只做非阻塞投递
	h.cancel = h.store.Follow(func(st session.State) {
		h.mu.Lock()
		defer h.mu.Unlock()
		view := newWalletView(svc, st)
		h.last = message{Type: MessageState, State: &view}
		h.seen = true
		h.broadcastLocked(h.last)
	})
}

func (h *Hub) Stop() {
	if h.cancel != nil {
		h.cancel()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		h.dropLocked(c)
	}
}

func (h *Hub) dropLocked(c *client) {
	delete(h.clients, c)
	close(c.send)
	h.slots.Done()
}

// Open implements wallet.Navigator.
func (h *Hub) Open(url string) {
	log.Infof("wallet - open %v", url)
	h.mu.Lock()
	defer h.mu.Unlock()
	h.broadcastLocked(message{Type: MessageNavigate, URL: url})
}

// Clients returns the number of connected tabs.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) broadcastLocked(msg message) {
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			log.Warnf("wallet hub - client %v too slow, dropped", c.conn.RemoteAddr())
			h.dropLocked(c)
		}
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		h.dropLocked(c)
	}
}

// ServeWS upgrades the request and registers the tab. The current state is
// the first message a tab receives.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) error {
	if !h.slots.TryAdd() {
		return ErrTooManyClients
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.slots.Done()
		return errors.Wrap(err, "upgrade wallet events")
	}
	c := &client{conn: conn, send: make(chan message, sendBuffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		h.slots.Done()
		conn.Close()
		return nil
	}
	h.clients[c] = struct{}{}
	if h.seen {
		c.send <- h.last
	}
	h.mu.Unlock()

	go h.writePump(c)
	go h.readPump(c)
	return nil
}

func (h *Hub) readPump(c *client) {
	defer h.remove(c)
	c.conn.SetReadLimit(maxReadBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		// 浏览器端只读，收到的消息直接丢弃
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				log.Debugf("wallet hub - write: %v", err)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
