package databus

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"moff.io/moff-estate/internal/config"
	"moff.io/moff-estate/internal/session"
	"moff.io/moff-estate/pkg/log"
)

const (
	EventConnecting     = "connecting"
	EventConnected      = "connected"
	EventAccountChanged = "account_changed"
	EventDisconnected   = "disconnected"
	EventConnectFailed  = "connect_failed"

	DefaultWalletEventsTopic = "wallet_session"
)

// SessionEvent records one transition of the wallet session.
type SessionEvent struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Address  string `json:"address,omitempty"`
	Previous string `json:"previous,omitempty"`
	Error    string `json:"error,omitempty"`
	At       int64  `json:"at"`

	topic string
}

func (e *SessionEvent) Serialize() []byte {
	raw, err := json.Marshal(e)
	if err != nil {
		log.Error(err)
		return nil
	}
	return raw
}

func (e *SessionEvent) Topic() string {
	return e.topic
}

// Key keeps events of one address on one partition.
func (e *SessionEvent) Key() string {
	if e.Address != "" {
		return e.Address
	}
	return e.Previous
}

// Transition maps a state change to the event it produces. ok is false when
// the change is not interesting to consumers, e.g. an error being cleared.
func Transition(prev, next session.State) (e *SessionEvent, ok bool) {
	e = &SessionEvent{
		ID: uuid.NewString(),
		At: time.Now().UnixMilli(),
	}
	switch {
	case next.IsConnecting && !prev.IsConnecting:
		e.Type = EventConnecting
	case next.Wallet.IsConnected && !prev.Wallet.IsConnected:
		e.Type = EventConnected
		e.Address = next.Wallet.Address
	case next.Wallet.IsConnected && prev.Wallet.Address != next.Wallet.Address:
		e.Type = EventAccountChanged
		e.Address = next.Wallet.Address
		e.Previous = prev.Wallet.Address
	case !next.Wallet.IsConnected && prev.Wallet.IsConnected:
		e.Type = EventDisconnected
		e.Previous = prev.Wallet.Address
	case next.Error != "" && next.Error != prev.Error:
		e.Type = EventConnectFailed
		e.Error = next.Error
	default:
		return nil, false
	}
	return e, true
}

// SessionPublisher forwards session transitions to kafka.
type SessionPublisher struct {
	store *session.Store
	bus   *DataBus
	topic string

	events chan *SessionEvent
	cancel func()
	wg     sync.WaitGroup
	once   sync.Once
}

func NewSessionPublisher(store *session.Store, bus *DataBus) *SessionPublisher {
	return &SessionPublisher{
		store:  store,
		bus:    bus,
		topic:  DefaultWalletEventsTopic,
		events: make(chan *SessionEvent, 64),
	}
}

func (p *SessionPublisher) Apply(conf *config.Configuration) {
	if conf != nil && conf.WalletEventsTopic != "" {
		p.topic = conf.WalletEventsTopic
	}
}

func (p *SessionPublisher) Start(ctx context.Context) {
	// 首次回调为当前状态，已授权的钱包也会产生 connected 事件
	var prev session.State
	// watcher 在 store 锁内被调用，不能阻塞
	p.cancel = p.store.Follow(func(next session.State) {
		e, ok := Transition(prev, next)
		prev = next
		if !ok {
			return
		}
		e.topic = p.topic
		select {
		case p.events <- e:
		default:
			log.Warnf("wallet event queue full, drop %v event", e.Type)
		}
	})
	p.wg.Add(1)
	go p.loop(ctx)
}

func (p *SessionPublisher) loop(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case e, ok := <-p.events:
			if !ok {
				return
			}
			if err := p.bus.Publish(e); err != nil {
				log.Error(err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (p *SessionPublisher) Stop() {
	p.once.Do(func() {
		if p.cancel != nil {
			p.cancel()
		}
		close(p.events)
		p.wg.Wait()
	})
}
