// Package wallettest provides an in-memory wallet.Provider for tests.
package wallettest

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/ethereum/go-ethereum/event"
)

type reply struct {
	accounts []string
	err      error
}

// Gate holds a request in flight until released.
type Gate struct {
	once    sync.Once
	entered chan struct{}
	reply   chan reply
}

// Entered is closed once a request reaches the gate.
func (g *Gate) Entered() <-chan struct{} {
	return g.entered
}

// Release lets the held request resolve with accounts or err.
func (g *Gate) Release(accounts []string, err error) {
	g.reply <- reply{accounts: accounts, err: err}
}

// Provider is a scriptable MetaMask stand-in.
type Provider struct {
	mu       sync.Mutex
	metaMask bool
	replies  map[string]reply
	gates    map[string]*Gate
	calls    map[string]int
	feed     event.Feed
}

// New returns a provider identifying as MetaMask with no authorized accounts.
func New() *Provider {
	return &Provider{
		metaMask: true,
		replies:  make(map[string]reply),
		gates:    make(map[string]*Gate),
		calls:    make(map[string]int),
	}
}

// NotMetaMask makes the provider identify as some other wallet.
func (p *Provider) NotMetaMask() *Provider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.metaMask = false
	return p
}

// Reply scripts the accounts returned for method.
func (p *Provider) Reply(method string, accounts ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if accounts == nil {
		accounts = []string{}
	}
	p.replies[method] = reply{accounts: accounts}
}

// Fail scripts an error for method.
func (p *Provider) Fail(method string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replies[method] = reply{err: err}
}

// Hold makes the next request for method block until the gate is released.
func (p *Provider) Hold(method string) *Gate {
	p.mu.Lock()
	defer p.mu.Unlock()
	g := &Gate{entered: make(chan struct{}), reply: make(chan reply, 1)}
	p.gates[method] = g
	return g
}

// Calls returns how many times method was requested.
func (p *Provider) Calls(method string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[method]
}

// EmitAccountsChanged delivers accounts to every subscriber and returns the
// number of subscribers reached.
func (p *Provider) EmitAccountsChanged(accounts ...string) int {
	if accounts == nil {
		accounts = []string{}
	}
	return p.feed.Send(accounts)
}

func (p *Provider) IsMetaMask() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.metaMask
}

func (p *Provider) Request(ctx context.Context, method string, _ ...interface{}) (json.RawMessage, error) {
	p.mu.Lock()
	p.calls[method]++
	gate := p.gates[method]
	delete(p.gates, method)
	r, ok := p.replies[method]
	p.mu.Unlock()

	if gate != nil {
		gate.once.Do(func() { close(gate.entered) })
		select {
		case r = <-gate.reply:
			ok = true
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if !ok {
		return json.RawMessage("[]"), nil
	}
	if r.err != nil {
		return nil, r.err
	}
	raw, err := json.Marshal(r.accounts)
	return raw, err
}

func (p *Provider) SubscribeAccountsChanged(_ context.Context, ch chan<- []string) (event.Subscription, error) {
	return p.feed.Subscribe(ch), nil
}
