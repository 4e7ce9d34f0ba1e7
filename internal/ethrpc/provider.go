// Package ethrpc exposes a wallet reachable over JSON-RPC (HTTP, WebSocket or
// IPC) as a wallet.Provider.
package ethrpc

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/rpc"

	"moff.io/moff-estate/internal/wallet"
	"moff.io/moff-estate/pkg/errors"
	"moff.io/moff-estate/pkg/log"
)

const metaMaskIdentity = "metamask"

// Provider forwards EIP-1193 requests to a wallet endpoint.
type Provider struct {
	client   *rpc.Client
	metaMask bool
}

var _ wallet.Provider = (*Provider)(nil)

// Dial connects to the wallet at url. Unless assumeMetaMask is set, the wallet
// identity is read once from web3_clientVersion.
func Dial(ctx context.Context, url string, assumeMetaMask bool) (*Provider, error) {
	client, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, errors.Wrapf(err, "dial wallet endpoint %v", url)
	}
	if assumeMetaMask {
		return NewProvider(client, true), nil
	}
	var version string
	if err := client.CallContext(ctx, &version, "web3_clientVersion"); err != nil {
		client.Close()
		return nil, errors.Wrap(err, "query wallet client version")
	}
	log.Infof("wallet - connected to %v (%v)", url, version)
	return NewProvider(client, isMetaMaskVersion(version)), nil
}

func isMetaMaskVersion(version string) bool {
	return strings.Contains(strings.ToLower(version), metaMaskIdentity)
}

// NewProvider wraps an existing client.
func NewProvider(client *rpc.Client, isMetaMask bool) *Provider {
	return &Provider{client: client, metaMask: isMetaMask}
}

func (p *Provider) IsMetaMask() bool {
	return p.metaMask
}

func (p *Provider) Request(ctx context.Context, method string, params ...interface{}) (json.RawMessage, error) {
	var result json.RawMessage
	if err := p.client.CallContext(ctx, &result, method, params...); err != nil {
		return nil, err
	}
	return result, nil
}

// SubscribeAccountsChanged uses eth_subscribe("accountsChanged"), which needs a
// bidirectional transport (WebSocket or IPC).
func (p *Provider) SubscribeAccountsChanged(ctx context.Context, ch chan<- []string) (event.Subscription, error) {
	sub, err := p.client.EthSubscribe(ctx, ch, wallet.EventAccountsChanged)
	if err != nil {
		return nil, errors.Wrap(err, "subscribe accountsChanged")
	}
	return sub, nil
}

func (p *Provider) Close() {
	p.client.Close()
}
