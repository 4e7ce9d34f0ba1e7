package walletconnect

import (
	"encoding/json"
	"strings"

	"moff.io/moff-estate/pkg/errors"
	"moff.io/moff-estate/pkg/log"
	"moff.io/moff-estate/pkg/wcbridge"
)

// Session is an approved wallet session.
type Session struct {
	Meta     ClientMeta `json:"peerMeta"`
	ChainID  int        `json:"chainId"`
	Accounts []string   `json:"accounts"`
	PeerID   string     `json:"peerId"`
}

// IsMetaMask reports whether the peer wallet names itself MetaMask.
func (s *Session) IsMetaMask() bool {
	return strings.Contains(strings.ToLower(s.Meta.Name), "metamask")
}

func (s *Session) accounts() []string {
	out := make([]string, len(s.Accounts))
	copy(out, s.Accounts)
	return out
}

type peer struct {
	PeerID   string      `json:"peerId"`
	PeerMeta ClientMeta  `json:"peerMeta"`
	ChainID  interface{} `json:"chainId"`
}

// ClientMeta describes a dApp or wallet peer.
type ClientMeta struct {
	Description string   `json:"description"`
	URL         string   `json:"url"`
	Icons       []string `json:"icons"`
	Name        string   `json:"name"`
}

type wcMessage struct {
	Topic string `json:"topic"`
	// pub sub ack
	Type    string `json:"type"`
	Payload string `json:"payload"`
	Silent  bool   `json:"silent"`
}

func newWCMessageFromBytes(data []byte) (*wcMessage, error) {
	var msg wcMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, errors.Wrap(err, "unmarshal wallet connect message")
	}
	return &msg, nil
}

func (msg *wcMessage) Marshal() []byte {
	bytes, _ := json.Marshal(msg)
	return bytes
}

func newEnvelopeFromString(payload string) (*wcbridge.Envelope, error) {
	var env wcbridge.Envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return nil, errors.Wrap(err, "unmarshal wallet connect message payload")
	}
	return &env, nil
}

func marshalEnvelope(env *wcbridge.Envelope) string {
	s, err := json.Marshal(env)
	if err != nil {
		log.Errorf("marshal:%v", err)
	}
	return string(s)
}

type jsonRpcRequest struct {
	Id      int64         `json:"id"`
	JSONRpc string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

func newJSONRpcRequest(id int64, method string, params ...interface{}) *jsonRpcRequest {
	r := &jsonRpcRequest{
		Id:      id,
		JSONRpc: "2.0",
		Method:  method,
		Params:  []interface{}{},
	}
	if len(params) > 0 {
		r.Params = params
	}
	return r
}

func (e *jsonRpcRequest) Marshal() []byte {
	s, err := json.Marshal(e)
	if err != nil {
		log.Errorf("marshal:%v", err)
	}
	return s
}

// IsSilentPayload reports whether the bridge should skip push notifications.
func (e *jsonRpcRequest) IsSilentPayload() bool {
	return strings.HasPrefix(e.Method, "wc_")
}
