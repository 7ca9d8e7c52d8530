package walletconnect

import (
	"math/rand"
	"time"

	"go.uber.org/atomic"
)

// socketMessage is the bridge frame.
type socketMessage struct {
	Topic   string `json:"topic"`
	Type    string `json:"type"`
	Payload string `json:"payload"`
	Silent  bool   `json:"silent"`
}

type peerMeta struct {
	Description string   `json:"description"`
	URL         string   `json:"url"`
	Icons       []string `json:"icons"`
	Name        string   `json:"name"`
}

type sessionRequest struct {
	PeerID   string   `json:"peerId"`
	PeerMeta peerMeta `json:"peerMeta"`
	ChainID  *int64   `json:"chainId"`
}

type sessionUpdate struct {
	Approved bool     `json:"approved"`
	ChainID  *int64   `json:"chainId"`
	Accounts []string `json:"accounts"`
}

type rpcRequest struct {
	ID      int64  `json:"id"`
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

var lastID = atomic.NewInt64(time.Now().UnixMilli()*1000 + rand.Int63n(1000))

// nextID returns a request id in the millisecond*1000 form wallets expect.
func nextID() int64 {
	return lastID.Inc()
}

func newRequest(method string, params ...any) rpcRequest {
	if params == nil {
		params = []any{}
	}
	return rpcRequest{ID: nextID(), JSONRPC: "2.0", Method: method, Params: params}
}
