// Package wallet holds the wallet session model shared by the state holder,
// the bridge and the wallet provider.
package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/m3rciful/walletlink/core/chain"
)

// ErrRejected is returned by providers when the user declines a request in the wallet.
var ErrRejected = errors.New("wallet: request rejected")

// Balance is a native-asset balance as reported by the provider.
type Balance = chain.Balance

// View names a provider selection UI.
type View string

const (
	ViewConnect  View = "Connect"
	ViewNetworks View = "Networks"
)

// Account is one address linked to the session.
type Account struct {
	Address   string `json:"address"`
	Type      string `json:"type"`
	Namespace string `json:"namespace"`
}

// AccountState is the provider's view of the connection.
type AccountState struct {
	Address     string
	CAIPAddress string
	Network     string
	Connected   bool
	Accounts    []Account
}

// Pairing is what the user needs to approve a connection in an external wallet.
type Pairing struct {
	URI string
	QR  []byte
}

// Provider is the external wallet collaborator.
type Provider interface {
	Connect(ctx context.Context, view View) (Pairing, error)
	Disconnect(ctx context.Context) error
	Account() AccountState
	Balance(ctx context.Context, address string) (Balance, error)
	SignMessage(ctx context.Context, message, address string) (string, error)
	SignTypedData(ctx context.Context, data apitypes.TypedData, address string) (string, error)
	SwitchNetwork(ctx context.Context, networkID string) error
	Subscribe(fn func(AccountState)) (unsubscribe func())
}

// Session is the wallet session snapshot of one screen.
type Session struct {
	Address     string
	CAIPAddress string
	Balance     string
	Signature   string
	Connected   bool
	Accounts    []Account
}

// Flags are the transient flow flags derived alongside the session.
type Flags struct {
	MessageSigned bool
	Sending       bool
}

// Clone returns a copy that shares no memory with s.
func (s Session) Clone() Session {
	s.Accounts = append([]Account(nil), s.Accounts...)
	return s
}

// Payload is the JSON object relayed to the host chat.
type Payload struct {
	Accounts      []Account `json:"accounts"`
	Address       string    `json:"address"`
	CAIPAddress   string    `json:"caipAddress"`
	SignedMessage string    `json:"signedMessage"`
	Balance       string    `json:"balance"`
}

// Payload builds the outbound payload from the session.
func (s Session) Payload() Payload {
	accounts := append(make([]Account, 0, len(s.Accounts)), s.Accounts...)
	return Payload{
		Accounts:      accounts,
		Address:       s.Address,
		CAIPAddress:   s.CAIPAddress,
		SignedMessage: s.Signature,
		Balance:       s.Balance,
	}
}

// Encode renders the payload as a single JSON string.
func (p Payload) Encode() (string, error) {
	if p.Accounts == nil {
		p.Accounts = []Account{}
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("wallet: encode payload: %w", err)
	}
	return string(raw), nil
}
