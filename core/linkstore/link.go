// Package linkstore parses relayed wallet payloads and records them.
package linkstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/m3rciful/walletlink/core/chain"
	"github.com/m3rciful/walletlink/core/wallet"
)

// ErrInvalidPayload is returned for payloads that carry no usable wallet data.
var ErrInvalidPayload = errors.New("linkstore: invalid payload")

// Source tells where a payload came from.
type Source string

const (
	SourceBot    Source = "bot"
	SourceWebApp Source = "web_app"
)

// Link is one relayed wallet payload.
type Link struct {
	ID          int64
	ChatID      int64
	UserID      int64
	Source      Source
	Address     string
	CAIPAddress string
	Balance     string
	Signature   string
	Accounts    []wallet.Account
	Raw         string
	ReceivedAt  time.Time
}

// Store records links.
type Store interface {
	Save(ctx context.Context, l Link) (Link, error)
	Recent(ctx context.Context, limit int) ([]Link, error)
	ForUser(ctx context.Context, userID int64, limit int) ([]Link, error)
}

// ParsePayload reads a payload leniently: missing keys are empty, both
// "signedMessage" and "signature" are accepted, accounts may be strings or objects.
func ParsePayload(raw string) (Link, error) {
	raw = strings.TrimSpace(raw)
	if !gjson.Valid(raw) {
		return Link{}, fmt.Errorf("%w: not json", ErrInvalidPayload)
	}
	doc := gjson.Parse(raw)
	if !doc.IsObject() {
		return Link{}, fmt.Errorf("%w: not an object", ErrInvalidPayload)
	}

	l := Link{
		Address:     strings.TrimSpace(doc.Get("address").String()),
		CAIPAddress: strings.TrimSpace(doc.Get("caipAddress").String()),
		Balance:     strings.TrimSpace(doc.Get("balance").String()),
		Raw:         raw,
	}
	sig := doc.Get("signedMessage")
	if !sig.Exists() || sig.String() == "" {
		sig = doc.Get("signature")
	}
	l.Signature = strings.TrimSpace(sig.String())

	doc.Get("accounts").ForEach(func(_, v gjson.Result) bool {
		switch {
		case v.IsObject():
			if addr := strings.TrimSpace(v.Get("address").String()); addr != "" {
				l.Accounts = append(l.Accounts, wallet.Account{
					Address:   addr,
					Type:      v.Get("type").String(),
					Namespace: v.Get("namespace").String(),
				})
			}
		case v.Type == gjson.String && strings.TrimSpace(v.String()) != "":
			l.Accounts = append(l.Accounts, wallet.Account{Address: strings.TrimSpace(v.String())})
		}
		return true
	})

	if l.Address == "" {
		return Link{}, fmt.Errorf("%w: empty address", ErrInvalidPayload)
	}
	if l.CAIPAddress != "" {
		_, addr, err := chain.ParseAccount(l.CAIPAddress)
		if err != nil {
			return Link{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		if !strings.EqualFold(addr, l.Address) {
			return Link{}, fmt.Errorf("%w: caipAddress does not match address", ErrInvalidPayload)
		}
	}
	return l, nil
}

// Verified reports whether the signature recovers to the link's EVM address,
// either as the fixed typed data or as the fixed plain message.
func (l Link) Verified() bool {
	if l.Signature == "" {
		return false
	}
	if l.CAIPAddress != "" {
		network, _, err := chain.ParseAccount(l.CAIPAddress)
		if err != nil {
			return false
		}
		if ns, _, _ := chain.ParseCAIP2(network); ns != chain.NamespaceEIP155 {
			return false
		}
	}
	if wallet.VerifyTypedDataSignature(wallet.GardenTypedData(), l.Signature, l.Address) == nil {
		return true
	}
	return wallet.VerifyPersonalSignature(wallet.PlainMessage, l.Signature, l.Address) == nil
}
