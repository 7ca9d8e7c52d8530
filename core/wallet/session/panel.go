package session

import (
	"context"

	"github.com/m3rciful/walletlink/core/bridge"
	"github.com/m3rciful/walletlink/core/wallet"
)

// Action is a screen button.
type Action string

const (
	ActionConnect    Action = "connect"
	ActionOpen       Action = "open"
	ActionNetworks   Action = "networks"
	ActionSign       Action = "sign"
	ActionConfirm    Action = "confirm"
	ActionRefresh    Action = "refresh"
	ActionDisconnect Action = "disconnect"
)

const (
	StatusConnected    = "Connected"
	StatusDisconnected = "Disconnected"
)

// Panel is the rendered data panel of the screen.
type Panel struct {
	Status      string
	Connected   bool
	Address     string
	CAIPAddress string
	Balance     string
	Signature   string
	Notice      string
	Accounts    []wallet.Account
	Actions     []Action
	Button      bridge.ButtonState
}

// Panel derives the data panel and the available in-page actions.
func (h *Holder) Panel() Panel {
	h.mu.Lock()
	s := h.session.Clone()
	f := h.flags
	signing, sent := h.signing, h.sent
	h.mu.Unlock()

	p := Panel{
		Status:      StatusDisconnected,
		Connected:   s.Connected,
		Address:     wallet.Truncate(s.Address),
		CAIPAddress: s.CAIPAddress,
		Balance:     s.Balance,
		Signature:   wallet.SignaturePreview(s.Signature),
		Accounts:    s.Accounts,
		Button:      h.bridge.State(),
	}
	switch {
	case f.Sending:
		p.Notice = "Sending to chat…"
	case signing:
		p.Notice = "Waiting for the wallet to sign…"
	case f.MessageSigned:
		p.Notice = "Message signed"
	}

	if !s.Connected {
		p.Actions = []Action{ActionConnect, ActionNetworks}
		return p
	}
	p.Status = StatusConnected
	p.Actions = []Action{ActionOpen, ActionNetworks}
	if !sent && !signing {
		hostButton := h.bridge.HasPrimaryAction()
		switch h.opts.Mode {
		case ModeAutoSend:
			if !hostButton {
				p.Actions = append(p.Actions, ActionConfirm)
			}
		default:
			if !f.MessageSigned {
				p.Actions = append(p.Actions, ActionSign)
			} else if !hostButton {
				p.Actions = append(p.Actions, ActionConfirm)
			}
		}
	}
	p.Actions = append(p.Actions, ActionRefresh, ActionDisconnect)
	return p
}

// Confirm runs the in-page confirm action for the configured mode.
func (h *Holder) Confirm(ctx context.Context) error {
	if h.opts.Mode == ModeAutoSend {
		return h.SignAndSend(ctx)
	}
	return h.ConfirmAndSend(ctx)
}
