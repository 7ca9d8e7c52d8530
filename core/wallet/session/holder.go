// Package session holds the wallet session of one screen and drives the
// host bridge from it.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/m3rciful/walletlink/core/bridge"
	"github.com/m3rciful/walletlink/core/logger"
	"github.com/m3rciful/walletlink/core/wallet"
)

var (
	ErrNotConnected   = errors.New("session: wallet not connected")
	ErrNotSigned      = errors.New("session: message not signed")
	ErrAlreadySending = errors.New("session: payload already sent")
	ErrSignPending    = errors.New("session: signature request pending")
)

// Mode selects how the primary action behaves.
type Mode int

const (
	// ModeConfirm asks for a signature first and sends on an explicit confirm.
	ModeConfirm Mode = iota
	// ModeAutoSend signs and sends in one step from the primary action.
	ModeAutoSend
)

const (
	DefaultCloseDelay  = 2000 * time.Millisecond
	DefaultSignTimeout = 5 * time.Minute

	component = "wallet.session"
)

// Wallet is the part of the wallet provider the holder drives.
type Wallet interface {
	Balance(ctx context.Context, address string) (wallet.Balance, error)
	SignMessage(ctx context.Context, message, address string) (string, error)
	SignTypedData(ctx context.Context, data apitypes.TypedData, address string) (string, error)
	Disconnect(ctx context.Context) error
}

// Options configures a Holder.
type Options struct {
	Mode        Mode
	SignMethod  wallet.SignMethod
	CloseDelay  time.Duration
	SignTimeout time.Duration
	ButtonText  string
	Clock       Clock
	Metrics     Metrics
	// OnChange runs after every state mutation, outside the holder lock.
	OnChange func(wallet.Session, wallet.Flags)
	// OnActionError receives the error of a primary button press, which has
	// no caller to return it to.
	OnActionError func(ctx context.Context, err error)
}

// Holder owns the wallet session of a single screen.
type Holder struct {
	wallet Wallet
	bridge *bridge.Adapter
	opts   Options

	// bindMu orders button updates so the last state read is the last applied.
	bindMu sync.Mutex

	mu         sync.Mutex
	session    wallet.Session
	flags      wallet.Flags
	signing    bool
	sent       bool
	torndown   bool
	closeTimer Timer
}

// New builds a holder with an empty session.
func New(w Wallet, gw bridge.Option, opts Options) *Holder {
	if opts.SignMethod == "" {
		opts.SignMethod = wallet.SignTypedData
	}
	if opts.CloseDelay <= 0 {
		opts.CloseDelay = DefaultCloseDelay
	}
	if opts.SignTimeout <= 0 {
		opts.SignTimeout = DefaultSignTimeout
	}
	if opts.Clock == nil {
		opts.Clock = realClock{}
	}
	if opts.Metrics == nil {
		opts.Metrics = nopMetrics{}
	}
	return &Holder{
		wallet: w,
		bridge: bridge.NewAdapter(gw, opts.ButtonText),
		opts:   opts,
	}
}

// Mount performs the bridge handshake and publishes the initial state.
func (h *Holder) Mount(ctx context.Context) error {
	err := h.bridge.Initialize(ctx)
	h.changed(ctx)
	return err
}

// OnConnectionChanged applies a provider connection snapshot. A balance
// refresh is issued once per transition into a connected address.
func (h *Holder) OnConnectionChanged(ctx context.Context, st wallet.AccountState) {
	if !st.Connected {
		if h.clear() {
			h.opts.Metrics.ObserveConnection("disconnected")
			logger.Info(ctx, component, "connection.changed",
				slog.String("status", "ok"),
				slog.Bool("connected", false),
			)
		}
		h.changed(ctx)
		return
	}
	if st.Address == "" {
		return
	}

	h.mu.Lock()
	refresh := !h.session.Connected || h.session.Address != st.Address
	if refresh {
		h.session.Balance = ""
		h.session.Signature = ""
		h.flags.MessageSigned = false
	}
	h.session.Connected = true
	h.session.Address = st.Address
	h.session.CAIPAddress = st.CAIPAddress
	h.session.Accounts = append([]wallet.Account(nil), st.Accounts...)
	h.mu.Unlock()

	if refresh {
		h.opts.Metrics.ObserveConnection("connected")
		logger.Info(ctx, component, "connection.changed",
			slog.String("status", "ok"),
			slog.Bool("connected", true),
			slog.String("address", wallet.Truncate(st.Address)),
			slog.String("caip_address", st.CAIPAddress),
		)
	}
	h.changed(ctx)
	if refresh {
		_ = h.RefreshBalance(ctx)
	}
}

// OnBalanceResolved stores the balance as "<amount> <symbol>".
// Results arriving after a disconnect are dropped.
func (h *Holder) OnBalanceResolved(ctx context.Context, amount, symbol string) {
	h.mu.Lock()
	if !h.session.Connected {
		h.mu.Unlock()
		return
	}
	h.session.Balance = wallet.FormatBalance(amount, symbol)
	h.mu.Unlock()
	h.changed(ctx)
}

// RefreshBalance asks the provider for the current balance. On failure the
// stored balance is kept.
func (h *Holder) RefreshBalance(ctx context.Context) error {
	h.mu.Lock()
	addr, connected := h.session.Address, h.session.Connected
	h.mu.Unlock()
	if !connected || addr == "" {
		return ErrNotConnected
	}

	start := time.Now()
	bal, err := h.wallet.Balance(ctx, addr)
	if err != nil {
		logger.Warn(ctx, component, "balance.refresh",
			slog.String("status", "fail"),
			slog.String("address", wallet.Truncate(addr)),
			slog.Duration("duration", logger.Took(start)),
			slog.String("err", err.Error()),
		)
		return fmt.Errorf("session: refresh balance: %w", err)
	}

	h.mu.Lock()
	stale := h.session.Address != addr
	h.mu.Unlock()
	if stale {
		return nil
	}
	h.OnBalanceResolved(ctx, bal.Formatted, bal.Symbol)
	logger.Debug(ctx, component, "balance.refresh",
		slog.String("status", "ok"),
		slog.String("address", wallet.Truncate(addr)),
		slog.Duration("duration", logger.Took(start)),
	)
	return nil
}

// Sign requests the fixed signature from the wallet. State only changes when
// a non-empty signature comes back for the still-connected address.
func (h *Holder) Sign(ctx context.Context) error {
	h.mu.Lock()
	switch {
	case !h.session.Connected || h.session.Address == "":
		h.mu.Unlock()
		return ErrNotConnected
	case h.sent:
		h.mu.Unlock()
		return ErrAlreadySending
	case h.signing:
		h.mu.Unlock()
		return ErrSignPending
	}
	h.signing = true
	addr := h.session.Address
	h.mu.Unlock()
	h.changed(ctx)

	defer func() {
		h.mu.Lock()
		h.signing = false
		h.mu.Unlock()
		h.changed(ctx)
	}()

	signCtx, cancel := context.WithTimeout(ctx, h.opts.SignTimeout)
	defer cancel()

	start := time.Now()
	sig, err := h.request(signCtx, addr)
	if err == nil && sig == "" {
		err = errors.New("empty signature")
	}
	if err != nil {
		status := "fail"
		if errors.Is(err, wallet.ErrRejected) {
			status = "rejected"
		}
		h.opts.Metrics.ObserveSign(status)
		logger.Warn(ctx, component, "sign",
			slog.String("status", status),
			slog.String("sign_method", string(h.opts.SignMethod)),
			slog.String("address", wallet.Truncate(addr)),
			slog.Duration("duration", logger.Took(start)),
			slog.String("err", err.Error()),
		)
		return fmt.Errorf("session: sign: %w", err)
	}

	h.mu.Lock()
	if !h.session.Connected || h.session.Address != addr {
		h.mu.Unlock()
		return ErrNotConnected
	}
	h.session.Signature = sig
	h.flags.MessageSigned = true
	h.mu.Unlock()

	h.opts.Metrics.ObserveSign("ok")
	logger.Info(ctx, component, "sign",
		slog.String("status", "ok"),
		slog.String("sign_method", string(h.opts.SignMethod)),
		slog.String("address", wallet.Truncate(addr)),
		slog.Duration("duration", logger.Took(start)),
	)
	return nil
}

func (h *Holder) request(ctx context.Context, addr string) (string, error) {
	if h.opts.SignMethod == wallet.SignMessage {
		return h.wallet.SignMessage(ctx, wallet.PlainMessage, addr)
	}
	return h.wallet.SignTypedData(ctx, wallet.GardenTypedData(), addr)
}

// ConfirmAndSend relays the signed session to the host and schedules the
// bridge close. It succeeds at most once per holder.
func (h *Holder) ConfirmAndSend(ctx context.Context) error {
	h.mu.Lock()
	if h.sent {
		h.mu.Unlock()
		return ErrAlreadySending
	}
	if !h.flags.MessageSigned {
		h.mu.Unlock()
		return ErrNotSigned
	}
	h.sent = true
	h.flags.Sending = true
	payload := h.session.Payload()
	h.mu.Unlock()
	h.changed(ctx)

	raw, err := payload.Encode()
	if err != nil {
		logger.Error(ctx, component, "send",
			slog.String("status", "fail"),
			slog.String("err", err.Error()),
		)
		return err
	}
	sendErr := h.bridge.Send(ctx, raw)
	if sendErr == nil {
		h.opts.Metrics.ObservePayload("bot")
	}
	logger.Info(ctx, component, "send",
		slog.String("status", logger.Status(sendErr)),
		slog.String("address", wallet.Truncate(payload.Address)),
		slog.Int("payload_bytes", len(raw)),
		slog.Int64("delay_ms", h.opts.CloseDelay.Milliseconds()),
	)
	h.scheduleClose(ctx)
	return sendErr
}

// SignAndSend signs when needed and sends right away.
func (h *Holder) SignAndSend(ctx context.Context) error {
	if !h.Flags().MessageSigned {
		if err := h.Sign(ctx); err != nil {
			return err
		}
	}
	return h.ConfirmAndSend(ctx)
}

// Disconnect disconnects the wallet and clears the whole session.
func (h *Holder) Disconnect(ctx context.Context) error {
	err := h.wallet.Disconnect(ctx)
	if err != nil {
		logger.Warn(ctx, component, "disconnect",
			slog.String("status", "fail"),
			slog.String("err", err.Error()),
		)
		err = fmt.Errorf("session: disconnect: %w", err)
	}
	if h.clear() {
		h.opts.Metrics.ObserveConnection("disconnected")
	}
	h.changed(ctx)
	return err
}

// Teardown cancels a pending close and releases the primary action.
func (h *Holder) Teardown(ctx context.Context) {
	h.mu.Lock()
	if h.torndown {
		h.mu.Unlock()
		return
	}
	h.torndown = true
	t := h.closeTimer
	h.closeTimer = nil
	h.mu.Unlock()

	if t != nil && t.Stop() {
		h.opts.Metrics.ObserveBridgeClose("cancelled")
		logger.Debug(ctx, component, "close",
			slog.String("status", "cancelled"),
		)
	}
	h.bindMu.Lock()
	h.bridge.Unbind(ctx)
	h.bindMu.Unlock()
}

// Snapshot returns a copy of the current session.
func (h *Holder) Snapshot() wallet.Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.session.Clone()
}

// Flags returns the current flow flags.
func (h *Holder) Flags() wallet.Flags {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.flags
}

// ButtonState reports the state of the host primary action control.
func (h *Holder) ButtonState() bridge.ButtonState {
	return h.bridge.State()
}

func (h *Holder) scheduleClose(ctx context.Context) {
	closeCtx := context.WithoutCancel(ctx)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.torndown || h.closeTimer != nil {
		return
	}
	h.closeTimer = h.opts.Clock.AfterFunc(h.opts.CloseDelay, func() {
		h.mu.Lock()
		if h.torndown {
			h.mu.Unlock()
			return
		}
		h.closeTimer = nil
		h.mu.Unlock()

		if err := h.bridge.Close(closeCtx); err == nil {
			h.opts.Metrics.ObserveBridgeClose("sent")
		}
	})
}

// clear empties the session and reports whether it was connected.
func (h *Holder) clear() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	was := h.session.Connected
	h.session = wallet.Session{}
	h.flags = wallet.Flags{}
	return was
}

func (h *Holder) changed(ctx context.Context) {
	h.bindMu.Lock()
	h.mu.Lock()
	s := h.session.Clone()
	f := h.flags
	busy := h.signing || f.Sending
	torn := h.torndown
	h.mu.Unlock()

	if !torn {
		h.bridge.SetBusy(ctx, busy)
		switch h.opts.Mode {
		case ModeAutoSend:
			h.bridge.BindPrimaryAction(ctx, s.Connected && s.Address != "", h.primarySignAndSend)
		default:
			h.bridge.BindPrimaryAction(ctx, s.Connected && f.MessageSigned, h.primaryConfirm)
		}
	}
	h.bindMu.Unlock()

	if h.opts.OnChange != nil {
		h.opts.OnChange(s, f)
	}
}

func (h *Holder) primarySignAndSend(ctx context.Context) {
	h.actionError(ctx, h.SignAndSend(ctx))
}

func (h *Holder) primaryConfirm(ctx context.Context) {
	h.actionError(ctx, h.ConfirmAndSend(ctx))
}

func (h *Holder) actionError(ctx context.Context, err error) {
	if err != nil && h.opts.OnActionError != nil {
		h.opts.OnActionError(ctx, err)
	}
}
