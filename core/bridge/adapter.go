package bridge

import (
	"context"
	"log/slog"
	"sync"

	"github.com/m3rciful/walletlink/core/logger"
)

// ButtonState is the observable state of the primary action control.
type ButtonState int

const (
	Hidden ButtonState = iota
	VisibleEnabled
	VisibleDisabled
	HiddenAfterSend
)

func (s ButtonState) String() string {
	switch s {
	case VisibleEnabled:
		return "visible_enabled"
	case VisibleDisabled:
		return "visible_disabled"
	case HiddenAfterSend:
		return "hidden_after_send"
	default:
		return "hidden"
	}
}

// DefaultCaption labels the primary action control.
const DefaultCaption = "CONFIRM WALLET"

const component = "bridge"

// Adapter drives a Gateway on behalf of one screen. Every method is a no-op
// when the bridge is absent.
type Adapter struct {
	mu          sync.Mutex
	gw          Gateway
	button      MainButton
	caption     string
	initialized bool
	closed      bool
	sent        bool
	busy        bool
	dispose     Disposer
	state       ButtonState
}

// NewAdapter builds an adapter over the detected bridge.
func NewAdapter(opt Option, caption string) *Adapter {
	if caption == "" {
		caption = DefaultCaption
	}
	a := &Adapter{caption: caption}
	if gw, ok := opt.Get(); ok {
		a.gw = gw
		a.button, _ = gw.MainButton()
	}
	return a
}

// Available reports whether a host bridge is present.
func (a *Adapter) Available() bool {
	return a.gw != nil
}

// HasPrimaryAction reports whether the host offers a primary action control.
func (a *Adapter) HasPrimaryAction() bool {
	return a.button != nil
}

// Initialize performs the ready/expand handshake. Only the first call has effect.
func (a *Adapter) Initialize(ctx context.Context) error {
	a.mu.Lock()
	if a.initialized {
		a.mu.Unlock()
		return nil
	}
	a.initialized = true
	a.mu.Unlock()

	if a.gw == nil {
		logger.Warn(ctx, component, "bridge.absent",
			slog.String("status", "skip"),
		)
		return nil
	}
	if err := a.gw.Ready(ctx); err != nil {
		logger.Error(ctx, component, "bridge.ready",
			slog.String("status", "fail"),
			slog.String("err", err.Error()),
		)
		return err
	}
	if err := a.gw.Expand(ctx); err != nil {
		logger.Warn(ctx, component, "bridge.expand",
			slog.String("status", "fail"),
			slog.String("err", err.Error()),
		)
		return err
	}
	logger.Debug(ctx, component, "bridge.ready",
		slog.String("status", "ok"),
		slog.Bool("main_button", a.button != nil),
	)
	return nil
}

// BindPrimaryAction shows the control with handler bound when predicate holds
// and hides it otherwise. The previous binding is always disposed first.
func (a *Adapter) BindPrimaryAction(ctx context.Context, predicate bool, handler func(context.Context)) {
	if a.button == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sent || a.closed {
		return
	}
	a.unbindLocked()
	if !predicate || handler == nil {
		a.button.Hide()
		a.setStateLocked(ctx, Hidden)
		return
	}
	a.button.SetText(a.caption)
	a.button.Show()
	if a.busy {
		a.button.Disable()
		a.setStateLocked(ctx, VisibleDisabled)
	} else {
		a.button.Enable()
		a.setStateLocked(ctx, VisibleEnabled)
	}
	a.dispose = a.button.OnClick(handler)
}

// SetBusy disables a visible control while busy and re-enables it afterwards.
func (a *Adapter) SetBusy(ctx context.Context, busy bool) {
	if a.button == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.busy = busy
	switch {
	case busy && a.state == VisibleEnabled:
		a.button.Disable()
		a.setStateLocked(ctx, VisibleDisabled)
	case !busy && a.state == VisibleDisabled:
		a.button.Enable()
		a.setStateLocked(ctx, VisibleEnabled)
	}
}

// Send hands payload to the host. The control is hidden for good afterwards.
func (a *Adapter) Send(ctx context.Context, payload string) error {
	if a.gw == nil {
		return nil
	}
	err := a.gw.SendData(ctx, payload)
	if err != nil {
		logger.Error(ctx, component, "bridge.send",
			slog.String("status", "fail"),
			slog.Int("payload_bytes", len(payload)),
			slog.String("err", err.Error()),
		)
	} else {
		logger.Info(ctx, component, "bridge.send",
			slog.String("status", "ok"),
			slog.Int("payload_bytes", len(payload)),
		)
	}

	if a.button != nil {
		a.mu.Lock()
		a.unbindLocked()
		a.button.Hide()
		a.sent = true
		a.setStateLocked(ctx, HiddenAfterSend)
		a.mu.Unlock()
	}
	return err
}

// Close requests host view teardown. Repeated calls are ignored.
func (a *Adapter) Close(ctx context.Context) error {
	if a.gw == nil {
		return nil
	}
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.unbindLocked()
	a.mu.Unlock()

	if err := a.gw.Close(ctx); err != nil {
		logger.Warn(ctx, component, "bridge.close",
			slog.String("status", "fail"),
			slog.String("err", err.Error()),
		)
		return err
	}
	logger.Debug(ctx, component, "bridge.close", slog.String("status", "ok"))
	return nil
}

// Unbind disposes the active click handler and hides the control.
func (a *Adapter) Unbind(ctx context.Context) {
	if a.button == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.unbindLocked()
	if a.state == VisibleEnabled || a.state == VisibleDisabled {
		a.button.Hide()
		a.setStateLocked(ctx, Hidden)
	}
}

// State returns the current state of the primary action control.
func (a *Adapter) State() ButtonState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Adapter) unbindLocked() {
	if a.dispose != nil {
		a.dispose()
		a.dispose = nil
	}
}

func (a *Adapter) setStateLocked(ctx context.Context, next ButtonState) {
	if a.state == next {
		return
	}
	a.state = next
	if logger.ShouldSampleDebug() {
		logger.Debug(ctx, component, "button.state",
			slog.String("button_state", next.String()),
		)
	}
}
