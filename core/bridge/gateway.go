// Package bridge adapts the host messaging channel of a mini app screen.
package bridge

import "context"

// Disposer unregisters a click handler. Calling it more than once is safe.
type Disposer func()

// MainButton is the host-native primary action control.
type MainButton interface {
	SetText(text string)
	Show()
	Hide()
	Enable()
	Disable()
	OnClick(fn func(ctx context.Context)) Disposer
}

// Gateway is the host channel a screen runs inside.
type Gateway interface {
	Ready(ctx context.Context) error
	Expand(ctx context.Context) error
	SendData(ctx context.Context, data string) error
	Close(ctx context.Context) error
	// MainButton reports the primary action control when the host offers one.
	MainButton() (MainButton, bool)
}

// Option is the result of detecting the host bridge.
type Option struct {
	gw Gateway
}

// Some wraps a detected gateway. A nil gateway yields None.
func Some(gw Gateway) Option {
	return Option{gw: gw}
}

// None reports that no host bridge is available.
func None() Option {
	return Option{}
}

// Get returns the gateway and whether it is present.
func (o Option) Get() (Gateway, bool) {
	return o.gw, o.gw != nil
}
