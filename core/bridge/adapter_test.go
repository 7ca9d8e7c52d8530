package bridge

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeButton struct {
	mu       sync.Mutex
	text     string
	visible  bool
	enabled  bool
	handlers map[int]func(context.Context)
	next     int
	disposed int
}

func newFakeButton() *fakeButton {
	return &fakeButton{handlers: make(map[int]func(context.Context))}
}

func (b *fakeButton) SetText(text string) { b.text = text }
func (b *fakeButton) Show()               { b.visible = true }
func (b *fakeButton) Hide()               { b.visible = false }
func (b *fakeButton) Enable()             { b.enabled = true }
func (b *fakeButton) Disable()            { b.enabled = false }

func (b *fakeButton) OnClick(fn func(context.Context)) Disposer {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	b.handlers[id] = fn
	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.handlers, id)
			b.disposed++
			b.mu.Unlock()
		})
	}
}

func (b *fakeButton) click(ctx context.Context) {
	b.mu.Lock()
	hs := make([]func(context.Context), 0, len(b.handlers))
	for _, h := range b.handlers {
		hs = append(hs, h)
	}
	b.mu.Unlock()
	for _, h := range hs {
		h(ctx)
	}
}

type fakeGateway struct {
	button  *fakeButton
	ready   int
	expand  int
	sent    []string
	closed  int
	sendErr error
}

func (g *fakeGateway) Ready(context.Context) error  { g.ready++; return nil }
func (g *fakeGateway) Expand(context.Context) error { g.expand++; return nil }
func (g *fakeGateway) SendData(_ context.Context, data string) error {
	g.sent = append(g.sent, data)
	return g.sendErr
}
func (g *fakeGateway) Close(context.Context) error { g.closed++; return nil }
func (g *fakeGateway) MainButton() (MainButton, bool) {
	if g.button == nil {
		return nil, false
	}
	return g.button, true
}

func TestInitializeRunsHandshakeOnce(t *testing.T) {
	gw := &fakeGateway{button: newFakeButton()}
	a := NewAdapter(Some(gw), "")
	ctx := context.Background()

	require.NoError(t, a.Initialize(ctx))
	require.NoError(t, a.Initialize(ctx))
	require.Equal(t, 1, gw.ready)
	require.Equal(t, 1, gw.expand)
	require.True(t, a.Available())
	require.True(t, a.HasPrimaryAction())
}

func TestAbsentBridgeIsInert(t *testing.T) {
	a := NewAdapter(None(), "")
	ctx := context.Background()

	require.False(t, a.Available())
	require.NoError(t, a.Initialize(ctx))
	a.BindPrimaryAction(ctx, true, func(context.Context) {})
	a.SetBusy(ctx, true)
	require.NoError(t, a.Send(ctx, "{}"))
	require.NoError(t, a.Close(ctx))
	require.Equal(t, Hidden, a.State())
}

func TestBindPrimaryActionKeepsSingleHandler(t *testing.T) {
	btn := newFakeButton()
	a := NewAdapter(Some(&fakeGateway{button: btn}), "GO")
	ctx := context.Background()

	calls := 0
	handler := func(context.Context) { calls++ }

	a.BindPrimaryAction(ctx, true, handler)
	a.BindPrimaryAction(ctx, true, handler)
	a.BindPrimaryAction(ctx, true, handler)
	require.Equal(t, VisibleEnabled, a.State())
	require.Equal(t, "GO", btn.text)
	require.True(t, btn.visible)
	require.True(t, btn.enabled)
	require.Len(t, btn.handlers, 1)
	require.Equal(t, 2, btn.disposed)

	btn.click(ctx)
	require.Equal(t, 1, calls)

	a.BindPrimaryAction(ctx, false, handler)
	require.Equal(t, Hidden, a.State())
	require.False(t, btn.visible)
	require.Empty(t, btn.handlers)
}

func TestSetBusyDisablesVisibleButton(t *testing.T) {
	btn := newFakeButton()
	a := NewAdapter(Some(&fakeGateway{button: btn}), "")
	ctx := context.Background()

	a.BindPrimaryAction(ctx, true, func(context.Context) {})
	a.SetBusy(ctx, true)
	require.Equal(t, VisibleDisabled, a.State())
	require.False(t, btn.enabled)

	// rebinding while busy keeps it disabled
	a.BindPrimaryAction(ctx, true, func(context.Context) {})
	require.Equal(t, VisibleDisabled, a.State())

	a.SetBusy(ctx, false)
	require.Equal(t, VisibleEnabled, a.State())
	require.True(t, btn.enabled)
}

func TestSendHidesButtonForGood(t *testing.T) {
	btn := newFakeButton()
	gw := &fakeGateway{button: btn}
	a := NewAdapter(Some(gw), "")
	ctx := context.Background()

	a.BindPrimaryAction(ctx, true, func(context.Context) {})
	require.NoError(t, a.Send(ctx, `{"address":"0x1"}`))
	require.Equal(t, HiddenAfterSend, a.State())
	require.Equal(t, []string{`{"address":"0x1"}`}, gw.sent)
	require.Empty(t, btn.handlers)

	a.BindPrimaryAction(ctx, true, func(context.Context) {})
	require.Equal(t, HiddenAfterSend, a.State())
	require.False(t, btn.visible)
}

func TestSendErrorIsReturned(t *testing.T) {
	gw := &fakeGateway{sendErr: errors.New("chat gone")}
	a := NewAdapter(Some(gw), "")
	require.Error(t, a.Send(context.Background(), "{}"))
}

func TestCloseIsIdempotent(t *testing.T) {
	gw := &fakeGateway{button: newFakeButton()}
	a := NewAdapter(Some(gw), "")
	ctx := context.Background()

	require.NoError(t, a.Close(ctx))
	require.NoError(t, a.Close(ctx))
	require.Equal(t, 1, gw.closed)
}

func TestUnbindHidesActiveButton(t *testing.T) {
	btn := newFakeButton()
	a := NewAdapter(Some(&fakeGateway{button: btn}), "")
	ctx := context.Background()

	a.BindPrimaryAction(ctx, true, func(context.Context) {})
	a.Unbind(ctx)
	require.Equal(t, Hidden, a.State())
	require.Empty(t, btn.handlers)
	require.False(t, btn.visible)
}

func TestButtonStateString(t *testing.T) {
	require.Equal(t, "hidden", Hidden.String())
	require.Equal(t, "visible_enabled", VisibleEnabled.String())
	require.Equal(t, "visible_disabled", VisibleDisabled.String())
	require.Equal(t, "hidden_after_send", HiddenAfterSend.String())
}
