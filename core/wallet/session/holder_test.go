package session

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/walletlink/core/bridge"
	"github.com/m3rciful/walletlink/core/wallet"
)

const (
	testAddr = "0xABCDEF0000000000000000000000000000ABCD"
	testCAIP = "eip155:1:" + testAddr
	testSig  = "0x5f1f0c8c2f2b8a1d7c6e4b3a29180706050403020100ffeeddccbbaa99887766"
)

type fakeWallet struct {
	mu           sync.Mutex
	balance      wallet.Balance
	balanceErr   error
	balanceCalls int
	sig          string
	signErr      error
	signCalls    int
	lastMethod   string
	block        chan struct{}
	disconnects  int
}

func newFakeWallet() *fakeWallet {
	return &fakeWallet{
		balance: wallet.Balance{Value: big.NewInt(1_500_000_000_000_000_000), Decimals: 18, Symbol: "ETH", Formatted: "1.5"},
		sig:     testSig,
	}
}

func (w *fakeWallet) Balance(context.Context, string) (wallet.Balance, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.balanceCalls++
	return w.balance, w.balanceErr
}

func (w *fakeWallet) sign(ctx context.Context, method string) (string, error) {
	w.mu.Lock()
	w.signCalls++
	w.lastMethod = method
	block := w.block
	sig, err := w.sig, w.signErr
	w.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return sig, err
}

func (w *fakeWallet) SignMessage(ctx context.Context, message, _ string) (string, error) {
	if message != wallet.PlainMessage {
		return "", errors.New("unexpected message")
	}
	return w.sign(ctx, "message")
}

func (w *fakeWallet) SignTypedData(ctx context.Context, data apitypes.TypedData, _ string) (string, error) {
	if data.Message["content"] != "Hello Garden" {
		return "", errors.New("unexpected typed data")
	}
	return w.sign(ctx, "typed_data")
}

func (w *fakeWallet) Disconnect(context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.disconnects++
	return nil
}

type fakeButton struct {
	mu       sync.Mutex
	visible  bool
	enabled  bool
	handlers map[int]func(context.Context)
	next     int
}

func (b *fakeButton) SetText(string) {}
func (b *fakeButton) Show()          { b.visible = true }
func (b *fakeButton) Hide()          { b.visible = false }
func (b *fakeButton) Enable()        { b.enabled = true }
func (b *fakeButton) Disable()       { b.enabled = false }

func (b *fakeButton) OnClick(fn func(context.Context)) bridge.Disposer {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	b.handlers[id] = fn
	return func() {
		b.mu.Lock()
		delete(b.handlers, id)
		b.mu.Unlock()
	}
}

func (b *fakeButton) click(ctx context.Context) {
	b.mu.Lock()
	var hs []func(context.Context)
	for _, h := range b.handlers {
		hs = append(hs, h)
	}
	b.mu.Unlock()
	for _, h := range hs {
		h(ctx)
	}
}

func (b *fakeButton) bound() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.handlers)
}

type fakeGateway struct {
	mu     sync.Mutex
	button *fakeButton
	sent   []string
	closed int
}

func newFakeGateway(withButton bool) *fakeGateway {
	gw := &fakeGateway{}
	if withButton {
		gw.button = &fakeButton{handlers: make(map[int]func(context.Context))}
	}
	return gw
}

func (g *fakeGateway) Ready(context.Context) error  { return nil }
func (g *fakeGateway) Expand(context.Context) error { return nil }
func (g *fakeGateway) SendData(_ context.Context, data string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sent = append(g.sent, data)
	return nil
}
func (g *fakeGateway) Close(context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed++
	return nil
}
func (g *fakeGateway) MainButton() (bridge.MainButton, bool) {
	if g.button == nil {
		return nil, false
	}
	return g.button, true
}

func (g *fakeGateway) counts() (int, int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sent), g.closed
}

type fakeTimer struct {
	at      time.Duration
	f       func()
	stopped bool
	fired   bool
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Duration
	timers []*fakeTimer
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{at: c.now + d, f: f}
	c.timers = append(c.timers, t)
	return &clockTimer{c: c, t: t}
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now += d
	var due []func()
	for _, t := range c.timers {
		if !t.stopped && !t.fired && t.at <= c.now {
			t.fired = true
			due = append(due, t.f)
		}
	}
	c.mu.Unlock()
	for _, f := range due {
		f()
	}
}

type clockTimer struct {
	c *fakeClock
	t *fakeTimer
}

func (ct *clockTimer) Stop() bool {
	ct.c.mu.Lock()
	defer ct.c.mu.Unlock()
	if ct.t.fired || ct.t.stopped {
		return false
	}
	ct.t.stopped = true
	return true
}

type fakeMetrics struct {
	mu     sync.Mutex
	events []string
}

func (m *fakeMetrics) add(e string) {
	m.mu.Lock()
	m.events = append(m.events, e)
	m.mu.Unlock()
}
func (m *fakeMetrics) ObserveConnection(e string)  { m.add("conn:" + e) }
func (m *fakeMetrics) ObserveSign(s string)        { m.add("sign:" + s) }
func (m *fakeMetrics) ObservePayload(s string)     { m.add("payload:" + s) }
func (m *fakeMetrics) ObserveBridgeClose(r string) { m.add("close:" + r) }

type fixture struct {
	w       *fakeWallet
	gw      *fakeGateway
	clock   *fakeClock
	metrics *fakeMetrics
	h       *Holder
}

func newFixture(t *testing.T, mode Mode, withButton bool) *fixture {
	t.Helper()
	f := &fixture{
		w:       newFakeWallet(),
		gw:      newFakeGateway(withButton),
		clock:   &fakeClock{},
		metrics: &fakeMetrics{},
	}
	f.h = New(f.w, bridge.Some(f.gw), Options{Mode: mode, Clock: f.clock, Metrics: f.metrics})
	require.NoError(t, f.h.Mount(context.Background()))
	return f
}

func connected() wallet.AccountState {
	return wallet.AccountState{
		Connected:   true,
		Address:     testAddr,
		CAIPAddress: testCAIP,
		Network:     "eip155:1",
		Accounts:    []wallet.Account{{Address: testAddr, Type: "eoa", Namespace: "eip155"}},
	}
}

func TestConnectedScenarioPanel(t *testing.T) {
	f := newFixture(t, ModeConfirm, true)
	ctx := context.Background()

	f.h.OnConnectionChanged(ctx, connected())

	p := f.h.Panel()
	require.Equal(t, StatusConnected, p.Status)
	require.Equal(t, "0xABCD…ABCD", p.Address)
	require.Equal(t, "1.5 ETH", p.Balance)
	require.Contains(t, p.Actions, ActionSign)
	require.NotContains(t, p.Actions, ActionConfirm)
	require.Equal(t, bridge.Hidden, p.Button)
}

func TestBalanceRefreshOncePerTransition(t *testing.T) {
	f := newFixture(t, ModeConfirm, true)
	ctx := context.Background()

	f.h.OnConnectionChanged(ctx, connected())
	f.h.OnConnectionChanged(ctx, connected())
	f.h.OnConnectionChanged(ctx, connected())
	require.Equal(t, 1, f.w.balanceCalls)

	other := connected()
	other.Address = "0x1111111111111111111111111111111111111111"
	f.h.OnConnectionChanged(ctx, other)
	require.Equal(t, 2, f.w.balanceCalls)

	f.h.OnConnectionChanged(ctx, wallet.AccountState{})
	f.h.OnConnectionChanged(ctx, connected())
	require.Equal(t, 3, f.w.balanceCalls)
}

func TestConnectedWithoutAddressIsIgnored(t *testing.T) {
	f := newFixture(t, ModeConfirm, true)
	f.h.OnConnectionChanged(context.Background(), wallet.AccountState{Connected: true})
	require.False(t, f.h.Snapshot().Connected)
	require.Zero(t, f.w.balanceCalls)
}

func TestBalanceFailureKeepsPreviousValue(t *testing.T) {
	f := newFixture(t, ModeConfirm, true)
	ctx := context.Background()
	f.h.OnConnectionChanged(ctx, connected())

	f.w.balanceErr = errors.New("rpc down")
	require.Error(t, f.h.RefreshBalance(ctx))
	require.Equal(t, "1.5 ETH", f.h.Snapshot().Balance)
}

func TestBalanceAfterDisconnectIsDropped(t *testing.T) {
	f := newFixture(t, ModeConfirm, true)
	f.h.OnBalanceResolved(context.Background(), "2", "ETH")
	require.Empty(t, f.h.Snapshot().Balance)
}

func TestDisconnectClearsEverything(t *testing.T) {
	for _, viaProvider := range []bool{true, false} {
		f := newFixture(t, ModeConfirm, true)
		ctx := context.Background()

		f.h.OnConnectionChanged(ctx, connected())
		require.NoError(t, f.h.Sign(ctx))
		require.True(t, f.h.Flags().MessageSigned)

		if viaProvider {
			f.h.OnConnectionChanged(ctx, wallet.AccountState{})
		} else {
			require.NoError(t, f.h.Disconnect(ctx))
			require.Equal(t, 1, f.w.disconnects)
		}

		require.Equal(t, wallet.Flags{}, f.h.Flags())
		require.Equal(t, wallet.Session{}, f.h.Snapshot())
		require.Equal(t, bridge.Hidden, f.h.ButtonState())
		require.Equal(t, StatusDisconnected, f.h.Panel().Status)
	}
}

func TestSignRequiresConnection(t *testing.T) {
	f := newFixture(t, ModeConfirm, true)
	require.ErrorIs(t, f.h.Sign(context.Background()), ErrNotConnected)
	require.Zero(t, f.w.signCalls)
}

func TestSignSuccessEnablesConfirm(t *testing.T) {
	f := newFixture(t, ModeConfirm, true)
	ctx := context.Background()
	f.h.OnConnectionChanged(ctx, connected())

	require.NoError(t, f.h.Sign(ctx))
	require.Equal(t, "typed_data", f.w.lastMethod)
	require.Equal(t, testSig, f.h.Snapshot().Signature)
	require.True(t, f.h.Flags().MessageSigned)
	require.Equal(t, bridge.VisibleEnabled, f.h.ButtonState())
	require.Equal(t, 1, f.gw.button.bound())
	require.Equal(t, "0x5f1f0c8c2f2b8a1d7c…", f.h.Panel().Signature)
}

func TestPlainMessageSignMethod(t *testing.T) {
	w := newFakeWallet()
	h := New(w, bridge.None(), Options{SignMethod: wallet.SignMessage, Clock: &fakeClock{}})
	ctx := context.Background()
	h.OnConnectionChanged(ctx, connected())
	require.NoError(t, h.Sign(ctx))
	require.Equal(t, "message", w.lastMethod)
}

func TestSignFailureLeavesStateUnchanged(t *testing.T) {
	f := newFixture(t, ModeConfirm, true)
	ctx := context.Background()
	f.h.OnConnectionChanged(ctx, connected())

	f.w.signErr = wallet.ErrRejected
	require.ErrorIs(t, f.h.Sign(ctx), wallet.ErrRejected)
	require.Empty(t, f.h.Snapshot().Signature)
	require.False(t, f.h.Flags().MessageSigned)
	require.ErrorIs(t, f.h.ConfirmAndSend(ctx), ErrNotSigned)

	f.w.signErr = nil
	require.NoError(t, f.h.Sign(ctx))

	f.w.sig = "0xother"
	f.w.signErr = errors.New("wallet crashed")
	require.Error(t, f.h.Sign(ctx))
	require.Equal(t, testSig, f.h.Snapshot().Signature)
	require.True(t, f.h.Flags().MessageSigned)

	sent, _ := f.gw.counts()
	require.Zero(t, sent)
	require.Contains(t, f.metrics.events, "sign:rejected")
	require.Contains(t, f.metrics.events, "sign:fail")
}

func TestEmptySignatureIsAFailure(t *testing.T) {
	f := newFixture(t, ModeConfirm, true)
	ctx := context.Background()
	f.h.OnConnectionChanged(ctx, connected())

	f.w.sig = ""
	require.Error(t, f.h.Sign(ctx))
	require.False(t, f.h.Flags().MessageSigned)
}

func TestConfirmWithoutSignatureSendsNothing(t *testing.T) {
	f := newFixture(t, ModeConfirm, true)
	ctx := context.Background()
	f.h.OnConnectionChanged(ctx, connected())

	require.ErrorIs(t, f.h.ConfirmAndSend(ctx), ErrNotSigned)
	f.clock.Advance(time.Hour)
	sent, closed := f.gw.counts()
	require.Zero(t, sent)
	require.Zero(t, closed)
	require.False(t, f.h.Flags().Sending)
}

func TestConfirmSendsOnceThenClosesAfterDelay(t *testing.T) {
	f := newFixture(t, ModeConfirm, true)
	ctx := context.Background()
	f.h.OnConnectionChanged(ctx, connected())
	require.NoError(t, f.h.Sign(ctx))

	f.gw.button.click(ctx)
	require.ErrorIs(t, f.h.ConfirmAndSend(ctx), ErrAlreadySending)

	sent, closed := f.gw.counts()
	require.Equal(t, 1, sent)
	require.Zero(t, closed)
	require.True(t, f.h.Flags().Sending)
	require.Equal(t, bridge.HiddenAfterSend, f.h.ButtonState())

	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(f.gw.sent[0]), &payload))
	require.Equal(t, testAddr, payload["address"])
	require.Equal(t, testCAIP, payload["caipAddress"])
	require.Equal(t, testSig, payload["signedMessage"])
	require.Equal(t, "1.5 ETH", payload["balance"])
	require.Len(t, payload["accounts"], 1)

	f.clock.Advance(1999 * time.Millisecond)
	_, closed = f.gw.counts()
	require.Zero(t, closed)

	f.clock.Advance(time.Millisecond)
	_, closed = f.gw.counts()
	require.Equal(t, 1, closed)
	require.Contains(t, f.metrics.events, "payload:bot")
	require.Contains(t, f.metrics.events, "close:sent")
}

func TestTeardownCancelsPendingClose(t *testing.T) {
	f := newFixture(t, ModeConfirm, true)
	ctx := context.Background()
	f.h.OnConnectionChanged(ctx, connected())
	require.NoError(t, f.h.Sign(ctx))
	require.NoError(t, f.h.ConfirmAndSend(ctx))

	f.h.Teardown(ctx)
	f.clock.Advance(time.Minute)

	_, closed := f.gw.counts()
	require.Zero(t, closed)
	require.Contains(t, f.metrics.events, "close:cancelled")
}

func TestAutoSendPrimaryAction(t *testing.T) {
	f := newFixture(t, ModeAutoSend, true)
	ctx := context.Background()
	require.Equal(t, bridge.Hidden, f.h.ButtonState())

	f.h.OnConnectionChanged(ctx, connected())
	require.Equal(t, bridge.VisibleEnabled, f.h.ButtonState())
	require.Equal(t, 1, f.gw.button.bound())
	require.NotContains(t, f.h.Panel().Actions, ActionConfirm)

	f.gw.button.click(ctx)
	require.Equal(t, 1, f.w.signCalls)
	sent, _ := f.gw.counts()
	require.Equal(t, 1, sent)
	require.Equal(t, bridge.HiddenAfterSend, f.h.ButtonState())

	f.clock.Advance(DefaultCloseDelay)
	_, closed := f.gw.counts()
	require.Equal(t, 1, closed)
}

func TestAutoSendHidesOnDisconnect(t *testing.T) {
	f := newFixture(t, ModeAutoSend, true)
	ctx := context.Background()
	f.h.OnConnectionChanged(ctx, connected())
	f.h.OnConnectionChanged(ctx, wallet.AccountState{})
	require.Equal(t, bridge.Hidden, f.h.ButtonState())
	require.Zero(t, f.gw.button.bound())
}

func TestSignFailureInAutoSendNeverSends(t *testing.T) {
	f := newFixture(t, ModeAutoSend, true)
	ctx := context.Background()
	f.h.OnConnectionChanged(ctx, connected())
	f.w.signErr = errors.New("user closed wallet")

	require.NotPanics(t, func() { f.gw.button.click(ctx) })
	require.False(t, f.h.Flags().MessageSigned)
	sent, _ := f.gw.counts()
	require.Zero(t, sent)
	require.Equal(t, bridge.VisibleEnabled, f.h.ButtonState())
}

func TestAutoSendClickReportsSignError(t *testing.T) {
	f := newFixture(t, ModeAutoSend, true)
	var reported []error
	f.h.opts.OnActionError = func(_ context.Context, err error) { reported = append(reported, err) }
	ctx := context.Background()
	f.h.OnConnectionChanged(ctx, connected())
	f.w.signErr = wallet.ErrRejected

	f.gw.button.click(ctx)
	require.Len(t, reported, 1)
	require.ErrorIs(t, reported[0], wallet.ErrRejected)

	f.w.signErr = nil
	f.gw.button.click(ctx)
	require.Len(t, reported, 1)
}

func TestButtonFollowsLastConnectionState(t *testing.T) {
	for round := 0; round < 20; round++ {
		f := newFixture(t, ModeAutoSend, true)
		ctx := context.Background()

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				if i%2 == 0 {
					f.h.OnConnectionChanged(ctx, connected())
				} else {
					f.h.OnConnectionChanged(ctx, wallet.AccountState{})
				}
			}(i)
		}
		wg.Wait()

		if f.h.Snapshot().Connected {
			require.Equal(t, bridge.VisibleEnabled, f.h.ButtonState())
			require.Equal(t, 1, f.gw.button.bound())
		} else {
			require.Equal(t, bridge.Hidden, f.h.ButtonState())
			require.Zero(t, f.gw.button.bound())
		}
	}
}

func TestPendingSignDisablesButtonAndRejectsSecondRequest(t *testing.T) {
	f := newFixture(t, ModeAutoSend, true)
	ctx := context.Background()
	f.h.OnConnectionChanged(ctx, connected())

	release := make(chan struct{})
	f.w.block = release
	done := make(chan error, 1)
	go func() { done <- f.h.Sign(ctx) }()

	require.Eventually(t, func() bool {
		return f.h.ButtonState() == bridge.VisibleDisabled
	}, time.Second, 5*time.Millisecond)
	require.ErrorIs(t, f.h.Sign(ctx), ErrSignPending)
	require.NotContains(t, f.h.Panel().Actions, ActionSign)

	close(release)
	require.NoError(t, <-done)
	require.Equal(t, bridge.VisibleEnabled, f.h.ButtonState())
	require.Equal(t, 1, f.w.signCalls)
}

func TestSignResultAfterDisconnectIsDiscarded(t *testing.T) {
	f := newFixture(t, ModeConfirm, true)
	ctx := context.Background()
	f.h.OnConnectionChanged(ctx, connected())

	release := make(chan struct{})
	f.w.block = release
	done := make(chan error, 1)
	go func() { done <- f.h.Sign(ctx) }()

	require.Eventually(t, func() bool {
		f.w.mu.Lock()
		defer f.w.mu.Unlock()
		return f.w.signCalls == 1
	}, time.Second, 5*time.Millisecond)
	f.h.OnConnectionChanged(ctx, wallet.AccountState{})
	close(release)

	require.ErrorIs(t, <-done, ErrNotConnected)
	require.Empty(t, f.h.Snapshot().Signature)
	require.False(t, f.h.Flags().MessageSigned)
}

func TestAbsentBridgeKeepsInPageFlow(t *testing.T) {
	w := newFakeWallet()
	clock := &fakeClock{}
	h := New(w, bridge.None(), Options{Clock: clock})
	ctx := context.Background()
	require.NoError(t, h.Mount(ctx))

	h.OnConnectionChanged(ctx, connected())
	require.NoError(t, h.Sign(ctx))
	require.Contains(t, h.Panel().Actions, ActionConfirm)
	require.NoError(t, h.Confirm(ctx))
	require.True(t, h.Flags().Sending)
	require.Equal(t, bridge.Hidden, h.ButtonState())
	clock.Advance(DefaultCloseDelay)
}

func TestOnChangeSeesEveryMutation(t *testing.T) {
	var seen []wallet.Flags
	w := newFakeWallet()
	h := New(w, bridge.None(), Options{
		Clock:    &fakeClock{},
		OnChange: func(_ wallet.Session, f wallet.Flags) { seen = append(seen, f) },
	})
	ctx := context.Background()
	h.OnConnectionChanged(ctx, connected())
	require.NoError(t, h.Sign(ctx))
	require.NotEmpty(t, seen)
	require.True(t, seen[len(seen)-1].MessageSigned)
}
