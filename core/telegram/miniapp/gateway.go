// Package miniapp runs the wallet screen inside a Telegram chat: the chat is
// the host bridge and one inline row plays the host's main button.
package miniapp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/m3rciful/walletlink/core/bridge"
	"github.com/m3rciful/walletlink/core/logger"
	"github.com/m3rciful/walletlink/core/telegram/format"
	"github.com/m3rciful/walletlink/core/telegram/keyboard"
	"github.com/m3rciful/walletlink/core/telegram/sender"
	"github.com/m3rciful/walletlink/core/wallet"

	tele "gopkg.in/telebot.v4"
)

const component = "tg.miniapp"

var errScreenClosed = errors.New("miniapp: screen closed")

// Messenger is the subset of the Bot API a screen needs.
type Messenger interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
	Edit(msg tele.Editable, what interface{}, opts ...interface{}) (*tele.Message, error)
	Delete(msg tele.Editable) error
}

// Outbox queues fire-and-forget sends with retries.
type Outbox = sender.Queue

// Sink receives every payload the screen relays.
type Sink func(ctx context.Context, payload string) error

// View is a rendered screen body.
type View struct {
	Text string
	Rows [][]keyboard.InlineBtn
}

// GatewayOptions configures a Gateway.
type GatewayOptions struct {
	Outbox  Outbox
	Sink    Sink
	OnClose func(ctx context.Context)
}

// Gateway implements bridge.Gateway on one chat message.
type Gateway struct {
	api    Messenger
	chat   tele.Recipient
	opts   GatewayOptions
	button *mainButton

	mu       sync.Mutex
	msg      *tele.Message
	pairing  *tele.Message
	view     View
	expanded bool
	closed   bool
}

var _ bridge.Gateway = (*Gateway)(nil)

// NewGateway builds a gateway posting into chat.
func NewGateway(api Messenger, chat tele.Recipient, opts GatewayOptions) *Gateway {
	return &Gateway{
		api:    api,
		chat:   chat,
		opts:   opts,
		button: &mainButton{},
	}
}

// Ready posts the screen message.
func (g *Gateway) Ready(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return errScreenClosed
	}
	if g.msg != nil {
		return nil
	}
	msg, err := g.api.Send(g.chat, "Loading wallet…")
	if err != nil {
		return fmt.Errorf("miniapp: post screen: %w", err)
	}
	g.msg = msg
	return nil
}

// Expand switches the screen to the full panel.
func (g *Gateway) Expand(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.expanded = true
	if g.view.Text == "" {
		return nil
	}
	return g.editLocked()
}

// Render shows v with the main button row appended.
func (g *Gateway) Render(ctx context.Context, v View) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.view = v
	if !g.expanded {
		return nil
	}
	err := g.editLocked()
	if err != nil {
		logger.Warn(ctx, component, "render",
			slog.String("status", "fail"),
			slog.String("err", err.Error()),
		)
	}
	return err
}

func (g *Gateway) editLocked() error {
	if g.closed || g.msg == nil {
		return nil
	}
	rows := append([][]keyboard.InlineBtn(nil), g.view.Rows...)
	if row := g.button.row(); row != nil {
		rows = append([][]keyboard.InlineBtn{row}, rows...)
	}
	opts := &tele.SendOptions{
		ParseMode:   tele.ModeMarkdown,
		ReplyMarkup: keyboard.InlineButtonsRows(rows...),
	}
	msg, err := g.api.Edit(g.msg, g.view.Text, opts)
	if err != nil {
		if notModified(err) {
			return nil
		}
		return fmt.Errorf("miniapp: edit screen: %w", err)
	}
	if msg != nil {
		g.msg = msg
	}
	return nil
}

func notModified(err error) bool {
	return errors.Is(err, tele.ErrSameMessageContent) || strings.Contains(err.Error(), "message is not modified")
}

// ShowPairing posts the pairing QR code, replacing a previous one.
func (g *Gateway) ShowPairing(ctx context.Context, p wallet.Pairing) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return errScreenClosed
	}
	g.deletePairingLocked(ctx)

	caption := "Scan with your wallet or open the link in it:\n" + format.Code(p.URI)
	var what interface{} = caption
	if len(p.QR) > 0 {
		what = &tele.Photo{File: tele.FromReader(bytes.NewReader(p.QR)), Caption: caption}
	}
	msg, err := g.api.Send(g.chat, what, &tele.SendOptions{ParseMode: tele.ModeMarkdown})
	if err != nil {
		return fmt.Errorf("miniapp: post pairing: %w", err)
	}
	g.pairing = msg
	return nil
}

// HidePairing removes the pairing QR code once it is no longer needed.
func (g *Gateway) HidePairing(ctx context.Context) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.deletePairingLocked(ctx)
}

func (g *Gateway) deletePairingLocked(ctx context.Context) {
	if g.pairing == nil {
		return
	}
	if err := g.api.Delete(g.pairing); err != nil {
		logger.Debug(ctx, component, "pairing.delete",
			slog.String("status", "fail"),
			slog.String("err", err.Error()),
		)
	}
	g.pairing = nil
}

// SendData posts the payload to the chat and hands it to the sink.
func (g *Gateway) SendData(ctx context.Context, data string) error {
	g.mu.Lock()
	closed := g.closed
	g.mu.Unlock()
	if closed {
		return errScreenClosed
	}

	text := "*Wallet linked*\n```\n" + data + "\n```"
	post := func() error {
		_, err := g.api.Send(g.chat, text, &tele.SendOptions{ParseMode: tele.ModeMarkdown})
		return err
	}
	if err := sender.Deliver(ctx, g.opts.Outbox, "send.payload", "sendMessage", post); err != nil {
		return fmt.Errorf("miniapp: post payload: %w", err)
	}
	if g.opts.Sink != nil {
		if err := g.opts.Sink(ctx, data); err != nil {
			return fmt.Errorf("miniapp: sink: %w", err)
		}
	}
	return nil
}

// Close deletes the screen and notifies the owner.
func (g *Gateway) Close(ctx context.Context) error {
	if !g.discard(ctx) {
		return nil
	}
	if g.opts.OnClose != nil {
		g.opts.OnClose(ctx)
	}
	return nil
}

// discard deletes the screen messages once and reports whether it did.
func (g *Gateway) discard(ctx context.Context) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return false
	}
	g.closed = true
	g.deletePairingLocked(ctx)
	if g.msg != nil {
		if err := g.api.Delete(g.msg); err != nil {
			logger.Warn(ctx, component, "screen.delete",
				slog.String("status", "fail"),
				slog.String("err", err.Error()),
			)
		}
		g.msg = nil
	}
	return true
}

// MainButton implements bridge.Gateway. The chat always offers one.
func (g *Gateway) MainButton() (bridge.MainButton, bool) {
	return g.button, true
}

// Click runs the bound main button handler. It reports false when the
// button is hidden, disabled or unbound.
func (g *Gateway) Click(ctx context.Context) bool {
	return g.button.click(ctx)
}

// mainButton is the inline row standing in for the host main button.
type mainButton struct {
	mu      sync.Mutex
	text    string
	visible bool
	enabled bool
	gen     uint64
	handler func(context.Context)
}

func (b *mainButton) SetText(text string) {
	b.mu.Lock()
	b.text = text
	b.mu.Unlock()
}

func (b *mainButton) Show() {
	b.mu.Lock()
	b.visible = true
	b.mu.Unlock()
}

func (b *mainButton) Hide() {
	b.mu.Lock()
	b.visible = false
	b.mu.Unlock()
}

func (b *mainButton) Enable() {
	b.mu.Lock()
	b.enabled = true
	b.mu.Unlock()
}

func (b *mainButton) Disable() {
	b.mu.Lock()
	b.enabled = false
	b.mu.Unlock()
}

// OnClick binds fn as the only handler. The returned disposer only clears
// its own binding.
func (b *mainButton) OnClick(fn func(ctx context.Context)) bridge.Disposer {
	b.mu.Lock()
	b.gen++
	gen := b.gen
	b.handler = fn
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			if b.gen == gen {
				b.handler = nil
			}
			b.mu.Unlock()
		})
	}
}

func (b *mainButton) click(ctx context.Context) bool {
	b.mu.Lock()
	fn := b.handler
	ok := b.visible && b.enabled && fn != nil
	b.mu.Unlock()
	if !ok {
		return false
	}
	fn(ctx)
	return true
}

func (b *mainButton) row() []keyboard.InlineBtn {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.visible {
		return nil
	}
	if !b.enabled {
		return []keyboard.InlineBtn{{Text: "⏳ " + b.text, Unique: KeyMain, Data: "busy"}}
	}
	return []keyboard.InlineBtn{{Text: "✅ " + b.text, Unique: KeyMain}}
}
