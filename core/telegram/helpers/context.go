package helpers

import (
	"context"
	"sync/atomic"

	"github.com/m3rciful/walletlink/core/logger"

	tele "gopkg.in/telebot.v4"
)

const contextKey = "request_ctx"

var baseContext atomic.Pointer[context.Context]

// SetBaseContext sets the parent of every request context. Cancelling it
// aborts handlers still waiting on a wallet. A nil ctx restores Background.
func SetBaseContext(ctx context.Context) {
	if ctx == nil {
		baseContext.Store(nil)
		return
	}
	baseContext.Store(&ctx)
}

func base() context.Context {
	if p := baseContext.Load(); p != nil {
		return *p
	}
	return context.Background()
}

// StoreContext attaches reusable context to tele.Context for downstream helpers.
func StoreContext(c tele.Context, ctx context.Context) {
	if c == nil || ctx == nil {
		return
	}
	c.Set(contextKey, ctx)
}

// ContextFrom telegram context if previously stored by middleware.
func ContextFrom(c tele.Context) (context.Context, bool) {
	if c == nil {
		return nil, false
	}
	if v := c.Get(contextKey); v != nil {
		if ctx, ok := v.(context.Context); ok {
			return ctx, true
		}
	}
	return nil, false
}

// BuildContext returns the request context of c, creating it on first use
// with the RID and update, user and chat ids.
func BuildContext(c tele.Context) context.Context {
	if cached, ok := ContextFrom(c); ok {
		return cached
	}

	upd := c.Update()
	user := c.Sender()
	chat := c.Chat()

	var (
		chatID int64
		userID int64
	)
	if chat != nil {
		chatID = chat.ID
	}
	if user != nil {
		userID = user.ID
	}

	rid, _ := c.Get("rid").(string)
	if rid == "" {
		rid = logger.BuildRID(upd.ID, chatID, userID)
	}

	ctx := logger.WithRID(base(), rid)
	ctx = logger.WithUpdateMeta(ctx, upd.ID, userID, chatID)
	ctx = logger.WithLogger(ctx, logger.Component("tg"))
	StoreContext(c, ctx)
	return ctx
}

// WithHandler enriches stored context with handler metadata for downstream logs.
func WithHandler(c tele.Context, handler string) context.Context {
	ctx := BuildContext(c)
	if handler == "" {
		return ctx
	}
	ctx = logger.WithHandler(ctx, handler)
	StoreContext(c, ctx)
	return ctx
}
