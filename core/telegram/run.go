package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	coreconfig "github.com/m3rciful/walletlink/core/config"
	"github.com/m3rciful/walletlink/core/logger"
	tghelpers "github.com/m3rciful/walletlink/core/telegram/helpers"
	tgsender "github.com/m3rciful/walletlink/core/telegram/sender"

	tele "gopkg.in/telebot.v4"
)

// allowedUpdates are the update types the wallet screen consumes.
var allowedUpdates = []string{"message", "callback_query"}

// Middleware describes a global bot middleware registered via bot.Use.
type Middleware struct {
	Name string
	Use  func(next tele.HandlerFunc) tele.HandlerFunc
}

// Route binds a handler to an endpoint accepted by tele.Bot.Handle.
type Route struct {
	Endpoint any
	Handler  tele.HandlerFunc
}

// RunOptions controls RunTelegram.
type RunOptions struct {
	Config   *coreconfig.Config
	Registry *Registry
	// Dispatcher carries outbound sends. A default one is created when nil;
	// RunTelegram closes it either way.
	Dispatcher *tgsender.Dispatcher

	Middlewares []Middleware
	Routes      []Route

	OnStart func(ctx context.Context, rt Runtime) error
	OnStop  func(ctx context.Context, rt Runtime) error
}

// Runtime is handed to the lifecycle hooks.
type Runtime struct {
	Bot        *tele.Bot
	Dispatcher *tgsender.Dispatcher
	Registry   *Registry
}

// RunTelegram runs the bot until ctx is done or the poller stops.
func RunTelegram(ctx context.Context, opts RunOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := opts.Config
	if cfg == nil {
		return errors.New("telegram: nil config provided")
	}
	reg := opts.Registry
	if reg == nil {
		reg = NewRegistry()
	}

	poller := BuildPoller(PollerOptions{
		RunMode:                cfg.Telegram.RunMode,
		LongPollTimeoutSeconds: cfg.Telegram.LongPollTimeoutSeconds,
		Webhook: WebhookOptions{
			Listen: cfg.Webhook.Listen,
			Port:   cfg.Webhook.Port,
			URL:    cfg.Webhook.URL,
		},
		AllowedUpdates: allowedUpdates,
	})

	start := time.Now()
	bot, err := tele.NewBot(tele.Settings{
		Token:  cfg.Telegram.Token,
		Poller: poller,
		Client: BuildHTTPClient(),
	})
	if err != nil {
		return fmt.Errorf("telegram: bot initialization failed: %w", err)
	}
	logMode(ctx, poller, logger.Took(start))

	if _, polling := poller.(*tele.LongPoller); polling && strings.EqualFold(cfg.Telegram.RunMode, coreconfig.RunModeLongpoll) {
		removeWebhook(ctx, bot)
	}

	dispatcher := opts.Dispatcher
	if dispatcher == nil {
		dispatcher = tgsender.NewDispatcher(tgsender.Options{})
	}
	tghelpers.SetDispatcher(dispatcher)
	tghelpers.SetBaseContext(ctx)
	defer func() {
		dispatcher.Close()
		tghelpers.SetDispatcher(nil)
		tghelpers.SetBaseContext(nil)
	}()

	for _, mw := range opts.Middlewares {
		if mw.Use != nil {
			bot.Use(mw.Use)
		}
	}
	for _, route := range opts.Routes {
		if route.Endpoint != nil && route.Handler != nil {
			bot.Handle(route.Endpoint, route.Handler)
		}
	}
	InitBotCommands(bot, reg)

	rt := Runtime{Bot: bot, Dispatcher: dispatcher, Registry: reg}
	if opts.OnStart != nil {
		if err := opts.OnStart(ctx, rt); err != nil {
			return err
		}
	}

	runErr := serve(ctx, bot)

	if opts.OnStop != nil {
		if err := opts.OnStop(ctx, rt); err != nil {
			return err
		}
	}
	if errors.Is(runErr, context.Canceled) {
		return nil
	}
	return runErr
}

// serve blocks until the poller stops on its own or ctx is done.
func serve(ctx context.Context, bot *tele.Bot) error {
	done := make(chan struct{})
	go func() {
		bot.Start()
		close(done)
	}()
	select {
	case <-ctx.Done():
		bot.Stop()
		<-done
		return ctx.Err()
	case <-done:
		return nil
	}
}

func logMode(ctx context.Context, poller tele.Poller, took time.Duration) {
	switch p := poller.(type) {
	case *tele.Webhook:
		logger.Info(ctx, "tg", "mode",
			slog.String("status", "ok"),
			slog.String("mode", "webhook"),
			slog.String("listen", p.Listen),
			slog.String("public_url", p.Endpoint.PublicURL),
			slog.Duration("duration", took),
		)
	case *tele.LongPoller:
		logger.Info(ctx, "tg", "mode",
			slog.String("status", "ok"),
			slog.String("mode", "polling"),
			slog.Int("timeout_seconds", int(p.Timeout/time.Second)),
			slog.Duration("duration", took),
		)
	}
}

// removeWebhook clears a webhook left by an earlier deployment; Telegram
// refuses getUpdates while one is set.
func removeWebhook(ctx context.Context, bot *tele.Bot) {
	if err := bot.RemoveWebhook(false); err != nil {
		logger.Warn(ctx, "tg", "delete_webhook",
			slog.String("status", "fail"),
			slog.String("mode", "polling"),
			slog.String("err", err.Error()),
		)
		return
	}
	logger.Info(ctx, "tg", "delete_webhook",
		slog.String("status", "ok"),
		slog.String("mode", "polling"),
	)
}
