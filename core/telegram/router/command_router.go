package router

import (
	"context"
	"log/slog"
	"time"

	"github.com/m3rciful/walletlink/core/logger"
	tg "github.com/m3rciful/walletlink/core/telegram"
	"github.com/m3rciful/walletlink/core/telegram/middleware"

	tele "gopkg.in/telebot.v4"
)

// CommandRouteOptions configures how commands are wrapped and exposed.
type CommandRouteOptions struct {
	AdminID       int64
	OnAdminReject tele.HandlerFunc
}

// CommandRoutes prepares command handlers wrapped with shared middleware.
func CommandRoutes(reg *tg.Registry, opts CommandRouteOptions) []tg.Route {
	if reg == nil {
		return nil
	}

	adminOpts := middleware.AdminOptions{
		AdminID:  opts.AdminID,
		OnReject: opts.OnAdminReject,
	}

	routes := make([]tg.Route, 0, len(reg.Commands()))
	for cmd, def := range reg.Commands() {
		name, run := normalizeHandlerName(cmd), def.Handler
		h := func(c tele.Context) error {
			return handleWithSummary(c, name, time.Now(), "", "", func() error {
				return run(c)
			})
		}
		if def.AdminOnly {
			h = middleware.AdminOnlyMiddleware(adminOpts)(h)
		}
		h = middleware.RecoverMiddleware(h)
		h = middleware.LoggerMiddleware(h)
		for _, ep := range def.Endpoints(cmd) {
			routes = append(routes, tg.Route{Endpoint: ep, Handler: h})
		}
	}

	logger.Info(context.Background(), "tg.wire", "complete",
		slog.String("status", "ok"),
		slog.Int("commands", len(reg.Commands())),
		slog.Int("endpoints", len(routes)),
		slog.Int("callbacks", len(reg.ListCallbacks())),
	)

	return routes
}
