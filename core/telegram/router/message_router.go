package router

import (
	"time"

	tg "github.com/m3rciful/walletlink/core/telegram"
	"github.com/m3rciful/walletlink/core/telegram/middleware"

	tele "gopkg.in/telebot.v4"
)

// TextOptions controls fallback behaviour for text and Mini App updates.
type TextOptions struct {
	UnknownText tele.HandlerFunc
	// WebAppData handles payloads posted by a Mini App launched from a keyboard button.
	WebAppData tele.HandlerFunc
}

// TextRoutes builds handlers for plain text and web_app_data service messages.
// Text that names a command (with or without the slash) runs that command,
// except admin-only commands, which are reachable through their endpoint only.
func TextRoutes(reg *tg.Registry, opts TextOptions) []tg.Route {
	handler := func(c tele.Context) error {
		start := time.Now()
		text := c.Text()

		if reg != nil {
			if key, cmd, ok := reg.LookupCommand(text); ok && cmd.Handler != nil && !cmd.AdminOnly {
				name := normalizeHandlerName(key)
				return handleWithSummary(c, name, start, "", "", func() error {
					return cmd.Handler(c)
				})
			}
		}

		if opts.UnknownText != nil {
			return handleWithSummary(c, "unknown_text", start, "", "", func() error {
				return opts.UnknownText(c)
			})
		}

		logHandlerSummary(c, "unknown_text", start, "skip", "ok", nil)
		return nil
	}

	routes := []tg.Route{{
		Endpoint: tele.OnText,
		Handler:  middleware.RecoverMiddleware(middleware.LoggerMiddleware(handler)),
	}}

	if opts.WebAppData != nil {
		webApp := func(c tele.Context) error {
			return handleWithSummary(c, "web_app_data", time.Now(), "", "", func() error {
				return opts.WebAppData(c)
			})
		}
		routes = append(routes, tg.Route{
			Endpoint: tele.OnWebApp,
			Handler:  middleware.RecoverMiddleware(middleware.LoggerMiddleware(webApp)),
		})
	}
	return routes
}
