package telegram

import (
	"strings"
	"time"

	coreconfig "github.com/m3rciful/walletlink/core/config"
	"github.com/m3rciful/walletlink/core/telegram/middleware"

	tele "gopkg.in/telebot.v4"
)

// DefaultMiddlewares builds the shared chain: recover, rate limit when
// configured, logging, then update metrics. obs may be nil.
func DefaultMiddlewares(cfg *coreconfig.Config, onLimited tele.HandlerFunc, obs middleware.UpdateObserver) []Middleware {
	mws := []Middleware{
		{Name: "recover", Use: middleware.RecoverMiddleware},
	}
	if opts, ok := rateLimitOptions(cfg, onLimited); ok {
		mws = append(mws, Middleware{Name: "rate_limit", Use: middleware.RateLimitMiddleware(opts)})
	}
	return append(mws,
		Middleware{Name: "logger", Use: middleware.LoggerMiddleware},
		Middleware{Name: "metrics", Use: middleware.MessageMetricsMiddleware(obs)},
	)
}

func rateLimitOptions(cfg *coreconfig.Config, onLimited tele.HandlerFunc) (middleware.RateLimitOptions, bool) {
	if cfg == nil || cfg.RateLimit.IntervalMS <= 0 {
		return middleware.RateLimitOptions{}, false
	}
	exclude := make(map[string]struct{}, len(cfg.RateLimit.ExcludeUpdates))
	for _, kind := range cfg.RateLimit.ExcludeUpdates {
		exclude[strings.ToLower(kind)] = struct{}{}
	}
	return middleware.RateLimitOptions{
		Interval:  time.Duration(cfg.RateLimit.IntervalMS) * time.Millisecond,
		Exclude:   exclude,
		OnLimited: onLimited,
	}, true
}
