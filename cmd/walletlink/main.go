package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/m3rciful/walletlink/core/bootstrap"
	"github.com/m3rciful/walletlink/core/chain"
	corecmd "github.com/m3rciful/walletlink/core/cmd"
	coreconfig "github.com/m3rciful/walletlink/core/config"
	"github.com/m3rciful/walletlink/core/logger"
	"github.com/m3rciful/walletlink/core/metrics"
	tg "github.com/m3rciful/walletlink/core/telegram"
	"github.com/m3rciful/walletlink/core/telegram/miniapp"
	"github.com/m3rciful/walletlink/core/telegram/router"
	tgsender "github.com/m3rciful/walletlink/core/telegram/sender"
	"github.com/m3rciful/walletlink/core/wallet"
	"github.com/m3rciful/walletlink/core/wallet/session"
	"github.com/m3rciful/walletlink/core/walletconnect"
)

type app struct {
	cfg        *coreconfig.Config
	infra      *bootstrap.Result
	balances   *chain.EthBalances
	controller *miniapp.Controller
	dispatcher *tgsender.Dispatcher
	stopHTTP   context.CancelFunc
	httpDone   chan error
}

func main() {
	err := corecmd.Run(corecmd.Options{
		DefaultConfigPath: "config.yaml",
		Bootstrap:         build,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func build(ctx context.Context, cfg *coreconfig.Config) (corecmd.App, error) {
	infra, err := bootstrap.Run(ctx, bootstrap.Options{Config: cfg})
	if err != nil {
		return nil, err
	}

	wc, err := walletconnect.AppConfigFrom(cfg.WalletConnect)
	if err != nil {
		_ = infra.Close()
		return nil, err
	}
	balances := chain.NewEthBalances(cfg.Chain.RPC)
	dispatcher := tgsender.NewDispatcher(tgsender.Options{
		MaxRetries: 2,
		OnResult:   infra.Metrics.ObserveSend,
	})

	mode := session.ModeConfirm
	if cfg.Flow.Mode == coreconfig.FlowModeAuto {
		mode = session.ModeAutoSend
	}
	controller, err := miniapp.NewController(miniapp.Options{
		Session: session.Options{
			Mode:        mode,
			SignMethod:  wallet.SignMethod(cfg.Flow.SignMethod),
			CloseDelay:  time.Duration(cfg.Flow.CloseDelayMS) * time.Millisecond,
			SignTimeout: time.Duration(cfg.Flow.SignTimeoutSeconds) * time.Second,
			ButtonText:  cfg.Flow.ButtonText,
		},
		Networks: wc.Networks,
		NewProvider: func() wallet.Provider {
			return walletconnect.New(wc, balances)
		},
		Store:      infra.Links,
		Metrics:    infra.Metrics,
		Outbox:     dispatcher,
		MiniAppURL: cfg.Flow.MiniAppURL,
	})
	if err != nil {
		dispatcher.Close()
		_ = infra.Close()
		return nil, err
	}

	return &app{
		cfg:        cfg,
		infra:      infra,
		balances:   balances,
		controller: controller,
		dispatcher: dispatcher,
	}, nil
}

func (a *app) TelegramRunOptions() (tg.RunOptions, error) {
	reg := tg.NewRegistry()
	if err := bootstrap.RegisterModules(reg, a.controller); err != nil {
		return tg.RunOptions{}, err
	}

	fallbacks := miniapp.Fallbacks{}
	reg.SetCallbackNotFound(fallbacks.UnknownCallback())

	routes := router.CommandRoutes(reg, router.CommandRouteOptions{AdminID: a.cfg.Telegram.AdminID})
	routes = append(routes, router.CallbackRoute(reg, router.CallbackOptions{NotFound: fallbacks.UnknownCallback()}))
	routes = append(routes, router.TextRoutes(reg, router.TextOptions{
		UnknownText: fallbacks.UnknownText(),
		WebAppData:  a.controller.HandleWebAppData,
	})...)

	return tg.RunOptions{
		Config:      a.cfg,
		Registry:    reg,
		Dispatcher:  a.dispatcher,
		Middlewares: tg.DefaultMiddlewares(a.cfg, fallbacks.RateLimited(), a.infra.Metrics),
		Routes:      routes,
		OnStart:     a.start,
		OnStop:      a.stop,
	}, nil
}

func (a *app) start(ctx context.Context, _ tg.Runtime) error {
	if a.cfg.HTTP.Listen == "" {
		return nil
	}
	httpCtx, cancel := context.WithCancel(ctx)
	a.stopHTTP = cancel
	a.httpDone = make(chan error, 1)
	srv := metrics.NewServer(a.cfg.HTTP.Listen, a.infra.Metrics)
	go func() {
		a.httpDone <- srv.Run(httpCtx)
	}()
	return nil
}

func (a *app) stop(ctx context.Context, _ tg.Runtime) error {
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	a.controller.Shutdown(stopCtx)

	if a.stopHTTP == nil {
		return nil
	}
	a.stopHTTP()
	if err := <-a.httpDone; err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn(stopCtx, "app", "http.stop",
			slog.String("status", "fail"),
			slog.String("err", err.Error()),
		)
	}
	return nil
}

func (a *app) Close() error {
	a.balances.Close()
	return a.infra.Close()
}
