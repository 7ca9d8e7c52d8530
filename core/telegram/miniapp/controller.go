package miniapp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/m3rciful/walletlink/core/bridge"
	"github.com/m3rciful/walletlink/core/chain"
	"github.com/m3rciful/walletlink/core/linkstore"
	"github.com/m3rciful/walletlink/core/logger"
	"github.com/m3rciful/walletlink/core/wallet"
	"github.com/m3rciful/walletlink/core/wallet/session"

	tele "gopkg.in/telebot.v4"
)

// ErrNoScreen is returned for actions on a chat without a mounted screen.
var ErrNoScreen = errors.New("miniapp: no screen in this chat")

// Metrics receives screen lifecycle events on top of the flow outcomes.
type Metrics interface {
	session.Metrics
	ScreenMounted()
	ScreenReleased()
}

type nopMetrics struct{}

func (nopMetrics) ObserveConnection(string)  {}
func (nopMetrics) ObserveSign(string)        {}
func (nopMetrics) ObservePayload(string)     {}
func (nopMetrics) ObserveBridgeClose(string) {}
func (nopMetrics) ScreenMounted()            {}
func (nopMetrics) ScreenReleased()           {}

// Options configures a Controller.
type Options struct {
	Session     session.Options
	Networks    []chain.Network
	NewProvider func() wallet.Provider
	Store       linkstore.Store
	Metrics     Metrics
	Outbox      Outbox
	// MiniAppURL, when set, is offered as a reply keyboard web app button.
	MiniAppURL string
}

// Controller mounts one wallet screen per chat and routes button presses to it.
type Controller struct {
	opts    Options
	screens *Screens
}

// NewController validates opts and builds a controller.
func NewController(opts Options) (*Controller, error) {
	if opts.NewProvider == nil {
		return nil, errors.New("miniapp: provider factory is required")
	}
	if opts.Store == nil {
		return nil, errors.New("miniapp: link store is required")
	}
	if opts.Metrics == nil {
		opts.Metrics = nopMetrics{}
	}
	if opts.Session.Metrics == nil {
		opts.Session.Metrics = opts.Metrics
	}
	return &Controller{opts: opts, screens: NewScreens()}, nil
}

// page is the part of the screen currently shown.
type page int

const (
	pagePanel page = iota
	pageAccount
	pageNetworks
)

// Screen is the wallet screen mounted in one chat.
type Screen struct {
	ChatID int64
	UserID int64

	ctx         context.Context
	gw          *Gateway
	holder      *session.Holder
	provider    wallet.Provider
	unsubscribe func()
	kick        chan struct{}
	done        chan struct{}
	released    sync.Once

	renderMu sync.Mutex
	clickMu  sync.Mutex
	mu       sync.Mutex
	page     page
	notice   string
	clickErr error
}

// Mount opens a fresh screen in chat, replacing the previous one.
func (c *Controller) Mount(ctx context.Context, api Messenger, chat *tele.Chat, userID int64) (*Screen, error) {
	if chat == nil {
		return nil, errors.New("miniapp: chat is required")
	}
	base := context.WithoutCancel(ctx)
	sc := &Screen{
		ChatID:   chat.ID,
		UserID:   userID,
		ctx:      base,
		provider: c.opts.NewProvider(),
		kick:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	sc.gw = NewGateway(api, chat, GatewayOptions{
		Outbox: c.opts.Outbox,
		Sink:   c.sink(chat.ID, userID),
		OnClose: func(ctx context.Context) {
			c.release(ctx, sc, "sent")
		},
	})

	sopts := c.opts.Session
	sopts.OnChange = func(wallet.Session, wallet.Flags) {
		c.render(sc)
	}
	sopts.OnActionError = func(_ context.Context, err error) {
		sc.mu.Lock()
		sc.clickErr = err
		sc.mu.Unlock()
	}
	sc.holder = session.New(sc.provider, bridge.Some(sc.gw), sopts)

	if prev := c.screens.Put(chat.ID, sc); prev != nil {
		c.release(ctx, prev, "replaced")
	}

	sc.unsubscribe = sc.provider.Subscribe(func(wallet.AccountState) {
		select {
		case sc.kick <- struct{}{}:
		default:
		}
	})
	go c.follow(sc)

	c.opts.Metrics.ScreenMounted()
	if err := sc.holder.Mount(ctx); err != nil {
		c.release(ctx, sc, "mount_failed")
		return nil, fmt.Errorf("miniapp: mount: %w", err)
	}
	logger.Info(ctx, component, "screen.mount",
		slog.String("status", "ok"),
		slog.Int64("chat_id", chat.ID),
		slog.Int64("user_id", userID),
	)
	return sc, nil
}

// follow applies provider connection changes in arrival order.
func (c *Controller) follow(sc *Screen) {
	for {
		select {
		case <-sc.done:
			return
		case <-sc.kick:
		}
		st := sc.provider.Account()
		if st.Connected {
			sc.gw.HidePairing(sc.ctx)
		}
		sc.holder.OnConnectionChanged(sc.ctx, st)
	}
}

// Act runs the screen action behind a button key.
func (c *Controller) Act(ctx context.Context, chatID int64, key, payload string) error {
	sc, ok := c.screens.Get(chatID)
	if !ok {
		return ErrNoScreen
	}
	acct := sc.provider.Account()
	ctx = logger.WithWallet(ctx, wallet.Truncate(acct.Address), acct.Network)
	start := time.Now()
	err := c.dispatch(ctx, sc, key, payload)
	sc.mu.Lock()
	sc.notice = noticeFor(err)
	sc.mu.Unlock()
	c.render(sc)

	level := slog.LevelDebug
	if err != nil {
		level = slog.LevelWarn
	}
	attrs := []slog.Attr{
		slog.String("status", actionStatus(err)),
		slog.String("cb_key", key),
		slog.Duration("duration", logger.Took(start)),
	}
	if err != nil {
		attrs = append(attrs, slog.String("err", err.Error()))
	}
	logger.Event(ctx, component, level, "screen.action", attrs...)
	return err
}

// click presses the main button and returns what its handler failed with.
func (sc *Screen) click(ctx context.Context) error {
	sc.clickMu.Lock()
	defer sc.clickMu.Unlock()
	sc.mu.Lock()
	sc.clickErr = nil
	sc.mu.Unlock()
	if !sc.gw.Click(ctx) {
		return nil
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()
	err := sc.clickErr
	sc.clickErr = nil
	return err
}

func (c *Controller) dispatch(ctx context.Context, sc *Screen, key, payload string) error {
	switch key {
	case KeyConnect:
		p, err := sc.provider.Connect(ctx, wallet.ViewConnect)
		if err != nil {
			return err
		}
		if p.URI == "" {
			return nil
		}
		return sc.gw.ShowPairing(ctx, p)
	case KeyOpen:
		sc.setPage(pageAccount)
	case KeyNetworks:
		sc.setPage(pageNetworks)
	case KeyBack:
		sc.setPage(pagePanel)
	case KeyNetwork:
		if err := sc.provider.SwitchNetwork(ctx, payload); err != nil {
			return err
		}
		sc.setPage(pagePanel)
		if sc.holder.Snapshot().Connected {
			if err := sc.holder.RefreshBalance(ctx); err != nil && !errors.Is(err, session.ErrNotConnected) {
				return err
			}
		}
	case KeySign:
		return sc.holder.Sign(ctx)
	case KeyConfirm:
		return sc.holder.Confirm(ctx)
	case KeyMain:
		return sc.click(ctx)
	case KeyRefresh:
		if err := sc.holder.RefreshBalance(ctx); err != nil && !errors.Is(err, session.ErrNotConnected) {
			return err
		}
	case KeyDisconnect:
		sc.gw.HidePairing(ctx)
		return sc.holder.Disconnect(ctx)
	default:
		return fmt.Errorf("miniapp: unknown action %q", key)
	}
	return nil
}

func (sc *Screen) setPage(p page) {
	sc.mu.Lock()
	sc.page = p
	sc.mu.Unlock()
}

func (c *Controller) render(sc *Screen) {
	sc.renderMu.Lock()
	defer sc.renderMu.Unlock()
	sc.mu.Lock()
	pg, notice := sc.page, sc.notice
	sc.mu.Unlock()

	v := buildView(pg, sc.holder.Panel(), sc.provider.Account().Network, notice, c.opts.Networks)
	_ = sc.gw.Render(sc.ctx, v)
}

// Screen returns the live screen of a chat.
func (c *Controller) Screen(chatID int64) (*Screen, bool) {
	return c.screens.Get(chatID)
}

// Close tears down the screen of a chat, if any.
func (c *Controller) Close(ctx context.Context, chatID int64) bool {
	sc, ok := c.screens.Get(chatID)
	if !ok {
		return false
	}
	c.release(ctx, sc, "closed")
	return true
}

// Shutdown releases every mounted screen.
func (c *Controller) Shutdown(ctx context.Context) {
	screens := c.screens.Drain()
	for _, sc := range screens {
		c.release(ctx, sc, "shutdown")
	}
	logger.Info(ctx, component, "shutdown",
		slog.String("status", "ok"),
		slog.Int("screens", len(screens)),
	)
}

func (c *Controller) release(ctx context.Context, sc *Screen, reason string) {
	sc.released.Do(func() {
		c.screens.Remove(sc.ChatID, sc)
		close(sc.done)
		if sc.unsubscribe != nil {
			sc.unsubscribe()
		}
		sc.holder.Teardown(ctx)
		if err := sc.provider.Disconnect(ctx); err != nil {
			logger.Warn(ctx, component, "provider.disconnect",
				slog.String("status", "fail"),
				slog.String("err", err.Error()),
			)
		}
		sc.gw.discard(ctx)
		c.opts.Metrics.ScreenReleased()
		logger.Info(ctx, component, "screen.release",
			slog.String("status", "ok"),
			slog.String("reason", reason),
			slog.Int64("chat_id", sc.ChatID),
		)
	})
}

// sink stores payloads relayed by a chat screen.
func (c *Controller) sink(chatID, userID int64) Sink {
	return func(ctx context.Context, payload string) error {
		_, err := c.saveLink(ctx, chatID, userID, linkstore.SourceBot, payload)
		return err
	}
}

// AcceptWebAppData stores a payload sent by the hosted mini app.
func (c *Controller) AcceptWebAppData(ctx context.Context, chatID, userID int64, raw string) (linkstore.Link, error) {
	l, err := c.saveLink(ctx, chatID, userID, linkstore.SourceWebApp, raw)
	if err != nil {
		return linkstore.Link{}, err
	}
	c.opts.Metrics.ObservePayload(string(linkstore.SourceWebApp))
	return l, nil
}

func (c *Controller) saveLink(ctx context.Context, chatID, userID int64, src linkstore.Source, raw string) (linkstore.Link, error) {
	l, err := linkstore.ParsePayload(raw)
	if err != nil {
		logger.Warn(ctx, component, "link.parse",
			slog.String("status", "rejected"),
			slog.String("source", string(src)),
			slog.Int("payload_bytes", len(raw)),
			slog.String("err", err.Error()),
		)
		return linkstore.Link{}, err
	}
	l.ChatID, l.UserID, l.Source = chatID, userID, src
	saved, err := c.opts.Store.Save(ctx, l)
	if err != nil {
		logger.Error(ctx, component, "link.save",
			slog.String("status", "fail"),
			slog.String("source", string(src)),
			slog.String("err", err.Error()),
		)
		return linkstore.Link{}, fmt.Errorf("miniapp: save link: %w", err)
	}
	logger.Info(ctx, component, "link.save",
		slog.String("status", "ok"),
		slog.String("source", string(src)),
		slog.String("address", wallet.Truncate(saved.Address)),
		slog.String("caip_address", saved.CAIPAddress),
		slog.Bool("verified", saved.Verified()),
	)
	return saved, nil
}

// LinksReport renders the latest links, of one user when userID is set.
func (c *Controller) LinksReport(ctx context.Context, userID int64, limit int) (string, error) {
	var (
		links []linkstore.Link
		err   error
	)
	if userID != 0 {
		links, err = c.opts.Store.ForUser(ctx, userID, limit)
	} else {
		links, err = c.opts.Store.Recent(ctx, limit)
	}
	if err != nil {
		return "", fmt.Errorf("miniapp: list links: %w", err)
	}
	return formatLinks(links), nil
}

func noticeFor(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, wallet.ErrRejected):
		return "Request rejected in the wallet."
	case errors.Is(err, session.ErrNotConnected):
		return "Connect a wallet first."
	case errors.Is(err, session.ErrNotSigned):
		return "Sign the message first."
	case errors.Is(err, session.ErrSignPending):
		return "A signature request is already open in your wallet."
	case errors.Is(err, session.ErrAlreadySending):
		return "Already sent."
	case errors.Is(err, chain.ErrUnsupportedNetwork):
		return "That network is not available here."
	case errors.Is(err, context.DeadlineExceeded):
		return "The wallet did not answer in time."
	default:
		return "Something went wrong. Try again."
	}
}

func actionStatus(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, wallet.ErrRejected):
		return "rejected"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return "fail"
	}
}
