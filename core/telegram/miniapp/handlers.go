package miniapp

import (
	"errors"
	"log/slog"
	"strconv"
	"strings"

	"github.com/m3rciful/walletlink/core/linkstore"
	"github.com/m3rciful/walletlink/core/logger"
	tg "github.com/m3rciful/walletlink/core/telegram"
	"github.com/m3rciful/walletlink/core/telegram/callbacks"
	"github.com/m3rciful/walletlink/core/telegram/commands"
	"github.com/m3rciful/walletlink/core/telegram/format"
	"github.com/m3rciful/walletlink/core/telegram/helpers"
	"github.com/m3rciful/walletlink/core/telegram/keyboard"
	"github.com/m3rciful/walletlink/core/telegram/ui"
	"github.com/m3rciful/walletlink/core/wallet"

	tele "gopkg.in/telebot.v4"
)

const linksLimit = 20

// Register adds the wallet commands and screen callbacks to reg.
func (c *Controller) Register(reg *tg.Registry) error {
	cmds := []struct {
		name string
		cmd  commands.Command
	}{
		{"/wallet", commands.Command{
			Handler:     c.handleWallet,
			Description: "Connect a wallet",
			Aliases:     []string{"start", "connect"},
		}},
		{"/close", commands.Command{
			Handler:     c.handleClose,
			Description: "Close the wallet screen",
		}},
		{"/links", commands.Command{
			Handler:     c.handleLinks,
			Description: "Show recent wallet links",
			AdminOnly:   true,
			Hidden:      true,
		}},
	}
	for _, e := range cmds {
		if err := reg.RegisterCommand(e.name, e.cmd); err != nil {
			return err
		}
	}
	for _, key := range Keys {
		if err := reg.RegisterCallback(key, c.handleAction); err != nil {
			return err
		}
	}
	return nil
}

func (c *Controller) handleWallet(ctx tele.Context) error {
	rctx := helpers.BuildContext(ctx)
	if _, err := c.Mount(rctx, ctx.Bot(), ctx.Chat(), senderID(ctx)); err != nil {
		return helpers.SendText(ctx, "Could not open the wallet screen. Try again.")
	}
	if c.opts.MiniAppURL != "" {
		return helpers.SendText(ctx, "Or use the web app:", &tele.SendOptions{
			ReplyMarkup: keyboard.WebAppKeyboard("Open wallet app", c.opts.MiniAppURL),
		})
	}
	return nil
}

func (c *Controller) handleClose(ctx tele.Context) error {
	if !c.Close(helpers.BuildContext(ctx), ctx.Chat().ID) {
		return helpers.SendText(ctx, "No wallet screen is open.")
	}
	return helpers.SendText(ctx, "Wallet screen closed.")
}

func (c *Controller) handleLinks(ctx tele.Context) error {
	var userID int64
	if args := ctx.Args(); len(args) > 0 {
		id, err := strconv.ParseInt(strings.TrimSpace(args[0]), 10, 64)
		if err != nil {
			return helpers.SendText(ctx, "Usage: /links [user_id]")
		}
		userID = id
	}
	report, err := c.LinksReport(helpers.BuildContext(ctx), userID, linksLimit)
	if err != nil {
		return err
	}
	return helpers.SendMD(ctx, report)
}

func (c *Controller) handleAction(ctx tele.Context) error {
	rctx := helpers.BuildContext(ctx)
	err := c.Act(rctx, ctx.Chat().ID, callbacks.CallbackKey(ctx), callbacks.CallbackPayload(ctx))
	if errors.Is(err, ErrNoScreen) {
		return helpers.SendText(ctx, "This wallet screen has expired. Send /wallet to open a new one.")
	}
	// Action failures are shown on the screen itself.
	return nil
}

// HandleWebAppData stores the payload posted by the hosted mini app.
func (c *Controller) HandleWebAppData(ctx tele.Context) error {
	msg := ctx.Message()
	if msg == nil || msg.WebAppData == nil {
		return nil
	}
	rctx := helpers.BuildContext(ctx)
	l, err := c.AcceptWebAppData(rctx, ctx.Chat().ID, senderID(ctx), msg.WebAppData.Data)
	if errors.Is(err, linkstore.ErrInvalidPayload) {
		return helpers.SendText(ctx, "The wallet app sent data I could not read.")
	}
	if err != nil {
		return err
	}
	text := "*Wallet linked* " + format.Code(wallet.Truncate(l.Address))
	if l.Verified() {
		text += "\nSignature verified ✓"
	}
	logger.Debug(rctx, component, "web_app_data",
		slog.String("status", "ok"),
		slog.Int64("link_id", l.ID),
	)
	return helpers.SendMD(ctx, text, keyboard.RemoveKeyboard())
}

func senderID(ctx tele.Context) int64 {
	if u := ctx.Sender(); u != nil {
		return u.ID
	}
	return 0
}

// Fallbacks are the replies for updates no route handles.
type Fallbacks struct{}

var _ ui.FallbackProvider = Fallbacks{}

func (Fallbacks) UnknownText() tele.HandlerFunc {
	return func(c tele.Context) error {
		return helpers.SendText(c, "Send /wallet to connect a wallet.")
	}
}

func (Fallbacks) UnknownCallback() tele.HandlerFunc {
	return func(c tele.Context) error {
		return helpers.SendText(c, "This button is no longer active. Send /wallet to start again.")
	}
}

func (Fallbacks) RateLimited() tele.HandlerFunc {
	return func(c tele.Context) error {
		if c.Callback() != nil {
			return c.Respond(&tele.CallbackResponse{Text: "Slow down a little."})
		}
		return nil
	}
}
