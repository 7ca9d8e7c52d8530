package helpers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/m3rciful/walletlink/core/logger"

	tele "gopkg.in/telebot.v4"
)

func offlineContext(t *testing.T) tele.Context {
	t.Helper()
	bot, err := tele.NewBot(tele.Settings{Offline: true})
	require.NoError(t, err)
	return bot.NewContext(tele.Update{
		ID: 7,
		Message: &tele.Message{
			Chat:   &tele.Chat{ID: 42},
			Sender: &tele.User{ID: 9},
		},
	})
}

func TestBuildContextCachesMetadata(t *testing.T) {
	c := offlineContext(t)

	ctx := BuildContext(c)
	require.Equal(t, "7:42:9", logger.RIDFrom(ctx))
	require.Equal(t, int64(42), logger.ChatIDFrom(ctx))
	require.Equal(t, 7, logger.UpdateIDFrom(ctx))
	require.Equal(t, ctx, BuildContext(c))

	ctx = WithHandler(c, "wallet")
	require.Equal(t, "wallet", logger.HandlerFrom(ctx))
	require.Equal(t, ctx, BuildContext(c))
}

func TestBuildContextDerivesFromBase(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	SetBaseContext(parent)
	t.Cleanup(func() { SetBaseContext(nil) })

	ctx := BuildContext(offlineContext(t))
	require.NoError(t, ctx.Err())
	cancel()
	require.ErrorIs(t, ctx.Err(), context.Canceled)

	SetBaseContext(nil)
	require.NoError(t, BuildContext(offlineContext(t)).Err())
}
