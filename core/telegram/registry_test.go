package telegram

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/m3rciful/walletlink/core/telegram/commands"

	tele "gopkg.in/telebot.v4"
)

func noop(tele.Context) error { return nil }

func TestRegisterCommandValidation(t *testing.T) {
	reg := NewRegistry()

	require.ErrorIs(t, reg.RegisterCommand("wallet", commands.Command{Handler: noop, Description: "x"}), ErrInvalidRegistration)
	require.ErrorIs(t, reg.RegisterCommand("/wallet", commands.Command{Description: "x"}), ErrInvalidRegistration)
	require.ErrorIs(t, reg.RegisterCommand("/wallet", commands.Command{Handler: noop}), ErrInvalidRegistration)

	require.NoError(t, reg.RegisterCommand("/wallet", commands.Command{Handler: noop, Description: "Connect"}))
	err := reg.RegisterCommand("/wallet", commands.Command{Handler: noop, Description: "Again"})
	require.Error(t, err)
	require.False(t, errors.Is(err, ErrInvalidRegistration))
}

func TestLookupCommandResolvesAliasesAndMentions(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.RegisterCommand("/wallet", commands.Command{
		Handler:     noop,
		Description: "Connect",
		Aliases:     []string{"start", "/connect"},
	}))

	for _, text := range []string{"/wallet", "wallet", "/wallet@walletlink_bot", "/start now", "connect", "  /connect  "} {
		key, _, ok := reg.LookupCommand(text)
		require.True(t, ok, text)
		require.Equal(t, "/wallet", key, text)
	}
	for _, text := range []string{"", "/", "hello", "/links"} {
		_, _, ok := reg.LookupCommand(text)
		require.False(t, ok, text)
	}
}

func TestListCommandsVisibleOnly(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.RegisterCommand("/wallet", commands.Command{Handler: noop, Description: "Connect"}))
	require.NoError(t, reg.RegisterCommand("/close", commands.Command{Handler: noop, Description: "Close"}))
	require.NoError(t, reg.RegisterCommand("/links", commands.Command{Handler: noop, Description: "Links", AdminOnly: true, Hidden: true}))

	require.Equal(t, []tele.Command{
		{Text: "close", Description: "Close"},
		{Text: "wallet", Description: "Connect"},
	}, reg.ListCommands(true))
	require.Len(t, reg.ListCommands(false), 3)
}

func TestRegisterCallback(t *testing.T) {
	reg := NewRegistry()
	require.ErrorIs(t, reg.RegisterCallback("", noop), ErrInvalidRegistration)
	require.ErrorIs(t, reg.RegisterCallback("wl:main", nil), ErrInvalidRegistration)

	require.NoError(t, reg.RegisterCallback("wl:main", noop))
	require.NoError(t, reg.RegisterCallback("wl:back", noop))
	require.Error(t, reg.RegisterCallback("wl:main", noop))

	_, ok := reg.GetCallback("wl:main")
	require.True(t, ok)
	require.Equal(t, []string{"wl:back", "wl:main"}, reg.ListCallbacks())

	require.NotNil(t, reg.CallbackNotFound())
	reg.SetCallbackNotFound(nil)
	require.NotNil(t, reg.CallbackNotFound())
}
