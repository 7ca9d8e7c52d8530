package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/m3rciful/walletlink/core/logger"
	"github.com/m3rciful/walletlink/core/telegram/commands"

	tele "gopkg.in/telebot.v4"
)

const wireComponent = "tg.wire"

// ErrInvalidRegistration is returned for commands or callbacks missing a name or handler.
var ErrInvalidRegistration = errors.New("telegram: invalid registration")

// Registry holds bot commands and callbacks.
type Registry struct {
	mu               sync.RWMutex
	commands         map[string]commands.Command
	callbacks        map[string]tele.HandlerFunc
	callbackNotFound tele.HandlerFunc
}

// NewRegistry creates an empty Registry with default fallbacks.
func NewRegistry() *Registry {
	return &Registry{
		commands:  make(map[string]commands.Command),
		callbacks: make(map[string]tele.HandlerFunc),
		callbackNotFound: func(c tele.Context) error {
			_ = c.Respond(&tele.CallbackResponse{Text: "Unsupported action"})
			return nil
		},
	}
}

// RegisterCommand adds a command. Names must start with a slash.
func (r *Registry) RegisterCommand(name string, cmd commands.Command) error {
	ctx := context.Background()
	if r == nil || name == "" || cmd.Handler == nil || cmd.Description == "" {
		logger.Warn(ctx, wireComponent, "register.command",
			slog.String("status", "skip"),
			slog.String("handler", name),
			slog.String("cause", "invalid"),
		)
		return fmt.Errorf("%w: command %q", ErrInvalidRegistration, name)
	}
	if name[0] != '/' {
		logger.Warn(ctx, wireComponent, "register.command",
			slog.String("status", "skip"),
			slog.String("handler", name),
			slog.String("cause", "no_slash_prefix"),
		)
		return fmt.Errorf("%w: command %q has no slash prefix", ErrInvalidRegistration, name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.commands[name]; exists {
		return fmt.Errorf("command already registered: %s", name)
	}
	r.commands[name] = cmd
	return nil
}

// ListCommands returns the commands sorted by name. With visibleOnly, hidden
// and admin-only commands are left out.
func (r *Registry) ListCommands(visibleOnly bool) []tele.Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var list []tele.Command
	for cmd, meta := range r.commands {
		if visibleOnly && (meta.Hidden || meta.AdminOnly) {
			continue
		}
		list = append(list, tele.Command{Text: strings.TrimPrefix(cmd, "/"), Description: meta.Description})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Text < list[j].Text })
	return list
}

// LookupCommand resolves text such as "/wallet@bot arg" or "connect" to the
// canonical command key.
func (r *Registry) LookupCommand(text string) (string, commands.Command, bool) {
	name, _, _ := strings.Cut(strings.TrimSpace(text), " ")
	name, _, _ = strings.Cut(name, "@")
	if name == "" || name == "/" {
		return "", commands.Command{}, false
	}
	if !strings.HasPrefix(name, "/") {
		name = "/" + name
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if cmd, ok := r.commands[name]; ok {
		return name, cmd, true
	}
	for key, cmd := range r.commands {
		for _, alias := range cmd.Aliases {
			if "/"+strings.TrimPrefix(alias, "/") == name {
				return key, cmd, true
			}
		}
	}
	return "", commands.Command{}, false
}

// Commands returns a copy of the registered commands.
func (r *Registry) Commands() map[string]commands.Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]commands.Command, len(r.commands))
	for k, v := range r.commands {
		out[k] = v
	}
	return out
}

// RegisterCallback maps a callback key to its handler.
func (r *Registry) RegisterCallback(key string, handler tele.HandlerFunc) error {
	if r == nil || key == "" || handler == nil {
		logger.Warn(context.Background(), wireComponent, "register.callback",
			slog.String("status", "skip"),
			slog.String("cb_key", key),
			slog.Bool("handler_nil", handler == nil),
		)
		return fmt.Errorf("%w: callback %q", ErrInvalidRegistration, key)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.callbacks[key]; exists {
		return fmt.Errorf("callback already registered: %s", key)
	}
	r.callbacks[key] = handler
	return nil
}

// GetCallback returns the handler of a key.
func (r *Registry) GetCallback(key string) (tele.HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.callbacks[key]
	return h, ok
}

// ListCallbacks returns sorted keys (for diagnostics).
func (r *Registry) ListCallbacks() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.callbacks))
	for k := range r.callbacks {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// SetCallbackNotFound replaces the fallback handler for unknown callbacks.
func (r *Registry) SetCallbackNotFound(h tele.HandlerFunc) {
	if h == nil {
		return
	}
	r.mu.Lock()
	r.callbackNotFound = h
	r.mu.Unlock()
}

// CallbackNotFound returns the current fallback callback handler.
func (r *Registry) CallbackNotFound() tele.HandlerFunc {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.callbackNotFound
}

// InitBotCommands publishes the visible commands to the Telegram command menu.
func InitBotCommands(bot *tele.Bot, reg *Registry) {
	list := reg.ListCommands(true)
	if err := bot.SetCommands(list); err != nil {
		logger.Error(context.Background(), wireComponent, "register.commands",
			slog.String("status", "fail"),
			slog.String("err", err.Error()),
		)
	}
}
