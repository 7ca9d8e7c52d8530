package commands

import (
	"strings"

	tele "gopkg.in/telebot.v4"
)

// Command is a bot command: its handler, menu description, and access flags.
type Command struct {
	Handler     tele.HandlerFunc
	Description string
	// AdminOnly commands run only for the configured admin.
	AdminOnly bool
	// Hidden commands are left out of the Telegram command menu.
	Hidden  bool
	Aliases []string
}

// Endpoints returns name followed by the slash-prefixed aliases, deduplicated.
func (c Command) Endpoints(name string) []string {
	out := []string{name}
	seen := map[string]bool{name: true}
	for _, a := range c.Aliases {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		ep := "/" + strings.TrimPrefix(a, "/")
		if seen[ep] {
			continue
		}
		seen[ep] = true
		out = append(out, ep)
	}
	return out
}
