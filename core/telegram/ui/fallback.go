// Package ui holds the handlers shown when an update matches nothing.
package ui

import tele "gopkg.in/telebot.v4"

// FallbackProvider exposes handlers used when incoming updates
// cannot be mapped to commands or callbacks, or are rate limited.
type FallbackProvider interface {
	UnknownText() tele.HandlerFunc
	UnknownCallback() tele.HandlerFunc
	RateLimited() tele.HandlerFunc
}
