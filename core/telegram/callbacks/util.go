// Package callbacks decodes inline button callback data.
package callbacks

import (
	"strings"

	tele "gopkg.in/telebot.v4"
)

// Data encodes a key and optional payload the way telebot's Btn.Data does.
func Data(key, payload string) string {
	if payload == "" {
		return "\f" + key
	}
	return "\f" + key + "|" + payload
}

// ParseCallbackData splits callback data into its key and payload. When
// telebot already matched a unique handler, Unique holds the key and Data the payload.
func ParseCallbackData(cb *tele.Callback) (string, string) {
	if cb == nil {
		return "", ""
	}
	if cb.Unique != "" {
		return cb.Unique, cb.Data
	}
	raw := strings.TrimPrefix(cb.Data, "\f")
	key, payload, _ := strings.Cut(raw, "|")
	return strings.TrimSpace(key), payload
}

// CallbackKey returns the key of the current callback.
func CallbackKey(c tele.Context) string {
	k, _ := ParseCallbackData(c.Callback())
	return k
}

// CallbackPayload returns the payload of the current callback.
func CallbackPayload(c tele.Context) string {
	_, p := ParseCallbackData(c.Callback())
	return p
}
