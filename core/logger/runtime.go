package logger

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"unicode"
)

type ctxKey struct{ name string }

var (
	metaKey   = ctxKey{"meta"}
	loggerKey = ctxKey{"logger"}
)

// Meta is the correlation record carried through a request context.
// Zero fields are omitted from log lines.
type Meta struct {
	RID      string
	UpdateID int
	UserID   int64
	ChatID   int64
	Handler  string
	// Address is already truncated for display.
	Address string
	Network string
}

// attrs lists the set fields in the order log lines print them.
func (m Meta) attrs() []slog.Attr {
	out := make([]slog.Attr, 0, 7)
	if m.RID != "" {
		out = append(out, slog.String("rid", m.RID))
	}
	if m.UpdateID != 0 {
		out = append(out, slog.Int("update_id", m.UpdateID))
	}
	if m.UserID != 0 {
		out = append(out, slog.Int64("user_id", m.UserID))
	}
	if m.ChatID != 0 {
		out = append(out, slog.Int64("chat_id", m.ChatID))
	}
	if m.Handler != "" {
		out = append(out, slog.String("handler", m.Handler))
	}
	if m.Address != "" {
		out = append(out, slog.String("address", m.Address))
	}
	if m.Network != "" {
		out = append(out, slog.String("network", m.Network))
	}
	return out
}

// MetaFrom returns the correlation record stored in ctx.
func MetaFrom(ctx context.Context) Meta {
	if ctx == nil {
		return Meta{}
	}
	m, _ := ctx.Value(metaKey).(Meta)
	return m
}

func withMeta(ctx context.Context, edit func(*Meta)) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	m := MetaFrom(ctx)
	edit(&m)
	return context.WithValue(ctx, metaKey, m)
}

// WithLogger stores log in ctx so deeper layers reuse its attributes.
func WithLogger(ctx context.Context, log *slog.Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if log == nil {
		return ctx
	}
	return context.WithValue(ctx, loggerKey, log)
}

// FromContext returns the logger stored in ctx, or the base logger.
func FromContext(ctx context.Context) *slog.Logger {
	if ctx != nil {
		if l, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
			return l
		}
	}
	return L
}

// WithRID attaches the request correlation id.
func WithRID(ctx context.Context, rid string) context.Context {
	return withMeta(ctx, func(m *Meta) { m.RID = rid })
}

// WithUpdateMeta attaches the identifiers of the Telegram update being served.
func WithUpdateMeta(ctx context.Context, updateID int, userID, chatID int64) context.Context {
	return withMeta(ctx, func(m *Meta) {
		m.UpdateID, m.UserID, m.ChatID = updateID, userID, chatID
	})
}

// WithHandler names the handler serving the update.
func WithHandler(ctx context.Context, handler string) context.Context {
	if handler == "" {
		return ctx
	}
	return withMeta(ctx, func(m *Meta) { m.Handler = handler })
}

// WithWallet tags every following line with the linked wallet.
// address must already be truncated.
func WithWallet(ctx context.Context, address, network string) context.Context {
	if address == "" && network == "" {
		return ctx
	}
	return withMeta(ctx, func(m *Meta) {
		if address != "" {
			m.Address = address
		}
		if network != "" {
			m.Network = network
		}
	})
}

func RIDFrom(ctx context.Context) string     { return MetaFrom(ctx).RID }
func UpdateIDFrom(ctx context.Context) int   { return MetaFrom(ctx).UpdateID }
func UserIDFrom(ctx context.Context) int64   { return MetaFrom(ctx).UserID }
func ChatIDFrom(ctx context.Context) int64   { return MetaFrom(ctx).ChatID }
func HandlerFrom(ctx context.Context) string { return MetaFrom(ctx).Handler }

// Sanitize drops control and format runes other than tab and newline.
func Sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\n' || r == '\t':
			return r
		case unicode.IsControl(r), unicode.Is(unicode.Cf, r):
			return -1
		}
		return r
	}, s)
}

// SanitizeLimit sanitizes s and keeps at most max runes.
func SanitizeLimit(s string, max int) string {
	if max <= 0 {
		return ""
	}
	r := []rune(Sanitize(s))
	if len(r) > max {
		r = r[:max]
	}
	return string(r)
}

// BuildRID formats a correlation id as updateID:chatID:userID.
func BuildRID(updateID int, chatID, userID int64) string {
	return fmt.Sprintf("%d:%d:%d", updateID, chatID, userID)
}

// CompactRID rewrites a BuildRID value as dot-joined base36 segments.
// Anything else comes back trimmed but otherwise unchanged.
func CompactRID(rid string) string {
	rid = strings.TrimSpace(rid)
	parts := strings.Split(rid, ":")
	if len(parts) != 3 {
		return rid
	}
	for i, part := range parts {
		n, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			return rid
		}
		parts[i] = strconv.FormatInt(n, 36)
	}
	return strings.Join(parts, ".")
}
