package logger

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"
)

type logFormat string

const (
	formatJSON logFormat = "json"
	formatKV   logFormat = "kv"

	timeFormatMillis = "2006-01-02T15:04:05.000Z07:00"
)

type handlerConfig struct {
	level    slog.Leveler
	writer   *asyncWriter
	format   logFormat
	keyOrder []string
}

// structuredHandler renders records as single lines with a stable key layout.
type structuredHandler struct {
	cfg    handlerConfig
	attrs  []slog.Attr
	groups []string
}

func newStructuredHandler(cfg handlerConfig) *structuredHandler {
	if cfg.level == nil {
		cfg.level = slog.LevelInfo
	}
	if cfg.keyOrder == nil {
		cfg.keyOrder = slices.Clone(defaultKeyOrder)
	}
	return &structuredHandler{cfg: cfg}
}

func (h *structuredHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.cfg.level.Level()
}

func (h *structuredHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.cfg.writer == nil {
		return errors.New("logger: writer not initialized")
	}
	asJSON := h.cfg.format == formatJSON

	rec := make(record, 16)
	ts := r.Time.UTC()
	rec["ts"] = ts.Truncate(time.Millisecond).Format(timeFormatMillis)
	rec["level"] = normalizeLevel(r.Level.String())
	if asJSON {
		rec["ts_unix_nano"] = ts.UnixNano()
	}

	prefix := strings.Join(h.groups, ".")
	for _, a := range h.attrs {
		rec.add(prefix, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		rec.add(prefix, a)
		return true
	})
	for _, a := range MetaFrom(ctx).attrs() {
		rec.fill(a.Key, a.Value.Any())
	}

	rec.compactRID(asJSON)
	rec.fill("event", cmp.Or(r.Message, "unknown"))
	rec.fill("component", "app")
	rec.normalize()

	keys := layout(rec, h.cfg.keyOrder)
	var line []byte
	if asJSON {
		var err error
		if line, err = encodeJSON(rec, keys); err != nil {
			return err
		}
	} else {
		line = encodeKV(rec, keys)
	}
	return h.cfg.writer.Write(append(line, '\n'))
}

func (h *structuredHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = append(slices.Clone(h.attrs), attrs...)
	return &clone
}

func (h *structuredHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.groups = append(slices.Clone(h.groups), name)
	return &clone
}

// record holds the flattened fields of one line.
type record map[string]any

// add flattens a into the record under prefix. Later values win.
func (rec record) add(prefix string, a slog.Attr) {
	key := a.Key
	switch {
	case key == "":
		key = prefix
	case prefix != "":
		key = prefix + "." + key
	}
	if a.Value.Kind() == slog.KindGroup {
		for _, child := range a.Value.Group() {
			rec.add(key, child)
		}
		return
	}
	if key == "" {
		return
	}
	if k, v, ok := plainValue(key, a.Value.Resolve()); ok {
		rec[k] = v
	}
}

// fill sets key only when the record has no usable value for it.
func (rec record) fill(key string, val any) {
	if v, ok := rec[key]; ok && !isBlank(v) {
		return
	}
	rec[key] = val
}

func (rec record) str(key string) (string, bool) {
	v, ok := rec[key]
	if !ok {
		return "", false
	}
	switch s := v.(type) {
	case string:
		return s, true
	case fmt.Stringer:
		return s.String(), true
	}
	return fmt.Sprint(v), true
}

// compactRID shortens rid, keeping the original as rid_full in JSON lines.
func (rec record) compactRID(keepFull bool) {
	rid, _ := rec.str("rid")
	compact := CompactRID(rid)
	if compact == "" || compact == rid {
		return
	}
	if keepFull {
		rec.fill("rid_full", rid)
	}
	rec["rid"] = compact
}

// normalize folds enum fields onto their vocabularies and drops blanks.
func (rec record) normalize() {
	for key, field := range enumFields {
		raw, ok := rec.str(key)
		if !ok || raw == "" {
			continue
		}
		v, known := field.normalize(raw)
		switch {
		case known:
			rec[key] = v
		case field.strict:
			delete(rec, key)
		}
	}
	for k, v := range rec {
		if isBlank(v) {
			delete(rec, k)
		}
	}
}

func isBlank(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return x == ""
	case fmt.Stringer:
		return x.String() == ""
	}
	return false
}

func plainValue(key string, val slog.Value) (string, any, bool) {
	switch val.Kind() {
	case slog.KindString:
		return key, strings.TrimSpace(val.String()), true
	case slog.KindBool:
		return key, val.Bool(), true
	case slog.KindInt64:
		return key, val.Int64(), true
	case slog.KindUint64:
		if u := val.Uint64(); u <= math.MaxInt64 {
			return key, int64(u), true
		}
		return key, val.Uint64(), true
	case slog.KindFloat64:
		return key, val.Float64(), true
	case slog.KindDuration:
		return durationKey(key), RoundMS(val.Duration()).Milliseconds(), true
	case slog.KindTime:
		return key, val.Time().UTC().Format(time.RFC3339Nano), true
	}
	switch x := val.Any().(type) {
	case nil:
		return key, nil, false
	case error:
		return key, x.Error(), true
	case string:
		return key, strings.TrimSpace(x), true
	case time.Duration:
		return durationKey(key), RoundMS(x).Milliseconds(), true
	case fmt.Stringer:
		return key, x.String(), true
	default:
		return key, fmt.Sprint(x), true
	}
}

// durationKey renames duration attributes so every value is reported in milliseconds.
func durationKey(key string) string {
	switch {
	case key == "duration":
		return "duration_ms"
	case strings.HasSuffix(key, "_ms"):
		return key
	default:
		return key + "_ms"
	}
}

// layout returns the print order: keys named by order first, then the
// unnamed ones alphabetically, then tailKeys.
func layout(rec record, order []string) []string {
	keys := make([]string, 0, len(rec))
	placed := make(map[string]bool, len(rec))
	take := func(k string) {
		if _, ok := rec[k]; ok && !placed[k] {
			keys = append(keys, k)
			placed[k] = true
		}
	}
	for _, k := range order {
		take(k)
	}
	tail := make(map[string]bool, len(tailKeys))
	for _, k := range tailKeys {
		tail[k] = true
	}
	mid := len(keys)
	for k := range rec {
		if !placed[k] && !tail[k] {
			keys = append(keys, k)
			placed[k] = true
		}
	}
	slices.Sort(keys[mid:])
	for _, k := range tailKeys {
		take(k)
	}
	return keys
}

func encodeJSON(rec record, keys []string) ([]byte, error) {
	buf := make([]byte, 0, 256)
	buf = append(buf, '{')
	for i, k := range keys {
		data, err := json.Marshal(rec[k])
		if err != nil {
			return nil, fmt.Errorf("logger: encode %s: %w", k, err)
		}
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = strconv.AppendQuote(buf, k)
		buf = append(buf, ':')
		buf = append(buf, data...)
	}
	return append(buf, '}'), nil
}

func encodeKV(rec record, keys []string) []byte {
	buf := make([]byte, 0, 256)
	for i, k := range keys {
		if i > 0 {
			buf = append(buf, ' ')
		}
		buf = append(buf, k...)
		buf = append(buf, '=')
		buf = append(buf, kvValue(rec[k])...)
	}
	return buf
}

func kvValue(val any) string {
	var s string
	switch v := val.(type) {
	case string:
		s = v
	case bool:
		return strconv.FormatBool(v)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		s = fmt.Sprint(v)
	}
	if strings.ContainsFunc(s, needsQuote) {
		return strconv.Quote(s)
	}
	return s
}

func needsQuote(r rune) bool {
	return r <= ' ' || r == '=' || r == '"'
}
