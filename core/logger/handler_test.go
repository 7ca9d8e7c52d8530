package logger

import (
	"bytes"
	"io"
	"strings"
	"testing"
	"time"

	"log/slog"
)

func TestStructuredHandlerKVOrder(t *testing.T) {
	buf := &bytes.Buffer{}
	aw := newAsyncWriter([]io.Writer{buf}, 1024)
	handler := newStructuredHandler(handlerConfig{
		level:    slog.LevelInfo,
		writer:   aw,
		format:   formatKV,
		keyOrder: append([]string(nil), defaultKeyOrder...),
	})
	ctx := WithRID(Background(), "rid-123")
	ctx = WithUpdateMeta(ctx, 42, 7, 9)

	log := slog.New(handler).With("component", "app")
	LogEvent(ctx, log, slog.LevelInfo, "test.event",
		slog.String("status", "ok"),
		slog.String("cause", "unit"),
	)
	if err := aw.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if err := aw.Close(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	line := strings.TrimSpace(buf.String())
	if line == "" {
		t.Fatal("expected log line")
	}
	tokens := strings.Split(line, " ")
	if len(tokens) < 6 {
		t.Fatalf("unexpected token count: %d (%s)", len(tokens), line)
	}
	expected := []string{"ts=", "level=INFO", "component=app", "event=test.event", "status=ok", "rid=rid-123"}
	for i, prefix := range expected {
		if !strings.HasPrefix(tokens[i], prefix) {
			t.Fatalf("token %d = %s, expected prefix %s", i, tokens[i], prefix)
		}
	}
}

func TestStructuredHandlerJSONOrder(t *testing.T) {
	buf := &bytes.Buffer{}
	aw := newAsyncWriter([]io.Writer{buf}, 1024)
	handler := newStructuredHandler(handlerConfig{
		level:    slog.LevelInfo,
		writer:   aw,
		format:   formatJSON,
		keyOrder: append([]string(nil), defaultKeyOrder...),
	})
	ctx := WithRID(Background(), "rid-json")
	ctx = WithUpdateMeta(ctx, 11, 22, 33)

	log := slog.New(handler).With("component", "service.test")
	LogEvent(ctx, log, slog.LevelError, "service.failed",
		slog.String("status", "fail"),
		slog.String("err", "boom"),
		slog.String("err_code", "TEST_FAIL"),
	)
	if err := aw.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if err := aw.Close(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	line := strings.TrimSpace(buf.String())
	if !strings.HasPrefix(line, "{") {
		t.Fatalf("expected JSON, got %s", line)
	}
	prefixes := []string{`{"ts":`, `"level":"ERROR"`, `"component":"service.test"`, `"event":"service.failed"`, `"status":"fail"`, `"rid":"rid-json"`}
	pos := -1
	for _, pref := range prefixes {
		idx := strings.Index(line, pref)
		if idx == -1 || idx < pos {
			t.Fatalf("prefix %s not found in order within %s", pref, line)
		}
		pos = idx
	}
}

func TestStructuredHandlerCompactRID(t *testing.T) {
	buf := &bytes.Buffer{}
	aw := newAsyncWriter([]io.Writer{buf}, 1024)
	handler := newStructuredHandler(handlerConfig{
		level:    slog.LevelInfo,
		writer:   aw,
		format:   formatKV,
		keyOrder: append([]string(nil), defaultKeyOrder...),
	})
	rawRID := "123:456:789"
	ctx := WithRID(Background(), rawRID)
	log := slog.New(handler).With("component", "app")
	LogEvent(ctx, log, slog.LevelInfo, "rid.test",
		slog.String("status", "ok"),
	)
	if err := aw.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if err := aw.Close(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	line := strings.TrimSpace(buf.String())
	if !strings.Contains(line, "rid="+CompactRID(rawRID)) {
		t.Fatalf("expected compact rid, got %s", line)
	}
	if strings.Contains(line, "rid_full=") {
		t.Fatalf("rid_full should be omitted in KV output, got %s", line)
	}
}

func TestStructuredHandlerCompactRIDJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	aw := newAsyncWriter([]io.Writer{buf}, 1024)
	handler := newStructuredHandler(handlerConfig{
		level:    slog.LevelInfo,
		writer:   aw,
		format:   formatJSON,
		keyOrder: append([]string(nil), defaultKeyOrder...),
	})
	rawRID := "12:34:56"
	ctx := WithRID(Background(), rawRID)
	log := slog.New(handler).With("component", "app")
	LogEvent(ctx, log, slog.LevelInfo, "rid.test",
		slog.String("status", "ok"),
	)
	if err := aw.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if err := aw.Close(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	line := strings.TrimSpace(buf.String())
	if !strings.Contains(line, `"rid":"`+CompactRID(rawRID)+`"`) {
		t.Fatalf("expected compact rid in JSON, got %s", line)
	}
	if !strings.Contains(line, `"rid_full":"`+rawRID+`"`) {
		t.Fatalf("expected rid_full in JSON output, got %s", line)
	}
	if !strings.Contains(line, `"ts_unix_nano"`) {
		t.Fatalf("expected ts_unix_nano to be present in JSON output, got %s", line)
	}
}

func TestStructuredHandlerNormalizesDurationsAndButtonState(t *testing.T) {
	buf := &bytes.Buffer{}
	aw := newAsyncWriter([]io.Writer{buf}, 1024)
	handler := newStructuredHandler(handlerConfig{
		level:    slog.LevelInfo,
		writer:   aw,
		format:   formatKV,
		keyOrder: append([]string(nil), defaultKeyOrder...),
	})
	log := slog.New(handler).With("component", "bridge")
	LogEvent(Background(), log, slog.LevelInfo, "close.scheduled",
		slog.Duration("delay", 2*time.Second),
		slog.Duration("sign_duration", 1500*time.Millisecond),
		slog.String("button_state", "VISIBLE_ENABLED"),
		slog.String("address", ""),
	)
	LogEvent(Background(), log, slog.LevelInfo, "button.unknown",
		slog.String("button_state", "floating"),
	)
	if err := aw.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), buf.String())
	}
	first := lines[0]
	for _, want := range []string{"delay_ms=2000", "sign_duration_ms=1500", "button_state=visible_enabled"} {
		if !strings.Contains(first, want) {
			t.Fatalf("expected %q in %s", want, first)
		}
	}
	if strings.Contains(first, "address=") {
		t.Fatalf("empty attributes must be pruned: %s", first)
	}
	if strings.Contains(lines[1], "button_state=") {
		t.Fatalf("unknown button state must be dropped: %s", lines[1])
	}
}

func TestStructuredHandlerWalletMetaAndErrorTail(t *testing.T) {
	buf := &bytes.Buffer{}
	aw := newAsyncWriter([]io.Writer{buf}, 1024)
	handler := newStructuredHandler(handlerConfig{
		level:  slog.LevelInfo,
		writer: aw,
		format: formatKV,
	})
	ctx := WithUpdateMeta(Background(), 5, 7, 42)
	ctx = WithWallet(ctx, "0xABCD…ABCD", "eip155:1")
	ctx = WithHandler(ctx, "wallet")

	log := slog.New(handler).With("component", "session")
	LogEvent(ctx, log, slog.LevelWarn, "sign",
		slog.String("err", "rejected"),
		slog.String("status", "fail"),
		slog.String("zeta", "z"),
		slog.String("sign_method", "TYPED_DATA"),
	)
	LogEvent(ctx, log, slog.LevelInfo, "sign",
		slog.String("sign_method", "eth_sign"),
		slog.String("network", "eip155:42161"),
	)
	if err := aw.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), buf.String())
	}
	first := lines[0]
	order := []string{"status=fail", "chat_id=42", "handler=wallet", "address=0xABCD…ABCD", "network=eip155:1", "sign_method=typed_data", "zeta=z", "err=rejected"}
	pos := -1
	for _, want := range order {
		idx := strings.Index(first, want)
		if idx == -1 || idx < pos {
			t.Fatalf("%s not found in order within %s", want, first)
		}
		pos = idx
	}
	if !strings.HasSuffix(first, "err=rejected") {
		t.Fatalf("err must close the line: %s", first)
	}

	second := lines[1]
	if strings.Contains(second, "sign_method=") {
		t.Fatalf("unknown sign method must be dropped: %s", second)
	}
	if !strings.Contains(second, "network=eip155:42161") || strings.Contains(second, "network=eip155:1 ") {
		t.Fatalf("record attrs must win over context meta: %s", second)
	}
}

func TestWithWalletKeepsEarlierMeta(t *testing.T) {
	ctx := WithRID(Background(), "1:2:3")
	ctx = WithWallet(ctx, "", "eip155:10")
	ctx = WithWallet(ctx, "0x1234…5678", "")

	m := MetaFrom(ctx)
	if m.RID != "1:2:3" || m.Network != "eip155:10" || m.Address != "0x1234…5678" {
		t.Fatalf("unexpected meta: %+v", m)
	}
	if got := CompactRID(m.RID); got != "1.2.3" {
		t.Fatalf("compact rid = %s", got)
	}
}
