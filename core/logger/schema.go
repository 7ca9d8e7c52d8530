package logger

import "strings"

const (
	// LevelDebug represents the debug severity level name.
	LevelDebug = "DEBUG"
	// LevelInfo represents the info severity level name.
	LevelInfo = "INFO"
	// LevelWarn represents the warning severity level name.
	LevelWarn = "WARN"
	// LevelError represents the error severity level name.
	LevelError = "ERROR"
)

var allowedLevels = map[string]string{
	"debug":   LevelDebug,
	"info":    LevelInfo,
	"warn":    LevelWarn,
	"warning": LevelWarn,
	"error":   LevelError,
}

func normalizeLevel(level string) string {
	if level == "" {
		return LevelInfo
	}
	if mapped, ok := allowedLevels[strings.ToLower(level)]; ok {
		return mapped
	}
	return strings.ToUpper(level)
}

// enumField describes a key whose values come from a closed vocabulary.
// Strict fields lose values outside it; lenient ones keep them verbatim.
type enumField struct {
	values map[string]string
	strict bool
}

func vocabulary(values ...string) map[string]string {
	m := make(map[string]string, len(values))
	for _, v := range values {
		m[v] = v
	}
	return m
}

var enumFields = map[string]enumField{
	"status": {
		values: vocabulary("ok", "fail", "skip", "skipped", "retry", "rate_limited", "cancelled", "rejected"),
	},
	"outcome": {
		values: vocabulary("ok", "fail", "cancelled", "rate_limited"),
		strict: true,
	},
	"button_state": {
		values: vocabulary("hidden", "visible_enabled", "visible_disabled", "hidden_after_send"),
		strict: true,
	},
	"sign_method": {
		values: vocabulary("typed_data", "message"),
		strict: true,
	},
}

// normalize maps raw onto the vocabulary. ok is false when raw is outside it.
func (e enumField) normalize(raw string) (string, bool) {
	v, ok := e.values[strings.ToLower(strings.TrimSpace(raw))]
	return v, ok
}

// Key blocks in print order. Keys outside every block print between
// walletKeys and tailKeys in alphabetical order.
var (
	headKeys = []string{
		"ts",
		"level",
		"component",
		"event",
		"status",
	}
	correlationKeys = []string{
		"rid",
		"rid_full",
		"ts_unix_nano",
		"update_id",
		"user_id",
		"chat_id",
		"chat_type",
		"handler",
		"op",
		"cb_key",
		"outcome",
		"duration_ms",
	}
	walletKeys = []string{
		"address",
		"caip_address",
		"network",
		"view",
		"sign_method",
		"button_state",
		"payload_bytes",
		"delay_ms",
		"topic",
		"rpc_method",
		"rpc_id",
		"source",
	}
	// tailKeys always close the line so failures read left to right.
	tailKeys = []string{
		"err",
		"err_code",
		"cause",
		"retryable",
		"attempts",
		"backoff_ms",
	}
)

var defaultKeyOrder = concatKeys(headKeys, correlationKeys, walletKeys)

func concatKeys(blocks ...[]string) []string {
	var out []string
	for _, b := range blocks {
		out = append(out, b...)
	}
	return out
}
