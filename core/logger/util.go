package logger

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Status maps an error to the log status vocabulary.
func Status(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return "fail"
	}
}

// Took returns the rounded time since start.
func Took(start time.Time) time.Duration {
	return RoundMS(time.Since(start))
}

func RoundMS(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d.Round(time.Millisecond)
}

// SummarizeStrings joins up to limit values and reports whether any were cut.
func SummarizeStrings(values []string, limit int) (string, bool) {
	if limit <= 0 {
		return "", len(values) > 0
	}
	if len(values) > limit {
		return strings.Join(values[:limit], ", "), true
	}
	return strings.Join(values, ", "), false
}
