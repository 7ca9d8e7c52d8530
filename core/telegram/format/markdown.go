package format

import (
	"fmt"
	"regexp"
)

const (
	// MarkdownV1 denotes Telegram markdown version 1.
	MarkdownV1 = 1
	// MarkdownV2 denotes Telegram markdown version 2.
	MarkdownV2 = 2
)

var (
	mdV1Re   = regexp.MustCompile("([_*`\\[])")
	mdV2Re   = regexp.MustCompile("([" + regexp.QuoteMeta("_*[]()~`>#+=|{}.!\\") + "-])")
	mdCodeRe = regexp.MustCompile("([`\\\\])")
)

// EscapeMarkdown escapes special characters for MarkdownV1 or V2. For V2,
// entityType "code" or "pre" escapes only what those entities require.
func EscapeMarkdown(text string, version int, entityType string) (string, error) {
	switch version {
	case MarkdownV1:
		return mdV1Re.ReplaceAllString(text, `\$1`), nil
	case MarkdownV2:
		if entityType == "code" || entityType == "pre" {
			return mdCodeRe.ReplaceAllString(text, `\$1`), nil
		}
		return mdV2Re.ReplaceAllString(text, `\$1`), nil
	}
	return "", fmt.Errorf("unsupported markdown version: %d", version)
}

// Code wraps text in a MarkdownV1 inline code span. Backticks cannot be
// escaped there, so they are dropped.
func Code(text string) string {
	clean := make([]rune, 0, len(text))
	for _, r := range text {
		if r != '`' {
			clean = append(clean, r)
		}
	}
	return "`" + string(clean) + "`"
}
