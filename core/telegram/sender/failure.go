package sender

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"time"

	tele "gopkg.in/telebot.v4"
)

var (
	tokenRe  = regexp.MustCompile(`bot[0-9]+:[A-Za-z0-9_-]+`)
	statusRe = regexp.MustCompile(`\((\d{3})\)\s*$`)
)

// floodWait reports the pause Telegram asked for on a 429.
func floodWait(err error) (time.Duration, bool) {
	var flood tele.FloodError
	if errors.As(err, &flood) {
		return time.Duration(flood.RetryAfter) * time.Second, true
	}
	return 0, false
}

// redact renders err with bot tokens masked.
func redact(err error) string {
	if err == nil {
		return ""
	}
	return tokenRe.ReplaceAllString(err.Error(), "bot<redacted>")
}

// errKind buckets a failed call for the err_code log field.
func errKind(err error) string {
	if err == nil {
		return ""
	}
	if isTimeout(err) {
		return "timeout"
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return "dns"
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return "dial"
	}
	var alert tls.AlertError
	if errors.As(err, &alert) {
		return "tls"
	}
	switch code := httpStatus(err); {
	case code >= 500:
		return "http_5xx"
	case code >= 400:
		return "http_4xx"
	}
	return "unknown"
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr) && urlErr.Timeout()
}

// httpStatus extracts the Bot API status code carried by err, or 0.
func httpStatus(err error) int {
	var apiErr *tele.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	var flood tele.FloodError
	if errors.As(err, &flood) {
		return http.StatusTooManyRequests
	}
	var group tele.GroupError
	if errors.As(err, &group) {
		return http.StatusBadRequest
	}
	if m := statusRe.FindStringSubmatch(err.Error()); m != nil {
		code, _ := strconv.Atoi(m[1])
		return code
	}
	return 0
}
