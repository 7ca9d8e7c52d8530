// Package netutil classifies transient network failures and retries them.
package netutil

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"
	"time"
)

// ShouldRetry reports whether err is a transient failure talking to a remote
// endpoint: a timeout, a failed dial, or a refused, reset or truncated connection.
func ShouldRetry(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	return false
}

// Do runs fn up to attempts times. It waits backoff*attempt between retryable
// failures and gives up early on other errors or when ctx is done.
func Do(ctx context.Context, attempts int, backoff time.Duration, fn func(ctx context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil || !ShouldRetry(lastErr) || attempt == attempts {
			return lastErr
		}
		if ctx.Err() != nil {
			return lastErr
		}
		delay := backoff * time.Duration(attempt)
		if delay <= 0 {
			continue
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return lastErr
		case <-timer.C:
		}
	}
	return lastErr
}
