package telegram

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/m3rciful/walletlink/core/netutil"
)

const (
	defaultDialTimeout       = 5 * time.Second
	defaultTLSHandshake      = 5 * time.Second
	defaultIdleConnTimeout   = 30 * time.Second
	defaultResponseTimeout   = 5 * time.Second
	defaultClientTimeout     = 30 * time.Second
	defaultKeepAliveInterval = 30 * time.Second
	defaultRetryAttempts     = 3
	defaultRetryBackoff      = 2 * time.Second
)

// BuildHTTPClient returns an HTTP client tuned for Telegram API calls.
func BuildHTTPClient() *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: defaultDialTimeout, KeepAlive: defaultKeepAliveInterval}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       defaultIdleConnTimeout,
		TLSHandshakeTimeout:   defaultTLSHandshake,
		ResponseHeaderTimeout: defaultResponseTimeout,
		ExpectContinueTimeout: 1 * time.Second,
	}

	retry := &retryTransport{
		base:       transport,
		maxRetries: defaultRetryAttempts,
		backoff:    defaultRetryBackoff,
	}

	return &http.Client{
		Timeout:   defaultClientTimeout,
		Transport: retry,
	}
}

type retryTransport struct {
	base       http.RoundTripper
	maxRetries int
	backoff    time.Duration
}

// errNoRewind stops retries of requests whose body cannot be replayed.
var errNoRewind = errors.New("telegram: request body cannot be replayed")

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}

	var (
		resp    *http.Response
		lastErr error
		first   = true
	)
	err := netutil.Do(req.Context(), t.maxRetries+1, t.backoff, func(context.Context) error {
		curr := req
		if !first {
			if req.Body != nil && req.GetBody == nil {
				return errNoRewind
			}
			curr = req.Clone(req.Context())
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return err
				}
				curr.Body = body
			}
		}
		first = false

		r, err := base.RoundTrip(curr)
		if err != nil {
			lastErr = err
			return err
		}
		resp = r
		return nil
	})
	if errors.Is(err, errNoRewind) {
		return nil, lastErr
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}
