package netutil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return false }

func TestShouldRetry(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("bad request"), false},
		{"cancelled", fmt.Errorf("send: %w", context.Canceled), false},
		{"timeout", timeoutErr{}, true},
		{"refused", &net.OpError{Op: "read", Err: syscall.ECONNREFUSED}, true},
		{"reset", fmt.Errorf("ws: %w", syscall.ECONNRESET), true},
		{"dial", &net.OpError{Op: "dial", Err: errors.New("no route")}, true},
		{"url timeout", &url.Error{Op: "Post", URL: "https://api.telegram.org", Err: timeoutErr{}}, true},
		{"eof", io.ErrUnexpectedEOF, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, ShouldRetry(tc.err))
		})
	}
}

func TestDoRetriesTransientFailures(t *testing.T) {
	calls := 0
	err := Do(context.Background(), 3, time.Millisecond, func(context.Context) error {
		calls++
		if calls < 3 {
			return syscall.ECONNREFUSED
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestDoStopsOnPermanentError(t *testing.T) {
	calls := 0
	boom := errors.New("boom")
	err := Do(context.Background(), 5, time.Millisecond, func(context.Context) error {
		calls++
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, 1, calls)
}

func TestDoGivesUpWhenContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, 5, time.Hour, func(context.Context) error {
		calls++
		cancel()
		return syscall.ECONNRESET
	})
	require.ErrorIs(t, err, syscall.ECONNRESET)
	require.Equal(t, 1, calls)
}
