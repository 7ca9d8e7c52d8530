package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestCollectorsCount(t *testing.T) {
	c := New()
	c.ObserveConnection("connected")
	c.ObserveConnection("connected")
	c.ObserveSign("rejected")
	c.ObservePayload("web_app")
	c.ObserveBridgeClose("sent")
	c.ObserveUpdate("callback", "ok")
	c.ObserveSend("send.payload", "fail")
	c.ScreenMounted()
	c.ScreenMounted()
	c.ScreenReleased()

	require.Equal(t, 2.0, testutil.ToFloat64(c.connections.WithLabelValues("connected")))
	require.Equal(t, 1.0, testutil.ToFloat64(c.signs.WithLabelValues("rejected")))
	require.Equal(t, 1.0, testutil.ToFloat64(c.payloads.WithLabelValues("web_app")))
	require.Equal(t, 1.0, testutil.ToFloat64(c.bridgeCloses.WithLabelValues("sent")))
	require.Equal(t, 1.0, testutil.ToFloat64(c.updates.WithLabelValues("callback", "ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(c.sends.WithLabelValues("send.payload", "fail")))
	require.Equal(t, 1.0, testutil.ToFloat64(c.screens))
}

func TestRouterServesMetricsAndHealth(t *testing.T) {
	c := New()
	c.ObserveSign("ok")
	r := Router(c)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), `walletlink_sign_total{status="ok"} 1`))

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}
