// Package metrics exposes prometheus collectors for the wallet flow.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collectors holds the wallet flow metrics on a private registry.
type Collectors struct {
	registry     *prometheus.Registry
	connections  *prometheus.CounterVec
	signs        *prometheus.CounterVec
	payloads     *prometheus.CounterVec
	bridgeCloses *prometheus.CounterVec
	updates      *prometheus.CounterVec
	sends        *prometheus.CounterVec
	screens      prometheus.Gauge
}

// New registers all collectors on a fresh registry.
func New() *Collectors {
	connections := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "walletlink_connections_total",
		Help: "Wallet connection transitions",
	}, []string{"event"})

	signs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "walletlink_sign_total",
		Help: "Signature requests by outcome",
	}, []string{"status"})

	payloads := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "walletlink_payloads_total",
		Help: "Wallet payloads relayed to chats",
	}, []string{"source"})

	closes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "walletlink_bridge_close_total",
		Help: "Screen closes after send",
	}, []string{"reason"})

	updates := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "walletlink_updates_total",
		Help: "Telegram updates handled, by kind and status",
	}, []string{"kind", "status"})

	sends := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "walletlink_telegram_sends_total",
		Help: "Outbound Telegram calls run by the dispatcher",
	}, []string{"action", "status"})

	screens := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "walletlink_screens_active",
		Help: "Wallet screens currently mounted",
	})

	r := prometheus.NewRegistry()
	r.MustRegister(connections, signs, payloads, closes, updates, sends, screens)

	return &Collectors{
		registry:     r,
		connections:  connections,
		signs:        signs,
		payloads:     payloads,
		bridgeCloses: closes,
		updates:      updates,
		sends:        sends,
		screens:      screens,
	}
}

// Registry returns the underlying registry.
func (c *Collectors) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the prometheus exposition format.
func (c *Collectors) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collectors) ObserveConnection(event string) {
	c.connections.WithLabelValues(event).Inc()
}

func (c *Collectors) ObserveSign(status string) {
	c.signs.WithLabelValues(status).Inc()
}

func (c *Collectors) ObservePayload(source string) {
	c.payloads.WithLabelValues(source).Inc()
}

func (c *Collectors) ObserveBridgeClose(reason string) {
	c.bridgeCloses.WithLabelValues(reason).Inc()
}

// ObserveUpdate counts one handled Telegram update.
func (c *Collectors) ObserveUpdate(kind, status string) {
	c.updates.WithLabelValues(kind, status).Inc()
}

// ObserveSend counts one finished dispatcher job.
func (c *Collectors) ObserveSend(action, status string) {
	c.sends.WithLabelValues(action, status).Inc()
}

// ScreenMounted and ScreenReleased track mounted screens.
func (c *Collectors) ScreenMounted() {
	c.screens.Inc()
}

func (c *Collectors) ScreenReleased() {
	c.screens.Dec()
}
