// Package metrics exposes the feed and store counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"livetape/internal/market"
)

const namespace = "livetape"

var statuses = []market.ConnectionStatus{
	market.StatusDisconnected,
	market.StatusConnecting,
	market.StatusConnected,
	market.StatusError,
	market.StatusReconnecting,
}

// Metrics groups the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	TradesTotal      prometheus.Counter
	TickersTotal     prometheus.Counter
	DuplicatesTotal  prometheus.Counter
	ParseErrorsTotal *prometheus.CounterVec
	DialsTotal       *prometheus.CounterVec
	ReconnectsTotal  prometheus.Counter
	ConnectionStatus *prometheus.GaugeVec
	StoredTrades     prometheus.Gauge
	StoredTickers    prometheus.Gauge
	StreamClients    *prometheus.GaugeVec
}

// New builds the collectors on a private registry together with the Go and process
// collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		TradesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "trades_total",
			Help:      "Trades decoded from the trade stream",
		}),
		TickersTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "tickers_total",
			Help:      "Ticker updates decoded from the ticker stream",
		}),
		DuplicatesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "duplicate_trades_total",
			Help:      "Trades rejected because they were already stored",
		}),
		ParseErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "parse_errors_total",
			Help:      "Frames dropped because they failed validation",
		}, []string{"channel"}),
		DialsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "dials_total",
			Help:      "WebSocket dial attempts by channel and result",
		}, []string{"channel", "result"}),
		ReconnectsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "reconnects_total",
			Help:      "Reconnect timers that fired",
		}),
		ConnectionStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "connection_status",
			Help:      "1 for the current connection status, 0 otherwise",
		}, []string{"status"}),
		StoredTrades: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "trades",
			Help:      "Trades currently held in the store",
		}),
		StoredTickers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "tickers",
			Help:      "Symbols with a ticker snapshot",
		}),
		StreamClients: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "stream_clients",
			Help:      "Open server-sent event streams by panel",
		}, []string{"panel"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.TradesTotal,
		m.TickersTotal,
		m.DuplicatesTotal,
		m.ParseErrorsTotal,
		m.DialsTotal,
		m.ReconnectsTotal,
		m.ConnectionStatus,
		m.StoredTrades,
		m.StoredTickers,
		m.StreamClients,
	)
	m.SetStatus(market.StatusDisconnected)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) TradeReceived() {
	if m == nil {
		return
	}
	m.TradesTotal.Inc()
}

func (m *Metrics) TickerReceived() {
	if m == nil {
		return
	}
	m.TickersTotal.Inc()
}

func (m *Metrics) DuplicateDropped() {
	if m == nil {
		return
	}
	m.DuplicatesTotal.Inc()
}

func (m *Metrics) ParseError(channel string) {
	if m == nil {
		return
	}
	m.ParseErrorsTotal.WithLabelValues(channel).Inc()
}

func (m *Metrics) Dial(channel string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.DialsTotal.WithLabelValues(channel, result).Inc()
}

func (m *Metrics) Reconnect() {
	if m == nil {
		return
	}
	m.ReconnectsTotal.Inc()
}

// SetStatus sets the gauge of current to 1 and every other status to 0.
func (m *Metrics) SetStatus(current market.ConnectionStatus) {
	if m == nil {
		return
	}
	for _, st := range statuses {
		v := 0.0
		if st == current {
			v = 1
		}
		m.ConnectionStatus.WithLabelValues(string(st)).Set(v)
	}
}

func (m *Metrics) SetStored(trades, tickers int) {
	if m == nil {
		return
	}
	m.StoredTrades.Set(float64(trades))
	m.StoredTickers.Set(float64(tickers))
}

// StreamOpened increments the open stream gauge and returns its release func.
func (m *Metrics) StreamOpened(panel string) func() {
	if m == nil {
		return func() {}
	}
	g := m.StreamClients.WithLabelValues(panel)
	g.Inc()
	return g.Dec
}
