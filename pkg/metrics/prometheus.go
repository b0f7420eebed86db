package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	ticksTotal      *prometheus.CounterVec
	fanoutTotal     *prometheus.CounterVec
	malformedTotal  *prometheus.CounterVec
	reconnectsTotal *prometheus.CounterVec
	errorsTotal     *prometheus.CounterVec
	lastPrice       *prometheus.GaugeVec
	latency         *prometheus.HistogramVec
	subscribers     prometheus.Gauge
	activeSources   *prometheus.GaugeVec
}

// New registers the recorder on the default Prometheus registry.
func New() *Recorder {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers the recorder on reg.
func NewWithRegistry(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		ticksTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "otcfeed_ticks_total",
				Help: "Canonical ticks processed by source",
			},
			[]string{"source", "symbol"},
		),
		fanoutTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "otcfeed_fanout_deliveries_total",
				Help: "Tick messages delivered to subscribers",
			},
			[]string{"symbol"},
		),
		malformedTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "otcfeed_malformed_payloads_total",
				Help: "Provider payloads dropped because they could not be parsed",
			},
			[]string{"provider"},
		),
		reconnectsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "otcfeed_upstream_reconnects_total",
				Help: "Upstream reconnect attempts",
			},
			[]string{"provider", "symbol"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "otcfeed_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		lastPrice: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "otcfeed_last_price",
				Help: "Last published price for a symbol",
			},
			[]string{"symbol"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "otcfeed_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		subscribers: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "otcfeed_subscribers",
				Help: "Connected subscribers",
			},
		),
		activeSources: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "otcfeed_active_sources",
				Help: "Active price sources by kind (upstream, synthetic)",
			},
			[]string{"kind"},
		),
	}
}

func (r *Recorder) RecordTick(source, symbol string) {
	r.ticksTotal.WithLabelValues(source, symbol).Inc()
}

func (r *Recorder) RecordFanout(symbol string, delivered int) {
	r.fanoutTotal.WithLabelValues(symbol).Add(float64(delivered))
}

func (r *Recorder) RecordMalformed(provider string) {
	r.malformedTotal.WithLabelValues(provider).Inc()
}

func (r *Recorder) RecordReconnect(provider, symbol string) {
	r.reconnectsTotal.WithLabelValues(provider, symbol).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLastPrice records the last price for a symbol.
func (r *Recorder) RecordLastPrice(symbol string, price float64) {
	r.lastPrice.WithLabelValues(symbol).Set(price)
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

func (r *Recorder) SetSubscribers(n int) { r.subscribers.Set(float64(n)) }

func (r *Recorder) SetActiveSources(kind string, n int) {
	r.activeSources.WithLabelValues(kind).Set(float64(n))
}
