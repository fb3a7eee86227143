package offline0

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"offline0/internal/clients"
	"offline0/internal/fetch"
)

// Metrics exports worker counters to Prometheus and feeds the stats line.
// It implements worker.Observer.
type Metrics struct {
	reg *prometheus.Registry

	fetches   *prometheus.CounterVec
	fallbacks *prometheus.CounterVec
	puts      *prometheus.CounterVec
	checks    *prometheus.CounterVec
	respBytes prometheus.Histogram

	stats *respStats
}

func NewMetrics(reg *clients.Registry, stats *respStats) *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "offline0_fetch_total",
			Help: "Intercepted fetches by strategy and response source.",
		}, []string{"strategy", "source"}),
		fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "offline0_fallback_total",
			Help: "Offline fallbacks served by request destination.",
		}, []string{"destination"}),
		puts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "offline0_cache_put_total",
			Help: "Cache writes by result.",
		}, []string{"result"}),
		checks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "offline0_self_check_total",
			Help: "Self-check runs by result.",
		}, []string{"result"}),
		respBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "offline0_response_bytes",
			Help:    "Body size of intercepted responses.",
			Buckets: prometheus.ExponentialBuckets(256, 4, 8),
		}),
		stats: stats,
	}

	m.reg.MustRegister(
		m.fetches, m.fallbacks, m.puts, m.checks, m.respBytes,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "offline0_clients",
			Help: "Pages connected over the control channel.",
		}, func() float64 { return float64(reg.Len()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "offline0_process_rss_bytes",
			Help: "Resident set size of the process, 0 where unsupported.",
		}, func() float64 {
			rss, _ := processRSSBytes()
			return float64(rss)
		}),
		collectors.NewGoCollector(),
	)
	return m
}

func (m *Metrics) Fetch(strategy string, source fetch.Source) {
	m.fetches.WithLabelValues(strategy, string(source)).Inc()
}

func (m *Metrics) Fallback(dest fetch.Destination) {
	m.fallbacks.WithLabelValues(string(dest)).Inc()
}

func (m *Metrics) CachePut(result string) {
	m.puts.WithLabelValues(result).Inc()
}

func (m *Metrics) SelfCheck(result string) {
	m.checks.WithLabelValues(result).Inc()
}

func (m *Metrics) ResponseSize(n int) {
	m.respBytes.Observe(float64(n))
	if m.stats != nil {
		m.stats.Observe(n)
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }
