// Package metrics owns the prometheus collectors exported by epochbook.
//
// Registers:
//
//	epochbook_operations_total{op,result}
//	epochbook_chunk_writes_total{kind}
//	epochbook_cascade_windows_total
//	epochbook_oversubtracted_qty_total
//	epochbook_query_duration_seconds
//	epochbook_symbols_open
//	epochbook_changes_published_total{result}
//	go_* and process_* system metrics
//
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	operations     *prometheus.CounterVec
	chunkWrites    *prometheus.CounterVec
	cascadeWindows prometheus.Counter
	oversubtracted prometheus.Counter
	queryDuration  prometheus.Histogram
	symbolsOpen    prometheus.Gauge
	published      *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "epochbook_operations_total",
				Help: "Engine operations by kind and result",
			},
			[]string{"op", "result"},
		),
		chunkWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "epochbook_chunk_writes_total",
				Help: "Chunk file writes by kind (create, rewrite, overwrite, remove)",
			},
			[]string{"kind"},
		),
		cascadeWindows: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "epochbook_cascade_windows_total",
			Help: "Chunk bases rewritten by forward cascades",
		}),
		oversubtracted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "epochbook_oversubtracted_qty_total",
			Help: "Quantity discarded because a trade or cancel exceeded the resting level",
		}),
		queryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "epochbook_query_duration_seconds",
			Help:    "Point in time query latency",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
		symbolsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "epochbook_symbols_open",
			Help: "Symbols with a loaded index",
		}),
		published: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "epochbook_changes_published_total",
				Help: "Change events handed to the broker by result",
			},
			[]string{"result"},
		),
	}

	m.registry.MustRegister(
		m.operations,
		m.chunkWrites,
		m.cascadeWindows,
		m.oversubtracted,
		m.queryDuration,
		m.symbolsOpen,
		m.published,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Operation(op string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.operations.WithLabelValues(op, result).Inc()
}

func (m *Metrics) ChunkWrite(kind string) {
	if m == nil {
		return
	}
	m.chunkWrites.WithLabelValues(kind).Inc()
}

func (m *Metrics) CascadeWindows(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.cascadeWindows.Add(float64(n))
}

func (m *Metrics) Oversubtracted(qty uint64) {
	if m == nil || qty == 0 {
		return
	}
	m.oversubtracted.Add(float64(qty))
}

func (m *Metrics) ObserveQuery(d time.Duration) {
	if m == nil {
		return
	}
	m.queryDuration.Observe(d.Seconds())
}

func (m *Metrics) SetSymbolsOpen(n int) {
	if m == nil {
		return
	}
	m.symbolsOpen.Set(float64(n))
}

func (m *Metrics) Published(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.published.WithLabelValues(result).Inc()
}
