// Package metrics exposes pipeline counters through Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "ppglogger"

// Recorder receives pipeline events worth counting.
type Recorder interface {
	BatchReceived(collector string)
	RecordsPersisted(collector string, n int)
	BatchDropped(collector string)
	StoreFailure(op string)
	SubscriptionError(collector, kind string)
	FlushCompleted(collector string)
	QueueLength(collector string, n int)
	ObserveStoreWrite(d time.Duration)
	ConnectionState(connected bool)
	ServiceRunning(running bool)
}

// Prom is a Recorder backed by its own Prometheus registry.
type Prom struct {
	registry *prometheus.Registry

	batchesReceived    *prometheus.CounterVec
	recordsPersisted   *prometheus.CounterVec
	batchesDropped     *prometheus.CounterVec
	storeFailures      *prometheus.CounterVec
	subscriptionErrors *prometheus.CounterVec
	flushCompleted     *prometheus.CounterVec
	queueLength        *prometheus.GaugeVec
	storeWrite         prometheus.Histogram
	connectionState    prometheus.Gauge
	serviceRunning     prometheus.Gauge
}

func New() *Prom {
	p := &Prom{
		registry: prometheus.NewRegistry(),
		batchesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_received_total",
			Help:      "Non-empty batches delivered by a tracker.",
		}, []string{"collector"}),
		recordsPersisted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_persisted_total",
			Help:      "Records committed to the store.",
		}, []string{"collector"}),
		batchesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_dropped_total",
			Help:      "Batches lost to write queue backpressure.",
		}, []string{"collector"}),
		storeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_failures_total",
			Help:      "Failed record store operations.",
		}, []string{"op"}),
		subscriptionErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscription_errors_total",
			Help:      "Errors reported by tracker subscriptions.",
		}, []string{"collector", "kind"}),
		flushCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flush_completed_total",
			Help:      "Flush-completed events reported by trackers.",
		}, []string{"collector"}),
		queueLength: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "write_queue_length",
			Help:      "Batches waiting in a collector write queue.",
		}, []string{"collector"}),
		storeWrite: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_write_seconds",
			Help:      "Latency of one batch insert.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
		connectionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_state",
			Help:      "1 when the sensing service is connected.",
		}),
		serviceRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "service_running",
			Help:      "1 while the collection service is running.",
		}),
	}

	p.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		p.batchesReceived,
		p.recordsPersisted,
		p.batchesDropped,
		p.storeFailures,
		p.subscriptionErrors,
		p.flushCompleted,
		p.queueLength,
		p.storeWrite,
		p.connectionState,
		p.serviceRunning,
	)

	return p
}

// Gatherer returns the registry for the /metrics handler.
func (p *Prom) Gatherer() prometheus.Gatherer {
	return p.registry
}

func (p *Prom) BatchReceived(collector string) {
	p.batchesReceived.WithLabelValues(collector).Inc()
}

func (p *Prom) RecordsPersisted(collector string, n int) {
	p.recordsPersisted.WithLabelValues(collector).Add(float64(n))
}

func (p *Prom) BatchDropped(collector string) {
	p.batchesDropped.WithLabelValues(collector).Inc()
}

func (p *Prom) StoreFailure(op string) {
	p.storeFailures.WithLabelValues(op).Inc()
}

func (p *Prom) SubscriptionError(collector, kind string) {
	p.subscriptionErrors.WithLabelValues(collector, kind).Inc()
}

func (p *Prom) FlushCompleted(collector string) {
	p.flushCompleted.WithLabelValues(collector).Inc()
}

func (p *Prom) QueueLength(collector string, n int) {
	p.queueLength.WithLabelValues(collector).Set(float64(n))
}

func (p *Prom) ObserveStoreWrite(d time.Duration) {
	p.storeWrite.Observe(d.Seconds())
}

func (p *Prom) ConnectionState(connected bool) {
	p.connectionState.Set(boolToFloat(connected))
}

func (p *Prom) ServiceRunning(running bool) {
	p.serviceRunning.Set(boolToFloat(running))
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// No-op implementation
type nop struct{}

// Nop returns a Recorder that records nothing.
func Nop() Recorder { return nop{} }

func (nop) BatchReceived(string)             {}
func (nop) RecordsPersisted(string, int)     {}
func (nop) BatchDropped(string)              {}
func (nop) StoreFailure(string)              {}
func (nop) SubscriptionError(string, string) {}
func (nop) FlushCompleted(string)            {}
func (nop) QueueLength(string, int)          {}
func (nop) ObserveStoreWrite(time.Duration)  {}
func (nop) ConnectionState(bool)             {}
func (nop) ServiceRunning(bool)              {}
