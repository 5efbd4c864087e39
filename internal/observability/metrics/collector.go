// Package metrics exports relay measurements in Prometheus format and serves
// them over an optional HTTP listener.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"relaybot/internal/relay"
)

const namespace = "relay"

// Collector implements relay.Metrics on a private registry.
type Collector struct {
	reg *prometheus.Registry

	posts        *prometheus.CounterVec
	postDuration prometheus.Histogram
	dropped      *prometheus.CounterVec
	lookupErrors prometheus.Counter
	deliveries   *prometheus.CounterVec
	workers      prometheus.Gauge
}

var _ relay.Metrics = (*Collector)(nil)

func NewCollector() *Collector {
	c := &Collector{
		reg: prometheus.NewRegistry(),
		posts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "posts_total",
			Help:      "Feed posts processed, by outcome.",
		}, []string{"action"}),
		postDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "post_duration_seconds",
			Help:      "Time spent resolving and enqueueing one post.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_dropped_total",
			Help:      "Delivery jobs dropped without an attempt, by reason.",
		}, []string{"reason"}),
		lookupErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lookup_errors_total",
			Help:      "Follower lookups that failed.",
		}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Delivery attempts, by result.",
		}, []string{"result"}),
		workers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "workers",
			Help:      "Live per-inbox delivery workers.",
		}),
	}
	c.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.posts, c.postDuration, c.dropped, c.lookupErrors, c.deliveries, c.workers,
	)

	// Export zero series up front so rate() works from the first scrape.
	for _, o := range []relay.Outcome{relay.OutcomeSkip, relay.OutcomeNoRelay, relay.OutcomeRelay} {
		c.posts.WithLabelValues(string(o))
	}
	for _, r := range []relay.DropReason{relay.DropBackoff, relay.DropMailboxFull} {
		c.dropped.WithLabelValues(string(r))
	}
	c.deliveries.WithLabelValues("ok")
	c.deliveries.WithLabelValues("error")
	return c
}

func (c *Collector) PostProcessed(outcome relay.Outcome, took time.Duration) {
	c.posts.WithLabelValues(string(outcome)).Inc()
	c.postDuration.Observe(took.Seconds())
}

func (c *Collector) JobDropped(reason relay.DropReason) {
	c.dropped.WithLabelValues(string(reason)).Inc()
}

func (c *Collector) LookupFailed() { c.lookupErrors.Inc() }

func (c *Collector) DeliveryFinished(ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	c.deliveries.WithLabelValues(result).Inc()
}

func (c *Collector) Workers(n int) { c.workers.Set(float64(n)) }

// CounterFunc exports a monotonically increasing value read at scrape time.
func (c *Collector) CounterFunc(name, help string, fn func() float64) {
	c.reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn))
}

func (c *Collector) Registry() *prometheus.Registry { return c.reg }

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{Registry: c.reg})
}
