// Package metrics exposes prometheus collectors for sync passes and the HTTP API.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cppla/ascend/reconcile"
)

const namespace = "ascend"

// Sync records reconciliation passes. It implements reconcile.PassRecorder.
type Sync struct {
	passes    *prometheus.CounterVec
	duration  prometheus.Histogram
	pulled    prometheus.Counter
	pushed    prometheus.Counter
	conflicts prometheus.Counter
}

// NewSync registers the sync collectors on reg.
func NewSync(reg prometheus.Registerer) *Sync {
	m := &Sync{
		passes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "passes_total",
			Help:      "Finished sync passes by resulting state.",
		}, []string{"state"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "pass_duration_seconds",
			Help:      "Wall time of a sync pass.",
			Buckets:   prometheus.DefBuckets,
		}),
		pulled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "rows_pulled_total",
			Help:      "Remote rows merged into the local ledger.",
		}),
		pushed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "rows_pushed_total",
			Help:      "Local rows accepted by the remote.",
		}),
		conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "conflicts_total",
			Help:      "Days whose local and remote entries tied.",
		}),
	}
	reg.MustRegister(m.passes, m.duration, m.pulled, m.pushed, m.conflicts)
	return m
}

func (m *Sync) ObservePass(state reconcile.State, took time.Duration, pulled, pushed, conflicts int) {
	m.passes.WithLabelValues(string(state)).Inc()
	m.duration.Observe(took.Seconds())
	m.pulled.Add(float64(pulled))
	m.pushed.Add(float64(pushed))
	m.conflicts.Add(float64(conflicts))
}

// HTTP counts API requests by route and status.
type HTTP struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// NewHTTP registers the request collectors on reg.
func NewHTTP(reg prometheus.Registerer) *HTTP {
	m := &HTTP{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Handled HTTP requests.",
		}, []string{"route", "method", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Latency of handled HTTP requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}
	reg.MustRegister(m.requests, m.latency)
	return m
}

// Middleware observes every request. Unmatched routes share one label.
func (m *HTTP) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.requests.WithLabelValues(route, c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
		m.latency.WithLabelValues(route, c.Request.Method).Observe(time.Since(start).Seconds())
	}
}

// Handler serves the collectors gathered by g.
func Handler(g prometheus.Gatherer) gin.HandlerFunc {
	return gin.WrapH(promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
}
