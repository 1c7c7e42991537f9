package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	RepliesTotal      *prometheus.CounterVec
	SafetyEscalations prometheus.Counter
	SessionsCreated   prometheus.Counter
	CappedMessages    prometheus.Counter
	RateLimited       prometheus.Counter

	registry *prometheus.Registry
}

// NewCollector registers the service metrics on a private registry so tests
// can build as many collectors as they like.
func NewCollector(namespace string) *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	c := &Collector{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, route, and status code.",
		}, []string{"method", "route", "status"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency distribution.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10, 30},
		}, []string{"method", "route"}),

		RepliesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "triage",
			Name:      "replies_total",
			Help:      "Assistant replies by source (model or fallback) and risk band.",
		}, []string{"source", "band"}),

		SafetyEscalations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "triage",
			Name:      "safety_escalations_total",
			Help:      "Assistant replies whose content was the fixed safety script.",
		}),

		SessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "intake",
			Name:      "sessions_created_total",
			Help:      "Intake sessions opened.",
		}),

		CappedMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "intake",
			Name:      "capped_messages_total",
			Help:      "Patient messages rejected by the message cap.",
		}),

		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "intake",
			Name:      "rate_limited_total",
			Help:      "Patient messages rejected by the per-session rate limit.",
		}),

		registry: reg,
	}
	reg.MustRegister(
		c.RequestsTotal, c.RequestDuration, c.RepliesTotal, c.SafetyEscalations,
		c.SessionsCreated, c.CappedMessages, c.RateLimited,
	)
	return c
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

func (c *Collector) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	c.RequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.RequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// ObserveReply records one assistant reply.
func (c *Collector) ObserveReply(source, band string, safety bool) {
	c.RepliesTotal.WithLabelValues(source, band).Inc()
	if safety {
		c.SafetyEscalations.Inc()
	}
}
