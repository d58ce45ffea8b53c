package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	SendsStarted         prometheus.Counter
	SendsSucceeded       prometheus.Counter
	SendsBlocked         *prometheus.CounterVec
	SendsFailed          *prometheus.CounterVec
	ConversationsCreated prometheus.Counter
	Rewinds              prometheus.Counter
	SendDuration         prometheus.Histogram
}

var (
	once   sync.Once
	global *Metrics
)

func Global() *Metrics {
	once.Do(func() {
		global = New(prometheus.DefaultRegisterer)
	})
	return global
}

// New builds the collectors and registers them with reg when reg is non-nil.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SendsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatflow",
			Name:      "sends_started_total",
			Help:      "Total message sends accepted for processing",
		}),
		SendsSucceeded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatflow",
			Name:      "sends_succeeded_total",
			Help:      "Total message sends reconciled with a confirmed response",
		}),
		SendsBlocked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatflow",
			Name:      "sends_blocked_total",
			Help:      "Total message sends stopped before any network call",
		}, []string{"reason"}),
		SendsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatflow",
			Name:      "sends_failed_total",
			Help:      "Total message sends rolled back after the optimistic insert",
		}, []string{"reason"}),
		ConversationsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatflow",
			Name:      "conversations_created_total",
			Help:      "Total conversations created by a confirmed send",
		}),
		Rewinds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatflow",
			Name:      "rewinds_total",
			Help:      "Total sends that rewrote conversation history from a rewind point",
		}),
		SendDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "chatflow",
			Name:      "remote_send_duration_seconds",
			Help:      "Latency of the remote chat call",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 8),
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.SendsStarted,
			m.SendsSucceeded,
			m.SendsBlocked,
			m.SendsFailed,
			m.ConversationsCreated,
			m.Rewinds,
			m.SendDuration,
		)
	}
	return m
}
