package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink implements relaytrace.MetricsSink over a
// prometheus.Registry. No HTTP transport is wired (out of scope per spec
// §1); the registry is still populated and gatherable by whatever embeds
// this process, per the Domain Stack table's "no HTTP, but the
// prometheus.Registry is still populated" note.
type PrometheusSink struct {
	deliverLatency *prometheus.HistogramVec
	deadLetters    *prometheus.CounterVec
}

// NewPrometheusSink registers Relay's deliver-latency histogram and
// dead-letter counter on reg and returns
// the sink ready for use as a relaytrace.MetricsSink.
func NewPrometheusSink(reg *prometheus.Registry) *PrometheusSink {
	s := &PrometheusSink{
		deliverLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "dorkos",
			Subsystem: "relay",
			Name:      "deliver_latency_seconds",
			Help:      "Duration of each subscriber delivery, by subject.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"subject"}),
		deadLetters: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dorkos",
			Subsystem: "relay",
			Name:      "dead_letters_total",
			Help:      "Envelopes dead-lettered, by reason.",
		}, []string{"reason"}),
	}
	reg.MustRegister(s.deliverLatency, s.deadLetters)
	return s
}

// ObserveDeliverLatency implements relaytrace.MetricsSink.
func (s *PrometheusSink) ObserveDeliverLatency(subject string, d time.Duration) {
	s.deliverLatency.WithLabelValues(subject).Observe(durationMs(d) / 1000)
}

// IncDeadLetter implements relaytrace.MetricsSink.
func (s *PrometheusSink) IncDeadLetter(reason string) {
	s.deadLetters.WithLabelValues(reason).Inc()
}
