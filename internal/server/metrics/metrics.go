// Package metrics exposes the Prometheus collectors of the service. All
// methods are safe on a nil *Metrics so components may run without metrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	published       *prometheus.CounterVec
	publishFailures *prometheus.CounterVec
	decisions       *prometheus.CounterVec
	taskFailures    *prometheus.CounterVec
	inbound         *prometheus.CounterVec
	dedupConflicts  *prometheus.CounterVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "creditlines",
			Name:      "messages_published_total",
			Help:      "Outbound messages acknowledged by the transport.",
		}, []string{"message_type"}),
		publishFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "creditlines",
			Name:      "message_publish_failures_total",
			Help:      "Outbound messages that exhausted their retries.",
		}, []string{"message_type"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "creditlines",
			Name:      "share_decisions_total",
			Help:      "Share engine outcomes per domain.",
		}, []string{"domain", "decision"}),
		taskFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "creditlines",
			Name:      "task_sync_failures_total",
			Help:      "Swallowed task and notification failures.",
		}, []string{"operation"}),
		inbound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "creditlines",
			Name:      "inbound_messages_total",
			Help:      "Inbound messages by routing key and outcome.",
		}, []string{"routing_key", "outcome"}),
		dedupConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "creditlines",
			Name:      "request_dedup_conflicts_total",
			Help:      "Received requests that lost the pending slot race.",
		}, []string{"domain"}),
	}

	for _, c := range []prometheus.Collector{m.published, m.publishFailures, m.decisions, m.taskFailures, m.inbound, m.dedupConflicts} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) Published(messageType string) {
	if m != nil {
		m.published.WithLabelValues(messageType).Inc()
	}
}

func (m *Metrics) PublishFailed(messageType string) {
	if m != nil {
		m.publishFailures.WithLabelValues(messageType).Inc()
	}
}

func (m *Metrics) Decision(domain, decision string) {
	if m != nil {
		m.decisions.WithLabelValues(domain, decision).Inc()
	}
}

func (m *Metrics) TaskFailed(operation string) {
	if m != nil {
		m.taskFailures.WithLabelValues(operation).Inc()
	}
}

func (m *Metrics) Inbound(routingKey, outcome string) {
	if m != nil {
		m.inbound.WithLabelValues(routingKey, outcome).Inc()
	}
}

func (m *Metrics) DedupConflict(domain string) {
	if m != nil {
		m.dedupConflicts.WithLabelValues(domain).Inc()
	}
}
