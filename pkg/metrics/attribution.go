package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// AttributionMetrics counts resolution outcomes, webhook rejections and
// conversion forwarding attempts.
type AttributionMetrics struct {
	resolutions *prometheus.CounterVec
	rejections  *prometheus.CounterVec
	forwarding  *prometheus.CounterVec
	remapped    prometheus.Counter
}

// NewAttributionMetrics registers the attribution collectors on reg. A nil
// registerer yields a no-op collector set.
func NewAttributionMetrics(reg prometheus.Registerer) *AttributionMetrics {
	if reg == nil {
		return &AttributionMetrics{}
	}
	resolutions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "attribution_resolutions_total",
		Help: "Attribution resolutions by method and strategy.",
	}, []string{"method", "strategy"})
	rejections := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "attribution_webhook_rejections_total",
		Help: "Inbound webhooks rejected before processing.",
	}, []string{"reason"})
	forwarding := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "attribution_forwarding_total",
		Help: "Conversion forwarding attempts by outcome.",
	}, []string{"outcome"})
	remapped := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "attribution_remapped_events_total",
		Help: "Purchases mapped retroactively by the bulk remapper.",
	})
	reg.MustRegister(resolutions, rejections, forwarding, remapped)
	return &AttributionMetrics{
		resolutions: resolutions,
		rejections:  rejections,
		forwarding:  forwarding,
		remapped:    remapped,
	}
}

// IncResolution records how an inbound event was attributed.
func (m *AttributionMetrics) IncResolution(method, strategy string) {
	if m == nil || m.resolutions == nil {
		return
	}
	m.resolutions.WithLabelValues(normalizeLabel(method), normalizeLabel(strategy)).Inc()
}

// IncRejection records a webhook refused before any store mutation.
func (m *AttributionMetrics) IncRejection(reason string) {
	if m == nil || m.rejections == nil {
		return
	}
	m.rejections.WithLabelValues(normalizeLabel(reason)).Inc()
}

// IncForwarding records a forwarding attempt outcome (sent, failed, skipped).
func (m *AttributionMetrics) IncForwarding(outcome string) {
	if m == nil || m.forwarding == nil {
		return
	}
	m.forwarding.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// AddRemapped adds n retroactively mapped purchases.
func (m *AttributionMetrics) AddRemapped(n int) {
	if m == nil || m.remapped == nil || n <= 0 {
		return
	}
	m.remapped.Add(float64(n))
}
