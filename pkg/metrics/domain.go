package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// DomainMetrics counts orchestration outcomes across orders, offers,
// payments and delivery.
type DomainMetrics struct {
	orderTransitions *prometheus.CounterVec
	offers           *prometheus.CounterVec
	paymentEvents    *prometheus.CounterVec
	deliveryClaims   *prometheus.CounterVec
	outboxPublished  *prometheus.CounterVec
}

func NewDomainMetrics(reg prometheus.Registerer) *DomainMetrics {
	if reg == nil {
		return &DomainMetrics{}
	}
	m := &DomainMetrics{
		orderTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_transitions_total",
			Help:      "Order status transitions by source and target status.",
		}, []string{"from", "to"}),
		offers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "offer_outcomes_total",
			Help:      "Offer lifecycle outcomes.",
		}, []string{"outcome"}),
		paymentEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_gateway_events_total",
			Help:      "Gateway events applied to payments.",
		}, []string{"type", "result"}),
		deliveryClaims: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_responses_total",
			Help:      "Delivery partner responses by outcome.",
		}, []string{"outcome"}),
		outboxPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_publish_total",
			Help:      "Outbox publish attempts by result.",
		}, []string{"event_type", "result"}),
	}
	reg.MustRegister(m.orderTransitions, m.offers, m.paymentEvents, m.deliveryClaims, m.outboxPublished)
	return m
}

func (m *DomainMetrics) OrderTransition(from, to string) {
	if m == nil || m.orderTransitions == nil {
		return
	}
	m.orderTransitions.WithLabelValues(normalizeLabel(from), normalizeLabel(to)).Inc()
}

func (m *DomainMetrics) OfferOutcome(outcome string) {
	if m == nil || m.offers == nil {
		return
	}
	m.offers.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (m *DomainMetrics) PaymentEvent(eventType, result string) {
	if m == nil || m.paymentEvents == nil {
		return
	}
	m.paymentEvents.WithLabelValues(normalizeLabel(eventType), normalizeLabel(result)).Inc()
}

func (m *DomainMetrics) DeliveryResponse(outcome string) {
	if m == nil || m.deliveryClaims == nil {
		return
	}
	m.deliveryClaims.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (m *DomainMetrics) OutboxPublish(eventType, result string) {
	if m == nil || m.outboxPublished == nil {
		return
	}
	m.outboxPublished.WithLabelValues(normalizeLabel(eventType), normalizeLabel(result)).Inc()
}
