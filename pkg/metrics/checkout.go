package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// CheckoutMetrics counts the funnel stages of the checkout flow.
type CheckoutMetrics struct {
	reservationsCreated  prometheus.Counter
	reservationsRejected *prometheus.CounterVec
	ordersFinalized      *prometheus.CounterVec
	paymentOutcomes      *prometheus.CounterVec
}

// NewCheckoutMetrics registers checkout funnel metrics on the provided registerer.
func NewCheckoutMetrics(reg prometheus.Registerer) *CheckoutMetrics {
	if reg == nil {
		return &CheckoutMetrics{}
	}
	created := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "checkout_reservations_created_total",
		Help: "Reservations successfully created.",
	})
	rejected := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_reservations_rejected_total",
		Help: "Reservation requests rejected, by reason.",
	}, []string{"reason"})
	finalized := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_orders_finalized_total",
		Help: "Orders written by the finalizer, by gateway.",
	}, []string{"gateway"})
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_payment_outcomes_total",
		Help: "Payment attempt outcomes, by gateway and outcome.",
	}, []string{"gateway", "outcome"})
	reg.MustRegister(created, rejected, finalized, outcomes)
	return &CheckoutMetrics{
		reservationsCreated:  created,
		reservationsRejected: rejected,
		ordersFinalized:      finalized,
		paymentOutcomes:      outcomes,
	}
}

func (c *CheckoutMetrics) IncReservationCreated() {
	if c == nil || c.reservationsCreated == nil {
		return
	}
	c.reservationsCreated.Inc()
}

func (c *CheckoutMetrics) IncReservationRejected(reason string) {
	if c == nil || c.reservationsRejected == nil {
		return
	}
	c.reservationsRejected.WithLabelValues(jobLabel(reason)).Inc()
}

func (c *CheckoutMetrics) IncOrderFinalized(gateway string) {
	if c == nil || c.ordersFinalized == nil {
		return
	}
	c.ordersFinalized.WithLabelValues(jobLabel(gateway)).Inc()
}

func (c *CheckoutMetrics) IncPaymentOutcome(gateway, outcome string) {
	if c == nil || c.paymentOutcomes == nil {
		return
	}
	c.paymentOutcomes.WithLabelValues(jobLabel(gateway), jobLabel(outcome)).Inc()
}
