package enums

import "fmt"

// CheckoutStatus tracks the lifecycle of a checkout session.
type CheckoutStatus string

const (
	CheckoutStatusCreated         CheckoutStatus = "created"
	CheckoutStatusAwaitingPayment CheckoutStatus = "awaiting_payment"
	CheckoutStatusPaid            CheckoutStatus = "paid"
	CheckoutStatusCompleted       CheckoutStatus = "completed"
	CheckoutStatusExpired         CheckoutStatus = "expired"
	CheckoutStatusCancelled       CheckoutStatus = "cancelled"
)

var validCheckoutStatuses = []CheckoutStatus{
	CheckoutStatusCreated,
	CheckoutStatusAwaitingPayment,
	CheckoutStatusPaid,
	CheckoutStatusCompleted,
	CheckoutStatusExpired,
	CheckoutStatusCancelled,
}

// checkoutTransitions is the legal forward-transition table. Expired and
// cancelled absorb from any non-terminal state; completed is terminal.
var checkoutTransitions = map[CheckoutStatus][]CheckoutStatus{
	CheckoutStatusCreated:         {CheckoutStatusAwaitingPayment, CheckoutStatusCompleted, CheckoutStatusExpired, CheckoutStatusCancelled},
	CheckoutStatusAwaitingPayment: {CheckoutStatusPaid, CheckoutStatusExpired, CheckoutStatusCancelled},
	CheckoutStatusPaid:            {CheckoutStatusCompleted, CheckoutStatusExpired, CheckoutStatusCancelled},
}

// String implements fmt.Stringer.
func (s CheckoutStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known CheckoutStatus.
func (s CheckoutStatus) IsValid() bool {
	for _, candidate := range validCheckoutStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are allowed.
func (s CheckoutStatus) IsTerminal() bool {
	return s == CheckoutStatusCompleted || s == CheckoutStatusExpired || s == CheckoutStatusCancelled
}

// CanTransitionTo reports whether the move from s to next is legal.
func (s CheckoutStatus) CanTransitionTo(next CheckoutStatus) bool {
	for _, candidate := range checkoutTransitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// ParseCheckoutStatus converts raw input into a CheckoutStatus.
func ParseCheckoutStatus(value string) (CheckoutStatus, error) {
	for _, candidate := range validCheckoutStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid checkout status %q", value)
}
