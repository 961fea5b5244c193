package enums

import "fmt"

// OrderStatus is the persisted state of a finalized order.
type OrderStatus string

const (
	// OrderStatusCompleted means payment was captured (or the order was free).
	OrderStatusCompleted OrderStatus = "completed"
	// OrderStatusAwaitingPayment is used for offline orders paid at the door.
	OrderStatusAwaitingPayment OrderStatus = "awaiting_payment"
	OrderStatusCancelled       OrderStatus = "cancelled"
)

var validOrderStatuses = []OrderStatus{
	OrderStatusCompleted,
	OrderStatusAwaitingPayment,
	OrderStatusCancelled,
}

func (s OrderStatus) String() string {
	return string(s)
}

func (s OrderStatus) IsValid() bool {
	for _, candidate := range validOrderStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseOrderStatus converts raw input into an OrderStatus.
func ParseOrderStatus(value string) (OrderStatus, error) {
	for _, candidate := range validOrderStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid order status %q", value)
}

// DiscountType is how a promo code reduces the payable total.
type DiscountType string

const (
	// DiscountPercent removes a percentage of the discountable subtotal.
	DiscountPercent DiscountType = "percent"
	// DiscountFixed removes a fixed amount per ticket, capped at the subtotal.
	DiscountFixed DiscountType = "fixed"
)

func (d DiscountType) String() string {
	return string(d)
}

func (d DiscountType) IsValid() bool {
	return d == DiscountPercent || d == DiscountFixed
}
