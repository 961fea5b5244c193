package outbox

import (
	"time"

	"github.com/google/uuid"
)

// OrderCompletedPayload is published when an order reaches its final state.
// Offline orders are published as awaiting payment instead.
type OrderCompletedPayload struct {
	OrderID        uuid.UUID  `json:"orderId"`
	OrderReference string     `json:"orderReference"`
	EventID        uuid.UUID  `json:"eventId"`
	Gateway        string     `json:"gateway"`
	Currency       string     `json:"currency"`
	TotalCents     int64      `json:"totalCents"`
	TicketCount    int        `json:"ticketCount"`
	ScheduleDate   *time.Time `json:"scheduleDate,omitempty"`
	CompletedAt    time.Time  `json:"completedAt"`
}
