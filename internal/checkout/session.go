package checkout

import (
	"time"

	"github.com/google/uuid"

	"github.com/stagepass/stagepass-backend/pkg/enums"
	"github.com/stagepass/stagepass-backend/pkg/types"
)

// SessionLine is one ticket type held by the session, with the prices that
// were in force when the hold was taken.
type SessionLine struct {
	TicketTypeID      uuid.UUID `json:"ticket_type_id"`
	Name              string    `json:"name"`
	UnitPriceCents    int64     `json:"unit_price_cents"`
	BookingFeeCents   int64     `json:"booking_fee_cents"`
	OrganiserFeeCents int64     `json:"organiser_fee_cents"`
	Quantity          int       `json:"quantity"`
	Seats             []string  `json:"seats,omitempty"`
}

// Buyer holds the purchaser details captured at order submission.
type Buyer struct {
	UserID    *uuid.UUID `json:"user_id,omitempty"`
	FirstName string     `json:"first_name"`
	LastName  string     `json:"last_name"`
	Email     string     `json:"email"`
}

// AttendeeDetails is one admitted person as captured from the order form.
type AttendeeDetails struct {
	TicketTypeID uuid.UUID        `json:"ticket_type_id"`
	FirstName    string           `json:"first_name"`
	LastName     string           `json:"last_name"`
	Email        string           `json:"email"`
	Seat         *string          `json:"seat,omitempty"`
	Answers      types.AnswerList `json:"answers,omitempty"`
}

// Totals is the persisted price breakdown of the session.
type Totals struct {
	SubtotalCents      int64 `json:"subtotal_cents"`
	BookingFeesCents   int64 `json:"booking_fees_cents"`
	OrganiserFeesCents int64 `json:"organiser_fees_cents"`
	DiscountCents      int64 `json:"discount_cents"`
	TaxCents           int64 `json:"tax_cents"`
	TotalCents         int64 `json:"total_cents"`
	BecameFree         bool  `json:"became_free"`
}

// Session is the checkout document stored in Redis under its opaque token.
// It carries everything the finalizer needs so a gateway callback can
// complete the order without touching request state.
type Session struct {
	Token          string               `json:"token"`
	Status         enums.CheckoutStatus `json:"status"`
	EventID        uuid.UUID            `json:"event_id"`
	EventName      string               `json:"event_name"`
	Currency       string               `json:"currency"`
	TaxRatePercent string               `json:"tax_rate_percent"`
	ScheduleDate   *time.Time           `json:"schedule_date,omitempty"`
	Lines          []SessionLine        `json:"lines"`
	Totals         Totals               `json:"totals"`
	PromoCodeID    *uuid.UUID           `json:"promo_code_id,omitempty"`
	PromoCode      string               `json:"promo_code,omitempty"`
	Gateway        enums.GatewayKind    `json:"gateway,omitempty"`
	Buyer          *Buyer               `json:"buyer,omitempty"`
	Attendees      []AttendeeDetails    `json:"attendees,omitempty"`
	OrderReference string               `json:"order_reference,omitempty"`
	CreatedAt      time.Time            `json:"created_at"`
	ExpiresAt      time.Time            `json:"expires_at"`
}

// TicketCount is the number of admissions across all lines.
func (s *Session) TicketCount() int {
	total := 0
	for _, line := range s.Lines {
		total += line.Quantity
	}
	return total
}
