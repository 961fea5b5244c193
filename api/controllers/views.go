package controllers

import (
	"time"

	"github.com/google/uuid"

	checkoutsvc "github.com/stagepass/stagepass-backend/internal/checkout"
	"github.com/stagepass/stagepass-backend/pkg/db/models"
	"github.com/stagepass/stagepass-backend/pkg/types"
)

type sessionLineResponse struct {
	TicketTypeID      uuid.UUID `json:"ticket_type_id"`
	Name              string    `json:"name"`
	UnitPriceCents    int64     `json:"unit_price_cents"`
	BookingFeeCents   int64     `json:"booking_fee_cents"`
	OrganiserFeeCents int64     `json:"organiser_fee_cents"`
	Quantity          int       `json:"quantity"`
	Seats             []string  `json:"seats,omitempty"`
}

type totalsResponse struct {
	SubtotalCents      int64 `json:"subtotal_cents"`
	BookingFeesCents   int64 `json:"booking_fees_cents"`
	OrganiserFeesCents int64 `json:"organiser_fees_cents"`
	DiscountCents      int64 `json:"discount_cents"`
	TaxCents           int64 `json:"tax_cents"`
	TotalCents         int64 `json:"total_cents"`
	BecameFree         bool  `json:"became_free"`
}

type sessionResponse struct {
	Token            string                `json:"token"`
	Status           string                `json:"status"`
	EventID          uuid.UUID             `json:"event_id"`
	EventName        string                `json:"event_name"`
	Currency         string                `json:"currency"`
	ScheduleDate     *time.Time            `json:"schedule_date,omitempty"`
	Lines            []sessionLineResponse `json:"lines"`
	Totals           totalsResponse        `json:"totals"`
	PromoCode        string                `json:"promo_code,omitempty"`
	OrderReference   string                `json:"order_reference,omitempty"`
	ExpiresAt        time.Time             `json:"expires_at"`
	SecondsToExpiry  int64                 `json:"seconds_to_expiry"`
}

func newSessionResponse(session *checkoutsvc.Session, secondsToExpiry int64) sessionResponse {
	if session == nil {
		return sessionResponse{}
	}
	lines := make([]sessionLineResponse, 0, len(session.Lines))
	for _, line := range session.Lines {
		lines = append(lines, sessionLineResponse{
			TicketTypeID:      line.TicketTypeID,
			Name:              line.Name,
			UnitPriceCents:    line.UnitPriceCents,
			BookingFeeCents:   line.BookingFeeCents,
			OrganiserFeeCents: line.OrganiserFeeCents,
			Quantity:          line.Quantity,
			Seats:             line.Seats,
		})
	}
	return sessionResponse{
		Token:           session.Token,
		Status:          string(session.Status),
		EventID:         session.EventID,
		EventName:       session.EventName,
		Currency:        session.Currency,
		ScheduleDate:    session.ScheduleDate,
		Lines:           lines,
		Totals: totalsResponse{
			SubtotalCents:      session.Totals.SubtotalCents,
			BookingFeesCents:   session.Totals.BookingFeesCents,
			OrganiserFeesCents: session.Totals.OrganiserFeesCents,
			DiscountCents:      session.Totals.DiscountCents,
			TaxCents:           session.Totals.TaxCents,
			TotalCents:         session.Totals.TotalCents,
			BecameFree:         session.Totals.BecameFree,
		},
		PromoCode:       session.PromoCode,
		OrderReference:  session.OrderReference,
		ExpiresAt:       session.ExpiresAt,
		SecondsToExpiry: secondsToExpiry,
	}
}

type orderItemResponse struct {
	TicketTypeID      uuid.UUID `json:"ticket_type_id"`
	Name              string    `json:"name"`
	UnitPriceCents    int64     `json:"unit_price_cents"`
	BookingFeeCents   int64     `json:"booking_fee_cents"`
	OrganiserFeeCents int64     `json:"organiser_fee_cents"`
	Qty               int       `json:"qty"`
	TotalCents        int64     `json:"total_cents"`
}

type attendeeResponse struct {
	Reference    string           `json:"reference"`
	TicketTypeID uuid.UUID        `json:"ticket_type_id"`
	FirstName    string           `json:"first_name"`
	LastName     string           `json:"last_name"`
	Email        string           `json:"email"`
	Seat         *string          `json:"seat,omitempty"`
	Answers      types.AnswerList `json:"answers,omitempty"`
}

type orderResponse struct {
	Reference          string              `json:"reference"`
	EventID            uuid.UUID           `json:"event_id"`
	Status             string              `json:"status"`
	Gateway            string              `json:"gateway"`
	PaymentReceived    bool                `json:"payment_received"`
	Currency           string              `json:"currency"`
	BuyerFirstName     string              `json:"buyer_first_name"`
	BuyerLastName      string              `json:"buyer_last_name"`
	BuyerEmail         string              `json:"buyer_email"`
	SubtotalCents      int64               `json:"subtotal_cents"`
	BookingFeesCents   int64               `json:"booking_fees_cents"`
	OrganiserFeesCents int64               `json:"organiser_fees_cents"`
	DiscountCents      int64               `json:"discount_cents"`
	TaxCents           int64               `json:"tax_cents"`
	TotalCents         int64               `json:"total_cents"`
	ScheduleDate       *time.Time          `json:"schedule_date,omitempty"`
	Items              []orderItemResponse `json:"items"`
	Attendees          []attendeeResponse  `json:"attendees"`
	CreatedAt          time.Time           `json:"created_at"`
}

func newOrderResponse(order *models.Order) orderResponse {
	if order == nil {
		return orderResponse{}
	}
	items := make([]orderItemResponse, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemResponse{
			TicketTypeID:      item.TicketTypeID,
			Name:              item.Name,
			UnitPriceCents:    item.UnitPriceCents,
			BookingFeeCents:   item.BookingFeeCents,
			OrganiserFeeCents: item.OrganiserFeeCents,
			Qty:               item.Qty,
			TotalCents:        item.TotalCents,
		})
	}
	attendees := make([]attendeeResponse, 0, len(order.Attendees))
	for _, attendee := range order.Attendees {
		attendees = append(attendees, attendeeResponse{
			Reference:    attendee.Reference,
			TicketTypeID: attendee.TicketTypeID,
			FirstName:    attendee.FirstName,
			LastName:     attendee.LastName,
			Email:        attendee.Email,
			Seat:         attendee.Seat,
			Answers:      attendee.Answers,
		})
	}
	return orderResponse{
		Reference:          order.Reference,
		EventID:            order.EventID,
		Status:             string(order.Status),
		Gateway:            string(order.Gateway),
		PaymentReceived:    order.PaymentReceived,
		Currency:           order.Currency,
		BuyerFirstName:     order.BuyerFirstName,
		BuyerLastName:      order.BuyerLastName,
		BuyerEmail:         order.BuyerEmail,
		SubtotalCents:      order.SubtotalCents,
		BookingFeesCents:   order.BookingFeesCents,
		OrganiserFeesCents: order.OrganiserFeesCents,
		DiscountCents:      order.DiscountCents,
		TaxCents:           order.TaxCents,
		TotalCents:         order.TotalCents,
		ScheduleDate:       order.ScheduleDate,
		Items:              items,
		Attendees:          attendees,
		CreatedAt:          order.CreatedAt,
	}
}
