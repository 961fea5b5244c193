package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/stagepass/stagepass-backend/pkg/enums"
)

// Order is the durable record written exactly once per checkout session.
type Order struct {
	ID                 uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	Reference          string            `gorm:"column:reference;not null;uniqueIndex"`
	EventID            uuid.UUID         `gorm:"column:event_id;type:uuid;not null;index"`
	SessionToken       string            `gorm:"column:session_token;not null;uniqueIndex"`
	BuyerUserID        *uuid.UUID        `gorm:"column:buyer_user_id;type:uuid"`
	BuyerFirstName     string            `gorm:"column:buyer_first_name;not null"`
	BuyerLastName      string            `gorm:"column:buyer_last_name;not null"`
	BuyerEmail         string            `gorm:"column:buyer_email;not null"`
	Currency           string            `gorm:"column:currency;type:text;not null"`
	Status             enums.OrderStatus `gorm:"column:status;type:text;not null"`
	Gateway            enums.GatewayKind `gorm:"column:gateway;type:text;not null"`
	PaymentReceived    bool              `gorm:"column:payment_received;not null;default:false"`
	SubtotalCents      int64             `gorm:"column:subtotal_cents;not null"`
	BookingFeesCents   int64             `gorm:"column:booking_fees_cents;not null;default:0"`
	OrganiserFeesCents int64             `gorm:"column:organiser_fees_cents;not null;default:0"`
	DiscountCents      int64             `gorm:"column:discount_cents;not null;default:0"`
	TaxCents           int64             `gorm:"column:tax_cents;not null;default:0"`
	TotalCents         int64             `gorm:"column:total_cents;not null"`
	PromoCodeID        *uuid.UUID        `gorm:"column:promo_code_id;type:uuid"`
	ScheduleDate       *time.Time        `gorm:"column:schedule_date"`
	Items              []OrderItem       `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	Attendees          []Attendee        `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	CreatedAt          time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

// OrderItem snapshots one ticket type line at the prices in force when the
// order was finalized.
type OrderItem struct {
	ID                uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	OrderID           uuid.UUID `gorm:"column:order_id;type:uuid;not null;index"`
	TicketTypeID      uuid.UUID `gorm:"column:ticket_type_id;type:uuid;not null"`
	Name              string    `gorm:"column:name;not null"`
	UnitPriceCents    int64     `gorm:"column:unit_price_cents;not null"`
	BookingFeeCents   int64     `gorm:"column:booking_fee_cents;not null;default:0"`
	OrganiserFeeCents int64     `gorm:"column:organiser_fee_cents;not null;default:0"`
	Qty               int       `gorm:"column:qty;not null"`
	TotalCents        int64     `gorm:"column:total_cents;not null"`
	CreatedAt         time.Time `gorm:"column:created_at;autoCreateTime"`
}
