package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/stagepass/stagepass-backend/pkg/types"
)

// Attendee is one admitted person on an order. Seated ticket types bind each
// attendee to a seat label that stays exclusive for the event.
type Attendee struct {
	ID           uuid.UUID        `gorm:"column:id;type:uuid;primaryKey"`
	OrderID      uuid.UUID        `gorm:"column:order_id;type:uuid;not null;index"`
	EventID      uuid.UUID        `gorm:"column:event_id;type:uuid;not null;index:idx_attendee_seat_lookup"`
	TicketTypeID uuid.UUID        `gorm:"column:ticket_type_id;type:uuid;not null"`
	Reference    string           `gorm:"column:reference;not null;uniqueIndex"`
	FirstName    string           `gorm:"column:first_name;not null"`
	LastName     string           `gorm:"column:last_name;not null"`
	Email        string           `gorm:"column:email;not null"`
	Seat         *string          `gorm:"column:seat;index:idx_attendee_seat_lookup"`
	Answers      types.AnswerList `gorm:"column:answers;type:jsonb;serializer:json"`
	CreatedAt    time.Time        `gorm:"column:created_at;autoCreateTime"`
}
