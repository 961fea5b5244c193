package models

import (
	"time"

	"github.com/google/uuid"
)

// Reservation is a short-lived hold on a quantity of one ticket type. Expired
// rows are treated as absent by every admission query and are physically
// removed by the sweeper.
type Reservation struct {
	ID           uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	SessionToken string     `gorm:"column:session_token;not null;index"`
	EventID      uuid.UUID  `gorm:"column:event_id;type:uuid;not null;index"`
	TicketTypeID uuid.UUID  `gorm:"column:ticket_type_id;type:uuid;not null;index"`
	Quantity     int        `gorm:"column:quantity;not null"`
	ScheduleDate *time.Time `gorm:"column:schedule_date"`
	ExpiresAt    time.Time  `gorm:"column:expires_at;not null;index"`
	CreatedAt    time.Time  `gorm:"column:created_at;autoCreateTime"`
}

// ReservedSeat holds one named seat for the lifetime of its reservation.
type ReservedSeat struct {
	ID            uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	ReservationID uuid.UUID `gorm:"column:reservation_id;type:uuid;not null;index"`
	EventID       uuid.UUID `gorm:"column:event_id;type:uuid;not null;index:idx_reserved_seat_lookup"`
	TicketTypeID  uuid.UUID `gorm:"column:ticket_type_id;type:uuid;not null"`
	Seat          string    `gorm:"column:seat;not null;index:idx_reserved_seat_lookup"`
	ExpiresAt     time.Time `gorm:"column:expires_at;not null;index"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime"`
}
