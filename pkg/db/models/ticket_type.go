package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/stagepass/stagepass-backend/pkg/types"
)

// TicketType is a sellable unit: a price, a finite quantity, and per-person
// bounds. quantity_sold only moves inside a finalize transaction; lock_version
// exists so admission checks can take a row write-lock portably.
type TicketType struct {
	ID                uuid.UUID          `gorm:"column:id;type:uuid;primaryKey"`
	EventID           uuid.UUID          `gorm:"column:event_id;type:uuid;not null;index"`
	Name              string             `gorm:"column:name;not null"`
	PriceCents        int64              `gorm:"column:price_cents;not null"`
	BookingFeeCents   int64              `gorm:"column:booking_fee_cents;not null;default:0"`
	OrganiserFeeCents int64              `gorm:"column:organiser_fee_cents;not null;default:0"`
	QuantityAvailable int                `gorm:"column:quantity_available;not null"`
	QuantitySold      int                `gorm:"column:quantity_sold;not null;default:0"`
	MinPerPerson      int                `gorm:"column:min_per_person;not null;default:1"`
	MaxPerPerson      int                `gorm:"column:max_per_person;not null;default:10"`
	Seated            bool               `gorm:"column:seated;not null;default:false"`
	Questions         types.QuestionList `gorm:"column:questions;type:jsonb;serializer:json"`
	LockVersion       int64              `gorm:"column:lock_version;not null;default:0"`
	CreatedAt         time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}
