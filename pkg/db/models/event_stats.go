package models

import (
	"time"

	"github.com/google/uuid"
)

// EventStats is a per-day sales rollup maintained best-effort after an order
// commits. Losing an increment never invalidates an order.
type EventStats struct {
	ID                 uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	EventID            uuid.UUID `gorm:"column:event_id;type:uuid;not null;uniqueIndex:idx_event_stats_day"`
	Date               string    `gorm:"column:date;type:date;not null;uniqueIndex:idx_event_stats_day"`
	TicketsSold        int64     `gorm:"column:tickets_sold;not null;default:0"`
	OrdersCount        int64     `gorm:"column:orders_count;not null;default:0"`
	SalesVolumeCents   int64     `gorm:"column:sales_volume_cents;not null;default:0"`
	OrganiserFeesCents int64     `gorm:"column:organiser_fees_cents;not null;default:0"`
	CreatedAt          time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
