package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Event is the sellable happening tickets belong to. Recurring events carry
// schedule instances; buyers pick one via the reservation's schedule date.
type Event struct {
	ID                  uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	Name                string          `gorm:"column:name;not null"`
	Currency            string          `gorm:"column:currency;type:text;not null;default:'USD'"`
	TaxRatePercent      decimal.Decimal `gorm:"column:tax_rate_percent;type:numeric(6,3);not null;default:0"`
	TaxName             *string         `gorm:"column:tax_name"`
	OfflinePaymentsOn   bool            `gorm:"column:offline_payments_on;not null;default:false"`
	IsRecurring         bool            `gorm:"column:is_recurring;not null;default:false"`
	StartsAt            *time.Time      `gorm:"column:starts_at"`
	EndsAt              *time.Time      `gorm:"column:ends_at"`
	SalesVolumeCents    int64           `gorm:"column:sales_volume_cents;not null;default:0"`
	OrganiserFeesCents  int64           `gorm:"column:organiser_fees_cents;not null;default:0"`
	TicketsSoldRollup   int64           `gorm:"column:tickets_sold_rollup;not null;default:0"`
	TicketTypes         []TicketType    `gorm:"foreignKey:EventID;constraint:OnDelete:CASCADE"`
	CreatedAt           time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt           time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}
