package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/stagepass/stagepass-backend/pkg/enums"
)

// PromoCode reduces the payable total of a checkout. Percent codes take a
// share of the discountable subtotal; fixed codes remove a flat amount per
// ticket, never below zero.
type PromoCode struct {
	ID            uuid.UUID          `gorm:"column:id;type:uuid;primaryKey"`
	EventID       uuid.UUID          `gorm:"column:event_id;type:uuid;not null;uniqueIndex:idx_promo_event_code"`
	Code          string             `gorm:"column:code;not null;uniqueIndex:idx_promo_event_code"`
	DiscountType  enums.DiscountType `gorm:"column:discount_type;type:text;not null"`
	PercentOff    *decimal.Decimal   `gorm:"column:percent_off;type:numeric(6,3)"`
	AmountCents   *int64             `gorm:"column:amount_cents"`
	UsageLimit    *int               `gorm:"column:usage_limit"`
	RedeemedCount int                `gorm:"column:redeemed_count;not null;default:0"`
	StartsAt      *time.Time         `gorm:"column:starts_at"`
	EndsAt        *time.Time         `gorm:"column:ends_at"`
	Active        bool               `gorm:"column:active;not null;default:true"`
	CreatedAt     time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}
