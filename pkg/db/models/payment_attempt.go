package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/stagepass/stagepass-backend/pkg/enums"
)

// PaymentAttempt correlates a checkout session with an in-flight gateway
// payment. Callbacks re-derive the session from the merchant reference stored
// here, never from caller-supplied identifiers.
type PaymentAttempt struct {
	ID                   uuid.UUID                  `gorm:"column:id;type:uuid;primaryKey"`
	MerchantReference    string                     `gorm:"column:merchant_reference;not null;uniqueIndex"`
	SessionToken         string                     `gorm:"column:session_token;not null;index"`
	Gateway              enums.GatewayKind          `gorm:"column:gateway;type:text;not null"`
	AmountCents          int64                      `gorm:"column:amount_cents;not null"`
	Currency             string                     `gorm:"column:currency;type:text;not null"`
	Status               enums.PaymentAttemptStatus `gorm:"column:status;type:text;not null"`
	GatewayTransactionID *string                    `gorm:"column:gateway_transaction_id"`
	FailureReason        *string                    `gorm:"column:failure_reason"`
	CreatedAt            time.Time                  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time                  `gorm:"column:updated_at;autoUpdateTime"`
}
