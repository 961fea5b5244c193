package payments

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/stagepass/stagepass-backend/pkg/db/models"
	"github.com/stagepass/stagepass-backend/pkg/enums"
)

// ErrAttemptNotFound is returned when no attempt matches the reference.
var ErrAttemptNotFound = errors.New("payment attempt not found")

// Repository persists payment attempts keyed by merchant reference.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, attempt *models.PaymentAttempt) error
	FindByMerchantReference(ctx context.Context, reference string) (*models.PaymentAttempt, error)
	FindLatestBySessionToken(ctx context.Context, token string) (*models.PaymentAttempt, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status enums.PaymentAttemptStatus, transactionID, failureReason *string) error
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	if db == nil {
		return nil
	}
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, attempt *models.PaymentAttempt) error {
	if attempt.ID == uuid.Nil {
		attempt.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(attempt).Error
}

func (r *repository) FindByMerchantReference(ctx context.Context, reference string) (*models.PaymentAttempt, error) {
	var row models.PaymentAttempt
	err := r.db.WithContext(ctx).
		Where("merchant_reference = ?", reference).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAttemptNotFound
		}
		return nil, err
	}
	return &row, nil
}

func (r *repository) FindLatestBySessionToken(ctx context.Context, token string) (*models.PaymentAttempt, error) {
	var row models.PaymentAttempt
	err := r.db.WithContext(ctx).
		Where("session_token = ?", token).
		Order("created_at DESC").
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAttemptNotFound
		}
		return nil, err
	}
	return &row, nil
}

func (r *repository) UpdateStatus(ctx context.Context, id uuid.UUID, status enums.PaymentAttemptStatus, transactionID, failureReason *string) error {
	updates := map[string]any{"status": status}
	if transactionID != nil {
		updates["gateway_transaction_id"] = *transactionID
	}
	if failureReason != nil {
		updates["failure_reason"] = *failureReason
	}
	return r.db.WithContext(ctx).
		Model(&models.PaymentAttempt{}).
		Where("id = ?", id).
		Updates(updates).Error
}
