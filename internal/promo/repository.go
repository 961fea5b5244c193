package promo

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/stagepass/stagepass-backend/pkg/db/models"
)

// ErrNotFound is returned when no promo code matches.
var ErrNotFound = errors.New("promo code not found")

// ErrUsageLimitReached is returned when the guarded redemption update matches
// no row, meaning the code is spent.
var ErrUsageLimitReached = errors.New("promo code usage limit reached")

type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByCode(ctx context.Context, eventID uuid.UUID, code string) (*models.PromoCode, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.PromoCode, error)
	Redeem(ctx context.Context, id uuid.UUID) error
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

func (r *repository) FindByCode(ctx context.Context, eventID uuid.UUID, code string) (*models.PromoCode, error) {
	var row models.PromoCode
	err := r.db.WithContext(ctx).
		Where("event_id = ? AND LOWER(code) = ?", eventID, strings.ToLower(strings.TrimSpace(code))).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &row, nil
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.PromoCode, error) {
	var row models.PromoCode
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &row, nil
}

// Redeem increments the redemption count, guarded so the usage limit holds
// even when two finalizations race on the same code.
func (r *repository) Redeem(ctx context.Context, id uuid.UUID) error {
	res := r.db.WithContext(ctx).
		Model(&models.PromoCode{}).
		Where("id = ? AND (usage_limit IS NULL OR redeemed_count < usage_limit)", id).
		UpdateColumn("redeemed_count", gorm.Expr("redeemed_count + 1"))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrUsageLimitReached
	}
	return nil
}
