package promo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/stagepass/stagepass-backend/internal/pricing"
	"github.com/stagepass/stagepass-backend/pkg/db/models"
	"github.com/stagepass/stagepass-backend/pkg/enums"
	pkgerrors "github.com/stagepass/stagepass-backend/pkg/errors"
)

type Service struct {
	repo Repository
	now  func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// Validate resolves a code for the event and checks it is currently
// redeemable. Redemption itself happens later, inside the finalize
// transaction.
func (s *Service) Validate(ctx context.Context, eventID uuid.UUID, code string) (*models.PromoCode, error) {
	row, err := s.repo.FindByCode(ctx, eventID, code)
	if err != nil {
		if err == ErrNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "promo code not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading promo code")
	}

	now := s.now()
	if !row.Active {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "promo code is not active")
	}
	if row.StartsAt != nil && now.Before(*row.StartsAt) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "promo code is not active yet")
	}
	if row.EndsAt != nil && now.After(*row.EndsAt) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "promo code has expired")
	}
	if row.UsageLimit != nil && row.RedeemedCount >= *row.UsageLimit {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "promo code usage limit reached")
	}

	return row, nil
}

// Discount converts a stored code into the pricing engine's discount shape.
func Discount(row *models.PromoCode) *pricing.Discount {
	if row == nil {
		return nil
	}
	d := &pricing.Discount{Type: row.DiscountType}
	switch row.DiscountType {
	case enums.DiscountPercent:
		if row.PercentOff != nil {
			d.PercentOff = *row.PercentOff
		} else {
			d.PercentOff = decimal.Zero
		}
	case enums.DiscountFixed:
		if row.AmountCents != nil {
			d.AmountCents = *row.AmountCents
		}
	}
	return d
}
