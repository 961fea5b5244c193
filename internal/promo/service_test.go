package promo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/stagepass/stagepass-backend/pkg/db/models"
	"github.com/stagepass/stagepass-backend/pkg/enums"
	pkgerrors "github.com/stagepass/stagepass-backend/pkg/errors"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:promo_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := conn.AutoMigrate(&models.PromoCode{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return conn
}

func seedPromo(t *testing.T, conn *gorm.DB, row *models.PromoCode) {
	t.Helper()
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	if row.Code == "" {
		row.Code = "EARLYBIRD"
	}
	if row.DiscountType == "" {
		pct := decimal.NewFromInt(10)
		row.DiscountType = enums.DiscountPercent
		row.PercentOff = &pct
	}
	if err := conn.Create(row).Error; err != nil {
		t.Fatalf("seed promo: %v", err)
	}
}

func assertValidationError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected validation error")
	}
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateActiveCode(t *testing.T) {
	t.Parallel()

	conn := newTestDB(t)
	svc := NewService(NewRepository(conn))
	ctx := context.Background()
	eventID := uuid.New()

	seedPromo(t, conn, &models.PromoCode{EventID: eventID, Code: "EARLYBIRD", Active: true})

	row, err := svc.Validate(ctx, eventID, "earlybird")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if row.Code != "EARLYBIRD" {
		t.Fatalf("unexpected code: %q", row.Code)
	}

	// Codes belong to their event.
	_, err = svc.Validate(ctx, uuid.New(), "earlybird")
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeNotFound {
		t.Fatalf("expected not found for other event, got %v", err)
	}
}

func TestValidateWindowsAndFlags(t *testing.T) {
	t.Parallel()

	conn := newTestDB(t)
	svc := NewService(NewRepository(conn))
	ctx := context.Background()
	eventID := uuid.New()

	future := time.Now().Add(time.Hour)
	past := time.Now().Add(-time.Hour)
	limit := 5

	seedPromo(t, conn, &models.PromoCode{EventID: eventID, Code: "INACTIVE", Active: false})
	seedPromo(t, conn, &models.PromoCode{EventID: eventID, Code: "NOTYET", Active: true, StartsAt: &future})
	seedPromo(t, conn, &models.PromoCode{EventID: eventID, Code: "EXPIRED", Active: true, EndsAt: &past})
	seedPromo(t, conn, &models.PromoCode{EventID: eventID, Code: "SPENT", Active: true, UsageLimit: &limit, RedeemedCount: 5})

	for _, code := range []string{"INACTIVE", "NOTYET", "EXPIRED", "SPENT"} {
		_, err := svc.Validate(ctx, eventID, code)
		assertValidationError(t, err)
	}
}

func TestRedeemGuardsUsageLimit(t *testing.T) {
	t.Parallel()

	conn := newTestDB(t)
	repo := NewRepository(conn)
	ctx := context.Background()

	limit := 2
	row := models.PromoCode{EventID: uuid.New(), Code: "TWICE", Active: true, UsageLimit: &limit}
	seedPromo(t, conn, &row)

	if err := repo.Redeem(ctx, row.ID); err != nil {
		t.Fatalf("first redeem: %v", err)
	}
	if err := repo.Redeem(ctx, row.ID); err != nil {
		t.Fatalf("second redeem: %v", err)
	}
	if err := repo.Redeem(ctx, row.ID); !errors.Is(err, ErrUsageLimitReached) {
		t.Fatalf("expected ErrUsageLimitReached, got %v", err)
	}

	var loaded models.PromoCode
	if err := conn.Where("id = ?", row.ID).First(&loaded).Error; err != nil {
		t.Fatalf("load promo: %v", err)
	}
	if loaded.RedeemedCount != 2 {
		t.Fatalf("redeemed_count = %d, want 2", loaded.RedeemedCount)
	}
}

func TestRedeemUnlimited(t *testing.T) {
	t.Parallel()

	conn := newTestDB(t)
	repo := NewRepository(conn)
	ctx := context.Background()

	row := models.PromoCode{EventID: uuid.New(), Code: "FOREVER", Active: true}
	seedPromo(t, conn, &row)

	for i := 0; i < 10; i++ {
		if err := repo.Redeem(ctx, row.ID); err != nil {
			t.Fatalf("redeem %d: %v", i, err)
		}
	}
}

func TestDiscountConversion(t *testing.T) {
	t.Parallel()

	if Discount(nil) != nil {
		t.Fatal("nil promo must convert to nil discount")
	}

	pct := decimal.NewFromInt(25)
	d := Discount(&models.PromoCode{DiscountType: enums.DiscountPercent, PercentOff: &pct})
	if d.Type != enums.DiscountPercent || !d.PercentOff.Equal(pct) {
		t.Fatalf("unexpected percent discount: %+v", d)
	}

	amount := int64(500)
	d = Discount(&models.PromoCode{DiscountType: enums.DiscountFixed, AmountCents: &amount})
	if d.Type != enums.DiscountFixed || d.AmountCents != 500 {
		t.Fatalf("unexpected fixed discount: %+v", d)
	}
}
