package pricing

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/stagepass/stagepass-backend/pkg/enums"
	pkgerrors "github.com/stagepass/stagepass-backend/pkg/errors"
)

func line(price, bookingFee, organiserFee int64, qty int) LineItem {
	return LineItem{
		TicketTypeID:      uuid.New(),
		Name:              "General Admission",
		UnitPriceCents:    price,
		BookingFeeCents:   bookingFee,
		OrganiserFeeCents: organiserFee,
		Quantity:          qty,
	}
}

func TestPriceNoDiscount(t *testing.T) {
	t.Parallel()

	quote, err := Price([]LineItem{
		line(5000, 250, 100, 2),
		line(2500, 0, 0, 1),
	}, nil, TaxPolicy{})
	if err != nil {
		t.Fatalf("price: %v", err)
	}

	if quote.SubtotalCents != 12500 {
		t.Fatalf("subtotal = %d, want 12500", quote.SubtotalCents)
	}
	if quote.BookingFeesCents != 500 {
		t.Fatalf("booking fees = %d, want 500", quote.BookingFeesCents)
	}
	if quote.OrganiserFeesCents != 200 {
		t.Fatalf("organiser fees = %d, want 200", quote.OrganiserFeesCents)
	}
	// Organiser fees are reported, not charged.
	if quote.TotalCents != 13000 {
		t.Fatalf("total = %d, want 13000", quote.TotalCents)
	}
	if quote.BecameFree {
		t.Fatal("expected paid quote")
	}
}

func TestPricePercentDiscount(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name         string
		percent      string
		wantDiscount int64
		wantTotal    int64
		becameFree   bool
	}{
		{name: "ten percent", percent: "10", wantDiscount: 1050, wantTotal: 9450},
		{name: "rounds half up", percent: "12.5", wantDiscount: 1313, wantTotal: 9187},
		{name: "full discount", percent: "100", wantDiscount: 10500, wantTotal: 0, becameFree: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			pct, err := decimal.NewFromString(tc.percent)
			if err != nil {
				t.Fatalf("parse percent: %v", err)
			}
			quote, err := Price(
				[]LineItem{line(5000, 250, 0, 2)},
				&Discount{Type: enums.DiscountPercent, PercentOff: pct},
				TaxPolicy{},
			)
			if err != nil {
				t.Fatalf("price: %v", err)
			}
			if quote.DiscountCents != tc.wantDiscount {
				t.Fatalf("discount = %d, want %d", quote.DiscountCents, tc.wantDiscount)
			}
			if quote.TotalCents != tc.wantTotal {
				t.Fatalf("total = %d, want %d", quote.TotalCents, tc.wantTotal)
			}
			if quote.BecameFree != tc.becameFree {
				t.Fatalf("became free = %v, want %v", quote.BecameFree, tc.becameFree)
			}
		})
	}
}

func TestPriceFixedDiscountPerTicketCapped(t *testing.T) {
	t.Parallel()

	// 3 tickets x 500 off = 1500, against a 1200 base: capped at the base.
	quote, err := Price(
		[]LineItem{line(400, 0, 0, 3)},
		&Discount{Type: enums.DiscountFixed, AmountCents: 500},
		TaxPolicy{},
	)
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	if quote.DiscountCents != 1200 {
		t.Fatalf("discount = %d, want capped 1200", quote.DiscountCents)
	}
	if quote.TotalCents != 0 {
		t.Fatalf("total = %d, want 0", quote.TotalCents)
	}
	if !quote.BecameFree {
		t.Fatal("expected quote to become free")
	}
}

func TestPriceTaxAfterDiscount(t *testing.T) {
	t.Parallel()

	rate, _ := decimal.NewFromString("20")
	pct, _ := decimal.NewFromString("50")
	quote, err := Price(
		[]LineItem{line(10000, 0, 0, 1)},
		&Discount{Type: enums.DiscountPercent, PercentOff: pct},
		TaxPolicy{RatePercent: rate},
	)
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	// Tax applies to the discounted 5000, not the full 10000.
	if quote.TaxCents != 1000 {
		t.Fatalf("tax = %d, want 1000", quote.TaxCents)
	}
	if quote.TotalCents != 6000 {
		t.Fatalf("total = %d, want 6000", quote.TotalCents)
	}
}

func TestPriceZeroPriceLinesStayFree(t *testing.T) {
	t.Parallel()

	quote, err := Price([]LineItem{line(0, 0, 0, 4)}, nil, TaxPolicy{RatePercent: decimal.NewFromInt(10)})
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	if quote.TotalCents != 0 || !quote.BecameFree {
		t.Fatalf("expected free quote, got total=%d becameFree=%v", quote.TotalCents, quote.BecameFree)
	}
	if quote.TaxCents != 0 {
		t.Fatalf("tax = %d, want 0 on a free quote", quote.TaxCents)
	}
}

func TestPriceValidation(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		lines    []LineItem
		discount *Discount
	}{
		{name: "no lines", lines: nil},
		{name: "zero quantity", lines: []LineItem{line(100, 0, 0, 0)}},
		{name: "negative price", lines: []LineItem{line(-100, 0, 0, 1)}},
		{
			name:     "percent above 100",
			lines:    []LineItem{line(100, 0, 0, 1)},
			discount: &Discount{Type: enums.DiscountPercent, PercentOff: decimal.NewFromInt(101)},
		},
		{
			name:     "negative fixed amount",
			lines:    []LineItem{line(100, 0, 0, 1)},
			discount: &Discount{Type: enums.DiscountFixed, AmountCents: -1},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Price(tc.lines, tc.discount, TaxPolicy{})
			if err == nil {
				t.Fatal("expected validation error")
			}
			if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeValidation {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}
