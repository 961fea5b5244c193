// Package pricing computes checkout totals. Everything here is pure: the
// same inputs always produce the same quote, and nothing reads the clock or
// the database.
package pricing

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/stagepass/stagepass-backend/pkg/enums"
	pkgerrors "github.com/stagepass/stagepass-backend/pkg/errors"
)

// LineItem is one priced ticket type in a quote request.
type LineItem struct {
	TicketTypeID      uuid.UUID
	Name              string
	UnitPriceCents    int64
	BookingFeeCents   int64
	OrganiserFeeCents int64
	Quantity          int
}

// Discount describes an applied promo code. PercentOff is used for percent
// discounts; AmountCents (per ticket) for fixed ones.
type Discount struct {
	Type        enums.DiscountType
	PercentOff  decimal.Decimal
	AmountCents int64
}

// TaxPolicy applies a percentage on the discounted payable amount.
type TaxPolicy struct {
	RatePercent decimal.Decimal
}

// PricedLine is a line with its extended total.
type PricedLine struct {
	LineItem
	TotalCents int64
}

// Quote is the full price breakdown for a checkout.
type Quote struct {
	Lines              []PricedLine
	SubtotalCents      int64
	BookingFeesCents   int64
	OrganiserFeesCents int64
	DiscountCents      int64
	TaxCents           int64
	TotalCents         int64
	// BecameFree is set when a discount drives the payable total to zero,
	// letting checkout skip the payment step entirely.
	BecameFree bool
}

var oneHundred = decimal.NewFromInt(100)

// Price computes the quote. The discountable base is the ticket subtotal plus
// booking fees; organiser fees are tracked for reporting but are not charged
// to the buyer. Tax applies after the discount.
func Price(lines []LineItem, discount *Discount, tax TaxPolicy) (*Quote, error) {
	if len(lines) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "no line items to price")
	}

	quote := &Quote{}
	ticketCount := 0
	for _, line := range lines {
		if line.Quantity <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "line quantity must be positive")
		}
		if line.UnitPriceCents < 0 || line.BookingFeeCents < 0 || line.OrganiserFeeCents < 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "line amounts must not be negative")
		}
		qty := int64(line.Quantity)
		lineTotal := line.UnitPriceCents * qty
		quote.SubtotalCents += lineTotal
		quote.BookingFeesCents += line.BookingFeeCents * qty
		quote.OrganiserFeesCents += line.OrganiserFeeCents * qty
		ticketCount += line.Quantity
		quote.Lines = append(quote.Lines, PricedLine{LineItem: line, TotalCents: lineTotal})
	}

	base := quote.SubtotalCents + quote.BookingFeesCents

	if discount != nil {
		amount, err := discountAmount(*discount, base, ticketCount)
		if err != nil {
			return nil, err
		}
		quote.DiscountCents = amount
	}

	payable := base - quote.DiscountCents
	quote.TaxCents = taxAmount(tax, payable)
	quote.TotalCents = payable + quote.TaxCents
	quote.BecameFree = quote.TotalCents == 0

	return quote, nil
}

// discountAmount never exceeds the discountable base, so totals cannot go
// negative.
func discountAmount(d Discount, baseCents int64, ticketCount int) (int64, error) {
	switch d.Type {
	case enums.DiscountPercent:
		if d.PercentOff.IsNegative() || d.PercentOff.GreaterThan(oneHundred) {
			return 0, pkgerrors.New(pkgerrors.CodeValidation, "percent discount out of range")
		}
		amount := decimal.NewFromInt(baseCents).
			Mul(d.PercentOff).
			Div(oneHundred).
			Round(0).
			IntPart()
		if amount > baseCents {
			amount = baseCents
		}
		return amount, nil
	case enums.DiscountFixed:
		if d.AmountCents < 0 {
			return 0, pkgerrors.New(pkgerrors.CodeValidation, "fixed discount must not be negative")
		}
		amount := d.AmountCents * int64(ticketCount)
		if amount > baseCents {
			amount = baseCents
		}
		return amount, nil
	default:
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "unknown discount type")
	}
}

func taxAmount(tax TaxPolicy, payableCents int64) int64 {
	if tax.RatePercent.IsZero() || payableCents <= 0 {
		return 0
	}
	return decimal.NewFromInt(payableCents).
		Mul(tax.RatePercent).
		Div(oneHundred).
		Round(0).
		IntPart()
}
