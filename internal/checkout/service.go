package checkout

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stagepass/stagepass-backend/internal/inventory"
	"github.com/stagepass/stagepass-backend/internal/pricing"
	"github.com/stagepass/stagepass-backend/internal/promo"
	"github.com/stagepass/stagepass-backend/internal/reservations"
	"github.com/stagepass/stagepass-backend/pkg/enums"
	pkgerrors "github.com/stagepass/stagepass-backend/pkg/errors"
	"github.com/stagepass/stagepass-backend/pkg/logger"
)

// Service drives the checkout session lifecycle up to payment: start a
// session from a fresh hold, show it, apply promo codes.
type Service struct {
	store        *Store
	reservations *reservations.Service
	inventory    inventory.Repository
	promos       *promo.Service
	logg         *logger.Logger
	now          func() time.Time
}

func NewService(store *Store, res *reservations.Service, inv inventory.Repository, promos *promo.Service, logg *logger.Logger) *Service {
	return &Service{
		store:        store,
		reservations: res,
		inventory:    inv,
		promos:       promos,
		logg:         logg,
		now:          time.Now,
	}
}

// Store exposes the session store to collaborators that manage later stages
// of the lifecycle.
func (s *Service) Store() *Store {
	return s.store
}

// Start reserves inventory and opens a checkout session for it. The session
// lives exactly as long as the hold.
func (s *Service) Start(ctx context.Context, input reservations.ReserveInput) (*Session, error) {
	hold, err := s.reservations.Reserve(ctx, input)
	if err != nil {
		return nil, err
	}

	event, err := s.inventory.FindEvent(ctx, input.EventID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading event")
	}

	lines, err := s.buildLines(ctx, hold)
	if err != nil {
		s.releaseQuietly(ctx, hold.SessionToken)
		return nil, err
	}

	quote, err := priceLines(lines, nil, event.TaxRatePercent)
	if err != nil {
		s.releaseQuietly(ctx, hold.SessionToken)
		return nil, err
	}

	session := &Session{
		Token:          hold.SessionToken,
		Status:         enums.CheckoutStatusCreated,
		EventID:        event.ID,
		EventName:      event.Name,
		Currency:       event.Currency,
		TaxRatePercent: event.TaxRatePercent.String(),
		ScheduleDate:   hold.ScheduleDate,
		Lines:          lines,
		Totals:         totalsFromQuote(quote),
		CreatedAt:      s.now(),
		ExpiresAt:      hold.ExpiresAt,
	}

	ttl := time.Until(hold.ExpiresAt)
	if err := s.store.Save(ctx, session, ttl); err != nil {
		s.releaseQuietly(ctx, hold.SessionToken)
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "saving checkout session")
	}

	logCtx := s.logg.WithSessionToken(ctx, session.Token)
	s.logg.Info(logCtx, "checkout session started")
	return session, nil
}

// View returns the session with its remaining lifetime in seconds.
func (s *Service) View(ctx context.Context, token string) (*Session, int64, error) {
	session, err := s.store.Get(ctx, token)
	if err != nil {
		if err == ErrSessionNotFound {
			return nil, 0, pkgerrors.New(pkgerrors.CodeSessionExpired, "checkout session expired")
		}
		return nil, 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loading checkout session")
	}
	seconds, err := s.store.SecondsToExpiry(ctx, token)
	if err != nil {
		return nil, 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reading session expiry")
	}
	return session, seconds, nil
}

// ApplyPromo validates the code and reprices the session. Only sessions that
// have not entered payment can change price.
func (s *Service) ApplyPromo(ctx context.Context, token, code string) (*Session, error) {
	current, err := s.store.Get(ctx, token)
	if err != nil {
		if err == ErrSessionNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeSessionExpired, "checkout session expired")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loading checkout session")
	}

	promoRow, err := s.promos.Validate(ctx, current.EventID, code)
	if err != nil {
		return nil, err
	}

	updated, err := s.store.Update(ctx, token, 0, func(session *Session) error {
		if session.Status != enums.CheckoutStatusCreated {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "session is no longer modifiable").
				WithDetails(map[string]any{"status": session.Status})
		}
		taxRate, err := decimal.NewFromString(session.TaxRatePercent)
		if err != nil {
			// A session that no longer decodes must not reprice without tax.
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decoding session tax rate")
		}
		quote, err := priceLines(session.Lines, promo.Discount(promoRow), taxRate)
		if err != nil {
			return err
		}
		session.Totals = totalsFromQuote(quote)
		session.PromoCodeID = &promoRow.ID
		session.PromoCode = promoRow.Code
		return nil
	})
	if err != nil {
		if err == ErrSessionNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeSessionExpired, "checkout session expired")
		}
		if typed := pkgerrors.As(err); typed != nil {
			return nil, typed
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "updating checkout session")
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"session_token": token,
		"promo_code":    promoRow.Code,
	})
	s.logg.Info(logCtx, "promo code applied")
	return updated, nil
}

func (s *Service) buildLines(ctx context.Context, hold *reservations.Hold) ([]SessionLine, error) {
	seatsByReservation := map[string][]string{}
	for _, seat := range hold.Seats {
		key := seat.ReservationID.String()
		seatsByReservation[key] = append(seatsByReservation[key], seat.Seat)
	}

	lines := make([]SessionLine, 0, len(hold.Reservations))
	for _, reservation := range hold.Reservations {
		unit, err := s.inventory.FindUnit(ctx, reservation.TicketTypeID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading ticket type")
		}
		lines = append(lines, SessionLine{
			TicketTypeID:      unit.ID,
			Name:              unit.Name,
			UnitPriceCents:    unit.PriceCents,
			BookingFeeCents:   unit.BookingFeeCents,
			OrganiserFeeCents: unit.OrganiserFeeCents,
			Quantity:          reservation.Quantity,
			Seats:             seatsByReservation[reservation.ID.String()],
		})
	}
	return lines, nil
}

func (s *Service) releaseQuietly(ctx context.Context, token string) {
	if err := s.reservations.Release(ctx, token); err != nil {
		s.logg.Warn(s.logg.WithSessionToken(ctx, token), "failed to release reservation after session error")
	}
}

func priceLines(lines []SessionLine, discount *pricing.Discount, taxRate decimal.Decimal) (*pricing.Quote, error) {
	items := make([]pricing.LineItem, 0, len(lines))
	for _, line := range lines {
		items = append(items, pricing.LineItem{
			TicketTypeID:      line.TicketTypeID,
			Name:              line.Name,
			UnitPriceCents:    line.UnitPriceCents,
			BookingFeeCents:   line.BookingFeeCents,
			OrganiserFeeCents: line.OrganiserFeeCents,
			Quantity:          line.Quantity,
		})
	}
	return pricing.Price(items, discount, pricing.TaxPolicy{RatePercent: taxRate})
}

func totalsFromQuote(quote *pricing.Quote) Totals {
	return Totals{
		SubtotalCents:      quote.SubtotalCents,
		BookingFeesCents:   quote.BookingFeesCents,
		OrganiserFeesCents: quote.OrganiserFeesCents,
		DiscountCents:      quote.DiscountCents,
		TaxCents:           quote.TaxCents,
		TotalCents:         quote.TotalCents,
		BecameFree:         quote.BecameFree,
	}
}
