package reservations

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/stagepass/stagepass-backend/internal/inventory"
	dbpkg "github.com/stagepass/stagepass-backend/pkg/db"
	"github.com/stagepass/stagepass-backend/pkg/db/models"
	pkgerrors "github.com/stagepass/stagepass-backend/pkg/errors"
	"github.com/stagepass/stagepass-backend/pkg/logger"
	"github.com/stagepass/stagepass-backend/pkg/metrics"
)

// ReserveLine is one requested ticket type within a hold.
type ReserveLine struct {
	TicketTypeID uuid.UUID
	Quantity     int
	Seats        []string
}

// ReserveInput describes a new hold request.
type ReserveInput struct {
	EventID      uuid.UUID
	ScheduleDate *time.Time
	Lines        []ReserveLine
}

// Hold is the result of a successful reservation.
type Hold struct {
	SessionToken string
	EventID      uuid.UUID
	ScheduleDate *time.Time
	ExpiresAt    time.Time
	Reservations []models.Reservation
	Seats        []models.ReservedSeat
}

// Service owns the reservation lifecycle: admit, release, sweep.
type Service struct {
	db        *dbpkg.Client
	repo      Repository
	inventory inventory.Repository
	logg      *logger.Logger
	metrics   *metrics.CheckoutMetrics
	ttl       time.Duration
	now       func() time.Time
}

func NewService(db *dbpkg.Client, repo Repository, inv inventory.Repository, logg *logger.Logger, m *metrics.CheckoutMetrics, ttl time.Duration) *Service {
	return &Service{
		db:        db,
		repo:      repo,
		inventory: inv,
		logg:      logg,
		metrics:   m,
		ttl:       ttl,
		now:       time.Now,
	}
}

// Reserve admits a hold in a single transaction. Each ticket type row is
// write-locked before its availability is read, so two overlapping requests
// for the last tickets serialize and the loser is rejected.
func (s *Service) Reserve(ctx context.Context, input ReserveInput) (*Hold, error) {
	if err := validateInput(input); err != nil {
		s.metrics.IncReservationRejected("validation")
		return nil, err
	}

	now := s.now()
	token := uuid.NewString()
	expiresAt := now.Add(s.ttl)

	// Lock rows in a stable order so concurrent multi-line requests cannot
	// deadlock each other.
	lines := append([]ReserveLine(nil), input.Lines...)
	sort.Slice(lines, func(i, j int) bool {
		return lines[i].TicketTypeID.String() < lines[j].TicketTypeID.String()
	})

	hold := &Hold{
		SessionToken: token,
		EventID:      input.EventID,
		ScheduleDate: input.ScheduleDate,
		ExpiresAt:    expiresAt,
	}

	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		inv := s.inventory.WithTx(tx)
		repo := s.repo.WithTx(tx)

		event, err := inv.FindEvent(ctx, input.EventID)
		if err != nil {
			if err == inventory.ErrEventNotFound {
				return pkgerrors.New(pkgerrors.CodeNotFound, "event not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading event")
		}
		if event.IsRecurring && input.ScheduleDate == nil {
			return pkgerrors.New(pkgerrors.CodeValidation, "schedule date is required for recurring events")
		}

		for _, line := range lines {
			unit, err := inv.LockUnit(ctx, line.TicketTypeID)
			if err != nil {
				if err == inventory.ErrUnitNotFound {
					return pkgerrors.New(pkgerrors.CodeNotFound, "ticket type not found")
				}
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "locking ticket type")
			}
			if unit.EventID != input.EventID {
				return pkgerrors.New(pkgerrors.CodeValidation, "ticket type does not belong to event")
			}
			if line.Quantity < unit.MinPerPerson {
				return pkgerrors.New(pkgerrors.CodeValidation, "quantity below minimum per person").
					WithDetails(map[string]any{
						"ticket_type_id": unit.ID,
						"min_per_person": unit.MinPerPerson,
					})
			}
			if line.Quantity > unit.MaxPerPerson {
				return pkgerrors.New(pkgerrors.CodeValidation, "quantity above maximum per person").
					WithDetails(map[string]any{
						"ticket_type_id": unit.ID,
						"max_per_person": unit.MaxPerPerson,
					})
			}
			if unit.Seated && len(line.Seats) != line.Quantity {
				return pkgerrors.New(pkgerrors.CodeValidation, "seated tickets require one seat per ticket")
			}
			if !unit.Seated && len(line.Seats) > 0 {
				return pkgerrors.New(pkgerrors.CodeValidation, "seats are not selectable for this ticket type")
			}

			reserved, err := inv.ReservedQuantity(ctx, line.TicketTypeID, now)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "summing live holds")
			}
			remaining := unit.QuantityAvailable - unit.QuantitySold - reserved
			if remaining < line.Quantity {
				if remaining < 0 {
					remaining = 0
				}
				return pkgerrors.New(pkgerrors.CodeInventory, "not enough tickets remaining").
					WithDetails(map[string]any{
						"ticket_type_id": unit.ID,
						"requested":      line.Quantity,
						"remaining":      remaining,
					})
			}

			if len(line.Seats) > 0 {
				taken, err := repo.SeatsTaken(ctx, input.EventID, line.Seats, now)
				if err != nil {
					return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "checking seat availability")
				}
				if len(taken) > 0 {
					return pkgerrors.New(pkgerrors.CodeConflict, "one or more seats are already taken").
						WithDetails(map[string]any{"seats": taken})
				}
			}

			reservation := models.Reservation{
				ID:           uuid.New(),
				SessionToken: token,
				EventID:      input.EventID,
				TicketTypeID: line.TicketTypeID,
				Quantity:     line.Quantity,
				ScheduleDate: input.ScheduleDate,
				ExpiresAt:    expiresAt,
			}
			hold.Reservations = append(hold.Reservations, reservation)
			for _, seat := range line.Seats {
				hold.Seats = append(hold.Seats, models.ReservedSeat{
					ID:            uuid.New(),
					ReservationID: reservation.ID,
					EventID:       input.EventID,
					TicketTypeID:  line.TicketTypeID,
					Seat:          seat,
					ExpiresAt:     expiresAt,
				})
			}
		}

		return repo.Create(ctx, hold.Reservations, hold.Seats)
	})
	if err != nil {
		if typed := pkgerrors.As(err); typed != nil {
			switch typed.Code() {
			case pkgerrors.CodeInventory:
				s.metrics.IncReservationRejected("inventory")
			case pkgerrors.CodeConflict:
				s.metrics.IncReservationRejected("seat_taken")
			case pkgerrors.CodeValidation:
				s.metrics.IncReservationRejected("validation")
			}
		}
		return nil, err
	}

	s.metrics.IncReservationCreated()
	logCtx := s.logg.WithSessionToken(ctx, token)
	s.logg.Info(logCtx, "reservation created")
	return hold, nil
}

// Find returns the live (non-expired) hold for the token, or nil.
func (s *Service) Find(ctx context.Context, token string) (*Hold, error) {
	rows, err := s.repo.FindBySessionToken(ctx, token)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading reservation")
	}
	if len(rows) == 0 {
		return nil, nil
	}
	now := s.now()
	for _, row := range rows {
		if !row.ExpiresAt.After(now) {
			return nil, nil
		}
	}
	seats, err := s.repo.FindSeatsBySessionToken(ctx, token)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading reserved seats")
	}
	return &Hold{
		SessionToken: token,
		EventID:      rows[0].EventID,
		ScheduleDate: rows[0].ScheduleDate,
		ExpiresAt:    rows[0].ExpiresAt,
		Reservations: rows,
		Seats:        seats,
	}, nil
}

// Release drops the hold. Safe to call for tokens that no longer exist.
func (s *Service) Release(ctx context.Context, token string) error {
	if err := s.repo.DeleteBySessionToken(ctx, token); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "releasing reservation")
	}
	return nil
}

// ExtendForPayment pushes the hold deadline so inventory stays claimed while
// a hosted gateway round-trips.
func (s *Service) ExtendForPayment(ctx context.Context, token string, until time.Time) error {
	if err := s.repo.ExtendExpiry(ctx, token, until); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "extending reservation")
	}
	return nil
}

// Sweep deletes expired holds in bulk. Individual failures are collected so
// one bad token does not stall the rest of the batch.
func (s *Service) Sweep(ctx context.Context, batchSize int) (int, error) {
	tokens, err := s.repo.ExpiredSessionTokens(ctx, s.now(), batchSize)
	if err != nil {
		return 0, err
	}

	var errs error
	swept := 0
	for _, token := range tokens {
		if err := s.repo.DeleteBySessionToken(ctx, token); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		swept++
	}
	return swept, errs
}

func validateInput(input ReserveInput) error {
	if input.EventID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "event id is required")
	}
	if len(input.Lines) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "at least one ticket line is required")
	}
	seen := map[uuid.UUID]struct{}{}
	seatSeen := map[string]struct{}{}
	for _, line := range input.Lines {
		if line.Quantity <= 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
		}
		if _, ok := seen[line.TicketTypeID]; ok {
			return pkgerrors.New(pkgerrors.CodeValidation, "duplicate ticket type in request")
		}
		seen[line.TicketTypeID] = struct{}{}
		for _, seat := range line.Seats {
			if seat == "" {
				return pkgerrors.New(pkgerrors.CodeValidation, "seat labels must not be empty")
			}
			if _, ok := seatSeen[seat]; ok {
				return pkgerrors.New(pkgerrors.CodeValidation, "duplicate seat in request")
			}
			seatSeen[seat] = struct{}{}
		}
	}
	return nil
}
