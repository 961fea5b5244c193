package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/stagepass/stagepass-backend/internal/checkout"
	"github.com/stagepass/stagepass-backend/internal/inventory"
	"github.com/stagepass/stagepass-backend/internal/promo"
	"github.com/stagepass/stagepass-backend/internal/reservations"
	"github.com/stagepass/stagepass-backend/internal/stats"
	dbpkg "github.com/stagepass/stagepass-backend/pkg/db"
	"github.com/stagepass/stagepass-backend/pkg/db/models"
	"github.com/stagepass/stagepass-backend/pkg/enums"
	pkgerrors "github.com/stagepass/stagepass-backend/pkg/errors"
	"github.com/stagepass/stagepass-backend/pkg/logger"
	"github.com/stagepass/stagepass-backend/pkg/metrics"
	"github.com/stagepass/stagepass-backend/pkg/outbox"
)

// unlockScript releases the finalize lock only for its owner.
const unlockScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

// locker is the slice of the redis client used for per-session finalize
// locks.
type locker interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Eval(ctx context.Context, script string, keys []string, args ...any) (any, error)
	LockKey(scope, id string) string
}

// Finalizer turns a paid (or free, or offline) checkout session into a
// durable order, exactly once per session.
type Finalizer struct {
	db                 *dbpkg.Client
	repo               Repository
	inventory          inventory.Repository
	reservationRepo    reservations.Repository
	promos             promo.Repository
	store              *checkout.Store
	outbox             *outbox.Service
	stats              *stats.Service
	locks              locker
	metrics            *metrics.CheckoutMetrics
	logg               *logger.Logger
	lockTTL            time.Duration
	completedRetention time.Duration
	now                func() time.Time
}

type FinalizerParams struct {
	DB                 *dbpkg.Client
	Repo               Repository
	Inventory          inventory.Repository
	ReservationRepo    reservations.Repository
	Promos             promo.Repository
	Store              *checkout.Store
	Outbox             *outbox.Service
	Stats              *stats.Service
	Locks              locker
	Metrics            *metrics.CheckoutMetrics
	Logger             *logger.Logger
	LockTTL            time.Duration
	CompletedRetention time.Duration
}

func NewFinalizer(p FinalizerParams) *Finalizer {
	return &Finalizer{
		db:                 p.DB,
		repo:               p.Repo,
		inventory:          p.Inventory,
		reservationRepo:    p.ReservationRepo,
		promos:             p.Promos,
		store:              p.Store,
		outbox:             p.Outbox,
		stats:              p.Stats,
		locks:              p.Locks,
		metrics:            p.Metrics,
		logg:               p.Logger,
		lockTTL:            p.LockTTL,
		completedRetention: p.CompletedRetention,
		now:                time.Now,
	}
}

// Finalize writes the order for the session in a single transaction and
// marks the session completed. Calling it again for the same session returns
// the already-written order.
func (f *Finalizer) Finalize(ctx context.Context, token string) (*models.Order, error) {
	unlock, err := f.acquireLock(ctx, token)
	if err != nil {
		return nil, err
	}
	defer unlock()

	session, err := f.store.Get(ctx, token)
	if err != nil {
		if err == checkout.ErrSessionNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeSessionExpired, "checkout session expired")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loading checkout session")
	}

	// Duplicate finalize: the order already exists, just hand it back.
	if existing, err := f.repo.FindBySessionToken(ctx, token); err == nil {
		f.markCompleted(ctx, session, existing.Reference)
		return existing, nil
	} else if err != ErrNotFound {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "checking for existing order")
	}

	orderStatus, paymentReceived, err := finalizeDisposition(session)
	if err != nil {
		return nil, err
	}

	var order *models.Order
	// An order reference collision aborts the whole transaction, so retry a
	// few times with a fresh code.
	for attempt := 0; attempt < 3; attempt++ {
		order = f.buildOrder(session, orderStatus, paymentReceived)
		err = f.db.WithTx(ctx, func(tx *gorm.DB) error {
			return f.finalizeTx(ctx, tx, session, order)
		})
		if err == nil {
			break
		}
		if dbpkg.IsUniqueViolation(err, "idx_orders_reference") || dbpkg.IsUniqueViolation(err, "orders_reference_key") {
			continue
		}
		if typed := pkgerrors.As(err); typed != nil {
			return nil, typed
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeFinalization, err, "finalizing order")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeFinalization, err, "finalizing order")
	}

	f.afterCommit(ctx, session, order)
	return order, nil
}

func (f *Finalizer) finalizeTx(ctx context.Context, tx *gorm.DB, session *checkout.Session, order *models.Order) error {
	inv := f.inventory.WithTx(tx)
	for _, line := range session.Lines {
		if _, err := inv.LockUnit(ctx, line.TicketTypeID); err != nil {
			return err
		}
		if err := inv.CommitSale(ctx, line.TicketTypeID, line.Quantity); err != nil {
			if err == inventory.ErrInsufficientInventory {
				return pkgerrors.New(pkgerrors.CodeInventory, "tickets sold out during finalization").
					WithDetails(map[string]any{"ticket_type_id": line.TicketTypeID})
			}
			return err
		}
	}

	if err := f.repo.WithTx(tx).Create(ctx, order); err != nil {
		return err
	}

	if err := f.reservationRepo.WithTx(tx).DeleteBySessionToken(ctx, session.Token); err != nil {
		return err
	}

	if session.PromoCodeID != nil {
		if err := f.promos.WithTx(tx).Redeem(ctx, *session.PromoCodeID); err != nil {
			// The code was validated when applied; racing past the limit
			// here must not void a captured payment.
			if err != promo.ErrUsageLimitReached {
				return err
			}
			f.logg.Warn(f.logg.WithSessionToken(ctx, session.Token), "promo code over-redeemed at finalization")
		}
	}

	eventType := enums.OutboxEventOrderCompleted
	if order.Status == enums.OrderStatusAwaitingPayment {
		eventType = enums.OutboxEventOrderAwaitingPayment
	}
	return f.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         actorFromSession(session),
		Data: outbox.OrderCompletedPayload{
			OrderID:        order.ID,
			OrderReference: order.Reference,
			EventID:        order.EventID,
			Gateway:        order.Gateway.String(),
			Currency:       order.Currency,
			TotalCents:     order.TotalCents,
			TicketCount:    session.TicketCount(),
			ScheduleDate:   order.ScheduleDate,
			CompletedAt:    f.now(),
		},
		Version: 1,
	})
}

func (f *Finalizer) afterCommit(ctx context.Context, session *checkout.Session, order *models.Order) {
	f.stats.RecordSale(ctx, stats.SaleDelta{
		EventID:            order.EventID,
		Day:                f.now(),
		TicketsSold:        int64(session.TicketCount()),
		SalesVolumeCents:   order.TotalCents,
		OrganiserFeesCents: order.OrganiserFeesCents,
	})

	f.markCompleted(ctx, session, order.Reference)
	f.metrics.IncOrderFinalized(order.Gateway.String())

	logCtx := f.logg.WithFields(ctx, map[string]any{
		"session_token":   session.Token,
		"order_reference": order.Reference,
	})
	f.logg.Info(logCtx, "order finalized")
}

// markCompleted moves the session to its terminal state and keeps it around
// under the retention TTL so duplicate finalize calls stay cheap.
func (f *Finalizer) markCompleted(ctx context.Context, session *checkout.Session, reference string) {
	if session.Status == enums.CheckoutStatusCompleted && session.OrderReference == reference {
		return
	}
	_, err := f.store.Update(ctx, session.Token, f.completedRetention, func(s *checkout.Session) error {
		s.Status = enums.CheckoutStatusCompleted
		s.OrderReference = reference
		return nil
	})
	if err != nil {
		f.logg.Error(f.logg.WithSessionToken(ctx, session.Token), "failed to mark session completed", err)
	}
}

func (f *Finalizer) buildOrder(session *checkout.Session, status enums.OrderStatus, paymentReceived bool) *models.Order {
	order := &models.Order{
		ID:                 uuid.New(),
		Reference:          NewOrderReference(),
		EventID:            session.EventID,
		SessionToken:       session.Token,
		Currency:           session.Currency,
		Status:             status,
		Gateway:            session.Gateway,
		PaymentReceived:    paymentReceived,
		SubtotalCents:      session.Totals.SubtotalCents,
		BookingFeesCents:   session.Totals.BookingFeesCents,
		OrganiserFeesCents: session.Totals.OrganiserFeesCents,
		DiscountCents:      session.Totals.DiscountCents,
		TaxCents:           session.Totals.TaxCents,
		TotalCents:         session.Totals.TotalCents,
		PromoCodeID:        session.PromoCodeID,
		ScheduleDate:       session.ScheduleDate,
	}
	if session.Buyer != nil {
		order.BuyerUserID = session.Buyer.UserID
		order.BuyerFirstName = session.Buyer.FirstName
		order.BuyerLastName = session.Buyer.LastName
		order.BuyerEmail = session.Buyer.Email
	}

	for _, line := range session.Lines {
		order.Items = append(order.Items, models.OrderItem{
			TicketTypeID:      line.TicketTypeID,
			Name:              line.Name,
			UnitPriceCents:    line.UnitPriceCents,
			BookingFeeCents:   line.BookingFeeCents,
			OrganiserFeeCents: line.OrganiserFeeCents,
			Qty:               line.Quantity,
			TotalCents:        line.UnitPriceCents * int64(line.Quantity),
		})
	}
	for _, attendee := range session.Attendees {
		order.Attendees = append(order.Attendees, models.Attendee{
			EventID:      session.EventID,
			TicketTypeID: attendee.TicketTypeID,
			Reference:    NewAttendeeReference(),
			FirstName:    attendee.FirstName,
			LastName:     attendee.LastName,
			Email:        attendee.Email,
			Seat:         attendee.Seat,
			Answers:      attendee.Answers,
		})
	}
	return order
}

// finalizeDisposition decides whether the session may finalize and what the
// resulting order looks like.
func finalizeDisposition(session *checkout.Session) (enums.OrderStatus, bool, error) {
	if session.Buyer == nil {
		return "", false, pkgerrors.New(pkgerrors.CodeStateConflict, "buyer details are missing")
	}

	switch {
	case session.Status == enums.CheckoutStatusPaid:
		return enums.OrderStatusCompleted, true, nil
	case session.Status == enums.CheckoutStatusCreated && session.Totals.BecameFree:
		return enums.OrderStatusCompleted, true, nil
	case session.Gateway == enums.GatewayOffline &&
		(session.Status == enums.CheckoutStatusCreated || session.Status == enums.CheckoutStatusAwaitingPayment):
		// AWAITING_PAYMENT covers the buyer who switched to offline after a
		// declined card; the session stays retryable until the hold lapses.
		return enums.OrderStatusAwaitingPayment, false, nil
	default:
		return "", false, pkgerrors.New(pkgerrors.CodeStateConflict, "session is not payable").
			WithDetails(map[string]any{"status": session.Status})
	}
}

// Find returns the order for a public reference.
func (f *Finalizer) Find(ctx context.Context, reference string) (*models.Order, error) {
	order, err := f.repo.FindByReference(ctx, reference)
	if err != nil {
		if err == ErrNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading order")
	}
	return order, nil
}

func (f *Finalizer) acquireLock(ctx context.Context, token string) (func(), error) {
	key := f.locks.LockKey("finalize", token)
	owner := uuid.NewString()
	ttl := f.lockTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}

	ok, err := f.locks.SetNX(ctx, key, owner, ttl)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "acquiring finalize lock")
	}
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "finalization already in progress")
	}
	return func() {
		_, _ = f.locks.Eval(ctx, unlockScript, []string{key}, owner)
	}, nil
}

func actorFromSession(session *checkout.Session) *outbox.ActorRef {
	if session.Buyer == nil {
		return nil
	}
	return &outbox.ActorRef{
		UserID: session.Buyer.UserID,
		Email:  session.Buyer.Email,
	}
}
