package reservations

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/stagepass/stagepass-backend/internal/inventory"
	dbpkg "github.com/stagepass/stagepass-backend/pkg/db"
	"github.com/stagepass/stagepass-backend/pkg/db/models"
	pkgerrors "github.com/stagepass/stagepass-backend/pkg/errors"
	"github.com/stagepass/stagepass-backend/pkg/logger"
	"github.com/stagepass/stagepass-backend/pkg/metrics"
)

const testTTL = 10 * time.Minute

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:reservations_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := conn.AutoMigrate(
		&models.Event{},
		&models.TicketType{},
		&models.Reservation{},
		&models.ReservedSeat{},
		&models.Attendee{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return conn
}

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	conn := newTestDB(t)
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	svc := NewService(
		dbpkg.NewWithConn(conn),
		NewRepository(conn),
		inventory.NewRepository(conn),
		logg,
		metrics.NewCheckoutMetrics(nil),
		testTTL,
	)
	return svc, conn
}

func seedEvent(t *testing.T, conn *gorm.DB, event *models.Event) {
	t.Helper()
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Name == "" {
		event.Name = "Warehouse Show"
	}
	if event.Currency == "" {
		event.Currency = "USD"
	}
	if err := conn.Create(event).Error; err != nil {
		t.Fatalf("seed event: %v", err)
	}
}

func seedTicketType(t *testing.T, conn *gorm.DB, tt *models.TicketType) {
	t.Helper()
	if tt.ID == uuid.Nil {
		tt.ID = uuid.New()
	}
	if tt.Name == "" {
		tt.Name = "General Admission"
	}
	if tt.MinPerPerson == 0 {
		tt.MinPerPerson = 1
	}
	if tt.MaxPerPerson == 0 {
		tt.MaxPerPerson = 10
	}
	if err := conn.Create(tt).Error; err != nil {
		t.Fatalf("seed ticket type: %v", err)
	}
}

func assertCode(t *testing.T, err error, code pkgerrors.Code) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", code)
	}
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != code {
		t.Fatalf("expected %s error, got: %v", code, err)
	}
}

func TestReserveCreatesHold(t *testing.T) {
	t.Parallel()

	svc, conn := newTestService(t)
	ctx := context.Background()

	event := models.Event{}
	seedEvent(t, conn, &event)
	tt := models.TicketType{EventID: event.ID, PriceCents: 2500, QuantityAvailable: 50}
	seedTicketType(t, conn, &tt)

	hold, err := svc.Reserve(ctx, ReserveInput{
		EventID: event.ID,
		Lines:   []ReserveLine{{TicketTypeID: tt.ID, Quantity: 2}},
	})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if hold.SessionToken == "" {
		t.Fatal("expected a session token")
	}
	if !hold.ExpiresAt.After(time.Now()) {
		t.Fatalf("expected future expiry, got %v", hold.ExpiresAt)
	}

	var rows []models.Reservation
	if err := conn.Where("session_token = ?", hold.SessionToken).Find(&rows).Error; err != nil {
		t.Fatalf("load reservations: %v", err)
	}
	if len(rows) != 1 || rows[0].Quantity != 2 {
		t.Fatalf("unexpected persisted hold: %+v", rows)
	}
}

func TestReservePerPersonBounds(t *testing.T) {
	t.Parallel()

	svc, conn := newTestService(t)
	ctx := context.Background()

	event := models.Event{}
	seedEvent(t, conn, &event)
	tt := models.TicketType{EventID: event.ID, QuantityAvailable: 50, MinPerPerson: 2, MaxPerPerson: 4}
	seedTicketType(t, conn, &tt)

	_, err := svc.Reserve(ctx, ReserveInput{
		EventID: event.ID,
		Lines:   []ReserveLine{{TicketTypeID: tt.ID, Quantity: 1}},
	})
	assertCode(t, err, pkgerrors.CodeValidation)

	_, err = svc.Reserve(ctx, ReserveInput{
		EventID: event.ID,
		Lines:   []ReserveLine{{TicketTypeID: tt.ID, Quantity: 5}},
	})
	assertCode(t, err, pkgerrors.CodeValidation)
}

func TestReserveInsufficientInventory(t *testing.T) {
	t.Parallel()

	svc, conn := newTestService(t)
	ctx := context.Background()

	event := models.Event{}
	seedEvent(t, conn, &event)
	tt := models.TicketType{EventID: event.ID, QuantityAvailable: 10, QuantitySold: 8}
	seedTicketType(t, conn, &tt)

	_, err := svc.Reserve(ctx, ReserveInput{
		EventID: event.ID,
		Lines:   []ReserveLine{{TicketTypeID: tt.ID, Quantity: 3}},
	})
	assertCode(t, err, pkgerrors.CodeInventory)

	details, _ := pkgerrors.As(err).Details().(map[string]any)
	if details["remaining"] != 2 {
		t.Fatalf("expected remaining 2 in details, got %+v", details)
	}
}

func TestReserveCountsLiveHolds(t *testing.T) {
	t.Parallel()

	svc, conn := newTestService(t)
	ctx := context.Background()

	event := models.Event{}
	seedEvent(t, conn, &event)
	tt := models.TicketType{EventID: event.ID, QuantityAvailable: 5}
	seedTicketType(t, conn, &tt)

	if _, err := svc.Reserve(ctx, ReserveInput{
		EventID: event.ID,
		Lines:   []ReserveLine{{TicketTypeID: tt.ID, Quantity: 4}},
	}); err != nil {
		t.Fatalf("first reserve: %v", err)
	}

	// Only one ticket remains while the first hold is alive.
	_, err := svc.Reserve(ctx, ReserveInput{
		EventID: event.ID,
		Lines:   []ReserveLine{{TicketTypeID: tt.ID, Quantity: 2}},
	})
	assertCode(t, err, pkgerrors.CodeInventory)

	if _, err := svc.Reserve(ctx, ReserveInput{
		EventID: event.ID,
		Lines:   []ReserveLine{{TicketTypeID: tt.ID, Quantity: 1}},
	}); err != nil {
		t.Fatalf("reserve last ticket: %v", err)
	}
}

func TestReserveExpiredHoldsDoNotCount(t *testing.T) {
	t.Parallel()

	svc, conn := newTestService(t)
	ctx := context.Background()

	event := models.Event{}
	seedEvent(t, conn, &event)
	tt := models.TicketType{EventID: event.ID, QuantityAvailable: 2}
	seedTicketType(t, conn, &tt)

	stale := models.Reservation{
		ID:           uuid.New(),
		SessionToken: uuid.NewString(),
		EventID:      event.ID,
		TicketTypeID: tt.ID,
		Quantity:     2,
		ExpiresAt:    time.Now().Add(-time.Minute),
	}
	if err := conn.Create(&stale).Error; err != nil {
		t.Fatalf("seed stale hold: %v", err)
	}

	if _, err := svc.Reserve(ctx, ReserveInput{
		EventID: event.ID,
		Lines:   []ReserveLine{{TicketTypeID: tt.ID, Quantity: 2}},
	}); err != nil {
		t.Fatalf("reserve over expired hold: %v", err)
	}
}

func TestReserveSeatedRules(t *testing.T) {
	t.Parallel()

	svc, conn := newTestService(t)
	ctx := context.Background()

	event := models.Event{}
	seedEvent(t, conn, &event)
	seated := models.TicketType{EventID: event.ID, QuantityAvailable: 20, Seated: true}
	seedTicketType(t, conn, &seated)
	standing := models.TicketType{EventID: event.ID, QuantityAvailable: 20}
	seedTicketType(t, conn, &standing)

	_, err := svc.Reserve(ctx, ReserveInput{
		EventID: event.ID,
		Lines:   []ReserveLine{{TicketTypeID: seated.ID, Quantity: 2, Seats: []string{"A1"}}},
	})
	assertCode(t, err, pkgerrors.CodeValidation)

	_, err = svc.Reserve(ctx, ReserveInput{
		EventID: event.ID,
		Lines:   []ReserveLine{{TicketTypeID: standing.ID, Quantity: 1, Seats: []string{"A1"}}},
	})
	assertCode(t, err, pkgerrors.CodeValidation)

	hold, err := svc.Reserve(ctx, ReserveInput{
		EventID: event.ID,
		Lines:   []ReserveLine{{TicketTypeID: seated.ID, Quantity: 2, Seats: []string{"A1", "A2"}}},
	})
	if err != nil {
		t.Fatalf("seated reserve: %v", err)
	}
	if len(hold.Seats) != 2 {
		t.Fatalf("expected 2 reserved seats, got %d", len(hold.Seats))
	}
}

func TestReserveSeatAlreadyTaken(t *testing.T) {
	t.Parallel()

	svc, conn := newTestService(t)
	ctx := context.Background()

	event := models.Event{}
	seedEvent(t, conn, &event)
	tt := models.TicketType{EventID: event.ID, QuantityAvailable: 20, Seated: true}
	seedTicketType(t, conn, &tt)

	if _, err := svc.Reserve(ctx, ReserveInput{
		EventID: event.ID,
		Lines:   []ReserveLine{{TicketTypeID: tt.ID, Quantity: 1, Seats: []string{"B5"}}},
	}); err != nil {
		t.Fatalf("first seated reserve: %v", err)
	}

	_, err := svc.Reserve(ctx, ReserveInput{
		EventID: event.ID,
		Lines:   []ReserveLine{{TicketTypeID: tt.ID, Quantity: 2, Seats: []string{"B5", "B6"}}},
	})
	assertCode(t, err, pkgerrors.CodeConflict)
}

func TestReserveSeatSoldToAttendee(t *testing.T) {
	t.Parallel()

	svc, conn := newTestService(t)
	ctx := context.Background()

	event := models.Event{}
	seedEvent(t, conn, &event)
	tt := models.TicketType{EventID: event.ID, QuantityAvailable: 20, Seated: true}
	seedTicketType(t, conn, &tt)

	seat := "C1"
	attendee := models.Attendee{
		ID:           uuid.New(),
		OrderID:      uuid.New(),
		EventID:      event.ID,
		TicketTypeID: tt.ID,
		Reference:    "ATT-" + uuid.NewString(),
		FirstName:    "Ada",
		LastName:     "Lovelace",
		Email:        "ada@example.com",
		Seat:         &seat,
	}
	if err := conn.Create(&attendee).Error; err != nil {
		t.Fatalf("seed attendee: %v", err)
	}

	_, err := svc.Reserve(ctx, ReserveInput{
		EventID: event.ID,
		Lines:   []ReserveLine{{TicketTypeID: tt.ID, Quantity: 1, Seats: []string{"C1"}}},
	})
	assertCode(t, err, pkgerrors.CodeConflict)
}

func TestReserveRecurringRequiresScheduleDate(t *testing.T) {
	t.Parallel()

	svc, conn := newTestService(t)
	ctx := context.Background()

	event := models.Event{IsRecurring: true}
	seedEvent(t, conn, &event)
	tt := models.TicketType{EventID: event.ID, QuantityAvailable: 10}
	seedTicketType(t, conn, &tt)

	_, err := svc.Reserve(ctx, ReserveInput{
		EventID: event.ID,
		Lines:   []ReserveLine{{TicketTypeID: tt.ID, Quantity: 1}},
	})
	assertCode(t, err, pkgerrors.CodeValidation)

	date := time.Now().Add(48 * time.Hour).UTC().Truncate(time.Hour)
	hold, err := svc.Reserve(ctx, ReserveInput{
		EventID:      event.ID,
		ScheduleDate: &date,
		Lines:        []ReserveLine{{TicketTypeID: tt.ID, Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("reserve with schedule date: %v", err)
	}
	if hold.ScheduleDate == nil || !hold.ScheduleDate.Equal(date) {
		t.Fatalf("unexpected schedule date: %v", hold.ScheduleDate)
	}
}

func TestReserveUnknownEventAndTicketType(t *testing.T) {
	t.Parallel()

	svc, conn := newTestService(t)
	ctx := context.Background()

	_, err := svc.Reserve(ctx, ReserveInput{
		EventID: uuid.New(),
		Lines:   []ReserveLine{{TicketTypeID: uuid.New(), Quantity: 1}},
	})
	assertCode(t, err, pkgerrors.CodeNotFound)

	event := models.Event{}
	seedEvent(t, conn, &event)
	_, err = svc.Reserve(ctx, ReserveInput{
		EventID: event.ID,
		Lines:   []ReserveLine{{TicketTypeID: uuid.New(), Quantity: 1}},
	})
	assertCode(t, err, pkgerrors.CodeNotFound)
}

func TestReserveTicketTypeFromOtherEvent(t *testing.T) {
	t.Parallel()

	svc, conn := newTestService(t)
	ctx := context.Background()

	eventA := models.Event{}
	seedEvent(t, conn, &eventA)
	eventB := models.Event{}
	seedEvent(t, conn, &eventB)
	tt := models.TicketType{EventID: eventB.ID, QuantityAvailable: 10}
	seedTicketType(t, conn, &tt)

	_, err := svc.Reserve(ctx, ReserveInput{
		EventID: eventA.ID,
		Lines:   []ReserveLine{{TicketTypeID: tt.ID, Quantity: 1}},
	})
	assertCode(t, err, pkgerrors.CodeValidation)
}

func TestReserveInputValidation(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()
	ttID := uuid.New()

	cases := []struct {
		name  string
		input ReserveInput
	}{
		{name: "missing event", input: ReserveInput{Lines: []ReserveLine{{TicketTypeID: ttID, Quantity: 1}}}},
		{name: "no lines", input: ReserveInput{EventID: uuid.New()}},
		{name: "zero quantity", input: ReserveInput{EventID: uuid.New(), Lines: []ReserveLine{{TicketTypeID: ttID, Quantity: 0}}}},
		{
			name: "duplicate ticket type",
			input: ReserveInput{EventID: uuid.New(), Lines: []ReserveLine{
				{TicketTypeID: ttID, Quantity: 1},
				{TicketTypeID: ttID, Quantity: 2},
			}},
		},
		{
			name: "duplicate seat",
			input: ReserveInput{EventID: uuid.New(), Lines: []ReserveLine{
				{TicketTypeID: ttID, Quantity: 2, Seats: []string{"A1", "A1"}},
			}},
		},
		{
			name: "empty seat label",
			input: ReserveInput{EventID: uuid.New(), Lines: []ReserveLine{
				{TicketTypeID: ttID, Quantity: 1, Seats: []string{""}},
			}},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Reserve(ctx, tc.input)
			assertCode(t, err, pkgerrors.CodeValidation)
		})
	}
}

func TestFindReturnsNilForExpiredOrMissing(t *testing.T) {
	t.Parallel()

	svc, conn := newTestService(t)
	ctx := context.Background()

	hold, err := svc.Find(ctx, "no-such-token")
	if err != nil {
		t.Fatalf("find missing: %v", err)
	}
	if hold != nil {
		t.Fatal("expected nil hold for unknown token")
	}

	event := models.Event{}
	seedEvent(t, conn, &event)
	tt := models.TicketType{EventID: event.ID, QuantityAvailable: 10}
	seedTicketType(t, conn, &tt)

	token := uuid.NewString()
	if err := conn.Create(&models.Reservation{
		ID:           uuid.New(),
		SessionToken: token,
		EventID:      event.ID,
		TicketTypeID: tt.ID,
		Quantity:     1,
		ExpiresAt:    time.Now().Add(-time.Second),
	}).Error; err != nil {
		t.Fatalf("seed expired hold: %v", err)
	}

	hold, err = svc.Find(ctx, token)
	if err != nil {
		t.Fatalf("find expired: %v", err)
	}
	if hold != nil {
		t.Fatal("expected nil hold for expired token")
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	t.Parallel()

	svc, conn := newTestService(t)
	ctx := context.Background()

	event := models.Event{}
	seedEvent(t, conn, &event)
	tt := models.TicketType{EventID: event.ID, QuantityAvailable: 10, Seated: true}
	seedTicketType(t, conn, &tt)

	hold, err := svc.Reserve(ctx, ReserveInput{
		EventID: event.ID,
		Lines:   []ReserveLine{{TicketTypeID: tt.ID, Quantity: 1, Seats: []string{"D4"}}},
	})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}

	if err := svc.Release(ctx, hold.SessionToken); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := svc.Release(ctx, hold.SessionToken); err != nil {
		t.Fatalf("second release: %v", err)
	}

	var count int64
	if err := conn.Model(&models.ReservedSeat{}).Count(&count).Error; err != nil {
		t.Fatalf("count seats: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected seats to be released, found %d", count)
	}
}

func TestExtendForPayment(t *testing.T) {
	t.Parallel()

	svc, conn := newTestService(t)
	ctx := context.Background()

	event := models.Event{}
	seedEvent(t, conn, &event)
	tt := models.TicketType{EventID: event.ID, QuantityAvailable: 10, Seated: true}
	seedTicketType(t, conn, &tt)

	hold, err := svc.Reserve(ctx, ReserveInput{
		EventID: event.ID,
		Lines:   []ReserveLine{{TicketTypeID: tt.ID, Quantity: 1, Seats: []string{"E2"}}},
	})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}

	until := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	if err := svc.ExtendForPayment(ctx, hold.SessionToken, until); err != nil {
		t.Fatalf("extend: %v", err)
	}

	var row models.Reservation
	if err := conn.Where("session_token = ?", hold.SessionToken).First(&row).Error; err != nil {
		t.Fatalf("load reservation: %v", err)
	}
	if !row.ExpiresAt.Equal(until) {
		t.Fatalf("reservation expiry = %v, want %v", row.ExpiresAt, until)
	}

	var seat models.ReservedSeat
	if err := conn.Where("reservation_id = ?", row.ID).First(&seat).Error; err != nil {
		t.Fatalf("load seat: %v", err)
	}
	if !seat.ExpiresAt.Equal(until) {
		t.Fatalf("seat expiry = %v, want %v", seat.ExpiresAt, until)
	}
}

func TestSweepReclaimsExpiredHolds(t *testing.T) {
	t.Parallel()

	svc, conn := newTestService(t)
	ctx := context.Background()

	event := models.Event{}
	seedEvent(t, conn, &event)
	tt := models.TicketType{EventID: event.ID, QuantityAvailable: 10}
	seedTicketType(t, conn, &tt)

	live, err := svc.Reserve(ctx, ReserveInput{
		EventID: event.ID,
		Lines:   []ReserveLine{{TicketTypeID: tt.ID, Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := conn.Create(&models.Reservation{
			ID:           uuid.New(),
			SessionToken: uuid.NewString(),
			EventID:      event.ID,
			TicketTypeID: tt.ID,
			Quantity:     1,
			ExpiresAt:    time.Now().Add(-time.Minute),
		}).Error; err != nil {
			t.Fatalf("seed expired hold: %v", err)
		}
	}

	swept, err := svc.Sweep(ctx, 100)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if swept != 3 {
		t.Fatalf("swept = %d, want 3", swept)
	}

	var count int64
	if err := conn.Model(&models.Reservation{}).Count(&count).Error; err != nil {
		t.Fatalf("count reservations: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected only the live hold to survive, found %d rows", count)
	}

	hold, err := svc.Find(ctx, live.SessionToken)
	if err != nil {
		t.Fatalf("find live hold: %v", err)
	}
	if hold == nil {
		t.Fatal("live hold should survive the sweep")
	}
}
