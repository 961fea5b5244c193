package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/stagepass/stagepass-backend/pkg/enums"
	redispkg "github.com/stagepass/stagepass-backend/pkg/redis"
)

type memEntry struct {
	value     string
	expiresAt time.Time
}

// memKV is an in-memory stand-in for the redis client, honoring TTLs and the
// owner-checked unlock script.
type memKV struct {
	mu   sync.Mutex
	data map[string]memEntry
	now  func() time.Time
}

func newMemKV() *memKV {
	return &memKV{data: map[string]memEntry{}, now: time.Now}
}

func (m *memKV) get(key string) (memEntry, bool) {
	entry, ok := m.data[key]
	if !ok {
		return memEntry{}, false
	}
	if !entry.expiresAt.IsZero() && !entry.expiresAt.After(m.now()) {
		delete(m.data, key)
		return memEntry{}, false
	}
	return entry, true
}

func (m *memKV) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.get(key)
	if !ok {
		return "", redispkg.Nil
	}
	return entry.value, nil
}

func (m *memKV) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry := memEntry{value: stringify(value)}
	if ttl > 0 {
		entry.expiresAt = m.now().Add(ttl)
	}
	m.data[key] = entry
	return nil
}

func (m *memKV) SetNX(_ context.Context, key string, value any, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.get(key); ok {
		return false, nil
	}
	entry := memEntry{value: stringify(value)}
	if ttl > 0 {
		entry.expiresAt = m.now().Add(ttl)
	}
	m.data[key] = entry
	return true, nil
}

func (m *memKV) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.data, key)
	}
	return nil
}

func (m *memKV) TTL(_ context.Context, key string) (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.get(key)
	if !ok {
		return -2 * time.Nanosecond, nil
	}
	if entry.expiresAt.IsZero() {
		return -1 * time.Nanosecond, nil
	}
	return entry.expiresAt.Sub(m.now()), nil
}

// Eval supports only the owner-checked unlock script the store uses.
func (m *memKV) Eval(_ context.Context, script string, keys []string, args ...any) (any, error) {
	if !strings.Contains(script, "DEL") {
		return nil, errors.New("unsupported script")
	}
	if len(keys) != 1 || len(args) != 1 {
		return nil, errors.New("unexpected unlock arguments")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.get(keys[0])
	if !ok || entry.value != stringify(args[0]) {
		return int64(0), nil
	}
	delete(m.data, keys[0])
	return int64(1), nil
}

func (m *memKV) SessionKey(token string) string {
	return "sp:checkout_session:" + token
}

func (m *memKV) LockKey(scope, id string) string {
	return "sp:lock:" + scope + ":" + id
}

func stringify(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func newTestStore() (*Store, *memKV) {
	kv := newMemKV()
	return NewStoreWithKV(kv, time.Second), kv
}

func testSession(status enums.CheckoutStatus) *Session {
	now := time.Now()
	return &Session{
		Token:     uuid.NewString(),
		Status:    status,
		EventID:   uuid.New(),
		EventName: "Warehouse Show",
		Currency:  "USD",
		Lines: []SessionLine{
			{TicketTypeID: uuid.New(), Name: "General Admission", UnitPriceCents: 2500, Quantity: 2},
		},
		Totals:    Totals{SubtotalCents: 5000, TotalCents: 5000},
		CreatedAt: now,
		ExpiresAt: now.Add(10 * time.Minute),
	}
}

func TestStoreSaveGetRoundTrip(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore()
	ctx := context.Background()
	session := testSession(enums.CheckoutStatusCreated)

	if err := store.Save(ctx, session, 10*time.Minute); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := store.Get(ctx, session.Token)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if loaded.Token != session.Token || loaded.Status != session.Status {
		t.Fatalf("unexpected session: %+v", loaded)
	}
	if loaded.Totals.TotalCents != 5000 {
		t.Fatalf("totals lost in round trip: %+v", loaded.Totals)
	}

	if _, err := store.Get(ctx, "missing-token"); err != ErrSessionNotFound {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestStoreUpdateStatus(t *testing.T) {
	t.Parallel()

	store, kv := newTestStore()
	ctx := context.Background()
	session := testSession(enums.CheckoutStatusCreated)

	if err := store.Save(ctx, session, 10*time.Minute); err != nil {
		t.Fatalf("save: %v", err)
	}

	updated, err := store.UpdateStatus(ctx, session.Token, enums.CheckoutStatusCreated, enums.CheckoutStatusAwaitingPayment, 0)
	if err != nil {
		t.Fatalf("update status: %v", err)
	}
	if updated.Status != enums.CheckoutStatusAwaitingPayment {
		t.Fatalf("status = %s, want awaiting_payment", updated.Status)
	}

	loaded, err := store.Get(ctx, session.Token)
	if err != nil {
		t.Fatalf("get after update: %v", err)
	}
	if loaded.Status != enums.CheckoutStatusAwaitingPayment {
		t.Fatalf("persisted status = %s, want awaiting_payment", loaded.Status)
	}

	// The mutation lock must be released afterwards.
	if _, ok := kv.data[kv.LockKey("checkout_session", session.Token)]; ok {
		t.Fatal("mutation lock left behind")
	}
}

func TestStoreUpdateStatusIllegalTransition(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore()
	ctx := context.Background()
	session := testSession(enums.CheckoutStatusAwaitingPayment)

	if err := store.Save(ctx, session, 10*time.Minute); err != nil {
		t.Fatalf("save: %v", err)
	}

	if _, err := store.UpdateStatus(ctx, session.Token, enums.CheckoutStatusAwaitingPayment, enums.CheckoutStatusCreated, 0); err != ErrStatusConflict {
		t.Fatalf("expected ErrStatusConflict, got %v", err)
	}
	if _, err := store.UpdateStatus(ctx, session.Token, enums.CheckoutStatusCompleted, enums.CheckoutStatusPaid, 0); err != ErrStatusConflict {
		t.Fatalf("expected ErrStatusConflict from terminal state, got %v", err)
	}
}

func TestStoreUpdateStatusFromMismatch(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore()
	ctx := context.Background()
	session := testSession(enums.CheckoutStatusPaid)

	if err := store.Save(ctx, session, 10*time.Minute); err != nil {
		t.Fatalf("save: %v", err)
	}

	// Legal transition shape, but the stored session is not in the expected
	// from state, so the mover lost the race.
	if _, err := store.UpdateStatus(ctx, session.Token, enums.CheckoutStatusCreated, enums.CheckoutStatusAwaitingPayment, 0); err != ErrStatusConflict {
		t.Fatalf("expected ErrStatusConflict, got %v", err)
	}

	loaded, err := store.Get(ctx, session.Token)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if loaded.Status != enums.CheckoutStatusPaid {
		t.Fatalf("status should be untouched, got %s", loaded.Status)
	}
}

func TestStoreUpdatePreservesTTL(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore()
	ctx := context.Background()
	session := testSession(enums.CheckoutStatusCreated)

	if err := store.Save(ctx, session, 10*time.Minute); err != nil {
		t.Fatalf("save: %v", err)
	}

	if _, err := store.Update(ctx, session.Token, 0, func(s *Session) error {
		s.PromoCode = "EARLYBIRD"
		return nil
	}); err != nil {
		t.Fatalf("update: %v", err)
	}

	remaining, err := store.SecondsToExpiry(ctx, session.Token)
	if err != nil {
		t.Fatalf("seconds to expiry: %v", err)
	}
	if remaining <= 0 || remaining > int64((10*time.Minute).Seconds()) {
		t.Fatalf("remaining = %d, want within original ttl", remaining)
	}
}

func TestStoreUpdateStatusReplacesTTL(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore()
	ctx := context.Background()
	session := testSession(enums.CheckoutStatusCreated)

	if err := store.Save(ctx, session, time.Minute); err != nil {
		t.Fatalf("save: %v", err)
	}

	if _, err := store.UpdateStatus(ctx, session.Token, enums.CheckoutStatusCreated, enums.CheckoutStatusAwaitingPayment, 30*time.Minute); err != nil {
		t.Fatalf("update status: %v", err)
	}

	remaining, err := store.SecondsToExpiry(ctx, session.Token)
	if err != nil {
		t.Fatalf("seconds to expiry: %v", err)
	}
	if remaining <= int64(time.Minute.Seconds()) {
		t.Fatalf("remaining = %d, expected extended ttl", remaining)
	}
}

func TestStoreUpdateErrorDiscardsChanges(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore()
	ctx := context.Background()
	session := testSession(enums.CheckoutStatusCreated)

	if err := store.Save(ctx, session, 10*time.Minute); err != nil {
		t.Fatalf("save: %v", err)
	}

	boom := errors.New("boom")
	if _, err := store.Update(ctx, session.Token, 0, func(s *Session) error {
		s.PromoCode = "SHOULD-NOT-STICK"
		return boom
	}); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	loaded, err := store.Get(ctx, session.Token)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if loaded.PromoCode != "" {
		t.Fatalf("failed mutation was persisted: %+v", loaded)
	}
}

func TestStoreMutationLockContention(t *testing.T) {
	t.Parallel()

	kv := newMemKV()
	store := NewStoreWithKV(kv, 50*time.Millisecond)
	ctx := context.Background()
	session := testSession(enums.CheckoutStatusCreated)

	if err := store.Save(ctx, session, 10*time.Minute); err != nil {
		t.Fatalf("save: %v", err)
	}

	// Another mover holds the lock beyond our acquisition deadline.
	lockKey := kv.LockKey("checkout_session", session.Token)
	if ok, err := kv.SetNX(ctx, lockKey, "other-owner", time.Minute); err != nil || !ok {
		t.Fatalf("pre-acquire lock: ok=%v err=%v", ok, err)
	}

	if _, err := store.UpdateStatus(ctx, session.Token, enums.CheckoutStatusCreated, enums.CheckoutStatusAwaitingPayment, 0); err != ErrStatusConflict {
		t.Fatalf("expected ErrStatusConflict under contention, got %v", err)
	}
}

func TestStoreDelete(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore()
	ctx := context.Background()
	session := testSession(enums.CheckoutStatusCreated)

	if err := store.Save(ctx, session, 10*time.Minute); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Delete(ctx, session.Token); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.Get(ctx, session.Token); err != ErrSessionNotFound {
		t.Fatalf("expected ErrSessionNotFound after delete, got %v", err)
	}

	if n, err := store.SecondsToExpiry(ctx, session.Token); err != nil || n != 0 {
		t.Fatalf("expiry after delete = %d, %v; want 0, nil", n, err)
	}
}
