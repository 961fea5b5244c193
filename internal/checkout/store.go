package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/stagepass/stagepass-backend/pkg/enums"
	redispkg "github.com/stagepass/stagepass-backend/pkg/redis"
)

// ErrSessionNotFound covers both unknown tokens and sessions whose TTL
// elapsed; Redis cannot tell those apart once the key is gone.
var ErrSessionNotFound = errors.New("checkout session not found")

// ErrStatusConflict is returned when a status move loses a race or is not a
// legal transition.
var ErrStatusConflict = errors.New("checkout status transition conflict")

// unlockScript deletes the lock only when the caller still owns it.
const unlockScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

// KV is the slice of the redis client the store needs. Narrow on purpose so
// tests can swap in an in-memory map.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	TTL(ctx context.Context, key string) (time.Duration, error)
	Eval(ctx context.Context, script string, keys []string, args ...any) (any, error)
	SessionKey(token string) string
	LockKey(scope, id string) string
}

// Store keeps checkout sessions in Redis, keyed by opaque token with a TTL
// matching the reservation hold.
type Store struct {
	kv      KV
	lockTTL time.Duration
}

func NewStore(client *redispkg.Client, lockTTL time.Duration) *Store {
	return &Store{kv: client, lockTTL: lockTTL}
}

// NewStoreWithKV builds a store over any KV, used by tests.
func NewStoreWithKV(kv KV, lockTTL time.Duration) *Store {
	return &Store{kv: kv, lockTTL: lockTTL}
}

// Save writes the session document under its token with the given TTL.
func (s *Store) Save(ctx context.Context, session *Session, ttl time.Duration) error {
	raw, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}
	return s.kv.Set(ctx, s.kv.SessionKey(session.Token), raw, ttl)
}

// Get loads the session, returning ErrSessionNotFound once the TTL elapsed.
func (s *Store) Get(ctx context.Context, token string) (*Session, error) {
	raw, err := s.kv.Get(ctx, s.kv.SessionKey(token))
	if err != nil {
		if err == redispkg.Nil {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	var session Session
	if err := json.Unmarshal([]byte(raw), &session); err != nil {
		return nil, fmt.Errorf("decoding session: %w", err)
	}
	return &session, nil
}

// SecondsToExpiry returns how long the session remains actionable.
func (s *Store) SecondsToExpiry(ctx context.Context, token string) (int64, error) {
	ttl, err := s.kv.TTL(ctx, s.kv.SessionKey(token))
	if err != nil {
		return 0, err
	}
	if ttl < 0 {
		return 0, nil
	}
	return int64(ttl.Seconds()), nil
}

// UpdateStatus moves the session from one status to another under a per-token
// mutation lock, so concurrent movers see exactly one winner. A zero ttl
// preserves the remaining TTL; a positive one replaces it.
func (s *Store) UpdateStatus(ctx context.Context, token string, from, to enums.CheckoutStatus, ttl time.Duration) (*Session, error) {
	if !from.CanTransitionTo(to) {
		return nil, ErrStatusConflict
	}

	unlock, err := s.lock(ctx, token)
	if err != nil {
		return nil, err
	}
	defer unlock()

	return s.mutate(ctx, token, ttl, func(session *Session) error {
		if session.Status != from {
			return ErrStatusConflict
		}
		session.Status = to
		return nil
	})
}

// Update applies fn to the session under the mutation lock and persists the
// result, preserving the remaining TTL unless override is positive.
func (s *Store) Update(ctx context.Context, token string, ttl time.Duration, fn func(*Session) error) (*Session, error) {
	unlock, err := s.lock(ctx, token)
	if err != nil {
		return nil, err
	}
	defer unlock()

	return s.mutate(ctx, token, ttl, fn)
}

// Delete drops the session document.
func (s *Store) Delete(ctx context.Context, token string) error {
	return s.kv.Del(ctx, s.kv.SessionKey(token))
}

func (s *Store) mutate(ctx context.Context, token string, ttl time.Duration, fn func(*Session) error) (*Session, error) {
	session, err := s.Get(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := fn(session); err != nil {
		return nil, err
	}
	if ttl <= 0 {
		remaining, err := s.kv.TTL(ctx, s.kv.SessionKey(token))
		if err != nil {
			return nil, err
		}
		if remaining <= 0 {
			return nil, ErrSessionNotFound
		}
		ttl = remaining
	}
	if err := s.Save(ctx, session, ttl); err != nil {
		return nil, err
	}
	return session, nil
}

func (s *Store) lock(ctx context.Context, token string) (func(), error) {
	key := s.kv.LockKey("checkout_session", token)
	owner := uuid.NewString()
	ttl := s.lockTTL
	if ttl <= 0 {
		ttl = 5 * time.Second
	}

	deadline := time.Now().Add(ttl)
	for {
		ok, err := s.kv.SetNX(ctx, key, owner, ttl)
		if err != nil {
			return nil, err
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			return nil, ErrStatusConflict
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}

	return func() {
		_, _ = s.kv.Eval(ctx, unlockScript, []string{key}, owner)
	}, nil
}
