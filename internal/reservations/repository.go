package reservations

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/stagepass/stagepass-backend/pkg/db/models"
)

// Repository persists reservation holds and their seat rows.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, reservations []models.Reservation, seats []models.ReservedSeat) error
	FindBySessionToken(ctx context.Context, token string) ([]models.Reservation, error)
	FindSeatsBySessionToken(ctx context.Context, token string) ([]models.ReservedSeat, error)
	SeatsTaken(ctx context.Context, eventID uuid.UUID, seats []string, now time.Time) ([]string, error)
	DeleteBySessionToken(ctx context.Context, token string) error
	ExpiredSessionTokens(ctx context.Context, now time.Time, limit int) ([]string, error)
	ExtendExpiry(ctx context.Context, token string, expiresAt time.Time) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a reservation repository backed by the provided DB.
func NewRepository(db *gorm.DB) Repository {
	if db == nil {
		return nil
	}
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, reservations []models.Reservation, seats []models.ReservedSeat) error {
	if len(reservations) > 0 {
		if err := r.db.WithContext(ctx).Create(&reservations).Error; err != nil {
			return err
		}
	}
	if len(seats) > 0 {
		if err := r.db.WithContext(ctx).Create(&seats).Error; err != nil {
			return err
		}
	}
	return nil
}

func (r *repository) FindBySessionToken(ctx context.Context, token string) ([]models.Reservation, error) {
	var rows []models.Reservation
	err := r.db.WithContext(ctx).
		Where("session_token = ?", token).
		Find(&rows).Error
	return rows, err
}

func (r *repository) FindSeatsBySessionToken(ctx context.Context, token string) ([]models.ReservedSeat, error) {
	var rows []models.ReservedSeat
	err := r.db.WithContext(ctx).
		Joins("JOIN reservations ON reservations.id = reserved_seats.reservation_id").
		Where("reservations.session_token = ?", token).
		Find(&rows).Error
	return rows, err
}

// SeatsTaken reports which of the candidate seats are already claimed for the
// event, either by a live hold or by a sold attendee ticket.
func (r *repository) SeatsTaken(ctx context.Context, eventID uuid.UUID, seats []string, now time.Time) ([]string, error) {
	if len(seats) == 0 {
		return nil, nil
	}

	var held []string
	err := r.db.WithContext(ctx).
		Model(&models.ReservedSeat{}).
		Distinct("seat").
		Where("event_id = ? AND seat IN ? AND expires_at > ?", eventID, seats, now).
		Pluck("seat", &held).Error
	if err != nil {
		return nil, err
	}

	var sold []string
	err = r.db.WithContext(ctx).
		Model(&models.Attendee{}).
		Distinct("seat").
		Where("event_id = ? AND seat IN ?", eventID, seats).
		Pluck("seat", &sold).Error
	if err != nil {
		return nil, err
	}

	taken := map[string]struct{}{}
	out := []string{}
	for _, seat := range append(held, sold...) {
		if _, ok := taken[seat]; ok {
			continue
		}
		taken[seat] = struct{}{}
		out = append(out, seat)
	}
	return out, nil
}

// DeleteBySessionToken removes the hold and its seats. Deleting an absent
// token is a no-op so release stays idempotent.
func (r *repository) DeleteBySessionToken(ctx context.Context, token string) error {
	err := r.db.WithContext(ctx).
		Where("reservation_id IN (?)", r.db.Model(&models.Reservation{}).
			Select("id").
			Where("session_token = ?", token)).
		Delete(&models.ReservedSeat{}).Error
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).
		Where("session_token = ?", token).
		Delete(&models.Reservation{}).Error
}

// ExpiredSessionTokens returns distinct tokens whose holds have all expired.
func (r *repository) ExpiredSessionTokens(ctx context.Context, now time.Time, limit int) ([]string, error) {
	var tokens []string
	query := r.db.WithContext(ctx).
		Model(&models.Reservation{}).
		Distinct("session_token").
		Where("expires_at <= ?", now)
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Pluck("session_token", &tokens).Error
	return tokens, err
}

// ExtendExpiry pushes the hold deadline out, used when a session moves into
// payment so the inventory stays held while the gateway round-trips.
func (r *repository) ExtendExpiry(ctx context.Context, token string, expiresAt time.Time) error {
	if err := r.db.WithContext(ctx).
		Model(&models.Reservation{}).
		Where("session_token = ?", token).
		UpdateColumn("expires_at", expiresAt).Error; err != nil {
		return err
	}
	return r.db.WithContext(ctx).
		Model(&models.ReservedSeat{}).
		Where("reservation_id IN (?)", r.db.Model(&models.Reservation{}).
			Select("id").
			Where("session_token = ?", token)).
		UpdateColumn("expires_at", expiresAt).Error
}
