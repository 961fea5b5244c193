package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/stagepass/stagepass-backend/pkg/db/models"
)

// ErrInsufficientInventory is returned when a sale would push quantity_sold
// past quantity_available.
var ErrInsufficientInventory = errors.New("insufficient inventory")

// ErrUnitNotFound is returned when the ticket type does not exist.
var ErrUnitNotFound = errors.New("ticket type not found")

// ErrEventNotFound is returned when the event does not exist.
var ErrEventNotFound = errors.New("event not found")

// Repository is the inventory ledger. All admission decisions for a ticket
// type go through LockUnit first so concurrent checkouts serialize on the row.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	LockUnit(ctx context.Context, ticketTypeID uuid.UUID) (*models.TicketType, error)
	ReservedQuantity(ctx context.Context, ticketTypeID uuid.UUID, now time.Time) (int, error)
	Remaining(ctx context.Context, ticketTypeID uuid.UUID, now time.Time) (int, error)
	CommitSale(ctx context.Context, ticketTypeID uuid.UUID, qty int) error
	FindUnit(ctx context.Context, ticketTypeID uuid.UUID) (*models.TicketType, error)
	FindUnits(ctx context.Context, eventID uuid.UUID) ([]models.TicketType, error)
	FindEvent(ctx context.Context, eventID uuid.UUID) (*models.Event, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds an inventory repository backed by the provided DB.
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

// LockUnit takes a write lock on the ticket type row by bumping its
// lock_version, then reloads it. Inside a transaction this blocks other
// writers until commit, which linearizes reserve and finalize admission.
func (r *repository) LockUnit(ctx context.Context, ticketTypeID uuid.UUID) (*models.TicketType, error) {
	res := r.db.WithContext(ctx).
		Model(&models.TicketType{}).
		Where("id = ?", ticketTypeID).
		UpdateColumn("lock_version", gorm.Expr("lock_version + 1"))
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrUnitNotFound
	}

	var unit models.TicketType
	if err := r.db.WithContext(ctx).Where("id = ?", ticketTypeID).First(&unit).Error; err != nil {
		return nil, err
	}
	return &unit, nil
}

// ReservedQuantity sums the non-expired holds against the ticket type.
func (r *repository) ReservedQuantity(ctx context.Context, ticketTypeID uuid.UUID, now time.Time) (int, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&models.Reservation{}).
		Select("COALESCE(SUM(quantity), 0)").
		Where("ticket_type_id = ? AND expires_at > ?", ticketTypeID, now).
		Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return int(total), nil
}

// Remaining is quantity_available minus quantity_sold minus live holds. It is
// never negative.
func (r *repository) Remaining(ctx context.Context, ticketTypeID uuid.UUID, now time.Time) (int, error) {
	unit, err := r.FindUnit(ctx, ticketTypeID)
	if err != nil {
		return 0, err
	}
	reserved, err := r.ReservedQuantity(ctx, ticketTypeID, now)
	if err != nil {
		return 0, err
	}
	remaining := unit.QuantityAvailable - unit.QuantitySold - reserved
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// CommitSale moves qty from reserved to sold. The guard in the WHERE clause
// keeps quantity_sold within quantity_available even under races.
func (r *repository) CommitSale(ctx context.Context, ticketTypeID uuid.UUID, qty int) error {
	if qty <= 0 {
		return nil
	}
	res := r.db.WithContext(ctx).
		Model(&models.TicketType{}).
		Where("id = ? AND quantity_sold + ? <= quantity_available", ticketTypeID, qty).
		UpdateColumn("quantity_sold", gorm.Expr("quantity_sold + ?", qty))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrInsufficientInventory
	}
	return nil
}

func (r *repository) FindUnit(ctx context.Context, ticketTypeID uuid.UUID) (*models.TicketType, error) {
	var unit models.TicketType
	err := r.db.WithContext(ctx).Where("id = ?", ticketTypeID).First(&unit).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUnitNotFound
		}
		return nil, err
	}
	return &unit, nil
}

func (r *repository) FindUnits(ctx context.Context, eventID uuid.UUID) ([]models.TicketType, error) {
	var units []models.TicketType
	err := r.db.WithContext(ctx).
		Where("event_id = ?", eventID).
		Order("created_at ASC").
		Find(&units).Error
	return units, err
}

func (r *repository) FindEvent(ctx context.Context, eventID uuid.UUID) (*models.Event, error) {
	var event models.Event
	err := r.db.WithContext(ctx).Where("id = ?", eventID).First(&event).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEventNotFound
		}
		return nil, err
	}
	return &event, nil
}
