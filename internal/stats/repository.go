package stats

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/stagepass/stagepass-backend/pkg/db/models"
)

// SaleDelta is one finalized order's contribution to the rollups.
type SaleDelta struct {
	EventID            uuid.UUID
	Day                time.Time
	TicketsSold        int64
	SalesVolumeCents   int64
	OrganiserFeesCents int64
}

type Repository interface {
	WithTx(tx *gorm.DB) Repository
	IncrementDay(ctx context.Context, delta SaleDelta) error
	IncrementEventRollup(ctx context.Context, delta SaleDelta) error
	FindDay(ctx context.Context, eventID uuid.UUID, day time.Time) (*models.EventStats, error)
}

type repository struct {
	db *gorm.DB
}

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

// IncrementDay upserts the per-day rollup row for the event.
func (r *repository) IncrementDay(ctx context.Context, delta SaleDelta) error {
	row := models.EventStats{
		ID:                 uuid.New(),
		EventID:            delta.EventID,
		Date:               delta.Day.Format("2006-01-02"),
		TicketsSold:        delta.TicketsSold,
		OrdersCount:        1,
		SalesVolumeCents:   delta.SalesVolumeCents,
		OrganiserFeesCents: delta.OrganiserFeesCents,
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "event_id"}, {Name: "date"}},
			DoUpdates: clause.Assignments(map[string]any{
				"tickets_sold":         gorm.Expr("event_stats.tickets_sold + ?", delta.TicketsSold),
				"orders_count":         gorm.Expr("event_stats.orders_count + 1"),
				"sales_volume_cents":   gorm.Expr("event_stats.sales_volume_cents + ?", delta.SalesVolumeCents),
				"organiser_fees_cents": gorm.Expr("event_stats.organiser_fees_cents + ?", delta.OrganiserFeesCents),
			}),
		}).
		Create(&row).Error
}

// IncrementEventRollup bumps the lifetime counters on the event row.
func (r *repository) IncrementEventRollup(ctx context.Context, delta SaleDelta) error {
	return r.db.WithContext(ctx).
		Model(&models.Event{}).
		Where("id = ?", delta.EventID).
		Updates(map[string]any{
			"sales_volume_cents":   gorm.Expr("sales_volume_cents + ?", delta.SalesVolumeCents),
			"organiser_fees_cents": gorm.Expr("organiser_fees_cents + ?", delta.OrganiserFeesCents),
			"tickets_sold_rollup":  gorm.Expr("tickets_sold_rollup + ?", delta.TicketsSold),
		}).Error
}

func (r *repository) FindDay(ctx context.Context, eventID uuid.UUID, day time.Time) (*models.EventStats, error) {
	var row models.EventStats
	err := r.db.WithContext(ctx).
		Where("event_id = ? AND date = ?", eventID, day.Format("2006-01-02")).
		First(&row).Error
	if err != nil {
		return nil, err
	}
	return &row, nil
}
