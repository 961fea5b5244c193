package stats

import (
	"context"

	"github.com/stagepass/stagepass-backend/pkg/logger"
)

// Service records sales rollups after an order commits. All failures are
// logged and swallowed: statistics never block or invalidate an order.
type Service struct {
	repo Repository
	logg *logger.Logger
}

func NewService(repo Repository, logg *logger.Logger) *Service {
	return &Service{repo: repo, logg: logg}
}

// RecordSale applies the delta to the per-day and lifetime rollups.
func (s *Service) RecordSale(ctx context.Context, delta SaleDelta) {
	logCtx := s.logg.WithEventID(ctx, delta.EventID.String())
	if err := s.repo.IncrementDay(ctx, delta); err != nil {
		s.logg.Warn(s.logg.WithField(logCtx, "error", err.Error()), "failed to update daily sales stats")
	}
	if err := s.repo.IncrementEventRollup(ctx, delta); err != nil {
		s.logg.Warn(s.logg.WithField(logCtx, "error", err.Error()), "failed to update event sales rollup")
	}
}
