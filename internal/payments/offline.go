package payments

import (
	"context"

	"github.com/stagepass/stagepass-backend/pkg/enums"
)

// OfflineGateway moves no funds. Orders settle in person; the order is
// written as awaiting payment.
type OfflineGateway struct{}

func NewOfflineGateway() *OfflineGateway {
	return &OfflineGateway{}
}

func (g *OfflineGateway) Kind() enums.GatewayKind {
	return enums.GatewayOffline
}

func (g *OfflineGateway) Charge(_ context.Context, _ Intent) (*Result, error) {
	return &Result{Outcome: OutcomeOffline}, nil
}
