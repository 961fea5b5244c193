package payments

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/stagepass/stagepass-backend/pkg/enums"
)

// declinePrefix marks test tokens that must fail. Everything else approves,
// which keeps the gateway fully deterministic for a given intent.
const declinePrefix = "tok_decline"

// DummyGateway approves or declines synchronously based only on the payment
// token, with no external calls. It backs local development and the
// end-to-end checkout tests.
type DummyGateway struct{}

func NewDummyGateway() *DummyGateway {
	return &DummyGateway{}
}

func (g *DummyGateway) Kind() enums.GatewayKind {
	return enums.GatewayDummy
}

func (g *DummyGateway) Charge(_ context.Context, intent Intent) (*Result, error) {
	if strings.HasPrefix(intent.Token, declinePrefix) {
		reason := "card declined"
		if idx := strings.Index(intent.Token, ":"); idx >= 0 {
			reason = intent.Token[idx+1:]
		}
		return &Result{
			Outcome:       OutcomeDeclined,
			FailureReason: reason,
		}, nil
	}

	sum := sha256.Sum256([]byte(intent.MerchantReference))
	return &Result{
		Outcome:       OutcomeApproved,
		TransactionID: "dummy_" + hex.EncodeToString(sum[:8]),
	}, nil
}
