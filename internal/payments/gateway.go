package payments

import (
	"context"

	"github.com/stagepass/stagepass-backend/pkg/enums"
)

// Outcome is the result category of a gateway interaction.
type Outcome string

const (
	// OutcomeApproved means funds were captured synchronously.
	OutcomeApproved Outcome = "approved"
	// OutcomeDeclined means the gateway rejected the payment.
	OutcomeDeclined Outcome = "declined"
	// OutcomeRedirect means the buyer must complete payment on the
	// gateway's hosted page.
	OutcomeRedirect Outcome = "redirect"
	// OutcomeOffline means no funds move now; the order is settled at the
	// door.
	OutcomeOffline Outcome = "offline"
)

// Intent is a single charge request handed to a gateway.
type Intent struct {
	SessionToken      string
	MerchantReference string
	AmountCents       int64
	Currency          string
	Description       string
	// Token is the client-side payment token (card nonce). Synchronous
	// gateways consume it; redirect gateways ignore it.
	Token     string
	ReturnURL string
}

// Result is what a gateway reports back for an intent.
type Result struct {
	Outcome        Outcome
	TransactionID  string
	FailureReason  string
	RedirectURL    string
	RedirectMethod string
	RedirectFields map[string]string
}

// Gateway is one payment integration. Charge must not mutate application
// state; the orchestrator records attempts around it.
type Gateway interface {
	Kind() enums.GatewayKind
	Charge(ctx context.Context, intent Intent) (*Result, error)
}

// CallbackGateway is implemented by gateways that confirm payment through a
// server-to-server callback.
type CallbackGateway interface {
	Gateway
	// VerifyCallback authenticates the callback parameters.
	VerifyCallback(params map[string]string) error
	// ParseCallback extracts the merchant reference and outcome.
	ParseCallback(params map[string]string) (CallbackResult, error)
}

// CallbackResult is the normalized payload of a gateway callback.
type CallbackResult struct {
	MerchantReference string
	Outcome           Outcome
	TransactionID     string
	FailureReason     string
}
