package payments

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/stagepass/stagepass-backend/pkg/db"
	"github.com/stagepass/stagepass-backend/pkg/db/models"
	"github.com/stagepass/stagepass-backend/pkg/enums"
	pkgerrors "github.com/stagepass/stagepass-backend/pkg/errors"
	"github.com/stagepass/stagepass-backend/pkg/logger"
	"github.com/stagepass/stagepass-backend/pkg/metrics"
)

// StatusChecker is implemented by gateways that can be polled for a payment's
// current state.
type StatusChecker interface {
	Status(ctx context.Context, merchantReference string) (CallbackResult, error)
}

// AuthorizeInput describes one payment authorization for a checkout session.
type AuthorizeInput struct {
	SessionToken string
	Gateway      enums.GatewayKind
	AmountCents  int64
	Currency     string
	Description  string
	Token        string
	ReturnURL    string
}

// Orchestrator routes intents to gateways and records every attempt so
// callbacks can be correlated later.
type Orchestrator struct {
	attempts Repository
	gateways map[enums.GatewayKind]Gateway
	metrics  *metrics.CheckoutMetrics
	logg     *logger.Logger
}

func NewOrchestrator(attempts Repository, logg *logger.Logger, m *metrics.CheckoutMetrics, gateways ...Gateway) *Orchestrator {
	byKind := make(map[enums.GatewayKind]Gateway, len(gateways))
	for _, gw := range gateways {
		if gw == nil {
			continue
		}
		byKind[gw.Kind()] = gw
	}
	return &Orchestrator{
		attempts: attempts,
		gateways: byKind,
		metrics:  m,
		logg:     logg,
	}
}

// Authorize charges (or starts a redirect for) the given session. Every
// money-moving attempt leaves a payment_attempts row keyed by a fresh
// merchant reference.
func (o *Orchestrator) Authorize(ctx context.Context, in AuthorizeInput) (*Result, *models.PaymentAttempt, error) {
	gw, ok := o.gateways[in.Gateway]
	if !ok {
		return nil, nil, pkgerrors.New(pkgerrors.CodeValidation, "unsupported payment gateway").
			WithDetails(map[string]any{"gateway": in.Gateway})
	}

	intent := Intent{
		SessionToken: in.SessionToken,
		AmountCents:  in.AmountCents,
		Currency:     in.Currency,
		Description:  in.Description,
		Token:        in.Token,
		ReturnURL:    in.ReturnURL,
	}

	if in.Gateway == enums.GatewayOffline {
		result, err := gw.Charge(ctx, intent)
		if err != nil {
			return nil, nil, pkgerrors.Wrap(pkgerrors.CodePayment, err, "offline gateway")
		}
		return result, nil, nil
	}

	attempt, err := o.createAttempt(ctx, in)
	if err != nil {
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "recording payment attempt")
	}
	intent.MerchantReference = attempt.MerchantReference

	result, err := gw.Charge(ctx, intent)
	if err != nil {
		reason := err.Error()
		_ = o.attempts.UpdateStatus(ctx, attempt.ID, enums.PaymentAttemptFailed, nil, &reason)
		o.metrics.IncPaymentOutcome(in.Gateway.String(), "error")
		return nil, attempt, pkgerrors.Wrap(pkgerrors.CodePayment, err, "gateway charge failed")
	}

	switch result.Outcome {
	case OutcomeApproved:
		err = o.attempts.UpdateStatus(ctx, attempt.ID, enums.PaymentAttemptSucceeded, &result.TransactionID, nil)
	case OutcomeDeclined:
		err = o.attempts.UpdateStatus(ctx, attempt.ID, enums.PaymentAttemptFailed, nil, &result.FailureReason)
	case OutcomeRedirect:
		err = o.attempts.UpdateStatus(ctx, attempt.ID, enums.PaymentAttemptRedirected, nil, nil)
	}
	if err != nil {
		return nil, attempt, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "updating payment attempt")
	}

	o.metrics.IncPaymentOutcome(in.Gateway.String(), string(result.Outcome))
	logCtx := o.logg.WithFields(ctx, map[string]any{
		"session_token":      in.SessionToken,
		"gateway":            in.Gateway,
		"merchant_reference": attempt.MerchantReference,
		"outcome":            result.Outcome,
	})
	o.logg.Info(logCtx, "payment authorized")

	return result, attempt, nil
}

// HandleCallback authenticates and applies a gateway callback. The session is
// always re-derived from the stored attempt, never from caller input.
func (o *Orchestrator) HandleCallback(ctx context.Context, kind enums.GatewayKind, params map[string]string) (*models.PaymentAttempt, CallbackResult, error) {
	gw, ok := o.gateways[kind]
	if !ok {
		return nil, CallbackResult{}, pkgerrors.New(pkgerrors.CodeValidation, "unsupported payment gateway")
	}
	cb, ok := gw.(CallbackGateway)
	if !ok {
		return nil, CallbackResult{}, pkgerrors.New(pkgerrors.CodeValidation, "gateway does not deliver callbacks")
	}

	if err := cb.VerifyCallback(params); err != nil {
		return nil, CallbackResult{}, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "callback authentication failed")
	}

	result, err := cb.ParseCallback(params)
	if err != nil {
		return nil, CallbackResult{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "malformed callback")
	}

	attempt, err := o.attempts.FindByMerchantReference(ctx, result.MerchantReference)
	if err != nil {
		if err == ErrAttemptNotFound {
			return nil, CallbackResult{}, pkgerrors.New(pkgerrors.CodeNotFound, "unknown merchant reference")
		}
		return nil, CallbackResult{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading payment attempt")
	}

	// Replayed callbacks for settled attempts are acknowledged, not reapplied.
	if attempt.Status.IsFinal() {
		return attempt, result, nil
	}

	switch result.Outcome {
	case OutcomeApproved:
		err = o.attempts.UpdateStatus(ctx, attempt.ID, enums.PaymentAttemptSucceeded, &result.TransactionID, nil)
	default:
		err = o.attempts.UpdateStatus(ctx, attempt.ID, enums.PaymentAttemptFailed, nil, &result.FailureReason)
	}
	if err != nil {
		return nil, CallbackResult{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "updating payment attempt")
	}

	o.metrics.IncPaymentOutcome(kind.String(), string(result.Outcome))
	return attempt, result, nil
}

// CheckStatus resolves the current state of an attempt, polling the gateway
// when the attempt is still open and the gateway supports it.
func (o *Orchestrator) CheckStatus(ctx context.Context, merchantReference string) (*models.PaymentAttempt, error) {
	attempt, err := o.attempts.FindByMerchantReference(ctx, merchantReference)
	if err != nil {
		if err == ErrAttemptNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "unknown merchant reference")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading payment attempt")
	}
	if attempt.Status.IsFinal() {
		return attempt, nil
	}

	gw, ok := o.gateways[attempt.Gateway]
	if !ok {
		return attempt, nil
	}
	checker, ok := gw.(StatusChecker)
	if !ok {
		return attempt, nil
	}

	result, err := checker.Status(ctx, merchantReference)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "gateway status check failed")
	}

	switch result.Outcome {
	case OutcomeApproved:
		err = o.attempts.UpdateStatus(ctx, attempt.ID, enums.PaymentAttemptSucceeded, &result.TransactionID, nil)
	case OutcomeDeclined:
		err = o.attempts.UpdateStatus(ctx, attempt.ID, enums.PaymentAttemptFailed, nil, &result.FailureReason)
	default:
		return attempt, nil
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "updating payment attempt")
	}

	return o.attempts.FindByMerchantReference(ctx, merchantReference)
}

// FindBySession returns the most recent attempt for a checkout session.
func (o *Orchestrator) FindBySession(ctx context.Context, token string) (*models.PaymentAttempt, error) {
	attempt, err := o.attempts.FindLatestBySessionToken(ctx, token)
	if err != nil {
		if err == ErrAttemptNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no payment attempt for session")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading payment attempt")
	}
	return attempt, nil
}

func (o *Orchestrator) createAttempt(ctx context.Context, in AuthorizeInput) (*models.PaymentAttempt, error) {
	for range 5 {
		attempt := &models.PaymentAttempt{
			MerchantReference: NewMerchantReference(),
			SessionToken:      in.SessionToken,
			Gateway:           in.Gateway,
			AmountCents:       in.AmountCents,
			Currency:          in.Currency,
			Status:            enums.PaymentAttemptInitiated,
		}
		err := o.attempts.Create(ctx, attempt)
		if err == nil {
			return attempt, nil
		}
		if !db.IsUniqueViolation(err, "") {
			return nil, err
		}
	}
	return nil, fmt.Errorf("could not allocate a unique merchant reference")
}

// NewMerchantReference mints an opaque provider-facing id for one attempt.
func NewMerchantReference() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand only fails when the platform entropy source is broken.
		panic(err)
	}
	return "SP" + strings.ToUpper(hex.EncodeToString(buf))
}
