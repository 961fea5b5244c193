package orders

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/stagepass/stagepass-backend/internal/checkout"
	"github.com/stagepass/stagepass-backend/internal/inventory"
	"github.com/stagepass/stagepass-backend/internal/payments"
	"github.com/stagepass/stagepass-backend/internal/reservations"
	"github.com/stagepass/stagepass-backend/pkg/config"
	dbpkg "github.com/stagepass/stagepass-backend/pkg/db"
	"github.com/stagepass/stagepass-backend/pkg/db/models"
	"github.com/stagepass/stagepass-backend/pkg/enums"
	pkgerrors "github.com/stagepass/stagepass-backend/pkg/errors"
	"github.com/stagepass/stagepass-backend/pkg/logger"
	"github.com/stagepass/stagepass-backend/pkg/metrics"
)

const testSHAPhrase = "shared-phrase"

// signParams reproduces the provider's signature so tests can forge
// callbacks and status responses.
func signParams(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteString("=")
		sb.WriteString(params[k])
		sb.WriteString("&")
	}

	mac := hmac.New(sha256.New, []byte(testSHAPhrase))
	mac.Write([]byte(sb.String()))
	return hex.EncodeToString(mac.Sum(nil))
}

type submitFixture struct {
	*finalizerFixture
	submitter    *Submitter
	orchestrator *payments.Orchestrator
}

func newSubmitFixture(t *testing.T, statusURL string) *submitFixture {
	t.Helper()

	f := newFixture(t)
	if err := f.conn.AutoMigrate(&models.PaymentAttempt{}); err != nil {
		t.Fatalf("migrate payment attempts: %v", err)
	}

	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	orchestrator := payments.NewOrchestrator(
		payments.NewRepository(f.conn),
		logg,
		metrics.NewCheckoutMetrics(nil),
		payments.NewDummyGateway(),
		payments.NewOfflineGateway(),
		payments.NewHostedGateway(config.PaymentsConfig{
			HostedPaymentURL:  "https://pay.example.com/hosted",
			HostedStatusURL:   statusURL,
			HostedMerchantID:  "merchant-1",
			HostedAccessCode:  "access-1",
			HostedSHAPhrase:   testSHAPhrase,
			StatusCallTimeout: time.Second,
			StatusMaxRetries:  1,
			StatusRetryDelay:  time.Millisecond,
		}),
	)
	resSvc := reservations.NewService(
		dbpkg.NewWithConn(f.conn),
		reservations.NewRepository(f.conn),
		inventory.NewRepository(f.conn),
		logg,
		metrics.NewCheckoutMetrics(nil),
		10*time.Minute,
	)
	submitter := NewSubmitter(
		f.store,
		inventory.NewRepository(f.conn),
		orchestrator,
		f.finalizer,
		resSvc,
		logg,
		30*time.Minute,
		"https://api.stagepass.example",
	)
	return &submitFixture{finalizerFixture: f, submitter: submitter, orchestrator: orchestrator}
}

// openSession is a CREATED session that has not captured buyer details yet.
func openSession(token string, eventID, ticketTypeID uuid.UUID, qty int) *checkout.Session {
	now := time.Now()
	return &checkout.Session{
		Token:    token,
		Status:   enums.CheckoutStatusCreated,
		EventID:  eventID,
		Currency: "USD",
		Lines: []checkout.SessionLine{
			{TicketTypeID: ticketTypeID, Name: "General Admission", UnitPriceCents: 2500, Quantity: qty},
		},
		Totals: checkout.Totals{
			SubtotalCents: 2500 * int64(qty),
			TotalCents:    2500 * int64(qty),
		},
		CreatedAt: now,
		ExpiresAt: now.Add(10 * time.Minute),
	}
}

func buyerInput(token string, ticketTypeID uuid.UUID, qty int, gateway enums.GatewayKind, paymentToken string) SubmitInput {
	attendees := make([]checkout.AttendeeDetails, 0, qty)
	for i := 0; i < qty; i++ {
		attendees = append(attendees, checkout.AttendeeDetails{
			TicketTypeID: ticketTypeID,
			FirstName:    "Grace",
			LastName:     "Hopper",
			Email:        "grace@example.com",
		})
	}
	return SubmitInput{
		Token: token,
		Buyer: checkout.Buyer{
			FirstName: "Grace",
			LastName:  "Hopper",
			Email:     "grace@example.com",
		},
		Attendees:    attendees,
		Gateway:      gateway,
		PaymentToken: paymentToken,
	}
}

func TestSubmitApprovedPayment(t *testing.T) {
	t.Parallel()

	f := newSubmitFixture(t, "")
	ctx := context.Background()
	token := uuid.NewString()
	eventID, ttID := f.seedSellable(t, token, 10, 2)
	f.saveSession(t, openSession(token, eventID, ttID, 2))

	result, err := f.submitter.Submit(ctx, buyerInput(token, ttID, 2, enums.GatewayDummy, "tok_visa"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if result.Order == nil || result.Order.Status != enums.OrderStatusCompleted {
		t.Fatalf("unexpected result: %+v", result)
	}

	session, err := f.store.Get(ctx, token)
	if err != nil {
		t.Fatalf("load session: %v", err)
	}
	if session.Status != enums.CheckoutStatusCompleted {
		t.Fatalf("session status = %s, want completed", session.Status)
	}

	var attempt models.PaymentAttempt
	if err := f.conn.Where("session_token = ?", token).First(&attempt).Error; err != nil {
		t.Fatalf("load attempt: %v", err)
	}
	if attempt.Status != enums.PaymentAttemptSucceeded || attempt.AmountCents != 5000 {
		t.Fatalf("unexpected attempt: %+v", attempt)
	}
}

func TestSubmitDeclineIsRetryable(t *testing.T) {
	t.Parallel()

	f := newSubmitFixture(t, "")
	ctx := context.Background()
	token := uuid.NewString()
	eventID, ttID := f.seedSellable(t, token, 10, 1)
	f.saveSession(t, openSession(token, eventID, ttID, 1))

	_, err := f.submitter.Submit(ctx, buyerInput(token, ttID, 1, enums.GatewayDummy, "tok_decline:insufficient funds"))
	assertErrCode(t, err, pkgerrors.CodePayment)
	details, _ := pkgerrors.As(err).Details().(map[string]any)
	if details["reason"] != "insufficient funds" {
		t.Fatalf("decline reason not surfaced: %v", details)
	}

	session, err := f.store.Get(ctx, token)
	if err != nil {
		t.Fatalf("load session: %v", err)
	}
	if session.Status != enums.CheckoutStatusAwaitingPayment {
		t.Fatalf("declined session status = %s, want awaiting_payment", session.Status)
	}

	// The buyer tries again with a working card.
	result, err := f.submitter.Submit(ctx, buyerInput(token, ttID, 1, enums.GatewayDummy, "tok_visa"))
	if err != nil {
		t.Fatalf("retry submit: %v", err)
	}
	if result.Order == nil || result.Order.Status != enums.OrderStatusCompleted {
		t.Fatalf("retry did not complete: %+v", result)
	}
}

func TestSubmitOfflineNeedsEventFlag(t *testing.T) {
	t.Parallel()

	f := newSubmitFixture(t, "")
	ctx := context.Background()
	token := uuid.NewString()
	eventID, ttID := f.seedSellable(t, token, 10, 1)
	f.saveSession(t, openSession(token, eventID, ttID, 1))

	_, err := f.submitter.Submit(ctx, buyerInput(token, ttID, 1, enums.GatewayOffline, ""))
	assertErrCode(t, err, pkgerrors.CodeValidation)

	if err := f.conn.Model(&models.Event{}).
		Where("id = ?", eventID).
		UpdateColumn("offline_payments_on", true).Error; err != nil {
		t.Fatalf("enable offline payments: %v", err)
	}

	result, err := f.submitter.Submit(ctx, buyerInput(token, ttID, 1, enums.GatewayOffline, ""))
	if err != nil {
		t.Fatalf("submit offline: %v", err)
	}
	if result.Order == nil || result.Order.Status != enums.OrderStatusAwaitingPayment {
		t.Fatalf("unexpected offline order: %+v", result.Order)
	}
}

func TestSubmitOfflineAfterDeclinedCard(t *testing.T) {
	t.Parallel()

	f := newSubmitFixture(t, "")
	ctx := context.Background()
	token := uuid.NewString()
	eventID, ttID := f.seedSellable(t, token, 10, 1)
	f.saveSession(t, openSession(token, eventID, ttID, 1))

	if err := f.conn.Model(&models.Event{}).
		Where("id = ?", eventID).
		UpdateColumn("offline_payments_on", true).Error; err != nil {
		t.Fatalf("enable offline payments: %v", err)
	}

	_, err := f.submitter.Submit(ctx, buyerInput(token, ttID, 1, enums.GatewayDummy, "tok_decline:card declined"))
	assertErrCode(t, err, pkgerrors.CodePayment)

	// The buyer gives up on the card and pays at the door instead.
	result, err := f.submitter.Submit(ctx, buyerInput(token, ttID, 1, enums.GatewayOffline, ""))
	if err != nil {
		t.Fatalf("offline submit after decline: %v", err)
	}
	if result.Order == nil || result.Order.Status != enums.OrderStatusAwaitingPayment || result.Order.PaymentReceived {
		t.Fatalf("unexpected offline order: %+v", result.Order)
	}
}

func TestSubmitFreeSessionSkipsPayment(t *testing.T) {
	t.Parallel()

	f := newSubmitFixture(t, "")
	ctx := context.Background()
	token := uuid.NewString()
	eventID, ttID := f.seedSellable(t, token, 10, 1)

	session := openSession(token, eventID, ttID, 1)
	session.Totals = checkout.Totals{SubtotalCents: 2500, DiscountCents: 2500, BecameFree: true}
	f.saveSession(t, session)

	result, err := f.submitter.Submit(ctx, buyerInput(token, ttID, 1, enums.GatewayDummy, ""))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if result.Order == nil || result.Order.Status != enums.OrderStatusCompleted || result.Order.TotalCents != 0 {
		t.Fatalf("unexpected free order: %+v", result.Order)
	}

	var attempts int64
	if err := f.conn.Model(&models.PaymentAttempt{}).Count(&attempts).Error; err != nil {
		t.Fatalf("count attempts: %v", err)
	}
	if attempts != 0 {
		t.Fatalf("free checkout recorded %d payment attempts", attempts)
	}
}

func TestSubmitAttendeeCountMismatch(t *testing.T) {
	t.Parallel()

	f := newSubmitFixture(t, "")
	ctx := context.Background()
	token := uuid.NewString()
	eventID, ttID := f.seedSellable(t, token, 10, 2)
	f.saveSession(t, openSession(token, eventID, ttID, 2))

	// Two tickets, one attendee.
	_, err := f.submitter.Submit(ctx, buyerInput(token, ttID, 1, enums.GatewayDummy, "tok_visa"))
	assertErrCode(t, err, pkgerrors.CodeValidation)
}

func TestSubmitExpiredSession(t *testing.T) {
	t.Parallel()

	f := newSubmitFixture(t, "")

	_, err := f.submitter.Submit(context.Background(), SubmitInput{Token: "gone", Gateway: enums.GatewayDummy})
	assertErrCode(t, err, pkgerrors.CodeSessionExpired)
}

func TestSubmitDuplicateReturnsExistingOrder(t *testing.T) {
	t.Parallel()

	f := newSubmitFixture(t, "")
	ctx := context.Background()
	token := uuid.NewString()
	eventID, ttID := f.seedSellable(t, token, 10, 1)
	f.saveSession(t, openSession(token, eventID, ttID, 1))

	first, err := f.submitter.Submit(ctx, buyerInput(token, ttID, 1, enums.GatewayDummy, "tok_visa"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	second, err := f.submitter.Submit(ctx, buyerInput(token, ttID, 1, enums.GatewayDummy, "tok_visa"))
	if err != nil {
		t.Fatalf("duplicate submit: %v", err)
	}
	if second.Order == nil || second.Order.Reference != first.Order.Reference {
		t.Fatalf("duplicate submit did not return existing order: %+v", second.Order)
	}

	var orders int64
	if err := f.conn.Model(&models.Order{}).Count(&orders).Error; err != nil {
		t.Fatalf("count orders: %v", err)
	}
	if orders != 1 {
		t.Fatalf("duplicate submit created %d orders", orders)
	}
}

func TestSubmitHostedRedirectExtendsHold(t *testing.T) {
	t.Parallel()

	f := newSubmitFixture(t, "")
	ctx := context.Background()
	token := uuid.NewString()
	eventID, ttID := f.seedSellable(t, token, 10, 1)
	f.saveSession(t, openSession(token, eventID, ttID, 1))

	result, err := f.submitter.Submit(ctx, buyerInput(token, ttID, 1, enums.GatewayHosted, ""))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if result.Redirect == nil || result.Redirect.RedirectURL == "" {
		t.Fatalf("expected redirect, got %+v", result)
	}
	if result.Redirect.RedirectFields["signature"] == "" {
		t.Fatal("redirect fields missing signature")
	}
	if got := result.Redirect.RedirectFields["return_url"]; got != "https://api.stagepass.example/api/v1/checkout/"+token+"/return" {
		t.Fatalf("unexpected return url: %q", got)
	}

	session, err := f.store.Get(ctx, token)
	if err != nil {
		t.Fatalf("load session: %v", err)
	}
	if session.Status != enums.CheckoutStatusAwaitingPayment {
		t.Fatalf("session status = %s, want awaiting_payment", session.Status)
	}

	// The hold must outlive the original TTL while the buyer is away.
	var hold models.Reservation
	if err := f.conn.Where("session_token = ?", token).First(&hold).Error; err != nil {
		t.Fatalf("load hold: %v", err)
	}
	if time.Until(hold.ExpiresAt) < 20*time.Minute {
		t.Fatalf("hold not extended, expires in %s", time.Until(hold.ExpiresAt))
	}

	// The session clock must move with the hold, or the callback lands on an
	// expired session while the stock stays locked.
	seconds, err := f.store.SecondsToExpiry(ctx, token)
	if err != nil {
		t.Fatalf("session expiry: %v", err)
	}
	if seconds < int64((20 * time.Minute).Seconds()) {
		t.Fatalf("session not extended, %ds to expiry", seconds)
	}
	if time.Until(session.ExpiresAt) < 20*time.Minute {
		t.Fatalf("session document expiry not moved: %s", session.ExpiresAt)
	}
}

func TestCompleteFromCallbackFinalizes(t *testing.T) {
	t.Parallel()

	f := newSubmitFixture(t, "")
	ctx := context.Background()
	token := uuid.NewString()
	eventID, ttID := f.seedSellable(t, token, 10, 1)
	f.saveSession(t, openSession(token, eventID, ttID, 1))

	result, err := f.submitter.Submit(ctx, buyerInput(token, ttID, 1, enums.GatewayHosted, ""))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	ref := result.Redirect.RedirectFields["merchant_reference"]

	params := map[string]string{
		"merchant_reference": ref,
		"status":             "captured",
		"transaction_id":     "txn-123",
	}
	params["signature"] = signParams(params)

	order, err := f.submitter.CompleteFromCallback(ctx, enums.GatewayHosted, params)
	if err != nil {
		t.Fatalf("callback: %v", err)
	}
	if order == nil || order.Status != enums.OrderStatusCompleted {
		t.Fatalf("unexpected order: %+v", order)
	}

	session, err := f.store.Get(ctx, token)
	if err != nil {
		t.Fatalf("load session: %v", err)
	}
	if session.Status != enums.CheckoutStatusCompleted {
		t.Fatalf("session status = %s, want completed", session.Status)
	}
}

func TestCompleteFromCallbackFailedPayment(t *testing.T) {
	t.Parallel()

	f := newSubmitFixture(t, "")
	ctx := context.Background()
	token := uuid.NewString()
	eventID, ttID := f.seedSellable(t, token, 10, 1)
	f.saveSession(t, openSession(token, eventID, ttID, 1))

	result, err := f.submitter.Submit(ctx, buyerInput(token, ttID, 1, enums.GatewayHosted, ""))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	ref := result.Redirect.RedirectFields["merchant_reference"]

	params := map[string]string{
		"merchant_reference": ref,
		"status":             "failed",
		"response_message":   "3DS authentication failed",
	}
	params["signature"] = signParams(params)

	order, err := f.submitter.CompleteFromCallback(ctx, enums.GatewayHosted, params)
	if err != nil {
		t.Fatalf("callback: %v", err)
	}
	if order != nil {
		t.Fatalf("failed callback produced an order: %+v", order)
	}

	// Session stays retryable until the hold expires.
	session, err := f.store.Get(ctx, token)
	if err != nil {
		t.Fatalf("load session: %v", err)
	}
	if session.Status != enums.CheckoutStatusAwaitingPayment {
		t.Fatalf("session status = %s, want awaiting_payment", session.Status)
	}
}

func TestCompleteFromCallbackRejectsForgedSignature(t *testing.T) {
	t.Parallel()

	f := newSubmitFixture(t, "")

	params := map[string]string{
		"merchant_reference": "SPDEADBEEF00000000",
		"status":             "captured",
		"signature":          "not-a-real-signature",
	}
	_, err := f.submitter.CompleteFromCallback(context.Background(), enums.GatewayHosted, params)
	assertErrCode(t, err, pkgerrors.CodeUnauthorized)
}

func TestResolveFinalizesCapturedPayment(t *testing.T) {
	t.Parallel()

	// Status endpoint reporting every reference as captured, signed the way
	// the provider signs.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		resp := map[string]string{
			"merchant_reference": req["merchant_reference"],
			"status":             "captured",
			"transaction_id":     "txn-status-1",
		}
		resp["signature"] = signParams(resp)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	f := newSubmitFixture(t, server.URL)
	ctx := context.Background()
	token := uuid.NewString()
	eventID, ttID := f.seedSellable(t, token, 10, 1)
	f.saveSession(t, openSession(token, eventID, ttID, 1))

	if _, err := f.submitter.Submit(ctx, buyerInput(token, ttID, 1, enums.GatewayHosted, "")); err != nil {
		t.Fatalf("submit: %v", err)
	}

	result, err := f.submitter.Resolve(ctx, token)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if result.Order == nil || result.Order.Status != enums.OrderStatusCompleted {
		t.Fatalf("unexpected order: %+v", result.Order)
	}

	// A second return visit finds the completed session.
	again, err := f.submitter.Resolve(ctx, token)
	if err != nil {
		t.Fatalf("resolve again: %v", err)
	}
	if again.Order == nil || again.Order.Reference != result.Order.Reference {
		t.Fatalf("repeat resolve did not return the order: %+v", again.Order)
	}
}

func TestResolveDeclinedPayment(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		resp := map[string]string{
			"merchant_reference": req["merchant_reference"],
			"status":             "failed",
			"response_message":   "card expired",
		}
		resp["signature"] = signParams(resp)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	f := newSubmitFixture(t, server.URL)
	ctx := context.Background()
	token := uuid.NewString()
	eventID, ttID := f.seedSellable(t, token, 10, 1)
	f.saveSession(t, openSession(token, eventID, ttID, 1))

	if _, err := f.submitter.Submit(ctx, buyerInput(token, ttID, 1, enums.GatewayHosted, "")); err != nil {
		t.Fatalf("submit: %v", err)
	}

	_, err := f.submitter.Resolve(ctx, token)
	assertErrCode(t, err, pkgerrors.CodePayment)
	details, _ := pkgerrors.As(err).Details().(map[string]any)
	if details["reason"] != "card expired" {
		t.Fatalf("decline reason not surfaced: %v", details)
	}
}
