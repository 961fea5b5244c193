package orders

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/stagepass/stagepass-backend/internal/checkout"
	"github.com/stagepass/stagepass-backend/internal/inventory"
	"github.com/stagepass/stagepass-backend/internal/payments"
	"github.com/stagepass/stagepass-backend/internal/reservations"
	"github.com/stagepass/stagepass-backend/pkg/db/models"
	"github.com/stagepass/stagepass-backend/pkg/enums"
	pkgerrors "github.com/stagepass/stagepass-backend/pkg/errors"
	"github.com/stagepass/stagepass-backend/pkg/logger"
)

// SubmitInput is the buyer's order form for a checkout session.
type SubmitInput struct {
	Token        string
	Buyer        checkout.Buyer
	Attendees    []checkout.AttendeeDetails
	Gateway      enums.GatewayKind
	PaymentToken string
}

// SubmitResult is either a finalized order or a redirect instruction for a
// hosted gateway.
type SubmitResult struct {
	Order    *models.Order
	Redirect *payments.Result
	Session  *checkout.Session
}

// Submitter coordinates the order step of checkout: capture buyer details,
// run payment, and finalize. Declined payments leave the session in a
// retryable state.
type Submitter struct {
	store          *checkout.Store
	inventory      inventory.Repository
	payments       *payments.Orchestrator
	finalizer      *Finalizer
	reservations   *reservations.Service
	logg           *logger.Logger
	reservationTTL time.Duration
	returnURLBase  string
	now            func() time.Time
}

func NewSubmitter(store *checkout.Store, inv inventory.Repository, orchestrator *payments.Orchestrator, finalizer *Finalizer, res *reservations.Service, logg *logger.Logger, reservationTTL time.Duration, returnURLBase string) *Submitter {
	return &Submitter{
		store:          store,
		inventory:      inv,
		payments:       orchestrator,
		finalizer:      finalizer,
		reservations:   res,
		logg:           logg,
		reservationTTL: reservationTTL,
		returnURLBase:  returnURLBase,
		now:            time.Now,
	}
}

// returnURL is where a hosted gateway sends the buyer after payment.
func (s *Submitter) returnURL(token string) string {
	return fmt.Sprintf("%s/api/v1/checkout/%s/return", strings.TrimRight(s.returnURLBase, "/"), token)
}

// Submit processes the order form. Sessions in CREATED or AWAITING_PAYMENT
// may submit; a session whose payment previously declined simply submits
// again.
func (s *Submitter) Submit(ctx context.Context, in SubmitInput) (*SubmitResult, error) {
	session, err := s.store.Get(ctx, in.Token)
	if err != nil {
		if err == checkout.ErrSessionNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeSessionExpired, "checkout session expired")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loading checkout session")
	}

	// Duplicate submit after completion returns the existing order.
	if session.Status == enums.CheckoutStatusCompleted {
		order, err := s.finalizer.Find(ctx, session.OrderReference)
		if err != nil {
			return nil, err
		}
		return &SubmitResult{Order: order, Session: session}, nil
	}

	if session.Status != enums.CheckoutStatusCreated && session.Status != enums.CheckoutStatusAwaitingPayment {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "session cannot accept an order").
			WithDetails(map[string]any{"status": session.Status})
	}

	if !in.Gateway.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown payment gateway")
	}
	if err := s.validateAttendees(ctx, session, in.Attendees); err != nil {
		return nil, err
	}
	if in.Gateway == enums.GatewayOffline {
		event, err := s.inventory.FindEvent(ctx, session.EventID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading event")
		}
		if !event.OfflinePaymentsOn {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "offline payment is not enabled for this event")
		}
	}

	session, err = s.store.Update(ctx, in.Token, 0, func(doc *checkout.Session) error {
		if doc.Status != enums.CheckoutStatusCreated && doc.Status != enums.CheckoutStatusAwaitingPayment {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "session cannot accept an order")
		}
		doc.Buyer = &in.Buyer
		doc.Attendees = in.Attendees
		doc.Gateway = in.Gateway
		return nil
	})
	if err != nil {
		return nil, s.storeError(err)
	}

	// Free and offline checkouts skip the payment leg entirely.
	if session.Totals.BecameFree || in.Gateway == enums.GatewayOffline {
		order, err := s.finalizer.Finalize(ctx, in.Token)
		if err != nil {
			return nil, err
		}
		return &SubmitResult{Order: order, Session: session}, nil
	}

	if session.Status == enums.CheckoutStatusCreated {
		session, err = s.store.UpdateStatus(ctx, in.Token, enums.CheckoutStatusCreated, enums.CheckoutStatusAwaitingPayment, 0)
		if err != nil {
			return nil, s.storeError(err)
		}
	}

	result, _, err := s.payments.Authorize(ctx, payments.AuthorizeInput{
		SessionToken: in.Token,
		Gateway:      in.Gateway,
		AmountCents:  session.Totals.TotalCents,
		Currency:     session.Currency,
		Description:  fmt.Sprintf("%s tickets", session.EventName),
		Token:        in.PaymentToken,
		ReturnURL:    s.returnURL(in.Token),
	})
	if err != nil {
		return nil, err
	}

	switch result.Outcome {
	case payments.OutcomeApproved:
		session, err = s.store.UpdateStatus(ctx, in.Token, enums.CheckoutStatusAwaitingPayment, enums.CheckoutStatusPaid, 0)
		if err != nil {
			return nil, s.storeError(err)
		}
		order, err := s.finalizer.Finalize(ctx, in.Token)
		if err != nil {
			return nil, err
		}
		return &SubmitResult{Order: order, Session: session}, nil

	case payments.OutcomeDeclined:
		// Session stays AWAITING_PAYMENT so the buyer can try again.
		return nil, pkgerrors.New(pkgerrors.CodePayment, "payment was declined").
			WithDetails(map[string]any{"reason": result.FailureReason})

	case payments.OutcomeRedirect:
		// Keep the hold and the session alive while the buyer is on the
		// provider's page. The two clocks must move together: a hold that
		// outlives its session locks inventory nothing can finalize.
		until := s.now().Add(s.reservationTTL)
		if err := s.reservations.ExtendForPayment(ctx, in.Token, until); err != nil {
			s.logg.Warn(s.logg.WithSessionToken(ctx, in.Token), "failed to extend hold for redirect payment")
		}
		session, err = s.store.Update(ctx, in.Token, time.Until(until), func(doc *checkout.Session) error {
			doc.ExpiresAt = until
			return nil
		})
		if err != nil {
			return nil, s.storeError(err)
		}
		return &SubmitResult{Redirect: result, Session: session}, nil

	default:
		return nil, pkgerrors.New(pkgerrors.CodePayment, "unexpected gateway outcome")
	}
}

// CompleteFromCallback applies a gateway server-to-server callback. The
// session token comes from the stored payment attempt.
func (s *Submitter) CompleteFromCallback(ctx context.Context, kind enums.GatewayKind, params map[string]string) (*models.Order, error) {
	attempt, result, err := s.payments.HandleCallback(ctx, kind, params)
	if err != nil {
		return nil, err
	}
	if result.Outcome != payments.OutcomeApproved {
		// The decline is recorded on the attempt; the session stays
		// retryable until it expires.
		logCtx := s.logg.WithSessionToken(ctx, attempt.SessionToken)
		s.logg.Info(logCtx, "gateway callback reported failed payment")
		return nil, nil
	}
	return s.completePaid(ctx, attempt.SessionToken)
}

// Resolve settles a session whose buyer came back from a hosted page before
// (or instead of) the callback: poll the gateway and finalize if captured.
func (s *Submitter) Resolve(ctx context.Context, token string) (*SubmitResult, error) {
	session, err := s.store.Get(ctx, token)
	if err != nil {
		if err == checkout.ErrSessionNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeSessionExpired, "checkout session expired")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loading checkout session")
	}

	if session.Status == enums.CheckoutStatusCompleted {
		order, err := s.finalizer.Find(ctx, session.OrderReference)
		if err != nil {
			return nil, err
		}
		return &SubmitResult{Order: order, Session: session}, nil
	}

	attempt, err := s.payments.FindBySession(ctx, token)
	if err != nil {
		return nil, err
	}
	attempt, err = s.payments.CheckStatus(ctx, attempt.MerchantReference)
	if err != nil {
		return nil, err
	}

	switch attempt.Status {
	case enums.PaymentAttemptSucceeded:
		order, err := s.completePaid(ctx, token)
		if err != nil {
			return nil, err
		}
		return &SubmitResult{Order: order, Session: session}, nil
	case enums.PaymentAttemptFailed:
		reason := "payment not captured"
		if attempt.FailureReason != nil {
			reason = *attempt.FailureReason
		}
		return nil, pkgerrors.New(pkgerrors.CodePayment, "payment was declined").
			WithDetails(map[string]any{"reason": reason})
	default:
		return &SubmitResult{Session: session}, nil
	}
}

func (s *Submitter) completePaid(ctx context.Context, token string) (*models.Order, error) {
	session, err := s.store.Get(ctx, token)
	if err != nil {
		if err == checkout.ErrSessionNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeSessionExpired, "checkout session expired")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loading checkout session")
	}

	if session.Status == enums.CheckoutStatusAwaitingPayment {
		if _, err := s.store.UpdateStatus(ctx, token, enums.CheckoutStatusAwaitingPayment, enums.CheckoutStatusPaid, 0); err != nil {
			return nil, s.storeError(err)
		}
	}
	return s.finalizer.Finalize(ctx, token)
}

func (s *Submitter) validateAttendees(ctx context.Context, session *checkout.Session, attendees []checkout.AttendeeDetails) error {
	byType := map[string][]checkout.AttendeeDetails{}
	for _, attendee := range attendees {
		key := attendee.TicketTypeID.String()
		byType[key] = append(byType[key], attendee)
	}

	counted := 0
	for _, line := range session.Lines {
		group := byType[line.TicketTypeID.String()]
		if len(group) != line.Quantity {
			return pkgerrors.New(pkgerrors.CodeValidation, "attendee count must match ticket quantity").
				WithDetails(map[string]any{
					"ticket_type_id": line.TicketTypeID,
					"expected":       line.Quantity,
					"got":            len(group),
				})
		}
		counted += len(group)

		if len(line.Seats) > 0 {
			reserved := map[string]bool{}
			for _, seat := range line.Seats {
				reserved[seat] = true
			}
			assigned := map[string]bool{}
			for _, attendee := range group {
				if attendee.Seat == nil || *attendee.Seat == "" {
					return pkgerrors.New(pkgerrors.CodeValidation, "seated tickets require a seat per attendee")
				}
				if !reserved[*attendee.Seat] {
					return pkgerrors.New(pkgerrors.CodeValidation, "attendee seat is not part of this hold").
						WithDetails(map[string]any{"seat": *attendee.Seat})
				}
				if assigned[*attendee.Seat] {
					return pkgerrors.New(pkgerrors.CodeValidation, "seat assigned to more than one attendee").
						WithDetails(map[string]any{"seat": *attendee.Seat})
				}
				assigned[*attendee.Seat] = true
			}
		}

		unit, err := s.inventory.FindUnit(ctx, line.TicketTypeID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading ticket type")
		}
		for _, question := range unit.Questions {
			if !question.Required {
				continue
			}
			for _, attendee := range group {
				if !hasAnswer(attendee, question.ID) {
					return pkgerrors.New(pkgerrors.CodeValidation, "required question not answered").
						WithDetails(map[string]any{"question": question.Label})
				}
			}
		}
	}

	if counted != len(attendees) {
		return pkgerrors.New(pkgerrors.CodeValidation, "attendee references a ticket type outside this session")
	}
	return nil
}

func hasAnswer(attendee checkout.AttendeeDetails, questionID string) bool {
	for _, answer := range attendee.Answers {
		if answer.QuestionID == questionID && answer.Answer != "" {
			return true
		}
	}
	return false
}

func (s *Submitter) storeError(err error) error {
	if err == checkout.ErrSessionNotFound {
		return pkgerrors.New(pkgerrors.CodeSessionExpired, "checkout session expired")
	}
	if err == checkout.ErrStatusConflict {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "session changed state concurrently")
	}
	if typed := pkgerrors.As(err); typed != nil {
		return typed
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "updating checkout session")
}
