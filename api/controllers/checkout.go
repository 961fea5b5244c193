package controllers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/stagepass/stagepass-backend/api/middleware"
	"github.com/stagepass/stagepass-backend/api/responses"
	"github.com/stagepass/stagepass-backend/api/validators"
	checkoutsvc "github.com/stagepass/stagepass-backend/internal/checkout"
	"github.com/stagepass/stagepass-backend/internal/orders"
	"github.com/stagepass/stagepass-backend/pkg/enums"
	pkgerrors "github.com/stagepass/stagepass-backend/pkg/errors"
	"github.com/stagepass/stagepass-backend/pkg/logger"
	"github.com/stagepass/stagepass-backend/pkg/types"
)

// CheckoutView returns the session with its remaining lifetime.
func CheckoutView(svc *checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}

		token := chi.URLParam(r, "token")
		session, seconds, err := svc.View(r.Context(), token)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newSessionResponse(session, seconds))
	}
}

type applyPromoRequest struct {
	Code string `json:"code" validate:"required,min=1,max=64"`
}

// CheckoutApplyPromo validates a promo code and reprices the session.
func CheckoutApplyPromo(svc *checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}

		token := chi.URLParam(r, "token")

		var payload applyPromoRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		session, err := svc.ApplyPromo(r.Context(), token, validators.SanitizeString(payload.Code, 64))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		seconds, err := svc.Store().SecondsToExpiry(r.Context(), token)
		if err != nil {
			seconds = 0
		}
		responses.WriteSuccess(w, newSessionResponse(session, seconds))
	}
}

type attendeeRequest struct {
	TicketTypeID uuid.UUID        `json:"ticket_type_id" validate:"required,uuid4"`
	FirstName    string           `json:"first_name" validate:"required,min=1,max=120"`
	LastName     string           `json:"last_name" validate:"required,min=1,max=120"`
	Email        string           `json:"email" validate:"required,email"`
	Seat         *string          `json:"seat,omitempty"`
	Answers      types.AnswerList `json:"answers,omitempty"`
}

type submitOrderRequest struct {
	Buyer struct {
		FirstName string `json:"first_name" validate:"required,min=1,max=120"`
		LastName  string `json:"last_name" validate:"required,min=1,max=120"`
		Email     string `json:"email" validate:"required,email"`
	} `json:"buyer" validate:"required"`
	Attendees    []attendeeRequest `json:"attendees" validate:"required,min=1,dive"`
	Gateway      string            `json:"gateway" validate:"required"`
	PaymentToken string            `json:"payment_token,omitempty"`
}

type redirectResponse struct {
	URL    string            `json:"url"`
	Method string            `json:"method"`
	Fields map[string]string `json:"fields,omitempty"`
}

type submitOrderResponse struct {
	Order    *orderResponse    `json:"order,omitempty"`
	Redirect *redirectResponse `json:"redirect,omitempty"`
	Status   string            `json:"status"`
}

// CheckoutSubmitOrder captures buyer details, runs payment, and finalizes.
func CheckoutSubmitOrder(submitter *orders.Submitter, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if submitter == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "order service unavailable"))
			return
		}

		token := chi.URLParam(r, "token")

		var payload submitOrderRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		gateway, err := enums.ParseGatewayKind(payload.Gateway)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "unknown payment gateway"))
			return
		}

		buyer := checkoutsvc.Buyer{
			FirstName: validators.SanitizeString(payload.Buyer.FirstName, 120),
			LastName:  validators.SanitizeString(payload.Buyer.LastName, 120),
			Email:     validators.SanitizeString(payload.Buyer.Email, 254),
		}
		if userID := middleware.UserIDFromContext(r.Context()); userID != "" {
			if parsed, parseErr := uuid.Parse(userID); parseErr == nil {
				buyer.UserID = &parsed
			}
		}

		attendees := make([]checkoutsvc.AttendeeDetails, 0, len(payload.Attendees))
		for _, attendee := range payload.Attendees {
			attendees = append(attendees, checkoutsvc.AttendeeDetails{
				TicketTypeID: attendee.TicketTypeID,
				FirstName:    validators.SanitizeString(attendee.FirstName, 120),
				LastName:     validators.SanitizeString(attendee.LastName, 120),
				Email:        validators.SanitizeString(attendee.Email, 254),
				Seat:         attendee.Seat,
				Answers:      attendee.Answers,
			})
		}

		result, err := submitter.Submit(r.Context(), orders.SubmitInput{
			Token:        token,
			Buyer:        buyer,
			Attendees:    attendees,
			Gateway:      gateway,
			PaymentToken: payload.PaymentToken,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		writeSubmitResult(w, result)
	}
}

// CheckoutReturn settles a session whose buyer came back from a hosted
// payment page.
func CheckoutReturn(submitter *orders.Submitter, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if submitter == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "order service unavailable"))
			return
		}

		token := chi.URLParam(r, "token")
		result, err := submitter.Resolve(r.Context(), token)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		writeSubmitResult(w, result)
	}
}

func writeSubmitResult(w http.ResponseWriter, result *orders.SubmitResult) {
	if result == nil {
		responses.WriteSuccess(w, submitOrderResponse{Status: "pending"})
		return
	}

	if result.Order != nil {
		view := newOrderResponse(result.Order)
		responses.WriteSuccessStatus(w, http.StatusCreated, submitOrderResponse{
			Order:  &view,
			Status: string(result.Order.Status),
		})
		return
	}

	if result.Redirect != nil {
		responses.WriteSuccess(w, submitOrderResponse{
			Redirect: &redirectResponse{
				URL:    result.Redirect.RedirectURL,
				Method: result.Redirect.RedirectMethod,
				Fields: result.Redirect.RedirectFields,
			},
			Status: "redirect",
		})
		return
	}

	responses.WriteSuccess(w, submitOrderResponse{Status: "pending"})
}
