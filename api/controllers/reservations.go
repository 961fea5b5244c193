package controllers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/stagepass/stagepass-backend/api/responses"
	"github.com/stagepass/stagepass-backend/api/validators"
	checkoutsvc "github.com/stagepass/stagepass-backend/internal/checkout"
	"github.com/stagepass/stagepass-backend/internal/reservations"
	pkgerrors "github.com/stagepass/stagepass-backend/pkg/errors"
	"github.com/stagepass/stagepass-backend/pkg/logger"
)

type reservationLineRequest struct {
	TicketTypeID uuid.UUID `json:"ticket_type_id" validate:"required,uuid4"`
	Quantity     int       `json:"quantity" validate:"required,min=1"`
	Seats        []string  `json:"seats,omitempty" validate:"omitempty,dive,min=1,max=16"`
}

type reservationRequest struct {
	ScheduleDate *time.Time               `json:"schedule_date,omitempty"`
	Lines        []reservationLineRequest `json:"lines" validate:"required,min=1,dive"`
}

// CreateReservation holds inventory for the requested lines and opens a
// checkout session for the hold.
func CreateReservation(svc *checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}

		eventID, err := uuid.Parse(chi.URLParam(r, "eventId"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid event id"))
			return
		}

		var payload reservationRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		lines := make([]reservations.ReserveLine, 0, len(payload.Lines))
		for _, line := range payload.Lines {
			lines = append(lines, reservations.ReserveLine{
				TicketTypeID: line.TicketTypeID,
				Quantity:     line.Quantity,
				Seats:        line.Seats,
			})
		}

		session, err := svc.Start(r.Context(), reservations.ReserveInput{
			EventID:      eventID,
			ScheduleDate: payload.ScheduleDate,
			Lines:        lines,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, newSessionResponse(session, int64(time.Until(session.ExpiresAt).Seconds())))
	}
}
