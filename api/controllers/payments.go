package controllers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/stagepass/stagepass-backend/api/responses"
	"github.com/stagepass/stagepass-backend/internal/orders"
	"github.com/stagepass/stagepass-backend/pkg/enums"
	pkgerrors "github.com/stagepass/stagepass-backend/pkg/errors"
	"github.com/stagepass/stagepass-backend/pkg/logger"
)

// PaymentCallback receives a gateway's server-to-server confirmation. The
// provider posts form-encoded fields; the signature inside them is the only
// authentication.
func PaymentCallback(submitter *orders.Submitter, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if submitter == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "order service unavailable"))
			return
		}

		kind, err := enums.ParseGatewayKind(chi.URLParam(r, "gateway"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "unknown payment gateway"))
			return
		}

		if err := r.ParseForm(); err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "malformed callback"))
			return
		}
		params := make(map[string]string, len(r.Form))
		for key := range r.Form {
			params[key] = r.Form.Get(key)
		}

		order, err := submitter.CompleteFromCallback(r.Context(), kind, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		// The provider only needs an acknowledgement; buyers see the result
		// on the return page.
		ack := map[string]string{"status": "acknowledged"}
		if order != nil {
			ack["order_reference"] = order.Reference
		}
		responses.WriteSuccess(w, ack)
	}
}
