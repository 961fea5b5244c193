package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/stagepass/stagepass-backend/api/controllers"
	"github.com/stagepass/stagepass-backend/api/middleware"
	checkoutsvc "github.com/stagepass/stagepass-backend/internal/checkout"
	"github.com/stagepass/stagepass-backend/internal/orders"
	"github.com/stagepass/stagepass-backend/pkg/config"
	"github.com/stagepass/stagepass-backend/pkg/db"
	"github.com/stagepass/stagepass-backend/pkg/logger"
	"github.com/stagepass/stagepass-backend/pkg/redis"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisClient *redis.Client,
	checkoutService *checkoutsvc.Service,
	submitter *orders.Submitter,
	finalizer *orders.Finalizer,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.CORS(),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, redisClient))
	})

	r.Route("/api/public", func(r chi.Router) {
		r.Get("/ping", controllers.PublicPing())
	})

	// Gateways authenticate callbacks with their own signature, not a bearer
	// token, so this route sits outside the auth chain.
	r.Route("/api/v1/payments", func(r chi.Router) {
		r.Post("/{gateway}/callback", controllers.PaymentCallback(submitter, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.OptionalAuth(cfg.JWT, logg))
		r.Use(middleware.Idempotency(redisClient, logg))

		r.Post("/events/{eventId}/reservations", controllers.CreateReservation(checkoutService, logg))

		r.Route("/checkout/{token}", func(r chi.Router) {
			r.Get("/", controllers.CheckoutView(checkoutService, logg))
			r.Post("/promo", controllers.CheckoutApplyPromo(checkoutService, logg))
			r.Post("/order", controllers.CheckoutSubmitOrder(submitter, logg))
			r.Get("/return", controllers.CheckoutReturn(submitter, logg))
		})

		r.Get("/orders/{reference}", controllers.OrderDetail(finalizer, logg))
	})

	return r
}
