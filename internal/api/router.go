// Package api assembles the HTTP surface of the pharmacy service.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/drfirst/rxledger/internal/api/handlers"
	"github.com/drfirst/rxledger/internal/api/middleware"
	"github.com/drfirst/rxledger/internal/api/respond"
	"github.com/drfirst/rxledger/internal/geo"
	"github.com/drfirst/rxledger/internal/observability/metrics"
	"github.com/drfirst/rxledger/internal/service"
	"github.com/drfirst/rxledger/pkg/idempotency"
)

// Deps are the collaborators the router wires into handlers.
type Deps struct {
	Service *service.Service
	// Inbox backs Idempotency-Key handling; nil disables it.
	Inbox   *idempotency.Inbox
	Geo     *geo.Client
	Metrics *metrics.Metrics
	Logger  *zap.Logger
	// ServiceName names the tracer and the health payload.
	ServiceName string
	Version     string
}

// NewRouter builds the full route tree.
func NewRouter(d Deps) http.Handler {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if d.ServiceName == "" {
		d.ServiceName = "pharmacy-api"
	}

	var idem handlers.Middleware
	if d.Inbox != nil {
		idem = middleware.Idempotency(d.Inbox, logger)
	}

	auth := handlers.NewAuthHandler(d.Service, d.Geo, logger)
	medicines := handlers.NewMedicineHandler(d.Service, logger)
	sales := handlers.NewSalesHandler(d.Service, idem, logger)
	prescriptions := handlers.NewPrescriptionHandler(d.Service, idem, logger)
	pharmacies := handlers.NewPharmacyHandler(d.Service, logger)
	users := handlers.NewUserHandler(d.Service, logger)
	roles := handlers.NewRoleHandler(d.Service, logger)
	platform := handlers.NewPlatformHandler(d.Service, d.Geo, logger)
	reports := handlers.NewReportHandler(d.Service, logger)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS)
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Tracing(d.ServiceName))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respond.JSON(w, http.StatusOK, map[string]string{
			"status":  "healthy",
			"service": d.ServiceName,
			"version": d.Version,
		})
	})
	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		if err := d.Service.Ping(r.Context()); err != nil {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
	})
	r.Handle("/metrics", d.Metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		protected := []handlers.Middleware{
			middleware.Authenticate(d.Service),
			middleware.Maintenance(d.Service),
		}
		r.Use(middleware.IPBlocklist(d.Service))
		r.Mount("/auth", auth.Routes(protected...))

		r.Group(func(r chi.Router) {
			r.Use(protected...)

			r.Mount("/pharmacies", pharmacies.Routes())
			r.Mount("/medicines", medicines.Routes())
			r.Mount("/sales", sales.Routes())
			r.Mount("/returns", sales.ReturnRoutes())
			r.Mount("/prescriptions", prescriptions.Routes())
			r.Mount("/users", users.Routes())
			r.Mount("/roles", roles.Routes())
			r.Mount("/billing", platform.BillingRoutes())
			r.Mount("/support", platform.SupportRoutes())
			r.Mount("/settings", platform.SettingsRoutes())
			r.Mount("/reports", reports.Routes())
			r.Mount("/expenses", reports.ExpenseRoutes())
			r.Mount("/suppliers", reports.SupplierRoutes())
			r.Get("/geo/{ip}", platform.Locate)
		})
	})

	return r
}

// Ensure the service satisfies the middleware contracts.
var (
	_ middleware.Authenticator      = (*service.Service)(nil)
	_ middleware.IPChecker          = (*service.Service)(nil)
	_ middleware.MaintenanceChecker = (*service.Service)(nil)
)
