package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/segyhp/microlend-ledger/internal/auth"
	"github.com/segyhp/microlend-ledger/internal/observability"
	"github.com/segyhp/microlend-ledger/pkg/response"
)

// RouterConfig carries the cross-cutting settings of the HTTP surface.
type RouterConfig struct {
	Logger         *zap.Logger
	Metrics        *observability.Metrics
	JWTSecret      string
	RateLimitRPS   float64
	RateLimitBurst int
}

// Handlers groups the endpoint handlers mounted by NewRouter.
type Handlers struct {
	Loans    *LoanHandler
	Payments *PaymentHandler
	Clients  *ClientHandler
	Health   *HealthHandler
}

// NewRouter mounts every route and wraps them in the request middleware chain.
func NewRouter(cfg RouterConfig, h Handlers) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := mux.NewRouter()

	// Health check
	router.HandleFunc("/health", h.Health.Health).Methods(http.MethodGet)
	router.HandleFunc("/health/ready", h.Health.Ready).Methods(http.MethodGet)
	router.HandleFunc("/metrics/ledger", h.Health.LedgerMetrics).Methods(http.MethodGet)
	if cfg.Metrics != nil {
		router.Handle("/metrics", promhttp.HandlerFor(cfg.Metrics.Registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	// API routes
	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(auth.Middleware([]byte(cfg.JWTSecret), logger))
	api.Use(RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst))

	api.HandleFunc("/calculator/preview", h.Loans.Preview).Methods(http.MethodPost)

	api.HandleFunc("/loans", h.Loans.CreateLoan).Methods(http.MethodPost)
	api.HandleFunc("/loans", h.Loans.ListLoans).Methods(http.MethodGet)
	api.HandleFunc("/loans/{loanId}", h.Loans.GetLoan).Methods(http.MethodGet)
	api.HandleFunc("/loans/{loanId}", h.Loans.UpdateLoanTerms).Methods(http.MethodPut)
	api.HandleFunc("/loans/{loanId}", h.Loans.DeleteLoan).Methods(http.MethodDelete)
	api.HandleFunc("/loans/{loanId}/schedule", h.Loans.GetSchedule).Methods(http.MethodGet)
	api.HandleFunc("/loans/{loanId}/statement", h.Loans.GetStatement).Methods(http.MethodGet)

	api.HandleFunc("/loans/{loanId}/payments", h.Payments.CreatePayment).Methods(http.MethodPost)
	api.HandleFunc("/loans/{loanId}/payments", h.Payments.ListPayments).Methods(http.MethodGet)
	api.HandleFunc("/payments/{paymentId}", h.Payments.GetPayment).Methods(http.MethodGet)
	api.HandleFunc("/payments/{paymentId}", h.Payments.DeletePayment).Methods(http.MethodDelete)
	api.HandleFunc("/payments/{paymentId}/status", h.Payments.UpdateStatus).Methods(http.MethodPatch)
	api.HandleFunc("/payments/{paymentId}/amount", h.Payments.CorrectAmount).Methods(http.MethodPatch)
	api.HandleFunc("/payments/{paymentId}/receipt", h.Payments.AttachReceipt).Methods(http.MethodPost)

	api.HandleFunc("/clients/{clientId}/aggregate", h.Clients.GetAggregate).Methods(http.MethodGet)

	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(auth.RequireAdmin(logger))
	admin.HandleFunc("/clients/reconcile", h.Clients.Reconcile).Methods(http.MethodPost)

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		response.NotFound(w, "route not found")
	})

	var handler http.Handler = router
	handler = response.CORSMiddleware(handler)
	handler = observability.ZapLoggerMiddleware(logger)(handler)
	handler = observability.TracingMiddleware(handler)
	handler = middleware.Recoverer(handler)
	handler = middleware.RequestID(handler)
	return handler
}
