package api

import (
	"encoding/json"
	"net/http"

	"clickgate/internal/models"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"
)

// RouteOption configures optional route behavior.
type RouteOption func(*mux.Router)

// WithOTelMiddleware adds OpenTelemetry HTTP instrumentation middleware.
func WithOTelMiddleware(serviceName string) RouteOption {
	return func(r *mux.Router) {
		r.Use(otelmux.Middleware(serviceName,
			otelmux.WithFilter(func(r *http.Request) bool {
				return r.URL.Path != "/health" &&
					r.URL.Path != "/api/v1/health" &&
					r.URL.Path != "/metrics"
			}),
		))
	}
}

// SetupRoutes configures the HTTP routes for the API
func SetupRoutes(handlers *Handlers, config *models.Config, opts ...RouteOption) *mux.Router {
	router := mux.NewRouter()

	for _, opt := range opts {
		opt(router)
	}

	router.HandleFunc("/", handlers.Click).Methods("POST")
	router.HandleFunc("/", handlers.Greeting).Methods("GET")

	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/click", handlers.Click).Methods("POST")
	api.HandleFunc("/click", methodNotAllowedHandler).Methods("GET", "PUT", "DELETE", "PATCH")
	api.HandleFunc("/counter", handlers.GetCounter).Methods("GET")

	router.HandleFunc("/health", handlers.HealthCheck).Methods("GET")
	router.HandleFunc("/api/v1/health", handlers.HealthCheck).Methods("GET")

	// CORS preflight; the CORS middleware answers these when enabled.
	router.HandleFunc("/", preflightHandler).Methods("OPTIONS")
	api.HandleFunc("/click", preflightHandler).Methods("OPTIONS")
	api.HandleFunc("/counter", preflightHandler).Methods("OPTIONS")

	if config.Server.CORS.Enabled {
		router.Use(corsMiddleware(config.Server.CORS))
	}

	router.Use(loggingMiddleware)
	router.Use(recoveryMiddleware)

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeStaticError(w, http.StatusNotFound, "Not found", models.ErrorCodeNotFound)
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowedHandler)

	return router
}

func preflightHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

// methodNotAllowedHandler handles requests with invalid HTTP methods
func methodNotAllowedHandler(w http.ResponseWriter, r *http.Request) {
	writeStaticError(w, http.StatusMethodNotAllowed, "Method not allowed", models.ErrorCodeMethodNotAllowed)
}

func writeStaticError(w http.ResponseWriter, statusCode int, message, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(models.NewErrorResponse(message, code))
}
