/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging (zap)
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for handheld / web clients

ROUTE GROUPS:
  /api/stock/*          Key state and history
  /api/warehouses/*     Item summaries
  /api/locations        Bins
  /api/orders/*         Fulfillment orders
  /api/pick-lists/*     Pick lists
  /api/receipts         Inbound receipts
  /api/putaway*         Putaway tasks and suggestions
  /api/scenarios/*      Demo scenarios
  /api/admin/*          Outbox dispatch

SECURITY NOTE:
  No authentication middleware. X-Actor is trusted as given; run behind a
  gateway that sets it.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// RouterOptions configures NewRouter.
type RouterOptions struct {
	AllowedOrigins []string
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(requestLogger(h.logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", ActorHeader},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)

		// Stock routes
		r.Route("/stock/{location}/{item}", func(r chi.Router) {
			r.Get("/", h.GetStock)
			r.Get("/history", h.GetHistory)
		})
		r.Get("/warehouses/{warehouse}/items/{item}", h.GetItemSummary)
		r.Post("/adjustments", h.CreateAdjustment)
		r.Post("/entries/{id}/cancel", h.CancelEntry)
		r.Get("/vouchers/{type}/{id}/entries", h.GetVoucherEntries)
		r.Get("/vouchers/{type}/{id}/documents", h.GetVoucherDocuments)

		// Location routes
		r.Route("/locations", func(r chi.Router) {
			r.Get("/", h.ListLocations)
			r.Post("/", h.SaveLocation)
		})

		// Fulfillment order routes
		r.Route("/orders", func(r chi.Router) {
			r.Get("/", h.ListOrders)
			r.Post("/", h.CreateOrder)
			r.Get("/{id}", h.GetOrder)
			r.Post("/{id}/allocate", h.AllocateOrder)
			r.Post("/{id}/cancel", h.CancelOrder)
		})

		// Pick list routes
		r.Route("/pick-lists", func(r chi.Router) {
			r.Get("/", h.ListPickLists)
			r.Post("/", h.BuildPickList)
			r.Get("/{id}", h.GetPickList)
			r.Post("/{id}/release", h.ReleasePickList)
			r.Post("/{id}/assign", h.AssignPickList)
			r.Post("/{id}/start", h.StartPickList)
			r.Post("/{id}/lines/{seq}/pick", h.RecordPick)
			r.Post("/{id}/complete", h.CompletePickList)
			r.Post("/{id}/cancel", h.CancelPickList)
		})

		// Receipt & putaway routes
		r.Post("/receipts", h.Receive)
		r.Get("/putaway/suggest", h.SuggestDestination)
		r.Route("/putaway-tasks", func(r chi.Router) {
			r.Get("/", h.ListTasks)
			r.Get("/{id}", h.GetTask)
			r.Post("/{id}/complete", h.CompleteTask)
			r.Post("/{id}/cancel", h.CancelTask)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Post("/load", h.LoadScenario)
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Post("/dispatch", h.TriggerDispatch)
		})
	})

	return r
}

// requestLogger logs one line per request with zap.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("actor", string(actorFrom(r))))
		})
	}
}
