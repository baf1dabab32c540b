/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logging:    zap request log (logging.Middleware)
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the frontend
  5. Actor:      Resolves X-Actor-Code on authenticated route groups

ROUTE GROUPS:
  /api/health           Liveness + store ping
  /api/actors           Directory listing
  /api/scenarios/*      Demo scenarios
  /api/pools/*          Admin stock pools
  /api/allocations/*    Allocation ledger, usage, dispatch
  /api/stock            Derived stock for the calling actor
  /api/vendor/queue     Vendor work queue
  /api/claims/*         Revenue approval pipeline

IDENTITY:
  Authentication is handled upstream. The gateway forwards the caller's
  actor code in X-Actor-Code and the engine resolves it through the
  directory. Role checks live in the domain services, not here.
*/
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/warp/allocation-engine/core"
	"github.com/warp/allocation-engine/logging"
)

// ActorHeader carries the calling actor's code.
const ActorHeader = "X-Actor-Code"

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, corsOrigins []string) *chi.Mux {
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(logging.Middleware(h.logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", ActorHeader},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)
		r.Get("/actors", h.ListActors)

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})

		r.Group(func(r chi.Router) {
			r.Use(h.RequireActor)

			r.Get("/me", h.Me)
			r.Get("/stock", h.GetStock)
			r.Get("/actors/{code}/stock", h.GetActorStock)
			r.Get("/vendor/queue", h.VendorQueue)

			// Stock pool routes (admin)
			r.Route("/pools", func(r chi.Router) {
				r.Get("/", h.ListPools)
				r.Post("/", h.CreatePool)
				r.Post("/adjust", h.AdjustPool)
			})

			// Allocation routes
			r.Route("/allocations", func(r chi.Router) {
				r.Get("/", h.ListAllocations)
				r.Post("/", h.CreateAllocation)
				r.Get("/{id}", h.GetAllocation)
				r.Post("/{id}/usage", h.RecordUsage)
				r.Post("/{id}/dispatch", h.DispatchAllocation)
				r.Put("/{id}/lr", h.UpdateLR)
				r.Post("/pod/{hierarchyID}", h.MarkPOD)
			})

			// Revenue claim routes
			r.Route("/claims", func(r chi.Router) {
				r.Get("/", h.ListClaims)
				r.Post("/", h.RecordClaim)
				r.Get("/summary", h.ClaimSummary)
				r.Post("/manual", h.EnterManualClaim)
				r.Post("/approve", h.ApproveClaim)
				r.Post("/submit", h.SubmitClaims)
				r.Get("/{id}", h.GetClaim)
				r.Post("/{id}/approve", h.ApproveClaimByID)
				r.Post("/{id}/reject", h.RejectClaim)
				r.Post("/{id}/document", h.UploadDocument)
				r.Get("/{id}/document", h.DownloadDocument)
			})
		})
	})

	return r
}

// =============================================================================
// ACTOR RESOLUTION
// =============================================================================

type actorKey struct{}

// RequireActor resolves the caller from X-Actor-Code. Requests without a
// known actor are refused with 401.
func (h *Handler) RequireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		code := core.ActorCode(r.Header.Get(ActorHeader))
		if code == "" {
			writeError(w, http.StatusUnauthorized, "unauthenticated", "missing "+ActorHeader+" header", nil)
			return
		}
		actor, err := h.Store.Resolve(r.Context(), code)
		if err != nil {
			if core.IsNotFound(err) {
				writeError(w, http.StatusUnauthorized, "unauthenticated", "unknown actor "+string(code), nil)
				return
			}
			h.fail(w, r, err)
			return
		}
		logging.FromContext(r.Context()).Debug("actor resolved",
			zap.String("actor", actor.Code.String()), zap.String("role", string(actor.Role)))
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey{}, actor)))
	})
}

// actorFrom returns the actor resolved by RequireActor.
func actorFrom(ctx context.Context) core.Actor {
	a, _ := ctx.Value(actorKey{}).(core.Actor)
	return a
}
