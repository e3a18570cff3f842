package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/time/rate"

	"github.com/tokengate/internal/config"
	"github.com/tokengate/internal/domain"
	"github.com/tokengate/internal/transport/http/handler"
	appmiddleware "github.com/tokengate/internal/transport/http/middleware"
)

// NewRouter builds and returns the application router.
func NewRouter(cfg *config.Config, deps *Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	var authMw func(http.Handler) http.Handler
	if deps.JWTProvider != nil {
		authMw = appmiddleware.Auth(deps.JWTProvider)
	} else {
		authMw = func(next http.Handler) http.Handler { return next }
	}

	// Telegram redelivers on backpressure, so the webhook cap is generous.
	webhookRL := appmiddleware.NewRateLimiter(rate.Limit(30), 60)
	// 5 requests/second with a burst of 10 on the approval endpoints.
	sensitiveRL := appmiddleware.NewRateLimiter(rate.Limit(5), 10)

	healthH := handler.NewHealthHandler()
	webhookH := handler.NewWebhookHandler(handler.WebhookDeps{
		Engine:      deps.Engine,
		Onboarding:  deps.Onboarding,
		Invites:     deps.Invites,
		Status:      deps.Status,
		Gateway:     deps.Gateway,
		OwnerUserID: cfg.OwnerUserID,
		Secret:      cfg.WebhookSecret,
		Logger:      deps.Logger,
	})
	opsH := handler.NewOpsHandler(handler.OpsDeps{
		Onboarding: deps.Onboarding,
		Status:     deps.Status,
		Export:     deps.Export,
		Sweeper:    deps.Sweeper,
		Engine:     deps.Engine,
	})

	r.Route("/v1", func(r chi.Router) {
		// ── Public routes (no auth) ──────────────────────────────────────────
		r.Get("/health-check/{action}", healthH.Ping)
		r.Post("/health-check/{action}", healthH.Ping)
		r.With(webhookRL.Limit).Post("/telegram/webhook/{secret}", webhookH.Receive)

		// ── Ops API (JWT) ────────────────────────────────────────────────────
		r.Group(func(r chi.Router) {
			r.Use(authMw)

			r.Get("/groups", opsH.ListGroups)
			r.Get("/groups/{groupID}/status", opsH.GroupStatus)
			r.Get("/groups/{groupID}/members/{userID}", opsH.MemberStatus)
			r.Get("/requests", opsH.ListPendingRequests)
			r.Get("/whitelist", opsH.ListWhitelist)
			r.Get("/blocked", opsH.ListBlockedGroups)
			r.Get("/rejections", opsH.ListRejections)
			r.Get("/sessions", opsH.ActiveSessions)

			// Admin-only routes
			r.Group(func(r chi.Router) {
				r.Use(appmiddleware.RequireRole(domain.RoleAdmin))

				r.With(sensitiveRL.Limit).Post("/requests/{groupID}/approve", opsH.ApproveRequest)
				r.With(sensitiveRL.Limit).Post("/requests/{groupID}/reject", opsH.RejectRequest)
				r.Post("/groups/{groupID}/export", opsH.ExportGroup)
				r.Post("/exports", opsH.ExportAll)
				r.Post("/sweeps", opsH.TriggerSweep)
			})
		})
	})

	return r
}
