package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/csrf"

	"github.com/flipshare/flipshare/internal/auth"
)

func (h *Handler) Routes(authRL, trackRL *RateLimiter) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	csrfProtect := csrf.Protect(
		[]byte(h.Cfg.CSRFSecret),
		csrf.Secure(strings.HasPrefix(h.Cfg.BaseURL, "https")),
		csrf.Path("/"),
		csrf.SameSite(csrf.SameSiteLaxMode),
	)
	// CSRF guards the cookie-authenticated console. API-key callers and the
	// public tracking surface are exempt: the former carry no ambient
	// credentials, the latter is cross-origin by design.
	r.Use(func(next http.Handler) http.Handler {
		protected := csrfProtect(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasPrefix(r.Header.Get("Authorization"), "Bearer "+auth.APIKeyScheme) ||
				strings.HasPrefix(r.URL.Path, "/p/") {
				next.ServeHTTP(w, r)
				return
			}
			protected.ServeHTTP(w, r)
		})
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		renderJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// Public sharing surface
	r.Route("/p", func(r chi.Router) {
		r.Use(trackRL.Middleware)

		r.Get("/{identifier}", h.PublicDocument)
		r.Post("/{identifier}/view", h.RecordView)
		r.Post("/{identifier}/event", h.RecordEvent)
		r.Post("/{identifier}/contact", h.SubmitContact)
		r.Get("/{identifier}/download", h.Download)
		r.Get("/{identifier}/stream", h.Stream)
		r.Post("/{identifier}/unlock", h.UnlockVideo)
	})

	// Auth
	r.Get("/api/v1/auth/csrf", h.CSRFToken)
	r.Group(func(r chi.Router) {
		r.Use(authRL.Middleware)
		r.Post("/api/v1/auth/login", h.Login)
	})

	// Owner console API
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(h.RequireAuth)

		r.Post("/auth/logout", h.Logout)
		r.Get("/auth/me", h.Me)

		r.Get("/dashboard", h.Dashboard)
		r.Get("/events", h.EventsSSE)

		r.Route("/documents", func(r chi.Router) {
			r.Post("/", h.DocumentCreate)
			r.Get("/", h.DocumentList)
			r.Post("/bulk-delete", h.DocumentBulkDelete)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.DocumentGet)
				r.Patch("/", h.DocumentUpdate)
				r.Delete("/", h.DocumentDelete)
				r.Post("/recalculate", h.DocumentRecalculate)
				r.Get("/analytics", h.DocumentAnalytics)
				r.Get("/views", h.DocumentViews)
				r.Get("/views/{viewId}", h.DocumentViewGet)
				r.Get("/contacts", h.DocumentContacts)
				r.Get("/export", h.DocumentExport)
			})
		})

		r.Route("/apikeys", func(r chi.Router) {
			r.Post("/", h.APIKeyCreate)
			r.Get("/", h.APIKeyList)
			r.Delete("/{id}", h.APIKeyDelete)
		})

		r.Route("/webhooks", func(r chi.Router) {
			r.Post("/", h.WebhookCreate)
			r.Get("/", h.WebhookList)
			r.Get("/{id}", h.WebhookGet)
			r.Delete("/{id}", h.WebhookDelete)
		})
	})

	return r
}
