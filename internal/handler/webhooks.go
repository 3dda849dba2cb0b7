package handler

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/flipshare/flipshare/internal/auth"
	"github.com/flipshare/flipshare/internal/db"
	"github.com/flipshare/flipshare/internal/model"
)

type webhookCreateRequest struct {
	URL    string   `json:"url"`
	Events []string `json:"events"`
}

func (h *Handler) WebhookCreate(w http.ResponseWriter, r *http.Request) {
	var req webhookCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		renderJSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid JSON body")
		return
	}
	u, err := url.Parse(req.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		renderJSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", "url must be http(s)")
		return
	}

	secret, err := auth.GenerateToken(24)
	if err != nil {
		renderServiceError(w, err)
		return
	}

	hook := &model.Webhook{
		ID:        uuid.NewString(),
		AccountID: auth.AccountFromContext(r.Context()),
		URL:       req.URL,
		Secret:    secret,
		Events:    strings.Join(req.Events, ","),
		Enabled:   true,
	}
	if err := db.CreateWebhook(h.DB, hook); err != nil {
		renderServiceError(w, err)
		return
	}

	// The signing secret is shown once at creation.
	renderJSON(w, http.StatusCreated, map[string]string{
		"id":     hook.ID,
		"url":    hook.URL,
		"secret": hook.Secret,
	})
}

// WebhookGet returns one webhook's configuration. The signing secret is not
// repeated here; it was shown at creation.
func (h *Handler) WebhookGet(w http.ResponseWriter, r *http.Request) {
	hook, err := db.GetWebhook(h.DB, auth.AccountFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		renderServiceError(w, err)
		return
	}
	if hook == nil {
		renderJSONError(w, http.StatusNotFound, "NOT_FOUND", "webhook not found")
		return
	}

	var events []string
	if hook.Events != "" {
		events = strings.Split(hook.Events, ",")
	}
	renderJSON(w, http.StatusOK, map[string]interface{}{
		"id":        hook.ID,
		"url":       hook.URL,
		"events":    events,
		"enabled":   hook.Enabled,
		"createdAt": hook.CreatedAt,
	})
}

func (h *Handler) WebhookList(w http.ResponseWriter, r *http.Request) {
	hooks, err := db.ListWebhooks(h.DB, auth.AccountFromContext(r.Context()))
	if err != nil {
		renderServiceError(w, err)
		return
	}

	type item struct {
		ID        string    `json:"id"`
		URL       string    `json:"url"`
		Events    []string  `json:"events"`
		Enabled   bool      `json:"enabled"`
		CreatedAt time.Time `json:"createdAt"`
	}
	items := make([]item, 0, len(hooks))
	for _, hk := range hooks {
		var events []string
		if hk.Events != "" {
			events = strings.Split(hk.Events, ",")
		}
		items = append(items, item{
			ID: hk.ID, URL: hk.URL, Events: events,
			Enabled: hk.Enabled, CreatedAt: hk.CreatedAt,
		})
	}
	renderJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

func (h *Handler) WebhookDelete(w http.ResponseWriter, r *http.Request) {
	err := db.DeleteWebhook(h.DB, auth.AccountFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		renderServiceError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
