package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/flipshare/flipshare/internal/auth"
	"github.com/flipshare/flipshare/internal/db"
	"github.com/flipshare/flipshare/internal/model"
)

type apiKeyCreateRequest struct {
	Name string `json:"name"`
}

// APIKeyCreate returns the full key exactly once; only the hash is stored.
func (h *Handler) APIKeyCreate(w http.ResponseWriter, r *http.Request) {
	var req apiKeyCreateRequest
	if err := decodeJSON(r, &req); err != nil || req.Name == "" {
		renderJSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", "name is required")
		return
	}

	key, prefix, hash, err := auth.NewAPIKey()
	if err != nil {
		renderServiceError(w, err)
		return
	}

	record := &model.APIKey{
		ID:        uuid.NewString(),
		AccountID: auth.AccountFromContext(r.Context()),
		Name:      req.Name,
		KeyPrefix: prefix,
		KeyHash:   hash,
	}
	if err := db.CreateAPIKey(h.DB, record); err != nil {
		renderServiceError(w, err)
		return
	}

	renderJSON(w, http.StatusCreated, map[string]string{
		"id":   record.ID,
		"name": record.Name,
		"key":  key,
	})
}

func (h *Handler) APIKeyList(w http.ResponseWriter, r *http.Request) {
	keys, err := db.ListAPIKeys(h.DB, auth.AccountFromContext(r.Context()))
	if err != nil {
		renderServiceError(w, err)
		return
	}

	type item struct {
		ID         string     `json:"id"`
		Name       string     `json:"name"`
		KeyPrefix  string     `json:"keyPrefix"`
		CreatedAt  time.Time  `json:"createdAt"`
		LastUsedAt *time.Time `json:"lastUsedAt,omitempty"`
	}
	items := make([]item, 0, len(keys))
	for _, k := range keys {
		items = append(items, item{
			ID: k.ID, Name: k.Name, KeyPrefix: k.KeyPrefix,
			CreatedAt: k.CreatedAt, LastUsedAt: k.LastUsedAt,
		})
	}
	renderJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

func (h *Handler) APIKeyDelete(w http.ResponseWriter, r *http.Request) {
	err := db.DeleteAPIKey(h.DB, auth.AccountFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		renderServiceError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
