package handler

import (
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"github.com/flipshare/flipshare/internal/config"
	"github.com/flipshare/flipshare/internal/registry"
	"github.com/flipshare/flipshare/internal/sse"
	"github.com/flipshare/flipshare/internal/tracking"
	"github.com/flipshare/flipshare/internal/webhook"
)

type Handler struct {
	DB       *sql.DB
	Cfg      *config.Config
	Registry *registry.Registry
	Engine   *tracking.Engine
	Webhook  *webhook.Dispatcher
	SSE      *sse.Hub
}

func New(database *sql.DB, cfg *config.Config, reg *registry.Registry, engine *tracking.Engine, webhookDispatcher *webhook.Dispatcher, sseHub *sse.Hub) *Handler {
	return &Handler{
		DB:       database,
		Cfg:      cfg,
		Registry: reg,
		Engine:   engine,
		Webhook:  webhookDispatcher,
		SSE:      sseHub,
	}
}

func renderJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("encode response", "error", err)
	}
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func renderJSONError(w http.ResponseWriter, status int, code, message string) {
	renderJSON(w, status, map[string]errorBody{"error": {Code: code, Message: message}})
}

// renderServiceError maps service-layer sentinels onto the wire error codes.
// Anything unrecognized is logged and reported as internal.
func renderServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, registry.ErrNotFound):
		renderJSONError(w, http.StatusNotFound, "NOT_FOUND", "document not found")
	case errors.Is(err, registry.ErrNotAccessible):
		renderJSONError(w, http.StatusGone, "NOT_ACCESSIBLE", "document is inactive or expired")
	case errors.Is(err, registry.ErrForbidden):
		renderJSONError(w, http.StatusForbidden, "FORBIDDEN", "not the document owner")
	case errors.Is(err, registry.ErrPassword):
		renderJSONError(w, http.StatusUnauthorized, "PASSWORD_REQUIRED", "password required or incorrect")
	case errors.Is(err, registry.ErrValidation), errors.Is(err, tracking.ErrValidation):
		renderJSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
	case errors.Is(err, tracking.ErrViewNotFound):
		renderJSONError(w, http.StatusNotFound, "VIEW_NOT_FOUND", "no view for this session")
	case errors.Is(err, tracking.ErrContactRequired):
		renderJSONError(w, http.StatusForbidden, "CONTACT_REQUIRED", "contact details required to unlock")
	default:
		slog.Error("request failed", "error", err)
		renderJSONError(w, http.StatusInternalServerError, "INTERNAL", "internal server error")
	}
}

func decodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	return dec.Decode(dst)
}

type paginatedResult struct {
	Items      interface{} `json:"items"`
	Total      int         `json:"total"`
	Page       int         `json:"page"`
	PerPage    int         `json:"perPage"`
	TotalPages int         `json:"totalPages"`
}

// paginate reads page/per_page query params and returns limit, offset, page,
// perPage. Page numbering is 1-based.
func paginate(r *http.Request, defaultPerPage, maxPerPage int) (limit, offset, page, perPage int) {
	page = 1
	if v, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && v > 0 {
		page = v
	}
	perPage = defaultPerPage
	if v, err := strconv.Atoi(r.URL.Query().Get("per_page")); err == nil && v > 0 {
		perPage = v
	}
	if perPage > maxPerPage {
		perPage = maxPerPage
	}
	return perPage, (page - 1) * perPage, page, perPage
}

func paginated(items interface{}, total, page, perPage int) paginatedResult {
	totalPages := (total + perPage - 1) / perPage
	if totalPages == 0 {
		totalPages = 1
	}
	return paginatedResult{Items: items, Total: total, Page: page, PerPage: perPage, TotalPages: totalPages}
}

// realIP trusts chi's RealIP middleware which already folded X-Forwarded-For
// into RemoteAddr; this just strips the port.
func realIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
