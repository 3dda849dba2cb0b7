package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/flipshare/flipshare/internal/auth"
	"github.com/flipshare/flipshare/internal/db"
)

func (h *Handler) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var accountID string

		// Check API key first (Authorization: Bearer fs_...)
		if authHeader := r.Header.Get("Authorization"); strings.HasPrefix(authHeader, "Bearer "+auth.APIKeyScheme) {
			apiKey := strings.TrimPrefix(authHeader, "Bearer ")
			id, ok := h.validateAPIKey(apiKey)
			if !ok {
				renderJSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid API key")
				return
			}
			accountID = id
		} else {
			// Fall back to session cookie
			sessionID, ok := auth.GetSessionID(r, h.Cfg.SessionSecret)
			if !ok {
				renderJSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required")
				return
			}
			session, err := db.GetSession(h.DB, sessionID)
			if err != nil || session == nil || session.ExpiresAt.Before(time.Now()) {
				auth.ClearSessionCookie(w)
				renderJSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "session expired")
				return
			}
			accountID = session.AccountID
		}

		account, err := db.GetAccountByID(h.DB, accountID)
		if err != nil || account == nil {
			auth.ClearSessionCookie(w)
			renderJSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "account not found")
			return
		}
		if !account.Enabled {
			auth.ClearSessionCookie(w)
			db.DeleteSessionsByAccount(h.DB, accountID)
			renderJSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "account disabled")
			return
		}

		ctx := auth.ContextWithAccountAndRole(r.Context(), accountID, account.Role, account.Name)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handler) validateAPIKey(key string) (string, bool) {
	prefix, ok := auth.APIKeyPrefix(key)
	if !ok {
		return "", false
	}

	apiKey, err := db.GetAPIKeyByPrefix(h.DB, prefix)
	if err != nil || apiKey == nil {
		return "", false
	}

	if !auth.CheckPassword(apiKey.KeyHash, key) {
		return "", false
	}

	// Update last used timestamp
	go db.TouchAPIKeyUsed(h.DB, apiKey.ID)

	return apiKey.AccountID, true
}
