package handler

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/csrf"

	"github.com/flipshare/flipshare/internal/auth"
	"github.com/flipshare/flipshare/internal/db"
	"github.com/flipshare/flipshare/internal/model"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		renderJSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid JSON body")
		return
	}

	account, err := db.GetAccountByEmail(h.DB, req.Email)
	if err != nil {
		renderServiceError(w, err)
		return
	}
	// Same answer whether the email or the password is wrong.
	if account == nil || !account.Enabled || !auth.CheckPassword(account.PasswordHash, req.Password) {
		renderJSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid credentials")
		return
	}

	session := &model.Session{
		ID:        uuid.NewString(),
		AccountID: account.ID,
		ExpiresAt: time.Now().Add(auth.SessionMaxAge),
	}
	if err := db.CreateSession(h.DB, session); err != nil {
		renderServiceError(w, err)
		return
	}
	auth.SetSessionCookie(w, session.ID, h.Cfg.SessionSecret)

	renderJSON(w, http.StatusOK, map[string]interface{}{
		"id":    account.ID,
		"email": account.Email,
		"name":  account.Name,
		"role":  account.Role,
	})
}

// CSRFToken hands the console a token for subsequent mutating requests,
// which carry it in the X-CSRF-Token header.
func (h *Handler) CSRFToken(w http.ResponseWriter, r *http.Request) {
	token := csrf.Token(r)
	w.Header().Set("X-CSRF-Token", token)
	renderJSON(w, http.StatusOK, map[string]string{"csrfToken": token})
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if sessionID, ok := auth.GetSessionID(r, h.Cfg.SessionSecret); ok {
		if err := db.DeleteSession(h.DB, sessionID); err != nil {
			renderServiceError(w, err)
			return
		}
	}
	auth.ClearSessionCookie(w)
	renderJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	accountID := auth.AccountFromContext(r.Context())
	account, err := db.GetAccountByID(h.DB, accountID)
	if err != nil || account == nil {
		renderJSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "account not found")
		return
	}
	renderJSON(w, http.StatusOK, map[string]interface{}{
		"id":    account.ID,
		"email": account.Email,
		"name":  account.Name,
		"role":  account.Role,
	})
}
