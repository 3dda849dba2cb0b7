package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"time"
)

// Session cookies carry "<id>.<hmac>" so tampering is detectable without a
// database read; expiry is still enforced against the sessions row.
const (
	CookieName    = "flipshare_session"
	SessionMaxAge = 7 * 24 * time.Hour
)

type contextKey string

const (
	AccountIDKey contextKey = "account_id"
	RoleKey      contextKey = "role"
	NameKey      contextKey = "name"
)

func SetSessionCookie(w http.ResponseWriter, sessionID, secret string) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    sessionID + "." + signature(sessionID, secret),
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(SessionMaxAge.Seconds()),
	})
}

func ClearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
}

// GetSessionID extracts and verifies the session id from the request cookie.
func GetSessionID(r *http.Request, secret string) (string, bool) {
	cookie, err := r.Cookie(CookieName)
	if err != nil {
		return "", false
	}
	id, sig, ok := strings.Cut(cookie.Value, ".")
	if !ok {
		return "", false
	}
	if !hmac.Equal([]byte(signature(id, secret)), []byte(sig)) {
		return "", false
	}
	return id, true
}

func signature(data, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

func AccountFromContext(ctx context.Context) string {
	v, _ := ctx.Value(AccountIDKey).(string)
	return v
}

func ContextWithAccountAndRole(ctx context.Context, accountID, role, name string) context.Context {
	ctx = context.WithValue(ctx, AccountIDKey, accountID)
	ctx = context.WithValue(ctx, RoleKey, role)
	ctx = context.WithValue(ctx, NameKey, name)
	return ctx
}
