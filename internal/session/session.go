// Package session provides session managers that let an authenticated user
// skip the mechanism chain on subsequent requests. Sessions are carried by
// an opaque cookie; on lookup the account is re-resolved through the
// identity store so removed or disabled users do not ride an old session.
package session

import (
	"net/http"
	"time"
)

// DefaultCookieName is the session cookie name when none is configured.
const DefaultCookieName = "AUTHGATE_SESSION"

// DefaultTTL is used when no TTL is configured.
const DefaultTTL = 30 * time.Minute

// Config holds session cookie and lifetime settings.
type Config struct {
	CookieName string
	TTL        time.Duration
	Path       string
	Secure     bool
}

func (c Config) withDefaults() Config {
	if c.CookieName == "" {
		c.CookieName = DefaultCookieName
	}
	if c.TTL <= 0 {
		c.TTL = DefaultTTL
	}
	if c.Path == "" {
		c.Path = "/"
	}
	return c
}

// record is the stored session state. Only the username is persisted; the
// account itself is re-resolved on every lookup.
type record struct {
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"createdAt"`
}

func issueCookie(w http.ResponseWriter, cfg Config, sessionID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     cfg.CookieName,
		Value:    sessionID,
		Path:     cfg.Path,
		MaxAge:   int(cfg.TTL / time.Second),
		Secure:   cfg.Secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func expireCookie(w http.ResponseWriter, cfg Config) {
	http.SetCookie(w, &http.Cookie{
		Name:     cfg.CookieName,
		Value:    "",
		Path:     cfg.Path,
		MaxAge:   -1,
		Secure:   cfg.Secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func sessionIDFromRequest(r *http.Request, cfg Config) string {
	cookie, err := r.Cookie(cfg.CookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}
