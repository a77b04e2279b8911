package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// RememberCookie encodes the persistent remember-me credential into a
// single HMAC-signed cookie. The signature makes the cookie tamper-evident;
// authenticating still requires the raw token to match the server-side
// digest, so the cookie alone proves nothing.
type RememberCookie struct {
	name   string
	secret []byte
	ttl    time.Duration
	secure bool
}

// NewRememberCookie constructs the cookie codec.
func NewRememberCookie(secret string, ttl time.Duration, secure bool) *RememberCookie {
	return &RememberCookie{
		name:   "meishi_remember",
		secret: []byte(secret),
		ttl:    ttl,
		secure: secure,
	}
}

// Name returns the cookie name.
func (c *RememberCookie) Name() string {
	return c.name
}

// Write sets the remember cookie for the given credential pair.
func (c *RememberCookie) Write(w http.ResponseWriter, userID int64, rawToken string) {
	payload := fmt.Sprintf("%d|%s", userID, rawToken)
	value := payload + "|" + c.sign(payload)
	http.SetCookie(w, &http.Cookie{
		Name:     c.name,
		Value:    base64.RawURLEncoding.EncodeToString([]byte(value)),
		Path:     "/",
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
		Expires:  time.Now().Add(c.ttl),
	})
}

// Clear expires the remember cookie.
func (c *RememberCookie) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Read parses and authenticates the cookie. ok is false for a missing,
// malformed or tampered cookie.
func (c *RememberCookie) Read(r *http.Request) (userID int64, rawToken string, ok bool) {
	cookie, err := r.Cookie(c.name)
	if err != nil {
		return 0, "", false
	}
	decoded, err := base64.RawURLEncoding.DecodeString(cookie.Value)
	if err != nil {
		return 0, "", false
	}
	parts := strings.SplitN(string(decoded), "|", 3)
	if len(parts) != 3 {
		return 0, "", false
	}
	payload := parts[0] + "|" + parts[1]
	if !hmac.Equal([]byte(c.sign(payload)), []byte(parts[2])) {
		return 0, "", false
	}
	userID, err = strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, "", false
	}
	return userID, parts[1], true
}

func (c *RememberCookie) sign(payload string) string {
	mac := hmac.New(sha256.New, c.secret)
	_, _ = mac.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
