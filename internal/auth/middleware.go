package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/meishi-app/meishi/internal/shared"
)

type userContextKey struct{}

// ContextWithUser stores the resolved user in context.
func ContextWithUser(ctx context.Context, user *User) context.Context {
	return context.WithValue(ctx, userContextKey{}, user)
}

// UserFromContext extracts the resolved user, nil when anonymous.
func UserFromContext(ctx context.Context) *User {
	user, _ := ctx.Value(userContextKey{}).(*User)
	return user
}

// forwardingKey stores the URL an anonymous visitor tried to reach.
const forwardingKey = "forwarding_url"

// Middleware resolves the current user for each request and guards
// authenticated routes.
type Middleware struct {
	Service  *Service
	Sessions *shared.SessionManager
	Remember *RememberCookie
	Logger   *slog.Logger
}

// CurrentUser resolves the request's user: a session user id wins, then a
// valid remember cookie is promoted into a full session. Every failure
// degrades to anonymous; nothing here writes an error response.
func (m Middleware) CurrentUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		sess := shared.SessionFromContext(ctx)

		if sess != nil && sess.User() != "" {
			if userID, err := strconv.ParseInt(sess.User(), 10, 64); err == nil {
				if user, err := m.Service.FindByID(ctx, userID); err == nil {
					next.ServeHTTP(w, r.WithContext(ContextWithUser(ctx, user)))
					return
				}
			}
			// Stale session: the referenced user is gone.
			sess.ClearUser()
			next.ServeHTTP(w, r)
			return
		}

		if userID, rawToken, ok := m.Remember.Read(r); ok {
			user, err := m.Service.ResolveRemember(ctx, userID, rawToken)
			if err != nil {
				m.Remember.Clear(w)
				next.ServeHTTP(w, r)
				return
			}
			if sess != nil {
				sess.SetUser(strconv.FormatInt(user.ID, 10))
			}
			next.ServeHTTP(w, r.WithContext(ContextWithUser(ctx, user)))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// RequireAuthenticated redirects anonymous visitors to the login page,
// remembering where they were headed.
func (m Middleware) RequireAuthenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if UserFromContext(r.Context()) != nil {
			next.ServeHTTP(w, r)
			return
		}
		sess := shared.SessionFromContext(r.Context())
		if sess != nil {
			if r.Method == http.MethodGet {
				sess.Set(forwardingKey, r.URL.RequestURI())
			}
			sess.AddFlash(shared.FlashMessage{Kind: "danger", Message: "Please log in."})
		}
		http.Redirect(w, r, "/auth/login", http.StatusSeeOther)
	})
}

// ConsumeForwardingURL pops the stored destination, defaulting to fallback.
func ConsumeForwardingURL(sess *shared.Session, fallback string) string {
	if sess == nil {
		return fallback
	}
	if target := sess.Get(forwardingKey); target != "" {
		sess.Delete(forwardingKey)
		return target
	}
	return fallback
}
