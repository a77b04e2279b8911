package auth_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meishi-app/meishi/internal/auth"
	_ "github.com/meishi-app/meishi/testing"
)

func (f *handlerFixture) middleware() auth.Middleware {
	return auth.Middleware{Service: f.service, Sessions: f.sessions, Remember: f.remember}
}

// resolveUser runs a request through CurrentUser and reports who it resolved.
func resolveUser(mw auth.Middleware, r *http.Request) (*auth.User, *httptest.ResponseRecorder) {
	var resolved *auth.User
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resolved = auth.UserFromContext(r.Context())
	})
	w := httptest.NewRecorder()
	mw.CurrentUser(next).ServeHTTP(w, r)
	return resolved, w
}

func TestCurrentUserFromSession(t *testing.T) {
	f := newHandlerFixture(t)
	user := f.activatedUser(t)

	r, sess := f.withSession(t, httptest.NewRequest(http.MethodGet, "/", nil))
	sess.SetUser("1")

	resolved, _ := resolveUser(f.middleware(), r)
	require.NotNil(t, resolved)
	assert.Equal(t, user.ID, resolved.ID)
}

func TestCurrentUserAnonymous(t *testing.T) {
	f := newHandlerFixture(t)

	r, _ := f.withSession(t, httptest.NewRequest(http.MethodGet, "/", nil))
	resolved, _ := resolveUser(f.middleware(), r)
	assert.Nil(t, resolved)
}

func TestCurrentUserStaleSessionDegrades(t *testing.T) {
	f := newHandlerFixture(t)

	r, sess := f.withSession(t, httptest.NewRequest(http.MethodGet, "/", nil))
	sess.SetUser("999")

	resolved, _ := resolveUser(f.middleware(), r)
	assert.Nil(t, resolved)
	assert.Empty(t, sess.User(), "stale user id is dropped from the session")
}

func TestCurrentUserPromotesRememberCookie(t *testing.T) {
	f := newHandlerFixture(t)
	user := f.activatedUser(t)

	raw, err := f.service.Remember(t.Context(), user.ID)
	require.NoError(t, err)
	seed := httptest.NewRecorder()
	f.remember.Write(seed, user.ID, raw)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(cookieFromRecorder(t, seed, f.remember.Name()))
	r, sess := f.withSession(t, r)

	resolved, _ := resolveUser(f.middleware(), r)
	require.NotNil(t, resolved)
	assert.Equal(t, user.ID, resolved.ID)
	assert.Equal(t, "1", sess.User(), "cookie login is promoted into the session")
}

func TestCurrentUserClearsBadRememberCookie(t *testing.T) {
	f := newHandlerFixture(t)
	user := f.activatedUser(t)

	// Token was revoked server-side after the cookie was issued.
	raw, err := f.service.Remember(t.Context(), user.ID)
	require.NoError(t, err)
	seed := httptest.NewRecorder()
	f.remember.Write(seed, user.ID, raw)
	require.NoError(t, f.service.Forget(t.Context(), user.ID))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(cookieFromRecorder(t, seed, f.remember.Name()))
	r, _ = f.withSession(t, r)

	resolved, w := resolveUser(f.middleware(), r)
	assert.Nil(t, resolved)
	cleared := cookieFromRecorder(t, w, f.remember.Name())
	assert.Equal(t, -1, cleared.MaxAge, "dead cookie is expired on the client")
}

func TestRequireAuthenticatedRedirects(t *testing.T) {
	f := newHandlerFixture(t)
	mw := f.middleware()

	r, sess := f.withSession(t, httptest.NewRequest(http.MethodGet, "/cards?page=2", nil))
	w := httptest.NewRecorder()
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("anonymous request must not reach the handler")
	})
	mw.RequireAuthenticated(next).ServeHTTP(w, r)

	assert.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, "/auth/login", w.Result().Header.Get("Location"))
	assert.Equal(t, "/cards?page=2", auth.ConsumeForwardingURL(sess, "/"), "destination is remembered for after login")
}

func TestRequireAuthenticatedPassesThrough(t *testing.T) {
	f := newHandlerFixture(t)
	user := f.activatedUser(t)

	r := httptest.NewRequest(http.MethodGet, "/cards", nil)
	r = r.WithContext(auth.ContextWithUser(r.Context(), user))
	w := httptest.NewRecorder()
	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })
	f.middleware().RequireAuthenticated(next).ServeHTTP(w, r)
	assert.True(t, called)
}
