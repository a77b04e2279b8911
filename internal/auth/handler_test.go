package auth_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meishi-app/meishi/internal/auth"
	"github.com/meishi-app/meishi/internal/shared"
	"github.com/meishi-app/meishi/internal/view"
	_ "github.com/meishi-app/meishi/testing"
)

type handlerFixture struct {
	handler  *auth.Handler
	service  *auth.Service
	sessions *shared.SessionManager
	remember *auth.RememberCookie
	repo     *fakeRepo
	mail     *recordingMailer
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = redisClient.Close() })

	sessionManager := shared.NewSessionManager(redisClient, "test_session", "session-secret", time.Hour, false)
	csrfManager := shared.NewCSRFManager("csrf-secret")
	templates, err := view.NewEngine()
	require.NoError(t, err)

	repo := newFakeRepo()
	mail := &recordingMailer{}
	service := newTestService(repo, mail)
	remember := auth.NewRememberCookie("remember-secret", time.Hour, false)
	handler := auth.NewHandler(nil, service, templates, sessionManager, csrfManager, remember, nil)

	return &handlerFixture{
		handler:  handler,
		service:  service,
		sessions: sessionManager,
		remember: remember,
		repo:     repo,
		mail:     mail,
	}
}

// withSession attaches a fresh session to the request, the way the session
// middleware does for real traffic.
func (f *handlerFixture) withSession(t *testing.T, r *http.Request) (*http.Request, *shared.Session) {
	t.Helper()
	sess, err := f.sessions.Load(r.Context(), r)
	require.NoError(t, err)
	ctx := shared.ContextWithSession(r.Context(), sess)
	return r.WithContext(ctx), sess
}

func (f *handlerFixture) activatedUser(t *testing.T) *auth.User {
	t.Helper()
	user := register(t, f.service, "hanako@example.com")
	activate(t, f.service, f.mail, user)
	return user
}

func postForm(target string, form url.Values) *http.Request {
	r := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return r
}

func TestShowLoginRendersForm(t *testing.T) {
	f := newHandlerFixture(t)

	r, _ := f.withSession(t, httptest.NewRequest(http.MethodGet, "/auth/login", nil))
	w := httptest.NewRecorder()
	f.handler.ShowLoginForTest(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `action="/auth/login"`)
	assert.Contains(t, w.Body.String(), "remember_me")
}

func TestHandleLoginRejectsBadCredentials(t *testing.T) {
	f := newHandlerFixture(t)
	f.activatedUser(t)

	form := url.Values{"email": {"hanako@example.com"}, "password": {"wrong-password"}}
	r, _ := f.withSession(t, postForm("/auth/login", form))
	w := httptest.NewRecorder()
	f.handler.HandleLoginForTest(w, r)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Invalid email/password combination")
}

func TestHandleLoginBlankFieldsShowFieldErrors(t *testing.T) {
	f := newHandlerFixture(t)

	r, _ := f.withSession(t, postForm("/auth/login", url.Values{}))
	w := httptest.NewRecorder()
	f.handler.HandleLoginForTest(w, r)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "be blank", "field errors read like the service's messages")
	assert.NotContains(t, body, "loginForm", "no developer-facing validator prose leaks into the page")
}

func TestHandleResetRequestInvalidEmailShowsFieldError(t *testing.T) {
	f := newHandlerFixture(t)

	form := url.Values{"email": {"not-an-email"}}
	r, _ := f.withSession(t, postForm("/auth/reset", form))
	w := httptest.NewRecorder()
	f.handler.HandleResetRequestForTest(w, r)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "is invalid")
	assert.NotContains(t, body, "resetRequestForm")
}

func TestHandleLoginSuccess(t *testing.T) {
	f := newHandlerFixture(t)
	user := f.activatedUser(t)

	form := url.Values{"email": {"hanako@example.com"}, "password": {"password123"}, "remember_me": {"1"}}
	r, sess := f.withSession(t, postForm("/auth/login", form))
	w := httptest.NewRecorder()
	f.handler.HandleLoginForTest(w, r)

	assert.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, "/", w.Result().Header.Get("Location"))
	assert.Equal(t, "1", sess.User(), "session is bound to the user")

	var rememberCookie *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == f.remember.Name() {
			rememberCookie = c
		}
	}
	require.NotNil(t, rememberCookie, "remember_me checkbox sets the persistent cookie")

	// The cookie round-trips back into the same user.
	followup := httptest.NewRequest(http.MethodGet, "/", nil)
	followup.AddCookie(rememberCookie)
	userID, raw, ok := f.remember.Read(followup)
	require.True(t, ok)
	assert.Equal(t, user.ID, userID)
	_, err := f.service.ResolveRemember(context.Background(), userID, raw)
	assert.NoError(t, err)
}

func TestHandleLoginWithoutRememberClearsCookie(t *testing.T) {
	f := newHandlerFixture(t)
	f.activatedUser(t)

	form := url.Values{"email": {"hanako@example.com"}, "password": {"password123"}}
	r, _ := f.withSession(t, postForm("/auth/login", form))
	w := httptest.NewRecorder()
	f.handler.HandleLoginForTest(w, r)

	assert.Equal(t, http.StatusSeeOther, w.Code)
	for _, c := range w.Result().Cookies() {
		if c.Name == f.remember.Name() {
			assert.Equal(t, -1, c.MaxAge, "unchecked box expires any stored cookie")
		}
	}
}

func TestHandleLoginUnactivatedRedirects(t *testing.T) {
	f := newHandlerFixture(t)
	register(t, f.service, "hanako@example.com")

	form := url.Values{"email": {"hanako@example.com"}, "password": {"password123"}}
	r, _ := f.withSession(t, postForm("/auth/login", form))
	w := httptest.NewRecorder()
	f.handler.HandleLoginForTest(w, r)

	assert.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, "/", w.Result().Header.Get("Location"))
}

func TestHandleLoginFollowsForwardingURL(t *testing.T) {
	f := newHandlerFixture(t)
	f.activatedUser(t)

	form := url.Values{"email": {"hanako@example.com"}, "password": {"password123"}}
	r, sess := f.withSession(t, postForm("/auth/login", form))
	sess.Set("forwarding_url", "/cards/7")
	w := httptest.NewRecorder()
	f.handler.HandleLoginForTest(w, r)

	assert.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, "/cards/7", w.Result().Header.Get("Location"))
}

func TestHandleSignupValidationRerenders(t *testing.T) {
	f := newHandlerFixture(t)

	form := url.Values{
		"name":                  {"Hanako"},
		"email":                 {"hanako@example.com"},
		"password":              {"password123"},
		"password_confirmation": {"different456"},
	}
	r, _ := f.withSession(t, postForm("/auth/signup", form))
	w := httptest.NewRecorder()
	f.handler.HandleSignupForTest(w, r)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "match password")
	assert.NotContains(t, body, "password123", "passwords are not echoed back")
	assert.Equal(t, 0, f.mail.count())
}

func TestHandleSignupRedirects(t *testing.T) {
	f := newHandlerFixture(t)

	form := url.Values{
		"name":                  {"Hanako"},
		"email":                 {"hanako@example.com"},
		"password":              {"password123"},
		"password_confirmation": {"password123"},
	}
	r, _ := f.withSession(t, postForm("/auth/signup", form))
	w := httptest.NewRecorder()
	f.handler.HandleSignupForTest(w, r)

	assert.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, 1, f.mail.count())
}

func TestHandleActivateLogsUserIn(t *testing.T) {
	f := newHandlerFixture(t)
	user := register(t, f.service, "hanako@example.com")
	raw := extractToken(t, f.mail.last(t))

	r := httptest.NewRequest(http.MethodGet, "/auth/activate?id=1&token="+raw, nil)
	r, sess := f.withSession(t, r)
	w := httptest.NewRecorder()
	f.handler.HandleActivateForTest(w, r)

	assert.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, "/users/1", w.Result().Header.Get("Location"))
	assert.Equal(t, "1", sess.User(), "activation establishes a session")

	fresh, err := f.repo.FindByID(context.Background(), user.ID)
	require.NoError(t, err)
	assert.True(t, fresh.Activated)
}

func TestHandleActivateBadToken(t *testing.T) {
	f := newHandlerFixture(t)
	register(t, f.service, "hanako@example.com")

	r := httptest.NewRequest(http.MethodGet, "/auth/activate?id=1&token=bogus", nil)
	r, sess := f.withSession(t, r)
	w := httptest.NewRecorder()
	f.handler.HandleActivateForTest(w, r)

	assert.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, "/", w.Result().Header.Get("Location"))
	assert.Empty(t, sess.User())
}

func TestHandleLogoutIsIdempotent(t *testing.T) {
	f := newHandlerFixture(t)
	f.activatedUser(t)

	login := url.Values{"email": {"hanako@example.com"}, "password": {"password123"}, "remember_me": {"1"}}
	r, sess := f.withSession(t, postForm("/auth/login", login))
	f.handler.HandleLoginForTest(httptest.NewRecorder(), r)
	require.Equal(t, "1", sess.User())

	// First logout tears the session down.
	out := postForm("/auth/logout", url.Values{})
	out = out.WithContext(shared.ContextWithSession(out.Context(), sess))
	w := httptest.NewRecorder()
	f.handler.HandleLogoutForTest(w, out)
	assert.Equal(t, http.StatusSeeOther, w.Code)

	// A second logout from another tab must not fail.
	again := postForm("/auth/logout", url.Values{})
	again, _ = f.withSession(t, again)
	w = httptest.NewRecorder()
	f.handler.HandleLogoutForTest(w, again)
	assert.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, "/", w.Result().Header.Get("Location"))
}
