package shared_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meishi-app/meishi/internal/shared"
	_ "github.com/meishi-app/meishi/testing"
)

func newManager(t *testing.T) (*shared.SessionManager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return shared.NewSessionManager(client, "test_session", "secret", time.Hour, false), mr
}

func commitAndReload(t *testing.T, sm *shared.SessionManager, sess *shared.Session) *shared.Session {
	t.Helper()
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	require.NoError(t, sm.Commit(context.Background(), w, r, sess))

	next := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range w.Result().Cookies() {
		if c.Name == sm.CookieName() {
			next.AddCookie(c)
		}
	}
	reloaded, err := sm.Load(context.Background(), next)
	require.NoError(t, err)
	return reloaded
}

func TestSessionPersistsValues(t *testing.T) {
	sm, _ := newManager(t)

	sess, err := sm.Load(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	sess.SetUser("7")
	sess.Set("forwarding_url", "/cards")

	reloaded := commitAndReload(t, sm, sess)
	assert.Equal(t, sess.ID, reloaded.ID)
	assert.Equal(t, "7", reloaded.User())
	assert.Equal(t, "/cards", reloaded.Get("forwarding_url"))
}

func TestRenewRotatesIdentifier(t *testing.T) {
	sm, mr := newManager(t)

	sess, err := sm.Load(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	w := httptest.NewRecorder()
	require.NoError(t, sm.Commit(context.Background(), w, httptest.NewRequest(http.MethodGet, "/", nil), sess))
	oldID := sess.ID

	sm.Renew(context.Background(), sess)
	assert.NotEqual(t, oldID, sess.ID, "login rotates the session id")
	assert.False(t, mr.Exists("session:"+oldID), "the pre-login session is gone from redis")

	sess.SetUser("7")
	reloaded := commitAndReload(t, sm, sess)
	assert.Equal(t, "7", reloaded.User())
}

func TestDestroyRemovesSession(t *testing.T) {
	sm, mr := newManager(t)

	sess, err := sm.Load(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	sess.SetUser("7")
	w := httptest.NewRecorder()
	require.NoError(t, sm.Commit(context.Background(), w, httptest.NewRequest(http.MethodGet, "/", nil), sess))
	require.True(t, mr.Exists("session:"+sess.ID))

	sm.Destroy(sess)
	w = httptest.NewRecorder()
	require.NoError(t, sm.Commit(context.Background(), w, httptest.NewRequest(http.MethodGet, "/", nil), sess))
	assert.False(t, mr.Exists("session:"+sess.ID))

	var cleared bool
	for _, c := range w.Result().Cookies() {
		if c.Name == sm.CookieName() && c.MaxAge == -1 {
			cleared = true
		}
	}
	assert.True(t, cleared, "destroy expires the cookie")
}

func TestFlashIsDeliveredOnce(t *testing.T) {
	sm, _ := newManager(t)

	sess, err := sm.Load(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	sess.AddFlash(shared.FlashMessage{Kind: "success", Message: "Welcome back!"})

	reloaded := commitAndReload(t, sm, sess)
	flash := reloaded.PopFlash()
	require.NotNil(t, flash)
	assert.Equal(t, "Welcome back!", flash.Message)
	assert.Nil(t, reloaded.PopFlash(), "a flash shows exactly once")
}
