package account_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/esobb/internal/account"
	"github.com/yourusername/esobb/internal/auth"
	"github.com/yourusername/esobb/internal/auth/authtest"
)

type client struct {
	t      *testing.T
	router *gin.Engine
	jar    map[string]*http.Cookie
	token  string
}

func newClient(t *testing.T, env *authtest.Env, svc *account.Service) *client {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := cookie.NewStore(auth.SessionKeys("test-session-secret-0123456789ab")...)
	store.Options(auth.SessionOptions(env.Config))

	router := gin.New()
	router.Use(sessions.Sessions(auth.SessionCookieName(env.Config), store))
	api := router.Group("/api")
	api.Use(env.Manager.Middleware())
	api.GET("/auth/me", env.Manager.MeHandler)
	svc.RegisterRoutes(api)
	return &client{t: t, router: router, jar: make(map[string]*http.Cookie)}
}

func (c *client) do(method, path string, body interface{}, withToken bool) *httptest.ResponseRecorder {
	c.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(c.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = authtest.IP + ":12345"
	req.Header.Set("User-Agent", authtest.UserAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if withToken {
		req.Header.Set(auth.CSRFHeader, c.token)
	}
	for _, ck := range c.jar {
		req.AddCookie(ck)
	}

	w := httptest.NewRecorder()
	c.router.ServeHTTP(w, req)

	for _, ck := range w.Result().Cookies() {
		if ck.MaxAge < 0 || ck.Value == "" {
			delete(c.jar, ck.Name)
			continue
		}
		c.jar[ck.Name] = ck
	}
	if tok := w.Header().Get(auth.CSRFHeader); tok != "" {
		c.token = tok
	}
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestJoinAndSettingsHandlers(t *testing.T) {
	env, svc, _ := newService(t)
	c := newClient(t, env, svc)

	c.do(http.MethodGet, "/api/auth/me", nil, false)
	require.NotEmpty(t, c.token)

	w := c.do(http.MethodPost, "/api/join", joinRequest("alice"), false)
	require.Equal(t, http.StatusForbidden, w.Code, "トークン無しの登録は拒否する")

	w = c.do(http.MethodPost, "/api/join", joinRequest("alice"), true)
	require.Equal(t, http.StatusCreated, w.Code)
	body := decode(t, w)
	user := body["user"].(map[string]interface{})
	assert.Equal(t, "alice", user["name"])
	_, ok := c.jar[env.Config.CookieName]
	assert.True(t, ok)

	w = c.do(http.MethodPost, "/api/settings/password-email", gin.H{"current": "wrong", "new": "newsecret", "confirm": "newsecret"}, true)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, auth.MsgIncorrectPassword, decode(t, w)["message"])

	w = c.do(http.MethodPost, "/api/settings/password-email", gin.H{"current": "secret1", "new": "newsecret", "confirm": "newsecret"}, true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, decode(t, w)["messages"], account.MsgChangesSaved)
}

func TestJoinHandlerValidation(t *testing.T) {
	env, svc, _ := newService(t)
	c := newClient(t, env, svc)
	c.do(http.MethodGet, "/api/auth/me", nil, false)

	req := joinRequest("alice")
	req.Confirm = "different"
	w := c.do(http.MethodPost, "/api/join", req, true)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	fields := decode(t, w)["fields"].(map[string]interface{})
	assert.Equal(t, "passwordsDontMatch", fields["confirm"])
}

func TestJoinHandlerPending(t *testing.T) {
	env, svc, mailer := newService(t, withEmail)
	c := newClient(t, env, svc)
	c.do(http.MethodGet, "/api/auth/me", nil, false)

	w := c.do(http.MethodPost, "/api/join", joinRequest("alice"), true)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, true, decode(t, w)["pending"])
	require.Len(t, mailer.sent, 1)

	link := mailer.sent[0].link
	w = c.do(http.MethodPost, "/api/join/verify/"+link[len("https://forum.example/join/verify/"):], nil, false)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotNil(t, decode(t, w)["user"])

	w = c.do(http.MethodGet, "/api/auth/me", nil, false)
	assert.Equal(t, "alice", decode(t, w)["name"])
}
