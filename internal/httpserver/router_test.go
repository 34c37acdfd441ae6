package httpserver

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"jobinbox/contracts/ws"
	"jobinbox/internal/credential"
	"jobinbox/internal/handler"
	"jobinbox/internal/hub"
	"jobinbox/internal/repository"
	"jobinbox/internal/service"
	"jobinbox/pkg/rbac"
	"jobinbox/pkg/trace"
	"jobinbox/pkg/util"
)

const secret = "router-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRouter(t *testing.T, ready map[string]Pinger) *gin.Engine {
	t.Helper()
	log := zap.NewNop()
	authz := rbac.NewAuthorizer([]string{"admin@example.com"})
	h := hub.New(func(ws.AuthRequest) (string, error) { return "", hub.ErrUnauthenticated }, hub.Config{}, log)
	store := repository.NewMemoryCategorizationRepository()
	emails := service.NewEmailService(nil, nil, store, log)
	auth := service.NewAuthService(nil, nil, nil, nil, nil, emails, authz, service.AuthConfig{JWTSecret: secret}, log)

	r := NewRouter(Handlers{
		Auth:  handler.NewAuthHandler(auth, "http://localhost:5173", false, log),
		Email: handler.NewEmailHandler(emails, credential.NewMemoryStore(), log),
		Push:  handler.NewPushHandler(service.NewIngressService(nil, nil, log), log),
		Admin: handler.NewAdminHandler(h, log),
		Hub:   h,
	}, Options{JWTSecret: secret, Authz: authz, Ready: ready}, log)
	return r.Engine
}

func get(t *testing.T, r http.Handler, path, email string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if email != "" {
		token, err := util.GenerateJWT(email, rbac.RoleUser, secret, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRouter_Health(t *testing.T) {
	r := newTestRouter(t, nil)

	w := get(t, r, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(trace.HeaderName))

	assert.Equal(t, http.StatusOK, get(t, r, "/readyz", "").Code)
	assert.Equal(t, http.StatusOK, get(t, r, "/metrics", "").Code)
}

func TestRouter_ReadyzReportsFailingBackend(t *testing.T) {
	r := newTestRouter(t, map[string]Pinger{
		"db": PingFunc(func(context.Context) error { return errors.New("connection refused") }),
	})

	w := get(t, r, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "db_not_ready")
}

func TestRouter_TraceHeaderIsReused(t *testing.T) {
	r := newTestRouter(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(trace.HeaderName, "abc123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, "abc123", w.Header().Get(trace.HeaderName))
}

func TestRouter_Auth(t *testing.T) {
	r := newTestRouter(t, nil)

	assert.Equal(t, http.StatusUnauthorized, get(t, r, "/api/emails", "").Code)
	assert.Equal(t, http.StatusOK, get(t, r, "/api/emails/categories", "").Code)

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = get(t, r, "/auth/me", "user@example.com")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"email":"user@example.com"`)

	// authenticated but no mailbox credential
	assert.Equal(t, http.StatusUnauthorized, get(t, r, "/api/emails", "user@example.com").Code)
}

func TestRouter_AdminRequiresPermission(t *testing.T) {
	r := newTestRouter(t, nil)

	assert.Equal(t, http.StatusForbidden, get(t, r, "/admin/connections", "user@example.com").Code)

	// the role comes from configuration, not from the token
	w := get(t, r, "/admin/connections", "admin@example.com")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRouter_GoogleLoginSetsState(t *testing.T) {
	log := zap.NewNop()
	authz := rbac.NewAuthorizer(nil)
	store := repository.NewMemoryCategorizationRepository()
	emails := service.NewEmailService(nil, nil, store, log)
	auth := service.NewAuthService(&stubExchanger{}, nil, nil, nil, nil, emails, authz, service.AuthConfig{JWTSecret: secret}, log)
	ah := handler.NewAuthHandler(auth, "http://app", false, log)

	r := gin.New()
	r.GET("/auth/google", ah.GoogleLogin)
	r.GET("/auth/google/callback", ah.Callback)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/auth/google", nil))
	require.Equal(t, http.StatusFound, w.Code)
	assert.Contains(t, w.Header().Get("Location"), "access_type=offline")
	require.Len(t, w.Result().Cookies(), 1)

	// callback without the state cookie is rejected
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/auth/google/callback?code=x&state=y", nil))
	require.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "http://app?error=invalid_state", w.Header().Get("Location"))
}

type stubExchanger struct{}

func (stubExchanger) AuthCodeURL(state string, opts ...oauth2.AuthCodeOption) string {
	return (&oauth2.Config{Endpoint: oauth2.Endpoint{AuthURL: "https://accounts.example.com/o/auth"}}).AuthCodeURL(state, opts...)
}

func (stubExchanger) Exchange(context.Context, string, ...oauth2.AuthCodeOption) (*oauth2.Token, error) {
	return nil, errors.New("not used")
}
