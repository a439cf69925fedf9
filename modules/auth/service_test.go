package auth_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/bakehouse/backoffice/common"
	"github.com/bakehouse/backoffice/common/model"
	"github.com/bakehouse/backoffice/modules/api"
	"github.com/bakehouse/backoffice/modules/auth"
)

var operator = model.User{
	ID:       uuid.MustParse("6f1c2a4e-8a1d-4f7e-9d55-0b1a9e3c7d21"),
	Username: "amelie",
	Name:     "Amélie Martin",
	Email:    "amelie@bakery.example",
	Roles:    []string{"admin"},
}

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return s
}

// fakeBackend implements the auth endpoints and one protected endpoint.
type fakeBackend struct {
	t      *testing.T
	mu     sync.Mutex
	access string
	calls  map[string]int
	// refreshFails makes /auth/refresh answer 401
	refreshFails bool
	logoutFails  bool
}

func (b *fakeBackend) count(path string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[path]
}

func (b *fakeBackend) set(fn func(b *fakeBackend)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fn(b)
}

func (b *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	b.calls[r.URL.Path]++
	b.mu.Unlock()

	reply := func(status int, v interface{}) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(v)
	}
	authorized := func() bool {
		b.mu.Lock()
		defer b.mu.Unlock()
		return b.access != "" && r.Header.Get("Authorization") == "Bearer "+b.access
	}

	switch r.URL.Path {
	case "/api/auth/login":
		var req model.LoginRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Username != operator.Username || req.Password != "croissant" {
			reply(http.StatusUnauthorized, model.ErrorPayload{Message: "Invalid username or password"})
			return
		}
		token := signedToken(b.t, jwt.MapClaims{"sub": operator.ID.String(), "username": operator.Username, "exp": time.Now().Add(time.Hour).Unix()})
		b.mu.Lock()
		b.access = token
		b.mu.Unlock()
		reply(http.StatusOK, model.LoginResponse{TokenPair: model.TokenPair{Token: token, RefreshToken: "refresh-1"}, User: operator})
	case "/api/auth/refresh":
		var req model.RefreshRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		b.mu.Lock()
		fails := b.refreshFails
		b.mu.Unlock()
		if fails || req.RefreshToken == "" {
			reply(http.StatusUnauthorized, model.ErrorPayload{Message: "Refresh token expired"})
			return
		}
		token := signedToken(b.t, jwt.MapClaims{"sub": operator.ID.String(), "jti": uuid.NewString()})
		b.mu.Lock()
		b.access = token
		b.mu.Unlock()
		reply(http.StatusOK, model.TokenPair{Token: token, RefreshToken: "refresh-2"})
	case "/api/auth/logout":
		b.mu.Lock()
		fails := b.logoutFails
		b.mu.Unlock()
		if fails {
			reply(http.StatusInternalServerError, model.ErrorPayload{Message: "boom"})
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case "/api/auth/me":
		if !authorized() {
			reply(http.StatusUnauthorized, model.ErrorPayload{Message: "Unauthorized"})
			return
		}
		reply(http.StatusOK, operator)
	default:
		http.NotFound(w, r)
	}
}

type fixture struct {
	backend   *fakeBackend
	store     *common.MemoryCredentialStore
	client    api.Client
	service   auth.AuthService
	navigated int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		backend: &fakeBackend{t: t, calls: map[string]int{}},
		store:   common.NewMemoryCredentialStore(),
	}
	ts := httptest.NewServer(f.backend)
	t.Cleanup(ts.Close)

	baseURL := ts.URL + "/api"
	httpClient := common.NewHttpClient(common.HTTPOptions{}, ts.Client())
	refresher := auth.NewRefresher(baseURL, "", httpClient, "en")
	coordinator := common.NewRefreshCoordinator(f.store, refresher, common.CoordinatorOptions{
		Navigator: common.NavigatorFunc(func(context.Context) { f.navigated++ }),
	})
	retry := common.DefaultRetryPolicy()
	retry.MaxRetries = 0
	f.client = api.NewClient(api.Options{
		BaseURL:     baseURL,
		HttpClient:  httpClient,
		Coordinator: coordinator,
		Retry:       retry,
	})
	f.service = auth.NewAuthService(auth.Options{
		Client:    f.client,
		Store:     f.store,
		Refresher: refresher,
	})
	return f
}

func TestLogin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	user, err := f.service.Login(ctx, "amelie", "croissant")
	require.NoError(t, err)
	assert.Equal(t, operator, *user)

	tok, err := f.store.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, tok)
	assert.NotEmpty(t, tok.AccessToken)
	assert.Equal(t, "refresh-1", tok.RefreshToken)

	me, err := f.service.Me(ctx)
	require.NoError(t, err)
	assert.Equal(t, "amelie", me.Username)
}

func TestLogin_InvalidCredentials(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.Save(ctx, &oauth2.Token{AccessToken: "stale", RefreshToken: "stale-refresh"}))

	_, err := f.service.Login(ctx, "amelie", "baguette")
	var reqErr *common.RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, http.StatusUnauthorized, reqErr.StatusCode)
	assert.Equal(t, "Invalid username or password", reqErr.Message)

	// the previous session is dropped before signing in, so no refresh is attempted
	assert.Zero(t, f.backend.count("/api/auth/refresh"))
	tok, _ := f.store.Load(ctx)
	assert.Nil(t, tok)
}

func TestMe_RefreshesExpiredAccessToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.service.Login(ctx, "amelie", "croissant")
	require.NoError(t, err)

	// the server rotates its key; the stored access token is now rejected
	f.backend.set(func(b *fakeBackend) { b.access = "rotated" })

	me, err := f.service.Me(ctx)
	require.NoError(t, err)
	assert.Equal(t, "amelie", me.Username)
	assert.Equal(t, 1, f.backend.count("/api/auth/refresh"))

	tok, _ := f.store.Load(ctx)
	assert.Equal(t, "refresh-2", tok.RefreshToken)
}

func TestMe_RefreshFailureEndsSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.service.Login(ctx, "amelie", "croissant")
	require.NoError(t, err)

	f.backend.set(func(b *fakeBackend) {
		b.access = "rotated"
		b.refreshFails = true
	})

	_, err = f.service.Me(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrSessionExpired)
	assert.Equal(t, 1, f.navigated)

	_, err = f.service.Session(ctx)
	assert.ErrorIs(t, err, auth.ErrNotAuthenticated)
}

func TestLogout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.service.Login(ctx, "amelie", "croissant")
	require.NoError(t, err)

	require.NoError(t, f.service.Logout(ctx))
	assert.Equal(t, 1, f.backend.count("/api/auth/logout"))
	tok, _ := f.store.Load(ctx)
	assert.Nil(t, tok)
}

func TestLogout_ServerFailureStillClearsSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.service.Login(ctx, "amelie", "croissant")
	require.NoError(t, err)
	f.backend.set(func(b *fakeBackend) { b.logoutFails = true })

	require.NoError(t, f.service.Logout(ctx))
	tok, _ := f.store.Load(ctx)
	assert.Nil(t, tok)
}

func TestSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.service.Session(ctx)
	assert.ErrorIs(t, err, auth.ErrNotAuthenticated)

	_, err = f.service.Login(ctx, "amelie", "croissant")
	require.NoError(t, err)

	session, err := f.service.Session(ctx)
	require.NoError(t, err)
	assert.Equal(t, operator.ID.String(), session.Subject)
	assert.Equal(t, "amelie", session.Username)
	assert.WithinDuration(t, time.Now().Add(time.Hour), session.ExpiresAt, time.Minute)
	assert.False(t, session.Expired(time.Now()))
}

func TestSession_OpaqueToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.Save(ctx, &oauth2.Token{AccessToken: "not-a-jwt"}))

	_, err := f.service.Session(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to decode access token")
}

func TestRefresher(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tok, err := f.service.RefreshToken(ctx, "refresh-1")
	require.NoError(t, err)
	assert.NotEmpty(t, tok.AccessToken)
	assert.Equal(t, "refresh-2", tok.RefreshToken)

	f.backend.set(func(b *fakeBackend) { b.refreshFails = true })
	_, err = f.service.RefreshToken(ctx, "refresh-2")
	var reqErr *common.RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, http.StatusUnauthorized, reqErr.StatusCode)
	assert.Equal(t, "Refresh token expired", reqErr.Message)
	assert.Equal(t, "/auth/refresh", reqErr.Endpoint)
}

func TestPaths(t *testing.T) {
	assert.Equal(t, "/auth/login", auth.DefaultPaths().Login)

	cfg, err := common.LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, auth.DefaultPaths(), auth.PathsFromConfig(cfg.Auth))
}
