package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/bakehouse/backoffice/common"
	"github.com/bakehouse/backoffice/common/model"
	"github.com/bakehouse/backoffice/modules/api"
)

// ErrNotAuthenticated is returned when no credentials are stored.
var ErrNotAuthenticated = errors.New("not authenticated")

// AuthService manages the operator session.
type AuthService interface {
	common.AuthClient
	Login(ctx context.Context, username, password string) (*model.User, error)
	Logout(ctx context.Context) error
	Me(ctx context.Context) (*model.User, error)
	Session(ctx context.Context) (*model.Session, error)
}

// Paths are the auth endpoints relative to the API base URL.
type Paths struct {
	Login   string
	Logout  string
	Refresh string
	Me      string
}

func DefaultPaths() Paths {
	return Paths{
		Login:   "/auth/login",
		Logout:  "/auth/logout",
		Refresh: "/auth/refresh",
		Me:      "/auth/me",
	}
}

// PathsFromConfig reads the endpoints from the auth configuration.
func PathsFromConfig(cfg common.AuthConfig) Paths {
	return Paths{
		Login:   cfg.LoginPath,
		Logout:  cfg.LogoutPath,
		Refresh: cfg.RefreshPath,
		Me:      cfg.MePath,
	}
}

// Refresher exchanges a refresh credential for a new pair. It talks to the
// transport directly: a refresh must never pass through the coordinator
// that is waiting on it.
type Refresher struct {
	baseURL    string
	path       string
	httpClient common.HttpClient
	locale     string
}

var _ common.AuthClient = (*Refresher)(nil)

func NewRefresher(baseURL, path string, httpClient common.HttpClient, locale string) *Refresher {
	if path == "" {
		path = DefaultPaths().Refresh
	}
	return &Refresher{
		baseURL:    strings.TrimRight(baseURL, "/"),
		path:       path,
		httpClient: httpClient,
		locale:     locale,
	}
}

// RefreshToken calls POST <refresh path> with {"refreshToken"} and expects
// {"token","refreshToken"} back.
func (r *Refresher) RefreshToken(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	body, err := json.Marshal(model.RefreshRequest{RefreshToken: refreshToken})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+r.path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("refresh request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read refresh response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := common.GenericErrorMessage(r.locale)
		var payload model.ErrorPayload
		if json.Unmarshal(data, &payload) == nil && payload.Message != "" {
			msg = payload.Message
		}
		return nil, &common.RequestError{
			Method:     http.MethodPost,
			Endpoint:   r.path,
			StatusCode: resp.StatusCode,
			Message:    msg,
			Body:       data,
		}
	}

	var pair model.TokenPair
	if err := json.Unmarshal(data, &pair); err != nil {
		return nil, fmt.Errorf("failed to decode refresh response: %w", err)
	}
	if pair.Token == "" {
		return nil, errors.New("refresh response carried no token")
	}
	return pair.OAuth2(), nil
}

// Options configures NewAuthService.
type Options struct {
	Client    api.Client
	Store     common.CredentialStore
	Refresher *Refresher
	Paths     Paths
	Logger    *zap.Logger
}

type authService struct {
	client    api.Client
	store     common.CredentialStore
	refresher *Refresher
	paths     Paths
	logger    *zap.Logger
}

func NewAuthService(opts Options) AuthService {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	paths := opts.Paths
	if paths == (Paths{}) {
		paths = DefaultPaths()
	}
	return &authService{
		client:    opts.Client,
		store:     opts.Store,
		refresher: opts.Refresher,
		paths:     paths,
		logger:    logger.Named("auth"),
	}
}

func (s *authService) RefreshToken(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	if s.refresher == nil {
		return nil, errors.New("no refresher configured")
	}
	return s.refresher.RefreshToken(ctx, refreshToken)
}

// Login signs in and stores the issued credential pair. Any previous session
// is discarded first, so a rejected login is reported as is instead of
// triggering a refresh of stale credentials.
func (s *authService) Login(ctx context.Context, username, password string) (*model.User, error) {
	if err := s.store.Clear(ctx); err != nil {
		return nil, err
	}
	s.client.ClearCache()

	var resp model.LoginResponse
	err := s.client.PostJSON(ctx, s.paths.Login, model.LoginRequest{Username: username, Password: password}, &resp, nil)
	if err != nil {
		return nil, err
	}
	if resp.Token == "" {
		return nil, errors.New("login response carried no token")
	}
	if err := s.store.Save(ctx, resp.TokenPair.OAuth2()); err != nil {
		return nil, err
	}
	s.logger.Info("logged in", zap.String("username", resp.User.Username))
	return &resp.User, nil
}

// Logout tells the server to revoke the session, then always clears local
// credentials and cached responses.
func (s *authService) Logout(ctx context.Context) error {
	if err := s.client.PostJSON(ctx, s.paths.Logout, nil, nil, nil); err != nil {
		s.logger.Warn("server logout failed, clearing local session anyway", zap.Error(err))
	}
	s.client.ClearCache()
	return s.store.Clear(ctx)
}

func (s *authService) Me(ctx context.Context) (*model.User, error) {
	var user model.User
	if err := s.client.GetJSON(ctx, s.paths.Me, &user, nil); err != nil {
		return nil, err
	}
	return &user, nil
}

// Session decodes the stored access token's claims without verifying its
// signature; the server remains the authority on validity.
func (s *authService) Session(ctx context.Context) (*model.Session, error) {
	token, err := s.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	if token == nil || token.AccessToken == "" {
		return nil, ErrNotAuthenticated
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token.AccessToken, claims); err != nil {
		return nil, fmt.Errorf("failed to decode access token: %w", err)
	}

	session := &model.Session{}
	if sub, err := claims.GetSubject(); err == nil {
		session.Subject = sub
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		session.ExpiresAt = exp.Time
	}
	if username, ok := claims["username"].(string); ok {
		session.Username = username
	}
	return session, nil
}
