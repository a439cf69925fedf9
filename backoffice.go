// Package backoffice wires the request pipeline and the domain modules of
// the bakery back-office API client from a single configuration.
package backoffice

import (
	"context"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/bakehouse/backoffice/common"
	"github.com/bakehouse/backoffice/modules/api"
	"github.com/bakehouse/backoffice/modules/audit"
	"github.com/bakehouse/backoffice/modules/auth"
	"github.com/bakehouse/backoffice/modules/customer"
)

// Backoffice bundles the services that share one session.
type Backoffice struct {
	Auth      auth.AuthService
	Customers customer.CustomerService
	Audit     audit.AuditService
	Client    api.Client
	Logs      *common.LogSink
	Logger    *zap.Logger

	closers []func() error
}

type settings struct {
	httpClient *http.Client
	store      common.CredentialStore
	notifier   common.Notifier
	navigator  common.Navigator
	registerer prometheus.Registerer
}

type Option func(*settings)

// WithHTTPClient sets the base *http.Client, e.g. one pointing at a test server.
func WithHTTPClient(c *http.Client) Option {
	return func(s *settings) { s.httpClient = c }
}

// WithCredentialStore overrides the store selected by auth.store.
func WithCredentialStore(store common.CredentialStore) Option {
	return func(s *settings) { s.store = store }
}

func WithNotifier(n common.Notifier) Option {
	return func(s *settings) { s.notifier = n }
}

func WithNavigator(n common.Navigator) Option {
	return func(s *settings) { s.navigator = n }
}

// WithRegisterer registers pipeline metrics with reg when metrics are enabled.
// Defaults to prometheus.DefaultRegisterer.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(s *settings) { s.registerer = reg }
}

// New builds the pipeline: one credential store, one refresh coordinator and
// one response cache shared by every module.
func New(ctx context.Context, cfg *common.Config, opts ...Option) (*Backoffice, error) {
	s := settings{registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(&s)
	}

	b := &Backoffice{}
	b.Logs = common.NewLogSink(cfg.Log.BufferSize, s.notifier)
	b.Logger = common.NewLogger(cfg.Log, b.Logs)
	b.closers = append(b.closers, func() error {
		_ = b.Logger.Sync()
		return nil
	})

	var metrics *common.Metrics
	if cfg.Metrics.Enabled {
		m, err := common.NewMetrics(s.registerer, cfg.Metrics.Namespace)
		if err != nil {
			return nil, err
		}
		metrics = m
	}

	store := s.store
	if store == nil {
		switch cfg.Auth.Store {
		case "redis":
			rs, err := common.NewRedisCredentialStore(ctx, common.RedisOptions{
				Addr:      cfg.Auth.RedisAddr,
				Password:  cfg.Auth.RedisPassword,
				DB:        cfg.Auth.RedisDB,
				KeyPrefix: cfg.Auth.KeyPrefix,
			})
			if err != nil {
				return nil, err
			}
			b.closers = append(b.closers, rs.Close)
			store = rs
		default:
			store = common.NewMemoryCredentialStore()
		}
	}

	httpClient := common.NewHttpClient(common.HTTPOptions{
		UserAgent: cfg.API.UserAgent,
		Timeout:   cfg.API.Timeout,
		RateLimit: cfg.API.RateLimit,
		RateBurst: cfg.API.RateBurst,
		Metrics:   metrics,
	}, s.httpClient)

	paths := auth.PathsFromConfig(cfg.Auth)
	refresher := auth.NewRefresher(cfg.API.BaseURL, paths.Refresh, httpClient, cfg.API.Locale)

	navigator := s.navigator
	if navigator == nil {
		logger := b.Logger
		navigator = common.NavigatorFunc(func(context.Context) {
			logger.Warn("session ended, login required")
		})
	}
	coordinator := common.NewRefreshCoordinator(store, refresher, common.CoordinatorOptions{
		Navigator: navigator,
		Logger:    b.Logger,
		Metrics:   metrics,
	})

	cache := common.NewMemoryCache(cfg.Cache.Capacity, cfg.Cache.DefaultTTL, common.WithCacheMetrics(metrics))

	b.Client = api.NewClient(api.Options{
		BaseURL:     cfg.API.BaseURL,
		HttpClient:  httpClient,
		Cache:       cache,
		Coordinator: coordinator,
		Retry:       cfg.Retry.Policy(),
		Logger:      b.Logger,
		Locale:      cfg.API.Locale,
		DefaultTTL:  cfg.Cache.DefaultTTL,
	})
	b.Auth = auth.NewAuthService(auth.Options{
		Client:    b.Client,
		Store:     store,
		Refresher: refresher,
		Paths:     paths,
		Logger:    b.Logger,
	})
	b.Customers = customer.NewCustomerService(b.Client)
	b.Audit = audit.NewAuditService(b.Client)
	return b, nil
}

// Close releases the credential store connection and flushes the logger.
func (b *Backoffice) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
