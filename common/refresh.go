package common

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// Attempt sends one request, decorated with the current credential, and
// reports the access token it carried ("" when none was attached).
type Attempt func(ctx context.Context) (*http.Response, string, error)

type refreshResult struct {
	token *oauth2.Token
	err   error
}

type refreshWaiter struct {
	seq uint64
	ch  chan refreshResult
}

// RefreshCoordinator attaches credentials to outgoing requests and resolves
// 401 and 5xx responses. One coordinator is shared by every client of a
// session: at most one refresh runs at a time and requests that hit a 401
// meanwhile wait for it instead of starting their own.
type RefreshCoordinator struct {
	store     CredentialStore
	auth      AuthClient
	navigator Navigator
	logger    *zap.Logger
	metrics   *Metrics

	mu       sync.Mutex
	inFlight bool
	waiters  []refreshWaiter
	nextSeq  uint64
	// onNotify, when set, observes each waiter as it is notified.
	onNotify func(seq uint64)
}

// CoordinatorOptions holds the optional collaborators of a RefreshCoordinator.
type CoordinatorOptions struct {
	Navigator Navigator
	Logger    *zap.Logger
	Metrics   *Metrics
}

func NewRefreshCoordinator(store CredentialStore, auth AuthClient, opts CoordinatorOptions) *RefreshCoordinator {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RefreshCoordinator{
		store:     store,
		auth:      auth,
		navigator: opts.Navigator,
		logger:    logger.Named("refresh"),
		metrics:   opts.Metrics,
	}
}

// DecorateRequest sets the Authorization header when an access credential is
// stored and returns the token it used.
func (c *RefreshCoordinator) DecorateRequest(ctx context.Context, req *http.Request) (string, error) {
	token, err := c.store.Load(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to load credentials: %w", err)
	}
	if token == nil || token.AccessToken == "" {
		return "", nil
	}
	token.SetAuthHeader(req)
	return token.AccessToken, nil
}

// Execute performs attempt and passes its response through DecorateResponse.
func (c *RefreshCoordinator) Execute(ctx context.Context, attempt Attempt, policy RetryPolicy) (*http.Response, error) {
	resp, used, err := attempt(ctx)
	if err != nil {
		return nil, err
	}
	return c.DecorateResponse(ctx, resp, used, attempt, policy)
}

// DecorateResponse resolves recoverable failures of resp, re-sending the
// request through attempt as needed:
//   - 401: refresh the credentials once (shared with concurrent callers) and
//     re-send. A second 401 for the same call is returned as is.
//   - 5xx: wait policy.Delay and re-send while the retry budget lasts.
//
// Any other response is returned unchanged. The retry budget covers the whole
// call and is not reset by a refresh.
func (c *RefreshCoordinator) DecorateResponse(ctx context.Context, resp *http.Response, usedToken string, attempt Attempt, policy RetryPolicy) (*http.Response, error) {
	var (
		attemptsUsed int
		refreshed    bool
		err          error
	)
	for {
		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return resp, nil

		case resp.StatusCode == http.StatusUnauthorized && !refreshed:
			_, err = c.credentialFor(ctx, usedToken)
			if errors.Is(err, ErrNoRefreshToken) {
				return resp, nil
			}
			discard(resp)
			if err != nil {
				return nil, err
			}
			refreshed = true

		case policy.Retryable(resp.StatusCode, attemptsUsed):
			delay := policy.Delay(attemptsUsed)
			discard(resp)
			c.logger.Debug("retrying after server error",
				zap.Int("status", resp.StatusCode),
				zap.Int("attempt", attemptsUsed+1),
				zap.Duration("delay", delay))
			if err = policy.wait(ctx, delay); err != nil {
				return nil, err
			}
			attemptsUsed++
			c.metrics.retry()

		default:
			return resp, nil
		}

		resp, usedToken, err = attempt(ctx)
		if err != nil {
			return nil, err
		}
	}
}

// credentialFor returns a credential newer than usedToken, refreshing if
// nobody has done so yet.
func (c *RefreshCoordinator) credentialFor(ctx context.Context, usedToken string) (*oauth2.Token, error) {
	c.mu.Lock()
	if c.inFlight {
		ch := make(chan refreshResult, 1)
		c.nextSeq++
		c.waiters = append(c.waiters, refreshWaiter{seq: c.nextSeq, ch: ch})
		c.mu.Unlock()

		select {
		case res := <-ch:
			return res.token, res.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	current, err := c.store.Load(ctx)
	if err != nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("failed to load credentials: %w", err)
	}
	// rotated since this request was sent
	if current != nil && current.AccessToken != "" && current.AccessToken != usedToken {
		c.mu.Unlock()
		return current, nil
	}
	if current == nil || current.RefreshToken == "" {
		c.mu.Unlock()
		return nil, ErrNoRefreshToken
	}
	c.inFlight = true
	c.mu.Unlock()

	token, err := c.refresh(context.WithoutCancel(ctx), current.RefreshToken)

	c.mu.Lock()
	// registration order
	for _, w := range c.waiters {
		if c.onNotify != nil {
			c.onNotify(w.seq)
		}
		w.ch <- refreshResult{token: token, err: err}
	}
	c.waiters = nil
	c.inFlight = false
	c.mu.Unlock()

	return token, err
}

func (c *RefreshCoordinator) refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	var (
		token *oauth2.Token
		err   = errors.New("no auth client configured")
	)
	if c.auth != nil {
		token, err = c.auth.RefreshToken(ctx, refreshToken)
	}
	if err == nil && (token == nil || token.AccessToken == "") {
		err = errors.New("refresh returned no access token")
	}
	if err == nil {
		if token.RefreshToken == "" {
			token.RefreshToken = refreshToken
		}
		err = c.store.Save(ctx, token)
	}
	if err != nil {
		c.metrics.refresh(false)
		c.logger.Warn("credential refresh failed, ending session", zap.Error(err))
		if clearErr := c.store.Clear(ctx); clearErr != nil {
			c.logger.Error("failed to clear credentials", zap.Error(clearErr))
		}
		if c.navigator != nil {
			c.navigator.NavigateToLogin(ctx)
		}
		return nil, fmt.Errorf("%w: %w", ErrSessionExpired, err)
	}

	c.metrics.refresh(true)
	c.logger.Debug("credentials refreshed")
	return token, nil
}

// Refreshing reports whether a refresh is in flight.
func (c *RefreshCoordinator) Refreshing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight
}

// Store exposes the credential storage shared with the auth module.
func (c *RefreshCoordinator) Store() CredentialStore {
	return c.store
}

func discard(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}
