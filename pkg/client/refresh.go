package client

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrSessionExpired indicates the refresh token was rejected and the user has
// to authenticate again. It is surfaced once per failed refresh, not once per
// queued caller.
var ErrSessionExpired = errors.New("client: session expired")

// Tokens carries the credential pair held by the client.
type Tokens struct {
	AccessToken     string
	RefreshToken    string
	AccessExpiresAt time.Time
}

// Refresher performs the network exchange of a refresh token for new tokens.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (Tokens, error)
}

// RefresherFunc adapts a function to the Refresher interface.
type RefresherFunc func(ctx context.Context, refreshToken string) (Tokens, error)

func (f RefresherFunc) Refresh(ctx context.Context, refreshToken string) (Tokens, error) {
	return f(ctx, refreshToken)
}

type refreshResult struct {
	accessToken string
	err         error
}

// Coordinator serializes refresh attempts: when several in-flight requests
// discover an expired access token at the same time, exactly one network
// refresh happens and every other caller waits for its outcome.
//
// On refresh failure the whole batch fails, locally held tokens are cleared,
// and the optional expiry callback fires once.
type Coordinator struct {
	refresher Refresher

	mu         sync.Mutex
	tokens     Tokens
	refreshing bool
	waiters    []chan refreshResult

	onSessionExpired func(error)
}

// CoordinatorOption customises a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithSessionExpiredHandler registers a callback invoked exactly once per
// terminal refresh failure, after queued waiters have been rejected.
func WithSessionExpiredHandler(fn func(error)) CoordinatorOption {
	return func(c *Coordinator) {
		c.onSessionExpired = fn
	}
}

// NewCoordinator builds a Coordinator around the given refresher.
func NewCoordinator(refresher Refresher, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{refresher: refresher}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetTokens replaces the held token pair, typically after login.
func (c *Coordinator) SetTokens(tokens Tokens) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens = tokens
}

// Tokens returns the currently held token pair.
func (c *Coordinator) Tokens() Tokens {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tokens
}

// AccessToken returns the current access token, which may be empty.
func (c *Coordinator) AccessToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tokens.AccessToken
}

// Clear drops all held tokens, typically after logout.
func (c *Coordinator) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens = Tokens{}
}

// Refresh obtains a fresh access token. The first caller in a burst performs
// the network call; every concurrent caller suspends until that call resolves
// and then shares its result. Queued callers are served in FIFO order.
func (c *Coordinator) Refresh(ctx context.Context) (string, error) {
	c.mu.Lock()

	if c.refreshing {
		ch := make(chan refreshResult, 1)
		c.waiters = append(c.waiters, ch)
		c.mu.Unlock()

		select {
		case res := <-ch:
			return res.accessToken, res.err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	refreshToken := c.tokens.RefreshToken
	if refreshToken == "" {
		c.mu.Unlock()
		return "", ErrSessionExpired
	}

	c.refreshing = true
	c.mu.Unlock()

	tokens, err := c.refresher.Refresh(ctx, refreshToken)

	c.mu.Lock()
	c.refreshing = false
	waiters := c.waiters
	c.waiters = nil

	if err != nil {
		terminal := isTerminalRefreshError(err)
		if terminal {
			c.tokens = Tokens{}
		}
		c.mu.Unlock()

		for _, ch := range waiters {
			ch <- refreshResult{err: err}
		}
		if terminal && c.onSessionExpired != nil {
			c.onSessionExpired(err)
		}
		return "", err
	}

	c.tokens = tokens
	c.mu.Unlock()

	for _, ch := range waiters {
		ch <- refreshResult{accessToken: tokens.AccessToken}
	}
	return tokens.AccessToken, nil
}

// isTerminalRefreshError reports whether a refresh failure means the session
// is gone for good, as opposed to a transient network problem worth retrying.
func isTerminalRefreshError(err error) bool {
	if errors.Is(err, ErrSessionExpired) {
		return true
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 401
	}
	return false
}
