package client

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func (c *Coordinator) waiterCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

func waitForWaiters(t *testing.T, c *Coordinator, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for c.waiterCount() < n {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d queued callers, have %d", n, c.waiterCount())
		}
		time.Sleep(time.Millisecond)
	}
}

func TestCoordinatorSingleFlight(t *testing.T) {
	const concurrent = 16

	var calls atomic.Int32
	release := make(chan struct{})

	coord := NewCoordinator(RefresherFunc(func(ctx context.Context, refreshToken string) (Tokens, error) {
		calls.Add(1)
		<-release
		return Tokens{AccessToken: "fresh-access", RefreshToken: "fresh-refresh"}, nil
	}))
	coord.SetTokens(Tokens{AccessToken: "stale", RefreshToken: "old-refresh"})

	results := make(chan string, concurrent)
	errs := make(chan error, concurrent)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		token, err := coord.Refresh(context.Background())
		results <- token
		errs <- err
	}()

	// Wait for the leader to take the in-flight slot, then pile on waiters.
	deadline := time.Now().Add(5 * time.Second)
	for calls.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("leader never started refreshing")
		}
		time.Sleep(time.Millisecond)
	}

	for i := 1; i < concurrent; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			token, err := coord.Refresh(context.Background())
			results <- token
			errs <- err
		}()
	}
	waitForWaiters(t, coord, concurrent-1)

	close(release)
	wg.Wait()

	require.Equal(t, int32(1), calls.Load(), "expected exactly one network refresh")
	for i := 0; i < concurrent; i++ {
		require.NoError(t, <-errs)
		require.Equal(t, "fresh-access", <-results)
	}
	require.Equal(t, "fresh-refresh", coord.Tokens().RefreshToken)
}

func TestCoordinatorTerminalFailureRejectsWholeBatch(t *testing.T) {
	const concurrent = 8

	var expiredSignals atomic.Int32
	release := make(chan struct{})
	terminal := &APIError{StatusCode: 401, Code: "SECURITY_ALERT", Message: "token reuse"}

	coord := NewCoordinator(
		RefresherFunc(func(ctx context.Context, refreshToken string) (Tokens, error) {
			<-release
			return Tokens{}, terminal
		}),
		WithSessionExpiredHandler(func(err error) {
			expiredSignals.Add(1)
		}),
	)
	coord.SetTokens(Tokens{AccessToken: "stale", RefreshToken: "doomed"})

	errs := make(chan error, concurrent)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := coord.Refresh(context.Background())
		errs <- err
	}()

	waitForRefreshing(t, coord)

	for i := 1; i < concurrent; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := coord.Refresh(context.Background())
			errs <- err
		}()
	}
	waitForWaiters(t, coord, concurrent-1)

	close(release)
	wg.Wait()

	for i := 0; i < concurrent; i++ {
		err := <-errs
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		require.Equal(t, "SECURITY_ALERT", apiErr.Code)
	}

	require.Equal(t, int32(1), expiredSignals.Load(), "expected a single session-expired signal")
	require.Empty(t, coord.Tokens().AccessToken)
	require.Empty(t, coord.Tokens().RefreshToken)
}

func waitForRefreshing(t *testing.T, c *Coordinator) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		c.mu.Lock()
		refreshing := c.refreshing
		c.mu.Unlock()
		if refreshing {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("coordinator never entered refreshing state")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestCoordinatorTransientFailureKeepsTokens(t *testing.T) {
	netErr := errors.New("dial tcp: connection refused")

	coord := NewCoordinator(RefresherFunc(func(ctx context.Context, refreshToken string) (Tokens, error) {
		return Tokens{}, netErr
	}))
	coord.SetTokens(Tokens{AccessToken: "stale", RefreshToken: "still-good"})

	_, err := coord.Refresh(context.Background())
	require.ErrorIs(t, err, netErr)

	// A transient failure leaves the refresh token for a later retry.
	require.Equal(t, "still-good", coord.Tokens().RefreshToken)
}

func TestCoordinatorRefreshWithoutTokens(t *testing.T) {
	coord := NewCoordinator(RefresherFunc(func(ctx context.Context, refreshToken string) (Tokens, error) {
		t.Fatal("refresher must not be called without a refresh token")
		return Tokens{}, nil
	}))

	_, err := coord.Refresh(context.Background())
	require.ErrorIs(t, err, ErrSessionExpired)
}

func TestCoordinatorSequentialRefreshes(t *testing.T) {
	var calls atomic.Int32

	coord := NewCoordinator(RefresherFunc(func(ctx context.Context, refreshToken string) (Tokens, error) {
		n := calls.Add(1)
		return Tokens{
			AccessToken:  "access-" + string(rune('0'+n)),
			RefreshToken: "refresh-" + string(rune('0'+n)),
		}, nil
	}))
	coord.SetTokens(Tokens{RefreshToken: "refresh-0"})

	first, err := coord.Refresh(context.Background())
	require.NoError(t, err)
	require.Equal(t, "access-1", first)

	// The next burst uses the rotated refresh token.
	second, err := coord.Refresh(context.Background())
	require.NoError(t, err)
	require.Equal(t, "access-2", second)
	require.Equal(t, int32(2), calls.Load())
}
