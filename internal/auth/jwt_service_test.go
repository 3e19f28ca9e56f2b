package auth

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu      sync.Mutex
	current time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
}

func TestGenerateAndValidateAccessToken(t *testing.T) {
	clock := &testClock{current: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)}

	svc, err := NewJWTService(JWTConfig{
		Secret:         "unit-test-secret",
		Issuer:         "balsampada",
		AccessTokenTTL: 15 * time.Minute,
		Clock:          clock.Now,
	})
	require.NoError(t, err)

	token, expiresAt, err := svc.GenerateAccessToken(AccessTokenInput{
		UserID:    "user-1",
		Role:      "teacher",
		SessionID: "session-1",
	})
	require.NoError(t, err)
	require.NotEmpty(t, token)
	require.True(t, expiresAt.Equal(clock.Now().Add(15*time.Minute)))

	claims, err := svc.ValidateAccessToken(token)
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.UserID)
	require.Equal(t, "teacher", claims.Role)
	require.Equal(t, "session-1", claims.SessionID)
	require.Equal(t, "balsampada", claims.Issuer)
}

func TestValidateAccessTokenExpiry(t *testing.T) {
	clock := &testClock{current: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)}

	svc, err := NewJWTService(JWTConfig{
		Secret:         "unit-test-secret",
		AccessTokenTTL: 15 * time.Minute,
		Clock:          clock.Now,
	})
	require.NoError(t, err)

	token, _, err := svc.GenerateAccessToken(AccessTokenInput{UserID: "user-1"})
	require.NoError(t, err)

	// A token presented exactly at its expiry instant is expired, not valid.
	clock.Advance(15 * time.Minute)
	_, err = svc.ValidateAccessToken(token)
	require.ErrorIs(t, err, ErrTokenExpired)

	clock.Advance(time.Hour)
	_, err = svc.ValidateAccessToken(token)
	require.ErrorIs(t, err, ErrTokenExpired)
}

func TestValidateAccessTokenRejectsTampering(t *testing.T) {
	clock := &testClock{current: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)}

	svc, err := NewJWTService(JWTConfig{Secret: "secret-a", Clock: clock.Now})
	require.NoError(t, err)

	other, err := NewJWTService(JWTConfig{Secret: "secret-b", Clock: clock.Now})
	require.NoError(t, err)

	token, _, err := other.GenerateAccessToken(AccessTokenInput{UserID: "user-1"})
	require.NoError(t, err)

	_, err = svc.ValidateAccessToken(token)
	require.ErrorIs(t, err, ErrTokenInvalid)

	_, err = svc.ValidateAccessToken("not-a-jwt")
	require.ErrorIs(t, err, ErrTokenInvalid)

	_, err = svc.ValidateAccessToken("")
	require.ErrorIs(t, err, ErrTokenInvalid)
}

func TestValidateAccessTokenIssuerMismatch(t *testing.T) {
	clock := &testClock{current: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)}

	issuing, err := NewJWTService(JWTConfig{Secret: "shared", Issuer: "other-app", Clock: clock.Now})
	require.NoError(t, err)

	validating, err := NewJWTService(JWTConfig{Secret: "shared", Issuer: "balsampada", Clock: clock.Now})
	require.NoError(t, err)

	token, _, err := issuing.GenerateAccessToken(AccessTokenInput{UserID: "user-1"})
	require.NoError(t, err)

	_, err = validating.ValidateAccessToken(token)
	require.ErrorIs(t, err, ErrTokenInvalid)
}
