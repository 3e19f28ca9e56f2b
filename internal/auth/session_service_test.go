package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	testutil "github.com/harshu777/balsampada-lms/internal/database/testutil"
	"github.com/harshu777/balsampada-lms/internal/models"
	"github.com/harshu777/balsampada-lms/pkg/crypto"
)

func TestCreateSessionStoresOnlyHash(t *testing.T) {
	db, svc, clock := setupSessionService(t)
	user := createTestUser(t, db, "create@lms.test")

	pair, session, err := svc.CreateSession(user, SessionMetadata{
		IPAddress: "10.0.0.1 ",
		UserAgent: "unit-test",
		Device:    "laptop",
	})
	require.NoError(t, err)

	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)
	require.True(t, pair.RefreshExpiresAt.After(clock.Now()))
	require.NotNil(t, session)
	require.Equal(t, user.ID, session.UserID)
	require.Equal(t, "10.0.0.1", session.IPAddress)
	require.Equal(t, "laptop", session.DeviceName)

	var reloaded models.Session
	require.NoError(t, db.Take(&reloaded, "id = ?", session.ID).Error)
	require.NotEqual(t, pair.RefreshToken, reloaded.RefreshTokenHash)
	require.Equal(t, crypto.HashToken(pair.RefreshToken), reloaded.RefreshTokenHash)
	require.True(t, reloaded.ExpiresAt.After(clock.Now()))
	require.True(t, reloaded.LastUsedAt.Equal(clock.Now()))
}

func TestRefreshSessionRotatesToken(t *testing.T) {
	db, svc, clock := setupSessionService(t)
	user := createTestUser(t, db, "rotate@lms.test")

	pair, session, err := svc.CreateSession(user, SessionMetadata{})
	require.NoError(t, err)

	clock.Advance(5 * time.Minute)

	rotated, updated, err := svc.RefreshSession(pair.RefreshToken)
	require.NoError(t, err)
	require.NotEqual(t, pair.RefreshToken, rotated.RefreshToken)
	require.NotEqual(t, pair.AccessToken, rotated.AccessToken)
	require.Equal(t, session.ID, updated.ID)
	require.True(t, updated.LastUsedAt.Equal(clock.Now()))

	var stored models.Session
	require.NoError(t, db.Take(&stored, "id = ?", session.ID).Error)
	require.Equal(t, crypto.HashToken(rotated.RefreshToken), stored.RefreshTokenHash)
	require.Equal(t, crypto.HashToken(pair.RefreshToken), stored.PreviousTokenHash)
}

func TestRefreshSessionReuseRevokesFamily(t *testing.T) {
	db, svc, clock := setupSessionService(t)
	user := createTestUser(t, db, "reuse@lms.test")

	pair, session, err := svc.CreateSession(user, SessionMetadata{})
	require.NoError(t, err)

	// Second device for the same user.
	otherPair, otherSession, err := svc.CreateSession(user, SessionMetadata{Device: "phone"})
	require.NoError(t, err)

	clock.Advance(time.Minute)

	_, _, err = svc.RefreshSession(pair.RefreshToken)
	require.NoError(t, err)

	// Replaying the superseded token is theft as far as the server can tell.
	_, _, err = svc.RefreshSession(pair.RefreshToken)
	require.ErrorIs(t, err, ErrSessionReuse)

	var stored models.Session
	require.NoError(t, db.Take(&stored, "id = ?", session.ID).Error)
	require.NotNil(t, stored.RevokedAt)
	require.NotNil(t, stored.ReuseDetectedAt)

	// The whole family goes down with it.
	var sibling models.Session
	require.NoError(t, db.Take(&sibling, "id = ?", otherSession.ID).Error)
	require.NotNil(t, sibling.RevokedAt)

	_, _, err = svc.RefreshSession(otherPair.RefreshToken)
	require.ErrorIs(t, err, ErrSessionRevoked)
}

func TestRefreshSessionConcurrentExchangesHaveOneWinner(t *testing.T) {
	db, svc, _ := setupSessionService(t)
	user := createTestUser(t, db, "race@lms.test")

	pair, _, err := svc.CreateSession(user, SessionMetadata{})
	require.NoError(t, err)

	const exchanges = 8
	errs := make([]error, exchanges)

	var wg sync.WaitGroup
	wg.Add(exchanges)
	for i := 0; i < exchanges; i++ {
		go func(i int) {
			defer wg.Done()
			_, _, errs[i] = svc.RefreshSession(pair.RefreshToken)
		}(i)
	}
	wg.Wait()

	winners := 0
	reuse := 0
	for _, err := range errs {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, ErrSessionReuse):
			reuse++
		case errors.Is(err, ErrSessionRevoked):
			// A late loser can observe the family revocation a faster
			// loser already triggered.
		default:
			t.Fatalf("unexpected refresh error: %v", err)
		}
	}

	require.Equal(t, 1, winners)
	require.GreaterOrEqual(t, reuse, 1)
}

func TestRefreshSessionUnknownTokenFailsClosed(t *testing.T) {
	_, svc, _ := setupSessionService(t)

	_, _, err := svc.RefreshSession("completely-unknown-token")
	require.ErrorIs(t, err, ErrSessionInvalidToken)

	_, _, err = svc.RefreshSession("  ")
	require.ErrorIs(t, err, ErrSessionInvalidToken)
}

func TestRefreshSessionExpiredAtBoundary(t *testing.T) {
	db, svc, clock := setupSessionService(t)
	user := createTestUser(t, db, "expired@lms.test")

	pair, session, err := svc.CreateSession(user, SessionMetadata{})
	require.NoError(t, err)

	// Advance the clock to the exact expiry instant: already expired.
	var stored models.Session
	require.NoError(t, db.Take(&stored, "id = ?", session.ID).Error)
	clock.Advance(stored.ExpiresAt.Sub(clock.Now()))

	_, _, err = svc.RefreshSession(pair.RefreshToken)
	require.ErrorIs(t, err, ErrSessionExpired)
}

func TestRevokeSessionIsIdempotent(t *testing.T) {
	db, svc, _ := setupSessionService(t)
	user := createTestUser(t, db, "revoke@lms.test")

	pair, session, err := svc.CreateSession(user, SessionMetadata{})
	require.NoError(t, err)

	require.NoError(t, svc.RevokeSession(session.ID))
	require.NoError(t, svc.RevokeSession(session.ID))

	require.ErrorIs(t, svc.RevokeSession("non-existent"), ErrSessionNotFound)

	_, _, err = svc.RefreshSession(pair.RefreshToken)
	require.ErrorIs(t, err, ErrSessionRevoked)
}

func TestRevokeByTokenNeverErrorsForUnknown(t *testing.T) {
	db, svc, _ := setupSessionService(t)
	user := createTestUser(t, db, "logout@lms.test")

	pair, session, err := svc.CreateSession(user, SessionMetadata{})
	require.NoError(t, err)

	require.NoError(t, svc.RevokeByToken(pair.RefreshToken))
	require.NoError(t, svc.RevokeByToken(pair.RefreshToken))
	require.NoError(t, svc.RevokeByToken("unknown-token"))
	require.NoError(t, svc.RevokeByToken(""))

	var stored models.Session
	require.NoError(t, db.Take(&stored, "id = ?", session.ID).Error)
	require.NotNil(t, stored.RevokedAt)
}

func TestRevokeSessionForUserChecksOwnership(t *testing.T) {
	db, svc, _ := setupSessionService(t)
	owner := createTestUser(t, db, "owner@lms.test")
	intruder := createTestUser(t, db, "intruder@lms.test")

	_, session, err := svc.CreateSession(owner, SessionMetadata{})
	require.NoError(t, err)

	require.ErrorIs(t, svc.RevokeSessionForUser(session.ID, intruder.ID), ErrSessionNotFound)
	require.NoError(t, svc.RevokeSessionForUser(session.ID, owner.ID))
	require.NoError(t, svc.RevokeSessionForUser(session.ID, owner.ID))
}

func TestRevokeUserSessionsLeavesOthersAlone(t *testing.T) {
	db, svc, _ := setupSessionService(t)
	alice := createTestUser(t, db, "alice@lms.test")
	bob := createTestUser(t, db, "bob@lms.test")

	_, _, err := svc.CreateSession(alice, SessionMetadata{Device: "laptop"})
	require.NoError(t, err)
	_, _, err = svc.CreateSession(alice, SessionMetadata{Device: "phone"})
	require.NoError(t, err)
	bobPair, _, err := svc.CreateSession(bob, SessionMetadata{})
	require.NoError(t, err)

	require.NoError(t, svc.RevokeUserSessions(alice.ID))

	var revoked int64
	require.NoError(t, db.Model(&models.Session{}).
		Where("user_id = ? AND revoked_at IS NOT NULL", alice.ID).
		Count(&revoked).Error)
	require.EqualValues(t, 2, revoked)

	_, _, err = svc.RefreshSession(bobPair.RefreshToken)
	require.NoError(t, err)
}

func TestListUserSessionsNewestFirst(t *testing.T) {
	db, svc, clock := setupSessionService(t)
	user := createTestUser(t, db, "list@lms.test")

	_, first, err := svc.CreateSession(user, SessionMetadata{Device: "laptop"})
	require.NoError(t, err)
	clock.Advance(time.Minute)
	_, second, err := svc.CreateSession(user, SessionMetadata{Device: "phone"})
	require.NoError(t, err)

	sessions, err := svc.ListUserSessions(user.ID)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	require.Equal(t, second.ID, sessions[0].ID)
	require.Equal(t, first.ID, sessions[1].ID)
}

func TestCleanupExpiredRemovesDeadRows(t *testing.T) {
	db, svc, clock := setupSessionService(t)
	user := createTestUser(t, db, "cleanup@lms.test")

	_, expired, err := svc.CreateSession(user, SessionMetadata{})
	require.NoError(t, err)
	_, live, err := svc.CreateSession(user, SessionMetadata{})
	require.NoError(t, err)

	require.NoError(t, db.Model(&models.Session{}).
		Where("id = ?", expired.ID).
		Update("expires_at", clock.Now().Add(-time.Minute)).Error)

	removed, err := svc.CleanupExpired(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 1, removed)

	var remaining []models.Session
	require.NoError(t, db.Find(&remaining).Error)
	require.Len(t, remaining, 1)
	require.Equal(t, live.ID, remaining[0].ID)
}

func setupSessionService(t *testing.T) (*gorm.DB, *SessionService, *testClock) {
	t.Helper()

	db := testutil.MustOpenTestDB(t)

	clock := &testClock{current: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}

	jwtService, err := NewJWTService(JWTConfig{
		Secret:         "session-secret",
		AccessTokenTTL: time.Hour,
		Clock:          clock.Now,
	})
	require.NoError(t, err)

	sessionService, err := NewSessionService(db, jwtService, SessionConfig{
		RefreshTokenTTL: 2 * time.Hour,
		RefreshLength:   24,
		Clock:           clock.Now,
	})
	require.NoError(t, err)

	return db, sessionService, clock
}

func createTestUser(t *testing.T, db *gorm.DB, email string) *models.User {
	t.Helper()

	hashed, err := crypto.HashPassword("Good@123")
	require.NoError(t, err)

	user := &models.User{
		Email:    email,
		Password: hashed,
		Name:     "Test User",
		Role:     models.RoleStudent,
		IsActive: true,
	}
	require.NoError(t, db.Create(user).Error)
	return user
}
