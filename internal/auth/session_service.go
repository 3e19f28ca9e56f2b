package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/harshu777/balsampada-lms/internal/models"
	"github.com/harshu777/balsampada-lms/pkg/crypto"
	"github.com/harshu777/balsampada-lms/pkg/logger"
	"github.com/harshu777/balsampada-lms/pkg/metrics"

	"go.uber.org/zap"
)

// DefaultRefreshTokenTTL is the fallback refresh token lifetime.
const DefaultRefreshTokenTTL = 7 * 24 * time.Hour

// SessionConfig describes tunable behaviour for the SessionService.
type SessionConfig struct {
	RefreshTokenTTL time.Duration
	RefreshLength   int
	Clock           func() time.Time
	Cache           SessionCache
}

// SessionMetadata captures contextual information about the client device.
type SessionMetadata struct {
	IPAddress string
	UserAgent string
	Device    string
}

// TokenPair represents an access token and refresh token pair.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

var (
	// ErrSessionNotFound indicates that no session matches the provided token or identifier.
	ErrSessionNotFound = errors.New("session: not found")
	// ErrSessionRevoked marks a session that has been revoked by logout or an administrator.
	ErrSessionRevoked = errors.New("session: revoked")
	// ErrSessionExpired signals that a refresh token has reached its expiry.
	ErrSessionExpired = errors.New("session: expired")
	// ErrSessionInvalidToken is returned when the supplied refresh token is malformed
	// or matches no session.
	ErrSessionInvalidToken = errors.New("session: invalid token")
	// ErrSessionReuse flags presentation of an already-rotated refresh token.
	// All sessions of the affected user are revoked as a protective side effect.
	ErrSessionReuse = errors.New("session: rotated token reuse detected")
)

var errSessionCacheMiss = errors.New("session cache miss")

// SessionCache represents a cache backend for session rows keyed by refresh token hash.
type SessionCache interface {
	Get(ctx context.Context, tokenHash string) (*models.Session, error)
	Set(ctx context.Context, session *models.Session, ttl time.Duration) error
	Delete(ctx context.Context, tokenHash string) error
}

// SessionService manages creation, rotation, and revocation of user sessions.
// One session row exists per issued refresh token/device; only token hashes
// are stored.
type SessionService struct {
	db         *gorm.DB
	jwt        *JWTService
	refreshTTL time.Duration
	tokenLen   int
	now        func() time.Time
	cache      SessionCache
	log        *zap.Logger
}

// NewSessionService constructs a session manager backed by the provided database and JWT service.
func NewSessionService(db *gorm.DB, jwtService *JWTService, cfg SessionConfig) (*SessionService, error) {
	if db == nil {
		return nil, errors.New("session service: db is required")
	}
	if jwtService == nil {
		return nil, errors.New("session service: jwt service is required")
	}

	ttl := cfg.RefreshTokenTTL
	if ttl <= 0 {
		ttl = DefaultRefreshTokenTTL
	}

	length := cfg.RefreshLength
	if length <= 0 {
		length = 48
	}

	clock := time.Now
	if cfg.Clock != nil {
		clock = cfg.Clock
	}

	return &SessionService{
		db:         db,
		jwt:        jwtService,
		refreshTTL: ttl,
		tokenLen:   length,
		now:        clock,
		cache:      cfg.Cache,
		log:        logger.WithModule("sessions"),
	}, nil
}

// CreateSession generates a new session for the user and issues a fresh token pair.
// The raw refresh token is returned to the caller exactly once and never persisted.
func (s *SessionService) CreateSession(user *models.User, meta SessionMetadata) (TokenPair, *models.Session, error) {
	if user == nil || strings.TrimSpace(user.ID) == "" {
		return TokenPair{}, nil, errors.New("session service: user is required")
	}

	refreshToken, err := crypto.GenerateToken(s.tokenLen)
	if err != nil {
		return TokenPair{}, nil, fmt.Errorf("session service: generate refresh token: %w", err)
	}

	now := s.now()
	refreshExpiry := now.Add(s.refreshTTL)

	session := &models.Session{
		UserID:           user.ID,
		RefreshTokenHash: crypto.HashToken(refreshToken),
		IPAddress:        strings.TrimSpace(meta.IPAddress),
		UserAgent:        strings.TrimSpace(meta.UserAgent),
		DeviceName:       strings.TrimSpace(meta.Device),
		ExpiresAt:        refreshExpiry,
		LastUsedAt:       now,
	}

	if err := s.db.Create(session).Error; err != nil {
		return TokenPair{}, nil, fmt.Errorf("session service: create session: %w", err)
	}

	metrics.ActiveSessions.Inc()

	accessToken, accessExpiry, err := s.jwt.GenerateAccessToken(AccessTokenInput{
		UserID:    user.ID,
		Role:      user.Role,
		SessionID: session.ID,
	})
	if err != nil {
		return TokenPair{}, nil, fmt.Errorf("session service: generate access token: %w", err)
	}

	s.cacheSet(session)

	return TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		AccessExpiresAt:  accessExpiry,
		RefreshExpiresAt: refreshExpiry,
	}, session, nil
}

// RefreshSession rotates the presented refresh token and issues a new token pair.
//
// Rotation is a conditional single-row update keyed on the stored hash, so two
// concurrent exchanges of the same token cannot both succeed: the loser is
// treated exactly like a replayed stale token. Replay of a superseded token is
// detected through the retained previous hash and revokes every session of the
// affected user.
func (s *SessionService) RefreshSession(refreshToken string) (TokenPair, *models.Session, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		metrics.TokenRefreshes.WithLabelValues("invalid").Inc()
		return TokenPair{}, nil, ErrSessionInvalidToken
	}

	tokenHash := crypto.HashToken(refreshToken)

	session, err := s.lookup(tokenHash)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return TokenPair{}, nil, s.handleStaleToken(tokenHash)
		}
		return TokenPair{}, nil, err
	}

	now := s.now()

	if session.RevokedAt != nil {
		metrics.TokenRefreshes.WithLabelValues("revoked").Inc()
		return TokenPair{}, nil, ErrSessionRevoked
	}

	if !session.ExpiresAt.After(now) {
		metrics.TokenRefreshes.WithLabelValues("expired").Inc()
		return TokenPair{}, nil, ErrSessionExpired
	}

	newRefresh, err := crypto.GenerateToken(s.tokenLen)
	if err != nil {
		return TokenPair{}, nil, fmt.Errorf("session service: generate refresh token: %w", err)
	}
	newHash := crypto.HashToken(newRefresh)
	refreshExpiry := now.Add(s.refreshTTL)

	result := s.db.Model(&models.Session{}).
		Where("id = ? AND refresh_token_hash = ? AND revoked_at IS NULL", session.ID, tokenHash).
		Updates(map[string]any{
			"refresh_token_hash":  newHash,
			"previous_token_hash": tokenHash,
			"expires_at":          refreshExpiry,
			"last_used_at":        now,
		})
	if result.Error != nil {
		return TokenPair{}, nil, fmt.Errorf("session service: rotate session: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		// Lost a concurrent rotation race: the hash we matched on is already
		// superseded. Indistinguishable from theft, so fail closed.
		return TokenPair{}, nil, s.raiseReuseAlert(session)
	}

	var user models.User
	if err := s.db.Take(&user, "id = ?", session.UserID).Error; err != nil {
		return TokenPair{}, nil, fmt.Errorf("session service: load user: %w", err)
	}

	session.PreviousTokenHash = tokenHash
	session.RefreshTokenHash = newHash
	session.ExpiresAt = refreshExpiry
	session.LastUsedAt = now

	accessToken, accessExpiry, err := s.jwt.GenerateAccessToken(AccessTokenInput{
		UserID:    session.UserID,
		Role:      user.Role,
		SessionID: session.ID,
	})
	if err != nil {
		return TokenPair{}, nil, fmt.Errorf("session service: generate access token: %w", err)
	}

	s.cacheDelete(tokenHash)
	s.cacheSet(session)

	metrics.TokenRefreshes.WithLabelValues("success").Inc()

	return TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     newRefresh,
		AccessExpiresAt:  accessExpiry,
		RefreshExpiresAt: refreshExpiry,
	}, session, nil
}

// lookup finds a session by its current refresh token hash, via cache when available.
func (s *SessionService) lookup(tokenHash string) (*models.Session, error) {
	if s.cache != nil {
		if cached, err := s.cache.Get(context.Background(), tokenHash); err == nil && cached != nil {
			return cached, nil
		}
	}

	var session models.Session
	err := s.db.Where("refresh_token_hash = ?", tokenHash).Take(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("session service: find session: %w", err)
	}

	s.cacheSet(&session)
	return &session, nil
}

// handleStaleToken classifies a token whose hash matches no live session. A hit
// on a retained previous hash means a rotated token was replayed.
func (s *SessionService) handleStaleToken(tokenHash string) error {
	var session models.Session
	err := s.db.Where("previous_token_hash = ?", tokenHash).Take(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		metrics.TokenRefreshes.WithLabelValues("invalid").Inc()
		return ErrSessionInvalidToken
	}
	if err != nil {
		return fmt.Errorf("session service: find superseded session: %w", err)
	}

	return s.raiseReuseAlert(&session)
}

// raiseReuseAlert stamps the session and revokes the whole session family of
// the affected user.
func (s *SessionService) raiseReuseAlert(session *models.Session) error {
	now := s.now()

	s.log.Warn("refresh token reuse detected",
		zap.String("session_id", session.ID),
		zap.String("user_id", session.UserID),
	)

	if err := s.db.Model(&models.Session{}).
		Where("id = ?", session.ID).
		Update("reuse_detected_at", now).Error; err != nil {
		return fmt.Errorf("session service: mark reuse: %w", err)
	}

	if err := s.RevokeUserSessions(session.UserID); err != nil {
		return fmt.Errorf("session service: revoke session family: %w", err)
	}

	metrics.ReuseAlerts.Inc()
	metrics.TokenRefreshes.WithLabelValues("reuse").Inc()

	return ErrSessionReuse
}

// RevokeSession marks a session as revoked. Revoking an already-revoked
// session is a no-op success; only an unknown id is an error.
func (s *SessionService) RevokeSession(sessionID string) error {
	return s.revoke(sessionID, "")
}

// RevokeSessionForUser revokes a session only when owned by the given user,
// backing the per-device revocation endpoint.
func (s *SessionService) RevokeSessionForUser(sessionID, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return ErrSessionNotFound
	}
	return s.revoke(sessionID, userID)
}

func (s *SessionService) revoke(sessionID, userID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return ErrSessionNotFound
	}

	query := s.db.Where("id = ?", sessionID)
	if userID != "" {
		query = query.Where("user_id = ?", userID)
	}

	var session models.Session
	err := query.Take(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrSessionNotFound
	}
	if err != nil {
		return fmt.Errorf("session service: find session: %w", err)
	}

	if session.RevokedAt != nil {
		return nil
	}

	result := s.db.Model(&models.Session{}).
		Where("id = ? AND revoked_at IS NULL", sessionID).
		Update("revoked_at", s.now())
	if result.Error != nil {
		return fmt.Errorf("session service: revoke session: %w", result.Error)
	}

	if result.RowsAffected > 0 {
		metrics.ActiveSessions.Sub(float64(result.RowsAffected))
	}

	s.cacheDelete(session.RefreshTokenHash)

	return nil
}

// RevokeByToken revokes the session matching a raw refresh token. Unknown or
// already-revoked tokens succeed silently, which makes logout idempotent.
func (s *SessionService) RevokeByToken(refreshToken string) error {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return nil
	}

	tokenHash := crypto.HashToken(refreshToken)

	var session models.Session
	err := s.db.Where("refresh_token_hash = ?", tokenHash).Take(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("session service: find session: %w", err)
	}

	if err := s.RevokeSession(session.ID); err != nil && !errors.Is(err, ErrSessionNotFound) {
		return err
	}
	return nil
}

// RevokeUserSessions revokes every active session belonging to a user.
func (s *SessionService) RevokeUserSessions(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return ErrSessionNotFound
	}

	var hashes []string
	if s.cache != nil {
		if err := s.db.
			Model(&models.Session{}).
			Where("user_id = ? AND revoked_at IS NULL", userID).
			Pluck("refresh_token_hash", &hashes).Error; err != nil {
			hashes = nil
		}
	}

	result := s.db.Model(&models.Session{}).
		Where("user_id = ? AND revoked_at IS NULL", userID).
		Update("revoked_at", s.now())
	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected > 0 {
		metrics.ActiveSessions.Sub(float64(result.RowsAffected))
	}

	for _, hash := range hashes {
		s.cacheDelete(hash)
	}
	return nil
}

// RevokeUserSessionsExcept revokes every active session of a user apart from
// the one identified by keepSessionID. An empty keepSessionID revokes them all.
func (s *SessionService) RevokeUserSessionsExcept(userID, keepSessionID string) error {
	if strings.TrimSpace(userID) == "" {
		return ErrSessionNotFound
	}
	if strings.TrimSpace(keepSessionID) == "" {
		return s.RevokeUserSessions(userID)
	}

	var hashes []string
	if s.cache != nil {
		if err := s.db.
			Model(&models.Session{}).
			Where("user_id = ? AND id <> ? AND revoked_at IS NULL", userID, keepSessionID).
			Pluck("refresh_token_hash", &hashes).Error; err != nil {
			hashes = nil
		}
	}

	result := s.db.Model(&models.Session{}).
		Where("user_id = ? AND id <> ? AND revoked_at IS NULL", userID, keepSessionID).
		Update("revoked_at", s.now())
	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected > 0 {
		metrics.ActiveSessions.Sub(float64(result.RowsAffected))
	}

	for _, hash := range hashes {
		s.cacheDelete(hash)
	}
	return nil
}

// ListUserSessions returns all sessions of a user, newest first.
func (s *SessionService) ListUserSessions(userID string) ([]models.Session, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrSessionNotFound
	}

	var sessions []models.Session
	if err := s.db.
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("session service: list sessions: %w", err)
	}
	return sessions, nil
}

// CleanupExpired removes expired and revoked sessions, updating the active
// session gauge for rows that were still counted as live.
func (s *SessionService) CleanupExpired(ctx context.Context) (int64, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	now := s.now()

	var activeExpired int64
	if err := s.db.WithContext(ctx).
		Model(&models.Session{}).
		Where("expires_at < ? AND revoked_at IS NULL", now).
		Count(&activeExpired).Error; err != nil {
		return 0, fmt.Errorf("session service: count expired sessions: %w", err)
	}

	if s.cache != nil {
		var hashes []string
		if err := s.db.WithContext(ctx).
			Model(&models.Session{}).
			Where("expires_at < ?", now).
			Or("revoked_at IS NOT NULL").
			Pluck("refresh_token_hash", &hashes).Error; err == nil {
			for _, hash := range hashes {
				s.cacheDelete(hash)
			}
		}
	}

	result := s.db.WithContext(ctx).
		Where("expires_at < ?", now).
		Or("revoked_at IS NOT NULL").
		Delete(&models.Session{})
	if result.Error != nil {
		return 0, fmt.Errorf("session service: cleanup expired sessions: %w", result.Error)
	}

	if activeExpired > 0 {
		metrics.ActiveSessions.Sub(float64(activeExpired))
	}

	return result.RowsAffected, nil
}

func (s *SessionService) cacheSet(session *models.Session) {
	if s.cache == nil || session == nil {
		return
	}
	ttl := session.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return
	}
	_ = s.cache.Set(context.Background(), session, ttl)
}

func (s *SessionService) cacheDelete(tokenHash string) {
	if s.cache == nil || strings.TrimSpace(tokenHash) == "" {
		return
	}
	_ = s.cache.Delete(context.Background(), tokenHash)
}
