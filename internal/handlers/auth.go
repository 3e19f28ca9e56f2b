package handlers

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	iauth "github.com/harshu777/balsampada-lms/internal/auth"
	appErrors "github.com/harshu777/balsampada-lms/pkg/errors"
	"github.com/harshu777/balsampada-lms/pkg/logger"
	"github.com/harshu777/balsampada-lms/pkg/metrics"
	"github.com/harshu777/balsampada-lms/pkg/response"
)

const oauthStateCookie = "oauth_state"

// AuthHandler manages authentication flows (register/login/refresh/logout).
type AuthHandler struct {
	db          *gorm.DB
	credentials *iauth.CredentialService
	sessions    *iauth.SessionService
	google      *iauth.GoogleService
}

func NewAuthHandler(db *gorm.DB, credentials *iauth.CredentialService, sessions *iauth.SessionService, google *iauth.GoogleService) *AuthHandler {
	return &AuthHandler{db: db, credentials: credentials, sessions: sessions, google: google}
}

type registerRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
	Name     string `json:"name" validate:"required,max=120"`
	Role     string `json:"role" validate:"omitempty,lms_role"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
	Device   string `json:"device"`
}

type tokenResponse struct {
	AccessToken     string    `json:"access_token"`
	RefreshToken    string    `json:"refresh_token"`
	TokenType       string    `json:"token_type"`
	AccessExpiresAt time.Time `json:"access_expires_at"`
}

func newTokenResponse(pair iauth.TokenPair) tokenResponse {
	return tokenResponse{
		AccessToken:     pair.AccessToken,
		RefreshToken:    pair.RefreshToken,
		TokenType:       "Bearer",
		AccessExpiresAt: pair.AccessExpiresAt,
	}
}

// POST /api/auth/register
func (h *AuthHandler) Register(c *gin.Context) {
	var req registerRequest
	if !bindAndValidate(c, &req) {
		return
	}

	user, err := h.credentials.Register(iauth.RegisterInput{
		Email:    req.Email,
		Password: req.Password,
		Name:     strings.TrimSpace(req.Name),
		Role:     req.Role,
	})
	if err != nil {
		response.Error(c, credentialError(err))
		return
	}

	response.Success(c, http.StatusCreated, user)
}

// POST /api/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if !bindAndValidate(c, &req) {
		return
	}

	user, err := h.credentials.Verify(req.Email, req.Password)
	if err != nil {
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		response.Error(c, credentialError(err))
		return
	}

	pair, _, err := h.sessions.CreateSession(user, iauth.SessionMetadata{
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
		Device:    req.Device,
	})
	if err != nil {
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		response.Error(c, appErrors.ErrInternalServer)
		return
	}

	metrics.AuthAttempts.WithLabelValues("success").Inc()

	response.Success(c, http.StatusOK, gin.H{
		"tokens": newTokenResponse(pair),
		"user":   user,
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// POST /api/auth/refresh
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req refreshRequest
	if !bindAndValidate(c, &req) {
		return
	}
	req.RefreshToken = strings.TrimSpace(req.RefreshToken)
	if req.RefreshToken == "" {
		response.Error(c, appErrors.NewBadRequest("refresh_token is required"))
		return
	}

	pair, _, err := h.sessions.RefreshSession(req.RefreshToken)
	if err != nil {
		response.Error(c, refreshError(err))
		return
	}

	response.Success(c, http.StatusOK, newTokenResponse(pair))
}

type logoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// POST /api/auth/logout
//
// Logout is idempotent: unknown or already-revoked tokens still produce 200
// so clients can always clear local state.
func (h *AuthHandler) Logout(c *gin.Context) {
	var req logoutRequest
	_ = c.ShouldBindJSON(&req)

	if token := strings.TrimSpace(req.RefreshToken); token != "" {
		if err := h.sessions.RevokeByToken(token); err != nil {
			logger.WithModule("handlers").Warn("logout revocation failed", zap.Error(err))
		}
	} else if sid, ok := currentSessionID(c); ok {
		if err := h.sessions.RevokeSession(sid); err != nil && !errors.Is(err, iauth.ErrSessionNotFound) {
			logger.WithModule("handlers").Warn("logout revocation failed", zap.Error(err))
		}
	}

	response.Success(c, http.StatusOK, gin.H{"revoked": true})
}

// GET /api/auth/google
func (h *AuthHandler) GoogleLogin(c *gin.Context) {
	if h.google == nil {
		response.Error(c, appErrors.New("OAUTH_DISABLED", "Google sign-in is not configured", http.StatusServiceUnavailable))
		return
	}

	state, err := randomState()
	if err != nil {
		response.Error(c, appErrors.ErrInternalServer)
		return
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(oauthStateCookie, state, 600, "/", "", c.Request.TLS != nil, true)
	c.Redirect(http.StatusFound, h.google.AuthCodeURL(state))
}

// GET /api/auth/google/callback
func (h *AuthHandler) GoogleCallback(c *gin.Context) {
	if h.google == nil {
		response.Error(c, appErrors.New("OAUTH_DISABLED", "Google sign-in is not configured", http.StatusServiceUnavailable))
		return
	}

	expected, err := c.Cookie(oauthStateCookie)
	if err != nil || expected == "" || c.Query("state") != expected {
		response.Error(c, appErrors.NewBadRequest("oauth state mismatch"))
		return
	}
	c.SetCookie(oauthStateCookie, "", -1, "/", "", c.Request.TLS != nil, true)

	code := c.Query("code")
	if code == "" {
		response.Error(c, appErrors.NewBadRequest("missing authorization code"))
		return
	}

	identity, err := h.google.Exchange(requestContext(c), code)
	if err != nil {
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		response.Error(c, appErrors.ErrInvalidCredentials.WithInternal(err))
		return
	}

	user, err := h.credentials.FindOrCreateOAuthUser(identity.Email, identity.Name)
	if err != nil {
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		response.Error(c, credentialError(err))
		return
	}

	pair, _, err := h.sessions.CreateSession(user, iauth.SessionMetadata{
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	})
	if err != nil {
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		response.Error(c, appErrors.ErrInternalServer)
		return
	}

	metrics.AuthAttempts.WithLabelValues("success").Inc()

	response.Success(c, http.StatusOK, gin.H{
		"tokens": newTokenResponse(pair),
		"user":   user,
	})
}

// credentialError maps credential service failures onto API error codes.
// Unknown-email and wrong-password intentionally share one response body.
func credentialError(err error) error {
	switch {
	case errors.Is(err, iauth.ErrInvalidCredentials):
		return appErrors.ErrInvalidCredentials
	case errors.Is(err, iauth.ErrAccountLocked):
		return appErrors.ErrAccountLocked
	case errors.Is(err, iauth.ErrEmailTaken):
		return appErrors.ErrConflict
	case errors.Is(err, iauth.ErrWeakPassword):
		return appErrors.NewBadRequest("password does not meet the minimum requirements")
	default:
		return appErrors.ErrInternalServer.WithInternal(err)
	}
}

// refreshError maps session rotation failures onto API error codes, keeping
// the distinct refresh outcomes (invalid/expired/revoked/reuse) observable.
func refreshError(err error) error {
	switch {
	case errors.Is(err, iauth.ErrSessionReuse):
		return appErrors.ErrSecurityAlert
	case errors.Is(err, iauth.ErrSessionRevoked):
		return appErrors.ErrSessionRevoked
	case errors.Is(err, iauth.ErrSessionExpired):
		return appErrors.ErrTokenExpired
	case errors.Is(err, iauth.ErrSessionInvalidToken), errors.Is(err, iauth.ErrSessionNotFound):
		return appErrors.ErrInvalidToken
	default:
		return appErrors.ErrInternalServer.WithInternal(err)
	}
}

func randomState() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

