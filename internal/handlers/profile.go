package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	iauth "github.com/harshu777/balsampada-lms/internal/auth"
	"github.com/harshu777/balsampada-lms/internal/models"
	appErrors "github.com/harshu777/balsampada-lms/pkg/errors"
	"github.com/harshu777/balsampada-lms/pkg/logger"
	"github.com/harshu777/balsampada-lms/pkg/response"
)

// ProfileHandler serves the authenticated user's own account endpoints.
type ProfileHandler struct {
	db          *gorm.DB
	credentials *iauth.CredentialService
	sessions    *iauth.SessionService
}

func NewProfileHandler(db *gorm.DB, credentials *iauth.CredentialService, sessions *iauth.SessionService) *ProfileHandler {
	return &ProfileHandler{db: db, credentials: credentials, sessions: sessions}
}

// GET /api/auth/me
func (h *ProfileHandler) Me(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		response.Error(c, appErrors.ErrNoToken)
		return
	}

	var user models.User
	if err := h.db.Take(&user, "id = ?", userID).Error; err != nil {
		response.Error(c, appErrors.ErrNotFound)
		return
	}

	response.Success(c, http.StatusOK, user)
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=8"`
}

// PUT /api/auth/password
//
// A successful change revokes every other session so stolen refresh tokens
// die with the old password. The current session stays alive.
func (h *ProfileHandler) ChangePassword(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		response.Error(c, appErrors.ErrNoToken)
		return
	}

	var req changePasswordRequest
	if !bindAndValidate(c, &req) {
		return
	}

	if err := h.credentials.ChangePassword(userID, req.CurrentPassword, req.NewPassword); err != nil {
		switch {
		case errors.Is(err, iauth.ErrInvalidCredentials):
			response.Error(c, appErrors.ErrInvalidCredentials)
		case errors.Is(err, iauth.ErrWeakPassword):
			response.Error(c, appErrors.NewBadRequest("password does not meet the minimum requirements"))
		default:
			response.Error(c, appErrors.ErrInternalServer.WithInternal(err))
		}
		return
	}

	current, _ := currentSessionID(c)
	if err := h.sessions.RevokeUserSessionsExcept(userID, current); err != nil {
		logger.WithModule("handlers").Warn("post-password-change revocation failed",
			zap.String("user_id", userID), zap.Error(err))
	}

	response.Success(c, http.StatusOK, gin.H{"changed": true})
}
