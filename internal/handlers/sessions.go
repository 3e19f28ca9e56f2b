package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	iauth "github.com/harshu777/balsampada-lms/internal/auth"
	appErrors "github.com/harshu777/balsampada-lms/pkg/errors"
	"github.com/harshu777/balsampada-lms/pkg/response"
)

// SessionHandler exposes session inspection and revocation endpoints.
type SessionHandler struct {
	sessions *iauth.SessionService
}

func NewSessionHandler(sessions *iauth.SessionService) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

// GET /api/auth/sessions
func (h *SessionHandler) List(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		response.Error(c, appErrors.ErrNoToken)
		return
	}

	sessions, err := h.sessions.ListUserSessions(userID)
	if err != nil {
		response.Error(c, appErrors.ErrInternalServer.WithInternal(err))
		return
	}

	current, _ := currentSessionID(c)

	items := make([]gin.H, 0, len(sessions))
	for _, s := range sessions {
		items = append(items, gin.H{
			"id":           s.ID,
			"ip_address":   s.IPAddress,
			"user_agent":   s.UserAgent,
			"device_name":  s.DeviceName,
			"created_at":   s.CreatedAt,
			"last_used_at": s.LastUsedAt,
			"expires_at":   s.ExpiresAt,
			"revoked_at":   s.RevokedAt,
			"current":      s.ID == current,
		})
	}

	response.Success(c, http.StatusOK, gin.H{"sessions": items})
}

// DELETE /api/auth/sessions/:id
//
// Users may only revoke their own sessions. A session belonging to another
// user is indistinguishable from one that does not exist.
func (h *SessionHandler) Revoke(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		response.Error(c, appErrors.ErrNoToken)
		return
	}

	sessionID := c.Param("id")
	if sessionID == "" {
		response.Error(c, appErrors.NewBadRequest("session id is required"))
		return
	}

	if err := h.sessions.RevokeSessionForUser(sessionID, userID); err != nil {
		if errors.Is(err, iauth.ErrSessionNotFound) {
			response.Error(c, appErrors.ErrNotFound)
			return
		}
		response.Error(c, appErrors.ErrInternalServer.WithInternal(err))
		return
	}

	response.Success(c, http.StatusOK, gin.H{"revoked": true})
}

// POST /api/auth/logout-all
func (h *SessionHandler) RevokeAll(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		response.Error(c, appErrors.ErrNoToken)
		return
	}

	if err := h.sessions.RevokeUserSessions(userID); err != nil {
		response.Error(c, appErrors.ErrInternalServer.WithInternal(err))
		return
	}

	response.Success(c, http.StatusOK, gin.H{"revoked": true})
}

// DELETE /api/admin/users/:id/sessions
//
// Admin force-logout of every session a user holds.
func (h *SessionHandler) RevokeForUser(c *gin.Context) {
	targetID := c.Param("id")
	if targetID == "" {
		response.Error(c, appErrors.NewBadRequest("user id is required"))
		return
	}

	if err := h.sessions.RevokeUserSessions(targetID); err != nil {
		response.Error(c, appErrors.ErrInternalServer.WithInternal(err))
		return
	}

	response.Success(c, http.StatusOK, gin.H{"revoked": true})
}
