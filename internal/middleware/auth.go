package middleware

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"

	iauth "github.com/harshu777/balsampada-lms/internal/auth"
	appErrors "github.com/harshu777/balsampada-lms/pkg/errors"
	"github.com/harshu777/balsampada-lms/pkg/response"
)

const (
	CtxClaimsKey    = "authClaims"
	CtxUserIDKey    = "userID"
	CtxRoleKey      = "userRole"
	CtxSessionIDKey = "sessionID"
)

// Auth enforces bearer-token authentication using the supplied JWT service.
//
// The check is purely stateless: no session store lookup happens here, so a
// revoked session keeps its unexpired access tokens working until they age
// out. Expired tokens get a distinct code so clients refresh instead of
// forcing a re-login.
func Auth(jwt *iauth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authz := c.GetHeader("Authorization")
		if strings.TrimSpace(authz) == "" {
			response.Error(c, appErrors.ErrNoToken)
			c.Abort()
			return
		}
		if len(authz) < 8 || !strings.EqualFold(authz[:7], "Bearer ") {
			response.Error(c, appErrors.ErrInvalidToken)
			c.Abort()
			return
		}

		token := strings.TrimSpace(authz[7:])
		claims, err := jwt.ValidateAccessToken(token)
		if err != nil {
			c.Header("WWW-Authenticate", "Bearer")
			if errors.Is(err, iauth.ErrTokenExpired) {
				response.Error(c, appErrors.ErrTokenExpired)
			} else {
				response.Error(c, appErrors.ErrInvalidToken)
			}
			c.Abort()
			return
		}

		// Propagate identity into request context
		c.Set(CtxClaimsKey, claims)
		c.Set(CtxUserIDKey, claims.UserID)
		c.Set(CtxRoleKey, claims.Role)
		if claims.SessionID != "" {
			c.Set(CtxSessionIDKey, claims.SessionID)
		}

		c.Next()
	}
}
