package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/harshu777/balsampada-lms/internal/middleware"
)

// requestContext safely returns the request context with a background fallback for tests.
func requestContext(c *gin.Context) context.Context {
	if c == nil {
		return context.Background()
	}
	if req := c.Request; req != nil {
		return req.Context()
	}
	return context.Background()
}

// currentUserID returns the authenticated user's ID set by the auth middleware.
func currentUserID(c *gin.Context) (string, bool) {
	v, ok := c.Get(middleware.CtxUserIDKey)
	if !ok {
		return "", false
	}
	id, _ := v.(string)
	return id, id != ""
}

// currentSessionID returns the session ID embedded in the access token, if any.
func currentSessionID(c *gin.Context) (string, bool) {
	v, ok := c.Get(middleware.CtxSessionIDKey)
	if !ok {
		return "", false
	}
	id, _ := v.(string)
	return id, id != ""
}
