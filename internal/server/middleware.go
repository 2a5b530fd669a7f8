package server

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/atelierhq/atelier/internal/orgcontext"
)

// Identity headers. Authentication itself is owned by the gateway in front
// of this service; the middleware only places the already-verified ids into
// the request context.
const (
	headerUserID = "X-User-ID"
	headerOrgID  = "X-Org-ID"
)

// IdentityMiddleware copies the caller's identity headers into the request
// context. Requests without a user id are rejected before any handler runs.
func IdentityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		userRaw := strings.TrimSpace(c.GetHeader(headerUserID))
		if userRaw == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		userID, err := snowflake.ParseString(userRaw)
		if err != nil {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		ctx := orgcontext.WithUserID(c.Request.Context(), userID)
		if orgRaw := strings.TrimSpace(c.GetHeader(headerOrgID)); orgRaw != "" {
			orgID, err := snowflake.ParseString(orgRaw)
			if err != nil {
				AbortWithError(c, ErrUnauthorized)
				return
			}
			ctx = orgcontext.WithOrgID(ctx, orgID)
		}
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

func requestLogger(log *zap.Logger) gin.HandlerFunc {
	log = log.Named("http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		log.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	}
}
