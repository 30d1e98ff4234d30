package middleware

import (
	"net/http"
	"strings"

	"geochat/internal/models"
	"geochat/internal/utils"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	authorizationHeaderKey  = "Authorization"
	authorizationTypeBearer = "bearer"
	deviceHeaderKey         = "X-Device-ID"

	// Context keys set for downstream handlers.
	ContextUserID     = "userID"
	ContextSenderKind = "senderKind"
	ContextSenderRef  = "senderRef"
)

// AuthMiddleware returns a Gin middleware that validates bearer tokens.
// Routes behind it are reachable by registered users only.
func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := bearerUserID(c)
		if !ok {
			return
		}
		c.Set(ContextUserID, userID)
		c.Set(ContextSenderKind, models.SenderKindUser)
		c.Set(ContextSenderRef, userID)
		c.Next()
	}
}

// SenderMiddleware accepts either a bearer token (registered user) or an
// X-Device-ID header (anonymous device) and records the sender kind and
// reference in the request context. Message and membership routes use this:
// anonymous participation is the product's default mode.
func SenderMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if authHeader := c.GetHeader(authorizationHeaderKey); authHeader != "" {
			userID, ok := bearerUserID(c)
			if !ok {
				return
			}
			c.Set(ContextUserID, userID)
			c.Set(ContextSenderKind, models.SenderKindUser)
			c.Set(ContextSenderRef, userID)
			c.Next()
			return
		}

		deviceID := c.GetHeader(deviceHeaderKey)
		if deviceID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization bearer token or X-Device-ID header is required"})
			return
		}
		if _, err := uuid.Parse(deviceID); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "X-Device-ID must be a UUID"})
			return
		}
		c.Set(ContextSenderKind, models.SenderKindAnonymous)
		c.Set(ContextSenderRef, deviceID)
		c.Next()
	}
}

// bearerUserID validates the Authorization header and returns the user id.
// On failure it aborts the request and returns ok=false.
func bearerUserID(c *gin.Context) (string, bool) {
	authHeader := c.GetHeader(authorizationHeaderKey)
	if len(authHeader) == 0 {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header is not provided"})
		return "", false
	}

	fields := strings.Fields(authHeader)
	if len(fields) < 2 {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid authorization header format"})
		return "", false
	}

	if strings.ToLower(fields[0]) != authorizationTypeBearer {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unsupported authorization type, 'Bearer' required"})
		return "", false
	}

	claims, err := utils.ValidateJWT(fields[1])
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token", "details": err.Error()})
		return "", false
	}
	return claims.UserID, true
}
