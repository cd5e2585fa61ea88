package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"merch-store/internal/service"
	"merch-store/pkg"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	principalKey    = "principal"
	requestIDHeader = "X-Request-ID"

	// RequestIDKey is the gin context key holding the request id.
	RequestIDKey = "requestID"
)

type TokenParser interface {
	ParseToken(token string) (service.Principal, error)
}

// инициализация миддлвары
func JWTAuthMiddleware(parser TokenParser, log pkg.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"errors": "Authorization header missing"})
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		principal, err := parser.ParseToken(tokenString)
		if err != nil {
			log.Warn("Invalid JWT token", zap.String("requestID", c.GetString(RequestIDKey)), zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"errors": "Invalid token"})
			return
		}
		// кладём принципала в контекст запроса
		c.Set(principalKey, principal)
		c.Next()
	}
}

func PrincipalFrom(c *gin.Context) (service.Principal, bool) {
	v, ok := c.Get(principalKey)
	if !ok {
		return service.Principal{}, false
	}
	p, ok := v.(service.Principal)
	return p, ok
}

func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(RequestIDKey, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

// Timeout bounds the request context. A ledger unit interrupted by the
// deadline is rolled back by the store.
func Timeout(d time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if d <= 0 {
			c.Next()
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), d)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
