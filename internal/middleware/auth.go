package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"pixbin/internal/service"
)

const identityKey = "identity"

type SessionResolver interface {
	ResolveSession(ctx context.Context, token string, ip string, userAgent string) (*service.Identity, error)
}

// Identity resolves the session cookie, when present, and stores the
// caller on the context. It never rejects a request: handlers decide
// whether an anonymous caller is acceptable.
func Identity(resolver SessionResolver, cookieName string, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := c.Cookie(cookieName)
		if err != nil || token == "" {
			c.Next()
			return
		}

		identity, err := resolver.ResolveSession(c.Request.Context(), token, c.ClientIP(), c.GetHeader("User-Agent"))
		if err != nil {
			log.Error().
				Err(err).
				Str("request_id", RequestIDFrom(c)).
				Msg("resolve session failed")
		}
		if identity != nil {
			c.Set(identityKey, identity)
		}

		c.Next()
	}
}

// CurrentIdentity returns the caller resolved by Identity, or nil.
func CurrentIdentity(c *gin.Context) *service.Identity {
	value, ok := c.Get(identityKey)
	if !ok {
		return nil
	}
	identity, _ := value.(*service.Identity)
	return identity
}
