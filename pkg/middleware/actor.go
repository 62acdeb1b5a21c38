package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
)

// HeaderActorID carries the caller identity resolved by the upstream gateway.
const HeaderActorID = "X-User-ID"

type actorKey struct{}

// Actor copies the caller identity header into the request context.
func Actor() gin.HandlerFunc {
	return func(c *gin.Context) {
		if id := strings.TrimSpace(c.GetHeader(HeaderActorID)); id != "" {
			ctx := context.WithValue(c.Request.Context(), actorKey{}, id)
			c.Request = c.Request.WithContext(ctx)
		}
		c.Next()
	}
}

// ActorID returns the caller identity, empty when the request is anonymous.
func ActorID(ctx context.Context) string {
	id, _ := ctx.Value(actorKey{}).(string)
	return id
}

func WithActorID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, actorKey{}, id)
}
