package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const contextKeyActor = "authActor"

// Resolution is the two-variant outcome of resolving a request's actor:
// either Authorized with the actor, or Denied with the response already
// written. Callers branch on Authorized instead of inspecting types.
type Resolution struct {
	Authorized bool
	Actor      Actor
}

// ResolveRequest authenticates a request. On denial it writes the 401
// response and returns Authorized=false; the handler must return
// immediately.
func ResolveRequest(c *gin.Context, m *Manager) Resolution {
	rawKey := c.GetHeader("Authorization")
	if rawKey == "" {
		rawKey = c.GetHeader("X-API-Key")
	}

	actor, err := m.Resolve(c.Request.Context(), rawKey)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error":   "unauthorized",
			"message": "API key required. Include 'Authorization: Bearer wsk_...' header.",
		})
		return Resolution{}
	}
	return Resolution{Authorized: true, Actor: actor}
}

// RequireActor is middleware that resolves the actor and stores it in
// the gin context, rejecting unauthenticated requests.
func RequireActor(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		res := ResolveRequest(c, m)
		if !res.Authorized {
			return
		}
		c.Set(contextKeyActor, res.Actor)
		c.Next()
	}
}

// RequireRole is middleware that additionally restricts to a set of roles.
// Admin passes every role check.
func RequireRole(roles ...Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := ActorFrom(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "API key required.",
			})
			return
		}
		if actor.Role == RoleAdmin {
			c.Next()
			return
		}
		for _, r := range roles {
			if actor.Role == r {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"error":   "forbidden",
			"message": "Insufficient role for this operation.",
		})
	}
}

// ActorFrom returns the resolved actor stored by RequireActor.
func ActorFrom(c *gin.Context) (Actor, bool) {
	v, exists := c.Get(contextKeyActor)
	if !exists {
		return Actor{}, false
	}
	actor, ok := v.(Actor)
	return actor, ok
}
