package middleware

import "github.com/gin-gonic/gin"

// contextKey is a private type for context keys set by this package.
// Using a custom type prevents collisions.
type contextKey string

const (
	loggerKey = contextKey("logger")
	// nodeIDKey is the key used to store the authenticated member's node ID.
	nodeIDKey = contextKey("nodeID")
	// roleKey is the key used to store the authenticated caller's role.
	roleKey = contextKey("role")
)

// GetNodeIDFromContext retrieves the authenticated node ID from the Gin
// context. It returns the ID and a boolean indicating if it was found.
func GetNodeIDFromContext(c *gin.Context) (string, bool) {
	val, exists := c.Get(string(nodeIDKey))
	if !exists {
		// check the request context as well
		reqVal := c.Request.Context().Value(nodeIDKey)
		if reqVal != nil {
			return reqVal.(string), true
		}
		return "", false
	}

	nodeID, ok := val.(string)
	if !ok {
		return "", false
	}
	return nodeID, true
}

// GetRoleFromContext retrieves the authenticated caller's role.
func GetRoleFromContext(c *gin.Context) (string, bool) {
	val, exists := c.Get(string(roleKey))
	if !exists {
		return "", false
	}
	role, ok := val.(string)
	return role, ok
}
