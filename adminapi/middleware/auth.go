package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

type errorEnvelope struct {
	Success bool       `json:"success"`
	Error   errorBody  `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Auth returns API-key authentication middleware supporting both
// X-API-Key and Authorization: Bearer headers. If apiKeys is empty the
// middleware is a no-op.
func Auth(apiKeys []string) gin.HandlerFunc {
	if len(apiKeys) == 0 {
		return func(c *gin.Context) { c.Next() }
	}

	keySet := make(map[string]struct{}, len(apiKeys))
	for _, k := range apiKeys {
		if k != "" {
			keySet[k] = struct{}{}
		}
	}

	return func(c *gin.Context) {
		key := extractAPIKey(c)
		if key == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorEnvelope{
				Error: errorBody{Code: "UNAUTHORIZED", Message: "missing API key: provide X-API-Key header or Authorization: Bearer <key>"},
			})
			return
		}
		if _, valid := keySet[key]; !valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorEnvelope{
				Error: errorBody{Code: "UNAUTHORIZED", Message: "invalid API key"},
			})
			return
		}
		c.Set("api_key", key)
		c.Next()
	}
}

func extractAPIKey(c *gin.Context) string {
	if key := c.GetHeader("X-API-Key"); key != "" {
		return key
	}
	if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}
