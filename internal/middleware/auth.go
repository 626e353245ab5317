package middleware

import (
	"crypto/subtle"
	"net/http"

	"vpn-billing-api/internal/response"

	"github.com/gin-gonic/gin"
)

// AdminAuth guards the admin API with a static API key carried in the
// X-API-Key header. With no key configured every request is rejected.
func AdminAuth(apiKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		provided := c.GetHeader("X-API-Key")
		if provided == "" {
			provided = c.Query("api_key")
		}

		if apiKey == "" || provided == "" ||
			subtle.ConstantTimeCompare([]byte(provided), []byte(apiKey)) != 1 {
			response.ErrorJSON(c, http.StatusUnauthorized, "Invalid or missing api key")
			c.Abort()
			return
		}

		c.Next()
	}
}
