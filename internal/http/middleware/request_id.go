package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/zorth44/sqlfluff-service/internal/ident"
)

const RequestIDHeader = "X-Request-ID"

// RequestID ensures every response carries a correlation identifier. An
// incoming header is echoed; otherwise one is minted.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = ident.NewReqID()
		}
		c.Set("request_id", id)
		c.Writer.Header().Set(RequestIDHeader, id)
		c.Next()
	}
}

// GetRequestID returns the correlation id set by RequestID.
func GetRequestID(c *gin.Context) string {
	if id, ok := c.Get("request_id"); ok {
		if s, ok := id.(string); ok {
			return s
		}
	}
	return ""
}
