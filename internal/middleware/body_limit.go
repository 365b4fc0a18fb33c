package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// multipartOverhead leaves room for boundaries and part headers on top
// of the file itself.
const multipartOverhead = 1 << 20

// BodyLimit caps how much of a request body handlers can read. Reads
// past the cap fail with *http.MaxBytesError.
func BodyLimit(maxFileBytes int64) gin.HandlerFunc {
	limit := maxFileBytes + multipartOverhead
	return func(c *gin.Context) {
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		}
		c.Next()
	}
}
