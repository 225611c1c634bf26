package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/citygrid-api/internal/service"
)

// unmatchedPath labels requests no route matched, so scanners cannot grow label cardinality.
const unmatchedPath = "unmatched"

// Metrics observes latency and status of every request.
func Metrics(metrics *service.MetricsService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if metrics == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = unmatchedPath
		}
		metrics.ObserveHTTPRequest(c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}
