package dispatchapi

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"letta-telephony-agent/pkg/agent"
)

const headerRequestID = "X-Request-Id"

// RequestLog tags every request with a request id and logs a summary line.
func RequestLog(l agent.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		rid := c.GetHeader(headerRequestID)
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Writer.Header().Set(headerRequestID, rid)
		c.Set("request_id", rid)

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		kv := []interface{}{
			"request_id", rid,
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		}
		if len(c.Errors) > 0 {
			kv = append(kv, "errors", c.Errors.String())
		}

		switch status := c.Writer.Status(); {
		case status >= 500:
			l.Error("http request", kv...)
		case status >= 400:
			l.Warn("http request", kv...)
		default:
			l.Info("http request", kv...)
		}
	}
}
