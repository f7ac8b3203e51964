package statusapi

import (
	"time"

	"github.com/gin-gonic/gin"

	"drivesync/internal/logging"
)

// Logger is a Gin middleware that logs every request with method, path,
// status code, and latency.
func Logger(log *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Infof("[%s] %s %s | %d | %s",
			c.Request.Method,
			c.Request.URL.Path,
			c.ClientIP(),
			c.Writer.Status(),
			time.Since(start),
		)
	}
}

// Recovery recovers a panicking handler, logs the panic through the
// same logging.Logger as the rest of the process, and answers 500 with
// a JSON error body.
func Recovery(log *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.Errorf("panic recovered: %v", err)
				c.AbortWithStatusJSON(500, gin.H{"error": "internal server error"})
			}
		}()
		c.Next()
	}
}

// NewRouter builds a gin.Engine with Logger/Recovery installed and h's
// routes mounted, mirroring the teacher's router.Use(api.Logger(),
// api.Recovery()) wiring in cmd/server/main.go.
func NewRouter(h *Handler, log *logging.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(Logger(log), Recovery(log))
	h.Register(r)
	return r
}
