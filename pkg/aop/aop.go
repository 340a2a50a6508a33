package aop

import (
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/toolkits/pkg/errorx"
	"github.com/toolkits/pkg/logger"
)

// Logger returns an access log middleware writing through the app logger.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		if raw != "" {
			path = path + "?" + raw
		}

		logger.Infof("%s %s %d %s %s",
			c.Request.Method,
			path,
			c.Writer.Status(),
			time.Since(start),
			c.ClientIP(),
		)
	}
}

// Recovery returns a middleware that recovers from panics. The ginx
// helpers abort handlers by panicking with a PageError carrying the status
// and a user-facing message; those are rendered as-is. Anything else is a
// genuine panic and replies a bare 500.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				if p, ok := err.(errorx.PageError); ok {
					c.JSON(p.Code, gin.H{"error": p.Message})
					c.Abort()
					return
				}
				logger.Errorf("panic recovered: %v\n%s", err, debug.Stack())
				c.AbortWithStatus(500)
			}
		}()
		c.Next()
	}
}
