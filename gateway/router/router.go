package router

import (
	"fmt"
	"net/http"
	"time"

	"github.com/streamops/sqlgate/admission"
	"github.com/streamops/sqlgate/engine"
	"github.com/streamops/sqlgate/gateway/gstats"
	"github.com/streamops/sqlgate/pkg/ctx"
	"github.com/streamops/sqlgate/pkg/httpx"
	"github.com/streamops/sqlgate/storage"

	"github.com/gin-gonic/gin"
)

type Router struct {
	HTTP      httpx.Config
	Ctx       *ctx.Context
	Redis     storage.Redis
	Admission *admission.Controller
	Engine    *engine.Client
	Quota     admission.QuotaConfig
}

func New(httpConfig httpx.Config, quota admission.QuotaConfig, ctl *admission.Controller,
	eng *engine.Client, redis storage.Redis, ctx *ctx.Context) *Router {
	return &Router{
		HTTP:      httpConfig,
		Ctx:       ctx,
		Redis:     redis,
		Admission: ctl,
		Engine:    eng,
		Quota:     quota,
	}
}

func stat() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		code := fmt.Sprintf("%d", c.Writer.Status())
		method := c.Request.Method
		labels := []string{gstats.Service, code, c.FullPath(), method}

		gstats.RequestCounter.WithLabelValues(labels...).Inc()
		gstats.RequestDuration.WithLabelValues(labels...).Observe(float64(time.Since(start).Seconds()))
	}
}

func (rt *Router) Config(r *gin.Engine) {
	api := r.Group("/api/v1")
	api.Use(stat())

	if len(rt.HTTP.BasicAuth) > 0 {
		api.Use(gin.BasicAuth(rt.HTTP.BasicAuth))
	}

	api.POST("/query", rt.queryStream)
	api.POST("/query/validate", rt.queryValidate)

	api.GET("/streams", rt.streamGets)
	api.POST("/streams", rt.streamAdd)
	api.GET("/streams/:id", rt.streamGet)
	api.DELETE("/streams/:id", rt.streamDel)

	api.GET("/limits", rt.limitsGet)
	api.GET("/activity", rt.activityGets)
	api.GET("/engine/status", rt.engineStatus)
}

// Username resolves the calling identity: the fronting proxy's user header
// when proxy auth is enabled, the basic-auth account otherwise, falling
// back to the configured default identity.
func (rt *Router) Username(c *gin.Context) string {
	if rt.HTTP.ProxyAuth.Enable {
		if user := c.GetHeader(rt.HTTP.ProxyAuth.HeaderUserNameKey); user != "" {
			return user
		}
	}

	if user := c.GetString(gin.AuthUserKey); user != "" {
		return user
	}

	if rt.HTTP.ProxyAuth.DefaultUser != "" {
		return rt.HTTP.ProxyAuth.DefaultUser
	}

	return "anonymous"
}

func Render(c *gin.Context, data, msg interface{}) {
	if msg == nil {
		if data == nil {
			data = struct{}{}
		}
		c.JSON(http.StatusOK, gin.H{"data": data, "error": ""})
	} else {
		c.JSON(http.StatusOK, gin.H{"error": gin.H{"message": msg}})
	}
}
