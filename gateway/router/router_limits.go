package router

import (
	"github.com/gin-gonic/gin"
)

func (rt *Router) limitsGet(c *gin.Context) {
	Render(c, rt.Admission.LimitsSnapshot(rt.Username(c)), nil)
}
