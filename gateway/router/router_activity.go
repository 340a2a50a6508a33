package router

import (
	"time"

	"github.com/streamops/sqlgate/models"

	"github.com/gin-gonic/gin"
	jsoniter "github.com/json-iterator/go"
	"github.com/toolkits/pkg/ginx"
	"github.com/toolkits/pkg/logger"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	activityKey    = "sqlgate:activity"
	activityMaxLen = 200

	engineStatusKey = "sqlgate:engine:status"
	engineStatusTTL = 15 * time.Second
)

type activityItem struct {
	Uuid     string `json:"uuid"`
	Username string `json:"username"`
	Class    string `json:"class"`
	Admitted bool   `json:"admitted"`
	Reason   string `json:"reason,omitempty"`
	Ts       int64  `json:"ts"`
}

// pushActivity feeds the recent-submission list. Best effort: failures are
// logged and never affect the request.
func (rt *Router) pushActivity(record models.QueryRecord) {
	if rt.Redis == nil {
		return
	}

	item := activityItem{
		Uuid:     record.Uuid,
		Username: record.Username,
		Class:    record.Class,
		Admitted: record.Admitted,
		Reason:   record.Reason,
		Ts:       time.Now().Unix(),
	}

	buf, err := json.Marshal(item)
	if err != nil {
		return
	}

	rctx := rt.Ctx.Ctx
	if err := rt.Redis.LPush(rctx, activityKey, buf).Err(); err != nil {
		logger.Warningf("failed to push activity item: %v", err)
		return
	}
	if err := rt.Redis.LTrim(rctx, activityKey, 0, activityMaxLen-1).Err(); err != nil {
		logger.Warningf("failed to trim activity list: %v", err)
	}
}

func (rt *Router) activityGets(c *gin.Context) {
	limit := ginx.QueryInt(c, "limit", 50)
	if limit > activityMaxLen {
		limit = activityMaxLen
	}

	if rt.Redis == nil {
		// fall back to the audit table when redis is disabled
		lst, err := models.QueryRecordGets(rt.Ctx, ginx.QueryStr(c, "username", ""), limit)
		Render(c, lst, err)
		return
	}

	raws, err := rt.Redis.LRange(rt.Ctx.Ctx, activityKey, 0, int64(limit)-1).Result()
	if err != nil {
		Render(c, nil, err)
		return
	}

	items := make([]activityItem, 0, len(raws))
	for _, raw := range raws {
		var item activityItem
		if err := json.Unmarshal([]byte(raw), &item); err != nil {
			continue
		}
		items = append(items, item)
	}

	Render(c, items, nil)
}

// engineStatus probes the engine, caching the answer briefly in redis so a
// dashboard polling this endpoint does not hammer the engine.
func (rt *Router) engineStatus(c *gin.Context) {
	if rt.Redis != nil {
		cached, err := rt.Redis.Get(rt.Ctx.Ctx, engineStatusKey).Result()
		if err == nil && cached != "" {
			c.Data(200, "application/json", []byte(cached))
			return
		}
	}

	body, err := rt.Engine.Info(c.Request.Context())
	if err != nil {
		Render(c, nil, err)
		return
	}

	if rt.Redis != nil {
		if err := rt.Redis.Set(rt.Ctx.Ctx, engineStatusKey, body, engineStatusTTL).Err(); err != nil {
			logger.Warningf("failed to cache engine status: %v", err)
		}
	}

	c.Data(200, "application/json", body)
}
