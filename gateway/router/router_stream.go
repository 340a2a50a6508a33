package router

import (
	"strings"

	"github.com/streamops/sqlgate/admission"
	"github.com/streamops/sqlgate/gateway/gstats"
	"github.com/streamops/sqlgate/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/toolkits/pkg/ginx"
	"github.com/toolkits/pkg/logger"
)

type streamAddReq struct {
	Name string `json:"name"`
	Sql  string `json:"sql"`
	Note string `json:"note"`
}

func (rt *Router) streamGets(c *gin.Context) {
	status := ginx.QueryStr(c, "status", "")
	mine := ginx.QueryBool(c, "mine", false)

	createdBy := ""
	if mine {
		createdBy = rt.Username(c)
	}

	lst, err := models.StreamGets(rt.Ctx, status, createdBy)
	Render(c, lst, err)
}

func (rt *Router) streamGet(c *gin.Context) {
	stream, err := models.StreamGetById(rt.Ctx, ginx.UrlParamInt64(c, "id"))
	if err == nil && stream == nil {
		Render(c, nil, "no such stream")
		return
	}
	Render(c, stream, err)
}

// streamAdd validates and admits a persistent query, then creates the
// backing stream on the engine. The admission slot is held for the stream's
// lifetime and only released on termination, so there is no deferred
// release here; the slot travels with the stream row instead.
func (rt *Router) streamAdd(c *gin.Context) {
	var req streamAddReq
	ginx.BindJSON(c, &req)

	username := rt.Username(c)

	record := models.QueryRecord{
		Uuid:     uuid.NewString(),
		Username: username,
		Class:    models.QueryClassPersistent,
		Sql:      req.Sql,
	}

	out := admission.ValidatePersistent(req.Sql, req.Name, rt.Quota)
	if !out.Admitted {
		gstats.ValidationRejections.WithLabelValues(gstats.Service, models.QueryClassPersistent).Inc()
		rt.audit(record, false, out.Reason)
		Render(c, nil, out.Reason)
		return
	}

	count, err := models.StreamCountByName(rt.Ctx, req.Name)
	if err != nil {
		Render(c, nil, err)
		return
	}
	if count > 0 {
		Render(c, nil, "stream name already exists")
		return
	}

	slot, decision := rt.Admission.RequestPersistentSlot(username)
	if !decision.Allowed {
		gstats.AdmissionDecisions.WithLabelValues(gstats.Service, models.QueryClassPersistent, "deny").Inc()
		rt.audit(record, false, decision.Reason)
		Render(c, nil, decision.Reason)
		return
	}

	gstats.AdmissionDecisions.WithLabelValues(gstats.Service, models.QueryClassPersistent, "grant").Inc()
	rt.audit(record, true, "")

	// the SELECT is embedded in a CREATE STREAM ... AS statement, so a
	// trailing semicolon would break it
	sql := strings.TrimRight(strings.TrimSpace(req.Sql), ";")

	queryID, err := rt.Engine.CreateStream(c.Request.Context(), req.Name, sql)
	if err != nil {
		// engine refused, give the slot back
		slot.Release()
		Render(c, nil, err)
		return
	}

	stream := models.Stream{
		Name:          req.Name,
		Sql:           req.Sql,
		EngineQueryId: queryID,
		Status:        models.StreamStatusRunning,
		Note:          req.Note,
		CreatedBy:     username,
		UpdatedBy:     username,
	}

	if err := stream.Add(rt.Ctx); err != nil {
		// metadata write failed: tear the engine query down again so the
		// slot and the engine stay consistent
		if terr := rt.Engine.TerminateQuery(c.Request.Context(), queryID); terr != nil {
			logger.Errorf("failed to terminate orphaned engine query %s: %v", queryID, terr)
		}
		slot.Release()
		Render(c, nil, err)
		return
	}

	Render(c, stream, nil)
}

// streamDel terminates the engine query and releases the persistent slot
// that was acquired at creation time.
func (rt *Router) streamDel(c *gin.Context) {
	stream, err := models.StreamGetById(rt.Ctx, ginx.UrlParamInt64(c, "id"))
	if err != nil {
		Render(c, nil, err)
		return
	}
	if stream == nil {
		Render(c, nil, "no such stream")
		return
	}

	if stream.Status == models.StreamStatusRunning {
		// a running stream always holds a slot, even when the engine never
		// reported a query id; only the terminate call depends on the id
		if stream.EngineQueryId != "" {
			if err := rt.Engine.TerminateQuery(c.Request.Context(), stream.EngineQueryId); err != nil {
				Render(c, nil, err)
				return
			}
		}
		rt.Admission.ReleasePersistentSlot(stream.CreatedBy)
	}

	stream.Status = models.StreamStatusTerminated
	stream.UpdatedBy = rt.Username(c)
	if err := stream.Update(rt.Ctx, "status", "updated_by", "updated_at"); err != nil {
		Render(c, nil, err)
		return
	}

	Render(c, nil, nil)
}
