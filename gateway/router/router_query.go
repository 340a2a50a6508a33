package router

import (
	"context"
	"strings"
	"time"

	"github.com/streamops/sqlgate/admission"
	"github.com/streamops/sqlgate/gateway/gstats"
	"github.com/streamops/sqlgate/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/toolkits/pkg/ginx"
	"github.com/toolkits/pkg/logger"
)

type queryReq struct {
	Sql string `json:"sql"`
}

func (rt *Router) queryValidate(c *gin.Context) {
	var req queryReq
	ginx.BindJSON(c, &req)

	out := admission.ValidateAdHoc(req.Sql, rt.Quota)
	Render(c, out, nil)
}

// queryStream admits an ad-hoc query and proxies the engine's row stream
// to the client as newline-delimited JSON.
func (rt *Router) queryStream(c *gin.Context) {
	var req queryReq
	ginx.BindJSON(c, &req)

	username := rt.Username(c)

	record := models.QueryRecord{
		Uuid:     uuid.NewString(),
		Username: username,
		Class:    models.QueryClassAdHoc,
		Sql:      req.Sql,
	}

	out := admission.ValidateAdHoc(req.Sql, rt.Quota)
	if !out.Admitted {
		gstats.ValidationRejections.WithLabelValues(gstats.Service, models.QueryClassAdHoc).Inc()
		rt.audit(record, false, out.Reason)
		Render(c, nil, out.Reason)
		return
	}

	slot, decision := rt.Admission.RequestAdHocSlot(username)
	if !decision.Allowed {
		gstats.AdmissionDecisions.WithLabelValues(gstats.Service, models.QueryClassAdHoc, "deny").Inc()
		rt.audit(record, false, decision.Reason)
		Render(c, nil, decision.Reason)
		return
	}
	defer slot.Release()

	gstats.AdmissionDecisions.WithLabelValues(gstats.Service, models.QueryClassAdHoc, "grant").Inc()
	rt.audit(record, true, "")

	sql := strings.TrimRight(strings.TrimSpace(req.Sql), ";")
	if !admission.HasEmitChanges(sql) {
		sql += " EMIT CHANGES"
	}
	sql += ";"

	timeout := time.Duration(rt.Quota.MaxQueryTimeoutMinutes) * time.Minute
	ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
	defer cancel()

	c.Header("Content-Type", "application/x-ndjson")
	if len(out.Warnings) > 0 {
		c.Header("X-Query-Warnings", strings.Join(out.Warnings, "; "))
	}
	c.Status(200)

	writer := c.Writer
	err := rt.Engine.StreamQuery(ctx, sql, nil, func(line []byte) error {
		if _, err := writer.Write(append(line, '\n')); err != nil {
			return err
		}
		writer.Flush()
		return nil
	})
	if err != nil && ctx.Err() == nil {
		// the stream already started, all we can do is log and close
		logger.Warningf("ad-hoc query %s for user %s ended with error: %v", record.Uuid, username, err)
	}
}

// audit persists the submission record and feeds the recent-activity list.
func (rt *Router) audit(record models.QueryRecord, admitted bool, reason string) {
	record.Admitted = admitted
	record.Reason = reason
	if err := record.Add(rt.Ctx); err != nil {
		logger.Errorf("failed to write query record %s: %v", record.Uuid, err)
	}

	rt.pushActivity(record)
}
