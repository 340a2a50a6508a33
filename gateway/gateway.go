package gateway

import (
	"context"
	"fmt"

	"github.com/streamops/sqlgate/admission"
	"github.com/streamops/sqlgate/conf"
	"github.com/streamops/sqlgate/cron"
	"github.com/streamops/sqlgate/engine"
	"github.com/streamops/sqlgate/gateway/gstats"
	"github.com/streamops/sqlgate/gateway/router"
	"github.com/streamops/sqlgate/models"
	"github.com/streamops/sqlgate/models/migrate"
	"github.com/streamops/sqlgate/pkg/ctx"
	"github.com/streamops/sqlgate/pkg/httpx"
	"github.com/streamops/sqlgate/pkg/logx"
	"github.com/streamops/sqlgate/storage"

	"github.com/toolkits/pkg/logger"
)

func Initialize(configDir string) (func(), error) {
	config, err := conf.InitConfig(configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to init config: %v", err)
	}

	logxClean, err := logx.Init(config.Log)
	if err != nil {
		return nil, err
	}

	gstats.Init()

	db, err := storage.New(config.DB)
	if err != nil {
		return nil, err
	}
	ctx := ctx.NewContext(context.Background(), db)
	migrate.Migrate(db)

	redis, err := storage.NewRedis(config.Redis)
	if err != nil {
		return nil, err
	}

	controller := admission.New(config.Quota)
	engineClient := engine.New(config.Engine)

	recoverPersistentSlots(ctx, controller)

	cron.CleanQueryRecords(ctx, config.QueryRecordRetentionDays)

	rt := router.New(config.HTTP, config.Quota, controller, engineClient, redis, ctx)
	r := httpx.GinEngine(config.Global.RunMode, config.HTTP)
	rt.Config(r)

	httpClean := httpx.Init(config.HTTP, r)

	return func() {
		httpClean()
		controller.Close()
		logxClean()
	}, nil
}

// recoverPersistentSlots re-acquires admission slots for streams still
// marked running, so a gateway restart does not forget the concurrency
// budget their engine queries keep consuming. A stream whose slot can no
// longer be granted (the quota shrank across the restart) is flagged
// failed instead of silently over-committing.
func recoverPersistentSlots(ctx *ctx.Context, controller *admission.Controller) {
	streams, err := models.StreamGets(ctx, models.StreamStatusRunning, "")
	if err != nil {
		logger.Errorf("failed to load running streams for slot recovery: %v", err)
		return
	}

	for i := range streams {
		stream := streams[i]
		_, decision := controller.RequestPersistentSlot(stream.CreatedBy)
		if decision.Allowed {
			continue
		}

		logger.Warningf("cannot re-acquire slot for stream %s (user %s): %s",
			stream.Name, stream.CreatedBy, decision.Reason)
		stream.Status = models.StreamStatusFailed
		if err := stream.Update(ctx, "status", "updated_at"); err != nil {
			logger.Errorf("failed to flag stream %s: %v", stream.Name, err)
		}
	}
}
