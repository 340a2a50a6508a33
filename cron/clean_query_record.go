package cron

import (
	"github.com/streamops/sqlgate/models"
	"github.com/streamops/sqlgate/pkg/ctx"

	"github.com/robfig/cron/v3"
	"github.com/toolkits/pkg/logger"
)

func cleanQueryRecords(ctx *ctx.Context, days int) {
	if err := models.QueryRecordCleanup(ctx, days); err != nil {
		logger.Errorf("failed to clean query records: %v", err)
	}
}

// CleanQueryRecords removes audit rows older than the retention every
// night at 01:00.
func CleanQueryRecords(ctx *ctx.Context, days int) {
	c := cron.New()
	if days < 1 {
		days = 30
	}

	_, err := c.AddFunc("0 1 * * *", func() {
		cleanQueryRecords(ctx, days)
	})

	if err != nil {
		logger.Errorf("failed to add clean query record cron job: %v", err)
		return
	}

	c.Start()
}
