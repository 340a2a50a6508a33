package migrate

import (
	"github.com/streamops/sqlgate/models"

	"github.com/toolkits/pkg/logger"
	"gorm.io/gorm"
)

func Migrate(db *gorm.DB) {
	err := db.AutoMigrate(&models.Stream{}, &models.QueryRecord{})
	if err != nil {
		logger.Errorf("failed to migrate tables: %v", err)
	}
}
