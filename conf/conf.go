package conf

import (
	"fmt"
	"os"

	"github.com/streamops/sqlgate/admission"
	"github.com/streamops/sqlgate/engine"
	"github.com/streamops/sqlgate/pkg/cfg"
	"github.com/streamops/sqlgate/pkg/httpx"
	"github.com/streamops/sqlgate/pkg/logx"
	"github.com/streamops/sqlgate/pkg/ormx"
	"github.com/streamops/sqlgate/storage"
)

type ConfigType struct {
	Global GlobalConfig
	Log    logx.Config
	HTTP   httpx.Config
	DB     ormx.DBConfig
	Redis  storage.RedisConfig
	Engine engine.Config
	Quota  admission.QuotaConfig

	QueryRecordRetentionDays int
}

type GlobalConfig struct {
	RunMode string
}

func InitConfig(configDir string) (*ConfigType, error) {
	if _, err := os.Stat(configDir); os.IsNotExist(err) {
		return nil, fmt.Errorf("config dir %s not exist", configDir)
	}

	var config = new(ConfigType)

	if err := cfg.LoadConfigByDir(configDir, config); err != nil {
		return nil, fmt.Errorf("failed to load configs of directory: %s error: %s", configDir, err)
	}

	config.Quota.PreCheck()
	config.Engine.PreCheck()

	if config.Engine.Addr == "" {
		return nil, fmt.Errorf("engine addr is not configured")
	}

	if config.QueryRecordRetentionDays <= 0 {
		config.QueryRecordRetentionDays = 30
	}

	return config, nil
}
