package app

import (
	"time"

	"github.com/lounis13/taskflow/internal/pkg/logger"
	"github.com/lounis13/taskflow/internal/utils"
)

type Config struct {
	DBBackend        string
	Port             string
	RetrySettleDelay time.Duration
	OtelEnabled      bool
	Environment      string
}

func LoadConfig(log *logger.Logger) Config {
	return Config{
		DBBackend:        utils.GetEnv("DB_BACKEND", "sqlite", log),
		Port:             utils.GetEnv("PORT", "8080", log),
		RetrySettleDelay: utils.GetEnvAsDuration("RETRY_SETTLE_DELAY", 2*time.Second, log),
		OtelEnabled:      utils.GetEnvAsBool("OTEL_ENABLED", false, log),
		Environment:      utils.GetEnv("ENVIRONMENT", "development", log),
	}
}
