package bootstrap

import (
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm/logger"
)

// NewLogger returns a console logger for dev and a JSON logger elsewhere.
func NewLogger(env string) (*zap.Logger, error) {
	if env == "dev" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// gormLogger routes gorm's slow-query and error output through zap.
func gormLogger(zl *zap.Logger) logger.Interface {
	return logger.New(zap.NewStdLog(zl.Named("gorm")), logger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  logger.Warn,
		IgnoreRecordNotFoundError: true,
	})
}
