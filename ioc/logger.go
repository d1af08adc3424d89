package ioc

import (
	"go.uber.org/zap"

	"wildsync/internal/app"
	"wildsync/pkg/logging"
)

// InitLogger 构建全局 logger，cleanup 时刷新缓冲。
func InitLogger(cfg app.Config) (*zap.Logger, func(), error) {
	logger, err := logging.NewZapLogger(logging.Options{
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	if err != nil {
		return nil, nil, err
	}
	return logger, func() { _ = logger.Sync() }, nil
}
