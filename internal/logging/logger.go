// Package logging provides zap logger helpers.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a zap.Logger configured for development or production. The
// production logger keeps every line: worker logs are bursty and sampling
// would hide per-directory failures.
func New(development bool) (*zap.Logger, error) {
	if development {
		cfg := zap.NewDevelopmentConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		logger, err := cfg.Build()
		if err != nil {
			return nil, fmt.Errorf("build dev logger: %w", err)
		}
		return logger, nil
	}
	cfg := zap.NewProductionConfig()
	cfg.Sampling = nil
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build prod logger: %w", err)
	}
	return logger, nil
}

// ForCrawl scopes logger to one crawl.
func ForCrawl(logger *zap.Logger, crawlID, rootPath string) *zap.Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return logger.Named("crawl").With(
		zap.String("crawl_id", crawlID),
		zap.String("root_path", rootPath),
	)
}
