package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/family-crawler/internal/progress"
)

// LogSink writes each event as a structured log line.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs every event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("crawl_id", evt.CrawlID),
			zap.String("stage", string(evt.Stage)),
			zap.Time("ts", evt.TS),
			zap.Int64("directories_listed", evt.Stats.DirectoriesListed),
			zap.Int64("files_crawled", evt.Stats.FilesCrawled),
			zap.Int64("items_committed", evt.Stats.ItemsCommitted),
			zap.Int("frontier_depth", evt.FrontierDepth),
			zap.Int("outbound_depth", evt.OutboundDepth),
		}
		if evt.Stage == progress.StageTransition {
			fields = append(fields, zap.String("from", evt.From), zap.String("to", evt.To))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		s.logger.Info("crawl progress", fields...)
	}
	return nil
}

// Close implements progress.Sink; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
