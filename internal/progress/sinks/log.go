// Package sinks holds the progress.Sink implementations shipped with the
// service.
package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/sitescope/crawler/internal/progress"
)

// LogSink emits structured logs for each progress event. Useful during
// development and for audit trails where no dashboard is watching.
type LogSink struct {
	log *zap.Logger
}

func NewLogSink(log *zap.Logger) *LogSink {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogSink{log: log}
}

func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.log.Info("progress event",
			zap.String("run_id", evt.RunID),
			zap.String("kind", string(evt.Kind)),
			zap.String("stage", string(evt.Stage)),
			zap.String("site_id", evt.SiteID),
			zap.String("url", evt.URL),
			zap.Int("processed", evt.Processed),
			zap.Int("total", evt.Total),
			zap.Duration("dur", evt.Dur),
			zap.String("note", evt.Note),
		)
	}
	return nil
}

func (s *LogSink) Close(context.Context) error { return nil }
