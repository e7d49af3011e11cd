package notify

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"
)

// LogPublisher writes events to the application log when no broker is configured.
type LogPublisher struct {
	log *zap.Logger
}

func NewLogPublisher(log *zap.Logger) *LogPublisher {
	return &LogPublisher{log: log}
}

func (p *LogPublisher) Publish(_ context.Context, key string, value interface{}) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	p.log.Info("notification", zap.String("key", key), zap.ByteString("event", b))
	return nil
}

func (p *LogPublisher) Close() error { return nil }
