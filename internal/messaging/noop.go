package messaging

import (
	"context"

	"rpg-novel-server/internal/interfaces"
	"rpg-novel-server/internal/models"

	"go.uber.org/zap"
)

// LogPublisher пишет события в лог. Используется, когда брокер не настроен.
type LogPublisher struct {
	logger *zap.Logger
}

var _ interfaces.EventPublisher = (*LogPublisher)(nil)

func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger.Named("LogPublisher")}
}

func (p *LogPublisher) PublishEvent(ctx context.Context, event models.DomainEvent) error {
	p.logger.Debug("Событие",
		zap.String("type", event.Type),
		zap.String("userID", event.UserID),
		zap.String("storyID", event.StoryID),
	)
	return nil
}
