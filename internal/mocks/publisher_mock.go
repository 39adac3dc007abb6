package mocks

import (
	"context"

	"rpg-novel-server/internal/interfaces"
	"rpg-novel-server/internal/models"

	"github.com/stretchr/testify/mock"
)

// EventPublisher - мок interfaces.EventPublisher
type EventPublisher struct {
	mock.Mock
}

func (m *EventPublisher) PublishEvent(ctx context.Context, event models.DomainEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

var _ interfaces.EventPublisher = (*EventPublisher)(nil)
