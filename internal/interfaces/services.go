package interfaces

import (
	"context"

	"rpg-novel-server/internal/models"
)

// StepGenerator генерирует следующий шаг истории.
type StepGenerator interface {
	Generate(ctx context.Context, userID, theme, character string, history []models.HistoryEntry, maxChoices int) (*models.GeneratedStep, error)
}

// TokenVerifier проверяет bearer-токен и возвращает личность пользователя.
// Ошибки оборачивают models.ErrUnauthenticated.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*models.Identity, error)
}

// EventPublisher публикует доменные события. Ошибки публикации не влияют на основную операцию.
type EventPublisher interface {
	PublishEvent(ctx context.Context, event models.DomainEvent) error
}

// StoryLocker сериализует продвижение одной истории.
type StoryLocker interface {
	// Lock захватывает блокировку истории. Возвращает функцию освобождения.
	Lock(ctx context.Context, storyID string) (unlock func(), err error)
}
