package interfaces

import (
	"context"

	"rpg-novel-server/internal/models"
)

// StoryRepository хранит истории и их шаги в порядке добавления.
// Монотонность индексов шагов обеспечивает вызывающий код.
type StoryRepository interface {
	// CreateStory создает историю со статусом active и без текущего шага.
	CreateStory(ctx context.Context, ownerID, theme, character string) (*models.Story, error)
	// AppendStep сохраняет шаг и обновляет current_step_id/updated_at истории одной операцией.
	// Статус истории не меняется.
	AppendStep(ctx context.Context, step *models.Step) (string, error)
	GetStory(ctx context.Context, storyID string) (*models.Story, error)
	// GetStep возвращает models.ErrNotFound, если шаг принадлежит другой истории.
	GetStep(ctx context.Context, storyID, stepID string) (*models.Step, error)
	// RecentSteps возвращает последние k шагов по возрастанию индекса.
	RecentSteps(ctx context.Context, storyID string, k int) ([]*models.Step, error)
	ListSteps(ctx context.Context, storyID string) ([]*models.Step, error)
	// ListStoriesByOwner возвращает истории владельца, новые первыми.
	ListStoriesByOwner(ctx context.Context, ownerID string, limit int) ([]*models.Story, error)
	// DeleteStory удаляет историю без шагов. Используется только для компенсации неудачного старта.
	DeleteStory(ctx context.Context, storyID string) error
}

// CoinTx - операции над счетом одного пользователя внутри транзакции.
type CoinTx interface {
	// GetAccount возвращает models.ErrNotFound, если счета еще нет.
	GetAccount(ctx context.Context) (*models.CoinAccount, error)
	ReferenceExists(ctx context.Context, referenceID string) (bool, error)
	PutAccount(ctx context.Context, account *models.CoinAccount) error
	// InsertTransaction возвращает models.ErrDuplicateReference при повторном reference_id.
	InsertTransaction(ctx context.Context, tx *models.CoinTransaction) error
}

// CoinRepository хранит счета и журнал операций.
type CoinRepository interface {
	// RunInTx выполняет fn атомарно относительно счета userID.
	// Если fn возвращает ошибку, ни одна запись не сохраняется.
	RunInTx(ctx context.Context, userID string, fn func(ctx context.Context, tx CoinTx) error) error
	GetAccount(ctx context.Context, userID string) (*models.CoinAccount, error)
	ListTransactions(ctx context.Context, userID string, limit int) ([]*models.CoinTransaction, error)
}
