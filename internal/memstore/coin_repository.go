package memstore

import (
	"context"
	"sort"
	"sync"

	"rpg-novel-server/internal/interfaces"
	"rpg-novel-server/internal/models"

	"go.uber.org/zap"
)

var _ interfaces.CoinRepository = (*CoinRepository)(nil)

// CoinRepository - журнал монет в памяти. Транзакции сериализуются одним мьютексом.
type CoinRepository struct {
	mu           sync.Mutex
	accounts     map[string]models.CoinAccount
	transactions map[string][]models.CoinTransaction // user_id -> журнал
	references   map[string]struct{}
	logger       *zap.Logger
}

// NewCoinRepository создает пустой журнал.
func NewCoinRepository(logger *zap.Logger) *CoinRepository {
	return &CoinRepository{
		accounts:     make(map[string]models.CoinAccount),
		transactions: make(map[string][]models.CoinTransaction),
		references:   make(map[string]struct{}),
		logger:       logger.Named("MemCoinRepo"),
	}
}

// memCoinTx накапливает изменения до фиксации.
type memCoinTx struct {
	repo    *CoinRepository
	userID  string
	account *models.CoinAccount
	pending []models.CoinTransaction
	refs    map[string]struct{}
}

func (r *CoinRepository) RunInTx(ctx context.Context, userID string, fn func(ctx context.Context, tx interfaces.CoinTx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx := &memCoinTx{repo: r, userID: userID, refs: make(map[string]struct{})}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	if tx.account != nil {
		r.accounts[userID] = *tx.account
	}
	r.transactions[userID] = append(r.transactions[userID], tx.pending...)
	for ref := range tx.refs {
		r.references[ref] = struct{}{}
	}
	return nil
}

func (tx *memCoinTx) GetAccount(ctx context.Context) (*models.CoinAccount, error) {
	if tx.account != nil {
		acc := *tx.account
		return &acc, nil
	}
	acc, ok := tx.repo.accounts[tx.userID]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &acc, nil
}

func (tx *memCoinTx) ReferenceExists(ctx context.Context, referenceID string) (bool, error) {
	if _, ok := tx.refs[referenceID]; ok {
		return true, nil
	}
	_, ok := tx.repo.references[referenceID]
	return ok, nil
}

func (tx *memCoinTx) PutAccount(ctx context.Context, account *models.CoinAccount) error {
	acc := *account
	tx.account = &acc
	return nil
}

func (tx *memCoinTx) InsertTransaction(ctx context.Context, t *models.CoinTransaction) error {
	if t.ReferenceID != nil {
		if exists, _ := tx.ReferenceExists(ctx, *t.ReferenceID); exists {
			return models.ErrDuplicateReference
		}
		tx.refs[*t.ReferenceID] = struct{}{}
	}
	tx.pending = append(tx.pending, *t)
	return nil
}

func (r *CoinRepository) GetAccount(ctx context.Context, userID string) (*models.CoinAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	acc, ok := r.accounts[userID]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &acc, nil
}

func (r *CoinRepository) ListTransactions(ctx context.Context, userID string, limit int) ([]*models.CoinTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := r.transactions[userID]
	out := make([]*models.CoinTransaction, 0, len(entries))
	// Новые первыми; при равном времени - по порядку записи
	for i := len(entries) - 1; i >= 0; i-- {
		t := entries[i]
		out = append(out, &t)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
