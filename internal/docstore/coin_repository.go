package docstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"rpg-novel-server/internal/interfaces"
	"rpg-novel-server/internal/models"

	"cloud.google.com/go/firestore"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
)

var _ interfaces.CoinRepository = (*CoinRepository)(nil)

type accountDoc struct {
	Balance           int64      `firestore:"balance"`
	TotalEarned       int64      `firestore:"total_earned"`
	TotalSpent        int64      `firestore:"total_spent"`
	LastTransactionAt *time.Time `firestore:"last_transaction_at"`
	CreatedAt         time.Time  `firestore:"created_at"`
	UpdatedAt         time.Time  `firestore:"updated_at"`
}

type transactionDoc struct {
	UserID       string    `firestore:"user_id"`
	Amount       int64     `firestore:"amount"`
	BalanceAfter int64     `firestore:"balance_after"`
	Type         string    `firestore:"transaction_type"`
	Description  string    `firestore:"description"`
	ReferenceID  *string   `firestore:"reference_id"`
	CreatedAt    time.Time `firestore:"created_at"`
}

// referenceDoc - маркер уникальности reference_id, id документа равен самой ссылке.
type referenceDoc struct {
	UserID        string    `firestore:"user_id"`
	TransactionID string    `firestore:"transaction_id"`
	CreatedAt     time.Time `firestore:"created_at"`
}

// CoinRepository - счета в coin_accounts, журнал в coin_transactions.
type CoinRepository struct {
	client *firestore.Client
	logger *zap.Logger
}

// NewCoinRepository создает журнал монет поверх Firestore.
func NewCoinRepository(client *firestore.Client, logger *zap.Logger) *CoinRepository {
	return &CoinRepository{
		client: client,
		logger: logger.Named("FirestoreCoinRepo"),
	}
}

// fsCoinTx копит записи до конца fn: Firestore требует все чтения до первой записи.
type fsCoinTx struct {
	repo    *CoinRepository
	tx      *firestore.Transaction
	userID  string
	account *models.CoinAccount
	pending []*models.CoinTransaction
	refs    map[string]struct{}
}

func (r *CoinRepository) RunInTx(ctx context.Context, userID string, fn func(ctx context.Context, tx interfaces.CoinTx) error) error {
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		coinTx := &fsCoinTx{repo: r, tx: tx, userID: userID, refs: make(map[string]struct{})}
		if err := fn(ctx, coinTx); err != nil {
			return err
		}
		return coinTx.flush()
	})
	if err != nil && isAlreadyExists(err) {
		return models.ErrDuplicateReference
	}
	return err
}

func (tx *fsCoinTx) accountRef() *firestore.DocumentRef {
	return tx.repo.client.Collection(accountsCollection).Doc(tx.userID)
}

func (tx *fsCoinTx) GetAccount(ctx context.Context) (*models.CoinAccount, error) {
	if tx.account != nil {
		acc := *tx.account
		return &acc, nil
	}
	snap, err := tx.tx.Get(tx.accountRef())
	if err != nil {
		if isNotFound(err) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения счета: %w", err)
	}
	var doc accountDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("ошибка разбора счета %s: %w", tx.userID, err)
	}
	return accountFromDoc(tx.userID, doc), nil
}

func (tx *fsCoinTx) ReferenceExists(ctx context.Context, referenceID string) (bool, error) {
	if _, ok := tx.refs[referenceID]; ok {
		return true, nil
	}
	_, err := tx.tx.Get(tx.repo.client.Collection(referencesCollection).Doc(referenceID))
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("ошибка проверки reference_id: %w", err)
}

func (tx *fsCoinTx) PutAccount(ctx context.Context, account *models.CoinAccount) error {
	acc := *account
	tx.account = &acc
	return nil
}

func (tx *fsCoinTx) InsertTransaction(ctx context.Context, t *models.CoinTransaction) error {
	if t.ReferenceID != nil {
		exists, err := tx.ReferenceExists(ctx, *t.ReferenceID)
		if err != nil {
			return err
		}
		if exists {
			return models.ErrDuplicateReference
		}
		tx.refs[*t.ReferenceID] = struct{}{}
	}
	entry := *t
	tx.pending = append(tx.pending, &entry)
	return nil
}

func (tx *fsCoinTx) flush() error {
	if tx.account != nil {
		if err := tx.tx.Set(tx.accountRef(), accountToDoc(tx.account)); err != nil {
			return err
		}
	}
	for _, t := range tx.pending {
		ref := tx.repo.client.Collection(transactionsCollection).Doc(t.ID)
		if err := tx.tx.Create(ref, transactionDoc{
			UserID:       t.UserID,
			Amount:       t.Amount,
			BalanceAfter: t.BalanceAfter,
			Type:         string(t.Type),
			Description:  t.Description,
			ReferenceID:  t.ReferenceID,
			CreatedAt:    t.CreatedAt,
		}); err != nil {
			return err
		}
		if t.ReferenceID == nil {
			continue
		}
		marker := tx.repo.client.Collection(referencesCollection).Doc(*t.ReferenceID)
		if err := tx.tx.Create(marker, referenceDoc{UserID: t.UserID, TransactionID: t.ID, CreatedAt: t.CreatedAt}); err != nil {
			return err
		}
	}
	return nil
}

func (r *CoinRepository) GetAccount(ctx context.Context, userID string) (*models.CoinAccount, error) {
	snap, err := r.client.Collection(accountsCollection).Doc(userID).Get(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, models.ErrNotFound
		}
		r.logger.Error("Failed to get account", zap.String("userID", userID), zap.Error(err))
		return nil, fmt.Errorf("ошибка получения счета: %w", err)
	}
	var doc accountDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("ошибка разбора счета %s: %w", userID, err)
	}
	return accountFromDoc(userID, doc), nil
}

func (r *CoinRepository) ListTransactions(ctx context.Context, userID string, limit int) ([]*models.CoinTransaction, error) {
	query := r.client.Collection(transactionsCollection).
		Where("user_id", "==", userID).
		OrderBy("created_at", firestore.Desc)
	if limit > 0 {
		query = query.Limit(limit)
	}
	iter := query.Documents(ctx)
	defer iter.Stop()

	var out []*models.CoinTransaction
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			r.logger.Error("Failed to list transactions", zap.String("userID", userID), zap.Error(err))
			return nil, fmt.Errorf("ошибка получения журнала: %w", err)
		}
		var doc transactionDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("ошибка разбора транзакции %s: %w", snap.Ref.ID, err)
		}
		out = append(out, &models.CoinTransaction{
			ID:           snap.Ref.ID,
			UserID:       doc.UserID,
			Amount:       doc.Amount,
			BalanceAfter: doc.BalanceAfter,
			Type:         models.TransactionType(doc.Type),
			Description:  doc.Description,
			ReferenceID:  doc.ReferenceID,
			CreatedAt:    doc.CreatedAt,
		})
	}
	return out, nil
}

func accountFromDoc(userID string, d accountDoc) *models.CoinAccount {
	return &models.CoinAccount{
		UserID:            userID,
		Balance:           d.Balance,
		TotalEarned:       d.TotalEarned,
		TotalSpent:        d.TotalSpent,
		LastTransactionAt: d.LastTransactionAt,
		CreatedAt:         d.CreatedAt,
		UpdatedAt:         d.UpdatedAt,
	}
}

func accountToDoc(a *models.CoinAccount) accountDoc {
	return accountDoc{
		Balance:           a.Balance,
		TotalEarned:       a.TotalEarned,
		TotalSpent:        a.TotalSpent,
		LastTransactionAt: a.LastTransactionAt,
		CreatedAt:         a.CreatedAt,
		UpdatedAt:         a.UpdatedAt,
	}
}
