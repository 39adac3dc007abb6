package database

import (
	"context"
	"errors"
	"fmt"

	"rpg-novel-server/internal/interfaces"
	"rpg-novel-server/internal/models"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

var _ interfaces.CoinRepository = (*pgCoinRepository)(nil)

const (
	// Блокировка счета на время транзакции, в том числе до его создания
	lockAccountQuery = `SELECT pg_advisory_xact_lock(hashtext($1))`

	accountColumns = `user_id, balance, total_earned, total_spent, last_transaction_at, created_at, updated_at`

	getAccountQuery = `SELECT ` + accountColumns + ` FROM coin_accounts WHERE user_id = $1`

	getAccountForUpdateQuery = getAccountQuery + ` FOR UPDATE`

	upsertAccountQuery = `
INSERT INTO coin_accounts (` + accountColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (user_id) DO UPDATE SET
    balance = EXCLUDED.balance,
    total_earned = EXCLUDED.total_earned,
    total_spent = EXCLUDED.total_spent,
    last_transaction_at = EXCLUDED.last_transaction_at,
    updated_at = EXCLUDED.updated_at`

	referenceExistsQuery = `SELECT EXISTS(SELECT 1 FROM coin_transactions WHERE reference_id = $1)`

	insertTransactionQuery = `
INSERT INTO coin_transactions (id, user_id, amount, balance_after, transaction_type, description, reference_id, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	transactionColumns = `id, user_id, amount, balance_after, transaction_type, description, reference_id, created_at`

	listTransactionsQuery = `
SELECT ` + transactionColumns + `
FROM coin_transactions
WHERE user_id = $1
ORDER BY created_at DESC, id DESC`

	listTransactionsLimitQuery = listTransactionsQuery + `
LIMIT $2`
)

type pgCoinRepository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPgCoinRepository создает CoinRepository поверх PostgreSQL.
func NewPgCoinRepository(pool *pgxpool.Pool, logger *zap.Logger) interfaces.CoinRepository {
	return &pgCoinRepository{
		pool:   pool,
		logger: logger.Named("PgCoinRepo"),
	}
}

// pgCoinTx - операции над счетом в рамках открытой транзакции.
type pgCoinTx struct {
	db     DBTX
	userID string
}

func (r *pgCoinRepository) RunInTx(ctx context.Context, userID string, fn func(ctx context.Context, tx interfaces.CoinTx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		r.logger.Error("Failed to begin transaction", zap.String("userID", userID), zap.Error(err))
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer func() {
		// Rollback после Commit возвращает ErrTxClosed, это нормально
		if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			r.logger.Warn("Failed to rollback transaction", zap.String("userID", userID), zap.Error(rbErr))
		}
	}()

	if _, err := tx.Exec(ctx, lockAccountQuery, userID); err != nil {
		return fmt.Errorf("ошибка блокировки счета: %w", err)
	}

	if err := fn(ctx, &pgCoinTx{db: tx, userID: userID}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		if isUniqueViolation(err, "ux_coin_transactions_reference") {
			return models.ErrDuplicateReference
		}
		r.logger.Error("Failed to commit transaction", zap.String("userID", userID), zap.Error(err))
		return fmt.Errorf("ошибка фиксации транзакции: %w", err)
	}
	return nil
}

func (tx *pgCoinTx) GetAccount(ctx context.Context) (*models.CoinAccount, error) {
	var account models.CoinAccount
	if err := pgxscan.Get(ctx, tx.db, &account, getAccountForUpdateQuery, tx.userID); err != nil {
		if err = notFound(err); errors.Is(err, models.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("ошибка получения счета: %w", err)
	}
	return &account, nil
}

func (tx *pgCoinTx) ReferenceExists(ctx context.Context, referenceID string) (bool, error) {
	var exists bool
	if err := tx.db.QueryRow(ctx, referenceExistsQuery, referenceID).Scan(&exists); err != nil {
		return false, fmt.Errorf("ошибка проверки reference_id: %w", err)
	}
	return exists, nil
}

func (tx *pgCoinTx) PutAccount(ctx context.Context, a *models.CoinAccount) error {
	if _, err := tx.db.Exec(ctx, upsertAccountQuery,
		a.UserID,
		a.Balance,
		a.TotalEarned,
		a.TotalSpent,
		a.LastTransactionAt,
		a.CreatedAt,
		a.UpdatedAt,
	); err != nil {
		return fmt.Errorf("ошибка сохранения счета: %w", err)
	}
	return nil
}

func (tx *pgCoinTx) InsertTransaction(ctx context.Context, t *models.CoinTransaction) error {
	if _, err := tx.db.Exec(ctx, insertTransactionQuery,
		t.ID,
		t.UserID,
		t.Amount,
		t.BalanceAfter,
		string(t.Type),
		t.Description,
		t.ReferenceID,
		t.CreatedAt,
	); err != nil {
		if isUniqueViolation(err, "ux_coin_transactions_reference") {
			return models.ErrDuplicateReference
		}
		return fmt.Errorf("ошибка записи транзакции: %w", err)
	}
	return nil
}

func (r *pgCoinRepository) GetAccount(ctx context.Context, userID string) (*models.CoinAccount, error) {
	var account models.CoinAccount
	if err := pgxscan.Get(ctx, r.pool, &account, getAccountQuery, userID); err != nil {
		if err = notFound(err); errors.Is(err, models.ErrNotFound) {
			return nil, err
		}
		r.logger.Error("Failed to get account", zap.String("userID", userID), zap.Error(err))
		return nil, fmt.Errorf("ошибка получения счета: %w", err)
	}
	return &account, nil
}

func (r *pgCoinRepository) ListTransactions(ctx context.Context, userID string, limit int) ([]*models.CoinTransaction, error) {
	var (
		txs []*models.CoinTransaction
		err error
	)
	if limit > 0 {
		err = pgxscan.Select(ctx, r.pool, &txs, listTransactionsLimitQuery, userID, limit)
	} else {
		err = pgxscan.Select(ctx, r.pool, &txs, listTransactionsQuery, userID)
	}
	if err != nil {
		r.logger.Error("Failed to list transactions", zap.String("userID", userID), zap.Error(err))
		return nil, fmt.Errorf("ошибка получения журнала: %w", err)
	}
	return txs, nil
}
