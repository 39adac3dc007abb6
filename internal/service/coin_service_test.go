package service

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"rpg-novel-server/internal/memstore"
	"rpg-novel-server/internal/mocks"
	"rpg-novel-server/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newCoinService(t *testing.T, cfg CoinConfig) (CoinService, *memstore.CoinRepository, *mocks.EventPublisher) {
	t.Helper()
	publisher := &mocks.EventPublisher{}
	publisher.On("PublishEvent", mock.Anything, mock.Anything).Return(nil).Maybe()
	repo := memstore.NewCoinRepository(zap.NewNop())
	return NewCoinService(repo, publisher, cfg, zap.NewNop()), repo, publisher
}

func strPtr(s string) *string { return &s }

func TestCoinService_InitialBonus(t *testing.T) {
	svc, _, _ := newCoinService(t, CoinConfig{InitialBonus: 50})
	ctx := context.Background()

	acc, err := svc.GetBalance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(50), acc.Balance)
	assert.Equal(t, int64(50), acc.TotalEarned)

	// Повторное обращение не начисляет бонус еще раз
	acc, err = svc.GetBalance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(50), acc.Balance)

	txs, err := svc.ListTransactions(ctx, "u1", 0)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, models.TransactionInitialBonus, txs[0].Type)
	require.NotNil(t, txs[0].ReferenceID)
	assert.Equal(t, "initial_bonus:u1", *txs[0].ReferenceID)
}

func TestCoinService_NoInitialBonus(t *testing.T) {
	svc, _, _ := newCoinService(t, CoinConfig{})
	ctx := context.Background()

	acc, err := svc.GetBalance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), acc.Balance)

	txs, err := svc.ListTransactions(ctx, "u1", 0)
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestCoinService_CreditOnceReportsDuplicate(t *testing.T) {
	svc, _, _ := newCoinService(t, CoinConfig{InitialBonus: 50})
	ctx := context.Background()

	acc, applied, err := svc.CreditOnce(ctx, "u1", 100, models.TransactionPurchase, "Pacote Iniciante", strPtr("sess_once"))
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, int64(150), acc.Balance)

	acc, applied, err = svc.CreditOnce(ctx, "u1", 100, models.TransactionPurchase, "Pacote Iniciante", strPtr("sess_once"))
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, int64(150), acc.Balance)

	// Без reference каждое начисление применяется
	_, applied, err = svc.CreditOnce(ctx, "u1", 10, models.TransactionAdminBonus, "bonus", nil)
	require.NoError(t, err)
	assert.True(t, applied)
}

func TestCoinService_IdempotentCredit(t *testing.T) {
	svc, _, _ := newCoinService(t, CoinConfig{InitialBonus: 50})
	ctx := context.Background()

	acc, err := svc.Credit(ctx, "u1", 100, models.TransactionPurchase, "Pacote Iniciante", strPtr("sess_abc"))
	require.NoError(t, err)
	assert.Equal(t, int64(150), acc.Balance)

	acc, err = svc.Credit(ctx, "u1", 100, models.TransactionPurchase, "Pacote Iniciante", strPtr("sess_abc"))
	require.NoError(t, err)
	assert.Equal(t, int64(150), acc.Balance)

	txs, err := svc.ListTransactions(ctx, "u1", 0)
	require.NoError(t, err)
	purchases := 0
	for _, tx := range txs {
		if tx.Type == models.TransactionPurchase {
			purchases++
		}
	}
	assert.Equal(t, 1, purchases)
}

func TestCoinService_IdempotentDebit(t *testing.T) {
	svc, _, _ := newCoinService(t, CoinConfig{InitialBonus: 50})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		acc, err := svc.Debit(ctx, "u1", 5, "Story creation", strPtr("story-1"))
		require.NoError(t, err)
		assert.Equal(t, int64(45), acc.Balance)
	}
}

func TestCoinService_ValidationErrors(t *testing.T) {
	svc, _, _ := newCoinService(t, CoinConfig{InitialBonus: 50})
	ctx := context.Background()

	t.Run("Нулевая сумма списания", func(t *testing.T) {
		_, err := svc.Debit(ctx, "u1", 0, "x", nil)
		assert.ErrorIs(t, err, models.ErrInvalidAmount)
	})
	t.Run("Отрицательное начисление", func(t *testing.T) {
		_, err := svc.Credit(ctx, "u1", -10, models.TransactionPurchase, "x", nil)
		assert.ErrorIs(t, err, models.ErrInvalidAmount)
	})
	t.Run("Начисление с типом debit", func(t *testing.T) {
		_, err := svc.Credit(ctx, "u1", 10, models.TransactionDebit, "x", nil)
		assert.ErrorIs(t, err, models.ErrInvalidInput)
	})
	t.Run("Неизвестный тип", func(t *testing.T) {
		_, err := svc.Credit(ctx, "u1", 10, models.TransactionType("gift"), "x", nil)
		assert.ErrorIs(t, err, models.ErrInvalidInput)
	})
}

func TestCoinService_InsufficientFunds(t *testing.T) {
	svc, _, _ := newCoinService(t, CoinConfig{InitialBonus: 3})
	ctx := context.Background()

	ok, err := svc.HasSufficient(ctx, "u1", 5)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = svc.Debit(ctx, "u1", 5, "Story creation", strPtr("story-1"))
	require.Error(t, err)
	var insufficient *models.InsufficientFundsError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, int64(3), insufficient.Balance)
	assert.Equal(t, int64(5), insufficient.Required)

	// Неудачное списание не оставляет следов в журнале
	acc, err := svc.GetBalance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), acc.Balance)
	txs, err := svc.ListTransactions(ctx, "u1", 0)
	require.NoError(t, err)
	assert.Len(t, txs, 1)

	// reference не занят неудачной попыткой
	_, err = svc.Credit(ctx, "u1", 10, models.TransactionAdminBonus, "top up", nil)
	require.NoError(t, err)
	acc, err = svc.Debit(ctx, "u1", 5, "Story creation", strPtr("story-1"))
	require.NoError(t, err)
	assert.Equal(t, int64(8), acc.Balance)
}

func TestCoinService_BalanceMatchesLedger(t *testing.T) {
	svc, _, _ := newCoinService(t, CoinConfig{InitialBonus: 50})
	ctx := context.Background()

	ops := []func() error{
		func() error { _, err := svc.Debit(ctx, "u1", 5, "a", strPtr("d1")); return err },
		func() error {
			_, err := svc.Credit(ctx, "u1", 500, models.TransactionPurchase, "b", strPtr("sess_1"))
			return err
		},
		func() error { _, err := svc.Debit(ctx, "u1", 5, "c", strPtr("d2")); return err },
		func() error { _, err := svc.Credit(ctx, "u1", 5, models.TransactionRefund, "d", strPtr("refund:d2")); return err },
		func() error { _, err := svc.Debit(ctx, "u1", 200, "e", nil); return err },
		func() error {
			_, err := svc.Credit(ctx, "u1", 500, models.TransactionPurchase, "b", strPtr("sess_1"))
			return err
		},
	}
	for i, op := range ops {
		require.NoError(t, op(), "операция %d", i)
	}

	acc, err := svc.GetBalance(ctx, "u1")
	require.NoError(t, err)
	txs, err := svc.ListTransactions(ctx, "u1", 0)
	require.NoError(t, err)

	var sum, earned, spent int64
	for _, tx := range txs {
		sum += tx.Amount
		if tx.Amount > 0 {
			earned += tx.Amount
		} else {
			spent -= tx.Amount
		}
		assert.GreaterOrEqual(t, tx.BalanceAfter, int64(0))
	}
	assert.Equal(t, int64(345), acc.Balance)
	assert.Equal(t, acc.Balance, sum)
	assert.Equal(t, acc.TotalEarned, earned)
	assert.Equal(t, acc.TotalSpent, spent)
	assert.Equal(t, acc.Balance, txs[0].BalanceAfter)
}

func TestCoinService_ConcurrentFirstAccess(t *testing.T) {
	svc, _, _ := newCoinService(t, CoinConfig{InitialBonus: 50})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.GetBalance(ctx, "u1")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	acc, err := svc.GetBalance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(50), acc.Balance)

	txs, err := svc.ListTransactions(ctx, "u1", 0)
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}

func TestCoinService_ConcurrentDebits(t *testing.T) {
	svc, _, _ := newCoinService(t, CoinConfig{InitialBonus: 50})
	ctx := context.Background()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 15; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := svc.Debit(ctx, "u1", 5, "parallel", strPtr(fmt.Sprintf("p%d", i))); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, models.ErrInsufficientFunds)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 10, succeeded)
	acc, err := svc.GetBalance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), acc.Balance)
}

func TestCoinService_Events(t *testing.T) {
	publisher := &mocks.EventPublisher{}
	svc := NewCoinService(memstore.NewCoinRepository(zap.NewNop()), publisher, CoinConfig{}, zap.NewNop())
	ctx := context.Background()

	publisher.On("PublishEvent", mock.Anything, mock.MatchedBy(func(e models.DomainEvent) bool {
		return e.Type == models.EventCoinsUpdated && e.UserID == "u1" &&
			e.Balance != nil && *e.Balance == 100 && e.Amount != nil && *e.Amount == 100
	})).Return(fmt.Errorf("broker down")).Once()

	// Ошибка публикации не ломает начисление
	acc, err := svc.Credit(ctx, "u1", 100, models.TransactionPurchase, "x", strPtr("sess_x"))
	require.NoError(t, err)
	assert.Equal(t, int64(100), acc.Balance)

	// Повтор не публикует событие
	_, err = svc.Credit(ctx, "u1", 100, models.TransactionPurchase, "x", strPtr("sess_x"))
	require.NoError(t, err)
	publisher.AssertExpectations(t)
}

func TestCoinService_Packages(t *testing.T) {
	packages := append(DefaultPackages(), models.CoinPackage{ID: "pack_old", Name: "Old", Coins: 10, PriceCents: 10, Currency: "brl"})
	svc, _, _ := newCoinService(t, CoinConfig{Packages: packages})

	active := svc.ListPackages()
	require.Len(t, active, 3)
	assert.Equal(t, "pack_100", active[0].ID)

	pkg, err := svc.GetPackage("pack_500")
	require.NoError(t, err)
	assert.Equal(t, int64(500), pkg.Coins)
	assert.Equal(t, 15.0, pkg.PriceBRL())

	_, err = svc.GetPackage("pack_old")
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = svc.GetPackage("nope")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestCoinService_ListTransactionsLimit(t *testing.T) {
	svc, _, _ := newCoinService(t, CoinConfig{InitialBonus: 1000})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := svc.Debit(ctx, "u1", 1, "x", nil)
		require.NoError(t, err)
	}
	txs, err := svc.ListTransactions(ctx, "u1", 3)
	require.NoError(t, err)
	require.Len(t, txs, 3)
	assert.Equal(t, int64(995), txs[0].BalanceAfter)
}
