package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"rpg-novel-server/internal/interfaces"
	"rpg-novel-server/internal/models"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

const (
	defaultTransactionsLimit = 50
	maxTransactionsLimit     = 200
	initialBonusRefPrefix    = "initial_bonus:"
	// Повторы при гонке первичной инициализации счета
	maxInitAttempts = 3
)

var (
	coinsMovedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rpg_coins_moved_total",
			Help: "Total number of coins credited or debited, by transaction type.",
		},
		[]string{"type"},
	)
	coinDuplicateCreditsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rpg_coins_duplicate_references_total",
			Help: "Number of ledger operations skipped because the reference was already applied.",
		},
	)
)

// DefaultPackages - каталог пакетов монет по умолчанию.
func DefaultPackages() []models.CoinPackage {
	return []models.CoinPackage{
		{ID: "pack_100", Name: "Pacote Iniciante", Coins: 100, PriceCents: 100, Currency: "brl", IsActive: true},
		{ID: "pack_500", Name: "Pacote Popular", Coins: 500, PriceCents: 1500, Currency: "brl", DiscountPercent: 16.67, IsActive: true},
		{ID: "pack_2000", Name: "Pacote Premium", Coins: 2000, PriceCents: 3000, Currency: "brl", DiscountPercent: 50, IsActive: true},
	}
}

// CoinConfig - настройки журнала монет.
type CoinConfig struct {
	InitialBonus      int64
	StoryCreationCost int64
	ContinuationCost  int64
	Packages          []models.CoinPackage
}

// CoinService - операции с балансом монет пользователя.
type CoinService interface {
	// GetBalance возвращает счет, создавая его с начальным бонусом при первом обращении.
	GetBalance(ctx context.Context, userID string) (*models.CoinAccount, error)
	HasSufficient(ctx context.Context, userID string, amount int64) (bool, error)
	// EnsureSufficient возвращает *models.InsufficientFundsError, если баланса не хватает.
	EnsureSufficient(ctx context.Context, userID string, amount int64) (*models.CoinAccount, error)
	Debit(ctx context.Context, userID string, amount int64, description string, referenceID *string) (*models.CoinAccount, error)
	// Credit идемпотентен по referenceID: повторный вызов возвращает текущий счет без начисления.
	Credit(ctx context.Context, userID string, amount int64, txType models.TransactionType, description string, referenceID *string) (*models.CoinAccount, error)
	// CreditOnce работает как Credit и сообщает, было ли начисление выполнено этим вызовом.
	CreditOnce(ctx context.Context, userID string, amount int64, txType models.TransactionType, description string, referenceID *string) (*models.CoinAccount, bool, error)
	ListTransactions(ctx context.Context, userID string, limit int) ([]*models.CoinTransaction, error)
	ListPackages() []models.CoinPackage
	GetPackage(id string) (*models.CoinPackage, error)
	StoryCreationCost() int64
	ContinuationCost() int64
}

type coinServiceImpl struct {
	repo      interfaces.CoinRepository
	publisher interfaces.EventPublisher
	cfg       CoinConfig
	now       func() time.Time
	logger    *zap.Logger
}

// NewCoinService создает CoinService.
func NewCoinService(repo interfaces.CoinRepository, publisher interfaces.EventPublisher, cfg CoinConfig, logger *zap.Logger) CoinService {
	if cfg.Packages == nil {
		cfg.Packages = DefaultPackages()
	}
	return &coinServiceImpl{
		repo:      repo,
		publisher: publisher,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger.Named("CoinService"),
	}
}

func (s *coinServiceImpl) StoryCreationCost() int64 { return s.cfg.StoryCreationCost }
func (s *coinServiceImpl) ContinuationCost() int64  { return s.cfg.ContinuationCost }

func (s *coinServiceImpl) GetBalance(ctx context.Context, userID string) (*models.CoinAccount, error) {
	account, err := s.repo.GetAccount(ctx, userID)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("ошибка получения баланса: %w", err)
	}

	// Счета нет - создаем в транзакции
	err = s.withRetry(ctx, userID, func(ctx context.Context, tx interfaces.CoinTx) error {
		acc, err := s.ensureAccount(ctx, tx, userID)
		if err != nil {
			return err
		}
		account = acc
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка инициализации счета: %w", err)
	}
	return account, nil
}

func (s *coinServiceImpl) HasSufficient(ctx context.Context, userID string, amount int64) (bool, error) {
	account, err := s.GetBalance(ctx, userID)
	if err != nil {
		return false, err
	}
	return account.Balance >= amount, nil
}

func (s *coinServiceImpl) EnsureSufficient(ctx context.Context, userID string, amount int64) (*models.CoinAccount, error) {
	account, err := s.GetBalance(ctx, userID)
	if err != nil {
		return nil, err
	}
	if account.Balance < amount {
		return account, s.insufficient(account.Balance, amount)
	}
	return account, nil
}

func (s *coinServiceImpl) Debit(ctx context.Context, userID string, amount int64, description string, referenceID *string) (*models.CoinAccount, error) {
	if amount <= 0 {
		return nil, models.ErrInvalidAmount
	}
	log := s.logger.With(zap.String("userID", userID), zap.Int64("amount", amount))

	var (
		result    *models.CoinAccount
		duplicate bool
	)
	err := s.withRetry(ctx, userID, func(ctx context.Context, tx interfaces.CoinTx) error {
		duplicate = false
		account, err := s.ensureAccount(ctx, tx, userID)
		if err != nil {
			return err
		}
		if referenceID != nil {
			exists, err := tx.ReferenceExists(ctx, *referenceID)
			if err != nil {
				return err
			}
			if exists {
				duplicate = true
				result = account
				return nil
			}
		}
		if account.Balance < amount {
			return s.insufficient(account.Balance, amount)
		}

		now := s.now()
		account.Balance -= amount
		account.TotalSpent += amount
		account.LastTransactionAt = &now
		account.UpdatedAt = now
		if err := tx.PutAccount(ctx, account); err != nil {
			return err
		}
		if err := tx.InsertTransaction(ctx, s.newTransaction(userID, -amount, account.Balance, models.TransactionDebit, description, referenceID, now)); err != nil {
			return err
		}
		result = account
		return nil
	})
	if err != nil {
		if errors.Is(err, models.ErrInsufficientFunds) {
			log.Info("Недостаточно монет для списания")
			return nil, err
		}
		if errors.Is(err, models.ErrDuplicateReference) {
			return s.duplicateResult(ctx, userID, referenceID)
		}
		log.Error("Ошибка списания монет", zap.Error(err))
		return nil, fmt.Errorf("ошибка списания монет: %w", err)
	}

	if duplicate {
		coinDuplicateCreditsTotal.Inc()
		log.Info("Списание с этим reference уже выполнено", zap.Stringp("referenceID", referenceID))
		return result, nil
	}

	coinsMovedTotal.WithLabelValues(string(models.TransactionDebit)).Add(float64(amount))
	log.Info("Монеты списаны", zap.Int64("balance", result.Balance))
	s.publishUpdate(ctx, result, -amount)
	return result, nil
}

func (s *coinServiceImpl) Credit(ctx context.Context, userID string, amount int64, txType models.TransactionType, description string, referenceID *string) (*models.CoinAccount, error) {
	account, _, err := s.CreditOnce(ctx, userID, amount, txType, description, referenceID)
	return account, err
}

func (s *coinServiceImpl) CreditOnce(ctx context.Context, userID string, amount int64, txType models.TransactionType, description string, referenceID *string) (*models.CoinAccount, bool, error) {
	if amount <= 0 {
		return nil, false, models.ErrInvalidAmount
	}
	if !txType.Valid() || txType == models.TransactionDebit {
		return nil, false, fmt.Errorf("%w: недопустимый тип начисления %q", models.ErrInvalidInput, txType)
	}
	log := s.logger.With(zap.String("userID", userID), zap.Int64("amount", amount), zap.String("type", string(txType)))

	var (
		result    *models.CoinAccount
		duplicate bool
	)
	err := s.withRetry(ctx, userID, func(ctx context.Context, tx interfaces.CoinTx) error {
		duplicate = false
		account, err := s.ensureAccount(ctx, tx, userID)
		if err != nil {
			return err
		}
		if referenceID != nil {
			exists, err := tx.ReferenceExists(ctx, *referenceID)
			if err != nil {
				return err
			}
			if exists {
				duplicate = true
				result = account
				return nil
			}
		}

		now := s.now()
		account.Balance += amount
		account.TotalEarned += amount
		account.LastTransactionAt = &now
		account.UpdatedAt = now
		if err := tx.PutAccount(ctx, account); err != nil {
			return err
		}
		if err := tx.InsertTransaction(ctx, s.newTransaction(userID, amount, account.Balance, txType, description, referenceID, now)); err != nil {
			return err
		}
		result = account
		return nil
	})
	if err != nil {
		// Уникальность reference сработала на записи - параллельная доставка уже начислила
		if errors.Is(err, models.ErrDuplicateReference) {
			account, err := s.duplicateResult(ctx, userID, referenceID)
			return account, false, err
		}
		log.Error("Ошибка начисления монет", zap.Error(err))
		return nil, false, fmt.Errorf("ошибка начисления монет: %w", err)
	}

	if duplicate {
		coinDuplicateCreditsTotal.Inc()
		log.Info("Начисление с этим reference уже выполнено", zap.Stringp("referenceID", referenceID))
		return result, false, nil
	}

	coinsMovedTotal.WithLabelValues(string(txType)).Add(float64(amount))
	log.Info("Монеты начислены", zap.Int64("balance", result.Balance))
	s.publishUpdate(ctx, result, amount)
	return result, true, nil
}

func (s *coinServiceImpl) ListTransactions(ctx context.Context, userID string, limit int) ([]*models.CoinTransaction, error) {
	if limit <= 0 {
		limit = defaultTransactionsLimit
	}
	if limit > maxTransactionsLimit {
		limit = maxTransactionsLimit
	}
	txs, err := s.repo.ListTransactions(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения транзакций: %w", err)
	}
	return txs, nil
}

func (s *coinServiceImpl) ListPackages() []models.CoinPackage {
	out := make([]models.CoinPackage, 0, len(s.cfg.Packages))
	for _, p := range s.cfg.Packages {
		if p.IsActive {
			out = append(out, p)
		}
	}
	return out
}

func (s *coinServiceImpl) GetPackage(id string) (*models.CoinPackage, error) {
	for _, p := range s.cfg.Packages {
		if p.ID == id && p.IsActive {
			pkg := p
			return &pkg, nil
		}
	}
	return nil, fmt.Errorf("пакет %s: %w", id, models.ErrNotFound)
}

// ensureAccount читает счет в транзакции или создает его с начальным бонусом.
func (s *coinServiceImpl) ensureAccount(ctx context.Context, tx interfaces.CoinTx, userID string) (*models.CoinAccount, error) {
	account, err := tx.GetAccount(ctx)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}

	now := s.now()
	account = &models.CoinAccount{
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if s.cfg.InitialBonus > 0 {
		account.Balance = s.cfg.InitialBonus
		account.TotalEarned = s.cfg.InitialBonus
		account.LastTransactionAt = &now
	}
	if err := tx.PutAccount(ctx, account); err != nil {
		return nil, err
	}
	if s.cfg.InitialBonus > 0 {
		ref := initialBonusRefPrefix + userID
		bonus := s.newTransaction(userID, s.cfg.InitialBonus, account.Balance, models.TransactionInitialBonus, "Welcome bonus", &ref, now)
		if err := tx.InsertTransaction(ctx, bonus); err != nil {
			if errors.Is(err, models.ErrDuplicateReference) {
				return nil, errInitRace
			}
			return nil, err
		}
	}
	s.logger.Info("Создан счет монет", zap.String("userID", userID), zap.Int64("initialBonus", s.cfg.InitialBonus))
	return account, nil
}

// errInitRace - счет параллельно создан другим запросом, транзакцию нужно повторить.
var errInitRace = errors.New("coin account initialized concurrently")

func (s *coinServiceImpl) withRetry(ctx context.Context, userID string, fn func(ctx context.Context, tx interfaces.CoinTx) error) error {
	var err error
	for attempt := 0; attempt < maxInitAttempts; attempt++ {
		err = s.repo.RunInTx(ctx, userID, fn)
		if !errors.Is(err, errInitRace) {
			return err
		}
		s.logger.Debug("Гонка инициализации счета, повтор", zap.String("userID", userID), zap.Int("attempt", attempt+1))
	}
	return err
}

func (s *coinServiceImpl) duplicateResult(ctx context.Context, userID string, referenceID *string) (*models.CoinAccount, error) {
	coinDuplicateCreditsTotal.Inc()
	s.logger.Info("Операция с этим reference уже применена", zap.String("userID", userID), zap.Stringp("referenceID", referenceID))
	account, err := s.repo.GetAccount(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения счета после повторной операции: %w", err)
	}
	return account, nil
}

func (s *coinServiceImpl) insufficient(balance, required int64) error {
	return &models.InsufficientFundsError{
		Balance:  balance,
		Required: required,
		Packages: s.ListPackages(),
	}
}

func (s *coinServiceImpl) newTransaction(userID string, amount, balanceAfter int64, txType models.TransactionType, description string, referenceID *string, now time.Time) *models.CoinTransaction {
	var ref *string
	if referenceID != nil {
		r := *referenceID
		ref = &r
	}
	return &models.CoinTransaction{
		ID:           uuid.NewString(),
		UserID:       userID,
		Amount:       amount,
		BalanceAfter: balanceAfter,
		Type:         txType,
		Description:  description,
		ReferenceID:  ref,
		CreatedAt:    now,
	}
}

func (s *coinServiceImpl) publishUpdate(ctx context.Context, account *models.CoinAccount, amount int64) {
	if s.publisher == nil {
		return
	}
	balance := account.Balance
	event := models.DomainEvent{
		Type:       models.EventCoinsUpdated,
		UserID:     account.UserID,
		Balance:    &balance,
		Amount:     &amount,
		OccurredAt: s.now(),
	}
	if err := s.publisher.PublishEvent(ctx, event); err != nil {
		s.logger.Warn("Не удалось опубликовать событие изменения баланса", zap.String("userID", account.UserID), zap.Error(err))
	}
}
