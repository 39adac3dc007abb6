package models

import "time"

// TransactionType - тип операции с монетами.
type TransactionType string

const (
	TransactionPurchase     TransactionType = "purchase"
	TransactionDebit        TransactionType = "debit"
	TransactionInitialBonus TransactionType = "initial_bonus"
	TransactionRefund       TransactionType = "refund"
	TransactionAdminBonus   TransactionType = "admin_bonus"
)

// Valid проверяет, что тип транзакции известен.
func (t TransactionType) Valid() bool {
	switch t {
	case TransactionPurchase, TransactionDebit, TransactionInitialBonus, TransactionRefund, TransactionAdminBonus:
		return true
	}
	return false
}

// CoinAccount - текущее состояние баланса пользователя.
// Инвариант: Balance == TotalEarned - TotalSpent.
type CoinAccount struct {
	UserID            string     `json:"user_id" db:"user_id"`
	Balance           int64      `json:"balance" db:"balance"`
	TotalEarned       int64      `json:"total_earned" db:"total_earned"`
	TotalSpent        int64      `json:"total_spent" db:"total_spent"`
	LastTransactionAt *time.Time `json:"last_transaction_at" db:"last_transaction_at"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at" db:"updated_at"`
}

// CoinTransaction - запись журнала операций (только добавление).
type CoinTransaction struct {
	ID           string          `json:"transaction_id" db:"id"`
	UserID       string          `json:"user_id" db:"user_id"`
	Amount       int64           `json:"amount" db:"amount"`
	BalanceAfter int64           `json:"balance_after" db:"balance_after"`
	Type         TransactionType `json:"transaction_type" db:"transaction_type"`
	Description  string          `json:"description" db:"description"`
	ReferenceID  *string         `json:"reference_id,omitempty" db:"reference_id"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}

// CoinPackage - пакет монет для покупки. Цена хранится в сентаво.
type CoinPackage struct {
	ID              string  `json:"package_id"`
	Name            string  `json:"name"`
	Coins           int64   `json:"coins"`
	PriceCents      int64   `json:"price_cents"`
	Currency        string  `json:"currency"`
	DiscountPercent float64 `json:"discount_percentage,omitempty"`
	IsActive        bool    `json:"is_active"`
}

// PriceBRL возвращает цену в реалах.
func (p CoinPackage) PriceBRL() float64 {
	return float64(p.PriceCents) / 100
}
