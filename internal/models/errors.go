package models

import (
	"errors"
	"fmt"
)

// Стандартные ошибки приложения
var (
	// Общие ошибки ресурсов
	ErrNotFound     = errors.New("resource not found")
	ErrInvalidInput = errors.New("invalid input data")

	// Аутентификация и доступ
	ErrUnauthenticated  = errors.New("unauthenticated")
	ErrPermissionDenied = errors.New("permission denied")

	// Игровой процесс
	ErrInvalidChoice     = errors.New("invalid choice")
	ErrStoryFinished     = errors.New("story has already reached an ending")
	ErrStoryBusy         = errors.New("story is being advanced by another request")
	ErrStepIndexConflict = errors.New("step index already exists for this story")

	// Монеты
	ErrInsufficientFunds  = errors.New("insufficient coins")
	ErrDuplicateReference = errors.New("transaction with this reference already exists")
	ErrInvalidAmount      = errors.New("amount must be positive")

	// Внешний генеративный сервис
	ErrUpstreamUnavailable      = errors.New("generative service unavailable")
	ErrUpstreamError            = errors.New("generative service returned an error")
	ErrMalformedUpstreamPayload = errors.New("generative service returned a malformed payload")

	// Платежи
	ErrWebhookInvalid  = errors.New("invalid payment webhook")
	ErrPayloadTooLarge = errors.New("request body is too large")
)

// InsufficientFundsError несет сведения о нехватке монет для клиента.
type InsufficientFundsError struct {
	Balance  int64
	Required int64
	Packages []CoinPackage
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("%s: balance %d, required %d", ErrInsufficientFunds.Error(), e.Balance, e.Required)
}

// Is позволяет использовать errors.Is(err, ErrInsufficientFunds).
func (e *InsufficientFundsError) Is(target error) bool {
	return target == ErrInsufficientFunds
}
