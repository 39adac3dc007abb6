package payment

import (
	"context"

	"rpg-novel-server/internal/models"
)

// Типы событий платежного провайдера, которые обрабатывает сервер
const (
	EventCheckoutCompleted = "checkout.session.completed"
)

// Ключи метаданных checkout-сессии
const (
	MetadataUserID      = "user_id"
	MetadataPackageID   = "package_id"
	MetadataCoins       = "coins"
	MetadataPackageName = "package_name"
)

// CheckoutSession - созданная сессия оплаты.
type CheckoutSession struct {
	ID  string
	URL string
}

// Event - проверенное событие вебхука.
// Поля сессии заполнены только для событий checkout.
type Event struct {
	ID          string
	Type        string
	SessionID   string
	Paid        bool
	UserID      string
	PackageID   string
	PackageName string
	Coins       int64
}

// Gateway - платежный провайдер.
type Gateway interface {
	CreateCheckout(ctx context.Context, pkg models.CoinPackage, userID, email string) (*CheckoutSession, error)
	// VerifyWebhook проверяет подпись и разбирает событие.
	// Ошибки оборачивают models.ErrWebhookInvalid.
	VerifyWebhook(payload []byte, signature string) (*Event, error)
	PublishableKey() string
}
