package service

import (
	"context"
	"fmt"
	"time"

	"rpg-novel-server/internal/interfaces"
	"rpg-novel-server/internal/models"
	"rpg-novel-server/internal/payment"

	"go.uber.org/zap"
)

// PurchaseResult - ответ на запрос покупки. Монеты начисляются только после вебхука.
type PurchaseResult struct {
	TransactionID string `json:"transaction_id"`
	CoinsAdded    int64  `json:"coins_added"`
	NewBalance    int64  `json:"new_balance"`
	PaymentURL    string `json:"payment_url,omitempty"`
}

// PaymentService - покупка пакетов монет и обработка вебхуков провайдера.
type PaymentService interface {
	CreateCheckout(ctx context.Context, userID, email, packageID string) (*PurchaseResult, error)
	// HandleWebhook идемпотентен: повторная доставка одного события не начисляет монеты повторно.
	HandleWebhook(ctx context.Context, payload []byte, signature string) error
	PublishableKey() string
}

type paymentServiceImpl struct {
	gateway   payment.Gateway
	coins     CoinService
	publisher interfaces.EventPublisher
	logger    *zap.Logger
}

// NewPaymentService создает PaymentService. gateway может быть nil, если платежи не настроены.
func NewPaymentService(gateway payment.Gateway, coins CoinService, publisher interfaces.EventPublisher, logger *zap.Logger) PaymentService {
	return &paymentServiceImpl{
		gateway:   gateway,
		coins:     coins,
		publisher: publisher,
		logger:    logger.Named("PaymentService"),
	}
}

func (s *paymentServiceImpl) PublishableKey() string {
	if s.gateway == nil {
		return ""
	}
	return s.gateway.PublishableKey()
}

func (s *paymentServiceImpl) CreateCheckout(ctx context.Context, userID, email, packageID string) (*PurchaseResult, error) {
	if s.gateway == nil {
		return nil, fmt.Errorf("%w: платежи не настроены", models.ErrUpstreamUnavailable)
	}
	pkg, err := s.coins.GetPackage(packageID)
	if err != nil {
		return nil, err
	}

	session, err := s.gateway.CreateCheckout(ctx, *pkg, userID, email)
	if err != nil {
		return nil, err
	}

	account, err := s.coins.GetBalance(ctx, userID)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Создан checkout для покупки пакета",
		zap.String("userID", userID),
		zap.String("packageID", pkg.ID),
		zap.String("sessionID", session.ID),
	)
	return &PurchaseResult{
		TransactionID: session.ID,
		CoinsAdded:    0,
		NewBalance:    account.Balance,
		PaymentURL:    session.URL,
	}, nil
}

func (s *paymentServiceImpl) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	if s.gateway == nil {
		return fmt.Errorf("%w: платежи не настроены", models.ErrWebhookInvalid)
	}
	event, err := s.gateway.VerifyWebhook(payload, signature)
	if err != nil {
		return err
	}
	log := s.logger.With(zap.String("eventID", event.ID), zap.String("type", event.Type))

	if event.Type != payment.EventCheckoutCompleted {
		log.Debug("Событие пропущено")
		return nil
	}
	if !event.Paid {
		log.Info("Сессия завершена без оплаты", zap.String("sessionID", event.SessionID))
		return nil
	}
	if event.UserID == "" || event.Coins <= 0 || event.SessionID == "" {
		log.Warn("В событии нет данных для начисления", zap.String("sessionID", event.SessionID))
		return fmt.Errorf("%w: неполные метаданные сессии", models.ErrWebhookInvalid)
	}

	name := event.PackageName
	if name == "" {
		name = event.PackageID
	}
	ref := event.SessionID
	account, applied, err := s.coins.CreditOnce(ctx, event.UserID, event.Coins, models.TransactionPurchase, "Purchase of "+name, &ref)
	if err != nil {
		log.Error("Ошибка начисления монет по вебхуку", zap.String("userID", event.UserID), zap.Error(err))
		return err
	}
	if !applied {
		log.Info("Повторная доставка вебхука, монеты уже начислены", zap.String("sessionID", event.SessionID))
		return nil
	}

	log.Info("Покупка подтверждена",
		zap.String("userID", event.UserID),
		zap.String("sessionID", event.SessionID),
		zap.Int64("coins", event.Coins),
		zap.Int64("balance", account.Balance),
	)
	if s.publisher != nil {
		balance := account.Balance
		coins := event.Coins
		pubErr := s.publisher.PublishEvent(ctx, models.DomainEvent{
			Type:       models.EventPurchaseCompleted,
			UserID:     event.UserID,
			Balance:    &balance,
			Amount:     &coins,
			Attributes: map[string]any{"session_id": event.SessionID, "package_id": event.PackageID},
			OccurredAt: time.Now().UTC(),
		})
		if pubErr != nil {
			log.Warn("Не удалось опубликовать событие покупки", zap.Error(pubErr))
		}
	}
	return nil
}
