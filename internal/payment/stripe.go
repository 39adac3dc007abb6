package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"rpg-novel-server/internal/models"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"
	"github.com/stripe/stripe-go/v81/webhook"
	"go.uber.org/zap"
)

// StripeConfig - настройки Stripe.
type StripeConfig struct {
	SecretKey      string
	PublishableKey string
	WebhookSecret  string
	SuccessURL     string
	CancelURL      string
	// APIURL переопределяет адрес API (тесты, stripe-mock).
	APIURL string
	// WebhookTolerance - допустимый возраст подписи вебхука.
	WebhookTolerance time.Duration
}

type stripeGateway struct {
	api    *client.API
	cfg    StripeConfig
	logger *zap.Logger
}

var _ Gateway = (*stripeGateway)(nil)

// NewStripeGateway создает Gateway поверх Stripe Checkout.
func NewStripeGateway(cfg StripeConfig, logger *zap.Logger) (Gateway, error) {
	if cfg.SecretKey == "" {
		return nil, errors.New("stripe secret key не задан")
	}
	if cfg.WebhookTolerance <= 0 {
		cfg.WebhookTolerance = webhook.DefaultTolerance
	}

	var backends *stripe.Backends
	if cfg.APIURL != "" {
		backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
			URL:               stripe.String(cfg.APIURL),
			MaxNetworkRetries: stripe.Int64(0),
		})
		backends = &stripe.Backends{API: backend, Connect: backend, Uploads: backend}
	}

	api := &client.API{}
	api.Init(cfg.SecretKey, backends)

	return &stripeGateway{
		api:    api,
		cfg:    cfg,
		logger: logger.Named("StripeGateway"),
	}, nil
}

func (g *stripeGateway) PublishableKey() string {
	return g.cfg.PublishableKey
}

func (g *stripeGateway) CreateCheckout(ctx context.Context, pkg models.CoinPackage, userID, email string) (*CheckoutSession, error) {
	log := g.logger.With(zap.String("userID", userID), zap.String("packageID", pkg.ID))

	currency := pkg.Currency
	if currency == "" {
		currency = string(stripe.CurrencyBRL)
	}

	params := &stripe.CheckoutSessionParams{
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:         stripe.String(g.cfg.SuccessURL),
		CancelURL:          stripe.String(g.cfg.CancelURL),
		ClientReferenceID:  stripe.String(userID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(currency),
					UnitAmount: stripe.Int64(pkg.PriceCents),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name:        stripe.String(pkg.Name),
						Description: stripe.String(fmt.Sprintf("%d coins for your RPG adventure", pkg.Coins)),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
	}
	if email != "" {
		params.CustomerEmail = stripe.String(email)
	}
	params.Context = ctx
	params.AddMetadata(MetadataUserID, userID)
	params.AddMetadata(MetadataPackageID, pkg.ID)
	params.AddMetadata(MetadataCoins, strconv.FormatInt(pkg.Coins, 10))
	params.AddMetadata(MetadataPackageName, pkg.Name)

	session, err := g.api.CheckoutSessions.New(params)
	if err != nil {
		log.Error("Ошибка создания checkout-сессии", zap.Error(err))
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode > 0 {
			return nil, fmt.Errorf("%w: stripe: %s", models.ErrUpstreamError, stripeErr.Msg)
		}
		return nil, fmt.Errorf("%w: stripe: %v", models.ErrUpstreamUnavailable, err)
	}

	log.Info("Checkout-сессия создана", zap.String("sessionID", session.ID))
	return &CheckoutSession{ID: session.ID, URL: session.URL}, nil
}

func (g *stripeGateway) VerifyWebhook(payload []byte, signature string) (*Event, error) {
	if signature == "" {
		return nil, fmt.Errorf("%w: нет подписи", models.ErrWebhookInvalid)
	}

	event, err := webhook.ConstructEventWithOptions(payload, signature, g.cfg.WebhookSecret, webhook.ConstructEventOptions{
		Tolerance:                g.cfg.WebhookTolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		g.logger.Warn("Вебхук не прошел проверку подписи", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", models.ErrWebhookInvalid, err)
	}

	out := &Event{ID: event.ID, Type: string(event.Type)}
	if event.Type != stripe.EventTypeCheckoutSessionCompleted {
		return out, nil
	}
	if event.Data == nil {
		return nil, fmt.Errorf("%w: пустые данные события", models.ErrWebhookInvalid)
	}

	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return nil, fmt.Errorf("%w: не удалось разобрать сессию: %v", models.ErrWebhookInvalid, err)
	}

	out.SessionID = session.ID
	out.Paid = session.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid
	out.UserID = session.Metadata[MetadataUserID]
	if out.UserID == "" {
		out.UserID = session.ClientReferenceID
	}
	out.PackageID = session.Metadata[MetadataPackageID]
	out.PackageName = session.Metadata[MetadataPackageName]
	if raw, ok := session.Metadata[MetadataCoins]; ok {
		coins, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: некорректное количество монет %q", models.ErrWebhookInvalid, raw)
		}
		out.Coins = coins
	}
	return out, nil
}
