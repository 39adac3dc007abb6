package mocks

import (
	"context"

	"rpg-novel-server/internal/models"
	"rpg-novel-server/internal/payment"

	"github.com/stretchr/testify/mock"
)

// PaymentGateway - мок payment.Gateway
type PaymentGateway struct {
	mock.Mock
}

func (m *PaymentGateway) CreateCheckout(ctx context.Context, pkg models.CoinPackage, userID, email string) (*payment.CheckoutSession, error) {
	args := m.Called(ctx, pkg, userID, email)
	var s *payment.CheckoutSession
	if v := args.Get(0); v != nil {
		s = v.(*payment.CheckoutSession)
	}
	return s, args.Error(1)
}

func (m *PaymentGateway) VerifyWebhook(payload []byte, signature string) (*payment.Event, error) {
	args := m.Called(payload, signature)
	var e *payment.Event
	if v := args.Get(0); v != nil {
		e = v.(*payment.Event)
	}
	return e, args.Error(1)
}

func (m *PaymentGateway) PublishableKey() string {
	return m.Called().String(0)
}

var _ payment.Gateway = (*PaymentGateway)(nil)
