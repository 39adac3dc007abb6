package mocks

import (
	"context"

	"rpg-novel-server/internal/interfaces"
	"rpg-novel-server/internal/models"

	"github.com/stretchr/testify/mock"
)

// TokenVerifier - мок interfaces.TokenVerifier
type TokenVerifier struct {
	mock.Mock
}

func (m *TokenVerifier) Verify(ctx context.Context, token string) (*models.Identity, error) {
	args := m.Called(ctx, token)
	var id *models.Identity
	if v := args.Get(0); v != nil {
		id = v.(*models.Identity)
	}
	return id, args.Error(1)
}

var _ interfaces.TokenVerifier = (*TokenVerifier)(nil)
