package mocks

import (
	"context"

	"rpg-novel-server/internal/interfaces"
	"rpg-novel-server/internal/models"

	"github.com/stretchr/testify/mock"
)

// MockStepGenerator is a mock type for the interfaces.StepGenerator type
type MockStepGenerator struct {
	mock.Mock
}

// Generate provides a mock function with given fields: ctx, userID, theme, character, history, maxChoices
func (_m *MockStepGenerator) Generate(ctx context.Context, userID, theme, character string, history []models.HistoryEntry, maxChoices int) (*models.GeneratedStep, error) {
	ret := _m.Called(ctx, userID, theme, character, history, maxChoices)

	var r0 *models.GeneratedStep
	if rf, ok := ret.Get(0).(func(context.Context, string, string, string, []models.HistoryEntry, int) *models.GeneratedStep); ok {
		r0 = rf(ctx, userID, theme, character, history, maxChoices)
	} else if ret.Get(0) != nil {
		r0 = ret.Get(0).(*models.GeneratedStep)
	}

	return r0, ret.Error(1)
}

// NewMockStepGenerator creates a new instance of MockStepGenerator.
func NewMockStepGenerator(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockStepGenerator {
	m := &MockStepGenerator{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}

var _ interfaces.StepGenerator = (*MockStepGenerator)(nil)
