package mocks

import (
	"context"

	"rpg-novel-server/internal/ai"

	"github.com/stretchr/testify/mock"
)

// MockAIClient is a mock type for the ai.Client type
type MockAIClient struct {
	mock.Mock
}

// GenerateText provides a mock function with given fields: ctx, userID, systemPrompt, userInput, params
func (_m *MockAIClient) GenerateText(ctx context.Context, userID string, systemPrompt string, userInput string, params ai.GenerationParams) (string, ai.UsageInfo, error) {
	ret := _m.Called(ctx, userID, systemPrompt, userInput, params)

	var r0 string
	if rf, ok := ret.Get(0).(func(context.Context, string, string, string, ai.GenerationParams) string); ok {
		r0 = rf(ctx, userID, systemPrompt, userInput, params)
	} else {
		r0 = ret.String(0)
	}

	var r1 ai.UsageInfo
	if ret.Get(1) != nil {
		r1 = ret.Get(1).(ai.UsageInfo)
	}

	var r2 error
	if rf, ok := ret.Get(2).(func(context.Context, string, string, string, ai.GenerationParams) error); ok {
		r2 = rf(ctx, userID, systemPrompt, userInput, params)
	} else {
		r2 = ret.Error(2)
	}

	return r0, r1, r2
}

// ModelName provides a mock function with given fields:
func (_m *MockAIClient) ModelName() string {
	ret := _m.Called()
	return ret.String(0)
}

// NewMockAIClient creates a new instance of MockAIClient. It also registers a testing interface on the mock and a cleanup function to assert the mocks expectations.
func NewMockAIClient(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockAIClient {
	m := &MockAIClient{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}

var _ ai.Client = (*MockAIClient)(nil)
