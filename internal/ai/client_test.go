package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"rpg-novel-server/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const completionBody = `{
	"id": "gen-1",
	"object": "chat.completion",
	"model": "openai/gpt-4o-mini",
	"choices": [{"index": 0, "message": {"role": "assistant", "content": "{\"text\":\"hi\",\"choices\":[\"a\",\"b\"]}"}, "finish_reason": "stop"}],
	"usage": {"prompt_tokens": 120, "completion_tokens": 40, "total_tokens": 160}
}`

func newTestClient(t *testing.T, handler http.HandlerFunc, timeout time.Duration) Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(Config{
		ClientType:            "openai",
		BaseURL:               server.URL + "/v1",
		APIKey:                "test-key",
		Model:                 "openai/gpt-4o-mini",
		Timeout:               timeout,
		SiteURL:               "http://localhost:8080",
		SiteName:              "rpg-test",
		InputPricePerMillion:  0.15,
		OutputPricePerMillion: 0.6,
	}, zap.NewNop())
	require.NoError(t, err)
	return client
}

func TestOpenAIClient_GenerateText(t *testing.T) {
	temp := 0.8
	maxTokens := 800
	params := GenerationParams{Temperature: &temp, MaxTokens: &maxTokens}

	t.Run("Успешный ответ", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v1/chat/completions", r.URL.Path)
			assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
			assert.Equal(t, "rpg-test", r.Header.Get("X-Title"))
			assert.Equal(t, "http://localhost:8080", r.Header.Get("HTTP-Referer"))

			var body struct {
				Model string `json:"model"`
				User  string `json:"user"`
			}
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "openai/gpt-4o-mini", body.Model)
			assert.Equal(t, "u1", body.User)

			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(completionBody))
		}, time.Second)

		text, usage, err := client.GenerateText(context.Background(), "u1", "system", "user", params)
		require.NoError(t, err)
		assert.Equal(t, `{"text":"hi","choices":["a","b"]}`, text)
		assert.Equal(t, 160, usage.TotalTokens)
		assert.False(t, usage.Estimated)
		assert.InDelta(t, 120*0.15/1e6+40*0.6/1e6, usage.EstimatedCostUSD, 1e-12)
	})

	t.Run("Неуспешный статус", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error": {"message": "rate limited", "type": "rate_limit", "code": 429}}`))
		}, time.Second)

		_, _, err := client.GenerateText(context.Background(), "u1", "system", "user", params)
		assert.ErrorIs(t, err, models.ErrUpstreamError)
	})

	t.Run("Статус без тела ошибки", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte("bad gateway"))
		}, time.Second)

		_, _, err := client.GenerateText(context.Background(), "u1", "system", "user", params)
		assert.ErrorIs(t, err, models.ErrUpstreamError)
	})

	t.Run("Пустой ответ", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"id": "x", "choices": [], "usage": {}}`))
		}, time.Second)

		_, _, err := client.GenerateText(context.Background(), "u1", "system", "user", params)
		assert.ErrorIs(t, err, models.ErrUpstreamError)
	})

	t.Run("Таймаут", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-time.After(time.Second):
			case <-r.Context().Done():
			}
		}, 50*time.Millisecond)

		_, _, err := client.GenerateText(context.Background(), "u1", "system", "user", params)
		assert.ErrorIs(t, err, models.ErrUpstreamUnavailable)
	})

	t.Run("Сервис недоступен", func(t *testing.T) {
		server := httptest.NewServer(http.NotFoundHandler())
		baseURL := server.URL
		server.Close()

		client, err := NewClient(Config{ClientType: "openai", BaseURL: baseURL, Model: "m", Timeout: time.Second}, zap.NewNop())
		require.NoError(t, err)

		_, _, err = client.GenerateText(context.Background(), "u1", "system", "user", params)
		assert.ErrorIs(t, err, models.ErrUpstreamUnavailable)
	})
}

func TestNewClient(t *testing.T) {
	_, err := NewClient(Config{ClientType: "unknown", Model: "m"}, zap.NewNop())
	assert.Error(t, err)

	_, err = NewClient(Config{ClientType: "openai"}, zap.NewNop())
	assert.Error(t, err)

	client, err := NewClient(Config{ClientType: "ollama", BaseURL: "http://localhost:11434/v1", Model: "llama3"}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "llama3", client.ModelName())
}
