package ai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// GenerationParams - параметры генерации. Указатели отличают 0 от отсутствия значения.
type GenerationParams struct {
	Temperature *float64
	MaxTokens   *int
	TopP        *float64
}

// UsageInfo содержит информацию об использовании токенов и стоимости
type UsageInfo struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	EstimatedCostUSD float64
	Estimated        bool // токены посчитаны локально через tiktoken
}

// Client - клиент внешнего генеративного сервиса.
// Ошибки оборачивают models.ErrUpstreamUnavailable (таймаут, соединение)
// или models.ErrUpstreamError (неуспешный статус, пустой ответ).
type Client interface {
	GenerateText(ctx context.Context, userID string, systemPrompt string, userInput string, params GenerationParams) (string, UsageInfo, error)
	ModelName() string
}

// Config - настройки клиента.
type Config struct {
	ClientType string // openai | ollama
	BaseURL    string
	APIKey     string
	Model      string
	Timeout    time.Duration
	// Заголовки OpenRouter для атрибуции приложения
	SiteURL  string
	SiteName string
	// Цены за 1М токенов в USD
	InputPricePerMillion  float64
	OutputPricePerMillion float64
}

// NewClient создает клиент в зависимости от ClientType.
func NewClient(cfg Config, logger *zap.Logger) (Client, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("не задана модель AI")
	}
	switch strings.ToLower(cfg.ClientType) {
	case "openai", "openrouter", "":
		return newOpenAIClient(cfg, logger), nil
	case "ollama":
		return newOllamaClient(cfg, logger)
	default:
		return nil, fmt.Errorf("неизвестный тип AI клиента: %s", cfg.ClientType)
	}
}

// headerTransport добавляет фиксированные заголовки к каждому запросу.
type headerTransport struct {
	base    http.RoundTripper
	headers map[string]string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	for k, v := range t.headers {
		if v != "" {
			clone.Header.Set(k, v)
		}
	}
	return t.base.RoundTrip(clone)
}

func calculateCost(cfg Config, promptTokens, completionTokens int) float64 {
	inputCost := float64(promptTokens) * cfg.InputPricePerMillion / 1_000_000.0
	outputCost := float64(completionTokens) * cfg.OutputPricePerMillion / 1_000_000.0
	return inputCost + outputCost
}

func float32Val(f64 *float64) float32 {
	if f64 == nil {
		return 0
	}
	return float32(*f64)
}

func intVal(i *int) int {
	if i == nil {
		return 0
	}
	return *i
}
