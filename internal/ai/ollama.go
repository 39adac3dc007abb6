package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"rpg-novel-server/internal/models"

	"github.com/ollama/ollama/api"
	"go.uber.org/zap"
)

// ollamaClient реализует Client через нативный API Ollama.
type ollamaClient struct {
	client  *api.Client
	cfg     Config
	timeout time.Duration
	logger  *zap.Logger
}

func newOllamaClient(cfg Config, logger *zap.Logger) (*ollamaClient, error) {
	// api.NewClient требует URL без суффикса /v1
	baseURL := strings.TrimSuffix(strings.TrimSuffix(cfg.BaseURL, "/"), "/v1")
	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("ошибка парсинга Ollama Base URL '%s': %w", baseURL, err)
	}

	logger.Info("Ollama клиент создан",
		zap.String("baseURL", baseURL),
		zap.String("model", cfg.Model),
		zap.Duration("timeout", cfg.Timeout),
	)

	return &ollamaClient{
		client:  api.NewClient(parsedURL, &http.Client{Timeout: cfg.Timeout}),
		cfg:     cfg,
		timeout: cfg.Timeout,
		logger:  logger.Named("OllamaClient"),
	}, nil
}

func (c *ollamaClient) ModelName() string {
	return c.cfg.Model
}

// GenerateText генерирует текст с использованием Ollama
func (c *ollamaClient) GenerateText(ctx context.Context, userID string, systemPrompt string, userInput string, params GenerationParams) (string, UsageInfo, error) {
	usage := UsageInfo{}
	log := c.logger.With(zap.String("userID", userID), zap.String("model", c.cfg.Model))

	messages := []api.Message{{Role: "system", Content: systemPrompt}}
	if userInput != "" {
		messages = append(messages, api.Message{Role: "user", Content: userInput})
	}

	options := map[string]interface{}{}
	if params.Temperature != nil {
		options["temperature"] = *params.Temperature
	}
	if params.TopP != nil {
		options["top_p"] = *params.TopP
	}
	if params.MaxTokens != nil {
		options["num_predict"] = *params.MaxTokens
	}

	stream := false
	req := &api.ChatRequest{
		Model:    c.cfg.Model,
		Messages: messages,
		Stream:   &stream,
		Options:  options,
	}

	requestCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		requestCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	startTime := time.Now()
	var resp api.ChatResponse
	err := c.client.Chat(requestCtx, req, func(r api.ChatResponse) error {
		resp = r
		return nil
	})
	duration := time.Since(startTime)

	if err != nil {
		var statusErr api.StatusError
		if errors.As(err, &statusErr) {
			aiRequestsTotal.WithLabelValues(c.cfg.Model, "error").Inc()
			log.Error("Ollama API вернул ошибку", zap.Int("status", statusErr.StatusCode), zap.Error(err))
			return "", usage, fmt.Errorf("%w: статус %d: %s", models.ErrUpstreamError, statusErr.StatusCode, statusErr.ErrorMessage)
		}
		aiRequestsTotal.WithLabelValues(c.cfg.Model, "unavailable").Inc()
		log.Error("Ошибка соединения с Ollama API", zap.Duration("duration", duration), zap.Error(err))
		return "", usage, fmt.Errorf("%w: %v", models.ErrUpstreamUnavailable, err)
	}

	if strings.TrimSpace(resp.Message.Content) == "" {
		aiRequestsTotal.WithLabelValues(c.cfg.Model, "error_empty_response").Inc()
		log.Warn("Ollama API вернул пустой ответ", zap.Duration("duration", duration))
		return "", usage, fmt.Errorf("%w: получен пустой ответ", models.ErrUpstreamError)
	}

	aiRequestsTotal.WithLabelValues(c.cfg.Model, "success").Inc()
	aiRequestDuration.WithLabelValues(c.cfg.Model).Observe(duration.Seconds())

	// Ollama обычно локальный, стоимость 0
	usage.PromptTokens = resp.PromptEvalCount
	usage.CompletionTokens = resp.EvalCount
	usage.TotalTokens = resp.PromptEvalCount + resp.EvalCount
	observeUsage(c.cfg.Model, usage)

	log.Info("Ответ от Ollama API получен", zap.Duration("duration", duration), zap.Int("responseLength", len(resp.Message.Content)))
	return resp.Message.Content, usage, nil
}
