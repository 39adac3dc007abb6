package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"rpg-novel-server/internal/models"

	"github.com/pkoukk/tiktoken-go"
	openaigo "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

const fallbackEncoding = "cl100k_base"

// openAIClient реализует Client поверх OpenAI-совместимого API (OpenRouter).
type openAIClient struct {
	client *openaigo.Client
	cfg    Config
	logger *zap.Logger
}

func newOpenAIClient(cfg Config, logger *zap.Logger) *openAIClient {
	openaiConfig := openaigo.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		openaiConfig.BaseURL = cfg.BaseURL
	}
	openaiConfig.HTTPClient = &http.Client{
		Timeout: cfg.Timeout,
		Transport: &headerTransport{
			base: http.DefaultTransport,
			headers: map[string]string{
				"HTTP-Referer": cfg.SiteURL,
				"X-Title":      cfg.SiteName,
			},
		},
	}

	logger.Info("OpenAI клиент создан",
		zap.String("baseURL", openaiConfig.BaseURL),
		zap.String("model", cfg.Model),
		zap.Duration("timeout", cfg.Timeout),
	)

	return &openAIClient{
		client: openaigo.NewClientWithConfig(openaiConfig),
		cfg:    cfg,
		logger: logger.Named("OpenAIClient"),
	}
}

func (c *openAIClient) ModelName() string {
	return c.cfg.Model
}

// GenerateText выполняет один запрос chat completion без повторов.
func (c *openAIClient) GenerateText(ctx context.Context, userID string, systemPrompt string, userInput string, params GenerationParams) (string, UsageInfo, error) {
	usage := UsageInfo{}
	log := c.logger.With(zap.String("userID", userID), zap.String("model", c.cfg.Model))

	messages := []openaigo.ChatCompletionMessage{
		{Role: openaigo.ChatMessageRoleSystem, Content: systemPrompt},
	}
	if userInput != "" {
		messages = append(messages, openaigo.ChatCompletionMessage{
			Role:    openaigo.ChatMessageRoleUser,
			Content: userInput,
		})
	}

	startTime := time.Now()
	log.Debug("Отправка запроса к AI", zap.Int("systemPromptBytes", len(systemPrompt)), zap.Int("userInputBytes", len(userInput)))

	resp, err := c.client.CreateChatCompletion(ctx, openaigo.ChatCompletionRequest{
		Model:       c.cfg.Model,
		Messages:    messages,
		Temperature: float32Val(params.Temperature),
		MaxTokens:   intVal(params.MaxTokens),
		TopP:        float32Val(params.TopP),
		User:        userID,
	})
	duration := time.Since(startTime)

	if err != nil {
		classified := classifyOpenAIError(err)
		status := "error"
		if errors.Is(classified, models.ErrUpstreamUnavailable) {
			status = "unavailable"
		}
		aiRequestsTotal.WithLabelValues(c.cfg.Model, status).Inc()
		log.Error("Ошибка от AI API", zap.Duration("duration", duration), zap.Error(err))
		return "", usage, classified
	}

	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		aiRequestsTotal.WithLabelValues(c.cfg.Model, "error_empty_response").Inc()
		log.Warn("AI API вернул пустой ответ", zap.Duration("duration", duration))
		return "", usage, fmt.Errorf("%w: получен пустой ответ", models.ErrUpstreamError)
	}

	aiRequestsTotal.WithLabelValues(c.cfg.Model, "success").Inc()
	aiRequestDuration.WithLabelValues(c.cfg.Model).Observe(duration.Seconds())

	generatedText := resp.Choices[0].Message.Content
	if resp.Usage.TotalTokens > 0 {
		usage.PromptTokens = resp.Usage.PromptTokens
		usage.CompletionTokens = resp.Usage.CompletionTokens
		usage.TotalTokens = resp.Usage.TotalTokens
	} else {
		usage = c.estimateUsage(systemPrompt+userInput, generatedText)
	}
	usage.EstimatedCostUSD = calculateCost(c.cfg, usage.PromptTokens, usage.CompletionTokens)
	observeUsage(c.cfg.Model, usage)

	log.Info("Ответ от AI API получен",
		zap.Duration("duration", duration),
		zap.Int("responseLength", len(generatedText)),
		zap.Int("totalTokens", usage.TotalTokens),
		zap.Bool("estimated", usage.Estimated),
	)
	return generatedText, usage, nil
}

// estimateUsage считает токены локально, когда провайдер не вернул usage.
func (c *openAIClient) estimateUsage(prompt, completion string) UsageInfo {
	model := c.cfg.Model
	if i := strings.LastIndex(model, "/"); i >= 0 {
		model = model[i+1:]
	}
	tke, err := tiktoken.EncodingForModel(model)
	if err != nil {
		tke, err = tiktoken.GetEncoding(fallbackEncoding)
	}
	if err != nil {
		c.logger.Warn("Не удалось получить токенизатор для оценки usage", zap.String("model", c.cfg.Model), zap.Error(err))
		return UsageInfo{}
	}
	promptTokens := len(tke.Encode(prompt, nil, nil))
	completionTokens := len(tke.Encode(completion, nil, nil))
	return UsageInfo{
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		TotalTokens:      promptTokens + completionTokens,
		Estimated:        true,
	}
}

// classifyOpenAIError разделяет ошибки статуса ответа и ошибки доступности.
func classifyOpenAIError(err error) error {
	var apiErr *openaigo.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%w: статус %d: %s", models.ErrUpstreamError, apiErr.HTTPStatusCode, apiErr.Message)
	}
	var reqErr *openaigo.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode > 0 {
		return fmt.Errorf("%w: статус %d", models.ErrUpstreamError, reqErr.HTTPStatusCode)
	}
	return fmt.Errorf("%w: %v", models.ErrUpstreamUnavailable, err)
}
