package generator

import (
	"context"
	"fmt"

	"rpg-novel-server/internal/ai"
	"rpg-novel-server/internal/interfaces"
	"rpg-novel-server/internal/models"
	"rpg-novel-server/internal/normalizer"

	"go.uber.org/zap"
)

// Config - параметры генерации шага.
type Config struct {
	Temperature    float64
	MaxTokens      int
	RecapEntries   int
	RecapTextRunes int
	DefaultHealth  int
}

// DefaultConfig возвращает значения по умолчанию.
func DefaultConfig() Config {
	return Config{
		Temperature:    0.8,
		MaxTokens:      800,
		RecapEntries:   5,
		RecapTextRunes: 250,
		DefaultHealth:  models.DefaultMaxHealth,
	}
}

var _ interfaces.StepGenerator = (*Generator)(nil)

// Generator строит промпт, вызывает модель один раз и нормализует ответ.
type Generator struct {
	client     ai.Client
	normalizer *normalizer.Normalizer
	cfg        Config
	logger     *zap.Logger
}

// New создает Generator. Нулевые поля cfg заменяются значениями по умолчанию.
func New(client ai.Client, norm *normalizer.Normalizer, cfg Config, logger *zap.Logger) *Generator {
	def := DefaultConfig()
	if cfg.Temperature <= 0 {
		cfg.Temperature = def.Temperature
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	if cfg.RecapEntries <= 0 {
		cfg.RecapEntries = def.RecapEntries
	}
	if cfg.RecapTextRunes <= 0 {
		cfg.RecapTextRunes = def.RecapTextRunes
	}
	if cfg.DefaultHealth <= 0 {
		cfg.DefaultHealth = def.DefaultHealth
	}
	return &Generator{
		client:     client,
		normalizer: norm,
		cfg:        cfg,
		logger:     logger.Named("StepGenerator"),
	}
}

// Generate генерирует следующий шаг по теме, персонажу и истории (по возрастанию индекса).
func (g *Generator) Generate(ctx context.Context, userID, theme, character string, history []models.HistoryEntry, maxChoices int) (*models.GeneratedStep, error) {
	nextIndex := 0
	currentHealth := g.cfg.DefaultHealth
	if len(history) > 0 {
		last := history[len(history)-1]
		nextIndex = last.Index + 1
		if last.State != nil {
			currentHealth = last.State.Health
		}
	}

	bound := choiceBound(maxChoices)
	recap := buildRecap(history, g.cfg.RecapEntries, g.cfg.RecapTextRunes)
	userPrompt := buildUserPrompt(theme, character, recap, currentHealth, bound)

	temperature := g.cfg.Temperature
	maxTokens := g.cfg.MaxTokens
	raw, usage, err := g.client.GenerateText(ctx, userID, systemPrompt, userPrompt, ai.GenerationParams{
		Temperature: &temperature,
		MaxTokens:   &maxTokens,
	})
	if err != nil {
		g.logger.Warn("Генерация шага не удалась",
			zap.String("userID", userID),
			zap.Int("nextIndex", nextIndex),
			zap.Error(err),
		)
		return nil, fmt.Errorf("ошибка генерации шага %d: %w", nextIndex, err)
	}

	payload := g.normalizer.Normalize(raw, currentHealth)
	choices := payload.Choices
	if len(choices) > bound {
		choices = choices[:bound]
	}

	g.logger.Debug("Шаг сгенерирован",
		zap.String("userID", userID),
		zap.Int("index", nextIndex),
		zap.Int("choices", len(choices)),
		zap.Int("totalTokens", usage.TotalTokens),
	)

	return &models.GeneratedStep{
		Index:   nextIndex,
		Text:    payload.Text,
		Choices: choices,
		State:   payload.State,
		Model:   g.client.ModelName(),
	}, nil
}
