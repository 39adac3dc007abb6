package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"rpg-novel-server/internal/interfaces"
	"rpg-novel-server/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultHistoryWindow  = 10
	defaultInitialChoices = 2
	defaultStoriesLimit   = 50
	maxStoriesLimit       = 100
	minPromptLength       = 3
)

// StartInput - параметры начала истории.
type StartInput struct {
	OwnerID        string
	Theme          string
	Character      string
	InitialChoices int
}

// AdvanceInput - параметры продолжения истории.
// ChosenIndex == nil означает свободное продолжение без выбора.
type AdvanceInput struct {
	StoryID       string
	OwnerID       string
	ChosenIndex   *int
	HistoryWindow int
}

// StoryService - оркестратор игрового процесса.
type StoryService interface {
	Start(ctx context.Context, in StartInput) (*models.Step, error)
	Advance(ctx context.Context, in AdvanceInput) (*models.Step, error)
	GetStory(ctx context.Context, storyID, ownerID string) (*models.Story, error)
	ListStories(ctx context.Context, ownerID string, limit int) ([]*models.StorySummary, error)
	ListSteps(ctx context.Context, storyID, ownerID string) ([]*models.Step, error)
	GetCurrentStep(ctx context.Context, storyID, ownerID string) (*models.Step, error)
}

type storyServiceImpl struct {
	stories   interfaces.StoryRepository
	coins     CoinService
	generator interfaces.StepGenerator
	publisher interfaces.EventPublisher
	now       func() time.Time
	logger    *zap.Logger
}

// NewStoryService создает StoryService.
func NewStoryService(
	stories interfaces.StoryRepository,
	coins CoinService,
	generator interfaces.StepGenerator,
	publisher interfaces.EventPublisher,
	logger *zap.Logger,
) StoryService {
	return &storyServiceImpl{
		stories:   stories,
		coins:     coins,
		generator: generator,
		publisher: publisher,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger.Named("StoryService"),
	}
}

// Start создает историю, списывает стоимость и генерирует первый шаг.
func (s *storyServiceImpl) Start(ctx context.Context, in StartInput) (*models.Step, error) {
	theme := strings.TrimSpace(in.Theme)
	character := strings.TrimSpace(in.Character)
	if len([]rune(theme)) < minPromptLength || len([]rune(character)) < minPromptLength {
		return nil, fmt.Errorf("%w: тема и персонаж должны содержать не менее %d символов", models.ErrInvalidInput, minPromptLength)
	}
	choices := in.InitialChoices
	if choices == 0 {
		choices = defaultInitialChoices
	}
	if choices < 2 || choices > 4 {
		return nil, fmt.Errorf("%w: initial_choices должно быть от 2 до 4", models.ErrInvalidInput)
	}

	log := s.logger.With(zap.String("ownerID", in.OwnerID))
	cost := s.coins.StoryCreationCost()

	// 1. Проверка баланса до любых изменений
	if cost > 0 {
		if _, err := s.coins.EnsureSufficient(ctx, in.OwnerID, cost); err != nil {
			return nil, err
		}
	}

	// 2. Создание истории
	story, err := s.stories.CreateStory(ctx, in.OwnerID, theme, character)
	if err != nil {
		log.Error("Ошибка создания истории", zap.Error(err))
		return nil, fmt.Errorf("ошибка создания истории: %w", err)
	}
	log = log.With(zap.String("storyID", story.ID))

	// 3. Списание с reference = story_id
	debitRef := story.ID
	if cost > 0 {
		if _, err := s.coins.Debit(ctx, in.OwnerID, cost, "Story creation", &debitRef); err != nil {
			log.Warn("Списание за создание истории не удалось, удаляем историю", zap.Error(err))
			s.discardStory(ctx, story.ID)
			return nil, err
		}
	}

	// 4. Генерация первого шага
	generated, err := s.generator.Generate(ctx, in.OwnerID, theme, character, nil, choices)
	if err != nil {
		// История остается без шагов, ее можно продолжить через Advance
		log.Error("Генерация первого шага не удалась", zap.Error(err))
		s.refund(ctx, in.OwnerID, cost, debitRef)
		return nil, err
	}

	// 5. Сохранение шага
	step, err := s.appendStep(ctx, story.ID, generated, nil, "")
	if err != nil {
		log.Error("Ошибка сохранения первого шага", zap.Error(err))
		s.refund(ctx, in.OwnerID, cost, debitRef)
		return nil, err
	}

	log.Info("История начата", zap.String("stepID", step.ID))
	s.publish(ctx, models.DomainEvent{
		Type:      models.EventStoryStarted,
		UserID:    in.OwnerID,
		StoryID:   story.ID,
		StepID:    step.ID,
		StepIndex: &step.Index,
	})
	return step, nil
}

// Advance проверяет владельца и выбор, списывает стоимость, генерирует и сохраняет следующий шаг.
// Вызывающий код должен сериализовать вызовы Advance для одной истории.
func (s *storyServiceImpl) Advance(ctx context.Context, in AdvanceInput) (*models.Step, error) {
	log := s.logger.With(zap.String("storyID", in.StoryID), zap.String("ownerID", in.OwnerID))

	// 1. История и владелец
	story, err := s.loadOwnedStory(ctx, in.StoryID, in.OwnerID)
	if err != nil {
		return nil, err
	}

	// 2. Проверка выбора по текущему шагу
	var choiceText string
	if story.CurrentStepID == nil {
		if in.ChosenIndex != nil {
			return nil, fmt.Errorf("%w: у истории нет текущего шага", models.ErrInvalidChoice)
		}
	} else {
		current, err := s.stories.GetStep(ctx, story.ID, *story.CurrentStepID)
		if err != nil {
			log.Error("Текущий шаг истории не найден", zap.String("stepID", *story.CurrentStepID), zap.Error(err))
			return nil, fmt.Errorf("ошибка получения текущего шага: %w", err)
		}
		// Статус истории остается active; продолжение блокирует сам терминальный шаг
		if current.IsTerminal() {
			return nil, models.ErrStoryFinished
		}
		if in.ChosenIndex != nil {
			idx := *in.ChosenIndex
			if idx < 0 || idx >= len(current.Choices) {
				return nil, fmt.Errorf("%w: индекс %d, доступно вариантов %d", models.ErrInvalidChoice, idx, len(current.Choices))
			}
			choiceText = current.Choices[idx]
		}
	}

	// 3. Баланс
	cost := s.coins.ContinuationCost()
	if cost > 0 {
		if _, err := s.coins.EnsureSufficient(ctx, in.OwnerID, cost); err != nil {
			return nil, err
		}
	}

	// 4. Списание
	debitRef := fmt.Sprintf("advance:%s:%s", story.ID, uuid.NewString())
	if cost > 0 {
		description := "Story continuation"
		if choiceText != "" {
			description = "Choice: " + choiceText
		}
		if _, err := s.coins.Debit(ctx, in.OwnerID, cost, description, &debitRef); err != nil {
			return nil, err
		}
	}

	// 5. История для генератора
	window := in.HistoryWindow
	if window <= 0 {
		window = defaultHistoryWindow
	}
	recent, err := s.stories.RecentSteps(ctx, story.ID, window)
	if err != nil {
		log.Error("Ошибка получения истории шагов", zap.Error(err))
		s.refund(ctx, in.OwnerID, cost, debitRef)
		return nil, fmt.Errorf("ошибка получения истории: %w", err)
	}
	sort.SliceStable(recent, func(i, j int) bool { return recent[i].Index < recent[j].Index })

	// 6. Количество выборов растет по ходу истории
	budget := min(4, 2+len(recent)/2)

	// 7. Генерация
	generated, err := s.generator.Generate(ctx, in.OwnerID, story.ThemePrompt, story.CharacterPrompt, buildHistory(recent, in.ChosenIndex), budget)
	if err != nil {
		log.Error("Генерация шага не удалась", zap.Error(err))
		s.refund(ctx, in.OwnerID, cost, debitRef)
		return nil, err
	}

	// 8. Сохранение
	step, err := s.appendStep(ctx, story.ID, generated, in.ChosenIndex, choiceText)
	if err != nil {
		log.Error("Ошибка сохранения шага", zap.Error(err))
		s.refund(ctx, in.OwnerID, cost, debitRef)
		return nil, err
	}

	log.Info("Шаг добавлен", zap.String("stepID", step.ID), zap.Int("index", step.Index))
	s.publish(ctx, models.DomainEvent{
		Type:      models.EventStepAppended,
		UserID:    in.OwnerID,
		StoryID:   story.ID,
		StepID:    step.ID,
		StepIndex: &step.Index,
	})
	return step, nil
}

func (s *storyServiceImpl) GetStory(ctx context.Context, storyID, ownerID string) (*models.Story, error) {
	return s.loadOwnedStory(ctx, storyID, ownerID)
}

func (s *storyServiceImpl) ListStories(ctx context.Context, ownerID string, limit int) ([]*models.StorySummary, error) {
	if limit <= 0 {
		limit = defaultStoriesLimit
	}
	if limit > maxStoriesLimit {
		limit = maxStoriesLimit
	}
	stories, err := s.stories.ListStoriesByOwner(ctx, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка историй: %w", err)
	}

	out := make([]*models.StorySummary, 0, len(stories))
	for _, story := range stories {
		summary := &models.StorySummary{
			ID:        story.ID,
			CreatedAt: story.CreatedAt,
			UpdatedAt: story.UpdatedAt,
			Status:    story.Status,
		}
		if story.CurrentStepID != nil {
			step, err := s.stories.GetStep(ctx, story.ID, *story.CurrentStepID)
			switch {
			case err == nil:
				text := step.Text
				summary.LastText = &text
			case !errors.Is(err, models.ErrNotFound):
				return nil, fmt.Errorf("ошибка получения последнего шага: %w", err)
			}
		}
		out = append(out, summary)
	}
	return out, nil
}

func (s *storyServiceImpl) ListSteps(ctx context.Context, storyID, ownerID string) ([]*models.Step, error) {
	if _, err := s.loadOwnedStory(ctx, storyID, ownerID); err != nil {
		return nil, err
	}
	steps, err := s.stories.ListSteps(ctx, storyID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения шагов: %w", err)
	}
	return steps, nil
}

func (s *storyServiceImpl) GetCurrentStep(ctx context.Context, storyID, ownerID string) (*models.Step, error) {
	story, err := s.loadOwnedStory(ctx, storyID, ownerID)
	if err != nil {
		return nil, err
	}
	if story.CurrentStepID == nil {
		return nil, fmt.Errorf("у истории нет текущего шага: %w", models.ErrNotFound)
	}
	step, err := s.stories.GetStep(ctx, storyID, *story.CurrentStepID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения текущего шага: %w", err)
	}
	return step, nil
}

func (s *storyServiceImpl) loadOwnedStory(ctx context.Context, storyID, ownerID string) (*models.Story, error) {
	story, err := s.stories.GetStory(ctx, storyID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, fmt.Errorf("история %s: %w", storyID, models.ErrNotFound)
		}
		return nil, fmt.Errorf("ошибка получения истории: %w", err)
	}
	if story.OwnerID != ownerID {
		s.logger.Warn("Попытка доступа к чужой истории", zap.String("storyID", storyID), zap.String("callerID", ownerID))
		return nil, models.ErrPermissionDenied
	}
	return story, nil
}

func (s *storyServiceImpl) appendStep(ctx context.Context, storyID string, generated *models.GeneratedStep, parentChoice *int, parentChoiceText string) (*models.Step, error) {
	step := &models.Step{
		StoryID:          storyID,
		Index:            generated.Index,
		Text:             generated.Text,
		Choices:          generated.Choices,
		State:            generated.State,
		ParentChoiceText: parentChoiceText,
		Model:            generated.Model,
		CreatedAt:        s.now(),
	}
	if parentChoice != nil {
		idx := *parentChoice
		step.ParentChoiceIndex = &idx
	}

	stepID, err := s.stories.AppendStep(ctx, step)
	if err != nil {
		return nil, fmt.Errorf("ошибка сохранения шага: %w", err)
	}
	step.ID = stepID
	return step, nil
}

// buildHistory переводит шаги в записи истории. Выбор на шаге i хранится в шаге i+1,
// для последнего шага используется только что сделанный выбор.
func buildHistory(steps []*models.Step, chosen *int) []models.HistoryEntry {
	entries := make([]models.HistoryEntry, len(steps))
	for i, st := range steps {
		entries[i] = models.HistoryEntry{
			Index:   st.Index,
			Text:    st.Text,
			Choices: st.Choices,
			State:   st.State,
		}
		if i+1 < len(steps) {
			entries[i].ChosenIndex = steps[i+1].ParentChoiceIndex
		} else {
			entries[i].ChosenIndex = chosen
		}
	}
	return entries
}

// refund возвращает списанные монеты, если шаг так и не был создан.
func (s *storyServiceImpl) refund(ctx context.Context, ownerID string, amount int64, debitRef string) {
	if amount <= 0 {
		return
	}
	ref := "refund:" + debitRef
	if _, err := s.coins.Credit(context.WithoutCancel(ctx), ownerID, amount, models.TransactionRefund, "Refund: step was not generated", &ref); err != nil {
		s.logger.Error("КРИТИЧЕСКАЯ ОШИБКА: не удалось вернуть монеты", zap.String("ownerID", ownerID), zap.String("debitRef", debitRef), zap.Error(err))
	}
}

// discardStory удаляет только что созданную историю, если списание за нее не прошло.
func (s *storyServiceImpl) discardStory(ctx context.Context, storyID string) {
	if err := s.stories.DeleteStory(context.WithoutCancel(ctx), storyID); err != nil {
		s.logger.Error("Не удалось удалить историю после неудачного старта", zap.String("storyID", storyID), zap.Error(err))
	}
}

func (s *storyServiceImpl) publish(ctx context.Context, event models.DomainEvent) {
	if s.publisher == nil {
		return
	}
	event.OccurredAt = s.now()
	if err := s.publisher.PublishEvent(ctx, event); err != nil {
		s.logger.Warn("Не удалось опубликовать событие", zap.String("type", event.Type), zap.Error(err))
	}
}
