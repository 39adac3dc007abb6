package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"rpg-novel-server/internal/interfaces"
	"rpg-novel-server/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var _ interfaces.StoryRepository = (*StoryRepository)(nil)

// StoryRepository - хранилище историй в памяти процесса.
type StoryRepository struct {
	mu      sync.RWMutex
	stories map[string]*models.Story
	steps   map[string]*models.Step
	byStory map[string][]string // story_id -> step ids в порядке добавления
	now     func() time.Time
	logger  *zap.Logger
}

// NewStoryRepository создает пустое хранилище.
func NewStoryRepository(logger *zap.Logger) *StoryRepository {
	return &StoryRepository{
		stories: make(map[string]*models.Story),
		steps:   make(map[string]*models.Step),
		byStory: make(map[string][]string),
		now:     func() time.Time { return time.Now().UTC() },
		logger:  logger.Named("MemStoryRepo"),
	}
}

func (r *StoryRepository) CreateStory(ctx context.Context, ownerID, theme, character string) (*models.Story, error) {
	now := r.now()
	story := &models.Story{
		ID:              uuid.NewString(),
		OwnerID:         ownerID,
		ThemePrompt:     theme,
		CharacterPrompt: character,
		Status:          models.StoryStatusActive,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	r.mu.Lock()
	r.stories[story.ID] = story
	r.mu.Unlock()

	r.logger.Debug("История создана", zap.String("storyID", story.ID), zap.String("ownerID", ownerID))
	return cloneStory(story), nil
}

func (r *StoryRepository) AppendStep(ctx context.Context, step *models.Step) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	story, ok := r.stories[step.StoryID]
	if !ok {
		return "", fmt.Errorf("история %s: %w", step.StoryID, models.ErrNotFound)
	}

	stored := cloneStep(step)
	stored.ID = uuid.NewString()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = r.now()
	}

	r.steps[stored.ID] = stored
	r.byStory[step.StoryID] = append(r.byStory[step.StoryID], stored.ID)

	stepID := stored.ID
	story.CurrentStepID = &stepID
	story.UpdatedAt = stored.CreatedAt

	return stored.ID, nil
}

func (r *StoryRepository) GetStory(ctx context.Context, storyID string) (*models.Story, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	story, ok := r.stories[storyID]
	if !ok {
		return nil, models.ErrNotFound
	}
	return cloneStory(story), nil
}

func (r *StoryRepository) GetStep(ctx context.Context, storyID, stepID string) (*models.Step, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	step, ok := r.steps[stepID]
	if !ok || step.StoryID != storyID {
		return nil, models.ErrNotFound
	}
	return cloneStep(step), nil
}

func (r *StoryRepository) RecentSteps(ctx context.Context, storyID string, k int) ([]*models.Step, error) {
	steps, err := r.ListSteps(ctx, storyID)
	if err != nil {
		return nil, err
	}
	if k > 0 && len(steps) > k {
		steps = steps[len(steps)-k:]
	}
	return steps, nil
}

func (r *StoryRepository) ListSteps(ctx context.Context, storyID string) ([]*models.Step, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.byStory[storyID]
	steps := make([]*models.Step, 0, len(ids))
	for _, id := range ids {
		steps = append(steps, cloneStep(r.steps[id]))
	}
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].Index < steps[j].Index })
	return steps, nil
}

func (r *StoryRepository) ListStoriesByOwner(ctx context.Context, ownerID string, limit int) ([]*models.Story, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var stories []*models.Story
	for _, s := range r.stories {
		if s.OwnerID == ownerID {
			stories = append(stories, cloneStory(s))
		}
	}
	sort.Slice(stories, func(i, j int) bool {
		if stories[i].CreatedAt.Equal(stories[j].CreatedAt) {
			return stories[i].ID > stories[j].ID
		}
		return stories[i].CreatedAt.After(stories[j].CreatedAt)
	})
	if limit > 0 && len(stories) > limit {
		stories = stories[:limit]
	}
	return stories, nil
}

func (r *StoryRepository) DeleteStory(ctx context.Context, storyID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.stories[storyID]; !ok {
		return models.ErrNotFound
	}
	for _, id := range r.byStory[storyID] {
		delete(r.steps, id)
	}
	delete(r.byStory, storyID)
	delete(r.stories, storyID)
	return nil
}

func cloneStory(s *models.Story) *models.Story {
	c := *s
	if s.CurrentStepID != nil {
		id := *s.CurrentStepID
		c.CurrentStepID = &id
	}
	return &c
}

func cloneStep(s *models.Step) *models.Step {
	c := *s
	c.Choices = append([]string(nil), s.Choices...)
	if s.State != nil {
		st := *s.State
		st.Status = append([]string(nil), s.State.Status...)
		if s.State.Extra != nil {
			st.Extra = cloneValue(s.State.Extra).(map[string]any)
		}
		c.State = &st
	}
	if s.ParentChoiceIndex != nil {
		idx := *s.ParentChoiceIndex
		c.ParentChoiceIndex = &idx
	}
	return &c
}

// cloneValue копирует значения, полученные из JSON: вложенные объекты и массивы.
func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = cloneValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	}
	return v
}
