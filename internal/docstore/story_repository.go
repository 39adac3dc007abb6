package docstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"rpg-novel-server/internal/interfaces"
	"rpg-novel-server/internal/models"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
)

var _ interfaces.StoryRepository = (*StoryRepository)(nil)

type storyDoc struct {
	OwnerID         string    `firestore:"owner_uid"`
	ThemePrompt     string    `firestore:"theme_prompt"`
	CharacterPrompt string    `firestore:"character_prompt"`
	Status          string    `firestore:"status"`
	CurrentStepID   *string   `firestore:"current_step_id"`
	CreatedAt       time.Time `firestore:"created_at"`
	UpdatedAt       time.Time `firestore:"updated_at"`
}

type stateDoc struct {
	Health     int            `firestore:"health"`
	MaxHealth  int            `firestore:"max_health"`
	Scene      string         `firestore:"scene,omitempty"`
	Status     []string       `firestore:"status,omitempty"`
	IsTerminal bool           `firestore:"is_terminal"`
	Extra      map[string]any `firestore:"extra,omitempty"`
}

type stepDoc struct {
	Index             int       `firestore:"index"`
	Text              string    `firestore:"text"`
	Choices           []string  `firestore:"choices"`
	State             *stateDoc `firestore:"state"`
	ParentChoiceIndex *int      `firestore:"parent_choice_index"`
	ParentChoiceText  string    `firestore:"parent_choice_text"`
	Model             string    `firestore:"model"`
	CreatedAt         time.Time `firestore:"created_at"`
}

func storyFromDoc(id string, d storyDoc) *models.Story {
	return &models.Story{
		ID:              id,
		OwnerID:         d.OwnerID,
		ThemePrompt:     d.ThemePrompt,
		CharacterPrompt: d.CharacterPrompt,
		Status:          models.StoryStatus(d.Status),
		CurrentStepID:   d.CurrentStepID,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
}

func stepToDoc(s *models.Step, createdAt time.Time) stepDoc {
	d := stepDoc{
		Index:             s.Index,
		Text:              s.Text,
		Choices:           s.Choices,
		ParentChoiceIndex: s.ParentChoiceIndex,
		ParentChoiceText:  s.ParentChoiceText,
		Model:             s.Model,
		CreatedAt:         createdAt,
	}
	if d.Choices == nil {
		d.Choices = []string{}
	}
	if s.State != nil {
		d.State = &stateDoc{
			Health:     s.State.Health,
			MaxHealth:  s.State.MaxHealth,
			Scene:      s.State.Scene,
			Status:     s.State.Status,
			IsTerminal: s.State.IsTerminal,
			Extra:      s.State.Extra,
		}
	}
	return d
}

func stepFromDoc(storyID, id string, d stepDoc) *models.Step {
	step := &models.Step{
		ID:                id,
		StoryID:           storyID,
		Index:             d.Index,
		Text:              d.Text,
		Choices:           d.Choices,
		ParentChoiceIndex: d.ParentChoiceIndex,
		ParentChoiceText:  d.ParentChoiceText,
		Model:             d.Model,
		CreatedAt:         d.CreatedAt,
	}
	if step.Choices == nil {
		step.Choices = []string{}
	}
	if d.State != nil {
		step.State = &models.GameState{
			Health:     d.State.Health,
			MaxHealth:  d.State.MaxHealth,
			Scene:      d.State.Scene,
			Status:     d.State.Status,
			IsTerminal: d.State.IsTerminal,
			Extra:      d.State.Extra,
		}
	}
	return step
}

// StoryRepository - истории в коллекции stories, шаги в подколлекции steps.
type StoryRepository struct {
	client *firestore.Client
	logger *zap.Logger
}

// NewStoryRepository создает репозиторий историй поверх Firestore.
func NewStoryRepository(client *firestore.Client, logger *zap.Logger) *StoryRepository {
	return &StoryRepository{
		client: client,
		logger: logger.Named("FirestoreStoryRepo"),
	}
}

func (r *StoryRepository) stories() *firestore.CollectionRef {
	return r.client.Collection(storiesCollection)
}

func (r *StoryRepository) steps(storyID string) *firestore.CollectionRef {
	return r.stories().Doc(storyID).Collection(stepsCollection)
}

func (r *StoryRepository) CreateStory(ctx context.Context, ownerID, theme, character string) (*models.Story, error) {
	now := time.Now().UTC()
	id := uuid.NewString()
	doc := storyDoc{
		OwnerID:         ownerID,
		ThemePrompt:     theme,
		CharacterPrompt: character,
		Status:          string(models.StoryStatusActive),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if _, err := r.stories().Doc(id).Create(ctx, doc); err != nil {
		r.logger.Error("Failed to create story", zap.String("ownerID", ownerID), zap.Error(err))
		return nil, fmt.Errorf("ошибка создания истории: %w", err)
	}
	return storyFromDoc(id, doc), nil
}

func (r *StoryRepository) AppendStep(ctx context.Context, step *models.Step) (string, error) {
	log := r.logger.With(zap.String("storyID", step.StoryID), zap.Int("index", step.Index))
	createdAt := step.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	stepID := uuid.NewString()
	storyRef := r.stories().Doc(step.StoryID)
	stepsRef := r.steps(step.StoryID)

	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if _, err := tx.Get(storyRef); err != nil {
			if isNotFound(err) {
				return models.ErrNotFound
			}
			return err
		}
		taken, err := tx.Documents(stepsRef.Where("index", "==", step.Index).Limit(1)).GetAll()
		if err != nil {
			return err
		}
		if len(taken) > 0 {
			return models.ErrStepIndexConflict
		}

		if err := tx.Create(stepsRef.Doc(stepID), stepToDoc(step, createdAt)); err != nil {
			return err
		}
		return tx.Update(storyRef, []firestore.Update{
			{Path: "current_step_id", Value: stepID},
			{Path: "updated_at", Value: createdAt},
		})
	})
	switch {
	case err == nil:
		log.Debug("Step appended", zap.String("stepID", stepID))
		return stepID, nil
	case errors.Is(err, models.ErrNotFound):
		return "", fmt.Errorf("история %s: %w", step.StoryID, models.ErrNotFound)
	case errors.Is(err, models.ErrStepIndexConflict), isAlreadyExists(err):
		log.Warn("Step index already taken")
		return "", models.ErrStepIndexConflict
	default:
		log.Error("Failed to append step", zap.Error(err))
		return "", fmt.Errorf("ошибка сохранения шага: %w", err)
	}
}

func (r *StoryRepository) GetStory(ctx context.Context, storyID string) (*models.Story, error) {
	snap, err := r.stories().Doc(storyID).Get(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, models.ErrNotFound
		}
		r.logger.Error("Failed to get story", zap.String("storyID", storyID), zap.Error(err))
		return nil, fmt.Errorf("ошибка получения истории: %w", err)
	}
	var doc storyDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("ошибка разбора истории %s: %w", storyID, err)
	}
	return storyFromDoc(snap.Ref.ID, doc), nil
}

func (r *StoryRepository) GetStep(ctx context.Context, storyID, stepID string) (*models.Step, error) {
	snap, err := r.steps(storyID).Doc(stepID).Get(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, models.ErrNotFound
		}
		r.logger.Error("Failed to get step", zap.String("stepID", stepID), zap.Error(err))
		return nil, fmt.Errorf("ошибка получения шага: %w", err)
	}
	var doc stepDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("ошибка разбора шага %s: %w", stepID, err)
	}
	return stepFromDoc(storyID, snap.Ref.ID, doc), nil
}

func (r *StoryRepository) RecentSteps(ctx context.Context, storyID string, k int) ([]*models.Step, error) {
	if k <= 0 {
		return r.ListSteps(ctx, storyID)
	}
	steps, err := r.collectSteps(storyID, r.steps(storyID).OrderBy("index", firestore.Desc).Limit(k).Documents(ctx))
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(steps)-1; i < j; i, j = i+1, j-1 {
		steps[i], steps[j] = steps[j], steps[i]
	}
	return steps, nil
}

func (r *StoryRepository) ListSteps(ctx context.Context, storyID string) ([]*models.Step, error) {
	return r.collectSteps(storyID, r.steps(storyID).OrderBy("index", firestore.Asc).Documents(ctx))
}

func (r *StoryRepository) collectSteps(storyID string, iter *firestore.DocumentIterator) ([]*models.Step, error) {
	defer iter.Stop()
	var steps []*models.Step
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			r.logger.Error("Failed to list steps", zap.String("storyID", storyID), zap.Error(err))
			return nil, fmt.Errorf("ошибка получения шагов: %w", err)
		}
		var doc stepDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("ошибка разбора шага %s: %w", snap.Ref.ID, err)
		}
		steps = append(steps, stepFromDoc(storyID, snap.Ref.ID, doc))
	}
	return steps, nil
}

func (r *StoryRepository) ListStoriesByOwner(ctx context.Context, ownerID string, limit int) ([]*models.Story, error) {
	query := r.stories().Where("owner_uid", "==", ownerID).OrderBy("created_at", firestore.Desc)
	if limit > 0 {
		query = query.Limit(limit)
	}
	iter := query.Documents(ctx)
	defer iter.Stop()

	var stories []*models.Story
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			r.logger.Error("Failed to list stories", zap.String("ownerID", ownerID), zap.Error(err))
			return nil, fmt.Errorf("ошибка получения списка историй: %w", err)
		}
		var doc storyDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("ошибка разбора истории %s: %w", snap.Ref.ID, err)
		}
		stories = append(stories, storyFromDoc(snap.Ref.ID, doc))
	}
	return stories, nil
}

func (r *StoryRepository) DeleteStory(ctx context.Context, storyID string) error {
	ref := r.stories().Doc(storyID)
	if _, err := ref.Delete(ctx, firestore.Exists); err != nil {
		if isNotFound(err) {
			return models.ErrNotFound
		}
		r.logger.Error("Failed to delete story", zap.String("storyID", storyID), zap.Error(err))
		return fmt.Errorf("ошибка удаления истории: %w", err)
	}
	return nil
}
