package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"rpg-novel-server/internal/interfaces"
	"rpg-novel-server/internal/models"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

var _ interfaces.StoryRepository = (*pgStoryRepository)(nil)

const (
	createStoryQuery = `
INSERT INTO stories (id, owner_id, theme_prompt, character_prompt, status, current_step_id, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, NULL, $6, $6)`

	storyColumns = `id, owner_id, theme_prompt, character_prompt, status, current_step_id, created_at, updated_at`

	getStoryQuery = `SELECT ` + storyColumns + ` FROM stories WHERE id = $1`

	listStoriesByOwnerQuery = `
SELECT ` + storyColumns + `
FROM stories
WHERE owner_id = $1
ORDER BY created_at DESC, id DESC
LIMIT $2`

	deleteStoryQuery = `DELETE FROM stories WHERE id = $1`

	insertStepQuery = `
INSERT INTO story_steps (id, story_id, step_index, text, choices, state, parent_choice_index, parent_choice_text, model, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	advanceStoryQuery = `
UPDATE stories
SET current_step_id = $2,
    updated_at = $3
WHERE id = $1`

	stepColumns = `id, story_id, step_index, text, choices, state, parent_choice_index, parent_choice_text, model, created_at`

	getStepQuery = `SELECT ` + stepColumns + ` FROM story_steps WHERE story_id = $1 AND id = $2`

	listStepsQuery = `SELECT ` + stepColumns + ` FROM story_steps WHERE story_id = $1 ORDER BY step_index ASC`

	recentStepsQuery = `
SELECT * FROM (
    SELECT ` + stepColumns + `
    FROM story_steps
    WHERE story_id = $1
    ORDER BY step_index DESC
    LIMIT $2
) recent
ORDER BY step_index ASC`
)

type storyRow struct {
	ID              string    `db:"id"`
	OwnerID         string    `db:"owner_id"`
	ThemePrompt     string    `db:"theme_prompt"`
	CharacterPrompt string    `db:"character_prompt"`
	Status          string    `db:"status"`
	CurrentStepID   *string   `db:"current_step_id"`
	CreatedAt       time.Time `db:"created_at"`
	UpdatedAt       time.Time `db:"updated_at"`
}

func (r storyRow) toModel() *models.Story {
	return &models.Story{
		ID:              r.ID,
		OwnerID:         r.OwnerID,
		ThemePrompt:     r.ThemePrompt,
		CharacterPrompt: r.CharacterPrompt,
		Status:          models.StoryStatus(r.Status),
		CurrentStepID:   r.CurrentStepID,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}

type stepRow struct {
	ID                string    `db:"id"`
	StoryID           string    `db:"story_id"`
	Index             int       `db:"step_index"`
	Text              string    `db:"text"`
	Choices           []byte    `db:"choices"`
	State             []byte    `db:"state"`
	ParentChoiceIndex *int      `db:"parent_choice_index"`
	ParentChoiceText  string    `db:"parent_choice_text"`
	Model             string    `db:"model"`
	CreatedAt         time.Time `db:"created_at"`
}

func (r stepRow) toModel() (*models.Step, error) {
	step := &models.Step{
		ID:                r.ID,
		StoryID:           r.StoryID,
		Index:             r.Index,
		Text:              r.Text,
		ParentChoiceIndex: r.ParentChoiceIndex,
		ParentChoiceText:  r.ParentChoiceText,
		Model:             r.Model,
		CreatedAt:         r.CreatedAt,
	}
	if err := json.Unmarshal(r.Choices, &step.Choices); err != nil {
		return nil, fmt.Errorf("ошибка разбора choices шага %s: %w", r.ID, err)
	}
	if len(r.State) > 0 && string(r.State) != "null" {
		step.State = &models.GameState{}
		if err := json.Unmarshal(r.State, step.State); err != nil {
			return nil, fmt.Errorf("ошибка разбора state шага %s: %w", r.ID, err)
		}
	}
	return step, nil
}

type pgStoryRepository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPgStoryRepository создает StoryRepository поверх PostgreSQL.
func NewPgStoryRepository(pool *pgxpool.Pool, logger *zap.Logger) interfaces.StoryRepository {
	return &pgStoryRepository{
		pool:   pool,
		logger: logger.Named("PgStoryRepo"),
	}
}

func (r *pgStoryRepository) CreateStory(ctx context.Context, ownerID, theme, character string) (*models.Story, error) {
	now := time.Now().UTC()
	story := &models.Story{
		ID:              uuid.NewString(),
		OwnerID:         ownerID,
		ThemePrompt:     theme,
		CharacterPrompt: character,
		Status:          models.StoryStatusActive,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if _, err := r.pool.Exec(ctx, createStoryQuery, story.ID, ownerID, theme, character, string(story.Status), now); err != nil {
		r.logger.Error("Failed to create story", zap.String("ownerID", ownerID), zap.Error(err))
		return nil, fmt.Errorf("ошибка создания истории: %w", err)
	}
	r.logger.Debug("Story created", zap.String("storyID", story.ID))
	return story, nil
}

func (r *pgStoryRepository) AppendStep(ctx context.Context, step *models.Step) (string, error) {
	log := r.logger.With(zap.String("storyID", step.StoryID), zap.Int("index", step.Index))

	choices, err := json.Marshal(step.Choices)
	if err != nil {
		return "", fmt.Errorf("ошибка сериализации choices: %w", err)
	}
	var state []byte
	if step.State != nil {
		if state, err = json.Marshal(step.State); err != nil {
			return "", fmt.Errorf("ошибка сериализации state: %w", err)
		}
	}
	createdAt := step.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	stepID := uuid.NewString()

	err = pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, insertStepQuery,
			stepID,
			step.StoryID,
			step.Index,
			step.Text,
			choices,
			state,
			step.ParentChoiceIndex,
			step.ParentChoiceText,
			step.Model,
			createdAt,
		); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, advanceStoryQuery, step.StoryID, stepID, createdAt)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return models.ErrNotFound
		}
		return nil
	})
	if err != nil {
		if isUniqueViolation(err, "uq_story_steps_index") {
			log.Warn("Step index already taken")
			return "", models.ErrStepIndexConflict
		}
		if isForeignKeyViolation(err) || errors.Is(err, models.ErrNotFound) {
			return "", fmt.Errorf("история %s: %w", step.StoryID, models.ErrNotFound)
		}
		log.Error("Failed to append step", zap.Error(err))
		return "", fmt.Errorf("ошибка сохранения шага: %w", err)
	}

	log.Debug("Step appended", zap.String("stepID", stepID))
	return stepID, nil
}

func (r *pgStoryRepository) GetStory(ctx context.Context, storyID string) (*models.Story, error) {
	var row storyRow
	if err := pgxscan.Get(ctx, r.pool, &row, getStoryQuery, storyID); err != nil {
		if err = notFound(err); errors.Is(err, models.ErrNotFound) {
			return nil, err
		}
		r.logger.Error("Failed to get story", zap.String("storyID", storyID), zap.Error(err))
		return nil, fmt.Errorf("ошибка получения истории: %w", err)
	}
	return row.toModel(), nil
}

func (r *pgStoryRepository) GetStep(ctx context.Context, storyID, stepID string) (*models.Step, error) {
	var row stepRow
	if err := pgxscan.Get(ctx, r.pool, &row, getStepQuery, storyID, stepID); err != nil {
		if err = notFound(err); errors.Is(err, models.ErrNotFound) {
			return nil, err
		}
		r.logger.Error("Failed to get step", zap.String("stepID", stepID), zap.Error(err))
		return nil, fmt.Errorf("ошибка получения шага: %w", err)
	}
	return row.toModel()
}

func (r *pgStoryRepository) RecentSteps(ctx context.Context, storyID string, k int) ([]*models.Step, error) {
	if k <= 0 {
		return r.ListSteps(ctx, storyID)
	}
	return r.selectSteps(ctx, recentStepsQuery, storyID, k)
}

func (r *pgStoryRepository) ListSteps(ctx context.Context, storyID string) ([]*models.Step, error) {
	return r.selectSteps(ctx, listStepsQuery, storyID)
}

func (r *pgStoryRepository) selectSteps(ctx context.Context, query string, args ...any) ([]*models.Step, error) {
	var rows []stepRow
	if err := pgxscan.Select(ctx, r.pool, &rows, query, args...); err != nil {
		r.logger.Error("Failed to list steps", zap.Error(err))
		return nil, fmt.Errorf("ошибка получения шагов: %w", err)
	}
	steps := make([]*models.Step, 0, len(rows))
	for _, row := range rows {
		step, err := row.toModel()
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
	return steps, nil
}

func (r *pgStoryRepository) ListStoriesByOwner(ctx context.Context, ownerID string, limit int) ([]*models.Story, error) {
	var rows []storyRow
	if err := pgxscan.Select(ctx, r.pool, &rows, listStoriesByOwnerQuery, ownerID, limit); err != nil {
		r.logger.Error("Failed to list stories", zap.String("ownerID", ownerID), zap.Error(err))
		return nil, fmt.Errorf("ошибка получения списка историй: %w", err)
	}
	stories := make([]*models.Story, 0, len(rows))
	for _, row := range rows {
		stories = append(stories, row.toModel())
	}
	return stories, nil
}

func (r *pgStoryRepository) DeleteStory(ctx context.Context, storyID string) error {
	tag, err := r.pool.Exec(ctx, deleteStoryQuery, storyID)
	if err != nil {
		r.logger.Error("Failed to delete story", zap.String("storyID", storyID), zap.Error(err))
		return fmt.Errorf("ошибка удаления истории: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}
