package memstore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"rpg-novel-server/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestStoryRepository_StepOrdering(t *testing.T) {
	ctx := context.Background()
	repo := NewStoryRepository(zap.NewNop())

	story, err := repo.CreateStory(ctx, "u1", "theme", "hero")
	require.NoError(t, err)
	assert.Equal(t, models.StoryStatusActive, story.Status)
	assert.Nil(t, story.CurrentStepID)

	const n = 7
	var lastID string
	for i := 0; i < n; i++ {
		lastID, err = repo.AppendStep(ctx, &models.Step{
			StoryID: story.ID,
			Index:   i,
			Text:    fmt.Sprintf("step %d", i),
			Choices: []string{"a", "b"},
		})
		require.NoError(t, err)
	}

	steps, err := repo.ListSteps(ctx, story.ID)
	require.NoError(t, err)
	require.Len(t, steps, n)
	for i, s := range steps {
		assert.Equal(t, i, s.Index)
	}

	updated, err := repo.GetStory(ctx, story.ID)
	require.NoError(t, err)
	require.NotNil(t, updated.CurrentStepID)
	assert.Equal(t, lastID, *updated.CurrentStepID)
	assert.False(t, updated.UpdatedAt.Before(story.UpdatedAt))

	recent, err := repo.RecentSteps(ctx, story.ID, 3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, []int{4, 5, 6}, []int{recent[0].Index, recent[1].Index, recent[2].Index})
}

func TestStoryRepository_GetStepChecksStory(t *testing.T) {
	ctx := context.Background()
	repo := NewStoryRepository(zap.NewNop())

	a, _ := repo.CreateStory(ctx, "u1", "a", "a")
	b, _ := repo.CreateStory(ctx, "u1", "b", "b")
	stepID, err := repo.AppendStep(ctx, &models.Step{StoryID: a.ID, Index: 0, Text: "t", Choices: []string{"x", "y"}})
	require.NoError(t, err)

	step, err := repo.GetStep(ctx, a.ID, stepID)
	require.NoError(t, err)
	assert.Equal(t, "t", step.Text)

	_, err = repo.GetStep(ctx, b.ID, stepID)
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = repo.AppendStep(ctx, &models.Step{StoryID: "missing", Index: 0})
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestStoryRepository_ListStoriesByOwner(t *testing.T) {
	ctx := context.Background()
	repo := NewStoryRepository(zap.NewNop())

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	repo.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}

	first, _ := repo.CreateStory(ctx, "u1", "1", "1")
	_, _ = repo.CreateStory(ctx, "u2", "other", "other")
	second, _ := repo.CreateStory(ctx, "u1", "2", "2")
	third, _ := repo.CreateStory(ctx, "u1", "3", "3")

	stories, err := repo.ListStoriesByOwner(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, stories, 3)
	assert.Equal(t, []string{third.ID, second.ID, first.ID}, []string{stories[0].ID, stories[1].ID, stories[2].ID})

	limited, err := repo.ListStoriesByOwner(ctx, "u1", 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestStoryRepository_DeleteStory(t *testing.T) {
	ctx := context.Background()
	repo := NewStoryRepository(zap.NewNop())

	story, _ := repo.CreateStory(ctx, "u1", "t", "c")
	require.NoError(t, repo.DeleteStory(ctx, story.ID))

	_, err := repo.GetStory(ctx, story.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.ErrorIs(t, repo.DeleteStory(ctx, story.ID), models.ErrNotFound)
}

func TestStoryRepository_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	repo := NewStoryRepository(zap.NewNop())

	story, _ := repo.CreateStory(ctx, "u1", "t", "c")
	stepID, _ := repo.AppendStep(ctx, &models.Step{StoryID: story.ID, Index: 0, Text: "t", Choices: []string{"x", "y"}})

	step, _ := repo.GetStep(ctx, story.ID, stepID)
	step.Choices[0] = "changed"

	again, _ := repo.GetStep(ctx, story.ID, stepID)
	assert.Equal(t, "x", again.Choices[0])
}

func TestStoryRepository_CopiesStateExtra(t *testing.T) {
	ctx := context.Background()
	repo := NewStoryRepository(zap.NewNop())

	story, _ := repo.CreateStory(ctx, "u1", "t", "c")
	input := &models.Step{
		StoryID: story.ID,
		Index:   0,
		Text:    "t",
		Choices: []string{"x", "y"},
		State: &models.GameState{
			Health:    90,
			MaxHealth: 100,
			Extra: map[string]any{
				"gold":      float64(3),
				"inventory": []any{"rope"},
				"npc":       map[string]any{"mood": "calm"},
			},
		},
	}
	stepID, err := repo.AppendStep(ctx, input)
	require.NoError(t, err)

	// Изменения исходного шага не попадают в хранилище
	input.State.Extra["gold"] = float64(999)

	step, err := repo.GetStep(ctx, story.ID, stepID)
	require.NoError(t, err)
	step.State.Extra["gold"] = float64(0)
	step.State.Extra["inventory"].([]any)[0] = "sword"
	step.State.Extra["npc"].(map[string]any)["mood"] = "angry"

	again, err := repo.GetStep(ctx, story.ID, stepID)
	require.NoError(t, err)
	assert.Equal(t, float64(3), again.State.Extra["gold"])
	assert.Equal(t, []any{"rope"}, again.State.Extra["inventory"])
	assert.Equal(t, map[string]any{"mood": "calm"}, again.State.Extra["npc"])
}

func TestStoryRepository_TerminalStepKeepsStatus(t *testing.T) {
	ctx := context.Background()
	repo := NewStoryRepository(zap.NewNop())

	story, _ := repo.CreateStory(ctx, "u1", "t", "c")
	_, err := repo.AppendStep(ctx, &models.Step{
		StoryID: story.ID,
		Index:   0,
		Text:    "The end",
		Choices: []string{"a", "b"},
		State:   &models.GameState{Health: 0, MaxHealth: 100, Scene: models.SceneEnding, IsTerminal: true},
	})
	require.NoError(t, err)

	loaded, err := repo.GetStory(ctx, story.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StoryStatusActive, loaded.Status)
}
