package normalizer

import (
	"strings"
	"testing"

	"rpg-novel-server/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize_ChoiceBounds(t *testing.T) {
	n := New()

	inputs := map[string]string{
		"empty":               "",
		"whitespace":          "   \n\t ",
		"plain prose":         "The dragon roars and the cave trembles.",
		"unbalanced braces":   `{{{"text": "half", "choices": ["a", "b"]`,
		"closing only":        "}}}",
		"one choice":          `{"text": "alone", "choices": ["only"]}`,
		"six choices":         `{"text": "many", "choices": ["a","b","c","d","e","f"]}`,
		"choices not a list":  `{"text": "x", "choices": "a,b"}`,
		"array at top level":  `["a", "b"]`,
		"numbers as choices":  `{"text": "x", "choices": [1, 2, 3]}`,
		"nested without text": `{"scene": {"choices": ["a", "b"]}}`,
	}

	for name, input := range inputs {
		t.Run(name, func(t *testing.T) {
			payload := n.Normalize(input, 80)
			assert.GreaterOrEqual(t, len(payload.Choices), 2)
			assert.LessOrEqual(t, len(payload.Choices), 4)
			assert.NotEmpty(t, payload.Text)
			require.NotNil(t, payload.State)
		})
	}
}

func TestNormalize_Fallback(t *testing.T) {
	var reasons []string
	n := New(WithFallbackObserver(func(reason string) { reasons = append(reasons, reason) }))

	t.Run("Пустая строка", func(t *testing.T) {
		reasons = nil
		payload := n.Normalize("", 100)
		assert.Equal(t, FallbackChoices, payload.Choices)
		assert.Equal(t, emptyNarrative, payload.Text)
		assert.Equal(t, []string{ReasonEmpty}, reasons)
	})

	t.Run("Проза без JSON", func(t *testing.T) {
		reasons = nil
		payload := n.Normalize("  You wake up in a dark room.  ", 100)
		assert.Equal(t, "You wake up in a dark room.", payload.Text)
		assert.Equal(t, FallbackChoices, payload.Choices)
		assert.Equal(t, []string{ReasonUnparseable}, reasons)
	})

	t.Run("Один вариант выбора", func(t *testing.T) {
		reasons = nil
		raw := `{"text": "alone", "choices": ["only"]}`
		payload := n.Normalize(raw, 100)
		assert.Equal(t, raw, payload.Text)
		assert.Equal(t, FallbackChoices, payload.Choices)
		assert.Equal(t, []string{ReasonInvalidShape}, reasons)
	})

	t.Run("Длинный текст обрезается", func(t *testing.T) {
		short := New(WithMaxFallbackRunes(10))
		payload := short.Normalize(strings.Repeat("é", 50), 100)
		assert.Equal(t, 10, len([]rune(payload.Text)))
	})

	t.Run("Дубликаты и пустые выборы", func(t *testing.T) {
		reasons = nil
		payload := n.Normalize(`{"text": "fork", "choices": ["left", "left", "  "]}`, 100)
		assert.Equal(t, "fork", payload.Text)
		assert.Equal(t, MinimalChoices, payload.Choices)
		assert.Equal(t, []string{ReasonTooFewChoices}, reasons)
	})
}

func TestNormalize_Shapes(t *testing.T) {
	n := New()

	t.Run("Плоская схема", func(t *testing.T) {
		payload := n.Normalize(`{"text": " Dawn breaks. ", "choices": ["Wake", "Sleep"]}`, 70)
		assert.Equal(t, "Dawn breaks.", payload.Text)
		assert.Equal(t, []string{"Wake", "Sleep"}, payload.Choices)
		assert.Equal(t, 70, payload.State.Health)
		assert.Equal(t, models.SceneExploration, payload.State.Scene)
		assert.False(t, payload.State.IsTerminal)
	})

	t.Run("Плоская схема с состоянием", func(t *testing.T) {
		payload := n.Normalize(`{"text": "Hit!", "choices": ["Run", "Fight"], "state": {"health": 40, "scene": "combat", "gold": 3}}`, 70)
		assert.Equal(t, 40, payload.State.Health)
		assert.Equal(t, "combat", payload.State.Scene)
		assert.Equal(t, float64(3), payload.State.Extra["gold"])
	})

	t.Run("Вложенная схема", func(t *testing.T) {
		raw := `{
			"scene": {"narrative": "The bridge collapses.", "type": "combat",
				"choices": [{"label": "Jump"}, {"label": "Hold on"}, {"text": "Pray"}]},
			"game_state": {"health": 55},
			"mechanics": {"health": 99, "stamina": 10}
		}`
		payload := n.Normalize(raw, 100)
		assert.Equal(t, "The bridge collapses.", payload.Text)
		assert.Equal(t, []string{"Jump", "Hold on", "Pray"}, payload.Choices)
		assert.Equal(t, 55, payload.State.Health)
		assert.Equal(t, "combat", payload.State.Scene)
		assert.Equal(t, float64(10), payload.State.Extra["stamina"])
	})

	t.Run("Больше четырех выборов", func(t *testing.T) {
		payload := n.Normalize(`{"text": "x", "choices": ["a","b","c","d","e","f"]}`, 100)
		assert.Equal(t, []string{"a", "b", "c", "d"}, payload.Choices)
	})
}

func TestNormalize_Extraction(t *testing.T) {
	n := New()

	t.Run("Комментарий до JSON", func(t *testing.T) {
		raw := "Sure! Here is the step:\n```json\n{\"text\": \"Fog rolls in.\", \"choices\": [\"Wait\", \"Walk\"]}\n```"
		payload := n.Normalize(raw, 100)
		assert.Equal(t, "Fog rolls in.", payload.Text)
		assert.Equal(t, []string{"Wait", "Walk"}, payload.Choices)
	})

	t.Run("JSON, затем комментарий без скобок", func(t *testing.T) {
		raw := `{"text": "The gate opens.", "choices": ["Enter", "Leave"]} Note: the gate was locked before.`
		payload := n.Normalize(raw, 100)
		assert.Equal(t, "The gate opens.", payload.Text)
		assert.Equal(t, []string{"Enter", "Leave"}, payload.Choices)
	})

	t.Run("Последний объект невалиден", func(t *testing.T) {
		var reasons []string
		strict := New(WithFallbackObserver(func(reason string) { reasons = append(reasons, reason) }))
		raw := `{"text": "The gate opens.", "choices": ["Enter", "Wait"]} Note: {"comment": "done"}`
		payload := strict.Normalize(raw, 100)
		assert.Equal(t, raw, payload.Text)
		assert.Equal(t, FallbackChoices, payload.Choices)
		assert.Equal(t, []string{ReasonInvalidShape}, reasons)
	})

	t.Run("Последний объект не разбирается", func(t *testing.T) {
		raw := `{"text": "The gate opens.", "choices": ["Enter", "Leave"]} Note: {placeholder} was omitted.`
		payload := n.Normalize(raw, 100)
		assert.Equal(t, FallbackChoices, payload.Choices)
	})

	t.Run("Берется последний объект", func(t *testing.T) {
		raw := `Draft: {"text": "old", "choices": ["a", "b"]} Final: {"text": "new", "choices": ["c", "d"]}`
		payload := n.Normalize(raw, 100)
		assert.Equal(t, "new", payload.Text)
		assert.Equal(t, []string{"c", "d"}, payload.Choices)
	})

	t.Run("Скобки и кавычки внутри строк", func(t *testing.T) {
		raw := `He said "look" and then {"text": "A sign reads \"} beware {\".", "choices": ["Read", "Ignore"]}`
		payload := n.Normalize(raw, 100)
		assert.Equal(t, `A sign reads "} beware {".`, payload.Text)
		assert.Equal(t, []string{"Read", "Ignore"}, payload.Choices)
	})
}

func TestNormalize_Health(t *testing.T) {
	n := New()

	t.Run("Здоровье 0 завершает историю", func(t *testing.T) {
		payload := n.Normalize(`{"text": "You fall.", "choices": ["Retry", "Accept"], "state": {"health": 0}}`, 30)
		assert.Equal(t, 0, payload.State.Health)
		assert.Equal(t, models.SceneEnding, payload.State.Scene)
		assert.True(t, payload.State.IsTerminal)
		assert.Contains(t, payload.State.Status, models.StatusDefeated)
	})

	t.Run("Отрицательное здоровье обрезается до 0", func(t *testing.T) {
		payload := n.Normalize(`{"text": "Ouch", "choices": ["a", "b"], "state": {"health": -25, "status": "defeated"}}`, 30)
		assert.Equal(t, 0, payload.State.Health)
		assert.Equal(t, []string{models.StatusDefeated}, payload.State.Status)
	})

	t.Run("Здоровье выше максимума", func(t *testing.T) {
		payload := n.Normalize(`{"text": "Heal", "choices": ["a", "b"], "state": {"health": 150}}`, 30)
		assert.Equal(t, 100, payload.State.Health)
	})

	t.Run("Огромное здоровье не переполняется", func(t *testing.T) {
		payload := n.Normalize(`{"text": "Blessed", "choices": ["a", "b"], "state": {"health": 1e20}}`, 80)
		assert.Equal(t, 100, payload.State.Health)
		assert.False(t, payload.State.IsTerminal)
		assert.NotEqual(t, models.SceneEnding, payload.State.Scene)
		assert.Empty(t, payload.State.Status)
	})

	t.Run("Огромное отрицательное здоровье", func(t *testing.T) {
		payload := n.Normalize(`{"text": "Cursed", "choices": ["a", "b"], "state": {"health": -1e20}}`, 80)
		assert.Equal(t, 0, payload.State.Health)
		assert.True(t, payload.State.IsTerminal)
	})

	t.Run("Настраиваемый максимум", func(t *testing.T) {
		custom := New(WithMaxHealth(20))
		payload := custom.Normalize(`{"text": "Heal", "choices": ["a", "b"], "state": {"hp": 50}}`, 10)
		assert.Equal(t, 20, payload.State.Health)
		assert.Equal(t, 20, payload.State.MaxHealth)
	})

	t.Run("Отсутствующее здоровье переносится", func(t *testing.T) {
		payload := n.Normalize(`{"text": "Calm", "choices": ["a", "b"], "state": {"scene": "rest"}}`, 42)
		assert.Equal(t, 42, payload.State.Health)
		assert.Equal(t, "rest", payload.State.Scene)
	})

	t.Run("Запасной ответ тоже переносит здоровье", func(t *testing.T) {
		payload := n.Normalize("no json here", 0)
		assert.True(t, payload.State.IsTerminal)
		assert.Contains(t, payload.State.Status, models.StatusDefeated)
	})
}

func TestExtractLastObject(t *testing.T) {
	obj, ok := ExtractLastObject(`a {"x": {"y": 1}} b {"z": "}"} c`)
	require.True(t, ok)
	assert.Equal(t, `{"z": "}"}`, obj)

	_, ok = ExtractLastObject(`{"never": "closed"`)
	assert.False(t, ok)

	_, ok = ExtractLastObject("")
	assert.False(t, ok)
}
