package normalizer

import (
	"encoding/json"
	"math"
	"strings"
	"unicode/utf8"

	"rpg-novel-server/internal/models"
)

// Причины подстановки запасного ответа
const (
	ReasonEmpty         = "empty"
	ReasonUnparseable   = "unparseable"
	ReasonInvalidShape  = "invalid_shape"
	ReasonTooFewChoices = "too_few_choices"
)

const (
	maxChoices              = 4
	minChoices              = 2
	defaultMaxFallbackRunes = 1500
	emptyNarrative          = "The path ahead is shrouded in silence."
)

// Запасные варианты выбора
var (
	FallbackChoices = []string{"Move forward", "Retreat cautiously", "Investigate surroundings"}
	MinimalChoices  = []string{"Move forward", "Retreat cautiously"}
)

// FallbackObserver вызывается при каждой подстановке запасного ответа.
type FallbackObserver func(reason string)

// Normalizer извлекает и чинит структурированный шаг из сырого ответа модели.
// Normalize никогда не возвращает ошибку.
type Normalizer struct {
	maxHealth        int
	maxFallbackRunes int
	observer         FallbackObserver
}

// Option настраивает Normalizer.
type Option func(*Normalizer)

// WithMaxHealth задает верхнюю границу здоровья.
func WithMaxHealth(maxHealth int) Option {
	return func(n *Normalizer) {
		if maxHealth > 0 {
			n.maxHealth = maxHealth
		}
	}
}

// WithMaxFallbackRunes ограничивает длину текста в запасном ответе.
func WithMaxFallbackRunes(limit int) Option {
	return func(n *Normalizer) {
		if limit > 0 {
			n.maxFallbackRunes = limit
		}
	}
}

// WithFallbackObserver подключает наблюдателя за запасными ответами.
func WithFallbackObserver(o FallbackObserver) Option {
	return func(n *Normalizer) {
		n.observer = o
	}
}

// New создает Normalizer.
func New(opts ...Option) *Normalizer {
	n := &Normalizer{
		maxHealth:        models.DefaultMaxHealth,
		maxFallbackRunes: defaultMaxFallbackRunes,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// MaxHealth возвращает настроенный максимум здоровья.
func (n *Normalizer) MaxHealth() int {
	return n.maxHealth
}

// Normalize превращает сырой текст модели в StepPayload с 2..4 вариантами выбора.
func (n *Normalizer) Normalize(raw string, currentHealth int) models.StepPayload {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return n.fallback(trimmed, nil, currentHealth, ReasonEmpty)
	}

	parsed, reason := n.parse(trimmed)
	if parsed == nil {
		return n.fallback(trimmed, nil, currentHealth, reason)
	}

	choices := cleanChoices(parsed.choices)
	if len(choices) > maxChoices {
		choices = choices[:maxChoices]
	}
	if len(choices) < minChoices {
		n.observe(ReasonTooFewChoices)
		choices = append([]string(nil), MinimalChoices...)
	}

	return models.StepPayload{
		Text:    parsed.text,
		Choices: choices,
		State:   n.normalizeState(parsed.state, currentHealth),
	}
}

// parse пробует прямой разбор, затем последний законченный объект верхнего уровня.
// Если последний объект невалиден, более ранние не рассматриваются.
func (n *Normalizer) parse(text string) (*rawStep, string) {
	if obj, ok := decodeObject(text); ok {
		if step := adapt(obj); step != nil {
			return step, ""
		}
	}

	objects := topLevelObjects(text)
	if len(objects) == 0 {
		return nil, ReasonUnparseable
	}

	obj, ok := decodeObject(objects[len(objects)-1])
	if !ok {
		return nil, ReasonUnparseable
	}
	if step := adapt(obj); step != nil {
		return step, ""
	}
	return nil, ReasonInvalidShape
}

func (n *Normalizer) fallback(text string, state map[string]any, currentHealth int, reason string) models.StepPayload {
	n.observe(reason)

	narrative := truncateRunes(text, n.maxFallbackRunes)
	if narrative == "" {
		narrative = emptyNarrative
	}
	return models.StepPayload{
		Text:    narrative,
		Choices: append([]string(nil), FallbackChoices...),
		State:   n.normalizeState(state, currentHealth),
	}
}

func (n *Normalizer) observe(reason string) {
	if n.observer != nil {
		n.observer(reason)
	}
}

// normalizeState приводит состояние к допустимому виду.
// Отсутствующее здоровье переносится с предыдущего шага.
func (n *Normalizer) normalizeState(raw map[string]any, currentHealth int) *models.GameState {
	state := &models.GameState{
		Health:    currentHealth,
		MaxHealth: n.maxHealth,
		Scene:     models.SceneExploration,
	}

	extra := make(map[string]any)
	for key, value := range raw {
		switch strings.ToLower(key) {
		case "health", "hp", "vida":
			if h, ok := toInt(value); ok {
				state.Health = h
			}
		case "scene", "scene_type":
			if s, ok := value.(string); ok && strings.TrimSpace(s) != "" {
				state.Scene = strings.ToLower(strings.TrimSpace(s))
			}
		case "status":
			state.Status = appendStatus(state.Status, value)
		case "is_terminal", "game_over":
			if b, ok := value.(bool); ok {
				state.IsTerminal = b
			}
		case "max_health":
			// граница задается конфигурацией
		default:
			extra[key] = value
		}
	}
	if len(extra) > 0 {
		state.Extra = extra
	}

	state.Health = clamp(state.Health, 0, n.maxHealth)
	if state.Health == 0 {
		state.Scene = models.SceneEnding
		state.IsTerminal = true
		if !state.HasStatus(models.StatusDefeated) {
			state.Status = append(state.Status, models.StatusDefeated)
		}
	}
	if state.IsTerminal {
		state.Scene = models.SceneEnding
	}
	return state
}

func decodeObject(text string) (map[string]any, bool) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(text), &obj); err != nil || obj == nil {
		return nil, false
	}
	return obj, true
}

// cleanChoices оставляет непустые уникальные строки. Для объектов берется label или text.
func cleanChoices(raw []any) []string {
	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		var label string
		switch v := item.(type) {
		case string:
			label = v
		case map[string]any:
			label = firstString(v, "label", "text", "title")
		}
		label = strings.TrimSpace(label)
		if label == "" {
			continue
		}
		if _, dup := seen[label]; dup {
			continue
		}
		seen[label] = struct{}{}
		out = append(out, label)
	}
	return out
}

func appendStatus(dst []string, value any) []string {
	switch v := value.(type) {
	case string:
		if s := strings.TrimSpace(v); s != "" {
			dst = append(dst, s)
		}
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				dst = append(dst, strings.TrimSpace(s))
			}
		}
	}
	return dst
}

func firstString(obj map[string]any, keys ...string) string {
	for _, key := range keys {
		if s, ok := obj[key].(string); ok && strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

func toInt(value any) (int, bool) {
	switch v := value.(type) {
	case float64:
		if math.IsNaN(v) {
			return 0, false
		}
		// Большие значения сводятся к границам int32 до приведения, дальше работает clamp
		return int(math.Max(math.MinInt32, math.Min(math.MaxInt32, v))), true
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, false
		}
		return toInt(f)
	case int:
		return v, true
	}
	return 0, false
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:limit]))
}
