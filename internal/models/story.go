package models

import "time"

// StoryStatus определяет статус истории.
type StoryStatus string

// Ядро создает истории только в статусе active и не меняет его.
const (
	StoryStatusActive    StoryStatus = "active"
	StoryStatusCompleted StoryStatus = "completed"
)

// Сцены и статусы игрового состояния
const (
	SceneExploration = "exploration"
	SceneEnding      = "ending"
	StatusDefeated   = "defeated"

	DefaultMaxHealth = 100
)

// Story - контейнер шагов, принадлежащий одному пользователю.
type Story struct {
	ID              string      `json:"story_id"`
	OwnerID         string      `json:"owner_uid"`
	ThemePrompt     string      `json:"theme_prompt"`
	CharacterPrompt string      `json:"character_prompt"`
	Status          StoryStatus `json:"status"`
	CurrentStepID   *string     `json:"current_step_id"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// GameState - снимок игрового состояния на шаге.
type GameState struct {
	Health     int            `json:"health"`
	MaxHealth  int            `json:"max_health"`
	Scene      string         `json:"scene,omitempty"`
	Status     []string       `json:"status,omitempty"`
	IsTerminal bool           `json:"is_terminal"`
	Extra      map[string]any `json:"extra,omitempty"`
}

// HasStatus проверяет наличие тега статуса.
func (s *GameState) HasStatus(tag string) bool {
	if s == nil {
		return false
	}
	for _, st := range s.Status {
		if st == tag {
			return true
		}
	}
	return false
}

// Step - неизменяемый шаг истории.
// ParentChoiceIndex/ParentChoiceText описывают выбор на предыдущем шаге, который привел к этому.
type Step struct {
	ID                string     `json:"step_id"`
	StoryID           string     `json:"story_id"`
	Index             int        `json:"index"`
	Text              string     `json:"text"`
	Choices           []string   `json:"choices"`
	State             *GameState `json:"state,omitempty"`
	ParentChoiceIndex *int       `json:"parent_choice_index,omitempty"`
	ParentChoiceText  string     `json:"parent_choice_text,omitempty"`
	Model             string     `json:"model,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

// IsTerminal сообщает, что шаг завершает историю.
func (s *Step) IsTerminal() bool {
	return s != nil && s.State != nil && (s.State.IsTerminal || s.State.Health <= 0)
}

// StepPayload - каноническая форма ответа модели после нормализации.
type StepPayload struct {
	Text    string
	Choices []string
	State   *GameState
}

// HistoryEntry - элемент истории, передаваемый генератору.
// ChosenIndex - индекс выбора, сделанного игроком на этом шаге (если был).
type HistoryEntry struct {
	Index       int
	Text        string
	Choices     []string
	ChosenIndex *int
	State       *GameState
}

// GeneratedStep - результат генерации следующего шага.
type GeneratedStep struct {
	Index   int
	Text    string
	Choices []string
	State   *GameState
	Model   string
}

// StorySummary - краткое описание истории для списков.
type StorySummary struct {
	ID        string      `json:"story_id"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
	Status    StoryStatus `json:"status"`
	LastText  *string     `json:"last_text"`
}
