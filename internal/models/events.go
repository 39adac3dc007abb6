package models

import "time"

// Типы доменных событий
const (
	EventStoryStarted      = "story.started"
	EventStepAppended      = "story.step_appended"
	EventCoinsUpdated      = "coins.updated"
	EventPurchaseCompleted = "coins.purchase_completed"
)

// DomainEvent - событие, публикуемое после успешной операции.
type DomainEvent struct {
	Type       string         `json:"type"`
	UserID     string         `json:"user_id"`
	StoryID    string         `json:"story_id,omitempty"`
	StepID     string         `json:"step_id,omitempty"`
	StepIndex  *int           `json:"step_index,omitempty"`
	Balance    *int64         `json:"balance,omitempty"`
	Amount     *int64         `json:"amount,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}
