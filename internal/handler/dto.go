package handler

import (
	"time"

	"rpg-novel-server/internal/models"
)

// --- Запросы ---

type startStoryRequest struct {
	ThemePrompt     string `json:"theme_prompt" validate:"required,min=3"`
	CharacterPrompt string `json:"character_prompt" validate:"required,min=3"`
	// 0 - значение по умолчанию (2)
	InitialChoices int `json:"initial_choices" validate:"omitempty,min=2,max=4"`
}

type chooseRequest struct {
	ChoiceIndex *int `json:"choice_index" validate:"required,min=0"`
}

type purchaseRequest struct {
	PackageID     string `json:"package_id" validate:"required"`
	PaymentMethod string `json:"payment_method" validate:"omitempty,oneof=pix credit_card stripe"`
}

type addCoinsRequest struct {
	Amount      int64  `json:"amount" query:"amount" validate:"required,gt=0"`
	Description string `json:"description" query:"description" validate:"max=200"`
}

// --- Ответы ---

// stepOut - шаг истории для клиента.
type stepOut struct {
	StoryID   string            `json:"story_id"`
	StepID    string            `json:"step_id"`
	Index     int               `json:"index"`
	Text      string            `json:"text"`
	Choices   []string          `json:"choices"`
	State     *models.GameState `json:"state,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

func toStepOut(s *models.Step) stepOut {
	choices := s.Choices
	if choices == nil {
		choices = []string{}
	}
	return stepOut{
		StoryID:   s.StoryID,
		StepID:    s.ID,
		Index:     s.Index,
		Text:      s.Text,
		Choices:   choices,
		State:     s.State,
		CreatedAt: s.CreatedAt,
	}
}

type balanceOut struct {
	Balance     int64 `json:"balance"`
	TotalEarned int64 `json:"total_earned"`
	TotalSpent  int64 `json:"total_spent"`
}

type packageOut struct {
	ID              string   `json:"package_id"`
	Name            string   `json:"name"`
	Coins           int64    `json:"coins"`
	PriceBRL        float64  `json:"price_brl"`
	DiscountPercent *float64 `json:"discount_percentage"`
	IsActive        bool     `json:"is_active"`
}

func toPackagesOut(pkgs []models.CoinPackage) []packageOut {
	out := make([]packageOut, 0, len(pkgs))
	for _, p := range pkgs {
		po := packageOut{
			ID:       p.ID,
			Name:     p.Name,
			Coins:    p.Coins,
			PriceBRL: p.PriceBRL(),
			IsActive: p.IsActive,
		}
		if p.DiscountPercent > 0 {
			d := p.DiscountPercent
			po.DiscountPercent = &d
		}
		out = append(out, po)
	}
	return out
}

type meOut struct {
	UID              string         `json:"uid"`
	Email            string         `json:"email,omitempty"`
	EmailVerified    bool           `json:"email_verified"`
	Claims           map[string]any `json:"claims"`
	CoinBalance      int64          `json:"coin_balance"`
	TotalCoinsEarned int64          `json:"total_coins_earned"`
	TotalCoinsSpent  int64          `json:"total_coins_spent"`
}
