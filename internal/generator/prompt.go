package generator

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"rpg-novel-server/internal/models"
)

const systemPrompt = `You are the narrator of an interactive role-playing story. You are creative, vivid and consistent.
Always answer with strict JSON and nothing else, in this format:
{
  "text": "the next passage of the story",
  "choices": ["option 1", "option 2", "option 3", "option 4"],
  "state": {"health": 100, "scene": "exploration", "status": []}
}

Rules:
- "text": an immersive, descriptive passage (150-350 words) that follows from the recap.
- "choices": between 2 and 4 short, clear, mutually exclusive actions for the player.
- "state.health": the character's health from 0 to 100. Change it only when the story justifies it. 0 means the character is defeated and the story ends.
- "state.scene": one of "exploration", "dialogue", "combat", "ending".
- Keep characters, places and the internal logic of the story consistent.
- Never add commentary, markdown or code fences. Output only the JSON object.`

// choiceBound ограничивает запрошенное число выборов диапазоном 2..4.
func choiceBound(maxChoices int) int {
	return max(2, min(4, maxChoices))
}

// buildRecap собирает краткий пересказ последних записей истории.
// Выбор игрока подставляется текстом; индекс вне диапазона игнорируется.
func buildRecap(history []models.HistoryEntry, entries, textRunes int) string {
	if len(history) == 0 {
		return ""
	}
	if len(history) > entries {
		history = history[len(history)-entries:]
	}

	var sb strings.Builder
	sb.WriteString("RECENT EVENTS:\n")
	for _, h := range history {
		sb.WriteString("- ")
		sb.WriteString(truncate(strings.TrimSpace(h.Text), textRunes))
		if choice, ok := chosenText(h); ok {
			fmt.Fprintf(&sb, " [Player chose: %s]", choice)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func chosenText(h models.HistoryEntry) (string, bool) {
	if h.ChosenIndex == nil {
		return "", false
	}
	idx := *h.ChosenIndex
	if idx < 0 || idx >= len(h.Choices) {
		return "", false
	}
	return h.Choices[idx], true
}

func buildUserPrompt(theme, character, recap string, health, bound int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "THEME: %s\n", theme)
	fmt.Fprintf(&sb, "CHARACTER: %s\n", character)
	fmt.Fprintf(&sb, "CURRENT HEALTH: %d\n\n", health)
	if recap != "" {
		sb.WriteString(recap)
		sb.WriteString("\n")
	} else {
		sb.WriteString("This is the opening of the story. Introduce the character and the setting.\n\n")
	}
	fmt.Fprintf(&sb, "TASK: write the next passage of the story with at most %d choices (at least 2).\n", bound)
	sb.WriteString("Answer ONLY with the JSON object in the required format.")
	return sb.String()
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}
