package normalizer

import "strings"

// rawStep - промежуточное представление до нормализации выборов и состояния.
type rawStep struct {
	text    string
	choices []any
	state   map[string]any
}

// adapt приводит одну из известных схем ответа к rawStep.
// Поддерживаются:
//   - {"text", "choices"}
//   - {"text", "choices", "state"}
//   - {"scene": {"text"|"narrative", "choices"}, "game_state", "mechanics"}
//
// Возвращает nil, если нет текста или список выборов короче двух элементов.
func adapt(obj map[string]any) *rawStep {
	var step *rawStep
	if scene, ok := obj["scene"].(map[string]any); ok {
		step = adaptNested(obj, scene)
	} else {
		step = adaptFlat(obj)
	}

	if step == nil || strings.TrimSpace(step.text) == "" || len(step.choices) < minChoices {
		return nil
	}
	step.text = strings.TrimSpace(step.text)
	return step
}

func adaptFlat(obj map[string]any) *rawStep {
	choices, ok := obj["choices"].([]any)
	if !ok {
		return nil
	}
	step := &rawStep{
		text:    firstString(obj, "text", "narrative"),
		choices: choices,
	}
	if state, ok := obj["state"].(map[string]any); ok {
		step.state = state
	}
	return step
}

func adaptNested(obj, scene map[string]any) *rawStep {
	choices, ok := scene["choices"].([]any)
	if !ok {
		choices, ok = obj["choices"].([]any)
	}
	if !ok {
		return nil
	}

	step := &rawStep{
		text:    firstString(scene, "text", "narrative", "description"),
		choices: choices,
	}

	state := make(map[string]any)
	if mechanics, ok := obj["mechanics"].(map[string]any); ok {
		for k, v := range mechanics {
			state[k] = v
		}
	}
	// game_state имеет приоритет над mechanics
	if gs, ok := obj["game_state"].(map[string]any); ok {
		for k, v := range gs {
			state[k] = v
		}
	}
	if kind := firstString(scene, "type", "kind"); kind != "" {
		if _, set := state["scene"]; !set {
			state["scene"] = kind
		}
	}
	if len(state) > 0 {
		step.state = state
	}
	return step
}
