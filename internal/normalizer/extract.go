package normalizer

// topLevelObjects возвращает все завершенные объекты верхнего уровня {...} в тексте
// в порядке появления. Скобки внутри строковых литералов объекта и экранированные кавычки игнорируются.
func topLevelObjects(text string) []string {
	var (
		objects  []string
		depth    int
		inString bool
		escape   bool
		start    = -1
	)

	for i := 0; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escape:
				escape = false
			case ch == '\\':
				escape = true
			case ch == '"':
				inString = false
			}
			continue
		}

		switch ch {
		case '"':
			// Кавычки в прозе вне объекта не открывают строку
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 && start >= 0 {
				objects = append(objects, text[start:i+1])
				start = -1
			}
		}
	}
	return objects
}

// ExtractLastObject возвращает последний завершенный объект верхнего уровня.
func ExtractLastObject(text string) (string, bool) {
	objects := topLevelObjects(text)
	if len(objects) == 0 {
		return "", false
	}
	return objects[len(objects)-1], true
}
