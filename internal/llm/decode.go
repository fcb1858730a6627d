package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformed is returned when a response cannot be decoded into the
// expected shape.
var ErrMalformed = errors.New("malformed model output")

// DecodeJSON extracts the outermost JSON object from text and unmarshals it
// into v. Markdown code fences and surrounding prose are tolerated.
func DecodeJSON(text string, v any) error {
	body := strings.TrimSpace(text)
	if strings.HasPrefix(body, "```") {
		body = strings.TrimPrefix(body, "```json")
		body = strings.TrimPrefix(body, "```")
		body = strings.TrimSuffix(strings.TrimSpace(body), "```")
	}

	start := strings.Index(body, "{")
	end := strings.LastIndex(body, "}")
	if start < 0 || end <= start {
		return fmt.Errorf("%w: no JSON object in %q", ErrMalformed, snippet(text))
	}
	if err := json.Unmarshal([]byte(body[start:end+1]), v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

func snippet(s string) string {
	const max = 120
	r := []rune(strings.TrimSpace(s))
	if len(r) > max {
		return string(r[:max]) + "..."
	}
	return string(r)
}
