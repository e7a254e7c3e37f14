package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// ErrNoJSON indicates the completion contained no JSON object at all.
var ErrNoJSON = errors.New("no JSON object in completion")

// ExtractJSON decodes the first JSON object found in an LLM completion
// into v. Models wrap JSON in prose, fences and stray commas; the
// extractor slices from the first '{' to the last '}' and repairs the
// payload when a strict parse fails.
func ExtractJSON(s string, v interface{}) error {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return ErrNoJSON
	}
	raw := s[start : end+1]

	if err := json.Unmarshal([]byte(raw), v); err == nil {
		return nil
	}

	repaired, err := jsonrepair.JSONRepair(raw)
	if err != nil {
		return fmt.Errorf("repair JSON: %w", err)
	}
	if err := json.Unmarshal([]byte(repaired), v); err != nil {
		return fmt.Errorf("decode repaired JSON: %w", err)
	}
	return nil
}
