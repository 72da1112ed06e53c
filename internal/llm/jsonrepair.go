package llm

import (
	"encoding/json"
	"strings"

	"github.com/foliopilot/foliopilot/internal/errs"
)

// ParseLoose decodes model output that should be JSON. Strict parse
// first; on failure, strip markdown code fences; failing that, slice
// the substring between the first and last bracket and retry. Repair
// never evaluates the text, it only narrows what the strict decoder
// sees. The raw text rides on the error for diagnosis.
func ParseLoose(text string) (any, error) {
	var v any
	if err := json.Unmarshal([]byte(text), &v); err == nil {
		return v, nil
	}

	if stripped, ok := stripFences(text); ok {
		if err := json.Unmarshal([]byte(stripped), &v); err == nil {
			return v, nil
		}
	}

	if sliced, ok := sliceBrackets(text); ok {
		if err := json.Unmarshal([]byte(sliced), &v); err == nil {
			return v, nil
		}
	}

	e := errs.New(errs.BadModelOutput, "model output is not valid JSON")
	e.Raw = text
	return nil, e
}

// stripFences removes a ```json ... ``` (or bare ```) fence around the
// payload.
func stripFences(text string) (string, bool) {
	t := strings.TrimSpace(text)
	start := strings.Index(t, "```")
	if start < 0 {
		return "", false
	}
	t = t[start+3:]
	t = strings.TrimPrefix(t, "json")
	t = strings.TrimPrefix(t, "JSON")
	end := strings.Index(t, "```")
	if end < 0 {
		return strings.TrimSpace(t), true
	}
	return strings.TrimSpace(t[:end]), true
}

// sliceBrackets returns the substring between the first opening and the
// last closing bracket of either kind.
func sliceBrackets(text string) (string, bool) {
	firstObj := strings.Index(text, "{")
	firstArr := strings.Index(text, "[")
	first := firstObj
	last := strings.LastIndex(text, "}")
	if first < 0 || (firstArr >= 0 && firstArr < firstObj) {
		first = firstArr
		last = strings.LastIndex(text, "]")
	}
	if first < 0 || last <= first {
		return "", false
	}
	return text[first : last+1], true
}
