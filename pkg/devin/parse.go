package devin

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// maxDecodeDepth bounds how many times a JSON string payload is unwrapped.
const maxDecodeDepth = 2

// ParseScopingResult converts structured output into a ScopingResult.
//
// raw may be a decoded object, raw JSON bytes, a JSON-encoded string, or
// any value whose JSON form is an object.
// It returns nil when raw is absent, undecodable, or not an object. Every
// field is defaulted independently when missing or of the wrong shape, so
// a partially populated payload still yields a result. It never panics.
func ParseScopingResult(raw any) *ScopingResult {
	data := decodeObject(raw, 0)
	if data == nil {
		return nil
	}

	complexity := ComplexityMedium
	if s, ok := data["complexity"].(string); ok {
		switch c := Complexity(strings.ToLower(strings.TrimSpace(s))); c {
		case ComplexityLow, ComplexityMedium, ComplexityHigh:
			complexity = c
		}
	}

	estimated := stringField(data, "estimated_time")
	if estimated == "" {
		estimated = "Unknown"
	}

	return &ScopingResult{
		ConfidenceScore: confidenceField(data, "confidence_score"),
		Complexity:      complexity,
		EstimatedTime:   estimated,
		Summary:         stringField(data, "summary"),
		ActionPlan:      actionPlanField(data, "action_plan"),
		PotentialRisks:  stringListField(data, "potential_risks"),
		FilesToModify:   stringListField(data, "files_to_modify"),
		Dependencies:    stringListField(data, "dependencies"),
	}
}

// ParseFixResult converts structured output into a FixResult with the
// same lenient contract as ParseScopingResult.
func ParseFixResult(raw any) *FixResult {
	data := decodeObject(raw, 0)
	if data == nil {
		return nil
	}

	success, _ := data["success"].(bool)

	var prURL *string
	if s := strings.TrimSpace(stringField(data, "pr_url")); s != "" {
		prURL = &s
	}

	return &FixResult{
		Success:     success,
		PRURL:       prURL,
		Summary:     stringField(data, "summary"),
		ChangesMade: stringListField(data, "changes_made"),
		TestsAdded:  stringListField(data, "tests_added"),
		Notes:       stringField(data, "notes"),
	}
}

// decodeObject normalizes raw into a JSON object, or nil.
func decodeObject(raw any, depth int) map[string]any {
	if depth > maxDecodeDepth {
		return nil
	}
	switch v := raw.(type) {
	case nil, bool, float64, json.Number, []any:
		return nil
	case map[string]any:
		// Callers may build the map by hand with int or []string values.
		// A JSON round trip rewrites those into the shapes the field readers expect.
		if b, err := json.Marshal(v); err == nil {
			var out map[string]any
			if json.Unmarshal(b, &out) == nil {
				return out
			}
		}
		return v
	case json.RawMessage:
		return decodeBytes([]byte(v), depth)
	case []byte:
		return decodeBytes(v, depth)
	case string:
		if strings.TrimSpace(v) == "" {
			return nil
		}
		return decodeBytes([]byte(v), depth)
	default:
		// Structs and maps of other value types go through their JSON form.
		b, err := json.Marshal(v)
		if err != nil {
			return nil
		}
		return decodeBytes(b, depth)
	}
}

func decodeBytes(b []byte, depth int) map[string]any {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return nil
	}
	return decodeObject(v, depth+1)
}

func stringField(data map[string]any, key string) string {
	s, _ := data[key].(string)
	return s
}

// confidenceField reads a 0-100 score. Numeric strings are accepted.
func confidenceField(data map[string]any, key string) int {
	var f float64
	switch v := data[key].(type) {
	case float64:
		f = v
	case json.Number:
		n, err := v.Float64()
		if err != nil {
			return 0
		}
		f = n
	case string:
		n, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(v), "%"), 64)
		if err != nil {
			return 0
		}
		f = n
	default:
		return 0
	}
	if math.IsNaN(f) || f <= 0 {
		return 0
	}
	if f >= 100 {
		return 100
	}
	return int(f)
}

func stringListField(data map[string]any, key string) []string {
	out := []string{}
	items, ok := data[key].([]any)
	if !ok {
		return out
	}
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// actionPlanField reads the action plan. Items that are neither objects
// nor strings are skipped; a missing or non-positive step number is
// replaced by the item's position.
func actionPlanField(data map[string]any, key string) []ActionPlanItem {
	out := []ActionPlanItem{}
	items, ok := data[key].([]any)
	if !ok {
		return out
	}
	for i, item := range items {
		entry := ActionPlanItem{Step: i + 1, Type: StepImplementation}
		switch v := item.(type) {
		case string:
			entry.Description = v
		case map[string]any:
			if step, ok := v["step"].(float64); ok && step >= 1 {
				entry.Step = int(step)
			}
			entry.Description = stringField(v, "description")
			if s, ok := v["type"].(string); ok {
				switch st := StepType(strings.ToLower(strings.TrimSpace(s))); st {
				case StepAnalysis, StepImplementation, StepTesting, StepDocumentation:
					entry.Type = st
				}
			}
		default:
			continue
		}
		out = append(out, entry)
	}
	return out
}
