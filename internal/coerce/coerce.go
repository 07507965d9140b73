// Package coerce turns raw, possibly-malformed model output into a structured
// object. Upstream models wrap JSON in prose or code fences, and occasionally
// emit almost-JSON (bare keys, bare string values); callers must never crash
// on that, so the ladder here is best-effort and ends in a marked fallback
// object instead of an error.
package coerce

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"medpilot/internal/telemetry"
)

const (
	// PlaceholderSummary marks a fallback object as non-model output.
	PlaceholderSummary = "Unable to extract structured findings"

	// DefaultDisclaimer is backfilled whenever a stage response lacks one.
	DefaultDisclaimer = "This AI-generated guidance is informational only and is not a substitute for professional medical advice. Consult a qualified healthcare provider."

	maxRawExcerpt = 500
)

var (
	tagRe   = regexp.MustCompile(`<[^>]*>`)
	fenceRe = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

	bareKeyRe = regexp.MustCompile(`([{,]\s*)([A-Za-z_][A-Za-z0-9_]*)(\s*:)`)
	bareValRe = regexp.MustCompile(`(:\s*)([^"\s{}\[\],][^{}\[\],"]*?)(\s*[,}\]])`)
)

// Coerce applies the fallback ladder and always returns a non-nil object.
// If every parse attempt fails, the result carries a disclaimer, a
// placeholder summary and a truncated copy of the raw input for audit.
func Coerce(raw string) map[string]any {
	obj, err := Parse(raw)
	if err != nil {
		telemetry.CoerceFallbacks.Inc()
		return Fallback(raw)
	}
	return AdaptLegacy(obj)
}

// Parse tries the four-step ladder in order, first success wins.
func Parse(raw string) (map[string]any, error) {
	trimmed := strings.TrimSpace(raw)

	// 1. Already a well-formed object.
	if obj, err := parseObject(trimmed); err == nil {
		return obj, nil
	}

	// 2. Content of a fenced code block.
	if m := fenceRe.FindStringSubmatch(trimmed); m != nil {
		if obj, err := parseObject(strings.TrimSpace(m[1])); err == nil {
			return obj, nil
		}
	}

	// 3. Whole string with markup-like tags and fences removed.
	cleaned := strings.TrimSpace(tagRe.ReplaceAllString(strings.ReplaceAll(trimmed, "```", ""), ""))
	cleaned = strings.TrimPrefix(cleaned, "json")
	if obj, err := parseObject(strings.TrimSpace(cleaned)); err == nil {
		return obj, nil
	}

	// 4. Largest balanced {...} substring, repaired.
	candidate := largestObject(cleaned)
	if candidate == "" {
		candidate = largestObject(trimmed)
	}
	if candidate != "" {
		if obj, err := parseObject(candidate); err == nil {
			return obj, nil
		}
		repaired := repair(candidate)
		if obj, err := parseObject(repaired); err == nil {
			telemetry.CoerceRepairs.Inc()
			return obj, nil
		}
	}

	return nil, &Error{Raw: truncate(raw, maxRawExcerpt)}
}

// Error reports that no ladder step produced an object. It never escapes
// Coerce; it exists so Parse is testable on its own.
type Error struct {
	Raw string
}

func (e *Error) Error() string { return "coerce: no parseable JSON object in model output" }

// Fallback builds the deterministic placeholder object for unparsable input.
func Fallback(raw string) map[string]any {
	return map[string]any{
		"disclaimer":  DefaultDisclaimer,
		"summary":     PlaceholderSummary,
		"fallback":    true,
		"raw_excerpt": truncate(raw, maxRawExcerpt),
	}
}

// EnsureFields backfills missing role-required fields with known-safe
// defaults rather than failing the stage.
func EnsureFields(obj map[string]any, required []string, defaults map[string]any) map[string]any {
	if obj == nil {
		obj = map[string]any{}
	}
	for _, field := range required {
		if v, ok := obj[field]; ok && v != nil {
			continue
		}
		if d, ok := defaults[field]; ok {
			obj[field] = d
		} else if field == "disclaimer" {
			obj[field] = DefaultDisclaimer
		} else {
			obj[field] = ""
		}
	}
	return obj
}

// legacyAliases maps older stage output keys onto the canonical shape so the
// rest of the pipeline only ever sees one shape per stage.
var legacyAliases = map[string]string{
	"diagnosis":      "possible_conditions",
	"medications":    "otc_medications",
	"summary_text":   "summary",
	"specialist":     "recommended_specialist",
	"tests":          "recommended_tests",
	"followup_plan":  "follow_up_plan",
	"danger_signs":   "warning_signs",
	"diet_plan":      "meal_plan",
	"lab_results":    "test_interpretations",
	"abnormalities":  "abnormal_values",
	"recommendation": "final_recommendation",
}

// AdaptLegacy renames legacy keys in place; canonical keys win on conflict.
func AdaptLegacy(obj map[string]any) map[string]any {
	for old, canonical := range legacyAliases {
		v, ok := obj[old]
		if !ok {
			continue
		}
		if _, exists := obj[canonical]; !exists {
			obj[canonical] = v
		}
		delete(obj, old)
	}
	return obj
}

func parseObject(s string) (map[string]any, error) {
	if !strings.HasPrefix(s, "{") {
		return nil, &Error{}
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(s), &obj); err != nil {
		return nil, err
	}
	return obj, nil
}

// largestObject returns the first balanced top-level {...} substring.
func largestObject(s string) string {
	start := -1
	depth := 0
	inString := false
	escaped := false
	for i, ch := range s {
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 && start != -1 {
					return s[start : i+1]
				}
			}
		}
	}
	return ""
}

// repair quotes bare keys and bare scalar values. Heuristic by design: values
// containing commas or braces can still defeat it, which is why repairs are
// counted and the ladder ends in Fallback.
func repair(s string) string {
	s = bareKeyRe.ReplaceAllString(s, `$1"$2"$3`)
	s = bareValRe.ReplaceAllStringFunc(s, func(m string) string {
		parts := bareValRe.FindStringSubmatch(m)
		val := strings.TrimSpace(parts[2])
		if val == "true" || val == "false" || val == "null" {
			return m
		}
		if _, err := strconv.ParseFloat(val, 64); err == nil {
			return m
		}
		return parts[1] + strconv.Quote(val) + parts[3]
	})
	return s
}

// truncate cuts at a rune boundary so the excerpt stays valid UTF-8.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
