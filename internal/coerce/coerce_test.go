package coerce

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestCoerce_CleanJSONRoundTrip(t *testing.T) {
	want := map[string]any{
		"assessment":          "viral pharyngitis likely",
		"possible_conditions": []any{"common cold", "strep throat"},
		"urgency_level":       "low",
		"confidence":          0.8,
	}
	raw, err := json.Marshal(want)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got := Coerce(string(raw))
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestCoerce_FencedBlock(t *testing.T) {
	raw := "Here is the structured result you asked for:\n```json\n{\"summary\": \"mild anemia\", \"key_findings\": [\"low hemoglobin\"]}\n```\nLet me know if you need more."
	got := Coerce(raw)
	if got["summary"] != "mild anemia" {
		t.Fatalf("expected summary from fenced block, got %v", got)
	}
}

func TestCoerce_ProseWrappedObject(t *testing.T) {
	raw := `Based on the symptoms, my assessment follows. {"assessment": "tension headache", "urgency_level": "low"} I hope this helps.`
	got := Coerce(raw)
	if got["assessment"] != "tension headache" {
		t.Fatalf("expected embedded object, got %v", got)
	}
}

func TestCoerce_RepairsBareKeysAndValues(t *testing.T) {
	raw := `{assessment: probable viral infection, urgency_level: low, "confidence": 0.7}`
	got := Coerce(raw)
	if got["assessment"] != "probable viral infection" {
		t.Fatalf("bare value not repaired: %v", got)
	}
	if got["urgency_level"] != "low" {
		t.Fatalf("bare key/value not repaired: %v", got)
	}
	if got["confidence"] != 0.7 {
		t.Fatalf("numeric value mangled: %v", got)
	}
}

func TestCoerce_FallbackNeverPanics(t *testing.T) {
	inputs := []string{
		"",
		"no json here at all",
		`{"truncated": "obj`,
		"<html><body>502 Bad Gateway</body></html>",
		"```json\nnot even close\n```",
		strings.Repeat("{", 2000),
	}
	for _, in := range inputs {
		got := Coerce(in)
		if got == nil {
			t.Fatalf("nil object for input %q", in)
		}
		if got["disclaimer"] == nil {
			t.Fatalf("fallback missing disclaimer for input %q: %v", in, got)
		}
		if got["summary"] != PlaceholderSummary {
			t.Fatalf("fallback missing placeholder for input %q: %v", in, got)
		}
	}
}

func TestCoerce_FallbackKeepsRawExcerpt(t *testing.T) {
	raw := strings.Repeat("x", 900)
	got := Coerce(raw)
	excerpt, _ := got["raw_excerpt"].(string)
	if len(excerpt) != 500 {
		t.Fatalf("expected 500-char excerpt, got %d", len(excerpt))
	}
}

func TestCoerce_ExcerptStaysValidUTF8(t *testing.T) {
	// Multi-byte runes straddling the excerpt limit must not be split.
	raw := strings.Repeat("体", 400)
	got := Coerce(raw)
	excerpt, _ := got["raw_excerpt"].(string)
	if !utf8.ValidString(excerpt) {
		t.Fatalf("excerpt is not valid UTF-8: %q", excerpt[len(excerpt)-6:])
	}
	if len(excerpt) == 0 || len(excerpt) > 500 {
		t.Fatalf("unexpected excerpt length %d", len(excerpt))
	}
	if strings.ContainsRune(excerpt, utf8.RuneError) {
		t.Fatalf("excerpt contains replacement rune")
	}
}

func TestAdaptLegacy_RenamesAliases(t *testing.T) {
	got := AdaptLegacy(map[string]any{
		"diagnosis":   []any{"flu"},
		"medications": []any{"paracetamol"},
		"assessment":  "ok",
	})
	if _, ok := got["diagnosis"]; ok {
		t.Fatalf("legacy key survived: %v", got)
	}
	if !reflect.DeepEqual(got["possible_conditions"], []any{"flu"}) {
		t.Fatalf("alias not mapped: %v", got)
	}
	if !reflect.DeepEqual(got["otc_medications"], []any{"paracetamol"}) {
		t.Fatalf("alias not mapped: %v", got)
	}
}

func TestEnsureFields_BackfillsDefaults(t *testing.T) {
	got := EnsureFields(map[string]any{"assessment": "fine"},
		[]string{"assessment", "urgency_level", "disclaimer"},
		map[string]any{"urgency_level": "unknown"})
	if got["assessment"] != "fine" {
		t.Fatalf("existing field overwritten: %v", got)
	}
	if got["urgency_level"] != "unknown" {
		t.Fatalf("default not applied: %v", got)
	}
	if got["disclaimer"] != DefaultDisclaimer {
		t.Fatalf("disclaimer not backfilled: %v", got)
	}
}
