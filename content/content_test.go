package content

import (
	"encoding/json"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestParseSummariesArray(t *testing.T) {
	raw := `[{"id":"c-1","title":"March on parliament","tags":["March","berlin"]}]`

	got := ParseSummaries(raw)
	if len(got) != 1 {
		t.Fatalf("Expected 1 summary, got %d", len(got))
	}
	if got[0].ID != "c-1" || got[0].Title != "March on parliament" {
		t.Errorf("Unexpected summary: %+v", got[0])
	}
	if got[0].Subtype() != "March" {
		t.Errorf("Expected subtype March, got %q", got[0].Subtype())
	}
}

func TestParseSummariesDoubleEncoded(t *testing.T) {
	inner := `[{"id":"c-2","title":"Budget vote"}]`
	outer, err := json.Marshal(inner)
	if err != nil {
		t.Fatal(err)
	}

	got := ParseSummaries(string(outer))
	if len(got) != 1 || got[0].ID != "c-2" {
		t.Errorf("Expected the double-encoded payload to decode, got %+v", got)
	}
}

func TestParseSummariesStructured(t *testing.T) {
	// A properties map round-tripped through JSON yields []interface{}.
	raw := []interface{}{
		map[string]interface{}{"id": "c-3", "title": "Coalition talks"},
	}

	got := ParseSummaries(raw)
	if len(got) != 1 || got[0].ID != "c-3" {
		t.Errorf("Expected structured payload to decode, got %+v", got)
	}
}

func TestParseSummariesPassthrough(t *testing.T) {
	list := []Summary{{ID: "c-4", Title: "Port strike"}}
	got := ParseSummaries(list)
	if len(got) != 1 || got[0].ID != "c-4" {
		t.Errorf("Expected already-typed payload to pass through, got %+v", got)
	}
}

func TestParseSummariesGarbage(t *testing.T) {
	for _, raw := range []interface{}{nil, "", "null", "{not json", 42, "[{}]"} {
		if got := ParseSummaries(raw); got != nil {
			t.Errorf("Expected nil for %v, got %+v", raw, got)
		}
	}
}

func TestSubtypeEmpty(t *testing.T) {
	if got := (Summary{ID: "c-5"}).Subtype(); got != "" {
		t.Errorf("Expected empty subtype without tags, got %q", got)
	}
}

func TestTruncateTitle(t *testing.T) {
	if got := TruncateTitle("short", 80); got != "short" {
		t.Errorf("Expected short titles unchanged, got %q", got)
	}

	long := "A very long headline about parliamentary procedure and committee scheduling details"
	got := TruncateTitle(long, 20)
	if len([]rune(got)) > 21 {
		t.Errorf("Expected truncation to about 20 chars, got %d: %q", len(got), got)
	}
	if got[len(got)-3:] != "…" {
		t.Errorf("Expected ellipsis suffix, got %q", got)
	}

	if got := TruncateTitle(long, 0); got != long {
		t.Errorf("Expected max 0 to disable truncation, got %q", got)
	}
}

func TestTruncateTitleMultibyte(t *testing.T) {
	title := strings.Repeat("ü", 50)

	got := TruncateTitle(title, 81)
	if got != title {
		t.Errorf("Expected a 50-rune title untouched at max 81, got %q", got)
	}

	got = TruncateTitle(title, 10)
	if !utf8.ValidString(got) {
		t.Fatalf("Truncation produced invalid UTF-8: %q", got)
	}
	if got != strings.Repeat("ü", 10)+"…" {
		t.Errorf("Expected 10 runes plus ellipsis, got %q", got)
	}

	mixed := "Überlange Schlagzeile über die Wahlen in Österreich und die Koalitionsgespräche"
	got = TruncateTitle(mixed, 12)
	if !utf8.ValidString(got) {
		t.Fatalf("Truncation produced invalid UTF-8: %q", got)
	}
	if []rune(got)[0] != 'Ü' {
		t.Errorf("Expected leading rune preserved, got %q", got)
	}
}
