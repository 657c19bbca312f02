package content

import (
	"encoding/json"
	"strings"
	"unicode/utf8"
)

// Summary is the display payload attached to every map feature. It is the
// only content shape the globe subsystem ever sees; full documents stay in
// the backend.
type Summary struct {
	ID    string   `json:"id"`
	Title string   `json:"title"`
	Tags  []string `json:"tags,omitempty"`
}

// Subtype returns the classification subtype of a summary, if one was
// assigned. The backend encodes it as the first tag.
func (s Summary) Subtype() string {
	if len(s.Tags) == 0 {
		return ""
	}
	return s.Tags[0]
}

// TruncateTitle shortens a title to max runes for popup rows. Titles at or
// under max are returned unchanged.
func TruncateTitle(title string, max int) string {
	if max <= 0 || utf8.RuneCountInString(title) <= max {
		return title
	}
	cut := strings.TrimRight(string([]rune(title)[:max]), " ")
	return cut + "…"
}

// ParseSummaries decodes a feature's contents payload. The backend delivers
// it either as a JSON array or as that same array encoded into a string;
// malformed input of any shape yields an empty list, never an error.
func ParseSummaries(raw interface{}) []Summary {
	switch v := raw.(type) {
	case nil:
		return nil
	case []Summary:
		return v
	case string:
		return decodeSummaries([]byte(v))
	case []byte:
		return decodeSummaries(v)
	case json.RawMessage:
		return decodeSummaries(v)
	default:
		// Re-marshal structured values (e.g. []interface{} out of a
		// properties map) and decode them the same way.
		b, err := json.Marshal(v)
		if err != nil {
			return nil
		}
		return decodeSummaries(b)
	}
}

func decodeSummaries(b []byte) []Summary {
	trimmed := strings.TrimSpace(string(b))
	if trimmed == "" || trimmed == "null" {
		return nil
	}

	var out []Summary
	if err := json.Unmarshal([]byte(trimmed), &out); err == nil {
		return dropEmpty(out)
	}

	// Double-encoded payloads show up as a JSON string containing the array.
	var inner string
	if err := json.Unmarshal([]byte(trimmed), &inner); err == nil {
		if err := json.Unmarshal([]byte(inner), &out); err == nil {
			return dropEmpty(out)
		}
	}

	return nil
}

func dropEmpty(in []Summary) []Summary {
	out := in[:0]
	for _, s := range in {
		if s.ID == "" && s.Title == "" {
			continue
		}
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
