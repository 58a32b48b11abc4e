package timetable

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// ParseStructured extracts a timetable from a structuring response.
// The response may wrap the JSON object in prose or code fences; the text
// between the first '{' and the last '}' is decoded. A response without an
// object yields an empty timetable and no error.
func ParseStructured(response string) (Timetable, error) {
	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start == -1 || end <= start {
		return Timetable{}, nil
	}
	return Decode([]byte(response[start : end+1]))
}

// Decode parses a JSON object of the form {"Monday": [{...}], ...}.
// Day keys are normalized; Sunday and unknown keys are dropped. A day whose
// value is not a list of periods is skipped rather than failing the whole
// timetable. Periods with neither a time nor a subject are dropped. Keys
// that normalize to the same day are merged in document order.
func Decode(data []byte) (Timetable, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	if tok, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("decode timetable: %w", err)
	} else if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("decode timetable: want a JSON object, got %v", tok)
	}

	t := make(Timetable)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("decode timetable: %w", err)
		}
		key, _ := tok.(string)
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, fmt.Errorf("decode timetable: %w", err)
		}

		day, ok := NormalizeDay(key)
		if !ok {
			continue
		}
		var periods []Period
		if err := json.Unmarshal(value, &periods); err != nil {
			continue
		}
		cleaned := make([]Period, 0, len(periods))
		for _, p := range periods {
			p = trimPeriod(p)
			if p.Time == "" && p.Subject == "" {
				continue
			}
			cleaned = append(cleaned, p)
		}
		t[day] = append(t[day], cleaned...)
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("decode timetable: %w", err)
	}
	return t, nil
}

// Encode renders the timetable as JSON with days in canonical order.
func Encode(t Timetable) ([]byte, error) {
	var b strings.Builder
	b.WriteString("{")
	first := true
	for _, day := range Days {
		periods, ok := t[day]
		if !ok {
			continue
		}
		if periods == nil {
			periods = []Period{}
		}
		data, err := json.Marshal(periods)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", day, err)
		}
		if !first {
			b.WriteString(",")
		}
		first = false
		fmt.Fprintf(&b, "%q:%s", day, data)
	}
	b.WriteString("}")
	return []byte(b.String()), nil
}

// PreprocessText cleans raw extracted text before structuring: lines are
// trimmed and lines of two characters or fewer are dropped.
func PreprocessText(text string) string {
	lines := strings.Split(text, "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if len(line) > 2 {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

func trimPeriod(p Period) Period {
	return Period{
		Time:     strings.TrimSpace(p.Time),
		Subject:  strings.TrimSpace(p.Subject),
		FullName: strings.TrimSpace(p.FullName),
		Type:     strings.TrimSpace(p.Type),
		Room:     strings.TrimSpace(p.Room),
	}
}
