package model

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// TimelineEntry is one event stored under its timestamp key
type TimelineEntry struct {
	Key       string
	Timestamp float64
	Event     Event
}

// Timeline is the compacted per-message event history, kept newest first.
// It serializes as a JSON object whose member order is the stored order.
type Timeline []TimelineEntry

// Has reports whether an event is already stored under key
func (t Timeline) Has(key string) bool {
	for _, e := range t {
		if e.Key == key {
			return true
		}
	}
	return false
}

// Insert adds ev under its timestamp key and re-sorts newest first.
// It returns false without modifying t when the key is already present.
func (t *Timeline) Insert(ev Event) (bool, error) {
	key := ev.Key()
	if t.Has(key) {
		return false, nil
	}
	ts, err := ev.Time()
	if err != nil {
		return false, fmt.Errorf("invalid timestamp %q: %w", key, err)
	}
	*t = append(*t, TimelineEntry{Key: key, Timestamp: ts, Event: ev})
	t.sortDescending()
	return true, nil
}

func (t Timeline) sortDescending() {
	sort.SliceStable(t, func(i, j int) bool {
		if t[i].Timestamp != t[j].Timestamp {
			return t[i].Timestamp > t[j].Timestamp
		}
		return t[i].Key > t[j].Key
	})
}

// Keys returns the stored keys in order
func (t Timeline) Keys() []string {
	keys := make([]string, len(t))
	for i, e := range t {
		keys[i] = e.Key
	}
	return keys
}

// Max returns the greatest timestamp, or false when empty
func (t Timeline) Max() (float64, bool) {
	if len(t) == 0 {
		return 0, false
	}
	max := t[0].Timestamp
	for _, e := range t[1:] {
		if e.Timestamp > max {
			max = e.Timestamp
		}
	}
	return max, true
}

// Stored member names use '_' in place of the decimal point.
func encodeKey(key string) string { return strings.ReplaceAll(key, ".", "_") }
func decodeKey(key string) string { return strings.ReplaceAll(key, "_", ".") }

func (t Timeline) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range t {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(encodeKey(e.Key))
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(e.Event)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (t *Timeline) UnmarshalJSON(data []byte) error {
	if string(bytes.TrimSpace(data)) == "null" {
		*t = nil
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("timeline: expected object, got %v", tok)
	}

	var out Timeline
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := tok.(string)
		if !ok {
			return fmt.Errorf("timeline: expected key, got %v", tok)
		}

		var ev Event
		if err := dec.Decode(&ev); err != nil {
			return fmt.Errorf("timeline: decode %s: %w", name, err)
		}

		key := decodeKey(name)
		if ev.Timestamp != "" {
			key = ev.Key()
		}
		ts, err := strconv.ParseFloat(key, 64)
		if err != nil {
			return fmt.Errorf("timeline: invalid key %q: %w", name, err)
		}
		out = append(out, TimelineEntry{Key: key, Timestamp: ts, Event: ev})
	}

	if _, err := dec.Token(); err != nil {
		return err
	}

	*t = out
	return nil
}

// GormDataType stores the timeline as a text column
func (Timeline) GormDataType() string {
	return "text"
}

// Value implements driver.Valuer
func (t Timeline) Value() (driver.Value, error) {
	if len(t) == 0 {
		return "{}", nil
	}
	b, err := t.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner
func (t *Timeline) Scan(value any) error {
	switch v := value.(type) {
	case nil:
		*t = nil
		return nil
	case []byte:
		if len(v) == 0 {
			*t = nil
			return nil
		}
		return t.UnmarshalJSON(v)
	case string:
		if v == "" {
			*t = nil
			return nil
		}
		return t.UnmarshalJSON([]byte(v))
	default:
		return fmt.Errorf("timeline: unsupported scan type %T", value)
	}
}
