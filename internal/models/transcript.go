package models

import (
	"encoding/json"
	"errors"
	"sort"
	"time"
)

// Entry is a single message stored in a room transcript.
type Entry struct {
	SenderID string `json:"sender_id"`
	Text     string `json:"text"`
}

// UnmarshalJSON accepts the current object form as well as two older
// encodings: a bare string (sender unknown) and an object keyed "message".
func (e *Entry) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		*e = Entry{Text: text}
		return nil
	}

	var raw struct {
		SenderID json.RawMessage `json:"sender_id"`
		Text     *string         `json:"text"`
		Message  *string         `json:"message"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	out := Entry{SenderID: rawID(raw.SenderID)}
	switch {
	case raw.Text != nil:
		out.Text = *raw.Text
	case raw.Message != nil:
		out.Text = *raw.Message
	default:
		return errors.New("transcript entry has no text")
	}
	*e = out
	return nil
}

// rawID renders an id that may have been stored as a JSON number or string.
func rawID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// Transcript maps a message timestamp to its entry. Keys are unique per room.
type Transcript map[string]Entry

// TimedEntry is a transcript entry paired with its key.
type TimedEntry struct {
	Timestamp string `json:"timestamp"`
	SenderID  string `json:"sender_id"`
	Text      string `json:"text"`
}

// Sorted returns the entries oldest first. Keys that parse as RFC 3339 are
// compared as instants; anything else falls back to string order.
func (t Transcript) Sorted() []TimedEntry {
	out := make([]TimedEntry, 0, len(t))
	for k, v := range t {
		out = append(out, TimedEntry{Timestamp: k, SenderID: v.SenderID, Text: v.Text})
	}
	sort.Slice(out, func(i, j int) bool {
		ti, erri := time.Parse(time.RFC3339Nano, out[i].Timestamp)
		tj, errj := time.Parse(time.RFC3339Nano, out[j].Timestamp)
		if erri == nil && errj == nil && !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return out[i].Timestamp < out[j].Timestamp
	})
	return out
}
