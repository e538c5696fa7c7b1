package openreview

import (
	"encoding/json"
	"strings"
	"time"
)

// note is the subset of an OpenReview note the adapter reads. Content
// fields are plain values in API v1 and {"value": ...} wrappers in v2.
type note struct {
	ID         string                     `json:"id"`
	LegacyID   string                     `json:"_id"`
	Forum      string                     `json:"forum"`
	ReplyTo    string                     `json:"replyto"`
	CDate      float64                    `json:"cdate"`
	PDF        string                     `json:"pdf"`
	Signatures []string                   `json:"signatures"`
	Content    map[string]json.RawMessage `json:"content"`
}

type notesPage struct {
	Notes []note `json:"notes"`
	Count int    `json:"count"`

	fresh int
}

func (n note) id() string {
	if n.ID != "" {
		return n.ID
	}
	return n.LegacyID
}

func (n note) forum() string {
	if n.Forum != "" {
		return n.Forum
	}
	return n.id()
}

func (n note) created() time.Time {
	if n.CDate <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(int64(n.CDate)).UTC()
}

func (n note) str(key string) string {
	raw, ok := n.Content[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var wrapped struct {
		Value string `json:"value"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil {
		return strings.TrimSpace(wrapped.Value)
	}
	return ""
}

func (n note) strings(key string) []string {
	raw, ok := n.Content[key]
	if !ok {
		return nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list
	}
	var wrapped struct {
		Value []string `json:"value"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil {
		return wrapped.Value
	}
	return nil
}

// iso formats an epoch-millisecond note timestamp, or returns "".
func iso(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}
