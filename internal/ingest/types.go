package ingest

import "strings"

// Stage names the pipeline phase an error belongs to.
type Stage string

// Pipeline stages recorded on ErrorEntry.
const (
	StageList  Stage = "list_items"
	StageFetch Stage = "fetch"
	StageParse Stage = "parse"
)

// Item is a transient listing descriptor. It is produced by ListItems and
// consumed once by FetchItem.
type Item struct {
	ID       string
	URL      string
	Title    string
	Abstract string
	Authors  []string
	Date     string
	PDFURL   string
	// Hints carries source specific values such as a forum id.
	Hints map[string]string
}

// Identity returns the id, the url, or "unknown" when neither is set.
func (i Item) Identity() string {
	if id := strings.TrimSpace(i.ID); id != "" {
		return id
	}
	if u := strings.TrimSpace(i.URL); u != "" {
		return u
	}
	return "unknown"
}

// Hint returns a source hint or the empty string.
func (i Item) Hint(key string) string {
	if i.Hints == nil {
		return ""
	}
	return i.Hints[key]
}

// RawPaths lists the artifacts fetched for a record. Paths are written once
// during fetch and never mutated afterwards.
type RawPaths struct {
	PDF   string   `json:"pdf,omitempty"`
	LaTeX string   `json:"latex,omitempty"`
	DOCX  string   `json:"docx,omitempty"`
	Code  []string `json:"code,omitempty"`
	Data  []string `json:"data,omitempty"`
	Other []string `json:"other,omitempty"`
}

// Primary returns the artifact text extraction should read, in
// pdf, latex, docx, other order.
func (p RawPaths) Primary() string {
	switch {
	case p.PDF != "":
		return p.PDF
	case p.LaTeX != "":
		return p.LaTeX
	case p.DOCX != "":
		return p.DOCX
	case len(p.Other) > 0:
		return p.Other[0]
	default:
		return ""
	}
}

// Empty reports whether no artifact was stored.
func (p RawPaths) Empty() bool {
	return p.Primary() == "" && len(p.Code) == 0 && len(p.Data) == 0
}

// DiscussionPost is a flat reply-tree node. ReplyTo references another
// post's PostID, or is empty for the root.
type DiscussionPost struct {
	Platform  string `json:"platform"`
	ThreadURL string `json:"thread_url,omitempty"`
	PostID    string `json:"post_id,omitempty"`
	Author    string `json:"author,omitempty"`
	Created   string `json:"created,omitempty"`
	Body      string `json:"body,omitempty"`
	ReplyTo   string `json:"reply_to,omitempty"`
}

// Record is the durable unit of output. Identity is (Source, ID).
type Record struct {
	Source        string           `json:"source"`
	ID            string           `json:"id"`
	Title         string           `json:"title,omitempty"`
	Abstract      string           `json:"abstract,omitempty"`
	Authors       []string         `json:"authors,omitempty"`
	Date          string           `json:"date,omitempty"`
	Subject       string           `json:"subject,omitempty"`
	Journal       string           `json:"journal,omitempty"`
	Comments      string           `json:"comments,omitempty"`
	DOI           string           `json:"doi,omitempty"`
	Revision      string           `json:"revision,omitempty"`
	LengthChars   int              `json:"length_chars"`
	Sections      int              `json:"sections"`
	SourceURL     string           `json:"source_url,omitempty"`
	FileType      string           `json:"file_type,omitempty"`
	RawPaths      RawPaths         `json:"raw_paths"`
	CleanTextPath string           `json:"clean_text_path,omitempty"`
	Discussions   []DiscussionPost `json:"discussions,omitempty"`
	Extra         map[string]any   `json:"extra,omitempty"`
}

// Key returns the (source, id) identity.
func (r Record) Key() Key {
	return Key{Source: r.Source, ID: r.ID}
}

// SetExtra stores a source specific value, allocating the map on first use.
func (r *Record) SetExtra(key string, value any) {
	if r.Extra == nil {
		r.Extra = make(map[string]any)
	}
	r.Extra[key] = value
}

// Key identifies a record or listing entry within a run.
type Key struct {
	Source string
	ID     string
}

// ErrorEntry is one recorded failure.
type ErrorEntry struct {
	Source  string `json:"source"`
	ItemID  string `json:"id"`
	Stage   Stage  `json:"stage"`
	Message string `json:"error"`
}

// Metric is a run level scalar.
type Metric struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}
