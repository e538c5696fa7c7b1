// Package normalize derives the text-based fields of a record and writes its
// clean text next to the other run outputs.
package normalize

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/JakeFAU/preprint-crawler/internal/ingest"
	"github.com/JakeFAU/preprint-crawler/internal/storage/local"
)

// CleanDir is the directory under the output root that holds clean texts.
const CleanDir = "clean"

var headingRE = regexp.MustCompile(`^\s*(\d+(\.\d+)*)\s+[A-Z][^\n]{0,80}$`)

// CountSections estimates the number of headings in text. Numbered headings
// ("2.1 Methods") and all-caps lines both count. The result is at least 1.
func CountSections(text string) int {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	count := 0
	for _, line := range strings.Split(text, "\n") {
		if headingRE.MatchString(line) || isUpper(strings.TrimSpace(line)) {
			count++
		}
	}
	return max(1, count)
}

// isUpper reports whether s has at least one cased letter and no lower or
// title case letters.
func isUpper(s string) bool {
	cased := false
	for _, r := range s {
		switch {
		case unicode.IsLower(r), unicode.IsTitle(r):
			return false
		case unicode.IsUpper(r):
			cased = true
		}
	}
	return cased
}

// SafeName makes an identifier usable as a single path element.
func SafeName(id string) string {
	return strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(id)
}

// FileName returns the deterministic clean-text file name for a record.
func FileName(source, id string) string {
	return fmt.Sprintf("%s_%s.txt", source, SafeName(id))
}

// Normalizer writes clean text through an artifact store.
type Normalizer struct {
	store *local.BlobStore
}

// New creates a Normalizer rooted at store.
func New(store *local.BlobStore) *Normalizer {
	return &Normalizer{store: store}
}

// Apply stores text as the record's clean text and fills length_chars,
// sections and clean_text_path.
func (n *Normalizer) Apply(ctx context.Context, rec ingest.Record, text string) (ingest.Record, error) {
	art, err := n.store.PutString(ctx, CleanDir+"/"+FileName(rec.Source, rec.ID), text)
	if err != nil {
		return rec, &ingest.ParseError{What: "write clean text", Err: err}
	}
	rec.CleanTextPath = art.Path
	rec.LengthChars = utf8.RuneCountInString(text)
	rec.Sections = CountSections(text)
	return rec, nil
}
