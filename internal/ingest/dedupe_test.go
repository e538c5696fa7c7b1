package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type versioned struct {
	ID string
	V  int
}

func TestDedupeLastWriteWins(t *testing.T) {
	t.Parallel()

	entries := []versioned{{"a", 1}, {"b", 1}, {"a", 2}}
	key := func(v versioned) string { return v.ID }

	merged := DedupeMap(entries, key)
	require.Len(t, merged, 2)
	assert.Equal(t, 2, merged["a"].V)
	assert.Equal(t, 1, merged["b"].V)

	ordered := Dedupe(entries, key)
	assert.Equal(t, []versioned{{"a", 2}, {"b", 1}}, ordered)
}

func TestDedupeItemsUsesIdentity(t *testing.T) {
	t.Parallel()

	items := []Item{
		{URL: "https://x/1", Title: "first"},
		{ID: "2"},
		{URL: "https://x/1", Title: "second"},
	}
	out := DedupeItems("chemrxiv", items)
	require.Len(t, out, 2)
	assert.Equal(t, "second", out[0].Title)
	assert.Equal(t, "2", out[1].ID)
}

func TestItemIdentity(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		item Item
		want string
	}{
		{"id wins", Item{ID: "abc", URL: "https://x"}, "abc"},
		{"url fallback", Item{URL: "https://x"}, "https://x"},
		{"unknown", Item{}, "unknown"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.item.Identity())
		})
	}
}

func TestRawPathsPrimary(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "a.pdf", RawPaths{PDF: "a.pdf", LaTeX: "a.tex"}.Primary())
	assert.Equal(t, "a.tex", RawPaths{LaTeX: "a.tex", DOCX: "a.docx"}.Primary())
	assert.Equal(t, "x.bin", RawPaths{Other: []string{"x.bin"}}.Primary())
	assert.True(t, RawPaths{}.Empty())
}
