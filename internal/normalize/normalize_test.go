package normalize

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/preprint-crawler/internal/ingest"
	"github.com/JakeFAU/preprint-crawler/internal/storage/local"
)

func TestCountSections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		text string
		want int
	}{
		{name: "empty has one", text: "", want: 1},
		{name: "plain prose", text: "Hello\nWorld", want: 1},
		{name: "numbered headings", text: "1 Introduction\ntext\n2.1 Methods\nmore\n3. not a heading", want: 2},
		{name: "all caps lines", text: "ABSTRACT\nbody\n  RESULTS AND DISCUSSION  \n1234", want: 2},
		{name: "caps with digits", text: "SECTION 2\nSection 3", want: 1},
		{name: "crlf", text: "1 Intro\r\nbody\r\n2 Methods\r\n", want: 2},
		{name: "overlong heading", text: "1 A" + longTail(), want: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, CountSections(tt.text))
		})
	}
}

func longTail() string {
	b := make([]byte, 90)
	for i := range b {
		b[i] = 'x'
	}
	return string(b)
}

func TestFileName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "openreview_abc123.txt", FileName("openreview", "abc123"))
	assert.Equal(t, "chemrxiv_10.26434_x.txt", FileName("chemrxiv", "10.26434/x"))
}

func TestApply(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: dir})
	require.NoError(t, err)

	rec := ingest.Record{Source: "openreview", ID: "abc"}
	got, err := New(store).Apply(context.Background(), rec, "Hello\nWorld")
	require.NoError(t, err)

	assert.Equal(t, 11, got.LengthChars)
	assert.GreaterOrEqual(t, got.Sections, 1)
	assert.Equal(t, filepath.Join(dir, "clean", "openreview_abc.txt"), got.CleanTextPath)

	// #nosec G304 -- test reads from the controlled temp directory.
	data, err := os.ReadFile(got.CleanTextPath)
	require.NoError(t, err)
	assert.Equal(t, "Hello\nWorld", string(data))
}

func TestApplyCountsRunes(t *testing.T) {
	t.Parallel()

	store, err := local.New(local.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	got, err := New(store).Apply(context.Background(), ingest.Record{Source: "s", ID: "1"}, "Δx ≈ 0")
	require.NoError(t, err)
	assert.Equal(t, 6, got.LengthChars)
}
