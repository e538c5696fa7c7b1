package stats

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/preprint-crawler/internal/ingest"
)

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	// #nosec G304 -- test reads from the controlled temp directory.
	f, err := os.Open(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestWriteReports(t *testing.T) {
	t.Parallel()

	s := New("run-1", "trial", time.Now())
	s.AddListed("openreview")
	s.AddRecord(ingest.Record{
		Source: "openreview", ID: "a", Title: "Title, with comma", LengthChars: 11, Sections: 2,
		FileType: "pdf", RawPaths: ingest.RawPaths{PDF: "/x.pdf"},
		Discussions: []ingest.DiscussionPost{{Platform: "openreview"}},
	})
	s.AddError(ingest.ErrorEntry{Source: "chemrxiv", ItemID: "-", Stage: ingest.StageList, Message: "boom"})
	s.Finish(1500 * time.Millisecond)

	dir := filepath.Join(t.TempDir(), "reports")
	require.NoError(t, s.WriteReports(dir))

	assert.Equal(t, [][]string{
		{"source", "id", "title", "length_chars", "sections", "file_type", "has_pdf", "discussions_count"},
		{"openreview", "a", "Title, with comma", "11", "2", "pdf", "true", "1"},
	}, readCSV(t, filepath.Join(dir, StatsFile)))
	assert.Equal(t, [][]string{
		{"source", "id", "stage", "error"},
		{"chemrxiv", "-", "list_items", "boom"},
	}, readCSV(t, filepath.Join(dir, ErrorsFile)))
	assert.Equal(t, [][]string{
		{"key", "value"},
		{"elapsed_seconds", "1.500"},
		{"records", "1"},
		{"errors", "1"},
		{"items_listed", "1"},
		{"run_id", "run-1"},
		{"mode", "trial"},
	}, readCSV(t, filepath.Join(dir, MetricsFile)))
}

func TestWriteReportsOmitsEmptyCategories(t *testing.T) {
	t.Parallel()

	s := New("run-1", "run", time.Now())
	s.Finish(time.Second)
	dir := t.TempDir()
	require.NoError(t, s.WriteReports(dir))

	assert.NoFileExists(t, filepath.Join(dir, StatsFile))
	assert.NoFileExists(t, filepath.Join(dir, ErrorsFile))
	assert.FileExists(t, filepath.Join(dir, MetricsFile))

	empty := t.TempDir()
	require.NoError(t, New("r", "run", time.Now()).WriteReports(empty))
	entries, err := os.ReadDir(empty)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestConcurrentAccumulation(t *testing.T) {
	t.Parallel()

	s := New("run", "run", time.Now())
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(3)
		go func() { defer wg.Done(); s.AddListed("a") }()
		go func() { defer wg.Done(); s.AddRecord(ingest.Record{Source: "a", ID: "x"}) }()
		go func() { defer wg.Done(); s.AddError(ingest.ErrorEntry{Source: "a"}) }()
	}
	wg.Wait()

	snap := s.Snapshot()
	assert.Equal(t, 20, snap.Listed)
	assert.Equal(t, 20, snap.Records)
	assert.Equal(t, 20, snap.Errors)
	assert.Equal(t, SourceCounts{Listed: 20, Records: 20, Errors: 20}, snap.Sources["a"])
	assert.False(t, snap.Done)
}

func TestRenderSummary(t *testing.T) {
	t.Parallel()

	s := New("run-7", "run", time.Now())
	s.AddRecord(ingest.Record{Source: "openreview", ID: "1"})
	s.AddError(ingest.ErrorEntry{Source: "chemrxiv", Stage: ingest.StageFetch})

	var buf bytes.Buffer
	s.RenderSummary(&buf, 2.0)
	out := buf.String()
	assert.Contains(t, out, "run-7")
	assert.Contains(t, out, "openreview")
	assert.Contains(t, out, "chemrxiv")
	assert.Contains(t, out, "2.0")
}
