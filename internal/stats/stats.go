// Package stats accumulates run outcomes and writes the end-of-run reports.
package stats

import (
	"maps"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/JakeFAU/preprint-crawler/internal/ingest"
)

// Row is one line of stats.csv.
type Row struct {
	Source           string
	ID               string
	Title            string
	LengthChars      int
	Sections         int
	FileType         string
	HasPDF           bool
	DiscussionsCount int
}

// SourceCounts are per-source totals.
type SourceCounts struct {
	Listed  int `json:"listed"`
	Records int `json:"records"`
	Errors  int `json:"errors"`
}

// Snapshot is a point-in-time view of a run.
type Snapshot struct {
	RunID     string                  `json:"run_id"`
	Mode      string                  `json:"mode"`
	StartedAt time.Time               `json:"started_at"`
	Listed    int                     `json:"items_listed"`
	Records   int                     `json:"records"`
	Errors    int                     `json:"errors"`
	Done      bool                    `json:"done"`
	Sources   map[string]SourceCounts `json:"sources"`
}

// RunStats is safe for concurrent use by pipeline workers.
type RunStats struct {
	mu        sync.RWMutex
	runID     string
	mode      string
	startedAt time.Time
	rows      []Row
	errors    []ingest.ErrorEntry
	metrics   []ingest.Metric
	sources   map[string]SourceCounts
	listed    int
	done      bool
}

// New creates an empty accumulator.
func New(runID, mode string, startedAt time.Time) *RunStats {
	return &RunStats{
		runID:     runID,
		mode:      mode,
		startedAt: startedAt,
		sources:   make(map[string]SourceCounts),
	}
}

// AddListed counts one listed item for source.
func (s *RunStats) AddListed(source string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.sources[source]
	c.Listed++
	s.sources[source] = c
	s.listed++
}

// AddRecord folds a persisted record into the stats.
func (s *RunStats) AddRecord(rec ingest.Record) {
	row := Row{
		Source:           rec.Source,
		ID:               rec.ID,
		Title:            rec.Title,
		LengthChars:      rec.LengthChars,
		Sections:         rec.Sections,
		FileType:         rec.FileType,
		HasPDF:           rec.RawPaths.PDF != "",
		DiscussionsCount: len(rec.Discussions),
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, row)
	c := s.sources[rec.Source]
	c.Records++
	s.sources[rec.Source] = c
}

// AddError appends one error entry.
func (s *RunStats) AddError(entry ingest.ErrorEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors = append(s.errors, entry)
	c := s.sources[entry.Source]
	c.Errors++
	s.sources[entry.Source] = c
}

// AddMetric appends a run metric. Values are formatted with strconv.
func (s *RunStats) AddMetric(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = append(s.metrics, ingest.Metric{Key: key, Value: formatValue(value)})
}

// Finish records the closing run metrics and marks the run done.
func (s *RunStats) Finish(elapsed time.Duration) {
	s.mu.Lock()
	records, errs, listed := len(s.rows), len(s.errors), s.listed
	s.mu.Unlock()

	s.AddMetric("elapsed_seconds", elapsed.Seconds())
	s.AddMetric("records", records)
	s.AddMetric("errors", errs)
	s.AddMetric("items_listed", listed)
	s.AddMetric("run_id", s.runID)
	s.AddMetric("mode", s.mode)

	s.mu.Lock()
	s.done = true
	s.mu.Unlock()
}

// Records returns the number of persisted records.
func (s *RunStats) Records() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}

// Rows returns a copy of the record rows.
func (s *RunStats) Rows() []Row {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.rows)
}

// Errors returns a copy of the recorded errors.
func (s *RunStats) Errors() []ingest.ErrorEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.errors)
}

// Metrics returns a copy of the run metrics.
func (s *RunStats) Metrics() []ingest.Metric {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.metrics)
}

// Snapshot returns the current totals.
func (s *RunStats) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		RunID:     s.runID,
		Mode:      s.mode,
		StartedAt: s.startedAt,
		Listed:    s.listed,
		Records:   len(s.rows),
		Errors:    len(s.errors),
		Done:      s.done,
		Sources:   maps.Clone(s.sources),
	}
}

func formatValue(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', 3, 64)
	case bool:
		return strconv.FormatBool(x)
	case time.Duration:
		return strconv.FormatFloat(x.Seconds(), 'f', 3, 64)
	default:
		return ""
	}
}
