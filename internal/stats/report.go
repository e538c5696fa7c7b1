package stats

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
)

// Report file names.
const (
	StatsFile   = "stats.csv"
	ErrorsFile  = "errors.csv"
	MetricsFile = "run_metrics.csv"
)

// WriteReports writes the three CSV reports into dir. A report with no rows
// is not written.
func (s *RunStats) WriteReports(dir string) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create reports directory: %w", err)
	}

	rows := s.Rows()
	if len(rows) > 0 {
		out := make([][]string, 0, len(rows))
		for _, r := range rows {
			out = append(out, []string{
				r.Source, r.ID, r.Title,
				strconv.Itoa(r.LengthChars), strconv.Itoa(r.Sections), r.FileType,
				strconv.FormatBool(r.HasPDF), strconv.Itoa(r.DiscussionsCount),
			})
		}
		header := []string{"source", "id", "title", "length_chars", "sections", "file_type", "has_pdf", "discussions_count"}
		if err := writeCSV(filepath.Join(dir, StatsFile), header, out); err != nil {
			return err
		}
	}

	errs := s.Errors()
	if len(errs) > 0 {
		out := make([][]string, 0, len(errs))
		for _, e := range errs {
			out = append(out, []string{e.Source, e.ItemID, string(e.Stage), e.Message})
		}
		if err := writeCSV(filepath.Join(dir, ErrorsFile), []string{"source", "id", "stage", "error"}, out); err != nil {
			return err
		}
	}

	metrics := s.Metrics()
	if len(metrics) > 0 {
		out := make([][]string, 0, len(metrics))
		for _, m := range metrics {
			out = append(out, []string{m.Key, m.Value})
		}
		if err := writeCSV(filepath.Join(dir, MetricsFile), []string{"key", "value"}, out); err != nil {
			return err
		}
	}
	return nil
}

func writeCSV(path string, header []string, rows [][]string) error {
	f, err := os.OpenFile(filepath.Clean(path), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("create %s: %w", filepath.Base(path), err)
	}
	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := w.WriteAll(rows); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", filepath.Base(path), err)
	}
	return nil
}

// RenderSummary prints per-source totals as a table.
func (s *RunStats) RenderSummary(w io.Writer, elapsedSeconds float64) {
	snap := s.Snapshot()
	names := make([]string, 0, len(snap.Sources))
	for name := range snap.Sources {
		names = append(names, name)
	}
	sort.Strings(names)

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetTitle("run %s (%s)", snap.RunID, snap.Mode)
	t.AppendHeader(table.Row{"Source", "Listed", "Records", "Errors"})
	for _, name := range names {
		c := snap.Sources[name]
		t.AppendRow(table.Row{name, c.Listed, c.Records, c.Errors})
	}
	t.AppendFooter(table.Row{"Total", snap.Listed, snap.Records, snap.Errors})
	t.AppendFooter(table.Row{"Elapsed", fmt.Sprintf("%.1fs", elapsedSeconds), "", ""})
	t.Render()
}
