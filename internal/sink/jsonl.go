// Package sink persists normalized records.
package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/JakeFAU/preprint-crawler/internal/ingest"
)

// JSONL appends one JSON object per line. Appends are serialized so that
// concurrent workers never interleave partial lines.
type JSONL struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

// OpenJSONL opens path for appending, creating parent directories.
func OpenJSONL(path string) (*JSONL, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create jsonl directory: %w", err)
	}
	f, err := os.OpenFile(filepath.Clean(path), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open jsonl: %w", err)
	}
	return &JSONL{path: path, f: f}, nil
}

// Name labels the sink in logs and metrics.
func (j *JSONL) Name() string { return "jsonl" }

// Path returns the file being written.
func (j *JSONL) Path() string { return j.path }

// Append writes rec as a single line.
func (j *JSONL) Append(_ context.Context, rec ingest.Record) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	line = append(line, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.f == nil {
		return errors.New("jsonl sink is closed")
	}
	if _, err := j.f.Write(line); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	return nil
}

// Close flushes and closes the file. It is safe to call twice.
func (j *JSONL) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.f == nil {
		return nil
	}
	err := j.f.Close()
	j.f = nil
	if err != nil {
		return fmt.Errorf("close jsonl: %w", err)
	}
	return nil
}
