package gcs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/preprint-crawler/internal/ingest"
)

// Putter uploads one object and returns its URI.
type Putter interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Archive mirrors each record's clean text and raw PDF to object storage
// under {prefix}/{run}/.
type Archive struct {
	putter Putter
	root   string
}

// NewArchive creates an archive sink.
func NewArchive(putter Putter, prefix, run string) (*Archive, error) {
	if putter == nil {
		return nil, fmt.Errorf("object store is required")
	}
	if strings.TrimSpace(run) == "" {
		return nil, fmt.Errorf("run name is required")
	}
	return &Archive{putter: putter, root: path.Join(strings.Trim(prefix, "/"), run)}, nil
}

// Name labels the sink in logs and metrics.
func (a *Archive) Name() string { return "gcs" }

// Append uploads the artifacts referenced by rec.
func (a *Archive) Append(ctx context.Context, rec ingest.Record) error {
	if rec.CleanTextPath != "" {
		obj := path.Join(a.root, "clean", filepath.Base(rec.CleanTextPath))
		if err := a.upload(ctx, rec.CleanTextPath, obj, "text/plain; charset=utf-8"); err != nil {
			return err
		}
	}
	if rec.RawPaths.PDF != "" {
		obj := path.Join(a.root, "raw", rec.Source, filepath.Base(rec.RawPaths.PDF))
		if err := a.upload(ctx, rec.RawPaths.PDF, obj, "application/pdf"); err != nil {
			return err
		}
	}
	return nil
}

// Close implements ingest.RecordSink.
func (a *Archive) Close() error { return nil }

func (a *Archive) upload(ctx context.Context, local, obj, contentType string) error {
	f, err := os.Open(filepath.Clean(local))
	if err != nil {
		return fmt.Errorf("open %s: %w", local, err)
	}
	defer func() {
		_ = f.Close()
	}()
	if _, err := a.putter.PutObject(ctx, obj, contentType, f); err != nil {
		return fmt.Errorf("archive %s: %w", obj, err)
	}
	return nil
}
