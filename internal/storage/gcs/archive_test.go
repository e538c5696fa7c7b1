package gcs

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/preprint-crawler/internal/ingest"
)

type memPutter struct {
	mu      sync.Mutex
	objects map[string]string
	types   map[string]string
	err     error
}

func (m *memPutter) PutObject(_ context.Context, path, contentType string, r io.Reader) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.objects == nil {
		m.objects = map[string]string{}
		m.types = map[string]string{}
	}
	m.objects[path] = string(data)
	m.types[path] = contentType
	return "gs://bucket/" + path, nil
}

func TestArchiveUploadsCleanTextAndPDF(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	clean := filepath.Join(dir, "openreview_abc.txt")
	pdf := filepath.Join(dir, "abc.pdf")
	require.NoError(t, os.WriteFile(clean, []byte("text"), 0o600))
	require.NoError(t, os.WriteFile(pdf, []byte("%PDF"), 0o600))

	putter := &memPutter{}
	archive, err := NewArchive(putter, "/preprints/", "trial-aug-2025")
	require.NoError(t, err)

	rec := ingest.Record{Source: "openreview", ID: "abc", CleanTextPath: clean, RawPaths: ingest.RawPaths{PDF: pdf}}
	require.NoError(t, archive.Append(context.Background(), rec))

	assert.Equal(t, map[string]string{
		"preprints/trial-aug-2025/clean/openreview_abc.txt": "text",
		"preprints/trial-aug-2025/raw/openreview/abc.pdf":   "%PDF",
	}, putter.objects)
	assert.Equal(t, "application/pdf", putter.types["preprints/trial-aug-2025/raw/openreview/abc.pdf"])
	require.NoError(t, archive.Close())
}

func TestArchiveErrors(t *testing.T) {
	t.Parallel()

	_, err := NewArchive(nil, "p", "run")
	require.Error(t, err)
	_, err = NewArchive(&memPutter{}, "p", " ")
	require.Error(t, err)

	archive, err := NewArchive(&memPutter{}, "p", "run")
	require.NoError(t, err)
	err = archive.Append(context.Background(), ingest.Record{CleanTextPath: filepath.Join(t.TempDir(), "missing.txt")})
	require.Error(t, err)

	clean := filepath.Join(t.TempDir(), "x.txt")
	require.NoError(t, os.WriteFile(clean, []byte("x"), 0o600))
	archive, err = NewArchive(&memPutter{err: errors.New("denied")}, "p", "run")
	require.NoError(t, err)
	require.ErrorContains(t, archive.Append(context.Background(), ingest.Record{CleanTextPath: clean}), "denied")
}

func TestArchiveSkipsRecordsWithoutArtifacts(t *testing.T) {
	t.Parallel()

	putter := &memPutter{}
	archive, err := NewArchive(putter, "", "run")
	require.NoError(t, err)
	require.NoError(t, archive.Append(context.Background(), ingest.Record{Source: "s", ID: "1"}))
	assert.Empty(t, putter.objects)
}

func TestNewBlobStoreValidation(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)
	_, err = Dial(context.Background(), Config{})
	require.Error(t, err)
}
