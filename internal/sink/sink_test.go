package sink

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/preprint-crawler/internal/ingest"
)

func readLines(t *testing.T, path string) []ingest.Record {
	t.Helper()
	// #nosec G304 -- test reads from the controlled temp directory.
	f, err := os.Open(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	var out []ingest.Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		var rec ingest.Record
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		out = append(out, rec)
	}
	require.NoError(t, scanner.Err())
	return out
}

func TestJSONLAppendsAcrossReopen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "jsonl", "records.jsonl")
	sink, err := OpenJSONL(path)
	require.NoError(t, err)
	require.NoError(t, sink.Append(context.Background(), ingest.Record{Source: "s", ID: "1", Title: "héllo"}))
	require.NoError(t, sink.Close())
	require.NoError(t, sink.Close())
	require.Error(t, sink.Append(context.Background(), ingest.Record{Source: "s", ID: "x"}))

	sink, err = OpenJSONL(path)
	require.NoError(t, err)
	require.NoError(t, sink.Append(context.Background(), ingest.Record{Source: "s", ID: "2"}))
	require.NoError(t, sink.Close())

	recs := readLines(t, path)
	require.Len(t, recs, 2)
	assert.Equal(t, "héllo", recs[0].Title)
	assert.Equal(t, "2", recs[1].ID)
}

func TestJSONLConcurrentAppendsStayLineAtomic(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "records.jsonl")
	sink, err := OpenJSONL(path)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, sink.Append(context.Background(), ingest.Record{
				Source:   "s",
				ID:       fmt.Sprint(i),
				Abstract: fmt.Sprintf("%0512d", i),
			}))
		}()
	}
	wg.Wait()
	require.NoError(t, sink.Close())
	assert.Len(t, readLines(t, path), 50)
}

type stubSink struct {
	name   string
	err    error
	mu     sync.Mutex
	got    []string
	closed bool
}

func (s *stubSink) Name() string { return s.name }

func (s *stubSink) Append(_ context.Context, rec ingest.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.got = append(s.got, rec.ID)
	return nil
}

func (s *stubSink) Close() error {
	s.closed = true
	return nil
}

func TestFanoutSecondaryFailureDoesNotFail(t *testing.T) {
	t.Parallel()

	primary := &stubSink{name: "jsonl"}
	broken := &stubSink{name: "fanout_test_broken", err: errors.New("down")}
	healthy := &stubSink{name: "fanout_test_ok"}
	f := NewFanout(primary, nil, broken, healthy)

	require.NoError(t, f.Append(context.Background(), ingest.Record{Source: "s", ID: "1"}))
	assert.Equal(t, []string{"1"}, primary.got)
	assert.Equal(t, []string{"1"}, healthy.got)

	require.NoError(t, f.Close())
	assert.True(t, primary.closed && broken.closed && healthy.closed)
}

func TestFanoutPrimaryFailureFails(t *testing.T) {
	t.Parallel()

	primary := &stubSink{name: "jsonl", err: errors.New("disk full")}
	secondary := &stubSink{name: "other"}
	f := NewFanout(primary, nil, secondary)

	require.ErrorContains(t, f.Append(context.Background(), ingest.Record{ID: "1"}), "disk full")
	assert.Empty(t, secondary.got)
}
