package openreview

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/preprint-crawler/internal/config"
	"github.com/JakeFAU/preprint-crawler/internal/extract"
	"github.com/JakeFAU/preprint-crawler/internal/ingest"
	"github.com/JakeFAU/preprint-crawler/internal/normalize"
	"github.com/JakeFAU/preprint-crawler/internal/source"
	"github.com/JakeFAU/preprint-crawler/internal/source/sourcetest"
	"github.com/JakeFAU/preprint-crawler/internal/storage/local"
)

var (
	windowFrom = time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)
	windowTo   = time.Date(2025, 8, 31, 23, 59, 59, int(time.Second-time.Nanosecond), time.UTC)
)

func ms(t time.Time) int64 { return t.UnixMilli() }

func jsonNote(id, forum, title string, created time.Time) map[string]any {
	return map[string]any{
		"id":    id,
		"forum": forum,
		"cdate": ms(created),
		"content": map[string]any{
			"title":    title,
			"abstract": "abstract of " + id,
			"authors":  []string{"Ada", "Grace"},
			"pdf":      "/pdf/" + id + ".pdf",
		},
	}
}

type fixture struct {
	server       *httptest.Server
	client       *sourcetest.HTTPClient
	src          *Source
	dir          string
	searchCalls  atomic.Int32
	listingCalls atomic.Int32
	searchStatus int
}

func newFixture(t *testing.T, pageSize, searchStatus int) *fixture {
	t.Helper()
	f := &fixture{searchStatus: searchStatus}
	aug10 := time.Date(2025, 8, 10, 12, 0, 0, 0, time.UTC)

	mux := http.NewServeMux()
	mux.HandleFunc("/notes/search", func(w http.ResponseWriter, r *http.Request) {
		f.searchCalls.Add(1)
		if f.searchStatus != http.StatusOK {
			w.WriteHeader(f.searchStatus)
			return
		}
		var body struct {
			Offset int `json:"offset"`
			Limit  int `json:"limit"`
			Date   struct {
				From string `json:"from"`
				To   string `json:"to"`
			} `json:"date"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "2025-08-01T00:00:00Z", body.Date.From)
		assert.Equal(t, "2025-08-31T23:59:59Z", body.Date.To)
		var notes []map[string]any
		switch body.Offset {
		case 0:
			notes = []map[string]any{jsonNote("n1", "f1", "First", aug10), jsonNote("n2", "", "Second", aug10)}
		case 2:
			notes = []map[string]any{jsonNote("n1", "f1", "First again", aug10), jsonNote("n3", "f3", "Third", aug10)}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"notes": notes})
	})
	mux.HandleFunc("/notes", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if forum := q.Get("forum"); forum != "" {
			_ = json.NewEncoder(w).Encode(map[string]any{"notes": []map[string]any{
				{"id": forum, "cdate": ms(aug10), "signatures": []string{"~Ada1"}, "content": map[string]any{"title": "root"}},
				{"id": "r1", "replyto": forum, "cdate": ms(aug10.Add(time.Hour)), "signatures": []string{"Reviewer_x"},
					"content": map[string]any{"comment": map[string]any{"value": "Nice work"}}},
			}})
			return
		}
		f.listingCalls.Add(1)
		assert.Equal(t, "1754006400000", q.Get("mintcdate"))
		_ = json.NewEncoder(w).Encode(map[string]any{"notes": []map[string]any{
			jsonNote("old", "old", "Too late", time.Date(2025, 9, 2, 0, 0, 0, 0, time.UTC)),
			jsonNote("l1", "l1", "Listed", aug10),
		}})
	})
	mux.HandleFunc("/pdf/", func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "n1.pdf") {
			w.Header().Set("Content-Type", "application/pdf")
			_, _ = w.Write([]byte("%PDF-1.4 fake"))
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html>login</html>"))
	})
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)

	f.dir = t.TempDir()
	store, err := local.New(local.Config{BaseDir: f.dir})
	require.NoError(t, err)
	f.client = &sourcetest.HTTPClient{Client: f.server.Client()}
	finisher := source.NewFinisher(extract.New(extract.Options{}, nil), normalize.New(store))
	f.src = New(Config{
		APIBase:   f.server.URL,
		ForumBase: f.server.URL,
		PageSize:  pageSize,
	}, f.client, source.NewArtifacts(f.client, store, nil), finisher, nil)
	return f
}

func collect(t *testing.T, seq func(func(ingest.Item, error) bool)) ([]ingest.Item, error) {
	t.Helper()
	var items []ingest.Item
	var lastErr error
	for it, err := range seq {
		if err != nil {
			lastErr = err
			break
		}
		items = append(items, it)
	}
	return items, lastErr
}

func TestListItemsSearchPaginates(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 2, http.StatusOK)
	items, err := collect(t, f.src.ListItems(context.Background(), windowFrom, windowTo))
	require.NoError(t, err)

	require.Len(t, items, 3)
	assert.Equal(t, []string{"n1", "n2", "n3"}, []string{items[0].ID, items[1].ID, items[2].ID})
	assert.Equal(t, int32(3), f.searchCalls.Load(), "paging stops at the first short page")
	assert.Zero(t, f.listingCalls.Load())

	first := items[0]
	assert.Equal(t, "First", first.Title)
	assert.Equal(t, []string{"Ada", "Grace"}, first.Authors)
	assert.Equal(t, "2025-08-10T12:00:00Z", first.Date)
	assert.Equal(t, f.server.URL+"/forum?id=f1", first.URL)
	assert.Equal(t, f.server.URL+"/pdf/n1.pdf", first.PDFURL)
	assert.Equal(t, "n2", items[1].Hint("forum"), "forum defaults to the note id")
}

func TestListItemsFallsBackToListing(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 10, http.StatusBadRequest)
	items, err := collect(t, f.src.ListItems(context.Background(), windowFrom, windowTo))
	require.NoError(t, err)

	require.Len(t, items, 1)
	assert.Equal(t, "l1", items[0].ID)
	assert.Equal(t, int32(1), f.listingCalls.Load())
}

func TestListItemsStopsWhenConsumerStops(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 2, http.StatusOK)
	for it, err := range f.src.ListItems(context.Background(), windowFrom, windowTo) {
		require.NoError(t, err)
		assert.Equal(t, "n1", it.ID)
		break
	}
	assert.Equal(t, int32(1), f.searchCalls.Load(), "no further pages after the consumer stops")
	assert.Zero(t, f.listingCalls.Load())
}

// newStaticSource serves the same notes for every search request and every
// listing request, whatever offset is asked for. A nil list answers 400.
func newStaticSource(t *testing.T, pageSize int, search, listing []map[string]any) (*Source, *atomic.Int32, *atomic.Int32) {
	t.Helper()
	var searchCalls, listingCalls atomic.Int32
	reply := func(w http.ResponseWriter, notes []map[string]any) {
		if notes == nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"notes": notes})
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/notes/search", func(w http.ResponseWriter, _ *http.Request) {
		searchCalls.Add(1)
		reply(w, search)
	})
	mux.HandleFunc("/notes", func(w http.ResponseWriter, _ *http.Request) {
		listingCalls.Add(1)
		reply(w, listing)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	client := &sourcetest.HTTPClient{Client: srv.Client()}
	src := New(Config{APIBase: srv.URL, ForumBase: srv.URL, PageSize: pageSize}, client, nil, nil, nil)
	return src, &searchCalls, &listingCalls
}

func TestListItemsSearchEndsWhenServerIgnoresOffset(t *testing.T) {
	t.Parallel()

	aug10 := time.Date(2025, 8, 10, 12, 0, 0, 0, time.UTC)
	page := []map[string]any{jsonNote("n1", "f1", "First", aug10), jsonNote("n2", "f2", "Second", aug10)}
	src, searchCalls, listingCalls := newStaticSource(t, 2, page, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	items, err := collect(t, src.ListItems(ctx, windowFrom, windowTo))
	require.NoError(t, err)
	require.NoError(t, ctx.Err())

	assert.Len(t, items, 2)
	assert.Equal(t, int32(2), searchCalls.Load(), "a page without new ids ends paging")
	assert.Zero(t, listingCalls.Load())
}

func TestListItemsListingEndsWhenServerIgnoresOffset(t *testing.T) {
	t.Parallel()

	aug10 := time.Date(2025, 8, 10, 12, 0, 0, 0, time.UTC)
	page := []map[string]any{
		jsonNote("l1", "l1", "Listed", aug10),
		jsonNote("late", "late", "Too late", time.Date(2025, 9, 3, 0, 0, 0, 0, time.UTC)),
	}
	src, searchCalls, listingCalls := newStaticSource(t, 2, nil, page)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	items, err := collect(t, src.ListItems(ctx, windowFrom, windowTo))
	require.NoError(t, err)
	require.NoError(t, ctx.Err())

	require.Len(t, items, 1)
	assert.Equal(t, "l1", items[0].ID)
	assert.Equal(t, int32(1), searchCalls.Load())
	assert.Equal(t, int32(2), listingCalls.Load())
}

func TestListItemsListingHonorsConfiguredWindow(t *testing.T) {
	t.Parallel()

	from, to, err := config.Config{DateFrom: "2025-08-01", DateTo: "2025-08-31"}.Window()
	require.NoError(t, err)

	listing := []map[string]any{
		jsonNote("last", "last", "Last day", time.Date(2025, 8, 31, 23, 0, 0, 0, time.UTC)),
		jsonNote("sep1", "sep1", "Next day", time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)),
	}
	src, _, _ := newStaticSource(t, 10, []map[string]any{}, listing)

	items, err := collect(t, src.ListItems(context.Background(), from, to))
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "last", items[0].ID, "notes after date_to stay out of the window")
}

func TestListItemsAllStrategiesFail(t *testing.T) {
	t.Parallel()

	client := &sourcetest.HTTPClient{}
	src := New(Config{APIBase: "http://127.0.0.1:1"}, client, nil, nil, nil)
	items, err := collect(t, src.ListItems(context.Background(), windowFrom, windowTo))
	require.Error(t, err)
	assert.Empty(t, items)
	assert.Len(t, client.Calls(), 2)
}

func TestFetchItemStoresPDFAndDiscussions(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 2, http.StatusOK)
	items, err := collect(t, f.src.ListItems(context.Background(), windowFrom, windowTo))
	require.NoError(t, err)

	rec, err := f.src.FetchItem(context.Background(), items[0])
	require.NoError(t, err)
	assert.Equal(t, Name, rec.Source)
	assert.Equal(t, "n1", rec.ID)
	assert.Equal(t, "pdf", rec.FileType)
	require.NotEmpty(t, rec.RawPaths.PDF)
	assert.Contains(t, rec.RawPaths.PDF, "raw/openreview/n1.pdf")
	assert.NotEmpty(t, rec.Extra["pdf_sha256"])
	// #nosec G304 -- test reads from the controlled temp directory.
	data, err := os.ReadFile(rec.RawPaths.PDF)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4 fake", string(data))

	require.Len(t, rec.Discussions, 2)
	root, reply := rec.Discussions[0], rec.Discussions[1]
	assert.Equal(t, "openreview", root.Platform)
	assert.Equal(t, f.server.URL+"/forum?id=f1", root.ThreadURL)
	assert.Equal(t, "~Ada1", root.Author)
	assert.Empty(t, root.ReplyTo)
	assert.Equal(t, "r1", reply.PostID)
	assert.Equal(t, "f1", reply.ReplyTo)
	assert.Equal(t, "Nice work", reply.Body)
	assert.Equal(t, "2025-08-10T13:00:00Z", reply.Created)
}

func TestFetchItemSoftMissOnNonPDF(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 2, http.StatusOK)
	items, err := collect(t, f.src.ListItems(context.Background(), windowFrom, windowTo))
	require.NoError(t, err)

	rec, err := f.src.FetchItem(context.Background(), items[1])
	require.NoError(t, err)
	assert.True(t, rec.RawPaths.Empty())
	assert.Empty(t, rec.FileType)
}

func TestParseAndNormalizeWithoutArtifact(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 2, http.StatusOK)
	rec, err := f.src.ParseAndNormalize(context.Background(), ingest.Record{Source: Name, ID: "n2"})
	require.NoError(t, err)
	assert.Zero(t, rec.LengthChars)
	assert.Equal(t, 1, rec.Sections)
	assert.FileExists(t, rec.CleanTextPath)
}

func TestNoteContentShapes(t *testing.T) {
	t.Parallel()

	var n note
	require.NoError(t, json.Unmarshal([]byte(`{"_id":"legacy","content":{"title":{"value":" V2 "},"authors":{"value":["A"]}}}`), &n))
	assert.Equal(t, "legacy", n.id())
	assert.Equal(t, "legacy", n.forum())
	assert.Equal(t, "V2", n.str("title"))
	assert.Equal(t, []string{"A"}, n.strings("authors"))
	assert.Empty(t, n.str("missing"))
	assert.True(t, n.created().IsZero())
	assert.Empty(t, iso(n.created()))
}
