// Package openreview adapts the OpenReview notes API.
package openreview

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/preprint-crawler/internal/ingest"
	"github.com/JakeFAU/preprint-crawler/internal/source"
)

// Name is the source label.
const Name = "openreview"

const hintForum = "forum"

// Config holds endpoint settings.
type Config struct {
	APIBase         string
	SearchPath      string
	DiscussionsPath string
	ForumBase       string
	PageSize        int
}

func (c Config) withDefaults() Config {
	if c.APIBase == "" {
		c.APIBase = "https://api.openreview.net"
	}
	if c.SearchPath == "" {
		c.SearchPath = "/notes/search"
	}
	if c.DiscussionsPath == "" {
		c.DiscussionsPath = "/notes"
	}
	if c.ForumBase == "" {
		c.ForumBase = "https://openreview.net"
	}
	if c.PageSize <= 0 {
		c.PageSize = 1000
	}
	return c
}

// Source lists notes by date and fetches each note's PDF and discussion.
type Source struct {
	cfg       Config
	client    source.HTTPClient
	artifacts *source.Artifacts
	finisher  *source.Finisher
	logger    *zap.Logger
}

// New creates the OpenReview adapter.
func New(
	cfg Config,
	client source.HTTPClient,
	artifacts *source.Artifacts,
	finisher *source.Finisher,
	logger *zap.Logger,
) *Source {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Source{
		cfg:       cfg.withDefaults(),
		client:    client,
		artifacts: artifacts,
		finisher:  finisher,
		logger:    logger.With(zap.String("source", Name)),
	}
}

// Name implements ingest.Source.
func (s *Source) Name() string { return Name }

type strategy struct {
	name string
	run  func(ctx context.Context, from, to time.Time, yield func(ingest.Item) bool) (int, error)
}

// ListItems tries the date search first and the note listing second. The
// first strategy that produces an item wins. When every strategy fails the
// last error is yielded.
func (s *Source) ListItems(ctx context.Context, from, to time.Time) iter.Seq2[ingest.Item, error] {
	return func(yield func(ingest.Item, error) bool) {
		stopped := false
		emit := func(it ingest.Item) bool {
			if !yield(it, nil) {
				stopped = true
				return false
			}
			return true
		}

		strategies := []strategy{
			{name: "search", run: s.search},
			{name: "listing", run: s.listing},
		}
		var lastErr error
		failures := 0
		for _, st := range strategies {
			n, err := st.run(ctx, from, to, emit)
			if stopped {
				return
			}
			if err != nil {
				if n > 0 {
					yield(ingest.Item{}, err)
					return
				}
				s.logger.Warn("listing strategy failed, trying next",
					zap.String("strategy", st.name), zap.Error(err))
				lastErr = err
				failures++
				continue
			}
			if n > 0 {
				return
			}
			s.logger.Debug("listing strategy empty", zap.String("strategy", st.name))
		}
		if failures == len(strategies) {
			yield(ingest.Item{}, lastErr)
		}
	}
}

// search POSTs the date-window query and pages until lastPage says stop.
func (s *Source) search(ctx context.Context, from, to time.Time, yield func(ingest.Item) bool) (int, error) {
	endpoint := s.endpoint(s.cfg.SearchPath, nil)
	seen := make(map[string]struct{})
	total := 0
	for offset := 0; ; {
		payload := map[string]any{
			"term":   "",
			"source": "all",
			"limit":  s.cfg.PageSize,
			"offset": offset,
			"date": map[string]string{
				"from": from.Format("2006-01-02") + "T00:00:00Z",
				"to":   to.Format("2006-01-02") + "T23:59:59Z",
			},
		}
		resp, err := s.client.PostJSON(ctx, endpoint, payload)
		if err != nil {
			return total, fmt.Errorf("search notes: %w", err)
		}
		page, err := decodePage(resp.Body)
		if err != nil {
			return total, err
		}
		n, more := s.emitPage(&page, seen, yield, nil)
		total += n
		offset += len(page.Notes)
		if !more || s.lastPage(page, offset) {
			return total, nil
		}
	}
}

// listing GETs notes created since from and filters them to the window.
func (s *Source) listing(ctx context.Context, from, to time.Time, yield func(ingest.Item) bool) (int, error) {
	inWindow := func(n note) bool {
		c := n.created()
		return !c.IsZero() && !c.Before(from) && !c.After(to)
	}
	seen := make(map[string]struct{})
	total := 0
	for offset := 0; ; {
		endpoint := s.endpoint(s.cfg.DiscussionsPath, url.Values{
			"mintcdate": {strconv.FormatInt(from.UnixMilli(), 10)},
			"limit":     {strconv.Itoa(s.cfg.PageSize)},
			"offset":    {strconv.Itoa(offset)},
		})
		resp, err := s.client.Get(ctx, endpoint)
		if err != nil {
			return total, fmt.Errorf("list notes: %w", err)
		}
		page, err := decodePage(resp.Body)
		if err != nil {
			return total, err
		}
		n, more := s.emitPage(&page, seen, yield, inWindow)
		total += n
		offset += len(page.Notes)
		if !more || s.lastPage(page, offset) {
			return total, nil
		}
	}
}

// lastPage reports whether paging should stop after page. A short page, a
// page with no unseen ids or reaching the reported count all end the walk,
// so a server that ignores offset cannot keep the adapter paging.
func (s *Source) lastPage(page notesPage, offset int) bool {
	if len(page.Notes) < s.cfg.PageSize || page.fresh == 0 {
		return true
	}
	return page.Count > 0 && offset >= page.Count
}

// emitPage collapses duplicates inside a page, skips ids seen on earlier
// pages and yields the rest. It records the number of unseen ids on page.
// more is false once the consumer stops.
func (s *Source) emitPage(
	page *notesPage,
	seen map[string]struct{},
	yield func(ingest.Item) bool,
	keep func(note) bool,
) (int, bool) {
	fresh := make(map[string]struct{}, len(page.Notes))
	items := make([]ingest.Item, 0, len(page.Notes))
	for _, n := range page.Notes {
		id := n.id()
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		fresh[id] = struct{}{}
		if keep != nil && !keep(n) {
			continue
		}
		items = append(items, s.toItem(n))
	}
	for id := range fresh {
		seen[id] = struct{}{}
	}
	page.fresh = len(fresh)

	emitted := 0
	for _, it := range ingest.DedupeItems(Name, items) {
		if !yield(it) {
			return emitted, false
		}
		emitted++
	}
	return emitted, true
}

func (s *Source) toItem(n note) ingest.Item {
	forum := n.forum()
	pdf := n.str("pdf")
	if pdf == "" {
		pdf = n.PDF
	}
	return ingest.Item{
		ID:       n.id(),
		URL:      s.forumURL(forum),
		Title:    n.str("title"),
		Abstract: n.str("abstract"),
		Authors:  n.strings("authors"),
		Date:     iso(n.created()),
		PDFURL:   s.resolve(pdf),
		Hints:    map[string]string{hintForum: forum},
	}
}

// FetchItem downloads the PDF and the forum's discussion.
func (s *Source) FetchItem(ctx context.Context, item ingest.Item) (ingest.Record, error) {
	rec := ingest.Record{
		Source:    Name,
		ID:        item.ID,
		Title:     item.Title,
		Abstract:  item.Abstract,
		Authors:   item.Authors,
		Date:      item.Date,
		SourceURL: item.URL,
	}
	art, err := s.artifacts.FetchPDF(ctx, Name, item.ID, item.PDFURL, source.PDFContentType)
	if err != nil {
		return ingest.Record{}, err
	}
	source.AttachPDF(&rec, art)

	forum := item.Hint(hintForum)
	if forum == "" {
		forum = item.ID
	}
	rec.SetExtra("forum", forum)
	posts, err := s.discussions(ctx, forum)
	if err != nil {
		return ingest.Record{}, err
	}
	rec.Discussions = posts
	return rec, nil
}

func (s *Source) discussions(ctx context.Context, forum string) ([]ingest.DiscussionPost, error) {
	endpoint := s.endpoint(s.cfg.DiscussionsPath, url.Values{"forum": {forum}})
	resp, err := s.client.Get(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("fetch discussions: %w", err)
	}
	page, err := decodePage(resp.Body)
	if err != nil {
		return nil, err
	}
	thread := s.forumURL(forum)
	posts := make([]ingest.DiscussionPost, 0, len(page.Notes))
	for _, n := range page.Notes {
		post := ingest.DiscussionPost{
			Platform:  Name,
			ThreadURL: thread,
			PostID:    n.id(),
			Created:   iso(n.created()),
			Body:      n.str("text"),
			ReplyTo:   n.ReplyTo,
		}
		if post.Body == "" {
			post.Body = n.str("comment")
		}
		if len(n.Signatures) > 0 {
			post.Author = n.Signatures[0]
		}
		posts = append(posts, post)
	}
	return posts, nil
}

// ParseAndNormalize implements ingest.Source.
func (s *Source) ParseAndNormalize(ctx context.Context, rec ingest.Record) (ingest.Record, error) {
	return s.finisher.Finish(ctx, rec)
}

func (s *Source) endpoint(path string, query url.Values) string {
	u := strings.TrimRight(s.cfg.APIBase, "/") + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

func (s *Source) forumURL(forum string) string {
	return strings.TrimRight(s.cfg.ForumBase, "/") + "/forum?id=" + url.QueryEscape(forum)
}

func (s *Source) resolve(ref string) string {
	if ref == "" {
		return ""
	}
	base, err := url.Parse(strings.TrimRight(s.cfg.ForumBase, "/") + "/")
	if err != nil {
		return ref
	}
	u, err := base.Parse(ref)
	if err != nil {
		return ref
	}
	return u.String()
}

func decodePage(body []byte) (notesPage, error) {
	var page notesPage
	if err := json.Unmarshal(body, &page); err != nil {
		return notesPage{}, &ingest.ParseError{What: "notes response", Err: err}
	}
	return page, nil
}
