// Package chemrxiv adapts the ChemRxiv public dashboard, which is rendered
// client side and therefore read through a headless browser.
package chemrxiv

import (
	"context"
	"fmt"
	"iter"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"
	"go.uber.org/zap"

	"github.com/JakeFAU/preprint-crawler/internal/ingest"
	"github.com/JakeFAU/preprint-crawler/internal/source"
)

// Name is the source label.
const Name = "chemrxiv"

// Config holds the listing location and the DOM selectors.
type Config struct {
	ListingURL          string
	ListingWaitSelector string
	ItemLinkSelector    string
	PDFLinkSelector     string
}

func (c Config) withDefaults() Config {
	if c.ListingURL == "" {
		c.ListingURL = "https://chemrxiv.org/engage/chemrxiv/public-dashboard"
	}
	if c.ListingWaitSelector == "" {
		c.ListingWaitSelector = "div[role='grid']"
	}
	if c.ItemLinkSelector == "" {
		c.ItemLinkSelector = "a[href*='/engage/chemrxiv/article/']"
	}
	if c.PDFLinkSelector == "" {
		c.PDFLinkSelector = "a[href$='.pdf']"
	}
	return c
}

// Source renders the dashboard to list articles and each article page to
// find its PDF.
type Source struct {
	cfg       Config
	renderer  source.Renderer
	artifacts *source.Artifacts
	finisher  *source.Finisher
	logger    *zap.Logger
}

// New creates the ChemRxiv adapter.
func New(
	cfg Config,
	renderer source.Renderer,
	artifacts *source.Artifacts,
	finisher *source.Finisher,
	logger *zap.Logger,
) *Source {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Source{
		cfg:       cfg.withDefaults(),
		renderer:  renderer,
		artifacts: artifacts,
		finisher:  finisher,
		logger:    logger.With(zap.String("source", Name)),
	}
}

// Name implements ingest.Source.
func (s *Source) Name() string { return Name }

// ListItems renders the dashboard once and yields one item per article link.
// The dashboard offers no date filter, so the window is not applied here.
func (s *Source) ListItems(ctx context.Context, _, _ time.Time) iter.Seq2[ingest.Item, error] {
	return func(yield func(ingest.Item, error) bool) {
		page, err := s.renderer.Render(ctx, s.cfg.ListingURL, s.cfg.ListingWaitSelector)
		if err != nil {
			yield(ingest.Item{}, fmt.Errorf("render listing: %w", err))
			return
		}
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.HTML))
		if err != nil {
			yield(ingest.Item{}, &ingest.ParseError{What: "listing html", Err: err})
			return
		}
		base := pageBase(page.FinalURL, s.cfg.ListingURL)

		var items []ingest.Item
		doc.Find(s.cfg.ItemLinkSelector).Each(func(_ int, sel *goquery.Selection) {
			href, ok := sel.Attr("href")
			if !ok || strings.TrimSpace(href) == "" {
				return
			}
			abs := resolve(base, href)
			items = append(items, ingest.Item{
				ID:    articleID(abs),
				URL:   abs,
				Title: strings.TrimSpace(sel.Text()),
			})
		})
		items = ingest.DedupeItems(Name, items)
		s.logger.Debug("listing rendered", zap.Int("links", len(items)))
		for _, it := range items {
			if !yield(it, nil) {
				return
			}
		}
	}
}

// FetchItem renders the article, reads its metadata and downloads the PDF.
// A page without a download link yields a record with no raw paths.
func (s *Source) FetchItem(ctx context.Context, item ingest.Item) (ingest.Record, error) {
	page, err := s.renderer.Render(ctx, item.URL, "body")
	if err != nil {
		return ingest.Record{}, fmt.Errorf("render article: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.HTML))
	if err != nil {
		return ingest.Record{}, &ingest.ParseError{What: "article html", Err: err}
	}
	base := pageBase(page.FinalURL, item.URL)

	rec := ingest.Record{
		Source:    Name,
		ID:        item.ID,
		Title:     item.Title,
		SourceURL: item.URL,
	}
	if rec.ID == "" {
		rec.ID = articleID(item.URL)
	}
	applyMeta(&rec, doc)
	if rec.Title == "" || rec.Abstract == "" {
		s.applyReadability(&rec, page.HTML, base)
	}

	pdfURL := s.findPDF(doc, base)
	if pdfURL == "" {
		s.logger.Warn("no pdf link on article page",
			zap.String("item", rec.ID), zap.String("url", item.URL))
		return rec, nil
	}
	rec.SetExtra("pdf_url", pdfURL)
	art, err := s.artifacts.FetchPDF(ctx, Name, rec.ID, pdfURL, source.PDFContentOrMagic)
	if err != nil {
		return ingest.Record{}, err
	}
	source.AttachPDF(&rec, art)
	return rec, nil
}

// ParseAndNormalize implements ingest.Source.
func (s *Source) ParseAndNormalize(ctx context.Context, rec ingest.Record) (ingest.Record, error) {
	return s.finisher.Finish(ctx, rec)
}

// findPDF tries the configured selector, then any link or button whose text
// or target mentions a pdf or a download.
func (s *Source) findPDF(doc *goquery.Document, base *url.URL) string {
	if href, ok := doc.Find(s.cfg.PDFLinkSelector).First().Attr("href"); ok && strings.TrimSpace(href) != "" {
		return resolve(base, href)
	}
	var found string
	doc.Find("a, button").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		target := linkTarget(sel)
		signal := strings.ToLower(strings.TrimSpace(sel.Text()) + " " + target)
		if target == "" || !(strings.Contains(signal, "pdf") || strings.Contains(signal, "download")) {
			return true
		}
		found = resolve(base, target)
		return false
	})
	return found
}

func linkTarget(sel *goquery.Selection) string {
	for _, attr := range []string{"href", "data-href", "data-url"} {
		if v, ok := sel.Attr(attr); ok {
			if v = strings.TrimSpace(v); v != "" && !strings.HasPrefix(v, "#") && !strings.HasPrefix(v, "javascript:") {
				return v
			}
		}
	}
	return ""
}

func applyMeta(rec *ingest.Record, doc *goquery.Document) {
	meta := func(name string) []string {
		var out []string
		doc.Find(fmt.Sprintf("meta[name=%q]", name)).Each(func(_ int, sel *goquery.Selection) {
			if v := strings.TrimSpace(sel.AttrOr("content", "")); v != "" {
				out = append(out, v)
			}
		})
		return out
	}
	first := func(names ...string) string {
		for _, name := range names {
			if v := meta(name); len(v) > 0 {
				return v[0]
			}
		}
		return ""
	}

	if v := first("citation_title"); v != "" {
		rec.Title = v
	}
	if v := meta("citation_author"); len(v) > 0 {
		rec.Authors = v
	}
	rec.DOI = first("citation_doi", "dc.identifier")
	rec.Abstract = first("citation_abstract", "description")
	rec.Journal = first("citation_journal_title", "citation_publisher")
	rec.Date = isoDate(first("citation_publication_date", "citation_online_date", "citation_date"))
	if v := meta("citation_keywords"); len(v) > 0 {
		rec.Subject = strings.Join(v, "; ")
	}
}

func (s *Source) applyReadability(rec *ingest.Record, html string, base *url.URL) {
	article, err := readability.FromReader(strings.NewReader(html), base)
	if err != nil {
		s.logger.Debug("readability fallback failed", zap.String("item", rec.ID), zap.Error(err))
		return
	}
	if rec.Title == "" {
		rec.Title = strings.TrimSpace(article.Title)
	}
	if rec.Abstract == "" {
		rec.Abstract = strings.TrimSpace(article.Excerpt)
	}
}

// isoDate turns the slash separated citation dates into YYYY-MM-DD.
func isoDate(v string) string {
	v = strings.TrimSpace(v)
	for _, layout := range []string{"2006/01/02", "2006-01-02", time.RFC3339, "2006/01", "2006"} {
		if t, err := time.Parse(layout, v); err == nil {
			return t.Format("2006-01-02")
		}
	}
	return v
}

func articleID(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return path.Base(strings.TrimRight(rawURL, "/"))
	}
	return path.Base(strings.TrimRight(u.Path, "/"))
}

func pageBase(candidates ...string) *url.URL {
	for _, c := range candidates {
		if u, err := url.Parse(c); err == nil && u.IsAbs() {
			return u
		}
	}
	return &url.URL{}
}

func resolve(base *url.URL, href string) string {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}
