// Package source holds the pieces shared by the source adapters: the
// transport contracts they consume, artifact download with verification,
// and the common parse and normalize step.
package source

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/preprint-crawler/internal/extract"
	"github.com/JakeFAU/preprint-crawler/internal/fetcher"
	"github.com/JakeFAU/preprint-crawler/internal/fetcher/headless"
	"github.com/JakeFAU/preprint-crawler/internal/ingest"
	"github.com/JakeFAU/preprint-crawler/internal/normalize"
	"github.com/JakeFAU/preprint-crawler/internal/storage/local"
)

// HTTPClient is the retrying fetch layer as seen by adapters.
type HTTPClient interface {
	Get(ctx context.Context, rawURL string) (fetcher.Response, error)
	PostJSON(ctx context.Context, rawURL string, payload any) (fetcher.Response, error)
}

// Renderer loads pages that need a browser.
type Renderer interface {
	Render(ctx context.Context, rawURL, waitSelector string) (headless.Page, error)
}

// Verifier decides whether a response really carries the artifact.
type Verifier func(resp fetcher.Response) bool

// PDFContentType accepts responses whose content type starts with application/pdf.
func PDFContentType(resp fetcher.Response) bool {
	return resp.StatusCode == 200 &&
		strings.HasPrefix(strings.ToLower(strings.TrimSpace(resp.ContentType())), "application/pdf")
}

// PDFContentOrMagic accepts a PDF content type anywhere in the header, or a
// .pdf URL whose body starts with the PDF magic bytes.
func PDFContentOrMagic(resp fetcher.Response) bool {
	if resp.StatusCode != 200 {
		return false
	}
	if strings.Contains(strings.ToLower(resp.ContentType()), "application/pdf") {
		return true
	}
	u, err := url.Parse(resp.URL)
	if err != nil {
		return false
	}
	return strings.EqualFold(path.Ext(u.Path), ".pdf") && bytes.HasPrefix(resp.Body, []byte("%PDF"))
}

// Artifacts downloads and stores raw files under raw/{source}/.
type Artifacts struct {
	client HTTPClient
	store  *local.BlobStore
	logger *zap.Logger
}

// NewArtifacts creates an artifact downloader.
func NewArtifacts(client HTTPClient, store *local.BlobStore, logger *zap.Logger) *Artifacts {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Artifacts{client: client, store: store, logger: logger}
}

// FetchPDF downloads rawURL and stores it as raw/{source}/{id}.pdf when
// verify accepts the response. A rejected response is a soft miss: the
// returned artifact is zero and err is nil. Fetch failures are returned.
func (a *Artifacts) FetchPDF(ctx context.Context, src, id, rawURL string, verify Verifier) (local.Artifact, error) {
	if rawURL == "" {
		return local.Artifact{}, nil
	}
	resp, err := a.client.Get(ctx, rawURL)
	if err != nil {
		return local.Artifact{}, fmt.Errorf("download pdf: %w", err)
	}
	if !verify(resp) {
		a.logger.Warn("download is not a pdf, skipping",
			zap.String("source", src),
			zap.String("item", id),
			zap.String("url", rawURL),
			zap.Int("status", resp.StatusCode),
			zap.String("content_type", resp.ContentType()),
		)
		return local.Artifact{}, nil
	}
	rel := path.Join("raw", src, normalize.SafeName(id)+".pdf")
	art, err := a.store.Put(ctx, rel, bytes.NewReader(resp.Body))
	if err != nil {
		return local.Artifact{}, fmt.Errorf("store pdf: %w", err)
	}
	return art, nil
}

// AttachPDF records a stored PDF on rec.
func AttachPDF(rec *ingest.Record, art local.Artifact) {
	if art.Path == "" {
		return
	}
	rec.RawPaths.PDF = art.Path
	rec.FileType = "pdf"
	rec.SetExtra("pdf_sha256", art.SHA256)
	rec.SetExtra("pdf_bytes", art.Size)
}

// Finisher runs text extraction and normalization for any adapter.
type Finisher struct {
	extractor  *extract.Extractor
	normalizer *normalize.Normalizer
}

// NewFinisher creates a Finisher.
func NewFinisher(extractor *extract.Extractor, normalizer *normalize.Normalizer) *Finisher {
	return &Finisher{extractor: extractor, normalizer: normalizer}
}

// Finish extracts text from rec's primary artifact and normalizes it. A
// record without artifacts is normalized with empty text.
func (f *Finisher) Finish(ctx context.Context, rec ingest.Record) (ingest.Record, error) {
	res := f.extractor.ExtractRecord(ctx, rec.RawPaths)
	if res.Path != "" {
		rec.SetExtra("scanned", res.Scanned)
	}
	return f.normalizer.Apply(ctx, rec, res.Text)
}
