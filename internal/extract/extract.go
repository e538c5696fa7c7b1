// Package extract converts downloaded artifacts into plain text.
//
// Extraction never fails: an unreadable document yields empty text and is
// reported as scanned so that callers can decide whether OCR is worthwhile.
package extract

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/preprint-crawler/internal/ingest"
)

// Options tune a single extraction.
type Options struct {
	OCREnabled  bool
	OCRLanguage string
}

// Result is the outcome of an extraction.
type Result struct {
	Text string
	// Scanned is set when no text layer was found.
	Scanned bool
	// Path is the artifact the text came from.
	Path string
}

// Extractor dispatches on file extension.
type Extractor struct {
	opts   Options
	ocr    *OCR
	logger *zap.Logger
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithOCR replaces the OCR backend.
func WithOCR(o *OCR) Option {
	return func(e *Extractor) {
		e.ocr = o
	}
}

// New creates an Extractor.
func New(opts Options, logger *zap.Logger, options ...Option) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.OCRLanguage == "" {
		opts.OCRLanguage = "eng"
	}
	e := &Extractor{opts: opts, logger: logger}
	for _, opt := range options {
		opt(e)
	}
	if e.ocr == nil {
		e.ocr = NewOCR(ExecRunner{}, logger)
	}
	return e
}

// Extract returns the text of the artifact at path and whether it looked scanned.
func (e *Extractor) Extract(ctx context.Context, path string) (string, bool) {
	log := e.logger.With(zap.String("path", path))
	if _, err := os.Stat(path); err != nil {
		log.Warn("artifact unreadable", zap.Error(err))
		return "", true
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		text, scanned, err := pdfText(path)
		if err != nil {
			log.Warn("corrupt pdf", zap.Error(err))
			text, scanned = "", true
		}
		if scanned && e.opts.OCREnabled {
			if ocrText, ok := e.ocr.Recognize(ctx, path, e.opts.OCRLanguage); ok {
				return ocrText, true
			}
		}
		return text, scanned
	case ".docx":
		text, err := docxText(path)
		if err != nil {
			log.Warn("corrupt docx", zap.Error(err))
			return "", true
		}
		return text, false
	case ".tex", ".txt", ".md":
		// Read verbatim so inline and display math survive untouched.
		data, err := os.ReadFile(filepath.Clean(path))
		if err != nil {
			log.Warn("read text artifact", zap.Error(err))
			return "", true
		}
		return strings.ToValidUTF8(string(data), ""), false
	default:
		log.Warn("unsupported artifact type")
		return "", true
	}
}

// ExtractRecord extracts from the primary raw artifact of rec.
func (e *Extractor) ExtractRecord(ctx context.Context, raw ingest.RawPaths) Result {
	path := raw.Primary()
	if path == "" {
		return Result{Scanned: true}
	}
	text, scanned := e.Extract(ctx, path)
	return Result{Text: text, Scanned: scanned, Path: path}
}
