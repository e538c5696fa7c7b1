package extract

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// Runner executes external programs.
type Runner interface {
	LookPath(name string) (string, error)
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs programs with os/exec.
type ExecRunner struct{}

// LookPath implements Runner.
func (ExecRunner) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}

// Run implements Runner and returns stdout.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...) // #nosec G204 -- fixed program names
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(stderr.String()))
	}
	return out, nil
}

// OCR rasterizes a PDF with pdftoppm and recognizes each page with tesseract.
type OCR struct {
	runner Runner
	logger *zap.Logger
}

// NewOCR creates an OCR backend.
func NewOCR(runner Runner, logger *zap.Logger) *OCR {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OCR{runner: runner, logger: logger}
}

// Available reports whether both external tools are installed.
func (o *OCR) Available() bool {
	for _, tool := range []string{"pdftoppm", "tesseract"} {
		if _, err := o.runner.LookPath(tool); err != nil {
			return false
		}
	}
	return true
}

// Recognize returns the OCR text of path. ok is false when OCR could not run.
func (o *OCR) Recognize(ctx context.Context, path, lang string) (string, bool) {
	log := o.logger.With(zap.String("path", path))
	if !o.Available() {
		log.Warn("ocr tools unavailable, keeping empty text")
		return "", false
	}

	dir, err := os.MkdirTemp("", "ocr-*")
	if err != nil {
		log.Warn("ocr temp dir", zap.Error(err))
		return "", false
	}
	defer func() {
		_ = os.RemoveAll(dir)
	}()

	prefix := filepath.Join(dir, "page")
	if _, err := o.runner.Run(ctx, "pdftoppm", "-r", "300", "-png", path, prefix); err != nil {
		log.Warn("rasterize pdf", zap.Error(err))
		return "", false
	}
	images, err := filepath.Glob(prefix + "*.png")
	if err != nil || len(images) == 0 {
		log.Warn("rasterize produced no pages", zap.Error(err))
		return "", false
	}
	sort.Strings(images)

	pages := make([]string, 0, len(images))
	for _, img := range images {
		out, err := o.runner.Run(ctx, "tesseract", img, "stdout", "-l", lang)
		if err != nil {
			log.Warn("tesseract page", zap.String("image", filepath.Base(img)), zap.Error(err))
			return "", false
		}
		pages = append(pages, string(out))
	}
	return strings.Join(pages, "\n"), true
}
