package extract

import (
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// pdfText concatenates the text layer of every page. The parser panics on
// some malformed inputs, which is reported as an error.
func pdfText(path string) (text string, scanned bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			text, scanned, err = "", true, fmt.Errorf("pdf parser panic: %v", r)
		}
	}()

	f, reader, err := pdf.Open(path)
	if err != nil {
		return "", true, fmt.Errorf("open pdf: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	scanned = true
	chunks := make([]string, 0, reader.NumPage())
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			chunks = append(chunks, "")
			continue
		}
		t, err := page.GetPlainText(nil)
		if err != nil {
			return "", true, fmt.Errorf("page %d: %w", i, err)
		}
		if strings.TrimSpace(t) != "" {
			scanned = false
		}
		chunks = append(chunks, t)
	}
	return strings.Join(chunks, "\n"), scanned, nil
}
