package loader

import (
	"fmt"
	"os"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PDFText extracts the plain text of every page of the PDF at path, one
// paragraph per page, and returns it with the page count. Pages without
// text are skipped.
func PDFText(path string) (text string, pages int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", 0, err
	}

	// The reader panics on malformed objects.
	defer func() {
		if r := recover(); r != nil {
			text, pages, err = "", 0, fmt.Errorf("read pdf %s: %v", path, r)
		}
	}()

	reader, err := pdf.NewReader(f, info.Size())
	if err != nil {
		return "", 0, fmt.Errorf("read pdf %s: %w", path, err)
	}

	pages = reader.NumPage()
	fonts := make(map[string]*pdf.Font)
	parts := make([]string, 0, pages)
	for n := 1; n <= pages; n++ {
		page := reader.Page(n)
		if page.V.IsNull() {
			continue
		}
		for _, name := range page.Fonts() {
			if _, ok := fonts[name]; !ok {
				font := page.Font(name)
				fonts[name] = &font
			}
		}
		content, err := page.GetPlainText(fonts)
		if err != nil {
			return "", 0, fmt.Errorf("read pdf %s page %d: %w", path, n, err)
		}
		if content = strings.Join(strings.Fields(content), " "); content != "" {
			parts = append(parts, content)
		}
	}
	return strings.Join(parts, "\n\n"), pages, nil
}
