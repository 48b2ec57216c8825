// Package loader reads corpus files from disk into documents.
//
// Plain text files are used as-is. Markdown files are parsed with goldmark
// and flattened to their text content, one block per paragraph, so that
// markup never reaches the embedder. PDF files contribute the text of every
// page, one page per paragraph.
package loader

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/poiesic/groundrag/core"
)

// ErrUnsupportedFormat is returned for files whose extension has no reader.
var ErrUnsupportedFormat = errors.New("unsupported file format")

const (
	// FormatText marks documents read verbatim.
	FormatText = "text"
	// FormatMarkdown marks documents flattened from markdown.
	FormatMarkdown = "markdown"
	// FormatPDF marks documents extracted from PDF pages.
	FormatPDF = "pdf"
)

var formats = map[string]string{
	".txt":      FormatText,
	".text":     FormatText,
	".md":       FormatMarkdown,
	".markdown": FormatMarkdown,
	".pdf":      FormatPDF,
}

// Supported reports whether path has a readable extension.
func Supported(path string) bool {
	_, ok := formats[strings.ToLower(filepath.Ext(path))]
	return ok
}

// SourceName returns the name a file is indexed under.
func SourceName(path string) string {
	return filepath.Clean(path)
}

// Load reads one file into a document whose id is derived from its path.
func Load(path string) (*core.Document, error) {
	format, ok := formats[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}

	source := SourceName(path)
	metadata := map[string]string{
		"format": format,
		"file":   filepath.Base(path),
	}

	var content string
	switch format {
	case FormatPDF:
		text, pages, err := PDFText(path)
		if err != nil {
			return nil, err
		}
		content = text
		metadata["pages"] = strconv.Itoa(pages)
	default:
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		content = string(data)
		if format == FormatMarkdown {
			content = MarkdownText(data)
		}
	}

	return &core.Document{
		ID:         core.DocumentIDFromSource(source),
		SourceName: source,
		Text:       content,
		Metadata:   metadata,
	}, nil
}

// LoadDir reads every supported file below dir, sorted by path.
// Files that cannot be read are reported in the joined error; the
// documents that could be read are still returned.
func LoadDir(ctx context.Context, dir string) ([]*core.Document, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if Supported(path) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.Sort(paths)

	docs := make([]*core.Document, 0, len(paths))
	var errs []error
	for _, path := range paths {
		doc, err := Load(path)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if strings.TrimSpace(doc.Text) == "" {
			continue
		}
		docs = append(docs, doc)
	}
	return docs, errors.Join(errs...)
}
