// Package ingest turns reference documents into embedded knowledge chunks
// scoped to one expert plugin.
package ingest

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

// ErrUnsupportedFile is returned for extensions the loader cannot read
var ErrUnsupportedFile = errors.New("unsupported file type")

// Document is a reference text ready for chunking. Headings are markdown
// "#" lines and pages are separated by form feeds.
type Document struct {
	Name     string
	FileType string
	Title    string
	Content  string
}

// SupportedExtensions lists the file types LoadFile reads
var SupportedExtensions = map[string]string{
	".txt":      "txt",
	".md":       "md",
	".markdown": "md",
	".html":     "html",
	".htm":      "html",
}

// LoadFile reads a text, markdown or HTML file from disk
func LoadFile(path string) (*Document, error) {
	fileType, ok := SupportedExtensions[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFile, filepath.Base(path))
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	return Load(filepath.Base(path), fileType, f)
}

// Load reads a document of the given type ("txt", "md" or "html")
func Load(name, fileType string, r io.Reader) (*Document, error) {
	doc := &Document{Name: name, FileType: fileType}

	switch fileType {
	case "html":
		title, content, err := extractHTML(r)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", name, err)
		}
		doc.Title = title
		doc.Content = content
	case "txt", "md":
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", name, err)
		}
		if !utf8.Valid(data) {
			return nil, fmt.Errorf("%s is not valid UTF-8 text", name)
		}
		doc.Content = strings.ReplaceAll(string(data), "\r\n", "\n")
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFile, fileType)
	}

	if doc.Title == "" {
		doc.Title = strings.TrimSuffix(name, filepath.Ext(name))
	}
	return doc, nil
}

const blockSelector = "h1,h2,h3,h4,h5,h6,p,li,pre,blockquote,td,th,dt,dd"

// extractHTML keeps the readable blocks of the main content area, rendering
// headings as markdown so the chunker can track sections
func extractHTML(r io.Reader) (string, string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return "", "", err
	}

	title := strings.TrimSpace(doc.Find("title").First().Text())
	doc.Find("script,style,noscript,nav,footer,header,aside,form").Remove()

	// Try to find main content area
	root := doc.Find("body")
	for _, selector := range []string{"main", "article", "#content", ".content"} {
		if sel := doc.Find(selector).First(); sel.Length() > 0 {
			root = sel
			break
		}
	}

	var blocks []string
	root.Find(blockSelector).Each(func(_ int, s *goquery.Selection) {
		// nested blocks are rendered by their outermost block
		if s.ParentsFiltered(blockSelector).Length() > 0 {
			return
		}

		tag := goquery.NodeName(s)
		if tag == "pre" {
			if text := strings.TrimRight(s.Text(), "\n "); text != "" {
				blocks = append(blocks, text)
			}
			return
		}

		text := strings.Join(strings.Fields(s.Text()), " ")
		if text == "" {
			return
		}
		if len(tag) == 2 && tag[0] == 'h' && tag[1] >= '1' && tag[1] <= '6' {
			text = strings.Repeat("#", int(tag[1]-'0')) + " " + text
		}
		if tag == "li" {
			text = "- " + text
		}
		blocks = append(blocks, text)
	})

	if len(blocks) == 0 {
		if text := strings.Join(strings.Fields(root.Text()), " "); text != "" {
			blocks = append(blocks, text)
		}
	}

	return title, strings.Join(blocks, "\n\n"), nil
}
