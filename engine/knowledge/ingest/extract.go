package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/compozy/tutorrag/engine/knowledge"
	"github.com/compozy/tutorrag/pkg/logger"
	"github.com/gabriel-vasile/mimetype"
	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html/charset"
	"golang.org/x/text/transform"
)

const (
	ContentTypeText     = "text/plain"
	ContentTypeMarkdown = "text/markdown"
	ContentTypePDF      = "application/pdf"
)

// Extracted is the plain text of a material file.
type Extracted struct {
	Text        string
	ContentType string
	Size        int64
}

// Supported reports whether the file extension has an extractor.
func Supported(name string) bool {
	_, ok := contentTypeFor(name)
	return ok
}

func contentTypeFor(name string) (string, bool) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".txt":
		return ContentTypeText, true
	case ".md", ".markdown":
		return ContentTypeMarkdown, true
	case ".pdf":
		return ContentTypePDF, true
	default:
		return "", false
	}
}

// extractFile reads path according to its extension. Unknown extensions
// return an UnsupportedFormatError.
func extractFile(ctx context.Context, path string, maxBytes int64) (*Extracted, error) {
	contentType, ok := contentTypeFor(path)
	if !ok {
		return nil, &knowledge.UnsupportedFormatError{File: filepath.Base(path), Extension: filepath.Ext(path)}
	}
	if contentType == ContentTypePDF {
		return extractPDF(ctx, path, maxBytes)
	}
	data, size, err := readLimited(path, maxBytes)
	if err != nil {
		return nil, err
	}
	text, err := decodeText(data)
	if err != nil {
		return nil, fmt.Errorf("knowledge: decode %q: %w", path, err)
	}
	return &Extracted{Text: text, ContentType: contentType, Size: size}, nil
}

func readLimited(path string, maxBytes int64) ([]byte, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, fmt.Errorf("%w: %s", knowledge.ErrFileNotFound, path)
		}
		return nil, 0, fmt.Errorf("knowledge: open %q: %w", path, err)
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		return nil, 0, fmt.Errorf("knowledge: stat %q: %w", path, err)
	}
	if info.Size() > maxBytes {
		return nil, 0, fmt.Errorf("knowledge: file %q exceeds maximum size of %d bytes", path, maxBytes)
	}
	data, err := io.ReadAll(io.LimitReader(file, maxBytes+1))
	if err != nil {
		return nil, 0, fmt.Errorf("knowledge: read %q: %w", path, err)
	}
	if int64(len(data)) > maxBytes {
		return nil, 0, fmt.Errorf("knowledge: file %q changed during ingestion and exceeded %d bytes", path, maxBytes)
	}
	return data, int64(len(data)), nil
}

// decodeText returns UTF-8 text, transcoding legacy encodings when needed.
func decodeText(data []byte) (string, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if utf8.Valid(data) {
		return normalizeNewlines(string(data)), nil
	}
	enc, name, _ := charset.DetermineEncoding(data, ContentTypeText)
	decoded, err := io.ReadAll(transform.NewReader(bytes.NewReader(data), enc.NewDecoder()))
	if err != nil {
		return "", fmt.Errorf("transcode from %s: %w", name, err)
	}
	if !utf8.Valid(decoded) {
		return "", errors.New("transcoded result invalid utf-8")
	}
	return normalizeNewlines(string(decoded)), nil
}

func normalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}

// extractPDF verifies the file signature before parsing so a renamed file
// fails as an unsupported format rather than a parser error.
func extractPDF(ctx context.Context, path string, maxBytes int64) (*Extracted, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", knowledge.ErrFileNotFound, path)
		}
		return nil, fmt.Errorf("knowledge: stat %q: %w", path, err)
	}
	if info.Size() > maxBytes {
		return nil, fmt.Errorf("knowledge: file %q exceeds maximum size of %d bytes", path, maxBytes)
	}
	detected, err := mimetype.DetectFile(path)
	if err != nil {
		return nil, fmt.Errorf("knowledge: detect %q: %w", path, err)
	}
	if !detected.Is(ContentTypePDF) {
		return nil, &knowledge.UnsupportedFormatError{File: filepath.Base(path), Extension: detected.Extension()}
	}
	text, err := readPDFText(ctx, path)
	if err != nil {
		return nil, err
	}
	return &Extracted{Text: text, ContentType: ContentTypePDF, Size: info.Size()}, nil
}

// readPDFText joins the plain text of every page. The parser panics on
// malformed object streams, so a panic is reported as a parse error.
func readPDFText(ctx context.Context, path string) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("knowledge: parse pdf %q: %v", path, r)
		}
	}()
	f, reader, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("knowledge: open pdf %q: %w", path, err)
	}
	defer f.Close()
	var b strings.Builder
	pages := reader.NumPage()
	for i := 1; i <= pages; i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			logger.FromContext(ctx).Warn("PDF page extraction failed", "file", path, "page", i, "error", err)
			continue
		}
		pageText = strings.TrimSpace(normalizeNewlines(pageText))
		if pageText == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(pageText)
	}
	return b.String(), nil
}
