// Package extract pulls plain text out of uploaded essay documents.
package extract

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"github.com/ledongthuc/pdf"
	"github.com/rs/zerolog"
)

var (
	// ErrUnsupportedType is returned for documents that are neither PDF nor UTF-8 text.
	ErrUnsupportedType = errors.New("unsupported document type")
	// ErrEmptyDocument is returned for zero-length uploads.
	ErrEmptyDocument = errors.New("empty document")
)

// Extractor converts documents to text. Failures are logged and reported as
// empty text so the pipeline can keep going.
type Extractor struct {
	logger zerolog.Logger
}

// New constructs an Extractor.
func New(logger zerolog.Logger) *Extractor {
	return &Extractor{logger: logger.With().Str("component", "text_extractor").Logger()}
}

// Text returns the document's text or "" when nothing could be extracted.
func (e *Extractor) Text(name string, data []byte) string {
	text, err := Extract(data)
	if err != nil {
		e.logger.Warn().Err(err).Str("file", name).Int("bytes", len(data)).Msg("text extraction failed")
		return ""
	}
	return text
}

// Extract detects the document type and returns its text.
func Extract(data []byte) (string, error) {
	if len(data) == 0 {
		return "", ErrEmptyDocument
	}

	mime := mimetype.Detect(data)
	switch {
	case mime.Is("application/pdf"):
		return PDFText(data)
	case isText(mime):
		if !utf8.Valid(data) {
			return "", fmt.Errorf("%w: text is not utf-8", ErrUnsupportedType)
		}
		return string(data), nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedType, mime.String())
	}
}

// isText reports whether mime is text/plain or one of its descendants.
// Comma or tab heavy prose is sniffed as text/csv or text/tab-separated-values
// and must still be read as an essay.
func isText(mime *mimetype.MIME) bool {
	for m := mime; m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return true
		}
	}
	return false
}

// PDFText concatenates the plain text of every page, each followed by a
// blank line.
func PDFText(data []byte) (text string, err error) {
	// The pdf reader panics on some malformed files.
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("read pdf: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}

	var builder strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("page %d: %w", i, err)
		}
		if strings.TrimSpace(pageText) == "" {
			continue
		}
		builder.WriteString(pageText)
		builder.WriteString("\n\n")
	}
	return builder.String(), nil
}
