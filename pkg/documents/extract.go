// Package documents turns local files into prompt-safe plain text: the PDF
// text layer when there is one, raw UTF-8 otherwise, capped to a fixed rune
// budget before inclusion in a prompt.
package documents

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// MaxPromptRunes caps extracted document text before it is appended to a
// prompt.
const MaxPromptRunes = 12000

// Extract returns the document's plain text, capped to MaxPromptRunes.
func Extract(path string) (string, error) {
	var text string
	var err error

	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		text, err = extractPDF(path)
	default:
		text, err = extractPlain(path)
	}
	if err != nil {
		return "", err
	}

	return Cap(text, MaxPromptRunes), nil
}

// Cap truncates s to at most n runes.
func Cap(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	log.Debug().Int("runes", len(runes)).Int("cap", n).Msg("truncating document text")
	return string(runes[:n])
}

func extractPDF(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", errors.Wrap(err, "open pdf")
	}
	defer func() { _ = f.Close() }()

	reader, err := r.GetPlainText()
	if err != nil {
		return "", errors.Wrap(err, "extract pdf text layer")
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(reader); err != nil {
		return "", errors.Wrap(err, "read pdf text")
	}
	return buf.String(), nil
}

func extractPlain(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", errors.Wrap(err, "read document")
	}
	if !utf8.Valid(b) {
		return "", errors.Errorf("document %s is not valid UTF-8", filepath.Base(path))
	}
	return string(b), nil
}
