// Package extract turns uploaded files into plain text for comparison.
//
// Formats that cannot be compared yet are not errors: they yield a fixed placeholder sentence,
// which is then compared like any other text. Only unreadable input of a supported format (for
// example a truncated .docx) returns an error.
package extract

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Placeholder texts returned for formats that are accepted but not extracted.
const (
	PDFPlaceholder       = "Detailed comparison of PDF files is not supported yet. Please convert the document to TXT or DOCX."
	LegacyDocPlaceholder = "Legacy Word (.doc) files cannot be read. Please save the document as DOCX or TXT."
)

// ErrUnreadable is wrapped by every Extract error.
var ErrUnreadable = errors.New("unreadable document")

var textExts = map[string]bool{".txt": true, ".text": true, ".md": true}

// Supported returns the accepted file extensions, in the order an upload form lists them.
func Supported() []string {
	return []string{".txt", ".pdf", ".doc", ".docx", ".md", ".text"}
}

// IsSupported reports whether name has an accepted extension
func IsSupported(name string) bool {
	ext := Ext(name)
	for _, s := range Supported() {
		if s == ext {
			return true
		}
	}
	return false
}

// Ext returns the lower-cased extension of name, including the dot
func Ext(name string) string {
	return strings.ToLower(filepath.Ext(name))
}

// Extract returns the plain text of the file called name with content data. Files with an unknown
// extension yield "".
func Extract(name string, data []byte) (string, error) {
	ext := Ext(name)
	switch {
	case textExts[ext]:
		text, err := DecodeText(data)
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrUnreadable, err)
		}
		return text, nil
	case ext == ".docx":
		text, err := extractDocx(data)
		if err != nil {
			return "", fmt.Errorf("%w: %s: %w", ErrUnreadable, name, err)
		}
		return text, nil
	case ext == ".pdf":
		return PDFPlaceholder, nil
	case ext == ".doc":
		return LegacyDocPlaceholder, nil
	}
	return "", nil
}

// DecodeText decodes UTF-8 or BOM-marked UTF-16 text. Invalid bytes become U+FFFD.
func DecodeText(data []byte) (string, error) {
	dec := unicode.BOMOverride(unicode.UTF8.NewDecoder())
	out, _, err := transform.Bytes(dec, data)
	if err != nil {
		return "", fmt.Errorf("failed to decode text: %w", err)
	}
	return string(out), nil
}

// IsPlaceholder reports whether text is one of the placeholder notices
func IsPlaceholder(text string) bool {
	return text == PDFPlaceholder || text == LegacyDocPlaceholder
}
