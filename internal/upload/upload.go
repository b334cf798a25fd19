// Package upload validates uploaded files and decodes them into text
// documents. Everything happens in memory; no upload touches the disk.
package upload

import (
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"

	"ragchat/internal/domain"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Loader enforces the extension allow-list and size limit and turns
// raw payloads into documents.
type Loader struct {
	maxBytes int64
	allowed  map[string]struct{}
}

// NewLoader builds a loader; extensions are compared case-insensitively
// and without the leading dot.
func NewLoader(maxBytes int64, allowed []string) *Loader {
	set := make(map[string]struct{}, len(allowed))
	for _, ext := range allowed {
		set[normalizeExt(ext)] = struct{}{}
	}
	return &Loader{maxBytes: maxBytes, allowed: set}
}

// Check validates the declared name and size before any byte is read.
// It returns the cleaned source name and its extension.
func (l *Loader) Check(name string, size int64) (string, string, error) {
	clean := cleanName(name)
	if clean == "" {
		return "", "", domain.Errorf(domain.KindInvalidRequest, "file name is required")
	}
	ext := normalizeExt(filepath.Ext(clean))
	if _, ok := l.allowed[ext]; !ok || ext == "" {
		return "", "", domain.Errorf(domain.KindUnsupportedType, "unsupported file type %q for %s", ext, clean)
	}
	if size > l.maxBytes {
		return "", "", domain.Errorf(domain.KindTooLarge, "%s is %d bytes, limit is %d", clean, size, l.maxBytes)
	}
	return clean, ext, nil
}

// Read checks the file, reads at most the size limit from r and decodes it.
// A reader that yields more bytes than declared is still rejected as too large.
func (l *Loader) Read(name string, size int64, r io.Reader) (domain.Document, error) {
	clean, ext, err := l.Check(name, size)
	if err != nil {
		return domain.Document{}, err
	}
	data, err := io.ReadAll(io.LimitReader(r, l.maxBytes+1))
	if err != nil {
		return domain.Document{}, domain.Wrap(domain.KindInvalidRequest, err, "read "+clean)
	}
	if int64(len(data)) > l.maxBytes {
		return domain.Document{}, domain.Errorf(domain.KindTooLarge, "%s exceeds %d bytes", clean, l.maxBytes)
	}
	return Decode(clean, ext, data)
}

// Decode converts raw bytes into a document according to the extension.
func Decode(name, ext string, data []byte) (domain.Document, error) {
	var (
		text string
		err  error
	)
	switch ext {
	case "docx":
		text, err = decodeDocx(name, data)
	default:
		text, err = decodeText(name, data)
	}
	if err != nil {
		return domain.Document{}, err
	}
	return domain.Document{
		Name:      name,
		Extension: ext,
		Size:      int64(len(data)),
		Content:   text,
	}, nil
}

func decodeText(name string, data []byte) (string, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	if !utf8.Valid(data) {
		return "", domain.Errorf(domain.KindEncoding, "%s is not valid UTF-8 text", name)
	}
	return string(data), nil
}

func decodeDocx(name string, data []byte) (string, error) {
	if !isZip(mimetype.Detect(data)) {
		return "", domain.Errorf(domain.KindEncoding, "%s is not a valid docx document", name)
	}
	text, err := extractDocx(data)
	if err != nil {
		return "", domain.Wrap(domain.KindEncoding, err, fmt.Sprintf("%s is not a valid docx document", name))
	}
	if !utf8.ValidString(text) {
		return "", domain.Errorf(domain.KindEncoding, "%s contains invalid UTF-8 text", name)
	}
	return text, nil
}

func isZip(mt *mimetype.MIME) bool {
	for m := mt; m != nil; m = m.Parent() {
		if m.Is("application/zip") {
			return true
		}
	}
	return false
}

func cleanName(name string) string {
	name = strings.TrimSpace(strings.ReplaceAll(name, `\`, "/"))
	if name == "" {
		return ""
	}
	base := filepath.Base(name)
	if base == "." || base == "/" || base == ".." {
		return ""
	}
	return base
}

func normalizeExt(ext string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(ext)), ".")
}
