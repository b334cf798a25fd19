package upload

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

const documentPart = "word/document.xml"

type documentXML struct {
	Body struct {
		Paragraphs []paragraph `xml:"p"`
	} `xml:"body"`
}

type paragraph struct {
	Runs []run `xml:"r"`
}

type run struct {
	Text []textElement `xml:"t"`
}

type textElement struct {
	Content string `xml:",chardata"`
}

// extractDocx returns the paragraph text of word/document.xml, one
// paragraph per line.
func extractDocx(data []byte) (string, error) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open zip: %w", err)
	}
	for _, file := range reader.File {
		if file.Name != documentPart {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return "", fmt.Errorf("open %s: %w", documentPart, err)
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return "", fmt.Errorf("read %s: %w", documentPart, err)
		}
		return parseDocumentXML(content)
	}
	return "", errors.New("missing " + documentPart)
}

func parseDocumentXML(content []byte) (string, error) {
	var doc documentXML
	if err := xml.Unmarshal(content, &doc); err != nil {
		return "", fmt.Errorf("parse %s: %w", documentPart, err)
	}
	var result strings.Builder
	for i, para := range doc.Body.Paragraphs {
		if i > 0 {
			result.WriteString("\n")
		}
		for _, r := range para.Runs {
			for _, t := range r.Text {
				result.WriteString(t.Content)
			}
		}
	}
	return strings.TrimSpace(result.String()), nil
}
