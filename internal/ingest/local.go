package ingest

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
)

// LocalDocuments reads PDF and Word files in-process, without an OCR vendor.
// Scanned pages without a text layer yield nothing.
type LocalDocuments struct{}

// ReadDocument implements DocumentReader.
func (LocalDocuments) ReadDocument(_ context.Context, name string, data []byte) (string, error) {
	switch Ext(name) {
	case ".pdf":
		return readPDF(data)
	case ".docx", ".doc":
		return readDOCX(data)
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedExtension, Ext(name))
}

func readPDF(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("page %d: %w", i, err)
		}
		b.WriteString(text)
		b.WriteString("\n\n")
	}
	return b.String(), nil
}

func readDOCX(data []byte) (string, error) {
	r, err := docx.ReadDocxFromMemory(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}
	defer r.Close()
	return docxText(r.Editable().GetContent()), nil
}

var xmlTag = regexp.MustCompile(`<[^>]*>`)

// docxText reduces WordprocessingML to plain text, one line per paragraph.
func docxText(xml string) string {
	xml = strings.ReplaceAll(xml, "</w:p>", "\n")
	xml = strings.ReplaceAll(xml, "<w:tab/>", "\t")
	return strings.TrimSpace(html.UnescapeString(xmlTag.ReplaceAllString(xml, "")))
}
