package render

import (
	"bytes"
	"fmt"

	"github.com/ledongthuc/pdf"
)

// DocInfo is the document-level metadata gathered before any rasterization.
type DocInfo struct {
	Pages int `json:"pages"`
}

// Probe parses just enough of the document to count pages. It never decodes
// page content, so it stays cheap even for documents the gate will refuse.
func Probe(data []byte) (DocInfo, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return DocInfo{}, fmt.Errorf("probe pdf: %w", err)
	}
	return DocInfo{Pages: reader.NumPage()}, nil
}

// PageExists reports whether the 0-based page index is inside the document.
func (d DocInfo) PageExists(page int) bool {
	return page >= 0 && page < d.Pages
}
