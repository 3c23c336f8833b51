// Package render rasterizes PDF pages behind the preflight gate and scales
// the result into preview-sized images.
package render

import (
	"fmt"
	"image"

	"github.com/gen2brain/go-fitz"
)

// Renderer rasterizes a single page of an in-memory PDF document.
type Renderer interface {
	// RenderPage renders the 0-based page at the backend's native
	// resolution.
	RenderPage(data []byte, page int) (image.Image, error)

	// Close cleans up any resources used by the renderer.
	Close() error
}

// NewRenderer creates the default MuPDF-backed renderer (requires CGo).
func NewRenderer() (Renderer, error) {
	return NewFitzRenderer()
}

// FitzRenderer implements PDF rendering using go-fitz (requires CGo and MuPDF)
type FitzRenderer struct {
}

// NewFitzRenderer creates a new Fitz-based PDF renderer
func NewFitzRenderer() (*FitzRenderer, error) {
	return &FitzRenderer{}, nil
}

// RenderPage rasterizes one page using go-fitz.
func (r *FitzRenderer) RenderPage(data []byte, page int) (image.Image, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("unable to open PDF document: %w", err)
	}
	defer doc.Close()

	if page < 0 || page >= doc.NumPage() {
		return nil, fmt.Errorf("page %d out of range, document has %d pages", page, doc.NumPage())
	}

	img, err := doc.Image(page)
	if err != nil {
		return nil, fmt.Errorf("unable to render page %d: %w", page, err)
	}
	return img, nil
}

// Close cleans up resources (no-op for Fitz renderer as doc is closed per-render)
func (r *FitzRenderer) Close() error {
	return nil
}
