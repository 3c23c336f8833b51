package render

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"math"

	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"

	"github.com/wudi/pdfpreflight/engine"
	"github.com/wudi/pdfpreflight/preflight"
)

// Previewer runs the preflight gate in front of a Renderer. Documents the
// gate refuses are never handed to the rasterizer.
type Previewer struct {
	cfg      preflight.Config
	renderer Renderer
	width    int
	log      *slog.Logger
}

func NewPreviewer(cfg preflight.Config, r Renderer, width int, logger *slog.Logger) *Previewer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Previewer{cfg: cfg, renderer: r, width: width, log: logger}
}

// Decide runs the estimator over the document without rasterizing anything.
// page must exist in the document; pageHandle and table are optional and
// enable the operator-list stage when present.
func (p *Previewer) Decide(ctx context.Context, data []byte, page int, pageHandle engine.PageHandle, table engine.OperatorTable) (DocInfo, preflight.Decision, error) {
	info, err := Probe(data)
	if err != nil {
		return DocInfo{}, preflight.Decision{}, err
	}
	if !info.PageExists(page) {
		return info, preflight.Decision{}, fmt.Errorf("page %d out of range, document has %d pages", page, info.Pages)
	}

	d := preflight.Run(ctx, data, pageHandle, table, p.cfg)
	p.log.Info("preflight decision",
		"page", page,
		"decision", d.Decision,
		"reason", d.Reason,
		"estimatedBytes", d.Metrics.EstimatedBytes)
	return info, d, nil
}

// Thumbnail gates the document and, when allowed, rasterizes the page and
// scales it down to the preview width. A skip verdict returns a nil image
// alongside the decision; the caller chooses how to surface it.
func (p *Previewer) Thumbnail(ctx context.Context, data []byte, page int, pageHandle engine.PageHandle, table engine.OperatorTable) (image.Image, preflight.Decision, error) {
	_, d, err := p.Decide(ctx, data, page, pageHandle, table)
	if err != nil {
		return nil, preflight.Decision{}, err
	}
	if d.Skip() {
		return nil, d, nil
	}

	raster, err := p.renderer.RenderPage(data, page)
	if err != nil {
		return nil, d, fmt.Errorf("render page %d: %w", page, err)
	}

	thumb := scaleToWidth(raster, p.width)
	return imaging.Sharpen(thumb, 0.5), d, nil
}

// scaleToWidth downscales img to the target width, preserving aspect ratio.
// Images already narrower than the target pass through untouched.
func scaleToWidth(img image.Image, width int) image.Image {
	b := img.Bounds()
	if width <= 0 || b.Dx() <= width {
		return img
	}
	h := int(math.Round(float64(width) * float64(b.Dy()) / float64(b.Dx())))
	if h < 1 {
		h = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, width, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}

// EncodePNG serializes an image for transport.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}
