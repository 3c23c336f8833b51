package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"testing"

	"github.com/wudi/pdfpreflight/preflight"
)

// buildPDF assembles a syntactically valid PDF around the given objects,
// computing the cross-reference offsets as it goes.
func buildPDF(t *testing.T, objects ...string) []byte {
	t.Helper()
	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, 0, len(objects))
	for i, body := range objects {
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, body)
	}
	xrefPos := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(objects)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n",
		len(objects)+1, xrefPos)
	return buf.Bytes()
}

// samplePDF is a one-page document; extra objects (an image dictionary, for
// instance) ride along unreferenced, which is all the byte scanner needs.
func samplePDF(t *testing.T, extra ...string) []byte {
	t.Helper()
	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] >>",
	}
	objects = append(objects, extra...)
	return buildPDF(t, objects...)
}

type fakeRenderer struct {
	img   image.Image
	err   error
	calls int
}

func (f *fakeRenderer) RenderPage(data []byte, page int) (image.Image, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.img, nil
}

func (f *fakeRenderer) Close() error { return nil }

func testPreviewer(r Renderer, budget int64, width int) *Previewer {
	return NewPreviewer(preflight.Config{BudgetBytes: budget}, r, width, nil)
}

func TestProbe_CountsPages(t *testing.T) {
	info, err := Probe(samplePDF(t))
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if info.Pages != 1 {
		t.Fatalf("expected 1 page, got %d", info.Pages)
	}
	if !info.PageExists(0) || info.PageExists(1) || info.PageExists(-1) {
		t.Fatalf("page bounds wrong for %+v", info)
	}
}

func TestProbe_RejectsGarbage(t *testing.T) {
	if _, err := Probe([]byte("definitely not a pdf")); err == nil {
		t.Fatalf("expected probe error for garbage input")
	}
}

func TestPreviewer_SkipNeverTouchesRenderer(t *testing.T) {
	doc := samplePDF(t, "<< /Type /XObject /Subtype /Image /Width 10000 /Height 10000 >>")
	fake := &fakeRenderer{img: image.NewRGBA(image.Rect(0, 0, 10, 10))}
	p := testPreviewer(fake, 1_000_000, 128)

	img, d, err := p.Thumbnail(context.Background(), doc, 0, nil, nil)
	if err != nil {
		t.Fatalf("thumbnail: %v", err)
	}
	if img != nil || !d.Skip() || d.Reason != preflight.ReasonStageAMaxImageOver {
		t.Fatalf("expected gated skip, got img=%v decision=%+v", img, d)
	}
	if fake.calls != 0 {
		t.Fatalf("renderer must not run on skip, got %d calls", fake.calls)
	}
}

func TestPreviewer_RenderAndScale(t *testing.T) {
	doc := samplePDF(t, "<< /Type /XObject /Subtype /Image /Width 100 /Height 100 >>")
	fake := &fakeRenderer{img: image.NewRGBA(image.Rect(0, 0, 200, 100))}
	p := testPreviewer(fake, 1_000_000, 50)

	img, d, err := p.Thumbnail(context.Background(), doc, 0, nil, nil)
	if err != nil {
		t.Fatalf("thumbnail: %v", err)
	}
	if d.Skip() {
		t.Fatalf("expected render verdict, got %+v", d)
	}
	if fake.calls != 1 {
		t.Fatalf("expected one render call, got %d", fake.calls)
	}
	b := img.Bounds()
	if b.Dx() != 50 || b.Dy() != 25 {
		t.Fatalf("expected 50x25 thumbnail, got %dx%d", b.Dx(), b.Dy())
	}
}

func TestPreviewer_PageOutOfRange(t *testing.T) {
	p := testPreviewer(&fakeRenderer{}, 1_000_000, 128)
	if _, _, err := p.Thumbnail(context.Background(), samplePDF(t), 3, nil, nil); err == nil {
		t.Fatalf("expected out-of-range error")
	}
}

func TestPreviewer_RendererErrorPropagates(t *testing.T) {
	fake := &fakeRenderer{err: errors.New("mupdf unavailable")}
	p := testPreviewer(fake, 1_000_000, 128)
	_, _, err := p.Thumbnail(context.Background(), samplePDF(t), 0, nil, nil)
	if err == nil {
		t.Fatalf("expected renderer error to propagate")
	}
}

func TestScaleToWidth(t *testing.T) {
	wide := image.NewRGBA(image.Rect(0, 0, 200, 100))
	scaled := scaleToWidth(wide, 50)
	if b := scaled.Bounds(); b.Dx() != 50 || b.Dy() != 25 {
		t.Fatalf("expected 50x25, got %dx%d", b.Dx(), b.Dy())
	}

	small := image.NewRGBA(image.Rect(0, 0, 30, 30))
	if scaleToWidth(small, 50) != image.Image(small) {
		t.Fatalf("images narrower than the target must pass through")
	}
}

func TestEncodePNG(t *testing.T) {
	data, err := EncodePNG(image.NewRGBA(image.Rect(0, 0, 8, 4)))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if b := decoded.Bounds(); b.Dx() != 8 || b.Dy() != 4 {
		t.Fatalf("expected 8x4 image, got %dx%d", b.Dx(), b.Dy())
	}
}
