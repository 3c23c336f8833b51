package preflight

import (
	"context"
	"fmt"
	"math"

	"github.com/wudi/pdfpreflight/bytescan"
	"github.com/wudi/pdfpreflight/engine"
	"github.com/wudi/pdfpreflight/oplist"
)

// StageB analyzes the parsed operator list and viewport and composes the
// final verdict. scan must come from Stage A's pass over the same bytes; it
// is consumed, never re-run. The page handle is borrowed and survives the
// call regardless of outcome.
func StageB(ctx context.Context, scan bytescan.Metrics, page engine.PageHandle, table engine.OperatorTable, cfg Config) Decision {
	cfg = cfg.normalized()
	m := Metrics{BudgetBytes: cfg.BudgetBytes, Scan: scan}
	if scan.Uncertain {
		return Decision{Decision: VerdictSkip, Reason: ReasonStageBScanUncertain, Metrics: m}
	}
	ops := oplist.Analyze(ctx, page, oplist.NewClassifier(table), cfg.Timeout)
	m.Operators = &ops
	if ops.Uncertain {
		reason := ReasonStageBOpListUncertain
		if ops.TimedOut {
			reason = ReasonStageBOpListTimeout
		}
		return Decision{Decision: VerdictSkip, Reason: reason, Metrics: m}
	}
	pagePixels, uncertain := viewportPixels(page)
	m.PagePixels = &pagePixels
	if uncertain {
		return Decision{Decision: VerdictSkip, Reason: ReasonStageBViewportUncertain, Metrics: m}
	}
	est := estimateWorstCase(pagePixels, scan, ops, cfg)
	if math.IsInf(est, 0) || math.IsNaN(est) {
		// JSON cannot carry infinities; the reason code carries the story.
		m.EstimatedBytes = math.MaxFloat64
		return Decision{Decision: VerdictSkip, Reason: ReasonStageBEstimateInvalid, Metrics: m}
	}
	m.EstimatedBytes = est
	if est > float64(cfg.BudgetBytes) {
		return Decision{Decision: VerdictSkip, Reason: ReasonStageBOverBudget, Metrics: m}
	}
	return Decision{Decision: VerdictRender, Reason: ReasonStageBAllow, Metrics: m}
}

// Run executes the stages the way callers are expected to: Stage A first on
// the raw bytes, Stage B only when Stage A allowed and an engine page is
// available. Without a page the Stage A verdict stands.
func Run(ctx context.Context, data []byte, page engine.PageHandle, table engine.OperatorTable, cfg Config) Decision {
	cfg = cfg.normalized()
	a := StageA(data, cfg)
	if a.Skip() || page == nil {
		return a
	}
	return StageB(ctx, a.Metrics.Scan, page, table, cfg)
}

// viewportPixels reads the page extent at scale 1. Anything short of finite,
// positive dimensions whose ceiling product fits int64 reads as uncertain
// with zero pixels.
func viewportPixels(page engine.PageHandle) (int64, bool) {
	if page == nil {
		return 0, true
	}
	vp, err := safeViewport(page)
	if err != nil {
		return 0, true
	}
	w, h := vp.Width, vp.Height
	if !positiveFinite(w) || !positiveFinite(h) {
		return 0, true
	}
	cw, ch := math.Ceil(w), math.Ceil(h)
	if cw >= float64(math.MaxInt64) || ch >= float64(math.MaxInt64) {
		return 0, true
	}
	px, ok := mulInt64(int64(cw), int64(ch))
	if !ok {
		return 0, true
	}
	return px, false
}

func safeViewport(page engine.PageHandle) (vp engine.Viewport, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("viewport panic: %v", r)
		}
	}()
	return page.GetViewport(1)
}

// estimateWorstCase assumes every paint op decodes at the largest plausible
// pixel extent, four bytes per pixel, scaled up when transparency groups or
// soft masks are in play. It never fails; the caller checks finiteness.
func estimateWorstCase(pagePixels int64, scan bytescan.Metrics, ops oplist.Metrics, cfg Config) float64 {
	perOp := float64(pagePixels)
	if f := float64(scan.MaxImagePixels); f > perOp {
		perOp = f
	}
	if f := float64(ops.MaxInlineImagePixels); f > perOp {
		perOp = f
	}
	if cfg.MaxDecodedImagePixels > 0 && perOp > float64(cfg.MaxDecodedImagePixels) {
		// A declared-huge image is assumed to decode at most at the ceiling.
		perOp = float64(cfg.MaxDecodedImagePixels)
	}
	if perOp < 0 {
		perOp = 0
	}
	paintOps := float64(ops.PaintOps)
	if paintOps < 0 {
		paintOps = 0
	}
	est := paintOps * perOp * bytesPerPixel
	if ops.TransparencyGroupOps > 0 {
		est *= cfg.Multipliers.TransparencyGroup
	}
	if ops.MaskPaintOps > 0 {
		est *= cfg.Multipliers.SoftMask
	}
	if est < 0 {
		est = 0
	}
	return est
}
