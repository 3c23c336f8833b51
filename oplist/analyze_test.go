package oplist

import (
	"context"
	"math"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/wudi/pdfpreflight/engine"
)

// testTable mirrors the shape of a pdf.js-style OPS export.
func testTable() engine.OperatorTable {
	return engine.OperatorTable{
		"dependency":                   1,
		"setLineWidth":                 2,
		"beginGroup":                   54,
		"endGroup":                     55,
		"paintJpegXObject":             82,
		"paintImageMaskXObject":        83,
		"paintImageMaskXObjectGroup":   84,
		"paintImageXObject":            85,
		"paintInlineImageXObject":      86,
		"paintInlineImageXObjectGroup": 87,
	}
}

type fakePage struct {
	mu       sync.Mutex
	list     *engine.OperatorList
	err      error
	panicMsg string
	block    chan struct{}
	vp       engine.Viewport
	vpErr    error
	cleanups int
}

func (p *fakePage) GetOperatorList(ctx context.Context) (*engine.OperatorList, error) {
	if p.panicMsg != "" {
		panic(p.panicMsg)
	}
	if p.block != nil {
		<-p.block
	}
	return p.list, p.err
}

func (p *fakePage) GetViewport(scale float64) (engine.Viewport, error) { return p.vp, p.vpErr }

func (p *fakePage) Cleanup() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cleanups++
	return nil
}

func (p *fakePage) cleanupCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cleanups
}

func analyzeList(t *testing.T, list *engine.OperatorList) Metrics {
	t.Helper()
	page := &fakePage{list: list}
	return Analyze(context.Background(), page, NewClassifier(testTable()), time.Second)
}

func TestClassifier_Kinds(t *testing.T) {
	cls := NewClassifier(testTable())
	cases := []struct {
		id   int
		kind Kind
	}{
		{82, KindXObject},
		{83, KindMask},
		{84, KindMask},
		{85, KindXObject},
		{86, KindInline},
		{87, KindInline},
	}
	for _, tc := range cases {
		op, ok := cls.imageOpByID(tc.id)
		if !ok || op.kind != tc.kind {
			t.Fatalf("id %d: expected kind %v, got (%+v, %v)", tc.id, tc.kind, op, ok)
		}
	}
	if _, ok := cls.imageOpByID(2); ok {
		t.Fatalf("setLineWidth must not classify as image paint")
	}
	for _, id := range []int{54, 55, 84, 87} {
		if !cls.isTransparencyGroupID(id) {
			t.Fatalf("id %d should classify as transparency group", id)
		}
	}
	if cls.isTransparencyGroupID(85) {
		t.Fatalf("paintImageXObject is not a transparency group op")
	}
}

func TestClassifier_FirstSeenWinsDeterministically(t *testing.T) {
	table := engine.OperatorTable{
		"paintJpegXObject":  5,
		"paintImageXObject": 5,
	}
	for i := 0; i < 3; i++ {
		cls := NewClassifier(table)
		op, ok := cls.imageOpByID(5)
		if !ok || op.name != "paintImageXObject" {
			t.Fatalf("expected sorted-first name to win, got (%+v, %v)", op, ok)
		}
	}
}

func TestClassifier_Empty(t *testing.T) {
	if !NewClassifier(nil).Empty() {
		t.Fatalf("nil table must classify empty")
	}
	if !NewClassifier(engine.OperatorTable{"setLineWidth": 2, "beginGroup": 54}).Empty() {
		t.Fatalf("table without paint ops must classify empty")
	}
	if NewClassifier(testTable()).Empty() {
		t.Fatalf("test table must not classify empty")
	}
}

func TestAnalyze_CountsAndBreakdown(t *testing.T) {
	list := &engine.OperatorList{
		FnArray: []float64{85, 85, 82, 83, 86, 54, 2, 2.5},
		ArgsArray: []any{
			[]any{"img1", 10, 10},
			[]any{"img1", 10, 10},
			[]any{"jpeg1"},
			[]any{"mask1"},
			[]any{map[string]any{"width": 100, "height": 50}},
			nil,
			nil,
			nil,
		},
	}
	m := analyzeList(t, list)
	if m.Uncertain || m.TimedOut {
		t.Fatalf("unexpected uncertainty: %+v", m)
	}
	if m.PaintOps != 5 || m.XObjectPaintOps != 3 || m.MaskPaintOps != 1 || m.InlinePaintOps != 1 {
		t.Fatalf("unexpected paint counts: %+v", m)
	}
	if m.TransparencyGroupOps != 1 {
		t.Fatalf("expected one transparency group op, got %+v", m)
	}
	if m.MaxInlineImagePixels != 5000 {
		t.Fatalf("expected 5000 inline pixels, got %+v", m)
	}
	if m.OperatorListLength != 8 {
		t.Fatalf("expected list length 8, got %+v", m)
	}
	wantIDs := []string{"img1", "jpeg1", "mask1"}
	if !reflect.DeepEqual(m.UniqueXObjectIDs, wantIDs) {
		t.Fatalf("expected ids %v in first-seen order, got %v", wantIDs, m.UniqueXObjectIDs)
	}
	wantBreakdown := map[string]int{
		"paintImageXObject":       2,
		"paintJpegXObject":        1,
		"paintImageMaskXObject":   1,
		"paintInlineImageXObject": 1,
	}
	if !reflect.DeepEqual(m.OpBreakdown, wantBreakdown) {
		t.Fatalf("unexpected breakdown: %v", m.OpBreakdown)
	}
}

func TestAnalyze_GroupedInlineCountsBoth(t *testing.T) {
	list := &engine.OperatorList{
		FnArray:   []float64{87},
		ArgsArray: []any{[]any{map[string]any{"w": 8, "h": 8}}},
	}
	m := analyzeList(t, list)
	if m.PaintOps != 1 || m.InlinePaintOps != 1 || m.TransparencyGroupOps != 1 {
		t.Fatalf("grouped inline paint must count in both tallies: %+v", m)
	}
	if m.MaxInlineImagePixels != 64 {
		t.Fatalf("expected 64 inline pixels, got %+v", m)
	}
}

func TestAnalyze_NonFiniteIDStopsEarly(t *testing.T) {
	list := &engine.OperatorList{
		FnArray:   []float64{85, math.NaN(), 85},
		ArgsArray: []any{[]any{"img1"}, nil, []any{"img2"}},
	}
	m := analyzeList(t, list)
	if !m.Uncertain || m.TimedOut {
		t.Fatalf("expected uncertain partial result, got %+v", m)
	}
	if m.PaintOps != 1 || len(m.UniqueXObjectIDs) != 1 || m.UniqueXObjectIDs[0] != "img1" {
		t.Fatalf("expected partial counts preserved, got %+v", m)
	}
	if m.OperatorListLength != 3 {
		t.Fatalf("expected full list length, got %+v", m)
	}
}

func TestAnalyze_ShorterArgsArrayBoundsWalk(t *testing.T) {
	list := &engine.OperatorList{
		FnArray:   []float64{85, 85, 85, 85},
		ArgsArray: []any{[]any{"a"}, []any{"b"}},
	}
	m := analyzeList(t, list)
	if m.PaintOps != 2 || len(m.UniqueXObjectIDs) != 2 {
		t.Fatalf("walk must stop at the shorter sequence, got %+v", m)
	}
	if m.OperatorListLength != 4 {
		t.Fatalf("length must report the full fn array, got %+v", m)
	}
}

func TestAnalyze_MissingArgsArrayCountsAnyway(t *testing.T) {
	list := &engine.OperatorList{FnArray: []float64{85, 86, 83}}
	m := analyzeList(t, list)
	if m.Uncertain {
		t.Fatalf("missing args array is not uncertainty: %+v", m)
	}
	if m.PaintOps != 3 || m.XObjectPaintOps != 1 || m.InlinePaintOps != 1 || m.MaskPaintOps != 1 {
		t.Fatalf("counts must not depend on argument extraction, got %+v", m)
	}
	if m.UniqueXObjectIDs != nil || m.MaxInlineImagePixels != 0 {
		t.Fatalf("no args means no extracted detail, got %+v", m)
	}
}

func TestAnalyze_TimeoutCleansUpOnce(t *testing.T) {
	block := make(chan struct{})
	t.Cleanup(func() { close(block) })
	page := &fakePage{block: block}
	m := Analyze(context.Background(), page, NewClassifier(testTable()), 5*time.Millisecond)
	if !m.Uncertain || !m.TimedOut {
		t.Fatalf("expected timed-out uncertain result, got %+v", m)
	}
	if got := page.cleanupCount(); got != 1 {
		t.Fatalf("expected exactly one cleanup, got %d", got)
	}
}

func TestAnalyze_ContextCancellation(t *testing.T) {
	block := make(chan struct{})
	t.Cleanup(func() { close(block) })
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	page := &fakePage{block: block}
	m := Analyze(ctx, page, NewClassifier(testTable()), time.Second)
	if !m.Uncertain || m.TimedOut {
		t.Fatalf("caller cancellation is uncertain but not a timeout: %+v", m)
	}
	if got := page.cleanupCount(); got != 1 {
		t.Fatalf("expected exactly one cleanup, got %d", got)
	}
}

func TestAnalyze_PanickingPage(t *testing.T) {
	page := &fakePage{panicMsg: "engine exploded"}
	m := Analyze(context.Background(), page, NewClassifier(testTable()), time.Second)
	if !m.Uncertain || m.TimedOut {
		t.Fatalf("expected uncertain non-timeout result, got %+v", m)
	}
	if got := page.cleanupCount(); got != 0 {
		t.Fatalf("panic path must not request cleanup, got %d", got)
	}
}

func TestAnalyze_UntrustedResults(t *testing.T) {
	if m := Analyze(context.Background(), &fakePage{list: nil}, NewClassifier(testTable()), time.Second); !m.Uncertain {
		t.Fatalf("nil list must be uncertain, got %+v", m)
	}
	page := &fakePage{err: context.DeadlineExceeded}
	if m := Analyze(context.Background(), page, NewClassifier(testTable()), time.Second); !m.Uncertain || m.TimedOut {
		t.Fatalf("engine error must be uncertain without timeout flag, got %+v", m)
	}
}

func TestAnalyze_Preconditions(t *testing.T) {
	page := &fakePage{list: &engine.OperatorList{FnArray: []float64{85}}}
	if m := Analyze(context.Background(), page, NewClassifier(nil), time.Second); !m.Uncertain {
		t.Fatalf("empty classifier must be uncertain, got %+v", m)
	}
	if m := Analyze(context.Background(), nil, NewClassifier(testTable()), time.Second); !m.Uncertain {
		t.Fatalf("nil page must be uncertain, got %+v", m)
	}
	if got := page.cleanupCount(); got != 0 {
		t.Fatalf("preconditions must not touch the page, got %d cleanups", got)
	}
}

func TestInlinePixels_DuckTyping(t *testing.T) {
	cases := []struct {
		name string
		arg  any
		want int64
		ok   bool
	}{
		{"array wrapped long names", []any{map[string]any{"width": 100, "height": 50}}, 5000, true},
		{"bare short names", map[string]any{"w": 10, "h": 3}, 30, true},
		{"ceil fractional", map[string]any{"w": 10.2, "h": 3.0}, 33, true},
		{"long name preferred", map[string]any{"width": 7, "w": 9, "height": 1, "h": 2}, 7, true},
		{"fallback to short name", map[string]any{"width": "bogus", "w": 5, "height": 2}, 10, true},
		{"non-positive", map[string]any{"width": 0, "height": 5}, 0, false},
		{"negative", map[string]any{"width": -4, "height": 5}, 0, false},
		{"missing height", map[string]any{"width": 4}, 0, false},
		{"empty array", []any{}, 0, false},
		{"scalar arg", 42, 0, false},
		{"nil arg", nil, 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := inlinePixels(tc.arg)
			if ok != tc.ok || got != tc.want {
				t.Fatalf("inlinePixels = (%d, %v), want (%d, %v)", got, ok, tc.want, tc.ok)
			}
		})
	}
}

func TestInlinePixels_SaturatesInsteadOfWrapping(t *testing.T) {
	arg := map[string]any{"w": float64(1 << 52), "h": float64(1 << 52)}
	got, ok := inlinePixels(arg)
	if !ok || got != math.MaxInt64 {
		t.Fatalf("expected saturated product, got (%d, %v)", got, ok)
	}
}
