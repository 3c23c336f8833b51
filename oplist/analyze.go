package oplist

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/wudi/pdfpreflight/engine"
)

// minTimeout keeps the operator list race meaningful even for degenerate
// caller-supplied timeouts.
const minTimeout = time.Millisecond

// Metrics is the outcome of one operator list analysis. UniqueXObjectIDs is
// nil when no external reference was observed, which is distinct from an
// empty tracked set. Uncertain means the table, page, or list shape could
// not be trusted; TimedOut narrows that to the retrieval race.
type Metrics struct {
	PaintOps             int            `json:"paintOps"`
	XObjectPaintOps      int            `json:"xObjectPaintOps"`
	InlinePaintOps       int            `json:"inlinePaintOps"`
	MaskPaintOps         int            `json:"maskPaintOps"`
	TransparencyGroupOps int            `json:"transparencyGroupOps"`
	UniqueXObjectIDs     []string       `json:"uniqueXObjectIds,omitempty"`
	MaxInlineImagePixels int64          `json:"maxInlineImagePixels"`
	OperatorListLength   int            `json:"operatorListLength"`
	TimedOut             bool           `json:"timedOut"`
	OpBreakdown          map[string]int `json:"opBreakdown,omitempty"`
	Uncertain            bool           `json:"uncertain"`
}

type opListResult struct {
	list *engine.OperatorList
	err  error
}

// Analyze retrieves the page's operator list, racing the call against
// timeout, and classifies every recorded operation. The page handle is
// borrowed: on timeout Analyze requests one advisory cleanup and abandons
// the in-flight call without awaiting it further. All failure modes return
// uncertain metrics; Analyze itself never fails.
func Analyze(ctx context.Context, page engine.PageHandle, cls *Classifier, timeout time.Duration) Metrics {
	if cls == nil || cls.Empty() || page == nil {
		return Metrics{Uncertain: true}
	}
	if timeout < minTimeout {
		timeout = minTimeout
	}

	ch := make(chan opListResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- opListResult{err: fmt.Errorf("operator list panic: %v", r)}
			}
		}()
		list, err := page.GetOperatorList(ctx)
		ch <- opListResult{list: list, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case res := <-ch:
		if res.err != nil || res.list == nil {
			return Metrics{Uncertain: true}
		}
		return walk(res.list, cls)
	case <-timer.C:
		requestCleanup(page)
		return Metrics{Uncertain: true, TimedOut: true}
	case <-ctx.Done():
		requestCleanup(page)
		return Metrics{Uncertain: true}
	}
}

// requestCleanup is advisory; its failure must not mask the analysis result.
func requestCleanup(page engine.PageHandle) {
	defer func() { _ = recover() }()
	if c, ok := page.(engine.Cleaner); ok {
		_ = c.Cleanup()
	}
}

func walk(list *engine.OperatorList, cls *Classifier) Metrics {
	m := Metrics{OperatorListLength: len(list.FnArray)}
	n := len(list.FnArray)
	if list.ArgsArray != nil && len(list.ArgsArray) < n {
		n = len(list.ArgsArray)
	}
	var ids []string
	seen := make(map[string]struct{})
	for i := 0; i < n; i++ {
		fn := list.FnArray[i]
		if math.IsNaN(fn) || math.IsInf(fn, 0) {
			// Partial counts carry more signal than nothing; keep them under
			// the uncertain flag instead of discarding the walk.
			m.UniqueXObjectIDs = ids
			m.Uncertain = true
			return m
		}
		if fn != math.Trunc(fn) || fn < math.MinInt32 || fn > math.MaxInt32 {
			continue
		}
		id := int(fn)
		if cls.isTransparencyGroupID(id) {
			m.TransparencyGroupOps++
		}
		op, ok := cls.imageOpByID(id)
		if !ok {
			continue
		}
		m.PaintOps++
		if m.OpBreakdown == nil {
			m.OpBreakdown = make(map[string]int)
		}
		m.OpBreakdown[op.name]++
		var arg any
		if list.ArgsArray != nil && i < len(list.ArgsArray) {
			arg = list.ArgsArray[i]
		}
		switch op.kind {
		case KindInline:
			m.InlinePaintOps++
			if px, ok := inlinePixels(arg); ok && px > m.MaxInlineImagePixels {
				m.MaxInlineImagePixels = px
			}
		case KindMask:
			m.MaskPaintOps++
			if ref, ok := xObjectRef(arg); ok {
				if _, dup := seen[ref]; !dup {
					seen[ref] = struct{}{}
					ids = append(ids, ref)
				}
			}
		default:
			m.XObjectPaintOps++
			if ref, ok := xObjectRef(arg); ok {
				if _, dup := seen[ref]; !dup {
					seen[ref] = struct{}{}
					ids = append(ids, ref)
				}
			}
		}
	}
	m.UniqueXObjectIDs = ids
	return m
}

// inlinePixels extracts the declared inline-image area from an operator
// argument. The engine encodes the image dict either array-wrapped or bare,
// with long or short field names; the forms are tried in that order. The
// product saturates instead of wrapping so absurd declarations stay absurd.
func inlinePixels(arg any) (int64, bool) {
	rec, ok := argRecord(arg)
	if !ok {
		return 0, false
	}
	w, ok := dimField(rec, "width", "w")
	if !ok {
		return 0, false
	}
	h, ok := dimField(rec, "height", "h")
	if !ok {
		return 0, false
	}
	if w > math.MaxInt64/h {
		return math.MaxInt64, true
	}
	return w * h, true
}

func argRecord(arg any) (map[string]any, bool) {
	switch v := arg.(type) {
	case []any:
		if len(v) > 0 {
			if rec, ok := v[0].(map[string]any); ok {
				return rec, true
			}
		}
		return nil, false
	case map[string]any:
		return v, true
	default:
		return nil, false
	}
}

// maxDimValue mirrors the largest integer a JS engine hands over exactly.
const maxDimValue = float64(1 << 53)

// dimField tries the field names in order and requires a positive integral
// value after rounding up.
func dimField(rec map[string]any, long, short string) (int64, bool) {
	for _, key := range []string{long, short} {
		v, present := rec[key]
		if !present {
			continue
		}
		f, ok := engine.Number(v)
		if !ok {
			continue
		}
		f = math.Ceil(f)
		if math.IsNaN(f) || math.IsInf(f, 0) || f <= 0 || f > maxDimValue {
			continue
		}
		return int64(f), true
	}
	return 0, false
}

// xObjectRef pulls the referenced object id out of a paint argument; the
// engine passes it as the first array element or bare.
func xObjectRef(arg any) (string, bool) {
	switch v := arg.(type) {
	case []any:
		if len(v) > 0 {
			if s, ok := v[0].(string); ok && s != "" {
				return s, true
			}
		}
	case string:
		if v != "" {
			return v, true
		}
	}
	return "", false
}
