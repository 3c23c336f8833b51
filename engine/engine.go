// Package engine declares the contracts a rendering engine must satisfy for
// preflight analysis, plus the fallible adapters that bring foreign values
// (JS exports, decoded JSON) into those contracts. Adaptation failures
// surface as ErrShape; callers fold them into uncertain results instead of
// propagating them.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
)

// ErrShape reports a collaborator value whose shape cannot be trusted.
var ErrShape = errors.New("unexpected collaborator shape")

// OperatorTable maps a rendering engine's operator names to numeric ids.
// Multiple names may share an id.
type OperatorTable map[string]int

// OperatorList is one page's recorded paint program. FnArray holds operator
// ids as the engine produced them; entries that were not numbers at the
// boundary are NaN so that consumers stop on them instead of guessing.
// ArgsArray is nil when the engine omitted it and is not required to match
// FnArray in length.
type OperatorList struct {
	FnArray   []float64
	ArgsArray []any
}

// Viewport is a page's extent at a given scale.
type Viewport struct {
	Width  float64
	Height float64
}

// PageHandle is the per-page surface preflight consumes. GetOperatorList may
// block for as long as the engine needs; cancellation through ctx is
// advisory only. Implementations able to release parse state early also
// implement Cleaner.
type PageHandle interface {
	GetOperatorList(ctx context.Context) (*OperatorList, error)
	GetViewport(scale float64) (Viewport, error)
}

// Cleaner releases a page's parse state. Calls are advisory; callers discard
// the error.
type Cleaner interface {
	Cleanup() error
}

// Number converts the numeric representations seen at the collaborator
// boundary (goja exports integral JS numbers as int64, encoding/json decodes
// everything as float64). ok is false for non-numeric values.
func Number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

// AdaptOperatorList validates and converts a foreign operator-list value of
// the shape {fnArray: sequence, argsArray?: sequence}. Non-numeric fnArray
// entries do not fail the adapt; they become NaN and stop the analysis walk
// at the offending index instead.
func AdaptOperatorList(v any) (*OperatorList, error) {
	rec, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: operator list is %T, not an object", ErrShape, v)
	}
	rawFn, ok := rec["fnArray"].([]any)
	if !ok {
		return nil, fmt.Errorf("%w: fnArray missing or not a sequence", ErrShape)
	}
	list := &OperatorList{FnArray: make([]float64, len(rawFn))}
	for i, e := range rawFn {
		if f, ok := Number(e); ok {
			list.FnArray[i] = f
		} else {
			list.FnArray[i] = math.NaN()
		}
	}
	if rawArgs, present := rec["argsArray"]; present && rawArgs != nil {
		args, ok := rawArgs.([]any)
		if !ok {
			return nil, fmt.Errorf("%w: argsArray present but not a sequence", ErrShape)
		}
		list.ArgsArray = args
	}
	return list, nil
}

// AdaptViewport validates and converts a foreign viewport value carrying
// width and height fields. Finiteness and sign checks stay with the caller.
func AdaptViewport(v any) (Viewport, error) {
	rec, ok := v.(map[string]any)
	if !ok {
		return Viewport{}, fmt.Errorf("%w: viewport is %T, not an object", ErrShape, v)
	}
	w, okW := Number(rec["width"])
	h, okH := Number(rec["height"])
	if !okW || !okH {
		return Viewport{}, fmt.Errorf("%w: viewport dimensions missing or non-numeric", ErrShape)
	}
	return Viewport{Width: w, Height: h}, nil
}
