// Package oplist classifies a rendering engine's operator table and analyzes
// recorded page operator lists for image paint cost. Analysis is
// timeout-bounded and never trusts the engine: any shape it cannot verify
// folds into an uncertain result.
package oplist

import (
	"sort"
	"strings"

	"github.com/wudi/pdfpreflight/engine"
)

// Kind says how an operator paints an image.
type Kind int

const (
	KindXObject Kind = iota
	KindInline
	KindMask
)

func (k Kind) String() string {
	switch k {
	case KindInline:
		return "inline"
	case KindMask:
		return "mask"
	default:
		return "xobject"
	}
}

// classifyImageOp reports how an operator name paints an image; ok is false
// for operators that paint none. Inline wins over the broader substrings so
// paintInlineImageXObject does not read as a plain XObject paint.
func classifyImageOp(name string) (Kind, bool) {
	if !strings.HasPrefix(name, "paint") {
		return 0, false
	}
	switch {
	case strings.Contains(name, "InlineImage"):
		return KindInline, true
	case strings.Contains(name, "Mask"):
		return KindMask, true
	case strings.Contains(name, "Image"), strings.Contains(name, "Jpeg"):
		return KindXObject, true
	default:
		return 0, false
	}
}

func isTransparencyGroupOpName(name string) bool {
	return strings.Contains(strings.ToLower(name), "group")
}

type imageOp struct {
	name string
	kind Kind
}

// Classifier indexes an operator table by numeric id. Lookups during the
// operator walk are by id only; names survive for the per-op breakdown.
type Classifier struct {
	imageOps        map[int]imageOp
	transparencyIDs map[int]struct{}
}

// NewClassifier builds the id-keyed lookups. When several names share an id
// the first classified name wins; names are visited in sorted order so a
// rebuilt classifier always picks the same winner.
func NewClassifier(table engine.OperatorTable) *Classifier {
	c := &Classifier{
		imageOps:        make(map[int]imageOp),
		transparencyIDs: make(map[int]struct{}),
	}
	names := make([]string, 0, len(table))
	for name := range table {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		id := table[name]
		if kind, ok := classifyImageOp(name); ok {
			if _, seen := c.imageOps[id]; !seen {
				c.imageOps[id] = imageOp{name: name, kind: kind}
			}
		}
		if isTransparencyGroupOpName(name) {
			c.transparencyIDs[id] = struct{}{}
		}
	}
	return c
}

// Empty reports whether classification recognized no image paint operators.
// An empty classifier cannot bound anything and forces uncertainty.
func (c *Classifier) Empty() bool { return len(c.imageOps) == 0 }

func (c *Classifier) imageOpByID(id int) (imageOp, bool) {
	op, ok := c.imageOps[id]
	return op, ok
}

func (c *Classifier) isTransparencyGroupID(id int) bool {
	_, ok := c.transparencyIDs[id]
	return ok
}
