// Package preflight decides whether rasterizing a PDF page preview fits a
// caller byte budget, before any decode work runs. Stage A inspects raw
// bytes; Stage B inspects the parsed operator list and viewport through the
// engine contracts. Ambiguity never reads as safety: every uncertain input
// forces a skip.
package preflight

import (
	"math"
	"time"

	"github.com/wudi/pdfpreflight/bytescan"
	"github.com/wudi/pdfpreflight/oplist"
)

// Verdict is the preflight outcome.
type Verdict string

const (
	VerdictRender Verdict = "render"
	VerdictSkip   Verdict = "skip"
)

// Reason codes are stable: stored decisions, logs, and callers key on them.
const (
	ReasonStageAUncertain         = "stageA.uncertain"
	ReasonStageAMaxImageOver      = "stageA.maxImageOverBudget"
	ReasonStageAAllow             = "stageA.allow"
	ReasonStageBScanUncertain     = "stageB.scanUncertain"
	ReasonStageBOpListTimeout     = "stageB.operatorListTimeout"
	ReasonStageBOpListUncertain   = "stageB.operatorListUncertain"
	ReasonStageBViewportUncertain = "stageB.viewportUncertain"
	ReasonStageBEstimateInvalid   = "stageB.estimateInvalid"
	ReasonStageBOverBudget        = "stageB.compositeOverBudget"
	ReasonStageBAllow             = "stageB.allow"
)

// bytesPerPixel is the decoded RGBA cost assumed per pixel.
const bytesPerPixel = 4

// Multipliers scale the worst-case estimate when the matching feature is
// present on the page.
type Multipliers struct {
	TransparencyGroup float64 `json:"transparencyGroup"`
	SoftMask          float64 `json:"softMask"`
}

// DefaultMultipliers assume each feature forces one extra full-size
// composite pass.
var DefaultMultipliers = Multipliers{TransparencyGroup: 2, SoftMask: 2}

// DefaultTimeout bounds Stage B's operator list retrieval when the caller
// does not supply a timeout.
const DefaultTimeout = 2 * time.Second

// Config carries the caller-supplied inputs. The zero value is usable:
// normalization raises the budget to its minimum of one byte, discards an
// invalid ceiling, and falls back to the default timeout and multipliers.
type Config struct {
	// BudgetBytes caps the estimated worst-case decode cost.
	BudgetBytes int64
	// MaxDecodedImagePixels optionally caps how large any single image is
	// assumed to decode. Zero or negative disables the ceiling.
	MaxDecodedImagePixels int64
	// Timeout bounds Stage B's operator list retrieval.
	Timeout time.Duration
	// Multipliers scale the Stage B estimate for transparency and soft masks.
	Multipliers Multipliers
}

func (c Config) normalized() Config {
	if c.BudgetBytes < 1 {
		c.BudgetBytes = 1
	}
	if c.MaxDecodedImagePixels < 0 {
		c.MaxDecodedImagePixels = 0
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if !positiveFinite(c.Multipliers.TransparencyGroup) {
		c.Multipliers.TransparencyGroup = DefaultMultipliers.TransparencyGroup
	}
	if !positiveFinite(c.Multipliers.SoftMask) {
		c.Multipliers.SoftMask = DefaultMultipliers.SoftMask
	}
	return c
}

func positiveFinite(f float64) bool {
	return f > 0 && !math.IsInf(f, 0) && !math.IsNaN(f)
}

// Metrics is the diagnostic bag attached to every decision. PagePixels is
// present once the viewport step ran, zero when that step was uncertain.
type Metrics struct {
	BudgetBytes    int64            `json:"budgetBytes"`
	Scan           bytescan.Metrics `json:"scan"`
	Operators      *oplist.Metrics  `json:"operators,omitempty"`
	PagePixels     *int64           `json:"pagePixels,omitempty"`
	EstimatedBytes float64          `json:"estimatedBytes"`
}

// Decision is the outcome of one stage call: the verdict, the rule that
// fired, and the metrics that drove it.
type Decision struct {
	Decision Verdict `json:"decision"`
	Reason   string  `json:"reason"`
	Metrics  Metrics `json:"metrics"`
}

// Skip reports whether the decision declines rendering.
func (d Decision) Skip() bool { return d.Decision != VerdictRender }

func mulInt64(a, b int64) (int64, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	if a > math.MaxInt64/b {
		return 0, false
	}
	return a * b, true
}
