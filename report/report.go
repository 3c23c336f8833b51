// Package report renders preflight decisions as markdown and HTML
// documents for operators reviewing why a page was or was not rendered.
package report

import (
	"bytes"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/wudi/pdfpreflight/preflight"
	"github.com/wudi/pdfpreflight/store"
)

// Summary is the input to the formatters: one decision plus the identity
// of the page it was made for. ID and GeneratedAt are optional and only
// set for decisions that came out of the store.
type Summary struct {
	ID          string
	DocHash     string
	Page        int
	Decision    preflight.Decision
	GeneratedAt time.Time
}

// FromRecord builds a Summary from a stored decision.
func FromRecord(rec store.Record) Summary {
	return Summary{
		ID:          rec.ID.String(),
		DocHash:     rec.Key.DocHash,
		Page:        rec.Key.Page,
		Decision:    rec.Decision,
		GeneratedAt: rec.UpdatedAt,
	}
}

// Markdown formats the summary as a markdown document. Budget and estimate
// come from the decision metrics, so the report shows the numbers the
// verdict was computed from.
func Markdown(s Summary) string {
	var b strings.Builder
	d := s.Decision
	m := d.Metrics

	b.WriteString("# Preflight Report\n\n")
	fmt.Fprintf(&b, "**Verdict: %s** (`%s`)\n\n", d.Decision, d.Reason)

	if s.ID != "" {
		fmt.Fprintf(&b, "- Decision id: `%s`\n", s.ID)
	}
	if s.DocHash != "" {
		fmt.Fprintf(&b, "- Document: `%s`\n", s.DocHash)
	}
	fmt.Fprintf(&b, "- Page: %d\n", s.Page)
	fmt.Fprintf(&b, "- Budget: %s (%d bytes)\n", humanize.IBytes(uint64(m.BudgetBytes)), m.BudgetBytes)
	fmt.Fprintf(&b, "- Estimated decode cost: %s\n", formatEstimate(m.EstimatedBytes))
	if !s.GeneratedAt.IsZero() {
		fmt.Fprintf(&b, "- Generated: %s\n", s.GeneratedAt.UTC().Format(time.RFC3339))
	}

	b.WriteString("\n## Raw byte scan\n\n")
	b.WriteString("| Metric | Value |\n| --- | --- |\n")
	fmt.Fprintf(&b, "| Image dictionaries | %d |\n", m.Scan.ImageDictHits)
	fmt.Fprintf(&b, "| Dimensions parsed | %d |\n", m.Scan.ParsedDimsHits)
	fmt.Fprintf(&b, "| Largest image | %s px |\n", humanize.Comma(m.Scan.MaxImagePixels))
	fmt.Fprintf(&b, "| Total image pixels | %s px |\n", humanize.Comma(m.Scan.SumImagePixels))
	fmt.Fprintf(&b, "| Soft mask | %s |\n", yesNo(m.Scan.HasSoftMask))
	fmt.Fprintf(&b, "| Transparency group | %s |\n", yesNo(m.Scan.HasTransparencyGroup))
	fmt.Fprintf(&b, "| Uncertain | %s |\n", yesNo(m.Scan.Uncertain))

	if ops := m.Operators; ops != nil {
		b.WriteString("\n## Operator analysis\n\n")
		fmt.Fprintf(&b, "- Paint operators: %d (%d XObject, %d inline, %d mask)\n",
			ops.PaintOps, ops.XObjectPaintOps, ops.InlinePaintOps, ops.MaskPaintOps)
		fmt.Fprintf(&b, "- Transparency group pushes: %d\n", ops.TransparencyGroupOps)
		fmt.Fprintf(&b, "- Largest inline image: %s px\n", humanize.Comma(ops.MaxInlineImagePixels))
		fmt.Fprintf(&b, "- Operator list length: %d\n", ops.OperatorListLength)
		fmt.Fprintf(&b, "- Timed out: %s\n", yesNo(ops.TimedOut))
		fmt.Fprintf(&b, "- Uncertain: %s\n", yesNo(ops.Uncertain))
		if len(ops.UniqueXObjectIDs) > 0 {
			fmt.Fprintf(&b, "- Distinct image XObjects: %s\n", strings.Join(ops.UniqueXObjectIDs, ", "))
		}
		if len(ops.OpBreakdown) > 0 {
			b.WriteString("\n| Operator | Count |\n| --- | --- |\n")
			names := make([]string, 0, len(ops.OpBreakdown))
			for name := range ops.OpBreakdown {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Fprintf(&b, "| %s | %d |\n", name, ops.OpBreakdown[name])
			}
		}
	}

	if m.PagePixels != nil {
		b.WriteString("\n## Page\n\n")
		fmt.Fprintf(&b, "- Viewport pixels at scale 1: %s\n", humanize.Comma(*m.PagePixels))
	}

	return b.String()
}

// HTML converts the markdown report to an HTML fragment.
func HTML(s Summary) (string, error) {
	md := goldmark.New(
		goldmark.WithExtensions(
			extension.Table,
		),
	)

	var buf bytes.Buffer
	if err := md.Convert([]byte(Markdown(s)), &buf); err != nil {
		return "", fmt.Errorf("render report html: %w", err)
	}
	return buf.String(), nil
}

// formatEstimate renders the estimate with a readable magnitude. The
// sentinel MaxFloat64 marks an estimate that overflowed during Stage B.
func formatEstimate(est float64) string {
	switch {
	case est >= math.MaxFloat64:
		return "not computable"
	case est > math.MaxInt64:
		return fmt.Sprintf("%.3g bytes", est)
	default:
		return fmt.Sprintf("%s (%.0f bytes)", humanize.IBytes(uint64(est)), est)
	}
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
