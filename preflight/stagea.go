package preflight

import "github.com/wudi/pdfpreflight/bytescan"

// StageA scans the raw, undecoded bytes and decides from the single largest
// declared image. Documents with many small images are deliberately not
// punished here; the composite cost is Stage B's concern.
func StageA(data []byte, cfg Config) Decision {
	cfg = cfg.normalized()
	scan := bytescan.Scan(data, cfg.BudgetBytes)
	return stageADecision(scan, cfg)
}

func stageADecision(scan bytescan.Metrics, cfg Config) Decision {
	m := Metrics{BudgetBytes: cfg.BudgetBytes, Scan: scan}
	if scan.Uncertain {
		return Decision{Decision: VerdictSkip, Reason: ReasonStageAUncertain, Metrics: m}
	}
	effective := scan.MaxImagePixels
	if cfg.MaxDecodedImagePixels > 0 && effective > cfg.MaxDecodedImagePixels {
		effective = cfg.MaxDecodedImagePixels
	}
	est, ok := mulInt64(effective, bytesPerPixel)
	if !ok {
		// The exact product exceeds int64; any real budget is smaller.
		m.EstimatedBytes = float64(effective) * bytesPerPixel
		return Decision{Decision: VerdictSkip, Reason: ReasonStageAMaxImageOver, Metrics: m}
	}
	m.EstimatedBytes = float64(est)
	if est > cfg.BudgetBytes {
		return Decision{Decision: VerdictSkip, Reason: ReasonStageAMaxImageOver, Metrics: m}
	}
	return Decision{Decision: VerdictRender, Reason: ReasonStageAAllow, Metrics: m}
}
