// Package bytescan walks undecoded PDF bytes to bound the decode cost of the
// images a page could paint. It never resolves indirect references and never
// decodes stream data; what it cannot bound directly it reports as uncertain
// or leaves for the operator list analysis.
package bytescan

// bytesPerPixel is the decoded RGBA cost assumed per image pixel.
const bytesPerPixel = 4

// Metrics is the outcome of one raw scan, immutable once returned. The flag
// fields are global to the scanned buffer. Uncertain is set only when pixel
// arithmetic overflows; everything else that cannot be parsed simply does not
// contribute.
type Metrics struct {
	SumImagePixels       int64 `json:"sumImagePixels"`
	MaxImagePixels       int64 `json:"maxImagePixels"`
	ImageDictHits        int   `json:"imageDictHits"`
	ParsedDimsHits       int   `json:"parsedDimsHits"`
	HasSoftMask          bool  `json:"hasSoftMask"`
	HasTransparencyGroup bool  `json:"hasTransparencyGroup"`
	Uncertain            bool  `json:"uncertain"`
}

// Scan makes a single left-to-right pass over data, locating /Subtype /Image
// dictionaries and parsing their /Width and /Height when directly encoded.
// budgetHint, when positive, allows the scan to stop as soon as the largest
// image alone already exceeds it; pass 0 to scan the whole buffer.
func Scan(data []byte, budgetHint int64) Metrics {
	var m Metrics
	for i := 0; i < len(data); i++ {
		if !m.HasSoftMask && matchesASCII(data, i, "/SMask") {
			m.HasSoftMask = true
		}
		if !m.HasTransparencyGroup && matchesASCII(data, i, "/S") {
			j := skipWhitespace(data, i+2, len(data))
			if matchesASCII(data, j, "/Transparency") {
				m.HasTransparencyGroup = true
			}
		}
		if !matchesASCII(data, i, "/Subtype") {
			continue
		}
		j := skipWhitespace(data, i+len("/Subtype"), len(data))
		if !matchesASCII(data, j, "/Image") {
			continue
		}
		// A dictionary without a discoverable start cannot be analyzed.
		dictStart := findLastSequence(data, '<', '<', i, i-maxDictLookbackBytes)
		if dictStart < 0 {
			continue
		}
		m.ImageDictHits++
		dictEnd := i + maxDictLookaheadBytes
		if e := findNextSequence(data, '>', '>', i, dictEnd); e >= 0 {
			dictEnd = e
		}
		if dictEnd > len(data) {
			dictEnd = len(data)
		}
		width, okW := parseDictDim(data, dictStart, dictEnd, "/Width")
		height, okH := parseDictDim(data, dictStart, dictEnd, "/Height")
		if !okW || !okH {
			// Indirect or missing dims; the operator list analysis is the fallback.
			continue
		}
		m.ParsedDimsHits++
		pixels, ok := mulPixels(width, height)
		if !ok {
			m.Uncertain = true
			return m
		}
		sum, ok := addPixels(m.SumImagePixels, pixels)
		if !ok {
			m.Uncertain = true
			return m
		}
		m.SumImagePixels = sum
		if pixels > m.MaxImagePixels {
			m.MaxImagePixels = pixels
		}
		if budgetHint > 0 {
			// No further image can lower the verdict once the largest one
			// alone decodes past the budget.
			if est, ok := mulPixels(m.MaxImagePixels, bytesPerPixel); !ok || est > budgetHint {
				break
			}
		}
	}
	return m
}

func parseDictDim(b []byte, lo, hi int, token string) (int64, bool) {
	at := findToken(b, token, lo, hi)
	if at < 0 {
		return 0, false
	}
	return parseDirectPositiveInteger(b, at+len(token), hi)
}
