package bytescan

import "math"

const (
	// maxDictLookbackBytes bounds the backward search for the '<<' that opens
	// a dictionary around a matched token. Without a start marker inside this
	// window the candidate is abandoned.
	maxDictLookbackBytes = 4096
	// maxDictLookaheadBytes bounds the forward search for the closing '>>'.
	// When the marker is not found the window edge serves as the dictionary
	// end rather than scanning without bound.
	maxDictLookaheadBytes = 16384
)

// matchesASCII reports whether token matches exactly at offset i, bounds-checked.
func matchesASCII(b []byte, i int, token string) bool {
	if i < 0 || i+len(token) > len(b) {
		return false
	}
	for k := 0; k < len(token); k++ {
		if b[i+k] != token[k] {
			return false
		}
	}
	return true
}

// whitespace per PDF spec (space 0x20, tab, CR, LF, FF, null 0x00)
func isWhitespace(c byte) bool {
	return c == 0x00 || c == 0x09 || c == 0x0A || c == 0x0C || c == 0x0D || c == 0x20
}

func isDelimiter(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	default:
		return false
	}
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

// skipWhitespace advances i past whitespace, capped at end.
func skipWhitespace(b []byte, i, end int) int {
	for i < end && isWhitespace(b[i]) {
		i++
	}
	return i
}

// parseDirectPositiveInteger parses an unsigned decimal integer at i, after
// skipping whitespace, reading no further than end. ok is false when no digit
// is found, the value exceeds the int64 range, the digits terminate on a byte
// that is neither whitespace nor delimiter, the value is part of an indirect
// reference, or the value is not positive. Indirect references (`obj gen R`)
// are never resolved here: a dimension encoded as a reference reads as absent
// rather than as a guess.
func parseDirectPositiveInteger(b []byte, i, end int) (int64, bool) {
	if end > len(b) {
		end = len(b)
	}
	j := skipWhitespace(b, i, end)
	start := j
	var v int64
	for j < end && isDigit(b[j]) {
		d := int64(b[j] - '0')
		if v > (math.MaxInt64-d)/10 {
			return 0, false
		}
		v = v*10 + d
		j++
	}
	if j == start {
		return 0, false
	}
	if j < end && !isWhitespace(b[j]) && !isDelimiter(b[j]) {
		return 0, false
	}
	// A second integer followed by 'R' makes the first a reference, not a value.
	k := skipWhitespace(b, j, end)
	if k < end && isDigit(b[k]) {
		for k < end && isDigit(b[k]) {
			k++
		}
		k = skipWhitespace(b, k, end)
		if k < end && b[k] == 'R' {
			return 0, false
		}
	}
	if v <= 0 {
		return 0, false
	}
	return v, true
}

// findLastSequence scans backward from i for the two-byte marker c0 c1,
// stopping at lo. Returns the match offset or -1.
func findLastSequence(b []byte, c0, c1 byte, i, lo int) int {
	if lo < 0 {
		lo = 0
	}
	if i > len(b)-2 {
		i = len(b) - 2
	}
	for ; i >= lo; i-- {
		if b[i] == c0 && b[i+1] == c1 {
			return i
		}
	}
	return -1
}

// findNextSequence scans forward from i for the two-byte marker c0 c1 within
// [i, hi). Returns the match offset or -1.
func findNextSequence(b []byte, c0, c1 byte, i, hi int) int {
	if i < 0 {
		i = 0
	}
	if hi > len(b)-1 {
		hi = len(b) - 1
	}
	for ; i < hi; i++ {
		if b[i] == c0 && b[i+1] == c1 {
			return i
		}
	}
	return -1
}

// findToken scans forward for an ASCII token within [i, hi). Returns the match
// offset or -1.
func findToken(b []byte, token string, i, hi int) int {
	if i < 0 {
		i = 0
	}
	if hi > len(b) {
		hi = len(b)
	}
	for ; i < hi; i++ {
		if matchesASCII(b, i, token) {
			return i
		}
	}
	return -1
}

// addPixels and mulPixels run checked arithmetic over non-negative counts;
// ok=false reports int64 overflow rather than wrapping.
func addPixels(a, b int64) (int64, bool) {
	if a > math.MaxInt64-b {
		return 0, false
	}
	return a + b, true
}

func mulPixels(a, b int64) (int64, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	if a > math.MaxInt64/b {
		return 0, false
	}
	return a * b, true
}
