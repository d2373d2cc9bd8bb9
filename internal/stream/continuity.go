package stream

import "strings"

const (
	// continuationMinPrev is the shortest previous snapshot worth matching
	// inside the new one; anything shorter is too ambiguous.
	continuationMinPrev = 16
	// continuationDriftBytes bounds how far into the new snapshot the old one
	// may have drifted (leading reformatting, stripped prefixes).
	continuationDriftBytes = 32
	// continuationMinRatio guards against a tiny old snapshot matching by
	// accident inside a much larger unrelated reply.
	continuationMinRatio = 0.3
)

// IsContinuation reports whether next extends (or truncates) prev rather than
// replacing it with an unrelated reply. A false result means the producer
// restarted its answer and the delivered messages must be frozen as-is.
func IsContinuation(prev, next string) bool {
	if prev == "" {
		return true
	}
	if strings.HasPrefix(next, prev) || strings.HasPrefix(prev, next) {
		return true
	}
	if len(prev) < continuationMinPrev {
		return false
	}
	if float64(len(prev)) <= continuationMinRatio*float64(len(next)) {
		return false
	}
	window := next
	if max := continuationDriftBytes + len(prev); len(window) > max {
		window = window[:max]
	}
	return strings.Contains(window, prev)
}
