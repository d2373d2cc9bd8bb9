package stream

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// ChunkMode selects how Split picks cut points inside the size window.
type ChunkMode string

const (
	// ChunkModeLength cuts at the last whitespace before the limit.
	ChunkModeLength ChunkMode = "length"
	// ChunkModeNewline prefers paragraph breaks over plain whitespace.
	ChunkModeNewline ChunkMode = "newline"
)

// paragraphBreakRe matches a blank-line boundary: two or more newlines,
// optionally separated and followed by horizontal whitespace.
var paragraphBreakRe = regexp.MustCompile(`\n(?:[ \t]*\n)+[ \t]*`)

// Split cuts text into ordered chunks of at most limit bytes, preferring
// natural boundaries. minFirst is the minimum cut offset for the first chunk
// only; later cuts start from zero. Concatenating the returned chunks yields
// the input exactly, except that whitespace-only chunks are merged into a
// neighbor when the combined length stays within the limit and dropped when
// nothing can absorb them.
func Split(text string, minFirst, limit int, mode ChunkMode) []string {
	if text == "" {
		return nil
	}
	if limit <= 0 || len(text) <= limit {
		return []string{text}
	}

	var chunks []string
	remaining := text
	minOffset := minFirst
	for len(remaining) > limit {
		cut := cutPoint(remaining[:limit], minOffset, mode)
		// A hard cut can land mid-rune. Back off to the previous rune start so
		// no chunk ships invalid UTF-8; boundary cuts are already rune-aligned.
		for cut > 1 && cut > minOffset && !utf8.RuneStart(remaining[cut]) {
			cut--
		}
		chunks = append(chunks, remaining[:cut])
		remaining = remaining[cut:]
		minOffset = 0
	}
	if remaining != "" {
		chunks = append(chunks, remaining)
	}
	return mergeWhitespaceChunks(chunks, limit)
}

// cutPoint returns a cut offset in (0, len(window)]. The offset never lands
// below minOffset; when no boundary qualifies the window is cut hard at its
// end, which is the size limit.
func cutPoint(window string, minOffset int, mode ChunkMode) int {
	if minOffset < 0 {
		minOffset = 0
	}
	if minOffset >= len(window) {
		return len(window)
	}

	if mode == ChunkModeNewline {
		if at := lastParagraphBreak(window, minOffset); at > 0 {
			return at
		}
	}
	if at := lastWhitespace(window, minOffset); at > 0 {
		return at
	}
	return len(window)
}

// lastParagraphBreak returns the end offset of the last blank-line boundary
// starting at or after minOffset, or -1 when there is none. Cutting at the
// end of the run keeps the break whitespace attached to the finished chunk so
// the next chunk starts on content.
func lastParagraphBreak(window string, minOffset int) int {
	matches := paragraphBreakRe.FindAllStringIndex(window, -1)
	for i := len(matches) - 1; i >= 0; i-- {
		if matches[i][0] >= minOffset {
			return matches[i][1]
		}
	}
	return -1
}

// lastWhitespace returns the offset just past the last whitespace byte at or
// after minOffset, or -1 when the tail of the window is a single unbroken
// word.
func lastWhitespace(window string, minOffset int) int {
	for i := len(window) - 1; i >= minOffset; i-- {
		switch window[i] {
		case ' ', '\t', '\n', '\r':
			return i + 1
		}
	}
	return -1
}

// mergeWhitespaceChunks absorbs whitespace-only chunks into the previous
// chunk when the result still fits, else into the following chunk, else
// drops them. Non-whitespace chunks pass through verbatim and in order.
func mergeWhitespaceChunks(chunks []string, limit int) []string {
	out := make([]string, 0, len(chunks))
	for i := 0; i < len(chunks); i++ {
		c := chunks[i]
		if strings.TrimSpace(c) != "" {
			out = append(out, c)
			continue
		}
		if n := len(out); n > 0 && len(out[n-1])+len(c) <= limit {
			out[n-1] += c
			continue
		}
		if i+1 < len(chunks) && len(c)+len(chunks[i+1]) <= limit {
			chunks[i+1] = c + chunks[i+1]
			continue
		}
	}
	return out
}
