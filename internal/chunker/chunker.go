// Package chunker splits comment text into bounded, overlapping segments for
// embedding. Chunking is deterministic and lossless: every rune of the input
// is covered by at least one chunk, and consecutive chunks overlap by a fixed
// margin so feature mentions spanning a boundary are not lost.
package chunker

import (
	"strings"
	"unicode"
)

// Chunk is one bounded segment of a comment.
type Chunk struct {
	Index int
	// Start and End are rune offsets into the original text.
	Start int
	End   int
	Text  string
}

// Config controls chunk sizing. Lengths are in runes so CJK text is bounded
// by characters, not bytes.
type Config struct {
	// MaxChars is the maximum chunk length. Must be > 0.
	MaxChars int
	// OverlapChars is how far each chunk reaches back into the previous
	// one. Must be >= 0 and < MaxChars.
	OverlapChars int
	// BoundaryWindow bounds how far back from the hard cut the splitter
	// searches for a sentence or clause boundary. Zero disables the
	// search. Defaults to MaxChars/4 in New when negative.
	BoundaryWindow int
}

// Chunker splits text per a fixed Config.
type Chunker struct {
	cfg Config
}

// boundary runes, in preference order: sentence enders first, then clause
// separators. Covers both CJK and ASCII punctuation.
var (
	sentenceEnders = []rune{'。', '！', '？', '．', '.', '!', '?', '\n'}
	clauseEnders   = []rune{'；', ';', '，', ',', '、', '：', ':'}
)

// New constructs a Chunker, normalizing the config.
func New(cfg Config) *Chunker {
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = 300
	}
	if cfg.OverlapChars < 0 {
		cfg.OverlapChars = 0
	}
	if cfg.OverlapChars >= cfg.MaxChars {
		cfg.OverlapChars = cfg.MaxChars / 2
	}
	if cfg.BoundaryWindow < 0 {
		cfg.BoundaryWindow = cfg.MaxChars / 4
	}
	return &Chunker{cfg: cfg}
}

// Split chunks text. Whitespace-only input yields no chunks. The final chunk
// always ends at the end of the text, and each chunk after the first starts
// OverlapChars runes before the previous chunk's end (clamped to the start of
// the text), so concatenating chunks minus the overlap reconstructs the
// original rune sequence.
func (c *Chunker) Split(text string) []Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	runes := []rune(text)
	n := len(runes)

	var chunks []Chunk
	start := 0
	for {
		end := start + c.cfg.MaxChars
		if end >= n {
			end = n
		} else {
			end = c.cutPoint(runes, start, end)
		}
		chunks = append(chunks, Chunk{
			Index: len(chunks),
			Start: start,
			End:   end,
			Text:  string(runes[start:end]),
		})
		if end >= n {
			return chunks
		}
		next := end - c.cfg.OverlapChars
		if next <= start {
			// Overlap must never stall forward progress.
			next = start + 1
		}
		start = next
	}
}

// cutPoint returns the rune offset to cut at, preferring a sentence boundary,
// then a clause boundary, then a space, within BoundaryWindow runes back from
// the hard limit. The cut lands just after the boundary rune.
func (c *Chunker) cutPoint(runes []rune, start, hardEnd int) int {
	lowest := hardEnd - c.cfg.BoundaryWindow
	if lowest <= start {
		lowest = start + 1
	}
	if p := lastBoundary(runes, lowest, hardEnd, sentenceEnders); p > 0 {
		return p
	}
	if p := lastBoundary(runes, lowest, hardEnd, clauseEnders); p > 0 {
		return p
	}
	for i := hardEnd - 1; i >= lowest; i-- {
		if unicode.IsSpace(runes[i]) {
			return i + 1
		}
	}
	return hardEnd
}

// lastBoundary scans [low, high) backwards for any rune in set and returns
// the offset just past it, or 0 when none is found.
func lastBoundary(runes []rune, low, high int, set []rune) int {
	for i := high - 1; i >= low; i-- {
		for _, b := range set {
			if runes[i] == b {
				return i + 1
			}
		}
	}
	return 0
}

// Reconstruct rebuilds the original text from chunks by dropping each chunk's
// overlap with its predecessor. Used by tests to assert lossless coverage.
func Reconstruct(chunks []Chunk) string {
	var sb strings.Builder
	prevEnd := 0
	for _, ch := range chunks {
		runes := []rune(ch.Text)
		skip := prevEnd - ch.Start
		if skip < 0 {
			skip = 0
		}
		if skip > len(runes) {
			skip = len(runes)
		}
		sb.WriteString(string(runes[skip:]))
		prevEnd = ch.End
	}
	return sb.String()
}
