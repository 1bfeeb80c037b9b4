package ingest

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/kailas-cloud/askdex/internal/domain"
)

const (
	// DefaultChunkSize is the chunk length in units.
	DefaultChunkSize = 500
	// DefaultChunkOverlap is the number of units shared by adjacent chunks.
	DefaultChunkOverlap = 50
)

// Chunker splits text into overlapping windows of units. A unit is a
// whitespace-separated word of at most domain.MaxWordRunes runes, a piece of
// a longer run, or a single wide (CJK) rune, so a chunk never exceeds
// Size*MaxWordRunes runes.
//
// A window ends at a paragraph break if one falls in its last tenth, else at
// a sentence end, else at a clause break, else exactly at Size units.
type Chunker struct {
	Size    int
	Overlap int
}

// NewChunker applies defaults: size <= 0 uses 500, overlap is clamped to
// [0, size).
func NewChunker(size, overlap int) Chunker {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size - 1
	}
	return Chunker{Size: size, Overlap: overlap}
}

type span struct{ start, end int }

// Split chunks the already normalized text of one source.
func (c Chunker) Split(sourceID, text string) []domain.Chunk {
	units := unitSpans(text)
	if len(units) == 0 {
		return nil
	}

	var chunks []domain.Chunk
	start := 0
	for {
		end := c.cut(text, units, start)
		s, e := units[start].start, units[end-1].end
		chunks = append(chunks, domain.Chunk{
			ID:       domain.ChunkID(sourceID, len(chunks)),
			SourceID: sourceID,
			Index:    len(chunks),
			Text:     text[s:e],
			Start:    s,
			End:      e,
		})
		if end >= len(units) {
			return chunks
		}
		next := end - c.Overlap
		if next <= start {
			next = start + 1
		}
		start = next
	}
}

// cut returns the exclusive unit index where the window starting at start ends.
func (c Chunker) cut(text string, units []span, start int) int {
	maxEnd := start + c.Size
	if maxEnd >= len(units) {
		return len(units)
	}
	minEnd := maxEnd - c.Size/10
	if minEnd <= start {
		minEnd = start + 1
	}

	for end := maxEnd; end >= minEnd; end-- {
		gap := text[units[end-1].end:units[end].start]
		if strings.Count(gap, "\n") >= 2 {
			return end
		}
	}
	for _, ends := range []func(string) bool{endsSentence, endsClause} {
		for end := maxEnd; end >= minEnd; end-- {
			if ends(text[units[end-1].start:units[end-1].end]) {
				return end
			}
		}
	}
	return maxEnd
}

// unitSpans returns the byte ranges of the chunking units of text.
func unitSpans(text string) []span {
	var out []span
	runStart, runLen := -1, 0
	flush := func(end int) {
		if runStart >= 0 {
			out = append(out, span{runStart, end})
			runStart, runLen = -1, 0
		}
	}
	for i, r := range text {
		switch {
		case unicode.IsSpace(r):
			flush(i)
		case domain.IsWideRune(r):
			flush(i)
			out = append(out, span{i, i + utf8.RuneLen(r)})
		default:
			if runLen == domain.MaxWordRunes {
				flush(i)
			}
			if runStart < 0 {
				runStart = i
			}
			runLen++
		}
	}
	flush(len(text))
	return out
}

// endsSentence reports whether unit closes a sentence, ignoring trailing
// quotes and brackets.
func endsSentence(unit string) bool {
	switch lastRune(unit) {
	case '.', '!', '?', '\u2026', '\u3002', '\uff0e', '\uff01', '\uff1f':
		return true
	}
	return false
}

// endsClause reports whether unit closes a clause.
func endsClause(unit string) bool {
	switch lastRune(unit) {
	case ',', ';', ':', '\uff0c', '\u3001', '\uff1b', '\uff1a':
		return true
	}
	return false
}

func lastRune(unit string) rune {
	unit = strings.TrimRight(unit, "\"')]}\u00bb\u201d\u2019\u300d\u300f\uff09")
	if unit == "" {
		return utf8.RuneError
	}
	r, _ := utf8.DecodeLastRuneInString(unit)
	return r
}
