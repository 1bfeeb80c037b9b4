package domain

import (
	"math"
	"unicode"
)

// MaxWordRunes is the longest run of letters counted as one word. Longer
// runs (URLs, base64, text without spaces) count as one word per piece.
const MaxWordRunes = 16

// IsWideRune reports whether r belongs to a script written without spaces
// between words, or is full-width punctuation. Each such rune is its own
// unit for chunking and roughly one token.
func IsWideRune(r rune) bool {
	switch {
	case r >= 0x3000 && r <= 0x303f, // CJK symbols and punctuation
		r >= 0xff00 && r <= 0xffef: // half-width and full-width forms
		return true
	}
	return unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana)
}

// EstimateTokens approximates the token count: 1.3 tokens per word, a word
// being at most MaxWordRunes runes, plus one token per wide rune.
func EstimateTokens(text string) int {
	words, wide, run := 0, 0, 0
	flush := func() {
		if run > 0 {
			words += (run + MaxWordRunes - 1) / MaxWordRunes
			run = 0
		}
	}
	for _, r := range text {
		switch {
		case unicode.IsSpace(r):
			flush()
		case IsWideRune(r):
			flush()
			wide++
		default:
			run++
		}
	}
	flush()
	if words == 0 && wide == 0 {
		return 0
	}
	return int(math.Ceil(float64(words)*1.3)) + wide
}
