package indexer

import (
	"strings"
	"unicode"
)

// Preprocess normalizes profile text before it is embedded and tokenized.
// Invalid UTF-8 and control or format characters are dropped and runs of
// whitespace collapse to one space, so cosmetic edits from the directory do
// not change the stored text or invalidate its embedding.
func Preprocess(text string) string {
	text = strings.ToValidUTF8(text, "")
	text = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return ' '
		}
		if unicode.IsControl(r) || unicode.Is(unicode.Cf, r) {
			return -1
		}
		return r
	}, text)
	return strings.Join(strings.Fields(text), " ")
}
