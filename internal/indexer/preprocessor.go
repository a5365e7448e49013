package indexer

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	// [inaudible], (crosstalk), [music 00:12] and similar transcriber annotations.
	annotationRe = regexp.MustCompile(`[\[(](?i:inaudible|crosstalk|silence|music|laughter|noise|beep)[^\])]*[\])]`)
	fillerWords  = map[string]struct{}{"um": {}, "uh": {}, "erm": {}, "hmm": {}, "mm": {}, "uhm": {}}
)

// Preprocess normalizes a transcript before it is stored in the indexes: control characters
// are dropped and whitespace collapsed.
func Preprocess(text string) string {
	text = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && !unicode.IsSpace(r) {
			return -1
		}
		return r
	}, text)
	return strings.Join(strings.Fields(text), " ")
}

// EmbeddingText strips transcriber annotations and filler words from a preprocessed
// transcript. Only the embedder sees the result; the stored text keeps them. If nothing is
// left the input is returned unchanged.
func EmbeddingText(text string) string {
	stripped := annotationRe.ReplaceAllString(text, " ")
	words := strings.Fields(stripped)
	kept := words[:0]
	for _, w := range words {
		key := strings.ToLower(strings.Trim(w, ",.!?;:"))
		if _, ok := fillerWords[key]; ok {
			continue
		}
		kept = append(kept, w)
	}
	if len(kept) == 0 {
		return text
	}
	return strings.Join(kept, " ")
}
