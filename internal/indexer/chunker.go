package indexer

import "strings"

// Chunker splits long transcripts into windows of whole sentences, each at most maxWords
// words, carrying the last overlapWords words of one window into the next.
type Chunker struct {
	maxWords     int
	overlapWords int
}

// NewChunker creates a chunker. A non-positive maxWords disables chunking.
func NewChunker(maxWords, overlapWords int) *Chunker {
	if overlapWords < 0 || overlapWords >= maxWords {
		overlapWords = 0
	}
	return &Chunker{maxWords: maxWords, overlapWords: overlapWords}
}

// Chunk returns the windows of text. Text that fits in one window is returned as a single
// chunk with its whitespace collapsed. A sentence longer than maxWords is cut into word windows.
func (c *Chunker) Chunk(text string) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	if c.maxWords <= 0 || len(words) <= c.maxWords {
		return []string{strings.Join(words, " ")}
	}

	var chunks []string
	var cur []string
	for _, s := range c.pieces(words) {
		if len(cur)+len(s) <= c.maxWords {
			cur = append(cur, s...)
			continue
		}
		if len(cur) > 0 {
			chunks = append(chunks, strings.Join(cur, " "))
		}
		next := make([]string, 0, c.maxWords)
		if tail := c.tail(cur); len(tail)+len(s) <= c.maxWords {
			next = append(next, tail...)
		}
		cur = append(next, s...)
	}
	if len(cur) > 0 {
		chunks = append(chunks, strings.Join(cur, " "))
	}
	return chunks
}

// pieces splits words into sentences, then cuts any sentence longer than maxWords.
func (c *Chunker) pieces(words []string) [][]string {
	var out [][]string
	for _, s := range splitSentences(words) {
		if len(s) <= c.maxWords {
			out = append(out, s)
			continue
		}
		step := c.maxWords - c.overlapWords
		for i := 0; i < len(s); i += step {
			end := i + c.maxWords
			if end > len(s) {
				end = len(s)
			}
			out = append(out, s[i:end])
			if end == len(s) {
				break
			}
		}
	}
	return out
}

func (c *Chunker) tail(words []string) []string {
	if c.overlapWords == 0 || len(words) == 0 {
		return nil
	}
	if len(words) <= c.overlapWords {
		return words
	}
	return words[len(words)-c.overlapWords:]
}

func splitSentences(words []string) [][]string {
	var out [][]string
	start := 0
	for i, w := range words {
		if strings.HasSuffix(w, ".") || strings.HasSuffix(w, "?") || strings.HasSuffix(w, "!") {
			out = append(out, words[start:i+1])
			start = i + 1
		}
	}
	if start < len(words) {
		out = append(out, words[start:])
	}
	return out
}
