package text

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// sentencePattern matches a sentence together with its terminal punctuation
// (Latin and CJK full-width forms) and any trailing whitespace.
const sentencePattern = `[^.!?。！？；;…]*(?:[.!?。！？；;…]+|$)\s*`

var sentenceRegex = regexp.MustCompile(sentencePattern)

// Chunk splits text into pieces of at most maxChunkSize characters (runes),
// preferring sentence boundaries and falling back to word boundaries. A single
// word longer than the limit becomes its own oversized chunk rather than being
// cut. A non-positive limit returns the trimmed text as one chunk.
func Chunk(input string, maxChunkSize int) []string {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return nil
	}

	if maxChunkSize <= 0 || runeLen(trimmed) <= maxChunkSize {
		return []string{trimmed}
	}

	builder := chunkBuilder{limit: maxChunkSize}

	for _, sentence := range splitSentences(trimmed) {
		builder.addSentence(sentence)
	}

	return builder.finish()
}

type chunkBuilder struct {
	limit   int
	current string
	chunks  []string
}

func (b *chunkBuilder) addSentence(sentence string) {
	candidate := b.current + sentence
	if runeLen(strings.TrimSpace(candidate)) <= b.limit {
		b.current = candidate

		return
	}

	b.flush()

	if runeLen(strings.TrimSpace(sentence)) <= b.limit {
		b.current = sentence

		return
	}

	b.addWords(sentence)
}

// addWords accumulates an oversized sentence word by word.
func (b *chunkBuilder) addWords(sentence string) {
	for _, word := range strings.Fields(sentence) {
		if b.current == "" {
			b.current = word

			continue
		}

		candidate := b.current + " " + word
		if runeLen(candidate) <= b.limit {
			b.current = candidate

			continue
		}

		b.flush()
		b.current = word
	}

	// Leave a trailing separator so a following sentence does not glue onto the
	// last word.
	if b.current != "" {
		b.current += " "
	}
}

func (b *chunkBuilder) flush() {
	chunk := strings.TrimSpace(b.current)
	if chunk != "" {
		b.chunks = append(b.chunks, chunk)
	}

	b.current = ""
}

func (b *chunkBuilder) finish() []string {
	b.flush()

	return b.chunks
}

func splitSentences(input string) []string {
	matches := sentenceRegex.FindAllString(input, -1)
	sentences := make([]string, 0, len(matches))

	for _, match := range matches {
		if match != "" {
			sentences = append(sentences, match)
		}
	}

	return sentences
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
