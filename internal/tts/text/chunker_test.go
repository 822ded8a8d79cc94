package text_test

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/book-expert/voice-service/internal/tts/text"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunk_EmptyAndShort(t *testing.T) {
	t.Parallel()

	assert.Empty(t, text.Chunk("", 10))
	assert.Empty(t, text.Chunk("   ", 10))
	assert.Equal(t, []string{"Short text."}, text.Chunk("  Short text.  ", 100))
	assert.Equal(t, []string{"No limit applies."}, text.Chunk("No limit applies.", 0))
}

func TestChunk_SentenceAccumulation(t *testing.T) {
	t.Parallel()

	chunks := text.Chunk("One. Two. Three.", 10)

	assert.Equal(t, []string{"One. Two.", "Three."}, chunks)
}

func TestChunk_CJKSentences(t *testing.T) {
	t.Parallel()

	chunks := text.Chunk("你好。世界。", 3)

	assert.Equal(t, []string{"你好。", "世界。"}, chunks)
}

func TestChunk_WordFallbackKeepsOversizedWordWhole(t *testing.T) {
	t.Parallel()

	chunks := text.Chunk("a supercalifragilistic b", 5)

	assert.Equal(t, []string{"a", "supercalifragilistic", "b"}, chunks)
}

func TestChunk_NeverExceedsLimitExceptSingleWords(t *testing.T) {
	t.Parallel()

	input := strings.Repeat(
		"The quick brown fox jumps over the lazy dog. Pack my box with five dozen liquor jugs! "+
			"Sphinx of black quartz, judge my vow? An extraordinarilylongwordthatcannotbesplit appears. ",
		6,
	)

	for _, limit := range []int{8, 15, 40, 120} {
		chunks := text.Chunk(input, limit)
		require.NotEmpty(t, chunks)

		for _, chunk := range chunks {
			if utf8.RuneCountInString(chunk) > limit {
				assert.NotContains(t, chunk, " ", "oversized chunk %q must be a single word", chunk)
			}
		}

		assert.Equal(t, strings.Fields(input), strings.Fields(strings.Join(chunks, " ")))
	}
}
