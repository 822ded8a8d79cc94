package text

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// Regex patterns for text cleanup.
const (
	urlRegexPattern        = `https?://\S+`
	emailRegexPattern      = `[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`
	referenceRegexPattern  = `\[\d+\]|[¹²³⁴⁵⁶⁷⁸⁹⁰]+`
	whitespaceRegexPattern = `[ \t\r\n\f\v]+`
)

// Patterns for preserving URLs and emails.
const (
	urlPlaceholderPattern   = `__URL_PLACEHOLDER_%d__`
	emailPlaceholderPattern = `__EMAIL_PLACEHOLDER_%d__`
)

// Punctuation and formatting constants.
const (
	emDash       = "—"
	enDash       = "–"
	figureDash   = "‒"
	ellipsis     = "..."
	ellipsisChar = "…"
)

// Cleaner normalizes raw input before segmentation. It never translates or
// expands words, so it is safe for every script family.
type Cleaner struct {
	urlPattern        *regexp.Regexp
	emailPattern      *regexp.Regexp
	referencePattern  *regexp.Regexp
	whitespacePattern *regexp.Regexp
	quoteReplacer     *strings.Replacer
}

// NewCleaner creates a cleaner with precompiled patterns.
func NewCleaner() *Cleaner {
	return &Cleaner{
		urlPattern:        regexp.MustCompile(urlRegexPattern),
		emailPattern:      regexp.MustCompile(emailRegexPattern),
		referencePattern:  regexp.MustCompile(referenceRegexPattern),
		whitespacePattern: regexp.MustCompile(whitespaceRegexPattern),
		quoteReplacer: strings.NewReplacer(
			emDash, "-",
			enDash, "-",
			figureDash, "-",
			ellipsisChar, ellipsis,
			"“", `"`, "”", `"`,
			"‘", "'", "’", "'",
		),
	}
}

// Clean collapses whitespace, normalizes dashes and quotes, drops citation
// markers and squeezes repeated punctuation. URLs and emails pass through
// untouched.
func (c *Cleaner) Clean(input string) string {
	if input == "" {
		return input
	}

	preserved, placeholders := c.preserveTokens(input)

	cleaned := c.referencePattern.ReplaceAllString(preserved, "")
	cleaned = c.quoteReplacer.Replace(cleaned)
	cleaned = removeExcessivePunctuation(cleaned)
	cleaned = c.whitespacePattern.ReplaceAllString(cleaned, " ")
	cleaned = strings.TrimSpace(cleaned)

	return restoreTokens(cleaned, placeholders)
}

// preserveTokens temporarily replaces URLs and emails with placeholders.
func (c *Cleaner) preserveTokens(
	input string,
) (processedText string, placeholders map[string]string) {
	placeholders = make(map[string]string)
	counter := 0
	processedText = input

	replaceFunc := func(pattern *regexp.Regexp, placeholderFormat string) {
		processedText = pattern.ReplaceAllStringFunc(
			processedText,
			func(match string) string {
				placeholder := fmt.Sprintf(placeholderFormat, counter)

				placeholders[placeholder] = match
				counter++

				return placeholder
			},
		)
	}

	replaceFunc(c.urlPattern, urlPlaceholderPattern)
	replaceFunc(c.emailPattern, emailPlaceholderPattern)

	return processedText, placeholders
}

func restoreTokens(input string, placeholders map[string]string) string {
	for placeholder, original := range placeholders {
		input = strings.ReplaceAll(input, placeholder, original)
	}

	return input
}

// removeExcessivePunctuation keeps only the first of a run of identical
// punctuation marks. Ellipses are kept whole.
func removeExcessivePunctuation(input string) string {
	var (
		result   []rune
		previous rune
		runLen   int
	)

	for _, char := range input {
		if isSqueezable(char) && char == previous {
			runLen++
			if char == '.' && runLen <= len(ellipsis) {
				result = append(result, char)
			}

			continue
		}

		result = append(result, char)
		previous = char
		runLen = 1
	}

	return string(result)
}

// isSqueezable excludes connector punctuation so placeholders survive.
func isSqueezable(char rune) bool {
	return unicode.IsPunct(char) && !unicode.Is(unicode.Pc, char)
}
