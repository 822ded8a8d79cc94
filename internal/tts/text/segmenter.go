// Package text provides the text-side stages of the voice pipeline: script-based
// language segmentation, chunking of oversized input, and light cleanup before
// synthesis.
package text

import (
	"errors"
	"math"
	"regexp"
	"strings"
	"unicode"

	"github.com/book-expert/logger"
)

// Regex group names for the non-letter classes.
const (
	groupNumeric     = "num"
	groupPunctuation = "punct"
)

// Non-letter character patterns. The punctuation class excludes every letter,
// mark, number and whitespace rune so that letters from unrecognized scripts fall
// into the gaps between matches and are resolved by proximity.
const (
	numericPattern     = `\p{Nd}+(?:[.,:]\p{Nd}+)*`
	punctuationPattern = `[^\s\pL\pM\pN]+`
	wordJoinerPattern  = `['’\-]`
)

// ErrSegmentationDegraded marks the recovery path where mixed-script detection
// produced no regex matches and the whole text became a single segment.
var ErrSegmentationDegraded = errors.New("segmentation degraded")

// Segment is a contiguous run of text with one language tag.
type Segment struct {
	Text     string
	Language Language
}

// Segmenter classifies text into script-based segments.
type Segmenter struct {
	pattern  *regexp.Regexp
	groups   map[int]Language
	fallback Language
	log      *logger.Logger
}

// NewSegmenter builds a segmenter. fallback is the tag given to text whose
// letters belong to no recognized family; pass LanguageUnknown for a neutral
// policy.
func NewSegmenter(fallback Language, log *logger.Logger) *Segmenter {
	alternatives := make([]string, 0, len(scriptFamilies)+2)

	for _, family := range scriptFamilies {
		class := "[" + family.charClass + "]"
		alternatives = append(alternatives,
			`(?P<`+family.group+`>`+class+`+(?:`+wordJoinerPattern+class+`+)*)`)
	}

	alternatives = append(alternatives,
		`(?P<`+groupNumeric+`>`+numericPattern+`)`,
		`(?P<`+groupPunctuation+`>`+punctuationPattern+`)`,
	)

	pattern := regexp.MustCompile(strings.Join(alternatives, "|"))

	groups := make(map[int]Language, len(scriptFamilies)+2)

	for index, name := range pattern.SubexpNames() {
		switch name {
		case groupNumeric:
			groups[index] = LanguageNumeric
		case groupPunctuation:
			groups[index] = LanguagePunctuation
		default:
			for _, family := range scriptFamilies {
				if family.group == name {
					groups[index] = family.language
				}
			}
		}
	}

	return &Segmenter{
		pattern:  pattern,
		groups:   groups,
		fallback: fallback,
		log:      log,
	}
}

// Segment splits text into ordered segments. Blank input yields no segments;
// any other input yields at least one, and concatenating the segment texts
// reproduces the input exactly.
func (s *Segmenter) Segment(input string) []Segment {
	if strings.TrimSpace(input) == "" {
		return nil
	}

	profile := profileText(input)
	if len(profile.families) <= 1 {
		return []Segment{{Text: input, Language: s.monolingualTag(profile)}}
	}

	segments, err := s.segmentMixed(input)
	if err != nil {
		if s.log != nil {
			s.log.Warn("Mixed-script segmentation found no matches, using whole text: %v", err)
		}

		return []Segment{{Text: input, Language: profile.families[0]}}
	}

	return MergeAdjacent(segments)
}

// MergeAdjacent joins consecutive segments that share a language. Texts are
// concatenated as-is, so original spacing survives. The function is idempotent.
func MergeAdjacent(segments []Segment) []Segment {
	if len(segments) == 0 {
		return nil
	}

	merged := make([]Segment, 0, len(segments))

	for _, segment := range segments {
		last := len(merged) - 1
		if last >= 0 && merged[last].Language == segment.Language {
			merged[last].Text += segment.Text

			continue
		}

		merged = append(merged, segment)
	}

	return merged
}

// textProfile summarizes which character classes occur in a text.
type textProfile struct {
	families     []Language
	digits       int
	punctuation  int
	otherLetters int
}

func profileText(input string) textProfile {
	var (
		profile textProfile
		seen    = make(map[Language]bool, len(scriptFamilies))
	)

	for _, char := range input {
		switch {
		case unicode.IsSpace(char):
			continue
		case unicode.IsDigit(char):
			profile.digits++

			continue
		}

		matched := false

		for _, family := range scriptFamilies {
			if family.contains(char) {
				matched = true
				seen[family.language] = true

				break
			}
		}

		if matched {
			continue
		}

		if unicode.IsLetter(char) || unicode.IsMark(char) || unicode.IsNumber(char) {
			profile.otherLetters++
		} else {
			profile.punctuation++
		}
	}

	for _, family := range scriptFamilies {
		if seen[family.language] {
			profile.families = append(profile.families, family.language)
		}
	}

	return profile
}

// monolingualTag picks the single tag for fast-path text.
func (s *Segmenter) monolingualTag(profile textProfile) Language {
	if len(profile.families) == 1 {
		return profile.families[0]
	}

	if profile.otherLetters > 0 {
		return s.fallback
	}

	switch {
	case profile.digits == 0 && profile.punctuation == 0:
		return s.fallback
	case profile.digits >= profile.punctuation:
		return LanguageNumeric
	default:
		return LanguagePunctuation
	}
}

type scriptMatch struct {
	start    int
	end      int
	language Language
}

func (s *Segmenter) findMatches(input string) []scriptMatch {
	indexes := s.pattern.FindAllStringSubmatchIndex(input, -1)
	matches := make([]scriptMatch, 0, len(indexes))

	for _, loc := range indexes {
		for group := 1; group*2+1 < len(loc); group++ {
			if loc[group*2] < 0 {
				continue
			}

			matches = append(matches, scriptMatch{
				start:    loc[0],
				end:      loc[1],
				language: s.groups[group],
			})

			break
		}
	}

	return matches
}

func (s *Segmenter) segmentMixed(input string) ([]Segment, error) {
	matches := s.findMatches(input)
	if len(matches) == 0 {
		return nil, ErrSegmentationDegraded
	}

	segments := make([]Segment, 0, len(matches)*2)
	pendingLead := ""
	cursor := 0

	appendGap := func(gap string, start, end int) {
		if gap == "" {
			return
		}

		if strings.TrimSpace(gap) == "" {
			if len(segments) == 0 {
				pendingLead += gap

				return
			}

			segments[len(segments)-1].Text += gap

			return
		}

		segments = append(segments, Segment{
			Text:     pendingLead + gap,
			Language: nearestLanguage(matches, start, end),
		})
		pendingLead = ""
	}

	for _, match := range matches {
		appendGap(input[cursor:match.start], cursor, match.start)

		segments = append(segments, Segment{
			Text:     pendingLead + input[match.start:match.end],
			Language: match.language,
		})
		pendingLead = ""
		cursor = match.end
	}

	appendGap(input[cursor:], cursor, len(input))

	return segments, nil
}

// nearestLanguage returns the language of the match whose start or end lies
// closest to the midpoint of [start, end). Ties go to the higher-priority family.
func nearestLanguage(matches []scriptMatch, start, end int) Language {
	midpoint := float64(start+end) / 2
	best := LanguageUnknown
	bestDistance := math.MaxFloat64

	for _, match := range matches {
		distance := math.Min(
			math.Abs(float64(match.start)-midpoint),
			math.Abs(float64(match.end)-midpoint),
		)

		closer := distance < bestDistance
		tied := distance == bestDistance && match.language.priority() < best.priority()

		if closer || tied {
			best = match.language
			bestDistance = distance
		}
	}

	return best
}
