package text

import (
	"strings"
	"unicode"
)

// Language is the closed set of tags a text segment can carry. Script families
// come first, in tie-break priority order, followed by the non-letter classes.
type Language int

const (
	LanguageUnknown Language = iota
	LanguageChinese
	LanguageJapanese
	LanguageKorean
	LanguageEnglish
	LanguageRussian
	LanguageArabic
	LanguageThai
	LanguageNumeric
	LanguagePunctuation
)

// prolongedSoundMark is the kana length mark; Unicode files it under the Common
// script, so it has to be listed with the Japanese class explicitly.
const prolongedSoundMark = 'ー'

// scriptFamily binds a language to the rune test used for detection and the
// character class used in the mixed-script regex.
type scriptFamily struct {
	language  Language
	group     string
	charClass string
	contains  func(r rune) bool
}

// scriptFamilies lists the recognized letter families in tie-break priority order.
var scriptFamilies = []scriptFamily{
	{
		language:  LanguageChinese,
		group:     "zh",
		charClass: `\p{Han}`,
		contains:  func(r rune) bool { return unicode.Is(unicode.Han, r) },
	},
	{
		language:  LanguageJapanese,
		group:     "ja",
		charClass: `\p{Hiragana}\p{Katakana}ー`,
		contains: func(r rune) bool {
			return unicode.In(r, unicode.Hiragana, unicode.Katakana) || r == prolongedSoundMark
		},
	},
	{
		language:  LanguageKorean,
		group:     "ko",
		charClass: `\p{Hangul}`,
		contains:  func(r rune) bool { return unicode.Is(unicode.Hangul, r) },
	},
	{
		language:  LanguageEnglish,
		group:     "en",
		charClass: `\p{Latin}`,
		contains:  func(r rune) bool { return unicode.Is(unicode.Latin, r) },
	},
	{
		language:  LanguageRussian,
		group:     "ru",
		charClass: `\p{Cyrillic}`,
		contains:  func(r rune) bool { return unicode.Is(unicode.Cyrillic, r) },
	},
	{
		language:  LanguageArabic,
		group:     "ar",
		charClass: `\p{Arabic}`,
		contains:  func(r rune) bool { return unicode.Is(unicode.Arabic, r) },
	},
	{
		language:  LanguageThai,
		group:     "th",
		charClass: `\p{Thai}`,
		contains:  func(r rune) bool { return unicode.Is(unicode.Thai, r) },
	},
}

var languageNames = map[Language]string{
	LanguageUnknown:     "unknown",
	LanguageChinese:     "zh",
	LanguageJapanese:    "ja",
	LanguageKorean:      "ko",
	LanguageEnglish:     "en",
	LanguageRussian:     "ru",
	LanguageArabic:      "ar",
	LanguageThai:        "th",
	LanguageNumeric:     "numeric",
	LanguagePunctuation: "punctuation",
}

// String returns the short tag used in configuration and logs.
func (l Language) String() string {
	if name, ok := languageNames[l]; ok {
		return name
	}

	return languageNames[LanguageUnknown]
}

// MarshalText encodes the language as its tag.
func (l Language) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText decodes a tag; unrecognized tags become LanguageUnknown.
func (l *Language) UnmarshalText(data []byte) error {
	*l, _ = ParseLanguage(string(data))

	return nil
}

// IsScript reports whether l is a letter family, i.e. one that selects a voice.
func (l Language) IsScript() bool {
	return l >= LanguageChinese && l <= LanguageThai
}

// Languages returns every language tag in priority order.
func Languages() []Language {
	return []Language{
		LanguageChinese,
		LanguageJapanese,
		LanguageKorean,
		LanguageEnglish,
		LanguageRussian,
		LanguageArabic,
		LanguageThai,
		LanguageNumeric,
		LanguagePunctuation,
		LanguageUnknown,
	}
}

// ParseLanguage maps a configuration tag back to a Language. Unrecognized tags
// map to LanguageUnknown with ok=false.
func ParseLanguage(tag string) (Language, bool) {
	normalized := strings.ToLower(strings.TrimSpace(tag))

	for lang, name := range languageNames {
		if name == normalized {
			return lang, true
		}
	}

	return LanguageUnknown, false
}

// priority is the tie-break rank; lower wins.
func (l Language) priority() int {
	if l == LanguageUnknown {
		return int(LanguagePunctuation) + 1
	}

	return int(l)
}
