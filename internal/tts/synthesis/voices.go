package synthesis

import (
	"sort"

	"github.com/book-expert/voice-service/internal/tts/text"
)

// Gender of a voice profile.
type Gender string

const (
	GenderFemale  Gender = "female"
	GenderMale    Gender = "male"
	GenderNeutral Gender = "neutral"
)

// VoiceProfile selects a synthesis timbre for one language family.
type VoiceProfile struct {
	ID          string        `json:"id"`
	DisplayName string        `json:"displayName"`
	Gender      Gender        `json:"gender"`
	Language    text.Language `json:"language"`
}

var defaultVoices = []VoiceProfile{
	{ID: "zh-CN-XiaoxiaoNeural", DisplayName: "Xiaoxiao", Gender: GenderFemale, Language: text.LanguageChinese},
	{ID: "ja-JP-NanamiNeural", DisplayName: "Nanami", Gender: GenderFemale, Language: text.LanguageJapanese},
	{ID: "ko-KR-SunHiNeural", DisplayName: "SunHi", Gender: GenderFemale, Language: text.LanguageKorean},
	{ID: "en-US-AriaNeural", DisplayName: "Aria", Gender: GenderFemale, Language: text.LanguageEnglish},
	{ID: "ru-RU-SvetlanaNeural", DisplayName: "Svetlana", Gender: GenderFemale, Language: text.LanguageRussian},
	{ID: "ar-SA-ZariyahNeural", DisplayName: "Zariyah", Gender: GenderFemale, Language: text.LanguageArabic},
	{ID: "th-TH-PremwadeeNeural", DisplayName: "Premwadee", Gender: GenderFemale, Language: text.LanguageThai},
}

// VoiceCatalog maps script families to voices. Only script families have
// entries; numeric, punctuation and unknown text always use the caller's voice.
type VoiceCatalog struct {
	voices map[text.Language]VoiceProfile
}

// NewVoiceCatalog returns the built-in catalogue with overrides applied.
// Override keys are language tags ("zh", "en", ...); unknown tags are ignored.
func NewVoiceCatalog(overrides map[string]string) *VoiceCatalog {
	voices := make(map[text.Language]VoiceProfile, len(defaultVoices))

	for _, profile := range defaultVoices {
		voices[profile.Language] = profile
	}

	for tag, voiceID := range overrides {
		lang, ok := text.ParseLanguage(tag)
		if !ok || !lang.IsScript() || voiceID == "" {
			continue
		}

		voices[lang] = VoiceProfile{
			ID:          voiceID,
			DisplayName: voiceID,
			Gender:      GenderNeutral,
			Language:    lang,
		}
	}

	return &VoiceCatalog{voices: voices}
}

// VoiceFor resolves the voice for a segment language.
func (c *VoiceCatalog) VoiceFor(lang text.Language, baseVoice string) string {
	if !lang.IsScript() {
		return baseVoice
	}

	profile, ok := c.voices[lang]
	if !ok {
		return baseVoice
	}

	return profile.ID
}

// Lookup returns the profile for a language.
func (c *VoiceCatalog) Lookup(lang text.Language) (VoiceProfile, bool) {
	profile, ok := c.voices[lang]

	return profile, ok
}

// List returns every profile in language priority order.
func (c *VoiceCatalog) List() []VoiceProfile {
	profiles := make([]VoiceProfile, 0, len(c.voices))

	for _, profile := range c.voices {
		profiles = append(profiles, profile)
	}

	sort.Slice(profiles, func(i, j int) bool {
		return profiles[i].Language < profiles[j].Language
	})

	return profiles
}
