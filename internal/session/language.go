package session

import (
	"os"
	"strings"

	"golang.org/x/text/language"
)

const (
	LanguageEnglish = "en-IN"
	LanguageHindi   = "hi-IN"
	DefaultVoice    = "meera"
)

var (
	supportedTags   = []language.Tag{language.MustParse(LanguageEnglish), language.MustParse(LanguageHindi)}
	supportedNames  = []string{LanguageEnglish, LanguageHindi}
	languageMatcher = language.NewMatcher(supportedTags)
)

// MatchLanguage maps a BCP-47 tag or POSIX locale ("hi_IN.UTF-8") onto a supported
// conversation language. It returns false when nothing matches.
func MatchLanguage(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if i := strings.IndexAny(raw, ".@"); i >= 0 {
		raw = raw[:i]
	}
	raw = strings.ReplaceAll(raw, "_", "-")
	if raw == "" || strings.EqualFold(raw, "C") || strings.EqualFold(raw, "POSIX") {
		return "", false
	}
	tag, err := language.Parse(raw)
	if err != nil {
		return "", false
	}
	_, idx, confidence := languageMatcher.Match(tag)
	if confidence == language.No {
		return "", false
	}
	return supportedNames[idx], true
}

// ResolveLanguage picks the initial conversation language: the configured value,
// then the process locale, then English.
func ResolveLanguage(configured string) string {
	if lang, ok := MatchLanguage(configured); ok {
		return lang
	}
	for _, key := range []string{"LC_ALL", "LC_MESSAGES", "LANG"} {
		if lang, ok := MatchLanguage(os.Getenv(key)); ok {
			return lang
		}
	}
	return LanguageEnglish
}

func toggled(lang string) string {
	if lang == LanguageHindi {
		return LanguageEnglish
	}
	return LanguageHindi
}
