package content

import (
	"strings"

	"golang.org/x/text/language"
)

// Language is a site language code.
type Language string

const (
	LanguageHindi   Language = "hi"
	LanguageEnglish Language = "en"

	// DefaultLanguage is served when nothing in the request selects a language.
	DefaultLanguage = LanguageHindi
)

// Order matters: the first tag is the matcher's fallback.
var (
	supportedLanguages = []Language{LanguageHindi, LanguageEnglish}
	languageMatcher    = language.NewMatcher([]language.Tag{language.Hindi, language.English})
)

// ParseLanguage reads an explicit language choice such as "en", "hi" or "en-IN".
func ParseLanguage(rawLanguage string) (Language, bool) {
	trimmed := strings.TrimSpace(rawLanguage)
	if trimmed == "" {
		return "", false
	}
	tag, parseErr := language.Parse(trimmed)
	if parseErr != nil {
		return "", false
	}
	base, _ := tag.Base()
	for _, supported := range supportedLanguages {
		if base.String() == string(supported) {
			return supported, true
		}
	}
	return "", false
}

// Negotiate picks the page language: an explicit choice wins, then Accept-Language, then the default.
func Negotiate(explicitChoice string, acceptLanguage string) Language {
	if chosen, ok := ParseLanguage(explicitChoice); ok {
		return chosen
	}
	tags, _, parseErr := language.ParseAcceptLanguage(acceptLanguage)
	if parseErr != nil || len(tags) == 0 {
		return DefaultLanguage
	}
	_, index, confidence := languageMatcher.Match(tags...)
	if confidence == language.No || index < 0 || index >= len(supportedLanguages) {
		return DefaultLanguage
	}
	return supportedLanguages[index]
}

// Other returns the language offered by the switcher.
func (current Language) Other() Language {
	if current == LanguageEnglish {
		return LanguageHindi
	}
	return LanguageEnglish
}
