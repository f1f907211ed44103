package speech

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	fencedCodePattern   = regexp.MustCompile("(?s)```.*?```")
	inlineCodePattern   = regexp.MustCompile("`[^`]*`")
	markdownLinkPattern = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	urlPattern          = regexp.MustCompile(`https?://\S+`)
	listMarkerPattern   = regexp.MustCompile(`^\s*(?:[-*+•]|\d{1,2}[.)])\s+`)
	headingPattern      = regexp.MustCompile(`^\s*#{1,6}\s+`)
	percentPattern      = regexp.MustCompile(`(\d+(?:[.,]\d+)?)\s*%`)
	scoreRangePattern   = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*/\s*(\d+)`)
)

// percentWords and outOfWords are how detection scores are read aloud.
var (
	percentWords = map[string]string{"en": "percent", "hi": "प्रतिशत"}
	outOfWords   = map[string]string{"en": "out of", "hi": "में से"}
)

// speakableText turns an assistant reply into text a synthesizer reads naturally:
// code and links are dropped, list items and headings become sentences, and
// detection scores such as "87%" or "8/10" are spelled out in the reply language.
// The transcript keeps the original text.
func speakableText(raw, language string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	raw = fencedCodePattern.ReplaceAllString(raw, " ")
	raw = inlineCodePattern.ReplaceAllString(raw, " ")
	raw = markdownLinkPattern.ReplaceAllString(raw, "$1")
	raw = urlPattern.ReplaceAllString(raw, " ")
	raw = sentencesFromLines(raw)

	base := baseLanguage(language)
	raw = percentPattern.ReplaceAllString(raw, "$1 "+percentWords[base])
	raw = scoreRangePattern.ReplaceAllString(raw, "$1 "+outOfWords[base]+" $2")

	return collapse(raw)
}

// sentencesFromLines ends every list item and heading with a full stop so the
// synthesizer pauses between them instead of running the lines together.
func sentencesFromLines(raw string) string {
	lines := strings.Split(raw, "\n")
	for i, line := range lines {
		structural := listMarkerPattern.MatchString(line) || headingPattern.MatchString(line)
		line = listMarkerPattern.ReplaceAllString(line, "")
		line = headingPattern.ReplaceAllString(line, "")
		line = strings.TrimSpace(line)
		if structural && line != "" && !endsSentence(line) {
			line += "."
		}
		lines[i] = line
	}
	return strings.Join(lines, "\n")
}

func endsSentence(line string) bool {
	r := []rune(strings.TrimRight(line, "*_ "))
	if len(r) == 0 {
		return true
	}
	switch r[len(r)-1] {
	case '.', '!', '?', ':', ';', '।', '॥':
		return true
	}
	return false
}

type runeClass int

const (
	keepRune runeClass = iota
	dropRune
	spaceRune
)

func classify(r rune) runeClass {
	switch {
	case r == '\u200d' || r == '\ufe0f' || r == '\u20e3':
		return dropRune
	case unicode.IsSpace(r):
		return spaceRune
	case unicode.IsControl(r), unicode.In(r, unicode.So, unicode.Sm, unicode.Sk):
		return dropRune
	}
	switch r {
	case '.', ',', '!', '?', ':', ';', '\'', '"', '-', '(', ')', '।', '॥':
		return keepRune
	case '*', '_', '\\', '/', '|', '#', '~', '<', '>':
		return spaceRune
	}
	if unicode.IsPunct(r) {
		return spaceRune
	}
	return keepRune
}

// collapse drops symbols and squeezes whitespace runs into single spaces.
func collapse(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	pendingSpace := false
	for _, r := range raw {
		switch classify(r) {
		case dropRune:
		case spaceRune:
			pendingSpace = b.Len() > 0
		default:
			if pendingSpace {
				b.WriteByte(' ')
				pendingSpace = false
			}
			b.WriteRune(r)
		}
	}
	return b.String()
}

func baseLanguage(tag string) string {
	tag = strings.ToLower(strings.TrimSpace(tag))
	if strings.HasPrefix(tag, "hi") {
		return "hi"
	}
	return "en"
}
