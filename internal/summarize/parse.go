package summarize

import (
	"regexp"
	"strings"
)

// NoSummary is used when the model returned a single sentence.
const NoSummary = "No summary produced."

// MaxTitleLength is the title cap in characters, ellipsis included.
const MaxTitleLength = 100

var (
	sentenceEnd  = regexp.MustCompile(`[.!?]\s+`)
	markupTokens = strings.NewReplacer("**", "", "__", "", "#", "", "[", "", "]", "")
	validTitle   = regexp.MustCompile(`^[A-Za-zА-Яа-яЁё0-9\s.,!?'"():;%$&+/«»–—-]+$`)
)

// ParseResponse splits a raw completion into a title and a summary.
//
// A newline separates title from summary. Without one the first sentence is
// the title and the rest is the summary; a lone sentence gets NoSummary.
func ParseResponse(raw string) (title, summary string) {
	content := strings.TrimSpace(raw)
	if before, after, ok := strings.Cut(content, "\n"); ok {
		title, summary = strings.TrimSpace(before), strings.TrimSpace(after)
		if summary == "" {
			summary = NoSummary
		}
		return title, summary
	}

	sentences := splitSentences(content)
	if len(sentences) > 1 {
		return sentences[0], strings.Join(sentences[1:], " ")
	}
	return content, NoSummary
}

// splitSentences splits after ., ! or ? followed by whitespace, keeping the
// punctuation with its sentence.
func splitSentences(s string) []string {
	var out []string
	start := 0
	for _, loc := range sentenceEnd.FindAllStringIndex(s, -1) {
		out = append(out, s[start:loc[0]+1])
		start = loc[1]
	}
	if rest := strings.TrimSpace(s[start:]); rest != "" {
		out = append(out, rest)
	}
	return out
}

// SanitizeTitle strips markdown emphasis, heading and bracket markers and caps
// the result at MaxTitleLength characters.
func SanitizeTitle(title string) string {
	title = strings.TrimSpace(markupTokens.Replace(title))
	if r := []rune(title); len(r) > MaxTitleLength {
		title = string(r[:MaxTitleLength-3]) + "..."
	}
	return title
}

// ValidTitle reports whether title uses only Latin or Cyrillic letters,
// digits, whitespace and common punctuation.
func ValidTitle(title string) bool {
	return validTitle.MatchString(title)
}
