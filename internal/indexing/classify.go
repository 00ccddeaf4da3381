package indexing

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	frontmatterRegex = regexp.MustCompile(`(?s)^---\n.*?---`)
	codeFenceRegex   = regexp.MustCompile("(?s)```\\w*\\n.*?```")
	headerRegex      = regexp.MustCompile(`^#{1,6}\s+`)
	tableRowRegex    = regexp.MustCompile(`\|.*\|.*\|`)
	listItemRegex    = regexp.MustCompile(`^[-*+]\s+|^\d+\.\s+`)
)

// Classify returns the content type of a text fragment.
// Rules are checked most specific first and the first match wins.
func Classify(text string) ContentType {
	trimmed := strings.TrimSpace(text)

	if frontmatterRegex.MatchString(trimmed) {
		return ContentFrontmatter
	}

	if codeFenceRegex.MatchString(text) {
		return ContentCodeBlock
	}

	if headerRegex.MatchString(trimmed) {
		if utf8.RuneCountInString(text) > HeaderSectionMinLength {
			return ContentHeaderSection
		}
		return ContentHeader
	}

	if tableRowRegex.MatchString(text) && strings.Count(text, "|") >= 4 {
		return ContentTable
	}

	listLines := 0
	for _, line := range strings.Split(text, "\n") {
		if listItemRegex.MatchString(strings.TrimSpace(line)) {
			listLines++
			if listLines >= 2 {
				return ContentList
			}
		}
	}

	return ContentText
}
