package indexing

import (
	"strings"
	"unicode/utf8"
)

// block is a byte span of a document holding one markdown structure
type block struct {
	start, end int
	kind       ContentType
}

// scanBlocks cuts text into markdown blocks: leading frontmatter, fenced code,
// headings and blank-line separated paragraphs. A fence is never broken by
// the blank lines it contains.
func scanBlocks(text string) []block {
	var blocks []block
	curStart, curEnd := -1, -1
	inFence := false
	inFrontmatter := false
	seenContent := false

	closeCurrent := func() {
		if curStart >= 0 {
			blocks = append(blocks, block{start: curStart, end: curEnd})
		}
		curStart, curEnd = -1, -1
	}

	for lineStart := 0; lineStart < len(text); {
		lineEnd := strings.IndexByte(text[lineStart:], '\n')
		next := len(text)
		if lineEnd < 0 {
			lineEnd = len(text)
		} else {
			lineEnd += lineStart
			next = lineEnd + 1
		}
		line := strings.TrimSpace(text[lineStart:lineEnd])

		switch {
		case inFrontmatter:
			curEnd = lineEnd
			if line == "---" {
				inFrontmatter = false
				closeCurrent()
			}

		case inFence:
			curEnd = lineEnd
			if strings.HasPrefix(line, "```") {
				inFence = false
				closeCurrent()
			}

		case !seenContent && line == "---" && hasClosingDelimiter(text[next:]):
			inFrontmatter = true
			curStart, curEnd = lineStart, lineEnd

		case strings.HasPrefix(line, "```"):
			closeCurrent()
			inFence = true
			curStart, curEnd = lineStart, lineEnd

		case line == "":
			closeCurrent()

		case headerRegex.MatchString(line):
			closeCurrent()
			curStart, curEnd = lineStart, lineEnd

		default:
			if curStart < 0 {
				curStart = lineStart
			}
			curEnd = lineEnd
		}

		if line != "" {
			seenContent = true
		}
		lineStart = next
	}
	closeCurrent()

	for i := range blocks {
		blocks[i].kind = Classify(text[blocks[i].start:blocks[i].end])
	}
	return blocks
}

func hasClosingDelimiter(rest string) bool {
	for _, line := range strings.Split(rest, "\n") {
		if strings.TrimSpace(line) == "---" {
			return true
		}
	}
	return false
}

// groupBlocks merges adjacent blocks that belong together: a heading keeps the
// prose under it, and runs of prose, list or table blocks stay in one piece.
// A group never grows past maxRunes unless a single block already does.
func groupBlocks(text string, blocks []block, maxRunes int) []block {
	var groups []block
	for _, b := range blocks {
		if n := len(groups); n > 0 && canMerge(groups[n-1], b) &&
			utf8.RuneCountInString(text[groups[n-1].start:b.end]) <= maxRunes {
			groups[n-1].end = b.end
			continue
		}
		groups = append(groups, b)
	}
	return groups
}

func canMerge(group, next block) bool {
	switch group.kind {
	case ContentHeader, ContentHeaderSection:
		return next.kind == ContentText
	case ContentText, ContentList, ContentTable:
		return next.kind == group.kind
	default:
		return false
	}
}
