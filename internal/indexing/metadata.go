package indexing

import (
	"crypto/sha256"
	"encoding/hex"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

const maxKeywords = 10

var markdownLinkRegex = regexp.MustCompile(`\[([^\]]+)\]\([^\)]+\)`)

// chunkNamespace seeds deterministic chunk IDs
var chunkNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("docs-mcp-server/chunk"))

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true,
	"but": true, "in": true, "on": true, "at": true, "to": true,
	"for": true, "of": true, "as": true, "by": true, "is": true,
	"it": true, "be": true, "with": true, "from": true, "that": true,
	"this": true, "are": true, "you": true, "can": true, "your": true,
}

var markdown = goldmark.New()

// StripMarkdownLinks removes markdown link syntax, keeping only the text
// Example: "[Text](url)" -> "Text"
func StripMarkdownLinks(text string) string {
	return markdownLinkRegex.ReplaceAllString(text, "$1")
}

// EstimateTokens estimates the token count for a text string
func EstimateTokens(text string) int {
	return len(text) / CharsPerToken
}

// ContentHash returns the hex sha256 of a document's raw content.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// ChunkID derives a stable ID from a document path and chunk position.
func ChunkID(docPath string, chunkIndex int) string {
	return uuid.NewSHA1(chunkNamespace, []byte(docPath+"#"+strconv.Itoa(chunkIndex))).String()
}

// PlainText renders markdown to its visible text. Fenced code is dropped.
func PlainText(source string) string {
	src := []byte(source)
	doc := markdown.Parser().Parse(text.NewReader(src))

	var b strings.Builder
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			if n.Type() == ast.TypeBlock && b.Len() > 0 {
				b.WriteByte('\n')
			}
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			return ast.WalkSkipChildren, nil
		case *ast.Text:
			b.Write(node.Segment.Value(src))
			if node.SoftLineBreak() || node.HardLineBreak() {
				b.WriteByte(' ')
			}
		case *ast.String:
			b.Write(node.Value)
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(b.String())
}

// ExtractKeywords extracts key terms from heading and content, in the order
// they first appear.
func ExtractKeywords(heading, content string) []string {
	words := strings.Fields(strings.ToLower(heading))

	// Only the opening of the content is representative
	preview := PlainText(content)
	if r := []rune(preview); len(r) > 200 {
		preview = string(r[:200])
	}
	words = append(words, strings.Fields(strings.ToLower(preview))...)

	seen := make(map[string]bool)
	keywords := make([]string, 0, maxKeywords)
	for _, word := range words {
		word = strings.TrimFunc(word, func(r rune) bool {
			return !((r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'))
		})
		if len(word) <= 2 || stopWords[word] || seen[word] {
			continue
		}
		seen[word] = true
		keywords = append(keywords, word)
		if len(keywords) == maxKeywords {
			break
		}
	}
	return keywords
}

// CreateAnchor creates a URL anchor from text
// Example: "Fields of Tiered Rate Limit" -> "fields-of-tiered-rate-limit"
func CreateAnchor(text string) string {
	anchor := strings.ToLower(strings.TrimSpace(StripMarkdownLinks(text)))
	anchor = strings.ReplaceAll(anchor, " ", "-")
	return strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			return r
		}
		return -1
	}, anchor)
}

// HeadingText returns the first line of a header fragment without its # marks.
func HeadingText(fragment string) string {
	first, _, _ := strings.Cut(strings.TrimSpace(fragment), "\n")
	return StripMarkdownLinks(strings.TrimSpace(strings.TrimLeft(first, "#")))
}

// DocSlug turns a relative document path into its URL path.
// Example: "guides/intro.mdx" -> "guides/intro", "guides/index.mdx" -> "guides"
func DocSlug(docPath string) string {
	slug := strings.TrimSuffix(docPath, path.Ext(docPath))
	if slug == "index" {
		return ""
	}
	return strings.TrimSuffix(slug, "/index")
}

// EnrichOptions carries the document-level data Enrich stamps on every chunk.
type EnrichOptions struct {
	Frontmatter Frontmatter
	BaseURL     string
	// Hash of the raw file; computed from the document text when empty
	Hash string
}

// Enrich turns the fragments of one document into index-ready chunks.
// The heading of a chunk is the most recent header fragment at or above it.
func Enrich(doc Document, fragments []Fragment, opts EnrichOptions) []DocChunk {
	docPath, _ := doc.Metadata[MetaPath].(string)
	hash := opts.Hash
	if hash == "" {
		hash = ContentHash(doc.Text)
	}

	chunks := make([]DocChunk, 0, len(fragments))
	heading := ""
	for i, f := range fragments {
		ct := f.ContentType()
		if ct == ContentHeader || ct == ContentHeaderSection {
			heading = HeadingText(f.Text)
		}

		chunk := DocChunk{
			ID:          ChunkID(docPath, i),
			Path:        docPath,
			ChunkIndex:  i,
			ContentType: string(ct),
			Title:       opts.Frontmatter.Title,
			Description: opts.Frontmatter.Description,
			Heading:     heading,
			Content:     f.Text,
			Hash:        hash,
		}
		chunk.Breadcrumb = breadcrumb(chunk.Title, heading)
		chunk.URL = chunkURL(opts.BaseURL, docPath, heading)
		chunk.Keywords = ExtractKeywords(heading, f.Text)
		chunk.TokenCount = EstimateTokens(f.Text)
		chunks = append(chunks, chunk)
	}
	return chunks
}

func breadcrumb(title, heading string) string {
	var parts []string
	if title != "" {
		parts = append(parts, title)
	}
	if heading != "" && heading != title {
		parts = append(parts, heading)
	}
	return strings.Join(parts, " > ")
}

func chunkURL(baseURL, docPath, heading string) string {
	if baseURL == "" {
		return ""
	}
	url := strings.TrimRight(baseURL, "/")
	if slug := DocSlug(docPath); slug != "" {
		url += "/" + slug
	}
	if heading != "" {
		url += "#" + CreateAnchor(heading)
	}
	return url
}
