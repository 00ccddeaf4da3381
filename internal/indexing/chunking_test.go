package indexing_test

import (
	"fmt"
	"slices"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/mdxdocs/docs-mcp-server/internal/indexing"
)

const endToEndDoc = "---\ntitle: x\n---\n\n# Header\n\nSome body text that is long enough to exceed one hundred characters in total length here.\n\n- item one\n- item two\n\n| a | b |\n| c | d |\n"

func contentTypes(fragments []indexing.Fragment) []indexing.ContentType {
	types := make([]indexing.ContentType, len(fragments))
	for i, f := range fragments {
		types[i] = f.ContentType()
	}
	return types
}

func TestChunkDocumentEndToEnd(t *testing.T) {
	chunker := indexing.NewChunker()
	fragments, err := chunker.ChunkDocument(indexing.Document{
		Text:     endToEndDoc,
		Metadata: map[string]any{indexing.MetaPath: "doc.mdx"},
	})
	if err != nil {
		t.Fatalf("ChunkDocument failed: %v", err)
	}

	want := []indexing.ContentType{
		indexing.ContentFrontmatter,
		indexing.ContentHeader,
		indexing.ContentList,
		indexing.ContentTable,
	}
	if got := contentTypes(fragments); !slices.Equal(got, want) {
		t.Fatalf("content types = %v, want %v", got, want)
	}

	if fragments[0].Text != "---\ntitle: x\n---" {
		t.Errorf("frontmatter fragment = %q", fragments[0].Text)
	}
	if !strings.HasPrefix(fragments[1].Text, "# Header\n\nSome body text") {
		t.Errorf("header fragment = %q", fragments[1].Text)
	}
	if fragments[2].Text != "- item one\n- item two" {
		t.Errorf("list fragment = %q", fragments[2].Text)
	}
	if fragments[3].Text != "| a | b |\n| c | d |" {
		t.Errorf("table fragment = %q", fragments[3].Text)
	}

	for i, f := range fragments {
		if f.Metadata[indexing.MetaPath] != "doc.mdx" {
			t.Errorf("fragment %d lost document metadata: %v", i, f.Metadata)
		}
	}
}

func TestChunkDocumentRecursiveMode(t *testing.T) {
	chunker := indexing.NewChunker(indexing.WithCoarseMode(indexing.CoarseRecursive))
	if chunker.Mode() != indexing.CoarseRecursive {
		t.Fatalf("Mode() = %s, want recursive", chunker.Mode())
	}

	fragments, err := chunker.ChunkText(endToEndDoc, nil)
	if err != nil {
		t.Fatalf("ChunkText failed: %v", err)
	}

	// The whole document fits one coarse chunk, which classifies as frontmatter
	if len(fragments) != 1 {
		t.Fatalf("got %d fragments, want 1", len(fragments))
	}
	if fragments[0].ContentType() != indexing.ContentFrontmatter {
		t.Errorf("content type = %s, want frontmatter", fragments[0].ContentType())
	}
	if fragments[0].Text != strings.TrimSpace(endToEndDoc) {
		t.Errorf("fragment text = %q", fragments[0].Text)
	}
}

func TestCoarseRecursiveIsOneSplitOfTheDocument(t *testing.T) {
	text := coverageDocs()["mixed"]
	want, err := indexing.CoarseConfig().Splitter().SplitText(text)
	if err != nil {
		t.Fatalf("SplitText failed: %v", err)
	}

	chunker := indexing.NewChunker(indexing.WithCoarseMode(indexing.CoarseRecursive))
	coarse, err := chunker.CoarseSplit(indexing.Document{Text: text})
	if err != nil {
		t.Fatalf("CoarseSplit failed: %v", err)
	}
	got := make([]string, len(coarse))
	for i, f := range coarse {
		got[i] = f.Text
	}
	if !slices.Equal(got, want) {
		t.Errorf("recursive coarse split differs from a single coarse split: got %d fragments, want %d", len(got), len(want))
	}
}

func TestWithCoarseModeIgnoresUnknown(t *testing.T) {
	chunker := indexing.NewChunker(indexing.WithCoarseMode("sideways"))
	if chunker.Mode() != indexing.CoarseStructural {
		t.Errorf("Mode() = %s, want structural", chunker.Mode())
	}
}

func TestChunkDocumentEmpty(t *testing.T) {
	chunker := indexing.NewChunker()
	for _, text := range []string{"", "   ", "\n\n\t\n"} {
		fragments, err := chunker.ChunkText(text, map[string]any{"k": "v"})
		if err != nil {
			t.Errorf("ChunkText(%q) failed: %v", text, err)
		}
		if len(fragments) != 0 {
			t.Errorf("ChunkText(%q) = %d fragments, want 0", text, len(fragments))
		}
	}
}

func TestChunkDocumentClassificationIsStable(t *testing.T) {
	chunker := indexing.NewChunker()
	fragments, err := chunker.ChunkText(endToEndDoc, nil)
	if err != nil {
		t.Fatalf("ChunkText failed: %v", err)
	}
	for i, f := range fragments {
		if got := indexing.Classify(f.Text); got != f.ContentType() {
			t.Errorf("fragment %d stamped %s but reclassifies as %s", i, f.ContentType(), got)
		}
	}
}

func TestChunkDocumentMetadataIsolation(t *testing.T) {
	meta := map[string]any{
		indexing.MetaSource:      "/docs/a.mdx",
		indexing.MetaContentType: "stale",
	}
	doc := indexing.Document{Text: "# Title\n\nBody.\n\n- a\n- b", Metadata: meta}

	fragments, err := indexing.NewChunker().ChunkDocument(doc)
	if err != nil {
		t.Fatalf("ChunkDocument failed: %v", err)
	}
	if len(fragments) < 2 {
		t.Fatalf("got %d fragments, want at least 2", len(fragments))
	}

	fragments[0].Metadata["extra"] = true
	if _, leaked := fragments[1].Metadata["extra"]; leaked {
		t.Error("fragments share a metadata map")
	}
	if _, leaked := meta["extra"]; leaked {
		t.Error("fragment metadata aliases the document metadata")
	}
	if meta[indexing.MetaContentType] != "stale" {
		t.Error("ChunkDocument mutated the document metadata")
	}
	for i, f := range fragments {
		if f.Metadata[indexing.MetaSource] != "/docs/a.mdx" {
			t.Errorf("fragment %d lost source metadata", i)
		}
		if f.Metadata[indexing.MetaContentType] == "stale" {
			t.Errorf("fragment %d kept the stale content_type", i)
		}
	}
}

func TestChunkDocumentFenceSurvivesBlankLines(t *testing.T) {
	text := "Intro paragraph.\n\n```go\nfunc a() {}\n\nfunc b() {}\n```\n\nOutro paragraph."
	fragments, err := indexing.NewChunker().ChunkText(text, nil)
	if err != nil {
		t.Fatalf("ChunkText failed: %v", err)
	}

	want := []indexing.ContentType{indexing.ContentText, indexing.ContentCodeBlock, indexing.ContentText}
	if got := contentTypes(fragments); !slices.Equal(got, want) {
		t.Fatalf("content types = %v, want %v", got, want)
	}
	if fragments[1].Text != "```go\nfunc a() {}\n\nfunc b() {}\n```" {
		t.Errorf("code fragment = %q", fragments[1].Text)
	}
}

func TestChunkDocumentRespectsFineSizes(t *testing.T) {
	var b strings.Builder
	b.WriteString("# Guide\n\n")
	for i := 0; i < 40; i++ {
		b.WriteString(strings.Repeat("words in a sentence ", 12))
		b.WriteString("\n\n")
	}

	fragments, err := indexing.NewChunker().ChunkText(b.String(), nil)
	if err != nil {
		t.Fatalf("ChunkText failed: %v", err)
	}
	if len(fragments) < 2 {
		t.Fatalf("expected a long document to split, got %d fragment(s)", len(fragments))
	}
	for i, f := range fragments {
		limit := indexing.ConfigFor(f.ContentType()).ChunkSize
		if n := utf8.RuneCountInString(f.Text); n > limit {
			t.Errorf("fragment %d (%s) has %d runes, limit %d", i, f.ContentType(), n, limit)
		}
	}
}

func TestChunkDocumentLargeFile(t *testing.T) {
	text := strings.TrimSuffix(strings.Repeat("A line of text.\n", 5000), "\n")
	for _, mode := range []indexing.CoarseMode{indexing.CoarseStructural, indexing.CoarseRecursive} {
		fragments, err := indexing.NewChunker(indexing.WithCoarseMode(mode)).ChunkText(text, nil)
		if err != nil {
			t.Fatalf("%s: ChunkText failed: %v", mode, err)
		}
		if len(fragments) <= 1 {
			t.Errorf("%s: got %d fragments, want more than one", mode, len(fragments))
		}
	}
}

func TestChunkDocumentShortLines(t *testing.T) {
	fragments, err := indexing.NewChunker().ChunkText("A\nB\nC", nil)
	if err != nil {
		t.Fatalf("ChunkText failed: %v", err)
	}
	if len(fragments) != 1 || fragments[0].Text != "A\nB\nC" {
		t.Errorf("fragments = %+v", fragments)
	}
}

func TestChunkDocumentLeadingWhitespace(t *testing.T) {
	fragments, err := indexing.NewChunker().ChunkText("   \n\n# Heading\nContent\n\n   ", nil)
	if err != nil {
		t.Fatalf("ChunkText failed: %v", err)
	}
	if len(fragments) != 1 {
		t.Fatalf("got %d fragments, want 1", len(fragments))
	}
	if fragments[0].Text != "# Heading\nContent" || fragments[0].ContentType() != indexing.ContentHeader {
		t.Errorf("fragment = %q (%s)", fragments[0].Text, fragments[0].ContentType())
	}
}

func TestChunkDocumentIsDeterministic(t *testing.T) {
	chunker := indexing.NewChunker()
	first, err := chunker.ChunkText(endToEndDoc, nil)
	if err != nil {
		t.Fatalf("ChunkText failed: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := chunker.ChunkText(endToEndDoc, nil)
		if err != nil {
			t.Fatalf("ChunkText failed: %v", err)
		}
		if len(again) != len(first) {
			t.Fatalf("run %d: %d fragments, want %d", i, len(again), len(first))
		}
		for j := range again {
			if again[j].Text != first[j].Text || again[j].ContentType() != first[j].ContentType() {
				t.Errorf("run %d fragment %d differs", i, j)
			}
		}
	}
}

// numbered returns n lines built by format, each with a unique word.
func numbered(n int, format, sep string) string {
	lines := make([]string, n)
	for i := range lines {
		lines[i] = fmt.Sprintf(format, i)
	}
	return strings.Join(lines, sep)
}

func coverageDocs() map[string]string {
	prose := numbered(14, "Paragraph p%d explains one more detail of the gateway setup with enough words to matter for splitting purposes here.", "\n\n")
	section := "## Configuration\n\n" + numbered(14, "Setting s%d controls one aspect of the behavior and is described in a few plain words right here.", "\n\n")
	code := "```go\n" + numbered(40, "value%d := compute(input) // step", "\n") + "\n```"
	list := numbered(100, "- item i%d", "\n")
	table := numbered(80, "| r%d | b |\n| c | d |", "\n\n")

	return map[string]string{
		"text":           prose,
		"header_section": section,
		"code_block":     code,
		"list":           list,
		"table":          table,
		"mixed":          "---\ntitle: Mixed\n---\n\n" + strings.Join([]string{section, code, list, table, prose}, "\n\n"),
	}
}

// TestChunkDocumentCoversCoarseFragments checks that the fine pass only ever
// re-slices a coarse fragment: every fine fragment is a slice of its coarse
// fragment, no word is lost, and each fine fragment carries the coarse label.
func TestChunkDocumentCoversCoarseFragments(t *testing.T) {
	for _, mode := range []indexing.CoarseMode{indexing.CoarseStructural, indexing.CoarseRecursive} {
		for name, text := range coverageDocs() {
			t.Run(string(mode)+"/"+name, func(t *testing.T) {
				chunker := indexing.NewChunker(indexing.WithCoarseMode(mode))
				doc := indexing.Document{Text: text, Metadata: map[string]any{indexing.MetaPath: name + ".mdx"}}

				coarse, err := chunker.CoarseSplit(doc)
				if err != nil {
					t.Fatalf("CoarseSplit failed: %v", err)
				}
				fragments, err := chunker.ChunkDocument(doc)
				if err != nil {
					t.Fatalf("ChunkDocument failed: %v", err)
				}

				multi := false
				next := 0
				for ci, cf := range coarse {
					label := indexing.Classify(cf.Text)
					cfg := indexing.ConfigFor(label)
					pieces, err := cfg.Splitter().SplitText(cf.Text)
					if err != nil {
						t.Fatalf("SplitText failed: %v", err)
					}
					if len(pieces) > 1 {
						multi = true
					}

					for pi, piece := range pieces {
						if next >= len(fragments) {
							t.Fatalf("coarse %d: ran out of fine fragments", ci)
						}
						f := fragments[next]
						next++
						if f.Text != piece {
							t.Errorf("coarse %d piece %d: fine fragment differs from the re-split", ci, pi)
						}
						if !strings.Contains(cf.Text, f.Text) {
							t.Errorf("coarse %d piece %d is not a slice of its coarse fragment: %q", ci, pi, f.Text)
						}
						if f.ContentType() != label {
							t.Errorf("coarse %d piece %d: content type %q, want %q", ci, pi, f.ContentType(), label)
						}
						if name != "mixed" && (label == indexing.ContentTable || label == indexing.ContentText) {
							if got := indexing.Classify(f.Text); got != label {
								t.Errorf("coarse %d piece %d reclassifies as %q, want %q", ci, pi, got, label)
							}
						}
					}

					for _, word := range strings.Fields(cf.Text) {
						if !slices.ContainsFunc(pieces, func(p string) bool { return strings.Contains(p, word) }) {
							t.Errorf("coarse %d: word %q lost by the fine pass", ci, word)
						}
					}
				}
				if next != len(fragments) {
					t.Errorf("%d fine fragments not accounted for", len(fragments)-next)
				}
				if !multi {
					t.Error("no coarse fragment was split by the fine pass")
				}

				again, err := chunker.ChunkDocument(doc)
				if err != nil {
					t.Fatalf("second ChunkDocument failed: %v", err)
				}
				if !slices.EqualFunc(fragments, again, func(a, b indexing.Fragment) bool {
					return a.Text == b.Text && a.ContentType() == b.ContentType()
				}) {
					t.Error("chunking the same document twice gave different fragments")
				}
			})
		}
	}
}
