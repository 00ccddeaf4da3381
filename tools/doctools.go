package tools

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mdxdocs/docs-mcp-server/internal/indexing"
	"github.com/mdxdocs/docs-mcp-server/internal/search"
)

// SearchDocumentationInput defines input for search_documentation tool
type SearchDocumentationInput struct {
	Query       string `json:"query" jsonschema:"Search query for documentation"`
	MaxResults  int    `json:"max_results,omitempty" jsonschema:"Maximum number of results (optional)"`
	ContentType string `json:"content_type,omitempty" jsonschema:"Only return chunks of this content type (optional)"`
}

// SearchDocumentationOutput defines output for search_documentation tool
type SearchDocumentationOutput struct {
	Results   []search.Hit `json:"results"`
	Query     string       `json:"query"`
	TotalHits int          `json:"total_hits"`
}

func (s *docService) searchDocumentation(ctx context.Context, req *mcp.CallToolRequest, input SearchDocumentationInput) (*mcp.CallToolResult, SearchDocumentationOutput, error) {
	if strings.TrimSpace(input.Query) == "" {
		return nil, SearchDocumentationOutput{}, fmt.Errorf("query is required")
	}
	if input.ContentType != "" {
		if _, ok := indexing.ParseContentType(input.ContentType); !ok {
			return nil, SearchDocumentationOutput{}, fmt.Errorf("unknown content type %q", input.ContentType)
		}
	}
	if err := s.ensureIndex(ctx); err != nil {
		return nil, SearchDocumentationOutput{}, fmt.Errorf("failed to initialize documentation index: %w", err)
	}

	idx, release := s.holder.acquire()
	defer release()

	hits, total, err := search.Search(ctx, idx, search.Query{
		Text:        input.Query,
		ContentType: input.ContentType,
		Limit:       s.resultLimit(input.MaxResults),
	})
	if err != nil {
		return nil, SearchDocumentationOutput{}, err
	}

	return nil, SearchDocumentationOutput{
		Results:   hits,
		Query:     input.Query,
		TotalHits: int(total),
	}, nil
}

// resultLimit applies the configured default and cap.
func (s *docService) resultLimit(requested int) int {
	maxResults := min(s.cfg.Search.MaxResults, search.MaxLimit)
	if requested <= 0 {
		return min(s.cfg.Search.DefaultResults, maxResults)
	}
	return min(requested, maxResults)
}

// GetDocumentInput defines input for get_document tool
type GetDocumentInput struct {
	Path string `json:"path" jsonschema:"Document path relative to the docs root, e.g. guides/setup.mdx"`
}

// GetDocumentOutput defines output for get_document tool
type GetDocumentOutput struct {
	Path       string `json:"path"`
	Title      string `json:"title,omitempty"`
	URL        string `json:"url,omitempty"`
	Content    string `json:"content"`
	ChunkCount int    `json:"chunk_count"`
}

func (s *docService) getDocument(ctx context.Context, req *mcp.CallToolRequest, input GetDocumentInput) (*mcp.CallToolResult, GetDocumentOutput, error) {
	path := strings.TrimPrefix(strings.TrimSpace(input.Path), "/")
	if path == "" {
		return nil, GetDocumentOutput{}, fmt.Errorf("path is required")
	}
	if err := s.ensureIndex(ctx); err != nil {
		return nil, GetDocumentOutput{}, fmt.Errorf("failed to initialize documentation index: %w", err)
	}

	idx, release := s.holder.acquire()
	defer release()

	chunks, err := search.ChunksForPath(ctx, idx, path)
	if err != nil {
		return nil, GetDocumentOutput{}, err
	}
	if len(chunks) == 0 {
		return nil, GetDocumentOutput{}, fmt.Errorf("document %q is not indexed", path)
	}

	out := GetDocumentOutput{
		Path:       path,
		Title:      chunks[0].Title,
		Content:    search.AssembleDocument(chunks),
		ChunkCount: len(chunks),
	}
	out.URL, _, _ = strings.Cut(chunks[0].URL, "#")
	return nil, out, nil
}

// RefreshDocumentationIndexInput defines input for refresh_documentation_index tool
type RefreshDocumentationIndexInput struct {
	Force bool `json:"force,omitempty" jsonschema:"Rebuild even if no file changed (optional, defaults to false)"`
}

// RefreshDocumentationIndexOutput defines output for refresh_documentation_index tool
type RefreshDocumentationIndexOutput struct {
	Updated            bool      `json:"updated"`
	LastUpdate         time.Time `json:"last_update"`
	Documents          int       `json:"documents"`
	ChunksIndexed      int       `json:"chunks_indexed"`
	InvalidFrontmatter []string  `json:"invalid_frontmatter,omitempty"`
	Message            string    `json:"message"`
}

func (s *docService) refreshDocumentationIndex(ctx context.Context, req *mcp.CallToolRequest, input RefreshDocumentationIndexInput) (*mcp.CallToolResult, RefreshDocumentationIndexOutput, error) {
	if err := s.ensureIndex(ctx); err != nil {
		return nil, RefreshDocumentationIndexOutput{}, fmt.Errorf("failed to initialize documentation index: %w", err)
	}

	res, err := s.refresh(ctx, input.Force)
	if err != nil {
		return nil, RefreshDocumentationIndexOutput{}, fmt.Errorf("refresh failed: %w", err)
	}

	out := RefreshDocumentationIndexOutput{
		Updated:            res.updated,
		LastUpdate:         time.Now(),
		Documents:          res.documents,
		ChunksIndexed:      res.chunks,
		InvalidFrontmatter: res.invalid,
	}
	if res.updated {
		out.Message = fmt.Sprintf("Documentation refreshed successfully, %d chunks from %d documents indexed", res.chunks, res.documents)
	} else {
		out.Message = fmt.Sprintf("Index is up to date (%d documents)", res.documents)
	}
	return nil, out, nil
}

// SyncDocumentationInput defines input for sync_documentation tool
type SyncDocumentationInput struct {
	Changed []string `json:"changed,omitempty" jsonschema:"Paths of added or modified files, relative to the docs root"`
	Removed []string `json:"removed,omitempty" jsonschema:"Paths of deleted files, relative to the docs root"`
	Force   bool     `json:"force,omitempty" jsonschema:"Reindex files even if their content hash is unchanged"`
}

// SyncDocumentationOutput defines output for sync_documentation tool
type SyncDocumentationOutput struct {
	Stats   search.Stats `json:"stats"`
	Message string       `json:"message"`
}

func (s *docService) syncDocumentation(ctx context.Context, req *mcp.CallToolRequest, input SyncDocumentationInput) (*mcp.CallToolResult, SyncDocumentationOutput, error) {
	stats, err := s.sync(ctx, search.Request{
		Changed: input.Changed,
		Removed: input.Removed,
		Force:   input.Force,
	})
	if err != nil {
		return nil, SyncDocumentationOutput{}, fmt.Errorf("sync failed: %w", err)
	}

	return nil, SyncDocumentationOutput{
		Stats: stats,
		Message: fmt.Sprintf("%d processed, %d unchanged, %d deleted, %d errors",
			stats.Processed, stats.Skipped, stats.Deleted, stats.Errors),
	}, nil
}

// ChunkMarkdownInput defines input for chunk_markdown tool
type ChunkMarkdownInput struct {
	Text   string `json:"text" jsonschema:"Markdown or MDX content to chunk"`
	Source string `json:"source,omitempty" jsonschema:"Source name copied into chunk metadata (optional)"`
}

// MarkdownChunk is one fragment produced by chunk_markdown
type MarkdownChunk struct {
	Index       int            `json:"index"`
	ContentType string         `json:"content_type"`
	Text        string         `json:"text"`
	Characters  int            `json:"characters"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// ChunkMarkdownOutput defines output for chunk_markdown tool
type ChunkMarkdownOutput struct {
	Chunks []MarkdownChunk `json:"chunks"`
	Counts map[string]int  `json:"counts"`
	Mode   string          `json:"mode"`
}

func (s *docService) chunkMarkdown(ctx context.Context, req *mcp.CallToolRequest, input ChunkMarkdownInput) (*mcp.CallToolResult, ChunkMarkdownOutput, error) {
	var meta map[string]any
	if input.Source != "" {
		meta = map[string]any{indexing.MetaSource: input.Source}
	}

	fragments, err := s.chunker.ChunkText(input.Text, meta)
	if err != nil {
		return nil, ChunkMarkdownOutput{}, fmt.Errorf("chunking failed: %w", err)
	}

	out := ChunkMarkdownOutput{
		Chunks: make([]MarkdownChunk, 0, len(fragments)),
		Counts: indexing.CountByType(fragments),
		Mode:   string(s.chunker.Mode()),
	}
	for i, f := range fragments {
		out.Chunks = append(out.Chunks, MarkdownChunk{
			Index:       i,
			ContentType: string(f.ContentType()),
			Text:        f.Text,
			Characters:  utf8.RuneCountInString(f.Text),
			Metadata:    f.Metadata,
		})
	}
	return nil, out, nil
}

// ClassifyContentInput defines input for classify_content tool
type ClassifyContentInput struct {
	Text string `json:"text" jsonschema:"Markdown fragment to classify"`
}

// ClassifyContentOutput defines output for classify_content tool
type ClassifyContentOutput struct {
	ContentType string                  `json:"content_type"`
	Splitter    indexing.SplitterConfig `json:"splitter"`
}

func (s *docService) classifyContent(ctx context.Context, req *mcp.CallToolRequest, input ClassifyContentInput) (*mcp.CallToolResult, ClassifyContentOutput, error) {
	ct := indexing.Classify(input.Text)
	return nil, ClassifyContentOutput{
		ContentType: string(ct),
		Splitter:    indexing.ConfigFor(ct),
	}, nil
}
