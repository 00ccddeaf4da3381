package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mdxdocs/docs-mcp-server/internal/manifest"
)

// ListDocumentsInput defines input for list_documents tool
type ListDocumentsInput struct {
	Prefix string `json:"prefix,omitempty" jsonschema:"Only list documents whose path starts with this prefix (optional)"`
}

// ListDocumentsOutput defines output for list_documents tool
type ListDocumentsOutput struct {
	Documents   []manifest.Entry `json:"documents"`
	Total       int              `json:"total"`
	TotalChunks int              `json:"total_chunks"`
}

func (s *docService) listDocuments(ctx context.Context, req *mcp.CallToolRequest, input ListDocumentsInput) (*mcp.CallToolResult, ListDocumentsOutput, error) {
	if err := s.ensureIndex(ctx); err != nil {
		return nil, ListDocumentsOutput{}, fmt.Errorf("failed to initialize documentation index: %w", err)
	}

	entries, err := s.store.List(ctx)
	if err != nil {
		return nil, ListDocumentsOutput{}, err
	}

	prefix := strings.TrimPrefix(strings.TrimSpace(input.Prefix), "/")
	out := ListDocumentsOutput{Documents: []manifest.Entry{}}
	for _, e := range entries {
		if prefix != "" && !strings.HasPrefix(e.Path, prefix) {
			continue
		}
		out.Documents = append(out.Documents, e)
		out.TotalChunks += e.ChunkCount
	}
	out.Total = len(out.Documents)
	return nil, out, nil
}
