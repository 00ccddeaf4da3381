package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mdxdocs/docs-mcp-server/internal/indexing"
)

// ValidateFrontmatterInput defines input for validate_frontmatter tool
type ValidateFrontmatterInput struct {
	Text string `json:"text,omitempty" jsonschema:"Document text starting with a YAML frontmatter block"`
	Path string `json:"path,omitempty" jsonschema:"Document path relative to the docs root, used when text is empty"`
}

// ValidateFrontmatterOutput defines output for validate_frontmatter tool
type ValidateFrontmatterOutput struct {
	Valid       bool                        `json:"valid"`
	Present     bool                        `json:"present"`
	Title       string                      `json:"title,omitempty"`
	Description string                      `json:"description,omitempty"`
	Issues      []indexing.FrontmatterIssue `json:"issues,omitempty"`
	Summary     string                      `json:"summary"`
}

func (s *docService) validateFrontmatter(ctx context.Context, req *mcp.CallToolRequest, input ValidateFrontmatterInput) (*mcp.CallToolResult, ValidateFrontmatterOutput, error) {
	text := input.Text
	if text == "" {
		path := strings.TrimPrefix(strings.TrimSpace(input.Path), "/")
		if path == "" {
			return nil, ValidateFrontmatterOutput{}, fmt.Errorf("either text or path is required")
		}
		doc, err := s.loader.Read(path)
		if err != nil {
			return nil, ValidateFrontmatterOutput{}, err
		}
		text = doc.Text
	}

	fm, _, err := indexing.SplitFrontmatter(text)
	if err != nil {
		// Malformed YAML is a finding, not a tool failure
		return nil, ValidateFrontmatterOutput{
			Present: true,
			Issues:  []indexing.FrontmatterIssue{{Path: "/", Message: err.Error()}},
			Summary: "Frontmatter is not valid YAML",
		}, nil
	}

	out := ValidateFrontmatterOutput{
		Present:     fm.Present(),
		Title:       fm.Title,
		Description: fm.Description,
	}
	if s.processor.Validator != nil {
		out.Issues = s.processor.Validator.Validate(fm)
	}
	out.Valid = len(out.Issues) == 0

	switch {
	case out.Valid:
		out.Summary = "Frontmatter is valid"
	case !out.Present:
		out.Summary = fmt.Sprintf("Document has no frontmatter (%d issues)", len(out.Issues))
	default:
		out.Summary = fmt.Sprintf("Frontmatter has %d issues", len(out.Issues))
	}
	return nil, out, nil
}
