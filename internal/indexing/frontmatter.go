package indexing

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed frontmatter.schema.json
var defaultFrontmatterSchema []byte

const defaultSchemaURL = "https://docs-mcp-server.local/schema/frontmatter.json"

// Frontmatter is the YAML header of a documentation page.
type Frontmatter struct {
	Title       string         `json:"title,omitempty"`
	Description string         `json:"description,omitempty"`
	Fields      map[string]any `json:"fields,omitempty"`
}

// Present reports whether the document carried a frontmatter block.
func (f Frontmatter) Present() bool {
	return f.Fields != nil
}

// SplitFrontmatter separates a leading "---" delimited YAML block from the body.
// Content without frontmatter is returned unchanged.
func SplitFrontmatter(content string) (Frontmatter, string, error) {
	raw, body, ok := cutFrontmatter(content)
	if !ok {
		return Frontmatter{}, content, nil
	}

	fields := map[string]any{}
	if strings.TrimSpace(raw) != "" {
		if err := yaml.Unmarshal([]byte(raw), &fields); err != nil {
			return Frontmatter{}, content, fmt.Errorf("failed to parse frontmatter: %w", err)
		}
		if fields == nil {
			fields = map[string]any{}
		}
	}
	fields = normalizeYAML(fields).(map[string]any)

	fm := Frontmatter{Fields: fields}
	fm.Title, _ = fields["title"].(string)
	fm.Description, _ = fields["description"].(string)
	return fm, body, nil
}

func cutFrontmatter(content string) (raw, body string, ok bool) {
	first, rest, found := strings.Cut(content, "\n")
	if !found || strings.TrimSpace(first) != "---" {
		return "", "", false
	}

	offset := 0
	for {
		line, after, more := strings.Cut(rest[offset:], "\n")
		if strings.TrimSpace(line) == "---" {
			return rest[:offset], after, true
		}
		if !more {
			return "", "", false
		}
		offset += len(line) + 1
	}
}

// normalizeYAML converts decoded YAML into plain JSON values the schema
// validator understands.
func normalizeYAML(v any) any {
	switch val := v.(type) {
	case map[string]any:
		for k, item := range val {
			val[k] = normalizeYAML(item)
		}
		return val
	case map[any]any:
		m := make(map[string]any, len(val))
		for k, item := range val {
			m[fmt.Sprint(k)] = normalizeYAML(item)
		}
		return m
	case []any:
		for i, item := range val {
			val[i] = normalizeYAML(item)
		}
		return val
	case time.Time:
		return val.Format(time.RFC3339)
	default:
		return v
	}
}

// FrontmatterIssue is one schema violation, located by JSON pointer.
type FrontmatterIssue struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// FrontmatterValidator checks frontmatter fields against a JSON Schema.
type FrontmatterValidator struct {
	schema *jsonschema.Schema
}

// NewFrontmatterValidator compiles schemaJSON. A nil schema selects the
// built-in one, which requires a string title.
func NewFrontmatterValidator(schemaJSON []byte) (*FrontmatterValidator, error) {
	if schemaJSON == nil {
		schemaJSON = defaultFrontmatterSchema
	}

	var schemaDoc any
	if err := json.Unmarshal(schemaJSON, &schemaDoc); err != nil {
		return nil, fmt.Errorf("invalid frontmatter schema: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(defaultSchemaURL, schemaDoc); err != nil {
		return nil, fmt.Errorf("failed to add frontmatter schema: %w", err)
	}
	schema, err := compiler.Compile(defaultSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("failed to compile frontmatter schema: %w", err)
	}
	return &FrontmatterValidator{schema: schema}, nil
}

// Validate returns the schema violations of fm. No issues means valid.
func (v *FrontmatterValidator) Validate(fm Frontmatter) []FrontmatterIssue {
	fields := fm.Fields
	if fields == nil {
		fields = map[string]any{}
	}

	err := v.schema.Validate(any(fields))
	if err == nil {
		return nil
	}

	var validationErr *jsonschema.ValidationError
	if !errors.As(err, &validationErr) {
		return []FrontmatterIssue{{Path: "/", Message: err.Error()}}
	}
	return collectIssues(validationErr)
}

func collectIssues(ve *jsonschema.ValidationError) []FrontmatterIssue {
	if len(ve.Causes) == 0 {
		return []FrontmatterIssue{{
			Path:    "/" + strings.Join(ve.InstanceLocation, "/"),
			Message: ve.Error(),
		}}
	}

	var issues []FrontmatterIssue
	for _, cause := range ve.Causes {
		issues = append(issues, collectIssues(cause)...)
	}
	return issues
}
