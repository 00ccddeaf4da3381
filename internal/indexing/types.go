package indexing

// ContentType labels what a fragment of documentation contains.
// The set is closed; Classify always returns one of these.
type ContentType string

const (
	ContentFrontmatter   ContentType = "frontmatter"
	ContentCodeBlock     ContentType = "code_block"
	ContentHeaderSection ContentType = "header_section"
	ContentHeader        ContentType = "header"
	ContentTable         ContentType = "table"
	ContentList          ContentType = "list"
	ContentText          ContentType = "text"
)

// ContentTypes lists every label in classification priority order.
var ContentTypes = []ContentType{
	ContentFrontmatter,
	ContentCodeBlock,
	ContentHeaderSection,
	ContentHeader,
	ContentTable,
	ContentList,
	ContentText,
}

// ParseContentType maps a label string back to its ContentType.
func ParseContentType(s string) (ContentType, bool) {
	for _, ct := range ContentTypes {
		if string(ct) == s {
			return ct, true
		}
	}
	return ContentText, false
}

// Metadata keys set by the loader and the chunker
const (
	MetaSource      = "source"       // full filesystem path of the document
	MetaPath        = "path"         // slash path relative to the docs root
	MetaContentType = "content_type" // stamped on every fine fragment
)

// Document is one loaded source file. The chunker never mutates it.
type Document struct {
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata"`
}

// Fragment is a contiguous slice of a document plus the document's metadata
// and the content_type stamp.
type Fragment struct {
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata"`
}

// ContentType returns the stamped label, or text when the fragment was never classified.
func (f Fragment) ContentType() ContentType {
	if s, ok := f.Metadata[MetaContentType].(string); ok {
		ct, _ := ParseContentType(s)
		return ct
	}
	return ContentText
}

// DocChunk represents an enriched documentation chunk in the search index
type DocChunk struct {
	ID          string   `json:"id"`
	Path        string   `json:"path"`                  // Document path relative to the docs root
	ChunkIndex  int      `json:"chunk_index"`           // Position within the document
	ContentType string   `json:"content_type"`          // Label from Classify
	Title       string   `json:"title,omitempty"`       // Frontmatter title
	Description string   `json:"description,omitempty"` // Frontmatter description
	Heading     string   `json:"heading,omitempty"`     // Most recent header above this chunk
	Content     string   `json:"content"`
	URL         string   `json:"url,omitempty"`
	Breadcrumb  string   `json:"breadcrumb,omitempty"`  // "Title > Heading"
	Keywords    []string `json:"keywords,omitempty"`    // Key terms extracted from content
	TokenCount  int      `json:"token_count,omitempty"` // Estimated token count for monitoring
	Hash        string   `json:"hash,omitempty"`        // sha256 of the whole source document
}
