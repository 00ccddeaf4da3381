package indexing

import (
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/textsplitter"
)

// Chunker runs the two-pass hybrid split: a coarse structural pass, then a
// content-aware re-split of every coarse fragment.
type Chunker struct {
	mode   CoarseMode
	coarse SplitterConfig
}

// ChunkerOption configures a Chunker.
type ChunkerOption func(*Chunker)

// WithCoarseMode selects how the first pass cuts documents.
func WithCoarseMode(mode CoarseMode) ChunkerOption {
	return func(c *Chunker) {
		if mode == CoarseRecursive || mode == CoarseStructural {
			c.mode = mode
		}
	}
}

// NewChunker creates a Chunker. The default coarse mode is structural.
func NewChunker(opts ...ChunkerOption) *Chunker {
	c := &Chunker{
		mode:   CoarseStructural,
		coarse: CoarseConfig(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Mode reports the coarse mode in use.
func (c *Chunker) Mode() CoarseMode {
	return c.mode
}

// ChunkDocument splits one document into content-typed fragments.
// Every fragment carries a copy of the document metadata plus content_type.
func (c *Chunker) ChunkDocument(doc Document) ([]Fragment, error) {
	if strings.TrimSpace(doc.Text) == "" {
		return nil, nil
	}

	coarse, err := c.CoarseSplit(doc)
	if err != nil {
		return nil, err
	}

	var fragments []Fragment
	for _, cf := range coarse {
		contentType := Classify(cf.Text)
		fine, err := splitFragment(ConfigFor(contentType), cf.Text, cf.Metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to split %s fragment: %w", contentType, err)
		}
		for i := range fine {
			fine[i].Metadata[MetaContentType] = string(contentType)
		}
		fragments = append(fragments, fine...)
	}

	return fragments, nil
}

// ChunkText is ChunkDocument for a bare string.
func (c *Chunker) ChunkText(text string, metadata map[string]any) ([]Fragment, error) {
	return c.ChunkDocument(Document{Text: text, Metadata: metadata})
}

// CoarseSplit runs only the first pass. Fragments come back in source order
// and are not classified.
func (c *Chunker) CoarseSplit(doc Document) ([]Fragment, error) {
	if c.mode == CoarseRecursive {
		return splitFragment(c.coarse, doc.Text, doc.Metadata)
	}

	groups := groupBlocks(doc.Text, scanBlocks(doc.Text), c.coarse.ChunkSize)
	var coarse []Fragment
	for _, g := range groups {
		parts, err := splitFragment(c.coarse, doc.Text[g.start:g.end], doc.Metadata)
		if err != nil {
			return nil, err
		}
		coarse = append(coarse, parts...)
	}
	return coarse, nil
}

// splitFragment splits text with cfg. Each resulting fragment gets its own
// copy of metadata.
func splitFragment(cfg SplitterConfig, text string, metadata map[string]any) ([]Fragment, error) {
	docs, err := textsplitter.CreateDocuments(cfg.Splitter(), []string{text}, []map[string]any{metadata})
	if err != nil {
		return nil, err
	}

	fragments := make([]Fragment, 0, len(docs))
	for _, d := range docs {
		fragments = append(fragments, Fragment{Text: d.PageContent, Metadata: d.Metadata})
	}
	return fragments, nil
}
