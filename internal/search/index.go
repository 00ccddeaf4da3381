package search

import (
	"context"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
)

// Index is an interface that abstracts bleve.Index operations
// This allows for easier testing with mocks
type Index interface {
	// Search executes a search request
	Search(ctx context.Context, req *bleve.SearchRequest) (*bleve.SearchResult, error)

	// DocCount returns the number of documents in the index
	DocCount() (uint64, error)

	// NewBatch starts a batch of index and delete operations
	NewBatch() *bleve.Batch

	// Batch applies a batch
	Batch(b *bleve.Batch) error

	// Close closes the index
	Close() error
}

// bleveIndexWrapper wraps a bleve.Index to implement our Index interface
type bleveIndexWrapper struct {
	index bleve.Index
}

// Wrap adapts a bleve.Index to Index.
func Wrap(index bleve.Index) Index {
	return &bleveIndexWrapper{index: index}
}

func (w *bleveIndexWrapper) Search(ctx context.Context, req *bleve.SearchRequest) (*bleve.SearchResult, error) {
	return w.index.SearchInContext(ctx, req)
}

func (w *bleveIndexWrapper) DocCount() (uint64, error) {
	return w.index.DocCount()
}

func (w *bleveIndexWrapper) NewBatch() *bleve.Batch {
	return w.index.NewBatch()
}

func (w *bleveIndexWrapper) Batch(b *bleve.Batch) error {
	return w.index.Batch(b)
}

func (w *bleveIndexWrapper) Close() error {
	return w.index.Close()
}

// Keyword fields are matched exactly and never analyzed.
var keywordFields = []string{"id", "path", "content_type", "hash"}

// NewIndexMapping returns the mapping for DocChunk documents.
func NewIndexMapping() mapping.IndexMapping {
	docMapping := bleve.NewDocumentMapping()
	for _, field := range keywordFields {
		docMapping.AddFieldMappingsAt(field, bleve.NewKeywordFieldMapping())
	}

	im := bleve.NewIndexMapping()
	im.DefaultMapping = docMapping
	return im
}

// NewMemOnly creates an empty in-memory index with the chunk mapping.
func NewMemOnly() (Index, error) {
	idx, err := bleve.NewMemOnly(NewIndexMapping())
	if err != nil {
		return nil, err
	}
	return Wrap(idx), nil
}
