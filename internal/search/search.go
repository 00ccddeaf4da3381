// Package search keeps the full-text index of documentation chunks.
package search

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/mdxdocs/docs-mcp-server/internal/indexing"
)

const (
	// DefaultLimit is the result count when a query does not set one
	DefaultLimit = 10
	// MaxLimit caps the result count of one query
	MaxLimit = 20

	batchSize = 100
	pageSize  = 500
)

// ErrIndexNotReady is returned when no index is open.
var ErrIndexNotReady = errors.New("search index not ready")

// Query selects chunks. Empty filters match everything.
type Query struct {
	Text        string `json:"text"`
	ContentType string `json:"content_type,omitempty"`
	Path        string `json:"path,omitempty"`
	Limit       int    `json:"limit,omitempty"`
}

// Hit is one ranked chunk.
type Hit struct {
	Chunk indexing.DocChunk `json:"chunk"`
	Score float64           `json:"score"`
}

func (q Query) limit() int {
	if q.Limit <= 0 {
		return DefaultLimit
	}
	if q.Limit > MaxLimit {
		return MaxLimit
	}
	return q.Limit
}

func (q Query) build() query.Query {
	var parts []query.Query
	if strings.TrimSpace(q.Text) != "" {
		parts = append(parts, bleve.NewMatchQuery(q.Text))
	}
	if q.ContentType != "" {
		parts = append(parts, termQuery("content_type", q.ContentType))
	}
	if q.Path != "" {
		parts = append(parts, termQuery("path", q.Path))
	}

	switch len(parts) {
	case 0:
		return bleve.NewMatchAllQuery()
	case 1:
		return parts[0]
	default:
		return bleve.NewConjunctionQuery(parts...)
	}
}

func termQuery(field, value string) query.Query {
	tq := bleve.NewTermQuery(value)
	tq.SetField(field)
	return tq
}

// Search runs q against idx and returns the ranked hits plus the total match count.
func Search(ctx context.Context, idx Index, q Query) ([]Hit, uint64, error) {
	if idx == nil {
		return nil, 0, ErrIndexNotReady
	}

	req := bleve.NewSearchRequest(q.build())
	req.Size = q.limit()
	req.Fields = []string{"*"}

	res, err := idx.Search(ctx, req)
	if err != nil {
		return nil, 0, fmt.Errorf("search failed: %w", err)
	}

	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		hits = append(hits, Hit{Chunk: chunkFromFields(h.ID, h.Fields), Score: h.Score})
	}
	return hits, res.Total, nil
}

// ChunksForPath returns every chunk of one document ordered by ChunkIndex.
func ChunksForPath(ctx context.Context, idx Index, path string) ([]indexing.DocChunk, error) {
	if idx == nil {
		return nil, ErrIndexNotReady
	}

	var chunks []indexing.DocChunk
	for from := 0; ; from += pageSize {
		req := bleve.NewSearchRequestOptions(termQuery("path", path), pageSize, from, false)
		req.Fields = []string{"*"}

		res, err := idx.Search(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("failed to load chunks of %s: %w", path, err)
		}
		for _, h := range res.Hits {
			chunks = append(chunks, chunkFromFields(h.ID, h.Fields))
		}
		if len(res.Hits) < pageSize {
			break
		}
	}

	sort.Slice(chunks, func(i, j int) bool {
		return chunks[i].ChunkIndex < chunks[j].ChunkIndex
	})
	return chunks, nil
}

// AssembleDocument rebuilds a document body from its chunks.
func AssembleDocument(chunks []indexing.DocChunk) string {
	sorted := make([]indexing.DocChunk, len(chunks))
	copy(sorted, chunks)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].ChunkIndex < sorted[j].ChunkIndex
	})

	parts := make([]string, len(sorted))
	for i, c := range sorted {
		parts[i] = c.Content
	}
	return strings.Join(parts, "\n\n")
}

// IndexChunks adds chunks to idx in batches of 100.
func IndexChunks(idx Index, chunks []indexing.DocChunk) error {
	batch := idx.NewBatch()
	for _, chunk := range chunks {
		if err := batch.Index(chunk.ID, chunk); err != nil {
			return fmt.Errorf("failed to add chunk %s to batch: %w", chunk.ID, err)
		}
		if batch.Size() >= batchSize {
			if err := idx.Batch(batch); err != nil {
				return fmt.Errorf("failed to index batch: %w", err)
			}
			batch = idx.NewBatch()
		}
	}

	if batch.Size() > 0 {
		if err := idx.Batch(batch); err != nil {
			return fmt.Errorf("failed to index final batch: %w", err)
		}
	}
	return nil
}

// DeletePath removes every chunk of path and reports how many were removed.
func DeletePath(ctx context.Context, idx Index, path string) (int, error) {
	if idx == nil {
		return 0, ErrIndexNotReady
	}

	var ids []string
	for from := 0; ; from += pageSize {
		req := bleve.NewSearchRequestOptions(termQuery("path", path), pageSize, from, false)
		res, err := idx.Search(ctx, req)
		if err != nil {
			return 0, fmt.Errorf("failed to find chunks of %s: %w", path, err)
		}
		for _, h := range res.Hits {
			ids = append(ids, h.ID)
		}
		if len(res.Hits) < pageSize {
			break
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}

	batch := idx.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}
	if err := idx.Batch(batch); err != nil {
		return 0, fmt.Errorf("failed to delete chunks of %s: %w", path, err)
	}
	return len(ids), nil
}

// chunkFromFields rebuilds a DocChunk from stored fields. Numbers come back
// as float64, and a single-element slice comes back as a bare value.
func chunkFromFields(id string, fields map[string]any) indexing.DocChunk {
	chunk := indexing.DocChunk{ID: id}
	str := func(key string) string {
		s, _ := fields[key].(string)
		return s
	}
	num := func(key string) int {
		f, _ := fields[key].(float64)
		return int(f)
	}

	chunk.Path = str("path")
	chunk.ChunkIndex = num("chunk_index")
	chunk.ContentType = str("content_type")
	chunk.Title = str("title")
	chunk.Description = str("description")
	chunk.Heading = str("heading")
	chunk.Content = str("content")
	chunk.URL = str("url")
	chunk.Breadcrumb = str("breadcrumb")
	chunk.TokenCount = num("token_count")
	chunk.Hash = str("hash")

	switch kw := fields["keywords"].(type) {
	case []any:
		chunk.Keywords = make([]string, 0, len(kw))
		for _, k := range kw {
			if s, ok := k.(string); ok {
				chunk.Keywords = append(chunk.Keywords, s)
			}
		}
	case string:
		chunk.Keywords = []string{kw}
	}
	return chunk
}
