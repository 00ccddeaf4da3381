package indexing

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mdxdocs/docs-mcp-server/internal/telemetry"
)

// Processor turns raw documentation files into index-ready chunks:
// frontmatter is split off and validated, the body is chunked and enriched.
type Processor struct {
	Chunker   *Chunker
	Validator *FrontmatterValidator // optional
	BaseURL   string
	Recorder  *telemetry.Recorder // optional
}

// Processed is the result for one document.
type Processed struct {
	Path        string
	Hash        string
	Frontmatter Frontmatter
	Issues      []FrontmatterIssue
	Chunks      []DocChunk
}

// Process runs one loaded document through the pipeline. The hash covers the
// file as loaded, frontmatter included.
func (p *Processor) Process(ctx context.Context, doc Document) (Processed, error) {
	path, _ := doc.Metadata[MetaPath].(string)
	out := Processed{Path: path, Hash: ContentHash(doc.Text)}

	fm, body, err := SplitFrontmatter(doc.Text)
	if err != nil {
		return out, fmt.Errorf("%s: %w", path, err)
	}
	out.Frontmatter = fm
	if p.Validator != nil {
		out.Issues = p.Validator.Validate(fm)
	}

	chunker := p.Chunker
	if chunker == nil {
		chunker = NewChunker()
	}

	start := time.Now()
	fragments, err := chunker.ChunkDocument(Document{Text: body, Metadata: doc.Metadata})
	if err != nil {
		return out, fmt.Errorf("failed to chunk %s: %w", path, err)
	}
	p.Recorder.RecordDocument(ctx, CountByType(fragments), time.Since(start))

	out.Chunks = Enrich(doc, fragments, EnrichOptions{
		Frontmatter: fm,
		BaseURL:     p.BaseURL,
		Hash:        out.Hash,
	})
	return out, nil
}

// ProcessAll processes docs with up to workers goroutines, keeping input order.
func (p *Processor) ProcessAll(ctx context.Context, docs []Document, workers int) ([]Processed, error) {
	results := make([]Processed, len(docs))

	g, ctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}
	for i, doc := range docs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			res, err := p.Process(ctx, doc)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
