package search

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"

	"github.com/mdxdocs/docs-mcp-server/internal/indexing"
	"github.com/mdxdocs/docs-mcp-server/internal/logger"
	"github.com/mdxdocs/docs-mcp-server/internal/manifest"
)

// Request lists the documents a sync should look at, as slash paths
// relative to the docs root.
type Request struct {
	Changed []string `json:"changed,omitempty"`
	Removed []string `json:"removed,omitempty"`
	// Force reindexes files whose content hash did not change
	Force bool `json:"force,omitempty"`
}

// Stats summarizes one sync run.
type Stats struct {
	Processed          int      `json:"processed"`
	Skipped            int      `json:"skipped"`
	Deleted            int      `json:"deleted"`
	Errors             int      `json:"errors"`
	Chunks             int      `json:"chunks"`
	ErrorFiles         []string `json:"error_files,omitempty"`
	InvalidFrontmatter []string `json:"invalid_frontmatter,omitempty"`
}

// Syncer applies incremental document changes to an open index.
type Syncer struct {
	index     Index
	store     *manifest.Store
	loader    *indexing.DirectoryLoader
	processor *indexing.Processor
}

// NewSyncer wires a syncer. store may be nil, in which case every changed
// file is reindexed.
func NewSyncer(idx Index, store *manifest.Store, loader *indexing.DirectoryLoader, processor *indexing.Processor) *Syncer {
	if processor == nil {
		processor = &indexing.Processor{}
	}
	return &Syncer{index: idx, store: store, loader: loader, processor: processor}
}

// Sync reindexes changed files and drops removed ones. A file that fails is
// counted and logged; the rest of the batch still runs.
func (s *Syncer) Sync(ctx context.Context, req Request) (Stats, error) {
	var stats Stats
	if s.index == nil {
		return stats, ErrIndexNotReady
	}

	for _, p := range dedupe(req.Removed) {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if err := s.remove(ctx, p); err != nil {
			logger.Error("Failed to remove document", "path", p, "err", err)
			stats.Errors++
			stats.ErrorFiles = append(stats.ErrorFiles, p)
			continue
		}
		stats.Deleted++
	}

	for _, p := range dedupe(req.Changed) {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if !s.loader.Match(p) {
			logger.Debug("Ignoring file outside docs glob", "path", p)
			continue
		}

		outcome, err := s.update(ctx, p, req.Force)
		if err != nil {
			logger.Error("Failed to sync document", "path", p, "err", err)
			stats.Errors++
			stats.ErrorFiles = append(stats.ErrorFiles, p)
			continue
		}
		if outcome.skipped {
			stats.Skipped++
			continue
		}
		stats.Processed++
		stats.Chunks += outcome.chunks
		if outcome.invalid {
			stats.InvalidFrontmatter = append(stats.InvalidFrontmatter, p)
		}
	}

	logger.Info("✓ Sync finished",
		"processed", stats.Processed, "skipped", stats.Skipped,
		"deleted", stats.Deleted, "errors", stats.Errors)
	return stats, nil
}

// SyncAll syncs every file matching the loader glob and removes manifest
// entries whose files are gone. Without a manifest nothing is removed.
func (s *Syncer) SyncAll(ctx context.Context, force bool) (Stats, error) {
	paths, err := s.loader.List()
	if err != nil {
		return Stats{}, err
	}

	req := Request{Changed: paths, Force: force}
	if s.store != nil {
		entries, err := s.store.List(ctx)
		if err != nil {
			return Stats{}, err
		}
		present := make(map[string]bool, len(paths))
		for _, p := range paths {
			present[p] = true
		}
		for _, e := range entries {
			if !present[e.Path] {
				req.Removed = append(req.Removed, e.Path)
			}
		}
	}
	return s.Sync(ctx, req)
}

type updateOutcome struct {
	skipped bool
	invalid bool
	chunks  int
}

func (s *Syncer) update(ctx context.Context, p string, force bool) (updateOutcome, error) {
	doc, err := s.loader.Read(p)
	if err != nil {
		return updateOutcome{}, err
	}

	if !force && s.store != nil {
		entry, err := s.store.Get(ctx, p)
		switch {
		case err == nil && entry.Hash == indexing.ContentHash(doc.Text):
			return updateOutcome{skipped: true}, nil
		case err != nil && !errors.Is(err, manifest.ErrNotFound):
			return updateOutcome{}, err
		}
	}

	res, err := s.processor.Process(ctx, doc)
	if err != nil {
		return updateOutcome{}, err
	}
	for _, issue := range res.Issues {
		logger.Warn("Invalid frontmatter", "path", p, "field", issue.Path, "issue", issue.Message)
	}

	if _, err := DeletePath(ctx, s.index, p); err != nil {
		return updateOutcome{}, err
	}
	if err := IndexChunks(s.index, res.Chunks); err != nil {
		return updateOutcome{}, fmt.Errorf("failed to index %s: %w", p, err)
	}

	if s.store != nil {
		err := s.store.Put(ctx, manifest.Entry{
			Path:       p,
			Hash:       res.Hash,
			Title:      res.Frontmatter.Title,
			ChunkCount: len(res.Chunks),
		})
		if err != nil {
			return updateOutcome{}, err
		}
	}
	return updateOutcome{invalid: len(res.Issues) > 0, chunks: len(res.Chunks)}, nil
}

func (s *Syncer) remove(ctx context.Context, p string) error {
	if _, err := DeletePath(ctx, s.index, p); err != nil {
		return err
	}
	if s.store == nil {
		return nil
	}
	if err := s.store.Delete(ctx, p); err != nil && !errors.Is(err, manifest.ErrNotFound) {
		return err
	}
	return nil
}

func dedupe(paths []string) []string {
	seen := make(map[string]bool, len(paths))
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		p = path.Clean(p)
		if seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Corpus is the outcome of processing a whole docs tree for a full rebuild.
type Corpus struct {
	Documents []indexing.Processed
}

// ProcessCorpus loads and processes every file the loader lists.
func ProcessCorpus(ctx context.Context, loader *indexing.DirectoryLoader, processor *indexing.Processor, workers int) (Corpus, error) {
	docs, err := loader.Load(ctx)
	if err != nil {
		return Corpus{}, err
	}
	processed, err := processor.ProcessAll(ctx, docs, workers)
	if err != nil {
		return Corpus{}, err
	}
	return Corpus{Documents: processed}, nil
}

// Chunks returns every chunk in document order.
func (c Corpus) Chunks() []indexing.DocChunk {
	var all []indexing.DocChunk
	for _, d := range c.Documents {
		all = append(all, d.Chunks...)
	}
	return all
}

// Entries returns the manifest entries describing the corpus.
func (c Corpus) Entries() []manifest.Entry {
	entries := make([]manifest.Entry, 0, len(c.Documents))
	for _, d := range c.Documents {
		entries = append(entries, manifest.Entry{
			Path:       d.Path,
			Hash:       d.Hash,
			Title:      d.Frontmatter.Title,
			ChunkCount: len(d.Chunks),
		})
	}
	return entries
}

// InvalidFrontmatter lists documents whose frontmatter failed validation.
func (c Corpus) InvalidFrontmatter() []string {
	var paths []string
	for _, d := range c.Documents {
		if len(d.Issues) > 0 {
			paths = append(paths, d.Path)
		}
	}
	return paths
}
