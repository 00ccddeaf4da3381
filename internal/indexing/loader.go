package indexing

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/sync/errgroup"

	"github.com/mdxdocs/docs-mcp-server/internal/telemetry"
)

// DirectoryLoader reads documentation files matching a glob from a tree.
type DirectoryLoader struct {
	fsys fs.FS
	root string
	glob string
}

// NewDirectoryLoader creates a loader over dir. An empty glob selects DefaultGlob.
func NewDirectoryLoader(dir, glob string) *DirectoryLoader {
	return NewFSLoader(os.DirFS(dir), dir, glob)
}

// NewFSLoader creates a loader over fsys. root is only used to build the
// source metadata of loaded documents.
func NewFSLoader(fsys fs.FS, root, glob string) *DirectoryLoader {
	if glob == "" {
		glob = DefaultGlob
	}
	return &DirectoryLoader{fsys: fsys, root: root, glob: glob}
}

// Glob returns the pattern documents are selected with.
func (l *DirectoryLoader) Glob() string {
	return l.glob
}

// Match reports whether a slash path relative to the root is a documentation file.
func (l *DirectoryLoader) Match(rel string) bool {
	ok, _ := doublestar.Match(l.glob, rel)
	return ok
}

// List returns the relative paths of all documentation files, sorted.
func (l *DirectoryLoader) List() ([]string, error) {
	if _, err := fs.Stat(l.fsys, "."); err != nil {
		return nil, fmt.Errorf("failed to open docs directory %s: %w", l.root, err)
	}

	paths, err := doublestar.Glob(l.fsys, l.glob, doublestar.WithFilesOnly(), doublestar.WithFailOnIOErrors())
	if err != nil {
		return nil, fmt.Errorf("failed to list documents in %s: %w", l.root, err)
	}
	sort.Strings(paths)
	return paths, nil
}

// Read loads one document by relative slash path. Line endings are normalized to LF.
func (l *DirectoryLoader) Read(rel string) (Document, error) {
	data, err := fs.ReadFile(l.fsys, rel)
	if err != nil {
		return Document{}, fmt.Errorf("failed to read %s: %w", rel, err)
	}

	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	return Document{
		Text: text,
		Metadata: map[string]any{
			MetaSource: filepath.Join(l.root, filepath.FromSlash(rel)),
			MetaPath:   rel,
		},
	}, nil
}

// Load reads every documentation file in lexical path order.
func (l *DirectoryLoader) Load(ctx context.Context) ([]Document, error) {
	paths, err := l.List()
	if err != nil {
		return nil, err
	}

	docs := make([]Document, 0, len(paths))
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		doc, err := l.Read(p)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

type loaderOptions struct {
	glob             string
	workers          int
	chunker          *Chunker
	recorder         *telemetry.Recorder
	stripFrontmatter bool
}

// LoaderOption configures LoadAndChunk.
type LoaderOption func(*loaderOptions)

// WithGlob overrides the documentation glob.
func WithGlob(glob string) LoaderOption {
	return func(o *loaderOptions) { o.glob = glob }
}

// WithWorkers bounds how many documents are chunked concurrently.
func WithWorkers(n int) LoaderOption {
	return func(o *loaderOptions) {
		if n > 0 {
			o.workers = n
		}
	}
}

// WithChunker replaces the default structural chunker.
func WithChunker(c *Chunker) LoaderOption {
	return func(o *loaderOptions) {
		if c != nil {
			o.chunker = c
		}
	}
}

// WithRecorder records chunking metrics.
func WithRecorder(r *telemetry.Recorder) LoaderOption {
	return func(o *loaderOptions) { o.recorder = r }
}

// WithStripFrontmatter drops the YAML header before chunking. Title and
// description are still added to the fragment metadata.
func WithStripFrontmatter(strip bool) LoaderOption {
	return func(o *loaderOptions) { o.stripFrontmatter = strip }
}

// LoadAndChunk loads every documentation file under dir and chunks it.
// Fragments come back in loader order, then chunker order within a document.
func LoadAndChunk(ctx context.Context, dir string, opts ...LoaderOption) ([]Fragment, error) {
	o := loaderOptions{workers: runtime.GOMAXPROCS(0)}
	for _, opt := range opts {
		opt(&o)
	}
	if o.chunker == nil {
		o.chunker = NewChunker()
	}

	docs, err := NewDirectoryLoader(dir, o.glob).Load(ctx)
	if err != nil {
		return nil, err
	}

	if o.stripFrontmatter {
		for i := range docs {
			if docs[i], err = stripFrontmatter(docs[i]); err != nil {
				return nil, err
			}
		}
	}

	return ChunkDocuments(ctx, o.chunker, docs, o.workers, o.recorder)
}

// ChunkDocuments chunks docs with up to workers goroutines. Results keep the
// order of docs regardless of which document finishes first.
func ChunkDocuments(ctx context.Context, chunker *Chunker, docs []Document, workers int, recorder *telemetry.Recorder) ([]Fragment, error) {
	results := make([][]Fragment, len(docs))

	g, ctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}
	for i, doc := range docs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			start := time.Now()
			fragments, err := chunker.ChunkDocument(doc)
			if err != nil {
				path, _ := doc.Metadata[MetaPath].(string)
				return fmt.Errorf("failed to chunk %s: %w", path, err)
			}
			recorder.RecordDocument(ctx, CountByType(fragments), time.Since(start))
			results[i] = fragments
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []Fragment
	for _, r := range results {
		all = append(all, r...)
	}
	return all, nil
}

// CountByType tallies fragments per content type label.
func CountByType(fragments []Fragment) map[string]int {
	counts := make(map[string]int)
	for _, f := range fragments {
		counts[string(f.ContentType())]++
	}
	return counts
}

func stripFrontmatter(doc Document) (Document, error) {
	fm, body, err := SplitFrontmatter(doc.Text)
	if err != nil {
		path, _ := doc.Metadata[MetaPath].(string)
		return Document{}, fmt.Errorf("%s: %w", path, err)
	}

	meta := make(map[string]any, len(doc.Metadata)+2)
	for k, v := range doc.Metadata {
		meta[k] = v
	}
	if fm.Title != "" {
		meta["title"] = fm.Title
	}
	if fm.Description != "" {
		meta["description"] = fm.Description
	}
	return Document{Text: body, Metadata: meta}, nil
}
