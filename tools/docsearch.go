package tools

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mdxdocs/docs-mcp-server/internal/config"
	"github.com/mdxdocs/docs-mcp-server/internal/indexing"
	"github.com/mdxdocs/docs-mcp-server/internal/logger"
	"github.com/mdxdocs/docs-mcp-server/internal/manifest"
	"github.com/mdxdocs/docs-mcp-server/internal/search"
	"github.com/mdxdocs/docs-mcp-server/internal/telemetry"
)

// indexHolder manages concurrent access to the documentation index
type indexHolder struct {
	// current holds the active index pointer (atomic access for lock-free reads)
	current atomic.Pointer[search.Index]

	// refreshMu serializes writers: full rebuilds and incremental syncs.
	// Searches never take it.
	refreshMu sync.Mutex

	// wg tracks in-flight searches for graceful cleanup of old indexes
	wg sync.WaitGroup

	// closing tracks background closes of swapped-out indexes
	closing sync.WaitGroup
}

// acquire pins the current index until release is called. The index is nil
// when none is open.
func (h *indexHolder) acquire() (search.Index, func()) {
	// Track before Load so a concurrent swap waits for us
	h.wg.Add(1)
	ptr := h.current.Load()
	if ptr == nil {
		return nil, h.wg.Done
	}
	return *ptr, h.wg.Done
}

// swap installs idx and closes the previous index once in-flight searches drain.
func (h *indexHolder) swap(idx search.Index) {
	old := h.current.Swap(&idx)
	if old == nil {
		return
	}

	h.closing.Add(1)
	go func(oldIdx search.Index) {
		defer h.closing.Done()
		waitStart := time.Now()
		h.wg.Wait()
		if err := oldIdx.Close(); err != nil {
			logger.Warn("Error closing old index", "err", err)
			return
		}
		logger.Info("✓ Old index closed", "waited", time.Since(waitStart).Round(time.Millisecond))
	}(*old)
}

// close detaches the current index and closes it after searches drain.
// It also waits for earlier swaps to finish closing their indexes.
func (h *indexHolder) close() error {
	ptr := h.current.Swap(nil)
	h.wg.Wait()
	h.closing.Wait()
	if ptr == nil {
		return nil
	}
	return (*ptr).Close()
}

// docService bundles everything the documentation tools share.
type docService struct {
	cfg       *config.Config
	holder    *indexHolder
	lock      *indexLock
	loader    *indexing.DirectoryLoader
	chunker   *indexing.Chunker
	processor *indexing.Processor
	store     *manifest.Store

	initMu sync.Mutex
}

var docs *docService

// Configure prepares the documentation tools. It does not open the index;
// that happens in InitializeDocSearch or on first use.
func Configure(cfg *config.Config) error {
	svc, err := newDocService(cfg)
	if err != nil {
		return err
	}
	docs = svc
	return nil
}

func newDocService(cfg *config.Config) (*docService, error) {
	if cfg == nil {
		cfg = config.Default()
	}

	validator, err := indexing.NewFrontmatterValidator(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load frontmatter schema: %w", err)
	}
	chunker := indexing.NewChunker(indexing.WithCoarseMode(cfg.ChunkerMode()))

	return &docService{
		cfg:     cfg,
		holder:  &indexHolder{},
		lock:    newIndexLock(cfg.LockPath(), cfg.LockTimeout),
		loader:  indexing.NewDirectoryLoader(cfg.DocsDir, cfg.Glob),
		chunker: chunker,
		processor: &indexing.Processor{
			Chunker:   chunker,
			Validator: validator,
			BaseURL:   cfg.BaseURL,
			Recorder:  telemetry.Default(),
		},
	}, nil
}

// InitializeDocSearch opens the index, building it from the docs directory
// when it is missing or was built with another schema version.
func InitializeDocSearch(ctx context.Context) error {
	if docs == nil {
		return errNotConfigured
	}
	return docs.initialize(ctx)
}

var errNotConfigured = errors.New("documentation tools not configured")

func (s *docService) initialize(ctx context.Context) error {
	return s.open(ctx, true)
}

// open loads the manifest and the index. A missing index is built when
// buildMissing is set and left empty otherwise.
func (s *docService) open(ctx context.Context, buildMissing bool) error {
	s.initMu.Lock()
	defer s.initMu.Unlock()

	if s.holder.current.Load() != nil {
		return nil
	}

	startTime := time.Now()
	logger.Info("Initializing documentation search...", "docs_dir", s.cfg.DocsDir)

	if err := s.lock.acquire(ctx); err != nil {
		return fmt.Errorf("failed to acquire index lock: %w", err)
	}

	if s.store == nil {
		store, err := manifest.Open(s.cfg.ManifestPath())
		if err != nil {
			return err
		}
		s.store = store
	}

	idx, err := search.Open(s.cfg.IndexPath())
	switch {
	case err == nil:
		s.holder.swap(idx)
	case !errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("failed to open index: %w", err)
	default:
		// A new index means the manifest no longer describes it
		if err := s.store.Replace(ctx, nil); err != nil {
			return err
		}
		_, statErr := os.Stat(s.cfg.DocsDir)
		if buildMissing && statErr == nil {
			logger.Info("No usable index found, indexing documentation...")
			if _, err := s.refresh(ctx, true); err != nil {
				return fmt.Errorf("initial indexing failed: %w", err)
			}
		} else {
			if statErr != nil {
				logger.Warn("Docs directory not found, starting with an empty index", "docs_dir", s.cfg.DocsDir)
			}
			empty, err := search.OpenOrCreate(s.cfg.IndexPath())
			if err != nil {
				return fmt.Errorf("failed to create index: %w", err)
			}
			s.holder.swap(empty)
		}
	}

	count, _ := s.current().DocCount()
	logger.Info("✓ Documentation search initialized",
		"chunks", count,
		"schema", indexing.IndexSchemaVersion,
		"elapsed", time.Since(startTime).Round(time.Millisecond))
	return nil
}

func (s *docService) current() search.Index {
	ptr := s.holder.current.Load()
	if ptr == nil {
		return nil
	}
	return *ptr
}

// ensureIndex initializes lazily so tools work even if startup indexing failed.
func (s *docService) ensureIndex(ctx context.Context) error {
	if s.holder.current.Load() != nil {
		return nil
	}
	logger.Info("Doc index not initialized, initializing now...")
	return s.initialize(ctx)
}

// refreshResult describes one full rebuild.
type refreshResult struct {
	updated   bool
	documents int
	chunks    int
	invalid   []string
}

// refresh rebuilds the index from the docs directory. Without force it does
// nothing when every file hash matches the manifest.
func (s *docService) refresh(ctx context.Context, force bool) (refreshResult, error) {
	s.holder.refreshMu.Lock()
	defer s.holder.refreshMu.Unlock()

	startTime := time.Now()
	if err := s.lock.acquire(ctx); err != nil {
		return refreshResult{}, fmt.Errorf("failed to acquire lock for refresh: %w", err)
	}

	corpus, err := search.ProcessCorpus(ctx, s.loader, s.processor, s.cfg.Workers)
	if err != nil {
		return refreshResult{}, fmt.Errorf("failed to process documentation: %w", err)
	}
	entries := corpus.Entries()
	res := refreshResult{documents: len(entries), invalid: corpus.InvalidFrontmatter()}

	if !force {
		fresh, err := s.manifestMatches(ctx, entries)
		if err != nil {
			return res, err
		}
		if fresh {
			logger.Info("Documentation index is up to date, skipping refresh")
			if idx := s.current(); idx != nil {
				count, _ := idx.DocCount()
				res.chunks = int(count)
			}
			return res, nil
		}
	}

	chunks := corpus.Chunks()
	logger.Info("Parsed documentation",
		"documents", len(entries),
		"chunks", len(chunks),
		"avg_tokens", averageTokens(chunks))

	indexPath := s.cfg.IndexPath()
	if err := search.Build(indexPath, chunks); err != nil {
		return res, fmt.Errorf("indexing failed: %w", err)
	}
	idx, err := search.Open(indexPath)
	if err != nil {
		return res, fmt.Errorf("failed to open new index: %w", err)
	}
	s.holder.swap(idx)

	if err := s.store.Replace(ctx, entries); err != nil {
		return res, err
	}

	res.updated = true
	res.chunks = len(chunks)
	logger.Info("✓ Documentation refresh completed", "elapsed", time.Since(startTime).Round(time.Millisecond))
	return res, nil
}

func (s *docService) manifestMatches(ctx context.Context, entries []manifest.Entry) (bool, error) {
	known, err := s.store.List(ctx)
	if err != nil {
		return false, err
	}
	if len(known) != len(entries) {
		return false, nil
	}
	hashes := make(map[string]string, len(known))
	for _, e := range known {
		hashes[e.Path] = e.Hash
	}
	for _, e := range entries {
		if hashes[e.Path] != e.Hash {
			return false, nil
		}
	}
	return true, nil
}

// sync applies incremental changes. An empty request syncs the whole tree.
func (s *docService) sync(ctx context.Context, req search.Request) (search.Stats, error) {
	if err := s.ensureIndex(ctx); err != nil {
		return search.Stats{}, err
	}

	s.holder.refreshMu.Lock()
	defer s.holder.refreshMu.Unlock()

	idx, release := s.holder.acquire()
	defer release()

	syncer := search.NewSyncer(idx, s.store, s.loader, s.processor)
	if len(req.Changed) == 0 && len(req.Removed) == 0 {
		return syncer.SyncAll(ctx, req.Force)
	}
	return syncer.Sync(ctx, req)
}

// SyncDocuments applies file changes to the index, for the watcher.
func SyncDocuments(ctx context.Context, req search.Request) (search.Stats, error) {
	if docs == nil {
		return search.Stats{}, errNotConfigured
	}
	return docs.sync(ctx, req)
}

// RebuildIndex runs a full refresh outside of an MCP session. It opens the
// index itself, so callers must not run InitializeDocSearch first.
func RebuildIndex(ctx context.Context, force bool) (RefreshDocumentationIndexOutput, error) {
	if docs == nil {
		return RefreshDocumentationIndexOutput{}, errNotConfigured
	}
	return docs.rebuild(ctx, force)
}

// rebuild opens the index without the startup build, then refreshes once.
func (s *docService) rebuild(ctx context.Context, force bool) (RefreshDocumentationIndexOutput, error) {
	if err := s.open(ctx, false); err != nil {
		return RefreshDocumentationIndexOutput{}, err
	}
	_, out, err := s.refreshDocumentationIndex(ctx, nil, RefreshDocumentationIndexInput{Force: force})
	return out, err
}

// SearchDocs queries the index outside of an MCP session.
func SearchDocs(ctx context.Context, input SearchDocumentationInput) (SearchDocumentationOutput, error) {
	if docs == nil {
		return SearchDocumentationOutput{}, errNotConfigured
	}
	_, out, err := docs.searchDocumentation(ctx, nil, input)
	return out, err
}

// DocsMatcher reports whether a relative slash path is a documentation file.
func DocsMatcher() func(string) bool {
	if docs == nil {
		return nil
	}
	return docs.loader.Match
}

// averageTokens calculates the average token count across chunks
func averageTokens(chunks []indexing.DocChunk) int {
	if len(chunks) == 0 {
		return 0
	}
	total := 0
	for _, chunk := range chunks {
		total += chunk.TokenCount
	}
	return total / len(chunks)
}

// RegisterDocTools registers the documentation tools. The index is opened
// synchronously; on failure the tools retry on first use.
func RegisterDocTools(ctx context.Context, server *mcp.Server) error {
	if docs == nil {
		return errNotConfigured
	}
	if err := docs.initialize(ctx); err != nil {
		logger.Warn("Documentation search initialization failed", "err", err)
		logger.Warn("Documentation search will attempt to initialize on first use")
	}
	docs.register(server)
	return nil
}

func (s *docService) register(server *mcp.Server) {
	mcp.AddTool(server,
		&mcp.Tool{
			Name:        "search_documentation",
			Description: "Full-text search over the documentation. Returns the most relevant chunks with heading, breadcrumb and URL. Optionally filter by content type (frontmatter, code_block, header_section, table, list, header, text).",
		},
		s.searchDocumentation,
	)
	mcp.AddTool(server,
		&mcp.Tool{
			Name:        "get_document",
			Description: "Return the full text of one documentation file, reassembled from its indexed chunks, by path relative to the docs root.",
		},
		s.getDocument,
	)
	mcp.AddTool(server,
		&mcp.Tool{
			Name:        "refresh_documentation_index",
			Description: "Rebuild the search index from the docs directory. Skipped when nothing changed unless force is set.",
		},
		s.refreshDocumentationIndex,
	)
	mcp.AddTool(server,
		&mcp.Tool{
			Name:        "sync_documentation",
			Description: "Incrementally reindex changed documentation files and drop removed ones. With no paths, the whole docs directory is synced.",
		},
		s.syncDocumentation,
	)
	mcp.AddTool(server,
		&mcp.Tool{
			Name:        "chunk_markdown",
			Description: "Split markdown into content-aware chunks and report the content type of each chunk.",
		},
		s.chunkMarkdown,
	)
	mcp.AddTool(server,
		&mcp.Tool{
			Name:        "classify_content",
			Description: "Classify a markdown fragment (frontmatter, code_block, header_section, table, list, header, text) and return the splitter settings used for it.",
		},
		s.classifyContent,
	)
	mcp.AddTool(server,
		&mcp.Tool{
			Name:        "validate_frontmatter",
			Description: "Check the YAML frontmatter of a document against the frontmatter schema. Pass the document text, or a path relative to the docs root.",
		},
		s.validateFrontmatter,
	)
	mcp.AddTool(server,
		&mcp.Tool{
			Name:        "list_documents",
			Description: "List the indexed documents with title, content hash, chunk count and indexing time. Optionally filter by path prefix.",
		},
		s.listDocuments,
	)
	logger.Info("✓ Documentation tools registered", "tools", 8)
}

// CloseDocSearch closes the documentation search index and releases the lock
func CloseDocSearch() error {
	if docs == nil {
		return nil
	}
	return docs.close()
}

func (s *docService) close() error {
	var closeErr error

	if err := s.holder.close(); err != nil {
		logger.Error("Error closing doc index", "err", err)
		closeErr = err
	} else {
		logger.Info("✓ Doc index closed")
	}

	if s.store != nil {
		if err := s.store.Close(); err != nil && closeErr == nil {
			closeErr = err
		}
		s.store = nil
	}

	// Always attempt to release inter-process lock, even if close failed
	if err := s.lock.release(); err != nil {
		logger.Error("Error releasing lock", "err", err)
		if closeErr == nil {
			closeErr = err
		}
	}
	return closeErr
}
