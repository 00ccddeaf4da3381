package search

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/blevesearch/bleve/v2"

	"github.com/mdxdocs/docs-mcp-server/internal/indexing"
	"github.com/mdxdocs/docs-mcp-server/internal/logger"
)

// versionPath is the schema version marker kept next to an index directory.
func versionPath(indexPath string) string {
	return indexPath + ".version"
}

// IndexVersion reads the schema version an index was built with. 0 means unknown.
func IndexVersion(indexPath string) int {
	data, err := os.ReadFile(versionPath(indexPath))
	if err != nil {
		return 0
	}
	v, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return v
}

func writeIndexVersion(indexPath string) error {
	return os.WriteFile(versionPath(indexPath), []byte(strconv.Itoa(indexing.IndexSchemaVersion)), 0644)
}

// Open opens an existing index. An index built with another schema version,
// or one that fails to open, is removed and reported as os.ErrNotExist.
func Open(indexPath string) (Index, error) {
	if _, err := os.Stat(indexPath); err != nil {
		return nil, fmt.Errorf("no index at %s: %w", indexPath, err)
	}

	if v := IndexVersion(indexPath); v != indexing.IndexSchemaVersion {
		logger.Warn("Index schema version mismatch, invalidating old index",
			"have", v, "want", indexing.IndexSchemaVersion)
		removeIndex(indexPath)
		return nil, fmt.Errorf("stale index at %s: %w", indexPath, fs.ErrNotExist)
	}

	idx, err := bleve.Open(indexPath)
	if err != nil {
		logger.Warn("Local index corrupted, removing", "path", indexPath, "err", err)
		removeIndex(indexPath)
		return nil, fmt.Errorf("corrupted index at %s: %w", indexPath, fs.ErrNotExist)
	}
	return Wrap(idx), nil
}

// OpenOrCreate opens the index at indexPath, creating an empty one when none
// is usable.
func OpenOrCreate(indexPath string) (Index, error) {
	idx, err := Open(indexPath)
	if err == nil {
		return idx, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(indexPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}
	created, err := bleve.New(indexPath, NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create index: %w", err)
	}
	if err := writeIndexVersion(indexPath); err != nil {
		logger.Warn("Failed to write index version", "err", err)
	}
	return Wrap(created), nil
}

func removeIndex(indexPath string) {
	os.RemoveAll(indexPath)
	os.Remove(versionPath(indexPath))
}

// Build writes chunks into a fresh index at indexPath. The index is built in
// a temp directory and renamed into place, so readers never see a partial
// index on disk. Callers holding the old index must reopen it.
func Build(indexPath string, chunks []indexing.DocChunk) error {
	tempIndexPath := indexPath + ".tmp"

	// Clean up any leftover temp index from previous crash
	os.RemoveAll(tempIndexPath)
	if err := os.MkdirAll(filepath.Dir(tempIndexPath), 0755); err != nil {
		return fmt.Errorf("failed to create temp index directory: %w", err)
	}

	logger.Info("Creating new index in temp location", "chunks", len(chunks))
	newIndex, err := bleve.New(tempIndexPath, NewIndexMapping())
	if err != nil {
		return fmt.Errorf("failed to create temp index: %w", err)
	}

	if err := IndexChunks(Wrap(newIndex), chunks); err != nil {
		newIndex.Close()
		os.RemoveAll(tempIndexPath)
		return err
	}

	if err := newIndex.Close(); err != nil {
		os.RemoveAll(tempIndexPath)
		return fmt.Errorf("failed to close temp index: %w", err)
	}

	if err := os.RemoveAll(indexPath); err != nil && !os.IsNotExist(err) {
		os.RemoveAll(tempIndexPath)
		return fmt.Errorf("failed to remove old index: %w", err)
	}
	if err := os.Rename(tempIndexPath, indexPath); err != nil {
		os.RemoveAll(tempIndexPath)
		return fmt.Errorf("failed to rename temp index: %w", err)
	}

	if err := writeIndexVersion(indexPath); err != nil {
		logger.Warn("Failed to write index version", "err", err)
	}
	logger.Info("✓ Index built", "path", indexPath, "chunks", len(chunks))
	return nil
}
