package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mdxdocs/docs-mcp-server/internal/config"
	"github.com/mdxdocs/docs-mcp-server/internal/indexing"
	"github.com/mdxdocs/docs-mcp-server/internal/search"
	"github.com/mdxdocs/docs-mcp-server/internal/telemetry"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// --- Pure Unit Tests for Concurrency ---
// These tests verify the atomic pointer swap of indexHolder using mocks

func TestIndexHolderConcurrentReads(t *testing.T) {
	holder := &indexHolder{}
	holder.swap(newMockIndex(1))

	const numReaders = 50
	errChan := make(chan error, numReaders)
	doneChan := make(chan bool, numReaders)

	for i := 0; i < numReaders; i++ {
		go func(id int) {
			defer func() { doneChan <- true }()

			index, release := holder.acquire()
			defer release()
			if index == nil {
				errChan <- fmt.Errorf("goroutine %d: got nil index", id)
				return
			}

			count, err := index.DocCount()
			if err != nil {
				errChan <- fmt.Errorf("goroutine %d: DocCount failed: %v", id, err)
				return
			}
			if count != 100 { // Mock returns 100
				errChan <- fmt.Errorf("goroutine %d: expected 100, got %d", id, count)
			}
		}(i)
	}

	for i := 0; i < numReaders; i++ {
		<-doneChan
	}
	close(errChan)
	for err := range errChan {
		t.Error(err)
	}

	// Verify WaitGroup drained
	holder.wg.Wait()
}

func TestIndexHolderSwapClosesOldIndex(t *testing.T) {
	mock1 := newMockIndex(1)
	mock2 := newMockIndex(2)

	holder := &indexHolder{}
	holder.swap(mock1)

	// Pin the first index like an in-flight search
	pinned, release := holder.acquire()
	if pinned != mock1 {
		t.Fatal("Expected mock1 before swap")
	}

	holder.swap(mock2)
	if current, done := holder.acquire(); current != mock2 {
		done()
		t.Fatal("Expected mock2 after swap")
	} else {
		done()
	}

	// Old index stays open while the search is in flight
	time.Sleep(50 * time.Millisecond)
	if mock1.IsClosed() {
		t.Fatal("Old index closed before in-flight search finished")
	}

	release()
	holder.closing.Wait()
	if !mock1.IsClosed() {
		t.Error("Old index should be closed after searches drain")
	}
	if mock2.IsClosed() {
		t.Error("Current index must stay open")
	}
}

func TestIndexHolderClose(t *testing.T) {
	mock := newMockIndex(1)
	holder := &indexHolder{}
	holder.swap(mock)

	if err := holder.close(); err != nil {
		t.Fatalf("close() failed: %v", err)
	}
	if !mock.IsClosed() {
		t.Error("Index should be closed")
	}
	if index, release := holder.acquire(); index != nil {
		release()
		t.Error("Expected nil index after close")
	} else {
		release()
	}

	// Closing twice is harmless
	if err := holder.close(); err != nil {
		t.Errorf("second close() = %v", err)
	}
}

func TestIndexHolderRefreshMutexSerialization(t *testing.T) {
	holder := &indexHolder{}

	const numGoroutines = 10
	counter := 0
	doneChan := make(chan bool, numGoroutines)

	for i := 0; i < numGoroutines; i++ {
		go func() {
			defer func() { doneChan <- true }()

			holder.refreshMu.Lock()
			defer holder.refreshMu.Unlock()

			oldCounter := counter
			for j := 0; j < 1000; j++ {
				_ = j * j
			}
			counter = oldCounter + 1
		}()
	}

	for i := 0; i < numGoroutines; i++ {
		<-doneChan
	}
	if counter != numGoroutines {
		t.Errorf("Expected counter=%d, got %d (mutex not properly serializing)", numGoroutines, counter)
	}
}

func TestIndexHolderConcurrentSwapAndRead(t *testing.T) {
	holder := &indexHolder{}
	holder.swap(newMockIndex(0))

	errChan := make(chan error, 100)
	doneChan := make(chan bool, 100)

	const numReaders = 20
	const iterations = 5

	for i := 0; i < numReaders; i++ {
		go func(id int) {
			defer func() { doneChan <- true }()

			for j := 0; j < iterations; j++ {
				index, release := holder.acquire()
				if index == nil {
					release()
					errChan <- fmt.Errorf("reader %d iteration %d: got nil", id, j)
					return
				}
				_, err := index.DocCount()
				release()
				if err != nil {
					errChan <- fmt.Errorf("reader %d iteration %d: %v", id, j, err)
					return
				}
			}
		}(i)
	}

	// Raw pointer swaps: background cleanup is covered by
	// TestIndexHolderSwapClosesOldIndex
	go func() {
		defer func() { doneChan <- true }()
		for i := 0; i < 3; i++ {
			var next search.Index = newMockIndex(i + 1)
			holder.current.Swap(&next)
		}
	}()

	for i := 0; i < numReaders+1; i++ {
		<-doneChan
	}
	close(errChan)
	for err := range errChan {
		t.Error(err)
	}

	holder.wg.Wait()
}

// --- Service tests against a real on-disk index ---

const setupDoc = `---
title: Setup
description: Installing the gateway
---

# Install

Download the gateway binary and install it.

` + "```bash\nmake install\n```" + `
`

const limitsDoc = `---
title: Rate limits
---

| limit | value |
|---|---|
| rate | 10 |
`

func writeDoc(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func newTestService(t *testing.T) (*docService, string) {
	t.Helper()
	svc, docsDir := newClosedService(t)
	if err := svc.initialize(context.Background()); err != nil {
		t.Fatalf("initialize failed: %v", err)
	}
	return svc, docsDir
}

// newClosedService configures a service over two documents without opening
// the index.
func newClosedService(t *testing.T) (*docService, string) {
	t.Helper()

	root := t.TempDir()
	docsDir := filepath.Join(root, "docs")
	writeDoc(t, docsDir, "guides/setup.mdx", setupDoc)
	writeDoc(t, docsDir, "reference/limits.mdx", limitsDoc)

	cfg := config.Default()
	cfg.DocsDir = docsDir
	cfg.DataDir = filepath.Join(root, "data")
	cfg.BaseURL = "https://docs.example.com"
	cfg.LockTimeout = 2 * time.Second

	svc, err := newDocService(cfg)
	if err != nil {
		t.Fatalf("newDocService failed: %v", err)
	}
	t.Cleanup(func() {
		if err := svc.close(); err != nil {
			t.Errorf("close failed: %v", err)
		}
	})
	return svc, docsDir
}

func TestInitializeBuildsIndex(t *testing.T) {
	svc, _ := newTestService(t)

	count, err := svc.current().DocCount()
	if err != nil {
		t.Fatalf("DocCount failed: %v", err)
	}
	if count == 0 {
		t.Fatal("Expected chunks after initial indexing")
	}

	entries, err := svc.store.List(context.Background())
	if err != nil {
		t.Fatalf("manifest List failed: %v", err)
	}
	if len(entries) != 2 || entries[0].Path != "guides/setup.mdx" || entries[0].Title != "Setup" {
		t.Errorf("manifest entries = %+v", entries)
	}
	if v := search.IndexVersion(svc.cfg.IndexPath()); v != indexing.IndexSchemaVersion {
		t.Errorf("IndexVersion = %d", v)
	}
}

func TestInitializeReopensExistingIndex(t *testing.T) {
	svc, _ := newTestService(t)
	before, _ := svc.current().DocCount()
	if err := svc.close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	if err := svc.initialize(context.Background()); err != nil {
		t.Fatalf("second initialize failed: %v", err)
	}
	after, _ := svc.current().DocCount()
	if after != before {
		t.Errorf("DocCount after reopen = %d, want %d", after, before)
	}
}

func TestSearchDocumentationTool(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, out, err := svc.searchDocumentation(ctx, nil, SearchDocumentationInput{Query: "gateway binary"})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(out.Results) == 0 || out.TotalHits == 0 {
		t.Fatalf("Expected results, got %+v", out)
	}
	top := out.Results[0].Chunk
	if top.Path != "guides/setup.mdx" || top.Title != "Setup" {
		t.Errorf("top hit = %+v", top)
	}
	if !strings.HasPrefix(top.URL, "https://docs.example.com/guides/setup") {
		t.Errorf("URL = %q", top.URL)
	}

	_, out, err = svc.searchDocumentation(ctx, nil, SearchDocumentationInput{Query: "rate", ContentType: "table"})
	if err != nil {
		t.Fatalf("filtered search failed: %v", err)
	}
	for _, hit := range out.Results {
		if hit.Chunk.ContentType != "table" {
			t.Errorf("filtered hit has content type %q", hit.Chunk.ContentType)
		}
	}
	if len(out.Results) != 1 {
		t.Errorf("Expected 1 table hit, got %d", len(out.Results))
	}

	if _, _, err := svc.searchDocumentation(ctx, nil, SearchDocumentationInput{Query: "x", ContentType: "image"}); err == nil {
		t.Error("Expected error for unknown content type")
	}
	if _, _, err := svc.searchDocumentation(ctx, nil, SearchDocumentationInput{Query: "  "}); err == nil {
		t.Error("Expected error for empty query")
	}
}

func TestResultLimit(t *testing.T) {
	svc := &docService{cfg: config.Default()}
	svc.cfg.Search.DefaultResults = 5
	svc.cfg.Search.MaxResults = 15

	tests := []struct {
		requested int
		want      int
	}{
		{0, 5},
		{3, 3},
		{50, 15},
	}
	for _, tt := range tests {
		if got := svc.resultLimit(tt.requested); got != tt.want {
			t.Errorf("resultLimit(%d) = %d, want %d", tt.requested, got, tt.want)
		}
	}

	svc.cfg.Search.MaxResults = 100
	if got := svc.resultLimit(100); got != search.MaxLimit {
		t.Errorf("resultLimit above index cap = %d, want %d", got, search.MaxLimit)
	}
}

func TestGetDocumentTool(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, out, err := svc.getDocument(ctx, nil, GetDocumentInput{Path: "/guides/setup.mdx"})
	if err != nil {
		t.Fatalf("getDocument failed: %v", err)
	}
	if out.Path != "guides/setup.mdx" || out.Title != "Setup" || out.ChunkCount == 0 {
		t.Errorf("output = %+v", out)
	}
	if out.URL != "https://docs.example.com/guides/setup" {
		t.Errorf("URL = %q", out.URL)
	}
	for _, want := range []string{"# Install", "Download the gateway binary", "make install"} {
		if !strings.Contains(out.Content, want) {
			t.Errorf("content missing %q: %q", want, out.Content)
		}
	}

	if _, _, err := svc.getDocument(ctx, nil, GetDocumentInput{Path: "missing.mdx"}); err == nil {
		t.Error("Expected error for a document that is not indexed")
	}
}

func TestRefreshDocumentationIndexTool(t *testing.T) {
	svc, docsDir := newTestService(t)
	ctx := context.Background()

	_, out, err := svc.refreshDocumentationIndex(ctx, nil, RefreshDocumentationIndexInput{})
	if err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	if out.Updated || out.Documents != 2 {
		t.Errorf("unchanged refresh = %+v", out)
	}

	writeDoc(t, docsDir, "guides/new.mdx", "# Brand new page\n\nFresh content about caching.\n")
	_, out, err = svc.refreshDocumentationIndex(ctx, nil, RefreshDocumentationIndexInput{})
	if err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	if !out.Updated || out.Documents != 3 {
		t.Errorf("refresh after change = %+v", out)
	}
	if len(out.InvalidFrontmatter) != 1 || out.InvalidFrontmatter[0] != "guides/new.mdx" {
		t.Errorf("InvalidFrontmatter = %v", out.InvalidFrontmatter)
	}

	_, found, err := svc.searchDocumentation(ctx, nil, SearchDocumentationInput{Query: "caching"})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(found.Results) != 1 || found.Results[0].Chunk.Path != "guides/new.mdx" {
		t.Errorf("search after refresh = %+v", found.Results)
	}

	_, out, err = svc.refreshDocumentationIndex(ctx, nil, RefreshDocumentationIndexInput{Force: true})
	if err != nil {
		t.Fatalf("forced refresh failed: %v", err)
	}
	if !out.Updated {
		t.Error("Forced refresh should rebuild")
	}
}

// chunkedDocuments sums the docs.documents.chunked counter.
func chunkedDocuments(t *testing.T, reader *sdkmetric.ManualReader) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok && m.Name == "docs.documents.chunked" {
				for _, dp := range sum.DataPoints {
					total += dp.Value
				}
			}
		}
	}
	return total
}

func TestRebuildOnEmptyDataDirProcessesOnce(t *testing.T) {
	svc, _ := newClosedService(t)
	ctx := context.Background()

	reader := sdkmetric.NewManualReader()
	recorder, err := telemetry.NewRecorder(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	if err != nil {
		t.Fatalf("NewRecorder failed: %v", err)
	}
	svc.processor.Recorder = recorder

	out, err := svc.rebuild(ctx, true)
	if err != nil {
		t.Fatalf("rebuild failed: %v", err)
	}
	if !out.Updated || out.Documents != 2 || out.ChunksIndexed == 0 {
		t.Errorf("first rebuild = %+v", out)
	}
	if got := chunkedDocuments(t, reader); got != 2 {
		t.Errorf("documents chunked = %d, want 2", got)
	}

	count, err := svc.current().DocCount()
	if err != nil {
		t.Fatalf("DocCount failed: %v", err)
	}
	if int(count) != out.ChunksIndexed {
		t.Errorf("DocCount = %d, want %d", count, out.ChunksIndexed)
	}

	out, err = svc.rebuild(ctx, false)
	if err != nil {
		t.Fatalf("second rebuild failed: %v", err)
	}
	if out.Updated {
		t.Errorf("unchanged rebuild = %+v", out)
	}
}

func TestSyncDocumentationTool(t *testing.T) {
	svc, docsDir := newTestService(t)
	ctx := context.Background()

	writeDoc(t, docsDir, "guides/auth.mdx", "---\ntitle: Auth\n---\n\nTokens are validated by the JWT middleware.\n")
	if err := os.Remove(filepath.Join(docsDir, "reference/limits.mdx")); err != nil {
		t.Fatal(err)
	}

	_, out, err := svc.syncDocumentation(ctx, nil, SyncDocumentationInput{
		Changed: []string{"guides/auth.mdx", "guides/setup.mdx"},
		Removed: []string{"reference/limits.mdx"},
	})
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if out.Stats.Processed != 1 || out.Stats.Skipped != 1 || out.Stats.Deleted != 1 || out.Stats.Errors != 0 {
		t.Errorf("stats = %+v", out.Stats)
	}

	_, found, err := svc.searchDocumentation(ctx, nil, SearchDocumentationInput{Query: "JWT middleware"})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(found.Results) == 0 || found.Results[0].Chunk.Path != "guides/auth.mdx" {
		t.Errorf("search after sync = %+v", found.Results)
	}
	if _, _, err := svc.getDocument(ctx, nil, GetDocumentInput{Path: "reference/limits.mdx"}); err == nil {
		t.Error("Removed document should be gone from the index")
	}

	// No paths: whole tree, nothing changed since
	_, out, err = svc.syncDocumentation(ctx, nil, SyncDocumentationInput{})
	if err != nil {
		t.Fatalf("full sync failed: %v", err)
	}
	if out.Stats.Processed != 0 || out.Stats.Skipped != 2 {
		t.Errorf("full sync stats = %+v", out.Stats)
	}
}

func TestChunkMarkdownTool(t *testing.T) {
	svc, err := newDocService(config.Default())
	if err != nil {
		t.Fatalf("newDocService failed: %v", err)
	}

	text := "---\ntitle: X\n---\n\n# Heading\n\nShort intro.\n\n- one\n- two\n"
	_, out, err := svc.chunkMarkdown(context.Background(), nil, ChunkMarkdownInput{Text: text, Source: "inline"})
	if err != nil {
		t.Fatalf("chunkMarkdown failed: %v", err)
	}

	var types []string
	for i, c := range out.Chunks {
		if c.Index != i {
			t.Errorf("chunk %d has index %d", i, c.Index)
		}
		if c.Metadata[indexing.MetaSource] != "inline" {
			t.Errorf("chunk %d metadata = %v", i, c.Metadata)
		}
		types = append(types, c.ContentType)
	}
	if got := strings.Join(types, ","); got != "frontmatter,header,list" {
		t.Errorf("content types = %s", got)
	}
	if out.Counts["list"] != 1 || out.Mode != "structural" {
		t.Errorf("counts/mode = %v/%s", out.Counts, out.Mode)
	}

	_, empty, err := svc.chunkMarkdown(context.Background(), nil, ChunkMarkdownInput{Text: "   "})
	if err != nil || len(empty.Chunks) != 0 {
		t.Errorf("chunkMarkdown(blank) = %+v, %v", empty, err)
	}
}

func TestClassifyContentTool(t *testing.T) {
	svc := &docService{}
	tests := []struct {
		text     string
		wantType string
		wantSize int
	}{
		{"| a | b |\n|---|---|", "table", 1500},
		{"```go\nx := 1\n```", "code_block", 800},
		{"plain words", "text", 1000},
	}
	for _, tt := range tests {
		_, out, err := svc.classifyContent(context.Background(), nil, ClassifyContentInput{Text: tt.text})
		if err != nil {
			t.Fatalf("classifyContent failed: %v", err)
		}
		if out.ContentType != tt.wantType || out.Splitter.ChunkSize != tt.wantSize {
			t.Errorf("classifyContent(%q) = %+v", tt.text, out)
		}
	}
}
