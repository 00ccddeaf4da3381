package indexing

// Chunking strategy constants
const (
	// CoarseChunkSize is the budget of the first, structure-oriented pass
	CoarseChunkSize = 2000

	// CoarseChunkOverlap is the overlap between coarse fragments
	CoarseChunkOverlap = 100

	// HeaderSectionMinLength separates header_section from a bare header (in runes)
	HeaderSectionMinLength = 100

	// CharsPerToken is the approximation for token estimation
	CharsPerToken = 4

	// DefaultGlob selects documentation files under the docs root
	DefaultGlob = "**/*.mdx"

	// IndexSchemaVersion increments when chunking logic changes
	// v1-v2: heading-based chunking, v3: hybrid content-aware chunking
	IndexSchemaVersion = 3
)

// CoarseMode selects how the first pass cuts a document.
type CoarseMode string

const (
	// CoarseStructural groups markdown blocks before the coarse splitter runs
	CoarseStructural CoarseMode = "structural"
	// CoarseRecursive runs the coarse splitter once over the whole document.
	// This is the reference two-pass behavior. Coarse fragments can then mix
	// content types, so a fence or table may straddle two of them.
	CoarseRecursive CoarseMode = "recursive"
)
