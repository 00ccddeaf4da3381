package indexing

import (
	"slices"

	"github.com/tmc/langchaingo/textsplitter"
)

// SplitterConfig describes one recursive splitting strategy.
// Separators are tried in order before falling back to the next one.
type SplitterConfig struct {
	ChunkSize    int      `json:"chunk_size"`
	ChunkOverlap int      `json:"chunk_overlap"`
	Separators   []string `json:"separators"`
}

var proseConfig = SplitterConfig{
	ChunkSize:    1000,
	ChunkOverlap: 200,
	Separators:   []string{"\n\n", "\n", " "},
}

// splitterConfigs holds the fine-pass strategy for every content type.
// Frontmatter and tables never overlap.
var splitterConfigs = map[ContentType]SplitterConfig{
	ContentFrontmatter: {
		ChunkSize:    2000,
		ChunkOverlap: 0,
		Separators:   []string{"\n---\n"},
	},
	ContentCodeBlock: {
		ChunkSize:    800,
		ChunkOverlap: 100,
		Separators:   []string{"\n```\n", "\n\n", "\n"},
	},
	ContentHeaderSection: {
		ChunkSize:    1200,
		ChunkOverlap: 150,
		Separators:   []string{"\n## ", "\n### ", "\n#### ", "\n\n", "\n"},
	},
	ContentTable: {
		ChunkSize:    1500,
		ChunkOverlap: 0,
		Separators:   []string{"\n\n"},
	},
	ContentList: {
		ChunkSize:    800,
		ChunkOverlap: 100,
		Separators:   []string{"\n\n", "\n- ", "\n* ", "\n+ "},
	},
	ContentHeader: proseConfig,
	ContentText:   proseConfig,
}

// ConfigFor returns the splitter configuration for a content type.
// Unknown labels get the text configuration.
func ConfigFor(ct ContentType) SplitterConfig {
	cfg, ok := splitterConfigs[ct]
	if !ok {
		cfg = proseConfig
	}
	return cfg.clone()
}

// CoarseConfig returns the configuration of the first, structural pass.
func CoarseConfig() SplitterConfig {
	return SplitterConfig{
		ChunkSize:    CoarseChunkSize,
		ChunkOverlap: CoarseChunkOverlap,
		Separators:   []string{"\n## ", "\n### ", "\n\n", "\n"},
	}
}

func (c SplitterConfig) clone() SplitterConfig {
	c.Separators = slices.Clone(c.Separators)
	return c
}

// Splitter builds a recursive character splitter for this configuration.
// Separators are kept at the start of the piece they introduce, so headers and
// list markers survive the split.
func (c SplitterConfig) Splitter() textsplitter.RecursiveCharacter {
	return textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(c.ChunkSize),
		textsplitter.WithChunkOverlap(c.ChunkOverlap),
		textsplitter.WithSeparators(slices.Clone(c.Separators)),
		textsplitter.WithKeepSeparator(true),
	)
}
