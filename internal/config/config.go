// Package config loads server and indexer settings from defaults, an optional
// YAML file and DOCS_MCP_* environment variables, in that order of precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/goccy/go-yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/mdxdocs/docs-mcp-server/internal/indexing"
)

// EnvPrefix marks environment variables read as configuration.
const EnvPrefix = "DOCS_MCP_"

// Config is the full runtime configuration.
type Config struct {
	DocsDir          string        `koanf:"docs_dir"          validate:"required"`
	DataDir          string        `koanf:"data_dir"          validate:"required"`
	Glob             string        `koanf:"glob"              validate:"required"`
	BaseURL          string        `koanf:"base_url"          validate:"omitempty,url"`
	Workers          int           `koanf:"workers"           validate:"min=1,max=256"`
	CoarseMode       string        `koanf:"coarse_mode"       validate:"oneof=structural recursive"`
	StripFrontmatter bool          `koanf:"strip_frontmatter"`
	Watch            bool          `koanf:"watch"`
	LockTimeout      time.Duration `koanf:"lock_timeout"      validate:"min=0"`
	Log              LogConfig     `koanf:"log"`
	Search           SearchConfig  `koanf:"search"`
	Metrics          MetricsConfig `koanf:"metrics"`
}

// LogConfig selects log level and format.
type LogConfig struct {
	Level string `koanf:"level" validate:"oneof=debug info warn error fatal"`
	JSON  bool   `koanf:"json"`
}

// SearchConfig bounds result sizes of the search tool.
type SearchConfig struct {
	MaxResults     int `koanf:"max_results"     validate:"min=1,max=100"`
	DefaultResults int `koanf:"default_results" validate:"min=1,ltefield=MaxResults"`
}

// MetricsConfig enables OTLP metric export. An empty endpoint disables it.
type MetricsConfig struct {
	Endpoint string        `koanf:"endpoint" validate:"omitempty,url"`
	Interval time.Duration `koanf:"interval" validate:"min=0"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DocsDir:     "docs",
		DataDir:     "data",
		Glob:        indexing.DefaultGlob,
		Workers:     4,
		CoarseMode:  string(indexing.CoarseStructural),
		LockTimeout: 10 * time.Second,
		Log: LogConfig{
			Level: "info",
		},
		Search: SearchConfig{
			MaxResults:     20,
			DefaultResults: 10,
		},
		Metrics: MetricsConfig{
			Interval: time.Minute,
		},
	}
}

// IndexPath is where the bleve index lives.
func (c *Config) IndexPath() string {
	return filepath.Join(c.DataDir, "search", "docs.bleve")
}

// ManifestPath is where the sync manifest lives.
func (c *Config) ManifestPath() string {
	return filepath.Join(c.DataDir, "manifest.db")
}

// LockPath is the inter-process lock guarding the index.
func (c *Config) LockPath() string {
	return filepath.Join(c.DataDir, "search", ".lock")
}

// ChunkerMode returns the coarse split strategy as a typed value.
func (c *Config) ChunkerMode() indexing.CoarseMode {
	return indexing.CoarseMode(c.CoarseMode)
}

// Loader builds a Config. The zero value reads the process environment.
type Loader struct {
	// Environ replaces os.Environ, mostly for tests
	Environ func() []string
}

// Load reads defaults, then the YAML file at path (skipped when empty), then
// the environment, and validates the result.
func (l Loader) Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path != "" {
		data, err := readYAML(path)
		if err != nil {
			return nil, err
		}
		if err := k.Load(rawMap(data), nil); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(".", env.Opt{
		Prefix:        EnvPrefix,
		TransformFunc: transformEnvKey,
		EnvironFunc:   l.Environ,
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			WeaklyTypedInput: true,
			Result:           &cfg,
			TagName:          "koanf",
			DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		},
	}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Load is Loader{}.Load.
func Load(path string) (*Config, error) {
	return Loader{}.Load(path)
}

var validate = validator.New()

// Validate checks struct constraints.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("configuration cannot be nil")
	}
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	return nil
}

// transformEnvKey maps DOCS_MCP_LOG_LEVEL to log.level and DOCS_MCP_DOCS_DIR
// to docs_dir. Only the log, search and metrics groups are nested.
func transformEnvKey(key, value string) (string, any) {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	for _, group := range []string{"log", "search", "metrics"} {
		if rest, ok := strings.CutPrefix(key, group+"_"); ok {
			return group + "." + rest, value
		}
	}
	return key, value
}

func readYAML(path string) (map[string]any, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	data := map[string]any{}
	if err := yaml.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return data, nil
}

// rawMap adapts decoded data to a koanf.Provider.
type rawMap map[string]any

func (r rawMap) Read() (map[string]any, error) {
	return r, nil
}

func (r rawMap) ReadBytes() ([]byte, error) {
	return nil, fmt.Errorf("ReadBytes not implemented")
}
