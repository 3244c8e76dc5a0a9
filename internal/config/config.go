// Package config loads segidx settings from a YAML file with SEGIDX_*
// environment overrides and turns them into writer and searcher options.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"harshagw/segidx/internal/index"
	"harshagw/segidx/internal/metrics"
	"harshagw/segidx/internal/search"
	"harshagw/segidx/internal/segment"
	"harshagw/segidx/internal/store"
)

type Config struct {
	Index   IndexConfig   `yaml:"index"`
	Merge   MergeConfig   `yaml:"merge"`
	Search  SearchConfig  `yaml:"search"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// IndexConfig holds the writer settings.
type IndexConfig struct {
	Dir             string        `yaml:"dir"`
	Codec           string        `yaml:"codec"`
	RAMBufferMB     float64       `yaml:"ramBufferMB"`
	MaxBufferedDocs int           `yaml:"maxBufferedDocs"`
	LockTimeout     time.Duration `yaml:"lockTimeout"`
	CommitOnClose   bool          `yaml:"commitOnClose"`
	// DeletionPolicy is "keep_last" or "keep_all".
	DeletionPolicy string `yaml:"deletionPolicy"`
	// SnapshotStore names a bolt file inside Dir that persists snapshot
	// pins. Empty disables persistent snapshots.
	SnapshotStore string `yaml:"snapshotStore"`
}

// MergeConfig selects the merge policy and scheduler.
type MergeConfig struct {
	// Policy is "log_doc" or "none".
	Policy               string  `yaml:"policy"`
	MergeFactor          int     `yaml:"mergeFactor"`
	MinMergeDocs         int     `yaml:"minMergeDocs"`
	MaxMergeDocs         int     `yaml:"maxMergeDocs"`
	ForceMergeDeletesPct float64 `yaml:"forceMergeDeletesPct"`
	// Scheduler is "concurrent" or "serial".
	Scheduler     string `yaml:"scheduler"`
	MaxThreads    int    `yaml:"maxThreads"`
	MaxMergeCount int    `yaml:"maxMergeCount"`
}

type SearchConfig struct {
	// Scoring is "bm25" or "tfidf".
	Scoring       string   `yaml:"scoring"`
	DefaultLimit  int      `yaml:"defaultLimit"`
	DefaultFields []string `yaml:"defaultFields"`
	MaxExpansions int      `yaml:"maxExpansions"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds the listen address of the metrics endpoint. Empty
// disables it.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Load reads the YAML file at path, when given, over the defaults and then
// applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Default() *Config {
	return &Config{
		Index: IndexConfig{
			Dir:            "./segidx-data",
			Codec:          segment.DefaultCodec,
			RAMBufferMB:    16,
			LockTimeout:    time.Second,
			CommitOnClose:  true,
			DeletionPolicy: "keep_last",
		},
		Merge: MergeConfig{
			Policy:               "log_doc",
			MergeFactor:          index.DefaultMergeFactor,
			MinMergeDocs:         index.DefaultMinMergeDocs,
			MaxMergeDocs:         index.DefaultMaxMergeDocs,
			ForceMergeDeletesPct: index.DefaultForceMergeDeletesPct,
			Scheduler:            "concurrent",
		},
		Search: SearchConfig{
			Scoring:       "bm25",
			DefaultLimit:  10,
			MaxExpansions: search.DefaultMaxExpansions,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

func (c *Config) Validate() error {
	if c.Index.Dir == "" {
		return fmt.Errorf("index.dir must be set")
	}
	if _, err := segment.LookupCodec(c.Index.Codec); err != nil {
		return fmt.Errorf("index.codec: %w", err)
	}
	if c.Index.RAMBufferMB < 0 || c.Index.MaxBufferedDocs < 0 {
		return fmt.Errorf("index buffer limits must not be negative")
	}
	switch c.Index.DeletionPolicy {
	case "keep_last", "keep_all":
	default:
		return fmt.Errorf("unknown index.deletionPolicy %q", c.Index.DeletionPolicy)
	}
	switch c.Merge.Policy {
	case "log_doc":
		if c.Merge.MergeFactor < 2 {
			return fmt.Errorf("merge.mergeFactor must be at least 2, got %d", c.Merge.MergeFactor)
		}
	case "none":
	default:
		return fmt.Errorf("unknown merge.policy %q", c.Merge.Policy)
	}
	switch c.Merge.Scheduler {
	case "concurrent", "serial":
	default:
		return fmt.Errorf("unknown merge.scheduler %q", c.Merge.Scheduler)
	}
	if _, err := c.Scoring(); err != nil {
		return err
	}
	return nil
}

func (c *Config) Scoring() (search.ScoringMode, error) {
	switch c.Search.Scoring {
	case "", "bm25":
		return search.ScoringBM25, nil
	case "tfidf":
		return search.ScoringTFIDF, nil
	}
	return 0, fmt.Errorf("unknown search.scoring %q", c.Search.Scoring)
}

// SearchOptions returns searcher options for the configured scoring.
func (c *Config) SearchOptions() search.Options {
	mode, _ := c.Scoring()
	return search.Options{
		DefaultFields: c.Search.DefaultFields,
		Scoring:       mode,
		MaxExpansions: c.Search.MaxExpansions,
	}
}

func (c *Config) mergePolicy() index.MergePolicy {
	if c.Merge.Policy == "none" {
		return index.NoMergePolicy{}
	}
	return &index.LogDocMergePolicy{
		MergeFactor:                 c.Merge.MergeFactor,
		MinMergeDocs:                c.Merge.MinMergeDocs,
		MaxMergeDocs:                c.Merge.MaxMergeDocs,
		ForceMergeDeletesPctAllowed: c.Merge.ForceMergeDeletesPct,
		CalibrateSizeByDeletes:      true,
	}
}

func (c *Config) mergeScheduler() index.MergeScheduler {
	if c.Merge.Scheduler == "serial" {
		return index.NewSerialMergeScheduler()
	}
	return index.NewConcurrentMergeScheduler(c.Merge.MaxThreads, c.Merge.MaxMergeCount)
}

// WriterConfig builds the writer configuration. When a snapshot store is
// configured the returned release func closes it and must be called after
// the writer is closed.
func (c *Config) WriterConfig(log *slog.Logger, m *metrics.Metrics) (index.WriterConfig, func() error, error) {
	wc := index.DefaultWriterConfig()
	wc.Codec = c.Index.Codec
	wc.RAMBufferBytes = int64(c.Index.RAMBufferMB * (1 << 20))
	wc.MaxBufferedDocs = c.Index.MaxBufferedDocs
	wc.WriteLockTimeout = c.Index.LockTimeout
	wc.CommitOnClose = c.Index.CommitOnClose
	wc.MergePolicy = c.mergePolicy()
	wc.MergeScheduler = c.mergeScheduler()
	wc.Logger = log
	wc.Metrics = m

	var primary index.DeletionPolicy = index.KeepOnlyLastCommit{}
	if c.Index.DeletionPolicy == "keep_all" {
		primary = index.KeepAllCommits{}
	}
	wc.DeletionPolicy = primary
	release := func() error { return nil }
	if c.Index.SnapshotStore != "" {
		st, err := store.OpenSnapshotStore(c.Index.Dir, c.Index.SnapshotStore)
		if err != nil {
			return wc, nil, err
		}
		p, err := index.NewPersistentSnapshotDeletionPolicy(primary, st)
		if err != nil {
			st.Close()
			return wc, nil, err
		}
		wc.DeletionPolicy = p
		release = st.Close
	}
	return wc, release, nil
}

// applyEnvOverrides reads SEGIDX_* variables. Values that do not parse are
// ignored.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SEGIDX_INDEX_DIR"); v != "" {
		cfg.Index.Dir = v
	}
	if v := os.Getenv("SEGIDX_CODEC"); v != "" {
		cfg.Index.Codec = v
	}
	if v := os.Getenv("SEGIDX_RAM_BUFFER_MB"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Index.RAMBufferMB = f
		}
	}
	if v := os.Getenv("SEGIDX_MAX_BUFFERED_DOCS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Index.MaxBufferedDocs = n
		}
	}
	if v := os.Getenv("SEGIDX_LOCK_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Index.LockTimeout = d
		}
	}
	if v := os.Getenv("SEGIDX_DELETION_POLICY"); v != "" {
		cfg.Index.DeletionPolicy = v
	}
	if v := os.Getenv("SEGIDX_SNAPSHOT_STORE"); v != "" {
		cfg.Index.SnapshotStore = v
	}
	if v := os.Getenv("SEGIDX_MERGE_POLICY"); v != "" {
		cfg.Merge.Policy = v
	}
	if v := os.Getenv("SEGIDX_MERGE_FACTOR"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Merge.MergeFactor = n
		}
	}
	if v := os.Getenv("SEGIDX_MERGE_SCHEDULER"); v != "" {
		cfg.Merge.Scheduler = v
	}
	if v := os.Getenv("SEGIDX_MERGE_THREADS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Merge.MaxThreads = n
		}
	}
	if v := os.Getenv("SEGIDX_SCORING"); v != "" {
		cfg.Search.Scoring = v
	}
	if v := os.Getenv("SEGIDX_DEFAULT_FIELDS"); v != "" {
		cfg.Search.DefaultFields = strings.Split(v, ",")
	}
	if v := os.Getenv("SEGIDX_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SEGIDX_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("SEGIDX_METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
	}
}
