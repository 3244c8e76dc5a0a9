package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"harshagw/segidx/internal/index"
	"harshagw/segidx/internal/logger"
	"harshagw/segidx/internal/search"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "segidx.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
	require.Equal(t, "log_doc", cfg.Merge.Policy)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
index:
  dir: /var/lib/segidx
  maxBufferedDocs: 500
  lockTimeout: 3s
  deletionPolicy: keep_all
merge:
  policy: none
  scheduler: serial
search:
  scoring: tfidf
  defaultFields: [title, body]
logging:
  level: debug
  format: json
metrics:
  addr: ":9100"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/var/lib/segidx", cfg.Index.Dir)
	require.Equal(t, 500, cfg.Index.MaxBufferedDocs)
	require.Equal(t, 3*time.Second, cfg.Index.LockTimeout)
	require.Equal(t, float64(16), cfg.Index.RAMBufferMB)
	require.Equal(t, "debug", cfg.Logging.Level)
	require.Equal(t, ":9100", cfg.Metrics.Addr)

	opts := cfg.SearchOptions()
	require.Equal(t, search.ScoringTFIDF, opts.Scoring)
	require.Equal(t, []string{"title", "body"}, opts.DefaultFields)

	wc, release, err := cfg.WriterConfig(logger.Discard(), nil)
	require.NoError(t, err)
	defer release()
	require.IsType(t, index.NoMergePolicy{}, wc.MergePolicy)
	require.IsType(t, &index.SerialMergeScheduler{}, wc.MergeScheduler)
	require.IsType(t, index.KeepAllCommits{}, wc.DeletionPolicy)
	require.Equal(t, 500, wc.MaxBufferedDocs)
	require.Equal(t, int64(16<<20), wc.RAMBufferBytes)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SEGIDX_INDEX_DIR", "/tmp/idx")
	t.Setenv("SEGIDX_MERGE_FACTOR", "4")
	t.Setenv("SEGIDX_MERGE_THREADS", "not-a-number")
	t.Setenv("SEGIDX_DEFAULT_FIELDS", "a,b")
	t.Setenv("SEGIDX_LOG_FORMAT", "json")

	cfg, err := Load(writeConfig(t, "index:\n  dir: /from/file\n"))
	require.NoError(t, err)
	require.Equal(t, "/tmp/idx", cfg.Index.Dir)
	require.Equal(t, 4, cfg.Merge.MergeFactor)
	require.Equal(t, 0, cfg.Merge.MaxThreads)
	require.Equal(t, []string{"a", "b"}, cfg.Search.DefaultFields)
	require.Equal(t, "json", cfg.Logging.Format)

	wc, release, err := cfg.WriterConfig(logger.Discard(), nil)
	require.NoError(t, err)
	defer release()
	require.Equal(t, 4, wc.MergePolicy.(*index.LogDocMergePolicy).MergeFactor)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty dir", func(c *Config) { c.Index.Dir = "" }},
		{"unknown codec", func(c *Config) { c.Index.Codec = "nope" }},
		{"negative buffer", func(c *Config) { c.Index.MaxBufferedDocs = -1 }},
		{"deletion policy", func(c *Config) { c.Index.DeletionPolicy = "keep_some" }},
		{"merge policy", func(c *Config) { c.Merge.Policy = "tiered" }},
		{"merge factor", func(c *Config) { c.Merge.MergeFactor = 1 }},
		{"scheduler", func(c *Config) { c.Merge.Scheduler = "parallel" }},
		{"scoring", func(c *Config) { c.Search.Scoring = "cosine" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
	require.NoError(t, Default().Validate())
}

func TestLoadRejectsBadYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "index: [unclosed"))
	require.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestWriterConfigPersistentSnapshots(t *testing.T) {
	cfg := Default()
	cfg.Index.Dir = t.TempDir()
	cfg.Index.SnapshotStore = "snapshots.db"

	wc, release, err := cfg.WriterConfig(logger.Discard(), nil)
	require.NoError(t, err)
	require.IsType(t, &index.PersistentSnapshotDeletionPolicy{}, wc.DeletionPolicy)
	require.NoError(t, release())
	require.FileExists(t, filepath.Join(cfg.Index.Dir, "snapshots.db"))
}
