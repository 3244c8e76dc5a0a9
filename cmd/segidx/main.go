// Command segidx builds, inspects and queries segidx indexes.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"harshagw/segidx/internal/config"
	"harshagw/segidx/internal/index"
	"harshagw/segidx/internal/logger"
	"harshagw/segidx/internal/metrics"
	"harshagw/segidx/internal/store"
)

var (
	configPath string
	indexDir   string
	logLevel   string

	cfg *config.Config
	log *slog.Logger
	// met is set by commands that expose metrics before the writer opens.
	met *metrics.Metrics
)

var rootCmd = &cobra.Command{
	Use:   "segidx",
	Short: "segidx - a segment-based inverted index",
	Long: `segidx builds and maintains segment-based inverted indexes on disk.

Documents are JSON objects. String values become tokenized text fields, the
id field is indexed as a single term so documents can be updated and
deleted by id.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file")
	rootCmd.PersistentFlags().StringVarP(&indexDir, "dir", "d", "", "index directory (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
}

func loadConfig(cmd *cobra.Command, _ []string) error {
	c, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if indexDir != "" {
		c.Index.Dir = indexDir
	}
	if logLevel != "" {
		c.Logging.Level = logLevel
	}
	logger.SetupWriter(cmd.ErrOrStderr(), c.Logging.Level, c.Logging.Format)
	cfg = c
	log = logger.WithComponent("cli")
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func openDirectory() (*store.FSDirectory, error) {
	return store.OpenFSDirectory(cfg.Index.Dir)
}

// enableMetrics registers the index collectors on a fresh registry.
func enableMetrics() *metrics.Metrics {
	if met == nil {
		met = metrics.New(prometheus.NewRegistry())
	}
	return met
}

// writerHandle owns a writer together with its directory and snapshot
// store.
type writerHandle struct {
	*index.IndexWriter
	dir     store.Directory
	release func() error
	closed  bool
}

func openWriter(mutate ...func(*index.WriterConfig)) (*writerHandle, error) {
	dir, err := openDirectory()
	if err != nil {
		return nil, err
	}
	wc, release, err := cfg.WriterConfig(logger.WithComponent("writer"), met)
	if err != nil {
		dir.Close()
		return nil, err
	}
	for _, fn := range mutate {
		fn(&wc)
	}
	w, err := index.NewWriter(dir, wc)
	if err != nil {
		release()
		dir.Close()
		return nil, err
	}
	return &writerHandle{IndexWriter: w, dir: dir, release: release}, nil
}

// Close commits pending changes when configured to and closes everything.
func (h *writerHandle) Close() error {
	if h.closed {
		return nil
	}
	return h.finish(h.IndexWriter.Close())
}

// Rollback discards uncommitted changes and closes everything.
func (h *writerHandle) Rollback() error {
	if h.closed {
		return nil
	}
	return h.finish(h.IndexWriter.Rollback())
}

func (h *writerHandle) finish(err error) error {
	h.closed = true
	if rerr := h.release(); err == nil {
		err = rerr
	}
	if derr := h.dir.Close(); err == nil {
		err = derr
	}
	return err
}

// readerHandle owns a reader and its directory.
type readerHandle struct {
	*index.DirectoryReader
	dir store.Directory
}

func openReader() (*readerHandle, error) {
	dir, err := openDirectory()
	if err != nil {
		return nil, err
	}
	r, err := index.Open(dir)
	if err != nil {
		dir.Close()
		return nil, fmt.Errorf("open %s: %w", cfg.Index.Dir, err)
	}
	return &readerHandle{DirectoryReader: r, dir: dir}, nil
}

func (h *readerHandle) Close() error {
	err := h.DirectoryReader.Close()
	if derr := h.dir.Close(); err == nil {
		err = derr
	}
	return err
}
