package index

import (
	"log/slog"
	"time"

	"harshagw/segidx/internal/analysis"
	"harshagw/segidx/internal/metrics"
	"harshagw/segidx/internal/segment"
)

// OpenMode says whether a writer creates or appends to an index.
type OpenMode int

const (
	OpenCreateOrAppend OpenMode = iota
	OpenCreate
	OpenAppend
)

func (m OpenMode) String() string {
	return [...]string{"create_or_append", "create", "append"}[m]
}

// WriterConfig configures an IndexWriter.
type WriterConfig struct {
	OpenMode OpenMode
	Analyzer analysis.Analyzer
	Codec    string

	// A buffer is flushed to a segment once it holds MaxBufferedDocs
	// documents or RAMBufferBytes bytes. Zero disables a limit.
	MaxBufferedDocs int
	RAMBufferBytes  int64

	MergePolicy    MergePolicy
	MergeScheduler MergeScheduler
	DeletionPolicy DeletionPolicy

	// IndexCommit, when set, opens the writer on that commit instead of
	// the newest one.
	IndexCommit IndexCommit

	WriteLockTimeout time.Duration
	// CommitOnClose makes Close commit pending changes.
	CommitOnClose bool

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		OpenMode:         OpenCreateOrAppend,
		Analyzer:         analysis.NewSimple(),
		Codec:            segment.DefaultCodec,
		RAMBufferBytes:   16 << 20,
		WriteLockTimeout: time.Second,
		CommitOnClose:    true,
	}
}

func (c *WriterConfig) applyDefaults() {
	if c.Analyzer == nil {
		c.Analyzer = analysis.NewSimple()
	}
	if c.Codec == "" {
		c.Codec = segment.DefaultCodec
	}
	if c.MergePolicy == nil {
		c.MergePolicy = NewLogDocMergePolicy()
	}
	if c.MergeScheduler == nil {
		c.MergeScheduler = NewConcurrentMergeScheduler(0, 0)
	}
	if c.DeletionPolicy == nil {
		c.DeletionPolicy = KeepOnlyLastCommit{}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}
