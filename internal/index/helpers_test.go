package index

import (
	"fmt"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"harshagw/segidx/internal/document"
	"harshagw/segidx/internal/logger"
	"harshagw/segidx/internal/segment"
	"harshagw/segidx/internal/store"
)

func testConfig(mutate ...func(*WriterConfig)) WriterConfig {
	cfg := DefaultWriterConfig()
	cfg.MergePolicy = NoMergePolicy{}
	cfg.MergeScheduler = NewSerialMergeScheduler()
	cfg.Logger = logger.Discard()
	for _, fn := range mutate {
		fn(&cfg)
	}
	return cfg
}

func withMaxBufferedDocs(n int) func(*WriterConfig) {
	return func(c *WriterConfig) { c.MaxBufferedDocs = n }
}

func newTestWriter(t *testing.T, dir store.Directory, mutate ...func(*WriterConfig)) *IndexWriter {
	t.Helper()
	w, err := NewWriter(dir, testConfig(mutate...))
	require.NoError(t, err)
	t.Cleanup(func() { w.Rollback() })
	return w
}

func idDoc(id int, body string) *document.Document {
	return document.New(
		document.NewStringField("id", strconv.Itoa(id), true),
		document.NewTextField("body", body, true),
		document.NewNumericDocValuesField("num", int64(id)),
	)
}

func addDocs(t *testing.T, w *IndexWriter, from, to int) {
	t.Helper()
	for i := from; i < to; i++ {
		_, err := w.AddDocument(idDoc(i, fmt.Sprintf("doc number %d common", i)))
		require.NoError(t, err)
	}
}

func idTerm(id int) document.Term { return document.NewTerm("id", strconv.Itoa(id)) }

func openReader(t *testing.T, dir store.Directory) *DirectoryReader {
	t.Helper()
	r, err := Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func nrtReader(t *testing.T, w *IndexWriter) *DirectoryReader {
	t.Helper()
	r, err := w.GetReader(true)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

// hits returns the live global doc ids containing term.
func hits(t *testing.T, r *DirectoryReader, term document.Term) []int {
	t.Helper()
	terms, err := r.Terms(term.Field)
	require.NoError(t, err)
	if terms == nil {
		return nil
	}
	te := terms.Iterator()
	ok, err := te.SeekExact(term.Bytes)
	require.NoError(t, err)
	if !ok {
		return nil
	}
	pe, err := te.Postings(nil, segment.FlagDocs)
	require.NoError(t, err)
	var docs []int
	for {
		doc, err := pe.NextDoc()
		require.NoError(t, err)
		if doc == segment.NoMoreDocs {
			return docs
		}
		docs = append(docs, doc)
	}
}

func storedIDs(t *testing.T, r *DirectoryReader) map[string]bool {
	t.Helper()
	ids := make(map[string]bool)
	for _, leaf := range r.Leaves() {
		for doc := 0; doc < leaf.Reader.MaxDoc(); doc++ {
			if !leaf.Reader.IsLive(doc) {
				continue
			}
			d, err := leaf.Reader.Document(doc)
			require.NoError(t, err)
			ids[d.Get("id")] = true
		}
	}
	return ids
}

func requireClean(t *testing.T, dir store.Directory) *Status {
	t.Helper()
	st, err := CheckIndex(dir)
	require.NoError(t, err)
	for _, seg := range st.Segments {
		require.Empty(t, seg.Problems, "segment %s", seg.Name)
	}
	require.Empty(t, st.Problems)
	require.Empty(t, st.MissingFiles)
	require.True(t, st.Clean())
	return st
}
