package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/RoaringBitmap/roaring"
	"github.com/google/uuid"

	"harshagw/segidx/internal/document"
	"harshagw/segidx/internal/metrics"
	"harshagw/segidx/internal/segment"
	"harshagw/segidx/internal/store"
)

type writerState int

const (
	stateOpen writerState = iota
	stateCommitting
	stateClosed
	stateRolledBack
)

func (s writerState) String() string {
	return [...]string{"open", "committing", "closed", "rolled_back"}[s]
}

// dwpt buffers documents for one indexing goroutine at a time.
type dwpt struct {
	builder  *segment.Builder
	seqs     []int64
	firstSeq atomic.Int64
}

// IndexWriter adds, updates and deletes documents and publishes commits.
// It holds the directory's write lock until Close or Rollback.
//
// Lock order: commitMu, flushMu, admission, mu, then deletesMu or dwptMu.
type IndexWriter struct {
	dir     store.Directory
	cfg     WriterConfig
	log     *slog.Logger
	metrics *metrics.Metrics
	lock    store.Lock
	codec   segment.Codec
	numbers *FieldNumbers

	commitMu sync.Mutex
	flushMu  sync.Mutex
	// admission is held shared by every mutation and exclusively while a
	// full flush swaps buffers.
	admission sync.RWMutex
	seq       atomic.Int64

	dwptMu   sync.Mutex
	free     []*dwpt
	dwpts    map[*dwpt]struct{}
	buffered atomic.Int64

	deletesMu sync.Mutex
	deletes   deleteLog

	mu               sync.Mutex
	cond             *sync.Cond
	infos            *SegmentInfos
	pool             map[string]*pooledSegment
	deleter          *fileDeleter
	lastCommit       *SegmentInfos
	commitUserData   map[string]string
	changeCount      int64
	lastCommitChange int64
	lastFullFlushSeq int64
	// While fullFlushing, segments holding only operations after
	// lastFullFlushSeq are held back so the snapshot stays exact.
	fullFlushing     bool
	held             []*pooledSegment
	synced           map[string]bool
	pendingMerges    []*OneMerge
	runningMerges    map[*OneMerge]struct{}
	merging          map[string]bool
	segmentsToMerge  map[string]bool

	pendingCommit       *SegmentInfos
	pendingCommitFile   string
	pendingCommitChange int64

	stateMu sync.Mutex
	state   writerState
	failed  error
	tragic  error
}

// NewWriter opens a writer on dir, creating the index if the open mode
// allows it.
func NewWriter(dir store.Directory, cfg WriterConfig) (*IndexWriter, error) {
	cfg.applyDefaults()
	codec, err := segment.LookupCodec(cfg.Codec)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), cfg.WriteLockTimeout)
	lock, err := dir.ObtainLock(ctx, WriteLockName)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("obtain %s: %w", WriteLockName, err)
	}

	w := &IndexWriter{
		dir:            dir,
		cfg:            cfg,
		log:            cfg.Logger.With("component", "indexwriter"),
		metrics:        cfg.Metrics,
		lock:           lock,
		codec:          codec,
		numbers:        NewFieldNumbers(),
		dwpts:          make(map[*dwpt]struct{}),
		pool:           make(map[string]*pooledSegment),
		commitUserData: map[string]string{},
		synced:         make(map[string]bool),
		runningMerges:  make(map[*OneMerge]struct{}),
		merging:        make(map[string]bool),
	}
	w.cond = sync.NewCond(&w.mu)
	if cms, ok := cfg.MergeScheduler.(*ConcurrentMergeScheduler); ok {
		cms.SetLogger(cfg.Logger.With("component", "mergescheduler"))
	}
	if err := w.init(); err != nil {
		for _, p := range w.pool {
			p.release()
		}
		_ = lock.Release()
		return nil, err
	}
	return w, nil
}

func (w *IndexWriter) init() error {
	infos, create, err := w.initialInfos()
	if err != nil {
		return err
	}
	w.infos = infos
	for _, si := range infos.Segments {
		r, err := openSegmentReader(w.dir, si)
		if err != nil {
			return fmt.Errorf("open segment %s: %w", si.Name, err)
		}
		w.pool[si.Name] = newPooledSegment(si, r, 0, nil)
		if err := w.numbers.AddInfos(r.FieldInfos()); err != nil {
			return err
		}
		for _, name := range si.AllFiles() {
			w.synced[name] = true
		}
	}
	w.deleter, err = newFileDeleter(w.dir, w.cfg.DeletionPolicy, infos, w.log.With("component", "filedeleter"))
	if err != nil {
		return err
	}
	if infos.Generation > 0 {
		w.lastCommit = infos.Clone()
		w.commitUserData = maps.Clone(infos.UserData)
	}
	if create || w.cfg.IndexCommit != nil {
		// The first commit must be written even without changes.
		w.changeCount = 1
	}
	w.log.Info("writer opened",
		"mode", w.cfg.OpenMode.String(),
		"create", create,
		"generation", infos.Generation,
		"segments", infos.Size(),
		"codec", w.codec.Name())
	w.updateGauges()
	return nil
}

func (w *IndexWriter) initialInfos() (*SegmentInfos, bool, error) {
	latest, err := ReadLatestCommit(w.dir)
	exists := err == nil
	if err != nil && !errors.Is(err, ErrIndexNotFound) {
		return nil, false, fmt.Errorf("read latest commit: %w", err)
	}
	mode := w.cfg.OpenMode
	if mode == OpenAppend && !exists {
		return nil, false, err
	}
	if mode == OpenCreate || (mode == OpenCreateOrAppend && !exists) {
		infos := NewSegmentInfos()
		if exists {
			infos.Counter = latest.Counter
			infos.Version = latest.Version + 1
			infos.lastGeneration = latest.Generation
		}
		return infos, true, nil
	}
	if c := w.cfg.IndexCommit; c != nil {
		infos, err := commitInfos(c)
		if err != nil {
			return nil, false, err
		}
		infos.lastGeneration = latest.Generation
		return infos, false, nil
	}
	return latest, false, nil
}

func (w *IndexWriter) setState(s writerState) {
	w.stateMu.Lock()
	w.state = s
	w.stateMu.Unlock()
}

func (w *IndexWriter) setFailed(err error) {
	w.stateMu.Lock()
	w.failed = err
	w.stateMu.Unlock()
}

func (w *IndexWriter) clearFailed() {
	w.stateMu.Lock()
	w.failed = nil
	w.stateMu.Unlock()
}

func (w *IndexWriter) setTragic(err error) {
	w.log.Error("tragic failure; writer must be rolled back", "error", err)
	w.stateMu.Lock()
	w.tragic = err
	w.stateMu.Unlock()
}

// ensureOpen fails once the writer is closed or hit a tragic error.
func (w *IndexWriter) ensureOpen() error {
	w.stateMu.Lock()
	defer w.stateMu.Unlock()
	switch {
	case w.state == stateClosed || w.state == stateRolledBack:
		return ErrWriterClosed
	case w.tragic != nil:
		return fmt.Errorf("%w: %v", ErrWriterFailed, w.tragic)
	}
	return nil
}

// ensureWritable also refuses mutations after a failed flush or commit.
func (w *IndexWriter) ensureWritable() error {
	if err := w.ensureOpen(); err != nil {
		return err
	}
	w.stateMu.Lock()
	defer w.stateMu.Unlock()
	if w.failed != nil {
		return fmt.Errorf("%w: %v", ErrWriterFailed, w.failed)
	}
	return nil
}

// Err returns the error that put the writer in an error state, if any.
func (w *IndexWriter) Err() error {
	w.stateMu.Lock()
	defer w.stateMu.Unlock()
	if w.tragic != nil {
		return w.tragic
	}
	return w.failed
}

func (w *IndexWriter) Directory() store.Directory { return w.dir }
func (w *IndexWriter) Config() WriterConfig       { return w.cfg }

// FieldNumbers returns the writer's field numbering.
func (w *IndexWriter) FieldNumbers() *FieldNumbers { return w.numbers }

func (w *IndexWriter) checkout() *dwpt {
	w.dwptMu.Lock()
	defer w.dwptMu.Unlock()
	if n := len(w.free); n > 0 {
		d := w.free[n-1]
		w.free = w.free[:n-1]
		return d
	}
	d := &dwpt{builder: segment.NewBuilder(w.cfg.Analyzer, w.numbers)}
	w.dwpts[d] = struct{}{}
	return d
}

func (w *IndexWriter) checkin(d *dwpt) {
	w.dwptMu.Lock()
	w.free = append(w.free, d)
	w.dwptMu.Unlock()
}

func (w *IndexWriter) needsFlush(d *dwpt) bool {
	if w.cfg.MaxBufferedDocs > 0 && d.builder.NumDocs() >= w.cfg.MaxBufferedDocs {
		return true
	}
	return w.cfg.RAMBufferBytes > 0 && d.builder.BytesUsed() >= w.cfg.RAMBufferBytes
}

// AddDocument buffers doc and returns its sequence number.
func (w *IndexWriter) AddDocument(doc *document.Document) (int64, error) {
	return w.updateDocument(nil, doc)
}

// UpdateDocument atomically deletes the documents containing term and adds
// doc. Readers see either the old documents or the new one, never both or
// neither.
func (w *IndexWriter) UpdateDocument(term document.Term, doc *document.Document) (int64, error) {
	return w.updateDocument(&term, doc)
}

func (w *IndexWriter) updateDocument(term *document.Term, doc *document.Document) (int64, error) {
	if err := w.ensureWritable(); err != nil {
		return 0, err
	}
	w.admission.RLock()
	seq, flushed, err := w.addLocked(term, doc)
	w.admission.RUnlock()
	if flushed {
		w.maybeMerge(TriggerSegmentFlush)
	}
	return seq, err
}

func (w *IndexWriter) addLocked(term *document.Term, doc *document.Document) (int64, bool, error) {
	d := w.checkout()
	if _, err := d.builder.Add(doc); err != nil {
		w.checkin(d)
		return 0, false, err
	}
	var seq int64
	if term != nil {
		w.deletesMu.Lock()
		seq = w.seq.Add(1)
		w.deletes.append(deleteOp{seq: seq, terms: []document.Term{*term}})
		w.deletesMu.Unlock()
		w.metrics.Deleted("term")
	} else {
		seq = w.seq.Add(1)
	}
	d.seqs = append(d.seqs, seq)
	d.firstSeq.CompareAndSwap(0, seq)
	w.buffered.Add(1)
	w.metrics.DocAdded()

	if !w.needsFlush(d) {
		w.checkin(d)
		return seq, false, nil
	}
	if err := w.flushDWPT(d); err != nil {
		return seq, false, err
	}
	return seq, true, nil
}

// DeleteDocuments deletes every document containing any of terms.
func (w *IndexWriter) DeleteDocuments(terms ...document.Term) (int64, error) {
	return w.bufferDelete(deleteOp{terms: terms}, "term")
}

// DeleteDocumentsQuery deletes every document matching any of queries.
func (w *IndexWriter) DeleteDocumentsQuery(queries ...DeleteQuery) (int64, error) {
	return w.bufferDelete(deleteOp{queries: queries}, "query")
}

func (w *IndexWriter) bufferDelete(op deleteOp, kind string) (int64, error) {
	if err := w.ensureWritable(); err != nil {
		return 0, err
	}
	w.admission.RLock()
	w.deletesMu.Lock()
	op.seq = w.seq.Add(1)
	w.deletes.append(op)
	w.deletesMu.Unlock()
	w.admission.RUnlock()
	w.metrics.Deleted(kind)
	return op.seq, nil
}

func (w *IndexWriter) diagnostics(source string, extra ...string) map[string]string {
	diag := map[string]string{
		"source":    source,
		"os":        runtime.GOOS,
		"arch":      runtime.GOARCH,
		"timestamp": strconv.FormatInt(time.Now().UnixMilli(), 10),
	}
	for i := 0; i+1 < len(extra); i += 2 {
		diag[extra[i]] = extra[i+1]
	}
	return diag
}

func (w *IndexWriter) newSegmentInfo(source string, extra ...string) *SegmentCommitInfo {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.newSegmentInfoLocked(source, extra...)
}

func (w *IndexWriter) newSegmentInfoLocked(source string, extra ...string) *SegmentCommitInfo {
	return &SegmentCommitInfo{
		Name:        w.infos.newSegmentName(),
		ID:          uuid.NewString(),
		Codec:       w.codec.Name(),
		Diagnostics: w.diagnostics(source, extra...),
	}
}

// writeSegment writes src as the segment described by info and opens it.
func (w *IndexWriter) writeSegment(info *SegmentCommitInfo, src segment.Source) (*SegmentReader, error) {
	info.MaxDoc = src.MaxDoc()
	files, err := w.codec.Write(w.dir, info.segmentInfo(), src, info.Diagnostics)
	if err != nil {
		return nil, err
	}
	info.Files = files
	core, err := openCore(w.dir, info)
	if err != nil {
		for _, f := range files {
			_ = w.dir.DeleteFile(f)
		}
		return nil, err
	}
	return newSegmentReader(w.dir, core, info, nil), nil
}

// flushDWPT writes one buffer as a new segment. On failure the buffer is
// kept for a later retry and the writer enters the error state.
func (w *IndexWriter) flushDWPT(d *dwpt) error {
	n := d.builder.NumDocs()
	if n == 0 {
		w.dropDWPT(d)
		return nil
	}
	start := time.Now()
	info := w.newSegmentInfo("flush")
	r, err := w.writeSegment(info, d.builder)
	w.metrics.Flushed(start, err)
	if err != nil {
		err = fmt.Errorf("flush segment %s: %w", info.Name, err)
		w.log.Error("flush failed", "segment", info.Name, "docs", n, "error", err)
		w.setFailed(err)
		w.checkin(d)
		return err
	}

	w.mu.Lock()
	w.publishLocked(newPooledSegment(info, r, d.seqs[0], d.seqs), d.seqs[0])
	w.mu.Unlock()

	w.dropDWPT(d)
	w.buffered.Add(-int64(n))
	w.log.Debug("flushed segment",
		"segment", info.Name,
		"docs", n,
		"bytes", r.Core().SizeInBytes(),
		"took", time.Since(start))
	return nil
}

func (w *IndexWriter) dropDWPT(d *dwpt) {
	w.dwptMu.Lock()
	delete(w.dwpts, d)
	w.dwptMu.Unlock()
}

// publishLocked adds a new segment whose oldest operation has sequence
// number minSeq.
func (w *IndexWriter) publishLocked(p *pooledSegment, minSeq int64) {
	if w.fullFlushing && minSeq > w.lastFullFlushSeq {
		w.held = append(w.held, p)
		return
	}
	w.infos.Segments = append(w.infos.Segments, p.info)
	w.pool[p.info.Name] = p
	w.checkpointLocked()
}

// fullFlush detaches every buffer, flushes them and returns the sequence
// number of the snapshot: every operation at or below it is in a segment
// or in the delete log, and no later operation is. Callers hold flushMu
// and call finishFullFlush once done with the snapshot.
func (w *IndexWriter) fullFlush() (int64, error) {
	w.admission.Lock()
	snap := w.seq.Load()
	w.dwptMu.Lock()
	pending := w.free
	w.free = nil
	w.dwptMu.Unlock()
	w.mu.Lock()
	w.lastFullFlushSeq = max(w.lastFullFlushSeq, snap)
	w.fullFlushing = true
	w.mu.Unlock()
	w.admission.Unlock()

	for i, d := range pending {
		if err := w.flushDWPT(d); err != nil {
			for _, rest := range pending[i+1:] {
				w.checkin(rest)
			}
			return snap, err
		}
	}
	return snap, nil
}

// finishFullFlush publishes the segments held back during a full flush.
func (w *IndexWriter) finishFullFlush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.fullFlushing = false
	if len(w.held) == 0 {
		return
	}
	for _, p := range w.held {
		w.infos.Segments = append(w.infos.Segments, p.info)
		w.pool[p.info.Name] = p
	}
	w.held = nil
	w.checkpointLocked()
}

// checkpointLocked records a change of the in-memory segment list.
func (w *IndexWriter) checkpointLocked() {
	w.infos.Changed()
	w.changeCount++
	w.deleter.checkpoint(w.infos)
	w.updateGaugesLocked()
}

func (w *IndexWriter) updateGauges() {
	w.mu.Lock()
	w.updateGaugesLocked()
	w.mu.Unlock()
}

func (w *IndexWriter) updateGaugesLocked() {
	w.metrics.Segments(w.infos.Size(), w.deleter.pendingCount())
}

// applyDeletesLocked resolves buffered deletes up to upTo on every
// segment, drops segments left without live documents and trims the log.
func (w *IndexWriter) applyDeletesLocked(upTo int64) error {
	changed := false
	for _, si := range w.infos.Segments {
		n, err := w.applyDeletesToLocked(w.pool[si.Name], upTo)
		if err != nil {
			return err
		}
		changed = changed || n > 0
	}
	dropped := w.dropFullyDeletedLocked()
	if changed || dropped {
		w.checkpointLocked()
	}
	w.trimDeletesLocked()
	return nil
}

func (w *IndexWriter) applyDeletesToLocked(p *pooledSegment, upTo int64) (int, error) {
	if p.appliedSeq >= upTo {
		return 0, nil
	}
	w.deletesMu.Lock()
	ops := w.deletes.between(p.appliedSeq, upTo)
	w.deletesMu.Unlock()
	n, err := p.resolve(ops, upTo)
	if err != nil {
		return n, fmt.Errorf("apply deletes to %s: %w", p.info.Name, err)
	}
	return n, nil
}

func (w *IndexWriter) dropFullyDeletedLocked() bool {
	dropped := false
	kept := w.infos.Segments[:0]
	for _, si := range w.infos.Segments {
		p := w.pool[si.Name]
		if p.fullyDeleted() && !w.merging[si.Name] {
			w.log.Debug("dropping fully deleted segment", "segment", si.Name)
			p.release()
			delete(w.pool, si.Name)
			dropped = true
			continue
		}
		kept = append(kept, si)
	}
	clear(w.infos.Segments[len(kept):])
	w.infos.Segments = kept
	return dropped
}

// trimDeletesLocked drops deletes that no segment, merge or buffer can
// still need.
func (w *IndexWriter) trimDeletesLocked() {
	need := w.lastFullFlushSeq
	for _, p := range w.pool {
		need = min(need, p.appliedSeq)
	}
	for _, p := range w.held {
		need = min(need, p.appliedSeq)
	}
	for m := range w.runningMerges {
		need = min(need, m.initSeq)
	}
	w.dwptMu.Lock()
	for d := range w.dwpts {
		if first := d.firstSeq.Load(); first > 0 {
			need = min(need, first)
		}
	}
	w.dwptMu.Unlock()
	w.deletesMu.Lock()
	w.deletes.trim(need)
	w.deletesMu.Unlock()
}

// Flush writes all buffered documents to segments and resolves buffered
// deletes without committing. A successful Flush clears the error state.
func (w *IndexWriter) Flush() error {
	if err := w.ensureOpen(); err != nil {
		return err
	}
	if err := w.flush(); err != nil {
		return err
	}
	w.maybeMerge(TriggerFullFlush)
	return nil
}

func (w *IndexWriter) flush() error {
	w.flushMu.Lock()
	defer w.flushMu.Unlock()
	defer w.finishFullFlush()
	snap, err := w.fullFlush()
	if err != nil {
		return err
	}
	w.mu.Lock()
	err = w.applyDeletesLocked(snap)
	w.mu.Unlock()
	if err != nil {
		w.setFailed(err)
		return err
	}
	w.clearFailed()
	return nil
}

// GetReader flushes and returns a reader over everything indexed so far,
// committed or not. Deletes are always resolved, whatever
// applyAllDeletes says.
func (w *IndexWriter) GetReader(applyAllDeletes bool) (*DirectoryReader, error) {
	if err := w.ensureOpen(); err != nil {
		return nil, err
	}
	start := time.Now()
	r, err := w.getReader()
	if err != nil {
		return nil, err
	}
	w.log.Debug("opened writer reader",
		"segments", len(r.leaves),
		"docs", r.numDocs,
		"apply_all_deletes", applyAllDeletes,
		"took", time.Since(start))
	w.maybeMerge(TriggerFullFlush)
	return r, nil
}

func (w *IndexWriter) getReader() (*DirectoryReader, error) {
	w.flushMu.Lock()
	defer w.flushMu.Unlock()
	defer w.finishFullFlush()
	snap, err := w.fullFlush()
	if err != nil {
		return nil, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.applyDeletesLocked(snap); err != nil {
		w.setFailed(err)
		return nil, err
	}
	readers := make([]*SegmentReader, 0, w.infos.Size())
	for _, si := range w.infos.Segments {
		r := w.pool[si.Name].currentReader()
		r.IncRef()
		readers = append(readers, r)
	}
	infos := w.infos.Clone()
	for i, si := range infos.Segments {
		si.DelCount = readers[i].NumDeletedDocs()
	}
	dr := newDirectoryReader(w.dir, infos, readers)
	dr.writer = w
	dr.seq = snap
	return dr, nil
}

// nrtIsCurrent reports whether r, opened from this writer, reflects every
// operation so far.
func (w *IndexWriter) nrtIsCurrent(r *DirectoryReader) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return r.infos.Version == w.infos.Version && r.seq == w.seq.Load()
}

// NumDocs counts buffered documents plus live documents of every segment.
// Unresolved deletes are not subtracted.
func (w *IndexWriter) NumDocs() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := int(w.buffered.Load())
	for _, si := range w.infos.Segments {
		n += w.pool[si.Name].numDocs()
	}
	for _, p := range w.held {
		n += p.numDocs()
	}
	return n
}

// MaxDoc counts buffered documents plus all documents of every segment.
func (w *IndexWriter) MaxDoc() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := int(w.buffered.Load()) + w.infos.TotalMaxDoc()
	for _, p := range w.held {
		n += p.info.MaxDoc
	}
	return n
}

func (w *IndexWriter) SegmentCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.infos.Size()
}

// SegmentInfos returns a copy of the writer's current segment list.
func (w *IndexWriter) SegmentInfos() *SegmentInfos {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.infos.Clone()
}

// HasUncommittedChanges reports whether a commit would publish anything.
func (w *IndexWriter) HasUncommittedChanges() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.deletesMu.Lock()
	pendingDeletes := w.deletes.len()
	w.deletesMu.Unlock()
	return w.changeCount != w.lastCommitChange || w.buffered.Load() > 0 || pendingDeletes > 0
}

// liveDocsOf returns the current deletions of a segment for tests and
// tools.
func (w *IndexWriter) liveDocsOf(name string) *roaring.Bitmap {
	w.mu.Lock()
	defer w.mu.Unlock()
	if p, ok := w.pool[name]; ok {
		return p.deleted.Clone()
	}
	return nil
}
