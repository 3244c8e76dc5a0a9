package index

import (
	"context"
	"log/slog"
	"runtime"
	"sync"

	"golang.org/x/sync/semaphore"
)

// MergeSource hands registered merges to a scheduler.
type MergeSource interface {
	// NextMerge returns the next pending merge, or nil.
	NextMerge() *OneMerge
	HasPendingMerges() bool
	// Merge runs one merge to completion. Failures are recorded on the
	// merge and returned.
	Merge(m *OneMerge) error
}

// MergeScheduler decides which goroutine runs the merges of a source.
type MergeScheduler interface {
	Merge(src MergeSource, trigger MergeTrigger) error
	Close() error
}

// SerialMergeScheduler runs merges on the calling goroutine, one at a time.
type SerialMergeScheduler struct {
	mu sync.Mutex
}

func NewSerialMergeScheduler() *SerialMergeScheduler { return &SerialMergeScheduler{} }

func (s *SerialMergeScheduler) Merge(src MergeSource, _ MergeTrigger) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for m := src.NextMerge(); m != nil; m = src.NextMerge() {
		// Failures stay on the merge; the writer is not affected.
		_ = src.Merge(m)
	}
	return nil
}

func (s *SerialMergeScheduler) Close() error { return nil }

// ConcurrentMergeScheduler runs each merge on its own goroutine, at most
// MaxMergeThreads at once. An indexing goroutine that triggers a merge
// while MaxMergeCount merges are already queued or running is stalled
// until one finishes.
type ConcurrentMergeScheduler struct {
	MaxMergeThreads int
	MaxMergeCount   int

	log  *slog.Logger
	sem  *semaphore.Weighted
	wg   sync.WaitGroup
	mu   sync.Mutex
	cond *sync.Cond
	// active counts merges taken from a source and not yet finished.
	active int
	closed bool
}

// NewConcurrentMergeScheduler uses defaults for non-positive arguments.
func NewConcurrentMergeScheduler(maxThreads, maxCount int) *ConcurrentMergeScheduler {
	if maxThreads <= 0 {
		maxThreads = max(1, min(4, runtime.NumCPU()/2))
	}
	if maxCount < maxThreads {
		maxCount = maxThreads + 5
	}
	s := &ConcurrentMergeScheduler{
		MaxMergeThreads: maxThreads,
		MaxMergeCount:   maxCount,
		log:             slog.Default().With("component", "mergescheduler"),
		sem:             semaphore.NewWeighted(int64(maxThreads)),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// SetLogger replaces the scheduler's logger.
func (s *ConcurrentMergeScheduler) SetLogger(log *slog.Logger) { s.log = log }

func (s *ConcurrentMergeScheduler) Merge(src MergeSource, trigger MergeTrigger) error {
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return nil
		}
		// Merge goroutines never stall; they cascade follow-up merges.
		for trigger != TriggerMergeFinished && s.active >= s.MaxMergeCount && src.HasPendingMerges() && !s.closed {
			s.log.Debug("stalling indexing goroutine", "active_merges", s.active)
			s.cond.Wait()
		}
		m := src.NextMerge()
		if m == nil {
			s.mu.Unlock()
			return nil
		}
		s.active++
		s.mu.Unlock()

		s.wg.Add(1)
		go s.run(src, m)
	}
}

func (s *ConcurrentMergeScheduler) run(src MergeSource, m *OneMerge) {
	defer s.wg.Done()
	err := s.sem.Acquire(context.Background(), 1)
	if err == nil {
		err = src.Merge(m)
		s.sem.Release(1)
	}
	if err != nil {
		s.log.Debug("merge failed", "segments", m.String(), "error", err)
	}

	s.mu.Lock()
	s.active--
	s.cond.Broadcast()
	s.mu.Unlock()

	_ = s.Merge(src, TriggerMergeFinished)
}

// Sync waits for every merge started so far.
func (s *ConcurrentMergeScheduler) Sync() { s.wg.Wait() }

func (s *ConcurrentMergeScheduler) Close() error {
	s.mu.Lock()
	s.closed = true
	s.cond.Broadcast()
	s.mu.Unlock()
	s.wg.Wait()
	return nil
}
