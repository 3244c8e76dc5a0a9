package index

import (
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"sync/atomic"
)

// MergeTrigger says why a merge search runs.
type MergeTrigger int

const (
	TriggerSegmentFlush MergeTrigger = iota
	TriggerFullFlush
	TriggerExplicit
	TriggerMergeFinished
	TriggerClosing
)

func (t MergeTrigger) String() string {
	return [...]string{"segment_flush", "full_flush", "explicit", "merge_finished", "closing"}[t]
}

// MergeContext is the writer state a policy may consult.
type MergeContext struct {
	Log *slog.Logger
	// Merging holds the names of segments already registered for a merge.
	Merging map[string]bool
	// NumDeletes returns a segment's deletions including unwritten ones.
	NumDeletes func(si *SegmentCommitInfo) int
}

func (c *MergeContext) isMerging(si *SegmentCommitInfo) bool {
	return c.Merging[si.Name]
}

// OneMerge is a set of adjacent segments merged into one.
type OneMerge struct {
	Segments []*SegmentCommitInfo

	// Info is the merged segment, set once the merge starts.
	Info *SegmentCommitInfo

	aborted atomic.Bool
	done    chan struct{}
	once    sync.Once
	err     error

	readers   []*SegmentReader
	docSeqs   [][]int64
	initSeq   int64
	totalDocs int
}

func NewOneMerge(segments []*SegmentCommitInfo) *OneMerge {
	m := &OneMerge{Segments: segments, done: make(chan struct{})}
	for _, si := range segments {
		m.totalDocs += si.MaxDoc
	}
	return m
}

// Abort asks a running merge to stop at its next check.
func (m *OneMerge) Abort() { m.aborted.Store(true) }

func (m *OneMerge) IsAborted() bool { return m.aborted.Load() }

func (m *OneMerge) checkAborted() error {
	if m.aborted.Load() {
		return ErrMergeAborted
	}
	return nil
}

func (m *OneMerge) finish(err error) {
	m.once.Do(func() {
		m.err = err
		close(m.done)
	})
}

// Done is closed when the merge finished or failed.
func (m *OneMerge) Done() <-chan struct{} { return m.done }

// Wait blocks until the merge finished and returns its error.
func (m *OneMerge) Wait() error {
	<-m.done
	return m.err
}

func (m *OneMerge) String() string {
	names := make([]string, len(m.Segments))
	for i, si := range m.Segments {
		names[i] = si.Name
	}
	return strings.Join(names, " ")
}

// MergeSpecification is the set of merges a policy selected.
type MergeSpecification struct {
	Merges []*OneMerge
}

func (s *MergeSpecification) add(m *OneMerge) { s.Merges = append(s.Merges, m) }

func (s *MergeSpecification) empty() bool { return s == nil || len(s.Merges) == 0 }

// MergePolicy selects merges. Every method may return a nil specification.
type MergePolicy interface {
	FindMerges(trigger MergeTrigger, infos *SegmentInfos, ctx *MergeContext) (*MergeSpecification, error)
	// FindForcedMerges selects merges reducing the segments in toMerge to
	// at most maxSegments.
	FindForcedMerges(infos *SegmentInfos, maxSegments int, toMerge map[string]bool, ctx *MergeContext) (*MergeSpecification, error)
	FindForcedDeletesMerges(infos *SegmentInfos, ctx *MergeContext) (*MergeSpecification, error)
}

// NoMergePolicy never merges.
type NoMergePolicy struct{}

func (NoMergePolicy) FindMerges(MergeTrigger, *SegmentInfos, *MergeContext) (*MergeSpecification, error) {
	return nil, nil
}

func (NoMergePolicy) FindForcedMerges(*SegmentInfos, int, map[string]bool, *MergeContext) (*MergeSpecification, error) {
	return nil, nil
}

func (NoMergePolicy) FindForcedDeletesMerges(*SegmentInfos, *MergeContext) (*MergeSpecification, error) {
	return nil, nil
}

const (
	DefaultMergeFactor          = 10
	DefaultMinMergeDocs         = 1000
	DefaultMaxMergeDocs         = math.MaxInt32
	DefaultForceMergeDeletesPct = 10.0
	levelLogSpan                = 0.75
)

// LogDocMergePolicy groups segments into levels by live doc count and
// merges MergeFactor adjacent segments of the same level.
type LogDocMergePolicy struct {
	MergeFactor  int
	MinMergeDocs int
	MaxMergeDocs int
	// ForceMergeDeletesPctAllowed is the deleted share above which
	// ForceMergeDeletes rewrites a segment.
	ForceMergeDeletesPctAllowed float64
	// CalibrateSizeByDeletes sizes segments by live docs instead of MaxDoc.
	CalibrateSizeByDeletes bool
}

func NewLogDocMergePolicy() *LogDocMergePolicy {
	return &LogDocMergePolicy{
		MergeFactor:                 DefaultMergeFactor,
		MinMergeDocs:                DefaultMinMergeDocs,
		MaxMergeDocs:                DefaultMaxMergeDocs,
		ForceMergeDeletesPctAllowed: DefaultForceMergeDeletesPct,
		CalibrateSizeByDeletes:      true,
	}
}

func (p *LogDocMergePolicy) size(si *SegmentCommitInfo, ctx *MergeContext) int {
	if p.CalibrateSizeByDeletes && ctx.NumDeletes != nil {
		return si.MaxDoc - ctx.NumDeletes(si)
	}
	return si.MaxDoc
}

func (p *LogDocMergePolicy) factor() int {
	if p.MergeFactor < 2 {
		return DefaultMergeFactor
	}
	return p.MergeFactor
}

// FindMerges walks the segments from oldest to newest. Each pass takes the
// highest remaining level, collects every segment down to levelLogSpan
// below it and merges them in windows of MergeFactor.
func (p *LogDocMergePolicy) FindMerges(_ MergeTrigger, infos *SegmentInfos, ctx *MergeContext) (*MergeSpecification, error) {
	segs := infos.Segments
	n := len(segs)
	factor := p.factor()
	norm := math.Log(float64(factor))
	levels := make([]float64, n)
	for i, si := range segs {
		levels[i] = math.Log(float64(max(p.size(si, ctx), 1))) / norm
	}
	levelFloor := math.Log(float64(max(p.MinMergeDocs, 1))) / norm

	spec := &MergeSpecification{}
	start := 0
	for start < n {
		maxLevel := levels[start]
		for i := start + 1; i < n; i++ {
			maxLevel = max(maxLevel, levels[i])
		}
		levelBottom := maxLevel - levelLogSpan
		if maxLevel <= levelFloor {
			levelBottom = -1
		} else if levelBottom < levelFloor && maxLevel >= levelFloor {
			levelBottom = levelFloor
		}
		upto := n - 1
		for upto >= start && levels[upto] < levelBottom {
			upto--
		}
		end := start + factor
		for end <= upto+1 {
			ok := true
			for _, si := range segs[start:end] {
				if si.MaxDoc >= p.MaxMergeDocs || ctx.isMerging(si) {
					ok = false
					break
				}
			}
			if ok {
				spec.add(NewOneMerge(cloneInfos(segs[start:end])))
			}
			start = end
			end = start + factor
		}
		start = upto + 1
	}
	return spec, nil
}

// FindForcedMerges selects one merge of the newest segments, at most
// MergeFactor of them, that brings the count toward maxSegments. The writer
// calls it again after each round. A lone segment with deletions is
// rewritten when maxSegments is 1.
func (p *LogDocMergePolicy) FindForcedMerges(infos *SegmentInfos, maxSegments int, toMerge map[string]bool, ctx *MergeContext) (*MergeSpecification, error) {
	if maxSegments < 1 {
		return nil, fmt.Errorf("maxSegments must be at least 1, got %d", maxSegments)
	}
	var cand []*SegmentCommitInfo
	for _, si := range infos.Segments {
		if toMerge[si.Name] {
			if ctx.isMerging(si) {
				return nil, nil
			}
			cand = append(cand, si)
		}
	}
	spec := &MergeSpecification{}
	if len(cand) <= maxSegments {
		if len(cand) == 1 && maxSegments == 1 && ctx.NumDeletes != nil && ctx.NumDeletes(cand[0]) > 0 {
			spec.add(NewOneMerge(cloneInfos(cand)))
		}
		return spec, nil
	}
	n := min(len(cand)-maxSegments+1, p.factor())
	spec.add(NewOneMerge(cloneInfos(cand[len(cand)-n:])))
	return spec, nil
}

// FindForcedDeletesMerges merges runs of adjacent segments whose deleted
// share exceeds ForceMergeDeletesPctAllowed.
func (p *LogDocMergePolicy) FindForcedDeletesMerges(infos *SegmentInfos, ctx *MergeContext) (*MergeSpecification, error) {
	spec := &MergeSpecification{}
	factor := p.factor()
	var run []*SegmentCommitInfo
	flush := func() {
		if len(run) > 0 {
			spec.add(NewOneMerge(cloneInfos(run)))
			run = nil
		}
	}
	for _, si := range infos.Segments {
		dels := 0
		if ctx.NumDeletes != nil {
			dels = ctx.NumDeletes(si)
		}
		eligible := !ctx.isMerging(si) && si.MaxDoc > 0 &&
			100*float64(dels)/float64(si.MaxDoc) > p.ForceMergeDeletesPctAllowed
		if !eligible {
			flush()
			continue
		}
		run = append(run, si)
		if len(run) == factor {
			flush()
		}
	}
	flush()
	return spec, nil
}

func cloneInfos(segs []*SegmentCommitInfo) []*SegmentCommitInfo {
	out := make([]*SegmentCommitInfo, len(segs))
	copy(out, segs)
	return out
}
