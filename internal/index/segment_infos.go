package index

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"harshagw/segidx/internal/segment"
	"harshagw/segidx/internal/store"
)

const (
	SegmentsPrefix        = "segments_"
	PendingSegmentsPrefix = "pending_segments_"
	SegmentsGenFile       = "segments.gen"
	WriteLockName         = "write.lock"

	segmentsGenTmp      = "segments.gen.tmp"
	segmentsGenMagic    = uint32(0x5347454e)
	segmentsFormat      = 1
	findSegmentsRetries = 10
)

// SegmentCommitInfo is one segment entry of a commit.
type SegmentCommitInfo struct {
	Name        string            `json:"name"`
	ID          string            `json:"id"`
	Codec       string            `json:"codec"`
	MaxDoc      int               `json:"max_doc"`
	DelCount    int               `json:"del_count"`
	DelGen      int64             `json:"del_gen"`
	Files       []string          `json:"files"`
	Diagnostics map[string]string `json:"diagnostics,omitempty"`

	nextWriteDelGen int64
}

// NumDocs is the live document count recorded for the segment.
func (si *SegmentCommitInfo) NumDocs() int { return si.MaxDoc - si.DelCount }

// HasDeletions reports whether the segment has a live-docs file.
func (si *SegmentCommitInfo) HasDeletions() bool { return si.DelGen > 0 }

// LiveDocsFile returns the live-docs file name, or "" without deletions.
func (si *SegmentCommitInfo) LiveDocsFile() string {
	if si.DelGen <= 0 {
		return ""
	}
	return segment.LiveDocsFileName(si.Name, si.DelGen)
}

// AllFiles returns the segment files plus the current live-docs file.
func (si *SegmentCommitInfo) AllFiles() []string {
	files := slices.Clone(si.Files)
	if del := si.LiveDocsFile(); del != "" {
		files = append(files, del)
	}
	return files
}

func (si *SegmentCommitInfo) segmentInfo() segment.Info {
	return segment.Info{Name: si.Name, ID: si.ID}
}

func (si *SegmentCommitInfo) advanceDelGen() int64 {
	gen := max(si.DelGen+1, si.nextWriteDelGen)
	si.nextWriteDelGen = gen + 1
	return gen
}

func (si *SegmentCommitInfo) Clone() *SegmentCommitInfo {
	c := *si
	c.Files = slices.Clone(si.Files)
	c.Diagnostics = maps.Clone(si.Diagnostics)
	return &c
}

// SegmentInfos is the ordered segment list of one commit point.
type SegmentInfos struct {
	Version  int64                `json:"version"`
	Counter  int64                `json:"counter"`
	UserData map[string]string    `json:"user_data,omitempty"`
	Segments []*SegmentCommitInfo `json:"segments"`

	// Generation is recovered from the file name, not the body.
	Generation int64 `json:"-"`
	// lastGeneration is the highest generation written or read; the next
	// commit uses lastGeneration+1.
	lastGeneration int64
}

type segmentsFile struct {
	Format  int `json:"format"`
	*SegmentInfos
}

func NewSegmentInfos() *SegmentInfos {
	return &SegmentInfos{UserData: map[string]string{}}
}

// SegmentsFileName returns the commit file name for gen.
func SegmentsFileName(gen int64) string {
	return SegmentsPrefix + segment.FormatGen(gen)
}

func pendingSegmentsFileName(gen int64) string {
	return PendingSegmentsPrefix + segment.FormatGen(gen)
}

// GenerationFromSegmentsFileName parses the generation out of a commit file
// name. It returns -1 for other names.
func GenerationFromSegmentsFileName(name string) int64 {
	if !strings.HasPrefix(name, SegmentsPrefix) {
		return -1
	}
	gen, err := strconv.ParseInt(strings.TrimPrefix(name, SegmentsPrefix), 36, 64)
	if err != nil || gen <= 0 {
		return -1
	}
	return gen
}

// LastCommitGeneration returns the highest commit generation among files.
func LastCommitGeneration(files []string) int64 {
	var last int64 = -1
	for _, name := range files {
		if gen := GenerationFromSegmentsFileName(name); gen > last {
			last = gen
		}
	}
	return last
}

// SegmentsFileName returns the commit file name of this generation.
func (s *SegmentInfos) SegmentsFileName() string {
	if s.Generation <= 0 {
		return ""
	}
	return SegmentsFileName(s.Generation)
}

// Size is the number of segments.
func (s *SegmentInfos) Size() int { return len(s.Segments) }

// TotalMaxDoc sums MaxDoc over all segments.
func (s *SegmentInfos) TotalMaxDoc() int {
	total := 0
	for _, si := range s.Segments {
		total += si.MaxDoc
	}
	return total
}

// NumDocs sums the recorded live docs over all segments.
func (s *SegmentInfos) NumDocs() int {
	total := 0
	for _, si := range s.Segments {
		total += si.NumDocs()
	}
	return total
}

// Files returns every file referenced by the commit.
func (s *SegmentInfos) Files(includeSegmentsFile bool) []string {
	var files []string
	if includeSegmentsFile && s.Generation > 0 {
		files = append(files, s.SegmentsFileName())
	}
	for _, si := range s.Segments {
		files = append(files, si.AllFiles()...)
	}
	slices.Sort(files)
	return slices.Compact(files)
}

func (s *SegmentInfos) indexOf(name string) int {
	return slices.IndexFunc(s.Segments, func(si *SegmentCommitInfo) bool { return si.Name == name })
}

// Changed bumps the version after any modification.
func (s *SegmentInfos) Changed() { s.Version++ }

func (s *SegmentInfos) nextGeneration() int64 {
	return max(s.Generation, s.lastGeneration) + 1
}

func (s *SegmentInfos) newSegmentName() string {
	name := "_" + strconv.FormatInt(s.Counter, 36)
	s.Counter++
	return name
}

// Clone deep-copies the segment entries.
func (s *SegmentInfos) Clone() *SegmentInfos {
	c := *s
	c.UserData = maps.Clone(s.UserData)
	if c.UserData == nil {
		c.UserData = map[string]string{}
	}
	c.Segments = make([]*SegmentCommitInfo, len(s.Segments))
	for i, si := range s.Segments {
		c.Segments[i] = si.Clone()
	}
	return &c
}

// ReadSegmentInfos reads one commit file.
func ReadSegmentInfos(dir store.Directory, fileName string) (*SegmentInfos, error) {
	gen := GenerationFromSegmentsFileName(fileName)
	if gen < 0 {
		return nil, fmt.Errorf("%q is not a segments file", fileName)
	}
	data, err := store.ReadFile(dir, fileName)
	if err != nil {
		return nil, err
	}
	body, err := store.CheckFooter(fileName, data)
	if err != nil {
		return nil, err
	}
	infos := NewSegmentInfos()
	sf := segmentsFile{SegmentInfos: infos}
	if err := json.Unmarshal(body, &sf); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", store.ErrCorruptIndex, fileName, err)
	}
	if sf.Format != segmentsFormat {
		return nil, fmt.Errorf("%w: %s: unknown format %d", store.ErrCorruptIndex, fileName, sf.Format)
	}
	if infos.UserData == nil {
		infos.UserData = map[string]string{}
	}
	infos.Generation = gen
	infos.lastGeneration = gen
	return infos, nil
}

// ReadLatestCommit locates and reads the newest commit of dir.
func ReadLatestCommit(dir store.Directory) (*SegmentInfos, error) {
	return FindSegmentsFile(dir, func(name string) (*SegmentInfos, error) {
		return ReadSegmentInfos(dir, name)
	})
}

// FindSegmentsFile runs fn on the newest commit file. The newest generation
// is the larger of the directory listing and segments.gen; a failed read is
// retried in case a concurrent commit replaced the files, falling back to
// the previous generation once.
func FindSegmentsFile[T any](dir store.Directory, fn func(name string) (T, error)) (T, error) {
	var zero T
	var lastErr error
	lastGen := int64(-1)
	triedPrev := false
	for attempt := 0; attempt < findSegmentsRetries; attempt++ {
		files, err := dir.ListAll()
		if err != nil {
			return zero, err
		}
		gen := LastCommitGeneration(files)
		if genB, err := readSegmentsGen(dir); err == nil && genB > gen {
			gen = genB
		}
		if gen <= 0 {
			if lastErr != nil {
				return zero, lastErr
			}
			return zero, fmt.Errorf("%w in %v", ErrIndexNotFound, files)
		}
		res, err := fn(SegmentsFileName(gen))
		if err == nil {
			return res, nil
		}
		lastErr = err
		if gen == lastGen && !triedPrev && gen > 1 {
			triedPrev = true
			prev := SegmentsFileName(gen - 1)
			if slices.Contains(files, prev) {
				if res, err := fn(prev); err == nil {
					return res, nil
				}
			}
		}
		if gen == lastGen && triedPrev {
			break
		}
		lastGen = gen
		time.Sleep(time.Millisecond)
	}
	return zero, lastErr
}

// writePending writes the commit as pending_segments_<gen> and syncs it. The
// caller renames it into place.
func (s *SegmentInfos) writePending(dir store.Directory, gen int64) (string, error) {
	name := pendingSegmentsFileName(gen)
	body, err := json.Marshal(segmentsFile{Format: segmentsFormat, SegmentInfos: s})
	if err != nil {
		return "", err
	}
	out, err := dir.CreateOutput(name)
	if err != nil {
		return "", err
	}
	co := store.NewChecksumOutput(out)
	_, err = co.Write(body)
	if err == nil {
		err = co.WriteFooter()
	}
	if cerr := co.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = dir.Sync([]string{name})
	}
	if err != nil {
		_ = dir.DeleteFile(name)
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	return name, nil
}

// writeSegmentsGen records gen in segments.gen. The file is advisory;
// readers fall back to the directory listing.
func writeSegmentsGen(dir store.Directory, gen int64) error {
	buf := make([]byte, 20)
	binary.BigEndian.PutUint32(buf[0:], segmentsGenMagic)
	binary.BigEndian.PutUint64(buf[4:], uint64(gen))
	binary.BigEndian.PutUint64(buf[12:], uint64(gen))
	_ = dir.DeleteFile(segmentsGenTmp)
	out, err := dir.CreateOutput(segmentsGenTmp)
	if err != nil {
		return err
	}
	co := store.NewChecksumOutput(out)
	_, err = co.Write(buf)
	if err == nil {
		err = co.WriteFooter()
	}
	if cerr := co.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = dir.Sync([]string{segmentsGenTmp})
	}
	if err == nil {
		err = dir.Rename(segmentsGenTmp, SegmentsGenFile)
	}
	if err != nil {
		_ = dir.DeleteFile(segmentsGenTmp)
	}
	return err
}

func readSegmentsGen(dir store.Directory) (int64, error) {
	data, err := store.ReadFile(dir, SegmentsGenFile)
	if err != nil {
		return -1, err
	}
	body, err := store.CheckFooter(SegmentsGenFile, data)
	if err != nil {
		return -1, err
	}
	if len(body) != 20 || binary.BigEndian.Uint32(body) != segmentsGenMagic {
		return -1, fmt.Errorf("%w: bad %s", store.ErrCorruptIndex, SegmentsGenFile)
	}
	gen0 := int64(binary.BigEndian.Uint64(body[4:]))
	gen1 := int64(binary.BigEndian.Uint64(body[12:]))
	if gen0 != gen1 {
		return -1, errors.New("segments.gen generations disagree")
	}
	return gen0, nil
}

// isIndexFile reports whether name is managed by the file deleter.
func isIndexFile(name string) bool {
	return strings.HasPrefix(name, "_") ||
		strings.HasPrefix(name, SegmentsPrefix) ||
		strings.HasPrefix(name, PendingSegmentsPrefix)
}
