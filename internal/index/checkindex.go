package index

import (
	"bytes"
	"fmt"
	"log/slog"
	"time"

	"github.com/RoaringBitmap/roaring"

	"harshagw/segidx/internal/document"
	"harshagw/segidx/internal/segment"
	"harshagw/segidx/internal/store"
)

// Status is the result of checking one commit.
type Status struct {
	SegmentsFileName string
	Generation       int64
	UserData         map[string]string
	MissingFiles     []string
	Segments         []*SegmentStatus
	// Problems found outside any single segment.
	Problems []string
	Took     time.Duration
}

// Clean reports whether no problem was found.
func (s *Status) Clean() bool {
	if len(s.MissingFiles) > 0 || len(s.Problems) > 0 {
		return false
	}
	for _, seg := range s.Segments {
		if !seg.Clean() {
			return false
		}
	}
	return true
}

// NumDocs sums the live documents of every segment.
func (s *Status) NumDocs() int {
	n := 0
	for _, seg := range s.Segments {
		n += seg.NumDocs
	}
	return n
}

// SegmentStatus is the result of checking one segment.
type SegmentStatus struct {
	Name        string
	ID          string
	Codec       string
	MaxDoc      int
	NumDocs     int
	DelCount    int
	Fields      int
	Terms       int64
	Postings    int64
	Positions   int64
	StoredDocs  int
	VectorDocs  int
	DocValues   int
	NormsFields int
	Diagnostics map[string]string
	Problems    []string
}

func (s *SegmentStatus) Clean() bool { return len(s.Problems) == 0 }

func (s *SegmentStatus) problem(format string, args ...any) {
	s.Problems = append(s.Problems, fmt.Sprintf(format, args...))
}

// Checker verifies an index without relying on the writer or reader
// paths. It never repairs anything.
type Checker struct {
	Dir store.Directory
	Log *slog.Logger
}

// CheckIndex checks the latest commit of dir.
func CheckIndex(dir store.Directory) (*Status, error) {
	return (&Checker{Dir: dir}).Check()
}

// Check returns an error only when no commit can be read; every other
// problem is reported in the status.
func (c *Checker) Check() (*Status, error) {
	log := c.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "checkindex")
	start := time.Now()

	infos, err := ReadLatestCommit(c.Dir)
	if err != nil {
		return nil, err
	}
	st := &Status{
		SegmentsFileName: infos.SegmentsFileName(),
		Generation:       infos.Generation,
		UserData:         infos.UserData,
	}
	for _, name := range infos.Files(true) {
		if !c.Dir.FileExists(name) {
			st.MissingFiles = append(st.MissingFiles, name)
		}
	}

	numbers := make(map[string]int)
	dvTypes := make(map[string]document.DocValuesType)
	ids := make(map[string]string)
	for _, si := range infos.Segments {
		seg := c.checkSegment(si)
		st.Segments = append(st.Segments, seg)
		if other, dup := ids[si.ID]; dup {
			st.Problems = append(st.Problems, fmt.Sprintf("segments %s and %s share id %s", other, si.Name, si.ID))
		}
		ids[si.ID] = si.Name
		c.checkFieldNumbers(st, si, numbers, dvTypes)
		if seg.Clean() {
			log.Debug("segment ok", "segment", si.Name, "docs", seg.NumDocs, "terms", seg.Terms)
		} else {
			log.Warn("segment has problems", "segment", si.Name, "problems", len(seg.Problems))
		}
	}
	st.Took = time.Since(start)
	log.Info("check finished",
		"segments_file", st.SegmentsFileName,
		"segments", len(st.Segments),
		"clean", st.Clean(),
		"took", st.Took)
	return st, nil
}

// checkFieldNumbers reads the field infos again, so problems opening the
// segment are already recorded by checkSegment.
func (c *Checker) checkFieldNumbers(st *Status, si *SegmentCommitInfo, numbers map[string]int, dvTypes map[string]document.DocValuesType) {
	codec, err := segment.LookupCodec(si.Codec)
	if err != nil {
		return
	}
	r, err := codec.Open(c.Dir, si.segmentInfo())
	if err != nil {
		return
	}
	defer r.Close()
	for _, fi := range r.FieldInfos().List() {
		if n, ok := numbers[fi.Name]; ok && n != fi.Number {
			st.Problems = append(st.Problems, fmt.Sprintf("field %q is number %d in %s but %d elsewhere", fi.Name, fi.Number, si.Name, n))
		} else {
			numbers[fi.Name] = fi.Number
		}
		if fi.DocValues == document.DocValuesNone {
			continue
		}
		if dv, ok := dvTypes[fi.Name]; ok && dv != fi.DocValues {
			st.Problems = append(st.Problems, fmt.Sprintf("field %q has %v doc values in %s but %v elsewhere", fi.Name, fi.DocValues, si.Name, dv))
		} else {
			dvTypes[fi.Name] = fi.DocValues
		}
	}
}

func (c *Checker) checkSegment(si *SegmentCommitInfo) *SegmentStatus {
	seg := &SegmentStatus{
		Name:        si.Name,
		ID:          si.ID,
		Codec:       si.Codec,
		MaxDoc:      si.MaxDoc,
		DelCount:    si.DelCount,
		NumDocs:     si.NumDocs(),
		Diagnostics: si.Diagnostics,
	}
	for _, name := range si.AllFiles() {
		data, err := store.ReadFile(c.Dir, name)
		if err == nil {
			err = store.VerifyChecksum(name, data)
		}
		if err != nil {
			seg.problem("file %s: %v", name, err)
		}
	}

	codec, err := segment.LookupCodec(si.Codec)
	if err != nil {
		seg.problem("%v", err)
		return seg
	}
	r, err := codec.Open(c.Dir, si.segmentInfo())
	if err != nil {
		seg.problem("open: %v", err)
		return seg
	}
	defer r.Close()
	if r.ID() != si.ID {
		seg.problem("segment id %s does not match commit id %s", r.ID(), si.ID)
	}
	if r.MaxDoc() != si.MaxDoc {
		seg.problem("segment holds %d docs, commit records %d", r.MaxDoc(), si.MaxDoc)
		return seg
	}
	seg.Fields = r.FieldInfos().Len()

	deleted := roaring.New()
	if si.HasDeletions() {
		deleted, err = segment.ReadLiveDocs(c.Dir, si.Name, si.DelGen, si.MaxDoc)
		if err != nil {
			seg.problem("live docs: %v", err)
			deleted = roaring.New()
		} else {
			if n := int(deleted.GetCardinality()); n != si.DelCount {
				seg.problem("live docs hold %d deletions, commit records %d", n, si.DelCount)
			}
			if !deleted.IsEmpty() && int(deleted.Maximum()) >= si.MaxDoc {
				seg.problem("deleted doc %d out of range", deleted.Maximum())
			}
		}
	} else if si.DelCount != 0 {
		seg.problem("commit records %d deletions without a live docs file", si.DelCount)
	}

	for _, field := range r.IndexedFields() {
		c.checkTerms(seg, r, field)
	}
	c.checkDocs(seg, r)
	return seg
}

func (c *Checker) checkTerms(seg *SegmentStatus, r *segment.Reader, field string) {
	terms, err := r.Terms(field)
	if err != nil {
		seg.problem("field %q terms: %v", field, err)
		return
	}
	if terms == nil {
		return
	}
	flags := segment.FlagFreqs
	if terms.HasPositions() {
		flags = segment.FlagPositions
		if terms.HasOffsets() {
			flags |= segment.FlagOffsets
		}
		if terms.HasPayloads() {
			flags |= segment.FlagPayloads
		}
	}

	var (
		prev       []byte
		numTerms   int64
		sumDocFreq int64
		sumTTF     int64
		docsSeen   = roaring.New()
		pe         segment.PostingsEnum
	)
	te := terms.Iterator()
	for {
		ok, err := te.Next()
		if err != nil {
			seg.problem("field %q: iterate terms: %v", field, err)
			return
		}
		if !ok {
			break
		}
		term := te.Term()
		if prev != nil && bytes.Compare(prev, term) >= 0 {
			seg.problem("field %q: term %q out of order after %q", field, term, prev)
		}
		prev = append(prev[:0], term...)
		numTerms++

		pe, err = te.Postings(pe, flags)
		if err != nil {
			seg.problem("field %q term %q: postings: %v", field, term, err)
			continue
		}
		docFreq, ttf, ok := c.checkPostings(seg, field, term, pe, terms.HasPositions(), docsSeen)
		if !ok {
			continue
		}
		if docFreq != te.DocFreq() {
			seg.problem("field %q term %q: docFreq %d, postings hold %d", field, term, te.DocFreq(), docFreq)
		}
		if terms.HasFreqs() && ttf != te.TotalTermFreq() {
			seg.problem("field %q term %q: totalTermFreq %d, postings hold %d", field, term, te.TotalTermFreq(), ttf)
		}
		sumDocFreq += int64(docFreq)
		sumTTF += ttf
		seg.Postings += int64(docFreq)
	}
	seg.Terms += numTerms

	if numTerms != terms.Size() {
		seg.problem("field %q: %d terms, dictionary records %d", field, numTerms, terms.Size())
	}
	if sumDocFreq != terms.SumDocFreq() {
		seg.problem("field %q: sumDocFreq %d, dictionary records %d", field, sumDocFreq, terms.SumDocFreq())
	}
	if terms.HasFreqs() && sumTTF != terms.SumTotalTermFreq() {
		seg.problem("field %q: sumTotalTermFreq %d, dictionary records %d", field, sumTTF, terms.SumTotalTermFreq())
	}
	if n := int(docsSeen.GetCardinality()); n != terms.DocCount() {
		seg.problem("field %q: %d docs have terms, dictionary records %d", field, n, terms.DocCount())
	}
}

func (c *Checker) checkPostings(seg *SegmentStatus, field string, term []byte, pe segment.PostingsEnum, positions bool, docsSeen *roaring.Bitmap) (int, int64, bool) {
	docFreq := 0
	var ttf int64
	last := -1
	for {
		doc, err := pe.NextDoc()
		if err != nil {
			seg.problem("field %q term %q: %v", field, term, err)
			return 0, 0, false
		}
		if doc == segment.NoMoreDocs {
			break
		}
		if doc <= last {
			seg.problem("field %q term %q: doc %d after %d", field, term, doc, last)
			return 0, 0, false
		}
		if doc >= seg.MaxDoc {
			seg.problem("field %q term %q: doc %d >= maxDoc %d", field, term, doc, seg.MaxDoc)
			return 0, 0, false
		}
		last = doc
		docFreq++
		docsSeen.Add(uint32(doc))
		freq := pe.Freq()
		if freq < 1 {
			seg.problem("field %q term %q doc %d: freq %d", field, term, doc, freq)
			return 0, 0, false
		}
		ttf += int64(freq)
		if !positions {
			continue
		}
		lastPos := -1
		for i := 0; i < freq; i++ {
			pos, err := pe.NextPosition()
			if err != nil {
				seg.problem("field %q term %q doc %d: %v", field, term, doc, err)
				return 0, 0, false
			}
			if pos < lastPos {
				seg.problem("field %q term %q doc %d: position %d after %d", field, term, doc, pos, lastPos)
			}
			if start, end := pe.StartOffset(), pe.EndOffset(); start >= 0 && end < start {
				seg.problem("field %q term %q doc %d: offsets %d..%d", field, term, doc, start, end)
			}
			lastPos = pos
			seg.Positions++
		}
	}
	return docFreq, ttf, true
}

func (c *Checker) checkDocs(seg *SegmentStatus, r *segment.Reader) {
	infos := r.FieldInfos()
	hasVectors := infos.HasVectors()
	for doc := 0; doc < seg.MaxDoc; doc++ {
		if _, err := r.StoredDocument(doc); err != nil {
			seg.problem("stored fields of doc %d: %v", doc, err)
			return
		}
		seg.StoredDocs++
		if !hasVectors {
			continue
		}
		tv, err := r.TermVectors(doc)
		if err != nil {
			seg.problem("term vectors of doc %d: %v", doc, err)
			return
		}
		if tv != nil {
			seg.VectorDocs++
		}
	}
	for _, fi := range infos.List() {
		if fi.DocValues != document.DocValuesNone {
			if _, err := r.DocValues(fi.Name); err != nil {
				seg.problem("doc values of %q: %v", fi.Name, err)
			} else {
				seg.DocValues++
			}
		}
		if fi.HasNorms() {
			norms, err := r.NormValues(fi.Name)
			switch {
			case err != nil:
				seg.problem("norms of %q: %v", fi.Name, err)
			case norms != nil && len(norms) != seg.MaxDoc:
				seg.problem("norms of %q hold %d docs, want %d", fi.Name, len(norms), seg.MaxDoc)
			default:
				seg.NormsFields++
			}
		}
	}
}
