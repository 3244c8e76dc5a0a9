package segment

import (
	"bytes"
	"encoding/binary"
	"errors"

	"github.com/couchbase/vellum"

	"harshagw/segidx/internal/automaton"
)

// SeekStatus is the outcome of TermsEnum.SeekCeil.
type SeekStatus int

const (
	SeekEnd SeekStatus = iota
	SeekFound
	SeekNotFound
)

func (s SeekStatus) String() string {
	switch s {
	case SeekFound:
		return "FOUND"
	case SeekNotFound:
		return "NOT_FOUND"
	}
	return "END"
}

// TermState is an opaque snapshot of a term's dictionary entry. It is only
// valid for the segment that produced it.
type TermState any

// TermsEnum walks a term dictionary in byte order.
type TermsEnum interface {
	// Next advances to the next term. It keeps returning false once the
	// terms are exhausted.
	Next() (bool, error)
	// Term returns the current term. The slice is valid until the next call
	// that moves the enum.
	Term() []byte
	SeekCeil(target []byte) (SeekStatus, error)
	SeekExact(target []byte) (bool, error)
	// SeekExactState positions on target using a state from TermState,
	// without a dictionary lookup.
	SeekExactState(target []byte, state TermState) error
	SeekExactOrd(ord int64) error
	Ord() (int64, error)
	DocFreq() int
	TotalTermFreq() int64
	TermState() TermState
	Postings(reuse PostingsEnum, flags PostingsFlags) (PostingsEnum, error)
}

// Terms is the dictionary of one field in one segment.
type Terms struct {
	r    *Reader
	meta *FieldMeta
	fi   *FieldInfo
	fst  *vellum.FST
}

func (t *Terms) Size() int64             { return t.meta.NumTerms }
func (t *Terms) DocCount() int           { return t.meta.DocCount }
func (t *Terms) SumDocFreq() int64       { return t.meta.SumDocFreq }
func (t *Terms) SumTotalTermFreq() int64 { return t.meta.SumTotalTermFreq }
func (t *Terms) FieldInfo() *FieldInfo   { return t.fi }
func (t *Terms) HasFreqs() bool          { return t.fi.IndexOptions.HasFreqs() }
func (t *Terms) HasPositions() bool      { return t.fi.IndexOptions.HasPositions() }
func (t *Terms) HasOffsets() bool        { return t.fi.IndexOptions.HasOffsets() }
func (t *Terms) HasPayloads() bool       { return t.fi.HasPayloads }

// Iterator returns an unpositioned enum over all terms.
func (t *Terms) Iterator() TermsEnum {
	return &termsEnum{t: t, ord: -1}
}

// Intersect returns an enum over terms accepted by a, strictly after
// startTerm when it is non-nil.
func (t *Terms) Intersect(a automaton.Automaton, startTerm []byte) (TermsEnum, error) {
	e := &intersectEnum{termsEnum: termsEnum{t: t, ord: -1}, startTerm: startTerm}
	it, err := t.fst.Search(a, startTerm, nil)
	if errors.Is(err, vellum.ErrIteratorDone) {
		e.done = true
		return e, nil
	}
	if err != nil {
		return nil, err
	}
	e.iter = it
	return e, nil
}

// zapTermState is the dictionary entry of a term.
type zapTermState struct {
	ord            int64
	docFreq        int
	totalTermFreq  int64
	postingsOffset uint64
}

func (t *Terms) stateAt(ord int64) (zapTermState, error) {
	off := t.meta.OrdOffset + uint64(ord)*ordEntrySize
	if ord < 0 || ord >= t.meta.NumTerms || off+ordEntrySize > uint64(len(t.r.data)) {
		return zapTermState{}, corruptf(t.r.in.Name(), "term ordinal %d out of range in %q", ord, t.fi.Name)
	}
	e := t.r.data[off : off+ordEntrySize]
	return zapTermState{
		ord:            ord,
		postingsOffset: binary.BigEndian.Uint64(e[0:8]),
		docFreq:        int(binary.BigEndian.Uint32(e[8:12])),
		totalTermFreq:  int64(binary.BigEndian.Uint64(e[12:20])),
	}, nil
}

func (t *Terms) termAt(ord int64) ([]byte, error) {
	off := t.meta.OrdOffset + uint64(ord)*ordEntrySize
	termOff := binary.BigEndian.Uint64(t.r.data[off+20 : off+28])
	r := newByteReader(t.r.data[t.meta.TermsOffset+termOff:])
	term, err := r.ReadBytes()
	if err != nil {
		return nil, corruptf(t.r.in.Name(), "term bytes of ordinal %d: %v", ord, err)
	}
	return term, nil
}

func (t *Terms) postings(state zapTermState, reuse PostingsEnum, flags PostingsFlags) (PostingsEnum, error) {
	if err := t.r.ensureOpen(); err != nil {
		return nil, err
	}
	start := t.meta.PostingsOffset + state.postingsOffset
	end := t.meta.PostingsOffset + t.meta.PostingsSize
	if start > end || end > uint64(len(t.r.data)) {
		return nil, corruptf(t.r.in.Name(), "postings of %q out of bounds", t.fi.Name)
	}
	e, ok := reuse.(*postingsEnum)
	if !ok || e == nil {
		e = &postingsEnum{}
	}
	if err := e.reset(t.r.in.Name(), t.r.data[start:end], state.docFreq, flagsOf(t.fi), flags); err != nil {
		return nil, err
	}
	return e, nil
}

// termsEnum iterates the FST. Exact seeks go through FST.Get and leave the
// iterator to be repositioned lazily on the next Next.
type termsEnum struct {
	t       *Terms
	iter    *vellum.FSTIterator
	term    []byte
	ord     int64
	state   zapTermState
	loaded  bool
	done    bool
	reseek  bool
	started bool
	// err is the first failed dictionary entry read; it ends the walk.
	err error
}

func (e *termsEnum) setCurrent(term []byte, ord uint64) {
	e.term = append(e.term[:0], term...)
	e.ord = int64(ord)
	e.loaded = false
}

func (e *termsEnum) Next() (bool, error) {
	if e.err != nil {
		return false, e.err
	}
	if e.done {
		return false, nil
	}
	var err error
	switch {
	case !e.started:
		e.started = true
		e.iter, err = e.t.fst.Iterator(nil, nil)
	case e.reseek:
		// reposition on the current term, then step past it
		e.reseek = false
		err = e.seekIter(e.term)
		if err == nil {
			err = e.iter.Next()
		}
	default:
		err = e.iter.Next()
	}
	if errors.Is(err, vellum.ErrIteratorDone) {
		e.done = true
		e.term = nil
		return false, nil
	}
	if err != nil {
		return false, err
	}
	key, val := e.iter.Current()
	e.setCurrent(key, val)
	return true, nil
}

func (e *termsEnum) seekIter(target []byte) error {
	if e.iter == nil {
		// an iterator bounded by target could not seek backwards later
		it, err := e.t.fst.Iterator(nil, nil)
		if err != nil {
			return err
		}
		e.iter = it
	}
	return e.iter.Seek(target)
}

func (e *termsEnum) Term() []byte { return e.term }

func (e *termsEnum) SeekCeil(target []byte) (SeekStatus, error) {
	e.started = true
	e.reseek = false
	err := e.seekIter(target)
	if errors.Is(err, vellum.ErrIteratorDone) {
		e.done = true
		e.term = nil
		return SeekEnd, nil
	}
	if err != nil {
		return SeekEnd, err
	}
	e.done = false
	key, val := e.iter.Current()
	e.setCurrent(key, val)
	if bytes.Equal(key, target) {
		return SeekFound, nil
	}
	return SeekNotFound, nil
}

func (e *termsEnum) SeekExact(target []byte) (bool, error) {
	val, exists, err := e.t.fst.Get(target)
	if err != nil || !exists {
		return false, err
	}
	e.started, e.done, e.reseek = true, false, true
	e.setCurrent(target, val)
	return true, nil
}

func (e *termsEnum) SeekExactState(target []byte, state TermState) error {
	st := state.(zapTermState)
	e.started, e.done, e.reseek = true, false, true
	e.setCurrent(target, uint64(st.ord))
	e.state = st
	e.loaded = true
	return nil
}

func (e *termsEnum) SeekExactOrd(ord int64) error {
	if ord < 0 || ord >= e.t.meta.NumTerms {
		return corruptf(e.t.r.in.Name(), "term ordinal %d out of range", ord)
	}
	term, err := e.t.termAt(ord)
	if err != nil {
		return err
	}
	e.started, e.done, e.reseek = true, false, true
	e.setCurrent(term, uint64(ord))
	return nil
}

func (e *termsEnum) Ord() (int64, error) { return e.ord, nil }

// load reads the dictionary entry of the current term. A failed read is
// kept in e.err and reported by the next Next or Postings call.
func (e *termsEnum) load() zapTermState {
	if !e.loaded {
		st, err := e.t.stateAt(e.ord)
		if err != nil {
			if e.err == nil {
				e.err = err
			}
			return zapTermState{ord: e.ord}
		}
		e.state = st
		e.loaded = true
	}
	return e.state
}

func (e *termsEnum) DocFreq() int { return e.load().docFreq }

func (e *termsEnum) TotalTermFreq() int64 { return e.load().totalTermFreq }

func (e *termsEnum) TermState() TermState { return e.load() }

func (e *termsEnum) Postings(reuse PostingsEnum, flags PostingsFlags) (PostingsEnum, error) {
	if e.err != nil {
		return nil, e.err
	}
	if !e.loaded {
		st, err := e.t.stateAt(e.ord)
		if err != nil {
			return nil, err
		}
		e.state = st
		e.loaded = true
	}
	return e.t.postings(e.state, reuse, flags)
}

// intersectEnum walks the terms accepted by an automaton. Seeking is not
// supported.
type intersectEnum struct {
	termsEnum
	startTerm []byte
}

func (e *intersectEnum) Next() (bool, error) {
	for {
		if e.err != nil {
			return false, e.err
		}
		if e.done {
			return false, nil
		}
		var err error
		if !e.started {
			e.started = true
		} else {
			err = e.iter.Next()
		}
		if errors.Is(err, vellum.ErrIteratorDone) {
			e.done = true
			e.term = nil
			return false, nil
		}
		if err != nil {
			return false, err
		}
		key, val := e.iter.Current()
		if e.startTerm != nil && bytes.Equal(key, e.startTerm) {
			continue
		}
		e.setCurrent(key, val)
		return true, nil
	}
}

func (e *intersectEnum) SeekCeil([]byte) (SeekStatus, error) { return SeekEnd, ErrSeekNotSupported }
func (e *intersectEnum) SeekExact([]byte) (bool, error)      { return false, ErrSeekNotSupported }
func (e *intersectEnum) SeekExactOrd(int64) error            { return ErrSeekNotSupported }
func (e *intersectEnum) SeekExactState([]byte, TermState) error {
	return ErrSeekNotSupported
}
