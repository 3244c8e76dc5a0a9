package segment

import (
	"encoding/binary"
	"fmt"
	"math"

	"harshagw/segidx/internal/store"
)

// NoMoreDocs is returned by PostingsEnum once it is exhausted.
const NoMoreDocs = math.MaxInt32

// PostingsFlags selects what a PostingsEnum decodes.
type PostingsFlags uint8

const (
	FlagDocs      PostingsFlags = 0
	FlagFreqs     PostingsFlags = 1 << 0
	FlagPositions PostingsFlags = FlagFreqs | 1<<1
	FlagOffsets   PostingsFlags = FlagPositions | 1<<2
	FlagPayloads  PostingsFlags = FlagPositions | 1<<3
	FlagAll       PostingsFlags = FlagOffsets | FlagPayloads
)

// PostingsEnum iterates the documents of one term in increasing order.
// DocID is -1 before the first NextDoc or Advance.
type PostingsEnum interface {
	DocID() int
	NextDoc() (int, error)
	// Advance moves to the first doc >= target. It never moves backwards.
	Advance(target int) (int, error)
	// Freq is 1 for fields indexed without frequencies.
	Freq() int
	// NextPosition returns the next position; call at most Freq times per doc.
	NextPosition() (int, error)
	StartOffset() int
	EndOffset() int
	Payload() []byte
	Cost() int64
}

type fieldFlags struct {
	freqs     bool
	positions bool
	offsets   bool
	payloads  bool
}

func flagsOf(fi *FieldInfo) fieldFlags {
	return fieldFlags{
		freqs:     fi.IndexOptions.HasFreqs(),
		positions: fi.IndexOptions.HasPositions(),
		offsets:   fi.IndexOptions.HasOffsets(),
		payloads:  fi.HasPayloads && fi.IndexOptions.HasPositions(),
	}
}

// appendPostings encodes one term's postings. Layout: skip table, then per
// doc a doc delta, freq and a length-prefixed position block, each present
// only if the field records it.
func appendPostings(buf []byte, postings []Posting, ff fieldFlags) ([]byte, int64) {
	var docs []byte
	var skips []byte
	var ttf int64
	prevDoc := -1
	prevSkipDoc := -1
	prevSkipOffset := 0
	numSkips := 0
	var posBlock []byte

	for i, p := range postings {
		if i > 0 && i%SkipInterval == 0 {
			skips = binary.AppendUvarint(skips, uint64(prevDoc-prevSkipDoc))
			skips = binary.AppendUvarint(skips, uint64(len(docs)-prevSkipOffset))
			prevSkipDoc, prevSkipOffset = prevDoc, len(docs)
			numSkips++
		}
		docs = binary.AppendUvarint(docs, uint64(p.Doc-prevDoc))
		prevDoc = p.Doc

		freq := p.Freq
		if !ff.freqs {
			freq = 1
		}
		ttf += int64(freq)
		if ff.freqs {
			docs = binary.AppendUvarint(docs, uint64(freq))
		}
		if !ff.positions {
			continue
		}
		posBlock = posBlock[:0]
		prevPos, prevStart := 0, 0
		for _, pos := range p.Positions {
			posBlock = binary.AppendUvarint(posBlock, uint64(pos.Pos-prevPos))
			prevPos = pos.Pos
			if ff.payloads {
				posBlock = binary.AppendUvarint(posBlock, uint64(len(pos.Payload)))
				posBlock = append(posBlock, pos.Payload...)
			}
			if ff.offsets {
				posBlock = binary.AppendVarint(posBlock, int64(pos.Start-prevStart))
				posBlock = binary.AppendVarint(posBlock, int64(pos.End-pos.Start))
				prevStart = pos.Start
			}
		}
		docs = binary.AppendUvarint(docs, uint64(len(posBlock)))
		docs = append(docs, posBlock...)
	}

	buf = binary.AppendUvarint(buf, uint64(numSkips))
	buf = append(buf, skips...)
	buf = append(buf, docs...)
	return buf, ttf
}

type skipEntry struct {
	baseDoc int // last doc before the block
	offset  int // block start within the doc data
}

// postingsEnum decodes postings written by appendPostings.
type postingsEnum struct {
	name    string
	data    []byte
	skips   []skipEntry
	ff      fieldFlags
	wantPos bool
	docFreq int

	off     int
	read    int
	doc     int
	freq    int
	posData []byte
	posOff  int
	posLeft int
	pos     int
	start   int
	end     int
	payload []byte
}

func (e *postingsEnum) reset(name string, data []byte, docFreq int, ff fieldFlags, flags PostingsFlags) error {
	*e = postingsEnum{
		name:    name,
		data:    data,
		skips:   e.skips[:0],
		ff:      ff,
		wantPos: flags&FlagPositions == FlagPositions && ff.positions,
		docFreq: docFreq,
		doc:     -1,
	}
	r := newByteReader(data)
	n, err := r.ReadUvarint()
	if err != nil {
		return e.corrupt(err)
	}
	base, off := -1, 0
	for i := uint64(0); i < n; i++ {
		d, err := r.ReadUvarint()
		if err != nil {
			return e.corrupt(err)
		}
		o, err := r.ReadUvarint()
		if err != nil {
			return e.corrupt(err)
		}
		base += int(d)
		off += int(o)
		e.skips = append(e.skips, skipEntry{baseDoc: base, offset: off})
	}
	e.data = data[r.pos:]
	return nil
}

func (e *postingsEnum) corrupt(err error) error {
	return fmt.Errorf("%w: %s: postings: %v", store.ErrCorruptIndex, e.name, err)
}

func (e *postingsEnum) DocID() int { return e.doc }

func (e *postingsEnum) Cost() int64 { return int64(e.docFreq) }

func (e *postingsEnum) Freq() int { return e.freq }

func (e *postingsEnum) NextDoc() (int, error) {
	if e.read >= e.docFreq {
		e.doc = NoMoreDocs
		return e.doc, nil
	}
	r := byteReader{data: e.data, pos: e.off}
	delta, err := r.ReadUvarint()
	if err != nil {
		return 0, e.corrupt(err)
	}
	e.doc += int(delta)
	e.freq = 1
	if e.ff.freqs {
		f, err := r.ReadUvarint()
		if err != nil {
			return 0, e.corrupt(err)
		}
		e.freq = int(f)
	}
	e.posLeft = 0
	if e.ff.positions {
		n, err := r.ReadUvarint()
		if err != nil {
			return 0, e.corrupt(err)
		}
		end := r.pos + int(n)
		if end > len(e.data) {
			return 0, e.corrupt(fmt.Errorf("position block overruns data"))
		}
		if e.wantPos {
			e.posData = e.data[r.pos:end]
			e.posOff = 0
			e.posLeft = e.freq
			e.pos, e.start = 0, 0
		}
		r.pos = end
	}
	e.off = r.pos
	e.read++
	return e.doc, nil
}

func (e *postingsEnum) Advance(target int) (int, error) {
	if target <= e.doc {
		target = e.doc + 1
	}
	if e.doc == NoMoreDocs {
		return NoMoreDocs, nil
	}
	// jump to the last block that starts strictly before target
	for i := len(e.skips) - 1; i >= 0; i-- {
		s := e.skips[i]
		if s.baseDoc < target && s.offset > e.off {
			e.doc = s.baseDoc
			e.off = s.offset
			e.read = (i + 1) * SkipInterval
			break
		}
	}
	for {
		doc, err := e.NextDoc()
		if err != nil || doc >= target {
			return doc, err
		}
	}
}

func (e *postingsEnum) NextPosition() (int, error) {
	if e.posLeft <= 0 {
		return -1, nil
	}
	r := byteReader{data: e.posData, pos: e.posOff}
	delta, err := r.ReadUvarint()
	if err != nil {
		return -1, e.corrupt(err)
	}
	e.pos += int(delta)
	e.payload = nil
	if e.ff.payloads {
		n, err := r.ReadUvarint()
		if err != nil {
			return -1, e.corrupt(err)
		}
		if r.pos+int(n) > len(e.posData) {
			return -1, e.corrupt(fmt.Errorf("payload overruns position block"))
		}
		if n > 0 {
			e.payload = e.posData[r.pos : r.pos+int(n)]
		}
		r.pos += int(n)
	}
	if e.ff.offsets {
		ds, err := r.ReadVarint()
		if err != nil {
			return -1, e.corrupt(err)
		}
		l, err := r.ReadVarint()
		if err != nil {
			return -1, e.corrupt(err)
		}
		e.start += int(ds)
		e.end = e.start + int(l)
	} else {
		e.start, e.end = -1, -1
	}
	e.posOff = r.pos
	e.posLeft--
	return e.pos, nil
}

func (e *postingsEnum) StartOffset() int { return e.start }
func (e *postingsEnum) EndOffset() int   { return e.end }
func (e *postingsEnum) Payload() []byte  { return e.payload }
