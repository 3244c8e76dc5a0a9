package segment

import (
	"bytes"
	"fmt"
	"strconv"
)

// prefixSuccessor returns the lexicographically next prefix after the given one.
func prefixSuccessor(prefix []byte) []byte {
	if len(prefix) == 0 {
		return nil
	}

	succ := bytes.Clone(prefix)

	for i := len(succ) - 1; i >= 0; i-- {
		if succ[i] < 0xff {
			succ[i]++
			return succ[:i+1]
		}
	}

	return nil
}

// byteReader is a simple reader for varint decoding without allocations.
type byteReader struct {
	data []byte
	pos  int
}

func newByteReader(data []byte) *byteReader {
	return &byteReader{data: data, pos: 0}
}

func (r *byteReader) ReadUvarint() (uint64, error) {
	var x uint64
	var s uint
	for i := 0; ; i++ {
		if r.pos >= len(r.data) {
			return 0, fmt.Errorf("unexpected EOF")
		}
		if i == 10 {
			return 0, fmt.Errorf("varint overflows 64 bits")
		}
		b := r.data[r.pos]
		r.pos++
		if b < 0x80 {
			return x | uint64(b)<<s, nil
		}
		x |= uint64(b&0x7f) << s
		s += 7
	}
}

func (r *byteReader) ReadVarint() (int64, error) {
	ux, err := r.ReadUvarint()
	x := int64(ux >> 1)
	if ux&1 != 0 {
		x = ^x
	}
	return x, err
}

// ReadBytes reads a uvarint length followed by that many bytes.
func (r *byteReader) ReadBytes() ([]byte, error) {
	n, err := r.ReadUvarint()
	if err != nil {
		return nil, err
	}
	if uint64(len(r.data)-r.pos) < n {
		return nil, fmt.Errorf("unexpected EOF reading %d bytes", n)
	}
	b := r.data[r.pos : r.pos+int(n)]
	r.pos += int(n)
	return b, nil
}

// FormatGen renders a generation in the base-36 form used in file names.
func FormatGen(gen int64) string {
	return strconv.FormatInt(gen, 36)
}

// LiveDocsFileName returns the name of the live-docs file of a segment at
// a deletion generation.
func LiveDocsFileName(segment string, delGen int64) string {
	return segment + "_" + FormatGen(delGen) + LiveDocsExtension
}
