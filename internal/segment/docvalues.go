package segment

import (
	"encoding/binary"
	"fmt"

	"github.com/RoaringBitmap/roaring"

	"harshagw/segidx/internal/document"
)

// NumericDocValues reads a numeric column.
type NumericDocValues struct {
	present *roaring.Bitmap
	values  []byte
}

// Get returns the value of doc and whether it has one.
func (n *NumericDocValues) Get(doc int) (int64, bool) {
	if !n.present.Contains(uint32(doc)) {
		return 0, false
	}
	return int64(binary.BigEndian.Uint64(n.values[doc*8:])), true
}

// BinaryDocValues reads a binary column.
type BinaryDocValues struct {
	present *roaring.Bitmap
	table   binaryTable
}

func (b *BinaryDocValues) Get(doc int) ([]byte, bool) {
	if !b.present.Contains(uint32(doc)) {
		return nil, false
	}
	return b.table.get(doc), true
}

// SortedDocValues reads a column deduplicated into a sorted dictionary.
type SortedDocValues struct {
	present *roaring.Bitmap
	dict    binaryTable
	count   int
	ords    []byte
}

// Ord returns the dictionary ordinal of doc, or -1 if it has no value.
func (s *SortedDocValues) Ord(doc int) int {
	return int(int32(binary.BigEndian.Uint32(s.ords[doc*4:])))
}

// LookupOrd returns the value at a dictionary ordinal.
func (s *SortedDocValues) LookupOrd(ord int) []byte { return s.dict.get(ord) }

// ValueCount returns the dictionary size.
func (s *SortedDocValues) ValueCount() int { return s.count }

func (s *SortedDocValues) Get(doc int) ([]byte, bool) {
	ord := s.Ord(doc)
	if ord < 0 {
		return nil, false
	}
	return s.dict.get(ord), true
}

type binaryTable struct {
	offsets []byte
	data    []byte
}

func (t binaryTable) get(i int) []byte {
	start := binary.BigEndian.Uint64(t.offsets[i*8:])
	end := binary.BigEndian.Uint64(t.offsets[(i+1)*8:])
	return t.data[start:end]
}

func readBinaryTable(data []byte, n int) (binaryTable, []byte, error) {
	tableLen := (n + 1) * 8
	if len(data) < tableLen {
		return binaryTable{}, nil, fmt.Errorf("offset table truncated")
	}
	offsets := data[:tableLen]
	total := binary.BigEndian.Uint64(offsets[n*8:])
	if uint64(len(data)-tableLen) < total {
		return binaryTable{}, nil, fmt.Errorf("binary data truncated")
	}
	return binaryTable{offsets: offsets, data: data[tableLen : tableLen+int(total)]}, data[tableLen+int(total):], nil
}

func (r *Reader) docValuesData(field string, want document.DocValuesType) (*roaring.Bitmap, []byte, error) {
	if err := r.ensureOpen(); err != nil {
		return nil, nil, err
	}
	fi := r.infos.Get(field)
	if fi == nil || fi.DocValues == document.DocValuesNone {
		return nil, nil, nil
	}
	if fi.DocValues != want {
		return nil, nil, fmt.Errorf("%w: field %q has %v doc values, not %v", ErrWrongDocValueType, field, fi.DocValues, want)
	}
	meta, ok := r.dvMetaByName[field]
	if !ok {
		return nil, nil, nil
	}
	if meta.Offset+meta.Size > uint64(len(r.data)) {
		return nil, nil, corruptf(r.in.Name(), "doc values of %q out of bounds", field)
	}
	data := r.data[meta.Offset : meta.Offset+meta.Size]
	if len(data) < 4 {
		return nil, nil, corruptf(r.in.Name(), "doc values of %q truncated", field)
	}
	n := binary.BigEndian.Uint32(data)
	if uint64(len(data)-4) < uint64(n) {
		return nil, nil, corruptf(r.in.Name(), "doc values of %q truncated", field)
	}
	present := roaring.New()
	if err := present.UnmarshalBinary(data[4 : 4+n]); err != nil {
		return nil, nil, corruptf(r.in.Name(), "doc values presence of %q: %v", field, err)
	}
	return present, data[4+n:], nil
}

// NumericDocValues returns the numeric column of field, or nil.
func (r *Reader) NumericDocValues(field string) (*NumericDocValues, error) {
	present, data, err := r.docValuesData(field, document.DocValuesNumeric)
	if err != nil || present == nil {
		return nil, err
	}
	if len(data) < r.footer.MaxDoc*8 {
		return nil, corruptf(r.in.Name(), "numeric doc values of %q truncated", field)
	}
	return &NumericDocValues{present: present, values: data}, nil
}

// BinaryDocValues returns the binary column of field, or nil.
func (r *Reader) BinaryDocValues(field string) (*BinaryDocValues, error) {
	present, data, err := r.docValuesData(field, document.DocValuesBinary)
	if err != nil || present == nil {
		return nil, err
	}
	table, _, err := readBinaryTable(data, r.footer.MaxDoc)
	if err != nil {
		return nil, corruptf(r.in.Name(), "binary doc values of %q: %v", field, err)
	}
	return &BinaryDocValues{present: present, table: table}, nil
}

// SortedDocValues returns the sorted column of field, or nil.
func (r *Reader) SortedDocValues(field string) (*SortedDocValues, error) {
	present, data, err := r.docValuesData(field, document.DocValuesSorted)
	if err != nil || present == nil {
		return nil, err
	}
	if len(data) < 4 {
		return nil, corruptf(r.in.Name(), "sorted doc values of %q truncated", field)
	}
	count := int(binary.BigEndian.Uint32(data))
	dict, rest, err := readBinaryTable(data[4:], count)
	if err != nil {
		return nil, corruptf(r.in.Name(), "sorted doc values of %q: %v", field, err)
	}
	if len(rest) < r.footer.MaxDoc*4 {
		return nil, corruptf(r.in.Name(), "sorted doc values ords of %q truncated", field)
	}
	return &SortedDocValues{present: present, dict: dict, count: count, ords: rest}, nil
}

// DocValues materializes the column of field for merging, or nil.
func (r *Reader) DocValues(field string) (*DocValuesColumn, error) {
	fi := r.infos.Get(field)
	if fi == nil || fi.DocValues == document.DocValuesNone {
		return nil, nil
	}
	maxDoc := r.footer.MaxDoc
	col := NewDocValuesColumn(fi.DocValues, maxDoc)
	var get func(doc int) (int64, []byte, bool)
	switch fi.DocValues {
	case document.DocValuesNumeric:
		dv, err := r.NumericDocValues(field)
		if err != nil || dv == nil {
			return nil, err
		}
		get = func(doc int) (int64, []byte, bool) { v, ok := dv.Get(doc); return v, nil, ok }
	case document.DocValuesBinary:
		dv, err := r.BinaryDocValues(field)
		if err != nil || dv == nil {
			return nil, err
		}
		get = func(doc int) (int64, []byte, bool) { v, ok := dv.Get(doc); return 0, v, ok }
	case document.DocValuesSorted:
		dv, err := r.SortedDocValues(field)
		if err != nil || dv == nil {
			return nil, err
		}
		get = func(doc int) (int64, []byte, bool) { v, ok := dv.Get(doc); return 0, v, ok }
	}
	for doc := 0; doc < maxDoc; doc++ {
		if n, b, ok := get(doc); ok {
			col.Set(doc, n, b)
		}
	}
	return col, nil
}

// Norms reads per-document field lengths.
type Norms struct {
	data        []byte
	totalTokens int64
	docCount    int
}

// Get returns the token count of the field in doc.
func (n *Norms) Get(doc int) uint32 {
	return binary.BigEndian.Uint32(n.data[doc*4:])
}

// AvgLength returns the mean length over documents that have the field.
func (n *Norms) AvgLength() float64 {
	if n.docCount == 0 {
		return 0
	}
	return float64(n.totalTokens) / float64(n.docCount)
}

// Norms returns the lengths of field, or nil if it has no norms.
func (r *Reader) Norms(field string) (*Norms, error) {
	if err := r.ensureOpen(); err != nil {
		return nil, err
	}
	meta, ok := r.normsByName[field]
	if !ok {
		return nil, nil
	}
	end := meta.Offset + uint64(r.footer.MaxDoc)*4
	if end > uint64(len(r.data)) {
		return nil, corruptf(r.in.Name(), "norms of %q out of bounds", field)
	}
	return &Norms{data: r.data[meta.Offset:end], totalTokens: meta.TotalTokens, docCount: meta.DocCount}, nil
}

// NormValues returns the raw lengths of field for merging.
func (r *Reader) NormValues(field string) ([]uint32, error) {
	n, err := r.Norms(field)
	if err != nil || n == nil {
		return nil, err
	}
	out := make([]uint32, r.footer.MaxDoc)
	for doc := range out {
		out[doc] = n.Get(doc)
	}
	return out, nil
}
