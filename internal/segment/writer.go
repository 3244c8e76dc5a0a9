package segment

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/RoaringBitmap/roaring"
	"github.com/couchbase/vellum"
	"github.com/golang/snappy"

	"harshagw/segidx/internal/document"
	"harshagw/segidx/internal/store"
)

// segmentWriter streams a Source into one segment file.
type segmentWriter struct {
	dir         store.Directory
	info        Info
	src         Source
	codec       string
	compress    bool
	diagnostics map[string]string

	out    *store.ChecksumOutput
	footer Footer
}

func (w *segmentWriter) write() (err error) {
	name := w.info.FileName()
	out, err := w.dir.CreateOutput(name)
	if err != nil {
		return err
	}
	w.out = store.NewChecksumOutput(out)
	defer func() {
		if err != nil {
			w.out.Close()
			w.dir.DeleteFile(name)
			err = fmt.Errorf("failed to write segment %s: %w", w.info.Name, err)
		}
	}()

	w.footer = Footer{
		Codec:       w.codec,
		ID:          w.info.ID,
		MaxDoc:      w.src.MaxDoc(),
		Compressed:  w.compress,
		FieldInfos:  w.src.FieldInfos().List(),
		Diagnostics: w.diagnostics,
	}

	// Write header
	header := []byte(SegmentMagic)
	header = binary.BigEndian.AppendUint32(header, SegmentVersion)
	header = binary.AppendUvarint(header, uint64(len(w.info.ID)))
	header = append(header, w.info.ID...)
	if _, err := w.out.Write(header); err != nil {
		return err
	}

	if w.footer.StoredChunks, err = writeChunks(w, w.src.StoredDocument); err != nil {
		return fmt.Errorf("stored fields: %w", err)
	}
	if w.src.FieldInfos().HasVectors() {
		if w.footer.VectorChunks, err = writeChunks(w, w.src.TermVectors); err != nil {
			return fmt.Errorf("term vectors: %w", err)
		}
	}

	infos := w.src.FieldInfos()
	for _, field := range infos.IndexedNames() {
		meta, err := w.writeField(infos.Get(field))
		if err != nil {
			return fmt.Errorf("field %q: %w", field, err)
		}
		if meta != nil {
			w.footer.Fields = append(w.footer.Fields, *meta)
		}
	}

	for _, fi := range infos.List() {
		if fi.DocValues == document.DocValuesNone {
			continue
		}
		if err := w.writeDocValues(fi); err != nil {
			return fmt.Errorf("doc values %q: %w", fi.Name, err)
		}
	}

	for _, fi := range infos.List() {
		if !fi.HasNorms() {
			continue
		}
		if err := w.writeNorms(fi); err != nil {
			return fmt.Errorf("norms %q: %w", fi.Name, err)
		}
	}

	footerOffset := w.offset()
	footerData, err := json.Marshal(w.footer)
	if err != nil {
		return err
	}
	tail := binary.BigEndian.AppendUint64(footerData, footerOffset)
	tail = binary.BigEndian.AppendUint64(tail, uint64(len(footerData)))
	if _, err := w.out.Write(tail); err != nil {
		return err
	}
	if err := w.out.WriteFooter(); err != nil {
		return err
	}
	return w.out.Close()
}

func (w *segmentWriter) offset() uint64 { return uint64(w.out.FilePointer()) }

// writeChunks writes ChunkSize documents at a time as length-prefixed,
// optionally snappy-compressed JSON arrays.
func writeChunks[T any](w *segmentWriter, get func(doc int) (T, error)) ([]uint64, error) {
	maxDoc := w.src.MaxDoc()
	var offsets []uint64
	for start := 0; start < maxDoc; start += ChunkSize {
		end := min(start+ChunkSize, maxDoc)
		chunk := make([]T, 0, end-start)
		for doc := start; doc < end; doc++ {
			v, err := get(doc)
			if err != nil {
				return nil, err
			}
			chunk = append(chunk, v)
		}
		data, err := json.Marshal(chunk)
		if err != nil {
			return nil, err
		}
		if w.compress {
			data = snappy.Encode(nil, data)
		}
		offsets = append(offsets, w.offset())
		buf := binary.BigEndian.AppendUint32(nil, uint32(len(data)))
		if _, err := w.out.Write(append(buf, data...)); err != nil {
			return nil, err
		}
	}
	return offsets, nil
}

// writeField writes postings, the FST, the ordinal table and term bytes of
// one field. It returns nil when the field has no terms.
func (w *segmentWriter) writeField(fi *FieldInfo) (*FieldMeta, error) {
	it, err := w.src.Terms(fi.Name)
	if err != nil || it == nil {
		return nil, err
	}
	ff := flagsOf(fi)
	meta := &FieldMeta{Name: fi.Name, PostingsOffset: w.offset()}

	var (
		terms     [][]byte
		ords      []byte
		termBytes []byte
		buf       []byte
		prev      []byte
		relOffset uint64
	)
	docs := roaring.New()
	for it.Next() {
		term := bytes.Clone(it.Term())
		if len(terms) > 0 && bytes.Compare(prev, term) >= 0 {
			return nil, fmt.Errorf("terms out of order: %q after %q", term, prev)
		}
		postings := it.Postings()
		if len(postings) == 0 {
			continue
		}

		var ttf int64
		buf, ttf = appendPostings(buf[:0], postings, ff)
		if _, err := w.out.Write(buf); err != nil {
			return nil, err
		}
		for _, p := range postings {
			docs.Add(uint32(p.Doc))
		}

		ords = binary.BigEndian.AppendUint64(ords, relOffset)
		ords = binary.BigEndian.AppendUint32(ords, uint32(len(postings)))
		ords = binary.BigEndian.AppendUint64(ords, uint64(ttf))
		ords = binary.BigEndian.AppendUint64(ords, uint64(len(termBytes)))
		termBytes = binary.AppendUvarint(termBytes, uint64(len(term)))
		termBytes = append(termBytes, term...)

		relOffset += uint64(len(buf))
		meta.SumDocFreq += int64(len(postings))
		meta.SumTotalTermFreq += ttf
		terms = append(terms, term)
		prev = term
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	if len(terms) == 0 {
		return nil, nil
	}
	meta.PostingsSize = relOffset
	meta.NumTerms = int64(len(terms))
	meta.DocCount = int(docs.GetCardinality())

	var fstBuf bytes.Buffer
	fstBuilder, err := vellum.New(&fstBuf, nil)
	if err != nil {
		return nil, err
	}
	for ord, term := range terms {
		if err := fstBuilder.Insert(term, uint64(ord)); err != nil {
			return nil, err
		}
	}
	if err := fstBuilder.Close(); err != nil {
		return nil, err
	}

	meta.DictOffset = w.offset()
	size := binary.BigEndian.AppendUint64(nil, uint64(fstBuf.Len()))
	if _, err := w.out.Write(append(size, fstBuf.Bytes()...)); err != nil {
		return nil, err
	}
	meta.DictSize = w.offset() - meta.DictOffset

	meta.OrdOffset = w.offset()
	if _, err := w.out.Write(ords); err != nil {
		return nil, err
	}
	meta.TermsOffset = w.offset()
	if _, err := w.out.Write(termBytes); err != nil {
		return nil, err
	}
	return meta, nil
}

func (w *segmentWriter) writeDocValues(fi *FieldInfo) error {
	col, err := w.src.DocValues(fi.Name)
	if err != nil || col == nil {
		return err
	}
	maxDoc := w.src.MaxDoc()
	col.Resize(maxDoc)

	present, err := col.Present.ToBytes()
	if err != nil {
		return err
	}
	buf := binary.BigEndian.AppendUint32(nil, uint32(len(present)))
	buf = append(buf, present...)

	switch fi.DocValues {
	case document.DocValuesNumeric:
		for _, v := range col.Numeric {
			buf = binary.BigEndian.AppendUint64(buf, uint64(v))
		}
	case document.DocValuesBinary:
		buf = appendBinaryTable(buf, col.Binary)
	case document.DocValuesSorted:
		unique := make(map[string]struct{})
		it := col.Present.Iterator()
		for it.HasNext() {
			unique[string(col.Binary[it.Next()])] = struct{}{}
		}
		dict := make([]string, 0, len(unique))
		for v := range unique {
			dict = append(dict, v)
		}
		sort.Strings(dict)
		ordOf := make(map[string]int32, len(dict))
		values := make([][]byte, len(dict))
		for i, v := range dict {
			ordOf[v] = int32(i)
			values[i] = []byte(v)
		}
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(dict)))
		buf = appendBinaryTable(buf, values)
		for doc := 0; doc < maxDoc; doc++ {
			ord := int32(-1)
			if col.Present.Contains(uint32(doc)) {
				ord = ordOf[string(col.Binary[doc])]
			}
			buf = binary.BigEndian.AppendUint32(buf, uint32(ord))
		}
	default:
		return fmt.Errorf("%w: %v", ErrWrongDocValueType, fi.DocValues)
	}

	meta := DocValuesMeta{Name: fi.Name, Offset: w.offset(), Size: uint64(len(buf))}
	if _, err := w.out.Write(buf); err != nil {
		return err
	}
	w.footer.DocValues = append(w.footer.DocValues, meta)
	return nil
}

// appendBinaryTable writes len(values)+1 offsets followed by the data.
func appendBinaryTable(buf []byte, values [][]byte) []byte {
	var off uint64
	buf = binary.BigEndian.AppendUint64(buf, 0)
	for _, v := range values {
		off += uint64(len(v))
		buf = binary.BigEndian.AppendUint64(buf, off)
	}
	for _, v := range values {
		buf = append(buf, v...)
	}
	return buf
}

func (w *segmentWriter) writeNorms(fi *FieldInfo) error {
	lengths, err := w.src.Norms(fi.Name)
	if err != nil {
		return err
	}
	maxDoc := w.src.MaxDoc()
	meta := NormsMeta{Name: fi.Name, Offset: w.offset()}
	buf := make([]byte, 0, maxDoc*4)
	for doc := 0; doc < maxDoc; doc++ {
		var l uint32
		if doc < len(lengths) {
			l = lengths[doc]
		}
		if l > 0 {
			meta.TotalTokens += int64(l)
			meta.DocCount++
		}
		buf = binary.BigEndian.AppendUint32(buf, l)
	}
	if _, err := w.out.Write(buf); err != nil {
		return err
	}
	w.footer.Norms = append(w.footer.Norms, meta)
	return nil
}
