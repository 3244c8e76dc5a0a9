package segment

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/couchbase/vellum"
	"github.com/golang/snappy"
	lru "github.com/hashicorp/golang-lru/v2"

	"harshagw/segidx/internal/document"
	"harshagw/segidx/internal/store"
)

const chunkCacheSize = 16

// Reader is an open, immutable segment.
type Reader struct {
	info   Info
	in     store.IndexInput
	data   []byte
	footer Footer
	infos  *FieldInfos

	fieldMetaByName map[string]*FieldMeta
	dvMetaByName    map[string]*DocValuesMeta
	normsByName     map[string]*NormsMeta

	fsts   map[string]*vellum.FST
	fstsMu sync.RWMutex

	storedCache *lru.Cache[int, []document.StoredDocument]
	vectorCache *lru.Cache[int, []TermVectors]

	closed atomic.Bool
}

// Open opens an existing segment file. Only the footer structure is
// checked; VerifyChecksum hashes the whole file.
func Open(dir store.Directory, info Info) (*Reader, error) {
	name := info.FileName()
	in, err := dir.OpenInput(name)
	if err != nil {
		return nil, fmt.Errorf("failed to open segment %s: %w", info.Name, err)
	}
	r, err := load(in, info)
	if err != nil {
		in.Close()
		return nil, err
	}
	return r, nil
}

func corruptf(name, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", store.ErrCorruptIndex, name, fmt.Sprintf(format, args...))
}

func load(in store.IndexInput, info Info) (*Reader, error) {
	name := in.Name()
	data := in.Bytes()
	body, err := store.CheckFooter(name, data)
	if err != nil {
		return nil, err
	}
	if len(body) < len(SegmentMagic)+4+16 || string(body[:len(SegmentMagic)]) != SegmentMagic {
		return nil, corruptf(name, "invalid segment magic")
	}
	if v := binary.BigEndian.Uint32(body[len(SegmentMagic):]); v != SegmentVersion {
		return nil, corruptf(name, "unsupported segment version %d", v)
	}
	hr := newByteReader(body[len(SegmentMagic)+4:])
	id, err := hr.ReadBytes()
	if err != nil {
		return nil, corruptf(name, "header: %v", err)
	}
	if info.ID != "" && string(id) != info.ID {
		return nil, corruptf(name, "segment id mismatch: header=%s expected=%s", id, info.ID)
	}

	// Read footer offset and size from end of body
	footerOffset := binary.BigEndian.Uint64(body[len(body)-16 : len(body)-8])
	footerSize := binary.BigEndian.Uint64(body[len(body)-8:])
	if footerOffset+footerSize > uint64(len(body)-16) {
		return nil, corruptf(name, "footer out of bounds")
	}

	var footer Footer
	if err := json.Unmarshal(body[footerOffset:footerOffset+footerSize], &footer); err != nil {
		return nil, corruptf(name, "failed to parse segment footer: %v", err)
	}

	r := &Reader{
		info:            info,
		in:              in,
		data:            body,
		footer:          footer,
		infos:           NewFieldInfos(footer.FieldInfos...),
		fieldMetaByName: make(map[string]*FieldMeta, len(footer.Fields)),
		dvMetaByName:    make(map[string]*DocValuesMeta, len(footer.DocValues)),
		normsByName:     make(map[string]*NormsMeta, len(footer.Norms)),
		fsts:            make(map[string]*vellum.FST),
	}
	for i := range footer.Fields {
		r.fieldMetaByName[footer.Fields[i].Name] = &footer.Fields[i]
	}
	for i := range footer.DocValues {
		r.dvMetaByName[footer.DocValues[i].Name] = &footer.DocValues[i]
	}
	for i := range footer.Norms {
		r.normsByName[footer.Norms[i].Name] = &footer.Norms[i]
	}
	r.storedCache, _ = lru.New[int, []document.StoredDocument](chunkCacheSize)
	r.vectorCache, _ = lru.New[int, []TermVectors](chunkCacheSize)
	return r, nil
}

// ensureOpen fails once Close has released the file mapping.
func (r *Reader) ensureOpen() error {
	if r.closed.Load() {
		return fmt.Errorf("%w: %s", ErrSegmentClosed, r.info.Name)
	}
	return nil
}

// Name returns the segment name.
func (r *Reader) Name() string { return r.info.Name }

// ID returns the segment id recorded in the header.
func (r *Reader) ID() string { return r.footer.ID }

// Codec returns the name of the codec that wrote the segment.
func (r *Reader) Codec() string { return r.footer.Codec }

// MaxDoc returns the number of documents, deleted or not.
func (r *Reader) MaxDoc() int { return r.footer.MaxDoc }

func (r *Reader) FieldInfos() *FieldInfos { return r.infos }

func (r *Reader) Diagnostics() map[string]string { return r.footer.Diagnostics }

// Footer returns the parsed segment footer.
func (r *Reader) Footer() *Footer { return &r.footer }

// SizeInBytes returns the length of the segment file.
func (r *Reader) SizeInBytes() int64 { return int64(r.in.Len()) }

// VerifyChecksum hashes the whole file.
func (r *Reader) VerifyChecksum() error {
	if err := r.ensureOpen(); err != nil {
		return err
	}
	return store.VerifyChecksum(r.in.Name(), r.in.Bytes())
}

// getFST returns the FST for a field, loading it lazily.
func (r *Reader) getFST(meta *FieldMeta) (*vellum.FST, error) {
	r.fstsMu.RLock()
	fst, ok := r.fsts[meta.Name]
	r.fstsMu.RUnlock()
	if ok {
		return fst, nil
	}

	r.fstsMu.Lock()
	defer r.fstsMu.Unlock()

	if fst, ok := r.fsts[meta.Name]; ok {
		return fst, nil
	}
	if r.fsts == nil {
		return nil, fmt.Errorf("%w: %s", ErrSegmentClosed, r.info.Name)
	}

	// FST data starts after the 8-byte size prefix
	if meta.DictOffset+8 > uint64(len(r.data)) {
		return nil, corruptf(r.in.Name(), "dictionary of %q out of bounds", meta.Name)
	}
	fstSize := binary.BigEndian.Uint64(r.data[meta.DictOffset:])
	if meta.DictOffset+8+fstSize > uint64(len(r.data)) {
		return nil, corruptf(r.in.Name(), "dictionary of %q out of bounds", meta.Name)
	}
	fst, err := vellum.Load(r.data[meta.DictOffset+8 : meta.DictOffset+8+fstSize])
	if err != nil {
		return nil, corruptf(r.in.Name(), "failed to load FST for field %s: %v", meta.Name, err)
	}

	r.fsts[meta.Name] = fst
	return fst, nil
}

// Terms returns the term dictionary of a field, or nil if the field has no
// indexed terms in this segment.
func (r *Reader) Terms(field string) (*Terms, error) {
	if err := r.ensureOpen(); err != nil {
		return nil, err
	}
	meta, ok := r.fieldMetaByName[field]
	if !ok {
		return nil, nil
	}
	fst, err := r.getFST(meta)
	if err != nil {
		return nil, err
	}
	return &Terms{r: r, meta: meta, fi: r.infos.Get(field), fst: fst}, nil
}

// IndexedFields returns the names of fields with terms, in byte order.
func (r *Reader) IndexedFields() []string {
	names := make([]string, len(r.footer.Fields))
	for i, fm := range r.footer.Fields {
		names[i] = fm.Name
	}
	return names
}

func (r *Reader) loadChunk(offsets []uint64, chunk int) ([]byte, error) {
	if chunk >= len(offsets) {
		return nil, corruptf(r.in.Name(), "chunk index %d out of range", chunk)
	}
	off := offsets[chunk]
	if off+4 > uint64(len(r.data)) {
		return nil, corruptf(r.in.Name(), "chunk %d out of bounds", chunk)
	}
	n := uint64(binary.BigEndian.Uint32(r.data[off:]))
	if off+4+n > uint64(len(r.data)) {
		return nil, corruptf(r.in.Name(), "chunk %d out of bounds", chunk)
	}
	raw := r.data[off+4 : off+4+n]
	if !r.footer.Compressed {
		return raw, nil
	}
	decompressed, err := snappy.Decode(nil, raw)
	if err != nil {
		return nil, corruptf(r.in.Name(), "failed to decompress chunk: %v", err)
	}
	return decompressed, nil
}

// StoredDocument loads the stored fields of a document.
func (r *Reader) StoredDocument(doc int) (document.StoredDocument, error) {
	if err := r.ensureOpen(); err != nil {
		return nil, err
	}
	if doc < 0 || doc >= r.footer.MaxDoc {
		return nil, fmt.Errorf("%w: doc %d, maxDoc %d", ErrDocOutOfRange, doc, r.footer.MaxDoc)
	}
	chunkIdx := doc / ChunkSize
	chunk, ok := r.storedCache.Get(chunkIdx)
	if !ok {
		data, err := r.loadChunk(r.footer.StoredChunks, chunkIdx)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, &chunk); err != nil {
			return nil, corruptf(r.in.Name(), "failed to parse chunk: %v", err)
		}
		r.storedCache.Add(chunkIdx, chunk)
	}
	if doc%ChunkSize >= len(chunk) {
		return nil, corruptf(r.in.Name(), "document index out of range in chunk")
	}
	return chunk[doc%ChunkSize], nil
}

// TermVectors loads the term vectors of a document, or nil if it has none.
func (r *Reader) TermVectors(doc int) (TermVectors, error) {
	if err := r.ensureOpen(); err != nil {
		return nil, err
	}
	if doc < 0 || doc >= r.footer.MaxDoc {
		return nil, fmt.Errorf("%w: doc %d, maxDoc %d", ErrDocOutOfRange, doc, r.footer.MaxDoc)
	}
	if len(r.footer.VectorChunks) == 0 {
		return nil, nil
	}
	chunkIdx := doc / ChunkSize
	chunk, ok := r.vectorCache.Get(chunkIdx)
	if !ok {
		data, err := r.loadChunk(r.footer.VectorChunks, chunkIdx)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, &chunk); err != nil {
			return nil, corruptf(r.in.Name(), "failed to parse vector chunk: %v", err)
		}
		r.vectorCache.Add(chunkIdx, chunk)
	}
	if doc%ChunkSize >= len(chunk) {
		return nil, corruptf(r.in.Name(), "document index out of range in vector chunk")
	}
	return chunk[doc%ChunkSize], nil
}

// Close releases segment resources. Later reads fail with
// ErrSegmentClosed.
func (r *Reader) Close() error {
	if r.closed.Swap(true) {
		return nil
	}
	r.fstsMu.Lock()
	defer r.fstsMu.Unlock()

	for _, fst := range r.fsts {
		fst.Close()
	}
	r.fsts = nil
	r.storedCache.Purge()
	r.vectorCache.Purge()
	return r.in.Close()
}
