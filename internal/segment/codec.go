package segment

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"harshagw/segidx/internal/store"
)

// Segment file format constants
const (
	SegmentMagic   = "ZAP\x00"
	SegmentVersion = uint32(2)
	ChunkSize      = 128 // Documents per stored-field and term-vector chunk
	SkipInterval   = 64  // Documents per postings skip block

	SegmentExtension  = ".seg"
	LiveDocsExtension = ".del"
)

var (
	ErrUnknownCodec      = errors.New("unknown codec")
	ErrOrdNotSupported   = errors.New("term ordinals not supported")
	ErrSeekNotSupported  = errors.New("seek not supported")
	ErrFieldNotIndexed   = errors.New("field is not indexed")
	ErrDocOutOfRange     = errors.New("document out of range")
	ErrWrongDocValueType = errors.New("wrong doc values type")
	ErrSegmentClosed     = errors.New("segment is closed")
)

// Info identifies a segment to a codec.
type Info struct {
	Name string
	ID   string
}

// FileName returns the segment data file name.
func (i Info) FileName() string { return i.Name + SegmentExtension }

// Codec writes and opens segments in one on-disk format.
type Codec interface {
	Name() string
	// Write consumes src and returns the names of the files it created.
	Write(dir store.Directory, info Info, src Source, diagnostics map[string]string) ([]string, error)
	Open(dir store.Directory, info Info) (*Reader, error)
}

var (
	codecsMu sync.RWMutex
	codecs   = map[string]Codec{}
)

// RegisterCodec makes a codec available by name.
func RegisterCodec(c Codec) {
	codecsMu.Lock()
	defer codecsMu.Unlock()
	codecs[c.Name()] = c
}

// LookupCodec returns the codec registered under name.
func LookupCodec(name string) (Codec, error) {
	codecsMu.RLock()
	defer codecsMu.RUnlock()
	c, ok := codecs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
	}
	return c, nil
}

// Codecs returns the sorted names of all registered codecs.
func Codecs() []string {
	codecsMu.RLock()
	defer codecsMu.RUnlock()
	names := make([]string, 0, len(codecs))
	for n := range codecs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

const (
	DefaultCodec = "zap"
	RawCodec     = "zap-raw"
)

func init() {
	RegisterCodec(&zapCodec{name: DefaultCodec, compress: true})
	RegisterCodec(&zapCodec{name: RawCodec, compress: false})
}

type zapCodec struct {
	name     string
	compress bool
}

func (c *zapCodec) Name() string { return c.name }

func (c *zapCodec) Write(dir store.Directory, info Info, src Source, diagnostics map[string]string) ([]string, error) {
	w := &segmentWriter{
		dir:         dir,
		info:        info,
		src:         src,
		codec:       c.name,
		compress:    c.compress,
		diagnostics: diagnostics,
	}
	if err := w.write(); err != nil {
		return nil, err
	}
	return []string{info.FileName()}, nil
}

func (c *zapCodec) Open(dir store.Directory, info Info) (*Reader, error) {
	return Open(dir, info)
}

// Footer is the JSON trailer of a segment file.
type Footer struct {
	Codec        string            `json:"codec"`
	ID           string            `json:"id"`
	MaxDoc       int               `json:"max_doc"`
	Compressed   bool              `json:"compressed"`
	FieldInfos   []*FieldInfo      `json:"field_infos"`
	StoredChunks []uint64          `json:"stored_chunks"`
	VectorChunks []uint64          `json:"vector_chunks,omitempty"`
	Fields       []FieldMeta       `json:"fields"`
	DocValues    []DocValuesMeta   `json:"doc_values,omitempty"`
	Norms        []NormsMeta       `json:"norms,omitempty"`
	Diagnostics  map[string]string `json:"diagnostics,omitempty"`
}

// FieldMeta locates the term dictionary and postings of one field.
type FieldMeta struct {
	Name             string `json:"name"`
	PostingsOffset   uint64 `json:"postings_offset"`
	PostingsSize     uint64 `json:"postings_size"`
	DictOffset       uint64 `json:"dict_offset"`
	DictSize         uint64 `json:"dict_size"`
	OrdOffset        uint64 `json:"ord_offset"`
	TermsOffset      uint64 `json:"terms_offset"`
	NumTerms         int64  `json:"num_terms"`
	DocCount         int    `json:"doc_count"`
	SumDocFreq       int64  `json:"sum_doc_freq"`
	SumTotalTermFreq int64  `json:"sum_total_term_freq"`
}

// DocValuesMeta locates one doc-values column.
type DocValuesMeta struct {
	Name   string `json:"name"`
	Offset uint64 `json:"offset"`
	Size   uint64 `json:"size"`
}

// NormsMeta locates the per-document field lengths of one field.
type NormsMeta struct {
	Name        string `json:"name"`
	Offset      uint64 `json:"offset"`
	TotalTokens int64  `json:"total_tokens"`
	DocCount    int    `json:"doc_count"`
}

// ordEntrySize is postings offset, docFreq, totalTermFreq, term offset.
const ordEntrySize = 8 + 4 + 8 + 8
