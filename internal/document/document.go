package document

import (
	"errors"
	"fmt"

	"harshagw/segidx/internal/analysis"
)

var ErrDuplicateDocValues = errors.New("field has more than one doc value")

// IndexOptions controls what the postings of a field record. Options are
// ordered: each includes everything before it.
type IndexOptions uint8

const (
	IndexOptionsNone IndexOptions = iota
	IndexOptionsDocs
	IndexOptionsDocsAndFreqs
	IndexOptionsDocsAndFreqsAndPositions
	IndexOptionsDocsAndFreqsAndPositionsAndOffsets
)

func (o IndexOptions) String() string {
	switch o {
	case IndexOptionsNone:
		return "none"
	case IndexOptionsDocs:
		return "docs"
	case IndexOptionsDocsAndFreqs:
		return "freqs"
	case IndexOptionsDocsAndFreqsAndPositions:
		return "positions"
	case IndexOptionsDocsAndFreqsAndPositionsAndOffsets:
		return "offsets"
	}
	return fmt.Sprintf("IndexOptions(%d)", uint8(o))
}

func (o IndexOptions) HasFreqs() bool     { return o >= IndexOptionsDocsAndFreqs }
func (o IndexOptions) HasPositions() bool { return o >= IndexOptionsDocsAndFreqsAndPositions }
func (o IndexOptions) HasOffsets() bool   { return o >= IndexOptionsDocsAndFreqsAndPositionsAndOffsets }

// DocValuesType is the column-stride kind of a field.
type DocValuesType uint8

const (
	DocValuesNone DocValuesType = iota
	DocValuesNumeric
	DocValuesBinary
	DocValuesSorted
)

func (t DocValuesType) String() string {
	switch t {
	case DocValuesNone:
		return "none"
	case DocValuesNumeric:
		return "numeric"
	case DocValuesBinary:
		return "binary"
	case DocValuesSorted:
		return "sorted"
	}
	return fmt.Sprintf("DocValuesType(%d)", uint8(t))
}

// FieldType describes how a field is indexed and stored.
type FieldType struct {
	Indexed      bool
	Tokenized    bool
	Stored       bool
	IndexOptions IndexOptions
	OmitNorms    bool

	StoreTermVectors         bool
	StoreTermVectorPositions bool
	StoreTermVectorOffsets   bool
	StoreTermVectorPayloads  bool

	DocValues DocValuesType
}

var (
	// StringFieldType indexes the value as a single term without freqs.
	StringFieldType = FieldType{Indexed: true, IndexOptions: IndexOptionsDocs, OmitNorms: true}
	// TextFieldType tokenizes the value and records positions.
	TextFieldType   = FieldType{Indexed: true, Tokenized: true, IndexOptions: IndexOptionsDocsAndFreqsAndPositions}
	// StoredOnlyType keeps the value in the stored-field store only.
	StoredOnlyType  = FieldType{Stored: true}
)

// Field is a named value with a type. Exactly one of the value fields is
// meaningful, depending on how the field was built.
type Field struct {
	Name  string
	Type  FieldType
	Str   string
	Bytes []byte
	Int   int64
	// Tokens, when set, replace analysis of Str.
	Tokens []analysis.Token
}

func NewStringField(name, value string, stored bool) Field {
	ft := StringFieldType
	ft.Stored = stored
	return Field{Name: name, Type: ft, Str: value}
}

func NewTextField(name, value string, stored bool) Field {
	ft := TextFieldType
	ft.Stored = stored
	return Field{Name: name, Type: ft, Str: value}
}

func NewStoredField(name, value string) Field {
	return Field{Name: name, Type: StoredOnlyType, Str: value}
}

func NewStoredBytesField(name string, value []byte) Field {
	return Field{Name: name, Type: StoredOnlyType, Bytes: value}
}

func NewNumericDocValuesField(name string, value int64) Field {
	return Field{Name: name, Type: FieldType{DocValues: DocValuesNumeric}, Int: value}
}

func NewBinaryDocValuesField(name string, value []byte) Field {
	return Field{Name: name, Type: FieldType{DocValues: DocValuesBinary}, Bytes: value}
}

func NewSortedDocValuesField(name string, value []byte) Field {
	return Field{Name: name, Type: FieldType{DocValues: DocValuesSorted}, Bytes: value}
}

// NewField builds a field with an explicit type.
func NewField(name, value string, ft FieldType) Field {
	return Field{Name: name, Type: ft, Str: value}
}

// StoredValue returns the value persisted in the stored-field store.
func (f Field) StoredValue() StoredValue {
	if f.Bytes != nil {
		return StoredValue{Name: f.Name, Bytes: f.Bytes}
	}
	return StoredValue{Name: f.Name, Str: f.Str}
}

// Document is an ordered list of fields. Field names may repeat.
type Document struct {
	Fields []Field
}

func New(fields ...Field) *Document {
	return &Document{Fields: fields}
}

func (d *Document) Add(f Field) *Document {
	d.Fields = append(d.Fields, f)
	return d
}

// Validate rejects documents that carry two values for a single-valued
// doc-values field.
func (d *Document) Validate() error {
	var seen map[string]bool
	for _, f := range d.Fields {
		if f.Type.DocValues == DocValuesNone {
			continue
		}
		if seen == nil {
			seen = make(map[string]bool)
		}
		if seen[f.Name] {
			return fmt.Errorf("%w: %q", ErrDuplicateDocValues, f.Name)
		}
		seen[f.Name] = true
	}
	return nil
}

// StoredValue is one stored field as read back from a segment.
type StoredValue struct {
	Name  string `json:"n"`
	Str   string `json:"s,omitempty"`
	Bytes []byte `json:"b,omitempty"`
}

// StoredDocument is the stored fields of a document in insertion order.
type StoredDocument []StoredValue

// Get returns the first string value of name.
func (d StoredDocument) Get(name string) string {
	for _, v := range d {
		if v.Name == name {
			if v.Bytes != nil {
				return string(v.Bytes)
			}
			return v.Str
		}
	}
	return ""
}

// Values returns every value stored under name.
func (d StoredDocument) Values(name string) []StoredValue {
	var out []StoredValue
	for _, v := range d {
		if v.Name == name {
			out = append(out, v)
		}
	}
	return out
}

// Term identifies a term in a field.
type Term struct {
	Field string
	Bytes []byte
}

func NewTerm(field, text string) Term {
	return Term{Field: field, Bytes: []byte(text)}
}

func (t Term) Text() string { return string(t.Bytes) }

func (t Term) String() string { return t.Field + ":" + string(t.Bytes) }
