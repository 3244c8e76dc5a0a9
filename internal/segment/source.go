package segment

import (
	"github.com/RoaringBitmap/roaring"

	"harshagw/segidx/internal/document"
)

// Position is one occurrence of a term inside a document.
type Position struct {
	Pos     int
	Start   int
	End     int
	Payload []byte
}

// Posting is the occurrence data of a term in one document.
type Posting struct {
	Doc       int
	Freq      int
	Positions []Position
}

// Source is everything a codec needs to write a segment. Documents are
// numbered 0..MaxDoc()-1.
type Source interface {
	MaxDoc() int
	FieldInfos() *FieldInfos
	// Terms returns the terms of an indexed field in byte order, or nil if
	// the field has none.
	Terms(field string) (TermIterator, error)
	StoredDocument(doc int) (document.StoredDocument, error)
	// TermVectors returns nil for documents without vectors.
	TermVectors(doc int) (TermVectors, error)
	// DocValues returns nil for fields without values.
	DocValues(field string) (*DocValuesColumn, error)
	// Norms returns the per-document token count of a field.
	Norms(field string) ([]uint32, error)
}

// TermIterator walks terms in byte order together with their postings.
type TermIterator interface {
	Next() bool
	Term() []byte
	Postings() []Posting
	Err() error
}

// TermVectors is the per-document inverted view of the fields that store
// vectors.
type TermVectors []TermVectorField

// Field returns the vector of one field, or nil.
func (tv TermVectors) Field(name string) *TermVectorField {
	for i := range tv {
		if tv[i].Field == name {
			return &tv[i]
		}
	}
	return nil
}

type TermVectorField struct {
	Field string           `json:"f"`
	Terms []TermVectorTerm `json:"t"`
}

type TermVectorTerm struct {
	Term      string   `json:"t"`
	Freq      int      `json:"q"`
	Positions []int    `json:"p,omitempty"`
	Starts    []int    `json:"s,omitempty"`
	Ends      []int    `json:"e,omitempty"`
	Payloads  [][]byte `json:"y,omitempty"`
}

// DocValuesColumn is a fully materialized doc-values column. Only the
// slice matching Type is populated; both are indexed by doc.
type DocValuesColumn struct {
	Type    document.DocValuesType
	Present *roaring.Bitmap
	Numeric []int64
	Binary  [][]byte
}

// NewDocValuesColumn returns an empty column of maxDoc documents.
func NewDocValuesColumn(t document.DocValuesType, maxDoc int) *DocValuesColumn {
	c := &DocValuesColumn{Type: t, Present: roaring.New()}
	if t == document.DocValuesNumeric {
		c.Numeric = make([]int64, maxDoc)
	} else {
		c.Binary = make([][]byte, maxDoc)
	}
	return c
}

// Set records a value for doc, growing the column as needed.
func (c *DocValuesColumn) Set(doc int, num int64, bin []byte) {
	c.Present.Add(uint32(doc))
	if c.Type == document.DocValuesNumeric {
		for len(c.Numeric) <= doc {
			c.Numeric = append(c.Numeric, 0)
		}
		c.Numeric[doc] = num
		return
	}
	for len(c.Binary) <= doc {
		c.Binary = append(c.Binary, nil)
	}
	c.Binary[doc] = bin
}

// Resize pads or truncates the column to maxDoc documents.
func (c *DocValuesColumn) Resize(maxDoc int) {
	if c.Type == document.DocValuesNumeric {
		for len(c.Numeric) < maxDoc {
			c.Numeric = append(c.Numeric, 0)
		}
		c.Numeric = c.Numeric[:maxDoc]
		return
	}
	for len(c.Binary) < maxDoc {
		c.Binary = append(c.Binary, nil)
	}
	c.Binary = c.Binary[:maxDoc]
}

// sliceTermIterator iterates pre-sorted in-memory terms.
type sliceTermIterator struct {
	terms    []string
	postings map[string][]Posting
	pos      int
}

func (it *sliceTermIterator) Next() bool {
	if it.pos >= len(it.terms) {
		return false
	}
	it.pos++
	return true
}

func (it *sliceTermIterator) Term() []byte        { return []byte(it.terms[it.pos-1]) }
func (it *sliceTermIterator) Postings() []Posting { return it.postings[it.terms[it.pos-1]] }
func (it *sliceTermIterator) Err() error          { return nil }
