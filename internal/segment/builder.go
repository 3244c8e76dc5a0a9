package segment

import (
	"sort"

	"harshagw/segidx/internal/analysis"
	"harshagw/segidx/internal/document"
)

// FieldNumberer assigns index-wide field numbers and rejects schema
// conflicts before a document is buffered.
type FieldNumberer interface {
	Number(name string, ft document.FieldType) (int, error)
}

// Builder accumulates documents before flushing to an immutable segment.
type Builder struct {
	infos     *FieldInfos
	fields    map[string]map[string][]Posting // field -> term -> postings
	norms     map[string][]uint32             // field -> doc -> token count
	docValues map[string]*DocValuesColumn
	stored    []document.StoredDocument
	vectors   []TermVectors
	numDocs   int
	bytesUsed int64

	analyzer analysis.Analyzer
	numbers  FieldNumberer
}

// NewBuilder creates a new segment builder.
func NewBuilder(analyzer analysis.Analyzer, numbers FieldNumberer) *Builder {
	return &Builder{
		infos:     NewFieldInfos(),
		fields:    make(map[string]map[string][]Posting),
		norms:     make(map[string][]uint32),
		docValues: make(map[string]*DocValuesColumn),
		analyzer:  analyzer,
		numbers:   numbers,
	}
}

type invertedField struct {
	ft       document.FieldType
	terms    map[string][]Position
	length   int
	nextPos  int
	offset   int
	payloads bool
}

// Add buffers a document and returns its doc number within the builder.
// Nothing is buffered if the document is rejected.
func (b *Builder) Add(doc *document.Document) (int, error) {
	if err := doc.Validate(); err != nil {
		return -1, err
	}
	numbers := make(map[string]int, len(doc.Fields))
	for _, f := range doc.Fields {
		n, err := b.numbers.Number(f.Name, f.Type)
		if err != nil {
			return -1, err
		}
		numbers[f.Name] = n
	}

	docNum := b.numDocs
	var stored document.StoredDocument
	inverted := make(map[string]*invertedField)
	var order []string

	for _, f := range doc.Fields {
		fi := b.infos.GetOrAdd(f.Name, numbers[f.Name])
		fi.Update(f.Type)

		if f.Type.Stored {
			sv := f.StoredValue()
			stored = append(stored, sv)
			b.bytesUsed += int64(len(sv.Name)+len(sv.Str)+len(sv.Bytes)) + 16
		}

		if f.Type.DocValues != document.DocValuesNone {
			col, ok := b.docValues[f.Name]
			if !ok {
				col = NewDocValuesColumn(f.Type.DocValues, 0)
				b.docValues[f.Name] = col
			}
			col.Set(docNum, f.Int, f.Bytes)
			b.bytesUsed += int64(len(f.Bytes)) + 16
		}

		if !f.Type.Indexed {
			continue
		}
		inv, ok := inverted[f.Name]
		if !ok {
			inv = &invertedField{ft: f.Type, terms: make(map[string][]Position)}
			inverted[f.Name] = inv
			order = append(order, f.Name)
		} else {
			inv.ft.StoreTermVectors = inv.ft.StoreTermVectors || f.Type.StoreTermVectors
		}
		b.invert(inv, f)
		if inv.payloads && fi.IndexOptions.HasPositions() {
			fi.HasPayloads = true
		}
	}

	for _, name := range order {
		inv := inverted[name]
		postings := b.fields[name]
		if postings == nil {
			postings = make(map[string][]Posting)
			b.fields[name] = postings
		}
		for term, positions := range inv.terms {
			sort.SliceStable(positions, func(i, j int) bool { return positions[i].Pos < positions[j].Pos })
			postings[term] = append(postings[term], Posting{
				Doc:       docNum,
				Freq:      len(positions),
				Positions: positions,
			})
			b.bytesUsed += int64(len(term)) + 24 + int64(len(positions))*32
		}

		lengths := b.norms[name]
		for len(lengths) < docNum {
			lengths = append(lengths, 0)
		}
		b.norms[name] = append(lengths, uint32(inv.length))

		if inv.ft.StoreTermVectors {
			b.addVector(docNum, name, inv)
		}
	}

	b.stored = append(b.stored, stored)
	b.numDocs++
	return docNum, nil
}

func (b *Builder) invert(inv *invertedField, f document.Field) {
	value := f.Str
	if f.Bytes != nil {
		value = string(f.Bytes)
	}

	tokens := f.Tokens
	if tokens == nil {
		if f.Type.Tokenized {
			tokens = b.analyzer.Analyze(f.Name, value)
		} else {
			tokens = []analysis.Token{{Term: value, Start: 0, End: len(value)}}
		}
	}

	posBase, offBase := inv.nextPos, inv.offset
	last := -1
	for _, tok := range tokens {
		pos := posBase + tok.Position
		inv.terms[tok.Term] = append(inv.terms[tok.Term], Position{
			Pos:     pos,
			Start:   offBase + tok.Start,
			End:     offBase + tok.End,
			Payload: tok.Payload,
		})
		if tok.Payload != nil {
			inv.payloads = true
		}
		if pos > last {
			last = pos
		}
		inv.length++
	}
	if last >= 0 {
		inv.nextPos = last + 1
	}
	inv.offset = offBase + len(value) + 1
}

func (b *Builder) addVector(docNum int, field string, inv *invertedField) {
	for len(b.vectors) < docNum+1 {
		b.vectors = append(b.vectors, nil)
	}
	ft := inv.ft
	terms := make([]string, 0, len(inv.terms))
	for t := range inv.terms {
		terms = append(terms, t)
	}
	sort.Strings(terms)

	tvf := TermVectorField{Field: field, Terms: make([]TermVectorTerm, 0, len(terms))}
	for _, t := range terms {
		positions := inv.terms[t]
		tvt := TermVectorTerm{Term: t, Freq: len(positions)}
		for _, p := range positions {
			if ft.StoreTermVectorPositions {
				tvt.Positions = append(tvt.Positions, p.Pos)
			}
			if ft.StoreTermVectorOffsets {
				tvt.Starts = append(tvt.Starts, p.Start)
				tvt.Ends = append(tvt.Ends, p.End)
			}
			if ft.StoreTermVectorPayloads && ft.StoreTermVectorPositions {
				tvt.Payloads = append(tvt.Payloads, p.Payload)
			}
		}
		tvf.Terms = append(tvf.Terms, tvt)
	}
	b.vectors[docNum] = append(b.vectors[docNum], tvf)
}

// NumDocs returns the number of buffered documents.
func (b *Builder) NumDocs() int { return b.numDocs }

// BytesUsed estimates the memory held by buffered documents.
func (b *Builder) BytesUsed() int64 { return b.bytesUsed }

func (b *Builder) MaxDoc() int { return b.numDocs }

func (b *Builder) FieldInfos() *FieldInfos { return b.infos }

func (b *Builder) Terms(field string) (TermIterator, error) {
	terms, ok := b.fields[field]
	if !ok || len(terms) == 0 {
		return nil, nil
	}
	list := make([]string, 0, len(terms))
	for t := range terms {
		list = append(list, t)
	}
	sort.Strings(list)
	return &sliceTermIterator{terms: list, postings: terms}, nil
}

func (b *Builder) StoredDocument(doc int) (document.StoredDocument, error) {
	if doc < 0 || doc >= b.numDocs {
		return nil, ErrDocOutOfRange
	}
	return b.stored[doc], nil
}

func (b *Builder) TermVectors(doc int) (TermVectors, error) {
	if doc < 0 || doc >= b.numDocs {
		return nil, ErrDocOutOfRange
	}
	if doc >= len(b.vectors) {
		return nil, nil
	}
	return b.vectors[doc], nil
}

func (b *Builder) DocValues(field string) (*DocValuesColumn, error) {
	col, ok := b.docValues[field]
	if !ok {
		return nil, nil
	}
	col.Resize(b.numDocs)
	return col, nil
}

func (b *Builder) Norms(field string) ([]uint32, error) {
	lengths := b.norms[field]
	for len(lengths) < b.numDocs {
		lengths = append(lengths, 0)
	}
	b.norms[field] = lengths
	return lengths, nil
}
