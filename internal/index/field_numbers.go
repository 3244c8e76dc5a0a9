package index

import (
	"fmt"
	"sync"

	"harshagw/segidx/internal/document"
	"harshagw/segidx/internal/segment"
)

// FieldNumbers maps field names to index-wide numbers and doc-values types.
// One instance is owned by each writer and shared by every flush, merge and
// addIndexes it runs.
type FieldNumbers struct {
	mu         sync.Mutex
	byName     map[string]int
	byNumber   map[int]string
	docValues  map[string]document.DocValuesType
	nextNumber int
}

func NewFieldNumbers() *FieldNumbers {
	return &FieldNumbers{
		byName:    make(map[string]int),
		byNumber:  make(map[int]string),
		docValues: make(map[string]document.DocValuesType),
	}
}

// Number returns the number of name, allocating one if needed. A doc-values
// type different from the one already recorded for name is rejected.
func (f *FieldNumbers) Number(name string, ft document.FieldType) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkDocValues(name, ft.DocValues); err != nil {
		return -1, err
	}
	n, ok := f.byName[name]
	if !ok {
		n = f.allocate(name, -1)
	}
	if ft.DocValues != document.DocValuesNone {
		f.docValues[name] = ft.DocValues
	}
	return n, nil
}

func (f *FieldNumbers) checkDocValues(name string, dv document.DocValuesType) error {
	if dv == document.DocValuesNone {
		return nil
	}
	if cur, ok := f.docValues[name]; ok && cur != dv {
		return fmt.Errorf("%w: field %q has %v doc values, cannot change to %v", ErrDocValuesTypeConflict, name, cur, dv)
	}
	return nil
}

// allocate assigns preferred if it is free, else the next unused number.
func (f *FieldNumbers) allocate(name string, preferred int) int {
	n := preferred
	if _, taken := f.byNumber[n]; n < 0 || taken {
		for {
			if _, taken := f.byNumber[f.nextNumber]; !taken {
				break
			}
			f.nextNumber++
		}
		n = f.nextNumber
	}
	f.byName[name] = n
	f.byNumber[n] = name
	return n
}

// Check reports whether every field of infos could be added without a
// doc-values conflict. Nothing is recorded.
func (f *FieldNumbers) Check(infos *segment.FieldInfos) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, fi := range infos.List() {
		if err := f.checkDocValues(fi.Name, fi.DocValues); err != nil {
			return err
		}
	}
	return nil
}

// AddInfos records the fields of an existing segment, keeping its numbers
// when they are free.
func (f *FieldNumbers) AddInfos(infos *segment.FieldInfos) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, fi := range infos.List() {
		if err := f.checkDocValues(fi.Name, fi.DocValues); err != nil {
			return err
		}
	}
	for _, fi := range infos.List() {
		if _, ok := f.byName[fi.Name]; !ok {
			f.allocate(fi.Name, fi.Number)
		}
		if fi.DocValues != document.DocValuesNone {
			f.docValues[fi.Name] = fi.DocValues
		}
	}
	return nil
}

// AdoptIfCompatible records the fields of infos and reports true when
// every field can keep its number: either it is already known under that
// number or the number is free. Nothing is recorded otherwise.
func (f *FieldNumbers) AdoptIfCompatible(infos *segment.FieldInfos) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, fi := range infos.List() {
		if err := f.checkDocValues(fi.Name, fi.DocValues); err != nil {
			return false, err
		}
		if n, ok := f.byName[fi.Name]; ok {
			if n != fi.Number {
				return false, nil
			}
			continue
		}
		if _, taken := f.byNumber[fi.Number]; taken {
			return false, nil
		}
	}
	for _, fi := range infos.List() {
		if _, ok := f.byName[fi.Name]; !ok {
			f.allocate(fi.Name, fi.Number)
		}
		if fi.DocValues != document.DocValuesNone {
			f.docValues[fi.Name] = fi.DocValues
		}
	}
	return true, nil
}

// Renumber returns a copy of infos using this instance's numbers,
// allocating numbers for unknown fields.
func (f *FieldNumbers) Renumber(infos *segment.FieldInfos) (*segment.FieldInfos, error) {
	if err := f.AddInfos(infos); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*segment.FieldInfo, 0, infos.Len())
	for _, fi := range infos.List() {
		c := fi.Clone()
		c.Number = f.byName[fi.Name]
		out = append(out, c)
	}
	return segment.NewFieldInfos(out...), nil
}

// Lookup returns the number of name.
func (f *FieldNumbers) Lookup(name string) (int, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.byName[name]
	return n, ok
}

// Clear forgets every field.
func (f *FieldNumbers) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byName = make(map[string]int)
	f.byNumber = make(map[int]string)
	f.docValues = make(map[string]document.DocValuesType)
	f.nextNumber = 0
}
