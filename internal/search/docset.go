package search

import (
	"github.com/RoaringBitmap/roaring"

	"harshagw/segidx/internal/index"
)

// docSet holds matching documents as one bitmap of segment-local doc ids
// per leaf of a reader.
type docSet struct {
	leaves []index.LeafReaderContext
	docs   []*roaring.Bitmap
}

func newDocSet(leaves []index.LeafReaderContext) *docSet {
	ds := &docSet{leaves: leaves, docs: make([]*roaring.Bitmap, len(leaves))}
	for i := range ds.docs {
		ds.docs[i] = roaring.New()
	}
	return ds
}

func (ds *docSet) IsEmpty() bool {
	for _, bm := range ds.docs {
		if !bm.IsEmpty() {
			return false
		}
	}
	return true
}

func (ds *docSet) Count() uint64 {
	var n uint64
	for _, bm := range ds.docs {
		n += bm.GetCardinality()
	}
	return n
}

// Contains reports whether the global doc id is in the set.
func (ds *docSet) Contains(doc int) bool {
	for i, leaf := range ds.leaves {
		if local := doc - leaf.DocBase; local >= 0 && local < leaf.Reader.MaxDoc() {
			return ds.docs[i].Contains(uint32(local))
		}
	}
	return false
}

// ForEach calls fn with the global id of every doc in increasing order.
func (ds *docSet) ForEach(fn func(doc int)) {
	for i, leaf := range ds.leaves {
		it := ds.docs[i].Iterator()
		for it.HasNext() {
			fn(leaf.DocBase + int(it.Next()))
		}
	}
}
