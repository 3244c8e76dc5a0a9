package segment

import (
	"encoding/json"
	"sort"

	"harshagw/segidx/internal/document"
)

// FieldInfo is the per-segment schema of one field.
type FieldInfo struct {
	Name            string                 `json:"name"`
	Number          int                    `json:"number"`
	Indexed         bool                   `json:"indexed"`
	IndexOptions    document.IndexOptions  `json:"index_options"`
	OmitNorms       bool                   `json:"omit_norms"`
	HasPayloads     bool                   `json:"has_payloads"`
	HasVectors      bool                   `json:"has_vectors"`
	VectorPositions bool                   `json:"vector_positions"`
	VectorOffsets   bool                   `json:"vector_offsets"`
	VectorPayloads  bool                   `json:"vector_payloads"`
	DocValues       document.DocValuesType `json:"doc_values"`
}

// HasNorms reports whether per-document lengths are recorded.
func (fi *FieldInfo) HasNorms() bool { return fi.Indexed && !fi.OmitNorms }

// Update folds the options of another occurrence of the field into fi.
// Index options downgrade to the weakest seen; flags are sticky.
func (fi *FieldInfo) Update(ft document.FieldType) {
	if ft.Indexed {
		if !fi.Indexed {
			fi.Indexed = true
			fi.IndexOptions = ft.IndexOptions
			fi.OmitNorms = ft.OmitNorms
		} else {
			if ft.IndexOptions < fi.IndexOptions {
				fi.IndexOptions = ft.IndexOptions
			}
			fi.OmitNorms = fi.OmitNorms || ft.OmitNorms
		}
		if !fi.IndexOptions.HasPositions() {
			fi.HasPayloads = false
		}
	}
	if ft.StoreTermVectors {
		fi.HasVectors = true
		fi.VectorPositions = fi.VectorPositions || ft.StoreTermVectorPositions
		fi.VectorOffsets = fi.VectorOffsets || ft.StoreTermVectorOffsets
		fi.VectorPayloads = fi.VectorPayloads || ft.StoreTermVectorPayloads
	}
	if ft.DocValues != document.DocValuesNone {
		fi.DocValues = ft.DocValues
	}
}

// Clone returns a copy of fi.
func (fi *FieldInfo) Clone() *FieldInfo {
	c := *fi
	return &c
}

// FieldInfos is the schema of a segment, ordered by field number.
type FieldInfos struct {
	byName map[string]*FieldInfo
	list   []*FieldInfo
}

func NewFieldInfos(infos ...*FieldInfo) *FieldInfos {
	f := &FieldInfos{byName: make(map[string]*FieldInfo, len(infos))}
	for _, fi := range infos {
		f.add(fi)
	}
	return f
}

func (f *FieldInfos) add(fi *FieldInfo) {
	f.byName[fi.Name] = fi
	f.list = append(f.list, fi)
	sort.Slice(f.list, func(i, j int) bool { return f.list[i].Number < f.list[j].Number })
}

// Get returns the info for name, or nil.
func (f *FieldInfos) Get(name string) *FieldInfo {
	return f.byName[name]
}

// GetOrAdd returns the info for name, creating it with number if absent.
func (f *FieldInfos) GetOrAdd(name string, number int) *FieldInfo {
	if fi, ok := f.byName[name]; ok {
		return fi
	}
	fi := &FieldInfo{Name: name, Number: number}
	f.add(fi)
	return fi
}

// Merge folds fi into the set, downgrading options as Update does.
func (f *FieldInfos) Merge(fi *FieldInfo) {
	cur, ok := f.byName[fi.Name]
	if !ok {
		f.add(fi.Clone())
		return
	}
	if fi.Indexed {
		if !cur.Indexed {
			cur.Indexed = true
			cur.IndexOptions = fi.IndexOptions
			cur.OmitNorms = fi.OmitNorms
			cur.HasPayloads = fi.HasPayloads
		} else {
			if fi.IndexOptions < cur.IndexOptions {
				cur.IndexOptions = fi.IndexOptions
			}
			cur.OmitNorms = cur.OmitNorms || fi.OmitNorms
			cur.HasPayloads = cur.HasPayloads || fi.HasPayloads
		}
		if !cur.IndexOptions.HasPositions() {
			cur.HasPayloads = false
		}
	}
	if fi.HasVectors {
		cur.HasVectors = true
		cur.VectorPositions = cur.VectorPositions || fi.VectorPositions
		cur.VectorOffsets = cur.VectorOffsets || fi.VectorOffsets
		cur.VectorPayloads = cur.VectorPayloads || fi.VectorPayloads
	}
	if fi.DocValues != document.DocValuesNone {
		cur.DocValues = fi.DocValues
	}
}

// List returns the infos ordered by number.
func (f *FieldInfos) List() []*FieldInfo { return f.list }

func (f *FieldInfos) Len() int { return len(f.list) }

// HasVectors reports whether any field stores term vectors.
func (f *FieldInfos) HasVectors() bool {
	for _, fi := range f.list {
		if fi.HasVectors {
			return true
		}
	}
	return false
}

// IndexedNames returns the names of indexed fields in byte order.
func (f *FieldInfos) IndexedNames() []string {
	var names []string
	for _, fi := range f.list {
		if fi.Indexed {
			names = append(names, fi.Name)
		}
	}
	sort.Strings(names)
	return names
}

func (f *FieldInfos) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.list)
}

func (f *FieldInfos) UnmarshalJSON(data []byte) error {
	var list []*FieldInfo
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	*f = *NewFieldInfos(list...)
	return nil
}
