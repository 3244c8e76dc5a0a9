package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"math"
	"slices"
	"strconv"

	"harshagw/segidx/internal/document"
)

const defaultIDField = "id"

// buildDocument converts a decoded JSON object into a document. The id
// field is indexed untokenized, strings are text, numbers are indexed as
// keywords with a numeric doc value when integral, and nested objects are
// flattened with dotted names.
func buildDocument(idField string, fields map[string]any) (*document.Document, string, error) {
	raw, ok := fields[idField]
	if !ok {
		return nil, "", fmt.Errorf("document has no %q field", idField)
	}
	id, ok := scalarString(raw)
	if !ok || id == "" {
		return nil, "", fmt.Errorf("field %q must be a non-empty string or number", idField)
	}

	doc := document.New(document.NewStringField(idField, id, true))
	var add func(prefix string, m map[string]any) error
	add = func(prefix string, m map[string]any) error {
		for _, name := range slices.Sorted(maps.Keys(m)) {
			full := prefix + name
			if full == idField {
				continue
			}
			if err := addValue(doc, full, m[name], add); err != nil {
				return err
			}
		}
		return nil
	}
	if err := add("", fields); err != nil {
		return nil, "", err
	}
	return doc, id, nil
}

func addValue(doc *document.Document, name string, v any, nested func(string, map[string]any) error) error {
	switch v := v.(type) {
	case nil:
	case string:
		doc.Add(document.NewTextField(name, v, true))
	case bool:
		doc.Add(document.NewStringField(name, strconv.FormatBool(v), true))
	case json.Number:
		doc.Add(document.NewStringField(name, v.String(), true))
		if n, err := v.Int64(); err == nil {
			doc.Add(document.NewNumericDocValuesField(name, n))
		} else if f, err := v.Float64(); err == nil {
			doc.Add(document.NewNumericDocValuesField(name, int64(math.Float64bits(f))))
		}
	case []any:
		for _, e := range v {
			if _, ok := e.(map[string]any); ok {
				return fmt.Errorf("field %q: arrays of objects are not supported", name)
			}
			if _, ok := e.([]any); ok {
				return fmt.Errorf("field %q: nested arrays are not supported", name)
			}
			if _, ok := e.(json.Number); ok {
				n, _ := scalarString(e)
				doc.Add(document.NewStringField(name, n, true))
				continue
			}
			if err := addValue(doc, name, e, nested); err != nil {
				return err
			}
		}
	case map[string]any:
		return nested(name+".", v)
	default:
		return fmt.Errorf("field %q: unsupported value %T", name, v)
	}
	return nil
}

func scalarString(v any) (string, bool) {
	switch v := v.(type) {
	case string:
		return v, true
	case json.Number:
		return v.String(), true
	}
	return "", false
}

func decodeObject(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("expected a JSON object")
	}
	return m, nil
}

// readDocuments calls fn for every non-empty line of r.
func readDocuments(r io.Reader, fn func(line int, fields map[string]any) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64<<10), 16<<20)
	line := 0
	for sc.Scan() {
		line++
		data := bytes.TrimSpace(sc.Bytes())
		if len(data) == 0 {
			continue
		}
		fields, err := decodeObject(data)
		if err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		if err := fn(line, fields); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
	}
	return sc.Err()
}

// storedJSON renders a stored document as a JSON object. Repeated fields
// become arrays.
func storedJSON(d document.StoredDocument) ([]byte, error) {
	out := make(map[string]any)
	for _, v := range d {
		var val any = v.Str
		if v.Bytes != nil {
			val = string(v.Bytes)
		}
		switch prev := out[v.Name].(type) {
		case nil:
			out[v.Name] = val
		case []any:
			out[v.Name] = append(prev, val)
		default:
			out[v.Name] = []any{prev, val}
		}
	}
	return json.MarshalIndent(out, "", "  ")
}

func idTerm(id string) document.Term { return document.NewTerm(defaultIDField, id) }
