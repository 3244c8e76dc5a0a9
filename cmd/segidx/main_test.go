package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"harshagw/segidx/internal/document"
)

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetArgs(args)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestBuildDocument(t *testing.T) {
	fields, err := decodeObject([]byte(`{"id": 7, "title": "Hello World", "views": 12, "ratio": 0.5,
		"draft": false, "tags": ["a", "b"], "meta": {"lang": "en"}, "none": null}`))
	require.NoError(t, err)

	doc, id, err := buildDocument("id", fields)
	require.NoError(t, err)
	require.Equal(t, "7", id)
	require.NoError(t, doc.Validate())

	byName := map[string][]document.Field{}
	for _, f := range doc.Fields {
		byName[f.Name] = append(byName[f.Name], f)
	}
	require.Len(t, byName["id"], 1)
	require.False(t, byName["id"][0].Type.Tokenized)
	require.True(t, byName["title"][0].Type.Tokenized)
	require.Len(t, byName["tags"], 2)
	require.Len(t, byName["views"], 2)
	require.Equal(t, document.DocValuesNumeric, byName["views"][1].Type.DocValues)
	require.Len(t, byName["meta.lang"], 1)
	require.Len(t, byName["draft"], 1)
	require.NotContains(t, byName, "none")
}

func TestBuildDocumentErrors(t *testing.T) {
	for _, in := range []string{
		`{"title": "no id"}`,
		`{"id": ""}`,
		`{"id": true}`,
		`{"id": "x", "list": [{"a": 1}]}`,
		`{"id": "x", "list": [[1]]}`,
	} {
		fields, err := decodeObject([]byte(in))
		require.NoError(t, err)
		_, _, err = buildDocument("id", fields)
		require.Error(t, err, in)
	}
	_, err := decodeObject([]byte(`null`))
	require.Error(t, err)
}

func TestReadDocumentsReportsLine(t *testing.T) {
	var n int
	err := readDocuments(strings.NewReader("{\"id\":\"a\"}\n\n{broken\n"), func(int, map[string]any) error {
		n++
		return nil
	})
	require.ErrorContains(t, err, "line 3")
	require.Equal(t, 1, n)
}

func TestStoredJSON(t *testing.T) {
	data, err := storedJSON(document.StoredDocument{
		{Name: "id", Str: "1"},
		{Name: "tag", Str: "a"},
		{Name: "tag", Str: "b"},
		{Name: "tag", Str: "c"},
	})
	require.NoError(t, err)
	require.JSONEq(t, `{"id": "1", "tag": ["a", "b", "c"]}`, string(data))
}

func TestCommandsEndToEnd(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "idx")
	docs := `{"id": "1", "title": "Go concurrency", "body": "goroutines and channels"}
{"id": "2", "title": "Rust ownership", "body": "borrowing and lifetimes"}
{"id": "3", "title": "Go generics", "body": "type parameters and constraints"}
`
	out, err := run(t, docs, "index", "-d", dir)
	require.NoError(t, err, out)
	require.Contains(t, out, "Indexed 3 documents")

	out, err = run(t, "", "search", "-d", dir, "title:go")
	require.NoError(t, err, out)
	require.Contains(t, out, "Found 2 results")

	out, err = run(t, `{"id": "3", "title": "Zig comptime", "body": "compile time code"}`+"\n", "index", "-d", dir)
	require.NoError(t, err, out)

	out, err = run(t, "", "delete", "-d", dir, "2")
	require.NoError(t, err, out)
	require.Contains(t, out, "Deleted 1 documents")

	out, err = run(t, "", "search", "-d", dir, "*:*")
	require.NoError(t, err, out)
	require.Contains(t, out, "Found 2 results")

	out, err = run(t, "", "merge", "-d", dir)
	require.NoError(t, err, out)
	require.Contains(t, out, "into 1 in")

	out, err = run(t, "", "checkindex", "-d", dir)
	require.NoError(t, err, out)
	require.Contains(t, out, "No problems found, 2 live documents")

	out, err = run(t, "", "stats", "-d", dir)
	require.NoError(t, err, out)
	require.Contains(t, out, "Documents: 2 live, 0 deleted")

	out, err = run(t, "", "dump", "terms", "-d", dir, "title")
	require.NoError(t, err, out)
	require.Contains(t, out, "zig df=1")

	out, err = run(t, "", "commits", "-d", dir)
	require.NoError(t, err, out)
	require.Contains(t, out, "1 commits")
}

func TestSearchWithoutIndex(t *testing.T) {
	_, err := run(t, "", "search", "-d", filepath.Join(t.TempDir(), "empty"), "x")
	require.Error(t, err)
}

func TestVerifyCommand(t *testing.T) {
	out, err := run(t, "", "verify", "-d", t.TempDir())
	require.NoError(t, err, out)
	require.Contains(t, out, "All checks passed!")
	require.Contains(t, out, "✓ merged into 1 segment(s)")
	require.NotContains(t, out, "✗")
	require.NotContains(t, out, "across 1 segments")
}

func TestMain(m *testing.M) {
	os.Setenv("SEGIDX_LOG_LEVEL", "error")
	os.Exit(m.Run())
}
