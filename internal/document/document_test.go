package document

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateDuplicateDocValues(t *testing.T) {
	doc := New(
		NewStringField("id", "1", true),
		NewNumericDocValuesField("price", 10),
	)
	require.NoError(t, doc.Validate())

	doc.Add(NewNumericDocValuesField("price", 11))
	require.ErrorIs(t, doc.Validate(), ErrDuplicateDocValues)
}

func TestIndexOptionsOrdering(t *testing.T) {
	require.False(t, IndexOptionsDocs.HasFreqs())
	require.True(t, IndexOptionsDocsAndFreqs.HasFreqs())
	require.False(t, IndexOptionsDocsAndFreqs.HasPositions())
	require.True(t, IndexOptionsDocsAndFreqsAndPositionsAndOffsets.HasOffsets())
	require.Equal(t, "positions", IndexOptionsDocsAndFreqsAndPositions.String())
}

func TestStoredDocument(t *testing.T) {
	doc := New(
		NewStringField("id", "7", true),
		NewStoredBytesField("blob", []byte{1, 2}),
		NewTextField("body", "hello", false),
		NewStoredField("tag", "a"),
		NewStoredField("tag", "b"),
	)
	var stored StoredDocument
	for _, f := range doc.Fields {
		if f.Type.Stored {
			stored = append(stored, f.StoredValue())
		}
	}
	require.Equal(t, "7", stored.Get("id"))
	require.Equal(t, "", stored.Get("body"))
	require.Len(t, stored.Values("tag"), 2)
	require.Equal(t, []byte{1, 2}, stored.Values("blob")[0].Bytes)
}
