package document

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilderAndValue(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.FixedZone("x", 3600))
	d := New("doc-1").
		AddText("title", "hello world", "").
		AddKeyword("tag", "go").
		AddNumeric("price", 9.5).
		AddDateTime("published", ts)

	require.NoError(t, d.Validate())
	require.Len(t, d.Fields, 4)
	assert.Equal(t, "hello world", d.Fields[0].Value())
	assert.Equal(t, 9.5, d.Fields[2].Value())
	assert.Equal(t, time.UTC, d.Fields[3].Time.Location())
	assert.True(t, d.Fields[3].Time.Equal(ts))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		doc  *Document
	}{
		{"empty id", New("")},
		{"empty field name", New("a").AddText("", "x", "")},
		{"reserved byte in id", New("a\xffb")},
		{"reserved byte in field", New("a").AddKeyword("f\xff", "x")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.doc.Validate())
		})
	}
}

func TestParseKind(t *testing.T) {
	for name, want := range map[string]Kind{"": Text, "text": Text, "keyword": KeywordKind, "numeric": Numeric, "datetime": DateTime} {
		k, err := ParseKind(name)
		require.NoError(t, err)
		assert.Equal(t, want, k)
	}
	_, err := ParseKind("geo")
	assert.Error(t, err)
	assert.Equal(t, "datetime", DateTime.String())
}
