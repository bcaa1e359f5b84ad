package mapping

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/textsearch/internal/analysis"
	"github.com/Adithya-Monish-Kumar-K/textsearch/internal/document"
	"github.com/Adithya-Monish-Kumar-K/textsearch/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/textsearch/pkg/errors"
)

func fieldsByName(doc *document.Document) map[string][]*document.Field {
	out := make(map[string][]*document.Field)
	for _, f := range doc.Fields {
		out[f.Name] = append(out[f.Name], f)
	}
	return out
}

func TestDynamicMapping(t *testing.T) {
	m, err := New(nil, analysis.Standard)
	require.NoError(t, err)
	doc, err := m.Document("1", []byte(`{
		"title": "Full text search",
		"price": 12.5,
		"active": true,
		"tags": ["go", "search"],
		"author": {"name": "Ada"},
		"missing": null
	}`))
	require.NoError(t, err)
	assert.Equal(t, "1", doc.ID)

	f := fieldsByName(doc)
	require.Len(t, f["title"], 1)
	assert.Equal(t, document.Text, f["title"][0].Kind)
	assert.Equal(t, analysis.Standard, f["title"][0].Analyzer)
	assert.Equal(t, document.Numeric, f["price"][0].Kind)
	assert.Equal(t, 12.5, f["price"][0].Number)
	assert.Equal(t, document.KeywordKind, f["active"][0].Kind)
	assert.Equal(t, "true", f["active"][0].Text)
	assert.Len(t, f["tags"], 2)
	assert.Equal(t, "Ada", f["author.name"][0].Text)
	assert.NotContains(t, f, "missing")
}

func TestConfiguredFields(t *testing.T) {
	no := false
	m, err := New(map[string]config.FieldConfig{
		"published": {Type: "datetime"},
		"sku":       {Type: "keyword", Store: &no},
		"body":      {Type: "text", Analyzer: analysis.English, Locations: &no},
		"year":      {Type: "numeric"},
	}, analysis.Standard)
	require.NoError(t, err)

	doc, err := m.Document("p1", []byte(`{"published":"2024-03-01","sku":123,"body":"Running fast","year":"2020"}`))
	require.NoError(t, err)
	f := fieldsByName(doc)

	assert.Equal(t, document.DateTime, f["published"][0].Kind)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), f["published"][0].Time)
	assert.Equal(t, document.KeywordKind, f["sku"][0].Kind)
	assert.Equal(t, "123", f["sku"][0].Text)
	assert.False(t, f["sku"][0].Options.Store)
	assert.Equal(t, analysis.English, f["body"][0].Analyzer)
	assert.False(t, f["body"][0].Options.IncludeLocations)
	assert.Equal(t, 2020.0, f["year"][0].Number)
}

func TestMappingErrors(t *testing.T) {
	_, err := New(map[string]config.FieldConfig{"x": {Type: "blob"}}, analysis.Standard)
	require.Error(t, err)

	m, err := New(map[string]config.FieldConfig{"when": {Type: "datetime"}}, analysis.Standard)
	require.NoError(t, err)
	for name, body := range map[string]string{
		"not an object":    `[1,2]`,
		"bad date":         `{"when":"yesterday"}`,
		"array of objects": `{"items":[{"a":1}]}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := m.Document("d", []byte(body))
			require.Error(t, err)
			assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))
		})
	}
	_, err = m.Document("", []byte(`{"a":"b"}`))
	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))
}
