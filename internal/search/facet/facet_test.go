package facet

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/textsearch/internal/document"
	"github.com/Adithya-Monish-Kumar-K/textsearch/internal/index"
	apperrors "github.com/Adithya-Monish-Kumar-K/textsearch/pkg/errors"
)

func doc(id string, fields ...index.FieldTerms) *index.DocTerms {
	return &index.DocTerms{ID: id, Fields: fields}
}

func ptr(f float64) *float64 { return &f }

func TestTermFacet(t *testing.T) {
	b, err := NewBuilder(Request{Field: "tag", Size: 2})
	require.NoError(t, err)
	b.Update(doc("1", index.FieldTerms{Name: "tag", Terms: []string{"go", "search"}}))
	b.Update(doc("2", index.FieldTerms{Name: "tag", Terms: []string{"go"}}))
	b.Update(doc("3", index.FieldTerms{Name: "tag", Terms: []string{"db", "search"}}))
	b.Update(doc("4", index.FieldTerms{Name: "body", Terms: []string{"x"}}))

	res := b.Result()
	assert.Equal(t, 5, res.Total)
	assert.Equal(t, 1, res.Missing)
	assert.Equal(t, 1, res.Other)
	assert.Equal(t, []TermBucket{{Term: "go", Count: 2}, {Term: "search", Count: 2}}, res.Terms)
}

func TestNumericRangeFacet(t *testing.T) {
	b, err := NewBuilder(Request{
		Field: "age",
		NumericRanges: []NumericRange{
			{Name: "young", Min: ptr(0), Max: ptr(30)},
			{Name: "middle", Min: ptr(30), Max: ptr(60)},
		},
	})
	require.NoError(t, err)
	for i, age := range []float64{10, 29.5, 30, 45, 60} {
		b.Update(doc(string(rune('a'+i)), index.FieldTerms{Name: "age", Terms: []string{index.NumericTerm(age)}}))
	}
	b.Update(doc("z"))

	res := b.Result()
	require.Len(t, res.NumericRanges, 2)
	assert.Equal(t, "middle", res.NumericRanges[0].Name)
	assert.Equal(t, 2, res.NumericRanges[0].Count)
	assert.Equal(t, "young", res.NumericRanges[1].Name)
	assert.Equal(t, 2, res.NumericRanges[1].Count)
	assert.Equal(t, 1, res.Other, "60 falls outside both exclusive upper bounds")
	assert.Equal(t, 1, res.Missing)
	assert.Equal(t, 4, res.Total)
}

func TestNumericRangeInclusiveMax(t *testing.T) {
	b, err := NewBuilder(Request{
		Field:         "n",
		NumericRanges: []NumericRange{{Name: "upto10", Max: ptr(10), InclusiveMax: true}},
	})
	require.NoError(t, err)
	b.Update(doc("1", index.FieldTerms{Name: "n", Terms: []string{index.NumericTerm(10)}}))
	b.Update(doc("2", index.FieldTerms{Name: "n", Terms: []string{index.NumericTerm(-5)}}))
	assert.Equal(t, 2, b.Result().NumericRanges[0].Count)
}

func TestDateRangeFacet(t *testing.T) {
	jan := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	feb := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	b, err := NewBuilder(Request{
		Field:      "published",
		DateRanges: []DateRange{{Name: "january", Start: &jan, End: &feb}},
	})
	require.NoError(t, err)
	b.Update(doc("1", index.FieldTerms{Name: "published", Terms: []string{index.DateTerm(jan.Add(48 * time.Hour))}}))
	b.Update(doc("2", index.FieldTerms{Name: "published", Terms: []string{index.DateTerm(feb)}}))

	res := b.Result()
	require.Len(t, res.DateRanges, 1)
	assert.Equal(t, 1, res.DateRanges[0].Count)
	assert.Equal(t, 1, res.Other)
}

func TestRequestValidation(t *testing.T) {
	tests := []struct {
		name string
		req  Request
	}{
		{"missing field", Request{}},
		{"negative size", Request{Field: "f", Size: -1}},
		{"mixed kinds", Request{Field: "f", NumericRanges: []NumericRange{{Name: "a"}}, DateRanges: []DateRange{{Name: "b"}}}},
		{"inverted range", Request{Field: "f", NumericRanges: []NumericRange{{Name: "a", Min: ptr(5), Max: ptr(1)}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewBuilder(tt.req)
			require.Error(t, err)
			assert.True(t, errors.Is(err, apperrors.ErrMalformedQuery))
		})
	}
}

func TestTermFacetLabelsNumericAndDateValues(t *testing.T) {
	b, err := NewBuilder(Request{Field: "age"})
	require.NoError(t, err)
	for _, age := range []float64{7, 42, 7, -1.5} {
		b.Update(doc("d", index.FieldTerms{Name: "age", Kind: document.Numeric, Terms: []string{index.NumericTerm(age)}}))
	}
	res := b.Result()
	assert.Equal(t, []TermBucket{{Term: "7", Count: 2}, {Term: "-1.5", Count: 1}, {Term: "42", Count: 1}}, res.Terms)

	when := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	b, err = NewBuilder(Request{Field: "published"})
	require.NoError(t, err)
	b.Update(doc("d", index.FieldTerms{Name: "published", Kind: document.DateTime, Terms: []string{index.DateTerm(when)}}))
	assert.Equal(t, []TermBucket{{Term: "2024-03-01T12:00:00Z", Count: 1}}, b.Result().Terms)
}
