// Package facet aggregates matched documents into term, numeric range and
// date range buckets. Builders see each matched document once, through its
// back-index row, and never touch postings.
package facet

import (
	"sort"
	"strconv"
	"time"

	"github.com/Adithya-Monish-Kumar-K/textsearch/internal/document"
	"github.com/Adithya-Monish-Kumar-K/textsearch/internal/index"
	apperrors "github.com/Adithya-Monish-Kumar-K/textsearch/pkg/errors"
)

// DefaultSize is the number of term buckets returned when none is asked for.
const DefaultSize = 10

// Request describes one facet. Exactly one of the bucket kinds applies:
// NumericRanges, DateRanges, or (neither set) term buckets.
type Request struct {
	Field         string         `json:"field"`
	Size          int            `json:"size,omitempty"`
	NumericRanges []NumericRange `json:"numeric_ranges,omitempty"`
	DateRanges    []DateRange    `json:"date_ranges,omitempty"`
}

// NumericRange is a named bucket; Min is inclusive, Max exclusive unless
// InclusiveMax is set. A nil bound is open.
type NumericRange struct {
	Name         string   `json:"name"`
	Min          *float64 `json:"min,omitempty"`
	Max          *float64 `json:"max,omitempty"`
	InclusiveMax bool     `json:"inclusive_max,omitempty"`
}

// DateRange is a named bucket; Start is inclusive, End exclusive unless
// InclusiveEnd is set.
type DateRange struct {
	Name         string     `json:"name"`
	Start        *time.Time `json:"start,omitempty"`
	End          *time.Time `json:"end,omitempty"`
	InclusiveEnd bool       `json:"inclusive_end,omitempty"`
}

// TermBucket counts documents containing one term.
type TermBucket struct {
	Term  string `json:"term"`
	Count int    `json:"count"`
}

// RangeBucket counts documents with at least one value in a range.
type RangeBucket struct {
	Name  string     `json:"name"`
	Min   *float64   `json:"min,omitempty"`
	Max   *float64   `json:"max,omitempty"`
	Start *time.Time `json:"start,omitempty"`
	End   *time.Time `json:"end,omitempty"`
	Count int        `json:"count"`
}

// Result is one computed facet. Total counts every (document, bucket)
// assignment, Missing counts matched documents without the field and Other
// counts assignments that fell outside the returned buckets.
type Result struct {
	Field         string        `json:"field"`
	Total         int           `json:"total"`
	Missing       int           `json:"missing"`
	Other         int           `json:"other"`
	Terms         []TermBucket  `json:"terms,omitempty"`
	NumericRanges []RangeBucket `json:"numeric_ranges,omitempty"`
	DateRanges    []RangeBucket `json:"date_ranges,omitempty"`
}

// Builder accumulates one facet over a stream of matched documents.
type Builder interface {
	Update(doc *index.DocTerms)
	Result() *Result
}

// Validate checks a request before any document is read.
func (r Request) Validate() error {
	if r.Field == "" {
		return apperrors.Malformed("facet requires a field")
	}
	if len(r.NumericRanges) > 0 && len(r.DateRanges) > 0 {
		return apperrors.Malformed("facet on %q mixes numeric and date ranges", r.Field)
	}
	if r.Size < 0 {
		return apperrors.Malformed("facet on %q has negative size", r.Field)
	}
	for _, nr := range r.NumericRanges {
		if nr.Min != nil && nr.Max != nil && *nr.Min > *nr.Max {
			return apperrors.Malformed("facet range %q has min greater than max", nr.Name)
		}
	}
	for _, dr := range r.DateRanges {
		if dr.Start != nil && dr.End != nil && dr.Start.After(*dr.End) {
			return apperrors.Malformed("facet range %q starts after it ends", dr.Name)
		}
	}
	return nil
}

// NewBuilder returns the builder for r.
func NewBuilder(r Request) (Builder, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	switch {
	case len(r.NumericRanges) > 0:
		return newNumericBuilder(r), nil
	case len(r.DateRanges) > 0:
		return newDateBuilder(r), nil
	default:
		size := r.Size
		if size == 0 {
			size = DefaultSize
		}
		return &termBuilder{field: r.Field, size: size, counts: make(map[string]int), labels: make(map[string]string)}, nil
	}
}

// termBuilder counts by indexed term. Numeric and datetime terms are
// labelled with the value they encode; ties still order by the indexed term,
// which for those kinds is value order.
type termBuilder struct {
	field   string
	size    int
	counts  map[string]int
	labels  map[string]string
	total   int
	missing int
}

func (b *termBuilder) Update(doc *index.DocTerms) {
	f := doc.Field(b.field)
	if f == nil || len(f.Terms) == 0 {
		b.missing++
		return
	}
	for _, t := range f.Terms {
		if _, ok := b.labels[t]; !ok {
			b.labels[t] = termLabel(t, f.Kind)
		}
		b.counts[t]++
		b.total++
	}
}

func termLabel(term string, kind document.Kind) string {
	switch kind {
	case document.Numeric:
		if v, err := index.DecodeNumericTerm(term); err == nil {
			return strconv.FormatFloat(v, 'g', -1, 64)
		}
	case document.DateTime:
		if t, err := index.DecodeDateTerm(term); err == nil {
			return t.UTC().Format(time.RFC3339Nano)
		}
	}
	return term
}

func (b *termBuilder) Result() *Result {
	buckets := make([]TermBucket, 0, len(b.counts))
	for t, n := range b.counts {
		buckets = append(buckets, TermBucket{Term: t, Count: n})
	}
	sort.Slice(buckets, func(i, j int) bool {
		if buckets[i].Count != buckets[j].Count {
			return buckets[i].Count > buckets[j].Count
		}
		return buckets[i].Term < buckets[j].Term
	})
	if len(buckets) > b.size {
		buckets = buckets[:b.size]
	}
	kept := 0
	for i := range buckets {
		kept += buckets[i].Count
		buckets[i].Term = b.labels[buckets[i].Term]
	}
	return &Result{
		Field:   b.field,
		Total:   b.total,
		Missing: b.missing,
		Other:   b.total - kept,
		Terms:   buckets,
	}
}

// rangeBuilder counts documents whose sortable values fall in each range.
type rangeBuilder struct {
	field   string
	ranges  []bounds
	counts  []int
	total   int
	missing int
	other   int
	date    bool
	result  func(counts []int) []RangeBucket
}

// bounds is a range in sortable space: [lo, hi) or [lo, hi].
type bounds struct {
	lo, hi       uint64
	hasLo, hasHi bool
	inclusiveHi  bool
}

func (r bounds) contains(v uint64) bool {
	if r.hasLo && v < r.lo {
		return false
	}
	if r.hasHi && (v > r.hi || (v == r.hi && !r.inclusiveHi)) {
		return false
	}
	return true
}

func newNumericBuilder(r Request) *rangeBuilder {
	b := &rangeBuilder{field: r.Field, counts: make([]int, len(r.NumericRanges))}
	for _, nr := range r.NumericRanges {
		var bd bounds
		if nr.Min != nil {
			bd.lo, bd.hasLo = index.SortableFloat(*nr.Min), true
		}
		if nr.Max != nil {
			bd.hi, bd.hasHi = index.SortableFloat(*nr.Max), true
		}
		bd.inclusiveHi = nr.InclusiveMax
		b.ranges = append(b.ranges, bd)
	}
	b.result = func(counts []int) []RangeBucket {
		out := make([]RangeBucket, len(r.NumericRanges))
		for i, nr := range r.NumericRanges {
			out[i] = RangeBucket{Name: nr.Name, Min: nr.Min, Max: nr.Max, Count: counts[i]}
		}
		return out
	}
	return b
}

func newDateBuilder(r Request) *rangeBuilder {
	b := &rangeBuilder{field: r.Field, counts: make([]int, len(r.DateRanges)), date: true}
	for _, dr := range r.DateRanges {
		var bd bounds
		if dr.Start != nil {
			bd.lo, bd.hasLo = index.SortableTime(*dr.Start), true
		}
		if dr.End != nil {
			bd.hi, bd.hasHi = index.SortableTime(*dr.End), true
		}
		bd.inclusiveHi = dr.InclusiveEnd
		b.ranges = append(b.ranges, bd)
	}
	b.result = func(counts []int) []RangeBucket {
		out := make([]RangeBucket, len(r.DateRanges))
		for i, dr := range r.DateRanges {
			out[i] = RangeBucket{Name: dr.Name, Start: dr.Start, End: dr.End, Count: counts[i]}
		}
		return out
	}
	return b
}

func (b *rangeBuilder) Update(doc *index.DocTerms) {
	f := doc.Field(b.field)
	if f == nil {
		b.missing++
		return
	}
	values := make([]uint64, 0, len(f.Terms))
	for _, t := range f.Terms {
		if v, err := index.DecodeSortable(t); err == nil {
			values = append(values, v)
		}
	}
	if len(values) == 0 {
		b.missing++
		return
	}
	hit := false
	for i, r := range b.ranges {
		for _, v := range values {
			if r.contains(v) {
				b.counts[i]++
				b.total++
				hit = true
				break
			}
		}
	}
	if !hit {
		b.other++
	}
}

func (b *rangeBuilder) Result() *Result {
	buckets := b.result(b.counts)
	sort.SliceStable(buckets, func(i, j int) bool {
		if buckets[i].Count != buckets[j].Count {
			return buckets[i].Count > buckets[j].Count
		}
		return buckets[i].Name < buckets[j].Name
	})
	res := &Result{Field: b.field, Total: b.total, Missing: b.missing, Other: b.other}
	if b.date {
		res.DateRanges = buckets
	} else {
		res.NumericRanges = buckets
	}
	return res
}
