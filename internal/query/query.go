// Package query defines the query tree evaluated by the search executor.
// Every node type implements Query; Validate reports structural problems
// before any index access.
package query

import (
	"math"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/textsearch/pkg/errors"
)

// Kind tags each node type.
type Kind string

const (
	KindTerm         Kind = "term"
	KindPhrase       Kind = "phrase"
	KindMatch        Kind = "match"
	KindMatchPhrase  Kind = "match_phrase"
	KindFuzzy        Kind = "fuzzy"
	KindPrefix       Kind = "prefix"
	KindNumericRange Kind = "numeric_range"
	KindDateRange    Kind = "date_range"
	KindBoolean      Kind = "bool"
	KindMatchAll     Kind = "match_all"
	KindMatchNone    Kind = "match_none"
)

// MaxFuzziness is the largest supported edit distance.
const MaxFuzziness = 2

// Query is a node of a query tree.
type Query interface {
	Kind() Kind
	Validate() error
}

// Boost returns the boost of q. A zero Boost field is the unset value and
// means 1; a clause that must not contribute score belongs in a filter, not
// at boost 0.
func Boost(q Query) float64 {
	var b float64
	switch n := q.(type) {
	case *TermQuery:
		b = n.Boost
	case *PhraseQuery:
		b = n.Boost
	case *MatchQuery:
		b = n.Boost
	case *MatchPhraseQuery:
		b = n.Boost
	case *FuzzyQuery:
		b = n.Boost
	case *PrefixQuery:
		b = n.Boost
	case *NumericRangeQuery:
		b = n.Boost
	case *DateRangeQuery:
		b = n.Boost
	case *BooleanQuery:
		b = n.Boost
	case *MatchAllQuery:
		b = n.Boost
	}
	if b == 0 {
		return 1
	}
	return b
}

func checkBoost(b float64) error {
	if b < 0 || math.IsNaN(b) || math.IsInf(b, 0) {
		return apperrors.Malformed("boost must be a non-negative number, got %v", b)
	}
	return nil
}

func checkField(kind Kind, field string) error {
	if field == "" {
		return apperrors.Malformed("%s query requires a field", kind)
	}
	return nil
}

// TermQuery matches documents containing an exact, unanalyzed term.
type TermQuery struct {
	Field string
	Term  string
	Boost float64
}

func (q *TermQuery) Kind() Kind { return KindTerm }

func (q *TermQuery) Validate() error {
	if err := checkField(KindTerm, q.Field); err != nil {
		return err
	}
	if q.Term == "" {
		return apperrors.Malformed("term query on %q has an empty term", q.Field)
	}
	return checkBoost(q.Boost)
}

// PhraseQuery matches the exact terms at consecutive positions, in order,
// within one value of the field.
type PhraseQuery struct {
	Field string
	Terms []string
	Boost float64
}

func (q *PhraseQuery) Kind() Kind { return KindPhrase }

func (q *PhraseQuery) Validate() error {
	if err := checkField(KindPhrase, q.Field); err != nil {
		return err
	}
	if len(q.Terms) == 0 {
		return apperrors.Malformed("phrase query on %q has no terms", q.Field)
	}
	for _, t := range q.Terms {
		if t == "" {
			return apperrors.Malformed("phrase query on %q has an empty term", q.Field)
		}
	}
	return checkBoost(q.Boost)
}

// Operator combines the terms of an analyzed match query.
type Operator string

const (
	OperatorOr  Operator = "or"
	OperatorAnd Operator = "and"
)

// MatchQuery analyzes Text with the field's analyzer and matches any (or
// all, with OperatorAnd) of the resulting terms.
type MatchQuery struct {
	Field     string
	Text      string
	Analyzer  string
	Operator  Operator
	Fuzziness int
	Boost     float64
}

func (q *MatchQuery) Kind() Kind { return KindMatch }

func (q *MatchQuery) Validate() error {
	if err := checkField(KindMatch, q.Field); err != nil {
		return err
	}
	switch q.Operator {
	case "", OperatorOr, OperatorAnd:
	default:
		return apperrors.Malformed("unknown match operator %q", q.Operator)
	}
	if q.Fuzziness < 0 || q.Fuzziness > MaxFuzziness {
		return apperrors.Malformed("fuzziness must be between 0 and %d, got %d", MaxFuzziness, q.Fuzziness)
	}
	return checkBoost(q.Boost)
}

// MatchPhraseQuery analyzes Text and matches the resulting terms as a
// phrase, honouring position gaps left by removed stop words.
type MatchPhraseQuery struct {
	Field    string
	Text     string
	Analyzer string
	Boost    float64
}

func (q *MatchPhraseQuery) Kind() Kind { return KindMatchPhrase }

func (q *MatchPhraseQuery) Validate() error {
	if err := checkField(KindMatchPhrase, q.Field); err != nil {
		return err
	}
	if q.Text == "" {
		return apperrors.Malformed("match_phrase query on %q has empty text", q.Field)
	}
	return checkBoost(q.Boost)
}

// FuzzyQuery matches terms within Fuzziness edits of Term. The first
// PrefixLength characters must match exactly.
type FuzzyQuery struct {
	Field        string
	Term         string
	Fuzziness    int
	PrefixLength int
	Boost        float64
}

func (q *FuzzyQuery) Kind() Kind { return KindFuzzy }

func (q *FuzzyQuery) Validate() error {
	if err := checkField(KindFuzzy, q.Field); err != nil {
		return err
	}
	if q.Term == "" {
		return apperrors.Malformed("fuzzy query on %q has an empty term", q.Field)
	}
	if q.Fuzziness < 0 || q.Fuzziness > MaxFuzziness {
		return apperrors.Malformed("fuzziness must be between 0 and %d, got %d", MaxFuzziness, q.Fuzziness)
	}
	if q.PrefixLength < 0 {
		return apperrors.Malformed("prefix length must not be negative")
	}
	return checkBoost(q.Boost)
}

// PrefixQuery matches every term starting with Prefix.
type PrefixQuery struct {
	Field  string
	Prefix string
	Boost  float64
}

func (q *PrefixQuery) Kind() Kind { return KindPrefix }

func (q *PrefixQuery) Validate() error {
	if err := checkField(KindPrefix, q.Field); err != nil {
		return err
	}
	if q.Prefix == "" {
		return apperrors.Malformed("prefix query on %q has an empty prefix", q.Field)
	}
	return checkBoost(q.Boost)
}

// NumericRangeQuery matches numeric field values between Min and Max. A nil
// bound is open.
type NumericRangeQuery struct {
	Field        string
	Min          *float64
	Max          *float64
	InclusiveMin bool
	InclusiveMax bool
	Boost        float64
}

// NewNumericRange builds a range with the usual [min, max) bounds.
func NewNumericRange(field string, min, max *float64) *NumericRangeQuery {
	return &NumericRangeQuery{Field: field, Min: min, Max: max, InclusiveMin: true}
}

func (q *NumericRangeQuery) Kind() Kind { return KindNumericRange }

func (q *NumericRangeQuery) Validate() error {
	if err := checkField(KindNumericRange, q.Field); err != nil {
		return err
	}
	if q.Min == nil && q.Max == nil {
		return apperrors.Malformed("numeric range on %q needs at least one bound", q.Field)
	}
	if (q.Min != nil && math.IsNaN(*q.Min)) || (q.Max != nil && math.IsNaN(*q.Max)) {
		return apperrors.Malformed("numeric range on %q has a NaN bound", q.Field)
	}
	if q.Min != nil && q.Max != nil && *q.Min > *q.Max {
		return apperrors.Malformed("numeric range on %q has min %v greater than max %v", q.Field, *q.Min, *q.Max)
	}
	return checkBoost(q.Boost)
}

// DateRangeQuery matches datetime field values between Start and End. A nil
// bound is open.
type DateRangeQuery struct {
	Field          string
	Start          *time.Time
	End            *time.Time
	InclusiveStart bool
	InclusiveEnd   bool
	Boost          float64
}

// NewDateRange builds a range with the usual [start, end) bounds.
func NewDateRange(field string, start, end *time.Time) *DateRangeQuery {
	return &DateRangeQuery{Field: field, Start: start, End: end, InclusiveStart: true}
}

func (q *DateRangeQuery) Kind() Kind { return KindDateRange }

func (q *DateRangeQuery) Validate() error {
	if err := checkField(KindDateRange, q.Field); err != nil {
		return err
	}
	if q.Start == nil && q.End == nil {
		return apperrors.Malformed("date range on %q needs at least one bound", q.Field)
	}
	if q.Start != nil && q.End != nil && q.Start.After(*q.End) {
		return apperrors.Malformed("date range on %q starts after it ends", q.Field)
	}
	return checkBoost(q.Boost)
}

// BooleanQuery combines clauses. Every Must clause has to match; when there
// are no Must clauses at least MinShould (default 1) Should clauses have to
// match, otherwise Should clauses only add score. MustNot clauses exclude.
// A query with only MustNot clauses matches every other document.
type BooleanQuery struct {
	Must      []Query
	Should    []Query
	MustNot   []Query
	MinShould int
	Boost     float64
}

func (q *BooleanQuery) Kind() Kind { return KindBoolean }

func (q *BooleanQuery) Validate() error {
	if len(q.Must)+len(q.Should)+len(q.MustNot) == 0 {
		return apperrors.Malformed("boolean query has no clauses")
	}
	if q.MinShould < 0 || q.MinShould > len(q.Should) {
		return apperrors.Malformed("min_should %d out of range for %d should clauses", q.MinShould, len(q.Should))
	}
	for _, group := range [][]Query{q.Must, q.Should, q.MustNot} {
		for _, c := range group {
			if c == nil {
				return apperrors.Malformed("boolean query has a nil clause")
			}
			if err := c.Validate(); err != nil {
				return err
			}
		}
	}
	return checkBoost(q.Boost)
}

// MatchAllQuery matches every document with a constant score.
type MatchAllQuery struct {
	Boost float64
}

func (q *MatchAllQuery) Kind() Kind { return KindMatchAll }

func (q *MatchAllQuery) Validate() error { return checkBoost(q.Boost) }

// MatchNoneQuery matches nothing.
type MatchNoneQuery struct{}

func (q *MatchNoneQuery) Kind() Kind { return KindMatchNone }

func (q *MatchNoneQuery) Validate() error { return nil }
