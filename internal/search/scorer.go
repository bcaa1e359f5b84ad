package search

import (
	"fmt"
	"math"

	"github.com/Adithya-Monish-Kumar-K/textsearch/internal/index"
)

// IDF is 1 + ln(N / (1 + df)). It stays positive for every df <= N, so
// every matching term adds weight.
func IDF(docCount, docFreq uint64) float64 {
	if docCount == 0 {
		return 1
	}
	return 1 + math.Log(float64(docCount)/float64(1+docFreq))
}

// TF dampens raw term frequency.
func TF(freq int) float64 {
	return math.Sqrt(float64(freq))
}

// termScorer scores postings of one term.
type termScorer struct {
	field   string
	term    string
	idf     float64
	df      uint64
	boost   float64
	weight  float64 // fuzzy similarity, 1 for exact terms
	fixed   bool    // constant score: boost
	explain bool
}

func newTermScorer(field, term string, df, docCount uint64, boost, weight float64, explain bool) *termScorer {
	return &termScorer{
		field:   field,
		term:    term,
		idf:     IDF(docCount, df),
		df:      df,
		boost:   boost,
		weight:  weight,
		explain: explain,
	}
}

// match scores one posting. Constant scorers contribute their boost
// directly; the others contribute tf * idf * boost * weight to the field,
// and the length norm is applied once the whole document is known.
func (s *termScorer) match(p *index.Posting) *DocumentMatch {
	m := &DocumentMatch{ID: p.DocID}
	if s.fixed {
		m.Score = s.boost
		if s.explain {
			m.Expl = &Explanation{Value: s.boost, Message: fmt.Sprintf("constant score %s:%q", s.field, s.term)}
		}
		return m
	}
	tf := TF(p.Freq)
	v := tf * s.idf * s.boost * s.weight
	m.fields = map[string]*fieldScore{
		s.field: {raw: v, length: p.Length, matched: map[string]int{s.term: p.Freq}},
	}
	if !s.explain {
		return m
	}
	m.Expl = &Explanation{
		Value:   v,
		Message: fmt.Sprintf("weight(%s:%q in %s), product of:", s.field, s.term, p.DocID),
		Children: []*Explanation{
			{Value: tf, Message: fmt.Sprintf("tf(freq=%d)", p.Freq)},
			{Value: s.idf, Message: fmt.Sprintf("idf(docFreq=%d)", s.df)},
		},
	}
	if s.boost != 1 {
		m.Expl.Children = append(m.Expl.Children, &Explanation{Value: s.boost, Message: "boost"})
	}
	if s.weight != 1 {
		m.Expl.Children = append(m.Expl.Children, &Explanation{Value: s.weight, Message: "fuzzy similarity"})
	}
	return m
}

// sumExplanation wraps child explanations of a composite score.
func sumExplanation(value float64, message string, children []*Explanation) *Explanation {
	return &Explanation{Value: value, Message: message, Children: children}
}

// FuzzyWeight is the similarity multiplier for a term at edit distance d
// from a query with maximum distance n.
func FuzzyWeight(d, n int) float64 {
	return 1 - float64(d)/float64(n+1)
}
