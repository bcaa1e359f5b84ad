// Package search evaluates query trees against an index snapshot. Queries
// compile into cursors, ordered iterators over matching document IDs that
// combine by intersection, union and difference, and whose matches carry
// TF-IDF scores, optional explanations and the term locations used for
// highlighting.
package search

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/textsearch/internal/index"
)

// DocumentMatch is one document produced by a cursor. The consumer owns it
// once returned from Current.
//
// While a match travels up the cursor tree, Score holds only constant
// contributions and the term contributions of each field accumulate in
// fields without their length norm. finish folds them into the final Score.
type DocumentMatch struct {
	ID        string
	Score     float64
	Expl      *Explanation
	Locations FieldTermLocations

	fields map[string]*fieldScore
}

// fieldScore collects the term contributions of one field of one document.
// matched holds the frequency of every query term found in the field.
type fieldScore struct {
	raw     float64
	length  int
	matched map[string]int
}

// add sums o into m.
func (m *DocumentMatch) add(o *DocumentMatch) {
	m.Score += o.Score
	m.Locations = m.Locations.merge(o.Locations)
	for field, fs := range o.fields {
		if m.fields == nil {
			m.fields = make(map[string]*fieldScore, len(o.fields))
		}
		cur, ok := m.fields[field]
		if !ok {
			cur = &fieldScore{length: fs.length, matched: make(map[string]int, len(fs.matched))}
			m.fields[field] = cur
		}
		cur.raw += fs.raw
		for term, freq := range fs.matched {
			if freq > cur.matched[term] {
				cur.matched[term] = freq
			}
		}
	}
}

// scale multiplies every contribution of m by k.
func (m *DocumentMatch) scale(k float64) {
	m.Score *= k
	for _, fs := range m.fields {
		fs.raw *= k
	}
}

// partial is the score before length normalization.
func (m *DocumentMatch) partial() float64 {
	v := m.Score
	for _, fs := range m.fields {
		v += fs.raw
	}
	return v
}

// finish applies each field's norm to its term contributions. The norm is
// taken over the tokens of the field that are not query terms, so another
// occurrence of a query term never shrinks the weight of the others and a
// document's score only grows with its matches.
func (m *DocumentMatch) finish(norm index.NormFunc) {
	if len(m.fields) == 0 {
		return
	}
	raw := m.partial()
	fields := make([]string, 0, len(m.fields))
	for f := range m.fields {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	var normExpl []*Explanation
	for _, f := range fields {
		fs := m.fields[f]
		n, unmatched := 1.0, 0
		if fs.length > 0 {
			unmatched = fs.length
			for _, freq := range fs.matched {
				unmatched -= freq
			}
			if unmatched < 0 {
				unmatched = 0
			}
			n = float64(norm(unmatched))
		}
		m.Score += fs.raw * n
		if m.Expl != nil {
			normExpl = append(normExpl, &Explanation{
				Value:   n,
				Message: fmt.Sprintf("fieldNorm(%s, unmatched length=%d), weights %.6f", f, unmatched, fs.raw),
			})
		}
	}
	m.fields = nil
	if m.Expl != nil {
		m.Expl = sumExplanation(m.Score, "field-normalized score of:", append([]*Explanation{
			{Value: raw, Message: "unnormalized score", Children: []*Explanation{m.Expl}},
		}, normExpl...))
	}
}

// FieldTermLocations maps field -> term -> locations of the term.
type FieldTermLocations map[string]map[string][]index.Location

func (l FieldTermLocations) add(field, term string, locs []index.Location) FieldTermLocations {
	if len(locs) == 0 {
		return l
	}
	if l == nil {
		l = make(FieldTermLocations)
	}
	terms, ok := l[field]
	if !ok {
		terms = make(map[string][]index.Location)
		l[field] = terms
	}
	terms[term] = append(terms[term], locs...)
	return l
}

func (l FieldTermLocations) merge(other FieldTermLocations) FieldTermLocations {
	for field, terms := range other {
		for term, locs := range terms {
			l = l.add(field, term, locs)
		}
	}
	return l
}

// Explanation is a node of a score explanation tree.
type Explanation struct {
	Value    float64        `json:"value"`
	Message  string         `json:"message"`
	Children []*Explanation `json:"children,omitempty"`
}

func (e *Explanation) String() string {
	var sb strings.Builder
	e.write(&sb, 0)
	return sb.String()
}

func (e *Explanation) write(sb *strings.Builder, depth int) {
	fmt.Fprintf(sb, "%s%.6f %s\n", strings.Repeat("  ", depth), e.Value, e.Message)
	for _, c := range e.Children {
		c.write(sb, depth+1)
	}
}

// Cursor is an iterator over matching documents in ascending ID order. A new
// cursor is positioned before its first document.
type Cursor interface {
	// Current returns the match the cursor is positioned on, or nil before
	// the first Next and after exhaustion.
	Current() *DocumentMatch
	// Next advances to the following match.
	Next(ctx context.Context) error
	// AdvanceTo positions on the first match with ID >= id. It does not move
	// a cursor already positioned at or beyond id.
	AdvanceTo(ctx context.Context, id string) error
	Exhausted() bool
	// Count estimates the number of matches, for ordering intersections.
	Count() uint64
	Close() error
}

// beyond reports whether c is already positioned at or past id.
func beyond(c Cursor, id string) bool {
	if c.Exhausted() {
		return true
	}
	cur := c.Current()
	return cur != nil && cur.ID >= id
}

func closeAll(cs []Cursor) error {
	var first error
	for _, c := range cs {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// emptyCursor matches nothing.
type emptyCursor struct{}

func (emptyCursor) Current() *DocumentMatch                 { return nil }
func (emptyCursor) Next(context.Context) error              { return nil }
func (emptyCursor) AdvanceTo(context.Context, string) error { return nil }
func (emptyCursor) Exhausted() bool                         { return true }
func (emptyCursor) Count() uint64                           { return 0 }
func (emptyCursor) Close() error                            { return nil }
