package search

import (
	"context"
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/Adithya-Monish-Kumar-K/textsearch/internal/index"
)

// phraseTerm is one term of a phrase with its position relative to the
// first term.
type phraseTerm struct {
	term   string
	offset int
}

// phraseCursor runs a conjunction of its terms and keeps only documents in
// which the terms occur at the expected relative positions. Candidate start
// positions of each term (position minus offset) are collected in bitmaps
// and intersected; the phrase frequency is the size of the intersection.
type phraseCursor struct {
	conj      Cursor
	field     string
	terms     []phraseTerm
	boost     float64
	explain   bool
	locations bool
	cur       *DocumentMatch
	done      bool
}

func (c *phraseCursor) Current() *DocumentMatch { return c.cur }
func (c *phraseCursor) Exhausted() bool          { return c.done }
func (c *phraseCursor) Count() uint64            { return c.conj.Count() }

func (c *phraseCursor) Next(ctx context.Context) error {
	if c.done {
		return nil
	}
	if err := c.conj.Next(ctx); err != nil {
		return err
	}
	return c.settle(ctx)
}

func (c *phraseCursor) AdvanceTo(ctx context.Context, id string) error {
	if beyond(c, id) {
		return nil
	}
	if err := c.conj.AdvanceTo(ctx, id); err != nil {
		return err
	}
	return c.settle(ctx)
}

func (c *phraseCursor) settle(ctx context.Context) error {
	for !c.conj.Exhausted() {
		doc := c.conj.Current()
		if m := c.check(doc); m != nil {
			c.cur = m
			return nil
		}
		if err := c.conj.Next(ctx); err != nil {
			return err
		}
	}
	c.cur, c.done = nil, true
	return nil
}

// check returns the phrase match for doc, or nil when the terms never line
// up.
func (c *phraseCursor) check(doc *DocumentMatch) *DocumentMatch {
	terms := doc.Locations[c.field]
	var starts *roaring.Bitmap
	for _, pt := range c.terms {
		bm := roaring.New()
		for _, l := range terms[pt.term] {
			if s := l.Pos - pt.offset; s >= 0 {
				bm.Add(uint32(s))
			}
		}
		if starts == nil {
			starts = bm
		} else {
			starts.And(bm)
		}
		if starts.IsEmpty() {
			return nil
		}
	}
	freq := int(starts.GetCardinality())
	m := &DocumentMatch{ID: doc.ID}
	m.add(&DocumentMatch{Score: doc.Score, fields: doc.fields})
	m.scale(TF(freq) * c.boost)
	if c.explain {
		m.Expl = sumExplanation(m.partial(), fmt.Sprintf("phrase(%s), freq=%d, product of:", c.field, freq), []*Explanation{
			doc.Expl,
			{Value: TF(freq), Message: "phrase tf"},
			{Value: c.boost, Message: "boost"},
		})
	}
	if c.locations {
		for _, pt := range c.terms {
			var kept []index.Location
			for _, l := range terms[pt.term] {
				if s := l.Pos - pt.offset; s >= 0 && starts.Contains(uint32(s)) {
					kept = append(kept, l)
				}
			}
			m.Locations = m.Locations.add(c.field, pt.term, kept)
		}
	}
	return m
}

func (c *phraseCursor) Close() error {
	return c.conj.Close()
}
