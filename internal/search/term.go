package search

import (
	"context"

	"github.com/Adithya-Monish-Kumar-K/textsearch/internal/index"
)

// termCursor walks the postings of one term.
type termCursor struct {
	it        *index.PostingsIterator
	scorer    *termScorer
	locations bool
	cur       *DocumentMatch
	done      bool
}

func newTermCursor(snap *index.Snapshot, scorer *termScorer, locations bool) *termCursor {
	return &termCursor{
		it:        snap.TermPostings(scorer.field, scorer.term),
		scorer:    scorer,
		locations: locations,
	}
}

func (c *termCursor) Current() *DocumentMatch { return c.cur }
func (c *termCursor) Exhausted() bool          { return c.done }
func (c *termCursor) Count() uint64            { return c.scorer.df }

func (c *termCursor) Next(ctx context.Context) error {
	if c.done {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := c.it.Next()
	return c.set(p, err)
}

func (c *termCursor) AdvanceTo(ctx context.Context, id string) error {
	if beyond(c, id) {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := c.it.Advance(id)
	return c.set(p, err)
}

func (c *termCursor) set(p *index.Posting, err error) error {
	if err != nil {
		return err
	}
	if p == nil {
		c.cur, c.done = nil, true
		return nil
	}
	m := c.scorer.match(p)
	if c.locations {
		m.Locations = m.Locations.add(c.scorer.field, c.scorer.term, p.Locations)
	}
	c.cur = m
	return nil
}

func (c *termCursor) Close() error {
	return c.it.Close()
}

// matchAllCursor yields every document with a constant score.
type matchAllCursor struct {
	it      *index.DocIterator
	count   uint64
	boost   float64
	explain bool
	started bool
	cur     *DocumentMatch
	done    bool
}

func newMatchAllCursor(snap *index.Snapshot, boost float64, explain bool) *matchAllCursor {
	return &matchAllCursor{it: snap.Documents(), count: snap.DocCount(), boost: boost, explain: explain}
}

func (c *matchAllCursor) Current() *DocumentMatch { return c.cur }
func (c *matchAllCursor) Exhausted() bool          { return c.done }
func (c *matchAllCursor) Count() uint64            { return c.count }

func (c *matchAllCursor) Next(ctx context.Context) error {
	if c.done {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.started {
		c.it.Next()
	}
	c.started = true
	return c.load()
}

func (c *matchAllCursor) AdvanceTo(ctx context.Context, id string) error {
	if beyond(c, id) {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	c.started = true
	c.it.Seek(id)
	return c.load()
}

func (c *matchAllCursor) load() error {
	if !c.it.Valid() {
		c.cur, c.done = nil, true
		return c.it.Err()
	}
	m := &DocumentMatch{ID: c.it.ID(), Score: c.boost}
	if c.explain {
		m.Expl = &Explanation{Value: c.boost, Message: "match all"}
	}
	c.cur = m
	return nil
}

func (c *matchAllCursor) Close() error {
	return c.it.Close()
}
