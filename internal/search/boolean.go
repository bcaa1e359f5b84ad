package search

import (
	"context"
)

// booleanCursor filters a required cursor through an exclusion cursor and
// adds the scores of optional clauses that happen to match.
type booleanCursor struct {
	base     Cursor
	optional Cursor
	exclude  Cursor
	boost    float64
	explain  bool
	cur      *DocumentMatch
	done     bool
}

func (c *booleanCursor) Current() *DocumentMatch { return c.cur }
func (c *booleanCursor) Exhausted() bool          { return c.done }
func (c *booleanCursor) Count() uint64            { return c.base.Count() }

func (c *booleanCursor) Next(ctx context.Context) error {
	if c.done {
		return nil
	}
	if err := c.base.Next(ctx); err != nil {
		return err
	}
	return c.settle(ctx)
}

func (c *booleanCursor) AdvanceTo(ctx context.Context, id string) error {
	if beyond(c, id) {
		return nil
	}
	if err := c.base.AdvanceTo(ctx, id); err != nil {
		return err
	}
	return c.settle(ctx)
}

// settle skips excluded documents and scores the first remaining one.
func (c *booleanCursor) settle(ctx context.Context) error {
	for !c.base.Exhausted() {
		doc := c.base.Current()
		if c.exclude != nil {
			if err := c.exclude.AdvanceTo(ctx, doc.ID); err != nil {
				return err
			}
			if ex := c.exclude.Current(); ex != nil && ex.ID == doc.ID {
				if err := c.base.Next(ctx); err != nil {
					return err
				}
				continue
			}
		}
		m := &DocumentMatch{ID: doc.ID}
		m.add(doc)
		var expl []*Explanation
		if c.explain && doc.Expl != nil {
			expl = append(expl, doc.Expl)
		}
		if c.optional != nil {
			if err := c.optional.AdvanceTo(ctx, doc.ID); err != nil {
				return err
			}
			if opt := c.optional.Current(); opt != nil && opt.ID == doc.ID {
				m.add(opt)
				if c.explain && opt.Expl != nil {
					expl = append(expl, opt.Expl)
				}
			}
		}
		m.scale(c.boost)
		if c.explain {
			m.Expl = sumExplanation(m.partial(), "boolean, sum of:", expl)
			if c.boost != 1 {
				m.Expl.Children = append(m.Expl.Children, &Explanation{Value: c.boost, Message: "boost"})
			}
		}
		c.cur = m
		return nil
	}
	c.cur, c.done = nil, true
	return nil
}

func (c *booleanCursor) Close() error {
	cs := []Cursor{c.base}
	if c.optional != nil {
		cs = append(cs, c.optional)
	}
	if c.exclude != nil {
		cs = append(cs, c.exclude)
	}
	return closeAll(cs)
}
