package search

import (
	"context"
	"sort"
)

// conjunctionCursor intersects its children by leapfrogging: every child is
// advanced to the largest current ID until all agree.
type conjunctionCursor struct {
	children []Cursor
	explain  bool
	started  bool
	cur      *DocumentMatch
	done     bool
}

func newConjunction(children []Cursor, explain bool) Cursor {
	switch len(children) {
	case 0:
		return emptyCursor{}
	case 1:
		return children[0]
	}
	// cheapest child leads
	sort.SliceStable(children, func(i, j int) bool {
		return children[i].Count() < children[j].Count()
	})
	return &conjunctionCursor{children: children, explain: explain}
}

func (c *conjunctionCursor) Current() *DocumentMatch { return c.cur }
func (c *conjunctionCursor) Exhausted() bool          { return c.done }
func (c *conjunctionCursor) Count() uint64            { return c.children[0].Count() }

func (c *conjunctionCursor) Next(ctx context.Context) error {
	if c.done {
		return nil
	}
	if !c.started {
		c.started = true
		for _, child := range c.children {
			if err := child.Next(ctx); err != nil {
				return err
			}
		}
	} else if err := c.children[0].Next(ctx); err != nil {
		return err
	}
	return c.align(ctx)
}

func (c *conjunctionCursor) AdvanceTo(ctx context.Context, id string) error {
	if beyond(c, id) {
		return nil
	}
	c.started = true
	for _, child := range c.children {
		if err := child.AdvanceTo(ctx, id); err != nil {
			return err
		}
	}
	return c.align(ctx)
}

func (c *conjunctionCursor) align(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		max := ""
		for _, child := range c.children {
			if child.Exhausted() {
				c.cur, c.done = nil, true
				return nil
			}
			if id := child.Current().ID; id > max {
				max = id
			}
		}
		agreed := true
		for _, child := range c.children {
			if child.Current().ID < max {
				agreed = false
				if err := child.AdvanceTo(ctx, max); err != nil {
					return err
				}
			}
		}
		if agreed {
			c.cur = c.combine(max)
			return nil
		}
	}
}

func (c *conjunctionCursor) combine(id string) *DocumentMatch {
	m := &DocumentMatch{ID: id}
	var expl []*Explanation
	for _, child := range c.children {
		cm := child.Current()
		m.add(cm)
		if c.explain && cm.Expl != nil {
			expl = append(expl, cm.Expl)
		}
	}
	if c.explain {
		m.Expl = sumExplanation(m.partial(), "sum of (all of):", expl)
	}
	return m
}

func (c *conjunctionCursor) Close() error {
	return closeAll(c.children)
}
