package search

import (
	"context"
	"fmt"
)

// disjunctionCursor unions its children, summing the scores of every child
// positioned on the same document. A document matches only when at least
// min children contain it.
type disjunctionCursor struct {
	children []Cursor
	min      int
	explain  bool
	message  string
	started  bool
	cur      *DocumentMatch
	done     bool
}

func newDisjunction(children []Cursor, min int, explain bool) Cursor {
	if min < 1 {
		min = 1
	}
	switch {
	case len(children) == 0 || min > len(children):
		closeAll(children)
		return emptyCursor{}
	case len(children) == 1:
		return children[0]
	}
	return &disjunctionCursor{
		children: children,
		min:      min,
		explain:  explain,
		message:  fmt.Sprintf("sum of (at least %d of):", min),
	}
}

func (c *disjunctionCursor) Current() *DocumentMatch { return c.cur }
func (c *disjunctionCursor) Exhausted() bool          { return c.done }

func (c *disjunctionCursor) Count() uint64 {
	var n uint64
	for _, child := range c.children {
		n += child.Count()
	}
	return n
}

func (c *disjunctionCursor) Next(ctx context.Context) error {
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
	} else if err := c.advancePast(ctx, c.cur.ID); err != nil {
		return err
	}
	return c.pick(ctx)
}

func (c *disjunctionCursor) AdvanceTo(ctx context.Context, id string) error {
	if beyond(c, id) {
		return nil
	}
	c.started = true
	for _, child := range c.children {
		if err := child.AdvanceTo(ctx, id); err != nil {
			return err
		}
	}
	return c.pick(ctx)
}

// advancePast moves every child sitting on id to its next document.
func (c *disjunctionCursor) advancePast(ctx context.Context, id string) error {
	for _, child := range c.children {
		if !child.Exhausted() && child.Current().ID == id {
			if err := child.Next(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *disjunctionCursor) pick(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		min := ""
		found := false
		for _, child := range c.children {
			if child.Exhausted() {
				continue
			}
			if id := child.Current().ID; !found || id < min {
				min, found = id, true
			}
		}
		if !found {
			c.cur, c.done = nil, true
			return nil
		}
		m := &DocumentMatch{ID: min}
		var expl []*Explanation
		matched := 0
		for _, child := range c.children {
			if child.Exhausted() {
				continue
			}
			cm := child.Current()
			if cm.ID != min {
				continue
			}
			matched++
			m.add(cm)
			if c.explain && cm.Expl != nil {
				expl = append(expl, cm.Expl)
			}
		}
		if matched >= c.min {
			if c.explain {
				m.Expl = sumExplanation(m.partial(), c.message, expl)
			}
			c.cur = m
			return nil
		}
		if err := c.advancePast(ctx, min); err != nil {
			return err
		}
	}
}

func (c *disjunctionCursor) Close() error {
	return closeAll(c.children)
}
