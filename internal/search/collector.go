package search

import (
	"container/heap"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/textsearch/internal/document"
	"github.com/Adithya-Monish-Kumar-K/textsearch/internal/index"
	apperrors "github.com/Adithya-Monish-Kumar-K/textsearch/pkg/errors"
)

// Sort keys accepted in Request.SortBy besides field names.
const (
	SortScore = "_score"
	SortID    = "_id"
)

// sortKey orders hits by one criterion. Field keys compare the smallest term
// of the field ascending, or the largest descending; documents without the
// field sort after those with it in either direction.
type sortKey struct {
	field string
	desc  bool
}

func parseSort(fields []string) ([]sortKey, error) {
	if len(fields) == 0 {
		return []sortKey{{field: SortScore, desc: true}}, nil
	}
	keys := make([]sortKey, 0, len(fields))
	for _, s := range fields {
		k := sortKey{field: s}
		if strings.HasPrefix(s, "-") {
			k.field, k.desc = s[1:], true
		}
		if k.field == "" {
			return nil, apperrors.Malformed("empty sort key")
		}
		if k.field == SortScore {
			// _score sorts best first; -_score reverses it.
			k.desc = !k.desc
		}
		keys = append(keys, k)
	}
	return keys, nil
}

func needsDocTerms(keys []sortKey) bool {
	for _, k := range keys {
		if k.field != SortScore && k.field != SortID {
			return true
		}
	}
	return false
}

// candidate is a match held by the collector with its field sort values.
type candidate struct {
	match *DocumentMatch
	terms []string
	kinds []document.Kind
}

func sortTerms(keys []sortKey, dt *index.DocTerms) ([]string, []document.Kind) {
	terms := make([]string, len(keys))
	kinds := make([]document.Kind, len(keys))
	for i, k := range keys {
		if k.field == SortScore || k.field == SortID || dt == nil {
			continue
		}
		f := dt.Field(k.field)
		if f == nil || len(f.Terms) == 0 {
			continue
		}
		kinds[i] = f.Kind
		if k.desc {
			terms[i] = f.Terms[len(f.Terms)-1]
		} else {
			terms[i] = f.Terms[0]
		}
	}
	return terms, kinds
}

// better reports whether a ranks strictly before b. ID ascending breaks ties.
func better(keys []sortKey, a, b *candidate) bool {
	for i, k := range keys {
		var c int
		switch k.field {
		case SortScore:
			switch {
			case a.match.Score < b.match.Score:
				c = -1
			case a.match.Score > b.match.Score:
				c = 1
			}
		case SortID:
			c = strings.Compare(a.match.ID, b.match.ID)
		default:
			at, bt := a.terms[i], b.terms[i]
			switch {
			case at == "" && bt == "":
			case at == "":
				return false
			case bt == "":
				return true
			default:
				c = strings.Compare(at, bt)
			}
		}
		if c != 0 {
			if k.desc {
				return c > 0
			}
			return c < 0
		}
	}
	return a.match.ID < b.match.ID
}

// collector keeps the best limit candidates in a heap whose root is the
// worst kept candidate.
type collector struct {
	keys  []sortKey
	limit int
	h     candidateHeap
}

func newCollector(keys []sortKey, limit int) *collector {
	return &collector{keys: keys, limit: limit, h: candidateHeap{keys: keys}}
}

// offer considers c and reports whether it was kept.
func (col *collector) offer(c *candidate) bool {
	if col.limit <= 0 {
		return false
	}
	if col.h.Len() < col.limit {
		heap.Push(&col.h, c)
		return true
	}
	if !better(col.keys, c, col.h.items[0]) {
		return false
	}
	col.h.items[0] = c
	heap.Fix(&col.h, 0)
	return true
}

// results drains the heap best first.
func (col *collector) results() []*candidate {
	out := make([]*candidate, col.h.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(&col.h).(*candidate)
	}
	return out
}

type candidateHeap struct {
	keys  []sortKey
	items []*candidate
}

func (h candidateHeap) Len() int { return len(h.items) }

func (h candidateHeap) Less(i, j int) bool {
	return better(h.keys, h.items[j], h.items[i])
}

func (h candidateHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }

func (h *candidateHeap) Push(x any) {
	h.items = append(h.items, x.(*candidate))
}

func (h *candidateHeap) Pop() any {
	old := h.items
	n := len(old)
	item := old[n-1]
	h.items = old[:n-1]
	return item
}

// sortValue renders a field sort term for display.
func sortValue(term string, kind document.Kind) any {
	if term == "" {
		return nil
	}
	switch kind {
	case document.Numeric:
		if f, err := index.DecodeNumericTerm(term); err == nil {
			return f
		}
	case document.DateTime:
		if t, err := index.DecodeDateTerm(term); err == nil {
			return t
		}
	}
	return term
}
