package search

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/textsearch/internal/analysis"
	"github.com/Adithya-Monish-Kumar-K/textsearch/internal/index"
	"github.com/Adithya-Monish-Kumar-K/textsearch/internal/query"
	apperrors "github.com/Adithya-Monish-Kumar-K/textsearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/textsearch/pkg/tracing"
)

func errTooManyTerms(field string, limit int) error {
	return apperrors.Malformed("query on %q expands to more than %d terms", field, limit)
}

// builder constructs a cursor once every leaf expansion has finished.
type builder func() (Cursor, error)

// compiler turns a query tree into a cursor tree in two phases. Walking the
// tree registers one job per leaf that needs the dictionary (doc
// frequencies, fuzzy/prefix/range expansion); jobs then run concurrently,
// and finally the builders assemble cursors from their results.
type compiler struct {
	snap         *index.Snapshot
	explain      bool
	locations    bool
	maxExpansion int

	jobs []func(ctx context.Context) error
}

func (c *compiler) job(fn func(ctx context.Context) error) {
	c.jobs = append(c.jobs, fn)
}

// compile validates q, expands its leaves with at most parallelism
// concurrent dictionary readers and returns the root cursor.
func compile(ctx context.Context, snap *index.Snapshot, q query.Query, opts compileOptions) (Cursor, error) {
	if q == nil {
		return nil, apperrors.Malformed("missing query")
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}
	ctx, span := tracing.StartChildSpan(ctx, "search.compile")
	defer span.End()

	c := &compiler{
		snap:         snap,
		explain:      opts.explain,
		locations:    opts.locations,
		maxExpansion: opts.maxExpansion,
	}
	build, err := c.plan(q)
	if err != nil {
		return nil, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.parallelism)
	for _, j := range c.jobs {
		g.Go(func() error { return j(gctx) })
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	span.SetAttr("leaf_jobs", len(c.jobs))
	return build()
}

type compileOptions struct {
	explain      bool
	locations    bool
	parallelism  int
	maxExpansion int
}

func (c *compiler) plan(q query.Query) (builder, error) {
	boost := query.Boost(q)
	switch n := q.(type) {
	case *query.TermQuery:
		return c.termLeaf(n.Field, n.Term, boost, c.locations), nil

	case *query.PhraseQuery:
		terms := make([]phraseTerm, len(n.Terms))
		for i, t := range n.Terms {
			terms[i] = phraseTerm{term: t, offset: i}
		}
		return c.phrase(n.Field, terms, boost), nil

	case *query.MatchQuery:
		tokens, err := c.analyze(n.Field, n.Analyzer, n.Text)
		if err != nil {
			return nil, err
		}
		terms := uniqueTerms(tokens)
		leaves := make([]builder, 0, len(terms))
		for _, t := range terms {
			if n.Fuzziness > 0 {
				leaves = append(leaves, c.fuzzy(n.Field, t, n.Fuzziness, 0, boost))
			} else {
				leaves = append(leaves, c.termLeaf(n.Field, t, boost, c.locations))
			}
		}
		if n.Operator == query.OperatorAnd {
			return c.all(leaves), nil
		}
		return c.any(leaves, 1), nil

	case *query.MatchPhraseQuery:
		tokens, err := c.analyze(n.Field, n.Analyzer, n.Text)
		if err != nil {
			return nil, err
		}
		if len(tokens) == 0 {
			return none, nil
		}
		if len(tokens) == 1 {
			return c.termLeaf(n.Field, tokens[0].Term, boost, c.locations), nil
		}
		terms := make([]phraseTerm, len(tokens))
		for i, tok := range tokens {
			terms[i] = phraseTerm{term: tok.Term, offset: tok.Position - tokens[0].Position}
		}
		return c.phrase(n.Field, terms, boost), nil

	case *query.FuzzyQuery:
		return c.fuzzy(n.Field, n.Term, n.Fuzziness, n.PrefixLength, boost), nil

	case *query.PrefixQuery:
		return c.expand(n.Field, boost, false, func(ctx context.Context) ([]expanded, error) {
			it := c.snap.PrefixTerms(n.Field, n.Prefix)
			return c.collectTerms(ctx, n.Field, it, nil)
		}), nil

	case *query.NumericRangeQuery:
		lo, hi := "", ""
		if n.Min != nil {
			lo = exclusiveStart(index.NumericTerm(*n.Min), n.InclusiveMin)
		}
		if n.Max != nil {
			hi = inclusiveEnd(index.NumericTerm(*n.Max), n.InclusiveMax)
		}
		return c.termRange(n.Field, lo, hi, boost), nil

	case *query.DateRangeQuery:
		lo, hi := "", ""
		if n.Start != nil {
			lo = exclusiveStart(index.DateTerm(*n.Start), n.InclusiveStart)
		}
		if n.End != nil {
			hi = inclusiveEnd(index.DateTerm(*n.End), n.InclusiveEnd)
		}
		return c.termRange(n.Field, lo, hi, boost), nil

	case *query.BooleanQuery:
		return c.boolean(n, boost)

	case *query.MatchAllQuery:
		return func() (Cursor, error) {
			return newMatchAllCursor(c.snap, boost, c.explain), nil
		}, nil

	case *query.MatchNoneQuery:
		return none, nil
	}
	return nil, apperrors.Malformed("unsupported query kind %q", q.Kind())
}

func none() (Cursor, error) {
	return emptyCursor{}, nil
}

// exclusiveStart returns the smallest dictionary key at or after a lower
// bound: the term itself, or the first key after it.
func exclusiveStart(term string, inclusive bool) string {
	if inclusive {
		return term
	}
	return term + "\x00"
}

// inclusiveEnd returns the exclusive dictionary end for an upper bound.
func inclusiveEnd(term string, inclusive bool) string {
	if inclusive {
		return term + "\x00"
	}
	return term
}

func (c *compiler) analyze(field, analyzer, text string) ([]analysis.Token, error) {
	idx := c.snap.Index()
	var (
		a   analysis.Analyzer
		err error
	)
	if analyzer != "" {
		a, err = idx.Analyzers().Get(analyzer)
	} else {
		a, err = idx.AnalyzerFor(field)
	}
	if err != nil {
		return nil, apperrors.Malformed("%v", err)
	}
	tokens, err := a.Analyze(text)
	if err != nil {
		return nil, apperrors.Malformed("analyzing query text for %q: %v", field, err)
	}
	return tokens, nil
}

func uniqueTerms(tokens []analysis.Token) []string {
	seen := make(map[string]struct{}, len(tokens))
	var out []string
	for _, t := range tokens {
		if _, ok := seen[t.Term]; ok {
			continue
		}
		seen[t.Term] = struct{}{}
		out = append(out, t.Term)
	}
	return out
}

// termLeaf registers a doc-frequency lookup and builds a term cursor.
func (c *compiler) termLeaf(field, term string, boost float64, locations bool) builder {
	var df uint64
	c.job(func(ctx context.Context) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := c.snap.DocFreq(field, term)
		df = n
		return err
	})
	return func() (Cursor, error) {
		if df == 0 {
			return emptyCursor{}, nil
		}
		s := newTermScorer(field, term, df, c.snap.DocCount(), boost, 1, c.explain)
		return newTermCursor(c.snap, s, locations), nil
	}
}

func (c *compiler) phrase(field string, terms []phraseTerm, boost float64) builder {
	seen := make(map[string]bool)
	var leaves []builder
	for _, pt := range terms {
		if seen[pt.term] {
			continue
		}
		seen[pt.term] = true
		leaves = append(leaves, c.termLeaf(field, pt.term, 1, true))
	}
	conj := c.all(leaves)
	return func() (Cursor, error) {
		cur, err := conj()
		if err != nil {
			return nil, err
		}
		if _, empty := cur.(emptyCursor); empty {
			return cur, nil
		}
		return &phraseCursor{
			conj:      cur,
			field:     field,
			terms:     terms,
			boost:     boost,
			explain:   c.explain,
			locations: c.locations,
		}, nil
	}
}

// expanded is one dictionary term selected by a multi-term query.
type expanded struct {
	term    string
	docFreq uint64
	weight  float64
}

// expand registers a dictionary enumeration and builds a disjunction over
// the terms it returns.
func (c *compiler) expand(field string, boost float64, fixed bool, enumerate func(ctx context.Context) ([]expanded, error)) builder {
	var terms []expanded
	c.job(func(ctx context.Context) error {
		var err error
		terms, err = enumerate(ctx)
		return err
	})
	return func() (Cursor, error) {
		docs := c.snap.DocCount()
		children := make([]Cursor, 0, len(terms))
		for _, t := range terms {
			s := newTermScorer(field, t.term, t.docFreq, docs, boost, t.weight, c.explain)
			s.fixed = fixed
			children = append(children, newTermCursor(c.snap, s, c.locations))
		}
		return newDisjunction(children, 1, c.explain), nil
	}
}

func (c *compiler) collectTerms(ctx context.Context, field string, it *index.TermIterator, keep func(string) bool) ([]expanded, error) {
	defer it.Close()
	var out []expanded
	for n := 0; it.Valid(); it.Next() {
		if n++; n%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		term := it.Term()
		if keep != nil && !keep(term) {
			continue
		}
		out = append(out, expanded{term: term, docFreq: it.DocFreq(), weight: 1})
		if c.maxExpansion > 0 && len(out) > c.maxExpansion {
			return nil, errTooManyTerms(field, c.maxExpansion)
		}
	}
	return out, it.Err()
}

func (c *compiler) termRange(field, lo, hi string, boost float64) builder {
	return c.expand(field, boost, true, func(ctx context.Context) ([]expanded, error) {
		it := c.snap.Terms(field, lo, hi)
		return c.collectTerms(ctx, field, it, func(term string) bool {
			_, err := index.DecodeSortable(term)
			return err == nil
		})
	})
}

func (c *compiler) fuzzy(field, term string, fuzziness, prefixLen int, boost float64) builder {
	return c.expand(field, boost, false, func(ctx context.Context) ([]expanded, error) {
		matches, err := fuzzyTerms(ctx, c.snap, field, term, fuzziness, prefixLen, c.maxExpansion)
		if err != nil {
			return nil, err
		}
		out := make([]expanded, len(matches))
		for i, m := range matches {
			out[i] = expanded{term: m.term, docFreq: m.docFreq, weight: FuzzyWeight(m.distance, fuzziness)}
		}
		return out, nil
	})
}

func (c *compiler) all(leaves []builder) builder {
	return func() (Cursor, error) {
		cs, err := buildAll(leaves)
		if err != nil {
			return nil, err
		}
		for _, cur := range cs {
			if _, empty := cur.(emptyCursor); empty {
				closeAll(cs)
				return emptyCursor{}, nil
			}
		}
		return newConjunction(cs, c.explain), nil
	}
}

func (c *compiler) any(leaves []builder, min int) builder {
	return func() (Cursor, error) {
		cs, err := buildAll(leaves)
		if err != nil {
			return nil, err
		}
		live := cs[:0]
		for _, cur := range cs {
			if _, empty := cur.(emptyCursor); !empty {
				live = append(live, cur)
			}
		}
		return newDisjunction(live, min, c.explain), nil
	}
}

func buildAll(leaves []builder) ([]Cursor, error) {
	out := make([]Cursor, 0, len(leaves))
	for _, b := range leaves {
		cur, err := b()
		if err != nil {
			closeAll(out)
			return nil, err
		}
		out = append(out, cur)
	}
	return out, nil
}

func (c *compiler) plans(qs []query.Query) ([]builder, error) {
	out := make([]builder, 0, len(qs))
	for _, q := range qs {
		b, err := c.plan(q)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

// boolean wires clause groups: MUST clauses intersect; SHOULD clauses form
// the required set when there is no MUST (at least max(1, MinShould) of
// them), and otherwise add score, becoming required only when MinShould is
// set; MUST_NOT clauses exclude. With only MUST_NOT clauses every other
// document matches.
func (c *compiler) boolean(q *query.BooleanQuery, boost float64) (builder, error) {
	must, err := c.plans(q.Must)
	if err != nil {
		return nil, err
	}
	should, err := c.plans(q.Should)
	if err != nil {
		return nil, err
	}
	mustNot, err := c.plans(q.MustNot)
	if err != nil {
		return nil, err
	}

	return func() (Cursor, error) {
		bc := &booleanCursor{boost: boost, explain: c.explain}
		switch {
		case len(must) > 0 && q.MinShould > 0:
			base, err := c.all(append(append([]builder{}, must...), c.any(should, q.MinShould)))()
			if err != nil {
				return nil, err
			}
			bc.base = base
		case len(must) > 0:
			base, err := c.all(must)()
			if err != nil {
				return nil, err
			}
			bc.base = base
			if len(should) > 0 {
				opt, err := c.any(should, 1)()
				if err != nil {
					base.Close()
					return nil, err
				}
				bc.optional = opt
			}
		case len(should) > 0:
			base, err := c.any(should, max(1, q.MinShould))()
			if err != nil {
				return nil, err
			}
			bc.base = base
		default:
			bc.base = newMatchAllCursor(c.snap, 1, c.explain)
		}
		if len(mustNot) > 0 {
			ex, err := c.any(mustNot, 1)()
			if err != nil {
				bc.Close()
				return nil, err
			}
			if _, empty := ex.(emptyCursor); !empty {
				bc.exclude = ex
			}
		}
		return bc, nil
	}, nil
}
