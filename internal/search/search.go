package search

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/Adithya-Monish-Kumar-K/textsearch/internal/index"
	"github.com/Adithya-Monish-Kumar-K/textsearch/internal/query"
	"github.com/Adithya-Monish-Kumar-K/textsearch/internal/search/facet"
	"github.com/Adithya-Monish-Kumar-K/textsearch/internal/search/highlight"
	apperrors "github.com/Adithya-Monish-Kumar-K/textsearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/textsearch/pkg/tracing"
)

const (
	DefaultSize         = 10
	DefaultMaxSize      = 1000
	DefaultParallelism  = 8
	DefaultMaxExpansion = 1024
)

// Options configures a Searcher. Zero values take the defaults above and
// the highlight package defaults.
type Options struct {
	Parallelism  int
	MaxExpansion int
	DefaultSize  int
	MaxSize      int
	FragmentSize int
	MaxFragments int
	Logger       *slog.Logger
}

// HighlightRequest asks for marked fragments of stored text fields. An empty
// Fields list highlights every field that matched with locations.
type HighlightRequest struct {
	Style        string   `json:"style,omitempty"`
	Fields       []string `json:"fields,omitempty"`
	FragmentSize int      `json:"fragment_size,omitempty"`
	MaxFragments int      `json:"max_fragments,omitempty"`
}

// Request is one search. Size 0 means the default size. Fields lists the
// stored fields returned with each hit; "*" returns all of them.
type Request struct {
	Query     query.Query              `json:"query"`
	Size      int                      `json:"size"`
	From      int                      `json:"from"`
	Fields    []string                 `json:"fields,omitempty"`
	Highlight *HighlightRequest        `json:"highlight,omitempty"`
	Facets    map[string]facet.Request `json:"facets,omitempty"`
	SortBy    []string                 `json:"sort,omitempty"`
	Explain   bool                     `json:"explain,omitempty"`
}

// Fragment is one highlighted window of a stored value. Text is rendered
// in the requested style. Spans are the match offsets within the unmarked
// window, which is Text itself under the plain style; Start and End place
// the window in the value at ArrayPos.
type Fragment struct {
	Text     string           `json:"text"`
	Spans    []highlight.Span `json:"spans"`
	Start    int              `json:"start"`
	End      int              `json:"end"`
	ArrayPos int              `json:"array_pos"`
}

// Hit is one ranked document.
type Hit struct {
	ID          string                `json:"id"`
	Score       float64               `json:"score"`
	Fields      map[string][]any      `json:"fields,omitempty"`
	Fragments   map[string][]Fragment `json:"fragments,omitempty"`
	Explanation *Explanation          `json:"explanation,omitempty"`
	Sort        []any                 `json:"sort,omitempty"`
}

// Result is the answer to a Request. Total counts every matching document,
// not only the returned page.
type Result struct {
	Total      uint64                   `json:"total"`
	MaxScore   float64                  `json:"max_score"`
	Hits       []Hit                    `json:"hits"`
	Facets     map[string]*facet.Result `json:"facets,omitempty"`
	Took       time.Duration            `json:"took"`
	Generation uint64                   `json:"generation"`
}

// Searcher runs requests against snapshots. It holds no index state and is
// safe for concurrent use.
type Searcher struct {
	opts   Options
	logger *slog.Logger
}

func New(opts Options) *Searcher {
	if opts.Parallelism <= 0 {
		opts.Parallelism = DefaultParallelism
	}
	if opts.MaxExpansion <= 0 {
		opts.MaxExpansion = DefaultMaxExpansion
	}
	if opts.DefaultSize <= 0 {
		opts.DefaultSize = DefaultSize
	}
	if opts.MaxSize <= 0 {
		opts.MaxSize = DefaultMaxSize
	}
	if opts.FragmentSize <= 0 {
		opts.FragmentSize = highlight.DefaultFragmentSize
	}
	if opts.MaxFragments <= 0 {
		opts.MaxFragments = highlight.DefaultMaxFragments
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Searcher{opts: opts, logger: logger.With("component", "searcher")}
}

// Search evaluates req against snap. Every match is visited once: it is
// counted, fed to the facet builders and offered to the top-K collector.
// A cancelled context or failed read aborts the search with an error; no
// partial result is returned.
func (s *Searcher) Search(ctx context.Context, snap *index.Snapshot, req *Request) (*Result, error) {
	start := time.Now()
	size := req.Size
	if size == 0 {
		size = s.opts.DefaultSize
	}
	if size < 0 || req.From < 0 {
		return nil, apperrors.Malformed("size and from must not be negative")
	}
	if req.From > s.opts.MaxSize || size > s.opts.MaxSize-req.From {
		return nil, apperrors.Malformed("from + size must not exceed %d", s.opts.MaxSize)
	}
	keys, err := parseSort(req.SortBy)
	if err != nil {
		return nil, err
	}
	builders := make(map[string]facet.Builder, len(req.Facets))
	for name, fr := range req.Facets {
		b, err := facet.NewBuilder(fr)
		if err != nil {
			return nil, err
		}
		builders[name] = b
	}
	var formatter highlight.Formatter
	if req.Highlight != nil {
		if formatter, err = highlight.FormatterFor(req.Highlight.Style); err != nil {
			return nil, err
		}
	}

	root, err := compile(ctx, snap, req.Query, compileOptions{
		explain:      req.Explain,
		locations:    req.Highlight != nil,
		parallelism:  s.opts.Parallelism,
		maxExpansion: s.opts.MaxExpansion,
	})
	if err != nil {
		return nil, err
	}
	defer root.Close()

	res := &Result{Generation: snap.Generation()}
	col := newCollector(keys, req.From+size)
	withTerms := len(builders) > 0 || needsDocTerms(keys)
	norm := snap.Index().Norm

	cctx, span := tracing.StartChildSpan(ctx, "search.collect")
	err = root.Next(cctx)
	for err == nil && !root.Exhausted() {
		m := root.Current()
		m.finish(norm)
		res.Total++
		if res.Total == 1 || m.Score > res.MaxScore {
			res.MaxScore = m.Score
		}
		c := &candidate{match: m}
		if withTerms {
			dt, derr := snap.DocumentTerms(m.ID)
			if derr != nil {
				err = fmt.Errorf("reading terms of %q: %w", m.ID, derr)
				break
			}
			if dt != nil {
				for _, b := range builders {
					b.Update(dt)
				}
			}
			c.terms, c.kinds = sortTerms(keys, dt)
		}
		col.offer(c)
		err = root.Next(cctx)
	}
	if err == nil {
		err = ctx.Err()
	}
	span.SetAttr("total", res.Total)
	span.End()
	if err != nil {
		return nil, fmt.Errorf("collecting matches: %w", err)
	}

	if len(builders) > 0 {
		res.Facets = make(map[string]*facet.Result, len(builders))
		for name, b := range builders {
			res.Facets[name] = b.Result()
		}
	}

	ranked := col.results()
	if req.From < len(ranked) {
		ranked = ranked[req.From:]
	} else {
		ranked = nil
	}
	res.Hits = make([]Hit, 0, len(ranked))
	_, hspan := tracing.StartChildSpan(ctx, "search.hits")
	for _, c := range ranked {
		hit, err := s.hit(snap, req, keys, c, formatter)
		if err != nil {
			hspan.End()
			return nil, err
		}
		res.Hits = append(res.Hits, hit)
	}
	hspan.SetAttr("hits", len(res.Hits))
	hspan.End()

	res.Took = time.Since(start)
	s.logger.Debug("search complete",
		"generation", res.Generation,
		"total", res.Total,
		"hits", len(res.Hits),
		"took_ms", res.Took.Milliseconds(),
	)
	return res, nil
}

func (s *Searcher) hit(snap *index.Snapshot, req *Request, keys []sortKey, c *candidate, formatter highlight.Formatter) (Hit, error) {
	h := Hit{ID: c.match.ID, Score: c.match.Score, Explanation: c.match.Expl}
	if len(req.SortBy) > 0 {
		h.Sort = make([]any, len(keys))
		for i, k := range keys {
			switch k.field {
			case SortScore:
				h.Sort[i] = c.match.Score
			case SortID:
				h.Sort[i] = c.match.ID
			default:
				h.Sort[i] = sortValue(c.terms[i], c.kinds[i])
			}
		}
	}
	if len(req.Fields) > 0 {
		var fields []string
		if !(len(req.Fields) == 1 && req.Fields[0] == "*") {
			fields = req.Fields
		}
		stored, err := snap.StoredFields(c.match.ID, fields)
		if err != nil {
			return h, fmt.Errorf("loading stored fields of %q: %w", c.match.ID, err)
		}
		if len(stored) > 0 {
			h.Fields = stored
		}
	}
	if formatter != nil {
		frags, err := s.fragments(snap, req.Highlight, c.match, formatter)
		if err != nil {
			return h, err
		}
		h.Fragments = frags
	}
	return h, nil
}

// fragments highlights each requested field value that has matched
// locations, using the stored text of that value.
func (s *Searcher) fragments(snap *index.Snapshot, hr *HighlightRequest, m *DocumentMatch, formatter highlight.Formatter) (map[string][]Fragment, error) {
	fields := hr.Fields
	if len(fields) == 0 {
		for f := range m.Locations {
			fields = append(fields, f)
		}
		sort.Strings(fields)
	}
	var want []string
	for _, f := range fields {
		if len(m.Locations[f]) > 0 {
			want = append(want, f)
		}
	}
	if len(want) == 0 {
		return nil, nil
	}
	stored, err := snap.StoredValues(m.ID, want)
	if err != nil {
		return nil, fmt.Errorf("loading highlight text of %q: %w", m.ID, err)
	}
	size, max := hr.FragmentSize, hr.MaxFragments
	if size <= 0 {
		size = s.opts.FragmentSize
	}
	if max <= 0 {
		max = s.opts.MaxFragments
	}

	type located struct {
		highlight.Fragment
		arrayPos int
	}
	out := make(map[string][]Fragment)
	for _, f := range want {
		spans := make(map[int][]highlight.Span)
		for _, locs := range m.Locations[f] {
			for _, l := range locs {
				spans[l.ArrayPos] = append(spans[l.ArrayPos], highlight.Span{Start: l.Start, End: l.End})
			}
		}
		var frags []located
		for _, sv := range stored[f] {
			text, ok := sv.Value.(string)
			if !ok || len(spans[sv.ArrayPos]) == 0 {
				continue
			}
			for _, fr := range highlight.BestFragments(text, spans[sv.ArrayPos], size, max) {
				frags = append(frags, located{Fragment: fr, arrayPos: sv.ArrayPos})
			}
		}
		sort.SliceStable(frags, func(i, j int) bool {
			return highlight.Less(frags[i].Fragment, frags[j].Fragment)
		})
		if len(frags) > max {
			frags = frags[:max]
		}
		for _, fr := range frags {
			out[f] = append(out[f], Fragment{
				Text:     formatter.Format(fr.Fragment),
				Spans:    fr.Spans,
				Start:    fr.Start,
				End:      fr.End,
				ArrayPos: fr.arrayPos,
			})
		}
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}
