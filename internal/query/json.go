package query

import (
	"bytes"
	"encoding/json"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/textsearch/pkg/errors"
)

// ParseJSON decodes a query tree. Each node is an object with exactly one
// key naming its kind, for example
//
//	{"bool": {"must": [{"match": {"field": "body", "text": "search"}}],
//	          "must_not": [{"term": {"field": "tag", "term": "draft"}}]}}
//
// {"query_string": "..."} nodes are parsed with ParseQueryString against
// defaultField. The returned tree has been validated.
func ParseJSON(data []byte, defaultField string) (Query, error) {
	q, err := decodeNode(data, defaultField)
	if err != nil {
		return nil, err
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}
	return q, nil
}

type termJSON struct {
	Field string  `json:"field"`
	Term  string  `json:"term"`
	Boost float64 `json:"boost"`
}

type phraseJSON struct {
	Field string   `json:"field"`
	Terms []string `json:"terms"`
	Boost float64  `json:"boost"`
}

type matchJSON struct {
	Field     string   `json:"field"`
	Text      string   `json:"text"`
	Analyzer  string   `json:"analyzer"`
	Operator  Operator `json:"operator"`
	Fuzziness int      `json:"fuzziness"`
	Boost     float64  `json:"boost"`
}

type fuzzyJSON struct {
	Field        string  `json:"field"`
	Term         string  `json:"term"`
	Fuzziness    *int    `json:"fuzziness"`
	PrefixLength int     `json:"prefix_length"`
	Boost        float64 `json:"boost"`
}

type prefixJSON struct {
	Field  string  `json:"field"`
	Prefix string  `json:"prefix"`
	Boost  float64 `json:"boost"`
}

type numericRangeJSON struct {
	Field        string   `json:"field"`
	Min          *float64 `json:"min"`
	Max          *float64 `json:"max"`
	InclusiveMin *bool    `json:"inclusive_min"`
	InclusiveMax *bool    `json:"inclusive_max"`
	Boost        float64  `json:"boost"`
}

type dateRangeJSON struct {
	Field          string     `json:"field"`
	Start          *time.Time `json:"start"`
	End            *time.Time `json:"end"`
	InclusiveStart *bool      `json:"inclusive_start"`
	InclusiveEnd   *bool      `json:"inclusive_end"`
	Boost          float64    `json:"boost"`
}

type boolJSON struct {
	Must      []json.RawMessage `json:"must"`
	Should    []json.RawMessage `json:"should"`
	MustNot   []json.RawMessage `json:"must_not"`
	MinShould int               `json:"min_should"`
	Boost     float64           `json:"boost"`
}

type boostJSON struct {
	Boost float64 `json:"boost"`
}

func orDefault(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}

func strict(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apperrors.Malformed("%v", err)
	}
	return nil
}

func decodeNode(data []byte, defaultField string) (Query, error) {
	var node map[string]json.RawMessage
	if err := json.Unmarshal(data, &node); err != nil {
		return nil, apperrors.Malformed("query node: %v", err)
	}
	if len(node) != 1 {
		return nil, apperrors.Malformed("query node must have exactly one key, got %d", len(node))
	}
	for key, body := range node {
		return decodeKind(key, body, defaultField)
	}
	return nil, nil
}

func decodeKind(key string, body json.RawMessage, defaultField string) (Query, error) {
	field := func(f string) string {
		if f == "" {
			return defaultField
		}
		return f
	}
	switch Kind(key) {
	case KindTerm:
		var v termJSON
		if err := strict(body, &v); err != nil {
			return nil, err
		}
		return &TermQuery{Field: field(v.Field), Term: v.Term, Boost: v.Boost}, nil
	case KindPhrase:
		var v phraseJSON
		if err := strict(body, &v); err != nil {
			return nil, err
		}
		return &PhraseQuery{Field: field(v.Field), Terms: v.Terms, Boost: v.Boost}, nil
	case KindMatch:
		var v matchJSON
		if err := strict(body, &v); err != nil {
			return nil, err
		}
		return &MatchQuery{Field: field(v.Field), Text: v.Text, Analyzer: v.Analyzer, Operator: v.Operator, Fuzziness: v.Fuzziness, Boost: v.Boost}, nil
	case KindMatchPhrase:
		var v matchJSON
		if err := strict(body, &v); err != nil {
			return nil, err
		}
		return &MatchPhraseQuery{Field: field(v.Field), Text: v.Text, Analyzer: v.Analyzer, Boost: v.Boost}, nil
	case KindFuzzy:
		var v fuzzyJSON
		if err := strict(body, &v); err != nil {
			return nil, err
		}
		fuzz := 1
		if v.Fuzziness != nil {
			fuzz = *v.Fuzziness
		}
		return &FuzzyQuery{Field: field(v.Field), Term: v.Term, Fuzziness: fuzz, PrefixLength: v.PrefixLength, Boost: v.Boost}, nil
	case KindPrefix:
		var v prefixJSON
		if err := strict(body, &v); err != nil {
			return nil, err
		}
		return &PrefixQuery{Field: field(v.Field), Prefix: v.Prefix, Boost: v.Boost}, nil
	case KindNumericRange:
		var v numericRangeJSON
		if err := strict(body, &v); err != nil {
			return nil, err
		}
		return &NumericRangeQuery{
			Field: field(v.Field), Min: v.Min, Max: v.Max,
			InclusiveMin: orDefault(v.InclusiveMin, true),
			InclusiveMax: orDefault(v.InclusiveMax, false),
			Boost:        v.Boost,
		}, nil
	case KindDateRange:
		var v dateRangeJSON
		if err := strict(body, &v); err != nil {
			return nil, err
		}
		return &DateRangeQuery{
			Field: field(v.Field), Start: v.Start, End: v.End,
			InclusiveStart: orDefault(v.InclusiveStart, true),
			InclusiveEnd:   orDefault(v.InclusiveEnd, false),
			Boost:          v.Boost,
		}, nil
	case KindBoolean:
		var v boolJSON
		if err := strict(body, &v); err != nil {
			return nil, err
		}
		q := &BooleanQuery{MinShould: v.MinShould, Boost: v.Boost}
		for _, group := range []struct {
			raw []json.RawMessage
			dst *[]Query
		}{{v.Must, &q.Must}, {v.Should, &q.Should}, {v.MustNot, &q.MustNot}} {
			for _, raw := range group.raw {
				child, err := decodeNode(raw, defaultField)
				if err != nil {
					return nil, err
				}
				*group.dst = append(*group.dst, child)
			}
		}
		return q, nil
	case KindMatchAll:
		var v boostJSON
		if err := strict(body, &v); err != nil {
			return nil, err
		}
		return &MatchAllQuery{Boost: v.Boost}, nil
	case KindMatchNone:
		return &MatchNoneQuery{}, nil
	case "query_string":
		var s string
		if err := json.Unmarshal(body, &s); err != nil {
			return nil, apperrors.Malformed("query_string must be a string")
		}
		return ParseQueryString(s, defaultField)
	}
	return nil, apperrors.Malformed("unknown query kind %q", key)
}
