package query

import (
	"strconv"
	"strings"
	"time"
	"unicode"

	apperrors "github.com/Adithya-Monish-Kumar-K/textsearch/pkg/errors"
)

type combineMode int

const (
	modeAnd combineMode = iota
	modeOr
)

// ParseQueryString parses the compact query syntax:
//
//	word  field:word  "a phrase"  field:"a phrase"
//	word~  word~2  pre*  +must  -mustnot  word^2
//	field:>=10  field:<5  field:[10 TO 20]  field:{a TO *}
//	AND  OR  NOT
//
// Unqualified clauses search defaultField. Plain clauses are all required
// unless OR appears, in which case they are alternatives; + and - always
// require and exclude. Range bounds that parse as RFC3339 or YYYY-MM-DD
// produce date ranges.
func ParseQueryString(s, defaultField string) (Query, error) {
	words, err := lex(s)
	if err != nil {
		return nil, err
	}
	if len(words) == 0 {
		return nil, apperrors.Malformed("empty query string")
	}

	mode := modeAnd
	var must, should, mustNot []Query
	var plain []Query
	negateNext := false
	for _, w := range words {
		switch w {
		case "AND":
			continue
		case "OR":
			mode = modeOr
			continue
		case "NOT":
			negateNext = true
			continue
		}
		occur := byte(0)
		if len(w) > 1 && (w[0] == '+' || w[0] == '-') {
			occur = w[0]
			w = w[1:]
		}
		if negateNext {
			occur = '-'
			negateNext = false
		}
		q, err := parseClause(w, defaultField)
		if err != nil {
			return nil, err
		}
		switch occur {
		case '+':
			must = append(must, q)
		case '-':
			mustNot = append(mustNot, q)
		default:
			plain = append(plain, q)
		}
	}
	if negateNext {
		return nil, apperrors.Malformed("NOT at end of query string")
	}
	if mode == modeOr {
		should = plain
	} else {
		must = append(must, plain...)
	}

	var out Query
	if len(must) == 1 && len(should) == 0 && len(mustNot) == 0 {
		out = must[0]
	} else {
		out = &BooleanQuery{Must: must, Should: should, MustNot: mustNot}
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}

// lex splits on whitespace, keeping quoted phrases and bracketed ranges as
// single words.
func lex(s string) ([]string, error) {
	var words []string
	var cur strings.Builder
	var closing rune
	for _, r := range s {
		switch {
		case closing != 0:
			cur.WriteRune(r)
			// ranges may mix inclusive and exclusive ends: [a TO b}
			if r == closing || (closing == ']' && r == '}') || (closing == '}' && r == ']') {
				closing = 0
			}
		case r == '"':
			cur.WriteRune(r)
			closing = '"'
		case r == '[':
			cur.WriteRune(r)
			closing = ']'
		case r == '{':
			cur.WriteRune(r)
			closing = '}'
		case unicode.IsSpace(r):
			if cur.Len() > 0 {
				words = append(words, cur.String())
				cur.Reset()
			}
		default:
			cur.WriteRune(r)
		}
	}
	if closing != 0 {
		return nil, apperrors.Malformed("unterminated %q in query string", closing)
	}
	if cur.Len() > 0 {
		words = append(words, cur.String())
	}
	return words, nil
}

func parseClause(w, defaultField string) (Query, error) {
	field := defaultField
	if i := fieldSeparator(w); i > 0 {
		field, w = w[:i], w[i+1:]
	}
	if w == "" {
		return nil, apperrors.Malformed("missing value after field %q", field)
	}

	boost := 0.0
	if i := strings.LastIndexByte(w, '^'); i > 0 {
		head := w[:i]
		// a caret inside a phrase is text, not a boost
		if !strings.HasPrefix(w, "\"") || (len(head) >= 2 && strings.HasSuffix(head, "\"")) {
			b, err := strconv.ParseFloat(w[i+1:], 64)
			if err != nil || !(b > 0) {
				return nil, apperrors.Malformed("invalid boost in %q", w)
			}
			boost, w = b, head
		}
	}

	switch {
	case w == "*":
		return &MatchAllQuery{Boost: boost}, nil
	case strings.HasPrefix(w, "\""):
		if len(w) < 2 || !strings.HasSuffix(w, "\"") {
			return nil, apperrors.Malformed("unterminated phrase %s", w)
		}
		return &MatchPhraseQuery{Field: field, Text: w[1 : len(w)-1], Boost: boost}, nil
	case strings.HasPrefix(w, "[") || strings.HasPrefix(w, "{"):
		return parseBracketRange(field, w, boost)
	case strings.HasPrefix(w, ">=") || strings.HasPrefix(w, "<=") || strings.HasPrefix(w, ">") || strings.HasPrefix(w, "<"):
		return parseComparison(field, w, boost)
	}

	if i := strings.LastIndexByte(w, '~'); i > 0 {
		fuzz := 1
		if i < len(w)-1 {
			n, err := strconv.Atoi(w[i+1:])
			if err != nil {
				return nil, apperrors.Malformed("invalid fuzziness in %q", w)
			}
			fuzz = n
		}
		return &FuzzyQuery{Field: field, Term: strings.ToLower(w[:i]), Fuzziness: fuzz, Boost: boost}, nil
	}
	if strings.HasSuffix(w, "*") && len(w) > 1 {
		return &PrefixQuery{Field: field, Prefix: strings.ToLower(w[:len(w)-1]), Boost: boost}, nil
	}
	return &MatchQuery{Field: field, Text: w, Boost: boost}, nil
}

// fieldSeparator finds the colon of field:value outside quotes and brackets.
func fieldSeparator(w string) int {
	for i, r := range w {
		switch r {
		case ':':
			return i
		case '"', '[', '{', '>', '<':
			return -1
		}
	}
	return -1
}

type bound struct {
	num  *float64
	date *time.Time
}

func parseBound(s string) (bound, bool) {
	if s == "*" {
		return bound{}, true
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return bound{num: &f}, true
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return bound{date: &t}, true
		}
	}
	return bound{}, false
}

func buildRange(field string, lo, hi bound, incLo, incHi bool, boost float64) (Query, error) {
	isDate := lo.date != nil || hi.date != nil
	isNum := lo.num != nil || hi.num != nil
	switch {
	case isDate && isNum:
		return nil, apperrors.Malformed("range on %q mixes numbers and dates", field)
	case isDate:
		return &DateRangeQuery{Field: field, Start: lo.date, End: hi.date, InclusiveStart: incLo, InclusiveEnd: incHi, Boost: boost}, nil
	default:
		return &NumericRangeQuery{Field: field, Min: lo.num, Max: hi.num, InclusiveMin: incLo, InclusiveMax: incHi, Boost: boost}, nil
	}
}

func parseComparison(field, w string, boost float64) (Query, error) {
	var op string
	for _, candidate := range []string{">=", "<=", ">", "<"} {
		if strings.HasPrefix(w, candidate) {
			op = candidate
			break
		}
	}
	b, ok := parseBound(w[len(op):])
	if !ok || (b.num == nil && b.date == nil) {
		return nil, apperrors.Malformed("invalid range bound in %q", w)
	}
	switch op {
	case ">=":
		return buildRange(field, b, bound{}, true, false, boost)
	case ">":
		return buildRange(field, b, bound{}, false, false, boost)
	case "<=":
		return buildRange(field, bound{}, b, false, true, boost)
	default:
		return buildRange(field, bound{}, b, false, false, boost)
	}
}

func parseBracketRange(field, w string, boost float64) (Query, error) {
	if len(w) < 2 {
		return nil, apperrors.Malformed("invalid range %q", w)
	}
	incLo := w[0] == '['
	last := w[len(w)-1]
	if last != ']' && last != '}' {
		return nil, apperrors.Malformed("invalid range %q", w)
	}
	incHi := last == ']'
	parts := strings.Fields(w[1 : len(w)-1])
	if len(parts) != 3 || parts[1] != "TO" {
		return nil, apperrors.Malformed("range %q must have the form [a TO b]", w)
	}
	lo, ok1 := parseBound(parts[0])
	hi, ok2 := parseBound(parts[2])
	if !ok1 || !ok2 {
		return nil, apperrors.Malformed("invalid range bound in %q", w)
	}
	return buildRange(field, lo, hi, incLo, incHi, boost)
}
