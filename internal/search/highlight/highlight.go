// Package highlight cuts matched text into short fragments around the
// matching terms and renders them with the match spans marked.
package highlight

import (
	"html"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	apperrors "github.com/Adithya-Monish-Kumar-K/textsearch/pkg/errors"
)

const (
	DefaultFragmentSize = 200
	DefaultMaxFragments = 3
)

// Span is a matched byte range [Start, End) of the source text.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Fragment is a window of the source text. Spans are relative to Text.
type Fragment struct {
	Start int     `json:"start"`
	End   int     `json:"end"`
	Text  string  `json:"text"`
	Spans []Span  `json:"spans"`
	Score float64 `json:"score"`
}

// BestFragments returns up to max non-overlapping fragments of about size
// bytes that contain at least one span, best first. Fragments rank by
// density, the number of spans held per kilobyte of text, then by span
// count and position.
func BestFragments(text string, spans []Span, size, max int) []Fragment {
	if size <= 0 {
		size = DefaultFragmentSize
	}
	if max <= 0 {
		max = DefaultMaxFragments
	}
	spans = normalize(text, spans)
	if len(spans) == 0 {
		return nil
	}

	candidates := make([]Fragment, 0, len(spans))
	for _, anchor := range spans {
		start, end := window(text, anchor, size)
		f := Fragment{Start: start, End: end}
		for _, s := range spans {
			if s.Start >= start && s.End <= end {
				f.Spans = append(f.Spans, Span{Start: s.Start - start, End: s.End - start})
			}
		}
		f.Score = float64(len(f.Spans)) * 1024 / float64(end-start)
		candidates = append(candidates, f)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return Less(candidates[i], candidates[j])
	})

	var out []Fragment
	for _, c := range candidates {
		if len(out) == max {
			break
		}
		overlaps := false
		for _, o := range out {
			if c.Start < o.End && o.Start < c.End {
				overlaps = true
				break
			}
		}
		if overlaps {
			continue
		}
		c.Text = text[c.Start:c.End]
		out = append(out, c)
	}
	return out
}

// Less orders fragments best first.
func Less(a, b Fragment) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if len(a.Spans) != len(b.Spans) {
		return len(a.Spans) > len(b.Spans)
	}
	return a.Start < b.Start
}

// normalize drops spans outside text, sorts the rest and merges overlaps.
func normalize(text string, spans []Span) []Span {
	valid := make([]Span, 0, len(spans))
	for _, s := range spans {
		if s.Start < 0 || s.End > len(text) || s.Start >= s.End {
			continue
		}
		valid = append(valid, s)
	}
	sort.Slice(valid, func(i, j int) bool {
		if valid[i].Start != valid[j].Start {
			return valid[i].Start < valid[j].Start
		}
		return valid[i].End < valid[j].End
	})
	merged := valid[:0]
	for _, s := range valid {
		if n := len(merged); n > 0 && s.Start <= merged[n-1].End {
			if s.End > merged[n-1].End {
				merged[n-1].End = s.End
			}
			continue
		}
		merged = append(merged, s)
	}
	return merged
}

// window centres a size-byte window on anchor and shrinks both edges to
// word boundaries without cutting the anchor.
func window(text string, anchor Span, size int) (int, int) {
	if len(text) <= size {
		return 0, len(text)
	}
	start := anchor.Start - (size-(anchor.End-anchor.Start))/2
	if start < 0 {
		start = 0
	}
	end := start + size
	if end > len(text) {
		end = len(text)
		start = end - size
		if start < 0 {
			start = 0
		}
	}
	if end < anchor.End {
		end = anchor.End
	}

	if start > 0 && !isBoundary(text, start) {
		s := start
		for s < anchor.Start && !isBoundary(text, s) {
			s++
		}
		start = s
	}
	for start < anchor.Start && isSpaceAt(text, start) {
		start++
	}
	if end < len(text) && !isBoundary(text, end) {
		e := end
		for e > anchor.End && !isBoundary(text, e) {
			e--
		}
		end = e
	}
	for end > anchor.End && isSpaceAt(text, end-1) {
		end--
	}
	for start > 0 && !utf8.RuneStart(text[start]) {
		start--
	}
	for end < len(text) && !utf8.RuneStart(text[end]) {
		end++
	}
	return start, end
}

// isBoundary reports whether offset i sits between a space and a non-space.
func isBoundary(text string, i int) bool {
	if i <= 0 || i >= len(text) {
		return true
	}
	if !utf8.RuneStart(text[i]) {
		return false
	}
	return isSpaceAt(text, i) != isSpaceBefore(text, i)
}

func isSpaceAt(text string, i int) bool {
	r, _ := utf8.DecodeRuneInString(text[i:])
	return unicode.IsSpace(r) || unicode.IsPunct(r)
}

func isSpaceBefore(text string, i int) bool {
	r, _ := utf8.DecodeLastRuneInString(text[:i])
	return unicode.IsSpace(r) || unicode.IsPunct(r)
}

// Formatter renders a fragment with its spans marked.
type Formatter interface {
	Format(f Fragment) string
}

type markFormatter struct {
	open, close string
	escape      func(string) string
}

func (m markFormatter) Format(f Fragment) string {
	var sb strings.Builder
	last := 0
	for _, s := range f.Spans {
		sb.WriteString(m.escape(f.Text[last:s.Start]))
		sb.WriteString(m.open)
		sb.WriteString(m.escape(f.Text[s.Start:s.End]))
		sb.WriteString(m.close)
		last = s.End
	}
	sb.WriteString(m.escape(f.Text[last:]))
	return sb.String()
}

func identity(s string) string { return s }

var (
	// HTML wraps matches in <mark> and escapes the rest of the text.
	HTML Formatter = markFormatter{open: "<mark>", close: "</mark>", escape: html.EscapeString}
	// ANSI renders matches in bold yellow for terminals.
	ANSI Formatter = markFormatter{open: "\x1b[1;33m", close: "\x1b[0m", escape: identity}
	// Plain leaves the text unmarked; callers use Fragment.Spans directly.
	Plain Formatter = markFormatter{escape: identity}
)

// Style names accepted by FormatterFor.
const (
	StyleHTML  = "html"
	StyleANSI  = "ansi"
	StylePlain = "plain"
)

// FormatterFor resolves a style name; the empty name selects html.
func FormatterFor(style string) (Formatter, error) {
	switch style {
	case "", StyleHTML:
		return HTML, nil
	case StyleANSI:
		return ANSI, nil
	case StylePlain:
		return Plain, nil
	default:
		return nil, apperrors.Malformed("unknown highlight style %q", style)
	}
}
