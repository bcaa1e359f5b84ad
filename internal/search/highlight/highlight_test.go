package highlight

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func spanOf(text, word string) Span {
	i := strings.Index(text, word)
	return Span{Start: i, End: i + len(word)}
}

func TestBestFragmentsShortText(t *testing.T) {
	text := "bleve is a full text search library"
	frags := BestFragments(text, []Span{spanOf(text, "search")}, 200, 3)
	require.Len(t, frags, 1)
	assert.Equal(t, text, frags[0].Text)
	assert.Equal(t, "bleve is a full text <mark>search</mark> library", HTML.Format(frags[0]))
}

func TestBestFragmentsWordAligned(t *testing.T) {
	text := strings.Repeat("alpha beta gamma ", 20) + "needle " + strings.Repeat("delta epsilon ", 20)
	frags := BestFragments(text, []Span{spanOf(text, "needle")}, 60, 1)
	require.Len(t, frags, 1)
	f := frags[0]
	assert.LessOrEqual(t, len(f.Text), 60)
	assert.Contains(t, f.Text, "needle")
	assert.NotEqual(t, ' ', rune(f.Text[0]))
	assert.NotEqual(t, ' ', rune(f.Text[len(f.Text)-1]))

	words := strings.Fields(f.Text)
	for _, w := range words {
		assert.Contains(t, []string{"alpha", "beta", "gamma", "needle", "delta", "epsilon"}, w)
	}
}

func TestBestFragmentsPrefersDenseClusters(t *testing.T) {
	filler := strings.Repeat("lorem ipsum dolor sit amet ", 12)
	text := "search once " + filler + "search engine search index search " + filler
	var spans []Span
	off := 0
	for {
		i := strings.Index(text[off:], "search")
		if i < 0 {
			break
		}
		spans = append(spans, Span{Start: off + i, End: off + i + len("search")})
		off += i + len("search")
	}
	require.Len(t, spans, 4)

	frags := BestFragments(text, spans, 80, 2)
	require.Len(t, frags, 2)
	assert.Len(t, frags[0].Spans, 3)
	assert.Len(t, frags[1].Spans, 1)
	assert.True(t, frags[0].End <= frags[1].Start || frags[1].End <= frags[0].Start)
}

func TestBestFragmentsIgnoresBadSpans(t *testing.T) {
	text := "short text"
	assert.Empty(t, BestFragments(text, []Span{{Start: 5, End: 3}, {Start: 0, End: 99}}, 0, 0))
	assert.Empty(t, BestFragments(text, nil, 0, 0))
}

func TestBestFragmentsMergesOverlappingSpans(t *testing.T) {
	text := "distributed search"
	frags := BestFragments(text, []Span{{Start: 0, End: 11}, {Start: 5, End: 18}}, 0, 0)
	require.Len(t, frags, 1)
	assert.Equal(t, []Span{{Start: 0, End: 18}}, frags[0].Spans)
}

func TestFormatters(t *testing.T) {
	f := Fragment{Text: "a <b> & c", Spans: []Span{{Start: 2, End: 5}}}
	assert.Equal(t, "a <mark>&lt;b&gt;</mark> &amp; c", HTML.Format(f))
	assert.Equal(t, "a \x1b[1;33m<b>\x1b[0m & c", ANSI.Format(f))
	assert.Equal(t, "a <b> & c", Plain.Format(f))

	for _, style := range []string{"", StyleHTML, StyleANSI, StylePlain} {
		_, err := FormatterFor(style)
		assert.NoError(t, err, style)
	}
	_, err := FormatterFor("latex")
	assert.Error(t, err)
}

func TestWindowKeepsRunesWhole(t *testing.T) {
	text := strings.Repeat("héllo wörld ", 30) + "match " + strings.Repeat("ünïcode ", 30)
	frags := BestFragments(text, []Span{spanOf(text, "match")}, 50, 1)
	require.Len(t, frags, 1)
	assert.True(t, strings.Contains(frags[0].Text, "match"))
	for _, r := range frags[0].Text {
		assert.NotEqual(t, '�', r)
	}
}

func TestLessRanksDensityBeforeCount(t *testing.T) {
	tight := Fragment{Start: 300, End: 340, Spans: []Span{{0, 6}, {10, 16}}, Score: 2 * 1024 / 40.0}
	wide := Fragment{Start: 0, End: 200, Spans: []Span{{0, 6}, {50, 56}, {120, 126}}, Score: 3 * 1024 / 200.0}
	assert.True(t, Less(tight, wide))
	assert.False(t, Less(wide, tight))

	wide.Score = tight.Score
	assert.True(t, Less(wide, tight), "equal density falls back to span count")
}
