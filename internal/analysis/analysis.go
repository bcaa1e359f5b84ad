// Package analysis turns field text into token streams. Every token carries
// its term text, byte offsets into the original value and an ordinal
// position; positions of removed stop words are left as gaps so phrase
// matching stays faithful to the source text. The standard analyzers fold
// terms with NFKC so compatibility forms match their plain spellings.
package analysis

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/clipperhouse/uax29/v2/words"
	"github.com/kljensen/snowball/english"
	"golang.org/x/text/unicode/norm"
)

// Token is one unit of analyzed text.
type Token struct {
	Term     string
	Start    int
	End      int
	Position int
}

// Analyzer converts a field value into tokens.
type Analyzer interface {
	Analyze(text string) ([]Token, error)
}

// AnalyzerFunc adapts a plain function to the Analyzer interface.
type AnalyzerFunc func(text string) ([]Token, error)

func (f AnalyzerFunc) Analyze(text string) ([]Token, error) {
	return f(text)
}

// Built-in analyzer names.
const (
	Standard = "standard"
	English  = "english"
	Keyword  = "keyword"
	Simple   = "simple"
)

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {},
	"be": {}, "by": {}, "for": {}, "from": {}, "has": {}, "he": {},
	"in": {}, "is": {}, "it": {}, "its": {}, "of": {}, "on": {},
	"or": {}, "that": {}, "the": {}, "to": {}, "was": {}, "were": {},
	"will": {}, "with": {}, "this": {}, "but": {}, "they": {},
	"have": {}, "had": {}, "what": {}, "when": {}, "where": {},
	"who": {}, "which": {}, "their": {}, "if": {}, "each": {},
	"do": {}, "not": {}, "no": {}, "so": {}, "can": {},
}

// IsStopWord reports whether the lowercased word is dropped by the standard
// and english analyzers.
func IsStopWord(word string) bool {
	_, ok := stopWords[word]
	return ok
}

// segment splits text into UAX#29 words, keeping only segments that contain
// a letter or digit. Offsets are accumulated from segment lengths since the
// segmenter covers the input contiguously.
func segment(text string) []Token {
	seg := words.FromString(text)
	var tokens []Token
	offset, pos := 0, 0
	for seg.Next() {
		w := seg.Value()
		start := offset
		offset += len(w)
		if !hasWordRune(w) {
			continue
		}
		tokens = append(tokens, Token{Term: w, Start: start, End: offset, Position: pos})
		pos++
	}
	return tokens
}

func hasWordRune(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

func standard(text string) ([]Token, error) {
	if !utf8.ValidString(text) {
		return nil, fmt.Errorf("text is not valid UTF-8")
	}
	tokens := segment(text)
	out := tokens[:0]
	for _, tok := range tokens {
		// Terms are folded; offsets keep pointing into the original text.
		tok.Term = strings.ToLower(norm.NFKC.String(tok.Term))
		if IsStopWord(tok.Term) {
			continue
		}
		out = append(out, tok)
	}
	return out, nil
}

func englishStem(text string) ([]Token, error) {
	tokens, err := standard(text)
	if err != nil {
		return nil, err
	}
	for i := range tokens {
		if stemmed := english.Stem(tokens[i].Term, false); stemmed != "" {
			tokens[i].Term = stemmed
		}
	}
	return tokens, nil
}

// keyword emits the whole value as a single token.
func keyword(text string) ([]Token, error) {
	if text == "" {
		return nil, nil
	}
	return []Token{{Term: text, Start: 0, End: len(text), Position: 0}}, nil
}

// simple splits on anything that is not a letter and lowercases.
func simple(text string) ([]Token, error) {
	var tokens []Token
	start, pos := -1, 0
	for i, r := range text {
		if unicode.IsLetter(r) {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			tokens = append(tokens, Token{Term: strings.ToLower(text[start:i]), Start: start, End: i, Position: pos})
			pos++
			start = -1
		}
	}
	if start >= 0 {
		tokens = append(tokens, Token{Term: strings.ToLower(text[start:]), Start: start, End: len(text), Position: pos})
	}
	return tokens, nil
}

// Registry resolves analyzers by name. The zero value is not usable; call
// NewRegistry.
type Registry struct {
	mu        sync.RWMutex
	analyzers map[string]Analyzer
}

// NewRegistry returns a registry preloaded with the built-in analyzers.
func NewRegistry() *Registry {
	return &Registry{
		analyzers: map[string]Analyzer{
			Standard: AnalyzerFunc(standard),
			English:  AnalyzerFunc(englishStem),
			Keyword:  AnalyzerFunc(keyword),
			Simple:   AnalyzerFunc(simple),
		},
	}
}

// Register adds or replaces a named analyzer.
func (r *Registry) Register(name string, a Analyzer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.analyzers[name] = a
}

// Get returns the analyzer registered under name.
func (r *Registry) Get(name string) (Analyzer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.analyzers[name]
	if !ok {
		return nil, fmt.Errorf("unknown analyzer %q", name)
	}
	return a, nil
}

// Names lists registered analyzers in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.analyzers))
	for n := range r.analyzers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
