// Package document defines the unit of indexing: an identified set of typed
// fields. Fields of the same name may repeat to form multi-valued fields.
package document

import (
	"fmt"
	"time"

	"github.com/Adithya-Monish-Kumar-K/textsearch/internal/analysis"
)

// Kind identifies how a field value is interpreted and indexed.
type Kind uint8

const (
	Text Kind = iota
	KeywordKind
	Numeric
	DateTime
)

func (k Kind) String() string {
	switch k {
	case Text:
		return "text"
	case KeywordKind:
		return "keyword"
	case Numeric:
		return "numeric"
	case DateTime:
		return "datetime"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ParseKind maps a configuration name to a Kind. An empty name is text.
func ParseKind(name string) (Kind, error) {
	switch name {
	case "", "text":
		return Text, nil
	case "keyword":
		return KeywordKind, nil
	case "numeric":
		return Numeric, nil
	case "datetime":
		return DateTime, nil
	}
	return 0, fmt.Errorf("unknown field kind %q", name)
}

// Options control what the writer persists for a field.
type Options struct {
	Store            bool
	IncludeLocations bool
}

// DefaultOptions stores the value and keeps term locations.
var DefaultOptions = Options{Store: true, IncludeLocations: true}

// Field is one value of a document field. Text fields carry the analyzer
// name used to produce their token stream; Tokens may be filled in advance,
// in which case the writer does not re-analyze.
type Field struct {
	Name     string
	Kind     Kind
	Text     string
	Number   float64
	Time     time.Time
	Analyzer string
	Tokens   []analysis.Token
	Options  Options
}

// Value returns the raw value as stored.
func (f *Field) Value() any {
	switch f.Kind {
	case Numeric:
		return f.Number
	case DateTime:
		return f.Time
	default:
		return f.Text
	}
}

// Document is an identified collection of fields.
type Document struct {
	ID     string
	Fields []*Field
}

func New(id string) *Document {
	return &Document{ID: id}
}

// AddText appends an analyzed text field using the named analyzer; an empty
// analyzer name defers to the index default.
func (d *Document) AddText(name, value, analyzer string) *Document {
	d.Fields = append(d.Fields, &Field{Name: name, Kind: Text, Text: value, Analyzer: analyzer, Options: DefaultOptions})
	return d
}

// AddKeyword appends a field indexed as a single exact token.
func (d *Document) AddKeyword(name, value string) *Document {
	d.Fields = append(d.Fields, &Field{Name: name, Kind: KeywordKind, Text: value, Analyzer: analysis.Keyword, Options: DefaultOptions})
	return d
}

func (d *Document) AddNumeric(name string, value float64) *Document {
	d.Fields = append(d.Fields, &Field{Name: name, Kind: Numeric, Number: value, Options: DefaultOptions})
	return d
}

func (d *Document) AddDateTime(name string, value time.Time) *Document {
	d.Fields = append(d.Fields, &Field{Name: name, Kind: DateTime, Time: value.UTC(), Options: DefaultOptions})
	return d
}

// AddField appends a prepared field as is.
func (d *Document) AddField(f *Field) *Document {
	d.Fields = append(d.Fields, f)
	return d
}

// Validate checks the document is indexable.
func (d *Document) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("document id is empty")
	}
	for _, f := range d.Fields {
		if f.Name == "" {
			return fmt.Errorf("document %q has a field with an empty name", d.ID)
		}
		if !validName(f.Name) {
			return fmt.Errorf("document %q field %q contains a reserved byte", d.ID, f.Name)
		}
	}
	if !validName(d.ID) {
		return fmt.Errorf("document id %q contains a reserved byte", d.ID)
	}
	return nil
}

// validName rejects the 0xff separator used inside index keys.
func validName(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] == 0xff {
			return false
		}
	}
	return true
}
