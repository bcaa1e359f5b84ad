// Package mapping turns JSON objects into indexable documents. Configured
// fields get the kind, analyzer and storage options from their FieldConfig;
// other fields are mapped from their JSON type.
package mapping

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/Adithya-Monish-Kumar-K/textsearch/internal/analysis"
	"github.com/Adithya-Monish-Kumar-K/textsearch/internal/document"
	"github.com/Adithya-Monish-Kumar-K/textsearch/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/textsearch/pkg/errors"
)

// dateLayouts are tried in order for datetime fields given as strings.
var dateLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"}

type fieldMapping struct {
	kind     document.Kind
	analyzer string
	opts     document.Options
}

// Mapping is immutable after New and safe for concurrent use.
type Mapping struct {
	fields          map[string]fieldMapping
	defaultAnalyzer string
}

// New validates the field configuration. Analyzer names are checked when
// the index analyzes a document, not here.
func New(fields map[string]config.FieldConfig, defaultAnalyzer string) (*Mapping, error) {
	m := &Mapping{fields: make(map[string]fieldMapping, len(fields)), defaultAnalyzer: defaultAnalyzer}
	for name, fc := range fields {
		kind, err := document.ParseKind(fc.Type)
		if err != nil {
			return nil, fmt.Errorf("mapping field %q: %w", name, err)
		}
		fm := fieldMapping{kind: kind, analyzer: fc.Analyzer, opts: document.DefaultOptions}
		if fc.Store != nil {
			fm.opts.Store = *fc.Store
		}
		if fc.Locations != nil {
			fm.opts.IncludeLocations = *fc.Locations
		}
		if kind == document.KeywordKind {
			fm.analyzer = analysis.Keyword
		}
		m.fields[name] = fm
	}
	return m, nil
}

// Document decodes a JSON object into a document with the given id.
func (m *Mapping) Document(id string, data []byte) (*document.Document, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, apperrors.Invalid("document %q is not a JSON object: %v", id, err)
	}
	return m.FromMap(id, obj)
}

// FromMap maps a decoded object. Nested objects flatten into dotted field
// names, arrays become multi-valued fields and nulls are skipped.
func (m *Mapping) FromMap(id string, obj map[string]any) (*document.Document, error) {
	doc := document.New(id)
	if err := m.walk(doc, "", obj); err != nil {
		return nil, err
	}
	if err := doc.Validate(); err != nil {
		return nil, apperrors.Invalid("%v", err)
	}
	return doc, nil
}

func (m *Mapping) walk(doc *document.Document, prefix string, obj map[string]any) error {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		name := k
		if prefix != "" {
			name = prefix + "." + k
		}
		if err := m.value(doc, name, obj[k]); err != nil {
			return err
		}
	}
	return nil
}

func (m *Mapping) value(doc *document.Document, name string, v any) error {
	switch val := v.(type) {
	case nil:
		return nil
	case map[string]any:
		return m.walk(doc, name, val)
	case []any:
		for _, item := range val {
			if _, nested := item.(map[string]any); nested {
				return apperrors.Invalid("document %q field %q: arrays of objects are not supported", doc.ID, name)
			}
			if err := m.value(doc, name, item); err != nil {
				return err
			}
		}
		return nil
	}

	fm, configured := m.fields[name]
	if !configured {
		fm = m.dynamic(v)
	}
	f := &document.Field{Name: name, Kind: fm.kind, Analyzer: fm.analyzer, Options: fm.opts}
	switch fm.kind {
	case document.Numeric:
		n, err := toFloat(v)
		if err != nil {
			return apperrors.Invalid("document %q field %q: %v", doc.ID, name, err)
		}
		f.Number = n
	case document.DateTime:
		t, err := toTime(v)
		if err != nil {
			return apperrors.Invalid("document %q field %q: %v", doc.ID, name, err)
		}
		f.Time = t
	default:
		f.Text = toText(v)
		if f.Analyzer == "" {
			f.Analyzer = m.defaultAnalyzer
		}
	}
	doc.AddField(f)
	return nil
}

func (m *Mapping) dynamic(v any) fieldMapping {
	switch v.(type) {
	case json.Number, float64, int, int64:
		return fieldMapping{kind: document.Numeric, opts: document.DefaultOptions}
	case bool:
		return fieldMapping{kind: document.KeywordKind, analyzer: analysis.Keyword, opts: document.DefaultOptions}
	default:
		return fieldMapping{kind: document.Text, analyzer: m.defaultAnalyzer, opts: document.DefaultOptions}
	}
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case json.Number:
		return n.Float64()
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case string:
		return strconv.ParseFloat(n, 64)
	}
	return 0, fmt.Errorf("%T is not a number", v)
}

func toTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case string:
		for _, layout := range dateLayouts {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed.UTC(), nil
			}
		}
		return time.Time{}, fmt.Errorf("cannot parse %q as a date", t)
	case json.Number:
		ms, err := t.Int64()
		if err != nil {
			return time.Time{}, err
		}
		return time.UnixMilli(ms).UTC(), nil
	case time.Time:
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("%T is not a date", v)
}

func toText(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	}
	return fmt.Sprint(v)
}
