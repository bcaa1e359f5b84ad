package index

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/Adithya-Monish-Kumar-K/textsearch/internal/document"
)

var errCorrupt = errors.New("corrupt index row")

// Location is one occurrence of a term inside a field value.
type Location struct {
	Pos      int
	Start    int
	End      int
	ArrayPos int
}

// Posting is one document's entry in a term's postings list. Length is the
// token count of the field the norm was computed from; it is 0 for numeric
// and datetime fields, which are not length-normalized.
type Posting struct {
	DocID     string
	Freq      int
	Norm      float32
	Length    int
	Locations []Location
}

const postingHasLocations = 1

// encodePosting writes freq, norm, field length, a flags byte and, when
// present, delta-coded positions with their offsets and array positions.
func encodePosting(freq int, norm float32, length int, locs []Location, withLocations bool) []byte {
	buf := make([]byte, 0, 16+len(locs)*8)
	buf = binary.AppendUvarint(buf, uint64(freq))
	buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(norm))
	buf = binary.AppendUvarint(buf, uint64(length))
	if !withLocations {
		return append(buf, 0)
	}
	buf = append(buf, postingHasLocations)
	buf = binary.AppendUvarint(buf, uint64(len(locs)))
	prev := 0
	for _, l := range locs {
		buf = binary.AppendUvarint(buf, uint64(l.Pos-prev))
		buf = binary.AppendUvarint(buf, uint64(l.Start))
		buf = binary.AppendUvarint(buf, uint64(l.End-l.Start))
		buf = binary.AppendUvarint(buf, uint64(l.ArrayPos))
		prev = l.Pos
	}
	return buf
}

func decodePosting(docID string, buf []byte) (*Posting, error) {
	r := reader{buf: buf}
	p := &Posting{DocID: docID}
	p.Freq = int(r.uvarint())
	p.Norm = math.Float32frombits(r.uint32())
	p.Length = int(r.uvarint())
	flags := r.byte()
	if flags&postingHasLocations != 0 {
		n := int(r.uvarint())
		if r.err == nil && n > len(buf) {
			return nil, fmt.Errorf("posting %s: %w", docID, errCorrupt)
		}
		p.Locations = make([]Location, 0, n)
		pos := 0
		for i := 0; i < n && r.err == nil; i++ {
			pos += int(r.uvarint())
			start := int(r.uvarint())
			end := start + int(r.uvarint())
			p.Locations = append(p.Locations, Location{Pos: pos, Start: start, End: end, ArrayPos: int(r.uvarint())})
		}
	}
	if r.err != nil {
		return nil, fmt.Errorf("posting %s: %w", docID, r.err)
	}
	return p, nil
}

func encodeUvarint(n uint64) []byte {
	return binary.AppendUvarint(nil, n)
}

func decodeUvarint(buf []byte) (uint64, error) {
	n, k := binary.Uvarint(buf)
	if k <= 0 {
		return 0, errCorrupt
	}
	return n, nil
}

// FieldTerms is the back-index record of one field of one document.
type FieldTerms struct {
	Name   string
	Kind   document.Kind
	Length int
	Terms  []string
	// Values is the number of values the field had, stored or not.
	Values int
}

// DocTerms is the back-index row of a document: every term it contributed,
// grouped by field. It drives deletes, facets and field sorting.
type DocTerms struct {
	ID     string
	Fields []FieldTerms
}

// Field returns the named field record, or nil.
func (d *DocTerms) Field(name string) *FieldTerms {
	for i := range d.Fields {
		if d.Fields[i].Name == name {
			return &d.Fields[i]
		}
	}
	return nil
}

func encodeDocTerms(d *DocTerms) []byte {
	var buf []byte
	buf = binary.AppendUvarint(buf, uint64(len(d.Fields)))
	for _, f := range d.Fields {
		buf = appendString(buf, f.Name)
		buf = append(buf, byte(f.Kind))
		buf = binary.AppendUvarint(buf, uint64(f.Length))
		buf = binary.AppendUvarint(buf, uint64(f.Values))
		buf = binary.AppendUvarint(buf, uint64(len(f.Terms)))
		for _, t := range f.Terms {
			buf = appendString(buf, t)
		}
	}
	return buf
}

func decodeDocTerms(id string, buf []byte) (*DocTerms, error) {
	r := reader{buf: buf}
	n := int(r.uvarint())
	d := &DocTerms{ID: id}
	for i := 0; i < n && r.err == nil; i++ {
		f := FieldTerms{Name: r.string()}
		f.Kind = document.Kind(r.byte())
		f.Length = int(r.uvarint())
		f.Values = int(r.uvarint())
		nt := int(r.uvarint())
		for j := 0; j < nt && r.err == nil; j++ {
			f.Terms = append(f.Terms, r.string())
		}
		d.Fields = append(d.Fields, f)
	}
	if r.err != nil {
		return nil, fmt.Errorf("back index %s: %w", id, r.err)
	}
	return d, nil
}

func encodeStored(f *document.Field) []byte {
	buf := []byte{byte(f.Kind)}
	switch f.Kind {
	case document.Numeric:
		return binary.BigEndian.AppendUint64(buf, math.Float64bits(f.Number))
	case document.DateTime:
		return binary.BigEndian.AppendUint64(buf, uint64(f.Time.UnixNano()))
	default:
		return append(buf, f.Text...)
	}
}

func decodeStored(buf []byte) (any, error) {
	if len(buf) == 0 {
		return nil, errCorrupt
	}
	switch document.Kind(buf[0]) {
	case document.Numeric:
		if len(buf) != 9 {
			return nil, errCorrupt
		}
		return math.Float64frombits(binary.BigEndian.Uint64(buf[1:])), nil
	case document.DateTime:
		if len(buf) != 9 {
			return nil, errCorrupt
		}
		return time.Unix(0, int64(binary.BigEndian.Uint64(buf[1:]))).UTC(), nil
	default:
		return string(buf[1:]), nil
	}
}

func encodeFieldStats(docs, length uint64) []byte {
	buf := binary.AppendUvarint(nil, docs)
	return binary.AppendUvarint(buf, length)
}

func decodeFieldStats(buf []byte) (FieldStats, error) {
	r := reader{buf: buf}
	fs := FieldStats{DocCount: r.uvarint(), TotalLength: r.uvarint()}
	return fs, r.err
}

func appendString(buf []byte, s string) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(s)))
	return append(buf, s...)
}

// reader decodes sequential fields and latches the first error.
type reader struct {
	buf []byte
	err error
}

func (r *reader) uvarint() uint64 {
	if r.err != nil {
		return 0
	}
	n, k := binary.Uvarint(r.buf)
	if k <= 0 {
		r.err = errCorrupt
		return 0
	}
	r.buf = r.buf[k:]
	return n
}

func (r *reader) uint32() uint32 {
	if r.err != nil {
		return 0
	}
	if len(r.buf) < 4 {
		r.err = errCorrupt
		return 0
	}
	v := binary.LittleEndian.Uint32(r.buf)
	r.buf = r.buf[4:]
	return v
}

func (r *reader) byte() byte {
	if r.err != nil {
		return 0
	}
	if len(r.buf) < 1 {
		r.err = errCorrupt
		return 0
	}
	b := r.buf[0]
	r.buf = r.buf[1:]
	return b
}

func (r *reader) string() string {
	n := int(r.uvarint())
	if r.err != nil {
		return ""
	}
	if n > len(r.buf) {
		r.err = errCorrupt
		return ""
	}
	s := string(r.buf[:n])
	r.buf = r.buf[n:]
	return s
}
