package index

import (
	"fmt"
	"math"
	"time"
)

// Numeric and datetime values are indexed as fixed-width terms whose byte
// order matches numeric order. The 64-bit sortable value is split into ten
// 7-bit groups after a marker byte, keeping every byte below 0x80 so the
// term never collides with the key separator.
const (
	numericMarker  byte = 0x20
	numericTermLen      = 11
)

// SortableFloat maps a float64 to a uint64 with the same ordering.
func SortableFloat(f float64) uint64 {
	bits := math.Float64bits(f)
	if bits&(1<<63) == 0 {
		return bits | 1<<63
	}
	return ^bits
}

func floatFromSortable(u uint64) float64 {
	if u&(1<<63) != 0 {
		return math.Float64frombits(u &^ (1 << 63))
	}
	return math.Float64frombits(^u)
}

// SortableTime maps an instant to a uint64 ordered by time.
func SortableTime(t time.Time) uint64 {
	return uint64(t.UnixNano()) ^ 1<<63
}

func timeFromSortable(u uint64) time.Time {
	return time.Unix(0, int64(u^1<<63)).UTC()
}

// EncodeSortable renders a sortable value as an index term.
func EncodeSortable(u uint64) string {
	var b [numericTermLen]byte
	b[0] = numericMarker
	for i := numericTermLen - 1; i >= 1; i-- {
		b[i] = byte(u & 0x7f)
		u >>= 7
	}
	return string(b[:])
}

// DecodeSortable reverses EncodeSortable.
func DecodeSortable(term string) (uint64, error) {
	if len(term) != numericTermLen || term[0] != numericMarker {
		return 0, fmt.Errorf("not a numeric term: %q", term)
	}
	var u uint64
	for i := 1; i < numericTermLen; i++ {
		if term[i] >= 0x80 {
			return 0, fmt.Errorf("not a numeric term: %q", term)
		}
		u = u<<7 | uint64(term[i])
	}
	return u, nil
}

// NumericTerm is the index term for a numeric field value.
func NumericTerm(f float64) string {
	return EncodeSortable(SortableFloat(f))
}

// DateTerm is the index term for a datetime field value.
func DateTerm(t time.Time) string {
	return EncodeSortable(SortableTime(t))
}

// DecodeNumericTerm returns the float a numeric term was built from.
func DecodeNumericTerm(term string) (float64, error) {
	u, err := DecodeSortable(term)
	if err != nil {
		return 0, err
	}
	return floatFromSortable(u), nil
}

// DecodeDateTerm returns the instant a datetime term was built from.
func DecodeDateTerm(term string) (time.Time, error) {
	u, err := DecodeSortable(term)
	if err != nil {
		return time.Time{}, err
	}
	return timeFromSortable(u), nil
}

// NormFunc computes a field's length normalization factor from the number
// of tokens it produced.
type NormFunc func(length int) float32

// DefaultNorm is 1/sqrt(length); empty fields normalize to 1.
func DefaultNorm(length int) float32 {
	if length <= 0 {
		return 1
	}
	return float32(1 / math.Sqrt(float64(length)))
}
