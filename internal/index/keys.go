package index

import (
	"encoding/binary"
)

// Row families. Field, term and document ID components are joined with
// keySep, a byte that never occurs in valid UTF-8, so lexicographic key
// order matches (field, term, docID) order.
const (
	rowPosting byte = 'p'
	rowDict    byte = 'd'
	rowBack    byte = 'b'
	rowStored  byte = 's'
	rowStats   byte = 'z'

	keySep byte = 0xff
)

var (
	keyDocCount   = []byte{rowStats, 'c'}
	keyGeneration = []byte{rowStats, 'g'}
	keyFieldStats = []byte{rowStats, 'f'}
)

func join(row byte, parts ...string) []byte {
	n := 1
	for _, p := range parts {
		n += len(p) + 1
	}
	k := make([]byte, 0, n)
	k = append(k, row)
	for i, p := range parts {
		if i > 0 {
			k = append(k, keySep)
		}
		k = append(k, p...)
	}
	return k
}

// postingKey is p field 0xff term 0xff docID.
func postingKey(field, term, docID string) []byte {
	return join(rowPosting, field, term, docID)
}

// postingPrefix covers every posting of one term.
func postingPrefix(field, term string) []byte {
	return append(join(rowPosting, field, term), keySep)
}

func dictKey(field, term string) []byte {
	return join(rowDict, field, term)
}

// dictPrefix covers every dictionary row of one field.
func dictPrefix(field string) []byte {
	return append(join(rowDict, field), keySep)
}

func backKey(docID string) []byte {
	return join(rowBack, docID)
}

// storedKey is s docID 0xff field 0xff arrayPos, arrayPos big-endian so the
// values of a multi-valued field iterate in order.
func storedKey(docID, field string, arrayPos int) []byte {
	k := append(join(rowStored, docID, field), keySep)
	return binary.BigEndian.AppendUint32(k, uint32(arrayPos))
}

func storedFieldPrefix(docID, field string) []byte {
	return append(join(rowStored, docID, field), keySep)
}

func storedDocPrefix(docID string) []byte {
	return append(join(rowStored, docID), keySep)
}

func fieldStatsKey(field string) []byte {
	return append(append([]byte{}, keyFieldStats...), field...)
}
