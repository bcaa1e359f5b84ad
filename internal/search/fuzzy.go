package search

import (
	"context"

	"github.com/Adithya-Monish-Kumar-K/textsearch/internal/index"
	"github.com/Adithya-Monish-Kumar-K/textsearch/internal/store"
)

// fuzzyMatch is a dictionary term within the edit budget.
type fuzzyMatch struct {
	term     string
	distance int
	docFreq  uint64
}

// fuzzyTerms walks the field's dictionary in sorted order computing the
// Levenshtein distance of each term to target. Consecutive terms share
// prefixes, so DP rows for the shared prefix are reused; when every cell
// of a row exceeds maxDist no term with that prefix can match and the walk
// seeks past the whole prefix. Terms must share the first prefixLen runes
// of target exactly.
func fuzzyTerms(ctx context.Context, snap *index.Snapshot, field, target string, maxDist, prefixLen, limit int) ([]fuzzyMatch, error) {
	q := []rune(target)
	prefix := ""
	if prefixLen > 0 {
		if prefixLen > len(q) {
			prefixLen = len(q)
		}
		prefix = string(q[:prefixLen])
	}
	it := snap.PrefixTerms(field, prefix)
	defer it.Close()

	rows := [][]int{make([]int, len(q)+1)}
	for j := range rows[0] {
		rows[0][j] = j
	}
	var prev []rune
	var out []fuzzyMatch
	steps := 0
	for it.Valid() {
		if steps++; steps%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		t := []rune(it.Term())
		common := commonPrefix(prev, t)
		pruned := -1
		for d := common + 1; d <= len(t); d++ {
			row := nextRow(rows[d-1], t[d-1], q)
			if d < len(rows) {
				rows[d] = row
			} else {
				rows = append(rows, row)
			}
			if minOf(row) > maxDist {
				pruned = d
				break
			}
		}
		if pruned > 0 {
			skip := store.PrefixEnd([]byte(string(t[:pruned])))
			if skip == nil {
				break
			}
			prev = t[:pruned-1]
			it.Seek(string(skip))
			continue
		}
		if dist := rows[len(t)][len(q)]; dist <= maxDist {
			out = append(out, fuzzyMatch{term: string(t), distance: dist, docFreq: it.DocFreq()})
			if limit > 0 && len(out) > limit {
				return nil, errTooManyTerms(field, limit)
			}
		}
		prev = t
		it.Next()
	}
	return out, it.Err()
}

func nextRow(prev []int, c rune, q []rune) []int {
	row := make([]int, len(prev))
	row[0] = prev[0] + 1
	for j := 1; j < len(row); j++ {
		cost := 1
		if q[j-1] == c {
			cost = 0
		}
		row[j] = min(prev[j]+1, row[j-1]+1, prev[j-1]+cost)
	}
	return row
}

func minOf(row []int) int {
	m := row[0]
	for _, v := range row[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

func commonPrefix(a, b []rune) int {
	n := 0
	for n < len(a) && n < len(b) && a[n] == b[n] {
		n++
	}
	return n
}

// Levenshtein is the plain edit distance between two strings, in runes.
func Levenshtein(a, b string) int {
	q := []rune(b)
	row := make([]int, len(q)+1)
	for j := range row {
		row[j] = j
	}
	for _, c := range a {
		row = nextRow(row, c, q)
	}
	return row[len(q)]
}

