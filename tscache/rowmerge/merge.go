// Package rowmerge implements the insertion-sort merge of DataRow slices
// keyed by revision, with last-write-wins semantics per field.
package rowmerge

import (
	"github.com/tlemo/catapult/tscache/rangealg"
	"github.com/tlemo/catapult/tscache/types"
)

// KeyFunc extracts the sort/merge key from a DataRow.
type KeyFunc func(types.DataRow) float64

// ByRevision is the KeyFunc used throughout the cache.
func ByRevision(r types.DataRow) float64 { return r.Revision() }

// FindLowIndex returns the smallest index i such that keyFn(array[i]) >=
// loVal, or len(array) if no such index exists. It returns 0 on an empty
// array.
//
// The source this cache is modeled on returns 1 on an empty array, which
// would splice a new row at index 1 of a single-element target -- past
// its end. That is treated here as a bug and fixed: the empty case
// returns 0.
func FindLowIndex(array []types.DataRow, keyFn KeyFunc, loVal float64) int {
	lo, hi := 0, len(array)
	for lo < hi {
		mid := (lo + hi) / 2
		if keyFn(array[mid]) >= loVal {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	return lo
}

// Merge merges each row of each input into target, in place, keeping
// target sorted ascending by keyFn. For a row whose key already exists
// in target, fields are shallow-merged into the existing row
// (last-write-wins); otherwise a shallow copy of the row is spliced in
// at the right position.
//
// When the same key appears in more than one input, or more than once
// within the same input, fields from later rows win -- merge order
// matters.
func Merge(keyFn KeyFunc, target []types.DataRow, inputs ...[]types.DataRow) []types.DataRow {
	for _, input := range inputs {
		for _, row := range input {
			key := keyFn(row)
			idx := FindLowIndex(target, keyFn, key)
			if idx < len(target) && keyFn(target[idx]) == key {
				target[idx].Merge(row)
			} else {
				target = spliceAt(target, idx, row.Clone())
			}
		}
	}
	return target
}

// PurgeColumn deletes col from every row in rows whose key (per keyFn)
// falls within r, in place. Used before re-merging a freshly-fetched
// alert slice, since alerts may have been nudged server-side and a
// stale value must not survive alongside the new one.
func PurgeColumn(rows []types.DataRow, col types.ColumnName, keyFn KeyFunc, r rangealg.Range) []types.DataRow {
	for _, row := range rows {
		if r.Contains(keyFn(row)) {
			delete(row, col)
		}
	}
	return rows
}

func spliceAt(target []types.DataRow, idx int, row types.DataRow) []types.DataRow {
	target = append(target, nil)
	copy(target[idx+1:], target[idx:])
	target[idx] = row
	return target
}
