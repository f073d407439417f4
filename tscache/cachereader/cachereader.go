// Package cachereader implements the cache-read side of a request: it
// loads metadata, cached rows clipped to the request range, and
// per-column availability, in a single transaction.
package cachereader

import (
	"time"

	"github.com/pkg/errors"
	"github.com/tlemo/catapult/go/boltstore"
	"github.com/tlemo/catapult/tscache/cachemodel"
	"github.com/tlemo/catapult/tscache/rangealg"
	"github.com/tlemo/catapult/tscache/request"
	"github.com/tlemo/catapult/tscache/store"
	"github.com/tlemo/catapult/tscache/types"
)

// Read loads the cache for req out of db. now is
// recorded as the store's access time -- _accessTime is updated on
// every read as well as every write, so Read needs a read-write
// transaction even though it never otherwise mutates the store.
func Read(db *boltstore.DB, req *request.Request, now time.Time) (*cachemodel.CacheResult, error) {
	result := &cachemodel.CacheResult{
		AvailableRangeByCol: cachemodel.AvailableRangeByCol{},
	}

	err := db.Update(func(tx boltstore.Tx) error {
		metaBucket, err := tx.Bucket(store.BucketMetadata)
		if err != nil {
			return err
		}
		readMetadata(metaBucket, result)
		if err := writeAccessTime(metaBucket, now); err != nil {
			return err
		}

		rangesBucket, err := tx.Bucket(store.BucketRanges)
		if err != nil {
			return err
		}
		anyOverlap := false
		for col := range req.Columns {
			if col == types.Revision {
				continue
			}
			avail, ok, err := availableRangeForColumn(rangesBucket, col, req.Range)
			if err != nil {
				return err
			}
			if ok {
				result.AvailableRangeByCol[col] = avail
				anyOverlap = true
			}
		}

		if !anyOverlap {
			return nil
		}

		dataBucket, err := tx.Bucket(store.BucketData)
		if err != nil {
			return err
		}
		data, err := readData(dataBucket, req.Range)
		if err != nil {
			return err
		}
		result.Data = data
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to read cache")
	}
	return result, nil
}

func writeAccessTime(b boltstore.SubStore, now time.Time) error {
	raw, err := store.EncodeMetaValue(now.Format(time.RFC3339))
	if err != nil {
		return err
	}
	return b.Put([]byte(store.AccessTimeKey), raw)
}

func readMetadata(b boltstore.SubStore, result *cachemodel.CacheResult) {
	if raw := b.Get([]byte("improvement_direction")); raw != nil {
		_ = store.DecodeMetaValue(raw, &result.ImprovementDirection)
	}
	if raw := b.Get([]byte("units")); raw != nil {
		_ = store.DecodeMetaValue(raw, &result.Units)
	}
	if raw := b.Get([]byte("missingTimestamp")); raw != nil {
		var s string
		if err := store.DecodeMetaValue(raw, &s); err == nil {
			if t, err := time.Parse(time.RFC3339, s); err == nil {
				result.MissingTimestamp = &t
			}
		}
	}
}

// availableRangeForColumn returns the first stored range for col whose
// intersection with reqRange is non-empty, and that intersection.
// ok is false if no stored range overlaps.
func availableRangeForColumn(b boltstore.SubStore, col types.ColumnName, reqRange rangealg.Range) (rangealg.Range, bool, error) {
	raw := b.Get([]byte(col))
	if raw == nil {
		return rangealg.Empty(), false, nil
	}
	ranges, err := store.DecodeRanges(raw)
	if err != nil {
		return rangealg.Empty(), false, err
	}
	for _, r := range ranges {
		inter := r.Intersection(reqRange)
		if !inter.IsEmpty() {
			return inter, true, nil
		}
	}
	return rangealg.Empty(), false, nil
}

// readData reads all rows if the request range is fully unset (both min
// 0 and max unbounded), otherwise only rows within the inclusive
// request range.
func readData(b boltstore.SubStore, reqRange rangealg.Range) ([]types.DataRow, error) {
	var lo, hi []byte
	if reqRange.Min != 0 {
		lo = store.RevisionKey(reqRange.Min)
	}
	if reqRange.Max != rangealg.UnboundedMax {
		hi = store.RevisionKey(reqRange.Max)
	}

	var rows []types.DataRow
	err := b.IterateRange(lo, hi, func(key, value []byte) error {
		row, err := store.DecodeRow(value)
		if err != nil {
			return err
		}
		rows = append(rows, row)
		return nil
	})
	return rows, err
}
