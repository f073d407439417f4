// Package cachewriter implements the write-back side of a request:
// a single read-write transaction that persists the fully-merged result
// of a completed request, plus the narrower immediate write a 404
// triggers on its own.
package cachewriter

import (
	"time"

	"github.com/pkg/errors"
	"github.com/tlemo/catapult/go/boltstore"
	"github.com/tlemo/catapult/tscache/cachemodel"
	"github.com/tlemo/catapult/tscache/rangealg"
	"github.com/tlemo/catapult/tscache/store"
	"github.com/tlemo/catapult/tscache/types"
)

// WriteMissingTimestamp records a remote 404, scheduled as soon as that
// slice response arrives rather than waiting for the rest of the
// request to finish.
func WriteMissingTimestamp(db *boltstore.DB, now time.Time) error {
	err := db.Update(func(tx boltstore.Tx) error {
		b, err := tx.Bucket(store.BucketMetadata)
		if err != nil {
			return err
		}
		if err := writeAccessTime(b, now); err != nil {
			return err
		}
		return putMeta(b, "missingTimestamp", now.Format(time.RFC3339))
	})
	return errors.Wrap(err, "failed to write missing timestamp")
}

// WriteFinalResult persists the fully-merged result of a completed
// request, once its snapshot stream has finished: every row of
// merged.Data is shallow-merged into the data sub-store, and the
// actually-covered range [reqRange.Min, lastRow.revision] is folded into
// every requested column's available-range list except revision and
// alert. improvementDirection/units, when non-empty, are written to
// metadata alongside. Callers only invoke this when merged.Data is
// non-empty; an empty result has nothing to cover and is not written.
func WriteFinalResult(db *boltstore.DB, now time.Time, reqRange rangealg.Range, requestedColumns types.ColumnSet, merged cachemodel.MergedResult, improvementDirection, units string) error {
	lastRevision := merged.Data[len(merged.Data)-1].Revision()
	covered := rangealg.New(reqRange.Min, lastRevision)

	err := db.Update(func(tx boltstore.Tx) error {
		metaBucket, err := tx.Bucket(store.BucketMetadata)
		if err != nil {
			return err
		}
		if err := writeAccessTime(metaBucket, now); err != nil {
			return err
		}
		if improvementDirection != "" {
			if err := putMeta(metaBucket, "improvement_direction", improvementDirection); err != nil {
				return err
			}
		}
		if units != "" {
			if err := putMeta(metaBucket, "units", units); err != nil {
				return err
			}
		}

		dataBucket, err := tx.Bucket(store.BucketData)
		if err != nil {
			return err
		}
		if err := mergeRows(dataBucket, merged.Data); err != nil {
			return err
		}

		rangesBucket, err := tx.Bucket(store.BucketRanges)
		if err != nil {
			return err
		}
		for col := range requestedColumns {
			if col == types.Revision || col == types.Alert {
				continue
			}
			if err := extendRange(rangesBucket, col, covered); err != nil {
				return err
			}
		}
		return nil
	})
	return errors.Wrap(err, "failed to write final result to cache")
}

func writeAccessTime(b boltstore.SubStore, now time.Time) error {
	return putMeta(b, store.AccessTimeKey, now.Format(time.RFC3339))
}

func putMeta(b boltstore.SubStore, key, value string) error {
	raw, err := store.EncodeMetaValue(value)
	if err != nil {
		return err
	}
	return b.Put([]byte(key), raw)
}

// mergeRows shallow-merges each row into whatever is already stored
// under its revision key, with the incoming row winning field conflicts,
// and writes the result back.
func mergeRows(b boltstore.SubStore, rows []types.DataRow) error {
	for _, row := range rows {
		key := store.RevisionKey(row.Revision())
		merged := row.Clone()
		if raw := b.Get(key); raw != nil {
			existing, err := store.DecodeRow(raw)
			if err != nil {
				return err
			}
			existing.Merge(row)
			merged = existing
		}
		encoded, err := store.EncodeRow(merged)
		if err != nil {
			return err
		}
		if err := b.Put(key, encoded); err != nil {
			return err
		}
	}
	return nil
}

// extendRange folds r into col's stored available-range list.
func extendRange(b boltstore.SubStore, col types.ColumnName, r rangealg.Range) error {
	raw := b.Get([]byte(col))
	existing, err := store.DecodeRanges(raw)
	if err != nil {
		return err
	}
	merged := r.MergeInto(existing)
	encoded, err := store.EncodeRanges(merged)
	if err != nil {
		return err
	}
	return b.Put([]byte(col), encoded)
}
