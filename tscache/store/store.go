// Package store layers the timeseries-cache schema (data/metadata/ranges
// sub-stores, schema version, key encodings) over the generic
// transactional adapter in go/boltstore.
package store

import (
	"encoding/binary"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"

	"github.com/pkg/errors"
	"github.com/tlemo/catapult/go/boltstore"
	"github.com/tlemo/catapult/tscache/rangealg"
	"github.com/tlemo/catapult/tscache/types"
)

// Sub-store (bucket) names.
const (
	BucketData     = "data"
	BucketMetadata = "metadata"
	BucketRanges   = "ranges"
)

// SchemaVersion is the only schema version this module understands.
// Lifecycle: it is recorded once on first access and checked on every
// subsequent open; a mismatch is a fatal error rather than a migration,
// since there is exactly one version in this design.
const SchemaVersion = 1

const schemaVersionKey = "_schemaVersion"

// AccessTimeKey is the metadata key for the last-read-or-write timestamp,
// the sole signal external evictors are expected to use (see cmd/tscachegc).
const AccessTimeKey = "_accessTime"

var nonAlnum = regexp.MustCompile(`[^A-Za-z0-9]+`)

// Open opens (creating if necessary) the bbolt file backing id's store
// under dataDir, named by the identity's store name.
func Open(dataDir string, id types.Identity) (*boltstore.DB, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, errors.Wrapf(err, "failed to create data dir %q", dataDir)
	}
	path := filepath.Join(dataDir, fileName(id))
	db, err := boltstore.Open(path, []string{BucketData, BucketMetadata, BucketRanges})
	if err != nil {
		return nil, err
	}
	if err := checkSchemaVersion(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func fileName(id types.Identity) string {
	return nonAlnum.ReplaceAllString(id.StoreName(), "_") + ".db"
}

func checkSchemaVersion(db *boltstore.DB) error {
	return db.Update(func(tx boltstore.Tx) error {
		b, err := tx.Bucket(BucketMetadata)
		if err != nil {
			return err
		}
		raw := b.Get([]byte(schemaVersionKey))
		if raw == nil {
			return b.Put([]byte(schemaVersionKey), mustEncode(SchemaVersion))
		}
		var got int
		if err := json.Unmarshal(raw, &got); err != nil {
			return errors.Wrap(err, "failed to decode schema version")
		}
		if got != SchemaVersion {
			return errors.Errorf("store schema version %d is incompatible with %d", got, SchemaVersion)
		}
		return nil
	})
}

func mustEncode(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

// RevisionKey encodes a revision number as a big-endian, order-preserving
// key so bbolt's byte-lexicographic cursor order matches numeric order
// for the non-negative revisions this cache deals in.
func RevisionKey(revision float64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(revision))
	return key
}

// DecodeRevisionKey is the inverse of RevisionKey.
func DecodeRevisionKey(key []byte) float64 {
	return float64(binary.BigEndian.Uint64(key))
}

// EncodeRow JSON-encodes a DataRow for storage in the data sub-store.
func EncodeRow(row types.DataRow) ([]byte, error) {
	b, err := json.Marshal(row)
	return b, errors.Wrap(err, "failed to encode row")
}

// DecodeRow is the inverse of EncodeRow.
func DecodeRow(data []byte) (types.DataRow, error) {
	var row types.DataRow
	err := json.Unmarshal(data, &row)
	return row, errors.Wrap(err, "failed to decode row")
}

// EncodeRanges JSON-encodes a column's available-range list for storage
// in the ranges sub-store.
func EncodeRanges(ranges []rangealg.Range) ([]byte, error) {
	b, err := json.Marshal(ranges)
	return b, errors.Wrap(err, "failed to encode ranges")
}

// DecodeRanges is the inverse of EncodeRanges.
func DecodeRanges(data []byte) ([]rangealg.Range, error) {
	var ranges []rangealg.Range
	if data == nil {
		return nil, nil
	}
	err := json.Unmarshal(data, &ranges)
	return ranges, errors.Wrap(err, "failed to decode ranges")
}

// EncodeMetaValue JSON-encodes a single metadata value.
func EncodeMetaValue(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	return b, errors.Wrap(err, "failed to encode metadata value")
}

// DecodeMetaValue decodes a single metadata value into v.
func DecodeMetaValue(data []byte, v any) error {
	return errors.Wrap(json.Unmarshal(data, v), "failed to decode metadata value")
}
