// Package types holds the data model shared by every component of the
// timeseries cache: the identity that names a persistent store, the
// request that is served out of it, and the snapshots streamed back to
// callers.
package types

import (
	"fmt"

	"github.com/pkg/errors"
)

// ColumnName is the name of a single column in a DataRow.
//
// Three names carry special semantics throughout the cache:
//   - Revision is the primary key, never fetched alone and never marked
//     available.
//   - Alert is always refetched and never marked available.
//   - Histogram is always requested in its own slices.
type ColumnName string

const (
	Revision  ColumnName = "revision"
	Alert     ColumnName = "alert"
	Histogram ColumnName = "histogram"
)

// Identity is the tuple that names one persistent store instance.
type Identity struct {
	TestSuite   string
	Measurement string
	Bot         string
	TestCase    string
	BuildType   string
}

// NewIdentity validates and returns an Identity.
func NewIdentity(testSuite, measurement, bot, testCase, buildType string) (Identity, error) {
	id := Identity{
		TestSuite:   testSuite,
		Measurement: measurement,
		Bot:         bot,
		TestCase:    testCase,
		BuildType:   buildType,
	}
	if testSuite == "" || measurement == "" || bot == "" {
		return Identity{}, errors.Wrapf(ErrMalformedRequest, "testSuite, measurement and bot are required, got %+v", id)
	}
	return id, nil
}

// StoreName returns the identity name template from the persistent store
// key space: "timeseries/{testSuite}/{measurement}/{bot}/{testCase}/{buildType}".
func (id Identity) StoreName() string {
	return fmt.Sprintf("timeseries/%s/%s/%s/%s/%s", id.TestSuite, id.Measurement, id.Bot, id.TestCase, id.BuildType)
}

// Equal reports whether id and other name the same persistent store.
//
// This is a strict field-by-field equality check that returns true when
// every identity field matches, rather than leaving the "all equal"
// case to an implicit falsy fallthrough.
func (id Identity) Equal(other Identity) bool {
	return id.TestSuite == other.TestSuite &&
		id.Measurement == other.Measurement &&
		id.Bot == other.Bot &&
		id.TestCase == other.TestCase &&
		id.BuildType == other.BuildType
}
