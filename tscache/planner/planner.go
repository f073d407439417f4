// Package planner implements the slice-planning algorithm: from cached
// availability, the request range and the requested columns, it
// produces the minimal set of remote slices still needed.
package planner

import (
	"net/http"
	"time"

	"github.com/tlemo/catapult/tscache/cachemodel"
	"github.com/tlemo/catapult/tscache/rangealg"
	"github.com/tlemo/catapult/tscache/request"
	"github.com/tlemo/catapult/tscache/slice"
	"github.com/tlemo/catapult/tscache/types"
)

// MissingTimeseriesRetryWindow is the default retry window: a
// missingTimestamp younger than this suppresses retries entirely.
const MissingTimeseriesRetryWindow = 2*24*time.Hour + 19*time.Hour + 12*time.Minute // 2.8 days

// IsNegativeResultSuppressed reports whether missingTimestamp is recent
// enough (within window of now) that no slices should be planned at all.
// A nil missingTimestamp is never suppressed.
func IsNegativeResultSuppressed(missingTimestamp *time.Time, now time.Time, window time.Duration) bool {
	if missingTimestamp == nil {
		return false
	}
	return now.Sub(*missingTimestamp) < window
}

// Options configures the concrete slices Plan emits.
type Options struct {
	Identity  types.Identity
	Statistic string
	URL       string
	Method    string
	Header    http.Header
}

// Plan returns the minimal slice set needed to complete req, given avail
// (the cache reader's per-column available-range intersections).
func Plan(req *request.Request, avail cachemodel.AvailableRangeByCol, opts Options) []*slice.Slice {
	remaining := req.Columns.Clone()
	var slices []*slice.Slice

	// Step 1: histograms are split off into their own slices.
	if remaining.Has(types.Histogram) {
		remaining.Remove(types.Histogram)
		histAvail, ok := avail[types.Histogram]
		if !ok {
			histAvail = rangealg.Empty()
		}
		reqRange := req.Range
		missing, _ := rangealg.Difference(&reqRange, &histAvail)
		for _, m := range missing {
			slices = append(slices, newSlice(opts, m, types.NewColumnSet(types.Histogram)))
		}
	}

	// Step 2: fully-cached columns drop out.
	for col := range remaining {
		if col == types.Revision || col == types.Alert {
			continue
		}
		colAvail, ok := avail[col]
		if ok && colAvail.Duration() == req.Range.Duration() {
			remaining.Remove(col)
		}
	}

	// Step 3: all-cached short-circuit.
	if remaining.OnlyRevision() {
		return slices
	}

	// Step 4: common-intersection reduction across remaining non-revision
	// columns.
	intersection := req.Range
	haveIntersection := false
	for col := range remaining {
		if col == types.Revision {
			continue
		}
		colAvail, ok := avail[col]
		if !ok {
			intersection = rangealg.Empty()
			haveIntersection = true
			break
		}
		if !haveIntersection {
			intersection = colAvail
			haveIntersection = true
		} else {
			intersection = intersection.Intersection(colAvail)
		}
	}
	if !haveIntersection {
		intersection = rangealg.Empty()
	}

	reqRange := req.Range
	missing, _ := rangealg.Difference(&reqRange, &intersection)

	// Step 5: one slice per missing sub-range, carrying revision plus
	// whatever columns are still outstanding.
	for _, m := range missing {
		slices = append(slices, newSlice(opts, m, remaining.Clone()))
	}

	return slices
}

func newSlice(opts Options, r rangealg.Range, columns types.ColumnSet) *slice.Slice {
	return slice.New(opts.Identity, opts.Statistic, r, columns, opts.URL, opts.Method, opts.Header)
}
