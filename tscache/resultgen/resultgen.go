// Package resultgen implements the result generator: it reads the
// cache, plans and coalesces slices, fires them concurrently, and
// streams one snapshot per completed slice -- merged into the running
// result -- before scheduling the final write-back.
package resultgen

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/tlemo/catapult/go/boltstore"
	"github.com/tlemo/catapult/tscache/cachemodel"
	"github.com/tlemo/catapult/tscache/cachereader"
	"github.com/tlemo/catapult/tscache/cachewriter"
	"github.com/tlemo/catapult/tscache/coalesce"
	"github.com/tlemo/catapult/tscache/planner"
	"github.com/tlemo/catapult/tscache/rangealg"
	"github.com/tlemo/catapult/tscache/request"
	"github.com/tlemo/catapult/tscache/rowmerge"
	"github.com/tlemo/catapult/tscache/slice"
	"github.com/tlemo/catapult/tscache/types"
)

// Deps bundles Run's collaborators.
type Deps struct {
	DB       *boltstore.DB
	Fetcher  slice.Fetcher
	Registry *coalesce.Registry
	Planner  planner.Options
}

// Run executes req end to end and sends one Snapshot per emission point
// on out -- the cached snapshot first, then one per completed slice in
// completion order -- closing out when the stream ends. now is the
// generator's notion of the current time, used for negative-result
// suppression and for timestamps written to the cache.
//
// Launched slices run with context.Background(), not ctx: once fired, a
// slice and its eventual write-back complete even if ctx is cancelled,
// since cache warming is a desirable side effect of an abandoned
// request. ctx only gates whether a snapshot still has a reader -- once
// it's done, Run stops trying to send but keeps merging and still
// performs the write-back before returning, so a caller that only
// launches Run in its own goroutine does not need to wait on it to know
// the cache has been warmed.
func Run(ctx context.Context, req *request.Request, deps Deps, now time.Time, out chan<- cachemodel.Snapshot) {
	defer close(out)

	cached, err := cachereader.Read(deps.DB, req, now)
	if err != nil {
		logrus.WithError(err).WithField("store", req.Identity.StoreName()).Error("cache read failed")
		cached = &cachemodel.CacheResult{AvailableRangeByCol: cachemodel.AvailableRangeByCol{}}
	}

	merged := append([]types.DataRow(nil), cached.Data...)
	columns := initialColumns(cached)

	send(ctx, out, cachemodel.Snapshot{
		ImprovementDirection: cached.ImprovementDirection,
		Units:                cached.Units,
		Columns:              columns.Slice(),
		Data:                 merged,
	})

	if planner.IsNegativeResultSuppressed(cached.MissingTimestamp, now, planner.MissingTimeseriesRetryWindow) {
		return
	}

	slices := planner.Plan(req, cached.AvailableRangeByCol, deps.Planner)
	if len(slices) == 0 {
		return
	}

	kept, borrowed := deps.Registry.Coalesce(req.Identity, slices)
	entry := deps.Registry.Register(req.Identity, kept)
	defer deps.Registry.Deregister(entry)

	all := make([]*slice.Slice, 0, len(kept)+len(borrowed))
	all = append(all, kept...)
	all = append(all, borrowed...)
	if len(all) == 0 {
		return
	}

	for res := range fireAll(all, deps.Fetcher) {
		if res.result.StatusCode == slice.StatusNotFound {
			writeMissingTimestamp(deps.DB, now)
			continue
		}

		if hasColumn(res.result.Columns, types.Alert) {
			merged = rowmerge.PurgeColumn(merged, types.Alert, rowmerge.ByRevision, req.Range)
		}
		for _, col := range res.result.Columns {
			columns.Add(col)
		}
		merged = rowmerge.Merge(rowmerge.ByRevision, merged, filterInRange(res.result.Rows, req.Range))

		snap := cachemodel.Snapshot{
			ImprovementDirection: cached.ImprovementDirection,
			Units:                cached.Units,
			Columns:              columns.Slice(),
			Data:                 merged,
		}
		if res.result.Err != nil {
			snap.Error = res.result.Err.Error()
			snap.Status = res.result.StatusCode
		}
		send(ctx, out, snap)
	}

	if len(merged) > 0 {
		final := cachemodel.MergedResult{Columns: columns.Slice(), Data: merged}
		writeFinalResult(deps.DB, now, req, final, cached)
	}
}

type completion struct {
	slice  *slice.Slice
	result *slice.Result
}

// fireAll launches every slice in all concurrently via an errgroup and
// returns a channel that yields each one's result as it completes, in
// completion order rather than submission order.
func fireAll(all []*slice.Slice, fetcher slice.Fetcher) <-chan completion {
	out := make(chan completion, len(all))
	var g errgroup.Group
	for _, s := range all {
		s := s
		g.Go(func() error {
			res := s.Fire(context.Background(), fetcher)
			out <- completion{slice: s, result: res}
			return nil
		})
	}
	go func() {
		_ = g.Wait()
		close(out)
	}()
	return out
}

func writeMissingTimestamp(db *boltstore.DB, now time.Time) {
	if err := cachewriter.WriteMissingTimestamp(db, now); err != nil {
		logrus.WithError(err).Warn("failed to write missing timestamp")
	}
}

func writeFinalResult(db *boltstore.DB, now time.Time, req *request.Request, final cachemodel.MergedResult, cached *cachemodel.CacheResult) {
	err := cachewriter.WriteFinalResult(db, now, req.Range, req.Columns, final, cached.ImprovementDirection, cached.Units)
	if err != nil {
		logrus.WithError(err).WithField("store", req.Identity.StoreName()).Warn("failed to write final result to cache")
	}
}

// initialColumns derives the cached snapshot's column set from what the
// cache reader actually found: revision if any row was returned, plus
// every column that had some available range overlapping the request.
func initialColumns(cached *cachemodel.CacheResult) types.ColumnSet {
	cols := types.NewColumnSet()
	if len(cached.Data) > 0 {
		cols.Add(types.Revision)
	}
	for col := range cached.AvailableRangeByCol {
		cols.Add(col)
	}
	return cols
}

func hasColumn(cols []types.ColumnName, target types.ColumnName) bool {
	for _, c := range cols {
		if c == target {
			return true
		}
	}
	return false
}

func filterInRange(rows []types.DataRow, r rangealg.Range) []types.DataRow {
	var out []types.DataRow
	for _, row := range rows {
		if r.Contains(row.Revision()) {
			out = append(out, row)
		}
	}
	return out
}

// send attempts to deliver snap on out, but gives up without blocking
// forever if ctx is already done -- the caller went away, but the
// slices driving this snapshot have already been fired and will still
// complete and write back. snap.Data is copied row by row first, so later
// merges into the running result never mutate a snapshot that has
// already been handed to the consumer.
func send(ctx context.Context, out chan<- cachemodel.Snapshot, snap cachemodel.Snapshot) {
	if snap.Data != nil {
		rows := make([]types.DataRow, len(snap.Data))
		for i, row := range snap.Data {
			rows[i] = row.Clone()
		}
		snap.Data = rows
	}
	select {
	case out <- snap:
	case <-ctx.Done():
	}
}
