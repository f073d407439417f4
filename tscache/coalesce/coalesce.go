// Package coalesce implements the in-flight request registry: a
// process-wide map from timeseries identity to the slices of every
// currently-executing request for that identity, used to prune a new
// request's plan against work already underway.
package coalesce

import (
	"sync"

	"github.com/tlemo/catapult/tscache/slice"
	"github.com/tlemo/catapult/tscache/types"
)

// Registry tracks live requests keyed by persistent-store name. It plays
// the same "single mutex guarding a map" role perf/go/progress.tracker
// plays around its LRU cache, generalized from a random progress id to
// the timeseries identity and from age-based eviction to explicit
// Register/Deregister, since membership here is bound to the request's
// own lifecycle rather than a cache TTL.
type Registry struct {
	mu      sync.Mutex
	byStore map[string][]*Entry
}

// Entry is one live request's slice set, as registered with Register.
type Entry struct {
	identity types.Identity
	slices   []*slice.Slice
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byStore: map[string][]*Entry{}}
}

// Coalesce compares mySlices against every slice of every other live
// request for id, before this request itself registers. For each of
// mySlices, any peer slice whose range covers it (their intersection's
// duration is at least mySlice's own duration) has its shared columns
// removed from mySlice and is added to the returned borrowed set. A
// slice that shrinks to just {revision} after pruning is dropped
// entirely.
func (r *Registry) Coalesce(id types.Identity, mySlices []*slice.Slice) (kept, borrowed []*slice.Slice) {
	r.mu.Lock()
	peers := append([]*Entry(nil), r.byStore[id.StoreName()]...)
	r.mu.Unlock()

	borrowedSet := map[*slice.Slice]bool{}
	for _, s := range mySlices {
		for _, peer := range peers {
			for _, peerSlice := range peer.slices {
				if !coversRange(peerSlice, s) {
					continue
				}
				shared := sharedColumns(s.Columns, peerSlice.Columns)
				if len(shared) == 0 {
					continue
				}
				for _, c := range shared {
					s.Columns.Remove(c)
				}
				if !borrowedSet[peerSlice] {
					borrowedSet[peerSlice] = true
					borrowed = append(borrowed, peerSlice)
				}
			}
		}
		if !s.Columns.OnlyRevision() {
			kept = append(kept, s)
		}
	}
	return kept, borrowed
}

// Register adds this request's own (post-coalescing) slices to the
// registry so later requests can borrow from them, and returns the
// Entry to pass to Deregister once the request completes.
func (r *Registry) Register(id types.Identity, slices []*slice.Slice) *Entry {
	e := &Entry{identity: id, slices: slices}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byStore[id.StoreName()] = append(r.byStore[id.StoreName()], e)
	return e
}

// Deregister removes e from the registry. Safe to call even if e's
// peer finished and deregistered mid-coalesce; its already-memoized
// slice.Result is still usable by whoever borrowed it.
func (r *Registry) Deregister(e *Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := e.identity.StoreName()
	list := r.byStore[name]
	for i, x := range list {
		if x == e {
			r.byStore[name] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(r.byStore[name]) == 0 {
		delete(r.byStore, name)
	}
}

// coversRange reports whether peer's range covers s's range: their
// intersection's duration is at least s's own duration.
func coversRange(peer, s *slice.Slice) bool {
	inter := peer.Range.Intersection(s.Range)
	return inter.Duration() >= s.Range.Duration()
}

// sharedColumns returns the columns a and b both carry, except revision:
// every slice keeps revision, so a fully-borrowed slice is left with
// exactly {revision} and Coalesce drops it.
func sharedColumns(a, b types.ColumnSet) []types.ColumnName {
	var shared []types.ColumnName
	for c := range a {
		if c != types.Revision && b.Has(c) {
			shared = append(shared, c)
		}
	}
	return shared
}
