// Package streamtracker implements the result-channel side-channel:
// the first snapshot of a request travels back on the original HTTP
// response, every subsequent one is served from a named side-channel
// that a client polls. It plays the role perf/go/progress.Tracker plays
// for long-running Perf queries, generalized from "one mutable Progress
// value" to "a queue of already-merged Snapshot values", since this
// cache's result channel is a stream of discrete values rather than one
// value mutated in place.
package streamtracker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/tlemo/catapult/tscache/cachemodel"
)

// cacheSize bounds the number of streams tracked at once, same order of
// magnitude as perf/go/progress.tracker's.
const cacheSize = 1000

// Tracker derives a side-channel URL for a Snapshot stream, buffers
// snapshots as they arrive, and serves them one at a time to a polling
// client.
type Tracker struct {
	cache       *lru.Cache
	basePath    string
	pollTimeout time.Duration

	// cacheDuration is how long a finished stream's entry is kept around
	// after it closes, so a slow client's final poll still finds it.
	cacheDuration     time.Duration
	cacheUpdatePeriod time.Duration
}

// New returns a Tracker serving side-channel URLs under basePath, which
// must end in "/". pollTimeout bounds how long Handler blocks a client
// waiting for the next snapshot before returning an empty not-yet
// response; cacheDuration bounds how long a finished stream's last
// state is kept reachable after it closes.
func New(basePath string, pollTimeout, cacheDuration time.Duration) (*Tracker, error) {
	if !strings.HasSuffix(basePath, "/") {
		return nil, errors.Errorf("basePath %q must end with a '/'", basePath)
	}
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create stream tracker cache")
	}
	return &Tracker{
		cache:             cache,
		basePath:          basePath,
		pollTimeout:       pollTimeout,
		cacheDuration:     cacheDuration,
		cacheUpdatePeriod: time.Minute,
	}, nil
}

// wireSnapshot is what Handler serves on each poll.
type wireSnapshot struct {
	Snapshot *cachemodel.Snapshot `json:"snapshot,omitempty"`
	Finished bool                 `json:"finished"`
}

// Add registers a Snapshot stream under the side-channel id derived
// from name, and starts draining snapshots off the channel in the
// background. It returns the URL path the caller should hand back to
// the client for polling.
//
// name is request-url + "?" + urlencode(body): the same value a client
// can compute for itself from the request it is about to send, without
// waiting on a response, so it can start polling the side-channel
// before the first response even arrives, and so that retrying an
// identical request resolves to the same side-channel URL rather than
// minting a new one each time. Add hashes name into ChannelID rather
// than using it as the path segment directly, since it may contain
// characters a URL path segment can't.
//
// snapshots is expected to close when the stream ends, same contract
// resultgen.Run's out channel has.
func (t *Tracker) Add(name string, snapshots <-chan cachemodel.Snapshot) string {
	id := ChannelID(name)
	e := newEntry()
	t.cache.Add(id, e)
	go func() {
		for snap := range snapshots {
			e.push(snap)
		}
		e.close()
	}()
	return t.basePath + id
}

// ChannelID deterministically derives the side-channel path segment for
// name. Equal names always produce equal ids, so a client that computes
// name the same way the server does can construct the polling URL
// itself instead of only learning it from the first response.
func ChannelID(name string) string {
	sum := sha256.Sum256([]byte(name))
	return hex.EncodeToString(sum[:])
}

// Handler serves the next buffered snapshot for the id named by the
// last path segment of the request, long-polling up to pollTimeout if
// none is ready yet. A finished stream with nothing left to deliver
// reports finished:true; an unknown id (never registered, or evicted
// after cacheDuration) is a 404.
func (t *Tracker) Handler(w http.ResponseWriter, r *http.Request) {
	id := path.Base(r.URL.Path)
	v, ok := t.cache.Get(id)
	if !ok {
		http.NotFound(w, r)
		return
	}
	e := v.(*entry)

	ctx, cancel := context.WithTimeout(r.Context(), t.pollTimeout)
	defer cancel()
	snap, hasSnap, finished := e.next(ctx)

	w.Header().Set("Content-Type", "application/json")
	result := wireSnapshot{Finished: finished && !hasSnap}
	if hasSnap {
		result.Snapshot = &snap
	}
	if err := json.NewEncoder(w).Encode(result); err != nil {
		http.Error(w, "failed to serialize JSON", http.StatusInternalServerError)
		logrus.WithError(err).Error("failed to encode stream tracker result")
	}
}

// Start runs the background cache-eviction sweep until ctx is done.
func (t *Tracker) Start(ctx context.Context) {
	ticker := time.NewTicker(t.cacheUpdatePeriod)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				t.sweep()
			}
		}
	}()
}

func (t *Tracker) sweep() {
	now := time.Now()
	for _, key := range t.cache.Keys() {
		v, ok := t.cache.Peek(key)
		if !ok {
			continue
		}
		e := v.(*entry)
		if finishedAt, done := e.finishedAt(); done && finishedAt.Add(t.cacheDuration).Before(now) {
			t.cache.Remove(key)
		}
	}
}

// entry holds one stream's not-yet-delivered snapshots and its
// finished/closed state, with a channel-based wake-up so Handler can
// long-poll for the next arrival instead of busy-waiting.
type entry struct {
	mu            sync.Mutex
	pending       []cachemodel.Snapshot
	wake          chan struct{}
	finished      bool
	finishedAtVal time.Time
}

func newEntry() *entry {
	return &entry{wake: make(chan struct{})}
}

func (e *entry) push(snap cachemodel.Snapshot) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending = append(e.pending, snap)
	e.notify()
}

func (e *entry) close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.finished = true
	e.finishedAtVal = time.Now()
	e.notify()
}

// notify wakes every call blocked in next, run under e.mu.
func (e *entry) notify() {
	close(e.wake)
	e.wake = make(chan struct{})
}

func (e *entry) finishedAt() (time.Time, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.finishedAtVal, e.finished && len(e.pending) == 0
}

// next pops the oldest pending snapshot, or blocks until one arrives,
// the stream finishes, or ctx expires, whichever comes first.
func (e *entry) next(ctx context.Context) (snap cachemodel.Snapshot, hasSnap, finished bool) {
	for {
		e.mu.Lock()
		if len(e.pending) > 0 {
			snap = e.pending[0]
			e.pending = e.pending[1:]
			e.mu.Unlock()
			return snap, true, false
		}
		if e.finished {
			e.mu.Unlock()
			return cachemodel.Snapshot{}, false, true
		}
		wake := e.wake
		e.mu.Unlock()

		select {
		case <-wake:
			continue
		case <-ctx.Done():
			return cachemodel.Snapshot{}, false, false
		}
	}
}
