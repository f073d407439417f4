package streamtracker

import (
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tlemo/catapult/tscache/cachemodel"
	"github.com/tlemo/catapult/tscache/types"
)

func TestNew_InvalidBasePath_ReturnsError(t *testing.T) {
	_, err := New("/does/not/end/with/slash", time.Second, time.Minute)
	require.Error(t, err)
}

func TestHandler_UnknownID_Returns404(t *testing.T) {
	tr, err := New("/_/status/", 50*time.Millisecond, time.Minute)
	require.NoError(t, err)

	r := httptest.NewRequest("GET", "/_/status/does-not-exist", nil)
	w := httptest.NewRecorder()
	tr.Handler(w, r)
	assert.Equal(t, 404, w.Result().StatusCode)
}

func TestHandler_DeliversSnapshotsInOrderThenReportsFinished(t *testing.T) {
	tr, err := New("/_/status/", 50*time.Millisecond, time.Minute)
	require.NoError(t, err)

	ch := make(chan cachemodel.Snapshot, 2)
	ch <- cachemodel.Snapshot{Data: []types.DataRow{{types.Revision: float64(1)}}}
	ch <- cachemodel.Snapshot{Data: []types.DataRow{{types.Revision: float64(2)}}}
	close(ch)
	url := tr.Add("/timeseries?columns=avg", ch)

	first := poll(t, tr, url)
	require.NotNil(t, first.Snapshot)
	assert.False(t, first.Finished)
	assert.Equal(t, float64(1), first.Snapshot.Data[0][types.Revision])

	second := poll(t, tr, url)
	require.NotNil(t, second.Snapshot)
	assert.Equal(t, float64(2), second.Snapshot.Data[0][types.Revision])

	final := poll(t, tr, url)
	assert.Nil(t, final.Snapshot)
	assert.True(t, final.Finished)
}

func TestHandler_NoSnapshotYet_TimesOutWithoutFinished(t *testing.T) {
	tr, err := New("/_/status/", 20*time.Millisecond, time.Minute)
	require.NoError(t, err)

	ch := make(chan cachemodel.Snapshot)
	url := tr.Add("/timeseries?columns=avg", ch)

	got := poll(t, tr, url)
	assert.Nil(t, got.Snapshot)
	assert.False(t, got.Finished)
	close(ch)
}

func TestSweep_RemovesFinishedEntryOnlyAfterCacheDuration(t *testing.T) {
	tr, err := New("/_/status/", 50*time.Millisecond, 10*time.Millisecond)
	require.NoError(t, err)

	ch := make(chan cachemodel.Snapshot)
	close(ch)
	url := tr.Add("/timeseries?columns=avg", ch)
	_ = poll(t, tr, url) // drains to finished

	tr.sweep()
	assert.Equal(t, 1, tr.cache.Len(), "not yet past cacheDuration")

	time.Sleep(20 * time.Millisecond)
	tr.sweep()
	assert.Equal(t, 0, tr.cache.Len())
}

func TestAdd_SameNameAlwaysProducesTheSameURL(t *testing.T) {
	tr, err := New("/_/status/", 50*time.Millisecond, time.Minute)
	require.NoError(t, err)

	name := "/timeseries?columns=avg%2Crevision&test_suite=s"

	ch1 := make(chan cachemodel.Snapshot)
	close(ch1)
	url1 := tr.Add(name, ch1)

	ch2 := make(chan cachemodel.Snapshot)
	close(ch2)
	url2 := tr.Add(name, ch2)

	assert.Equal(t, url1, url2, "identical request names must resolve to the same side-channel URL")
	assert.Equal(t, tr.basePath+ChannelID(name), url1)
}

func TestAdd_DifferentNamesProduceDifferentURLs(t *testing.T) {
	tr, err := New("/_/status/", 50*time.Millisecond, time.Minute)
	require.NoError(t, err)

	ch1 := make(chan cachemodel.Snapshot)
	close(ch1)
	url1 := tr.Add("/timeseries?columns=avg", ch1)

	ch2 := make(chan cachemodel.Snapshot)
	close(ch2)
	url2 := tr.Add("/timeseries?columns=p50", ch2)

	assert.NotEqual(t, url1, url2)
}

func TestChannelID_IsStableAcrossCalls(t *testing.T) {
	name := "/timeseries?bot=linux&columns=avg&test_suite=loading"
	assert.Equal(t, ChannelID(name), ChannelID(name))
	assert.NotEqual(t, ChannelID(name), ChannelID(name+"x"))
}

func poll(t *testing.T, tr *Tracker, url string) wireSnapshot {
	t.Helper()
	r := httptest.NewRequest("GET", url, nil)
	w := httptest.NewRecorder()
	tr.Handler(w, r)
	require.Equal(t, 200, w.Result().StatusCode)
	var got wireSnapshot
	require.NoError(t, json.NewDecoder(w.Result().Body).Decode(&got))
	return got
}
