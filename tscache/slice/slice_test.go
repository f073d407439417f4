package slice

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tlemo/catapult/tscache/rangealg"
	"github.com/tlemo/catapult/tscache/types"
)

type fakeFetcher struct {
	calls     int32
	responses []func(*http.Request) *http.Response
}

func (f *fakeFetcher) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	i := atomic.AddInt32(&f.calls, 1) - 1
	return f.responses[i](req), nil
}

func jsonResponse(status int, body any) *http.Response {
	b, _ := json.Marshal(body)
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Body:       io.NopCloser(strings.NewReader(string(b))),
	}
}

func testIdentity(t *testing.T) types.Identity {
	id, err := types.NewIdentity("suite", "measurement", "bot", "", "")
	require.NoError(t, err)
	return id
}

func TestFire_SuccessZipsColumnsPositionally(t *testing.T) {
	id := testIdentity(t)
	s := New(id, "avg", rangealg.New(0, 100), types.NewColumnSet("avg"), "http://backend/fetch", "", nil)

	fetcher := &fakeFetcher{responses: []func(*http.Request) *http.Response{
		func(r *http.Request) *http.Response {
			return jsonResponse(200, map[string]any{
				"data":    [][]any{{10.0, 1.5}, {20.0, 2.5}},
				"columns": []string{"revision", "avg"},
			})
		},
	}}

	result := s.Fire(context.Background(), fetcher)
	require.NoError(t, result.Err)
	require.Len(t, result.Rows, 2)
	assert.Equal(t, 10.0, result.Rows[0].Revision())
	assert.Equal(t, 1.5, result.Rows[0]["avg"])
	assert.Equal(t, 20.0, result.Rows[1].Revision())
	assert.ElementsMatch(t, []types.ColumnName{"revision", "avg"}, result.Columns)
}

func TestFire_IsMemoizedAcrossCalls(t *testing.T) {
	id := testIdentity(t)
	s := New(id, "avg", rangealg.New(0, 100), types.NewColumnSet("avg"), "http://backend/fetch", "", nil)

	fetcher := &fakeFetcher{responses: []func(*http.Request) *http.Response{
		func(r *http.Request) *http.Response {
			return jsonResponse(200, map[string]any{"data": [][]any{}, "columns": []string{"revision", "avg"}})
		},
	}}

	first := s.Fire(context.Background(), fetcher)
	second := s.Fire(context.Background(), fetcher)
	assert.Same(t, first, second)
	assert.EqualValues(t, 1, fetcher.calls)
}

func TestFire_RetriesOn500ThenSucceeds(t *testing.T) {
	id := testIdentity(t)
	s := New(id, "avg", rangealg.New(0, 100), types.NewColumnSet("avg"), "http://backend/fetch", "", nil)

	fetcher := &fakeFetcher{responses: []func(*http.Request) *http.Response{
		func(r *http.Request) *http.Response { return jsonResponse(500, map[string]any{}) },
		func(r *http.Request) *http.Response { return jsonResponse(500, map[string]any{}) },
		func(r *http.Request) *http.Response {
			return jsonResponse(200, map[string]any{"data": [][]any{{1.0}}, "columns": []string{"revision"}})
		},
	}}

	result := s.Fire(context.Background(), fetcher)
	require.NoError(t, result.Err)
	assert.EqualValues(t, 3, fetcher.calls)
}

func TestFire_GivesUpAfterMaxRetries(t *testing.T) {
	id := testIdentity(t)
	s := New(id, "avg", rangealg.New(0, 100), types.NewColumnSet("avg"), "http://backend/fetch", "", nil)

	respond500 := func(r *http.Request) *http.Response { return jsonResponse(500, map[string]any{}) }
	fetcher := &fakeFetcher{responses: []func(*http.Request) *http.Response{
		respond500, respond500, respond500, respond500,
	}}

	result := s.Fire(context.Background(), fetcher)
	require.Error(t, result.Err)
	assert.ErrorIs(t, result.Err, types.ErrTransientRemote)
	assert.EqualValues(t, MaxRetries+1, fetcher.calls)
}

func TestFire_404IsNotAnError(t *testing.T) {
	id := testIdentity(t)
	s := New(id, "avg", rangealg.New(0, 100), types.NewColumnSet("avg"), "http://backend/fetch", "", nil)

	fetcher := &fakeFetcher{responses: []func(*http.Request) *http.Response{
		func(r *http.Request) *http.Response { return jsonResponse(404, map[string]any{}) },
	}}

	result := s.Fire(context.Background(), fetcher)
	assert.NoError(t, result.Err)
	assert.Equal(t, 404, result.StatusCode)
}

func TestFire_OtherStatusIsRemoteError(t *testing.T) {
	id := testIdentity(t)
	s := New(id, "avg", rangealg.New(0, 100), types.NewColumnSet("avg"), "http://backend/fetch", "", nil)

	fetcher := &fakeFetcher{responses: []func(*http.Request) *http.Response{
		func(r *http.Request) *http.Response { return jsonResponse(403, map[string]any{}) },
	}}

	result := s.Fire(context.Background(), fetcher)
	require.Error(t, result.Err)
	assert.Equal(t, 403, result.StatusCode)
}

func TestBuildRequest_OmitsEmptyAndDefaultFields(t *testing.T) {
	id := testIdentity(t)
	s := New(id, "avg", rangealg.New(0, rangealg.UnboundedMax), types.NewColumnSet("avg"), "http://backend/fetch", "", nil)

	req, err := s.buildRequest(context.Background())
	require.NoError(t, err)
	body, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	form, err := url.ParseQuery(string(body))
	require.NoError(t, err)

	assert.Equal(t, "", form.Get("build_type"))
	assert.False(t, form.Has("min_revision"))
	assert.False(t, form.Has("max_revision"))
	assert.Equal(t, "revision,avg", form.Get("columns"))
}

func TestBuildRequest_IncludesBoundedRevisions(t *testing.T) {
	id := testIdentity(t)
	s := New(id, "avg", rangealg.New(50, 200), types.NewColumnSet("avg"), "http://backend/fetch", "", nil)

	req, err := s.buildRequest(context.Background())
	require.NoError(t, err)
	body, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	form, err := url.ParseQuery(string(body))
	require.NoError(t, err)

	assert.Equal(t, "50", form.Get("min_revision"))
	assert.Equal(t, "200", form.Get("max_revision"))
}

func TestEqual_StrictFieldComparison(t *testing.T) {
	id := testIdentity(t)
	a := New(id, "avg", rangealg.New(0, 100), types.NewColumnSet("avg"), "u", "", nil)
	b := New(id, "avg", rangealg.New(0, 100), types.NewColumnSet("avg"), "u", "", nil)
	c := New(id, "avg", rangealg.New(0, 50), types.NewColumnSet("avg"), "u", "", nil)

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}
