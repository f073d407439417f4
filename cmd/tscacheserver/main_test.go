package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func postForm(t *testing.T, body string) *http.Request {
	t.Helper()
	r := httptest.NewRequest(http.MethodPost, "/timeseries", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	require.NoError(t, r.ParseForm())
	return r
}

func TestChannelName_IsRequestURLPlusEncodedBody(t *testing.T) {
	r := postForm(t, "columns=avg&test_suite=loading")
	assert.Equal(t, "/timeseries?columns=avg&test_suite=loading", channelName(r))
}

func TestChannelName_IsIndependentOfFieldOrderInBody(t *testing.T) {
	r1 := postForm(t, "columns=avg&test_suite=loading")
	r2 := postForm(t, "test_suite=loading&columns=avg")
	assert.Equal(t, channelName(r1), channelName(r2), "identical fields in any order must derive the same side-channel name")
}

func TestChannelName_DiffersWhenBodyDiffers(t *testing.T) {
	r1 := postForm(t, "columns=avg&test_suite=loading")
	r2 := postForm(t, "columns=p50&test_suite=loading")
	assert.NotEqual(t, channelName(r1), channelName(r2))
}
