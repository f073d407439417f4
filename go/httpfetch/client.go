// Package httpfetch provides the default slice.Fetcher: an *http.Client
// configured with the dial/request timeouts go/httputils.NewTimeoutClient
// uses, trimmed down to just that timeout shaping since this module has
// no component to hang the rest of httputils's GCP-metrics/OAuth/gzip
// concerns on.
package httpfetch

import (
	"context"
	"net"
	"net/http"
	"time"
)

// Default dial and request timeouts, matching go/httputils's constants.
const (
	DialTimeout    = time.Minute
	RequestTimeout = 5 * time.Minute
)

// Client is the default slice.Fetcher.
type Client struct {
	http *http.Client
}

// New returns a Client with the default timeouts.
func New() *Client {
	return NewWithTimeouts(DialTimeout, RequestTimeout)
}

// NewWithTimeouts returns a Client with custom dial and request timeouts.
func NewWithTimeouts(dialTimeout, requestTimeout time.Duration) *Client {
	return &Client{
		http: &http.Client{
			Transport: &http.Transport{
				Dial: (&net.Dialer{Timeout: dialTimeout}).Dial,
			},
			Timeout: requestTimeout,
		},
	}
}

// Do implements slice.Fetcher.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	return c.http.Do(req.WithContext(ctx))
}
