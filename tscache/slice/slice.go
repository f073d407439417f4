// Package slice implements a single pending remote fetch: one revision
// sub-range crossed with one column subset, with lazy firing and the
// HTTP 500 retry policy.
package slice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/tlemo/catapult/tscache/rangealg"
	"github.com/tlemo/catapult/tscache/types"
)

// MaxRetries is the number of times a slice re-fetches after an HTTP 500
// before giving up (4 attempts total).
const MaxRetries = 3

// StatusServerError and StatusNotFound are the two HTTP statuses with
// special handling: retry, and negative-result, respectively.
const (
	StatusServerError = http.StatusInternalServerError
	StatusNotFound    = http.StatusNotFound
)

// Fetcher is the external HTTP-transport collaborator. The default
// implementation is httpfetch.Client; tests use a fake.
type Fetcher interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// Result is what a Slice produces, once fired.
type Result struct {
	// Columns is the set of columns this result covers, after the
	// response's own columns field has been overwritten with the
	// requested columns.
	Columns []types.ColumnName
	Rows    []types.DataRow

	// StatusCode is the HTTP status of the fetch that produced this
	// result (0 if the request never reached the network).
	StatusCode int

	// Err is non-nil for a RemoteError (non-OK status other than 404,
	// or a TransientRemote that exhausted retries) or a transport-level
	// failure. A 404 is reported via StatusCode, not Err -- it is a
	// NegativeResult, not an error, per the error-handling design.
	Err error
}

// wireResponse is the JSON shape the backend returns on success.
type wireResponse struct {
	Data    [][]any  `json:"data"`
	Columns []string `json:"columns"`
	Error   string   `json:"error"`
	Status  int      `json:"status"`
}

// Slice is one pending remote fetch.
type Slice struct {
	Identity  types.Identity
	Statistic string
	Range     rangealg.Range
	Columns   types.ColumnSet
	Header    http.Header
	URL       string
	Method    string

	once    sync.Once
	result  *Result
	retries int
}

// New returns a Slice for the given identity, range and columns. revision
// is always added to columns; the caller need not include it.
func New(id types.Identity, statistic string, r rangealg.Range, columns types.ColumnSet, url, method string, header http.Header) *Slice {
	cols := columns.Clone()
	cols.Add(types.Revision)
	h := header.Clone()
	h.Del("Content-Type")
	return &Slice{
		Identity:  id,
		Statistic: statistic,
		Range:     r,
		Columns:   cols,
		Header:    h,
		URL:       url,
		Method:    method,
	}
}

// orderedColumns returns Columns as a deterministically ordered slice,
// revision first, the rest alphabetical. Both the wire-format encoding
// and the response's positional row zip rely on this same order.
func (s *Slice) orderedColumns() []types.ColumnName {
	rest := make([]string, 0, len(s.Columns))
	for c := range s.Columns {
		if c == types.Revision {
			continue
		}
		rest = append(rest, string(c))
	}
	sort.Strings(rest)
	out := make([]types.ColumnName, 0, len(s.Columns))
	out = append(out, types.Revision)
	for _, c := range rest {
		out = append(out, types.ColumnName(c))
	}
	return out
}

// buildRequest constructs the form-encoded HTTP request sent to the
// remote backend for this slice.
func (s *Slice) buildRequest(ctx context.Context) (*http.Request, error) {
	cols := s.orderedColumns()
	colNames := make([]string, len(cols))
	for i, c := range cols {
		colNames[i] = string(c)
	}

	form := url.Values{}
	form.Set("test_suite", s.Identity.TestSuite)
	form.Set("measurement", s.Identity.Measurement)
	form.Set("bot", s.Identity.Bot)
	form.Set("statistic", s.Statistic)
	form.Set("columns", strings.Join(colNames, ","))
	if s.Identity.BuildType != "" {
		form.Set("build_type", s.Identity.BuildType)
	}
	if s.Identity.TestCase != "" {
		form.Set("test_case", s.Identity.TestCase)
	}
	if !s.Range.IsEmpty() && s.Range.Min != 0 {
		form.Set("min_revision", strconv.FormatFloat(s.Range.Min, 'f', -1, 64))
	}
	if !s.Range.IsEmpty() && s.Range.Max != rangealg.UnboundedMax {
		form.Set("max_revision", strconv.FormatFloat(s.Range.Max, 'f', -1, 64))
	}

	method := s.Method
	if method == "" {
		method = http.MethodPost
	}
	req, err := http.NewRequestWithContext(ctx, method, s.URL, bytes.NewBufferString(form.Encode()))
	if err != nil {
		return nil, errors.Wrap(err, "failed to build slice request")
	}
	for k, v := range s.Header {
		req.Header[k] = v
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req, nil
}

// Fire executes the slice's fetch, at most once: the first caller
// performs the retry loop below, and every caller -- including peers
// that borrowed this slice from the in-flight coalescer -- observes the
// same memoized Result.
func (s *Slice) Fire(ctx context.Context, fetcher Fetcher) *Result {
	s.once.Do(func() {
		s.result = s.fetchWithRetry(ctx, fetcher)
	})
	return s.result
}

func (s *Slice) fetchWithRetry(ctx context.Context, fetcher Fetcher) *Result {
	for {
		result := s.fetchOnce(ctx, fetcher)
		if result.StatusCode == StatusServerError && s.retries < MaxRetries {
			s.retries++
			logrus.WithFields(logrus.Fields{
				"url":     s.URL,
				"attempt": s.retries + 1,
			}).Warn("slice fetch got HTTP 500, retrying")
			continue
		}
		return result
	}
}

func (s *Slice) fetchOnce(ctx context.Context, fetcher Fetcher) *Result {
	req, err := s.buildRequest(ctx)
	if err != nil {
		return &Result{Err: err}
	}

	resp, err := fetcher.Do(ctx, req)
	if err != nil {
		return &Result{Err: errors.Wrap(err, "slice fetch failed")}
	}
	defer resp.Body.Close()

	if resp.StatusCode == StatusNotFound {
		return &Result{StatusCode: resp.StatusCode}
	}
	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == StatusServerError {
			return &Result{StatusCode: resp.StatusCode, Err: types.ErrTransientRemote}
		}
		return &Result{
			StatusCode: resp.StatusCode,
			Err:        errors.Wrapf(errors.New(resp.Status), "remote error, status %d", resp.StatusCode),
		}
	}

	var wr wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&wr); err != nil {
		return &Result{StatusCode: resp.StatusCode, Err: errors.Wrap(err, "failed to decode slice response")}
	}
	if wr.Error != "" {
		return &Result{StatusCode: resp.StatusCode, Err: errors.Errorf("remote error: %s", wr.Error)}
	}

	cols := s.orderedColumns()
	rows := make([]types.DataRow, 0, len(wr.Data))
	for _, record := range wr.Data {
		row := make(types.DataRow, len(cols))
		for i, col := range cols {
			if i < len(record) {
				row[col] = record[i]
			}
		}
		rows = append(rows, row)
	}
	colNames := make([]types.ColumnName, len(cols))
	copy(colNames, cols)

	return &Result{
		StatusCode: resp.StatusCode,
		Columns:    colNames,
		Rows:       rows,
	}
}

// Equal is a strict field-by-field equality check that recognizes the
// "same slice": it returns true only when identity, statistic, range and
// columns all match. The source this design is modeled on left its equivalent
// predicate's "everything matches" case returning an implicit falsy
// value; here it is explicit.
func (s *Slice) Equal(other *Slice) bool {
	if !s.Identity.Equal(other.Identity) || s.Statistic != other.Statistic {
		return false
	}
	if s.Range != other.Range {
		return false
	}
	if len(s.Columns) != len(other.Columns) {
		return false
	}
	for c := range s.Columns {
		if !other.Columns.Has(c) {
			return false
		}
	}
	return true
}

// String renders the slice for logging.
func (s *Slice) String() string {
	return fmt.Sprintf("Slice{%s [%v,%v] %v}", s.Identity.StoreName(), s.Range.Min, s.Range.Max, s.Columns.Slice())
}
