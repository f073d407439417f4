// Package request parses the inbound form-encoded HTTP request into the
// Request value every other component operates on.
package request

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/tlemo/catapult/tscache/rangealg"
	"github.com/tlemo/catapult/tscache/types"
)

// Request is a parsed inbound request for a revision range × column set
// over one timeseries identity.
type Request struct {
	Identity  types.Identity
	Statistic string
	Columns   types.ColumnSet
	Range     rangealg.Range
}

// DefaultStatistic is used when the statistic form field is absent.
const DefaultStatistic = "avg"

// Parse reads r's form-encoded body and returns a Request, or
// types.ErrMalformedRequest if the required columns field is missing.
//
// Form decoding itself is r.ParseForm(), the same stdlib call
// go/httputils.ParseFormValues delegates to -- this is the one seam
// where the hosting framework, not this module, owns the wire format.
func Parse(r *http.Request) (*Request, error) {
	if err := r.ParseForm(); err != nil {
		return nil, errors.Wrap(err, "failed to parse form")
	}
	form := r.Form

	columnsField := form.Get("columns")
	if columnsField == "" {
		return nil, errors.Wrap(types.ErrMalformedRequest, "columns is required")
	}
	columns := types.NewColumnSet()
	for _, c := range strings.Split(columnsField, ",") {
		c = strings.TrimSpace(c)
		if c != "" {
			columns.Add(types.ColumnName(c))
		}
	}

	id, err := types.NewIdentity(
		form.Get("test_suite"),
		form.Get("measurement"),
		form.Get("bot"),
		form.Get("test_case"),
		form.Get("build_type"),
	)
	if err != nil {
		return nil, err
	}

	min, err := parseRevision(form.Get("min_revision"), 0)
	if err != nil {
		return nil, errors.Wrap(types.ErrMalformedRequest, err.Error())
	}
	max, err := parseRevision(form.Get("max_revision"), rangealg.UnboundedMax)
	if err != nil {
		return nil, errors.Wrap(types.ErrMalformedRequest, err.Error())
	}

	statistic := form.Get("statistic")
	if statistic == "" {
		statistic = DefaultStatistic
	}

	return &Request{
		Identity:  id,
		Statistic: statistic,
		Columns:   columns,
		Range:     rangealg.New(min, max),
	}, nil
}

func parseRevision(field string, defaultVal float64) (float64, error) {
	if field == "" {
		return defaultVal, nil
	}
	return strconv.ParseFloat(field, 64)
}
