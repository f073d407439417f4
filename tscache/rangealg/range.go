// Package rangealg implements closed numeric interval algebra over
// float64, including ±Inf bounds. It backs the per-column "available
// range" bookkeeping and the slice planner's missing-range computation.
package rangealg

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"

	"github.com/tlemo/catapult/tscache/types"
)

// UnboundedMax is the sentinel used by the wire format and the planner
// for "no upper bound was requested".
const UnboundedMax = math.MaxFloat64

// Range is a closed interval [Min, Max] over the reals, including ±Inf.
// The zero value is NOT empty (it is the degenerate point [0,0]); use
// Empty() to construct an empty range.
type Range struct {
	Min, Max float64
	empty    bool
}

// Empty returns the empty range. Its bounds are undefined.
func Empty() Range {
	return Range{empty: true}
}

// Point returns the single-value range [v, v].
func Point(v float64) Range {
	return Range{Min: v, Max: v}
}

// New returns the range [min, max]. Callers are responsible for min <= max;
// this constructor does not validate it (matching the source's leniency --
// AddValue and the planner never produce a crossed range).
func New(min, max float64) Range {
	return Range{Min: min, Max: max}
}

// IsEmpty reports whether r is the empty range.
func (r Range) IsEmpty() bool {
	return r.empty
}

// AddValue extends r to include v, monotonically. An empty range becomes
// [v, v].
func (r Range) AddValue(v float64) Range {
	if r.empty {
		return Point(v)
	}
	min, max := r.Min, r.Max
	if v < min {
		min = v
	}
	if v > max {
		max = v
	}
	return Range{Min: min, Max: max}
}

// Contains reports whether v lies within r's closed interval. An empty
// range contains nothing.
func (r Range) Contains(v float64) bool {
	if r.empty {
		return false
	}
	return v >= r.Min && v <= r.Max
}

// Duration returns Max-Min, or 0 if r is empty.
func (r Range) Duration() float64 {
	if r.empty {
		return 0
	}
	return r.Max - r.Min
}

// Intersection returns the intersection of r and other: [max(mins),
// min(maxes)], or the empty range if either operand is empty or the
// bounds cross.
func (r Range) Intersection(other Range) Range {
	if r.empty || other.empty {
		return Empty()
	}
	min := math.Max(r.Min, other.Min)
	max := math.Min(r.Max, other.Max)
	if min > max {
		return Empty()
	}
	return Range{Min: min, Max: max}
}

// Difference returns a\b as a list of 0, 1, or 2 ranges.
//
// A nil argument is an absent operand and is a programming error
// (types.ErrInvalidInput). An empty (but present) a yields []. An empty b
// yields [a]. When b lies strictly inside a, the result is the two
// ranges meeting at b's boundary points; neither is collapsed even when
// b.Min == b.Max.
func Difference(a, b *Range) ([]Range, error) {
	if a == nil || b == nil {
		return nil, types.ErrInvalidInput
	}
	if a.empty {
		return []Range{}, nil
	}
	if b.empty {
		return []Range{*a}, nil
	}
	inter := a.Intersection(*b)
	if inter.empty {
		return []Range{*a}, nil
	}
	out := make([]Range, 0, 2)
	if inter.Min > a.Min {
		out = append(out, Range{Min: a.Min, Max: inter.Min})
	}
	if inter.Max < a.Max {
		out = append(out, Range{Min: inter.Max, Max: a.Max})
	}
	return out, nil
}

// MergeInto returns the sorted, coalesced union of sorted ∪ {r}.
// Adjacent (touching) or overlapping ranges are merged into one. sorted
// must already be sorted ascending by Min and pairwise disjoint and
// non-touching; the result preserves that invariant.
func (r Range) MergeInto(sorted []Range) []Range {
	if r.empty {
		out := make([]Range, len(sorted))
		copy(out, sorted)
		return out
	}

	all := make([]Range, 0, len(sorted)+1)
	all = append(all, sorted...)
	all = append(all, r)
	sort.Slice(all, func(i, j int) bool { return all[i].Min < all[j].Min })

	out := make([]Range, 0, len(all))
	for _, cur := range all {
		if len(out) == 0 {
			out = append(out, cur)
			continue
		}
		last := &out[len(out)-1]
		if cur.Min <= last.Max {
			if cur.Max > last.Max {
				last.Max = cur.Max
			}
		} else {
			out = append(out, cur)
		}
	}
	return out
}

// rangeJSON is the wire form of Range: {"min":"...","max":"..."} with
// values formatted via strconv so that ±Inf round-trips (encoding/json
// itself refuses to marshal non-finite floats). An empty range
// serializes as {}.
type rangeJSON struct {
	Min string `json:"min,omitempty"`
	Max string `json:"max,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (r Range) MarshalJSON() ([]byte, error) {
	if r.empty {
		return []byte("{}"), nil
	}
	return json.Marshal(rangeJSON{
		Min: strconv.FormatFloat(r.Min, 'g', -1, 64),
		Max: strconv.FormatFloat(r.Max, 'g', -1, 64),
	})
}

// UnmarshalJSON implements json.Unmarshaler. Unmarshalling the output of
// MarshalJSON yields r again for every range including the empty one.
func (r *Range) UnmarshalJSON(data []byte) error {
	var rj rangeJSON
	if err := json.Unmarshal(data, &rj); err != nil {
		return err
	}
	if rj.Min == "" && rj.Max == "" {
		*r = Empty()
		return nil
	}
	min, err := strconv.ParseFloat(rj.Min, 64)
	if err != nil {
		return err
	}
	max, err := strconv.ParseFloat(rj.Max, 64)
	if err != nil {
		return err
	}
	*r = Range{Min: min, Max: max}
	return nil
}
