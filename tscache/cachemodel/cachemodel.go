// Package cachemodel holds the value types that flow between the cache
// reader, planner, coalescer, result generator and cache writer: the
// per-column availability map, the cached-snapshot header, and the
// merged result/snapshot shapes streamed back to callers.
package cachemodel

import (
	"time"

	"github.com/tlemo/catapult/tscache/rangealg"
	"github.com/tlemo/catapult/tscache/types"
)

// AvailableRangeByCol maps a requested column to the intersection of its
// stored available range with the request range. A column with no
// overlap is absent from the map.
type AvailableRangeByCol map[types.ColumnName]rangealg.Range

// CacheResult is what the cache reader returns: the identity's metadata
// plus, if any column overlapped the request, the cached rows for the
// request range.
type CacheResult struct {
	ImprovementDirection string
	Units                string
	MissingTimestamp     *time.Time
	AvailableRangeByCol  AvailableRangeByCol
	Data                 []types.DataRow
}

// Snapshot is one value emitted on the result channel: the cached
// snapshot first, then one per completed slice, in completion order.
type Snapshot struct {
	ImprovementDirection string             `json:"improvement_direction,omitempty"`
	Units                string             `json:"units,omitempty"`
	Columns              []types.ColumnName `json:"columns,omitempty"`
	Data                 []types.DataRow    `json:"data,omitempty"`

	// Error and Status render a RemoteError as part of this snapshot:
	// a slice's RemoteError is data on the result channel, not a
	// failure of the channel itself.
	Error  string `json:"error,omitempty"`
	Status int    `json:"status,omitempty"`
}

// MergedResult is the final accumulated state handed to the cache writer
// once the result-channel stream completes.
type MergedResult struct {
	Columns []types.ColumnName
	Data    []types.DataRow
}
