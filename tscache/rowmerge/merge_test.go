package rowmerge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tlemo/catapult/tscache/rangealg"
	"github.com/tlemo/catapult/tscache/types"
)

func row(rev float64, fields map[types.ColumnName]any) types.DataRow {
	r := types.DataRow{types.Revision: rev}
	for k, v := range fields {
		r[k] = v
	}
	return r
}

func TestFindLowIndex_EmptyArrayReturnsZero(t *testing.T) {
	assert.Equal(t, 0, FindLowIndex(nil, ByRevision, 10))
}

func TestFindLowIndex_FindsInsertionPoint(t *testing.T) {
	rows := []types.DataRow{row(10, nil), row(20, nil), row(30, nil)}
	assert.Equal(t, 0, FindLowIndex(rows, ByRevision, 5))
	assert.Equal(t, 1, FindLowIndex(rows, ByRevision, 15))
	assert.Equal(t, 1, FindLowIndex(rows, ByRevision, 20))
	assert.Equal(t, 3, FindLowIndex(rows, ByRevision, 35))
}

func TestMerge_InsertsNewRowsSorted(t *testing.T) {
	target := []types.DataRow{row(10, map[types.ColumnName]any{"avg": 1.0})}
	input := []types.DataRow{row(20, map[types.ColumnName]any{"avg": 2.0}), row(5, map[types.ColumnName]any{"avg": 0.5})}

	got := Merge(ByRevision, target, input)

	assert.Len(t, got, 3)
	assert.Equal(t, 5.0, got[0].Revision())
	assert.Equal(t, 10.0, got[1].Revision())
	assert.Equal(t, 20.0, got[2].Revision())
}

func TestMerge_MergesFieldsOnMatchingRevision_LastWriteWins(t *testing.T) {
	target := []types.DataRow{row(10, map[types.ColumnName]any{"avg": 1.0, "alert": "old"})}
	inputA := []types.DataRow{row(10, map[types.ColumnName]any{"alert": "fromA"})}
	inputB := []types.DataRow{row(10, map[types.ColumnName]any{"alert": "fromB"})}

	got := Merge(ByRevision, target, inputA, inputB)

	assert.Len(t, got, 1)
	assert.Equal(t, "fromB", got[0]["alert"])
	assert.Equal(t, 1.0, got[0]["avg"])
}

func TestMerge_DoesNotMutateInputRows(t *testing.T) {
	input := []types.DataRow{row(10, map[types.ColumnName]any{"avg": 1.0})}
	got := Merge(ByRevision, nil, input)
	got[0]["avg"] = 99.0
	assert.Equal(t, 1.0, input[0]["avg"])
}

func TestPurgeColumn_RemovesFieldOnlyWithinRange(t *testing.T) {
	rows := []types.DataRow{
		row(10, map[types.ColumnName]any{"alert": "old"}),
		row(150, map[types.ColumnName]any{"alert": "outside"}),
	}
	got := PurgeColumn(rows, "alert", ByRevision, rangealg.New(0, 100))

	_, hasAlert := got[0]["alert"]
	assert.False(t, hasAlert)
	assert.Equal(t, "outside", got[1]["alert"])
}
