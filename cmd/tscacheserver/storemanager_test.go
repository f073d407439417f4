package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tlemo/catapult/tscache/types"
)

func TestStoreManager_GetTwiceForSameIdentityReturnsSameDB(t *testing.T) {
	dir := t.TempDir()
	m := newStoreManager(dir)
	id, err := types.NewIdentity("suite", "measurement", "bot", "", "")
	require.NoError(t, err)

	first, err := m.get(id)
	require.NoError(t, err)
	second, err := m.get(id)
	require.NoError(t, err)

	assert.Same(t, first, second)
	t.Cleanup(func() { _ = first.Close() })
}

func TestStoreManager_GetForDifferentIdentitiesReturnsDifferentDBs(t *testing.T) {
	dir := t.TempDir()
	m := newStoreManager(dir)
	idA, err := types.NewIdentity("suiteA", "measurement", "bot", "", "")
	require.NoError(t, err)
	idB, err := types.NewIdentity("suiteB", "measurement", "bot", "", "")
	require.NoError(t, err)

	a, err := m.get(idA)
	require.NoError(t, err)
	b, err := m.get(idB)
	require.NoError(t, err)

	assert.NotSame(t, a, b)
	t.Cleanup(func() {
		_ = a.Close()
		_ = b.Close()
	})
}
