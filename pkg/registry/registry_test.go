package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndGet(t *testing.T) {
	r := NewBaseRegistry[int]()

	require.NoError(t, r.Register("one", 1))
	require.NoError(t, r.Register("two", 2))

	v, ok := r.Get("one")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = r.Get("missing")
	assert.False(t, ok)
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	r := NewBaseRegistry[string]()

	require.NoError(t, r.Register("a", "first"))
	err := r.Register("a", "second")
	require.Error(t, err)

	// Original value is untouched.
	v, ok := r.Get("a")
	assert.True(t, ok)
	assert.Equal(t, "first", v)
}

func TestRegisterRejectsEmptyName(t *testing.T) {
	r := NewBaseRegistry[int]()
	assert.Error(t, r.Register("", 1))
}

func TestListPreservesInsertionOrder(t *testing.T) {
	r := NewBaseRegistry[string]()

	names := []string{"zeta", "alpha", "mid", "beta"}
	for _, n := range names {
		require.NoError(t, r.Register(n, n+"-value"))
	}

	assert.Equal(t, names, r.Names())

	items := r.List()
	require.Len(t, items, len(names))
	for i, n := range names {
		assert.Equal(t, n+"-value", items[i])
	}
}

func TestRemove(t *testing.T) {
	r := NewBaseRegistry[int]()
	require.NoError(t, r.Register("a", 1))
	require.NoError(t, r.Register("b", 2))
	require.NoError(t, r.Register("c", 3))

	require.NoError(t, r.Remove("b"))
	assert.Equal(t, []string{"a", "c"}, r.Names())
	assert.Equal(t, 2, r.Count())

	assert.Error(t, r.Remove("b"))
}

func TestClear(t *testing.T) {
	r := NewBaseRegistry[int]()
	require.NoError(t, r.Register("a", 1))

	r.Clear()
	assert.Equal(t, 0, r.Count())
	assert.Empty(t, r.Names())

	// Can register again after clear.
	require.NoError(t, r.Register("a", 2))
}
