package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndGet(t *testing.T) {
	r := New[int]()
	require.NoError(t, r.Register("a", 1))

	v, ok := r.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)
}

func TestRegisterRejectsEmptyName(t *testing.T) {
	r := New[int]()
	assert.Error(t, r.Register("", 1))
}

func TestRegisterRejectsDuplicate(t *testing.T) {
	r := New[int]()
	require.NoError(t, r.Register("a", 1))
	assert.Error(t, r.Register("a", 2))
}

func TestPutOverwrites(t *testing.T) {
	r := New[int]()
	require.NoError(t, r.Register("a", 1))
	r.Put("a", 2)
	v, ok := r.Get("a")
	require.True(t, ok)
	assert.Equal(t, 2, v)
}

func TestGetMissing(t *testing.T) {
	r := New[int]()
	_, ok := r.Get("missing")
	assert.False(t, ok)
}

func TestListIsSortedByName(t *testing.T) {
	r := New[string]()
	require.NoError(t, r.Register("charlie", "c"))
	require.NoError(t, r.Register("alpha", "a"))
	require.NoError(t, r.Register("bravo", "b"))

	assert.Equal(t, []string{"a", "b", "c"}, r.List())
	assert.Equal(t, []string{"alpha", "bravo", "charlie"}, r.Names())
}

func TestRemove(t *testing.T) {
	r := New[int]()
	require.NoError(t, r.Register("a", 1))
	require.NoError(t, r.Remove("a"))
	_, ok := r.Get("a")
	assert.False(t, ok)
}

func TestCount(t *testing.T) {
	r := New[int]()
	assert.Equal(t, 0, r.Count())
	require.NoError(t, r.Register("a", 1))
	require.NoError(t, r.Register("b", 2))
	assert.Equal(t, 2, r.Count())
}
