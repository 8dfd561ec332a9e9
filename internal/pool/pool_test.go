package pool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type slot struct {
	value int
}

func TestPoolAcquireRelease(t *testing.T) {
	p := New[slot](2)
	assert.Equal(t, 2, p.Capacity())
	assert.False(t, p.Full())

	a, ok := p.Acquire()
	require.True(t, ok)
	a.value = 1

	b, ok := p.Acquire()
	require.True(t, ok)
	b.value = 2

	assert.True(t, p.Full())
	assert.Equal(t, 2, p.Len())

	_, ok = p.Acquire()
	assert.False(t, ok, "pool exhausted must report failure, not allocate")

	p.Release(a)
	assert.False(t, p.Full())
	assert.Equal(t, 1, p.Len())

	c, ok := p.Acquire()
	require.True(t, ok)
	assert.Equal(t, 0, c.value, "reacquired slot must be zeroed")
}

func TestPoolReleaseIsIdempotent(t *testing.T) {
	p := New[slot](1)
	a, ok := p.Acquire()
	require.True(t, ok)
	p.Release(a)
	p.Release(a)
	assert.Equal(t, 0, p.Len())
	_, ok = p.Acquire()
	assert.True(t, ok)
}
