package palloc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPoolExhaustion(t *testing.T) {
	p := NewPool(2)

	a, err := p.Get()
	require.NoError(t, err)
	b, err := p.Get()
	require.NoError(t, err)
	require.Equal(t, 2, p.InUse())

	_, err = p.Get()
	require.ErrorIs(t, err, ErrNoPage)

	p.Put(a)
	c, err := p.Get()
	require.NoError(t, err)
	require.Equal(t, 2, p.InUse())

	p.Put(b)
	p.Put(c)
	require.Equal(t, 0, p.InUse())
}

func TestPoolReusesPages(t *testing.T) {
	p := NewPool(1)
	a, err := p.Get()
	require.NoError(t, err)
	p.Put(a)
	b, err := p.Get()
	require.NoError(t, err)
	require.Same(t, a, b)
}

func TestPoolPutAsserts(t *testing.T) {
	p := NewPool(1)
	require.Panics(t, func() { p.Put(nil) })

	pg, err := p.Get()
	require.NoError(t, err)
	p.Put(pg)
	require.Panics(t, func() { p.Put(pg) }, "more frees than gets")
}
