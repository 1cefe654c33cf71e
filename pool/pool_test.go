package pool

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type scratch struct {
	n int
}

func TestPoolResetsOnPut(t *testing.T) {
	p := New(func() *scratch { return &scratch{} }, func(s *scratch) { s.n = 0 })

	a := p.Get()
	a.n = 42
	p.Put(a)

	b := p.Get()
	require.Equal(t, 0, b.n)
}
