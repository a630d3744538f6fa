package cleanup

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRunsInReverseOrder(t *testing.T) {
	s := New()
	var order []int
	for i := 0; i < 5; i++ {
		i := i
		s.Push(func() { order = append(order, i) })
	}
	s.Run()
	require.Equal(t, []int{4, 3, 2, 1, 0}, order)
}

func TestRunIsIdempotent(t *testing.T) {
	s := New()
	calls := 0
	s.Push(func() { calls++ })
	s.Run()
	s.Run()
	require.Equal(t, 1, calls)
}

func TestPushAfterRunRunsImmediately(t *testing.T) {
	s := New()
	s.Run()
	ran := false
	s.Push(func() { ran = true })
	require.True(t, ran)
}
