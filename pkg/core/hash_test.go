package core

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPartition(t *testing.T) {
	require.Equal(t, 0, Partition([]byte("anything"), 0))
	require.Equal(t, 0, Partition([]byte("anything"), 1))

	seen := make(map[int]bool)
	for i := range 1000 {
		key := fmt.Appendf(nil, "key-%d", i)
		p := Partition(key, 7)
		require.GreaterOrEqual(t, p, 0)
		require.Less(t, p, 7)
		require.Equal(t, p, Partition(key, 7))
		seen[p] = true
	}
	require.Len(t, seen, 7)
}
