package datastore

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// storeTestSuite runs the same checks against every Store implementation.
func storeTestSuite(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("PutAndGet", func(t *testing.T) {
		s := newStore(t)

		require.NoError(t, s.Put(ctx, "User", []byte("u1"), []byte("alice")))
		got, err := s.Get(ctx, "User", []byte("u1"))
		require.NoError(t, err)
		require.Equal(t, []byte("alice"), got)

		missing, err := s.Get(ctx, "User", []byte("u2"))
		require.NoError(t, err)
		require.Nil(t, missing)

		_, err = s.Get(ctx, "Nope", []byte("u1"))
		require.ErrorIs(t, err, ErrKindNotFound)
	})

	t.Run("ScanRange", func(t *testing.T) {
		s := newStore(t)
		for i := range 10 {
			require.NoError(t, s.Put(ctx, "K", fmt.Appendf(nil, "k%02d", i), []byte{byte(i)}))
		}

		var keys []string
		err := s.Scan(ctx, "K", []byte("k03"), []byte("k06"), func(k, v []byte) error {
			keys = append(keys, string(k))
			return nil
		})
		require.NoError(t, err)
		require.Equal(t, []string{"k03", "k04", "k05"}, keys)

		n := 0
		require.NoError(t, s.Scan(ctx, "K", nil, nil, func(k, v []byte) error { n++; return nil }))
		require.Equal(t, 10, n)

		count, err := s.Count(ctx, "K")
		require.NoError(t, err)
		require.Equal(t, 10, count)

		require.NoError(t, s.Scan(ctx, "Empty", nil, nil, func(k, v []byte) error {
			t.Fatal("no records expected")
			return nil
		}))
	})

	t.Run("SplitPointsCappedByRecords", func(t *testing.T) {
		s := newStore(t)
		for i := range 40 {
			require.NoError(t, s.Put(ctx, "E", fmt.Appendf(nil, "e%03d", i), nil))
		}

		points, err := s.SplitPoints(ctx, "E", 99)
		require.NoError(t, err)
		require.Len(t, points, 39)

		points, err = s.SplitPoints(ctx, "E", 3)
		require.NoError(t, err)
		require.Equal(t, [][]byte{[]byte("e010"), []byte("e020"), []byte("e030")}, points)

		points, err = s.SplitPoints(ctx, "Missing", 3)
		require.NoError(t, err)
		require.Empty(t, points)
	})
}

func TestMemoryStore(t *testing.T) {
	storeTestSuite(t, func(t *testing.T) Store {
		return NewMemoryStore()
	})
}

func TestBoltStore(t *testing.T) {
	storeTestSuite(t, func(t *testing.T) Store {
		s, err := NewBoltStore(filepath.Join(t.TempDir(), "data.db"))
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	})
}
