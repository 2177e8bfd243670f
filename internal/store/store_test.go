package store

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPut(t *testing.T) {
	s := New()
	require.Equal(t, 0, s.Len())

	s.Put(1700000000000, "A=a|B=b")
	got, ok := get(s, 1700000000000)
	require.True(t, ok)
	require.Equal(t, "A=a|B=b", got)

	_, ok = get(s, 1)
	require.False(t, ok)
	require.Equal(t, 1, s.Len())
}

func TestPutSameTimestampLastWriteWins(t *testing.T) {
	s := New()
	s.Put(42, "first")
	s.Put(42, "second")

	got, _ := get(s, 42)
	require.Equal(t, "second", got)
	require.Equal(t, 1, s.Len())
}

func TestConcurrentPut(t *testing.T) {
	s := New()
	const workers, perWorker = 16, 100

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				s.Put(int64(w*perWorker+i), "v")
			}
		}(w)
	}
	wg.Wait()

	require.Equal(t, workers*perWorker, s.Len())
	for ts := int64(0); ts < workers*perWorker; ts++ {
		_, ok := get(s, ts)
		require.True(t, ok, ts)
	}
}

func get(s *Store, ts int64) (string, bool) {
	v, ok := s.items.Get(key(ts))
	if !ok {
		return "", false
	}
	str, ok := v.(string)
	return str, ok
}
