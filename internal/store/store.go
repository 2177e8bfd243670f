// Package store holds combined demo results in memory for the life of the
// process.
package store

import (
	"strconv"

	"github.com/patrickmn/go-cache"
)

// Store maps a millisecond timestamp to a combined result. Entries never
// expire and are never evicted. It is safe for concurrent use.
type Store struct {
	items *cache.Cache
}

// New returns an empty store. No janitor goroutine is started since nothing
// expires.
func New() *Store {
	return &Store{items: cache.New(cache.NoExpiration, 0)}
}

// Put records value under ts. A second Put for the same ts overwrites the
// first.
func (s *Store) Put(ts int64, value string) {
	s.items.Set(key(ts), value, cache.NoExpiration)
}

// Len returns the number of stored entries.
func (s *Store) Len() int {
	return s.items.ItemCount()
}

func key(ts int64) string {
	return strconv.FormatInt(ts, 10)
}
