// Package lru implements a blob store that acts as a least-recently-used cache for a nested blob store.
package lru

import (
	"context"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"

	"github.com/bobg/bsv"
	"github.com/bobg/bsv/store"
)

var _ bsv.Store = &Store{}

// Store implements a memory-based least-recently-used cache for a blob store.
// Writes pass through to the underlying blob store.
// Blobs are immutable, so cached entries never go stale.
type Store struct {
	c *lru.Cache // Handle->[]byte
	s bsv.Store
}

// New produces a new Store backed by `s` and caching up to `size` blobs.
func New(s bsv.Store, size int) (*Store, error) {
	c, err := lru.New(size)
	return &Store{s: s, c: c}, err
}

// Get gets the blob with handle h.
func (s *Store) Get(ctx context.Context, h bsv.Handle) ([]byte, error) {
	if got, ok := s.c.Get(h); ok {
		return clone(got.([]byte)), nil
	}
	blob, err := s.s.Get(ctx, h)
	if err != nil {
		return nil, err
	}
	s.c.Add(h, clone(blob))
	return blob, nil
}

// Put writes a blob to the nested store and caches it.
func (s *Store) Put(ctx context.Context, blob []byte, opts bsv.PutOptions) (bsv.Handle, error) {
	h, err := s.s.Put(ctx, blob, opts)
	if err != nil {
		return h, err
	}
	s.c.Add(h, clone(blob))
	return h, nil
}

// Len is the number of cached blobs.
func (s *Store) Len() int {
	return s.c.Len()
}

func clone(b []byte) []byte {
	return append([]byte(nil), b...)
}

func init() {
	store.Register("lru", func(ctx context.Context, conf map[string]interface{}) (bsv.Store, error) {
		size, err := store.Int(conf, "size", 0)
		if err != nil {
			return nil, err
		}
		if size <= 0 {
			return nil, errors.New(`missing or invalid "size" parameter`)
		}
		nestedStore, err := store.Nested(ctx, conf, "nested")
		if err != nil {
			return nil, err
		}
		return New(nestedStore, size)
	})
}
