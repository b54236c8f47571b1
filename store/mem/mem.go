// Package mem implements an in-memory blob store.
package mem

import (
	"context"
	"sync"

	"github.com/bobg/bsv"
	"github.com/bobg/bsv/store"
)

var _ bsv.Store = &Store{}

// Store is a memory-based implementation of a blob store.
type Store struct {
	mu    sync.Mutex
	blobs map[bsv.Handle][]byte
}

// New produces a new Store.
func New() *Store {
	return &Store{blobs: make(map[bsv.Handle][]byte)}
}

// Get gets the blob with handle h.
func (s *Store) Get(_ context.Context, h bsv.Handle) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b, ok := s.blobs[h]; ok {
		return append([]byte(nil), b...), nil
	}
	return nil, bsv.ErrNotFound
}

// Put adds a blob to the store if it wasn't already present.
// The write options are ignored.
func (s *Store) Put(_ context.Context, blob []byte, _ bsv.PutOptions) (bsv.Handle, error) {
	h := bsv.HandleOf(blob)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.blobs[h]; !ok {
		s.blobs[h] = append([]byte(nil), blob...)
	}
	return h, nil
}

// Len is the number of blobs in the store.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.blobs)
}

func init() {
	store.Register("mem", func(context.Context, map[string]interface{}) (bsv.Store, error) {
		return New(), nil
	})
}
