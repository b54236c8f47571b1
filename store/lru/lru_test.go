package lru

import (
	"context"
	"testing"

	"github.com/bobg/bsv"
	"github.com/bobg/bsv/store/mem"
	"github.com/bobg/bsv/testutil"
)

func TestStore(t *testing.T) {
	s, err := New(mem.New(), 1000)
	if err != nil {
		t.Fatal(err)
	}
	testutil.ReadWrite(context.Background(), t, s, testutil.Data(1<<20))
}

// countingStore counts the Gets that reach it.
type countingStore struct {
	*mem.Store
	gets int
}

func (s *countingStore) Get(ctx context.Context, h bsv.Handle) ([]byte, error) {
	s.gets++
	return s.Store.Get(ctx, h)
}

func TestCaching(t *testing.T) {
	var (
		ctx    = context.Background()
		nested = &countingStore{Store: mem.New()}
	)

	h1, err := nested.Put(ctx, []byte("one"), bsv.PutOptions{})
	if err != nil {
		t.Fatal(err)
	}
	h2, err := nested.Put(ctx, []byte("two"), bsv.PutOptions{})
	if err != nil {
		t.Fatal(err)
	}

	s, err := New(nested, 1)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		if _, err = s.Get(ctx, h1); err != nil {
			t.Fatal(err)
		}
	}
	if nested.gets != 1 {
		t.Errorf("got %d nested gets, want 1", nested.gets)
	}

	// Evicts h1.
	if _, err = s.Get(ctx, h2); err != nil {
		t.Fatal(err)
	}
	if _, err = s.Get(ctx, h1); err != nil {
		t.Fatal(err)
	}
	if nested.gets != 3 {
		t.Errorf("got %d nested gets, want 3", nested.gets)
	}

	// Mutating a returned blob must not affect the cache.
	b, _ := s.Get(ctx, h1)
	b[0] = 'X'
	b, _ = s.Get(ctx, h1)
	if string(b) != "one" {
		t.Errorf("cached blob was modified: %q", b)
	}
}
