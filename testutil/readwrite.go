// Package testutil holds conformance checks shared by the bsv.Store implementations.
package testutil

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/bobg/bsv"
)

// ReadWrite permits testing a Store implementation
// by writing some data to it,
// then reading it back out to make sure it's the same.
// It also checks that writing the same data twice is harmless
// and that an unknown handle gives bsv.ErrNotFound.
func ReadWrite(ctx context.Context, t *testing.T, store bsv.Store, data []byte) {
	opts := bsv.PutOptions{Epochs: bsv.DefaultEpochs}

	t1 := time.Now()
	h, err := store.Put(ctx, data, opts)
	if err != nil {
		t.Fatal(err)
	}
	if h.IsZero() {
		t.Fatal("got empty handle")
	}
	t.Logf("wrote %d bytes in %s", len(data), time.Since(t1))

	t2 := time.Now()
	got, err := store.Get(ctx, h)
	if err != nil {
		t.Fatal(err)
	}
	t.Logf("read %d bytes in %s", len(got), time.Since(t2))

	if len(got) != len(data) {
		t.Errorf("got length %d, want %d", len(got), len(data))
	} else {
		for i := 0; i < len(got); i++ {
			if got[i] != data[i] {
				t.Fatalf("mismatch at position %d (of %d)", i, len(got))
			}
		}
	}

	h2, err := store.Put(ctx, data, opts)
	if err != nil {
		t.Fatalf("rewriting: %s", err)
	}
	if h2 != h {
		t.Errorf("rewriting: got handle %s, want %s", h2, h)
	}

	NotFound(ctx, t, store)
}

// NotFound checks that store reports bsv.ErrNotFound for a handle it has never issued.
func NotFound(ctx context.Context, t *testing.T, store bsv.Store) {
	h := bsv.HandleOf([]byte("a blob that no test ever writes " + time.Now().String()))
	_, err := store.Get(ctx, h)
	if !errors.Is(err, bsv.ErrNotFound) {
		t.Errorf("got error %v for unknown handle, want bsv.ErrNotFound", err)
	}
}

// Data produces n bytes of deterministic, incompressible-looking test data.
func Data(n int) []byte {
	var (
		buf bytes.Buffer
		x   uint32 = 2463534242
	)
	buf.Grow(n)
	for buf.Len() < n {
		x ^= x << 13
		x ^= x >> 17
		x ^= x << 5
		buf.WriteByte(byte(x))
	}
	return buf.Bytes()
}
