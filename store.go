package bsv

import (
	"context"
	"errors"
)

// Store is a remote blob store.
// It stores byte sequences - "blobs" - of arbitrary length
// and hands back a Handle for each,
// which is the only way to retrieve the blob again.
//
// There is deliberately no way to list the contents of a Store.
type Store interface {
	// Put writes a blob and returns its handle.
	// Implementations may fail transiently;
	// callers wrap Put in a retry policy.
	Put(ctx context.Context, blob []byte, opts PutOptions) (Handle, error)

	// Get reads the blob with the given handle.
	// It returns ErrNotFound for an unknown handle.
	Get(ctx context.Context, h Handle) ([]byte, error)
}

// PutOptions are the per-write parameters of Store.Put.
type PutOptions struct {
	// Epochs is the durability hint: how long the store should keep the blob,
	// in store-defined units.
	Epochs int

	// Deletable tells whether the blob may later be deleted by its owner.
	Deletable bool

	// Signer is the credential authorizing the write.
	// It may be nil for stores that need none.
	Signer Signer
}

// DefaultEpochs is the durability hint used when none is configured.
const DefaultEpochs = 3

// ErrNotFound is the error returned
// when a Store tries to access a non-existent handle.
var ErrNotFound = errors.New("not found")
