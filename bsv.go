package bsv

import (
	"crypto/sha256"
	"encoding/base64"
)

type (
	// Handle is the opaque identifier a store returns for a blob.
	// It is the only key for retrieving the blob later.
	Handle string

	// Signer authorizes writes.
	// It is handed to the store unexamined.
	Signer interface {
		Address() string
	}
)

// HandleOf computes the content-derived handle of a blob:
// the unpadded URL-safe base64 encoding of its sha256 hash.
func HandleOf(blob []byte) Handle {
	h := sha256.Sum256(blob)
	return Handle(base64.RawURLEncoding.EncodeToString(h[:]))
}

func (h Handle) String() string {
	return string(h)
}

// IsZero tells whether h is the empty handle.
func (h Handle) IsZero() bool {
	return h == ""
}

// Valid tells whether h has the form of a content-derived handle:
// 32 bytes in unpadded URL-safe base64.
// Backends that turn handles into paths or keys check it first.
func (h Handle) Valid() bool {
	if len(h) != 43 {
		return false
	}
	b, err := base64.RawURLEncoding.DecodeString(string(h))
	return err == nil && len(b) == sha256.Size
}
