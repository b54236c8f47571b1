// Package signer holds the Ed25519 key that authorizes writes to a store.
package signer

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/crypto/blake2b"

	"github.com/bobg/bsv"
)

// DefaultEnv is the environment variable Getenv reads when given no other name.
const DefaultEnv = "PRIVATE_KEY"

// Ed25519Flag is the signature-scheme byte that precedes an Ed25519 key
// in flagged encodings and in address derivation.
const Ed25519Flag = 0x00

var _ bsv.Signer = &Signer{}

// Signer is an Ed25519 keypair.
type Signer struct {
	priv ed25519.PrivateKey
}

// ErrNoKey is returned by Getenv when the variable is unset or empty.
var ErrNoKey = errors.New("private key not set")

// FromSeed produces a Signer from a 32-byte Ed25519 seed.
func FromSeed(seed []byte) (*Signer, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("seed is %d bytes, want %d", len(seed), ed25519.SeedSize)
	}
	return &Signer{priv: ed25519.NewKeyFromSeed(seed)}, nil
}

// Parse produces a Signer from a base64-encoded private key.
// The decoded key is either a bare 32-byte seed
// or 33 bytes: a scheme flag followed by the seed.
// Only the Ed25519 flag is accepted.
func Parse(s string) (*Signer, error) {
	b, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, errors.Wrap(err, "decoding base64 private key")
	}
	switch len(b) {
	case ed25519.SeedSize + 1:
		if b[0] != Ed25519Flag {
			return nil, fmt.Errorf("unsupported key scheme flag 0x%02x", b[0])
		}
		return FromSeed(b[1:])
	case ed25519.SeedSize:
		return FromSeed(b)
	}
	return nil, fmt.Errorf("private key is %d bytes, want %d or %d", len(b), ed25519.SeedSize, ed25519.SeedSize+1)
}

// Getenv parses the private key in the named environment variable,
// or DefaultEnv if name is empty.
func Getenv(name string) (*Signer, error) {
	if name == "" {
		name = DefaultEnv
	}
	v := os.Getenv(name)
	if v == "" {
		return nil, errors.Wrapf(ErrNoKey, "%s is empty", name)
	}
	s, err := Parse(v)
	return s, errors.Wrapf(err, "parsing %s", name)
}

// PublicKey is the signer's public key.
func (s *Signer) PublicKey() ed25519.PublicKey {
	return s.priv.Public().(ed25519.PublicKey)
}

// Address is the signer's on-chain identity:
// "0x" followed by the hex BLAKE2b-256 hash of the flag byte and public key.
func (s *Signer) Address() string {
	buf := make([]byte, 0, 1+ed25519.PublicKeySize)
	buf = append(buf, Ed25519Flag)
	buf = append(buf, s.PublicKey()...)
	sum := blake2b.Sum256(buf)
	return "0x" + hex.EncodeToString(sum[:])
}

// Sign signs msg.
func (s *Signer) Sign(msg []byte) []byte {
	return ed25519.Sign(s.priv, msg)
}

// Export is the flagged base64 encoding of the key,
// the form Parse and Getenv accept.
func (s *Signer) Export() string {
	b := make([]byte, 0, 1+ed25519.SeedSize)
	b = append(b, Ed25519Flag)
	b = append(b, s.priv.Seed()...)
	return base64.StdEncoding.EncodeToString(b)
}
