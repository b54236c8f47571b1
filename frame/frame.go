// Package frame packs metadata and a payload into a single blob and back.
//
// The original layout,
// Legacy,
// is the JSON metadata,
// then Separator,
// then the payload bytes.
// It is what every existing reader understands,
// but a payload that happens to contain Separator can't be framed safely:
// the reader splits at the first occurrence it finds.
// Only the metadata is guaranteed free of Separator
// (JSON escapes newlines).
//
// The Sized layout fixes that with a length prefix:
// Magic,
// then the metadata length as a uvarint,
// then the metadata,
// then the payload.
// Decode tells the two apart by the leading Magic,
// which can never begin a JSON document.
package frame

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
)

const (
	// Separator divides metadata from payload in a Legacy frame.
	// Every writer and reader must agree on it;
	// changing it orphans all previously written blobs.
	Separator = "\n---WALRUS_META_SEPARATOR---\n"

	// Magic begins every Sized frame.
	Magic = "\x00BSVF1\n"
)

var (
	separator = []byte(Separator)
	magic     = []byte(Magic)
)

// Format selects a frame layout for encoding.
type Format int

const (
	Legacy Format = iota
	Sized
)

func (f Format) String() string {
	switch f {
	case Legacy:
		return "legacy"
	case Sized:
		return "sized"
	}
	return fmt.Sprintf("Format(%d)", int(f))
}

// ParseFormat parses the String form of a Format.
// The empty string means Legacy.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "", "legacy":
		return Legacy, nil
	case "sized":
		return Sized, nil
	}
	return 0, fmt.Errorf("unknown frame format %q", s)
}

// ErrFormat is the error Decode returns for a blob that is not a frame.
var ErrFormat = errors.New("invalid blob format")

// EncodingError is returned when metadata can't be serialized.
type EncodingError struct {
	Err error
}

func (e *EncodingError) Error() string {
	return "encoding metadata: " + e.Err.Error()
}

func (e *EncodingError) Unwrap() error { return e.Err }

// MetadataParseError is returned when a frame's metadata is not valid JSON.
type MetadataParseError struct {
	Err error
}

func (e *MetadataParseError) Error() string {
	return "parsing metadata: " + e.Err.Error()
}

func (e *MetadataParseError) Unwrap() error { return e.Err }

// Encode frames meta and payload in the Legacy layout.
// The payload is copied, not modified.
func Encode(meta Metadata, payload []byte) ([]byte, error) {
	return EncodeFormat(Legacy, meta, payload)
}

// EncodeFormat frames meta and payload in the given layout.
func EncodeFormat(f Format, meta Metadata, payload []byte) ([]byte, error) {
	m, err := json.Marshal(meta)
	if err != nil {
		return nil, &EncodingError{Err: err}
	}

	switch f {
	case Legacy:
		out := make([]byte, 0, len(m)+len(separator)+len(payload))
		out = append(out, m...)
		out = append(out, separator...)
		return append(out, payload...), nil

	case Sized:
		var hdr [binary.MaxVarintLen64]byte
		n := binary.PutUvarint(hdr[:], uint64(len(m)))
		out := make([]byte, 0, len(magic)+n+len(m)+len(payload))
		out = append(out, magic...)
		out = append(out, hdr[:n]...)
		out = append(out, m...)
		return append(out, payload...), nil
	}

	return nil, fmt.Errorf("unknown frame format %s", f)
}

// Decode splits a frame into its metadata and payload.
// The payload is a subslice of blob.
func Decode(blob []byte) (Metadata, []byte, error) {
	m, payload, err := split(blob)
	if err != nil {
		return Metadata{}, nil, err
	}
	meta, err := parseMetadata(m)
	if err != nil {
		return Metadata{}, nil, err
	}
	return meta, payload, nil
}

// DecodeMetadata is Decode without the payload.
func DecodeMetadata(blob []byte) (Metadata, error) {
	meta, _, err := Decode(blob)
	return meta, err
}

// IsFrame tells whether blob looks like a frame of either layout.
// It does not check that the metadata parses.
func IsFrame(blob []byte) bool {
	_, _, err := split(blob)
	return err == nil
}

func split(blob []byte) (meta, payload []byte, err error) {
	if bytes.HasPrefix(blob, magic) {
		rest := blob[len(magic):]
		size, n := binary.Uvarint(rest)
		if n <= 0 {
			return nil, nil, errors.Wrap(ErrFormat, "bad metadata length")
		}
		rest = rest[n:]
		if size > uint64(len(rest)) {
			return nil, nil, errors.Wrapf(ErrFormat, "metadata length %d exceeds remaining %d bytes", size, len(rest))
		}
		return rest[:size], rest[size:], nil
	}

	idx := bytes.Index(blob, separator)
	if idx < 0 {
		return nil, nil, ErrFormat
	}
	return blob[:idx], blob[idx+len(separator):], nil
}

func parseMetadata(b []byte) (Metadata, error) {
	var meta Metadata
	if err := json.Unmarshal(b, &meta); err != nil {
		return Metadata{}, &MetadataParseError{Err: err}
	}
	return meta, nil
}
