// Package client stores and retrieves framed records and files in a bsv.Store.
package client

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/bobg/bsv"
	"github.com/bobg/bsv/frame"
	"github.com/bobg/bsv/retry"
)

var log = logrus.WithField("logger", "client")

// Client composes a store, the signer that authorizes writes to it,
// and the policy for retrying those writes.
//
// Writes go through Retry.
// Reads are attempted once:
// the reads that fail are usually ones that will keep failing.
type Client struct {
	Store  bsv.Store
	Signer bsv.Signer

	Retry retry.Policy

	// Format is the frame layout for new blobs.
	// The zero value is frame.Legacy.
	Format frame.Format

	// Epochs is the durability hint for new blobs.
	// Zero means bsv.DefaultEpochs.
	Epochs int

	// Deletable marks new blobs as deletable by their owner.
	Deletable bool

	now func() time.Time
}

// New produces a Client with the default retry policy and write options.
func New(s bsv.Store, signer bsv.Signer) *Client {
	return &Client{
		Store:  s,
		Signer: signer,
		Retry:  retry.DefaultPolicy,
		Epochs: bsv.DefaultEpochs,
	}
}

// Annotations are the caller-supplied parts of a blob's metadata.
type Annotations struct {
	Description string
	Tags        []string

	// Extra holds additional metadata keys.
	// Keys that collide with the known metadata fields are ignored.
	Extra map[string]interface{}
}

// Record is the result of RetrieveRecord.
type Record struct {
	Meta    frame.Metadata
	Content json.RawMessage
}

// Decode unmarshals the record's content into v.
func (r *Record) Decode(v interface{}) error {
	return errors.Wrap(json.Unmarshal(r.Content, v), "decoding record content")
}

// Info describes a stored blob.
type Info struct {
	Meta frame.Metadata

	// Size is the length of the whole blob, frame included.
	Size int

	// PayloadSize is the length of the payload alone.
	PayloadSize int
}

func (c *Client) metadata(a Annotations) frame.Metadata {
	now := time.Now
	if c.now != nil {
		now = c.now
	}
	m := frame.Metadata{
		Timestamp:   now().UTC(),
		Description: a.Description,
		Tags:        a.Tags,
	}
	for k, v := range a.Extra {
		m.Set(k, v)
	}
	return m
}

func (c *Client) putOptions() bsv.PutOptions {
	epochs := c.Epochs
	if epochs <= 0 {
		epochs = bsv.DefaultEpochs
	}
	return bsv.PutOptions{
		Epochs:    epochs,
		Deletable: c.Deletable,
		Signer:    c.Signer,
	}
}

// put frames meta and payload and writes the result through the retry policy.
// Framing failures happen before the first attempt and are never retried.
func (c *Client) put(ctx context.Context, name string, meta frame.Metadata, payload []byte) (bsv.Handle, error) {
	blob, err := frame.EncodeFormat(c.Format, meta, payload)
	if err != nil {
		return "", err
	}

	p := c.Retry
	if p.Name == "" {
		p.Name = name
	}
	opts := c.putOptions()

	log.WithFields(logrus.Fields{"op": name, "size": len(blob), "epochs": opts.Epochs}).Debug("writing blob")

	h, err := retry.Do(ctx, p, func(ctx context.Context) (bsv.Handle, error) {
		return c.Store.Put(ctx, blob, opts)
	})
	if err != nil {
		return "", errors.Wrapf(err, "storing %d-byte blob", len(blob))
	}

	log.WithFields(logrus.Fields{"op": name, "handle": h}).Info("stored blob")
	return h, nil
}

func (c *Client) get(ctx context.Context, h bsv.Handle) ([]byte, error) {
	blob, err := c.Store.Get(ctx, h)
	return blob, errors.Wrapf(err, "reading blob %s", h)
}

// StoreRecord stores content,
// which must be JSON-encodable,
// along with a timestamp and the given annotations.
func (c *Client) StoreRecord(ctx context.Context, content interface{}, a Annotations) (bsv.Handle, error) {
	payload, err := json.Marshal(content)
	if err != nil {
		return "", &frame.EncodingError{Err: err}
	}
	return c.put(ctx, "store-record", c.metadata(a), payload)
}

// RetrieveRecord reads back a blob written by StoreRecord.
func (c *Client) RetrieveRecord(ctx context.Context, h bsv.Handle) (*Record, error) {
	blob, err := c.get(ctx, h)
	if err != nil {
		return nil, err
	}
	meta, payload, err := frame.Decode(blob)
	if err != nil {
		return nil, errors.Wrapf(err, "decoding blob %s", h)
	}
	if !json.Valid(payload) {
		return nil, errors.Wrapf(frame.ErrFormat, "blob %s does not hold a record", h)
	}
	return &Record{Meta: meta, Content: json.RawMessage(payload)}, nil
}

// StoreFile stores the contents of the file at path.
// The file is read fully into memory first.
// Its base name is recorded in the metadata.
func (c *Client) StoreFile(ctx context.Context, path string, a Annotations) (bsv.Handle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", errors.Wrapf(err, "reading %s", path)
	}
	return c.StoreBytes(ctx, filepath.Base(path), data, a)
}

// StoreBytes stores data as a file named fileName.
func (c *Client) StoreBytes(ctx context.Context, fileName string, data []byte, a Annotations) (bsv.Handle, error) {
	meta := c.metadata(a)
	meta.FileName = fileName
	return c.put(ctx, "store-file", meta, data)
}

// RetrieveFileBytes reads back a blob written by StoreFile or StoreBytes.
func (c *Client) RetrieveFileBytes(ctx context.Context, h bsv.Handle) (frame.Metadata, []byte, error) {
	blob, err := c.get(ctx, h)
	if err != nil {
		return frame.Metadata{}, nil, err
	}
	meta, payload, err := frame.Decode(blob)
	if err != nil {
		return frame.Metadata{}, nil, errors.Wrapf(err, "decoding blob %s", h)
	}
	return meta, payload, nil
}

// RetrieveFile writes the payload of a blob written by StoreFile or StoreBytes
// to outputPath, verbatim.
func (c *Client) RetrieveFile(ctx context.Context, h bsv.Handle, outputPath string) (frame.Metadata, error) {
	meta, payload, err := c.RetrieveFileBytes(ctx, h)
	if err != nil {
		return frame.Metadata{}, err
	}
	if err := os.WriteFile(outputPath, payload, 0644); err != nil {
		return frame.Metadata{}, errors.Wrapf(err, "writing %s", outputPath)
	}
	log.WithFields(logrus.Fields{"handle": h, "path": outputPath, "size": len(payload)}).Info("retrieved file")
	return meta, nil
}

// Info reports the metadata and size of a blob
// without handing its payload to the caller.
func (c *Client) Info(ctx context.Context, h bsv.Handle) (*Info, error) {
	blob, err := c.get(ctx, h)
	if err != nil {
		return nil, err
	}
	meta, payload, err := frame.Decode(blob)
	if err != nil {
		return nil, errors.Wrapf(err, "decoding blob %s", h)
	}
	return &Info{Meta: meta, Size: len(blob), PayloadSize: len(payload)}, nil
}

// Address is the identity of the client's signer,
// or the empty string if it has none.
func (c *Client) Address() string {
	if c.Signer == nil {
		return ""
	}
	return c.Signer.Address()
}

// ListRecentBlobs does not work.
// Stores have no way to enumerate their contents,
// so this always returns an empty list.
// The only upload history is the local one kept by package ledger.
func (c *Client) ListRecentBlobs(_ context.Context, limit int) ([]bsv.Handle, error) {
	log.WithField("limit", limit).Warn("listing blobs is not supported by the store, returning nothing")
	return []bsv.Handle{}, nil
}
