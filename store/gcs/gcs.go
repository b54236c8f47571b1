// Package gcs implements a blob store on Google Cloud Storage.
package gcs

import (
	"context"
	stderrs "errors"
	"io"
	"net/http"
	"strconv"

	"cloud.google.com/go/storage"
	"github.com/pkg/errors"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/bobg/bsv"
	"github.com/bobg/bsv/store"
)

var _ bsv.Store = &Store{}

// Store is a Google Cloud Storage-based implementation of a blob store.
type Store struct {
	bucket *storage.BucketHandle
}

// New produces a new Store.
func New(bucket *storage.BucketHandle) *Store {
	return &Store{bucket: bucket}
}

// Object metadata keys recording the write options.
const (
	epochsKey    = "epochs"
	deletableKey = "deletable"
	ownerKey     = "owner"
)

// Get gets the blob with handle h.
func (s *Store) Get(ctx context.Context, h bsv.Handle) ([]byte, error) {
	if !h.Valid() {
		return nil, bsv.ErrNotFound
	}

	name := blobObjName(h)
	r, err := s.bucket.Object(name).NewReader(ctx)
	if stderrs.Is(err, storage.ErrObjectNotExist) {
		return nil, bsv.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "reading info of object %s", name)
	}
	defer r.Close()

	b := make([]byte, r.Attrs.Size)
	_, err = io.ReadFull(r, b)
	return b, errors.Wrapf(err, "reading contents of object %s", name)
}

// Put adds a blob to the store if it wasn't already present.
func (s *Store) Put(ctx context.Context, blob []byte, opts bsv.PutOptions) (bsv.Handle, error) {
	var (
		h    = bsv.HandleOf(blob)
		name = blobObjName(h)
		obj  = s.bucket.Object(name).If(storage.Conditions{DoesNotExist: true})
		w    = obj.NewWriter(ctx)
	)

	w.Metadata = map[string]string{
		epochsKey:    strconv.Itoa(opts.Epochs),
		deletableKey: strconv.FormatBool(opts.Deletable),
	}
	if opts.Signer != nil {
		w.Metadata[ownerKey] = opts.Signer.Address()
	}

	if _, err := w.Write(blob); err != nil {
		w.Close()
		if isPreconditionFailed(err) {
			return h, nil
		}
		return "", errors.Wrapf(err, "writing object %s", name)
	}

	// The precondition is usually checked only when the upload is finalized.
	err := w.Close()
	if isPreconditionFailed(err) {
		return h, nil
	}
	if err != nil {
		return "", errors.Wrapf(err, "closing object %s", name)
	}
	return h, nil
}

func isPreconditionFailed(err error) bool {
	var e *googleapi.Error
	return stderrs.As(err, &e) && e.Code == http.StatusPreconditionFailed
}

func blobObjName(h bsv.Handle) string {
	return "b:" + h.String()
}

func init() {
	store.Register("gcs", func(ctx context.Context, conf map[string]interface{}) (bsv.Store, error) {
		var options []option.ClientOption
		creds, err := store.String(conf, "creds")
		if err != nil {
			return nil, err
		}
		bucketName, err := store.String(conf, "bucket")
		if err != nil {
			return nil, err
		}
		options = append(options, option.WithCredentialsFile(creds))
		c, err := storage.NewClient(ctx, options...)
		if err != nil {
			return nil, errors.Wrap(err, "creating cloud storage client")
		}
		return New(c.Bucket(bucketName)), nil
	})
}
