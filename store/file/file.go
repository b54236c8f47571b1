// Package file implements a blob store as a file hierarchy.
package file

import (
	"context"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/bobg/bsv"
	"github.com/bobg/bsv/store"
)

var _ bsv.Store = &Store{}

// Store is a file-based implementation of a blob store.
// Blobs live in a two-level tree beneath root,
// sharded by the leading characters of their handles.
type Store struct {
	root string
}

// New produces a new Store storing data beneath `root`.
func New(root string) *Store {
	return &Store{root: root}
}

func (s *Store) blobroot() string {
	return filepath.Join(s.root, "blobs")
}

func (s *Store) blobpath(h bsv.Handle) string {
	str := h.String()
	return filepath.Join(s.blobroot(), str[:2], str[:4], str)
}

// Get gets the blob with handle h.
func (s *Store) Get(_ context.Context, h bsv.Handle) ([]byte, error) {
	if !h.Valid() {
		return nil, bsv.ErrNotFound
	}
	path := s.blobpath(h)
	blob, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, bsv.ErrNotFound
	}
	return blob, errors.Wrapf(err, "reading %s", path)
}

// Put adds a blob to the store if it wasn't already present.
// The blob is written to a temporary file and renamed into place,
// so a reader never sees a partial blob.
func (s *Store) Put(_ context.Context, blob []byte, _ bsv.PutOptions) (bsv.Handle, error) {
	var (
		h    = bsv.HandleOf(blob)
		path = s.blobpath(h)
		dir  = filepath.Dir(path)
	)

	if _, err := os.Stat(path); err == nil {
		return h, nil
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", errors.Wrapf(err, "ensuring path %s exists", dir)
	}

	f, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return "", errors.Wrapf(err, "creating temp file in %s", dir)
	}
	tmpname := f.Name()
	defer os.Remove(tmpname)

	if _, err = f.Write(blob); err != nil {
		f.Close()
		return "", errors.Wrapf(err, "writing data to %s", tmpname)
	}
	if err = f.Close(); err != nil {
		return "", errors.Wrapf(err, "closing %s", tmpname)
	}

	err = os.Rename(tmpname, path)
	return h, errors.Wrapf(err, "renaming %s to %s", tmpname, path)
}

func init() {
	store.Register("file", func(_ context.Context, conf map[string]interface{}) (bsv.Store, error) {
		root, err := store.String(conf, "root")
		if err != nil {
			return nil, err
		}
		return New(root), nil
	})
}
