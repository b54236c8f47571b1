// Package compress implements a blob store that compresses and uncompresses blobs
// on their way into and out of a nested store.
//
// Each compressed blob carries a short header naming its compressor,
// so a Store can read blobs written with any registered Compressor.
// A blob without the header is returned unchanged,
// which lets a compressing Store wrap a store that already holds uncompressed blobs.
package compress

import (
	"bytes"
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/bobg/bsv"
	"github.com/bobg/bsv/store"
)

var _ bsv.Store = &Store{}

// Store compresses blobs with a Compressor before writing them to a nested store.
// The handles it returns are those of the nested store,
// i.e. of the compressed blobs.
type Store struct {
	s bsv.Store
	c Compressor
}

// Compressor is a compression algorithm.
type Compressor interface {
	// Tag identifies the algorithm in the header of a compressed blob.
	Tag() byte

	Compress([]byte) ([]byte, error)
	Uncompress([]byte) ([]byte, error)
}

// Header begins every compressed blob.
// It is followed by the Compressor's Tag.
const Header = "\x00BSVZ"

var (
	header = []byte(Header)

	compressors = map[byte]Compressor{
		zstdTag:  Zstd{},
		flateTag: Flate{Level: -1},
	}
)

// New produces a new Store wrapping s.
func New(s bsv.Store, c Compressor) *Store {
	return &Store{s: s, c: c}
}

// Get gets the blob with handle h and uncompresses it.
func (s *Store) Get(ctx context.Context, h bsv.Handle) ([]byte, error) {
	b, err := s.s.Get(ctx, h)
	if err != nil {
		return nil, err
	}
	if !bytes.HasPrefix(b, header) || len(b) == len(header) {
		return b, nil
	}
	tag := b[len(header)]
	c, ok := compressors[tag]
	if !ok {
		return nil, fmt.Errorf("blob %s: unknown compressor tag %q", h, tag)
	}
	u, err := c.Uncompress(b[len(header)+1:])
	return u, errors.Wrapf(err, "uncompressing blob %s", h)
}

// Put compresses blob and writes it to the nested store.
func (s *Store) Put(ctx context.Context, blob []byte, opts bsv.PutOptions) (bsv.Handle, error) {
	c, err := s.c.Compress(blob)
	if err != nil {
		return "", errors.Wrap(err, "compressing blob")
	}
	out := make([]byte, 0, len(header)+1+len(c))
	out = append(out, header...)
	out = append(out, s.c.Tag())
	out = append(out, c...)
	return s.s.Put(ctx, out, opts)
}

func init() {
	store.Register("compress", func(ctx context.Context, conf map[string]interface{}) (bsv.Store, error) {
		level, err := store.Int(conf, "level", 0)
		if err != nil {
			return nil, err
		}

		var c Compressor
		switch alg, _ := conf["algorithm"].(string); alg {
		case "", "zstd":
			c = Zstd{Level: level}
		case "flate":
			if level == 0 {
				level = -1
			}
			c = Flate{Level: level}
		default:
			return nil, fmt.Errorf("unknown compression algorithm %q", alg)
		}

		nested, err := store.Nested(ctx, conf, "nested")
		if err != nil {
			return nil, err
		}
		return New(nested, c), nil
	})
}
