package compress

import (
	"bytes"
	"compress/flate"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
)

const (
	zstdTag  = 'z'
	flateTag = 'f'
)

// Zstd is Zstandard compression.
// Level is a zstd compression level (1-22);
// zero means the encoder's default.
type Zstd struct {
	Level int
}

var (
	zencMu sync.Mutex
	zencs  = make(map[int]*zstd.Encoder)

	zdecOnce sync.Once
	zdec     *zstd.Decoder
	zdecErr  error
)

func (Zstd) Tag() byte { return zstdTag }

func (z Zstd) encoder() (*zstd.Encoder, error) {
	zencMu.Lock()
	defer zencMu.Unlock()

	if e, ok := zencs[z.Level]; ok {
		return e, nil
	}
	var opts []zstd.EOption
	if z.Level != 0 {
		opts = append(opts, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(z.Level)))
	}
	e, err := zstd.NewWriter(nil, opts...)
	if err != nil {
		return nil, err
	}
	zencs[z.Level] = e
	return e, nil
}

func (z Zstd) Compress(inp []byte) ([]byte, error) {
	e, err := z.encoder()
	if err != nil {
		return nil, err
	}
	return e.EncodeAll(inp, nil), nil
}

func (Zstd) Uncompress(inp []byte) ([]byte, error) {
	zdecOnce.Do(func() {
		zdec, zdecErr = zstd.NewReader(nil)
	})
	if zdecErr != nil {
		return nil, zdecErr
	}
	return zdec.DecodeAll(inp, nil)
}

// Flate is DEFLATE compression from the standard library.
type Flate struct {
	Level int
}

func (Flate) Tag() byte { return flateTag }

func (f Flate) Compress(inp []byte) ([]byte, error) {
	buf := new(bytes.Buffer)
	level := f.Level
	if level < flate.HuffmanOnly || level > flate.BestCompression {
		level = flate.DefaultCompression
	}
	w, err := flate.NewWriter(buf, level)
	if err != nil {
		return nil, err
	}
	if _, err = w.Write(inp); err != nil {
		return nil, err
	}
	if err = w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (Flate) Uncompress(inp []byte) ([]byte, error) {
	rr := flate.NewReader(bytes.NewReader(inp))
	defer rr.Close()
	return io.ReadAll(rr)
}
