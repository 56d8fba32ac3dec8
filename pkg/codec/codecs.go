package codec

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

type snappyCodec struct{}

func (snappyCodec) ID() ID       { return Snappy }
func (snappyCodec) Name() string { return "snappy" }

func (snappyCodec) Compress(dst, src []byte) ([]byte, error) {
	return snappy.Encode(dst[:cap(dst)], src), nil
}

func (snappyCodec) Decompress(dst, src []byte, size int) ([]byte, error) {
	out, err := snappy.Decode(dst[:cap(dst)], src)
	if err != nil {
		return nil, fmt.Errorf("snappy decode: %w", err)
	}
	return checkSize(out, size)
}

type zlibCodec struct{}

func (zlibCodec) ID() ID       { return Zlib }
func (zlibCodec) Name() string { return "zlib" }

func (zlibCodec) Compress(dst, src []byte) ([]byte, error) {
	buf := bytes.NewBuffer(dst[:0])
	w := zlib.NewWriter(buf)
	if _, err := w.Write(src); err != nil {
		return nil, fmt.Errorf("zlib write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("zlib close: %w", err)
	}
	return buf.Bytes(), nil
}

func (zlibCodec) Decompress(dst, src []byte, size int) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("zlib reader: %w", err)
	}
	defer r.Close()
	return readAll(dst, r, size)
}

// zstdCodec shares one encoder and one decoder; EncodeAll and DecodeAll are
// safe for concurrent use.
type zstdCodec struct {
	once sync.Once
	enc  *zstd.Encoder
	dec  *zstd.Decoder
	err  error
}

func newZstdCodec() *zstdCodec { return &zstdCodec{} }

func (c *zstdCodec) init() error {
	c.once.Do(func() {
		c.enc, c.err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest), zstd.WithEncoderConcurrency(1))
		if c.err != nil {
			return
		}
		c.dec, c.err = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	})
	return c.err
}

func (c *zstdCodec) ID() ID       { return Zstd }
func (c *zstdCodec) Name() string { return "zstd" }

func (c *zstdCodec) Compress(dst, src []byte) ([]byte, error) {
	if err := c.init(); err != nil {
		return nil, fmt.Errorf("zstd init: %w", err)
	}
	return c.enc.EncodeAll(src, dst[:0]), nil
}

func (c *zstdCodec) Decompress(dst, src []byte, size int) ([]byte, error) {
	if err := c.init(); err != nil {
		return nil, fmt.Errorf("zstd init: %w", err)
	}
	out, err := c.dec.DecodeAll(src, dst[:0])
	if err != nil {
		return nil, fmt.Errorf("zstd decode: %w", err)
	}
	return checkSize(out, size)
}

type xzCodec struct{}

func (xzCodec) ID() ID       { return XZ }
func (xzCodec) Name() string { return "xz" }

func (xzCodec) Compress(dst, src []byte) ([]byte, error) {
	buf := bytes.NewBuffer(dst[:0])
	w, err := xz.NewWriter(buf)
	if err != nil {
		return nil, fmt.Errorf("xz writer: %w", err)
	}
	if _, err := w.Write(src); err != nil {
		return nil, fmt.Errorf("xz write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("xz close: %w", err)
	}
	return buf.Bytes(), nil
}

func (xzCodec) Decompress(dst, src []byte, size int) ([]byte, error) {
	r, err := xz.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("xz reader: %w", err)
	}
	return readAll(dst, r, size)
}

func readAll(dst []byte, r io.Reader, size int) ([]byte, error) {
	buf := bytes.NewBuffer(dst[:0])
	if size > 0 {
		buf.Grow(size)
	}
	if _, err := io.Copy(buf, r); err != nil {
		return nil, fmt.Errorf("decompress: %w", err)
	}
	return checkSize(buf.Bytes(), size)
}
