// Package codec adapts third-party compression libraries to the numeric codec
// ids persisted in the flash cache log and in compressed block headers.
package codec

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ID is the codec identifier stored on disk. Values are fixed.
type ID uint32

const (
	None    ID = 0
	QuickLZ ID = 1
	Snappy  ID = 2
	Zlib    ID = 5
	Zstd    ID = 6
	XZ      ID = 7
)

var (
	// ErrUnsupported is returned for ids that are reserved but have no
	// implementation in this build.
	ErrUnsupported = errors.New("codec: unsupported algorithm")

	// ErrUnknown is returned for names or ids that were never assigned.
	ErrUnknown = errors.New("codec: unknown algorithm")

	// ErrSizeMismatch is returned when decompressed output does not match the
	// size recorded alongside the payload.
	ErrSizeMismatch = errors.New("codec: decompressed size mismatch")
)

// Codec compresses and decompresses whole pages.
//
// Compress appends the compressed form of src to dst[:0] and returns it.
// Decompress appends the decompressed form of src to dst[:0]; callers pass the
// expected size so implementations can size their output.
type Codec interface {
	ID() ID
	Name() string
	Compress(dst, src []byte) ([]byte, error)
	Decompress(dst, src []byte, size int) ([]byte, error)
}

var registry = map[ID]Codec{
	Snappy: snappyCodec{},
	Zlib:   zlibCodec{},
	Zstd:   newZstdCodec(),
	XZ:     xzCodec{},
}

var names = map[string]ID{
	"quicklz": QuickLZ,
	"snappy":  Snappy,
	"zlib":    Zlib,
	"zstd":    Zstd,
	"xz":      XZ,
}

// ByID returns the codec registered under id.
func ByID(id ID) (Codec, error) {
	if c, ok := registry[id]; ok {
		return c, nil
	}
	if id == QuickLZ {
		return nil, fmt.Errorf("quicklz (id %d): %w", id, ErrUnsupported)
	}
	return nil, fmt.Errorf("id %d: %w", id, ErrUnknown)
}

// ByName returns the codec for a case-insensitive name such as "zstd".
func ByName(name string) (Codec, error) {
	id, ok := names[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, ErrUnknown)
	}
	return ByID(id)
}

// Names lists every known codec name, including reserved ones.
func Names() []string {
	out := make([]string, 0, len(names))
	for n := range names {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Available lists the names of codecs usable in this build.
func Available() []string {
	out := make([]string, 0, len(registry))
	for _, c := range registry {
		out = append(out, c.Name())
	}
	sort.Strings(out)
	return out
}

// NameOf returns the name for id, or "none"/"unknown".
func NameOf(id ID) string {
	if id == None {
		return "none"
	}
	for n, v := range names {
		if v == id {
			return n
		}
	}
	return "unknown"
}

func checkSize(out []byte, size int) ([]byte, error) {
	if size > 0 && len(out) != size {
		return nil, fmt.Errorf("got %d bytes, want %d: %w", len(out), size, ErrSizeMismatch)
	}
	return out, nil
}
