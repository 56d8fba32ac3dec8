// Package bytesize parses and formats human-readable sizes used by the cache
// configuration (device size, slot size, page size).
package bytesize

import (
	"fmt"
	"math/bits"
	"regexp"
	"strconv"
	"strings"
)

// ByteSize is a size in bytes that can be decoded from strings such as
// "16KiB", "4k", "2Gi" or plain integers.
//
// Binary suffixes (Ki, Mi, Gi, Ti with optional B) multiply by 1024.
// Decimal suffixes (K, M, G, T with optional B) multiply by 1000, except that
// a bare "k" is accepted as KiB because slot sizes are always binary.
type ByteSize uint64

const (
	B  ByteSize = 1
	KB ByteSize = 1000
	MB ByteSize = 1000 * KB
	GB ByteSize = 1000 * MB
	TB ByteSize = 1000 * GB

	KiB ByteSize = 1024
	MiB ByteSize = 1024 * KiB
	GiB ByteSize = 1024 * MiB
	TiB ByteSize = 1024 * GiB
)

var sizePattern = regexp.MustCompile(`(?i)^\s*(\d+(?:\.\d+)?)\s*([a-z]*)\s*$`)

var multipliers = map[string]ByteSize{
	"":    B,
	"b":   B,
	"k":   KiB,
	"kb":  KB,
	"m":   MB,
	"mb":  MB,
	"g":   GB,
	"gb":  GB,
	"t":   TB,
	"tb":  TB,
	"ki":  KiB,
	"kib": KiB,
	"mi":  MiB,
	"mib": MiB,
	"gi":  GiB,
	"gib": GiB,
	"ti":  TiB,
	"tib": TiB,
}

// ParseByteSize parses s into a ByteSize.
func ParseByteSize(s string) (ByteSize, error) {
	if strings.TrimSpace(s) == "" {
		return 0, fmt.Errorf("empty byte size string")
	}

	m := sizePattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("invalid byte size format: %q", s)
	}

	mult, ok := multipliers[strings.ToLower(m[2])]
	if !ok {
		return 0, fmt.Errorf("unknown byte size unit: %q", m[2])
	}

	if strings.Contains(m[1], ".") {
		f, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return 0, fmt.Errorf("invalid number in byte size: %q", m[1])
		}
		return ByteSize(f * float64(mult)), nil
	}

	n, err := strconv.ParseUint(m[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number in byte size: %q", m[1])
	}
	if n != 0 && uint64(mult) > ^uint64(0)/n {
		return 0, fmt.Errorf("byte size overflows: %q", s)
	}
	return ByteSize(n) * mult, nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (b *ByteSize) UnmarshalText(text []byte) error {
	size, err := ParseByteSize(string(text))
	if err != nil {
		return err
	}
	*b = size
	return nil
}

// MarshalText implements encoding.TextMarshaler so sizes round-trip through
// YAML as readable strings.
func (b ByteSize) MarshalText() ([]byte, error) {
	return []byte(b.compact()), nil
}

// compact renders exact binary multiples without a fraction ("16KiB"),
// falling back to the byte count.
func (b ByteSize) compact() string {
	for _, u := range []struct {
		size ByteSize
		name string
	}{{TiB, "TiB"}, {GiB, "GiB"}, {MiB, "MiB"}, {KiB, "KiB"}} {
		if b >= u.size && b%u.size == 0 {
			return fmt.Sprintf("%d%s", b/u.size, u.name)
		}
	}
	return strconv.FormatUint(uint64(b), 10)
}

// String returns a human-readable representation of the size.
func (b ByteSize) String() string {
	switch {
	case b >= TiB:
		return fmt.Sprintf("%.2fTiB", float64(b)/float64(TiB))
	case b >= GiB:
		return fmt.Sprintf("%.2fGiB", float64(b)/float64(GiB))
	case b >= MiB:
		return fmt.Sprintf("%.2fMiB", float64(b)/float64(MiB))
	case b >= KiB:
		return fmt.Sprintf("%.2fKiB", float64(b)/float64(KiB))
	default:
		return fmt.Sprintf("%dB", b)
	}
}

// Uint64 returns the size as a uint64.
func (b ByteSize) Uint64() uint64 {
	return uint64(b)
}

// Int64 returns the size as an int64. Values above MaxInt64 overflow.
func (b ByteSize) Int64() int64 {
	return int64(b)
}

// IsPowerOfTwo reports whether b is a non-zero power of two.
func (b ByteSize) IsPowerOfTwo() bool {
	return b != 0 && bits.OnesCount64(uint64(b)) == 1
}

// Slots returns how many whole slots of the given size fit in b.
func (b ByteSize) Slots(slot ByteSize) uint32 {
	if slot == 0 {
		return 0
	}
	return uint32(b / slot)
}
