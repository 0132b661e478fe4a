// Package bytesize parses the human-readable sizes used for HTTP limits in
// the configuration file, such as "64KiB", "1Mi" or "8000".
package bytesize

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// ByteSize is a size in bytes. Values never exceed Max, so they fit the int
// limits net/http takes.
type ByteSize uint64

const (
	B  ByteSize = 1
	KB ByteSize = 1000
	MB ByteSize = 1000 * KB

	KiB ByteSize = 1024
	MiB ByteSize = 1024 * KiB
)

// Max is the largest accepted size.
const Max ByteSize = math.MaxInt32

var sizePattern = regexp.MustCompile(`(?i)^\s*(\d+(?:\.\d+)?)\s*([a-z]*)\s*$`)

var units = map[string]ByteSize{
	"":    B,
	"b":   B,
	"k":   KB,
	"kb":  KB,
	"m":   MB,
	"mb":  MB,
	"ki":  KiB,
	"kib": KiB,
	"mi":  MiB,
	"mib": MiB,
}

// ParseByteSize parses s as a number with an optional unit. Decimal (K, M)
// and binary (Ki, Mi) units are accepted, case-insensitively.
func ParseByteSize(s string) (ByteSize, error) {
	m := sizePattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("invalid byte size %q", s)
	}

	unit, ok := units[strings.ToLower(m[2])]
	if !ok {
		return 0, fmt.Errorf("unknown byte size unit %q", m[2])
	}

	var size float64
	if strings.Contains(m[1], ".") {
		f, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return 0, fmt.Errorf("invalid byte size %q: %w", s, err)
		}
		size = f * float64(unit)
	} else {
		n, err := strconv.ParseUint(m[1], 10, 64)
		if err != nil || n > uint64(Max/unit) {
			return 0, fmt.Errorf("byte size %q exceeds %s", s, Max)
		}
		return ByteSize(n) * unit, nil
	}

	if size > float64(Max) {
		return 0, fmt.Errorf("byte size %q exceeds %s", s, Max)
	}
	return ByteSize(size), nil
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

// String renders b in the largest binary unit that divides it exactly.
func (b ByteSize) String() string {
	switch {
	case b >= MiB && b%MiB == 0:
		return fmt.Sprintf("%dMiB", b/MiB)
	case b >= KiB && b%KiB == 0:
		return fmt.Sprintf("%dKiB", b/KiB)
	default:
		return fmt.Sprintf("%dB", uint64(b))
	}
}

// Int returns b as an int for net/http limits.
func (b ByteSize) Int() int {
	if b > Max {
		return int(Max)
	}
	return int(b)
}
