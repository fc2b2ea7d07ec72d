package absave

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/cockroachdb/apd/v3"
)

// ============================================================
// Numeric Packing
// ============================================================
//
// A number is its little-endian byte form with trailing zero bytes
// trimmed, behind a length marker:
//
//	0 bytes   0x00
//	1 byte    0x01 b0
//	2 bytes   0x07 b0 b1
//	n bytes   0x08 n b0 .. bn-1

const (
	markerZero  byte = 0x00
	markerOne   byte = 0x01
	markerTwo   byte = 0x07
	markerCount byte = 0x08
)

// Numeric decoding errors.
var (
	ErrNumberMarker   = errors.New("invalid numeric length marker")
	ErrNumberOverflow = errors.New("numeric value wider than declared type")
	ErrNumberTrunc    = errors.New("numeric value truncated")
)

// AppendTrimmed appends the length marker and the significant bytes of le,
// a little-endian byte form.
func AppendTrimmed(dst []byte, le []byte) []byte {
	n := len(le)
	for n > 0 && le[n-1] == 0 {
		n--
	}
	switch n {
	case 0:
		return append(dst, markerZero)
	case 1:
		dst = append(dst, markerOne)
	case 2:
		dst = append(dst, markerTwo)
	default:
		dst = append(dst, markerCount, byte(n))
	}
	return append(dst, le[:n]...)
}

// AppendUint appends v using its low size bytes.
func AppendUint(dst []byte, v uint64, size int) []byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	return AppendTrimmed(dst, buf[:size])
}

// AppendInt appends v in two's complement over size bytes.
func AppendInt(dst []byte, v int64, size int) []byte {
	return AppendUint(dst, uint64(v), size)
}

// AppendFloat32 appends the IEEE 754 bits of f.
func AppendFloat32(dst []byte, f float32) []byte {
	return AppendUint(dst, uint64(math.Float32bits(f)), 4)
}

// AppendFloat64 appends the IEEE 754 bits of f.
func AppendFloat64(dst []byte, f float64) []byte {
	return AppendUint(dst, math.Float64bits(f), 8)
}

// ReadNumber reads one packed number from the start of data. It returns
// the significant little-endian bytes and the total bytes consumed.
func ReadNumber(data []byte) (le []byte, n int, err error) {
	if len(data) == 0 {
		return nil, 0, ErrNumberTrunc
	}
	var size, head int
	switch data[0] {
	case markerZero:
		return nil, 1, nil
	case markerOne:
		size, head = 1, 1
	case markerTwo:
		size, head = 2, 1
	case markerCount:
		if len(data) < 2 {
			return nil, 0, ErrNumberTrunc
		}
		size, head = int(data[1]), 2
	default:
		return nil, 0, fmt.Errorf("%w: %#02x", ErrNumberMarker, data[0])
	}
	if len(data) < head+size {
		return nil, 0, ErrNumberTrunc
	}
	return data[head : head+size], head + size, nil
}

// widen zero-extends le into a uint64 after checking it fits size bytes.
func widen(le []byte, size int) (uint64, error) {
	if len(le) > size {
		return 0, fmt.Errorf("%w: %d bytes into %d", ErrNumberOverflow, len(le), size)
	}
	var buf [8]byte
	copy(buf[:], le)
	return binary.LittleEndian.Uint64(buf[:]), nil
}

// signExtend interprets the low size bytes of u as a two's-complement int.
func signExtend(u uint64, size int) int64 {
	shift := uint(64 - 8*size)
	return int64(u<<shift) >> shift
}

// ============================================================
// Decimal Words
// ============================================================
//
// A decimal is four 32-bit words: lo, mid, hi (a 96-bit unsigned
// coefficient) and flags (scale in bits 16-23, sign in bit 31).

const (
	maxDecimalScale = 28
	decimalSignBit  = uint32(1) << 31
	decimalFlagMask = decimalSignBit | 0x00FF0000
)

// ErrDecimalRange is returned for decimals outside the 96-bit/scale-28
// range, and for NaN or infinities.
var ErrDecimalRange = errors.New("decimal out of range")

func pow10(n int32) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

// DecimalWords splits d into lo, mid, hi and flags words.
func DecimalWords(d *apd.Decimal) ([4]uint32, error) {
	var w [4]uint32
	if d.Form != apd.Finite {
		return w, fmt.Errorf("%w: %s", ErrDecimalRange, d.String())
	}

	coeff := d.Coeff.MathBigInt()
	exp := d.Exponent

	switch {
	case coeff.Sign() == 0:
		exp = max(exp, -maxDecimalScale)
		if exp > 0 {
			exp = 0
		}
	case exp > 0:
		if exp > 29 {
			return w, fmt.Errorf("%w: %s", ErrDecimalRange, d.String())
		}
		coeff.Mul(coeff, pow10(exp))
		exp = 0
	case exp < -maxDecimalScale:
		// Only trailing zero digits may be dropped.
		drop := -exp - maxDecimalScale
		if int64(drop) > int64(coeff.BitLen()) {
			return w, fmt.Errorf("%w: scale %d", ErrDecimalRange, -exp)
		}
		q, r := new(big.Int).QuoRem(coeff, pow10(drop), new(big.Int))
		if r.Sign() != 0 {
			return w, fmt.Errorf("%w: scale %d", ErrDecimalRange, -exp)
		}
		coeff = q
		exp = -maxDecimalScale
	}

	if coeff.BitLen() > 96 {
		return w, fmt.Errorf("%w: coefficient exceeds 96 bits", ErrDecimalRange)
	}

	var be [12]byte
	coeff.FillBytes(be[:])
	w[2] = binary.BigEndian.Uint32(be[0:4])
	w[1] = binary.BigEndian.Uint32(be[4:8])
	w[0] = binary.BigEndian.Uint32(be[8:12])
	w[3] = uint32(-exp) << 16
	if d.Negative {
		w[3] |= decimalSignBit
	}
	return w, nil
}

// DecimalFromWords rebuilds a decimal from lo, mid, hi and flags words.
func DecimalFromWords(w [4]uint32) (apd.Decimal, error) {
	var d apd.Decimal
	flags := w[3]
	scale := (flags >> 16) & 0xFF
	if flags&^decimalFlagMask != 0 || scale > maxDecimalScale {
		return d, fmt.Errorf("%w: flags %#08x", ErrDecimalRange, flags)
	}

	var be [12]byte
	binary.BigEndian.PutUint32(be[0:4], w[2])
	binary.BigEndian.PutUint32(be[4:8], w[1])
	binary.BigEndian.PutUint32(be[8:12], w[0])

	d.Coeff.SetMathBigInt(new(big.Int).SetBytes(be[:]))
	d.Exponent = -int32(scale)
	d.Negative = flags&decimalSignBit != 0
	return d, nil
}

// AppendDecimal appends the four decimal words, each packed separately.
func AppendDecimal(dst []byte, d *apd.Decimal) ([]byte, error) {
	w, err := DecimalWords(d)
	if err != nil {
		return dst, err
	}
	for _, word := range w {
		dst = AppendUint(dst, uint64(word), 4)
	}
	return dst, nil
}

// ============================================================
// Ticks
// ============================================================

const (
	ticksPerSecond = 10_000_000
	// unixEpochTicks is the tick count of 1970-01-01T00:00:00Z measured in
	// 100ns units from 0001-01-01T00:00:00Z.
	unixEpochTicks = 621_355_968_000_000_000
)

// Ticks returns the number of 100ns intervals between 0001-01-01 UTC and t.
func Ticks(t time.Time) int64 {
	return t.Unix()*ticksPerSecond + int64(t.Nanosecond())/100 + unixEpochTicks
}

// FromTicks converts a tick count back to a UTC time.
func FromTicks(ticks int64) time.Time {
	d := ticks - unixEpochTicks
	sec := d / ticksPerSecond
	rem := d % ticksPerSecond
	if rem < 0 {
		sec--
		rem += ticksPerSecond
	}
	return time.Unix(sec, rem*100).UTC()
}
