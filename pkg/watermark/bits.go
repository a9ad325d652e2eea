// Package watermark models the soft bit vectors exchanged with the watermark
// service and the lossy fingerprint used to key them in the index.
package watermark

import (
	"encoding/hex"
	"fmt"
	"math"
)

// Threshold is the cut-off at which a soft bit estimate counts as a 1.
const Threshold = 0.5

// BitVector is an ordered sequence of soft bit estimates, each nominally in [0,1].
type BitVector []float64

// Validate rejects empty vectors and non-finite values. When want is positive the
// vector must have exactly that many entries.
func (b BitVector) Validate(want int) error {
	if len(b) == 0 {
		return fmt.Errorf("bit vector is empty")
	}
	if want > 0 && len(b) != want {
		return fmt.Errorf("bit vector has %d entries, expected %d", len(b), want)
	}
	for i, v := range b {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("bit vector entry %d is not finite", i)
		}
	}
	return nil
}

// Hard returns the thresholded bits (0 or 1).
func (b BitVector) Hard() []uint8 {
	bits := make([]uint8, len(b))
	for i, v := range b {
		if v >= Threshold {
			bits[i] = 1
		}
	}
	return bits
}

// SquaredDistance returns the sum of squared element-wise differences.
// ok is false when the lengths differ.
func SquaredDistance(a, b BitVector) (dist float64, ok bool) {
	if len(a) != len(b) {
		return 0, false
	}
	for i := range a {
		d := a[i] - b[i]
		dist += d * d
	}
	return dist, true
}

// Fingerprint hard-thresholds the vector, packs the bits MSB-first eight per
// byte and hex-encodes the result. If the bit count is not a multiple of eight
// one extra zero byte is appended after the partially filled last byte.
func Fingerprint(b BitVector) string {
	return hex.EncodeToString(Pack(b.Hard()))
}

// Pack packs hard bits MSB-first, applying the extra-zero-byte padding rule.
func Pack(bits []uint8) []byte {
	out := make([]byte, 0, PackedLen(len(bits)))
	for start := 0; start < len(bits); start += 8 {
		var octet byte
		end := min(start+8, len(bits))
		for i, bit := range bits[start:end] {
			if bit == 1 {
				octet |= 1 << (7 - i)
			}
		}
		out = append(out, octet)
	}
	if len(bits)%8 != 0 {
		out = append(out, 0)
	}
	return out
}

// PackedLen is the byte length Pack produces for n bits.
func PackedLen(n int) int {
	if n%8 == 0 {
		return n / 8
	}
	return n/8 + 2
}

// DecodeFingerprint recovers the n thresholded bits a fingerprint was built from.
// The byte length must match the padding rule exactly and all padding bits must be zero.
func DecodeFingerprint(fingerprint string, n int) ([]uint8, error) {
	if n < 0 {
		return nil, fmt.Errorf("negative bit count %d", n)
	}
	raw, err := hex.DecodeString(fingerprint)
	if err != nil {
		return nil, fmt.Errorf("decode fingerprint: %w", err)
	}
	if len(raw) != PackedLen(n) {
		return nil, fmt.Errorf("fingerprint has %d bytes, %d bits pack into %d", len(raw), n, PackedLen(n))
	}

	bits := make([]uint8, 0, len(raw)*8)
	for _, octet := range raw {
		for i := 7; i >= 0; i-- {
			bits = append(bits, (octet>>i)&1)
		}
	}
	for i, bit := range bits[n:] {
		if bit != 0 {
			return nil, fmt.Errorf("padding bit %d is set", n+i)
		}
	}
	return bits[:n], nil
}
