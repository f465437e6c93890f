// Package field implements arithmetic in GF(2^61-1), the Mersenne61
// field used as the coefficient and mask domain for the OPPRF
// polynomial layer.
package field

import (
	"encoding/binary"
	"math/bits"
)

// P is the Mersenne prime 2^61 - 1.
const P uint64 = (1 << 61) - 1

// Elem is a residue in [0, P). The zero value is the field's zero.
type Elem uint64

// Zero returns the additive identity.
func Zero() Elem { return 0 }

// One returns the multiplicative identity.
func One() Elem { return 1 }

// FromU64 reduces x modulo P.
func FromU64(x uint64) Elem {
	// x fits in 64 bits, so a single shift-and-add fold suffices:
	// 2^61 ≡ 1 (mod P).
	t := (x & P) + (x >> 61)
	if t >= P {
		t -= P
	}
	return Elem(t)
}

// ToU64 returns the canonical residue as a uint64 in [0, P).
func (e Elem) ToU64() uint64 { return uint64(e) }

// Eq reports whether e and o represent the same residue.
func (e Elem) Eq(o Elem) bool { return e == o }

// Add returns e + o mod P.
func (e Elem) Add(o Elem) Elem {
	t := uint64(e) + uint64(o)
	if t >= P {
		t -= P
	}
	return Elem(t)
}

// Sub returns e - o mod P.
func (e Elem) Sub(o Elem) Elem {
	if e >= o {
		return Elem(uint64(e) - uint64(o))
	}
	return Elem(uint64(e) + P - uint64(o))
}

// Neg returns -e mod P.
func (e Elem) Neg() Elem {
	if e == 0 {
		return 0
	}
	return Elem(P - uint64(e))
}

// Mul returns e * o mod P, reducing the full 122-bit product.
//
// 2^64 = 2^61 * 2^3 ≡ 2^3 = 8 (mod P), so a 128-bit product hi:lo
// reduces to hi*8 + lo-folded-once, which fits comfortably in a
// second fold-and-subtract pass.
func (e Elem) Mul(o Elem) Elem {
	hi, lo := bits.Mul64(uint64(e), uint64(o))
	t := hi<<3 + lo>>61 + (lo & P)
	t = (t & P) + (t >> 61)
	if t >= P {
		t -= P
	}
	return Elem(t)
}

// Inv returns the multiplicative inverse of e via Fermat's little
// theorem (e^(P-2) mod P). Undefined for e == 0; callers must ensure
// distinctness of interpolation X-values so zero is never inverted.
func (e Elem) Inv() Elem {
	result := One()
	base := e
	exp := P - 2
	for exp > 0 {
		if exp&1 == 1 {
			result = result.Mul(base)
		}
		base = base.Mul(base)
		exp >>= 1
	}
	return result
}

// Div returns e / o mod P (e * o^-1).
func (e Elem) Div(o Elem) Elem { return e.Mul(o.Inv()) }

// Xor returns the bitwise XOR of e and o's 61-bit representations, used
// to one-time-pad-mask an OPRF tag with a random per-bin value (and to
// unmask it again on the other side). This is not a field operation —
// it does not commute with Add/Mul/Inv — it is the raw bitwise XOR the
// reference implementation applies to its masked 61-bit element values
// before ever reducing them back into canonical residues.
func (e Elem) Xor(o Elem) Elem { return Elem(uint64(e) ^ uint64(o)) }

// Bytes serializes e as 8 little-endian bytes; the upper 3 bits are
// always zero since residues are bounded by 2^61-1.
func (e Elem) Bytes() [8]byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(e))
	return b
}

// FromBytes parses 8 little-endian bytes into a field element,
// reducing modulo P in case the raw bits exceed the field's range.
func FromBytes(b []byte) Elem {
	return FromU64(binary.LittleEndian.Uint64(b))
}
