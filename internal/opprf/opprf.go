// Package opprf implements the megabin layer that turns the raw,
// per-bin OPRF tags into the polynomials actually sent over the wire.
// Grouping many bins into one megabin and interpolating a single
// polynomial per megabin (rather than shipping per-bin tags directly)
// amortizes the per-point send cost and, via dummy-point padding,
// keeps every sent polynomial the same size regardless of how many of
// a megabin's candidate slots are real versus empty. This mirrors the
// megabin construction in psi_analytics.cpp (polynomialsize,
// nmegabins) built on top of [internal/poly]'s interpolation engine.
package opprf

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/rawblock/psi-analytics-engine/internal/field"
	"github.com/rawblock/psi-analytics-engine/internal/poly"
)

// Config carries the megabin geometry. NMegabins and PolynomialSize
// are fixed per session ahead of time (SPEC_FULL.md §4.E); the
// orchestrator is responsible for choosing values large enough that
// no megabin ever overflows (see ErrMegabinOverflow).
type Config struct {
	NBins          int
	NMegabins      int
	PolynomialSize int
}

// ErrMegabinOverflow is returned when a megabin is asked to hold more
// real points than its fixed polynomial degree allows; it is a caller
// configuration error, not something to silently truncate around.
type ErrMegabinOverflow struct {
	Megabin  int
	Points   int
	Capacity int
}

func (e *ErrMegabinOverflow) Error() string {
	return fmt.Sprintf("opprf: megabin %d has %d real points, exceeding polynomial capacity %d", e.Megabin, e.Points, e.Capacity)
}

// megabinOf returns the megabin index a bin belongs to. Bins are
// assigned to megabins in contiguous runs of roughly nbins/nmegabins;
// the last megabin absorbs any remainder via plain truncating integer
// division, per the Open Question resolution recorded in
// SPEC_FULL.md §9 (no modular wraparound).
func megabinOf(bin, nbins, nmegabins int) int {
	binsPerMegabin := nbins / nmegabins
	if binsPerMegabin == 0 {
		binsPerMegabin = 1
	}
	m := bin / binsPerMegabin
	if m >= nmegabins {
		m = nmegabins - 1
	}
	return m
}

// point is one (X, Y) pair destined for a megabin's interpolation set.
type point struct {
	x, y field.Elem
}

// ServerInterpolate builds one degree-(PolynomialSize-1) polynomial
// per megabin. For every server bin b and every OPRF tag in it, the
// polynomial is constrained to map that tag to tag XOR randomPerBin[b]
// — a fresh, server-only random value the client never learns on its
// own. A client presenting the same combined value under the same
// hash function recovers the same tag from its own OPRF pass (see
// [internal/oprf].Receiver), evaluates the polynomial at that tag, and
// XORs the result back with its own tag to recover randomPerBin[b]
// exactly on a true match (or an unrelated value otherwise) —
// comparing the recovered value against randomPerBin[b] is left to the
// circuit stage (spec.md §6.3's put_eq) rather than done here, so
// membership is never revealed in the clear before the circuit runs.
// Remaining capacity in each megabin is padded with dummy points at
// random, non-colliding X values and random Y values so a receiver
// cannot distinguish real occupancy from padding by looking at the
// polynomial alone. Per-megabin interpolation runs concurrently.
func ServerInterpolate(cfg Config, serverBins [][]uint64, serverTags [][]field.Elem, randomPerBin []field.Elem) ([][]field.Elem, error) {
	if len(serverBins) != cfg.NBins || len(serverTags) != cfg.NBins {
		return nil, fmt.Errorf("opprf: bin/tag count %d/%d does not match config NBins=%d", len(serverBins), len(serverTags), cfg.NBins)
	}
	if len(randomPerBin) != cfg.NBins {
		return nil, fmt.Errorf("opprf: got %d per-bin random masks, want %d", len(randomPerBin), cfg.NBins)
	}

	buckets := make([][]point, cfg.NMegabins)
	for bin := 0; bin < cfg.NBins; bin++ {
		m := megabinOf(bin, cfg.NBins, cfg.NMegabins)
		candidates := serverBins[bin]
		tags := serverTags[bin]
		if len(candidates) != len(tags) {
			return nil, fmt.Errorf("opprf: bin %d has %d candidates but %d tags", bin, len(candidates), len(tags))
		}
		r := randomPerBin[bin]
		for _, tag := range tags {
			buckets[m] = append(buckets[m], point{x: tag, y: tag.Xor(r)})
		}
	}

	polys := make([][]field.Elem, cfg.NMegabins)
	var g errgroup.Group
	for m := range buckets {
		m := m
		if len(buckets[m]) > cfg.PolynomialSize {
			return nil, &ErrMegabinOverflow{Megabin: m, Points: len(buckets[m]), Capacity: cfg.PolynomialSize}
		}
		g.Go(func() error {
			p, err := interpolateWithPadding(buckets[m], cfg.PolynomialSize)
			if err != nil {
				return fmt.Errorf("opprf: megabin %d: %w", m, err)
			}
			polys[m] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return polys, nil
}

// interpolateWithPadding pads pts up to size with dummy points whose X
// values avoid every real X already present, then interpolates.
func interpolateWithPadding(pts []point, size int) ([]field.Elem, error) {
	used := make(map[uint64]bool, size)
	xs := make([]field.Elem, 0, size)
	ys := make([]field.Elem, 0, size)
	for _, p := range pts {
		used[p.x.ToU64()] = true
		xs = append(xs, p.x)
		ys = append(ys, p.y)
	}

	for len(xs) < size {
		x, err := RandomFieldElem()
		if err != nil {
			return nil, err
		}
		if used[x.ToU64()] {
			continue
		}
		used[x.ToU64()] = true
		y, err := RandomFieldElem()
		if err != nil {
			return nil, err
		}
		xs = append(xs, x)
		ys = append(ys, y)
	}

	coeff := poly.Interpolate(xs, ys)
	// Pad coefficients back out to a fixed length so every megabin's
	// wire encoding is the same size regardless of leading-zero
	// stripping inside Interpolate.
	out := make([]field.Elem, size)
	copy(out, coeff)
	return out, nil
}

// RandomFieldElem draws a uniform field element, exported so callers
// (e.g. the orchestrator, to generate each bin's server-only random
// mask) can draw from the same source this package uses for its own
// dummy-point padding.
func RandomFieldElem() (field.Elem, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, fmt.Errorf("drawing random field element: %w", err)
	}
	return field.FromU64(binary.LittleEndian.Uint64(b[:])), nil
}

// ClientEvaluate evaluates, for every client bin, the server's megabin
// polynomial at the client's own OPRF tag for that bin (from
// [internal/oprf].Receiver's output). The returned value is the raw
// polynomial value; XORing it with the caller's own tag yields exactly
// the server's per-bin random mask on a true match (see
// ServerInterpolate) and an unrelated value on a non-match. Telling
// those two cases apart is the circuit stage's job (put_eq against the
// server's randomPerBin wire), not this function's.
func ClientEvaluate(cfg Config, polynomials [][]field.Elem, clientTags []field.Elem) ([]field.Elem, error) {
	if len(polynomials) != cfg.NMegabins {
		return nil, fmt.Errorf("opprf: got %d megabin polynomials, want %d", len(polynomials), cfg.NMegabins)
	}
	if len(clientTags) != cfg.NBins {
		return nil, fmt.Errorf("opprf: got %d client bins, want %d", len(clientTags), cfg.NBins)
	}

	out := make([]field.Elem, cfg.NBins)
	for bin, tag := range clientTags {
		m := megabinOf(bin, cfg.NBins, cfg.NMegabins)
		out[bin] = poly.Eval(polynomials[m], tag)
	}
	return out, nil
}

// EncodePolynomials serializes nmegabins contiguous blocks of
// polynomialsize little-endian uint64 words, per SPEC_FULL.md §6.1.
func EncodePolynomials(polynomials [][]field.Elem, polynomialSize int) []byte {
	out := make([]byte, 0, len(polynomials)*polynomialSize*8)
	for _, p := range polynomials {
		for i := 0; i < polynomialSize; i++ {
			var b [8]byte
			if i < len(p) {
				b = p[i].Bytes()
			}
			out = append(out, b[:]...)
		}
	}
	return out
}

// DecodePolynomials is the inverse of EncodePolynomials.
func DecodePolynomials(data []byte, nmegabins, polynomialSize int) ([][]field.Elem, error) {
	want := nmegabins * polynomialSize * 8
	if len(data) != want {
		return nil, fmt.Errorf("opprf: polynomial payload is %d bytes, want %d", len(data), want)
	}
	out := make([][]field.Elem, nmegabins)
	off := 0
	for m := 0; m < nmegabins; m++ {
		p := make([]field.Elem, polynomialSize)
		for i := 0; i < polynomialSize; i++ {
			p[i] = field.FromBytes(data[off : off+8])
			off += 8
		}
		out[m] = p
	}
	return out, nil
}
