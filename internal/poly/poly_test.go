package poly

import (
	"math/rand"
	"testing"

	"github.com/rawblock/psi-analytics-engine/internal/field"
)

func randDistinctElems(rng *rand.Rand, n int) []field.Elem {
	seen := make(map[uint64]bool, n)
	out := make([]field.Elem, 0, n)
	for len(out) < n {
		x := rng.Uint64() % field.P
		if seen[x] {
			continue
		}
		seen[x] = true
		out = append(out, field.FromU64(x))
	}
	return out
}

func TestInterpolateRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for _, m := range []int{1, 2, 5, 16, 97} {
		xs := randDistinctElems(rng, m)
		ys := make([]field.Elem, m)
		for i := range ys {
			ys[i] = field.FromU64(rng.Uint64())
		}
		coeff := Interpolate(xs, ys)
		for i := range xs {
			got := Eval(coeff, xs[i])
			if !got.Eq(ys[i]) {
				t.Fatalf("m=%d: Eval(interpolate(xs,ys), xs[%d]) = %d, want %d", m, i, got, ys[i])
			}
		}
	}
}

func TestEvalHornerConstant(t *testing.T) {
	coeff := []field.Elem{field.FromU64(42)}
	for _, x := range []uint64{0, 1, 999} {
		if got := Eval(coeff, field.FromU64(x)); !got.Eq(field.FromU64(42)) {
			t.Fatalf("constant polynomial evaluated to %d at x=%d, want 42", got, x)
		}
	}
}

func TestEvalLinear(t *testing.T) {
	// P(x) = 3 + 2x
	coeff := []field.Elem{field.FromU64(3), field.FromU64(2)}
	got := Eval(coeff, field.FromU64(10))
	want := field.FromU64(23)
	if !got.Eq(want) {
		t.Fatalf("Eval(3+2x, 10) = %d, want %d", got, want)
	}
}

func TestInterpolateTrailingZerosStripped(t *testing.T) {
	xs := []field.Elem{field.FromU64(1), field.FromU64(2), field.FromU64(3)}
	ys := []field.Elem{field.FromU64(5), field.FromU64(5), field.FromU64(5)}
	coeff := Interpolate(xs, ys)
	if len(coeff) != 1 {
		t.Fatalf("constant function interpolated to degree %d, want degree 0 (len 1)", len(coeff)-1)
	}
}
