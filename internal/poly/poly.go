// Package poly implements the Horner-evaluation / Newton-form
// Lagrange-interpolation engine the OPPRF megabin layer uses to turn
// a set of (X, Y) points into a fixed-degree polynomial over
// [field.Elem], and back.
package poly

import "github.com/rawblock/psi-analytics-engine/internal/field"

// Eval evaluates the polynomial with coefficients coeff (coeff[i] is
// the coefficient of x^i) at x, via Horner's method, high-order term
// first.
func Eval(coeff []field.Elem, x field.Elem) field.Elem {
	acc := field.Zero()
	for i := len(coeff) - 1; i >= 0; i-- {
		acc = acc.Mul(x).Add(coeff[i])
	}
	return acc
}

// Interpolate returns the unique polynomial of degree < len(xs) that
// passes through (xs[i], ys[i]) for every i, using an incremental
// Newton-form construction (same shape as Poly::interpolateMersenne
// in the reference implementation). Trailing zero coefficients are
// stripped.
//
// Undefined (will divide by zero) if xs contains duplicates; callers
// must ensure distinctness — the dummy-point generator draws each X
// uniformly at random so collisions are negligible.
func Interpolate(xs, ys []field.Elem) []field.Elem {
	m := len(xs)
	if len(ys) != m {
		panic("poly: interpolate: xs/ys length mismatch")
	}
	if m == 0 {
		return nil
	}

	prod := make([]field.Elem, m)
	copy(prod, xs)
	res := make([]field.Elem, m)

	for k := 0; k < m; k++ {
		a := xs[k]

		t1 := field.One()
		for i := k - 1; i >= 0; i-- {
			t1 = t1.Mul(a).Add(prod[i])
		}

		t2 := field.Zero()
		for i := k - 1; i >= 0; i-- {
			t2 = t2.Mul(a).Add(res[i])
		}

		t1 = t1.Inv()
		t2 = ys[k].Sub(t2)
		t1 = t1.Mul(t2)

		for i := 0; i < k; i++ {
			res[i] = res[i].Add(prod[i].Mul(t1))
		}
		res[k] = t1

		if k < m-1 {
			if k == 0 {
				prod[0] = prod[0].Neg()
			} else {
				negA := a.Neg()
				prod[k] = negA.Add(prod[k-1])
				for i := k - 1; i >= 1; i-- {
					prod[i] = prod[i].Mul(negA).Add(prod[i-1])
				}
				prod[0] = prod[0].Mul(negA)
			}
		}
	}

	for m > 0 && res[m-1] == field.Zero() {
		m--
	}
	return res[:m]
}
