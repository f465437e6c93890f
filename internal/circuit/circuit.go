// Package circuit defines the boolean-circuit collaborator contract
// the PSI orchestrator hands its post-OPPRF comparison work to. The
// 2PC/GMW engine that would normally execute this contract across two
// parties' private wires is explicitly out of scope (spec.md §1); in
// its place this package ships a single local, semi-honest reference
// implementation that evaluates the same wire graph in one process,
// so the orchestrator is genuinely end-to-end runnable and testable
// without committing to any particular MPC backend.
//
// The method shapes (PutSIMDInput, PutEq, PutHammingWeight, PutGT,
// PutMux, PutOut, Exec, GetClearValue) follow the builder-with-wire-
// handles idiom used by circuit-definition APIs in the example pack
// (frontend.API's Put/IsZero/Cmp-style methods operating on
// frontend.Variable handles, then compiled and run as a separate
// step): a circuit is built up by chaining typed operations that
// return opaque handles, and only Exec reveals anything.
package circuit

import (
	"context"
	"fmt"
)

// Role identifies which party supplied a given SIMD input wire.
type Role int

const (
	RoleClient Role = iota
	RoleServer
)

func (r Role) String() string {
	if r == RoleServer {
		return "server"
	}
	return "client"
}

// Wire is an opaque handle to a value (scalar or SIMD vector) living
// inside a circuit. Wires are only valid against the Circuit that
// produced them.
type Wire int

// Circuit is the contract the PSI orchestrator builds its final
// comparison stage against. Implementations may be a real MPC engine
// (out of scope here) or, as in this package, a local stand-in.
type Circuit interface {
	// PutSIMDInput registers a party's private vector as a new wire,
	// masked to bitlen bits per slot.
	PutSIMDInput(role Role, values []uint64, bitlen int) (Wire, error)
	// PutDummySIMDInput registers the placeholder wire the
	// non-providing party contributes for role's input gate, so both
	// parties build an identical gate graph without either one seeing
	// the other's real values up front. The local stand-in fills it
	// with zeros since nothing here is actually kept private.
	PutDummySIMDInput(role Role, count, bitlen int) (Wire, error)
	// PutConst registers a public constant, broadcast to count slots.
	PutConst(value uint64, count, bitlen int) (Wire, error)
	// PutEq returns a new per-slot 1-bit wire: 1 where a and b agree,
	// 0 otherwise. a and b must carry the same number of slots.
	PutEq(a, b Wire) (Wire, error)
	// PutHammingWeight collapses a 1-bit-per-slot wire into a single
	// scalar wire counting the number of 1 slots.
	PutHammingWeight(a Wire) (Wire, error)
	// PutGT returns a new per-slot 1-bit wire: 1 where a's slot value
	// is strictly greater than b's, 0 otherwise. A length-1 operand is
	// broadcast against the other's slot count.
	PutGT(a, b Wire) (Wire, error)
	// PutMux returns a new wire selecting, per slot, a's slot where
	// sel's corresponding slot is 1 and b's slot otherwise. sel may be
	// length 1 to broadcast a single selection bit.
	PutMux(sel, a, b Wire) (Wire, error)
	// PutOut marks w for reveal once Exec runs; it is an error to call
	// GetClearValue on a wire that was never passed to PutOut.
	PutOut(w Wire) error
	// Exec runs the circuit, making every PutOut wire's value
	// available to GetClearValue.
	Exec(ctx context.Context) error
	// GetClearValue returns the revealed slot values of w. Exec must
	// have completed first.
	GetClearValue(w Wire) ([]uint64, error)
}

func mask(x uint64, bitlen int) uint64 {
	if bitlen >= 64 {
		return x
	}
	return x & ((uint64(1) << uint(bitlen)) - 1)
}

func boolU64(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

// wireValue is one wire's SIMD content inside LocalSemiHonestCircuit.
type wireValue struct {
	values []uint64
	bitlen int
}

// LocalSemiHonestCircuit evaluates a Circuit graph eagerly, in the
// clear, in a single process. It exists to let the rest of this
// module (and its tests) exercise a genuine Circuit without depending
// on an external 2PC engine; it makes no privacy claim whatsoever —
// every operand is plaintext for the whole lifetime of the object.
type LocalSemiHonestCircuit struct {
	wires   []wireValue
	outputs map[Wire]bool
	done    bool
}

// NewLocalSemiHonestCircuit returns an empty circuit.
func NewLocalSemiHonestCircuit() *LocalSemiHonestCircuit {
	return &LocalSemiHonestCircuit{outputs: make(map[Wire]bool)}
}

func (c *LocalSemiHonestCircuit) push(v wireValue) Wire {
	c.wires = append(c.wires, v)
	return Wire(len(c.wires) - 1)
}

func (c *LocalSemiHonestCircuit) get(w Wire) (wireValue, error) {
	if int(w) < 0 || int(w) >= len(c.wires) {
		return wireValue{}, fmt.Errorf("circuit: wire %d is out of range", w)
	}
	return c.wires[w], nil
}

// PutSIMDInput implements Circuit.
func (c *LocalSemiHonestCircuit) PutSIMDInput(role Role, values []uint64, bitlen int) (Wire, error) {
	if bitlen <= 0 || bitlen > 64 {
		return 0, fmt.Errorf("circuit: invalid bitlen %d for %s input", bitlen, role)
	}
	masked := make([]uint64, len(values))
	for i, v := range values {
		masked[i] = mask(v, bitlen)
	}
	return c.push(wireValue{values: masked, bitlen: bitlen}), nil
}

// PutDummySIMDInput implements Circuit.
func (c *LocalSemiHonestCircuit) PutDummySIMDInput(role Role, count, bitlen int) (Wire, error) {
	if bitlen <= 0 || bitlen > 64 {
		return 0, fmt.Errorf("circuit: invalid bitlen %d for %s dummy input", bitlen, role)
	}
	return c.push(wireValue{values: make([]uint64, count), bitlen: bitlen}), nil
}

// PutConst implements Circuit.
func (c *LocalSemiHonestCircuit) PutConst(value uint64, count, bitlen int) (Wire, error) {
	if bitlen <= 0 || bitlen > 64 {
		return 0, fmt.Errorf("circuit: invalid bitlen %d for const", bitlen)
	}
	v := mask(value, bitlen)
	values := make([]uint64, count)
	for i := range values {
		values[i] = v
	}
	return c.push(wireValue{values: values, bitlen: bitlen}), nil
}

func broadcastPair(a, b wireValue) ([]uint64, []uint64, error) {
	switch {
	case len(a.values) == len(b.values):
		return a.values, b.values, nil
	case len(a.values) == 1:
		av := make([]uint64, len(b.values))
		for i := range av {
			av[i] = a.values[0]
		}
		return av, b.values, nil
	case len(b.values) == 1:
		bv := make([]uint64, len(a.values))
		for i := range bv {
			bv[i] = b.values[0]
		}
		return a.values, bv, nil
	default:
		return nil, nil, fmt.Errorf("circuit: slot count mismatch %d vs %d", len(a.values), len(b.values))
	}
}

// PutEq implements Circuit.
func (c *LocalSemiHonestCircuit) PutEq(a, b Wire) (Wire, error) {
	wa, err := c.get(a)
	if err != nil {
		return 0, err
	}
	wb, err := c.get(b)
	if err != nil {
		return 0, err
	}
	av, bv, err := broadcastPair(wa, wb)
	if err != nil {
		return 0, fmt.Errorf("circuit: PutEq: %w", err)
	}
	out := make([]uint64, len(av))
	for i := range av {
		out[i] = boolU64(av[i] == bv[i])
	}
	return c.push(wireValue{values: out, bitlen: 1}), nil
}

// PutHammingWeight implements Circuit.
func (c *LocalSemiHonestCircuit) PutHammingWeight(a Wire) (Wire, error) {
	wa, err := c.get(a)
	if err != nil {
		return 0, err
	}
	var total uint64
	for _, v := range wa.values {
		total += v & 1
	}
	bitlen := bitLength(uint64(len(wa.values)))
	return c.push(wireValue{values: []uint64{total}, bitlen: bitlen}), nil
}

func bitLength(n uint64) int {
	bl := 1
	for n > 0 {
		bl++
		n >>= 1
	}
	return bl
}

// PutGT implements Circuit.
func (c *LocalSemiHonestCircuit) PutGT(a, b Wire) (Wire, error) {
	wa, err := c.get(a)
	if err != nil {
		return 0, err
	}
	wb, err := c.get(b)
	if err != nil {
		return 0, err
	}
	av, bv, err := broadcastPair(wa, wb)
	if err != nil {
		return 0, fmt.Errorf("circuit: PutGT: %w", err)
	}
	out := make([]uint64, len(av))
	for i := range av {
		out[i] = boolU64(av[i] > bv[i])
	}
	return c.push(wireValue{values: out, bitlen: 1}), nil
}

// PutMux implements Circuit.
func (c *LocalSemiHonestCircuit) PutMux(sel, a, b Wire) (Wire, error) {
	wsel, err := c.get(sel)
	if err != nil {
		return 0, err
	}
	wa, err := c.get(a)
	if err != nil {
		return 0, err
	}
	wb, err := c.get(b)
	if err != nil {
		return 0, err
	}
	if len(wa.values) != len(wb.values) {
		return 0, fmt.Errorf("circuit: PutMux: a/b slot count mismatch %d vs %d", len(wa.values), len(wb.values))
	}
	selv := wsel.values
	if len(selv) == 1 && len(wa.values) > 1 {
		broadcast := make([]uint64, len(wa.values))
		for i := range broadcast {
			broadcast[i] = selv[0]
		}
		selv = broadcast
	}
	if len(selv) != len(wa.values) {
		return 0, fmt.Errorf("circuit: PutMux: sel slot count mismatch %d vs %d", len(selv), len(wa.values))
	}
	out := make([]uint64, len(wa.values))
	for i := range out {
		if selv[i] != 0 {
			out[i] = wa.values[i]
		} else {
			out[i] = wb.values[i]
		}
	}
	return c.push(wireValue{values: out, bitlen: wa.bitlen}), nil
}

// PutOut implements Circuit.
func (c *LocalSemiHonestCircuit) PutOut(w Wire) error {
	if _, err := c.get(w); err != nil {
		return err
	}
	c.outputs[w] = true
	return nil
}

// Exec implements Circuit. The local stand-in has nothing left to do
// by this point since every Put* call evaluates eagerly; Exec exists
// so callers exercise the same build-then-run ordering a real 2PC
// engine requires.
func (c *LocalSemiHonestCircuit) Exec(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.done = true
	return nil
}

// GetClearValue implements Circuit.
func (c *LocalSemiHonestCircuit) GetClearValue(w Wire) ([]uint64, error) {
	if !c.done {
		return nil, fmt.Errorf("circuit: GetClearValue called before Exec")
	}
	if !c.outputs[w] {
		return nil, fmt.Errorf("circuit: wire %d was never passed to PutOut", w)
	}
	wv, err := c.get(w)
	if err != nil {
		return nil, err
	}
	out := make([]uint64, len(wv.values))
	copy(out, wv.values)
	return out, nil
}
