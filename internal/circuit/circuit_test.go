package circuit

import (
	"context"
	"testing"
)

func TestEqAndHammingWeightCountsMatches(t *testing.T) {
	c := NewLocalSemiHonestCircuit()

	client, err := c.PutSIMDInput(RoleClient, []uint64{1, 2, 3, 4, 5}, 61)
	if err != nil {
		t.Fatalf("PutSIMDInput client: %v", err)
	}
	server, err := c.PutSIMDInput(RoleServer, []uint64{1, 0, 3, 0, 0}, 61)
	if err != nil {
		t.Fatalf("PutSIMDInput server: %v", err)
	}

	eq, err := c.PutEq(client, server)
	if err != nil {
		t.Fatalf("PutEq: %v", err)
	}
	weight, err := c.PutHammingWeight(eq)
	if err != nil {
		t.Fatalf("PutHammingWeight: %v", err)
	}
	if err := c.PutOut(weight); err != nil {
		t.Fatalf("PutOut: %v", err)
	}
	if err := c.Exec(context.Background()); err != nil {
		t.Fatalf("Exec: %v", err)
	}
	got, err := c.GetClearValue(weight)
	if err != nil {
		t.Fatalf("GetClearValue: %v", err)
	}
	if len(got) != 1 || got[0] != 2 {
		t.Fatalf("hamming weight = %v, want [2]", got)
	}
}

func TestGetClearValueBeforeExecErrors(t *testing.T) {
	c := NewLocalSemiHonestCircuit()
	w, _ := c.PutSIMDInput(RoleClient, []uint64{1}, 8)
	if err := c.PutOut(w); err != nil {
		t.Fatalf("PutOut: %v", err)
	}
	if _, err := c.GetClearValue(w); err == nil {
		t.Fatalf("expected error reading before Exec")
	}
}

func TestGetClearValueWithoutPutOutErrors(t *testing.T) {
	c := NewLocalSemiHonestCircuit()
	w, _ := c.PutSIMDInput(RoleClient, []uint64{1}, 8)
	if err := c.Exec(context.Background()); err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if _, err := c.GetClearValue(w); err == nil {
		t.Fatalf("expected error reading a wire never passed to PutOut")
	}
}

func TestPutGTThreshold(t *testing.T) {
	c := NewLocalSemiHonestCircuit()
	count, err := c.PutSIMDInput(RoleClient, []uint64{7}, 61)
	if err != nil {
		t.Fatalf("PutSIMDInput: %v", err)
	}
	threshold, err := c.PutSIMDInput(RoleServer, []uint64{5}, 61)
	if err != nil {
		t.Fatalf("PutSIMDInput: %v", err)
	}
	gt, err := c.PutGT(count, threshold)
	if err != nil {
		t.Fatalf("PutGT: %v", err)
	}
	if err := c.PutOut(gt); err != nil {
		t.Fatalf("PutOut: %v", err)
	}
	if err := c.Exec(context.Background()); err != nil {
		t.Fatalf("Exec: %v", err)
	}
	got, err := c.GetClearValue(gt)
	if err != nil {
		t.Fatalf("GetClearValue: %v", err)
	}
	if len(got) != 1 || got[0] != 1 {
		t.Fatalf("7 > 5 evaluated to %v, want [1]", got)
	}
}

func TestPutConstAndDummyInput(t *testing.T) {
	c := NewLocalSemiHonestCircuit()
	dummy, err := c.PutDummySIMDInput(RoleServer, 3, 61)
	if err != nil {
		t.Fatalf("PutDummySIMDInput: %v", err)
	}
	constWire, err := c.PutConst(9, 3, 61)
	if err != nil {
		t.Fatalf("PutConst: %v", err)
	}
	eq, err := c.PutEq(dummy, constWire)
	if err != nil {
		t.Fatalf("PutEq: %v", err)
	}
	if err := c.PutOut(eq); err != nil {
		t.Fatalf("PutOut: %v", err)
	}
	if err := c.Exec(context.Background()); err != nil {
		t.Fatalf("Exec: %v", err)
	}
	got, err := c.GetClearValue(eq)
	if err != nil {
		t.Fatalf("GetClearValue: %v", err)
	}
	for _, v := range got {
		if v != 0 {
			t.Fatalf("dummy (all-zero) input unexpectedly equaled constant 9: %v", got)
		}
	}
}

func TestPutMuxSelectsPerSlot(t *testing.T) {
	c := NewLocalSemiHonestCircuit()
	sel, _ := c.PutSIMDInput(RoleClient, []uint64{1, 0, 1}, 1)
	a, _ := c.PutSIMDInput(RoleClient, []uint64{10, 20, 30}, 61)
	b, _ := c.PutSIMDInput(RoleServer, []uint64{100, 200, 300}, 61)

	out, err := c.PutMux(sel, a, b)
	if err != nil {
		t.Fatalf("PutMux: %v", err)
	}
	if err := c.PutOut(out); err != nil {
		t.Fatalf("PutOut: %v", err)
	}
	if err := c.Exec(context.Background()); err != nil {
		t.Fatalf("Exec: %v", err)
	}
	got, err := c.GetClearValue(out)
	if err != nil {
		t.Fatalf("GetClearValue: %v", err)
	}
	want := []uint64{10, 200, 30}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("mux result = %v, want %v", got, want)
		}
	}
}
