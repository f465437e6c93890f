package psi

import (
	"context"
	"testing"
)

// demoConfigFor picks a one-bin-per-megabin layout so each megabin's
// real-point count is just one server bin's candidate count. That count
// is not bounded by NFuns (a simple-hashing bin holds every entry hashed
// to it), but bucketing is keyless, so for the fixed inputs of these
// tests the bin loads are fixed and stay within PolynomialSize.
func demoConfigFor(neles int) DemoConfig {
	nbins := int(float64(neles) * 1.27)
	if nbins < 4 {
		nbins = 4
	}
	return DemoConfig{
		NBins:          nbins,
		NFuns:          3,
		PolynomialSize: 6,
		NMegabins:      nbins,
		Threshold:      0,
		AnalyticsType:  AnalyticsSum,
	}
}

func rangeInputs(start, n int) []uint64 {
	out := make([]uint64, n)
	for i := range out {
		out[i] = uint64(start + i)
	}
	return out
}

func TestDemoCardinalityMatchesKnownIntersection(t *testing.T) {
	// Client has [0,100), server has [50,150): intersection is [50,100), size 50.
	client := rangeInputs(0, 100)
	server := rangeInputs(50, 100)

	cfg := demoConfigFor(150)
	cfg.AnalyticsType = AnalyticsSum

	res, err := RunPSIAnalyticsDemo(context.Background(), client, server, cfg, nil)
	if err != nil {
		t.Fatalf("RunPSIAnalyticsDemo: %v", err)
	}
	if res.Cardinality != 50 {
		t.Fatalf("cardinality = %d, want 50", res.Cardinality)
	}
}

func TestDemoDisjointSetsHaveZeroIntersection(t *testing.T) {
	client := rangeInputs(0, 40)
	server := rangeInputs(1000, 40)

	cfg := demoConfigFor(80)
	cfg.AnalyticsType = AnalyticsSum

	res, err := RunPSIAnalyticsDemo(context.Background(), client, server, cfg, nil)
	if err != nil {
		t.Fatalf("RunPSIAnalyticsDemo: %v", err)
	}
	if res.Cardinality != 0 {
		t.Fatalf("cardinality = %d, want 0 for disjoint sets", res.Cardinality)
	}
}

func TestDemoThresholdReflectsComparison(t *testing.T) {
	client := rangeInputs(0, 20)
	server := rangeInputs(0, 20) // full overlap, size 20

	cfg := demoConfigFor(40)
	cfg.AnalyticsType = AnalyticsThreshold
	cfg.Threshold = 10

	res, err := RunPSIAnalyticsDemo(context.Background(), client, server, cfg, nil)
	if err != nil {
		t.Fatalf("RunPSIAnalyticsDemo: %v", err)
	}
	if !res.AboveThreshold {
		t.Fatalf("expected AboveThreshold=true for intersection 20 > threshold 10")
	}

	cfg.Threshold = 100
	res, err = RunPSIAnalyticsDemo(context.Background(), client, server, cfg, nil)
	if err != nil {
		t.Fatalf("RunPSIAnalyticsDemo: %v", err)
	}
	if res.AboveThreshold {
		t.Fatalf("expected AboveThreshold=false for intersection 20 <= threshold 100")
	}
}

func TestDemoSumIfGTThresholdMasksBelowThreshold(t *testing.T) {
	client := rangeInputs(0, 10)
	server := rangeInputs(0, 10) // full overlap, size 10

	cfg := demoConfigFor(20)
	cfg.AnalyticsType = AnalyticsSumIfGTThreshold
	cfg.Threshold = 50

	res, err := RunPSIAnalyticsDemo(context.Background(), client, server, cfg, nil)
	if err != nil {
		t.Fatalf("RunPSIAnalyticsDemo: %v", err)
	}
	if res.Cardinality != 0 {
		t.Fatalf("cardinality = %d, want 0 (masked below threshold)", res.Cardinality)
	}
}

func TestDemoNoneRevealsIntersectionBits(t *testing.T) {
	client := rangeInputs(0, 10)
	server := rangeInputs(5, 10) // overlap [5,10), size 5

	cfg := demoConfigFor(20)
	cfg.AnalyticsType = AnalyticsNone

	res, err := RunPSIAnalyticsDemo(context.Background(), client, server, cfg, nil)
	if err != nil {
		t.Fatalf("RunPSIAnalyticsDemo: %v", err)
	}
	total := 0
	for _, b := range res.IntersectionBits {
		total += int(b)
	}
	if total != 5 {
		t.Fatalf("sum of intersection bits = %d, want 5", total)
	}
}

func TestObserverSeesEveryPhase(t *testing.T) {
	client := rangeInputs(0, 10)
	server := rangeInputs(0, 10)
	cfg := demoConfigFor(20)

	var seen []Phase
	observer := func(p Phase) { seen = append(seen, p) }

	if _, err := RunPSIAnalyticsDemo(context.Background(), client, server, cfg, observer); err != nil {
		t.Fatalf("RunPSIAnalyticsDemo: %v", err)
	}

	want := map[Phase]bool{PhaseHandshake: false, PhaseHashing: false, PhaseCircuit: false, PhaseDone: false}
	for _, p := range seen {
		if _, ok := want[p]; ok {
			want[p] = true
		}
	}
	for p, ok := range want {
		if !ok {
			t.Fatalf("observer never saw phase %q", p)
		}
	}
}

func TestInvalidConfigRejected(t *testing.T) {
	cfg := Context{Role: RoleClient, DemoConfig: DemoConfig{NBins: 0, NFuns: 3, PolynomialSize: 4, NMegabins: 2}}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected ConfigError for NBins=0")
	}

	overflow := Context{Role: RoleClient, DemoConfig: DemoConfig{NBins: 4, NFuns: 3, PolynomialSize: 4, NMegabins: 100}}
	if err := overflow.Validate(); err == nil {
		t.Fatalf("expected ConfigError for megabin overflow")
	}
}

func TestEmptyCuckooStashIsNotAnError(t *testing.T) {
	// A small, deliberately generous nbins/nfuns should place every
	// element without spilling to the stash.
	client := rangeInputs(0, 5)
	server := rangeInputs(0, 5)
	cfg := DemoConfig{NBins: 20, NFuns: 3, PolynomialSize: 6, NMegabins: 20, AnalyticsType: AnalyticsSum}

	res, err := RunPSIAnalyticsDemo(context.Background(), client, server, cfg, nil)
	if err != nil {
		t.Fatalf("RunPSIAnalyticsDemo: %v", err)
	}
	if res.Cardinality != 5 {
		t.Fatalf("cardinality = %d, want 5", res.Cardinality)
	}
}
