package opprf

import (
	"math/rand"
	"testing"

	"github.com/rawblock/psi-analytics-engine/internal/field"
)

func TestServerClientRoundTripOnMatch(t *testing.T) {
	cfg := Config{NBins: 8, NMegabins: 2, PolynomialSize: 10}

	serverBins := make([][]uint64, cfg.NBins)
	serverTags := make([][]field.Elem, cfg.NBins)
	randomPerBin := make([]field.Elem, cfg.NBins)
	clientTags := make([]field.Elem, cfg.NBins)

	rng := rand.New(rand.NewSource(1))
	for b := 0; b < cfg.NBins; b++ {
		combined := rng.Uint64() % field.P
		tag := field.FromU64(rng.Uint64())
		serverBins[b] = []uint64{combined, (combined + 1) % field.P}
		serverTags[b] = []field.Elem{tag, field.FromU64(rng.Uint64())}
		randomPerBin[b] = field.FromU64(rng.Uint64())
		// The client holds the same tag as serverTags[b][0]: its own
		// OPRF pass over the same combined value, as Receiver would
		// produce.
		clientTags[b] = tag
	}

	polys, err := ServerInterpolate(cfg, serverBins, serverTags, randomPerBin)
	if err != nil {
		t.Fatalf("ServerInterpolate: %v", err)
	}

	recovered, err := ClientEvaluate(cfg, polys, clientTags)
	if err != nil {
		t.Fatalf("ClientEvaluate: %v", err)
	}

	// On a true match the client's tag XOR the recovered polynomial
	// value must recover exactly the server's per-bin random mask —
	// the comparison itself belongs to the circuit stage, not here,
	// but the raw values must line up for put_eq to ever succeed.
	for b := 0; b < cfg.NBins; b++ {
		raw := clientTags[b].Xor(recovered[b])
		if !raw.Eq(randomPerBin[b]) {
			t.Fatalf("bin %d: raw bin result %d, want per-bin random mask %d", b, raw, randomPerBin[b])
		}
	}
}

func TestNonMemberRecoversUnrelatedValue(t *testing.T) {
	cfg := Config{NBins: 4, NMegabins: 1, PolynomialSize: 10}

	serverBins := [][]uint64{{100}, {200}, {300}, {400}}
	serverTags := [][]field.Elem{
		{field.FromU64(1)},
		{field.FromU64(2)},
		{field.FromU64(3)},
		{field.FromU64(4)},
	}
	randomPerBin := []field.Elem{
		field.FromU64(11), field.FromU64(12), field.FromU64(13), field.FromU64(14),
	}

	polys, err := ServerInterpolate(cfg, serverBins, serverTags, randomPerBin)
	if err != nil {
		t.Fatalf("ServerInterpolate: %v", err)
	}

	// A client tag never presented to the server should not recover a
	// raw bin result equal to that bin's random mask.
	clientTags := []field.Elem{field.FromU64(999), field.FromU64(999), field.FromU64(999), field.FromU64(999)}
	recovered, err := ClientEvaluate(cfg, polys, clientTags)
	if err != nil {
		t.Fatalf("ClientEvaluate: %v", err)
	}
	for b := range clientTags {
		raw := clientTags[b].Xor(recovered[b])
		if raw.Eq(randomPerBin[b]) {
			t.Fatalf("bin %d: non-member input unexpectedly recovered the random mask", b)
		}
	}
}

func TestOverflowingMegabinErrors(t *testing.T) {
	cfg := Config{NBins: 1, NMegabins: 1, PolynomialSize: 1}
	serverBins := [][]uint64{{1, 2, 3}}
	serverTags := [][]field.Elem{{field.FromU64(1), field.FromU64(2), field.FromU64(3)}}
	randomPerBin := []field.Elem{field.FromU64(7)}

	_, err := ServerInterpolate(cfg, serverBins, serverTags, randomPerBin)
	if err == nil {
		t.Fatalf("expected ErrMegabinOverflow, got nil")
	}
	if _, ok := err.(*ErrMegabinOverflow); !ok {
		t.Fatalf("expected *ErrMegabinOverflow, got %T: %v", err, err)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cfg := Config{NBins: 4, NMegabins: 2, PolynomialSize: 3}
	polys := [][]field.Elem{
		{field.FromU64(1), field.FromU64(2), field.FromU64(3)},
		{field.FromU64(4), field.FromU64(5), field.FromU64(6)},
	}

	data := EncodePolynomials(polys, cfg.PolynomialSize)
	wantLen := cfg.NMegabins * cfg.PolynomialSize * 8
	if len(data) != wantLen {
		t.Fatalf("encoded length %d, want %d", len(data), wantLen)
	}

	decoded, err := DecodePolynomials(data, cfg.NMegabins, cfg.PolynomialSize)
	if err != nil {
		t.Fatalf("DecodePolynomials: %v", err)
	}
	for m := range polys {
		for i := range polys[m] {
			if !decoded[m][i].Eq(polys[m][i]) {
				t.Fatalf("megabin %d coeff %d: got %d, want %d", m, i, decoded[m][i], polys[m][i])
			}
		}
	}
}
