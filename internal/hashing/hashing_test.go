package hashing

import "testing"

func TestElementToHashIdempotent(t *testing.T) {
	for _, e := range []uint64{0, 1, 42, 1 << 40} {
		a := ElementToHash(e)
		b := ElementToHash(e)
		if a != b {
			t.Fatalf("ElementToHash(%d) not idempotent: %d != %d", e, a, b)
		}
		if a&^mask61 != 0 {
			t.Fatalf("ElementToHash(%d) = %d exceeds 61 bits", e, a)
		}
	}
}

func TestCuckooInsertSucceedsWithheadroom(t *testing.T) {
	const n = 1000
	nbins := int(float64(n) * 1.27)
	elems := make([]uint64, n)
	for i := range elems {
		elems[i] = ElementToHash(uint64(i))
	}
	table := NewCuckooTable(nbins, 3)
	if err := table.Insert(elems); err != nil {
		t.Fatalf("cuckoo insert failed for %d elements into %d bins: %v", n, nbins, err)
	}
	if table.StashSize() != 0 {
		t.Fatalf("expected empty stash, got %d", table.StashSize())
	}
	bins := table.Bins()
	if len(bins) != nbins {
		t.Fatalf("Bins() length = %d, want %d", len(bins), nbins)
	}
}

func TestSimpleTableKeepsAllCandidates(t *testing.T) {
	const n = 200
	nbins := int(float64(n) * 1.27)
	elems := make([]uint64, n)
	for i := range elems {
		elems[i] = ElementToHash(uint64(i))
	}
	table := NewSimpleTable(nbins, 3)
	table.Insert(elems)
	bins := table.Bins()

	total := 0
	for _, b := range bins {
		total += len(b)
	}
	if total != n*3 {
		t.Fatalf("simple table holds %d entries, want %d (n * nfuns)", total, n*3)
	}
}

func TestClientServerShareACandidate(t *testing.T) {
	const n = 300
	nbins := int(float64(n) * 1.27)
	elems := make([]uint64, n)
	for i := range elems {
		elems[i] = ElementToHash(uint64(1_000_000 + i))
	}

	client := NewCuckooTable(nbins, 3)
	if err := client.Insert(elems); err != nil {
		t.Fatalf("cuckoo insert failed: %v", err)
	}
	clientBins := client.Bins()

	server := NewSimpleTable(nbins, 3)
	server.Insert(elems)
	serverBins := server.Bins()

	for b := 0; b < nbins; b++ {
		cv := clientBins[b]
		for _, sv := range serverBins[b] {
			if cv == sv {
				// Found the matching combined value for at least one
				// bin that the client actually placed an element in;
				// that's sufficient evidence the embedding works.
				return
			}
		}
	}
	t.Fatalf("no client bin matched any server candidate across %d bins", nbins)
}
