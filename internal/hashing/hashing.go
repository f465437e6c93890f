// Package hashing implements the bucketing layer that maps 61-bit
// elements into bins: cuckoo hashing for the client (one occupant per
// bin) and simple hashing for the server (up to nfuns occupants per
// bin). Both share the same keyless element-to-hash mapping and the
// same per-(element, hash-function) "combined value" embedding so that
// identical underlying elements land on identical OPRF inputs for at
// least one candidate hash function, per the contract in SPEC_FULL.md
// §4.C.
package hashing

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// mask61 keeps the low 61 bits of a value, matching maxbitlen=61.
const mask61 uint64 = (1 << 61) - 1

// fnIdxBits is the number of low bits reserved to carry the
// originating hash-function index (nfuns=3 needs 2 bits).
const fnIdxBits = 2
const fnIdxMask = (uint64(1) << fnIdxBits) - 1

// ElementToHash is the keyless mapping from a raw element into
// {0,1}^61 used before any cryptographic use, so adversarial
// clustering of raw inputs cannot bias bucket placement. It uses a
// single SHA-256 (chainhash.HashB) rather than a bespoke bit-mixer.
func ElementToHash(element uint64) uint64 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], element)
	h := chainhash.HashB(buf[:])
	return binary.LittleEndian.Uint64(h[:8]) & mask61
}

// bucketHash derives the bin index and combined OPRF-input value for
// placing element via hash function funcIdx into a table of nbins
// bins. The combined value carries funcIdx in its low reserved bits so
// that an identical element hashed with the same function index
// produces an identical value regardless of which side computes it.
func bucketHash(element uint64, funcIdx, nbins int) (bin int, combined uint64) {
	var buf [9]byte
	binary.LittleEndian.PutUint64(buf[:8], element)
	buf[8] = byte(funcIdx)
	h := chainhash.HashB(buf[:])
	full := binary.LittleEndian.Uint64(h[:8]) & mask61
	bin = int(full % uint64(nbins))
	combined = (full &^ fnIdxMask) | uint64(funcIdx)
	return bin, combined
}

func randomSentinel() uint64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(fmt.Sprintf("hashing: failed to draw sentinel randomness: %v", err))
	}
	return binary.LittleEndian.Uint64(b[:]) & mask61 &^ fnIdxMask
}

// ErrStashNonEmpty is returned by CuckooTable.Insert when the cuckoo
// eviction chain could not place every element within the bin table;
// per SPEC_FULL.md §7 this aborts the run rather than merely warning.
type ErrStashNonEmpty struct {
	StashSize int
}

func (e *ErrStashNonEmpty) Error() string {
	return fmt.Sprintf("hashing: cuckoo stash of size %d is non-empty", e.StashSize)
}

// cuckooSlot records the original element and the hash-function index
// that currently places it in its bin; the combined OPRF-input value
// is re-derived from these on export since recovering it from the
// combined value alone is not possible (and an evicted occupant needs
// its *other* candidate bins, computed from the original element).
type cuckooSlot struct {
	occupied bool
	element  uint64
	fn       int
}

// CuckooTable places each element into exactly one of nbins bins using
// up to nfuns candidate hash functions, evicting occupants as needed.
type CuckooTable struct {
	nbins int
	nfuns int
	slots []cuckooSlot
	stash []uint64
}

// NewCuckooTable allocates an empty table.
func NewCuckooTable(nbins, nfuns int) *CuckooTable {
	return &CuckooTable{
		nbins: nbins,
		nfuns: nfuns,
		slots: make([]cuckooSlot, nbins),
	}
}

// maxKicks bounds the length of an eviction chain before an element is
// spilled to the stash.
const maxKicks = 500

// Insert places every element in elements, evicting as necessary.
// Returns ErrStashNonEmpty if any elements could not be placed.
func (c *CuckooTable) Insert(elements []uint64) error {
	for _, e := range elements {
		c.insertOne(e, 0)
	}
	if len(c.stash) > 0 {
		return &ErrStashNonEmpty{StashSize: len(c.stash)}
	}
	return nil
}

func (c *CuckooTable) insertOne(element uint64, startFn int) {
	cur := element
	fn := startFn
	for kick := 0; kick < maxKicks; kick++ {
		placed := false
		for i := 0; i < c.nfuns; i++ {
			tryFn := (fn + i) % c.nfuns
			bin, _ := bucketHash(cur, tryFn, c.nbins)
			if !c.slots[bin].occupied {
				c.slots[bin] = cuckooSlot{occupied: true, element: cur, fn: tryFn}
				placed = true
				break
			}
		}
		if placed {
			return
		}
		// Every candidate bin for cur is occupied: evict the occupant
		// of cur's own first candidate bin and continue the chain
		// with the evicted element, resuming from its next hash
		// function.
		bin, _ := bucketHash(cur, fn, c.nbins)
		evicted := c.slots[bin]
		c.slots[bin] = cuckooSlot{occupied: true, element: cur, fn: fn}
		cur = evicted.element
		fn = (evicted.fn + 1) % c.nfuns
	}
	c.stash = append(c.stash, element)
}

// StashSize returns the number of elements that spilled to the stash.
func (c *CuckooTable) StashSize() int { return len(c.stash) }

// Bins returns the length-nbins vector of bin contents: either the
// combined value of the real occupant, or a uniform random sentinel
// for an empty bin.
func (c *CuckooTable) Bins() []uint64 {
	out := make([]uint64, c.nbins)
	for i, s := range c.slots {
		if s.occupied {
			_, combined := bucketHash(s.element, s.fn, c.nbins)
			out[i] = combined
		} else {
			out[i] = randomSentinel()
		}
	}
	return out
}

// SimpleTable places every element into all nfuns of its candidate
// bins, keeping every candidate (not just one), so the server always
// has a matching combined value for whichever function the client's
// cuckoo table happened to use.
type SimpleTable struct {
	nbins int
	nfuns int
	bins  [][]uint64
}

// NewSimpleTable allocates an empty table.
func NewSimpleTable(nbins, nfuns int) *SimpleTable {
	return &SimpleTable{
		nbins: nbins,
		nfuns: nfuns,
		bins:  make([][]uint64, nbins),
	}
}

// Insert adds every (element, hash function) combined value to its bin.
func (s *SimpleTable) Insert(elements []uint64) {
	for _, e := range elements {
		for fn := 0; fn < s.nfuns; fn++ {
			bin, combined := bucketHash(e, fn, s.nbins)
			s.bins[bin] = append(s.bins[bin], combined)
		}
	}
}

// Bins returns the length-nbins vector of per-bin candidate lists.
func (s *SimpleTable) Bins() [][]uint64 {
	out := make([][]uint64, s.nbins)
	copy(out, s.bins)
	return out
}
