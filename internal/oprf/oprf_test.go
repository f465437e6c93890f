package oprf

import (
	"context"
	"net"
	"sync"
	"testing"

	"github.com/rawblock/psi-analytics-engine/internal/field"
)

// runPair wires Receiver and Sender together over an in-memory pipe
// and returns both sides' outputs.
func runPair(t *testing.T, clientBins []uint64, serverBins [][]uint64) ([]field.Elem, [][]field.Elem) {
	t.Helper()
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	var wg sync.WaitGroup
	wg.Add(2)

	var recvOut []field.Elem
	var sendOut [][]field.Elem
	var recvErr, sendErr error

	go func() {
		defer wg.Done()
		recvOut, recvErr = Receiver(context.Background(), clientConn, DefaultConfig(), clientBins)
	}()
	go func() {
		defer wg.Done()
		sendOut, sendErr = Sender(context.Background(), serverConn, DefaultConfig(), serverBins)
	}()
	wg.Wait()

	if recvErr != nil {
		t.Fatalf("Receiver: %v", recvErr)
	}
	if sendErr != nil {
		t.Fatalf("Sender: %v", sendErr)
	}
	return recvOut, sendOut
}

func TestMatchingInputsProduceMatchingTags(t *testing.T) {
	clientBins := []uint64{10, 20, 30, 40}
	serverBins := [][]uint64{
		{10, 999},
		{777, 888},
		{30, 31, 32},
		{41, 42},
	}

	recvOut, sendOut := runPair(t, clientBins, serverBins)

	if len(recvOut) != len(clientBins) {
		t.Fatalf("receiver returned %d tags, want %d", len(recvOut), len(clientBins))
	}
	if len(sendOut) != len(serverBins) {
		t.Fatalf("sender returned %d bins, want %d", len(sendOut), len(serverBins))
	}

	// Bin 0: client's 10 should match one of the server's candidates.
	found := false
	for _, tag := range sendOut[0] {
		if tag.Eq(recvOut[0]) {
			found = true
		}
	}
	if !found {
		t.Fatalf("bin 0: client tag %d matched no server candidate tag", recvOut[0])
	}

	// Bin 1: no shared value, tags should not collide.
	for _, tag := range sendOut[1] {
		if tag.Eq(recvOut[1]) {
			t.Fatalf("bin 1: unexpected tag collision on disjoint inputs")
		}
	}

	// Bin 2: client's 30 should match.
	found = false
	for _, tag := range sendOut[2] {
		if tag.Eq(recvOut[2]) {
			found = true
		}
	}
	if !found {
		t.Fatalf("bin 2: client tag %d matched no server candidate tag", recvOut[2])
	}
}

func TestOutputsAreDeterministicPerSession(t *testing.T) {
	clientBins := []uint64{1, 2, 3}
	serverBins := [][]uint64{{1}, {2}, {3}}

	recvOut, sendOut := runPair(t, clientBins, serverBins)
	for i := range clientBins {
		if !recvOut[i].Eq(sendOut[i][0]) {
			t.Fatalf("bin %d: receiver tag %d != sender tag %d for identical input", i, recvOut[i], sendOut[i][0])
		}
	}
}

func TestDifferentSessionsYieldDifferentTags(t *testing.T) {
	clientBins := []uint64{5}
	serverBins := [][]uint64{{5}}

	recv1, _ := runPair(t, clientBins, serverBins)
	recv2, _ := runPair(t, clientBins, serverBins)

	if recv1[0].Eq(recv2[0]) {
		t.Fatalf("two independent sessions produced the same tag for the same input; base-OT handshake is not contributing fresh randomness")
	}
}
