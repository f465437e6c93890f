// Package oprf implements the N-choose-one oblivious PRF transport the
// OPPRF megabin layer sits on top of. The base-OT / OT-extension
// library that realizes this in the reference implementation is
// explicitly out of scope (spec.md §1); this package ships one
// concrete, real-cryptography realization of the stated contract
// (SPEC_FULL.md §4.D) so the orchestrator has something to actually
// run against: an ephemeral secp256k1 ECDH handshake in place of base
// OTs, and AES-128 keyed per bin index as the programmable PRF.
//
// Call order is fixed and mirrors ots.cpp: configure, handshake
// (stands in for the base OTs), the receiver's encode pass, a
// correction round, and finally the sender's encode pass. Deviating
// from that order (e.g. the sender encoding before the correction
// round completes) is a programming error in a caller, not something
// this package can detect from one side alone.
package oprf

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"net"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/rawblock/psi-analytics-engine/internal/field"
)

// Config mirrors the parameters the real KKRT configure() call takes;
// it has no behavioral effect on this stand-in beyond documenting the
// security level the deployer is asking for.
type Config struct {
	SemiHonest bool
	StatBits   int // statistical security parameter, reference value 40
	CompBits   int // computational security parameter, reference value 128
}

// DefaultConfig returns the session's fixed security parameters.
func DefaultConfig() Config {
	return Config{SemiHonest: true, StatBits: 40, CompBits: 128}
}

const mask61 = field.P

// handshake performs the base-OT stand-in: an ephemeral secp256k1 ECDH
// exchange that leaves both sides holding the same 32-byte secret.
// amInitiator decides write/read order so the two sides' single round
// trip doesn't deadlock over a lockstep pipe.
func handshake(conn net.Conn, amInitiator bool) ([]byte, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("oprf: generating ephemeral key: %w", err)
	}
	ownPub := priv.PubKey().SerializeCompressed()

	var peerPubBytes [33]byte
	if amInitiator {
		if _, err := conn.Write(ownPub); err != nil {
			return nil, fmt.Errorf("oprf: sending handshake pubkey: %w", err)
		}
		if _, err := readFull(conn, peerPubBytes[:]); err != nil {
			return nil, fmt.Errorf("oprf: receiving handshake pubkey: %w", err)
		}
	} else {
		if _, err := readFull(conn, peerPubBytes[:]); err != nil {
			return nil, fmt.Errorf("oprf: receiving handshake pubkey: %w", err)
		}
		if _, err := conn.Write(ownPub); err != nil {
			return nil, fmt.Errorf("oprf: sending handshake pubkey: %w", err)
		}
	}

	peerPub, err := btcec.ParsePubKey(peerPubBytes[:])
	if err != nil {
		return nil, fmt.Errorf("oprf: parsing peer pubkey: %w", err)
	}

	return btcec.GenerateSharedSecret(priv, peerPub), nil
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// deriveBinKeys expands the shared secret into one AES-128 key per bin
// index via domain-separated SHA-256 ("hash the secret with a label
// and the index").
func deriveBinKeys(secret []byte, numOTs int) []cipher.Block {
	keys := make([]cipher.Block, numOTs)
	for i := 0; i < numOTs; i++ {
		h := sha256.New()
		h.Write(secret)
		h.Write([]byte("psi-oprf-bin-key-v1"))
		var idx [8]byte
		binary.LittleEndian.PutUint64(idx[:], uint64(i))
		h.Write(idx[:])
		sum := h.Sum(nil)
		block, err := aes.NewCipher(sum[:16])
		if err != nil {
			panic(fmt.Sprintf("oprf: aes.NewCipher: %v", err))
		}
		keys[i] = block
	}
	return keys
}

func encode(block cipher.Block, x uint64) field.Elem {
	var in, out [16]byte
	binary.LittleEndian.PutUint64(in[:8], x)
	block.Encrypt(out[:], in[:])
	return field.FromU64(binary.LittleEndian.Uint64(out[:8]))
}

func setDeadline(ctx context.Context, conn net.Conn) {
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	} else {
		_ = conn.SetDeadline(time.Time{})
	}
}

// Receiver runs the client side of the OPRF: one input per bin in,
// one 61-bit tag per bin out.
func Receiver(ctx context.Context, conn net.Conn, cfg Config, clientBins []uint64) ([]field.Elem, error) {
	setDeadline(ctx, conn)

	secret, err := handshake(conn, true)
	if err != nil {
		return nil, err
	}

	numOTs := len(clientBins)
	keys := deriveBinKeys(secret, numOTs)

	outputs := make([]field.Elem, numOTs)
	for k, x := range clientBins {
		outputs[k] = encode(keys[k], x)
	}

	// Correction round: send a confirmation so the sender cannot begin
	// its own encode pass before the receiver's pass has completed,
	// preserving the mandated call order even though this stand-in's
	// per-bin keys make no cryptographic use of the value exchanged.
	var correction [8]byte
	if _, err := rand.Read(correction[:]); err != nil {
		return nil, fmt.Errorf("oprf: drawing correction nonce: %w", err)
	}
	if _, err := conn.Write(correction[:]); err != nil {
		return nil, fmt.Errorf("oprf: sending correction: %w", err)
	}

	return outputs, nil
}

// Sender runs the server side of the OPRF: up to nfuns inputs per bin
// in, the same shape of 61-bit tags out.
func Sender(ctx context.Context, conn net.Conn, cfg Config, serverBins [][]uint64) ([][]field.Elem, error) {
	setDeadline(ctx, conn)

	secret, err := handshake(conn, false)
	if err != nil {
		return nil, err
	}

	numOTs := len(serverBins)
	keys := deriveBinKeys(secret, numOTs)

	var correction [8]byte
	if _, err := readFull(conn, correction[:]); err != nil {
		return nil, fmt.Errorf("oprf: receiving correction: %w", err)
	}

	outputs := make([][]field.Elem, numOTs)
	for i, candidates := range serverBins {
		outputs[i] = make([]field.Elem, len(candidates))
		for j, x := range candidates {
			outputs[i][j] = encode(keys[i], x)
		}
	}

	return outputs, nil
}
