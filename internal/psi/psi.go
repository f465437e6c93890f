// Package psi implements the orchestrator that drives a PSI-Analytics
// run end to end: set-size handshake, bucketing (component C), the
// OPRF transport (component D), the OPPRF megabin exchange
// (component E), and handing the result off to a boolean circuit
// (component I). RunPSIAnalyticsParty realizes the network-facing half
// of this per spec.md §4.F and never touches the circuit stage — that
// stage is an external collaborator by design (spec.md §1). The
// in-process convenience wrapper RunPSIAnalyticsDemo additionally
// wires both parties' local shares into internal/circuit's semi-honest
// stand-in so the whole pipeline is runnable and testable without a
// real 2PC backend.
package psi

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"

	"golang.org/x/sync/errgroup"

	"github.com/rawblock/psi-analytics-engine/internal/circuit"
	"github.com/rawblock/psi-analytics-engine/internal/field"
	"github.com/rawblock/psi-analytics-engine/internal/hashing"
	"github.com/rawblock/psi-analytics-engine/internal/oprf"
	"github.com/rawblock/psi-analytics-engine/internal/opprf"
)

// Role identifies which side of the protocol a Context configures.
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

// AnalyticsType selects what the circuit stage reveals at the end of
// a run, matching the reference implementation's analytics_type enum.
type AnalyticsType int

const (
	// AnalyticsNone reveals the full intersection indicator vector.
	AnalyticsNone AnalyticsType = iota
	// AnalyticsThreshold reveals only whether |intersection| > Threshold.
	AnalyticsThreshold
	// AnalyticsSum reveals the exact intersection cardinality.
	AnalyticsSum
	// AnalyticsSumIfGTThreshold reveals the cardinality only when it
	// exceeds Threshold, otherwise reveals zero.
	AnalyticsSumIfGTThreshold
)

func (a AnalyticsType) String() string {
	switch a {
	case AnalyticsThreshold:
		return "threshold"
	case AnalyticsSum:
		return "sum"
	case AnalyticsSumIfGTThreshold:
		return "sum_if_gt_threshold"
	default:
		return "none"
	}
}

// MaxBitLen is the fixed element width the Mersenne61 field supports;
// elements wider than this are out of scope (spec.md §1).
const MaxBitLen = 61

// DemoConfig is the session geometry both parties must agree on ahead
// of a run; it is exchanged out of band (e.g. negotiated by component
// G before dialing) rather than over the protocol sockets themselves.
type DemoConfig struct {
	NBins          int
	NFuns          int
	PolynomialSize int
	NMegabins      int
	Threshold      uint64
	AnalyticsType  AnalyticsType
}

// Context is one party's full run configuration.
type Context struct {
	Role Role
	DemoConfig
}

// Validate checks the structural invariants SPEC_FULL.md §9 requires
// before a run starts.
func (cfg Context) Validate() error {
	if cfg.NBins <= 0 || cfg.NFuns <= 0 {
		return &ConfigError{Msg: "NBins and NFuns must be positive"}
	}
	if cfg.NMegabins <= 0 || cfg.PolynomialSize <= 0 {
		return &ConfigError{Msg: "NMegabins and PolynomialSize must be positive"}
	}
	binsPerMegabin := (cfg.NBins + cfg.NMegabins - 1) / cfg.NMegabins
	if cfg.NMegabins*binsPerMegabin > 2*cfg.NBins {
		return &ConfigError{Msg: fmt.Sprintf("nmegabins*nbinsinmegabin (%d) exceeds 2*nbins (%d)", cfg.NMegabins*binsPerMegabin, 2*cfg.NBins)}
	}
	return nil
}

func (cfg Context) opprfConfig() opprf.Config {
	return opprf.Config{NBins: cfg.NBins, NMegabins: cfg.NMegabins, PolynomialSize: cfg.PolynomialSize}
}

// ConfigError signals an invalid or inconsistent session configuration.
type ConfigError struct{ Msg string }

func (e *ConfigError) Error() string { return "psi: config: " + e.Msg }

// BucketingError wraps a failure in the hashing stage (component C),
// notably a non-empty cuckoo stash, which aborts the run per the
// Open Question resolution in SPEC_FULL.md §9.
type BucketingError struct{ Err error }

func (e *BucketingError) Error() string { return fmt.Sprintf("psi: bucketing: %v", e.Err) }
func (e *BucketingError) Unwrap() error { return e.Err }

// NetworkError wraps a transport failure against the peer.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string { return fmt.Sprintf("psi: network (%s): %v", e.Op, e.Err) }
func (e *NetworkError) Unwrap() error { return e.Err }

// CircuitError wraps a failure building or running the circuit stage.
type CircuitError struct{ Err error }

func (e *CircuitError) Error() string { return fmt.Sprintf("psi: circuit: %v", e.Err) }
func (e *CircuitError) Unwrap() error { return e.Err }

// Phase names a point in the protocol. Observer callbacks are invoked
// at PhaseHandshake and PhaseHashing (by RunPSIAnalyticsParty) and at
// PhaseCircuit and PhaseDone (by RunPSIAnalyticsDemo); PhaseOPRF and
// PhasePolynomial are defined but no function in this package reports
// them.
type Phase string

const (
	PhaseHandshake Phase = "handshake"
	PhaseHashing   Phase = "hashing"
	PhaseOPRF      Phase = "oprf"
	PhasePolynomial Phase = "polynomial"
	PhaseCircuit   Phase = "circuit"
	PhaseDone      Phase = "done"
)

// Observer is notified at the phases listed on Phase; a nil Observer is a
// no-op so the core algorithm has no hard dependency on a control
// plane being present.
type Observer func(Phase)

func notify(o Observer, p Phase) {
	if o != nil {
		o(p)
	}
}

// Transport bundles the three network legs a run uses: a scratch
// socket for the set-size handshake, the OPRF socket (conventionally
// port+1 in a real deployment), and a fresh socket for the polynomial
// transmission, per spec.md §4.F's seven steps.
type Transport struct {
	Bins net.Conn
	OPRF net.Conn
	Poly net.Conn
}

// PartyResult carries one party's locally-known share once the
// network-facing stages complete. Neither share reveals membership by
// itself: ClientRawBinResult[b] equals ServerRandomMask[b] exactly
// when the client's bin-b element was present in the server's set
// (spec.md §3's megabin-polynomial construction), and telling the two
// apart is the circuit stage's job (put_eq), not this package's — only
// ClientRawBinResult is populated for RoleClient, only
// ServerRandomMask for RoleServer, and combining them requires the
// circuit stage, which needs both shares in one place.
type PartyResult struct {
	Role               Role
	ClientRawBinResult []uint64
	ServerRandomMask   []uint64
}

// Result is a run's revealed output, shaped by its AnalyticsType.
type Result struct {
	AnalyticsType    AnalyticsType
	IntersectionBits []uint64 // AnalyticsNone
	AboveThreshold   bool     // AnalyticsThreshold
	Cardinality      uint64   // AnalyticsSum, AnalyticsSumIfGTThreshold
}

func exchangeSetSize(conn net.Conn, mine int, initiator bool) (int, error) {
	var mine8, peer8 [8]byte
	binary.LittleEndian.PutUint64(mine8[:], uint64(mine))
	if initiator {
		if _, err := conn.Write(mine8[:]); err != nil {
			return 0, err
		}
		if _, err := io.ReadFull(conn, peer8[:]); err != nil {
			return 0, err
		}
	} else {
		if _, err := io.ReadFull(conn, peer8[:]); err != nil {
			return 0, err
		}
		if _, err := conn.Write(mine8[:]); err != nil {
			return 0, err
		}
	}
	return int(binary.LittleEndian.Uint64(peer8[:])), nil
}

// RunPSIAnalyticsParty runs one party's side of steps 1-6 of spec.md
// §4.F: the set-size handshake, bucketing, the OPRF transport, and the
// polynomial exchange and evaluation. It never constructs a circuit —
// that collaborator is external by design — and instead returns the
// caller's locally-known share of the eventual comparison.
func RunPSIAnalyticsParty(ctx context.Context, inputs []uint64, cfg Context, t Transport, observer Observer) (PartyResult, error) {
	if err := cfg.Validate(); err != nil {
		return PartyResult{}, err
	}

	notify(observer, PhaseHandshake)
	if _, err := exchangeSetSize(t.Bins, len(inputs), cfg.Role == RoleClient); err != nil {
		return PartyResult{}, &NetworkError{Op: "set-size handshake", Err: err}
	}

	hashed := make([]uint64, len(inputs))
	for i, e := range inputs {
		hashed[i] = hashing.ElementToHash(e)
	}

	notify(observer, PhaseHashing)

	switch cfg.Role {
	case RoleClient:
		return runClient(ctx, hashed, cfg, t)
	case RoleServer:
		return runServer(ctx, hashed, cfg, t)
	default:
		return PartyResult{}, &ConfigError{Msg: fmt.Sprintf("unknown role %v", cfg.Role)}
	}
}

func runClient(ctx context.Context, hashed []uint64, cfg Context, t Transport) (PartyResult, error) {
	cuckoo := hashing.NewCuckooTable(cfg.NBins, cfg.NFuns)
	if err := cuckoo.Insert(hashed); err != nil {
		return PartyResult{}, &BucketingError{Err: err}
	}
	clientCombined := cuckoo.Bins()

	clientTags, err := oprf.Receiver(ctx, t.OPRF, oprf.DefaultConfig(), clientCombined)
	if err != nil {
		return PartyResult{}, &NetworkError{Op: "oprf receive", Err: err}
	}

	payload := make([]byte, cfg.NMegabins*cfg.PolynomialSize*8)
	if _, err := io.ReadFull(t.Poly, payload); err != nil {
		return PartyResult{}, &NetworkError{Op: "polynomial receive", Err: err}
	}
	polys, err := opprf.DecodePolynomials(payload, cfg.NMegabins, cfg.PolynomialSize)
	if err != nil {
		return PartyResult{}, &NetworkError{Op: "polynomial decode", Err: err}
	}

	// recovered[b] XOR the client's own tag equals the server's per-bin
	// random mask exactly when bin b's element was a true match; it
	// equals an unrelated value otherwise. Neither side tells the two
	// apart here — the XOR just undoes the polynomial's masking, it does
	// not reveal membership by itself, so this stays a field element
	// all the way out to the circuit stage (spec.md §6.3's put_eq).
	recovered, err := opprf.ClientEvaluate(cfg.opprfConfig(), polys, clientTags)
	if err != nil {
		return PartyResult{}, &NetworkError{Op: "polynomial evaluate", Err: err}
	}

	rawBinResult := make([]uint64, cfg.NBins)
	for b := range rawBinResult {
		rawBinResult[b] = clientTags[b].Xor(recovered[b]).ToU64()
	}

	return PartyResult{Role: RoleClient, ClientRawBinResult: rawBinResult}, nil
}

func runServer(ctx context.Context, hashed []uint64, cfg Context, t Transport) (PartyResult, error) {
	simple := hashing.NewSimpleTable(cfg.NBins, cfg.NFuns)
	simple.Insert(hashed)
	serverBins := simple.Bins()

	serverTags, err := oprf.Sender(ctx, t.OPRF, oprf.DefaultConfig(), serverBins)
	if err != nil {
		return PartyResult{}, &NetworkError{Op: "oprf send", Err: err}
	}

	// One fresh random mask per bin, known only to the server; it never
	// crosses the wire, only the polynomial built from tag XOR mask
	// does (opprf.ServerInterpolate). The client's only way to learn it
	// is by already holding a matching tag.
	randomPerBin := make([]field.Elem, cfg.NBins)
	for b := range randomPerBin {
		r, err := opprf.RandomFieldElem()
		if err != nil {
			return PartyResult{}, &NetworkError{Op: "draw per-bin random mask", Err: err}
		}
		randomPerBin[b] = r
	}

	polys, err := opprf.ServerInterpolate(cfg.opprfConfig(), serverBins, serverTags, randomPerBin)
	if err != nil {
		return PartyResult{}, &NetworkError{Op: "polynomial interpolate", Err: err}
	}
	payload := opprf.EncodePolynomials(polys, cfg.PolynomialSize)
	if _, err := t.Poly.Write(payload); err != nil {
		return PartyResult{}, &NetworkError{Op: "polynomial send", Err: err}
	}

	randomMask := make([]uint64, cfg.NBins)
	for b, r := range randomPerBin {
		randomMask[b] = r.ToU64()
	}

	return PartyResult{Role: RoleServer, ServerRandomMask: randomMask}, nil
}

// RunAnalyticsCircuit combines both parties' locally-known shares
// through internal/circuit's semi-honest stand-in and reveals the
// result shaped by cfg.AnalyticsType. This only works when both
// shares are available to one process, as with RunPSIAnalyticsDemo;
// a distributed deployment would hand this stage to a real 2PC engine
// instead.
func RunAnalyticsCircuit(clientRawBinResult, serverRandomMask []uint64, cfg Context) (Result, error) {
	if len(clientRawBinResult) != cfg.NBins || len(serverRandomMask) != cfg.NBins {
		return Result{}, &CircuitError{Err: fmt.Errorf("share length mismatch: client=%d server=%d nbins=%d", len(clientRawBinResult), len(serverRandomMask), cfg.NBins)}
	}

	c := circuit.NewLocalSemiHonestCircuit()

	clientWire, err := c.PutSIMDInput(circuit.RoleClient, clientRawBinResult, MaxBitLen)
	if err != nil {
		return Result{}, &CircuitError{Err: err}
	}
	serverWire, err := c.PutSIMDInput(circuit.RoleServer, serverRandomMask, MaxBitLen)
	if err != nil {
		return Result{}, &CircuitError{Err: err}
	}

	// A bin is a real intersection hit exactly when the client's raw
	// bin result (its own tag XOR the value it recovered from the
	// megabin polynomial) equals the server's per-bin random mask —
	// the only way the client can produce that value is by already
	// holding the matching tag (internal/opprf.ServerInterpolate). No
	// separate "server occupied" signal is needed: a dummy-padding
	// collision against an empty bin is a uniform-random field element
	// matching the bin's random mask, which is cryptographically
	// negligible, not a correctness concern this circuit must guard
	// against.
	intersectionBits, err := c.PutEq(clientWire, serverWire)
	if err != nil {
		return Result{}, &CircuitError{Err: err}
	}
	count, err := c.PutHammingWeight(intersectionBits)
	if err != nil {
		return Result{}, &CircuitError{Err: err}
	}

	var outWire circuit.Wire
	switch cfg.AnalyticsType {
	case AnalyticsNone:
		outWire = intersectionBits
	case AnalyticsThreshold:
		thresholdConst, err := c.PutConst(cfg.Threshold, 1, MaxBitLen)
		if err != nil {
			return Result{}, &CircuitError{Err: err}
		}
		gt, err := c.PutGT(count, thresholdConst)
		if err != nil {
			return Result{}, &CircuitError{Err: err}
		}
		outWire = gt
	case AnalyticsSum:
		outWire = count
	case AnalyticsSumIfGTThreshold:
		thresholdConst, err := c.PutConst(cfg.Threshold, 1, MaxBitLen)
		if err != nil {
			return Result{}, &CircuitError{Err: err}
		}
		gt, err := c.PutGT(count, thresholdConst)
		if err != nil {
			return Result{}, &CircuitError{Err: err}
		}
		zeroScalar, err := c.PutConst(0, 1, MaxBitLen)
		if err != nil {
			return Result{}, &CircuitError{Err: err}
		}
		masked, err := c.PutMux(gt, count, zeroScalar)
		if err != nil {
			return Result{}, &CircuitError{Err: err}
		}
		outWire = masked
	default:
		return Result{}, &ConfigError{Msg: fmt.Sprintf("unknown analytics type %v", cfg.AnalyticsType)}
	}

	if err := c.PutOut(outWire); err != nil {
		return Result{}, &CircuitError{Err: err}
	}
	if err := c.Exec(context.Background()); err != nil {
		return Result{}, &CircuitError{Err: err}
	}
	vals, err := c.GetClearValue(outWire)
	if err != nil {
		return Result{}, &CircuitError{Err: err}
	}

	res := Result{AnalyticsType: cfg.AnalyticsType}
	switch cfg.AnalyticsType {
	case AnalyticsNone:
		res.IntersectionBits = vals
	case AnalyticsThreshold:
		res.AboveThreshold = vals[0] == 1
	case AnalyticsSum, AnalyticsSumIfGTThreshold:
		res.Cardinality = vals[0]
	}
	return res, nil
}

// RunPSIAnalyticsDemo wires a full two-party run over in-memory pipes
// and runs both RunPSIAnalyticsParty calls concurrently before handing
// their shares to RunAnalyticsCircuit, giving one call that exercises
// every component of spec.md §4.F end to end. It is the shape
// cmd/engine's single-host demo mode and this package's own tests use;
// a real deployment instead dials two separate processes and hands the
// circuit stage to an external 2PC engine.
func RunPSIAnalyticsDemo(ctx context.Context, clientInputs, serverInputs []uint64, shared DemoConfig, observer Observer) (Result, error) {
	clientBinsConn, serverBinsConn := net.Pipe()
	clientOPRFConn, serverOPRFConn := net.Pipe()
	clientPolyConn, serverPolyConn := net.Pipe()
	defer clientBinsConn.Close()
	defer serverBinsConn.Close()
	defer clientOPRFConn.Close()
	defer serverOPRFConn.Close()
	defer clientPolyConn.Close()
	defer serverPolyConn.Close()

	var clientResult, serverResult PartyResult
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		r, err := RunPSIAnalyticsParty(gctx, clientInputs, Context{Role: RoleClient, DemoConfig: shared}, Transport{Bins: clientBinsConn, OPRF: clientOPRFConn, Poly: clientPolyConn}, observer)
		clientResult = r
		return err
	})
	g.Go(func() error {
		r, err := RunPSIAnalyticsParty(gctx, serverInputs, Context{Role: RoleServer, DemoConfig: shared}, Transport{Bins: serverBinsConn, OPRF: serverOPRFConn, Poly: serverPolyConn}, observer)
		serverResult = r
		return err
	})
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	notify(observer, PhaseCircuit)
	res, err := RunAnalyticsCircuit(clientResult.ClientRawBinResult, serverResult.ServerRandomMask, Context{DemoConfig: shared})
	if err != nil {
		return Result{}, err
	}
	notify(observer, PhaseDone)
	return res, nil
}
