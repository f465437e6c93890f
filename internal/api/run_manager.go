package api

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rawblock/psi-analytics-engine/internal/db"
	"github.com/rawblock/psi-analytics-engine/internal/psi"
	"github.com/rawblock/psi-analytics-engine/pkg/models"
)

// RunManager drives a PSI-Analytics run to completion in the
// background and keeps the run ledger and the websocket dashboard in
// sync with its progress, mirroring the role the teacher's
// BlockScanner plays for long-running scans.
type RunManager struct {
	store *db.PostgresStore
	wsHub *Hub
}

func NewRunManager(store *db.PostgresStore, wsHub *Hub) *RunManager {
	return &RunManager{store: store, wsHub: wsHub}
}

func parseAnalyticsType(s string) (psi.AnalyticsType, error) {
	switch strings.ToLower(s) {
	case "none":
		return psi.AnalyticsNone, nil
	case "threshold":
		return psi.AnalyticsThreshold, nil
	case "sum":
		return psi.AnalyticsSum, nil
	case "sum_if_gt_threshold":
		return psi.AnalyticsSumIfGTThreshold, nil
	default:
		return 0, fmt.Errorf("unknown analyticsType %q", s)
	}
}

func parseRole(s string) (psi.Role, error) {
	switch strings.ToLower(s) {
	case "client":
		return psi.RoleClient, nil
	case "server":
		return psi.RoleServer, nil
	default:
		return 0, fmt.Errorf("unknown role %q", s)
	}
}

// Start validates req, persists a pending run row, and kicks off the
// run in a goroutine. It returns the assigned run ID immediately; the
// caller polls GET /runs/:id or subscribes to GET /ws for progress.
func (m *RunManager) Start(ctx context.Context, req models.StartRunRequest) (string, error) {
	role, err := parseRole(req.Role)
	if err != nil {
		return "", err
	}
	analyticsType, err := parseAnalyticsType(req.AnalyticsType)
	if err != nil {
		return "", err
	}

	cfg := psi.Context{
		Role: role,
		DemoConfig: psi.DemoConfig{
			NBins:          req.NBins,
			NFuns:          req.NFuns,
			PolynomialSize: req.PolynomialSize,
			NMegabins:      req.NMegabins,
			Threshold:      req.Threshold,
			AnalyticsType:  analyticsType,
		},
	}
	if err := cfg.Validate(); err != nil {
		return "", err
	}

	runID := uuid.New().String()
	run := models.Run{
		RunID:          runID,
		Role:           req.Role,
		PeerAddress:    req.PeerAddress,
		Port:           req.Port,
		NumElements:    len(req.Elements),
		NBins:          req.NBins,
		NFuns:          req.NFuns,
		PolynomialSize: req.PolynomialSize,
		NMegabins:      req.NMegabins,
		AnalyticsType:  req.AnalyticsType,
		Threshold:      req.Threshold,
		Phase:          "pending",
		StartedAt:      time.Now(),
	}
	if err := m.store.SaveRun(ctx, run); err != nil {
		return "", err
	}

	go m.drive(runID, req, cfg)

	return runID, nil
}

// drive runs to completion in the background, broadcasting a
// {runId, phase} frame over the websocket hub at each transition
// (internal/psi.Observer) and persisting phase/result updates as it
// goes, the same shape BroadcastCoinJoinAlert used for scan progress.
func (m *RunManager) drive(runID string, req models.StartRunRequest, cfg psi.Context) {
	ctx := context.Background()

	observer := func(p psi.Phase) {
		m.broadcastPhase(runID, string(p))
		if err := m.store.UpdateRunPhase(ctx, runID, string(p)); err != nil {
			log.Printf("run %s: failed to persist phase %s: %v", runID, p, err)
		}
	}

	var result *models.RunResult
	var runErr error

	if req.PeerAddress == "" {
		result, runErr = m.driveLocalDemo(ctx, req, cfg, observer)
	} else {
		runErr = m.driveNetworked(ctx, req, cfg, observer)
	}

	errMsg := ""
	if runErr != nil {
		errMsg = runErr.Error()
		log.Printf("run %s: failed: %v", runID, runErr)
	}
	if err := m.store.CompleteRun(ctx, runID, result, errMsg, time.Now()); err != nil {
		log.Printf("run %s: failed to persist completion: %v", runID, err)
	}
	m.broadcastPhase(runID, "done")
}

// driveLocalDemo exercises the full pipeline, including the circuit
// stage, in one process — the single-host demo mode
// RunPSIAnalyticsDemo implements — and is the only path that can
// return a revealed Result, since only it has both parties' shares in
// one place.
func (m *RunManager) driveLocalDemo(ctx context.Context, req models.StartRunRequest, cfg psi.Context, observer psi.Observer) (*models.RunResult, error) {
	res, err := psi.RunPSIAnalyticsDemo(ctx, req.Elements, req.ServerElements, cfg.DemoConfig, observer)
	if err != nil {
		return nil, err
	}
	return &models.RunResult{
		IntersectionBits: res.IntersectionBits,
		AboveThreshold:   boolPtr(res.AboveThreshold),
		Cardinality:      uint64Ptr(res.Cardinality),
	}, nil
}

// driveNetworked dials or listens for a real peer process and runs
// only this party's side of the network protocol. It deliberately does
// not produce a revealed Result: combining both parties' shares is the
// external circuit collaborator's job (spec.md §1), which a real
// deployment hands off to a dedicated 2PC engine rather than this
// control plane.
func (m *RunManager) driveNetworked(ctx context.Context, req models.StartRunRequest, cfg psi.Context, observer psi.Observer) error {
	var transport psi.Transport
	var err error
	if cfg.Role == psi.RoleClient {
		transport, err = psi.DialTransport(ctx, req.PeerAddress, req.Port)
	} else {
		transport, err = psi.ListenTransport(ctx, req.Port)
	}
	if err != nil {
		return err
	}
	defer transport.Bins.Close()
	defer transport.OPRF.Close()
	defer transport.Poly.Close()

	_, err = psi.RunPSIAnalyticsParty(ctx, req.Elements, cfg, transport, observer)
	return err
}

func (m *RunManager) broadcastPhase(runID, phase string) {
	if m.wsHub == nil {
		return
	}
	frame := fmt.Sprintf(`{"runId":%q,"phase":%q}`, runID, phase)
	m.wsHub.Broadcast([]byte(frame))
}

func boolPtr(b bool) *bool       { return &b }
func uint64Ptr(u uint64) *uint64 { return &u }
