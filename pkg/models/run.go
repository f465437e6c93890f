// Package models holds the wire/storage representation of a PSI run,
// tagged the way the rest of this codebase tags its JSON-facing types.
package models

import "time"

// Run is the audit record for one PSI-Analytics session: its
// configuration, its lifecycle phase, and — once finished — its
// revealed result. run_id is assigned by the control plane when the
// run is accepted, not by the protocol itself.
type Run struct {
	RunID         string     `json:"runId"`
	Role          string     `json:"role"` // "client" or "server"
	PeerAddress   string     `json:"peerAddress,omitempty"`
	Port          int        `json:"port"`
	NumElements   int        `json:"numElements"`
	NBins         int        `json:"nBins"`
	NFuns         int        `json:"nFuns"`
	PolynomialSize int       `json:"polynomialSize"`
	NMegabins     int        `json:"nMegabins"`
	AnalyticsType string     `json:"analyticsType"`
	Threshold     uint64     `json:"threshold,omitempty"`
	Phase         string     `json:"phase"`
	Result        *RunResult `json:"result,omitempty"`
	ErrorMessage  string     `json:"error,omitempty"`
	StartedAt     time.Time  `json:"startedAt"`
	FinishedAt    *time.Time `json:"finishedAt,omitempty"`
}

// RunResult is the revealed output of a completed run, shaped by its
// AnalyticsType.
type RunResult struct {
	IntersectionBits []uint64 `json:"intersectionBits,omitempty"`
	AboveThreshold   *bool    `json:"aboveThreshold,omitempty"`
	Cardinality      *uint64  `json:"cardinality,omitempty"`
}

// RunPage is one page of a paginated run listing.
type RunPage struct {
	Runs       []Run `json:"runs"`
	TotalCount int   `json:"totalCount"`
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
}

// StartRunRequest is the POST /runs request body. When PeerAddress is
// empty the run is a single-host demo: both ServerElements and
// Elements must be supplied and the control plane drives both parties
// plus the circuit stage itself (internal/psi.RunPSIAnalyticsDemo).
// When PeerAddress is set, the control plane dials or listens as Role
// and drives only its own side of the network protocol
// (internal/psi.RunPSIAnalyticsParty) — combining the resulting shares
// into a revealed analytics result is the external circuit
// collaborator's job, not this process's.
type StartRunRequest struct {
	Role           string   `json:"role" binding:"required"`
	PeerAddress    string   `json:"peerAddress"`
	Port           int      `json:"port" binding:"required"`
	Elements       []uint64 `json:"elements" binding:"required"`
	ServerElements []uint64 `json:"serverElements"`
	NBins          int      `json:"nBins" binding:"required"`
	NFuns          int      `json:"nFuns" binding:"required"`
	PolynomialSize int      `json:"polynomialSize" binding:"required"`
	NMegabins      int      `json:"nMegabins" binding:"required"`
	AnalyticsType  string   `json:"analyticsType" binding:"required"`
	Threshold      uint64   `json:"threshold"`
}

// StartRunResponse is the POST /runs response body.
type StartRunResponse struct {
	RunID string `json:"runId"`
}
