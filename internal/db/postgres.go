// Package db persists the run ledger (component H): one row per PSI
// run, its configuration, its lifecycle phase, and its revealed result
// once finished. Adapted from the teacher's postgres.go — same
// pgxpool/transaction/upsert shape, applied to run records instead of
// heuristic evidence edges.
package db

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rawblock/psi-analytics-engine/pkg/models"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

// Connect initializes the connection pool to PostgreSQL using pgx.
func Connect(connStr string) (*PostgresStore, error) {
	pool, err := pgxpool.New(context.Background(), connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %v", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("ping failed: %v", err)
	}

	log.Println("Successfully connected to PostgreSQL for PSI run ledger")
	return &PostgresStore{pool: pool}, nil
}

// Close gracefully closes the connection pool.
func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// InitSchema loads and executes the schema.sql file.
func (s *PostgresStore) InitSchema() error {
	schemaBytes, err := os.ReadFile("internal/db/schema.sql")
	if err != nil {
		return fmt.Errorf("failed to read schema file: %v", err)
	}

	_, err = s.pool.Exec(context.Background(), string(schemaBytes))
	if err != nil {
		return fmt.Errorf("failed to execute schema migrations: %v", err)
	}

	log.Println("PSI run ledger schema initialized")
	return nil
}

// SaveRun inserts a new run row in the "pending" phase.
func (s *PostgresStore) SaveRun(ctx context.Context, run models.Run) error {
	sql := `
		INSERT INTO runs
			(run_id, role, peer_address, port, num_elements, n_bins, n_funs,
			 polynomial_size, n_megabins, analytics_type, threshold, phase, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (run_id) DO NOTHING;
	`
	_, err := s.pool.Exec(ctx, sql,
		run.RunID, run.Role, run.PeerAddress, run.Port, run.NumElements, run.NBins, run.NFuns,
		run.PolynomialSize, run.NMegabins, run.AnalyticsType, run.Threshold, run.Phase, run.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %v", err)
	}
	return nil
}

// UpdateRunPhase records a phase transition observed from the
// orchestrator (see internal/psi.Observer).
func (s *PostgresStore) UpdateRunPhase(ctx context.Context, runID, phase string) error {
	sql := `UPDATE runs SET phase = $1 WHERE run_id = $2;`
	_, err := s.pool.Exec(ctx, sql, phase, runID)
	return err
}

// CompleteRun records a run's terminal state: either its revealed
// result or an error message, plus a finish timestamp.
func (s *PostgresStore) CompleteRun(ctx context.Context, runID string, result *models.RunResult, runErr string, finishedAt time.Time) error {
	var resultJSON []byte
	if result != nil {
		var err error
		resultJSON, err = json.Marshal(result)
		if err != nil {
			return fmt.Errorf("failed to marshal run result: %v", err)
		}
	}

	phase := "done"
	if runErr != "" {
		phase = "failed"
	}

	sql := `
		UPDATE runs
		SET phase = $1, result = $2, error_message = $3, finished_at = $4
		WHERE run_id = $5;
	`
	_, err := s.pool.Exec(ctx, sql, phase, resultJSON, runErr, finishedAt, runID)
	if err != nil {
		return fmt.Errorf("failed to complete run: %v", err)
	}
	return nil
}

// GetRun fetches a single run by ID.
func (s *PostgresStore) GetRun(ctx context.Context, runID string) (models.Run, error) {
	sql := `
		SELECT run_id, role, peer_address, port, num_elements, n_bins, n_funs,
		       polynomial_size, n_megabins, analytics_type, threshold, phase,
		       result, error_message, started_at, finished_at
		FROM runs WHERE run_id = $1;
	`
	var run models.Run
	var resultJSON []byte
	var finishedAt *time.Time
	err := s.pool.QueryRow(ctx, sql, runID).Scan(
		&run.RunID, &run.Role, &run.PeerAddress, &run.Port, &run.NumElements, &run.NBins, &run.NFuns,
		&run.PolynomialSize, &run.NMegabins, &run.AnalyticsType, &run.Threshold, &run.Phase,
		&resultJSON, &run.ErrorMessage, &run.StartedAt, &finishedAt,
	)
	if err != nil {
		return models.Run{}, err
	}
	run.FinishedAt = finishedAt
	if len(resultJSON) > 0 {
		var result models.RunResult
		if err := json.Unmarshal(resultJSON, &result); err == nil {
			run.Result = &result
		}
	}
	return run, nil
}

// ListRuns returns a paginated, most-recent-first run history, the
// same pagination shape as the teacher's GetMixers.
func (s *PostgresStore) ListRuns(ctx context.Context, page, limit int) ([]models.Run, int, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * limit

	var totalCount int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM runs`).Scan(&totalCount); err != nil {
		return nil, 0, err
	}

	sql := `
		SELECT run_id, role, peer_address, port, num_elements, n_bins, n_funs,
		       polynomial_size, n_megabins, analytics_type, threshold, phase,
		       result, error_message, started_at, finished_at
		FROM runs
		ORDER BY started_at DESC
		LIMIT $1 OFFSET $2;
	`
	rows, err := s.pool.Query(ctx, sql, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var runs []models.Run
	for rows.Next() {
		var run models.Run
		var resultJSON []byte
		var finishedAt *time.Time
		if err := rows.Scan(
			&run.RunID, &run.Role, &run.PeerAddress, &run.Port, &run.NumElements, &run.NBins, &run.NFuns,
			&run.PolynomialSize, &run.NMegabins, &run.AnalyticsType, &run.Threshold, &run.Phase,
			&resultJSON, &run.ErrorMessage, &run.StartedAt, &finishedAt,
		); err != nil {
			return nil, 0, err
		}
		run.FinishedAt = finishedAt
		if len(resultJSON) > 0 {
			var result models.RunResult
			if err := json.Unmarshal(resultJSON, &result); err == nil {
				run.Result = &result
			}
		}
		runs = append(runs, run)
	}
	if runs == nil {
		runs = []models.Run{}
	}
	return runs, totalCount, nil
}

// GetPool exposes the connection pool for callers (e.g. websocket
// broadcast hooks) that need direct access.
func (s *PostgresStore) GetPool() *pgxpool.Pool {
	return s.pool
}
