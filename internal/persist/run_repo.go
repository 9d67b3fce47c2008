package persist

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// RunRow is one simulation run.
type RunRow struct {
	ID         int64
	StartedAt  time.Time
	EndedAt    *time.Time
	AgentCount int
	BatchCount int
	Config     json.RawMessage
}

type RunRepo struct {
	db *DB
}

func NewRunRepo(db *DB) *RunRepo {
	return &RunRepo{db: db}
}

// Start records a new run and returns its ID. cfg is stored as JSON.
func (r *RunRepo) Start(ctx context.Context, agentCount, batchCount int, cfg any) (int64, error) {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return 0, fmt.Errorf("encode run config: %w", err)
	}
	var id int64
	err = r.db.Pool.QueryRow(ctx,
		`INSERT INTO swarm_runs (agent_count, batch_count, config)
		 VALUES ($1, $2, $3) RETURNING id`,
		agentCount, batchCount, raw,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert run: %w", err)
	}
	return id, nil
}

// Finish stamps the run's end time.
func (r *RunRepo) Finish(ctx context.Context, id int64) error {
	_, err := r.db.Pool.Exec(ctx,
		`UPDATE swarm_runs SET ended_at = now() WHERE id = $1`, id,
	)
	return err
}

// Recent lists the latest runs, newest first.
func (r *RunRepo) Recent(ctx context.Context, limit int) ([]RunRow, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT id, started_at, ended_at, agent_count, batch_count, config
		 FROM swarm_runs ORDER BY id DESC LIMIT $1`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []RunRow
	for rows.Next() {
		var row RunRow
		if err := rows.Scan(&row.ID, &row.StartedAt, &row.EndedAt,
			&row.AgentCount, &row.BatchCount, &row.Config); err != nil {
			return nil, err
		}
		result = append(result, row)
	}
	return result, rows.Err()
}
