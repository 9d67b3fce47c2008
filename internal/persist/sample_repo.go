package persist

import (
	"context"
	"fmt"
)

// Sample is one periodic snapshot of pipeline counters. Counters cover the
// interval since the previous sample; Unreachable is the latest gauge value.
type Sample struct {
	Tick        uint64
	Dispatched  int
	Dropped     int
	Reused      int
	Queried     int
	Empty       int
	Unreachable int
	Frames      int
	Failures    int
}

type SampleRepo struct {
	db    *DB
	runID int64
}

// NewSampleRepo writes samples for one run.
func NewSampleRepo(db *DB, runID int64) *SampleRepo {
	return &SampleRepo{db: db, runID: runID}
}

// InsertSamples writes a set of samples in a single transaction.
func (r *SampleRepo) InsertSamples(ctx context.Context, samples []Sample) error {
	if len(samples) == 0 {
		return nil
	}
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("sample begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, s := range samples {
		if _, err := tx.Exec(ctx,
			`INSERT INTO swarm_samples
			   (run_id, tick, dispatched, dropped, reused, queried, empty, unreachable, frames, failures)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			 ON CONFLICT (run_id, tick) DO NOTHING`,
			r.runID, int64(s.Tick), s.Dispatched, s.Dropped, s.Reused, s.Queried,
			s.Empty, s.Unreachable, s.Frames, s.Failures,
		); err != nil {
			return fmt.Errorf("sample insert: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// Count returns how many samples the run has.
func (r *SampleRepo) Count(ctx context.Context) (int, error) {
	var n int
	err := r.db.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM swarm_samples WHERE run_id = $1`, r.runID,
	).Scan(&n)
	return n, err
}
