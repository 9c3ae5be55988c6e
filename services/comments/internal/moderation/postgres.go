package moderation

// Expected schema:
//
//	CREATE TABLE report_cycles (
//	    id          UUID PRIMARY KEY,
//	    comment_id  UUID NOT NULL REFERENCES comments(id),
//	    status      TEXT NOT NULL,
//	    claimed_by  TEXT,
//	    resolved_by TEXT,
//	    outcome     TEXT,
//	    created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
//	    resolved_at TIMESTAMPTZ
//	);
//	CREATE UNIQUE INDEX report_cycles_one_open
//	    ON report_cycles (comment_id)
//	    WHERE status IN ('reported', 'under_review');
//
//	CREATE TABLE report_entries (
//	    cycle_id    UUID NOT NULL REFERENCES report_cycles(id) ON DELETE CASCADE,
//	    reporter_id TEXT NOT NULL,
//	    reason      TEXT NOT NULL,
//	    created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
//	    PRIMARY KEY (cycle_id, reporter_id)
//	);

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/example/tutorhub/services/comments/internal/store"
)

// PostgresCycleStore persists report cycles in Postgres.
type PostgresCycleStore struct {
	pool *pgxpool.Pool
}

func NewPostgresCycleStore(pool *pgxpool.Pool) *PostgresCycleStore {
	return &PostgresCycleStore{pool: pool}
}

func (s *PostgresCycleStore) File(ctx context.Context, commentID, reporterID, reason string) (Cycle, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Cycle{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Re-check liveness inside the tx. FOR SHARE makes a concurrent
	// tombstone wait, so a cycle is never opened against a comment that was
	// deleted after the caller's own check.
	var deleted bool
	err = tx.QueryRow(ctx,
		`SELECT deleted_at IS NOT NULL FROM comments WHERE id = $1 FOR SHARE`, commentID).Scan(&deleted)
	if errors.Is(err, pgx.ErrNoRows) || (err == nil && deleted) {
		return Cycle{}, store.ErrNotFound
	}
	if err != nil {
		return Cycle{}, fmt.Errorf("file report: %w", err)
	}

	// Lock the open cycle if one exists; otherwise open one. The partial
	// unique index makes the open-a-cycle race lose cleanly for one side,
	// after which the re-select finds the winner's row.
	var cycleID string
	err = tx.QueryRow(ctx,
		`SELECT id FROM report_cycles
		 WHERE comment_id = $1 AND status IN ('reported', 'under_review')
		 FOR UPDATE`, commentID).Scan(&cycleID)
	if errors.Is(err, pgx.ErrNoRows) {
		cycleID = uuid.NewString()
		tag, insErr := tx.Exec(ctx,
			`INSERT INTO report_cycles (id, comment_id, status)
			 VALUES ($1, $2, 'reported')
			 ON CONFLICT DO NOTHING`, cycleID, commentID)
		if insErr != nil {
			return Cycle{}, fmt.Errorf("open cycle: %w", insErr)
		}
		if tag.RowsAffected() == 0 {
			if err := tx.QueryRow(ctx,
				`SELECT id FROM report_cycles
				 WHERE comment_id = $1 AND status IN ('reported', 'under_review')
				 FOR UPDATE`, commentID).Scan(&cycleID); err != nil {
				return Cycle{}, fmt.Errorf("reselect cycle: %w", err)
			}
		}
	} else if err != nil {
		return Cycle{}, fmt.Errorf("select cycle: %w", err)
	}

	tag, err := tx.Exec(ctx,
		`INSERT INTO report_entries (cycle_id, reporter_id, reason)
		 VALUES ($1, $2, $3)
		 ON CONFLICT DO NOTHING`, cycleID, reporterID, reason)
	if err != nil {
		return Cycle{}, fmt.Errorf("file report: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return Cycle{}, ErrAlreadyReported
	}

	cycle, err := s.loadTx(ctx, tx, cycleID)
	if err != nil {
		return Cycle{}, err
	}
	return cycle, tx.Commit(ctx)
}

func (s *PostgresCycleStore) Claim(ctx context.Context, commentID, moderatorID string) (Cycle, error) {
	// Conditional update is the concurrency guard: two moderators racing on
	// the same reported cycle update the same row, and only one matches the
	// status predicate.
	var cycleID string
	err := s.pool.QueryRow(ctx,
		`UPDATE report_cycles SET status = 'under_review', claimed_by = $2
		 WHERE comment_id = $1 AND status = 'reported'
		 RETURNING id`, commentID, moderatorID).Scan(&cycleID)
	if errors.Is(err, pgx.ErrNoRows) {
		var open bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM report_cycles
			 WHERE comment_id = $1 AND status = 'under_review')`, commentID).Scan(&open); err != nil {
			return Cycle{}, fmt.Errorf("claim: %w", err)
		}
		if open {
			return Cycle{}, ErrAlreadyClaimed
		}
		return Cycle{}, ErrNoOpenReport
	}
	if err != nil {
		return Cycle{}, fmt.Errorf("claim: %w", err)
	}
	return s.load(ctx, cycleID)
}

func (s *PostgresCycleStore) Resolve(ctx context.Context, commentID, moderatorID string, outcome Outcome) (Cycle, error) {
	status := StatusResolvedKept
	if outcome == OutcomeRemoved {
		status = StatusResolvedRemoved
	}

	var cycleID string
	err := s.pool.QueryRow(ctx,
		`UPDATE report_cycles
		 SET status = $3, resolved_by = $2, outcome = $4, resolved_at = now()
		 WHERE comment_id = $1 AND status = 'under_review' AND claimed_by = $2
		 RETURNING id`, commentID, moderatorID, status, outcome).Scan(&cycleID)
	if errors.Is(err, pgx.ErrNoRows) {
		var st string
		err := s.pool.QueryRow(ctx,
			`SELECT status FROM report_cycles
			 WHERE comment_id = $1 AND status IN ('reported', 'under_review')`, commentID).Scan(&st)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			return Cycle{}, ErrNoOpenReport
		case err != nil:
			return Cycle{}, fmt.Errorf("resolve: %w", err)
		case Status(st) == StatusReported:
			return Cycle{}, ErrNotClaimed
		default:
			return Cycle{}, ErrNotClaimant
		}
	}
	if err != nil {
		return Cycle{}, fmt.Errorf("resolve: %w", err)
	}
	return s.load(ctx, cycleID)
}

func (s *PostgresCycleStore) Open(ctx context.Context) ([]Cycle, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id FROM report_cycles
		 WHERE status IN ('reported', 'under_review')
		 ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("open cycles: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]Cycle, 0, len(ids))
	for _, id := range ids {
		cycle, err := s.load(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, cycle)
	}
	return out, nil
}

type pgQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (s *PostgresCycleStore) load(ctx context.Context, cycleID string) (Cycle, error) {
	return s.loadFrom(ctx, s.pool, cycleID)
}

func (s *PostgresCycleStore) loadTx(ctx context.Context, tx pgx.Tx, cycleID string) (Cycle, error) {
	return s.loadFrom(ctx, tx, cycleID)
}

func (s *PostgresCycleStore) loadFrom(ctx context.Context, q pgQuerier, cycleID string) (Cycle, error) {
	var c Cycle
	var claimedBy, resolvedBy, outcome *string
	err := q.QueryRow(ctx,
		`SELECT id, comment_id, status, claimed_by, resolved_by, outcome, created_at, resolved_at
		 FROM report_cycles WHERE id = $1`, cycleID).
		Scan(&c.ID, &c.CommentID, &c.Status, &claimedBy, &resolvedBy, &outcome,
			&c.CreatedAt, &c.ResolvedAt)
	if err != nil {
		return Cycle{}, fmt.Errorf("load cycle: %w", err)
	}
	if claimedBy != nil {
		c.ClaimedBy = *claimedBy
	}
	if resolvedBy != nil {
		c.ResolvedBy = *resolvedBy
	}
	if outcome != nil {
		c.Outcome = Outcome(*outcome)
	}

	rows, err := q.Query(ctx,
		`SELECT reporter_id, reason, created_at
		 FROM report_entries WHERE cycle_id = $1 ORDER BY created_at`, cycleID)
	if err != nil {
		return Cycle{}, fmt.Errorf("load entries: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ReporterID, &e.Reason, &e.CreatedAt); err != nil {
			return Cycle{}, err
		}
		c.Entries = append(c.Entries, e)
	}
	return c, rows.Err()
}
