package catalog

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/example/tutorhub/services/comments/internal/store"
)

// PostgresResolver resolves targets against the marketplace tutors and
// courses tables.
type PostgresResolver struct {
	pool *pgxpool.Pool
}

func NewPostgresResolver(pool *pgxpool.Pool) *PostgresResolver {
	return &PostgresResolver{pool: pool}
}

func (r *PostgresResolver) Resolve(ctx context.Context, t store.Target) error {
	var q string
	switch t.Kind {
	case store.TargetTutor:
		q = `SELECT EXISTS(SELECT 1 FROM tutors WHERE id = $1)`
	case store.TargetCourse:
		q = `SELECT EXISTS(SELECT 1 FROM courses WHERE id = $1)`
	default:
		return ErrTargetNotFound
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, q, t.ID).Scan(&exists); err != nil {
		return fmt.Errorf("resolve %s %s: %w", t.Kind, t.ID, err)
	}
	if !exists {
		return ErrTargetNotFound
	}
	return nil
}
