package store

// Expected schema:
//
//	CREATE TABLE comments (
//	    id          UUID PRIMARY KEY,
//	    seq         BIGSERIAL NOT NULL,
//	    target_kind TEXT NOT NULL,
//	    target_id   TEXT NOT NULL,
//	    author_id   TEXT,
//	    parent_id   UUID REFERENCES comments(id),
//	    content     TEXT NOT NULL,
//	    created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
//	    edited_at   TIMESTAMPTZ,
//	    deleted_at  TIMESTAMPTZ
//	);
//	CREATE UNIQUE INDEX comments_one_root_per_author
//	    ON comments (author_id, target_kind, target_id)
//	    WHERE parent_id IS NULL AND deleted_at IS NULL;
//	CREATE INDEX comments_target_idx ON comments (target_kind, target_id, seq);
//	CREATE INDEX comments_parent_idx ON comments (parent_id, seq);
//
//	CREATE TABLE comment_votes (
//	    comment_id UUID NOT NULL REFERENCES comments(id) ON DELETE CASCADE,
//	    user_id    TEXT NOT NULL,
//	    sign       SMALLINT NOT NULL CHECK (sign IN (-1, 1)),
//	    PRIMARY KEY (comment_id, user_id)
//	);

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresCommentStore persists comments in Postgres.
type PostgresCommentStore struct {
	pool *pgxpool.Pool
}

// NewPostgresCommentStore creates a store backed by Postgres.
func NewPostgresCommentStore(pool *pgxpool.Pool) *PostgresCommentStore {
	return &PostgresCommentStore{pool: pool}
}

const commentColumns = `c.id, c.target_kind, c.target_id, COALESCE(c.author_id, ''), c.parent_id,
	c.content, c.created_at, c.edited_at, c.deleted_at,
	(SELECT COUNT(*) FROM comment_votes v WHERE v.comment_id = c.id AND v.sign = 1),
	(SELECT COUNT(*) FROM comment_votes v WHERE v.comment_id = c.id AND v.sign = -1)`

func (s *PostgresCommentStore) Create(ctx context.Context, c Comment) (Comment, error) {
	content, err := ValidateContent(c.Content)
	if err != nil {
		return Comment{}, err
	}
	id := uuid.NewString()

	if c.ParentID == nil {
		// The partial unique index makes this a true atomic check-and-insert:
		// under concurrent creation exactly one insert wins.
		const q = `INSERT INTO comments (id, target_kind, target_id, author_id, content)
		           VALUES ($1, $2, $3, $4, $5)
		           RETURNING created_at`
		row := s.pool.QueryRow(ctx, q, id, c.Target.Kind, c.Target.ID, c.AuthorID, content)
		out := Comment{ID: id, Target: c.Target, AuthorID: c.AuthorID, Content: content}
		if err := row.Scan(&out.CreatedAt); err != nil {
			if pgErrCode(err) == "23505" {
				return Comment{}, ErrDuplicateComment
			}
			return Comment{}, fmt.Errorf("create comment: %w", err)
		}
		return out, nil
	}

	// Replies inherit the target from the parent row in the same statement,
	// so a parent deleted between validation and write yields zero rows
	// instead of a mislinked comment.
	const q = `INSERT INTO comments (id, target_kind, target_id, author_id, parent_id, content)
	           SELECT $1, p.target_kind, p.target_id, $2, p.id, $3
	           FROM comments p
	           WHERE p.id = $4 AND p.deleted_at IS NULL
	           RETURNING target_kind, target_id, created_at`
	row := s.pool.QueryRow(ctx, q, id, c.AuthorID, content, *c.ParentID)
	out := Comment{ID: id, AuthorID: c.AuthorID, ParentID: c.ParentID, Content: content}
	if err := row.Scan(&out.Target.Kind, &out.Target.ID, &out.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Comment{}, ErrParentNotFound
		}
		return Comment{}, fmt.Errorf("create reply: %w", err)
	}
	return out, nil
}

func (s *PostgresCommentStore) Get(ctx context.Context, id string) (Comment, error) {
	q := `SELECT ` + commentColumns + ` FROM comments c WHERE c.id = $1`
	c, err := s.scanComment(s.pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Comment{}, ErrNotFound
		}
		return Comment{}, fmt.Errorf("get comment: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id FROM comments WHERE parent_id = $1 ORDER BY seq`, id)
	if err != nil {
		return Comment{}, fmt.Errorf("get children: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var child string
		if err := rows.Scan(&child); err != nil {
			return Comment{}, err
		}
		c.ChildIDs = append(c.ChildIDs, child)
	}
	return c, rows.Err()
}

func (s *PostgresCommentStore) GetByTarget(ctx context.Context, t Target) ([]Comment, error) {
	q := `SELECT ` + commentColumns + `
	      FROM comments c
	      WHERE c.target_kind = $1 AND c.target_id = $2
	      ORDER BY c.seq`
	rows, err := s.pool.Query(ctx, q, t.Kind, t.ID)
	if err != nil {
		return nil, fmt.Errorf("get by target: %w", err)
	}
	defer rows.Close()

	var out []Comment
	index := make(map[string]int)
	for rows.Next() {
		c, err := s.scanComment(rows)
		if err != nil {
			return nil, err
		}
		index[c.ID] = len(out)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Rebuild child id lists in seq (creation) order.
	for _, c := range out {
		if c.ParentID == nil {
			continue
		}
		if i, ok := index[*c.ParentID]; ok {
			out[i].ChildIDs = append(out[i].ChildIDs, c.ID)
		}
	}
	return out, nil
}

func (s *PostgresCommentStore) EditContent(ctx context.Context, id, authorID, content string) (Comment, error) {
	clean, err := ValidateContent(content)
	if err != nil {
		return Comment{}, err
	}

	const q = `UPDATE comments SET content = $1, edited_at = now()
	           WHERE id = $2 AND author_id = $3 AND deleted_at IS NULL`
	tag, err := s.pool.Exec(ctx, q, clean, id, authorID)
	if err != nil {
		return Comment{}, fmt.Errorf("edit content: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish a missing/tombstoned comment from an author mismatch.
		var deleted bool
		err := s.pool.QueryRow(ctx,
			`SELECT deleted_at IS NOT NULL FROM comments WHERE id = $1`, id).Scan(&deleted)
		if errors.Is(err, pgx.ErrNoRows) || (err == nil && deleted) {
			return Comment{}, ErrNotFound
		}
		if err != nil {
			return Comment{}, fmt.Errorf("edit content: %w", err)
		}
		return Comment{}, ErrForbidden
	}
	return s.Get(ctx, id)
}

func (s *PostgresCommentStore) Tombstone(ctx context.Context, id string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const q = `UPDATE comments SET content = $1, author_id = NULL, deleted_at = now()
	           WHERE id = $2 AND deleted_at IS NULL`
	tag, err := tx.Exec(ctx, q, TombstoneContent, id)
	if err != nil {
		return fmt.Errorf("tombstone: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM comments WHERE id = $1)`, id).Scan(&exists); err != nil {
			return fmt.Errorf("tombstone: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
		// Already tombstoned. Still fall through to the vote delete below so
		// the state self-heals if an earlier sweep missed a vote.
	}

	if _, err := tx.Exec(ctx, `DELETE FROM comment_votes WHERE comment_id = $1`, id); err != nil {
		return fmt.Errorf("tombstone votes: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *PostgresCommentStore) ToggleVote(ctx context.Context, commentID, userID string, sign int) (VoteCounts, error) {
	if sign != 1 && sign != -1 {
		return VoteCounts{}, ErrInvalidVote
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return VoteCounts{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// FOR SHARE holds the comment row for the life of the vote tx, so a
	// concurrent Tombstone's UPDATE waits until this insert commits and then
	// sweeps it. Without the lock the tombstone's vote delete could run
	// between this check and the commit and miss the new row.
	var deleted bool
	err = tx.QueryRow(ctx,
		`SELECT deleted_at IS NOT NULL FROM comments WHERE id = $1 FOR SHARE`, commentID).Scan(&deleted)
	if errors.Is(err, pgx.ErrNoRows) {
		return VoteCounts{}, ErrNotFound
	}
	if err != nil {
		return VoteCounts{}, fmt.Errorf("vote: %w", err)
	}
	if deleted {
		return VoteCounts{}, ErrNotFound
	}

	// Row-lock the user's vote slot; concurrent toggles for the same
	// (comment, user) pair serialize here, different users do not contend.
	var old int16
	err = tx.QueryRow(ctx,
		`SELECT sign FROM comment_votes WHERE comment_id = $1 AND user_id = $2 FOR UPDATE`,
		commentID, userID).Scan(&old)

	switch {
	case errors.Is(err, pgx.ErrNoRows):
		_, err = tx.Exec(ctx,
			`INSERT INTO comment_votes (comment_id, user_id, sign) VALUES ($1, $2, $3)`,
			commentID, userID, sign)
	case err != nil:
		return VoteCounts{}, fmt.Errorf("vote read: %w", err)
	case int(old) == sign:
		_, err = tx.Exec(ctx,
			`DELETE FROM comment_votes WHERE comment_id = $1 AND user_id = $2`,
			commentID, userID)
	default:
		_, err = tx.Exec(ctx,
			`UPDATE comment_votes SET sign = $1 WHERE comment_id = $2 AND user_id = $3`,
			sign, commentID, userID)
	}
	if err != nil {
		if isRetryable(err) {
			return VoteCounts{}, ErrConflict
		}
		return VoteCounts{}, fmt.Errorf("vote write: %w", err)
	}

	var counts VoteCounts
	err = tx.QueryRow(ctx,
		`SELECT COUNT(*) FILTER (WHERE sign = 1), COUNT(*) FILTER (WHERE sign = -1)
		 FROM comment_votes WHERE comment_id = $1`, commentID).
		Scan(&counts.Likes, &counts.Dislikes)
	if err != nil {
		return VoteCounts{}, fmt.Errorf("vote counts: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		if isRetryable(err) {
			return VoteCounts{}, ErrConflict
		}
		return VoteCounts{}, err
	}
	return counts, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *PostgresCommentStore) scanComment(row rowScanner) (Comment, error) {
	var c Comment
	err := row.Scan(&c.ID, &c.Target.Kind, &c.Target.ID, &c.AuthorID, &c.ParentID,
		&c.Content, &c.CreatedAt, &c.EditedAt, &c.DeletedAt, &c.Likes, &c.Dislikes)
	return c, err
}

func pgErrCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// isRetryable reports serialization failures and deadlocks, which callers
// may retry.
func isRetryable(err error) bool {
	switch pgErrCode(err) {
	case "40001", "40P01":
		return true
	}
	return false
}
