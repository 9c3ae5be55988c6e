package store

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"
)

// TargetKind discriminates what a top-level comment thread is attached to.
type TargetKind string

const (
	TargetTutor  TargetKind = "tutor"
	TargetCourse TargetKind = "course"
)

// ParseTargetKind validates a raw kind string.
func ParseTargetKind(raw string) (TargetKind, bool) {
	switch TargetKind(strings.ToLower(strings.TrimSpace(raw))) {
	case TargetTutor:
		return TargetTutor, true
	case TargetCourse:
		return TargetCourse, true
	}
	return "", false
}

// Target identifies the tutor or course a thread belongs to.
type Target struct {
	Kind TargetKind `json:"kind"`
	ID   string     `json:"id"`
}

// MaxContentLen bounds comment text after trimming.
const MaxContentLen = 1000

// TombstoneContent replaces the text of a deleted comment.
const TombstoneContent = "[removed]"

// Comment is a single comment row. Replies carry the root target redundantly
// so target lookups never walk parent pointers.
type Comment struct {
	ID        string     `json:"id"`
	Target    Target     `json:"target"`
	AuthorID  string     `json:"author_id,omitempty"` // cleared on tombstone
	ParentID  *string    `json:"parent_id,omitempty"`
	Content   string     `json:"content"`
	ChildIDs  []string   `json:"child_ids"` // store-maintained, creation order
	Likes     int        `json:"likes"`
	Dislikes  int        `json:"dislikes"`
	CreatedAt time.Time  `json:"created_at"`
	EditedAt  *time.Time `json:"edited_at,omitempty"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// Tombstoned reports whether the comment has been soft-deleted.
func (c Comment) Tombstoned() bool { return c.DeletedAt != nil }

// VoteCounts are always derived from the vote slots, never stored.
type VoteCounts struct {
	Likes    int `json:"likes"`
	Dislikes int `json:"dislikes"`
}

// Sentinel errors
var (
	ErrNotFound         = errors.New("comment not found")
	ErrForbidden        = errors.New("not the comment author")
	ErrInvalidContent   = errors.New("content is empty or exceeds the length bound")
	ErrDuplicateComment = errors.New("author already has a top-level comment on this target")
	ErrParentNotFound   = errors.New("parent comment not found")
	ErrInvalidVote      = errors.New("vote sign must be 1 or -1")
	ErrConflict         = errors.New("storage conflict, retry")
)

// ValidateContent trims raw text and enforces the non-empty / length bounds.
func ValidateContent(raw string) (string, error) {
	content := strings.TrimSpace(raw)
	if content == "" || utf8.RuneCountInString(content) > MaxContentLen {
		return "", ErrInvalidContent
	}
	return content, nil
}

// CommentStore defines the contract for comment persistence.
//
// Create enforces the one-top-level-comment-per-author-per-target constraint
// as an atomic check-and-insert and links replies to their parent in the same
// step. GetByTarget returns tombstoned rows too so readers can assemble the
// full tree. Tombstone is idempotent. ToggleVote applies the per-user vote
// slot semantics: no vote inserts, same sign removes, opposite sign replaces.
type CommentStore interface {
	Create(ctx context.Context, c Comment) (Comment, error)
	Get(ctx context.Context, id string) (Comment, error)
	GetByTarget(ctx context.Context, t Target) ([]Comment, error)
	EditContent(ctx context.Context, id, authorID, content string) (Comment, error)
	Tombstone(ctx context.Context, id string) error
	ToggleVote(ctx context.Context, commentID, userID string, sign int) (VoteCounts, error)
}
