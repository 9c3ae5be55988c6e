// Package moderation drives reported comments through the review workflow.
//
// Each comment has at most one open report cycle:
//
//	reported -> under_review -> resolved_removed | resolved_kept
//
// The first report opens a cycle; further reporters accumulate on it. A
// moderator must claim the cycle before resolving it, which keeps two
// moderators from double-handling the same case. A cycle resolved as kept is
// archived, so a later report opens a fresh cycle.
package moderation

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/example/tutorhub/services/comments/internal/store"
)

type Status string

const (
	StatusReported        Status = "reported"
	StatusUnderReview     Status = "under_review"
	StatusResolvedRemoved Status = "resolved_removed"
	StatusResolvedKept    Status = "resolved_kept"
)

type Outcome string

const (
	OutcomeRemoved Outcome = "removed"
	OutcomeKept    Outcome = "kept"
)

// ParseOutcome validates a raw outcome string.
func ParseOutcome(raw string) (Outcome, bool) {
	switch Outcome(strings.ToLower(strings.TrimSpace(raw))) {
	case OutcomeRemoved:
		return OutcomeRemoved, true
	case OutcomeKept:
		return OutcomeKept, true
	}
	return "", false
}

// Entry is a single reporter's filing within a cycle.
type Entry struct {
	ReporterID string    `json:"reporter_id"`
	Reason     string    `json:"reason"`
	CreatedAt  time.Time `json:"created_at"`
}

// Cycle is one pass of a comment through the workflow.
type Cycle struct {
	ID         string     `json:"id"`
	CommentID  string     `json:"comment_id"`
	Status     Status     `json:"status"`
	Entries    []Entry    `json:"entries"`
	ClaimedBy  string     `json:"claimed_by,omitempty"`
	ResolvedBy string     `json:"resolved_by,omitempty"`
	Outcome    Outcome    `json:"outcome,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// ReportCount is the number of distinct reporters in this cycle.
func (c Cycle) ReportCount() int { return len(c.Entries) }

// Open reports whether the cycle still needs moderator attention.
func (c Cycle) Open() bool {
	return c.Status == StatusReported || c.Status == StatusUnderReview
}

// Sentinel errors
var (
	ErrEmptyReason     = errors.New("report reason must not be blank")
	ErrAlreadyReported = errors.New("reporter already filed against this comment")
	ErrAlreadyClaimed  = errors.New("report already claimed by another moderator")
	ErrNoOpenReport    = errors.New("no open report for this comment")
	ErrNotClaimant     = errors.New("report claimed by a different moderator")
	ErrNotClaimed      = errors.New("report must be claimed before resolving")
)

// CycleStore persists report cycles. Every method is atomic with respect to
// the open cycle of a single comment.
type CycleStore interface {
	// File opens a cycle (first report) or appends a distinct reporter to the
	// open one. The same reporter filing twice in one cycle is rejected.
	// Implementations that can see the comment's row also refuse filing
	// against a tombstoned comment with store.ErrNotFound, closing the window
	// between the workflow's liveness check and the write.
	File(ctx context.Context, commentID, reporterID, reason string) (Cycle, error)
	// Claim moves reported -> under_review for exactly one moderator.
	Claim(ctx context.Context, commentID, moderatorID string) (Cycle, error)
	// Resolve moves under_review -> a terminal status; only the claimant may
	// resolve.
	Resolve(ctx context.Context, commentID, moderatorID string, outcome Outcome) (Cycle, error)
	// Open lists all open cycles, oldest first, for the moderation queue.
	Open(ctx context.Context) ([]Cycle, error)
}

// Workflow couples the cycle store with the comment store: a cycle resolved
// as removed tombstones the comment.
type Workflow struct {
	cycles   CycleStore
	comments store.CommentStore
}

func NewWorkflow(cycles CycleStore, comments store.CommentStore) *Workflow {
	return &Workflow{cycles: cycles, comments: comments}
}

// Report files a report against a live comment.
func (w *Workflow) Report(ctx context.Context, commentID, reporterID, reason string) (Cycle, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return Cycle{}, ErrEmptyReason
	}

	c, err := w.comments.Get(ctx, commentID)
	if err != nil {
		return Cycle{}, err
	}
	if c.Tombstoned() {
		return Cycle{}, store.ErrNotFound
	}
	return w.cycles.File(ctx, commentID, reporterID, reason)
}

// Claim gives one moderator exclusive ownership of the open cycle.
func (w *Workflow) Claim(ctx context.Context, commentID, moderatorID string) (Cycle, error) {
	return w.cycles.Claim(ctx, commentID, moderatorID)
}

// Resolve closes the claimed cycle. OutcomeRemoved additionally tombstones
// the comment; the two steps are individually atomic, so a crash in between
// leaves a resolved cycle whose removal can be re-applied idempotently.
func (w *Workflow) Resolve(ctx context.Context, commentID, moderatorID string, outcome Outcome) (Cycle, error) {
	cycle, err := w.cycles.Resolve(ctx, commentID, moderatorID, outcome)
	if err != nil {
		return Cycle{}, err
	}
	if outcome == OutcomeRemoved {
		if err := w.comments.Tombstone(ctx, commentID); err != nil && !errors.Is(err, store.ErrNotFound) {
			return Cycle{}, err
		}
	}
	return cycle, nil
}

// OpenReports lists the moderation queue.
func (w *Workflow) OpenReports(ctx context.Context) ([]Cycle, error) {
	return w.cycles.Open(ctx)
}
