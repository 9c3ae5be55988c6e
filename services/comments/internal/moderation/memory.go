package moderation

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryCycleStore is a development-only in-memory implementation.
type InMemoryCycleStore struct {
	mu     sync.Mutex
	open   map[string]*Cycle // commentID -> open cycle
	seq    map[string]int    // cycleID -> opening order
	nextID int
	closed []Cycle
}

func NewInMemoryCycleStore() *InMemoryCycleStore {
	return &InMemoryCycleStore{
		open: make(map[string]*Cycle),
		seq:  make(map[string]int),
	}
}

func (s *InMemoryCycleStore) File(_ context.Context, commentID, reporterID, reason string) (Cycle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	cycle, ok := s.open[commentID]
	if !ok {
		cycle = &Cycle{
			ID:        uuid.NewString(),
			CommentID: commentID,
			Status:    StatusReported,
			CreatedAt: now,
		}
		s.open[commentID] = cycle
		s.seq[cycle.ID] = s.nextID
		s.nextID++
	}

	for _, e := range cycle.Entries {
		if e.ReporterID == reporterID {
			return Cycle{}, ErrAlreadyReported
		}
	}
	cycle.Entries = append(cycle.Entries, Entry{
		ReporterID: reporterID,
		Reason:     reason,
		CreatedAt:  now,
	})
	return s.snapshot(cycle), nil
}

func (s *InMemoryCycleStore) Claim(_ context.Context, commentID, moderatorID string) (Cycle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cycle, ok := s.open[commentID]
	if !ok {
		return Cycle{}, ErrNoOpenReport
	}
	if cycle.Status != StatusReported {
		return Cycle{}, ErrAlreadyClaimed
	}
	cycle.Status = StatusUnderReview
	cycle.ClaimedBy = moderatorID
	return s.snapshot(cycle), nil
}

func (s *InMemoryCycleStore) Resolve(_ context.Context, commentID, moderatorID string, outcome Outcome) (Cycle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cycle, ok := s.open[commentID]
	if !ok {
		return Cycle{}, ErrNoOpenReport
	}
	if cycle.Status != StatusUnderReview {
		return Cycle{}, ErrNotClaimed
	}
	if cycle.ClaimedBy != moderatorID {
		return Cycle{}, ErrNotClaimant
	}

	switch outcome {
	case OutcomeRemoved:
		cycle.Status = StatusResolvedRemoved
	default:
		cycle.Status = StatusResolvedKept
	}
	cycle.ResolvedBy = moderatorID
	cycle.Outcome = outcome
	now := time.Now().UTC()
	cycle.ResolvedAt = &now

	// Terminal: archive the cycle so a later report opens a fresh one.
	delete(s.open, commentID)
	delete(s.seq, cycle.ID)
	s.closed = append(s.closed, s.snapshot(cycle))
	return s.snapshot(cycle), nil
}

func (s *InMemoryCycleStore) Open(_ context.Context) ([]Cycle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Cycle, 0, len(s.open))
	for _, cycle := range s.open {
		out = append(out, s.snapshot(cycle))
	}
	sort.Slice(out, func(i, j int) bool { return s.seq[out[i].ID] < s.seq[out[j].ID] })
	return out, nil
}

func (s *InMemoryCycleStore) snapshot(c *Cycle) Cycle {
	out := *c
	out.Entries = append([]Entry(nil), c.Entries...)
	return out
}
