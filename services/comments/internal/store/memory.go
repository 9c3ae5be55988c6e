package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryCommentStore is a development-only in-memory implementation.
// The single mutex makes every operation atomic, which is exactly the
// contract the Postgres implementation provides via constraints and
// transactions.
type InMemoryCommentStore struct {
	mu       sync.RWMutex
	comments map[string]Comment        // id -> comment
	order    []string                  // creation order of all ids
	votes    map[string]map[string]int // commentID -> userID -> sign
}

func NewInMemoryCommentStore() *InMemoryCommentStore {
	return &InMemoryCommentStore{
		comments: make(map[string]Comment),
		votes:    make(map[string]map[string]int),
	}
}

func (s *InMemoryCommentStore) Create(_ context.Context, c Comment) (Comment, error) {
	content, err := ValidateContent(c.Content)
	if err != nil {
		return Comment{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if c.ParentID == nil {
		// Atomic check-and-insert under the store lock: at most one live
		// top-level comment per (author, target). Tombstoned rows do not count.
		for _, existing := range s.comments {
			if existing.ParentID == nil && !existing.Tombstoned() &&
				existing.AuthorID == c.AuthorID && existing.Target == c.Target {
				return Comment{}, ErrDuplicateComment
			}
		}
	} else {
		parent, ok := s.comments[*c.ParentID]
		if !ok || parent.Tombstoned() {
			return Comment{}, ErrParentNotFound
		}
		// Replies inherit the root target from their parent.
		c.Target = parent.Target
	}

	c.ID = uuid.NewString()
	c.Content = content
	c.ChildIDs = nil
	c.CreatedAt = time.Now().UTC()
	c.EditedAt = nil
	c.DeletedAt = nil

	if c.ParentID != nil {
		parent := s.comments[*c.ParentID]
		parent.ChildIDs = append(parent.ChildIDs, c.ID)
		s.comments[*c.ParentID] = parent
	}
	s.comments[c.ID] = c
	s.order = append(s.order, c.ID)
	return s.view(c), nil
}

func (s *InMemoryCommentStore) Get(_ context.Context, id string) (Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.comments[id]
	if !ok {
		return Comment{}, ErrNotFound
	}
	return s.view(c), nil
}

func (s *InMemoryCommentStore) GetByTarget(_ context.Context, t Target) ([]Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Comment, 0)
	for _, id := range s.order {
		c := s.comments[id]
		if c.Target == t {
			out = append(out, s.view(c))
		}
	}
	return out, nil
}

func (s *InMemoryCommentStore) EditContent(_ context.Context, id, authorID, content string) (Comment, error) {
	clean, err := ValidateContent(content)
	if err != nil {
		return Comment{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.comments[id]
	if !ok || c.Tombstoned() {
		return Comment{}, ErrNotFound
	}
	if c.AuthorID != authorID {
		return Comment{}, ErrForbidden
	}
	c.Content = clean
	now := time.Now().UTC()
	c.EditedAt = &now
	s.comments[id] = c
	return s.view(c), nil
}

func (s *InMemoryCommentStore) Tombstone(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.comments[id]
	if !ok {
		return ErrNotFound
	}
	if c.Tombstoned() {
		// Idempotent: repeated tombstoning is a no-op success, but the vote
		// sweep still runs so the state self-heals.
		delete(s.votes, id)
		return nil
	}
	c.Content = TombstoneContent
	c.AuthorID = ""
	now := time.Now().UTC()
	c.DeletedAt = &now
	s.comments[id] = c
	delete(s.votes, id)
	return nil
}

func (s *InMemoryCommentStore) ToggleVote(_ context.Context, commentID, userID string, sign int) (VoteCounts, error) {
	if sign != 1 && sign != -1 {
		return VoteCounts{}, ErrInvalidVote
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.comments[commentID]
	if !ok || c.Tombstoned() {
		return VoteCounts{}, ErrNotFound
	}

	slots := s.votes[commentID]
	if slots == nil {
		slots = make(map[string]int)
		s.votes[commentID] = slots
	}

	switch slots[userID] {
	case sign:
		// Same sign toggles the vote off; the slot is removed, never zeroed.
		delete(slots, userID)
	default:
		slots[userID] = sign
	}
	return s.countVotes(commentID), nil
}

// view returns a defensive copy with derived vote counts.
func (s *InMemoryCommentStore) view(c Comment) Comment {
	if c.ChildIDs != nil {
		c.ChildIDs = append([]string(nil), c.ChildIDs...)
	}
	counts := s.countVotes(c.ID)
	c.Likes = counts.Likes
	c.Dislikes = counts.Dislikes
	return c
}

func (s *InMemoryCommentStore) countVotes(commentID string) VoteCounts {
	var counts VoteCounts
	for _, sign := range s.votes[commentID] {
		if sign > 0 {
			counts.Likes++
		} else {
			counts.Dislikes++
		}
	}
	return counts
}
