// Package thread assembles flat comment rows into the ordered reply forest
// served on read paths. Building is pure: no store access, no mutation of
// the input, safe to run repeatedly over the same snapshot.
package thread

import (
	"sort"

	"go.uber.org/zap"

	"github.com/example/tutorhub/services/comments/internal/store"
)

// Node is a comment with its ordered replies.
type Node struct {
	Comment store.Comment `json:"comment"`
	Replies []Node        `json:"replies"`
}

// Builder turns flat comment sets into forests. Inconsistent references are
// skipped and logged rather than failing the whole read: a partial tree is
// more useful to a reader than no tree.
type Builder struct {
	log *zap.Logger
}

func NewBuilder(log *zap.Logger) *Builder {
	if log == nil {
		log = zap.NewNop()
	}
	return &Builder{log: log}
}

// Build returns the forest of top-level comments, newest first, with replies
// in conversation (oldest first) order. Tombstoned comments stay in place so
// their descendants remain reachable.
func (b *Builder) Build(comments []store.Comment) []Node {
	byID := make(map[string]store.Comment, len(comments))
	for _, c := range comments {
		byID[c.ID] = c
	}

	var roots []store.Comment
	for _, c := range comments {
		if c.ParentID == nil {
			roots = append(roots, c)
		}
	}
	sort.SliceStable(roots, func(i, j int) bool {
		if !roots[i].CreatedAt.Equal(roots[j].CreatedAt) {
			return roots[i].CreatedAt.After(roots[j].CreatedAt)
		}
		return roots[i].ID > roots[j].ID
	})

	forest := make([]Node, 0, len(roots))
	for _, r := range roots {
		forest = append(forest, b.attach(r, byID))
	}
	return forest
}

func (b *Builder) attach(c store.Comment, byID map[string]store.Comment) Node {
	node := Node{Comment: c, Replies: []Node{}}
	for _, childID := range c.ChildIDs {
		child, ok := byID[childID]
		if !ok {
			b.log.Warn("thread: dangling child reference",
				zap.String("comment_id", c.ID), zap.String("child_id", childID))
			continue
		}
		if child.ParentID == nil || *child.ParentID != c.ID {
			b.log.Warn("thread: child parent back-reference mismatch",
				zap.String("comment_id", c.ID), zap.String("child_id", childID))
			continue
		}
		node.Replies = append(node.Replies, b.attach(child, byID))
	}
	// Child ids are already in creation order; keep conversation order stable
	// even if the snapshot was assembled out of order.
	sort.SliceStable(node.Replies, func(i, j int) bool {
		return node.Replies[i].Comment.CreatedAt.Before(node.Replies[j].Comment.CreatedAt)
	})
	return node
}
