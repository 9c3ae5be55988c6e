// Package service is the application façade for the comment engine. It wires
// target resolution, persistence, thread assembly, moderation, caching and
// event publishing behind one API the transport layers call into.
package service

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"

	"github.com/example/tutorhub/internal/platform/events"
	"github.com/example/tutorhub/services/comments/internal/cache"
	"github.com/example/tutorhub/services/comments/internal/catalog"
	"github.com/example/tutorhub/services/comments/internal/content"
	"github.com/example/tutorhub/services/comments/internal/moderation"
	"github.com/example/tutorhub/services/comments/internal/store"
	"github.com/example/tutorhub/services/comments/internal/thread"
)

// voteRetries bounds retries of transient storage conflicts.
const voteRetries = 3

// ThreadNode is a comment with rendered HTML and its ordered replies.
type ThreadNode struct {
	Comment     store.Comment `json:"comment"`
	ContentHTML string        `json:"content_html"`
	Replies     []ThreadNode  `json:"replies"`
}

// Service coordinates every comment engine operation.
type Service struct {
	comments store.CommentStore
	resolver catalog.Resolver
	workflow *moderation.Workflow
	builder  *thread.Builder
	threads  cache.ThreadCache
	events   *events.Publisher
	log      *zap.Logger
}

func New(
	comments store.CommentStore,
	resolver catalog.Resolver,
	workflow *moderation.Workflow,
	builder *thread.Builder,
	threads cache.ThreadCache,
	publisher *events.Publisher,
	log *zap.Logger,
) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	if threads == nil {
		threads = cache.Noop{}
	}
	return &Service{
		comments: comments,
		resolver: resolver,
		workflow: workflow,
		builder:  builder,
		threads:  threads,
		events:   publisher,
		log:      log,
	}
}

// CreateComment posts a top-level comment or a reply. Replies must point at a
// live parent on the same target as the request.
func (s *Service) CreateComment(ctx context.Context, target store.Target, authorID string, parentID *string, text string) (store.Comment, error) {
	if err := s.resolver.Resolve(ctx, target); err != nil {
		return store.Comment{}, err
	}
	if parentID != nil {
		parent, err := s.comments.Get(ctx, *parentID)
		if errors.Is(err, store.ErrNotFound) {
			return store.Comment{}, store.ErrParentNotFound
		}
		if err != nil {
			return store.Comment{}, err
		}
		if parent.Tombstoned() || parent.Target != target {
			// A reply cannot hang off a deleted comment or graft a thread
			// onto a different target.
			return store.Comment{}, store.ErrParentNotFound
		}
	}

	c, err := s.comments.Create(ctx, store.Comment{
		Target:   target,
		AuthorID: authorID,
		ParentID: parentID,
		Content:  text,
	})
	if err != nil {
		return store.Comment{}, err
	}

	s.threads.Invalidate(ctx, cache.ThreadKey(c.Target))
	s.events.Publish(events.SubjectCommentCreated, "comment_created", authorID, c.ID, map[string]any{
		"target_kind": string(c.Target.Kind),
		"target_id":   c.Target.ID,
		"is_reply":    c.ParentID != nil,
	})
	return c, nil
}

// GetComment returns a single comment, tombstoned or not.
func (s *Service) GetComment(ctx context.Context, commentID string) (store.Comment, error) {
	return s.comments.Get(ctx, commentID)
}

// GetThread returns the full reply forest for a target, rendered for display.
// Reads go through the thread cache; any write to the target invalidates it.
func (s *Service) GetThread(ctx context.Context, target store.Target) ([]ThreadNode, error) {
	if err := s.resolver.Resolve(ctx, target); err != nil {
		return nil, err
	}

	key := cache.ThreadKey(target)
	if payload, _ := s.threads.Get(ctx, key); payload != nil {
		var nodes []ThreadNode
		if err := json.Unmarshal(payload, &nodes); err == nil {
			return nodes, nil
		}
		s.threads.Invalidate(ctx, key)
	}

	comments, err := s.comments.GetByTarget(ctx, target)
	if err != nil {
		return nil, err
	}
	nodes := render(s.builder.Build(comments))

	if payload, err := json.Marshal(nodes); err == nil {
		s.threads.Set(ctx, key, payload, cache.DefaultTTL)
	}
	return nodes, nil
}

// EditComment replaces a comment's text. Author-only.
func (s *Service) EditComment(ctx context.Context, commentID, authorID, text string) (store.Comment, error) {
	c, err := s.comments.EditContent(ctx, commentID, authorID, text)
	if err != nil {
		return store.Comment{}, err
	}

	s.threads.Invalidate(ctx, cache.ThreadKey(c.Target))
	s.events.Publish(events.SubjectCommentEdited, "comment_edited", authorID, c.ID, nil)
	return c, nil
}

// DeleteComment tombstones the author's own comment. Deleting an already
// tombstoned comment is a no-op success.
func (s *Service) DeleteComment(ctx context.Context, commentID, authorID string) error {
	c, err := s.comments.Get(ctx, commentID)
	if err != nil {
		return err
	}
	if c.Tombstoned() {
		return nil
	}
	if c.AuthorID != authorID {
		return store.ErrForbidden
	}
	if err := s.comments.Tombstone(ctx, commentID); err != nil {
		return err
	}

	s.threads.Invalidate(ctx, cache.ThreadKey(c.Target))
	s.events.Publish(events.SubjectCommentDeleted, "comment_deleted", authorID, commentID, nil)
	return nil
}

// Vote toggles the caller's vote slot on a comment. Transient storage
// conflicts are retried a bounded number of times.
func (s *Service) Vote(ctx context.Context, commentID, userID string, sign int) (store.VoteCounts, error) {
	c, err := s.comments.Get(ctx, commentID)
	if err != nil {
		return store.VoteCounts{}, err
	}

	var counts store.VoteCounts
	for attempt := 0; ; attempt++ {
		counts, err = s.comments.ToggleVote(ctx, commentID, userID, sign)
		if !errors.Is(err, store.ErrConflict) {
			break
		}
		if attempt+1 >= voteRetries {
			break
		}
		s.log.Warn("vote conflict, retrying",
			zap.String("comment_id", commentID), zap.Int("attempt", attempt+1))
	}
	if err != nil {
		return store.VoteCounts{}, err
	}

	s.threads.Invalidate(ctx, cache.ThreadKey(c.Target))
	s.events.Publish(events.SubjectCommentVoted, "comment_voted", userID, commentID, map[string]any{
		"sign":     sign,
		"likes":    counts.Likes,
		"dislikes": counts.Dislikes,
	})
	return counts, nil
}

// Report files a report against a live comment.
func (s *Service) Report(ctx context.Context, commentID, reporterID, reason string) (moderation.Cycle, error) {
	cycle, err := s.workflow.Report(ctx, commentID, reporterID, reason)
	if err != nil {
		return moderation.Cycle{}, err
	}
	s.events.Publish(events.SubjectCommentReported, "comment_reported", reporterID, commentID, map[string]any{
		"report_count": cycle.ReportCount(),
	})
	return cycle, nil
}

// ClaimReport gives the moderator exclusive ownership of the open cycle.
func (s *Service) ClaimReport(ctx context.Context, commentID, moderatorID string) (moderation.Cycle, error) {
	cycle, err := s.workflow.Claim(ctx, commentID, moderatorID)
	if err != nil {
		return moderation.Cycle{}, err
	}
	s.events.Publish(events.SubjectReportClaimed, "report_claimed", moderatorID, commentID, nil)
	return cycle, nil
}

// ResolveReport closes the claimed cycle. A removed outcome tombstones the
// comment and drops the thread from the cache.
func (s *Service) ResolveReport(ctx context.Context, commentID, moderatorID string, outcome moderation.Outcome) (moderation.Cycle, error) {
	cycle, err := s.workflow.Resolve(ctx, commentID, moderatorID, outcome)
	if err != nil {
		return moderation.Cycle{}, err
	}

	if outcome == moderation.OutcomeRemoved {
		if c, err := s.comments.Get(ctx, commentID); err == nil {
			s.threads.Invalidate(ctx, cache.ThreadKey(c.Target))
		}
	}
	s.events.Publish(events.SubjectReportResolved, "report_resolved", moderatorID, commentID, map[string]any{
		"outcome": string(outcome),
	})
	return cycle, nil
}

// OpenReports lists the moderation queue, oldest cycle first.
func (s *Service) OpenReports(ctx context.Context) ([]moderation.Cycle, error) {
	return s.workflow.OpenReports(ctx)
}

func render(nodes []thread.Node) []ThreadNode {
	out := make([]ThreadNode, 0, len(nodes))
	for _, n := range nodes {
		rendered := ThreadNode{
			Comment: n.Comment,
			Replies: render(n.Replies),
		}
		if !n.Comment.Tombstoned() {
			rendered.ContentHTML = content.RenderHTML(n.Comment.Content)
		}
		out = append(out, rendered)
	}
	return out
}
