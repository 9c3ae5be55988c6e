package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/example/tutorhub/services/comments/internal/cache"
	"github.com/example/tutorhub/services/comments/internal/catalog"
	"github.com/example/tutorhub/services/comments/internal/moderation"
	"github.com/example/tutorhub/services/comments/internal/store"
	"github.com/example/tutorhub/services/comments/internal/thread"
)

var (
	tutorT1  = store.Target{Kind: store.TargetTutor, ID: "t1"}
	courseK1 = store.Target{Kind: store.TargetCourse, ID: "k1"}
)

func newTestService() *Service {
	comments := store.NewInMemoryCommentStore()
	resolver := catalog.NewInMemoryResolver()
	resolver.Add(tutorT1)
	resolver.Add(courseK1)
	workflow := moderation.NewWorkflow(moderation.NewInMemoryCycleStore(), comments)
	return New(comments, resolver, workflow, thread.NewBuilder(nil), cache.Noop{}, nil, nil)
}

func TestCreateComment_UnknownTarget(t *testing.T) {
	svc := newTestService()

	_, err := svc.CreateComment(context.Background(), store.Target{Kind: store.TargetTutor, ID: "ghost"}, "u1", nil, "hi")
	if !errors.Is(err, catalog.ErrTargetNotFound) {
		t.Fatalf("expected ErrTargetNotFound, got %v", err)
	}
}

func TestCreateComment_ReplyTargetMismatch(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	root, err := svc.CreateComment(ctx, tutorT1, "u1", nil, "root")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Parent lives on t1; posting the reply against k1 must fail.
	if _, err := svc.CreateComment(ctx, courseK1, "u2", &root.ID, "reply"); !errors.Is(err, store.ErrParentNotFound) {
		t.Fatalf("expected ErrParentNotFound, got %v", err)
	}
}

func TestCreateComment_ReplyToTombstone(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	root, err := svc.CreateComment(ctx, tutorT1, "u1", nil, "root")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := svc.DeleteComment(ctx, root.ID, "u1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := svc.CreateComment(ctx, tutorT1, "u2", &root.ID, "reply"); !errors.Is(err, store.ErrParentNotFound) {
		t.Fatalf("expected ErrParentNotFound, got %v", err)
	}
}

func TestGetThread_RendersMarkdown(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	if _, err := svc.CreateComment(ctx, tutorT1, "u1", nil, "**bold** claim"); err != nil {
		t.Fatalf("create: %v", err)
	}

	nodes, err := svc.GetThread(ctx, tutorT1)
	if err != nil {
		t.Fatalf("get thread: %v", err)
	}
	if len(nodes) != 1 {
		t.Fatalf("expected 1 root, got %d", len(nodes))
	}
	if !strings.Contains(nodes[0].ContentHTML, "<strong>bold</strong>") {
		t.Fatalf("expected rendered markdown, got %q", nodes[0].ContentHTML)
	}
	if nodes[0].Comment.Content != "**bold** claim" {
		t.Fatalf("expected source stored verbatim, got %q", nodes[0].Comment.Content)
	}
}

func TestGetThread_TombstoneHasNoHTML(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	root, err := svc.CreateComment(ctx, tutorT1, "u1", nil, "root")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.CreateComment(ctx, tutorT1, "u2", &root.ID, "reply"); err != nil {
		t.Fatalf("reply: %v", err)
	}
	if err := svc.DeleteComment(ctx, root.ID, "u1"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	nodes, err := svc.GetThread(ctx, tutorT1)
	if err != nil {
		t.Fatalf("get thread: %v", err)
	}
	if len(nodes) != 1 || len(nodes[0].Replies) != 1 {
		t.Fatalf("expected tombstone root with live reply, got %+v", nodes)
	}
	if nodes[0].ContentHTML != "" {
		t.Fatalf("expected empty HTML on tombstone, got %q", nodes[0].ContentHTML)
	}
	if nodes[0].Comment.Content != store.TombstoneContent {
		t.Fatalf("expected tombstone content, got %q", nodes[0].Comment.Content)
	}
}

func TestDeleteComment_OnlyAuthor(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	c, err := svc.CreateComment(ctx, tutorT1, "u1", nil, "mine")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := svc.DeleteComment(ctx, c.ID, "u2"); !errors.Is(err, store.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if err := svc.DeleteComment(ctx, c.ID, "u1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	// Idempotent for anyone once tombstoned.
	if err := svc.DeleteComment(ctx, c.ID, "u2"); err != nil {
		t.Fatalf("repeat delete: %v", err)
	}
}

func TestVote_RetriesConflicts(t *testing.T) {
	comments := &conflictingStore{CommentStore: store.NewInMemoryCommentStore(), failures: 2}
	resolver := catalog.NewInMemoryResolver()
	resolver.Add(tutorT1)
	workflow := moderation.NewWorkflow(moderation.NewInMemoryCycleStore(), comments)
	svc := New(comments, resolver, workflow, thread.NewBuilder(nil), cache.Noop{}, nil, nil)
	ctx := context.Background()

	c, err := svc.CreateComment(ctx, tutorT1, "u1", nil, "contested")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	counts, err := svc.Vote(ctx, c.ID, "u2", 1)
	if err != nil {
		t.Fatalf("vote: %v", err)
	}
	if counts.Likes != 1 {
		t.Fatalf("expected 1 like, got %+v", counts)
	}
}

func TestVote_GivesUpAfterRetries(t *testing.T) {
	comments := &conflictingStore{CommentStore: store.NewInMemoryCommentStore(), failures: 10}
	resolver := catalog.NewInMemoryResolver()
	resolver.Add(tutorT1)
	workflow := moderation.NewWorkflow(moderation.NewInMemoryCycleStore(), comments)
	svc := New(comments, resolver, workflow, thread.NewBuilder(nil), cache.Noop{}, nil, nil)
	ctx := context.Background()

	c, err := svc.CreateComment(ctx, tutorT1, "u1", nil, "contested")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Vote(ctx, c.ID, "u2", 1); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict after retries, got %v", err)
	}
}

func TestGetThread_CacheRoundTrip(t *testing.T) {
	comments := store.NewInMemoryCommentStore()
	resolver := catalog.NewInMemoryResolver()
	resolver.Add(tutorT1)
	workflow := moderation.NewWorkflow(moderation.NewInMemoryCycleStore(), comments)
	mem := &memCache{entries: make(map[string][]byte)}
	svc := New(comments, resolver, workflow, thread.NewBuilder(nil), mem, nil, nil)
	ctx := context.Background()

	c, err := svc.CreateComment(ctx, tutorT1, "u1", nil, "cached")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	first, err := svc.GetThread(ctx, tutorT1)
	if err != nil {
		t.Fatalf("first read: %v", err)
	}
	if mem.sets != 1 {
		t.Fatalf("expected cache fill, sets=%d", mem.sets)
	}

	second, err := svc.GetThread(ctx, tutorT1)
	if err != nil {
		t.Fatalf("second read: %v", err)
	}
	if mem.hits != 1 {
		t.Fatalf("expected cache hit, hits=%d", mem.hits)
	}
	if len(first) != len(second) || second[0].Comment.ID != first[0].Comment.ID {
		t.Fatalf("cached read diverged: %+v vs %+v", first, second)
	}

	// Any write drops the entry.
	if _, err := svc.Vote(ctx, c.ID, "u2", 1); err != nil {
		t.Fatalf("vote: %v", err)
	}
	if _, ok := mem.entries[cache.ThreadKey(tutorT1)]; ok {
		t.Fatal("expected cache invalidated after vote")
	}
}

// TestEngineEndToEnd walks the full lifecycle: post, duplicate rejection,
// reply, vote toggling, reporting, claim and removal.
func TestEngineEndToEnd(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	c1, err := svc.CreateComment(ctx, courseK1, "u1", nil, "great course")
	if err != nil {
		t.Fatalf("post c1: %v", err)
	}

	if _, err := svc.CreateComment(ctx, courseK1, "u1", nil, "second thoughts"); !errors.Is(err, store.ErrDuplicateComment) {
		t.Fatalf("expected duplicate rejection, got %v", err)
	}

	c2, err := svc.CreateComment(ctx, courseK1, "u2", &c1.ID, "agreed")
	if err != nil {
		t.Fatalf("reply c2: %v", err)
	}

	counts, err := svc.Vote(ctx, c1.ID, "u2", 1)
	if err != nil {
		t.Fatalf("like: %v", err)
	}
	if counts.Likes != 1 || counts.Dislikes != 0 {
		t.Fatalf("expected {1 0}, got %+v", counts)
	}
	counts, err = svc.Vote(ctx, c1.ID, "u2", -1)
	if err != nil {
		t.Fatalf("switch vote: %v", err)
	}
	if counts.Likes != 0 || counts.Dislikes != 1 {
		t.Fatalf("expected {0 1}, got %+v", counts)
	}

	if _, err := svc.Report(ctx, c1.ID, "u3", "spam"); err != nil {
		t.Fatalf("report: %v", err)
	}
	if _, err := svc.Report(ctx, c1.ID, "u3", "spam again"); !errors.Is(err, moderation.ErrAlreadyReported) {
		t.Fatalf("expected ErrAlreadyReported, got %v", err)
	}
	cycle, err := svc.Report(ctx, c1.ID, "u4", "abusive")
	if err != nil {
		t.Fatalf("second reporter: %v", err)
	}
	if cycle.ReportCount() != 2 {
		t.Fatalf("expected 2 reports, got %d", cycle.ReportCount())
	}

	queue, err := svc.OpenReports(ctx)
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	if len(queue) != 1 || queue[0].CommentID != c1.ID {
		t.Fatalf("unexpected queue: %+v", queue)
	}

	if _, err := svc.ClaimReport(ctx, c1.ID, "m1"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	cycle, err = svc.ResolveReport(ctx, c1.ID, "m1", moderation.OutcomeRemoved)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cycle.Status != moderation.StatusResolvedRemoved {
		t.Fatalf("expected resolved_removed, got %q", cycle.Status)
	}

	nodes, err := svc.GetThread(ctx, courseK1)
	if err != nil {
		t.Fatalf("thread: %v", err)
	}
	if len(nodes) != 1 {
		t.Fatalf("expected 1 root, got %d", len(nodes))
	}
	root := nodes[0].Comment
	if root.ID != c1.ID || !root.Tombstoned() || root.Content != store.TombstoneContent || root.AuthorID != "" {
		t.Fatalf("expected scrubbed tombstone root, got %+v", root)
	}
	if root.Likes != 0 || root.Dislikes != 0 {
		t.Fatalf("expected votes cleared, got %d/%d", root.Likes, root.Dislikes)
	}
	if len(nodes[0].Replies) != 1 || nodes[0].Replies[0].Comment.ID != c2.ID {
		t.Fatalf("expected reply still reachable, got %+v", nodes[0].Replies)
	}
}

// conflictingStore fails ToggleVote with ErrConflict a fixed number of times.
type conflictingStore struct {
	store.CommentStore
	mu       sync.Mutex
	failures int
}

func (s *conflictingStore) ToggleVote(ctx context.Context, commentID, userID string, sign int) (store.VoteCounts, error) {
	s.mu.Lock()
	remaining := s.failures
	if remaining > 0 {
		s.failures--
	}
	s.mu.Unlock()
	if remaining > 0 {
		return store.VoteCounts{}, store.ErrConflict
	}
	return s.CommentStore.ToggleVote(ctx, commentID, userID, sign)
}

// memCache is an instrumented in-process ThreadCache.
type memCache struct {
	entries map[string][]byte
	hits    int
	sets    int
}

func (m *memCache) Get(_ context.Context, key string) ([]byte, error) {
	payload, ok := m.entries[key]
	if !ok {
		return nil, nil
	}
	m.hits++
	return payload, nil
}

func (m *memCache) Set(_ context.Context, key string, payload []byte, _ time.Duration) {
	m.sets++
	m.entries[key] = append([]byte(nil), payload...)
}

func (m *memCache) Invalidate(_ context.Context, key string) {
	delete(m.entries, key)
}
