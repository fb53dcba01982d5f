package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"nostrack/internal/config"
	"nostrack/internal/db"
	"nostrack/internal/domain"
	"nostrack/internal/engine"
	"nostrack/internal/migrate"
	"nostrack/internal/repo"
)

type fakeSender struct {
	mu    sync.Mutex
	calls int
	fail  error
}

func (f *fakeSender) Send(ctx context.Context, url string, ev nostr.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.fail
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type testEnv struct {
	Engine engine.Engine
	Sender *fakeSender
	Ctx    context.Context
}

// newTestEnv builds an engine on a throwaway database with a stepping
// clock and a fake relay sender, plus one seeded project.
func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default(), nil)
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	step := 0
	eng.Now = func() time.Time {
		step++
		return base.Add(time.Duration(step) * time.Second)
	}
	sender := &fakeSender{}
	eng.Publisher.Sender = sender
	ctx := context.Background()
	if _, err := eng.CreateProject(ctx, engine.ProjectCreateOptions{ID: "proj-1", Name: "Project One"}, "tester"); err != nil {
		t.Fatalf("create project: %v", err)
	}
	return testEnv{Engine: eng, Sender: sender, Ctx: ctx}
}

func mustTask(t *testing.T, env testEnv) domain.Task {
	t.Helper()
	task, err := env.Engine.CreateTask(env.Ctx, "proj-1", engine.TaskSubmission{
		Title: "Report",
		Type:  domain.TypeBug,
	}, nil, "tester")
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	return task
}

func signedNote(t *testing.T, content string) (*nostr.Event, string) {
	t.Helper()
	sk := nostr.GeneratePrivateKey()
	pk, err := nostr.GetPublicKey(sk)
	if err != nil {
		t.Fatalf("derive pubkey: %v", err)
	}
	ev := nostr.Event{
		Kind:      nostr.KindTextNote,
		CreatedAt: nostr.Timestamp(time.Now().Unix()),
		Content:   content,
	}
	if err := ev.Sign(sk); err != nil {
		t.Fatalf("sign: %v", err)
	}
	return &ev, pk
}

func TestAnonymousSubmissionDefaults(t *testing.T) {
	env := newTestEnv(t)
	task := mustTask(t, env)
	if task.Status != domain.StatusOpen {
		t.Fatalf("status = %s, want open", task.Status)
	}
	if task.Priority || task.Ignored {
		t.Fatalf("new task must have both flags clear")
	}
	if task.AuthorPubkey != nil {
		t.Fatalf("anonymous submission must not carry an author")
	}
	if env.Sender.count() != 0 {
		t.Fatalf("unsigned submission must not publish")
	}
}

func TestSignedSubmissionAttributesAndPublishes(t *testing.T) {
	env := newTestEnv(t)
	ev, pk := signedNote(t, "found a bug")
	task, err := env.Engine.CreateTask(env.Ctx, "proj-1", engine.TaskSubmission{
		Title: "Signed report",
	}, ev, "tester")
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if task.AuthorPubkey == nil || *task.AuthorPubkey != pk {
		t.Fatalf("author = %v, want %s", task.AuthorPubkey, pk)
	}
	if task.NostrEventID == nil || *task.NostrEventID != ev.GetID() {
		t.Fatalf("nostr event id not stored")
	}
	if env.Sender.count() != len(config.DefaultRelays) {
		t.Fatalf("sender calls = %d, want %d", env.Sender.count(), len(config.DefaultRelays))
	}
}

func TestSignedSubmissionSurvivesRelayOutage(t *testing.T) {
	env := newTestEnv(t)
	env.Sender.fail = errors.New("relay down")
	ev, _ := signedNote(t, "report during outage")
	task, err := env.Engine.CreateTask(env.Ctx, "proj-1", engine.TaskSubmission{
		Title: "Still created",
	}, ev, "tester")
	if err != nil {
		t.Fatalf("relay failure must not fail creation: %v", err)
	}
	// The event id is recorded even when every relay refused it.
	if task.NostrEventID == nil {
		t.Fatalf("event id missing after failed fan-out")
	}
}

func TestSubmissionRejectsTamperedEvent(t *testing.T) {
	env := newTestEnv(t)
	ev, _ := signedNote(t, "original")
	ev.Content = "tampered"
	_, err := env.Engine.CreateTask(env.Ctx, "proj-1", engine.TaskSubmission{Title: "x"}, ev, "tester")
	if !errors.Is(err, engine.ErrInvalidEvent) {
		t.Fatalf("err = %v, want ErrInvalidEvent", err)
	}
	if env.Sender.count() != 0 {
		t.Fatalf("invalid event must never publish")
	}
}

func TestFlagExclusivity(t *testing.T) {
	env := newTestEnv(t)
	task := mustTask(t, env)

	task, err := env.Engine.TogglePriority(env.Ctx, task.ID, "admin")
	if err != nil || !task.Priority || task.Ignored {
		t.Fatalf("after priority on: %+v err=%v", task, err)
	}
	task, err = env.Engine.ToggleIgnored(env.Ctx, task.ID, "admin")
	if err != nil || task.Priority || !task.Ignored {
		t.Fatalf("ignored on must clear priority: %+v err=%v", task, err)
	}
	task, err = env.Engine.TogglePriority(env.Ctx, task.ID, "admin")
	if err != nil || !task.Priority || task.Ignored {
		t.Fatalf("priority on must clear ignored: %+v err=%v", task, err)
	}
	// Clearing a flag leaves the other untouched.
	task, err = env.Engine.TogglePriority(env.Ctx, task.ID, "admin")
	if err != nil || task.Priority || task.Ignored {
		t.Fatalf("both clear expected: %+v err=%v", task, err)
	}
	if task.Priority && task.Ignored {
		t.Fatalf("flags must never both be set")
	}
}

func TestToggleOffLeavesOtherFlagAlone(t *testing.T) {
	env := newTestEnv(t)
	task := mustTask(t, env)
	task, _ = env.Engine.ToggleIgnored(env.Ctx, task.ID, "admin")
	if !task.Ignored {
		t.Fatalf("expected ignored set")
	}
	// Toggling ignored off is not a priority grant.
	task, _ = env.Engine.ToggleIgnored(env.Ctx, task.ID, "admin")
	if task.Ignored || task.Priority {
		t.Fatalf("toggle off must not touch priority: %+v", task)
	}
}

func TestMarkCompletedClearsPriorityKeepsIgnored(t *testing.T) {
	env := newTestEnv(t)
	task := mustTask(t, env)
	task, _ = env.Engine.TogglePriority(env.Ctx, task.ID, "admin")
	task, err := env.Engine.MarkCompleted(env.Ctx, task.ID, "admin")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if task.Status != domain.StatusCompleted || task.Priority {
		t.Fatalf("completed task must drop priority: %+v", task)
	}

	other := mustTask(t, env)
	other, _ = env.Engine.ToggleIgnored(env.Ctx, other.ID, "admin")
	other, err = env.Engine.MarkCompleted(env.Ctx, other.ID, "admin")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if !other.Ignored {
		t.Fatalf("completion must leave ignored as-is")
	}
}

func TestStatusTransitionsAreUnrestricted(t *testing.T) {
	env := newTestEnv(t)
	task := mustTask(t, env)
	seq := []string{
		domain.StatusCompleted,
		domain.StatusOpen,
		domain.StatusClosed,
		domain.StatusInProgress,
		domain.StatusInProgress, // self-transition
	}
	for _, status := range seq {
		var err error
		task, err = env.Engine.UpdateTaskStatus(env.Ctx, task.ID, status, nil, "admin")
		if err != nil {
			t.Fatalf("to %s: %v", status, err)
		}
		if task.Status != status {
			t.Fatalf("status = %s, want %s", task.Status, status)
		}
	}
	if _, err := env.Engine.UpdateTaskStatus(env.Ctx, task.ID, "bogus", nil, "admin"); err == nil {
		t.Fatalf("unknown status must be rejected")
	}
}

func TestAdminNotesAbsentVsEmpty(t *testing.T) {
	env := newTestEnv(t)
	task := mustTask(t, env)
	notes := "needs investigation"
	task, err := env.Engine.UpdateTaskStatus(env.Ctx, task.ID, domain.StatusInProgress, &notes, "admin")
	if err != nil || task.AdminNotes == nil || *task.AdminNotes != notes {
		t.Fatalf("set notes: %+v err=%v", task.AdminNotes, err)
	}
	// nil leaves prior notes untouched.
	task, err = env.Engine.UpdateTaskStatus(env.Ctx, task.ID, domain.StatusOpen, nil, "admin")
	if err != nil || task.AdminNotes == nil || *task.AdminNotes != notes {
		t.Fatalf("nil notes must not change them: %+v err=%v", task.AdminNotes, err)
	}
	// explicit empty string clears.
	empty := ""
	task, err = env.Engine.UpdateTaskStatus(env.Ctx, task.ID, domain.StatusOpen, &empty, "admin")
	if err != nil {
		t.Fatalf("clear notes: %v", err)
	}
	stored, err := env.Engine.Repo.GetTask(env.Ctx, task.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if stored.AdminNotes != nil && *stored.AdminNotes != "" {
		t.Fatalf("notes should be cleared, got %q", *stored.AdminNotes)
	}
}

func TestCommentBumpsTaskActivity(t *testing.T) {
	env := newTestEnv(t)
	task := mustTask(t, env)
	before := task.UpdatedAt
	c, err := env.Engine.CreateComment(env.Ctx, task.ID, "any progress?", nil, false, "public")
	if err != nil {
		t.Fatalf("comment: %v", err)
	}
	if c.IsAdmin {
		t.Fatalf("public comment must not be admin")
	}
	after, err := env.Engine.Repo.GetTask(env.Ctx, task.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if after.UpdatedAt <= before {
		t.Fatalf("comment must refresh task activity: %s -> %s", before, after.UpdatedAt)
	}
}

func TestReplyRequiresAssociatedEvent(t *testing.T) {
	env := newTestEnv(t)
	task := mustTask(t, env) // anonymous, no event id
	reply, _ := signedNote(t, "thanks, fixed")
	_, err := env.Engine.ReplyNostr(env.Ctx, task.ID, *reply, "admin")
	if !errors.Is(err, engine.ErrNoAssociatedEvent) {
		t.Fatalf("err = %v, want ErrNoAssociatedEvent", err)
	}
	if env.Sender.count() != 0 {
		t.Fatalf("publisher must not be invoked without a reply target")
	}
}

func TestReplyPublishesAndRecordsAdminComment(t *testing.T) {
	env := newTestEnv(t)
	original, _ := signedNote(t, "bug report")
	task, err := env.Engine.CreateTask(env.Ctx, "proj-1", engine.TaskSubmission{Title: "signed"}, original, "tester")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	callsBefore := env.Sender.count()

	reply, replyPK := signedNote(t, "on it")
	eventID, err := env.Engine.ReplyNostr(env.Ctx, task.ID, *reply, "admin")
	if err != nil {
		t.Fatalf("reply: %v", err)
	}
	if eventID != reply.GetID() {
		t.Fatalf("event id = %s, want %s", eventID, reply.GetID())
	}
	if env.Sender.count() <= callsBefore {
		t.Fatalf("reply must fan out")
	}
	comments, err := env.Engine.Repo.ListComments(env.Ctx, task.ID)
	if err != nil {
		t.Fatalf("list comments: %v", err)
	}
	if len(comments) != 1 {
		t.Fatalf("comments = %d, want 1", len(comments))
	}
	c := comments[0]
	if !c.IsAdmin || c.Content != "on it" {
		t.Fatalf("reply comment wrong: %+v", c)
	}
	if c.AuthorPubkey == nil || *c.AuthorPubkey != replyPK {
		t.Fatalf("reply comment must carry the signer")
	}
}

func TestReplyRejectsUnverifiableEvent(t *testing.T) {
	env := newTestEnv(t)
	original, _ := signedNote(t, "bug report")
	task, err := env.Engine.CreateTask(env.Ctx, "proj-1", engine.TaskSubmission{Title: "signed"}, original, "tester")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	reply, _ := signedNote(t, "legit")
	reply.Content = "altered"
	if _, err := env.Engine.ReplyNostr(env.Ctx, task.ID, *reply, "admin"); !errors.Is(err, engine.ErrInvalidEvent) {
		t.Fatalf("err = %v, want ErrInvalidEvent", err)
	}
}

func TestRemoveTaskCascadesComments(t *testing.T) {
	env := newTestEnv(t)
	task := mustTask(t, env)
	if _, err := env.Engine.CreateComment(env.Ctx, task.ID, "hello", nil, false, "public"); err != nil {
		t.Fatalf("comment: %v", err)
	}
	if err := env.Engine.RemoveTask(env.Ctx, task.ID, "admin"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := env.Engine.Repo.GetTask(env.Ctx, task.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("task should be gone, err = %v", err)
	}
	n, err := env.Engine.Repo.CountComments(env.Ctx, task.ID)
	if err != nil {
		t.Fatalf("count comments: %v", err)
	}
	if n != 0 {
		t.Fatalf("comments must cascade, %d left", n)
	}
}

func TestTaskStats(t *testing.T) {
	env := newTestEnv(t)
	a := mustTask(t, env)
	mustTask(t, env)
	if _, err := env.Engine.MarkCompleted(env.Ctx, a.ID, "admin"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	stats, err := env.Engine.TaskStats(env.Ctx, "proj-1")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Open != 1 || stats.Completed != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	if _, err := env.Engine.TaskStats(env.Ctx, "missing"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("stats for unknown project: %v", err)
	}
}

func TestRelayOverrideRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	if got := env.Engine.ResolveRelays(env.Ctx); len(got) != len(config.DefaultRelays) {
		t.Fatalf("default relays expected, got %v", got)
	}
	custom := []string{"wss://relay.example.com"}
	if err := env.Engine.SetRelays(env.Ctx, custom, "admin"); err != nil {
		t.Fatalf("set relays: %v", err)
	}
	got := env.Engine.ResolveRelays(env.Ctx)
	if len(got) != 1 || got[0] != custom[0] {
		t.Fatalf("override not applied: %v", got)
	}
	if err := env.Engine.SetRelays(env.Ctx, []string{"https://not-a-relay"}, "admin"); err == nil {
		t.Fatalf("non-websocket relay must be rejected")
	}
	// Empty set disables publishing entirely.
	if err := env.Engine.SetRelays(env.Ctx, []string{}, "admin"); err != nil {
		t.Fatalf("empty set: %v", err)
	}
	if got := env.Engine.ResolveRelays(env.Ctx); len(got) != 0 {
		t.Fatalf("empty override should win over defaults: %v", got)
	}
}

func TestProjectLifecycle(t *testing.T) {
	env := newTestEnv(t)
	name := "Renamed"
	p, err := env.Engine.UpdateProject(env.Ctx, "proj-1", engine.ProjectUpdateOptions{Name: &name}, "admin")
	if err != nil || p.Name != "Renamed" {
		t.Fatalf("update: %+v err=%v", p, err)
	}
	task := mustTask(t, env)
	if err := env.Engine.DeleteProject(env.Ctx, "proj-1", "admin"); err != nil {
		t.Fatalf("delete project: %v", err)
	}
	if _, err := env.Engine.Repo.GetTask(env.Ctx, task.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("tasks must cascade with the project, err = %v", err)
	}
}

func TestAuditLogRecordsWorkflow(t *testing.T) {
	env := newTestEnv(t)
	task := mustTask(t, env)
	if _, err := env.Engine.MarkCompleted(env.Ctx, task.ID, "admin-pk"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	events, err := env.Engine.Repo.ListEvents(env.Ctx, "proj-1", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) < 3 {
		t.Fatalf("expected project, task and completion events, got %d", len(events))
	}
	if events[0].Type != "task.completed" || events[0].Actor != "admin-pk" {
		t.Fatalf("newest event = %+v", events[0])
	}
}
