package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/nbd-wtf/go-nostr"

	"nostrack/internal/auth"
	"nostrack/internal/config"
	"nostrack/internal/domain"
	"nostrack/internal/events"
	"nostrack/internal/relay"
	"nostrack/internal/repo"
)

// ErrInvalidEvent means a client-supplied signed event failed verification.
var ErrInvalidEvent = errors.New("invalid event signature")

// ErrNoAssociatedEvent means a reply was requested for a task that was
// never published, so there is no event to reply to.
var ErrNoAssociatedEvent = errors.New("task has no associated nostr event")

type Engine struct {
	DB        *sql.DB
	Repo      repo.Repo
	Events    events.Writer
	Config    config.Config
	Verifier  auth.Verifier
	Publisher *relay.Publisher
	Now       func() time.Time
	Logger    *log.Logger
}

func New(db *sql.DB, cfg config.Config, logger *log.Logger) Engine {
	return Engine{
		DB:        db,
		Repo:      repo.Repo{DB: db},
		Events:    events.Writer{DB: db},
		Config:    cfg,
		Verifier:  auth.SchnorrVerifier{},
		Publisher: relay.New(cfg.PublishTimeout(), logger),
		Now:       time.Now,
		Logger:    logger,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowStr() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) logf(format string, args ...any) {
	if e.Logger != nil {
		e.Logger.Printf(format, args...)
	}
}

// --- projects ---

type ProjectCreateOptions struct {
	ID          string
	Name        string
	Description string
	URL         string
	Active      *bool
}

func (e Engine) CreateProject(ctx context.Context, opts ProjectCreateOptions, actor string) (domain.Project, error) {
	if opts.ID == "" {
		return domain.Project{}, errors.New("id is required")
	}
	if opts.Name == "" {
		return domain.Project{}, errors.New("name is required")
	}
	now := e.nowStr()
	p := domain.Project{
		ID:          opts.ID,
		Name:        opts.Name,
		Description: opts.Description,
		URL:         opts.URL,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if opts.Active != nil {
		p.Active = *opts.Active
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertProject(ctx, tx, p); err != nil {
		return domain.Project{}, fmt.Errorf("insert project: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.TypeProjectCreated, p.ID, "project", p.ID, actor, events.EventPayload{"name": p.Name}); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

type ProjectUpdateOptions struct {
	Name        *string
	Description *string
	URL         *string
	Active      *bool
}

func (e Engine) UpdateProject(ctx context.Context, id string, opts ProjectUpdateOptions, actor string) (domain.Project, error) {
	if err := e.Repo.UpdateProject(ctx, id, opts.Name, opts.Description, opts.URL, opts.Active, e.nowStr()); err != nil {
		return domain.Project{}, err
	}
	p, err := e.Repo.GetProject(ctx, id)
	if err != nil {
		return domain.Project{}, err
	}
	e.appendEvent(ctx, events.TypeProjectUpdated, p.ID, "project", p.ID, actor, events.EventPayload{"name": p.Name})
	return p, nil
}

func (e Engine) DeleteProject(ctx context.Context, id, actor string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteProject(ctx, tx, id); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, events.TypeProjectDeleted, id, "project", id, actor, nil); err != nil {
		return err
	}
	return tx.Commit()
}

// --- tasks ---

// TaskSubmission is the client-supplied part of a new task. The author
// identity is never taken from here; it comes only from a verified signed
// event.
type TaskSubmission struct {
	Type        string
	Title       string
	Description string
}

func (s TaskSubmission) validate() error {
	if s.Title == "" {
		return errors.New("title is required")
	}
	if len(s.Title) > 200 {
		return errors.New("title too long (max 200)")
	}
	if len(s.Description) > 2000 {
		return errors.New("description too long (max 2000)")
	}
	if s.Type != "" && !domain.ValidType(s.Type) {
		return fmt.Errorf("invalid task type %q", s.Type)
	}
	return nil
}

// CreateTask creates a task for a project. When signedEvent is present it
// is verified, its pubkey becomes the task's author, and it is published
// to the configured relays best-effort; the task creation itself never
// waits on or fails with relay availability.
func (e Engine) CreateTask(ctx context.Context, projectID string, sub TaskSubmission, signedEvent *nostr.Event, actor string) (domain.Task, error) {
	if err := sub.validate(); err != nil {
		return domain.Task{}, err
	}
	if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
		return domain.Task{}, err
	}
	var authorPubkey *string
	if signedEvent != nil {
		if !e.Verifier.Verify(*signedEvent) {
			return domain.Task{}, ErrInvalidEvent
		}
		pk := signedEvent.PubKey
		authorPubkey = &pk
	}
	now := e.nowStr()
	t := domain.Task{
		ID:           uuid.New().String(),
		ProjectID:    projectID,
		Type:         sub.Type,
		Title:        sub.Title,
		Description:  sub.Description,
		Status:       domain.StatusOpen,
		AuthorPubkey: authorPubkey,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if t.Type == "" {
		t.Type = domain.TypeTask
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
		return domain.Task{}, fmt.Errorf("insert task: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.TypeTaskCreated, projectID, "task", t.ID, actor, events.EventPayload{
		"title": t.Title,
		"type":  t.Type,
	}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}

	if signedEvent != nil {
		if eventID := e.publish(ctx, *signedEvent, actor); eventID != "" {
			if err := e.Repo.SetTaskNostrEventID(ctx, t.ID, eventID); err != nil {
				e.logf("engine: store task event id: %v", err)
			} else {
				t.NostrEventID = &eventID
			}
		}
	}
	return t, nil
}

// UpdateTaskStatus moves a task to any status. adminNotes semantics: nil
// leaves prior notes untouched, a pointer to the empty string clears them.
func (e Engine) UpdateTaskStatus(ctx context.Context, id, status string, adminNotes *string, actor string) (domain.Task, error) {
	if !domain.ValidStatus(status) {
		return domain.Task{}, fmt.Errorf("invalid status %q", status)
	}
	t, err := e.Repo.GetTask(ctx, id)
	if err != nil {
		return domain.Task{}, err
	}
	from := t.Status
	t.Status = status
	if adminNotes != nil {
		t.AdminNotes = adminNotes
	}
	t.UpdatedAt = e.nowStr()
	if err := e.saveTask(ctx, t, events.TypeTaskStatusChanged, actor, events.EventPayload{
		"from": from,
		"to":   status,
	}); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// TogglePriority flips the priority flag. Setting it true clears ignored;
// clearing it never touches ignored.
func (e Engine) TogglePriority(ctx context.Context, id, actor string) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, id)
	if err != nil {
		return domain.Task{}, err
	}
	t.Priority = !t.Priority
	if t.Priority {
		t.Ignored = false
	}
	t.UpdatedAt = e.nowStr()
	if err := e.saveTask(ctx, t, events.TypeTaskFlagToggled, actor, events.EventPayload{
		"flag":  "priority",
		"value": t.Priority,
	}); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// ToggleIgnored flips the ignored flag. Setting it true clears priority;
// clearing it never touches priority.
func (e Engine) ToggleIgnored(ctx context.Context, id, actor string) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, id)
	if err != nil {
		return domain.Task{}, err
	}
	t.Ignored = !t.Ignored
	if t.Ignored {
		t.Priority = false
	}
	t.UpdatedAt = e.nowStr()
	if err := e.saveTask(ctx, t, events.TypeTaskFlagToggled, actor, events.EventPayload{
		"flag":  "ignored",
		"value": t.Ignored,
	}); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// MarkCompleted sets status to completed and clears priority
// unconditionally. The ignored flag is left as-is.
func (e Engine) MarkCompleted(ctx context.Context, id, actor string) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, id)
	if err != nil {
		return domain.Task{}, err
	}
	t.Status = domain.StatusCompleted
	t.Priority = false
	t.UpdatedAt = e.nowStr()
	if err := e.saveTask(ctx, t, events.TypeTaskCompleted, actor, nil); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// RemoveTask hard-deletes a task and, via cascade, its comments.
func (e Engine) RemoveTask(ctx context.Context, id, actor string) error {
	t, err := e.Repo.GetTask(ctx, id)
	if err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteTask(ctx, tx, id); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, events.TypeTaskDeleted, t.ProjectID, "task", id, actor, nil); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) TaskStats(ctx context.Context, projectID string) (domain.TaskStats, error) {
	if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
		return domain.TaskStats{}, err
	}
	return e.Repo.CountTasksByStatus(ctx, projectID)
}

// --- comments ---

// CreateComment attaches a comment to a task. Creating a comment always
// refreshes the parent task's activity timestamp so "most recently active"
// ordering tracks discussion as well as edits.
func (e Engine) CreateComment(ctx context.Context, taskID, content string, signedEvent *nostr.Event, isAdmin bool, actor string) (domain.Comment, error) {
	if content == "" {
		return domain.Comment{}, errors.New("content is required")
	}
	if len(content) > 2000 {
		return domain.Comment{}, errors.New("content too long (max 2000)")
	}
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return domain.Comment{}, err
	}
	var authorPubkey *string
	if signedEvent != nil {
		if !e.Verifier.Verify(*signedEvent) {
			return domain.Comment{}, ErrInvalidEvent
		}
		pk := signedEvent.PubKey
		authorPubkey = &pk
	}
	c := domain.Comment{
		ID:           uuid.New().String(),
		TaskID:       taskID,
		Content:      content,
		AuthorPubkey: authorPubkey,
		IsAdmin:      isAdmin,
		CreatedAt:    e.nowStr(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Comment{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertComment(ctx, tx, c); err != nil {
		return domain.Comment{}, fmt.Errorf("insert comment: %w", err)
	}
	if err := e.Repo.TouchTask(ctx, tx, taskID, c.CreatedAt); err != nil {
		return domain.Comment{}, err
	}
	if err := e.Events.Append(ctx, tx, events.TypeCommentCreated, t.ProjectID, "comment", c.ID, actor, events.EventPayload{
		"task_id": taskID,
		"admin":   isAdmin,
	}); err != nil {
		return domain.Comment{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Comment{}, err
	}

	if signedEvent != nil {
		if eventID := e.publish(ctx, *signedEvent, actor); eventID != "" {
			if err := e.Repo.SetCommentNostrEventID(ctx, c.ID, eventID); err != nil {
				e.logf("engine: store comment event id: %v", err)
			} else {
				c.NostrEventID = &eventID
			}
		}
	}
	return c, nil
}

// --- relay publication ---

// ReplyNostr publishes a pre-signed admin reply to a task's original
// event. The engine never constructs or signs the reply; it verifies what
// it is handed and relays it. A task with no stored event id has no reply
// target, which is reported explicitly before the publisher is ever
// invoked.
func (e Engine) ReplyNostr(ctx context.Context, taskID string, replyEvent nostr.Event, actor string) (string, error) {
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return "", err
	}
	if t.NostrEventID == nil || *t.NostrEventID == "" {
		return "", ErrNoAssociatedEvent
	}
	if !e.Verifier.Verify(replyEvent) {
		return "", ErrInvalidEvent
	}

	eventID := e.publish(ctx, replyEvent, actor)

	if replyEvent.Content != "" {
		c := domain.Comment{
			ID:           uuid.New().String(),
			TaskID:       taskID,
			Content:      replyEvent.Content,
			AuthorPubkey: &replyEvent.PubKey,
			IsAdmin:      true,
			CreatedAt:    e.nowStr(),
		}
		if eventID != "" {
			c.NostrEventID = &eventID
		}
		tx, err := e.DB.BeginTx(ctx, nil)
		if err != nil {
			return eventID, err
		}
		defer tx.Rollback()
		if err := e.Repo.InsertComment(ctx, tx, c); err != nil {
			return eventID, err
		}
		if err := e.Repo.TouchTask(ctx, tx, taskID, c.CreatedAt); err != nil {
			return eventID, err
		}
		if err := e.Events.Append(ctx, tx, events.TypeCommentCreated, t.ProjectID, "comment", c.ID, actor, events.EventPayload{
			"task_id": taskID,
			"admin":   true,
			"reply":   true,
		}); err != nil {
			return eventID, err
		}
		if err := tx.Commit(); err != nil {
			return eventID, err
		}
	}
	return eventID, nil
}

// ResolveRelays returns the settings-table override when present, else the
// configured default set.
func (e Engine) ResolveRelays(ctx context.Context) []string {
	relays, err := e.Repo.GetRelayOverride(ctx)
	if err == nil {
		return relays
	}
	if !errors.Is(err, repo.ErrNotFound) {
		e.logf("engine: read relay override: %v", err)
	}
	return e.Config.Nostr.Relays
}

// SetRelays replaces the runtime relay set after validating every URL.
func (e Engine) SetRelays(ctx context.Context, relays []string, actor string) error {
	if err := config.ValidateRelays(relays); err != nil {
		return err
	}
	if err := e.Repo.SetRelayOverride(ctx, relays); err != nil {
		return err
	}
	e.appendEvent(ctx, events.TypeRelaysUpdated, "", "settings", repo.RelaysKey, actor, events.EventPayload{"count": len(relays)})
	return nil
}

// publish fans an already-verified event out to the resolved relays.
// Publication is best-effort: failures are logged and the returned id is
// empty, never an error to the calling workflow.
func (e Engine) publish(ctx context.Context, ev nostr.Event, actor string) string {
	res, err := e.Publisher.Publish(ctx, ev, e.ResolveRelays(ctx))
	if err != nil {
		e.logf("engine: publish failed: %v", err)
		return ""
	}
	if res.EventID != "" {
		e.appendEvent(ctx, events.TypeRelayPublished, "", "nostr_event", res.EventID, actor, events.EventPayload{
			"attempted": res.Attempted,
			"succeeded": res.Succeeded,
		})
	}
	return res.EventID
}

// saveTask persists a mutated task row together with its audit event.
func (e Engine) saveTask(ctx context.Context, t domain.Task, evtType, actor string, payload events.EventPayload) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, evtType, t.ProjectID, "task", t.ID, actor, payload); err != nil {
		return err
	}
	return tx.Commit()
}

// appendEvent writes a standalone audit event outside any caller tx.
func (e Engine) appendEvent(ctx context.Context, evtType, projectID, entityKind, entityID, actor string, payload events.EventPayload) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		e.logf("engine: audit event begin: %v", err)
		return
	}
	defer tx.Rollback()
	if err := e.Events.Append(ctx, tx, evtType, projectID, entityKind, entityID, actor, payload); err != nil {
		e.logf("engine: audit event append: %v", err)
		return
	}
	if err := tx.Commit(); err != nil {
		e.logf("engine: audit event commit: %v", err)
	}
}
