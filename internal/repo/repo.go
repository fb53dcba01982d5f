package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"nostrack/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// --- projects ---

const projectCols = `id,name,COALESCE(description,''),COALESCE(url,''),active,created_at,updated_at`

func scanProject(row *sql.Row) (domain.Project, error) {
	var p domain.Project
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.URL, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}

func (r Repo) InsertProject(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO projects(id,name,description,url,active,created_at,updated_at) VALUES (?,?,?,?,?,?,?)`,
		p.ID, p.Name, nullable(p.Description), nullable(p.URL), p.Active, p.CreatedAt, p.UpdatedAt)
	return err
}

func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	return scanProject(r.DB.QueryRowContext(ctx, `SELECT `+projectCols+` FROM projects WHERE id=?`, id))
}

// ListProjects returns projects, optionally restricted to active ones.
func (r Repo) ListProjects(ctx context.Context, activeOnly bool) ([]domain.Project, error) {
	query := `SELECT ` + projectCols + ` FROM projects`
	if activeOnly {
		query += ` WHERE active=1`
	}
	query += ` ORDER BY created_at DESC`
	rows, err := r.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		var p domain.Project
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.URL, &p.Active, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// UpdateProject patches the provided fields; nil pointers leave the column
// untouched.
func (r Repo) UpdateProject(ctx context.Context, id string, name, description, url *string, active *bool, updatedAt string) error {
	var (
		fields []string
		args   []any
	)
	if name != nil {
		fields = append(fields, "name=?")
		args = append(args, *name)
	}
	if description != nil {
		fields = append(fields, "description=?")
		args = append(args, nullable(*description))
	}
	if url != nil {
		fields = append(fields, "url=?")
		args = append(args, nullable(*url))
	}
	if active != nil {
		fields = append(fields, "active=?")
		args = append(args, *active)
	}
	if len(fields) == 0 {
		return nil
	}
	fields = append(fields, "updated_at=?")
	args = append(args, updatedAt, id)
	res, err := r.DB.ExecContext(ctx, fmt.Sprintf(`UPDATE projects SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteProject removes a project; tasks and their comments cascade.
func (r Repo) DeleteProject(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM projects WHERE id=?`, id)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// --- tasks ---

const taskCols = `id,project_id,type,title,COALESCE(description,''),status,priority,ignored,author_pubkey,nostr_event_id,admin_notes,created_at,updated_at`

func scanTaskRow(scan func(dest ...any) error) (domain.Task, error) {
	var t domain.Task
	var author, eventID, notes sql.NullString
	err := scan(&t.ID, &t.ProjectID, &t.Type, &t.Title, &t.Description, &t.Status,
		&t.Priority, &t.Ignored, &author, &eventID, &notes, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return t, err
	}
	if author.Valid {
		t.AuthorPubkey = &author.String
	}
	if eventID.Valid {
		t.NostrEventID = &eventID.String
	}
	if notes.Valid {
		t.AdminNotes = &notes.String
	}
	return t, nil
}

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO tasks(id,project_id,type,title,description,status,priority,ignored,author_pubkey,nostr_event_id,admin_notes,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.ProjectID, t.Type, t.Title, t.Description, t.Status, t.Priority, t.Ignored,
		nullablePtr(t.AuthorPubkey), nullablePtr(t.NostrEventID), nullablePtr(t.AdminNotes), t.CreatedAt, t.UpdatedAt)
	return err
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+taskCols+` FROM tasks WHERE id=?`, id)
	t, err := scanTaskRow(row.Scan)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	return t, err
}

// TaskFilters narrows task listings.
type TaskFilters struct {
	ProjectID      string
	Status         string
	IncludeIgnored bool
}

// ListTasks returns tasks ordered by last activity, newest first.
func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	query := `SELECT ` + taskCols + ` FROM tasks`
	var (
		conds []string
		args  []any
	)
	if f.ProjectID != "" {
		conds = append(conds, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.Status != "" {
		conds = append(conds, "status=?")
		args = append(args, f.Status)
	}
	if !f.IncludeIgnored {
		conds = append(conds, "ignored=0")
	}
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY updated_at DESC, created_at DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTaskRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// UpdateTask writes every mutable column of the task row.
func (r Repo) UpdateTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET type=?,title=?,description=?,status=?,priority=?,ignored=?,author_pubkey=?,nostr_event_id=?,admin_notes=?,updated_at=? WHERE id=?`,
		t.Type, t.Title, t.Description, t.Status, t.Priority, t.Ignored,
		nullablePtr(t.AuthorPubkey), nullablePtr(t.NostrEventID), nullablePtr(t.AdminNotes), t.UpdatedAt, t.ID)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchTask refreshes only the task's activity timestamp.
func (r Repo) TouchTask(ctx context.Context, tx *sql.Tx, id, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET updated_at=? WHERE id=?`, updatedAt, id)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) SetTaskNostrEventID(ctx context.Context, id, eventID string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE tasks SET nostr_event_id=? WHERE id=?`, eventID, id)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteTask removes a task; comments cascade.
func (r Repo) DeleteTask(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id=?`, id)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// CountTasksByStatus aggregates a project's tasks into stats.
func (r Repo) CountTasksByStatus(ctx context.Context, projectID string) (domain.TaskStats, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, COUNT(*) FROM tasks WHERE project_id=? GROUP BY status`, projectID)
	if err != nil {
		return domain.TaskStats{}, err
	}
	defer rows.Close()
	var stats domain.TaskStats
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return stats, err
		}
		switch status {
		case domain.StatusOpen:
			stats.Open = n
		case domain.StatusInProgress:
			stats.InProgress = n
		case domain.StatusCompleted:
			stats.Completed = n
		case domain.StatusClosed:
			stats.Closed = n
		}
	}
	return stats, rows.Err()
}

// --- comments ---

func (r Repo) InsertComment(ctx context.Context, tx *sql.Tx, c domain.Comment) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO comments(id,task_id,content,author_pubkey,nostr_event_id,is_admin,created_at) VALUES (?,?,?,?,?,?,?)`,
		c.ID, c.TaskID, c.Content, nullablePtr(c.AuthorPubkey), nullablePtr(c.NostrEventID), c.IsAdmin, c.CreatedAt)
	return err
}

// ListComments returns a task's comments oldest first.
func (r Repo) ListComments(ctx context.Context, taskID string) ([]domain.Comment, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,task_id,content,author_pubkey,nostr_event_id,is_admin,created_at FROM comments WHERE task_id=? ORDER BY created_at ASC, id ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Comment
	for rows.Next() {
		var c domain.Comment
		var author, eventID sql.NullString
		if err := rows.Scan(&c.ID, &c.TaskID, &c.Content, &author, &eventID, &c.IsAdmin, &c.CreatedAt); err != nil {
			return nil, err
		}
		if author.Valid {
			c.AuthorPubkey = &author.String
		}
		if eventID.Valid {
			c.NostrEventID = &eventID.String
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r Repo) SetCommentNostrEventID(ctx context.Context, id, eventID string) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE comments SET nostr_event_id=? WHERE id=?`, eventID, id)
	return err
}

func (r Repo) CountComments(ctx context.Context, taskID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM comments WHERE task_id=?`, taskID).Scan(&n)
	return n, err
}

// --- events ---

// ListEvents returns the newest audit events, optionally scoped to a
// project.
func (r Repo) ListEvents(ctx context.Context, projectID string, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id,ts,type,COALESCE(project_id,''),entity_kind,COALESCE(entity_id,''),actor,payload_json FROM events`
	var args []any
	if projectID != "" {
		query += ` WHERE project_id=?`
		args = append(args, projectID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.ProjectID, &e.EntityKind, &e.EntityID, &e.Actor, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// --- helpers ---

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullablePtr(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}
