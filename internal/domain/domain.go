package domain

type Project struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	URL         string `json:"url,omitempty"`
	Active      bool   `json:"active"`
	CreatedAt   string `json:"created_at" format:"date-time"`
	UpdatedAt   string `json:"updated_at" format:"date-time"`
}

type Task struct {
	ID           string  `json:"id"`
	ProjectID    string  `json:"project_id"`
	Type         string  `json:"type" enum:"bug,feature,task"`
	Title        string  `json:"title"`
	Description  string  `json:"description,omitempty"`
	Status       string  `json:"status" enum:"open,in_progress,completed,closed"`
	Priority     bool    `json:"priority"`
	Ignored      bool    `json:"ignored"`
	AuthorPubkey *string `json:"author_pubkey,omitempty"`
	NostrEventID *string `json:"nostr_event_id,omitempty"`
	AdminNotes   *string `json:"admin_notes,omitempty"`
	CreatedAt    string  `json:"created_at" format:"date-time"`
	UpdatedAt    string  `json:"updated_at" format:"date-time"`
}

type Comment struct {
	ID           string  `json:"id"`
	TaskID       string  `json:"task_id"`
	Content      string  `json:"content"`
	AuthorPubkey *string `json:"author_pubkey,omitempty"`
	NostrEventID *string `json:"nostr_event_id,omitempty"`
	IsAdmin      bool    `json:"is_admin"`
	CreatedAt    string  `json:"created_at" format:"date-time"`
}

// TaskStats counts tasks of a project by status.
type TaskStats struct {
	Open       int `json:"open"`
	InProgress int `json:"in_progress"`
	Completed  int `json:"completed"`
	Closed     int `json:"closed"`
}

type Setting struct {
	Key         string `json:"key"`
	Value       string `json:"value"`
	Description string `json:"description,omitempty"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	Actor      string `json:"actor,omitempty"`
	Payload    string `json:"payload_json"`
}

// Task status values. Any status is reachable from any other; there is no
// restricted transition table.
const (
	StatusOpen       = "open"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusClosed     = "closed"
)

// Task type values.
const (
	TypeBug     = "bug"
	TypeFeature = "feature"
	TypeTask    = "task"
)

func ValidStatus(s string) bool {
	switch s {
	case StatusOpen, StatusInProgress, StatusCompleted, StatusClosed:
		return true
	}
	return false
}

func ValidType(t string) bool {
	switch t {
	case TypeBug, TypeFeature, TypeTask:
		return true
	}
	return false
}
