package server

import (
	"encoding/json"

	"nostrack/internal/domain"
)

// Request payloads

type CreateProjectRequest struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	URL         string `json:"url,omitempty"`
	Active      *bool  `json:"active,omitempty"`
}

type UpdateProjectRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	URL         *string `json:"url,omitempty"`
	Active      *bool   `json:"active,omitempty"`
}

type SubmitTaskRequest struct {
	// Type defaults to "task" when omitted.
	Type        string `json:"type,omitempty"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	// SignedEvent optionally attributes the submission to a Nostr identity
	// and triggers best-effort relay publication.
	SignedEvent json.RawMessage `json:"signed_event,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type UpdateTaskStatusRequest struct {
	Status string `json:"status" enum:"open,in_progress,completed,closed"`
	// AdminNotes absent leaves prior notes untouched; an explicit empty
	// string clears them.
	AdminNotes *string `json:"admin_notes,omitempty"`
}

type CreateCommentRequest struct {
	Content     string          `json:"content"`
	SignedEvent json.RawMessage `json:"signed_event,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type ReplyNostrRequest struct {
	// SignedEvent is the pre-signed reply event; the server never holds
	// signing keys.
	SignedEvent json.RawMessage `json:"signed_event" jsonschema:"type=object,additionalProperties=true"`
}

type SetRelaysRequest struct {
	Relays []string `json:"relays"`
}

// Response payloads

type ProjectResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	URL         string `json:"url,omitempty"`
	Active      bool   `json:"active"`
	CreatedAt   string `json:"created_at" format:"date-time"`
	UpdatedAt   string `json:"updated_at" format:"date-time"`
}

type TaskResponse struct {
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

type CommentResponse struct {
	ID           string  `json:"id"`
	TaskID       string  `json:"task_id"`
	Content      string  `json:"content"`
	AuthorPubkey *string `json:"author_pubkey,omitempty"`
	NostrEventID *string `json:"nostr_event_id,omitempty"`
	IsAdmin      bool    `json:"is_admin"`
	CreatedAt    string  `json:"created_at" format:"date-time"`
}

type StatsResponse struct {
	Open       int `json:"open"`
	InProgress int `json:"in_progress"`
	Completed  int `json:"completed"`
	Closed     int `json:"closed"`
	Total      int `json:"total"`
}

type RelaysResponse struct {
	Relays []string `json:"relays"`
}

type ReplyNostrResponse struct {
	// EventID is empty when no relay accepted the event.
	EventID string `json:"event_id,omitempty"`
}

type EventResponse struct {
	ID         int64           `json:"id"`
	TS         string          `json:"ts" format:"date-time"`
	Type       string          `json:"type"`
	ProjectID  string          `json:"project_id,omitempty"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	Actor      string          `json:"actor,omitempty"`
	Payload    json.RawMessage `json:"payload" jsonschema:"type=object,additionalProperties=true"`
}

type WhoamiResponse struct {
	Pubkey string `json:"pubkey"`
}

// Mappers

func projectResponse(p domain.Project) ProjectResponse {
	return ProjectResponse{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		URL:         p.URL,
		Active:      p.Active,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

func mapProjects(items []domain.Project) []ProjectResponse {
	res := make([]ProjectResponse, 0, len(items))
	for _, p := range items {
		res = append(res, projectResponse(p))
	}
	return res
}

func taskResponse(t domain.Task) TaskResponse {
	return TaskResponse{
		ID:           t.ID,
		ProjectID:    t.ProjectID,
		Type:         t.Type,
		Title:        t.Title,
		Description:  t.Description,
		Status:       t.Status,
		Priority:     t.Priority,
		Ignored:      t.Ignored,
		AuthorPubkey: t.AuthorPubkey,
		NostrEventID: t.NostrEventID,
		AdminNotes:   t.AdminNotes,
		CreatedAt:    t.CreatedAt,
		UpdatedAt:    t.UpdatedAt,
	}
}

func mapTasks(items []domain.Task) []TaskResponse {
	res := make([]TaskResponse, 0, len(items))
	for _, t := range items {
		res = append(res, taskResponse(t))
	}
	return res
}

func commentResponse(c domain.Comment) CommentResponse {
	return CommentResponse{
		ID:           c.ID,
		TaskID:       c.TaskID,
		Content:      c.Content,
		AuthorPubkey: c.AuthorPubkey,
		NostrEventID: c.NostrEventID,
		IsAdmin:      c.IsAdmin,
		CreatedAt:    c.CreatedAt,
	}
}

func mapComments(items []domain.Comment) []CommentResponse {
	res := make([]CommentResponse, 0, len(items))
	for _, c := range items {
		res = append(res, commentResponse(c))
	}
	return res
}

func statsResponse(s domain.TaskStats) StatsResponse {
	return StatsResponse{
		Open:       s.Open,
		InProgress: s.InProgress,
		Completed:  s.Completed,
		Closed:     s.Closed,
		Total:      s.Open + s.InProgress + s.Completed + s.Closed,
	}
}

func eventResponse(e domain.Event) EventResponse {
	payload := json.RawMessage(e.Payload)
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		ProjectID:  e.ProjectID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		Actor:      e.Actor,
		Payload:    payload,
	}
}

func mapEvents(items []domain.Event) []EventResponse {
	res := make([]EventResponse, 0, len(items))
	for _, e := range items {
		res = append(res, eventResponse(e))
	}
	return res
}
