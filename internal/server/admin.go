package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"nostrack/internal/engine"
	"nostrack/internal/repo"
)

// registerAdmin wires the gated admin surface. The middleware has already
// authenticated these requests; handlers still read the pubkey from the
// context so every mutation is attributed.
func registerAdmin(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "admin-whoami",
		Method:      http.MethodGet,
		Path:        "/admin/whoami",
		Summary:     "Authenticated admin identity",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body WhoamiResponse `json:"body"`
	}, error) {
		pubkey, herr := adminPubkeyFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		return &struct {
			Body WhoamiResponse `json:"body"`
		}{Body: WhoamiResponse{Pubkey: pubkey}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "admin-list-tasks",
		Method:      http.MethodGet,
		Path:        "/admin/tasks",
		Summary:     "List tasks, ignored included",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		ProjectID string `query:"project_id"`
		Status    string `query:"status"`
	}) (*struct {
		Body []TaskResponse `json:"body"`
	}, error) {
		tasks, err := e.Repo.ListTasks(ctx, repo.TaskFilters{
			ProjectID:      input.ProjectID,
			Status:         input.Status,
			IncludeIgnored: true,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []TaskResponse `json:"body"`
		}{Body: mapTasks(tasks)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "admin-update-task-status",
		Method:      http.MethodPatch,
		Path:        "/admin/tasks/{id}/status",
		Summary:     "Update task status",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ID   string                  `path:"id"`
		Body UpdateTaskStatusRequest `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		pubkey, herr := adminPubkeyFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		t, err := e.UpdateTaskStatus(ctx, input.ID, input.Body.Status, input.Body.AdminNotes, pubkey)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "admin-toggle-priority",
		Method:      http.MethodPost,
		Path:        "/admin/tasks/{id}/priority",
		Summary:     "Toggle priority flag",
		Errors: []int{
			http.StatusUnauthorized,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		pubkey, herr := adminPubkeyFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		t, err := e.TogglePriority(ctx, input.ID, pubkey)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "admin-toggle-ignored",
		Method:      http.MethodPost,
		Path:        "/admin/tasks/{id}/ignored",
		Summary:     "Toggle ignored flag",
		Errors: []int{
			http.StatusUnauthorized,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		pubkey, herr := adminPubkeyFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		t, err := e.ToggleIgnored(ctx, input.ID, pubkey)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "admin-complete-task",
		Method:      http.MethodPost,
		Path:        "/admin/tasks/{id}/complete",
		Summary:     "Mark task completed",
		Errors: []int{
			http.StatusUnauthorized,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		pubkey, herr := adminPubkeyFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		t, err := e.MarkCompleted(ctx, input.ID, pubkey)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "admin-delete-task",
		Method:      http.MethodDelete,
		Path:        "/admin/tasks/{id}",
		Summary:     "Delete task",
		Errors: []int{
			http.StatusUnauthorized,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		pubkey, herr := adminPubkeyFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		if err := e.RemoveTask(ctx, input.ID, pubkey); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "admin-reply-nostr",
		Method:      http.MethodPost,
		Path:        "/admin/tasks/{id}/reply-nostr",
		Summary:     "Publish a signed reply to the task's event",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body ReplyNostrRequest `json:"body"`
	}) (*struct {
		Body ReplyNostrResponse `json:"body"`
	}, error) {
		pubkey, herr := adminPubkeyFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		ev, herr := decodeSignedEvent(input.Body.SignedEvent)
		if herr != nil {
			return nil, herr
		}
		if ev == nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "signed_event is required", nil)
		}
		eventID, err := e.ReplyNostr(ctx, input.ID, *ev, pubkey)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ReplyNostrResponse `json:"body"`
		}{Body: ReplyNostrResponse{EventID: eventID}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "admin-create-project",
		Method:        http.MethodPost,
		Path:          "/admin/projects",
		Summary:       "Create project",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateProjectRequest `json:"body"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		pubkey, herr := adminPubkeyFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		p, err := e.CreateProject(ctx, engine.ProjectCreateOptions{
			ID:          input.Body.ID,
			Name:        input.Body.Name,
			Description: input.Body.Description,
			URL:         input.Body.URL,
			Active:      input.Body.Active,
		}, pubkey)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "admin-update-project",
		Method:      http.MethodPatch,
		Path:        "/admin/projects/{project_id}",
		Summary:     "Update project",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string               `path:"project_id"`
		Body      UpdateProjectRequest `json:"body"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		pubkey, herr := adminPubkeyFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		p, err := e.UpdateProject(ctx, input.ProjectID, engine.ProjectUpdateOptions{
			Name:        input.Body.Name,
			Description: input.Body.Description,
			URL:         input.Body.URL,
			Active:      input.Body.Active,
		}, pubkey)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "admin-delete-project",
		Method:      http.MethodDelete,
		Path:        "/admin/projects/{project_id}",
		Summary:     "Delete project and its tasks",
		Errors: []int{
			http.StatusUnauthorized,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct{}, error) {
		pubkey, herr := adminPubkeyFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		if err := e.DeleteProject(ctx, input.ProjectID, pubkey); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "admin-get-relays",
		Method:      http.MethodGet,
		Path:        "/admin/settings/nostr-relays",
		Summary:     "Effective relay set",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body RelaysResponse `json:"body"`
	}, error) {
		return &struct {
			Body RelaysResponse `json:"body"`
		}{Body: RelaysResponse{Relays: e.ResolveRelays(ctx)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "admin-set-relays",
		Method:      http.MethodPut,
		Path:        "/admin/settings/nostr-relays",
		Summary:     "Replace the relay set",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
		},
	}, func(ctx context.Context, input *struct {
		Body SetRelaysRequest `json:"body"`
	}) (*struct {
		Body RelaysResponse `json:"body"`
	}, error) {
		pubkey, herr := adminPubkeyFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		if err := e.SetRelays(ctx, input.Body.Relays, pubkey); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RelaysResponse `json:"body"`
		}{Body: RelaysResponse{Relays: input.Body.Relays}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "admin-list-events",
		Method:      http.MethodGet,
		Path:        "/admin/events",
		Summary:     "Audit log, newest first",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		ProjectID string `query:"project_id"`
		Limit     int    `query:"limit" default:"50"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListEvents(ctx, input.ProjectID, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: mapEvents(items)}, nil
	})
}
