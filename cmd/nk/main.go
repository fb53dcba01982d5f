package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/nbd-wtf/go-nostr"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"nostrack/internal/auth"
	"nostrack/internal/config"
	"nostrack/internal/db"
	"nostrack/internal/domain"
	"nostrack/internal/engine"
	"nostrack/internal/migrate"
	"nostrack/internal/repo"
	"nostrack/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "nk",
	Short: "Nostrack CLI",
	Long: `Nostrack is a lightweight issue tracker whose admin surface is
authenticated with signed Nostr events instead of passwords or sessions.
Submissions may carry a signed event; verified events attribute the author
and are published best-effort to the configured relays.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("NOSTRACK")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-admin", "actor recorded in the audit log")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(commentCmd())
	rootCmd.AddCommand(relaysCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(keyCmd())
	rootCmd.AddCommand(serveCmd())
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectUpdateCmd())
	prj.AddCommand(projectDeleteCmd())
	return prj
}

func projectListCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListProjects(ctx, !all)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				t := newTable("ID", "NAME", "ACTIVE", "CREATED")
				for _, p := range items {
					t.AppendRow(table.Row{p.ID, p.Name, p.Active, p.CreatedAt})
				}
				t.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "include inactive projects")
	return cmd
}

func projectCreateCmd() *cobra.Command {
	var opts engine.ProjectCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.CreateProject(ctx, opts, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSON(p)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "project id (slug)")
	cmd.Flags().StringVar(&opts.Name, "name", "", "project name")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.URL, "url", "", "project URL")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func projectShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.Repo.GetProject(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(p)
			})
		},
	}
	return cmd
}

func projectUpdateCmd() *cobra.Command {
	var name, description, url string
	var active bool
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				var opts engine.ProjectUpdateOptions
				if cmd.Flags().Changed("name") {
					opts.Name = &name
				}
				if cmd.Flags().Changed("description") {
					opts.Description = &description
				}
				if cmd.Flags().Changed("url") {
					opts.URL = &url
				}
				if cmd.Flags().Changed("active") {
					opts.Active = &active
				}
				p, err := e.UpdateProject(ctx, args[0], opts, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSON(p)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "project name")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&url, "url", "", "project URL")
	cmd.Flags().BoolVar(&active, "active", true, "active flag")
	return cmd
}

func projectDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a project and its tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteProject(ctx, args[0], viper.GetString("actor-id"))
			})
		},
	}
	return cmd
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
		Long:  "Tasks are issue reports (bugs, features, chores). Statuses are open, in_progress, completed, closed; any status can move to any other. Priority and ignored flags are mutually exclusive when set.",
	}
	task.AddCommand(taskSubmitCmd())
	task.AddCommand(taskListCmd())
	task.AddCommand(taskShowCmd())
	task.AddCommand(taskStatusCmd())
	task.AddCommand(taskPriorityCmd())
	task.AddCommand(taskIgnoreCmd())
	task.AddCommand(taskDoneCmd())
	task.AddCommand(taskDeleteCmd())
	task.AddCommand(taskStatsCmd())
	return task
}

func taskSubmitCmd() *cobra.Command {
	var projectID, taskType, title, description, sk string
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a task",
		Long:  "Submit a task, optionally signed with a Nostr secret key (--sk). A signed submission attributes the author and is published to the configured relays.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				var signed *nostr.Event
				if sk != "" {
					ev, err := signSubmission(sk, title, description)
					if err != nil {
						return err
					}
					signed = ev
				}
				t, err := e.CreateTask(ctx, projectID, engine.TaskSubmission{
					Type:        taskType,
					Title:       title,
					Description: description,
				}, signed, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSON(t)
			})
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "project id")
	cmd.Flags().StringVar(&taskType, "type", domain.TypeTask, "task type (bug, feature, task)")
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&sk, "sk", "", "Nostr secret key to sign the submission")
	_ = cmd.MarkFlagRequired("project")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func taskListCmd() *cobra.Command {
	var filters struct {
		project string
		status  string
		all     bool
	}
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tasks, err := e.Repo.ListTasks(ctx, repo.TaskFilters{
					ProjectID:      filters.project,
					Status:         filters.status,
					IncludeIgnored: filters.all,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				t := newTable("ID", "PROJECT", "TYPE", "TITLE", "STATUS", "FLAGS", "UPDATED")
				for _, task := range tasks {
					t.AppendRow(table.Row{shortID(task.ID), task.ProjectID, task.Type, task.Title, task.Status, flagString(task), task.UpdatedAt})
				}
				t.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&filters.project, "project", "", "project id")
	cmd.Flags().StringVar(&filters.status, "status", "", "status filter")
	cmd.Flags().BoolVar(&filters.all, "all", false, "include ignored tasks")
	return cmd
}

func taskShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.Repo.GetTask(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(t)
			})
		},
	}
	return cmd
}

func taskStatusCmd() *cobra.Command {
	var status, notes string
	cmd := &cobra.Command{
		Use:   "status <id>",
		Short: "Update task status",
		Long:  "Update a task's status. --notes replaces the admin notes; pass an empty string to clear them, omit the flag to leave them untouched.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				var notesPtr *string
				if cmd.Flags().Changed("notes") {
					notesPtr = &notes
				}
				t, err := e.UpdateTaskStatus(ctx, args[0], status, notesPtr, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSON(t)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "new status (open, in_progress, completed, closed)")
	cmd.Flags().StringVar(&notes, "notes", "", "admin notes")
	_ = cmd.MarkFlagRequired("status")
	return cmd
}

func taskPriorityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "priority <id>",
		Short: "Toggle the priority flag",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.TogglePriority(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSON(t)
			})
		},
	}
	return cmd
}

func taskIgnoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ignore <id>",
		Short: "Toggle the ignored flag",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.ToggleIgnored(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSON(t)
			})
		},
	}
	return cmd
}

func taskDoneCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "done <id>",
		Short: "Mark a task completed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.MarkCompleted(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSON(t)
			})
		},
	}
	return cmd
}

func taskDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a task and its comments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.RemoveTask(ctx, args[0], viper.GetString("actor-id"))
			})
		},
	}
	return cmd
}

func taskStatsCmd() *cobra.Command {
	var projectID string
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Task counts by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				stats, err := e.TaskStats(ctx, projectID)
				if err != nil {
					return err
				}
				return printJSON(stats)
			})
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "project id")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

func commentCmd() *cobra.Command {
	c := &cobra.Command{Use: "comment", Short: "Manage task comments"}
	c.AddCommand(commentListCmd())
	c.AddCommand(commentAddCmd())
	return c
}

func commentListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <task-id>",
		Short: "List a task's comments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListComments(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(items)
			})
		},
	}
	return cmd
}

func commentAddCmd() *cobra.Command {
	var content, sk string
	var admin bool
	cmd := &cobra.Command{
		Use:   "add <task-id>",
		Short: "Comment on a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				var signed *nostr.Event
				if sk != "" {
					ev, err := signNote(sk, content)
					if err != nil {
						return err
					}
					signed = ev
				}
				c, err := e.CreateComment(ctx, args[0], content, signed, admin, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSON(c)
			})
		},
	}
	cmd.Flags().StringVar(&content, "content", "", "comment text")
	cmd.Flags().StringVar(&sk, "sk", "", "Nostr secret key to sign the comment")
	cmd.Flags().BoolVar(&admin, "admin", false, "mark as an admin comment")
	_ = cmd.MarkFlagRequired("content")
	return cmd
}

func relaysCmd() *cobra.Command {
	r := &cobra.Command{Use: "relays", Short: "Manage the publish relay set"}
	r.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective relay set",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSON(e.ResolveRelays(ctx))
			})
		},
	})
	var relays []string
	set := &cobra.Command{
		Use:   "set",
		Short: "Replace the relay set",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.SetRelays(ctx, relays, viper.GetString("actor-id")); err != nil {
					return err
				}
				return printJSON(relays)
			})
		},
	}
	set.Flags().StringArrayVar(&relays, "relay", []string{}, "relay URL (repeatable)")
	_ = set.MarkFlagRequired("relay")
	r.AddCommand(set)
	return r
}

func logCmd() *cobra.Command {
	lc := &cobra.Command{Use: "log", Short: "Audit log"}
	var n int
	var projectID string
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Tail audit events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.ListEvents(ctx, projectID, n)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				t := newTable("TS", "TYPE", "ENTITY", "ACTOR")
				for _, ev := range events {
					t.AppendRow(table.Row{ev.TS, ev.Type, ev.EntityKind + "/" + shortID(ev.EntityID), ev.Actor})
				}
				t.Render()
				return nil
			})
		},
	}
	tail.Flags().IntVar(&n, "n", 20, "number of events")
	tail.Flags().StringVar(&projectID, "project", "", "project id filter")
	lc.AddCommand(tail)
	return lc
}

func keyCmd() *cobra.Command {
	kc := &cobra.Command{Use: "key", Short: "Nostr key helpers"}
	kc.AddCommand(&cobra.Command{
		Use:   "gen",
		Short: "Generate a Nostr keypair",
		RunE: func(cmd *cobra.Command, args []string) error {
			sk := nostr.GeneratePrivateKey()
			pk, err := nostr.GetPublicKey(sk)
			if err != nil {
				return err
			}
			return printJSON(map[string]string{"sk": sk, "pk": pk})
		},
	})
	var sk string
	header := &cobra.Command{
		Use:   "auth-header",
		Short: "Build an Authorization header value for the admin API",
		Long:  "Sign a fresh auth event and print the full header value. The credential is only valid within the server's freshness window, so generate it right before use.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ev := nostr.Event{
				Kind:      auth.AuthEventKind,
				CreatedAt: nostr.Timestamp(time.Now().Unix()),
				Tags:      nostr.Tags{{"challenge", auth.ChallengeTag}},
			}
			if err := ev.Sign(sk); err != nil {
				return err
			}
			token, err := json.Marshal(ev)
			if err != nil {
				return err
			}
			fmt.Printf("%s %s\n", auth.Scheme, token)
			return nil
		},
	}
	header.Flags().StringVar(&sk, "sk", "", "Nostr secret key")
	_ = header.MarkFlagRequired("sk")
	kc.AddCommand(header)
	return kc
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg, err := loadConfig(workspace)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Listen = addr
			}
			if basePath != "" {
				cfg.BasePath = basePath
			}
			if len(cfg.Admin.Pubkeys) == 0 {
				fmt.Println("warning: no admin pubkeys configured; the admin API will reject every request")
			}
			logger := log.New(os.Stderr, "", log.LstdFlags)
			e := engine.New(conn, cfg, logger)
			handler, err := server.New(server.Config{
				Engine:   e,
				BasePath: cfg.BasePath,
				Auth: server.AuthConfig{
					Gate:   auth.NewGate(cfg.Admin.Pubkeys, cfg.MaxSkew(), logger),
					Logger: logger,
				},
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: cfg.Listen, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Nostrack API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", cfg.Listen, cfg.BasePath, cfg.BasePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (overrides config)")
	return cmd
}

// --- helpers ---

// loadConfig layers env overrides on top of the optional YAML file.
func loadConfig(workspace string) (config.Config, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return config.Config{}, err
	}
	if raw := viper.GetString("admin-pubkeys"); raw != "" {
		cfg.Admin.Pubkeys = config.ParsePubkeys(raw)
	}
	if raw := viper.GetString("relays"); raw != "" {
		cfg.Nostr.Relays = config.ParseRelays(raw)
	}
	if listen := viper.GetString("listen"); listen != "" {
		cfg.Listen = listen
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := loadConfig(workspace)
	if err != nil {
		return err
	}
	logger := log.New(os.Stderr, "", log.LstdFlags)
	e := engine.New(conn, cfg, logger)
	return fn(ctx, e)
}

func signSubmission(sk, title, description string) (*nostr.Event, error) {
	content := title
	if description != "" {
		content += "\n\n" + description
	}
	return signNote(sk, content)
}

func signNote(sk, content string) (*nostr.Event, error) {
	ev := nostr.Event{
		Kind:      nostr.KindTextNote,
		CreatedAt: nostr.Timestamp(time.Now().Unix()),
		Content:   content,
	}
	if err := ev.Sign(sk); err != nil {
		return nil, err
	}
	return &ev, nil
}

func newTable(headers ...any) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row(headers))
	t.SetStyle(table.StyleLight)
	return t
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func flagString(t domain.Task) string {
	switch {
	case t.Priority:
		return "priority"
	case t.Ignored:
		return "ignored"
	}
	return ""
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
