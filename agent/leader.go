package agent

import (
	"context"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/stewardai/steward/archive"
	"github.com/stewardai/steward/bridge"
	"github.com/stewardai/steward/plugin"
	"github.com/stewardai/steward/provider"
	"github.com/stewardai/steward/task"
)

// maxLeaderRounds bounds tool-call rounds within one user turn.
const maxLeaderRounds = 20

// LeaderConfig wires a Leader's collaborators. Archive and Bridge may
// be nil; RunWorker is required for task assignment to function.
type LeaderConfig struct {
	Model       ModelCaller
	Store       *task.Store
	Bridge      ToolBridge
	Catalog     *plugin.Catalog
	Policy      *Policy
	History     *History
	Archive     *archive.Store
	RunWorker   runFunc
	StartServer func(ctx context.Context, name string, sc bridge.ServerConfig) error
	ServersPath string
	MaxParallel int
	Log         *zap.Logger
	Out         io.Writer
}

// Leader is the orchestrating agent. It never touches files or
// external tools itself beyond task-management meta-tools; real work
// is delegated to workers.
type Leader struct {
	model       ModelCaller
	store       *task.Store
	bridge      ToolBridge
	catalog     *plugin.Catalog
	policy      *Policy
	history     *History
	arch        *archive.Store
	pool        *Pool
	runWorker   runFunc
	startServer func(ctx context.Context, name string, sc bridge.ServerConfig) error
	serversPath string
	maxParallel int
	log         *zap.Logger
	out         io.Writer
}

// NewLeader builds a leader from its config.
func NewLeader(cfg LeaderConfig) *Leader {
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	if cfg.Out == nil {
		cfg.Out = io.Discard
	}
	if cfg.Policy == nil {
		cfg.Policy = AllowAll()
	}
	if cfg.Catalog == nil {
		cfg.Catalog = plugin.DefaultCatalog()
	}
	if cfg.MaxParallel == 0 {
		cfg.MaxParallel = defaultConcurrency
	}
	l := &Leader{
		model:       cfg.Model,
		store:       cfg.Store,
		bridge:      cfg.Bridge,
		catalog:     cfg.Catalog,
		policy:      cfg.Policy,
		history:     cfg.History,
		arch:        cfg.Archive,
		runWorker:   cfg.RunWorker,
		startServer: cfg.StartServer,
		serversPath: cfg.ServersPath,
		maxParallel: cfg.MaxParallel,
		log:         cfg.Log,
		out:         cfg.Out,
	}
	l.pool = NewPool(cfg.Store, l.runAndArchive, cfg.Log)
	return l
}

// Clear removes completed tasks and starts the conversation over from
// a fresh system prompt.
func (l *Leader) Clear() error {
	n, err := l.store.ClearCompleted()
	if err != nil {
		return err
	}
	if err := l.history.Reset(); err != nil {
		return err
	}
	fmt.Fprintf(l.out, "cleared %d completed tasks and conversation history\n", n)
	return nil
}

// HandleInput runs one user turn: the model converses, requests tools,
// and the loop dispatches until it stops asking. The system prompt is
// rewritten before every model call so it reflects live task state.
func (l *Leader) HandleInput(ctx context.Context, input string) error {
	l.history.Append(provider.Message{Role: provider.RoleUser, Content: input})

	tools := metaToolDefs()
	if l.bridge != nil {
		tools = append(tools, l.bridge.ListTools(ctx)...)
	}

	for round := 0; round < maxLeaderRounds; round++ {
		l.history.SetSystem(l.systemPrompt())

		content, calls, err := l.model.Call(ctx, l.history.Messages(), tools, true)
		if err != nil {
			return err
		}
		l.history.Append(provider.Message{
			Role:      provider.RoleAssistant,
			Content:   content,
			ToolCalls: calls,
		})
		if len(calls) == 0 {
			break
		}

		installed := false
		for _, tc := range calls {
			fmt.Fprintf(l.out, "calling tool %s\n", tc.Name)
			l.history.Append(provider.Message{
				Role:       provider.RoleTool,
				ToolCallID: tc.ID,
				Name:       tc.Name,
				Content:    l.dispatch(ctx, tc),
			})
			if tc.Name == toolInstallPlugin {
				installed = true
			}
		}
		// A successful install can add tools mid-conversation.
		if installed && l.bridge != nil {
			tools = append(metaToolDefs(), l.bridge.ListTools(ctx)...)
		}
	}
	return l.history.Save()
}

// dispatch routes one tool call. Failures come back as error text so
// the conversation continues.
func (l *Leader) dispatch(ctx context.Context, tc provider.ToolCall) string {
	args := parseArgs(tc.Arguments)
	if isMetaTool(tc.Name) {
		return l.dispatchMeta(ctx, tc.Name, args)
	}
	if l.bridge == nil {
		return fmt.Sprintf("Error: no tool server provides %s", tc.Name)
	}
	if !l.policy.Allow(tc.Name) {
		return fmt.Sprintf("Error: permission denied for tool %s", tc.Name)
	}
	result, err := l.bridge.Call(ctx, tc.Name, args)
	if err != nil {
		l.log.Warn("tool call failed", zap.String("tool", tc.Name), zap.Error(err))
		return "Error: " + err.Error()
	}
	return result
}

func (l *Leader) dispatchMeta(ctx context.Context, name string, args map[string]any) string {
	switch name {
	case toolCreateTask:
		return l.createTask(args)
	case toolAssignTask:
		return l.assignTask(ctx, argString(args, "task_id"))
	case toolAssignParallel:
		summary, err := l.pool.RunParallel(ctx, argStrings(args, "task_ids"), argInt(args, "max_concurrent", l.maxParallel))
		if err != nil {
			return "Error: " + err.Error()
		}
		return summary
	case toolListTasks:
		return l.listTasks()
	case toolGetTaskResult:
		return l.taskResult(argString(args, "task_id"))
	case toolAddTaskNote:
		if err := l.store.AddNote(argString(args, "task_id"), "leader", argString(args, "content")); err != nil {
			return "Error: " + err.Error()
		}
		return "Note added."
	case toolClearCompleted:
		n, err := l.store.ClearCompleted()
		if err != nil {
			return "Error: " + err.Error()
		}
		return fmt.Sprintf("Removed %d completed tasks.", n)
	case toolSearchPlugin:
		return l.searchPlugins(argString(args, "query"))
	case toolInstallPlugin:
		return l.installPlugin(ctx, argString(args, "name"))
	case toolAnalyzeGap:
		return l.analyzeGap(ctx, argString(args, "request"))
	}
	return fmt.Sprintf("Error: unknown tool %s", name)
}

func (l *Leader) createTask(args map[string]any) string {
	t, err := l.store.Create(task.CreateParams{
		Title:              argString(args, "title"),
		Description:        argString(args, "description"),
		Type:               task.Type(argString(args, "type")),
		Priority:           argInt(args, "priority", task.PriorityDefault),
		Dependencies:       argStrings(args, "dependencies"),
		FilesToModify:      argStrings(args, "files_to_modify"),
		AcceptanceCriteria: argStrings(args, "acceptance_criteria"),
	})
	if err != nil {
		return "Error: " + err.Error()
	}
	l.log.Info("task created", zap.String("task", t.ID), zap.String("title", t.Title))
	return fmt.Sprintf("Created task %s: %s (priority %d)", t.ID, t.Title, t.Priority)
}

// assignTask runs a single task serially. A task whose dependencies
// have not all completed is rejected outright.
func (l *Leader) assignTask(ctx context.Context, id string) string {
	t, ok := l.store.Get(id)
	if !ok {
		return fmt.Sprintf("Error: no task %s", id)
	}
	if t.Status != task.StatusPending {
		return fmt.Sprintf("Error: task %s is %s, not pending", id, t.Status)
	}
	for _, dep := range t.Dependencies {
		dt, ok := l.store.Get(dep)
		if !ok || dt.Status != task.StatusCompleted {
			return fmt.Sprintf("Error: task %s is blocked, dependency %s is not completed", id, dep)
		}
	}

	if err := l.store.SetStatus(id, task.StatusInProgress, "worker-1", "", ""); err != nil {
		return "Error: " + err.Error()
	}
	result, err := l.runAndArchive(ctx, "worker-1", t)
	if err != nil {
		if serr := l.store.SetStatus(id, task.StatusFailed, "", "", err.Error()); serr != nil {
			l.log.Error("status update failed", zap.String("task", id), zap.Error(serr))
		}
		return fmt.Sprintf("Task %s failed: %s", id, err)
	}
	if serr := l.store.SetStatus(id, task.StatusCompleted, "", result, ""); serr != nil {
		l.log.Error("status update failed", zap.String("task", id), zap.Error(serr))
	}
	return fmt.Sprintf("Task %s completed: %s", id, clip(result, 200))
}

// runAndArchive wraps the worker runner so every finished run leaves a
// transcript in the archive when one is configured.
func (l *Leader) runAndArchive(ctx context.Context, workerName string, t task.Task) (string, error) {
	if l.runWorker == nil {
		return "", fmt.Errorf("no worker available")
	}
	result, err := l.runWorker(ctx, workerName, t)
	if l.arch != nil {
		rec := archive.Transcript{TaskID: t.ID, Agent: workerName}
		if err != nil {
			rec.Outcome = string(task.StatusFailed)
			rec.Content = err.Error()
		} else {
			rec.Outcome = string(task.StatusCompleted)
			rec.Content = result
		}
		if _, aerr := l.arch.Save(ctx, rec); aerr != nil {
			l.log.Warn("transcript archive failed", zap.String("task", t.ID), zap.Error(aerr))
		}
	}
	return result, err
}

func (l *Leader) listTasks() string {
	tasks := l.store.All()
	if len(tasks) == 0 {
		return "No tasks yet."
	}
	var sb strings.Builder
	for _, t := range tasks {
		fmt.Fprintf(&sb, "%s [%s] p%d %s: %s", t.ID, t.Status, t.Priority, t.Type, t.Title)
		if len(t.Dependencies) > 0 {
			fmt.Fprintf(&sb, " (depends on %s)", strings.Join(t.Dependencies, ", "))
		}
		sb.WriteString("\n")
	}
	stats := l.store.Stats()
	fmt.Fprintf(&sb, "Totals: %d tasks, %d pending, %d in progress, %d completed, %d failed",
		stats.Total, stats.Pending, stats.InProgress, stats.Completed, stats.Failed)
	return sb.String()
}

func (l *Leader) taskResult(id string) string {
	t, ok := l.store.Get(id)
	if !ok {
		return fmt.Sprintf("Error: no task %s", id)
	}
	switch t.Status {
	case task.StatusCompleted:
		return fmt.Sprintf("Task %s completed.\n%s", id, t.ResultSummary)
	case task.StatusFailed:
		return fmt.Sprintf("Task %s failed.\n%s", id, t.ErrorLog)
	default:
		return fmt.Sprintf("Task %s is %s; no result yet.", id, t.Status)
	}
}

func (l *Leader) searchPlugins(query string) string {
	hits := l.catalog.Search(query)
	if len(hits) == 0 {
		return "No plugins match " + query
	}
	var sb strings.Builder
	for _, p := range hits {
		fmt.Fprintf(&sb, "%s: %s\n", p.Name, p.Description)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (l *Leader) installPlugin(ctx context.Context, name string) string {
	if l.serversPath == "" {
		return "Error: no server registry configured"
	}
	if !l.policy.Allow("plugin__install") {
		return "Error: permission denied for plugin installation"
	}
	if err := l.catalog.Install(name, l.serversPath); err != nil {
		return "Error: " + err.Error()
	}
	if l.startServer != nil {
		if p, ok := l.catalog.Get(name); ok {
			if err := l.startServer(ctx, p.Name, p.Server); err != nil {
				l.log.Warn("tool server start failed", zap.String("plugin", name), zap.Error(err))
				return fmt.Sprintf("Installed plugin %s, but its server failed to start: %v", name, err)
			}
			return fmt.Sprintf("Installed plugin %s. Its tools are now available.", name)
		}
	}
	return fmt.Sprintf("Installed plugin %s. Its tools become available next session.", name)
}

func (l *Leader) analyzeGap(ctx context.Context, request string) string {
	var available []string
	if l.bridge != nil {
		for _, d := range l.bridge.ListTools(ctx) {
			available = append(available, d.Name)
		}
	}
	hits := l.catalog.AnalyzeGap(request, available)
	if len(hits) == 0 {
		return "No catalog plugin covers that capability."
	}
	var sb strings.Builder
	sb.WriteString("Plugins that could cover the gap:\n")
	for _, p := range hits {
		fmt.Fprintf(&sb, "%s: %s\n", p.Name, p.Description)
	}
	return strings.TrimRight(sb.String(), "\n")
}

// systemPrompt embeds a live snapshot of the task list, so it must be
// rebuilt whenever tasks change.
func (l *Leader) systemPrompt() string {
	var sb strings.Builder
	sb.WriteString(`You are the leader agent of a software project. You plan work, create tasks, and delegate them to worker agents. You do not edit files yourself; use create_task and the assignment tools instead. Prefer assign_tasks_parallel when several independent tasks are ready.

`)
	sb.WriteString("Current tasks:\n")
	tasks := l.store.All()
	if len(tasks) == 0 {
		sb.WriteString("(none)\n")
	}
	for _, t := range tasks {
		fmt.Fprintf(&sb, "- %s [%s] p%d: %s\n", t.ID, t.Status, t.Priority, t.Title)
	}
	return strings.TrimRight(sb.String(), "\n")
}
