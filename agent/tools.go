package agent

import (
	"encoding/json"
	"strings"

	"github.com/stewardai/steward/provider"
)

// Meta-tools the leader exposes alongside whatever the bridge offers.
const (
	toolCreateTask     = "create_task"
	toolAssignTask     = "assign_task"
	toolAssignParallel = "assign_tasks_parallel"
	toolListTasks      = "list_tasks"
	toolGetTaskResult  = "get_task_result"
	toolAddTaskNote    = "add_task_note"
	toolClearCompleted = "clear_completed_tasks"
	toolSearchPlugin   = "search_plugin"
	toolInstallPlugin  = "install_plugin"
	toolAnalyzeGap     = "analyze_gap"
)

func metaToolDefs() []provider.ToolDef {
	str := func(desc string) map[string]any {
		return map[string]any{"type": "string", "description": desc}
	}
	strList := func(desc string) map[string]any {
		return map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": desc}
	}
	obj := func(props map[string]any, required ...string) map[string]any {
		schema := map[string]any{"type": "object", "properties": props}
		if len(required) > 0 {
			schema["required"] = required
		}
		return schema
	}

	return []provider.ToolDef{
		{
			Name:        toolCreateTask,
			Description: "Create a task for later assignment to a worker.",
			Parameters: obj(map[string]any{
				"title":               str("Short imperative title."),
				"description":         str("Full description of the work."),
				"type":                str("One of: code, doc, config, test, review, refactor, fix."),
				"priority":            map[string]any{"type": "integer", "description": "1 (highest) to 5 (lowest)."},
				"dependencies":        strList("IDs of tasks that must complete first."),
				"files_to_modify":     strList("Files this task will write. Used for conflict detection."),
				"acceptance_criteria": strList("How to judge the task done."),
			}, "title", "description"),
		},
		{
			Name:        toolAssignTask,
			Description: "Run one pending task with a worker and wait for the outcome.",
			Parameters:  obj(map[string]any{"task_id": str("ID of the task to run.")}, "task_id"),
		},
		{
			Name:        toolAssignParallel,
			Description: "Run several pending tasks with a bounded worker pool, batching around dependencies and file conflicts.",
			Parameters: obj(map[string]any{
				"task_ids":       strList("IDs of the tasks to run."),
				"max_concurrent": map[string]any{"type": "integer", "description": "Worker pool width, 1 to 5."},
			}, "task_ids"),
		},
		{
			Name:        toolListTasks,
			Description: "List all tasks with status, priority, and dependencies.",
			Parameters:  obj(map[string]any{}),
		},
		{
			Name:        toolGetTaskResult,
			Description: "Fetch the result summary or error log of a finished task.",
			Parameters:  obj(map[string]any{"task_id": str("ID of the task.")}, "task_id"),
		},
		{
			Name:        toolAddTaskNote,
			Description: "Append a note to a task's audit trail.",
			Parameters: obj(map[string]any{
				"task_id": str("ID of the task."),
				"content": str("The note text."),
			}, "task_id", "content"),
		},
		{
			Name:        toolClearCompleted,
			Description: "Remove all completed tasks from the list.",
			Parameters:  obj(map[string]any{}),
		},
		{
			Name:        toolSearchPlugin,
			Description: "Search the plugin catalog for tool servers matching a capability.",
			Parameters:  obj(map[string]any{"query": str("Capability to search for.")}, "query"),
		},
		{
			Name:        toolInstallPlugin,
			Description: "Install a plugin from the catalog to make its tools available.",
			Parameters:  obj(map[string]any{"name": str("Catalog name of the plugin.")}, "name"),
		},
		{
			Name:        toolAnalyzeGap,
			Description: "Suggest plugins that would cover a capability the current tools lack.",
			Parameters:  obj(map[string]any{"request": str("The capability that is missing.")}, "request"),
		},
	}
}

func isMetaTool(name string) bool {
	switch name {
	case toolCreateTask, toolAssignTask, toolAssignParallel, toolListTasks,
		toolGetTaskResult, toolAddTaskNote, toolClearCompleted,
		toolSearchPlugin, toolInstallPlugin, toolAnalyzeGap:
		return true
	}
	return false
}

// parseArgs decodes a tool call's argument string. Malformed JSON gets
// one lenient re-parse with smart quotes normalized; if that also
// fails the call proceeds with empty arguments rather than aborting.
func parseArgs(raw string) map[string]any {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]any{}
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err == nil && args != nil {
		return args
	}

	normalized := strings.NewReplacer(
		"“", `"`, "”", `"`,
		"‘", `'`, "’", `'`,
		"'", `"`,
	).Replace(raw)
	if err := json.Unmarshal([]byte(normalized), &args); err == nil && args != nil {
		return args
	}
	return map[string]any{}
}

func argString(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

func argInt(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return def
}

func argStrings(args map[string]any, key string) []string {
	raw, ok := args[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
