package agent

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stewardai/steward/bridge"
	"github.com/stewardai/steward/provider"
	"github.com/stewardai/steward/task"
)

func newTestLeader(t *testing.T, m ModelCaller, run runFunc) (*Leader, *task.Store) {
	t.Helper()
	store := newAgentStore(t)
	h, err := NewHistory("", "bootstrap")
	require.NoError(t, err)
	l := NewLeader(LeaderConfig{
		Model:     m,
		Store:     store,
		History:   h,
		RunWorker: run,
	})
	return l, store
}

func TestLeader_CreateTaskToolCall(t *testing.T) {
	m := &fakeModel{turns: []fakeTurn{
		{calls: []provider.ToolCall{call(toolCreateTask,
			`{"title":"write parser","description":"parse the config","type":"code","priority":2,"files_to_modify":["parser.go"]}`)}},
		{content: "Created the task."},
	}}
	l, store := newTestLeader(t, m, nil)

	require.NoError(t, l.HandleInput(context.Background(), "please add a parser"))

	tasks := store.All()
	require.Len(t, tasks, 1)
	assert.Equal(t, "write parser", tasks[0].Title)
	assert.Equal(t, task.TypeCode, tasks[0].Type)
	assert.Equal(t, 2, tasks[0].Priority)
	assert.Equal(t, []string{"parser.go"}, tasks[0].FilesToModify)

	// The second model call's system prompt embeds the new task.
	require.Len(t, m.seen, 2)
	assert.Contains(t, m.seen[1][0].Content, tasks[0].ID)
	assert.Contains(t, m.seen[1][0].Content, "write parser")
}

func TestLeader_AssignTaskRunsWorkerAndRecordsResult(t *testing.T) {
	store := newAgentStore(t)
	tk, err := store.Create(task.CreateParams{Title: "write parser"})
	require.NoError(t, err)

	m := &fakeModel{turns: []fakeTurn{
		{calls: []provider.ToolCall{call(toolAssignTask, `{"task_id":"` + tk.ID + `"}`)}},
		{content: "All done."},
	}}
	h, err := NewHistory("", "sys")
	require.NoError(t, err)
	l := NewLeader(LeaderConfig{
		Model:   m,
		Store:   store,
		History: h,
		RunWorker: func(_ context.Context, _ string, _ task.Task) (string, error) {
			return "parser written", nil
		},
	})

	require.NoError(t, l.HandleInput(context.Background(), "run it"))

	got, _ := store.Get(tk.ID)
	assert.Equal(t, task.StatusCompleted, got.Status)
	assert.Equal(t, "parser written", got.ResultSummary)
}

func TestLeader_AssignTaskRejectsUnmetDependencies(t *testing.T) {
	store := newAgentStore(t)
	dep, err := store.Create(task.CreateParams{Title: "dep"})
	require.NoError(t, err)
	tk, err := store.Create(task.CreateParams{Title: "blocked", Dependencies: []string{dep.ID}})
	require.NoError(t, err)

	attempted := false
	m := &fakeModel{turns: []fakeTurn{
		{calls: []provider.ToolCall{call(toolAssignTask, `{"task_id":"` + tk.ID + `"}`)}},
		{content: "understood"},
	}}
	h, err := NewHistory("", "sys")
	require.NoError(t, err)
	l := NewLeader(LeaderConfig{
		Model:   m,
		Store:   store,
		History: h,
		RunWorker: func(_ context.Context, _ string, _ task.Task) (string, error) {
			attempted = true
			return "", nil
		},
	})

	require.NoError(t, l.HandleInput(context.Background(), "run it early"))

	assert.False(t, attempted, "blocked task must never start")
	got, _ := store.Get(tk.ID)
	assert.Equal(t, task.StatusPending, got.Status)

	// The rejection reached the model as a tool message.
	last := m.seen[1]
	toolMsg := last[len(last)-1]
	assert.Equal(t, provider.RoleTool, toolMsg.Role)
	assert.Contains(t, toolMsg.Content, "blocked")
}

func TestLeader_WorkerFailureRecordedNotFatal(t *testing.T) {
	store := newAgentStore(t)
	tk, err := store.Create(task.CreateParams{Title: "doomed"})
	require.NoError(t, err)

	m := &fakeModel{turns: []fakeTurn{
		{calls: []provider.ToolCall{call(toolAssignTask, `{"task_id":"` + tk.ID + `"}`)}},
		{content: "noted"},
	}}
	h, err := NewHistory("", "sys")
	require.NoError(t, err)
	l := NewLeader(LeaderConfig{
		Model:   m,
		Store:   store,
		History: h,
		RunWorker: func(_ context.Context, _ string, _ task.Task) (string, error) {
			return "", errors.New("tests failed")
		},
	})

	require.NoError(t, l.HandleInput(context.Background(), "run it"))

	got, _ := store.Get(tk.ID)
	assert.Equal(t, task.StatusFailed, got.Status)
	assert.Equal(t, "tests failed", got.ErrorLog)
}

func TestLeader_ListAndResultTools(t *testing.T) {
	store := newAgentStore(t)
	tk, err := store.Create(task.CreateParams{Title: "done one"})
	require.NoError(t, err)
	require.NoError(t, store.SetStatus(tk.ID, task.StatusInProgress, "w", "", ""))
	require.NoError(t, store.SetStatus(tk.ID, task.StatusCompleted, "", "it works", ""))

	m := &fakeModel{turns: []fakeTurn{
		{calls: []provider.ToolCall{
			call(toolListTasks, `{}`),
			call(toolGetTaskResult, `{"task_id":"` + tk.ID + `"}`),
		}},
		{content: "summarized"},
	}}
	h, err := NewHistory("", "sys")
	require.NoError(t, err)
	l := NewLeader(LeaderConfig{Model: m, Store: store, History: h})

	require.NoError(t, l.HandleInput(context.Background(), "status?"))

	second := m.seen[1]
	listMsg := second[len(second)-2]
	resultMsg := second[len(second)-1]
	assert.Contains(t, listMsg.Content, "done one")
	assert.Contains(t, listMsg.Content, "1 completed")
	assert.Contains(t, resultMsg.Content, "it works")
}

func TestLeader_MalformedArgsFallBackToEmpty(t *testing.T) {
	m := &fakeModel{turns: []fakeTurn{
		{calls: []provider.ToolCall{call(toolListTasks, `{broken json`)}},
		{content: "ok"},
	}}
	l, _ := newTestLeader(t, m, nil)

	require.NoError(t, l.HandleInput(context.Background(), "list"))
	second := m.seen[1]
	assert.Contains(t, second[len(second)-1].Content, "No tasks yet")
}

func TestLeader_InstallPluginStartsServerAndRefreshesTools(t *testing.T) {
	serversPath := filepath.Join(t.TempDir(), "servers.json")
	started := ""
	m := &fakeModel{turns: []fakeTurn{
		{calls: []provider.ToolCall{call(toolInstallPlugin, `{"name":"git"}`)}},
		{content: "installed"},
	}}
	h, err := NewHistory("", "sys")
	require.NoError(t, err)
	br := newFakeBridge()
	l := NewLeader(LeaderConfig{
		Model:   m,
		Store:   newAgentStore(t),
		Bridge:  br,
		History: h,
		StartServer: func(_ context.Context, name string, _ bridge.ServerConfig) error {
			started = name
			return nil
		},
		ServersPath: serversPath,
	})

	require.NoError(t, l.HandleInput(context.Background(), "get git tools"))

	assert.Equal(t, "git", started)
	f, err := bridge.LoadServers(serversPath)
	require.NoError(t, err)
	assert.Contains(t, f.Servers, "git")

	second := m.seen[1]
	assert.Contains(t, second[len(second)-1].Content, "now available")
}

func TestLeader_ClearResetsTasksAndHistory(t *testing.T) {
	store := newAgentStore(t)
	done, err := store.Create(task.CreateParams{Title: "shipped"})
	require.NoError(t, err)
	require.NoError(t, store.SetStatus(done.ID, task.StatusInProgress, "w", "", ""))
	require.NoError(t, store.SetStatus(done.ID, task.StatusCompleted, "", "ok", ""))
	_, err = store.Create(task.CreateParams{Title: "still open"})
	require.NoError(t, err)

	h, err := NewHistory("", "sys")
	require.NoError(t, err)
	h.Append(
		provider.Message{Role: provider.RoleUser, Content: "hello"},
		provider.Message{Role: provider.RoleAssistant, Content: "hi"},
	)
	l := NewLeader(LeaderConfig{Model: &fakeModel{}, Store: store, History: h})

	require.NoError(t, l.Clear())

	tasks := store.All()
	require.Len(t, tasks, 1)
	assert.Equal(t, "still open", tasks[0].Title)

	require.Equal(t, 1, h.Len())
	assert.Equal(t, provider.RoleSystem, h.Messages()[0].Role)
}

func TestParseArgs(t *testing.T) {
	assert.Equal(t, map[string]any{"a": "b"}, parseArgs(`{"a":"b"}`))
	assert.Equal(t, map[string]any{}, parseArgs(""))
	assert.Equal(t, map[string]any{}, parseArgs("not json at all {{{"))
	// Lenient re-parse normalizes single and smart quotes.
	assert.Equal(t, map[string]any{"path": "x.go"}, parseArgs(`{'path': 'x.go'}`))
	assert.Equal(t, map[string]any{"q": "y"}, parseArgs("{“q”: “y”}"))
}
