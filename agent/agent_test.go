package agent

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stewardai/steward/provider"
	"github.com/stewardai/steward/task"
)

// fakeModel returns scripted turns in order, then empty answers.
type fakeTurn struct {
	content string
	calls   []provider.ToolCall
	err     error
}

type fakeModel struct {
	mu    sync.Mutex
	turns []fakeTurn
	seen  [][]provider.Message
}

func (f *fakeModel) Call(_ context.Context, msgs []provider.Message, _ []provider.ToolDef, _ bool) (string, []provider.ToolCall, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	snapshot := make([]provider.Message, len(msgs))
	copy(snapshot, msgs)
	f.seen = append(f.seen, snapshot)
	if len(f.turns) == 0 {
		return "done", nil, nil
	}
	t := f.turns[0]
	f.turns = f.turns[1:]
	return t.content, t.calls, t.err
}

// fakeBridge records calls and answers from a fixed result table.
type fakeBridge struct {
	mu      sync.Mutex
	tools   []provider.ToolDef
	results map[string]string
	errs    map[string]error
	calls   []string
}

func newFakeBridge() *fakeBridge {
	return &fakeBridge{
		tools: []provider.ToolDef{
			{Name: "fs__read_file", Description: "read", Parameters: map[string]any{"type": "object"}},
			{Name: "fs__write_file", Description: "write", Parameters: map[string]any{"type": "object"}},
		},
		results: map[string]string{},
		errs:    map[string]error{},
	}
}

func (f *fakeBridge) ListTools(context.Context) []provider.ToolDef { return f.tools }

func (f *fakeBridge) Call(_ context.Context, name string, _ map[string]any) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
	if err := f.errs[name]; err != nil {
		return "", err
	}
	if r, ok := f.results[name]; ok {
		return r, nil
	}
	return "ok", nil
}

func (f *fakeBridge) called() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.calls...)
}

func newAgentStore(t *testing.T) *task.Store {
	t.Helper()
	s, err := task.NewStore(filepath.Join(t.TempDir(), "tasks.json"), "demo")
	require.NoError(t, err)
	return s
}

func call(name, args string) provider.ToolCall {
	return provider.ToolCall{ID: "tc_" + name, Name: name, Arguments: args}
}
