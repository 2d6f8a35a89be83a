package task

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "tasks.json"), "demo")
	require.NoError(t, err)
	return s
}

func TestCreate_IDFormatAndDefaults(t *testing.T) {
	s := newTestStore(t)
	s.now = func() time.Time {
		return time.Date(2024, 3, 5, 10, 20, 30, 0, time.UTC)
	}

	tk, err := s.Create(CreateParams{Title: "write parser", Priority: 99})
	require.NoError(t, err)

	assert.Equal(t, "task_20240305102030_1", tk.ID)
	assert.Equal(t, StatusPending, tk.Status)
	assert.Equal(t, TypeCode, tk.Type)
	assert.Equal(t, PriorityLowest, tk.Priority)
	assert.NotNil(t, tk.Dependencies)
	assert.NotNil(t, tk.FilesToModify)

	// Same second, ordinal advances.
	tk2, err := s.Create(CreateParams{Title: "write tests"})
	require.NoError(t, err)
	assert.Equal(t, "task_20240305102030_2", tk2.ID)
}

func TestCreate_IDPattern(t *testing.T) {
	s := newTestStore(t)
	tk, err := s.Create(CreateParams{Title: "x"})
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^task_\d{14}_\d+$`), tk.ID)
}

func TestSetStatus_LifecycleIsOneWay(t *testing.T) {
	s := newTestStore(t)
	tk, err := s.Create(CreateParams{Title: "a"})
	require.NoError(t, err)

	// pending cannot jump straight to a terminal state
	err = s.SetStatus(tk.ID, StatusCompleted, "", "done", "")
	var bad *ErrBadTransition
	require.ErrorAs(t, err, &bad)

	require.NoError(t, s.SetStatus(tk.ID, StatusInProgress, "worker-1", "", ""))
	got, _ := s.Get(tk.ID)
	assert.Equal(t, "worker-1", got.AssignedTo)
	require.NotNil(t, got.StartedAt)

	require.NoError(t, s.SetStatus(tk.ID, StatusCompleted, "", "parser written", ""))
	got, _ = s.Get(tk.ID)
	assert.Equal(t, "parser written", got.ResultSummary)
	require.NotNil(t, got.CompletedAt)

	// terminal states are final
	err = s.SetStatus(tk.ID, StatusInProgress, "", "", "")
	require.ErrorAs(t, err, &bad)
	err = s.SetStatus(tk.ID, StatusFailed, "", "", "boom")
	require.ErrorAs(t, err, &bad)
}

func TestSetStatus_FailedKeepsErrorLog(t *testing.T) {
	s := newTestStore(t)
	tk, err := s.Create(CreateParams{Title: "a"})
	require.NoError(t, err)
	require.NoError(t, s.SetStatus(tk.ID, StatusInProgress, "w", "", ""))
	require.NoError(t, s.SetStatus(tk.ID, StatusFailed, "", "", "compile error"))

	got, _ := s.Get(tk.ID)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, "compile error", got.ErrorLog)
}

func TestGetReady_DependenciesGateReadiness(t *testing.T) {
	s := newTestStore(t)
	t1, err := s.Create(CreateParams{Title: "schema"})
	require.NoError(t, err)
	t2, err := s.Create(CreateParams{Title: "queries", Dependencies: []string{t1.ID}})
	require.NoError(t, err)

	ready := s.GetReady()
	require.Len(t, ready, 1)
	assert.Equal(t, t1.ID, ready[0].ID)

	require.NoError(t, s.SetStatus(t1.ID, StatusInProgress, "w", "", ""))
	assert.Empty(t, s.GetReady(), "dependency in progress does not satisfy")

	require.NoError(t, s.SetStatus(t1.ID, StatusCompleted, "", "ok", ""))
	ready = s.GetReady()
	require.Len(t, ready, 1)
	assert.Equal(t, t2.ID, ready[0].ID)
}

func TestGetReady_FailedDependencyBlocks(t *testing.T) {
	s := newTestStore(t)
	t1, err := s.Create(CreateParams{Title: "schema"})
	require.NoError(t, err)
	t2, err := s.Create(CreateParams{Title: "queries", Dependencies: []string{t1.ID}})
	require.NoError(t, err)

	require.NoError(t, s.SetStatus(t1.ID, StatusInProgress, "w", "", ""))
	require.NoError(t, s.SetStatus(t1.ID, StatusFailed, "", "", "boom"))

	for _, tk := range s.GetReady() {
		assert.NotEqual(t, t2.ID, tk.ID)
	}
}

func TestGetReady_PriorityOrder(t *testing.T) {
	s := newTestStore(t)
	low, err := s.Create(CreateParams{Title: "low", Priority: 5})
	require.NoError(t, err)
	high, err := s.Create(CreateParams{Title: "high", Priority: 1})
	require.NoError(t, err)

	ready := s.GetReady()
	require.Len(t, ready, 2)
	assert.Equal(t, high.ID, ready[0].ID)
	assert.Equal(t, low.ID, ready[1].ID)
}

func TestStatistics_MatchDocument(t *testing.T) {
	s := newTestStore(t)
	a, err := s.Create(CreateParams{Title: "a"})
	require.NoError(t, err)
	b, err := s.Create(CreateParams{Title: "b"})
	require.NoError(t, err)
	_, err = s.Create(CreateParams{Title: "c"})
	require.NoError(t, err)

	require.NoError(t, s.SetStatus(a.ID, StatusInProgress, "w", "", ""))
	require.NoError(t, s.SetStatus(a.ID, StatusCompleted, "", "ok", ""))
	require.NoError(t, s.SetStatus(b.ID, StatusInProgress, "w", "", ""))

	stats := s.Stats()
	assert.Equal(t, Statistics{Total: 3, Pending: 1, InProgress: 1, Completed: 1}, stats)

	// The persisted document carries the same derived counts.
	data, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	var doc Document
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, stats, doc.Statistics)
	assert.Equal(t, "demo", doc.ProjectName)
	assert.Equal(t, "active", doc.Status)
}

func TestStore_ReloadsFromDisk(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tasks.json")

	s, err := NewStore(path, "demo")
	require.NoError(t, err)
	tk, err := s.Create(CreateParams{Title: "persisted", AcceptanceCriteria: []string{"it loads"}})
	require.NoError(t, err)
	require.NoError(t, s.AddNote(tk.ID, "leader", "check edge cases"))

	s2, err := NewStore(path, "ignored")
	require.NoError(t, err)
	got, ok := s2.Get(tk.ID)
	require.True(t, ok)
	assert.Equal(t, "persisted", got.Title)
	assert.Equal(t, []string{"it loads"}, got.AcceptanceCriteria)
	require.Len(t, got.Notes, 1)
	assert.Equal(t, "leader", got.Notes[0].Author)
	assert.Equal(t, "demo", s2.ProjectName())
}

func TestClearCompleted_PrunesDependencyReferences(t *testing.T) {
	s := newTestStore(t)
	t1, err := s.Create(CreateParams{Title: "done"})
	require.NoError(t, err)
	t2, err := s.Create(CreateParams{Title: "waiting", Dependencies: []string{t1.ID}})
	require.NoError(t, err)

	require.NoError(t, s.SetStatus(t1.ID, StatusInProgress, "w", "", ""))
	require.NoError(t, s.SetStatus(t1.ID, StatusCompleted, "", "ok", ""))

	n, err := s.ClearCompleted()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// t2 is now unblocked; its reference to the removed task is gone.
	got, ok := s.Get(t2.ID)
	require.True(t, ok)
	assert.Empty(t, got.Dependencies)
	ready := s.GetReady()
	require.Len(t, ready, 1)
	assert.Equal(t, t2.ID, ready[0].ID)
}

func TestCurrentTask_TracksActiveWork(t *testing.T) {
	s := newTestStore(t)
	tk, err := s.Create(CreateParams{Title: "a"})
	require.NoError(t, err)

	require.NoError(t, s.SetStatus(tk.ID, StatusInProgress, "w", "", ""))
	data, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	var doc Document
	require.NoError(t, json.Unmarshal(data, &doc))
	require.NotNil(t, doc.CurrentTask)
	assert.Equal(t, tk.ID, *doc.CurrentTask)

	require.NoError(t, s.SetStatus(tk.ID, StatusCompleted, "", "ok", ""))
	data, err = os.ReadFile(s.Path())
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Nil(t, doc.CurrentTask)
}
