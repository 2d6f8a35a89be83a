package schedule

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/stewardai/steward/task"
)

func mk(id string, deps, files []string) task.Task {
	return task.Task{
		ID:            id,
		Priority:      task.PriorityDefault,
		Status:        task.StatusPending,
		Dependencies:  deps,
		FilesToModify: files,
	}
}

func TestGroups_FileConflictSplitsBatch(t *testing.T) {
	tasks := []task.Task{
		mk("t1", nil, []string{"a.go"}),
		mk("t2", nil, []string{"a.go"}),
	}
	groups, err := Groups(tasks)
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Len(t, groups[0], 1)
	assert.Len(t, groups[1], 1)
}

func TestGroups_DependencyOrdersBatches(t *testing.T) {
	tasks := []task.Task{
		mk("t2", []string{"t1"}, nil),
		mk("t1", nil, nil),
		mk("t3", nil, nil),
	}
	groups, err := Groups(tasks)
	require.NoError(t, err)
	require.Len(t, groups, 2)

	first := ids(groups[0])
	assert.ElementsMatch(t, []string{"t1", "t3"}, first)
	assert.Equal(t, []string{"t2"}, ids(groups[1]))
}

func TestGroups_OutOfSetDependencyIgnored(t *testing.T) {
	tasks := []task.Task{
		mk("t1", []string{"already-done"}, nil),
	}
	groups, err := Groups(tasks)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, []string{"t1"}, ids(groups[0]))
}

func TestGroups_CycleIsHardError(t *testing.T) {
	tasks := []task.Task{
		mk("t1", []string{"t2"}, nil),
		mk("t2", []string{"t1"}, nil),
	}
	_, err := Groups(tasks)
	var cyc *ErrCycle
	require.ErrorAs(t, err, &cyc)
	assert.ElementsMatch(t, []string{"t1", "t2"}, cyc.Remaining)
}

func TestGroups_PriorityBreaksConflictTies(t *testing.T) {
	low := mk("low", nil, []string{"shared.go"})
	low.Priority = 5
	high := mk("high", nil, []string{"shared.go"})
	high.Priority = 1

	groups, err := Groups([]task.Task{low, high})
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Equal(t, []string{"high"}, ids(groups[0]))
	assert.Equal(t, []string{"low"}, ids(groups[1]))
}

func TestFileConflicts(t *testing.T) {
	tasks := []task.Task{
		mk("t1", nil, []string{"a.go", "b.go"}),
		mk("t2", nil, []string{"b.go"}),
		mk("t3", nil, []string{"c.go"}),
	}
	got := FileConflicts(tasks)
	assert.Equal(t, []string{"t2"}, got["t1"])
	assert.Equal(t, []string{"t1"}, got["t2"])
	assert.Empty(t, got["t3"])
}

// Property checks over random acyclic task sets: groups cover the
// input exactly, dependencies land in strictly earlier batches, and no
// batch contains two tasks sharing a file.
func TestGroups_Properties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 12).Draw(t, "n")
		filePool := []string{"a.go", "b.go", "c.go", "d.go"}

		tasks := make([]task.Task, n)
		for i := 0; i < n; i++ {
			id := fmt.Sprintf("t%d", i)
			var deps []string
			if i > 0 {
				for _, j := range rapid.SliceOfDistinct(rapid.IntRange(0, i-1), rapid.ID[int]).Draw(t, fmt.Sprintf("deps%d", i)) {
					deps = append(deps, fmt.Sprintf("t%d", j))
				}
			}
			files := rapid.SliceOfNDistinct(rapid.SampledFrom(filePool), 0, 2, rapid.ID[string]).Draw(t, fmt.Sprintf("files%d", i))
			tasks[i] = mk(id, deps, files)
			tasks[i].Priority = rapid.IntRange(1, 5).Draw(t, fmt.Sprintf("prio%d", i))
		}

		groups, err := Groups(tasks)
		require.NoError(t, err)

		batchOf := make(map[string]int)
		for bi, g := range groups {
			seenFiles := make(map[string]bool)
			for _, tk := range g {
				batchOf[tk.ID] = bi
				for _, f := range tk.FilesToModify {
					require.False(t, seenFiles[f], "file %s written twice in batch %d", f, bi)
					seenFiles[f] = true
				}
			}
		}
		require.Len(t, batchOf, n, "every task scheduled exactly once")
		for _, tk := range tasks {
			for _, dep := range tk.Dependencies {
				require.Less(t, batchOf[dep], batchOf[tk.ID],
					"dependency %s of %s must run in an earlier batch", dep, tk.ID)
			}
		}
	})
}

func ids(g []task.Task) []string {
	out := make([]string, 0, len(g))
	for _, t := range g {
		out = append(out, t.ID)
	}
	return out
}
