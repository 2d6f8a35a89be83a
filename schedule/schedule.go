// Package schedule partitions task sets into ordered execution
// batches. Two orderings constrain a batch: explicit dependencies, and
// implicit conflicts between tasks declaring the same file to modify.
package schedule

import (
	"fmt"
	"sort"
	"strings"

	"github.com/stewardai/steward/task"
)

// ErrCycle reports that the remaining tasks form a dependency cycle.
// The scheduler refuses to guess an order for them.
type ErrCycle struct {
	Remaining []string
}

func (e *ErrCycle) Error() string {
	return fmt.Sprintf("dependency cycle among tasks: %s", strings.Join(e.Remaining, ", "))
}

// Groups partitions tasks into batches. Every task in a batch has all
// its in-set dependencies satisfied by earlier batches, and no two
// tasks in a batch declare the same file to modify. Dependencies on
// tasks outside the set are ignored; callers filter unready tasks
// before scheduling.
func Groups(tasks []task.Task) ([][]task.Task, error) {
	inSet := make(map[string]int, len(tasks))
	for i, t := range tasks {
		inSet[t.ID] = i
	}

	conflicts := conflictPairs(tasks)
	satisfied := make(map[string]bool, len(tasks))
	remaining := make([]int, 0, len(tasks))
	for i := range tasks {
		remaining = append(remaining, i)
	}
	// Priority decides who goes first when conflicting tasks are
	// otherwise schedulable together.
	sort.SliceStable(remaining, func(a, b int) bool {
		return tasks[remaining[a]].Priority < tasks[remaining[b]].Priority
	})

	var groups [][]task.Task
	for len(remaining) > 0 {
		var batch []int
		inBatch := make(map[int]bool)
		for _, i := range remaining {
			if !depsSatisfied(&tasks[i], inSet, satisfied) {
				continue
			}
			clash := false
			for _, j := range batch {
				if conflicts[pairKey(i, j)] {
					clash = true
					break
				}
			}
			if !clash {
				batch = append(batch, i)
				inBatch[i] = true
			}
		}
		if len(batch) == 0 {
			ids := make([]string, 0, len(remaining))
			for _, i := range remaining {
				ids = append(ids, tasks[i].ID)
			}
			sort.Strings(ids)
			return nil, &ErrCycle{Remaining: ids}
		}

		group := make([]task.Task, 0, len(batch))
		for _, i := range batch {
			group = append(group, tasks[i])
			satisfied[tasks[i].ID] = true
		}
		groups = append(groups, group)

		next := remaining[:0]
		for _, i := range remaining {
			if !inBatch[i] {
				next = append(next, i)
			}
		}
		remaining = next
	}
	return groups, nil
}

// FileConflicts returns, per task ID, the IDs of other tasks in the
// set that declare at least one common file.
func FileConflicts(tasks []task.Task) map[string][]string {
	sets := make(map[string]map[string]bool)
	for key := range conflictPairs(tasks) {
		a, b := tasks[key.a].ID, tasks[key.b].ID
		if sets[a] == nil {
			sets[a] = make(map[string]bool)
		}
		if sets[b] == nil {
			sets[b] = make(map[string]bool)
		}
		sets[a][b] = true
		sets[b][a] = true
	}
	out := make(map[string][]string, len(sets))
	for id, others := range sets {
		for other := range others {
			out[id] = append(out[id], other)
		}
		sort.Strings(out[id])
	}
	return out
}

type pair struct{ a, b int }

func conflictPairs(tasks []task.Task) map[pair]bool {
	byFile := make(map[string][]int)
	for i, t := range tasks {
		for _, f := range t.FilesToModify {
			byFile[f] = append(byFile[f], i)
		}
	}
	pairs := make(map[pair]bool)
	for _, owners := range byFile {
		for x := 0; x < len(owners); x++ {
			for y := x + 1; y < len(owners); y++ {
				pairs[pairKey(owners[x], owners[y])] = true
			}
		}
	}
	return pairs
}

func pairKey(a, b int) pair {
	if a > b {
		a, b = b, a
	}
	return pair{a, b}
}

func depsSatisfied(t *task.Task, inSet map[string]int, satisfied map[string]bool) bool {
	for _, dep := range t.Dependencies {
		if _, ok := inSet[dep]; !ok {
			continue
		}
		if !satisfied[dep] {
			return false
		}
	}
	return true
}
