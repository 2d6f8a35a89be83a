package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/stewardai/steward/schedule"
	"github.com/stewardai/steward/task"
)

const (
	defaultConcurrency = 3
	maxConcurrency     = 5
)

// outcome labels a task's fate in one parallel run.
type outcome string

const (
	outcomeCompleted outcome = "completed"
	outcomeFailed    outcome = "failed"
	outcomeSkipped   outcome = "skipped"
	outcomeBlocked   outcome = "blocked"
	outcomeInvalid   outcome = "invalid"
)

// runFunc executes one task with a named worker and returns its
// result summary.
type runFunc func(ctx context.Context, workerName string, t task.Task) (string, error)

// Pool dispatches batches of tasks to workers with bounded
// concurrency. Status transitions are routed through the task store,
// which serializes the underlying document writes.
type Pool struct {
	store *task.Store
	run   runFunc
	log   *zap.Logger
}

// NewPool wires a pool over the store and a worker run function.
func NewPool(store *task.Store, run runFunc, log *zap.Logger) *Pool {
	if log == nil {
		log = zap.NewNop()
	}
	return &Pool{store: store, run: run, log: log}
}

// RunParallel executes the requested tasks in dependency-and-conflict
// ordered batches, at most maxConcurrent at a time within a batch.
// It returns a textual summary of every task's fate. A dependency
// cycle among the requested tasks is the only hard error.
func (p *Pool) RunParallel(ctx context.Context, ids []string, maxConcurrent int) (string, error) {
	if maxConcurrent < 1 || maxConcurrent > maxConcurrency {
		maxConcurrent = defaultConcurrency
	}

	results := make(map[string]string) // id -> one-line outcome
	fates := make(map[string]outcome)
	var mu sync.Mutex
	record := func(id string, o outcome, detail string) {
		mu.Lock()
		defer mu.Unlock()
		fates[id] = o
		results[id] = detail
	}

	valid := p.partition(ids, record)
	for id, others := range schedule.FileConflicts(valid) {
		p.log.Info("file conflict, serializing",
			zap.String("task", id), zap.Strings("with", others))
	}
	groups, err := schedule.Groups(valid)
	if err != nil {
		return "", err
	}

	sem := semaphore.NewWeighted(int64(maxConcurrent))
	failedInRun := make(map[string]bool)
	workerSeq := 0

	for gi, group := range groups {
		p.log.Info("running batch",
			zap.Int("batch", gi+1), zap.Int("of", len(groups)), zap.Int("size", len(group)))

		var wg sync.WaitGroup
		for _, t := range group {
			// Failure propagates forward: a task whose in-run
			// dependency already failed is skipped, not attempted.
			if dep := firstFailedDep(t, failedInRun); dep != "" {
				record(t.ID, outcomeSkipped, fmt.Sprintf("skipped: dependency %s failed", dep))
				continue
			}

			workerSeq++
			name := fmt.Sprintf("worker-%d", workerSeq)
			wg.Add(1)
			go func(t task.Task, name string) {
				defer wg.Done()
				if err := sem.Acquire(ctx, 1); err != nil {
					record(t.ID, outcomeFailed, "failed: "+err.Error())
					return
				}
				defer sem.Release(1)
				p.runOne(ctx, name, t, record)
			}(t, name)
		}
		wg.Wait()

		mu.Lock()
		for id, o := range fates {
			if o == outcomeFailed || o == outcomeSkipped {
				failedInRun[id] = true
			}
		}
		mu.Unlock()
	}

	return runSummary(ids, fates, results), nil
}

// partition splits requested IDs into runnable tasks and records the
// rest as invalid or blocked. The dependency check looks at global
// task status; a dependency is acceptable when it is already
// completed or is itself part of this run.
func (p *Pool) partition(ids []string, record func(string, outcome, string)) []task.Task {
	requested := make(map[string]bool, len(ids))
	for _, id := range ids {
		requested[id] = true
	}

	var valid []task.Task
	for _, id := range ids {
		t, ok := p.store.Get(id)
		if !ok {
			record(id, outcomeInvalid, "invalid: no such task")
			continue
		}
		if t.Status != task.StatusPending {
			record(id, outcomeInvalid, fmt.Sprintf("invalid: status is %s", t.Status))
			continue
		}
		blockedBy := ""
		for _, dep := range t.Dependencies {
			dt, ok := p.store.Get(dep)
			if ok && dt.Status == task.StatusCompleted {
				continue
			}
			if requested[dep] {
				continue
			}
			blockedBy = dep
			break
		}
		if blockedBy != "" {
			record(id, outcomeBlocked, fmt.Sprintf("blocked: dependency %s not completed", blockedBy))
			continue
		}
		valid = append(valid, t)
	}
	return valid
}

func (p *Pool) runOne(ctx context.Context, name string, t task.Task, record func(string, outcome, string)) {
	if err := p.store.SetStatus(t.ID, task.StatusInProgress, name, "", ""); err != nil {
		record(t.ID, outcomeFailed, "failed: "+err.Error())
		return
	}
	result, err := p.run(ctx, name, t)
	if err != nil {
		p.log.Warn("task failed", zap.String("task", t.ID), zap.Error(err))
		if serr := p.store.SetStatus(t.ID, task.StatusFailed, "", "", err.Error()); serr != nil {
			p.log.Error("status update failed", zap.String("task", t.ID), zap.Error(serr))
		}
		record(t.ID, outcomeFailed, "failed: "+err.Error())
		return
	}
	if serr := p.store.SetStatus(t.ID, task.StatusCompleted, "", result, ""); serr != nil {
		p.log.Error("status update failed", zap.String("task", t.ID), zap.Error(serr))
	}
	record(t.ID, outcomeCompleted, "completed: "+clip(result, 80))
}

func firstFailedDep(t task.Task, failed map[string]bool) string {
	for _, dep := range t.Dependencies {
		if failed[dep] {
			return dep
		}
	}
	return ""
}

func runSummary(ids []string, fates map[string]outcome, results map[string]string) string {
	counts := map[outcome]int{}
	for _, o := range fates {
		counts[o]++
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Parallel run finished: %d completed, %d failed, %d skipped",
		counts[outcomeCompleted], counts[outcomeFailed], counts[outcomeSkipped])
	if n := counts[outcomeBlocked] + counts[outcomeInvalid]; n > 0 {
		fmt.Fprintf(&sb, ", %d not runnable", n)
	}
	sb.WriteString("\n")

	seen := make(map[string]bool)
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if line, ok := results[id]; ok {
			fmt.Fprintf(&sb, "- %s: %s\n", id, line)
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}
