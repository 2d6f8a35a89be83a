package task

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Statistics summarizes the task list by status. It is derived state,
// recomputed on every save, never edited directly.
type Statistics struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	InProgress int `json:"in_progress"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// Document is the on-disk shape of the task file.
type Document struct {
	ProjectName string     `json:"project_name"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	Status      string     `json:"status"`
	CurrentTask *string    `json:"current_task"`
	Tasks       []*Task    `json:"tasks"`
	Statistics  Statistics `json:"statistics"`
}

// Store owns the task document. All mutations hold the store lock and
// rewrite the whole file, so concurrent workers never interleave
// partial writes.
type Store struct {
	mu   sync.Mutex
	path string
	doc  Document
	now  func() time.Time
}

// CreateParams carries the caller-supplied fields for a new task.
type CreateParams struct {
	Title              string
	Description        string
	Type               Type
	Priority           int
	Dependencies       []string
	FilesToModify      []string
	AcceptanceCriteria []string
}

// NewStore opens the document at path, creating it when absent.
func NewStore(path, projectName string) (*Store, error) {
	s := &Store{path: path, now: time.Now}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &s.doc); err != nil {
			return nil, fmt.Errorf("parse task file %s: %w", path, err)
		}
	case os.IsNotExist(err):
		now := s.now().UTC()
		s.doc = Document{
			ProjectName: projectName,
			CreatedAt:   now,
			UpdatedAt:   now,
			Status:      "active",
			Tasks:       []*Task{},
		}
		if err := s.save(); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("read task file %s: %w", path, err)
	}
	return s, nil
}

// save recomputes statistics and rewrites the document. Callers hold mu.
func (s *Store) save() error {
	stats := Statistics{Total: len(s.doc.Tasks)}
	for _, t := range s.doc.Tasks {
		switch t.Status {
		case StatusPending:
			stats.Pending++
		case StatusInProgress:
			stats.InProgress++
		case StatusCompleted:
			stats.Completed++
		case StatusFailed:
			stats.Failed++
		}
	}
	s.doc.Statistics = stats
	s.doc.UpdatedAt = s.now().UTC()

	data, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode task file: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create task dir: %w", err)
		}
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("write task file %s: %w", s.path, err)
	}
	return nil
}

// Create appends a new pending task and returns a copy of it. The ID
// embeds the creation timestamp plus an ordinal so IDs sort by age.
func (s *Store) Create(p CreateParams) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	n := len(s.doc.Tasks) + 1
	id := fmt.Sprintf("task_%s_%d", now.Format("20060102150405"), n)
	for s.findLocked(id) != nil {
		n++
		id = fmt.Sprintf("task_%s_%d", now.Format("20060102150405"), n)
	}

	t := &Task{
		ID:                 id,
		Title:              p.Title,
		Description:        p.Description,
		Type:               normalizeType(p.Type),
		Priority:           clampPriority(p.Priority),
		Status:             StatusPending,
		Dependencies:       append([]string{}, p.Dependencies...),
		CreatedAt:          now,
		FilesToModify:      append([]string{}, p.FilesToModify...),
		AcceptanceCriteria: append([]string{}, p.AcceptanceCriteria...),
		Notes:              []Note{},
	}
	s.doc.Tasks = append(s.doc.Tasks, t)
	if err := s.save(); err != nil {
		return Task{}, err
	}
	return *t, nil
}

func (s *Store) findLocked(id string) *Task {
	for _, t := range s.doc.Tasks {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// Get returns a copy of the task with the given ID.
func (s *Store) Get(id string) (Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t := s.findLocked(id); t != nil {
		return *t, true
	}
	return Task{}, false
}

// All returns copies of every task in creation order.
func (s *Store) All() []Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Task, 0, len(s.doc.Tasks))
	for _, t := range s.doc.Tasks {
		out = append(out, *t)
	}
	return out
}

// ErrBadTransition is returned when a status change would move a task
// backwards or out of a terminal state.
type ErrBadTransition struct {
	ID   string
	From Status
	To   Status
}

func (e *ErrBadTransition) Error() string {
	return fmt.Sprintf("task %s: invalid transition %s -> %s", e.ID, e.From, e.To)
}

func validTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusInProgress
	case StatusInProgress:
		return to == StatusCompleted || to == StatusFailed
	default:
		return false
	}
}

// SetStatus advances a task through its lifecycle. Moving to
// in_progress stamps started_at and records the assignee; reaching a
// terminal state stamps completed_at and stores the result summary or
// error log. Backwards moves fail with ErrBadTransition.
func (s *Store) SetStatus(id string, to Status, assignee, result, errLog string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.findLocked(id)
	if t == nil {
		return fmt.Errorf("task %s not found", id)
	}
	if !validTransition(t.Status, to) {
		return &ErrBadTransition{ID: id, From: t.Status, To: to}
	}

	now := s.now().UTC()
	t.Status = to
	switch to {
	case StatusInProgress:
		t.StartedAt = &now
		if assignee != "" {
			t.AssignedTo = assignee
		}
		cur := t.ID
		s.doc.CurrentTask = &cur
	case StatusCompleted:
		t.CompletedAt = &now
		t.ResultSummary = result
		s.clearCurrentLocked(t.ID)
	case StatusFailed:
		t.CompletedAt = &now
		t.ErrorLog = errLog
		if result != "" {
			t.ResultSummary = result
		}
		s.clearCurrentLocked(t.ID)
	}
	return s.save()
}

func (s *Store) clearCurrentLocked(id string) {
	if s.doc.CurrentTask != nil && *s.doc.CurrentTask == id {
		s.doc.CurrentTask = nil
	}
}

// GetReady returns copies of every pending task whose dependencies
// have completed, ordered by priority then creation order.
func (s *Store) GetReady() []Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	done := make(map[string]bool, len(s.doc.Tasks))
	for _, t := range s.doc.Tasks {
		done[t.ID] = t.Status == StatusCompleted
	}
	var out []Task
	for _, t := range s.doc.Tasks {
		if t.Ready(done) {
			out = append(out, *t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority < out[j].Priority
	})
	return out
}

// AddNote appends a timestamped annotation to the task.
func (s *Store) AddNote(id, author, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.findLocked(id)
	if t == nil {
		return fmt.Errorf("task %s not found", id)
	}
	t.Notes = append(t.Notes, Note{Timestamp: s.now().UTC(), Author: author, Content: content})
	return s.save()
}

// ClearCompleted removes completed tasks and returns how many were
// dropped. Remaining tasks keep any dependency references; a dependency
// on a removed task counts as satisfied since it completed.
func (s *Store) ClearCompleted() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := make(map[string]bool)
	kept := s.doc.Tasks[:0]
	for _, t := range s.doc.Tasks {
		if t.Status == StatusCompleted {
			removed[t.ID] = true
		} else {
			kept = append(kept, t)
		}
	}
	if len(removed) == 0 {
		return 0, nil
	}
	for _, t := range kept {
		deps := t.Dependencies[:0]
		for _, d := range t.Dependencies {
			if !removed[d] {
				deps = append(deps, d)
			}
		}
		t.Dependencies = deps
	}
	s.doc.Tasks = kept
	return len(removed), s.save()
}

// Stats returns the current derived counts.
func (s *Store) Stats() Statistics {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := Statistics{Total: len(s.doc.Tasks)}
	for _, t := range s.doc.Tasks {
		switch t.Status {
		case StatusPending:
			stats.Pending++
		case StatusInProgress:
			stats.InProgress++
		case StatusCompleted:
			stats.Completed++
		case StatusFailed:
			stats.Failed++
		}
	}
	return stats
}

// ProjectName returns the document's project name.
func (s *Store) ProjectName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.ProjectName
}

// Path returns the location of the backing file.
func (s *Store) Path() string { return s.path }
