// Package task persists the project task list as a single JSON
// document and enforces the lifecycle rules tasks move through.
package task

import "time"

// Status is the lifecycle state of a task. Transitions are one way:
// pending -> in_progress -> completed or failed.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Type categorizes the work a task describes.
type Type string

const (
	TypeCode     Type = "code"
	TypeDoc      Type = "doc"
	TypeConfig   Type = "config"
	TypeTest     Type = "test"
	TypeReview   Type = "review"
	TypeRefactor Type = "refactor"
	TypeFix      Type = "fix"
)

// Priority ranges 1 (highest) to 5 (lowest). Out-of-range values are
// clamped on creation.
const (
	PriorityHighest = 1
	PriorityDefault = 3
	PriorityLowest  = 5
)

// Note is a timestamped annotation attached to a task.
type Note struct {
	Timestamp time.Time `json:"timestamp"`
	Author    string    `json:"author"`
	Content   string    `json:"content"`
}

// Task is a single unit of delegated work.
type Task struct {
	ID                 string     `json:"id"`
	Title              string     `json:"title"`
	Description        string     `json:"description"`
	Type               Type       `json:"type"`
	Priority           int        `json:"priority"`
	Status             Status     `json:"status"`
	Dependencies       []string   `json:"dependencies"`
	AssignedTo         string     `json:"assigned_to"`
	CreatedAt          time.Time  `json:"created_at"`
	StartedAt          *time.Time `json:"started_at"`
	CompletedAt        *time.Time `json:"completed_at"`
	FilesToModify      []string   `json:"files_to_modify"`
	AcceptanceCriteria []string   `json:"acceptance_criteria"`
	ResultSummary      string     `json:"result_summary"`
	ErrorLog           string     `json:"error_log"`
	Notes              []Note     `json:"notes"`
}

// Ready reports whether the task is pending and every dependency in
// done is satisfied. done maps task ID to completion.
func (t *Task) Ready(done map[string]bool) bool {
	if t.Status != StatusPending {
		return false
	}
	for _, dep := range t.Dependencies {
		if !done[dep] {
			return false
		}
	}
	return true
}

func clampPriority(p int) int {
	if p < PriorityHighest {
		return PriorityDefault
	}
	if p > PriorityLowest {
		return PriorityLowest
	}
	return p
}

func normalizeType(t Type) Type {
	switch t {
	case TypeCode, TypeDoc, TypeConfig, TypeTest, TypeReview, TypeRefactor, TypeFix:
		return t
	default:
		return TypeCode
	}
}
