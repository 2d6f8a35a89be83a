package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/stewardai/steward/provider"
	"github.com/stewardai/steward/task"
)

const (
	// maxWorkerIterations bounds a worker's tool-call loop.
	maxWorkerIterations = 20
	// workerTruncateAt trims an oversized worker conversation back to
	// the system prompt plus the most recent messages.
	workerTruncateAt = 50
)

// ErrMaxIterations is returned when a worker exhausts its loop bound
// without the model producing a final answer.
var ErrMaxIterations = errors.New("worker hit iteration limit")

// ModelCaller is the slice of the model interface agents need.
type ModelCaller interface {
	Call(ctx context.Context, messages []provider.Message, tools []provider.ToolDef, stream bool) (string, []provider.ToolCall, error)
}

// ToolBridge is the tool surface agents dispatch to.
type ToolBridge interface {
	ListTools(ctx context.Context) []provider.ToolDef
	Call(ctx context.Context, name string, args map[string]any) (string, error)
}

// Worker runs the bounded tool-call loop for exactly one task.
type Worker struct {
	Name   string
	model  ModelCaller
	bridge ToolBridge
	policy *Policy
	log    *zap.Logger
	out    io.Writer
}

// NewWorker wires a worker. policy may be nil to allow every tool.
func NewWorker(name string, m ModelCaller, b ToolBridge, policy *Policy, log *zap.Logger, out io.Writer) *Worker {
	if log == nil {
		log = zap.NewNop()
	}
	if out == nil {
		out = io.Discard
	}
	if policy == nil {
		policy = AllowAll()
	}
	return &Worker{Name: name, model: m, bridge: b, policy: policy, log: log, out: out}
}

// Run executes the task and returns the model's final answer. Tool
// failures flow back to the model as error text; only model-call
// failures and the iteration cap end the run with an error.
func (w *Worker) Run(ctx context.Context, t task.Task) (string, error) {
	if w.bridge == nil {
		return "", fmt.Errorf("task %s: no tool bridge available", t.ID)
	}
	tools := w.bridge.ListTools(ctx)

	msgs := []provider.Message{
		{Role: provider.RoleSystem, Content: workerPrompt(t, len(tools))},
		{Role: provider.RoleUser, Content: "Complete the task now. Report what you did when finished."},
	}

	w.log.Info("worker starting",
		zap.String("worker", w.Name), zap.String("task", t.ID), zap.String("title", t.Title))

	for i := 0; i < maxWorkerIterations; i++ {
		content, calls, err := w.model.Call(ctx, msgs, tools, false)
		if err != nil {
			return "", fmt.Errorf("task %s: %w", t.ID, err)
		}
		if len(calls) == 0 {
			w.log.Info("worker done", zap.String("task", t.ID), zap.Int("iterations", i+1))
			return content, nil
		}

		msgs = append(msgs, provider.Message{
			Role:      provider.RoleAssistant,
			Content:   content,
			ToolCalls: calls,
		})
		for _, tc := range calls {
			fmt.Fprintf(w.out, "[%s] calling tool %s\n", w.Name, tc.Name)
			msgs = append(msgs, provider.Message{
				Role:       provider.RoleTool,
				ToolCallID: tc.ID,
				Name:       tc.Name,
				Content:    w.dispatch(ctx, tc),
			})
		}
		msgs = truncateWorkerHistory(msgs)
	}
	return "", fmt.Errorf("task %s: %w", t.ID, ErrMaxIterations)
}

// dispatch runs one tool call, converting every failure into error
// text the model can react to in-band.
func (w *Worker) dispatch(ctx context.Context, tc provider.ToolCall) string {
	if !w.policy.Allow(tc.Name) {
		return fmt.Sprintf("Error: permission denied for tool %s", tc.Name)
	}
	result, err := w.bridge.Call(ctx, tc.Name, parseArgs(tc.Arguments))
	if err != nil {
		w.log.Warn("tool call failed", zap.String("tool", tc.Name), zap.Error(err))
		return "Error: " + err.Error()
	}
	return result
}

func truncateWorkerHistory(msgs []provider.Message) []provider.Message {
	if len(msgs) <= workerTruncateAt {
		return msgs
	}
	out := make([]provider.Message, 0, keepTail+1)
	out = append(out, msgs[0])
	out = append(out, msgs[len(msgs)-keepTail:]...)
	return out
}

func workerPrompt(t task.Task, toolCount int) string {
	var sb strings.Builder
	sb.WriteString("You are a worker agent assigned exactly one task. Use the available tools to complete it, then reply with a short summary of what you did.\n\n")
	fmt.Fprintf(&sb, "Task %s: %s\n", t.ID, t.Title)
	fmt.Fprintf(&sb, "Type: %s\n", t.Type)
	if t.Description != "" {
		fmt.Fprintf(&sb, "Description: %s\n", t.Description)
	}
	if len(t.FilesToModify) > 0 {
		fmt.Fprintf(&sb, "Files to modify: %s\n", strings.Join(t.FilesToModify, ", "))
	}
	if len(t.AcceptanceCriteria) > 0 {
		sb.WriteString("Acceptance criteria:\n")
		for _, c := range t.AcceptanceCriteria {
			fmt.Fprintf(&sb, "- %s\n", c)
		}
	}
	fmt.Fprintf(&sb, "\nYou have %d tools available.", toolCount)
	return sb.String()
}
