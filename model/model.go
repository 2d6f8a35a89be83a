// Package model wraps a chat-completion provider with retry, streaming
// assembly, output cleanup, and tool-call extraction fallbacks.
package model

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/stewardai/steward/provider"
)

// Retry policy for transient provider failures.
const (
	MaxRetries = 3
	BaseDelay  = 1 * time.Second
	MaxDelay   = 30 * time.Second
)

// transientSignatures mark provider errors worth retrying. Anything else
// aborts immediately.
var transientSignatures = []string{
	"rate limit", "429", "too many requests",
	"timeout", "timed out", "connection",
	"network", "temporary", "unavailable",
	"overloaded", "capacity",
}

// CallError reports a model call that failed after exhausting retries.
type CallError struct {
	Attempts int
	Err      error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("model call failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

// Interface is the single entry point for talking to the model. It owns the
// retry loop and normalizes streaming and non-streaming turns into
// (text, tool calls).
type Interface struct {
	prov       provider.Provider
	log        *zap.Logger
	out        io.Writer // incremental streamed text; nil discards
	extractors []Extractor

	// sleep is swapped out in tests to avoid real backoff delays.
	sleep func(ctx context.Context, d time.Duration) error
}

// Option configures an Interface.
type Option func(*Interface)

// WithOutput directs cleaned streaming text to w as it arrives.
func WithOutput(w io.Writer) Option {
	return func(m *Interface) { m.out = w }
}

// New creates an Interface over the given provider.
func New(p provider.Provider, log *zap.Logger, opts ...Option) *Interface {
	if log == nil {
		log = zap.NewNop()
	}
	m := &Interface{
		prov:       p,
		log:        log,
		extractors: []Extractor{StructuredExtractor{}, TextPatternExtractor{}},
		sleep:      sleepCtx,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Call sends the full message history to the provider and returns the
// assistant text plus any requested tool calls. Transient failures are
// retried up to MaxRetries times with exponential backoff and jitter; after
// that a *CallError is returned. Non-transient failures abort immediately.
func (m *Interface) Call(ctx context.Context, messages []provider.Message, tools []provider.ToolDef, stream bool) (string, []provider.ToolCall, error) {
	var lastErr error

	for attempt := 0; attempt <= MaxRetries; attempt++ {
		if attempt > 0 {
			d := backoffDelay(attempt - 1)
			m.log.Warn("retrying model call",
				zap.Int("attempt", attempt),
				zap.Duration("delay", d),
				zap.Error(lastErr))
			if err := m.sleep(ctx, d); err != nil {
				return "", nil, err
			}
		}

		var (
			content string
			calls   []provider.ToolCall
			err     error
		)
		if stream {
			content, calls, err = m.streamOnce(ctx, messages, tools)
		} else {
			content, calls, err = m.chatOnce(ctx, messages, tools)
		}
		if err == nil {
			if attempt > 0 {
				m.log.Info("model call recovered", zap.Int("attempt", attempt+1))
			}
			calls = m.extract(Turn{Content: content, ToolCalls: calls}, len(tools) > 0)
			return content, calls, nil
		}

		lastErr = err
		if !isTransient(err) {
			return "", nil, fmt.Errorf("model call: %w", err)
		}
	}

	return "", nil, &CallError{Attempts: MaxRetries + 1, Err: lastErr}
}

func (m *Interface) chatOnce(ctx context.Context, messages []provider.Message, tools []provider.ToolDef) (string, []provider.ToolCall, error) {
	resp, err := m.prov.Chat(ctx, messages, tools)
	if err != nil {
		return "", nil, err
	}
	return CleanFinal(resp.Content), resp.ToolCalls, nil
}

// streamOnce consumes one streamed response: text deltas are cleaned and
// echoed incrementally, tool-call deltas are assembled by index with name and
// argument fragments appended in arrival order.
func (m *Interface) streamOnce(ctx context.Context, messages []provider.Message, tools []provider.ToolDef) (string, []provider.ToolCall, error) {
	ch, err := m.prov.Stream(ctx, messages, tools)
	if err != nil {
		return "", nil, err
	}

	var raw strings.Builder
	var pending []provider.ToolCall

	for {
		select {
		case <-ctx.Done():
			return "", nil, ctx.Err()
		case ev, ok := <-ch:
			if !ok {
				goto finished
			}
			switch ev.Type {
			case "text":
				raw.WriteString(ev.Text)
				if m.out != nil {
					if clean := CleanOutput(ev.Text); clean != "" {
						fmt.Fprint(m.out, clean)
					}
				}
			case "tool_call_delta":
				// Grow lazily; providers may open a later index first.
				for len(pending) <= ev.Index {
					pending = append(pending, provider.ToolCall{
						ID: fmt.Sprintf("tc_%d", len(pending)),
					})
				}
				tc := &pending[ev.Index]
				if ev.ID != "" {
					tc.ID = ev.ID
				}
				tc.Name += ev.NameFragment
				tc.Arguments += ev.ArgsFragment
			case "error":
				return "", nil, errors.New(ev.Error)
			case "done":
				// Keep draining until the channel closes.
			}
		}
	}

finished:
	if m.out != nil && raw.Len() > 0 {
		fmt.Fprintln(m.out)
	}
	return CleanFinal(raw.String()), pending, nil
}

// extract runs the extractor chain over a completed turn: structured calls
// win outright; the text-pattern fallback only applies when tools were
// actually offered, since otherwise JSON in prose is just prose.
func (m *Interface) extract(turn Turn, toolsOffered bool) []provider.ToolCall {
	for _, ex := range m.extractors {
		if _, fallback := ex.(TextPatternExtractor); fallback && !toolsOffered {
			continue
		}
		if calls := ex.Extract(turn); len(calls) > 0 {
			if _, fallback := ex.(TextPatternExtractor); fallback {
				m.log.Debug("recovered tool calls from text",
					zap.Int("count", len(calls)))
			}
			return calls
		}
	}
	return nil
}

func isTransient(err error) bool {
	s := strings.ToLower(err.Error())
	for _, sig := range transientSignatures {
		if strings.Contains(s, sig) {
			return true
		}
	}
	return false
}

// backoffDelay computes min(BaseDelay*2^attempt, MaxDelay) scaled by a
// uniform jitter factor in [0.5, 1.5).
func backoffDelay(attempt int) time.Duration {
	d := BaseDelay << attempt
	if d > MaxDelay {
		d = MaxDelay
	}
	jitter := 0.5 + rand.Float64()
	return time.Duration(float64(d) * jitter)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
