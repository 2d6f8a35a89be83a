// Package mock provides a scripted chat-completion provider for testing.
package mock

import (
	"context"
	"sync"

	"github.com/stewardai/steward/provider"
)

const defaultResponse = "Task acknowledged. Working on it."

// Turn is one scripted provider exchange. Err takes precedence; Events (if
// set) drive Stream verbatim, otherwise events are synthesized from Content
// and ToolCalls.
type Turn struct {
	Content   string
	ToolCalls []provider.ToolCall
	Events    []provider.StreamEvent
	Err       error
}

// Provider implements provider.Provider with a scripted queue of turns.
// Once the queue is exhausted it keeps returning the default response, so
// agent loops that keep talking terminate instead of erroring.
type Provider struct {
	mu    sync.Mutex
	turns []Turn
	calls int
}

// New creates a Provider that replies with the given turns in order.
func New(turns ...Turn) *Provider {
	return &Provider{turns: turns}
}

// Say is a convenience constructor for text-only scripts.
func Say(responses ...string) *Provider {
	turns := make([]Turn, len(responses))
	for i, r := range responses {
		turns[i] = Turn{Content: r}
	}
	return New(turns...)
}

// Calls reports how many requests the provider has served.
func (m *Provider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *Provider) Name() string { return "mock" }

func (m *Provider) next() Turn {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if len(m.turns) == 0 {
		return Turn{Content: defaultResponse}
	}
	t := m.turns[0]
	m.turns = m.turns[1:]
	return t
}

// Chat returns the next scripted turn.
func (m *Provider) Chat(_ context.Context, _ []provider.Message, _ []provider.ToolDef) (*provider.Response, error) {
	t := m.next()
	if t.Err != nil {
		return nil, t.Err
	}
	return &provider.Response{
		Content:   t.Content,
		ToolCalls: t.ToolCalls,
		Usage:     provider.Usage{OutputTokens: len(t.Content)},
	}, nil
}

// Stream replays the next scripted turn as stream events.
func (m *Provider) Stream(_ context.Context, _ []provider.Message, _ []provider.ToolDef) (<-chan provider.StreamEvent, error) {
	t := m.next()
	if t.Err != nil {
		return nil, t.Err
	}

	events := t.Events
	if events == nil {
		if t.Content != "" {
			events = append(events, provider.StreamEvent{Type: "text", Text: t.Content})
		}
		for i, tc := range t.ToolCalls {
			events = append(events, provider.StreamEvent{
				Type:         "tool_call_delta",
				Index:        i,
				ID:           tc.ID,
				NameFragment: tc.Name,
				ArgsFragment: tc.Arguments,
			})
		}
		events = append(events, provider.StreamEvent{
			Type:  "done",
			Usage: &provider.Usage{OutputTokens: len(t.Content)},
		})
	}

	ch := make(chan provider.StreamEvent, len(events))
	go func() {
		defer close(ch)
		for _, ev := range events {
			ch <- ev
		}
	}()
	return ch, nil
}
