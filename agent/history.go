package agent

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/stewardai/steward/provider"
)

const (
	// compactThreshold is the message count past which history is
	// summarized before persisting or re-sending.
	compactThreshold = 50
	// keepTail is how many recent messages survive compaction intact.
	keepTail = 15
	// summaryLines caps the summary of the compacted span.
	summaryLines = 20
)

// History is the leader's rolling conversation. The first message is
// always the system prompt; it is rewritten in place each turn because
// it embeds the live task list.
type History struct {
	path     string
	messages []provider.Message
}

// NewHistory creates a history seeded with the system prompt, loading
// any previously persisted conversation from path. path may be empty
// for an unpersisted history.
func NewHistory(path, systemPrompt string) (*History, error) {
	h := &History{path: path}
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := json.Unmarshal(data, &h.messages); err != nil {
				return nil, fmt.Errorf("parse history %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read history %s: %w", path, err)
		}
	}
	if len(h.messages) == 0 || h.messages[0].Role != provider.RoleSystem {
		h.messages = append([]provider.Message{{Role: provider.RoleSystem, Content: systemPrompt}}, h.messages...)
	} else {
		h.messages[0].Content = systemPrompt
	}
	return h, nil
}

// SetSystem rewrites the system prompt without touching the rest.
func (h *History) SetSystem(prompt string) {
	h.messages[0] = provider.Message{Role: provider.RoleSystem, Content: prompt}
}

// Append adds messages to the tail.
func (h *History) Append(msgs ...provider.Message) {
	h.messages = append(h.messages, msgs...)
}

// Messages returns the current conversation, compacted if oversized.
func (h *History) Messages() []provider.Message {
	h.compact()
	return h.messages
}

// Len reports the current message count.
func (h *History) Len() int { return len(h.messages) }

// Reset drops everything but a fresh system prompt and persists the
// emptied conversation.
func (h *History) Reset() error {
	h.messages = []provider.Message{{Role: provider.RoleSystem, Content: h.messages[0].Content}}
	return h.Save()
}

// Save compacts and rewrites the history file wholesale.
func (h *History) Save() error {
	h.compact()
	if h.path == "" {
		return nil
	}
	data, err := json.MarshalIndent(h.messages, "", "  ")
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	if dir := filepath.Dir(h.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create history dir: %w", err)
		}
	}
	if err := os.WriteFile(h.path, data, 0o644); err != nil {
		return fmt.Errorf("write history %s: %w", h.path, err)
	}
	return nil
}

// compact replaces the middle of an oversized conversation with a
// short summary. The system prompt and the most recent keepTail
// messages pass through untouched.
func (h *History) compact() {
	if len(h.messages) <= compactThreshold {
		return
	}
	older := h.messages[1 : len(h.messages)-keepTail]
	tail := h.messages[len(h.messages)-keepTail:]

	summary := provider.Message{
		Role:    provider.RoleUser,
		Content: "Summary of earlier conversation:\n" + summarize(older),
	}
	compacted := make([]provider.Message, 0, keepTail+2)
	compacted = append(compacted, h.messages[0], summary)
	compacted = append(compacted, tail...)
	h.messages = compacted
}

func summarize(msgs []provider.Message) string {
	var lines []string
	for _, m := range msgs {
		switch m.Role {
		case provider.RoleUser:
			lines = append(lines, "user: "+clip(m.Content, 100))
		case provider.RoleAssistant:
			if len(m.ToolCalls) > 0 {
				names := make([]string, 0, 3)
				for _, tc := range m.ToolCalls {
					if len(names) == 3 {
						break
					}
					names = append(names, tc.Name)
				}
				lines = append(lines, "assistant called tools: "+strings.Join(names, ", "))
			} else if m.Content != "" {
				lines = append(lines, "assistant: "+clip(m.Content, 100))
			}
		case provider.RoleTool:
			lines = append(lines, "tool result: "+clip(m.Content, 50))
		}
	}
	if len(lines) > summaryLines {
		lines = lines[len(lines)-summaryLines:]
	}
	return strings.Join(lines, "\n")
}

// clip shortens s to at most n runes, never splitting a multi-byte
// character.
func clip(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
