// Package session stores ad-hoc chat transcripts as JSON files, one
// per conversation, separate from the leader's working history.
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/stewardai/steward/provider"
)

// Session is one saved conversation.
type Session struct {
	Title    string             `json:"title"`
	Messages []provider.Message `json:"messages"`
}

// Entry identifies a stored session in a listing. N is the 1-based
// position used by load and delete, newest first.
type Entry struct {
	N     int
	Title string
	Saved time.Time
	Turns int
	file  string
}

// Manager reads and writes sessions under a single directory.
type Manager struct {
	dir string
}

// NewManager ensures the session directory exists.
func NewManager(dir string) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create session dir %s: %w", dir, err)
	}
	return &Manager{dir: dir}, nil
}

// Save writes a new session file. The title defaults to the first
// user message, truncated.
func (m *Manager) Save(title string, messages []provider.Message) error {
	if title == "" {
		title = deriveTitle(messages)
	}
	s := Session{Title: title, Messages: messages}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	name := fmt.Sprintf("sess_%s.json", time.Now().UTC().Format("20060102150405"))
	path := filepath.Join(m.dir, name)
	for i := 2; ; i++ {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			break
		}
		path = filepath.Join(m.dir, fmt.Sprintf("sess_%s_%d.json", time.Now().UTC().Format("20060102150405"), i))
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	return nil
}

func deriveTitle(messages []provider.Message) string {
	for _, msg := range messages {
		if msg.Role == provider.RoleUser && msg.Content != "" {
			t := strings.TrimSpace(msg.Content)
			if len(t) > 60 {
				t = t[:60] + "..."
			}
			return t
		}
	}
	return "untitled"
}

// List returns stored sessions, newest first.
func (m *Manager) List() ([]Entry, error) {
	files, err := filepath.Glob(filepath.Join(m.dir, "sess_*.json"))
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(files)))

	entries := make([]Entry, 0, len(files))
	for i, f := range files {
		s, err := readSession(f)
		if err != nil {
			continue
		}
		info, err := os.Stat(f)
		if err != nil {
			continue
		}
		entries = append(entries, Entry{
			N:     i + 1,
			Title: s.Title,
			Saved: info.ModTime(),
			Turns: len(s.Messages),
			file:  f,
		})
	}
	return entries, nil
}

// Load returns the nth session from List ordering.
func (m *Manager) Load(n int) (*Session, error) {
	entry, err := m.find(n)
	if err != nil {
		return nil, err
	}
	return readSession(entry.file)
}

// Delete removes the nth session from List ordering.
func (m *Manager) Delete(n int) error {
	entry, err := m.find(n)
	if err != nil {
		return err
	}
	if err := os.Remove(entry.file); err != nil {
		return fmt.Errorf("delete session %d: %w", n, err)
	}
	return nil
}

func (m *Manager) find(n int) (Entry, error) {
	entries, err := m.List()
	if err != nil {
		return Entry{}, err
	}
	if n < 1 || n > len(entries) {
		return Entry{}, fmt.Errorf("no session %d, have %d", n, len(entries))
	}
	return entries[n-1], nil
}

func readSession(path string) (*Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read session %s: %w", path, err)
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse session %s: %w", path, err)
	}
	return &s, nil
}
