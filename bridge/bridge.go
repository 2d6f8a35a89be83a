// Package bridge connects to MCP tool servers over subprocess
// transports and flattens their tools into a single namespace the
// model can call.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/stewardai/steward/provider"
)

const (
	// ListTimeout bounds tool discovery per server.
	ListTimeout = 10 * time.Second
	// CallTimeout bounds a single tool execution.
	CallTimeout = 30 * time.Second
	// nameSep joins server and tool into the namespaced name exposed
	// to the model, as in "fs__read_file".
	nameSep = "__"
)

// Bridge multiplexes tool calls across connected MCP server sessions.
type Bridge struct {
	log *zap.Logger

	mu       sync.Mutex
	sessions map[string]*gomcp.ClientSession
}

// New returns a Bridge with no connected servers.
func New(log *zap.Logger) *Bridge {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bridge{log: log, sessions: make(map[string]*gomcp.ClientSession)}
}

// Start launches the configured server as a subprocess and connects an
// MCP session to it under the given name.
func (b *Bridge) Start(ctx context.Context, name string, cfg ServerConfig) error {
	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Env = os.Environ()
	for k, v := range cfg.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	return b.Connect(ctx, name, &gomcp.CommandTransport{Command: cmd})
}

// Connect attaches a session over an arbitrary transport. Used
// directly by tests with in-memory transports.
func (b *Bridge) Connect(ctx context.Context, name string, t gomcp.Transport) error {
	if strings.Contains(name, nameSep) {
		return fmt.Errorf("server name %q must not contain %q", name, nameSep)
	}
	client := gomcp.NewClient(&gomcp.Implementation{Name: "steward", Version: "1.0"}, nil)
	session, err := client.Connect(ctx, t, nil)
	if err != nil {
		return fmt.Errorf("connect to server %s: %w", name, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if old, ok := b.sessions[name]; ok {
		old.Close()
	}
	b.sessions[name] = session
	b.log.Info("tool server connected", zap.String("server", name))
	return nil
}

// Servers returns the connected server names, sorted.
func (b *Bridge) Servers() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	names := make([]string, 0, len(b.sessions))
	for name := range b.sessions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ListTools queries every connected server and returns its tools with
// namespaced names. A server that fails discovery is logged and
// skipped so one bad server does not hide the rest.
func (b *Bridge) ListTools(ctx context.Context) []provider.ToolDef {
	b.mu.Lock()
	type entry struct {
		name    string
		session *gomcp.ClientSession
	}
	servers := make([]entry, 0, len(b.sessions))
	for name, s := range b.sessions {
		servers = append(servers, entry{name, s})
	}
	b.mu.Unlock()
	sort.Slice(servers, func(i, j int) bool { return servers[i].name < servers[j].name })

	var defs []provider.ToolDef
	for _, srv := range servers {
		lctx, cancel := context.WithTimeout(ctx, ListTimeout)
		res, err := srv.session.ListTools(lctx, nil)
		cancel()
		if err != nil {
			b.log.Warn("tool discovery failed",
				zap.String("server", srv.name), zap.Error(err))
			continue
		}
		for _, tool := range res.Tools {
			defs = append(defs, provider.ToolDef{
				Name:        srv.name + nameSep + tool.Name,
				Description: tool.Description,
				Parameters:  schemaToMap(tool.InputSchema),
			})
		}
	}
	return defs
}

func schemaToMap(schema any) map[string]any {
	if schema == nil {
		return map[string]any{"type": "object"}
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil || m == nil {
		return map[string]any{"type": "object"}
	}
	return m
}

// SplitName breaks a namespaced tool name into server and tool parts.
func SplitName(name string) (server, tool string, ok bool) {
	i := strings.Index(name, nameSep)
	if i <= 0 || i+len(nameSep) >= len(name) {
		return "", "", false
	}
	return name[:i], name[i+len(nameSep):], true
}

// Call invokes a namespaced tool and flattens the result to text.
// A result flagged as an error by the server comes back as a Go error
// carrying the flattened text.
func (b *Bridge) Call(ctx context.Context, name string, args map[string]any) (string, error) {
	server, tool, ok := SplitName(name)
	if !ok {
		return "", fmt.Errorf("malformed tool name %q, want server__tool", name)
	}

	b.mu.Lock()
	session := b.sessions[server]
	b.mu.Unlock()
	if session == nil {
		return "", fmt.Errorf("no tool server named %q", server)
	}

	cctx, cancel := context.WithTimeout(ctx, CallTimeout)
	defer cancel()

	b.log.Debug("calling tool", zap.String("tool", name))
	res, err := session.CallTool(cctx, &gomcp.CallToolParams{Name: tool, Arguments: args})
	if err != nil {
		return "", fmt.Errorf("tool %s: %w", name, err)
	}
	text := flatten(res.Content)
	if res.IsError {
		return "", fmt.Errorf("tool %s: %s", name, text)
	}
	return text, nil
}

func flatten(content []gomcp.Content) string {
	var sb strings.Builder
	for _, c := range content {
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		switch v := c.(type) {
		case *gomcp.TextContent:
			sb.WriteString(v.Text)
		default:
			if data, err := json.Marshal(v); err == nil {
				sb.Write(data)
			}
		}
	}
	return sb.String()
}

// Close shuts down every session. Safe to call more than once.
func (b *Bridge) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for name, s := range b.sessions {
		s.Close()
		delete(b.sessions, name)
	}
}
