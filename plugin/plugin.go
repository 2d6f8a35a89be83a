// Package plugin resolves capability gaps to installable MCP tool
// servers. Installation edits the server registry file; launching the
// subprocess is the bridge's job.
package plugin

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/stewardai/steward/bridge"
)

// Plugin describes one installable tool server. RequiredEnv names the
// environment variables the server cannot start without.
type Plugin struct {
	Name        string              `json:"name"`
	Description string              `json:"description"`
	Keywords    []string            `json:"keywords"`
	RequiredEnv []string            `json:"required_env,omitempty"`
	Server      bridge.ServerConfig `json:"server"`
}

// Catalog is a searchable set of known plugins.
type Catalog struct {
	mu      sync.RWMutex
	entries map[string]Plugin
}

// NewCatalog builds a catalog from the given plugins.
func NewCatalog(plugins ...Plugin) *Catalog {
	c := &Catalog{entries: make(map[string]Plugin, len(plugins))}
	for _, p := range plugins {
		c.entries[p.Name] = p
	}
	return c
}

// DefaultCatalog lists the tool servers steward knows how to install.
func DefaultCatalog() *Catalog {
	return NewCatalog(
		Plugin{
			Name:        "filesystem",
			Description: "Read, write, and list files under allowed directories.",
			Keywords:    []string{"file", "read", "write", "directory", "edit"},
			Server: bridge.ServerConfig{
				Command: "npx",
				Args:    []string{"-y", "@modelcontextprotocol/server-filesystem", "."},
			},
		},
		Plugin{
			Name:        "fetch",
			Description: "Fetch web pages and convert them to readable text.",
			Keywords:    []string{"http", "web", "url", "download", "fetch"},
			Server: bridge.ServerConfig{
				Command: "npx",
				Args:    []string{"-y", "@modelcontextprotocol/server-fetch"},
			},
		},
		Plugin{
			Name:        "git",
			Description: "Inspect repository history, diffs, and branches.",
			Keywords:    []string{"git", "commit", "diff", "branch", "history"},
			Server: bridge.ServerConfig{
				Command: "uvx",
				Args:    []string{"mcp-server-git"},
			},
		},
		Plugin{
			Name:        "github",
			Description: "Work with GitHub issues, pull requests, and repositories.",
			Keywords:    []string{"github", "issue", "pull request", "pr", "repo"},
			RequiredEnv: []string{"GITHUB_PERSONAL_ACCESS_TOKEN"},
			Server: bridge.ServerConfig{
				Command: "npx",
				Args:    []string{"-y", "@modelcontextprotocol/server-github"},
			},
		},
		Plugin{
			Name:        "memory",
			Description: "Persistent key-value notes shared across sessions.",
			Keywords:    []string{"memory", "notes", "remember", "knowledge"},
			Server: bridge.ServerConfig{
				Command: "npx",
				Args:    []string{"-y", "@modelcontextprotocol/server-memory"},
			},
		},
	)
}

// Register adds a plugin, rejecting duplicate names.
func (c *Catalog) Register(p Plugin) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[p.Name]; exists {
		return fmt.Errorf("plugin %q already registered", p.Name)
	}
	c.entries[p.Name] = p
	return nil
}

// Get returns a plugin by name.
func (c *Catalog) Get(name string) (Plugin, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.entries[name]
	return p, ok
}

// List returns all plugins sorted by name.
func (c *Catalog) List() []Plugin {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Plugin, 0, len(c.entries))
	for _, p := range c.entries {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Search scores plugins against the query words and returns matches,
// best first. A plugin matches when any query word appears in its
// name, description, or keywords.
func (c *Catalog) Search(query string) []Plugin {
	words := strings.Fields(strings.ToLower(query))
	if len(words) == 0 {
		return nil
	}

	type scored struct {
		p     Plugin
		score int
	}
	var hits []scored
	for _, p := range c.List() {
		haystack := strings.ToLower(p.Name + " " + p.Description + " " + strings.Join(p.Keywords, " "))
		score := 0
		for _, w := range words {
			if strings.Contains(haystack, w) {
				score++
			}
		}
		if score > 0 {
			hits = append(hits, scored{p, score})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })

	out := make([]Plugin, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.p)
	}
	return out
}

// Install writes the plugin's server definition into the registry at
// serversPath. Required environment variables must be set in the
// current environment; their values are captured into the server
// definition. Already-installed plugins are left untouched.
func (c *Catalog) Install(name, serversPath string) error {
	p, ok := c.Get(name)
	if !ok {
		return fmt.Errorf("unknown plugin %q", name)
	}
	sc := p.Server
	if len(p.RequiredEnv) > 0 {
		env := make(map[string]string, len(sc.Env)+len(p.RequiredEnv))
		for k, v := range sc.Env {
			env[k] = v
		}
		for _, key := range p.RequiredEnv {
			val, set := os.LookupEnv(key)
			if !set || val == "" {
				return fmt.Errorf("plugin %q needs environment variable %s", name, key)
			}
			env[key] = val
		}
		sc.Env = env
	}
	f, err := bridge.LoadServers(serversPath)
	if err != nil {
		return err
	}
	if _, exists := f.Servers[p.Name]; exists {
		return nil
	}
	f.Servers[p.Name] = sc
	return bridge.SaveServers(serversPath, f)
}

// Uninstall removes the plugin's server definition from the registry.
func (c *Catalog) Uninstall(name, serversPath string) error {
	f, err := bridge.LoadServers(serversPath)
	if err != nil {
		return err
	}
	if _, exists := f.Servers[name]; !exists {
		return fmt.Errorf("plugin %q is not installed", name)
	}
	delete(f.Servers, name)
	return bridge.SaveServers(serversPath, f)
}

// AnalyzeGap suggests plugins for a capability the current tool set
// lacks. available holds the namespaced tool names already exposed;
// suggestions that only repeat an installed server are dropped.
func (c *Catalog) AnalyzeGap(request string, available []string) []Plugin {
	installed := make(map[string]bool)
	for _, name := range available {
		if server, _, ok := bridge.SplitName(name); ok {
			installed[server] = true
		}
	}
	var out []Plugin
	for _, p := range c.Search(request) {
		if !installed[p.Name] {
			out = append(out, p)
		}
	}
	return out
}
