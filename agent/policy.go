package agent

import (
	"sync"

	"github.com/stewardai/steward/bridge"
)

// Action is a permission decision for one tool invocation.
type Action int

const (
	// Deny refuses this invocation.
	Deny Action = iota
	// AllowOnce permits this invocation only.
	AllowOnce
	// AllowPlugin permits every tool from the same server for the
	// rest of the session.
	AllowPlugin
	// AllowAllSession permits every tool for the rest of the session.
	AllowAllSession
)

// Decider resolves a permission question for a namespaced tool name.
// Interactive frontends prompt the user here.
type Decider func(tool string) Action

// Policy evaluates tool permissions, remembering session-wide grants.
// It is threaded through the orchestrator explicitly so tests and
// embedders can swap it out.
type Policy struct {
	mu       sync.Mutex
	decide   Decider
	allowAll bool
	servers  map[string]bool
}

// NewPolicy builds a policy around a decider.
func NewPolicy(decide Decider) *Policy {
	return &Policy{decide: decide, servers: make(map[string]bool)}
}

// AllowAll returns a policy that permits everything, for
// non-interactive runs.
func AllowAll() *Policy {
	return NewPolicy(func(string) Action { return AllowAllSession })
}

// Allow reports whether the named tool may be invoked now, recording
// any session-wide grant the decision implies.
func (p *Policy) Allow(tool string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.allowAll {
		return true
	}
	server, _, ok := bridge.SplitName(tool)
	if ok && p.servers[server] {
		return true
	}

	switch p.decide(tool) {
	case AllowOnce:
		return true
	case AllowPlugin:
		if ok {
			p.servers[server] = true
		}
		return true
	case AllowAllSession:
		p.allowAll = true
		return true
	default:
		return false
	}
}
