// Package registry provides the process-wide lookup of reasoning agents by
// id. It is read-mostly: lookups never block registrations beyond the
// registration itself.
package registry

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/deosha/hospital-blockops-prototype/core"
	"github.com/deosha/hospital-blockops-prototype/logging"
)

// Registry maps agent id to agent. Registration is idempotent per id;
// re-registering replaces the agent but keeps its original position, so
// List order is stable across replacements. Safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]core.ReasoningAgent
	order  []string
	logger logging.Logger
}

// Options configures a Registry.
type Options struct {
	// Logger defaults to NoOp if nil.
	Logger logging.Logger
}

// New constructs an empty registry.
func New(optFns ...func(o *Options)) *Registry {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	return &Registry{agents: make(map[string]core.ReasoningAgent), logger: opts.Logger}
}

// Register makes an agent available for coordination. Registering an id that
// already exists replaces the previous agent.
func (r *Registry) Register(a core.ReasoningAgent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := a.ID()
	if _, exists := r.agents[id]; !exists {
		r.order = append(r.order, id)
	}
	r.agents[id] = a
	r.logger.Info("Registered agent", "agent_id", id, "role", a.Role())
}

// Get returns the agent for id or core.ErrUnknownAgent.
func (r *Registry) Get(id string) (core.ReasoningAgent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[id]
	if !ok {
		return nil, errors.Wrap(core.ErrUnknownAgent, id)
	}
	return a, nil
}

// List returns all agents in registration order.
func (r *Registry) List() []core.ReasoningAgent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.ReasoningAgent, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.agents[id])
	}
	return out
}

// Len returns the number of registered agents.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}
