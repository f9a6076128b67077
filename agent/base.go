package agent

import (
	"github.com/deosha/hospital-blockops-prototype/logging"
)

// BaseAgent carries the identity and logger shared by the built-in agents.
type BaseAgent struct {
	id     string
	role   string
	logger logging.Logger
}

// ID returns the unique agent identifier.
func (b *BaseAgent) ID() string { return b.id }

// Role returns the human-readable role.
func (b *BaseAgent) Role() string { return b.role }

// Options configures a built-in agent.
type Options struct {
	// Logger defaults to NoOp if nil.
	Logger logging.Logger
}

func newBase(id, role string, optFns []func(o *Options)) BaseAgent {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	return BaseAgent{id: id, role: role, logger: opts.Logger}
}
