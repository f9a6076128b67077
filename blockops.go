// Package blockops provides a high-level façade over the coordination engine,
// the agent registry and the in-memory ledger that back the hospital
// operations prototype. Most applications interact with this package by:
//  1. Creating a BlockOps via New() (optionally overriding the ledger,
//     registry, timeout or round cap)
//  2. Registering reasoning agents (the built-in rule-based hospital agents,
//     LLM-backed model agents, or custom implementations)
//  3. Running coordinations via Coordinate and inspecting the ledger
//
// The façade delegates protocol execution to engine.Engine while keeping
// setup and usage ergonomics concise. All defaults are safe for local
// development and testing.
package blockops

import (
	"context"
	"time"

	"github.com/deosha/hospital-blockops-prototype/core"
	"github.com/deosha/hospital-blockops-prototype/engine"
	"github.com/deosha/hospital-blockops-prototype/ledger"
	"github.com/deosha/hospital-blockops-prototype/logging"
	"github.com/deosha/hospital-blockops-prototype/registry"
)

// Options configures the BlockOps instance.
type Options struct {
	// Timeout is the wall-clock deadline for one coordination session.
	Timeout time.Duration

	// MaxRounds caps the proposal/critique cycles per session.
	MaxRounds int

	// Ledger defaults to a fresh in-memory ledger with the hospital policy
	// defaults if not provided.
	Ledger *ledger.Ledger

	// Registry defaults to an empty registry if not provided.
	Registry *registry.Registry

	// Logger (defaults to NoOp logger if nil).
	Logger logging.Logger
}

// BlockOps is the high-level façade aggregating the engine, registry and ledger.
type BlockOps struct {
	opts   Options
	engine *engine.Engine
}

// New creates a new BlockOps instance with optional overrides. Any unset
// collaborator is initialized with an in-memory implementation.
func New(optFns ...func(o *Options)) *BlockOps {
	opts := Options{
		Timeout:   30 * time.Second,
		MaxRounds: 3,
		Logger:    logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if opts.Registry == nil {
		opts.Registry = registry.New(func(o *registry.Options) { o.Logger = opts.Logger })
	}
	if opts.Ledger == nil {
		opts.Ledger = ledger.NewLedger(func(o *ledger.Options) { o.Logger = opts.Logger })
	}

	e := engine.New(func(o *engine.Options) {
		o.Registry = opts.Registry
		o.Ledger = opts.Ledger
		o.Timeout = opts.Timeout
		o.MaxRounds = opts.MaxRounds
		o.Logger = opts.Logger
	})

	return &BlockOps{opts: opts, engine: e}
}

// RegisterAgent makes an agent available for coordination.
func (b *BlockOps) RegisterAgent(a core.ReasoningAgent) { b.opts.Registry.Register(a) }

// Agents returns all registered agents in registration order.
func (b *BlockOps) Agents() []core.ReasoningAgent { return b.opts.Registry.List() }

// Coordinate runs one scenario through the eight-step protocol synchronously.
func (b *BlockOps) Coordinate(ctx context.Context, spec core.ScenarioSpec) (*core.Session, error) {
	return b.engine.Coordinate(ctx, spec)
}

// GetSession returns a snapshot of a session by id.
func (b *BlockOps) GetSession(id string) (*core.Session, error) { return b.engine.GetSession(id) }

// ListSessions returns summaries of all sessions in creation order.
func (b *BlockOps) ListSessions() []core.Summary { return b.engine.ListSessions() }

// GetMessages returns the message log of a session.
func (b *BlockOps) GetMessages(id string) ([]core.Message, error) { return b.engine.GetMessages(id) }

// SubmitTransaction runs a transaction through the smart-contract validator
// and, when valid, adds it to the pending pool.
func (b *BlockOps) SubmitTransaction(tx ledger.Transaction) ledger.ValidationReport {
	return b.opts.Ledger.Submit(tx)
}

// Commit drains the pending pool into a new block.
func (b *BlockOps) Commit() (*ledger.Block, error) { return b.opts.Ledger.Commit() }

// CommitAuto commits a single pending transaction immediately.
func (b *BlockOps) CommitAuto() (*ledger.Block, error) { return b.opts.Ledger.CommitAuto() }

// GetBlock returns the block at index.
func (b *BlockOps) GetBlock(index int) (ledger.Block, error) { return b.opts.Ledger.GetBlock(index) }

// GetBlocks returns up to limit blocks starting at offset, oldest first.
func (b *BlockOps) GetBlocks(offset, limit int) []ledger.Block {
	return b.opts.Ledger.GetBlocks(offset, limit)
}

// ValidateChain walks the whole chain checking hashes, links and difficulty.
func (b *BlockOps) ValidateChain() ledger.ChainReport { return b.opts.Ledger.Validate() }

// Stats summarizes the ledger state.
func (b *BlockOps) Stats() ledger.Stats { return b.opts.Ledger.Stats() }

// Reset wipes the ledger and re-creates the genesis block. Demo-only.
func (b *BlockOps) Reset() { b.opts.Ledger.Reset() }
