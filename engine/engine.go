package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/deosha/hospital-blockops-prototype/core"
	"github.com/deosha/hospital-blockops-prototype/ledger"
	"github.com/deosha/hospital-blockops-prototype/logging"
	"github.com/deosha/hospital-blockops-prototype/registry"
)

// SenderCoordinator is the sender name on engine-originated messages.
const SenderCoordinator = "COORDINATOR"

// Options configures an Engine.
type Options struct {
	// Registry resolves participant ids. Defaults to an empty registry.
	Registry *registry.Registry

	// Ledger records executed agreements. Defaults to a fresh in-memory ledger.
	Ledger *ledger.Ledger

	// Timeout is the wall-clock deadline for a whole session, measured from
	// session creation.
	Timeout time.Duration

	// MaxRounds caps the proposal/critique cycles per session.
	MaxRounds int

	// Logger defaults to NoOp if nil.
	Logger logging.Logger
}

// Engine runs coordination sessions against a shared registry and ledger.
// Safe for concurrent use; each Coordinate call owns its session exclusively.
type Engine struct {
	opts   Options
	logger logging.Logger

	mu       sync.RWMutex
	sessions map[string]*core.Session
	order    []string
	counter  int
}

// New constructs an Engine.
func New(optFns ...func(o *Options)) *Engine {
	opts := Options{
		Timeout:   30 * time.Second,
		MaxRounds: 3,
		Logger:    logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Registry == nil {
		opts.Registry = registry.New()
	}
	if opts.Ledger == nil {
		opts.Ledger = ledger.NewLedger()
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxRounds <= 0 {
		opts.MaxRounds = 3
	}
	return &Engine{
		opts:     opts,
		logger:   opts.Logger,
		sessions: make(map[string]*core.Session),
	}
}

// Ledger returns the engine's ledger for host-level queries.
func (e *Engine) Ledger() *ledger.Ledger { return e.opts.Ledger }

// Registry returns the engine's agent registry.
func (e *Engine) Registry() *registry.Registry { return e.opts.Registry }

// Coordinate runs one scenario through the full protocol synchronously and
// returns the terminal session. Protocol failures are folded into the session
// state (FAILED or TIMEOUT with a structured reason); the returned error
// carries the matching sentinel so callers can branch without parsing the
// session. A nil error means the session COMPLETED.
func (e *Engine) Coordinate(ctx context.Context, spec core.ScenarioSpec) (*core.Session, error) {
	session := e.newSession(spec)

	if err := validateSpec(spec); err != nil {
		session.Fail(core.Reason(err), err.Error())
		return session, err
	}

	agents := make(map[string]core.ReasoningAgent, len(spec.Participants))
	for _, id := range spec.Participants {
		a, err := e.opts.Registry.Get(id)
		if err != nil {
			session.Fail(core.Reason(err), err.Error())
			return session, err
		}
		agents[id] = a
	}

	ctx, cancel := context.WithDeadline(ctx, session.StartedAt.Add(e.opts.Timeout))
	defer cancel()

	err := e.run(ctx, session, agents)
	if err != nil {
		e.logger.Warn("Coordination ended without agreement",
			"session_id", session.ID, "state", session.CurrentState(), "reason", core.Reason(err))
	} else {
		e.logger.Info("Coordination completed",
			"session_id", session.ID, "rounds", len(session.Clone().Rounds))
	}
	return session, err
}

// GetSession returns a snapshot of the session or core.ErrNotFound.
func (e *Engine) GetSession(id string) (*core.Session, error) {
	e.mu.RLock()
	s, ok := e.sessions[id]
	e.mu.RUnlock()
	if !ok {
		return nil, errors.Wrap(core.ErrNotFound, id)
	}
	return s.Clone(), nil
}

// ListSessions returns summaries of all sessions in creation order.
func (e *Engine) ListSessions() []core.Summary {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]core.Summary, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, e.sessions[id].Summarize())
	}
	return out
}

// GetMessages returns the message log of a session or core.ErrNotFound.
func (e *Engine) GetMessages(id string) ([]core.Message, error) {
	e.mu.RLock()
	s, ok := e.sessions[id]
	e.mu.RUnlock()
	if !ok {
		return nil, errors.Wrap(core.ErrNotFound, id)
	}
	return s.GetMessages(), nil
}

func (e *Engine) newSession(spec core.ScenarioSpec) *core.Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.counter++
	id := fmt.Sprintf("COORD-%05d", e.counter)
	s := core.NewSession(id, spec)
	e.sessions[id] = s
	e.order = append(e.order, id)
	return s
}

func validateSpec(spec core.ScenarioSpec) error {
	if spec.Initiator == "" {
		return errors.Wrap(core.ErrInvalidScenario, "initiator is required")
	}
	if len(spec.Participants) == 0 {
		return errors.Wrap(core.ErrInvalidScenario, "participant list is empty")
	}
	found := false
	for _, p := range spec.Participants {
		if p == spec.Initiator {
			found = true
			break
		}
	}
	if !found {
		return errors.Wrapf(core.ErrInvalidScenario, "initiator %s is not a participant", spec.Initiator)
	}
	return nil
}

// run drives the session through the protocol. It returns the sentinel-typed
// error that was folded into the session's terminal state, or nil on success.
func (e *Engine) run(ctx context.Context, s *core.Session, agents map[string]core.ReasoningAgent) error {
	critics := core.Broadcast(s.Participants, s.Initiator)
	initiator := agents[s.Initiator]

	// Step 1: the initiator declares its intent to everyone else.
	s.AppendMessage(core.NewMessage(s.ID, s.Initiator, critics, core.KindIntent, map[string]any{
		"intent":  s.Intent,
		"context": map[string]any(s.Context),
	}))

	// Step 2: the engine announces the negotiation.
	s.AppendMessage(core.NewMessage(s.ID, SenderCoordinator, s.Participants, core.KindInform, map[string]any{
		"announcement": fmt.Sprintf("Negotiation %s started: %s", s.ID, s.Intent),
	}))

	// Step 3: collect constraints from every non-initiator.
	s.SetState(core.StateCollectingConstraints)
	if err := e.collectConstraints(ctx, s, agents, critics); err != nil {
		return err
	}

	// Step 4: only the initiator generates proposals.
	s.SetState(core.StateGeneratingProposal)
	if deadlinePassed(ctx) {
		s.Timeout("deadline passed before proposal generation")
		return errors.Wrap(core.ErrDeadlineExceeded, "before proposal generation")
	}
	constraints := e.constraintSnapshot(s)
	proposal, err := callAgent(ctx, 0, func(callCtx context.Context) (core.Proposal, error) {
		return initiator.GenerateProposal(callCtx, s.Context, constraints)
	})
	if err != nil {
		return e.failOrTimeout(s, err, "initiator produced no proposal")
	}
	s.AppendMessage(core.NewMessage(s.ID, s.Initiator, critics, core.KindProposal, proposalContent(proposal)))

	// Step 5: negotiate until unanimous acceptance or the round cap.
	s.SetState(core.StateNegotiating)
	final, err := e.negotiate(ctx, s, agents, critics, proposal)
	if err != nil {
		return err
	}

	// Step 6: smart-contract dry run; no commit and no messages here.
	if deadlinePassed(ctx) {
		s.Timeout("deadline passed before validation")
		return errors.Wrap(core.ErrDeadlineExceeded, "before validation")
	}
	s.SetState(core.StateValidating)
	tx := buildTransaction(s, final)
	report := e.opts.Ledger.Validator().Validate(tx)
	if !report.Valid {
		reason := strings.Join(report.FailureCodes(), ";")
		if reason == "" {
			reason = core.ReasonPolicyViolation
		}
		s.Fail(reason, report.OverallReason)
		return errors.Wrap(core.ErrPolicyViolation, report.OverallReason)
	}

	// Step 7: execute on the ledger. A deadline here means no write happens.
	if deadlinePassed(ctx) {
		s.Timeout("deadline passed before execution")
		return errors.Wrap(core.ErrDeadlineExceeded, "before execution")
	}
	s.SetState(core.StateExecuting)
	receipt, err := e.execute(tx)
	if err != nil {
		s.Fail(core.ReasonLedgerRejected, err.Error())
		return err
	}

	agreement := map[string]any{
		"item_name":      final.ItemName,
		"quantity":       final.ProposedQuantity,
		"total_cost":     final.ProposedCost,
		"price_per_unit": final.PricePerUnit,
		"confidence":     final.Confidence,
		"participants":   append([]string(nil), s.Participants...),
	}
	s.AppendMessage(core.NewMessage(s.ID, SenderCoordinator, s.Participants, core.KindInform, map[string]any{
		"announcement": "Agreement executed and recorded on the ledger",
		"status":       "EXECUTED",
		"agreement":    agreement,
	}))
	s.SetOutcome(&final, agreement, receipt)
	s.SetState(core.StateCompleted)
	return nil
}

// collectConstraints fans the queries out concurrently but appends the
// QUERY/CONSTRAINT message pairs in participant order, so logs stay
// deterministic for a given registration.
func (e *Engine) collectConstraints(ctx context.Context, s *core.Session, agents map[string]core.ReasoningAgent, critics []string) error {
	type outcome struct {
		record core.ConstraintRecord
		err    error
	}
	results := make([]outcome, len(critics))
	budget := e.opts.Timeout / 2

	var wg sync.WaitGroup
	for i, id := range critics {
		wg.Add(1)
		go func(i int, agent core.ReasoningAgent) {
			defer wg.Done()
			start := time.Now()
			record, err := callAgent(ctx, budget, func(callCtx context.Context) (core.ConstraintRecord, error) {
				return agent.ProposeConstraint(callCtx, s.Context)
			})
			e.logger.Debug("Constraint query returned",
				"agent_id", agent.ID(), "duration", time.Since(start), "unavailable", err != nil)
			results[i] = outcome{record: record, err: err}
		}(i, agents[id])
	}
	wg.Wait()

	for _, r := range results {
		if errors.Is(r.err, core.ErrDeadlineExceeded) {
			s.Timeout("deadline passed while collecting constraints")
			return errors.Wrap(core.ErrDeadlineExceeded, "while collecting constraints")
		}
	}

	for i, id := range critics {
		s.AppendMessage(core.NewMessage(s.ID, SenderCoordinator, []string{id}, core.KindQuery, map[string]any{
			"query": "constraints",
			"about": s.Intent,
		}))

		record := results[i].record
		if results[i].err != nil {
			// Treated as "no constraint"; the session continues without it.
			record = core.ConstraintRecord{Type: "unavailable", Unavailable: true}
			e.logger.Warn("Participant unavailable during constraint collection",
				"session_id", s.ID, "agent_id", id, "error", results[i].err.Error())
		}
		s.SetConstraint(id, record)
		s.AppendMessage(core.NewMessage(s.ID, id, []string{s.Initiator}, core.KindConstraint, map[string]any{
			"type":        record.Type,
			"constraints": record.Fields,
			"unavailable": record.Unavailable,
		}))
	}
	return nil
}

// negotiate runs the critique/refine loop and returns the unanimously
// accepted proposal.
func (e *Engine) negotiate(ctx context.Context, s *core.Session, agents map[string]core.ReasoningAgent, critics []string, proposal core.Proposal) (core.Proposal, error) {
	constraints := e.constraintSnapshot(s)

	for round := 1; round <= e.opts.MaxRounds; round++ {
		start := time.Now()
		decisions := make([]core.CritiqueDecision, len(critics))

		var wg sync.WaitGroup
		errs := make([]error, len(critics))
		for i, id := range critics {
			wg.Add(1)
			go func(i int, id string, agent core.ReasoningAgent) {
				defer wg.Done()
				decision, err := callAgent(ctx, 0, func(callCtx context.Context) (core.CritiqueDecision, error) {
					return agent.Critique(callCtx, proposal, s.Context)
				})
				if err != nil {
					errs[i] = err
					// A silent critic does not block the group.
					decision = core.CritiqueDecision{
						Agent:     id,
						Verdict:   core.VerdictAccept,
						Reasoning: "no response, treated as acceptance",
					}
				}
				decisions[i] = decision
			}(i, id, agents[id])
		}
		wg.Wait()

		for _, err := range errs {
			if errors.Is(err, core.ErrDeadlineExceeded) {
				s.Timeout(fmt.Sprintf("deadline passed during negotiation round %d", round))
				return core.Proposal{}, errors.Wrapf(core.ErrDeadlineExceeded, "negotiation round %d", round)
			}
		}

		accepted := true
		for i, id := range critics {
			d := decisions[i]
			kind := core.KindAccept
			content := map[string]any{
				"agent":      id,
				"decision":   string(d.Verdict),
				"reasoning":  d.Reasoning,
				"confidence": d.Confidence,
			}
			if !d.Accepted() {
				accepted = false
				kind = core.KindCritique
				content["suggested_adjustments"] = d.SuggestedAdjustments
			}
			s.AppendMessage(core.NewMessage(s.ID, id, []string{s.Initiator}, kind, content))
		}

		s.AddRound(core.NegotiationRound{
			Number:    round,
			Proposal:  proposal,
			Critiques: decisions,
			Duration:  time.Since(start),
		})
		e.logger.Info("Negotiation round completed",
			"session_id", s.ID, "round", round, "accepted", accepted)

		if accepted {
			return proposal, nil
		}
		if round == e.opts.MaxRounds {
			s.Fail(core.ReasonNoAgreement, fmt.Sprintf("no unanimous acceptance after %d rounds", round))
			return core.Proposal{}, errors.Wrapf(core.ErrNoAgreement, "after %d rounds", round)
		}

		// Refine: the initiator regenerates with the critiques folded in.
		var critiques []core.CritiqueDecision
		for _, d := range decisions {
			if !d.Accepted() {
				critiques = append(critiques, d)
			}
		}
		refineCtx := s.Context.Clone()
		refineCtx[core.ContextKeyCritiques] = critiques
		refineCtx[core.ContextKeyPreviousProposal] = proposal

		refined, err := callAgent(ctx, 0, func(callCtx context.Context) (core.Proposal, error) {
			return agents[s.Initiator].GenerateProposal(callCtx, refineCtx, constraints)
		})
		if err != nil {
			return core.Proposal{}, e.failOrTimeout(s, err, "initiator produced no refined proposal")
		}
		proposal = refined
		s.AppendMessage(core.NewMessage(s.ID, s.Initiator, critics, core.KindProposal, proposalContent(proposal)))
	}
	// Unreachable: the loop exits through acceptance or the round cap.
	return core.Proposal{}, errors.Wrap(core.ErrNoAgreement, "round cap")
}

// failOrTimeout folds an agent-call error into the session's terminal state.
func (e *Engine) failOrTimeout(s *core.Session, err error, detail string) error {
	if errors.Is(err, core.ErrDeadlineExceeded) {
		s.Timeout(detail)
		return err
	}
	s.Fail(core.ReasonAgentUnavailable, fmt.Sprintf("%s: %v", detail, err))
	return err
}

func (e *Engine) constraintSnapshot(s *core.Session) map[string]core.ConstraintRecord {
	clone := s.Clone()
	return clone.Constraints
}

func proposalContent(p core.Proposal) map[string]any {
	return map[string]any{
		"item_name":             p.ItemName,
		"proposed_quantity":     p.ProposedQuantity,
		"proposed_cost":         p.ProposedCost,
		"price_per_unit":        p.PricePerUnit,
		"reasoning":             p.Reasoning,
		"confidence":            p.Confidence,
		"constraints_satisfied": p.ConstraintsSatisfied,
	}
}

func deadlinePassed(ctx context.Context) bool { return ctx.Err() != nil }

// callAgent invokes an agent capability on its own goroutine and waits for
// the result or the session deadline, whichever comes first. A result that
// arrives after the per-call budget (0 means no budget) is discarded and
// reported as the agent being unavailable; a session deadline expiring while
// waiting surfaces as core.ErrDeadlineExceeded. Agents are expected to honor
// ctx but are not trusted to; a late result from an abandoned call is thrown
// away by the buffered channel.
func callAgent[T any](ctx context.Context, budget time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	type result struct {
		value T
		err   error
	}
	ch := make(chan result, 1)
	start := time.Now()
	go func() {
		v, err := fn(ctx)
		ch <- result{value: v, err: err}
	}()

	var zero T
	select {
	case r := <-ch:
		if budget > 0 && time.Since(start) > budget {
			return zero, errors.Wrap(core.ErrAgentUnavailable, "per-call budget exceeded")
		}
		if r.err != nil {
			if errors.Is(r.err, core.ErrDeadlineExceeded) {
				return zero, r.err
			}
			return zero, errors.Wrapf(core.ErrAgentUnavailable, "%v", r.err)
		}
		return r.value, nil
	case <-ctx.Done():
		return zero, errors.Wrap(core.ErrDeadlineExceeded, "agent did not respond before the session deadline")
	}
}
