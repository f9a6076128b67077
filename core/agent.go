package core

import "context"

// Context carries the numeric and categorical facts of a scenario (item,
// required quantity, unit price, remaining budget, storage headroom, urgency).
// Values arrive from JSON boundaries, so numeric accessors tolerate both
// int and float64 representations.
type Context map[string]any

// Float returns the value under key coerced to float64.
func (c Context) Float(key string) (float64, bool) {
	v, ok := c[key]
	if !ok {
		return 0, false
	}
	return toFloat(v)
}

// Int returns the value under key coerced to int.
func (c Context) Int(key string) (int, bool) {
	f, ok := c.Float(key)
	if !ok {
		return 0, false
	}
	return int(f), true
}

// String returns the value under key if it is a string.
func (c Context) String(key string) (string, bool) {
	v, ok := c[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Clone returns a shallow copy of the context. Nested values are shared;
// callers that inject derived keys (critiques, previous proposal) must only
// add top-level entries.
func (c Context) Clone() Context {
	clone := make(Context, len(c))
	for k, v := range c {
		clone[k] = v
	}
	return clone
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint:
		return float64(n), true
	default:
		return 0, false
	}
}

// Context keys the engine injects when inviting the initiator to regenerate a
// proposal during refinement.
const (
	// ContextKeyCritiques holds the aggregated []CritiqueDecision from the
	// previous round.
	ContextKeyCritiques = "critiques"
	// ContextKeyPreviousProposal holds the Proposal that drew the critiques.
	ContextKeyPreviousProposal = "previous_proposal"
)

// Well-known scenario context keys, shared by the built-in hospital agents
// and the ledger binding. Scenarios may carry arbitrary additional keys.
const (
	ContextKeyItemName         = "item_name"
	ContextKeyRequiredQuantity = "required_quantity"
	ContextKeyPricePerUnit     = "price_per_unit"
	ContextKeyBudgetRemaining  = "budget_remaining"
	ContextKeyStorageAvailable = "storage_available"
	ContextKeyUrgency          = "urgency"
)

// ScenarioSpec is the caller-supplied description of one coordination:
// who starts it, who participates, what the goal is and the scenario facts.
type ScenarioSpec struct {
	Initiator    string   `json:"initiator"`
	Participants []string `json:"participants"`
	Intent       string   `json:"intent"`
	Context      Context  `json:"context"`
}

// ConstraintRecord is an agent's declared limits for a scenario, produced by
// ProposeConstraint. Fields is agent-specific (budget caps, storage caps,
// reorder policy); Type categorizes the declaring role.
type ConstraintRecord struct {
	Type        string         `json:"type"`
	Fields      map[string]any `json:"constraints"`
	Unavailable bool           `json:"unavailable,omitempty"`
}

// Proposal is the initiator's concrete plan for the scenario, evaluated by
// the other participants each negotiation round.
type Proposal struct {
	ItemName             string          `json:"item_name"`
	ProposedQuantity     int             `json:"proposed_quantity"`
	ProposedCost         float64         `json:"proposed_cost"`
	PricePerUnit         float64         `json:"price_per_unit"`
	Reasoning            string          `json:"reasoning"`
	Confidence           float64         `json:"confidence"`
	ConstraintsSatisfied map[string]bool `json:"constraints_satisfied"`
}

// Suggested-adjustment keys the built-in initiator folds into refinement.
const (
	// AdjustmentMaxQuantity clamps the refined quantity.
	AdjustmentMaxQuantity = "max_quantity"
	// AdjustmentMaxCost clamps the refined total cost.
	AdjustmentMaxCost = "max_cost"
)

// Verdict is a critic's decision on a proposal.
type Verdict string

const (
	// VerdictAccept approves the proposal as-is.
	VerdictAccept Verdict = "ACCEPT"
	// VerdictCritique rejects the proposal, usually with suggested adjustments.
	VerdictCritique Verdict = "CRITIQUE"
)

// CritiqueDecision records one participant's evaluation of a proposal.
// SuggestedAdjustments carries numeric clamps (max_quantity, max_cost) the
// initiator folds into the next refinement.
type CritiqueDecision struct {
	Agent                string             `json:"agent"`
	Verdict              Verdict            `json:"decision"`
	Reasoning            string             `json:"reasoning"`
	Confidence           float64            `json:"confidence"`
	SuggestedAdjustments map[string]float64 `json:"suggested_adjustments,omitempty"`
}

// Accepted reports whether the decision approves the proposal.
func (d CritiqueDecision) Accepted() bool { return d.Verdict == VerdictAccept }

// ReasoningAgent is the single capability the core depends on. The engine
// never reasons about an agent's internals; LLM-backed, rule-based and test
// stub implementations are interchangeable.
//
// Calls may block (implementations may perform remote reasoning); the engine
// treats every call as a cooperative suspension point and enforces deadlines
// around it, so implementations should honor ctx cancellation but are not
// trusted to.
type ReasoningAgent interface {
	// ID returns the unique agent identifier (e.g. "SC-001").
	ID() string

	// Role returns the human-readable role (e.g. "Supply Chain Management").
	Role() string

	// ProposeConstraint declares the agent's limits relevant to the scenario.
	ProposeConstraint(ctx context.Context, scenario Context) (ConstraintRecord, error)

	// GenerateProposal produces a plan satisfying the collected constraints.
	// Only the designated initiator is asked. During refinement the scenario
	// context additionally carries ContextKeyCritiques and
	// ContextKeyPreviousProposal.
	GenerateProposal(ctx context.Context, scenario Context, constraints map[string]ConstraintRecord) (Proposal, error)

	// Critique evaluates a proposal against the agent's own constraints.
	Critique(ctx context.Context, proposal Proposal, scenario Context) (CritiqueDecision, error)
}
