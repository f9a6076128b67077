package agent

import (
	"context"
	"fmt"
	"math"

	"github.com/pkg/errors"

	"github.com/deosha/hospital-blockops-prototype/core"
)

// FinancialAgent guards the remaining budget. It never originates proposals;
// it declares the budget as a constraint and critiques overspending.
type FinancialAgent struct {
	BaseAgent
}

// NewFinancialAgent constructs a financial agent.
func NewFinancialAgent(id string, optFns ...func(o *Options)) *FinancialAgent {
	return &FinancialAgent{BaseAgent: newBase(id, "Financial Operations", optFns)}
}

// ProposeConstraint declares the spending cap for the scenario.
func (a *FinancialAgent) ProposeConstraint(ctx context.Context, scenario core.Context) (core.ConstraintRecord, error) {
	if err := ctx.Err(); err != nil {
		return core.ConstraintRecord{}, err
	}
	fields := map[string]any{}
	if budget, ok := scenario.Float(core.ContextKeyBudgetRemaining); ok {
		fields["max_amount"] = budget
	}
	return core.ConstraintRecord{Type: "financial", Fields: fields}, nil
}

// GenerateProposal is not a financial capability.
func (a *FinancialAgent) GenerateProposal(ctx context.Context, scenario core.Context, constraints map[string]core.ConstraintRecord) (core.Proposal, error) {
	return core.Proposal{}, errors.Wrap(core.ErrAgentUnavailable, "financial agent does not originate proposals")
}

// Critique rejects any proposal whose cost exceeds the remaining budget,
// suggesting the affordable cost and quantity clamps.
func (a *FinancialAgent) Critique(ctx context.Context, proposal core.Proposal, scenario core.Context) (core.CritiqueDecision, error) {
	if err := ctx.Err(); err != nil {
		return core.CritiqueDecision{}, err
	}

	budget, ok := scenario.Float(core.ContextKeyBudgetRemaining)
	if !ok || proposal.ProposedCost <= budget {
		return core.CritiqueDecision{
			Agent:      a.ID(),
			Verdict:    core.VerdictAccept,
			Reasoning:  fmt.Sprintf("Cost $%.2f is within budget", proposal.ProposedCost),
			Confidence: 0.95,
		}, nil
	}

	adjustments := map[string]float64{core.AdjustmentMaxCost: budget}
	if proposal.PricePerUnit > 0 {
		adjustments[core.AdjustmentMaxQuantity] = math.Floor(budget / proposal.PricePerUnit)
	}
	return core.CritiqueDecision{
		Agent:                a.ID(),
		Verdict:              core.VerdictCritique,
		Reasoning:            fmt.Sprintf("Cost $%.2f exceeds remaining budget $%.2f", proposal.ProposedCost, budget),
		Confidence:           0.90,
		SuggestedAdjustments: adjustments,
	}, nil
}
