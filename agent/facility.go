package agent

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/deosha/hospital-blockops-prototype/core"
)

// FacilityAgent guards physical storage capacity.
type FacilityAgent struct {
	BaseAgent
}

// NewFacilityAgent constructs a facility agent.
func NewFacilityAgent(id string, optFns ...func(o *Options)) *FacilityAgent {
	return &FacilityAgent{BaseAgent: newBase(id, "Facility Management", optFns)}
}

// ProposeConstraint declares the storage cap for the scenario.
func (a *FacilityAgent) ProposeConstraint(ctx context.Context, scenario core.Context) (core.ConstraintRecord, error) {
	if err := ctx.Err(); err != nil {
		return core.ConstraintRecord{}, err
	}
	fields := map[string]any{}
	if storage, ok := scenario.Float(core.ContextKeyStorageAvailable); ok {
		fields["max_quantity"] = storage
	}
	return core.ConstraintRecord{Type: "facility", Fields: fields}, nil
}

// GenerateProposal is not a facility capability.
func (a *FacilityAgent) GenerateProposal(ctx context.Context, scenario core.Context, constraints map[string]core.ConstraintRecord) (core.Proposal, error) {
	return core.Proposal{}, errors.Wrap(core.ErrAgentUnavailable, "facility agent does not originate proposals")
}

// Critique rejects any proposal whose quantity exceeds available storage.
func (a *FacilityAgent) Critique(ctx context.Context, proposal core.Proposal, scenario core.Context) (core.CritiqueDecision, error) {
	if err := ctx.Err(); err != nil {
		return core.CritiqueDecision{}, err
	}

	storage, ok := scenario.Float(core.ContextKeyStorageAvailable)
	if !ok || float64(proposal.ProposedQuantity) <= storage {
		return core.CritiqueDecision{
			Agent:      a.ID(),
			Verdict:    core.VerdictAccept,
			Reasoning:  fmt.Sprintf("%d units fit in available storage", proposal.ProposedQuantity),
			Confidence: 0.93,
		}, nil
	}

	return core.CritiqueDecision{
		Agent:      a.ID(),
		Verdict:    core.VerdictCritique,
		Reasoning:  fmt.Sprintf("Quantity %d exceeds available storage of %.0f units", proposal.ProposedQuantity, storage),
		Confidence: 0.92,
		SuggestedAdjustments: map[string]float64{
			core.AdjustmentMaxQuantity: storage,
		},
	}, nil
}
