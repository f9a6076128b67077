package agent

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/deosha/hospital-blockops-prototype/core"
)

// SupplyChainAgent is the rule-based purchasing initiator. Its proposal
// heuristic orders the required quantity clamped by what the remaining budget
// affords; facility limits only enter through critique adjustments during
// refinement, mirroring how the departments actually negotiate.
type SupplyChainAgent struct {
	BaseAgent
}

// NewSupplyChainAgent constructs a supply chain agent.
func NewSupplyChainAgent(id string, optFns ...func(o *Options)) *SupplyChainAgent {
	return &SupplyChainAgent{BaseAgent: newBase(id, "Supply Chain Management", optFns)}
}

// ProposeConstraint declares the reorder requirements for the scenario.
func (a *SupplyChainAgent) ProposeConstraint(ctx context.Context, scenario core.Context) (core.ConstraintRecord, error) {
	if err := ctx.Err(); err != nil {
		return core.ConstraintRecord{}, err
	}
	fields := map[string]any{}
	if required, ok := scenario.Int(core.ContextKeyRequiredQuantity); ok {
		fields["required_quantity"] = required
	}
	if price, ok := scenario.Float(core.ContextKeyPricePerUnit); ok {
		fields["price_per_unit"] = price
	}
	if urgency, ok := scenario.String(core.ContextKeyUrgency); ok {
		fields["urgency"] = urgency
	}
	return core.ConstraintRecord{Type: "supply_chain", Fields: fields}, nil
}

// GenerateProposal produces the purchase plan. During refinement the scenario
// carries the previous round's critiques; their suggested adjustments clamp
// the quantity.
func (a *SupplyChainAgent) GenerateProposal(ctx context.Context, scenario core.Context, constraints map[string]core.ConstraintRecord) (core.Proposal, error) {
	if err := ctx.Err(); err != nil {
		return core.Proposal{}, err
	}

	price, ok := scenario.Float(core.ContextKeyPricePerUnit)
	if !ok || price <= 0 {
		return core.Proposal{}, errors.Wrap(core.ErrInvalidScenario, "price_per_unit is required")
	}
	required, ok := scenario.Int(core.ContextKeyRequiredQuantity)
	if !ok || required <= 0 {
		return core.Proposal{}, errors.Wrap(core.ErrInvalidScenario, "required_quantity is required")
	}
	item, ok := scenario.String(core.ContextKeyItemName)
	if !ok {
		item = "medical supplies"
	}

	quantity := required
	if budget, ok := scenario.Float(core.ContextKeyBudgetRemaining); ok {
		if affordable := int(budget / price); affordable < quantity {
			quantity = affordable
		}
	}

	refined := false
	if critiques, ok := scenario[core.ContextKeyCritiques].([]core.CritiqueDecision); ok {
		refined = true
		for _, c := range critiques {
			if maxQty, ok := c.SuggestedAdjustments[core.AdjustmentMaxQuantity]; ok && int(maxQty) < quantity {
				quantity = int(maxQty)
			}
			if maxCost, ok := c.SuggestedAdjustments[core.AdjustmentMaxCost]; ok {
				if affordable := int(maxCost / price); affordable < quantity {
					quantity = affordable
				}
			}
		}
	}

	if quantity <= 0 {
		return core.Proposal{}, errors.Wrap(core.ErrInvalidScenario, "constraints leave no purchasable quantity")
	}

	cost := float64(quantity) * price
	reasoning := fmt.Sprintf("Ordering %d of %d required units of %s at $%.2f per unit", quantity, required, item, price)
	if refined {
		reasoning = fmt.Sprintf("Revised to %d units of %s at $%.2f per unit after participant feedback", quantity, item, price)
	}

	a.logger.Debug("Generated proposal",
		"agent_id", a.ID(), "quantity", quantity, "cost", cost, "refined", refined)

	return core.Proposal{
		ItemName:             item,
		ProposedQuantity:     quantity,
		ProposedCost:         cost,
		PricePerUnit:         price,
		Reasoning:            reasoning,
		Confidence:           0.90,
		ConstraintsSatisfied: satisfiedByQuantityAndCost(constraints, quantity, cost),
	}, nil
}

// Critique accepts any proposal that does not overshoot the declared need.
func (a *SupplyChainAgent) Critique(ctx context.Context, proposal core.Proposal, scenario core.Context) (core.CritiqueDecision, error) {
	if err := ctx.Err(); err != nil {
		return core.CritiqueDecision{}, err
	}
	if required, ok := scenario.Int(core.ContextKeyRequiredQuantity); ok && proposal.ProposedQuantity > required {
		return core.CritiqueDecision{
			Agent:      a.ID(),
			Verdict:    core.VerdictCritique,
			Reasoning:  fmt.Sprintf("Proposed quantity %d exceeds the %d units needed", proposal.ProposedQuantity, required),
			Confidence: 0.88,
			SuggestedAdjustments: map[string]float64{
				core.AdjustmentMaxQuantity: float64(required),
			},
		}, nil
	}
	return core.CritiqueDecision{
		Agent:      a.ID(),
		Verdict:    core.VerdictAccept,
		Reasoning:  "Proposal covers the supply need",
		Confidence: 0.88,
	}, nil
}

// satisfiedByQuantityAndCost evaluates the collected constraints against the
// proposed figures. Fields the agent does not understand count as satisfied.
func satisfiedByQuantityAndCost(constraints map[string]core.ConstraintRecord, quantity int, cost float64) map[string]bool {
	out := make(map[string]bool, len(constraints))
	for id, record := range constraints {
		ok := true
		if record.Unavailable {
			out[id] = ok
			continue
		}
		if maxAmount, found := fieldFloat(record.Fields, "max_amount"); found && cost > maxAmount {
			ok = false
		}
		if maxQty, found := fieldFloat(record.Fields, core.AdjustmentMaxQuantity); found && float64(quantity) > maxQty {
			ok = false
		}
		out[id] = ok
	}
	return out
}

func fieldFloat(fields map[string]any, key string) (float64, bool) {
	return core.Context(fields).Float(key)
}
