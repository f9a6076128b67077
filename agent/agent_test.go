package agent

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/deosha/hospital-blockops-prototype/core"
)

func scenarioContext() core.Context {
	return core.Context{
		core.ContextKeyItemName:         "surgical masks",
		core.ContextKeyRequiredQuantity: 1000,
		core.ContextKeyPricePerUnit:     2.00,
		core.ContextKeyBudgetRemaining:  2000.0,
		core.ContextKeyStorageAvailable: 800.0,
	}
}

func TestSupplyChainProposalIgnoresStorageInitially(t *testing.T) {
	sc := NewSupplyChainAgent("SC-001")

	p, err := sc.GenerateProposal(context.Background(), scenarioContext(), nil)
	require.NoError(t, err)
	require.Equal(t, 1000, p.ProposedQuantity)
	require.Equal(t, 2000.0, p.ProposedCost)
	require.Equal(t, "surgical masks", p.ItemName)
	require.GreaterOrEqual(t, p.Confidence, 0.70)
}

func TestSupplyChainProposalBudgetClamp(t *testing.T) {
	sc := NewSupplyChainAgent("SC-001")
	scenario := scenarioContext()
	scenario[core.ContextKeyBudgetRemaining] = 1200.0

	p, err := sc.GenerateProposal(context.Background(), scenario, nil)
	require.NoError(t, err)
	require.Equal(t, 600, p.ProposedQuantity)
	require.Equal(t, 1200.0, p.ProposedCost)
}

func TestSupplyChainRefinementAppliesAdjustments(t *testing.T) {
	sc := NewSupplyChainAgent("SC-001")
	scenario := scenarioContext()
	scenario[core.ContextKeyCritiques] = []core.CritiqueDecision{
		{
			Agent:                "FAC-001",
			Verdict:              core.VerdictCritique,
			SuggestedAdjustments: map[string]float64{core.AdjustmentMaxQuantity: 800},
		},
	}

	p, err := sc.GenerateProposal(context.Background(), scenario, nil)
	require.NoError(t, err)
	require.Equal(t, 800, p.ProposedQuantity)
	require.Equal(t, 1600.0, p.ProposedCost)
	require.Contains(t, p.Reasoning, "Revised")
}

func TestSupplyChainRefinementMaxCostClamp(t *testing.T) {
	sc := NewSupplyChainAgent("SC-001")
	scenario := scenarioContext()
	scenario[core.ContextKeyBudgetRemaining] = 5000.0
	scenario[core.ContextKeyCritiques] = []core.CritiqueDecision{
		{
			Agent:                "FIN-001",
			Verdict:              core.VerdictCritique,
			SuggestedAdjustments: map[string]float64{core.AdjustmentMaxCost: 1500},
		},
	}

	p, err := sc.GenerateProposal(context.Background(), scenario, nil)
	require.NoError(t, err)
	require.Equal(t, 750, p.ProposedQuantity)
	require.Equal(t, 1500.0, p.ProposedCost)
}

func TestSupplyChainProposalRequiresPrice(t *testing.T) {
	sc := NewSupplyChainAgent("SC-001")
	scenario := scenarioContext()
	delete(scenario, core.ContextKeyPricePerUnit)

	_, err := sc.GenerateProposal(context.Background(), scenario, nil)
	require.True(t, errors.Is(err, core.ErrInvalidScenario))
}

func TestSupplyChainConstraintsSatisfied(t *testing.T) {
	sc := NewSupplyChainAgent("SC-001")
	constraints := map[string]core.ConstraintRecord{
		"FIN-001": {Type: "financial", Fields: map[string]any{"max_amount": 2000.0}},
		"FAC-001": {Type: "facility", Fields: map[string]any{"max_quantity": 800.0}},
	}

	p, err := sc.GenerateProposal(context.Background(), scenarioContext(), constraints)
	require.NoError(t, err)
	require.True(t, p.ConstraintsSatisfied["FIN-001"])
	require.False(t, p.ConstraintsSatisfied["FAC-001"])
}

func TestFinancialConstraintAndCritique(t *testing.T) {
	fin := NewFinancialAgent("FIN-001")

	record, err := fin.ProposeConstraint(context.Background(), scenarioContext())
	require.NoError(t, err)
	require.Equal(t, "financial", record.Type)
	require.Equal(t, 2000.0, record.Fields["max_amount"])

	t.Run("accepts affordable proposal", func(t *testing.T) {
		d, err := fin.Critique(context.Background(), core.Proposal{ProposedCost: 1600, PricePerUnit: 2}, scenarioContext())
		require.NoError(t, err)
		require.True(t, d.Accepted())
		require.Equal(t, 0.95, d.Confidence)
	})

	t.Run("critiques overspend with clamps", func(t *testing.T) {
		d, err := fin.Critique(context.Background(), core.Proposal{ProposedCost: 3000, PricePerUnit: 2}, scenarioContext())
		require.NoError(t, err)
		require.False(t, d.Accepted())
		require.Equal(t, 2000.0, d.SuggestedAdjustments[core.AdjustmentMaxCost])
		require.Equal(t, 1000.0, d.SuggestedAdjustments[core.AdjustmentMaxQuantity])
	})
}

func TestFinancialDoesNotOriginateProposals(t *testing.T) {
	fin := NewFinancialAgent("FIN-001")
	_, err := fin.GenerateProposal(context.Background(), scenarioContext(), nil)
	require.True(t, errors.Is(err, core.ErrAgentUnavailable))
}

func TestFacilityConstraintAndCritique(t *testing.T) {
	fac := NewFacilityAgent("FAC-001")

	record, err := fac.ProposeConstraint(context.Background(), scenarioContext())
	require.NoError(t, err)
	require.Equal(t, "facility", record.Type)
	require.Equal(t, 800.0, record.Fields["max_quantity"])

	t.Run("accepts storable quantity", func(t *testing.T) {
		d, err := fac.Critique(context.Background(), core.Proposal{ProposedQuantity: 800}, scenarioContext())
		require.NoError(t, err)
		require.True(t, d.Accepted())
	})

	t.Run("critiques overflow with clamp", func(t *testing.T) {
		d, err := fac.Critique(context.Background(), core.Proposal{ProposedQuantity: 1000}, scenarioContext())
		require.NoError(t, err)
		require.False(t, d.Accepted())
		require.Equal(t, 800.0, d.SuggestedAdjustments[core.AdjustmentMaxQuantity])
	})
}

func TestCritiqueHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewFacilityAgent("FAC-001").Critique(ctx, core.Proposal{}, scenarioContext())
	require.Error(t, err)
}
