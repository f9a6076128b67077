package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/deosha/hospital-blockops-prototype/agent"
	"github.com/deosha/hospital-blockops-prototype/core"
	"github.com/deosha/hospital-blockops-prototype/ledger"
	"github.com/deosha/hospital-blockops-prototype/registry"
)

// stubAgent lets each test override exactly the capability it cares about.
type stubAgent struct {
	id       string
	propose  func(ctx context.Context, scenario core.Context) (core.ConstraintRecord, error)
	generate func(ctx context.Context, scenario core.Context, constraints map[string]core.ConstraintRecord) (core.Proposal, error)
	critique func(ctx context.Context, proposal core.Proposal, scenario core.Context) (core.CritiqueDecision, error)
}

func (s *stubAgent) ID() string   { return s.id }
func (s *stubAgent) Role() string { return "stub" }

func (s *stubAgent) ProposeConstraint(ctx context.Context, scenario core.Context) (core.ConstraintRecord, error) {
	if s.propose != nil {
		return s.propose(ctx, scenario)
	}
	return core.ConstraintRecord{Type: "stub", Fields: map[string]any{}}, nil
}

func (s *stubAgent) GenerateProposal(ctx context.Context, scenario core.Context, constraints map[string]core.ConstraintRecord) (core.Proposal, error) {
	if s.generate != nil {
		return s.generate(ctx, scenario, constraints)
	}
	return core.Proposal{}, errors.Wrap(core.ErrAgentUnavailable, "stub does not originate proposals")
}

func (s *stubAgent) Critique(ctx context.Context, proposal core.Proposal, scenario core.Context) (core.CritiqueDecision, error) {
	if s.critique != nil {
		return s.critique(ctx, proposal, scenario)
	}
	return core.CritiqueDecision{Agent: s.id, Verdict: core.VerdictAccept, Confidence: 0.9}, nil
}

func fastLedger() *ledger.Ledger {
	return ledger.NewLedger(func(o *ledger.Options) {
		o.Difficulty = 0
		o.ConsensusDelayMin = 0
		o.ConsensusDelayMax = 0
	})
}

// hospitalEngine wires the three rule-based agents the way a host would.
func hospitalEngine(optFns ...func(o *Options)) *Engine {
	reg := registry.New()
	reg.Register(agent.NewSupplyChainAgent("SC"))
	reg.Register(agent.NewFinancialAgent("FIN"))
	reg.Register(agent.NewFacilityAgent("FAC"))
	base := func(o *Options) {
		o.Registry = reg
		o.Ledger = fastLedger()
	}
	return New(append([]func(o *Options){base}, optFns...)...)
}

func hospitalSpec(ctx core.Context) core.ScenarioSpec {
	return core.ScenarioSpec{
		Initiator:    "SC",
		Participants: []string{"SC", "FIN", "FAC"},
		Intent:       "order surgical masks",
		Context:      ctx,
	}
}

func TestStorageBoundedAgreement(t *testing.T) {
	e := hospitalEngine()
	s, err := e.Coordinate(context.Background(), hospitalSpec(core.Context{
		core.ContextKeyItemName:         "surgical masks",
		core.ContextKeyRequiredQuantity: 1000,
		core.ContextKeyPricePerUnit:     2.00,
		core.ContextKeyBudgetRemaining:  2000.0,
		core.ContextKeyStorageAvailable: 800.0,
	}))
	require.NoError(t, err)
	require.Equal(t, core.StateCompleted, s.CurrentState())

	snap := s.Clone()
	require.Len(t, snap.Rounds, 2)
	require.Equal(t, 1000, snap.Rounds[0].Proposal.ProposedQuantity)
	require.Equal(t, 800, snap.FinalProposal.ProposedQuantity)
	require.Equal(t, 1600.0, snap.FinalProposal.ProposedCost)
	require.NotNil(t, snap.Receipt)
	require.Equal(t, 1, snap.Receipt.BlockIndex)

	block, err := e.Ledger().GetBlock(1)
	require.NoError(t, err)
	require.Len(t, block.Payload.Transactions, 1)
	tx := block.Payload.Transactions[0]
	require.Equal(t, 800, tx.Details[ledger.DetailQuantity])
	require.Equal(t, 1600.0, tx.Details[ledger.DetailAmount])
	require.True(t, e.Ledger().Validate().Valid)
}

func TestBudgetBoundedAgreement(t *testing.T) {
	e := hospitalEngine()
	s, err := e.Coordinate(context.Background(), hospitalSpec(core.Context{
		core.ContextKeyRequiredQuantity: 1000,
		core.ContextKeyPricePerUnit:     2.00,
		core.ContextKeyBudgetRemaining:  1200.0,
		core.ContextKeyStorageAvailable: 1000.0,
	}))
	require.NoError(t, err)

	snap := s.Clone()
	require.Equal(t, core.StateCompleted, snap.State)
	require.LessOrEqual(t, len(snap.Rounds), 2)
	require.Equal(t, 600, snap.FinalProposal.ProposedQuantity)
	require.Equal(t, 1200.0, snap.FinalProposal.ProposedCost)
}

func TestSimultaneousTightConstraints(t *testing.T) {
	e := hospitalEngine()
	s, err := e.Coordinate(context.Background(), hospitalSpec(core.Context{
		core.ContextKeyRequiredQuantity: 2000,
		core.ContextKeyPricePerUnit:     2.00,
		core.ContextKeyBudgetRemaining:  1500.0,
		core.ContextKeyStorageAvailable: 700.0,
	}))
	require.NoError(t, err)

	snap := s.Clone()
	require.Equal(t, core.StateCompleted, snap.State)
	require.Equal(t, 700, snap.FinalProposal.ProposedQuantity)
	require.Equal(t, 1400.0, snap.FinalProposal.ProposedCost)
}

func TestNoAgreementAfterRoundCap(t *testing.T) {
	reg := registry.New()
	reg.Register(agent.NewSupplyChainAgent("SC"))
	reg.Register(agent.NewFinancialAgent("FIN"))
	reg.Register(&stubAgent{
		id: "FAC",
		critique: func(ctx context.Context, p core.Proposal, scenario core.Context) (core.CritiqueDecision, error) {
			return core.CritiqueDecision{
				Agent:      "FAC",
				Verdict:    core.VerdictCritique,
				Reasoning:  "unacceptable regardless of quantity",
				Confidence: 0.9,
			}, nil
		},
	})

	led := fastLedger()
	e := New(func(o *Options) {
		o.Registry = reg
		o.Ledger = led
	})

	s, err := e.Coordinate(context.Background(), hospitalSpec(core.Context{
		core.ContextKeyRequiredQuantity: 1000,
		core.ContextKeyPricePerUnit:     2.00,
		core.ContextKeyBudgetRemaining:  2000.0,
		core.ContextKeyStorageAvailable: 800.0,
	}))
	require.True(t, errors.Is(err, core.ErrNoAgreement))

	snap := s.Clone()
	require.Equal(t, core.StateFailed, snap.State)
	require.Equal(t, core.ReasonNoAgreement, snap.FailureReason)
	require.Len(t, snap.Rounds, 3)
	require.Nil(t, snap.Receipt)
	require.Equal(t, 1, led.Stats().TotalBlocks)
}

func TestPolicyViolationAtValidation(t *testing.T) {
	reg := registry.New()
	reg.Register(&stubAgent{
		id: "SC",
		generate: func(ctx context.Context, scenario core.Context, constraints map[string]core.ConstraintRecord) (core.Proposal, error) {
			return core.Proposal{
				ItemName:         "ventilators",
				ProposedQuantity: 37_500,
				ProposedCost:     75_000,
				PricePerUnit:     2.00,
				Confidence:       0.95,
			}, nil
		},
	})
	reg.Register(&stubAgent{id: "FIN"})
	reg.Register(&stubAgent{id: "FAC"})

	led := fastLedger()
	e := New(func(o *Options) {
		o.Registry = reg
		o.Ledger = led
	})

	s, err := e.Coordinate(context.Background(), hospitalSpec(core.Context{
		core.ContextKeyRequiredQuantity: 37_500,
		core.ContextKeyPricePerUnit:     2.00,
		core.ContextKeyBudgetRemaining:  100_000.0,
		core.ContextKeyStorageAvailable: 100_000.0,
	}))
	require.True(t, errors.Is(err, core.ErrPolicyViolation))

	snap := s.Clone()
	require.Equal(t, core.StateFailed, snap.State)
	require.Equal(t, ledger.CodeBudgetOverLimit, snap.FailureReason)
	require.Equal(t, 1, led.Stats().TotalBlocks)
	require.Zero(t, led.Stats().PendingTransactions)
}

func TestDeadlineExceeded(t *testing.T) {
	reg := registry.New()
	reg.Register(agent.NewSupplyChainAgent("SC"))
	reg.Register(&stubAgent{
		id: "FIN",
		propose: func(ctx context.Context, scenario core.Context) (core.ConstraintRecord, error) {
			time.Sleep(400 * time.Millisecond)
			return core.ConstraintRecord{Type: "financial"}, nil
		},
	})
	reg.Register(agent.NewFacilityAgent("FAC"))

	led := fastLedger()
	e := New(func(o *Options) {
		o.Registry = reg
		o.Ledger = led
		o.Timeout = 100 * time.Millisecond
	})

	s, err := e.Coordinate(context.Background(), hospitalSpec(core.Context{
		core.ContextKeyRequiredQuantity: 1000,
		core.ContextKeyPricePerUnit:     2.00,
	}))
	require.True(t, errors.Is(err, core.ErrDeadlineExceeded))

	snap := s.Clone()
	require.Equal(t, core.StateTimeout, snap.State)
	require.Equal(t, core.ReasonDeadlineExceeded, snap.FailureReason)
	require.Nil(t, snap.Receipt)
	require.Equal(t, 1, led.Stats().TotalBlocks)
}

func TestUnavailableCriticDoesNotBlockAgreement(t *testing.T) {
	reg := registry.New()
	reg.Register(agent.NewSupplyChainAgent("SC"))
	reg.Register(&stubAgent{
		id: "FIN",
		propose: func(ctx context.Context, scenario core.Context) (core.ConstraintRecord, error) {
			return core.ConstraintRecord{}, errors.New("offline")
		},
	})
	reg.Register(agent.NewFacilityAgent("FAC"))

	e := New(func(o *Options) {
		o.Registry = reg
		o.Ledger = fastLedger()
	})

	s, err := e.Coordinate(context.Background(), hospitalSpec(core.Context{
		core.ContextKeyRequiredQuantity: 500,
		core.ContextKeyPricePerUnit:     2.00,
		core.ContextKeyBudgetRemaining:  2000.0,
		core.ContextKeyStorageAvailable: 800.0,
	}))
	require.NoError(t, err)

	snap := s.Clone()
	require.Equal(t, core.StateCompleted, snap.State)
	require.True(t, snap.Constraints["FIN"].Unavailable)
}

func TestUnknownParticipantFailsSession(t *testing.T) {
	e := hospitalEngine()
	spec := hospitalSpec(core.Context{})
	spec.Participants = append(spec.Participants, "PHARMACY")

	s, err := e.Coordinate(context.Background(), spec)
	require.True(t, errors.Is(err, core.ErrUnknownAgent))
	require.Equal(t, core.StateFailed, s.CurrentState())
	require.Equal(t, core.ReasonUnknownAgent, s.Clone().FailureReason)
}

func TestInvalidScenarios(t *testing.T) {
	e := hospitalEngine()

	t.Run("empty participants", func(t *testing.T) {
		_, err := e.Coordinate(context.Background(), core.ScenarioSpec{Initiator: "SC"})
		require.True(t, errors.Is(err, core.ErrInvalidScenario))
	})

	t.Run("initiator not a participant", func(t *testing.T) {
		_, err := e.Coordinate(context.Background(), core.ScenarioSpec{
			Initiator:    "SC",
			Participants: []string{"FIN", "FAC"},
		})
		require.True(t, errors.Is(err, core.ErrInvalidScenario))
	})
}

func TestMessageOrderConsistency(t *testing.T) {
	e := hospitalEngine()
	s, err := e.Coordinate(context.Background(), hospitalSpec(core.Context{
		core.ContextKeyRequiredQuantity: 1000,
		core.ContextKeyPricePerUnit:     2.00,
		core.ContextKeyBudgetRemaining:  2000.0,
		core.ContextKeyStorageAvailable: 800.0,
	}))
	require.NoError(t, err)

	msgs, err := e.GetMessages(s.ID)
	require.NoError(t, err)

	kinds := make([]core.MessageKind, len(msgs))
	for i, m := range msgs {
		kinds[i] = m.Kind
		if i > 0 {
			require.False(t, m.Timestamp.Before(msgs[i-1].Timestamp))
		}
	}
	require.Equal(t, []core.MessageKind{
		core.KindIntent, core.KindInform,
		core.KindQuery, core.KindConstraint,
		core.KindQuery, core.KindConstraint,
		core.KindProposal,
		core.KindAccept, core.KindCritique,
		core.KindProposal,
		core.KindAccept, core.KindAccept,
		core.KindInform,
	}, kinds)
}

func TestSessionLookupAndListing(t *testing.T) {
	e := hospitalEngine()
	for i := 0; i < 3; i++ {
		_, err := e.Coordinate(context.Background(), hospitalSpec(core.Context{
			core.ContextKeyRequiredQuantity: 100,
			core.ContextKeyPricePerUnit:     1.00,
		}))
		require.NoError(t, err)
	}

	summaries := e.ListSessions()
	require.Len(t, summaries, 3)
	for i, summary := range summaries {
		require.Equal(t, fmt.Sprintf("COORD-%05d", i+1), summary.SessionID)
		require.Equal(t, core.StateCompleted, summary.State)
	}

	s, err := e.GetSession(summaries[0].SessionID)
	require.NoError(t, err)
	require.Equal(t, summaries[0].SessionID, s.ID)

	_, err = e.GetSession("COORD-99999")
	require.True(t, errors.Is(err, core.ErrNotFound))
	_, err = e.GetMessages("COORD-99999")
	require.True(t, errors.Is(err, core.ErrNotFound))
}

func TestDuplicateSessionTransactionRejected(t *testing.T) {
	e := hospitalEngine()
	ctx := core.Context{
		core.ContextKeyRequiredQuantity: 100,
		core.ContextKeyPricePerUnit:     1.00,
	}

	s1, err := e.Coordinate(context.Background(), hospitalSpec(ctx))
	require.NoError(t, err)

	// Pre-seed a transaction with the id the next session will derive.
	report := e.Ledger().Submit(ledger.NewTransaction("TX-COORD-00002", "SC", ledger.ActionPurchaseOrder, map[string]any{}))
	require.True(t, report.Valid)

	s2, err := e.Coordinate(context.Background(), hospitalSpec(ctx))
	require.True(t, errors.Is(err, core.ErrDuplicateTransaction))
	require.Equal(t, core.StateFailed, s2.CurrentState())
	require.Equal(t, core.ReasonLedgerRejected, s2.Clone().FailureReason)

	require.NotEqual(t, s1.ID, s2.ID)
}
