package engine

import (
	"github.com/pkg/errors"

	"github.com/deosha/hospital-blockops-prototype/core"
	"github.com/deosha/hospital-blockops-prototype/ledger"
)

// buildTransaction maps an accepted proposal and the scenario context onto a
// ledger transaction. The amount/quantity/confidence keys drive the
// smart-contract predicates; available budget and storage are forwarded from
// the scenario when known so the validator can check against them.
func buildTransaction(s *core.Session, p core.Proposal) ledger.Transaction {
	details := map[string]any{
		"item_name":               p.ItemName,
		"proposed_quantity":       p.ProposedQuantity,
		"proposed_cost":           p.ProposedCost,
		"price_per_unit":          p.PricePerUnit,
		"participants":            append([]string(nil), s.Participants...),
		ledger.DetailAmount:       p.ProposedCost,
		ledger.DetailQuantity:     p.ProposedQuantity,
		ledger.DetailConfidence:   p.Confidence,
	}
	if budget, ok := s.Context.Float(core.ContextKeyBudgetRemaining); ok {
		details[ledger.DetailAvailableBudget] = budget
	}
	if storage, ok := s.Context.Float(core.ContextKeyStorageAvailable); ok {
		details[ledger.DetailAvailableStorage] = storage
	}
	return ledger.NewTransaction("TX-"+s.ID, s.Initiator, ledger.ActionCoordinatedPurchase, details)
}

// execute submits the transaction and commits until it lands in a block.
// Concurrent sessions share the pending pool, so our transaction may be
// drained by another session's commit; the loop keeps committing until ours
// is on the chain.
func (e *Engine) execute(tx ledger.Transaction) (*core.Receipt, error) {
	report := e.opts.Ledger.Submit(tx)
	if !report.Valid {
		if report.Code == ledger.CodeDuplicateTx {
			return nil, errors.Wrap(core.ErrDuplicateTransaction, report.OverallReason)
		}
		return nil, errors.Wrap(core.ErrLedgerRejected, report.OverallReason)
	}

	for {
		if _, err := e.opts.Ledger.CommitAuto(); err != nil {
			return nil, errors.Wrapf(core.ErrLedgerRejected, "commit failed: %v", err)
		}
		record, err := e.opts.Ledger.FindTransaction(tx.TransactionID)
		if err != nil {
			return nil, errors.Wrapf(core.ErrLedgerRejected, "submitted transaction lost: %v", err)
		}
		switch record.Location {
		case ledger.LocationCommitted:
			return &core.Receipt{
				BlockIndex:    record.BlockIndex,
				BlockHash:     record.BlockHash,
				TransactionID: tx.TransactionID,
			}, nil
		case ledger.LocationPending:
			// Another session's auto-commit drained ahead of us; go again.
		default:
			return nil, errors.Wrap(core.ErrLedgerRejected, "transaction rejected on the commit path")
		}
	}
}
