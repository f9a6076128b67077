package ledger

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/deosha/hospital-blockops-prototype/core"
)

// newTestLedger disables mining and the consensus sleep so tests stay fast.
func newTestLedger(optFns ...func(o *Options)) *Ledger {
	base := func(o *Options) {
		o.Difficulty = 0
		o.ConsensusDelayMin = 0
		o.ConsensusDelayMax = 0
	}
	return NewLedger(append([]func(o *Options){base}, optFns...)...)
}

func validTx(id string) Transaction {
	return NewTransaction(id, "supply_chain", ActionPurchaseOrder, map[string]any{
		DetailAmount:           1200.0,
		DetailAvailableBudget:  15_000.0,
		DetailQuantity:         40.0,
		DetailAvailableStorage: 800.0,
		DetailConfidence:       0.90,
	})
}

func TestGenesisBlock(t *testing.T) {
	l := newTestLedger()

	genesis, err := l.GetBlock(0)
	require.NoError(t, err)
	require.Equal(t, 0, genesis.Index)
	require.Equal(t, "", genesis.PreviousHash)
	require.Equal(t, PayloadGenesis, genesis.Payload.Type)
	require.NotEmpty(t, genesis.Hash)

	report := l.Validate()
	require.True(t, report.Valid)
	require.Equal(t, 1, report.BlocksChecked)
}

func TestGenesisMinedAtDifficulty(t *testing.T) {
	l := NewLedger(func(o *Options) {
		o.Difficulty = 1
		o.ConsensusDelayMin = 0
		o.ConsensusDelayMax = 0
	})
	genesis, err := l.GetBlock(0)
	require.NoError(t, err)
	require.True(t, genesis.meetsDifficulty(1))
}

func TestSubmitAndCommit(t *testing.T) {
	l := newTestLedger()

	report := l.Submit(validTx("TX-001"))
	require.True(t, report.Valid)
	require.Equal(t, 1, l.Stats().PendingTransactions)

	block, err := l.Commit()
	require.NoError(t, err)
	require.NotNil(t, block)
	require.Equal(t, 1, block.Index)
	require.Equal(t, PayloadTransactionBlock, block.Payload.Type)
	require.Equal(t, 1, block.Payload.TransactionCount)
	require.Equal(t, StatusValidated, block.Payload.Transactions[0].ValidationStatus)

	genesis, err := l.GetBlock(0)
	require.NoError(t, err)
	require.Equal(t, genesis.Hash, block.PreviousHash)

	stats := l.Stats()
	require.Zero(t, stats.PendingTransactions)
	require.Equal(t, 1, stats.TotalTransactions)
	require.True(t, stats.ChainValid)
}

func TestCommitEmptyPoolIsNoOp(t *testing.T) {
	l := newTestLedger()

	block, err := l.Commit()
	require.NoError(t, err)
	require.Nil(t, block)
	require.Equal(t, 1, l.Stats().TotalBlocks)
}

func TestCommitBatching(t *testing.T) {
	l := newTestLedger(func(o *Options) { o.BatchSize = 3 })

	for i := 0; i < 5; i++ {
		report := l.Submit(validTx(fmt.Sprintf("TX-%03d", i)))
		require.True(t, report.Valid)
	}

	first, err := l.Commit()
	require.NoError(t, err)
	require.Equal(t, 3, first.Payload.TransactionCount)
	require.Equal(t, "TX-000", first.Payload.Transactions[0].TransactionID)

	second, err := l.Commit()
	require.NoError(t, err)
	require.Equal(t, 2, second.Payload.TransactionCount)
	require.Equal(t, "TX-003", second.Payload.Transactions[0].TransactionID)

	require.Zero(t, l.Stats().PendingTransactions)
}

func TestCommitAutoSingleTransaction(t *testing.T) {
	l := newTestLedger()

	require.True(t, l.Submit(validTx("TX-A")).Valid)
	require.True(t, l.Submit(validTx("TX-B")).Valid)

	block, err := l.CommitAuto()
	require.NoError(t, err)
	require.Equal(t, 1, block.Payload.TransactionCount)
	require.Equal(t, "TX-A", block.Payload.Transactions[0].TransactionID)
	require.Equal(t, 1, l.Stats().PendingTransactions)
}

func TestRejectedTransactionsNeverCommitted(t *testing.T) {
	l := newTestLedger()

	bad := NewTransaction("TX-BAD", "supply_chain", ActionPurchaseOrder, map[string]any{
		DetailAmount: 75_000.0,
	})
	report := l.Submit(bad)
	require.False(t, report.Valid)
	require.Equal(t, []string{CodeBudgetOverLimit}, report.FailureCodes())

	block, err := l.Commit()
	require.NoError(t, err)
	require.Nil(t, block)

	rejected := l.Rejected()
	require.Len(t, rejected, 1)
	require.Equal(t, StatusRejected, rejected[0].ValidationStatus)

	record, err := l.FindTransaction("TX-BAD")
	require.NoError(t, err)
	require.Equal(t, "rejected", record.Location)
}

func TestDuplicateTransactionIDs(t *testing.T) {
	l := newTestLedger()

	require.True(t, l.Submit(validTx("TX-DUP")).Valid)

	t.Run("pending duplicate", func(t *testing.T) {
		report := l.Submit(validTx("TX-DUP"))
		require.False(t, report.Valid)
		require.Equal(t, CodeDuplicateTx, report.Code)
	})

	_, err := l.Commit()
	require.NoError(t, err)

	t.Run("committed duplicate", func(t *testing.T) {
		report := l.Submit(validTx("TX-DUP"))
		require.False(t, report.Valid)
		require.Equal(t, CodeDuplicateTx, report.Code)
	})

	t.Run("rejected duplicate", func(t *testing.T) {
		bad := NewTransaction("TX-REJ", "facility", ActionPurchaseOrder, map[string]any{DetailAmount: -1.0})
		require.False(t, l.Submit(bad).Valid)

		report := l.Submit(validTx("TX-REJ"))
		require.False(t, report.Valid)
		require.Equal(t, CodeDuplicateTx, report.Code)
	})
}

func TestTamperDetection(t *testing.T) {
	l := newTestLedger()

	require.True(t, l.Submit(validTx("TX-T1")).Valid)
	_, err := l.Commit()
	require.NoError(t, err)
	require.True(t, l.Submit(validTx("TX-T2")).Valid)
	_, err = l.Commit()
	require.NoError(t, err)

	require.True(t, l.Validate().Valid)

	// Reach into the chain the way an attacker with process memory would.
	l.mu.Lock()
	l.chain[1].Payload.Transactions[0].Details[DetailAmount] = 999_999.0
	l.mu.Unlock()

	report := l.Validate()
	require.False(t, report.Valid)
	require.NotEmpty(t, report.Errors)
	require.Contains(t, report.Errors[0], "Block 1 hash invalid")
}

func TestValidateDetectsBrokenLink(t *testing.T) {
	l := newTestLedger()

	require.True(t, l.Submit(validTx("TX-L1")).Valid)
	_, err := l.Commit()
	require.NoError(t, err)

	l.mu.Lock()
	l.chain[1].PreviousHash = "forged"
	l.mu.Unlock()

	report := l.Validate()
	require.False(t, report.Valid)
}

func TestQueries(t *testing.T) {
	l := newTestLedger()

	require.True(t, l.Submit(validTx("TX-Q1")).Valid)
	require.True(t, l.Submit(validTx("TX-Q2")).Valid)
	_, err := l.Commit()
	require.NoError(t, err)

	t.Run("get block out of range", func(t *testing.T) {
		_, err := l.GetBlock(99)
		require.True(t, errors.Is(err, core.ErrNotFound))
	})

	t.Run("get blocks pagination", func(t *testing.T) {
		require.Len(t, l.GetBlocks(0, 0), 2)
		blocks := l.GetBlocks(1, 5)
		require.Len(t, blocks, 1)
		require.Equal(t, 1, blocks[0].Index)
		require.Empty(t, l.GetBlocks(10, 5))
	})

	t.Run("latest", func(t *testing.T) {
		require.Equal(t, 1, l.Latest().Index)
	})

	t.Run("find committed", func(t *testing.T) {
		record, err := l.FindTransaction("TX-Q2")
		require.NoError(t, err)
		require.Equal(t, "committed", record.Location)
		require.Equal(t, 1, record.BlockIndex)
		require.NotEmpty(t, record.BlockHash)
	})

	t.Run("find missing", func(t *testing.T) {
		_, err := l.FindTransaction("TX-NOPE")
		require.True(t, errors.Is(err, core.ErrNotFound))
	})
}

func TestHistoryFiltersByAgent(t *testing.T) {
	l := newTestLedger()

	tx := validTx("TX-H1")
	tx.AgentName = "financial"
	require.True(t, l.Submit(tx).Valid)
	require.True(t, l.Submit(validTx("TX-H2")).Valid)
	_, err := l.Commit()
	require.NoError(t, err)

	all := l.History("")
	require.Len(t, all, 2)

	financial := l.History("financial")
	require.Len(t, financial, 1)
	require.Equal(t, "TX-H1", financial[0].Transaction.TransactionID)
	require.Equal(t, 1, financial[0].BlockIndex)
}

func TestReset(t *testing.T) {
	l := newTestLedger()

	require.True(t, l.Submit(validTx("TX-R1")).Valid)
	_, err := l.Commit()
	require.NoError(t, err)
	require.False(t, l.Submit(NewTransaction("TX-R2", "x", ActionPurchaseOrder, map[string]any{DetailAmount: -1.0})).Valid)

	l.Reset()

	stats := l.Stats()
	require.Equal(t, 1, stats.TotalBlocks)
	require.Zero(t, stats.TotalTransactions)
	require.Zero(t, stats.PendingTransactions)
	require.Zero(t, stats.RejectedTransactions)
	require.True(t, stats.ChainValid)

	// Ids from before the reset are accepted again.
	require.True(t, l.Submit(validTx("TX-R1")).Valid)
}

func TestConcurrentSubmitAndRead(t *testing.T) {
	l := newTestLedger()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				l.Submit(validTx(fmt.Sprintf("TX-C%d-%d", n, j)))
				if j%3 == 0 {
					_, _ = l.Commit()
				}
				_ = l.Stats()
				_ = l.Validate()
			}
		}(i)
	}
	wg.Wait()

	for l.Stats().PendingTransactions > 0 {
		_, err := l.Commit()
		require.NoError(t, err)
	}

	stats := l.Stats()
	require.Equal(t, 80, stats.TotalTransactions)
	require.True(t, stats.ChainValid)
}

func TestConsensusDelayBounds(t *testing.T) {
	l := NewLedger(func(o *Options) {
		o.Difficulty = 0
		o.ConsensusDelayMin = 20 * time.Millisecond
		o.ConsensusDelayMax = 40 * time.Millisecond
	})

	require.True(t, l.Submit(validTx("TX-D1")).Valid)

	start := time.Now()
	_, err := l.Commit()
	require.NoError(t, err)
	require.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}
