package ledger

import (
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/deosha/hospital-blockops-prototype/core"
	"github.com/deosha/hospital-blockops-prototype/logging"
)

// Options configures a Ledger.
type Options struct {
	// BatchSize is the maximum number of transactions per committed block.
	BatchSize int

	// Difficulty is the number of leading hex zeros required on block
	// hashes. 0 disables mining. Must stay small; mining runs on the
	// commit path.
	Difficulty int

	// ConsensusDelayMin/Max bound the uniform-random sleep on each commit,
	// standing in for PBFT-like multi-party ordering.
	ConsensusDelayMin time.Duration
	ConsensusDelayMax time.Duration

	// Validator gates every submitted transaction. Defaults to
	// NewValidator() if nil.
	Validator *Validator

	// Logger defaults to NoOp if nil.
	Logger logging.Logger
}

// Ledger is the in-memory chained block store. Writers (Submit, Commit,
// Reset) are serialized on an internal lock; readers run concurrently with
// each other and with a writer and always observe a consistent snapshot —
// a block is either fully appended and visible or not at all.
type Ledger struct {
	opts   Options
	logger logging.Logger

	// wmu serializes writers end to end, including the consensus sleep, so
	// a commit is atomic with respect to the pending pool.
	wmu sync.Mutex

	// mu guards the snapshot-visible state below.
	mu       sync.RWMutex
	chain    []Block
	pending  []Transaction
	rejected []Transaction
	txBlock  map[string]int // committed transaction id -> block index
}

// NewLedger constructs a ledger with the genesis block already committed.
func NewLedger(optFns ...func(o *Options)) *Ledger {
	opts := Options{
		BatchSize:         10,
		Difficulty:        2,
		ConsensusDelayMin: 100 * time.Millisecond,
		ConsensusDelayMax: 250 * time.Millisecond,
		Validator:         NewValidator(),
		Logger:            logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Validator == nil {
		opts.Validator = NewValidator()
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 10
	}

	l := &Ledger{opts: opts, logger: opts.Logger, txBlock: map[string]int{}}
	l.bootstrapGenesis()
	return l
}

// Validator returns the configured smart-contract validator, used by the
// coordination engine for its dry-run check before execution.
func (l *Ledger) Validator() *Validator { return l.opts.Validator }

// Submit runs the transaction through the smart-contract validator. Valid
// transactions enter the pending pool; invalid ones are marked REJECTED,
// recorded in the rejection log and never appear in a block. A transaction
// id that duplicates a committed, pending or rejected one is refused with
// code DUPLICATE_TX.
func (l *Ledger) Submit(tx Transaction) ValidationReport {
	l.wmu.Lock()
	defer l.wmu.Unlock()

	tx = tx.Clone()

	if l.isDuplicate(tx.TransactionID) {
		report := ValidationReport{
			Valid:         false,
			Code:          CodeDuplicateTx,
			OverallReason: fmt.Sprintf("Transaction id %s already exists", tx.TransactionID),
			Timestamp:     time.Now().UTC(),
		}
		l.reject(tx, report)
		return report
	}

	report := l.opts.Validator.Validate(tx)
	if !report.Valid {
		l.reject(tx, report)
		return report
	}

	tx.ValidationStatus = StatusValidated
	tx.ValidationReport = &report
	l.mu.Lock()
	l.pending = append(l.pending, tx)
	l.mu.Unlock()
	l.logger.Info("Transaction validated and added to pool", "transaction_id", tx.TransactionID)
	return report
}

// Commit drains up to BatchSize pending transactions into a new block. It
// returns nil (and no error) when the pool is empty. The commit is atomic:
// either the block is appended and the drained transactions leave the pool,
// or the pool is untouched.
func (l *Ledger) Commit() (*Block, error) {
	l.wmu.Lock()
	defer l.wmu.Unlock()
	return l.commitBatch(l.opts.BatchSize)
}

// CommitAuto forces an immediate single-transaction commit. It is invoked by
// the coordination engine after each successful agreement so every
// coordination is visible as its own block.
func (l *Ledger) CommitAuto() (*Block, error) {
	l.wmu.Lock()
	defer l.wmu.Unlock()
	return l.commitBatch(1)
}

// commitBatch performs the consensus sleep, mines and appends one block.
// Caller must hold wmu.
func (l *Ledger) commitBatch(batchSize int) (*Block, error) {
	l.mu.RLock()
	if len(l.pending) == 0 {
		l.mu.RUnlock()
		return nil, nil
	}
	n := batchSize
	if n > len(l.pending) {
		n = len(l.pending)
	}
	batch := make([]Transaction, n)
	for i := 0; i < n; i++ {
		batch[i] = l.pending[i].Clone()
	}
	index := len(l.chain)
	previousHash := l.chain[index-1].Hash
	l.mu.RUnlock()

	start := time.Now()
	l.sleepConsensus()

	block := Block{
		Index:     index,
		Timestamp: time.Now().UTC(),
		Payload: Payload{
			Type:             PayloadTransactionBlock,
			TransactionCount: n,
			Transactions:     batch,
		},
		PreviousHash: previousHash,
	}
	if err := block.mine(l.opts.Difficulty); err != nil {
		// No partial write: the pool has not been touched.
		return nil, errors.Wrap(err, "mining failed, commit aborted")
	}

	l.mu.Lock()
	l.chain = append(l.chain, block)
	l.pending = l.pending[n:]
	for _, tx := range batch {
		l.txBlock[tx.TransactionID] = block.Index
	}
	l.mu.Unlock()

	l.logger.Info("Block committed",
		"block_index", block.Index,
		"block_hash", shortHash(block.Hash),
		"transactions", n,
		"duration", time.Since(start))
	committed := block.Clone()
	return &committed, nil
}

// sleepConsensus sleeps a uniform-random duration within the configured
// bounds, simulating PBFT-like ordering among permissioned peers.
func (l *Ledger) sleepConsensus() {
	lo, hi := l.opts.ConsensusDelayMin, l.opts.ConsensusDelayMax
	if hi < lo {
		hi = lo
	}
	delay := lo
	if hi > lo {
		delay += rand.N(hi - lo)
	}
	if delay > 0 {
		time.Sleep(delay)
	}
}

// ChainReport is the outcome of a full chain walk.
type ChainReport struct {
	Valid         bool     `json:"valid"`
	Errors        []string `json:"errors"`
	BlocksChecked int      `json:"blocks_checked"`
}

// Validate walks the whole chain checking stored hashes, link integrity, the
// difficulty predicate and the genesis shape. It is read-only and safe to
// call concurrently with readers and a writer.
func (l *Ledger) Validate() ChainReport {
	l.mu.RLock()
	defer l.mu.RUnlock()

	report := ChainReport{BlocksChecked: len(l.chain)}
	if len(l.chain) == 0 {
		report.Errors = append(report.Errors, "Chain is empty")
		return report
	}

	genesis := l.chain[0]
	if genesis.Index != 0 {
		report.Errors = append(report.Errors, "Genesis block has non-zero index")
	}
	if genesis.PreviousHash != "" {
		report.Errors = append(report.Errors, "Genesis block has invalid previous_hash")
	}
	if genesis.Payload.Type != PayloadGenesis {
		report.Errors = append(report.Errors, "Genesis block has unexpected payload type")
	}

	for i, block := range l.chain {
		recalculated, err := block.ComputeHash()
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("Block %d hash not computable: %v", i, err))
			continue
		}
		if block.Hash != recalculated {
			report.Errors = append(report.Errors, fmt.Sprintf(
				"Block %d hash invalid. Stored: %s..., Calculated: %s...", i, shortPrefix(block.Hash), shortPrefix(recalculated)))
		}
		if !block.meetsDifficulty(l.opts.Difficulty) {
			report.Errors = append(report.Errors, fmt.Sprintf("Block %d hash does not satisfy difficulty %d", i, l.opts.Difficulty))
		}
		if i > 0 && block.PreviousHash != l.chain[i-1].Hash {
			report.Errors = append(report.Errors, fmt.Sprintf(
				"Block %d previous_hash mismatch. Expected: %s..., Got: %s...", i, shortPrefix(l.chain[i-1].Hash), shortPrefix(block.PreviousHash)))
		}
	}

	report.Valid = len(report.Errors) == 0
	return report
}

func shortPrefix(h string) string {
	if len(h) > 16 {
		return h[:16]
	}
	return h
}

// GetBlock returns the block at index or core.ErrNotFound when out of range.
func (l *Ledger) GetBlock(index int) (Block, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if index < 0 || index >= len(l.chain) {
		return Block{}, errors.Wrapf(core.ErrNotFound, "block %d", index)
	}
	return l.chain[index].Clone(), nil
}

// GetBlocks returns up to limit blocks starting at offset, oldest first.
// limit <= 0 means no limit.
func (l *Ledger) GetBlocks(offset, limit int) []Block {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if offset < 0 {
		offset = 0
	}
	if offset >= len(l.chain) {
		return nil
	}
	end := len(l.chain)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	out := make([]Block, 0, end-offset)
	for _, b := range l.chain[offset:end] {
		out = append(out, b.Clone())
	}
	return out
}

// Latest returns the most recent block.
func (l *Ledger) Latest() Block {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.chain[len(l.chain)-1].Clone()
}

// Transaction locations reported by FindTransaction.
const (
	LocationCommitted = "committed"
	LocationPending   = "pending"
	LocationRejected  = "rejected"
)

// TransactionRecord is a located transaction returned by FindTransaction.
type TransactionRecord struct {
	Transaction Transaction `json:"transaction"`
	Location    string      `json:"location"`
	BlockIndex  int         `json:"block_index,omitempty"`
	BlockHash   string      `json:"block_hash,omitempty"`
}

// FindTransaction locates a transaction by id in the chain, the pending pool
// or the rejection log.
func (l *Ledger) FindTransaction(id string) (TransactionRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if blockIndex, ok := l.txBlock[id]; ok {
		block := l.chain[blockIndex]
		for _, tx := range block.Payload.Transactions {
			if tx.TransactionID == id {
				return TransactionRecord{
					Transaction: tx.Clone(),
					Location:    LocationCommitted,
					BlockIndex:  blockIndex,
					BlockHash:   block.Hash,
				}, nil
			}
		}
	}
	for _, tx := range l.pending {
		if tx.TransactionID == id {
			return TransactionRecord{Transaction: tx.Clone(), Location: LocationPending}, nil
		}
	}
	for _, tx := range l.rejected {
		if tx.TransactionID == id {
			return TransactionRecord{Transaction: tx.Clone(), Location: LocationRejected}, nil
		}
	}
	return TransactionRecord{}, errors.Wrapf(core.ErrNotFound, "transaction %s", id)
}

// HistoryEntry is a committed transaction annotated with its block.
type HistoryEntry struct {
	Transaction    Transaction `json:"transaction"`
	BlockIndex     int         `json:"block_index"`
	BlockHash      string      `json:"block_hash"`
	BlockTimestamp time.Time   `json:"block_timestamp"`
}

// History returns committed transactions in chain order, optionally filtered
// by originating agent name (empty string matches all).
func (l *Ledger) History(agentName string) []HistoryEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []HistoryEntry
	for _, block := range l.chain[1:] {
		if block.Payload.Type != PayloadTransactionBlock {
			continue
		}
		for _, tx := range block.Payload.Transactions {
			if agentName != "" && tx.AgentName != agentName {
				continue
			}
			out = append(out, HistoryEntry{
				Transaction:    tx.Clone(),
				BlockIndex:     block.Index,
				BlockHash:      block.Hash,
				BlockTimestamp: block.Timestamp,
			})
		}
	}
	return out
}

// Rejected returns copies of the rejection log for observability.
func (l *Ledger) Rejected() []Transaction {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Transaction, len(l.rejected))
	for i, tx := range l.rejected {
		out[i] = tx.Clone()
	}
	return out
}

// Stats summarizes the ledger state.
type Stats struct {
	TotalBlocks          int    `json:"total_blocks"`
	TotalTransactions    int    `json:"total_transactions"`
	PendingTransactions  int    `json:"pending_transactions"`
	RejectedTransactions int    `json:"rejected_transactions"`
	ChainValid           bool   `json:"chain_valid"`
	LatestBlockHash      string `json:"latest_block_hash"`
	GenesisHash          string `json:"genesis_hash"`
}

// Stats returns current counters plus the result of a full chain validation.
func (l *Ledger) Stats() Stats {
	l.mu.RLock()
	stats := Stats{
		TotalBlocks:          len(l.chain),
		TotalTransactions:    len(l.txBlock),
		PendingTransactions:  len(l.pending),
		RejectedTransactions: len(l.rejected),
		LatestBlockHash:      l.chain[len(l.chain)-1].Hash,
		GenesisHash:          l.chain[0].Hash,
	}
	l.mu.RUnlock()

	// Validate takes its own read lock; do not nest inside ours.
	stats.ChainValid = l.Validate().Valid
	return stats
}

// Reset wipes all state and re-creates the genesis block. Demo-only; callers
// must ensure no engine task is mid-session.
func (l *Ledger) Reset() {
	l.wmu.Lock()
	defer l.wmu.Unlock()
	l.mu.Lock()
	l.chain = nil
	l.pending = nil
	l.rejected = nil
	l.txBlock = map[string]int{}
	l.mu.Unlock()
	l.bootstrapGenesis()
	l.logger.Info("Ledger reset, genesis re-created")
}

// reject marks the transaction REJECTED and appends it to the rejection log.
// Caller must hold wmu.
func (l *Ledger) reject(tx Transaction, report ValidationReport) {
	tx.ValidationStatus = StatusRejected
	tx.ValidationReport = &report
	l.mu.Lock()
	l.rejected = append(l.rejected, tx)
	l.mu.Unlock()
	l.logger.Warn("Transaction rejected", "transaction_id", tx.TransactionID, "reason", report.OverallReason)
}

// isDuplicate reports whether the id exists anywhere the ledger tracks ids.
// Caller must hold wmu.
func (l *Ledger) isDuplicate(id string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if _, ok := l.txBlock[id]; ok {
		return true
	}
	for _, tx := range l.pending {
		if tx.TransactionID == id {
			return true
		}
	}
	for _, tx := range l.rejected {
		if tx.TransactionID == id {
			return true
		}
	}
	return false
}

// bootstrapGenesis mines and appends the index-0 block.
func (l *Ledger) bootstrapGenesis() {
	genesis := Block{
		Index:     0,
		Timestamp: time.Now().UTC(),
		Payload: Payload{
			Type:      PayloadGenesis,
			Message:   "BlockOps Hospital Operations Ledger - Genesis Block",
			Network:   "Hospital Operations Network",
			Version:   "1.0.0",
			Consensus: "Simulated PBFT",
			CreatedAt: time.Now().UTC(),
		},
		PreviousHash: "",
	}
	if err := genesis.mine(l.opts.Difficulty); err != nil {
		// The genesis payload is statically JSON-encodable; a failure here
		// is a programming error, not a runtime condition.
		panic(fmt.Sprintf("ledger: genesis block not minable: %v", err))
	}
	l.mu.Lock()
	l.chain = append(l.chain, genesis)
	l.mu.Unlock()
	l.logger.Info("Genesis block created", "hash", shortHash(genesis.Hash))
}
