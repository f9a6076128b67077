package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// PayloadType tags the two kinds of block payloads.
type PayloadType string

const (
	// PayloadGenesis tags the index-0 bootstrap block.
	PayloadGenesis PayloadType = "GENESIS"
	// PayloadTransactionBlock tags a batch of committed transactions.
	PayloadTransactionBlock PayloadType = "TRANSACTION_BLOCK"
)

// Payload is the content of a block: either a genesis descriptor or an
// ordered batch of transactions.
type Payload struct {
	Type PayloadType `json:"type"`

	// Genesis descriptor fields.
	Message   string    `json:"message,omitempty"`
	Network   string    `json:"network,omitempty"`
	Version   string    `json:"version,omitempty"`
	Consensus string    `json:"consensus,omitempty"`
	CreatedAt time.Time `json:"created_at,omitzero"`

	// Transaction batch fields.
	TransactionCount int           `json:"transaction_count,omitempty"`
	Transactions     []Transaction `json:"transactions,omitempty"`
}

// Block is one immutable entry in the chain. Hash covers (index, timestamp,
// payload, previous_hash, nonce) under the canonical encoding; blocks are
// created once per commit and never mutated.
type Block struct {
	Index        int       `json:"index"`
	Timestamp    time.Time `json:"timestamp"`
	Payload      Payload   `json:"payload"`
	PreviousHash string    `json:"previous_hash"`
	Nonce        int       `json:"nonce"`
	Hash         string    `json:"hash"`
}

// ComputeHash derives the block hash from its contents: SHA-256 over the
// concatenation of the index, the ISO-8601 timestamp, the canonical JSON
// encoding of the payload (object keys sorted lexicographically), the
// previous hash and the decimal nonce. Lowercase hex output.
func (b Block) ComputeHash() (string, error) {
	payloadJSON, err := canonicalJSON(b.Payload)
	if err != nil {
		return "", errors.Wrapf(err, "canonical encoding of block %d payload", b.Index)
	}
	input := fmt.Sprintf("%d%s%s%s%d", b.Index, b.Timestamp.UTC().Format(time.RFC3339Nano), payloadJSON, b.PreviousHash, b.Nonce)
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:]), nil
}

// mine searches for a nonce whose hash begins with difficulty '0' hex
// characters, starting from nonce 0. difficulty 0 accepts the first attempt.
// Difficulty must stay small; this runs on the commit path.
func (b *Block) mine(difficulty int) error {
	target := strings.Repeat("0", difficulty)
	b.Nonce = 0
	for {
		hash, err := b.ComputeHash()
		if err != nil {
			return err
		}
		if strings.HasPrefix(hash, target) {
			b.Hash = hash
			return nil
		}
		b.Nonce++
	}
}

// meetsDifficulty reports whether the stored hash satisfies the difficulty predicate.
func (b Block) meetsDifficulty(difficulty int) bool {
	return strings.HasPrefix(b.Hash, strings.Repeat("0", difficulty))
}

// Clone returns a copy with independent transaction records.
func (b Block) Clone() Block {
	clone := b
	if b.Payload.Transactions != nil {
		clone.Payload.Transactions = make([]Transaction, len(b.Payload.Transactions))
		for i, tx := range b.Payload.Transactions {
			clone.Payload.Transactions[i] = tx.Clone()
		}
	}
	return clone
}

// BlockSummary is a compact block representation for hosts: shortened hashes
// and key counters only.
type BlockSummary struct {
	Index            int         `json:"index"`
	Hash             string      `json:"hash"`
	PreviousHash     string      `json:"previous_hash"`
	Timestamp        time.Time   `json:"timestamp"`
	Type             PayloadType `json:"type"`
	TransactionCount int         `json:"transaction_count"`
}

// Summary returns the compact form of the block.
func (b Block) Summary() BlockSummary {
	return BlockSummary{
		Index:            b.Index,
		Hash:             shortHash(b.Hash),
		PreviousHash:     shortHash(b.PreviousHash),
		Timestamp:        b.Timestamp,
		Type:             b.Payload.Type,
		TransactionCount: b.Payload.TransactionCount,
	}
}

func shortHash(h string) string {
	if len(h) > 16 {
		return h[:16] + "..."
	}
	return h
}

// canonicalJSON produces a deterministic JSON encoding with lexicographically
// sorted object keys, by round-tripping the value through generic maps
// (encoding/json sorts map keys on output).
func canonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return json.Marshal(generic)
}
