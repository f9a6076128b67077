package ledger

import "time"

// ValidationStatus is a transaction's position in the validation lifecycle.
type ValidationStatus string

const (
	// StatusPending marks a transaction not yet run through the validator.
	StatusPending ValidationStatus = "PENDING"
	// StatusValidated marks a transaction accepted into the pending pool.
	StatusValidated ValidationStatus = "VALIDATED"
	// StatusRejected marks a transaction refused by the validator; it will
	// never appear in a block.
	StatusRejected ValidationStatus = "REJECTED"
)

// Action types recorded by the hospital operations prototype.
const (
	ActionPurchaseOrder       = "PURCHASE_ORDER"
	ActionCoordinatedPurchase = "COORDINATED_PURCHASE"
)

// Detail keys the smart-contract validator recognizes inside
// Transaction.Details. All other keys are opaque to the core.
const (
	DetailAmount           = "amount"
	DetailQuantity         = "quantity"
	DetailConfidence       = "confidence"
	DetailAvailableBudget  = "available_budget"
	DetailAvailableStorage = "available_storage"
)

// Transaction is a single record submitted to the ledger. Details is an
// opaque mapping; the validator semantically recognizes the Detail* keys.
type Transaction struct {
	TransactionID    string            `json:"transaction_id"`
	AgentName        string            `json:"agent_name"`
	ActionType       string            `json:"action_type"`
	Details          map[string]any    `json:"details"`
	Timestamp        time.Time         `json:"timestamp"`
	ValidationStatus ValidationStatus  `json:"validation_status"`
	ValidationReport *ValidationReport `json:"validation_report,omitempty"`
}

// NewTransaction creates a pending transaction stamped with the current UTC time.
func NewTransaction(id, agentName, actionType string, details map[string]any) Transaction {
	return Transaction{
		TransactionID:    id,
		AgentName:        agentName,
		ActionType:       actionType,
		Details:          details,
		Timestamp:        time.Now().UTC(),
		ValidationStatus: StatusPending,
	}
}

// Clone returns a copy with an independent details map. Nested detail values
// are shared; committed transactions are treated as immutable.
func (t Transaction) Clone() Transaction {
	clone := t
	clone.Details = make(map[string]any, len(t.Details))
	for k, v := range t.Details {
		clone.Details[k] = v
	}
	if t.ValidationReport != nil {
		cp := *t.ValidationReport
		clone.ValidationReport = &cp
	}
	return clone
}

// CheckResult is the outcome of one validator predicate.
type CheckResult struct {
	Valid  bool   `json:"valid"`
	Code   string `json:"code,omitempty"`
	Reason string `json:"reason"`
	// Remaining carries the leftover budget or storage after the checked
	// amount is applied; meaningful for budget and storage checks only.
	Remaining float64 `json:"remaining,omitempty"`
}

// ValidationReport is the full outcome of a smart-contract run over a
// transaction. Sub-checks are nil when the corresponding detail key is
// absent (treated as not applicable).
type ValidationReport struct {
	Valid         bool         `json:"valid"`
	Budget        *CheckResult `json:"budget,omitempty"`
	Storage       *CheckResult `json:"storage,omitempty"`
	Confidence    *CheckResult `json:"confidence,omitempty"`
	OverallReason string       `json:"overall_reason"`
	// Code carries a submit-level rejection kind (e.g. DUPLICATE_TX) that is
	// not attributable to a single policy predicate.
	Code      string    `json:"code,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// FailureCodes returns the codes of the failing sub-checks in the stable
// budget, storage, confidence order.
func (r ValidationReport) FailureCodes() []string {
	var codes []string
	for _, check := range []*CheckResult{r.Budget, r.Storage, r.Confidence} {
		if check != nil && !check.Valid && check.Code != "" {
			codes = append(codes, check.Code)
		}
	}
	return codes
}
