package ledger

import (
	"fmt"
	"strings"
	"time"
)

// Validation failure codes reported on CheckResult.Code.
const (
	CodeBudgetExceeded   = "BUDGET_EXCEEDED"
	CodeBudgetOverLimit  = "BUDGET_OVER_LIMIT"
	CodeStorageExceeded  = "STORAGE_EXCEEDED"
	CodeConfidenceTooLow = "CONFIDENCE_TOO_LOW"
	CodeInvalidAmount    = "INVALID_AMOUNT"
	CodeInvalidQuantity  = "INVALID_QUANTITY"
	CodeDuplicateTx      = "DUPLICATE_TX"
)

// ValidatorOptions configures the policy thresholds.
type ValidatorOptions struct {
	// MaxSinglePurchase is the upper autonomous limit for one purchase,
	// regardless of available budget. Larger amounts require human approval.
	MaxSinglePurchase float64

	// MinConfidence is the minimum agent confidence accepted for autonomous
	// execution.
	MinConfidence float64
}

// Validator is the smart-contract gate over transaction payloads. It runs
// three predicates (budget, storage, confidence) over the semantically
// recognized detail keys; absent keys pass vacuously. The validator is pure:
// no I/O, no state beyond its thresholds, so swapping it is a single-point
// extension for new policy rules.
type Validator struct {
	opts ValidatorOptions
}

// NewValidator constructs a Validator with the hospital defaults
// ($50,000 autonomous cap, 70% minimum confidence).
func NewValidator(optFns ...func(o *ValidatorOptions)) *Validator {
	opts := ValidatorOptions{
		MaxSinglePurchase: 50_000,
		MinConfidence:     0.70,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Validator{opts: opts}
}

// MaxSinglePurchase returns the configured autonomous purchase cap.
func (v *Validator) MaxSinglePurchase() float64 { return v.opts.MaxSinglePurchase }

// MinConfidence returns the configured confidence threshold.
func (v *Validator) MinConfidence() float64 { return v.opts.MinConfidence }

// ValidateBudget checks a purchase amount against the available budget (if
// known) and the autonomous cap. The cap applies even when the budget would
// allow the purchase.
func (v *Validator) ValidateBudget(amount float64, availableBudget *float64) CheckResult {
	if amount <= 0 {
		return CheckResult{
			Valid:  false,
			Code:   CodeInvalidAmount,
			Reason: "Amount must be positive",
		}
	}
	if availableBudget != nil && amount > *availableBudget {
		return CheckResult{
			Valid:     false,
			Code:      CodeBudgetExceeded,
			Reason:    fmt.Sprintf("Insufficient budget. Required: $%.2f, Available: $%.2f", amount, *availableBudget),
			Remaining: *availableBudget,
		}
	}
	if amount > v.opts.MaxSinglePurchase {
		result := CheckResult{
			Valid:  false,
			Code:   CodeBudgetOverLimit,
			Reason: fmt.Sprintf("Single purchase exceeds limit of $%.2f. Requires approval.", v.opts.MaxSinglePurchase),
		}
		if availableBudget != nil {
			result.Remaining = *availableBudget
		}
		return result
	}
	result := CheckResult{Valid: true, Reason: "Budget constraint satisfied"}
	if availableBudget != nil {
		result.Remaining = *availableBudget - amount
	}
	return result
}

// ValidateStorage checks an order quantity against available storage (if known).
func (v *Validator) ValidateStorage(quantity float64, availableStorage *float64) CheckResult {
	if quantity <= 0 {
		return CheckResult{
			Valid:  false,
			Code:   CodeInvalidQuantity,
			Reason: "Quantity must be positive",
		}
	}
	if availableStorage != nil && quantity > *availableStorage {
		return CheckResult{
			Valid:     false,
			Code:      CodeStorageExceeded,
			Reason:    fmt.Sprintf("Insufficient storage. Required: %.0f units, Available: %.0f units", quantity, *availableStorage),
			Remaining: *availableStorage,
		}
	}
	result := CheckResult{Valid: true, Reason: "Storage constraint satisfied"}
	if availableStorage != nil {
		result.Remaining = *availableStorage - quantity
	}
	return result
}

// ValidateConfidence checks an agent confidence against the threshold.
func (v *Validator) ValidateConfidence(confidence float64) CheckResult {
	if confidence < v.opts.MinConfidence {
		return CheckResult{
			Valid:  false,
			Code:   CodeConfidenceTooLow,
			Reason: fmt.Sprintf("Confidence %.0f%% below threshold %.0f%%. Requires human approval.", confidence*100, v.opts.MinConfidence*100),
		}
	}
	return CheckResult{
		Valid:  true,
		Reason: fmt.Sprintf("Confidence %.0f%% meets threshold", confidence*100),
	}
}

// Validate runs every applicable predicate over tx.Details. The overall
// verdict is the conjunction; OverallReason concatenates the failing
// sub-reasons in the stable budget, storage, confidence order.
func (v *Validator) Validate(tx Transaction) ValidationReport {
	report := ValidationReport{Valid: true, Timestamp: time.Now().UTC()}
	var reasons []string

	if amount, ok := detailFloat(tx.Details, DetailAmount); ok {
		check := v.ValidateBudget(amount, detailFloatPtr(tx.Details, DetailAvailableBudget))
		report.Budget = &check
		if !check.Valid {
			report.Valid = false
			reasons = append(reasons, check.Reason)
		}
	}
	if quantity, ok := detailFloat(tx.Details, DetailQuantity); ok {
		check := v.ValidateStorage(quantity, detailFloatPtr(tx.Details, DetailAvailableStorage))
		report.Storage = &check
		if !check.Valid {
			report.Valid = false
			reasons = append(reasons, check.Reason)
		}
	}
	if confidence, ok := detailFloat(tx.Details, DetailConfidence); ok {
		check := v.ValidateConfidence(confidence)
		report.Confidence = &check
		if !check.Valid {
			report.Valid = false
			reasons = append(reasons, check.Reason)
		}
	}

	if len(reasons) > 0 {
		report.OverallReason = strings.Join(reasons, "; ")
	} else {
		report.OverallReason = "All constraints satisfied"
	}
	return report
}

// Preview runs the predicates over bare values without a transaction, for
// hosts that want to show whether an action would pass before submitting.
// Nil arguments skip the corresponding check.
func (v *Validator) Preview(amount, quantity, confidence *float64) ValidationReport {
	details := map[string]any{}
	if amount != nil {
		details[DetailAmount] = *amount
	}
	if quantity != nil {
		details[DetailQuantity] = *quantity
	}
	if confidence != nil {
		details[DetailConfidence] = *confidence
	}
	return v.Validate(Transaction{Details: details})
}

func detailFloat(details map[string]any, key string) (float64, bool) {
	v, ok := details[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func detailFloatPtr(details map[string]any, key string) *float64 {
	if f, ok := detailFloat(details, key); ok {
		return &f
	}
	return nil
}
