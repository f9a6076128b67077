package core

import "github.com/pkg/errors"

// Sentinel error kinds for the coordination and ledger core. Call sites wrap
// these with pkg/errors to add context; errors.Is resolves through the wraps.
// The engine never surfaces these to callers directly — protocol failures are
// folded into terminal session states with Reason(err) as the reason code.
var (
	// ErrInvalidScenario indicates malformed input to the engine
	// (missing initiator, empty participant list).
	ErrInvalidScenario = errors.New("invalid scenario")

	// ErrUnknownAgent indicates a referenced agent id is not in the registry.
	ErrUnknownAgent = errors.New("unknown agent")

	// ErrAgentUnavailable indicates a capability call returned an error or
	// exceeded its per-call budget.
	ErrAgentUnavailable = errors.New("agent unavailable")

	// ErrNoAgreement indicates negotiation exhausted the round cap without
	// unanimous acceptance.
	ErrNoAgreement = errors.New("no agreement reached")

	// ErrPolicyViolation indicates the smart-contract validator rejected the
	// agreed proposal.
	ErrPolicyViolation = errors.New("policy violation")

	// ErrLedgerRejected indicates a commit-path failure (duplicate id,
	// internal invariant violation).
	ErrLedgerRejected = errors.New("ledger rejected transaction")

	// ErrDeadlineExceeded indicates the session or a capability call timed out.
	ErrDeadlineExceeded = errors.New("deadline exceeded")

	// ErrNotFound indicates an unknown session, block index out of range or
	// unknown transaction id.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateTransaction indicates a transaction id that already exists
	// in the chain, the pending pool or the rejection log.
	ErrDuplicateTransaction = errors.New("duplicate transaction id")
)

// Reason codes attached to failed sessions and rejection reports.
const (
	ReasonInvalidScenario  = "INVALID_SCENARIO"
	ReasonUnknownAgent     = "UNKNOWN_AGENT"
	ReasonAgentUnavailable = "AGENT_UNAVAILABLE"
	ReasonNoAgreement      = "NO_AGREEMENT"
	ReasonPolicyViolation  = "POLICY_VIOLATION"
	ReasonLedgerRejected   = "LEDGER_REJECTED"
	ReasonDeadlineExceeded = "DEADLINE_EXCEEDED"
	ReasonNotFound         = "NOT_FOUND"
	ReasonDuplicateTx      = "DUPLICATE_TX"
)

// Reason maps an error to its taxonomy code. Unrecognized errors map to an
// empty string so callers can distinguish protocol failures from plumbing bugs.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidScenario):
		return ReasonInvalidScenario
	case errors.Is(err, ErrUnknownAgent):
		return ReasonUnknownAgent
	case errors.Is(err, ErrAgentUnavailable):
		return ReasonAgentUnavailable
	case errors.Is(err, ErrNoAgreement):
		return ReasonNoAgreement
	case errors.Is(err, ErrPolicyViolation):
		return ReasonPolicyViolation
	case errors.Is(err, ErrLedgerRejected):
		return ReasonLedgerRejected
	case errors.Is(err, ErrDeadlineExceeded):
		return ReasonDeadlineExceeded
	case errors.Is(err, ErrNotFound):
		return ReasonNotFound
	case errors.Is(err, ErrDuplicateTransaction):
		return ReasonDuplicateTx
	default:
		return ""
	}
}
