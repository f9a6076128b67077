package core

import (
	"sync"
	"time"
)

// SessionState enumerates the coordination state machine.
//
//	INITIATED → COLLECTING_CONSTRAINTS → GENERATING_PROPOSAL
//	         → NEGOTIATING (loop) → VALIDATING → EXECUTING → COMPLETED
//	any non-terminal → FAILED | TIMEOUT
type SessionState string

const (
	// StateInitiated is the entry state after session creation.
	StateInitiated SessionState = "INITIATED"
	// StateCollectingConstraints covers the constraint query fan-out.
	StateCollectingConstraints SessionState = "COLLECTING_CONSTRAINTS"
	// StateGeneratingProposal covers the initiator's proposal call.
	StateGeneratingProposal SessionState = "GENERATING_PROPOSAL"
	// StateNegotiating covers the critique/refine rounds.
	StateNegotiating SessionState = "NEGOTIATING"
	// StateValidating covers the smart-contract dry run.
	StateValidating SessionState = "VALIDATING"
	// StateExecuting covers the ledger submit and commit.
	StateExecuting SessionState = "EXECUTING"
	// StateCompleted is the terminal success state.
	StateCompleted SessionState = "COMPLETED"
	// StateFailed is the terminal hard-error state.
	StateFailed SessionState = "FAILED"
	// StateTimeout is the terminal deadline-exceeded state.
	StateTimeout SessionState = "TIMEOUT"
)

// Terminal reports whether the state freezes the session.
func (s SessionState) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateTimeout
}

// NegotiationRound records one proposal-plus-critiques cycle.
type NegotiationRound struct {
	Number    int                `json:"round_number"`
	Proposal  Proposal           `json:"proposal"`
	Critiques []CritiqueDecision `json:"critiques"`
	Duration  time.Duration      `json:"duration"`
}

// Receipt is the ledger's proof of a recorded agreement, stored on the
// session after a successful execution step.
type Receipt struct {
	BlockIndex    int    `json:"block_index"`
	BlockHash     string `json:"block_hash"`
	TransactionID string `json:"transaction_id"`
}

// Session is one execution of the eight-step protocol from INITIATED to a
// terminal state. It is mutated only by its owning engine task through the
// lock-guarded methods below; once a terminal state is set all mutators
// become no-ops, so reads after completion return byte-equal snapshots.
type Session struct {
	ID            string                      `json:"session_id"`
	State         SessionState                `json:"state"`
	Initiator     string                      `json:"initiator"`
	Participants  []string                    `json:"participants"`
	Intent        string                      `json:"intent"`
	Context       Context                     `json:"context"`
	Constraints   map[string]ConstraintRecord `json:"constraints"`
	Rounds        []NegotiationRound          `json:"rounds"`
	FinalProposal *Proposal                   `json:"final_proposal,omitempty"`
	Agreement     map[string]any              `json:"agreement,omitempty"`
	Receipt       *Receipt                    `json:"ledger_receipt,omitempty"`
	Messages      []Message                   `json:"messages"`
	FailureReason string                      `json:"failure_reason,omitempty"`
	Error         string                      `json:"error,omitempty"`
	StartedAt     time.Time                   `json:"started_at"`
	EndedAt       time.Time                   `json:"ended_at,omitempty"`
	mu            sync.RWMutex
}

// NewSession creates a session in StateInitiated for the given spec.
func NewSession(id string, spec ScenarioSpec) *Session {
	return &Session{
		ID:           id,
		State:        StateInitiated,
		Initiator:    spec.Initiator,
		Participants: append([]string(nil), spec.Participants...),
		Intent:       spec.Intent,
		Context:      spec.Context.Clone(),
		Constraints:  map[string]ConstraintRecord{},
		StartedAt:    time.Now().UTC(),
	}
}

// SetState advances the state machine. Transitions out of terminal states are
// forbidden and silently ignored; entering a terminal state stamps EndedAt.
func (s *Session) SetState(state SessionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.State.Terminal() {
		return
	}
	s.State = state
	if state.Terminal() {
		s.EndedAt = time.Now().UTC()
	}
}

// Fail transitions to StateFailed with a structured reason code and detail.
func (s *Session) Fail(reason, detail string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.State.Terminal() {
		return
	}
	s.State = StateFailed
	s.FailureReason = reason
	s.Error = detail
	s.EndedAt = time.Now().UTC()
}

// Timeout transitions to StateTimeout, recording the deadline violation.
func (s *Session) Timeout(detail string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.State.Terminal() {
		return
	}
	s.State = StateTimeout
	s.FailureReason = ReasonDeadlineExceeded
	s.Error = detail
	s.EndedAt = time.Now().UTC()
}

// AppendMessage adds a message to the session log.
func (s *Session) AppendMessage(m Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.State.Terminal() {
		return
	}
	s.Messages = append(s.Messages, m)
}

// SetConstraint records a participant's declared constraint.
func (s *Session) SetConstraint(agentID string, c ConstraintRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.State.Terminal() {
		return
	}
	s.Constraints[agentID] = c
}

// AddRound appends a completed negotiation round.
func (s *Session) AddRound(r NegotiationRound) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.State.Terminal() {
		return
	}
	s.Rounds = append(s.Rounds, r)
}

// SetOutcome records the accepted proposal, agreement and ledger receipt.
// Any nil argument leaves the corresponding field untouched.
func (s *Session) SetOutcome(p *Proposal, agreement map[string]any, receipt *Receipt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.State.Terminal() {
		return
	}
	if p != nil {
		cp := *p
		s.FinalProposal = &cp
	}
	if agreement != nil {
		s.Agreement = agreement
	}
	if receipt != nil {
		cp := *receipt
		s.Receipt = &cp
	}
}

// CurrentState returns the state under the read lock.
func (s *Session) CurrentState() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.State
}

// GetMessages returns a defensive copy of the message log.
func (s *Session) GetMessages() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := make([]Message, len(s.Messages))
	for i, m := range s.Messages {
		msgs[i] = m.Clone()
	}
	return msgs
}

// Clone returns a deep copy of the session safe for external readers. The
// owning engine task may still be mutating the original; the copy is a
// consistent snapshot taken under the read lock.
func (s *Session) Clone() *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	clone := &Session{
		ID:            s.ID,
		State:         s.State,
		Initiator:     s.Initiator,
		Participants:  append([]string(nil), s.Participants...),
		Intent:        s.Intent,
		Context:       s.Context.Clone(),
		Constraints:   make(map[string]ConstraintRecord, len(s.Constraints)),
		Rounds:        make([]NegotiationRound, len(s.Rounds)),
		Messages:      make([]Message, len(s.Messages)),
		FailureReason: s.FailureReason,
		Error:         s.Error,
		StartedAt:     s.StartedAt,
		EndedAt:       s.EndedAt,
	}
	for k, v := range s.Constraints {
		clone.Constraints[k] = v
	}
	for i, r := range s.Rounds {
		cr := r
		cr.Critiques = append([]CritiqueDecision(nil), r.Critiques...)
		clone.Rounds[i] = cr
	}
	for i, m := range s.Messages {
		clone.Messages[i] = m.Clone()
	}
	if s.FinalProposal != nil {
		cp := *s.FinalProposal
		clone.FinalProposal = &cp
	}
	if s.Agreement != nil {
		clone.Agreement = make(map[string]any, len(s.Agreement))
		for k, v := range s.Agreement {
			clone.Agreement[k] = v
		}
	}
	if s.Receipt != nil {
		cp := *s.Receipt
		clone.Receipt = &cp
	}
	return clone
}

// Summary is a compact session listing entry for hosts.
type Summary struct {
	SessionID string       `json:"session_id"`
	State     SessionState `json:"state"`
	Initiator string       `json:"initiator"`
	Intent    string       `json:"intent"`
	Rounds    int          `json:"rounds"`
	StartedAt time.Time    `json:"started_at"`
	EndedAt   time.Time    `json:"ended_at,omitempty"`
}

// Summarize returns the compact listing form of the session.
func (s *Session) Summarize() Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Summary{
		SessionID: s.ID,
		State:     s.State,
		Initiator: s.Initiator,
		Intent:    s.Intent,
		Rounds:    len(s.Rounds),
		StartedAt: s.StartedAt,
		EndedAt:   s.EndedAt,
	}
}
