package core

import (
	"time"

	"github.com/google/uuid"
)

// MessageKind enumerates the FIPA-ACL inspired message types exchanged during
// a coordination session.
type MessageKind string

const (
	// KindIntent declares the initiator's goal ("I need to order supplies").
	KindIntent MessageKind = "INTENT"
	// KindQuery asks an agent for information ("what are your constraints?").
	KindQuery MessageKind = "QUERY"
	// KindConstraint carries an agent's declared limits.
	KindConstraint MessageKind = "CONSTRAINT"
	// KindInform carries engine announcements (session start, execution).
	KindInform MessageKind = "INFORM"
	// KindProposal carries a concrete plan from the initiator.
	KindProposal MessageKind = "PROPOSAL"
	// KindCritique carries a rejection with reasoning and adjustments.
	KindCritique MessageKind = "CRITIQUE"
	// KindAccept approves a proposal.
	KindAccept MessageKind = "ACCEPT"
	// KindReject is a terminal refusal.
	KindReject MessageKind = "REJECT"
)

// Message is one entry in a session's append-only communication log. After
// being appended it is treated as immutable; readers receive copies.
type Message struct {
	ID         string         `json:"message_id"`
	SessionID  string         `json:"session_id"`
	Timestamp  time.Time      `json:"timestamp"`
	Sender     string         `json:"sender"`
	Recipients []string       `json:"recipients"`
	Kind       MessageKind    `json:"kind"`
	Content    map[string]any `json:"content"`
}

// NewMessage creates a message with a fresh id and the current UTC timestamp.
func NewMessage(sessionID, sender string, recipients []string, kind MessageKind, content map[string]any) Message {
	return Message{
		ID:         NewID(),
		SessionID:  sessionID,
		Timestamp:  time.Now().UTC(),
		Sender:     sender,
		Recipients: append([]string(nil), recipients...),
		Kind:       kind,
		Content:    content,
	}
}

// Clone returns a copy whose recipients slice and content map are independent
// of the original. Nested content values are shared; messages are treated as
// immutable after emission.
func (m Message) Clone() Message {
	clone := m
	clone.Recipients = append([]string(nil), m.Recipients...)
	clone.Content = make(map[string]any, len(m.Content))
	for k, v := range m.Content {
		clone.Content[k] = v
	}
	return clone
}

// Broadcast returns every participant except the sender, preserving order.
// It implements the "all registered except sender" recipient wildcard.
func Broadcast(participants []string, sender string) []string {
	recipients := make([]string, 0, len(participants))
	for _, p := range participants {
		if p != sender {
			recipients = append(recipients, p)
		}
	}
	return recipients
}

// NewID generates a new unique identifier for messages.
func NewID() string { return uuid.NewString() }
