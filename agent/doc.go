// Package agent provides the built-in hospital reasoning agents: a
// rule-based supply chain initiator, financial and facility critics, and an
// LLM-backed ModelAgent that delegates all three capabilities to a completion
// model. All of them implement core.ReasoningAgent, so the engine treats them
// interchangeably.
package agent
