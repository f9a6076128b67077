// Package core contains the shared domain model for the hospital operations
// coordination core: typed agent-to-agent messages, coordination sessions with
// their negotiation rounds and state machine, the ReasoningAgent capability
// every participant implements, and the structured error taxonomy that the
// engine folds into terminal session states.
//
// Sessions, messages and rounds are strictly owned by the engine task driving
// a session; external readers only ever see value copies produced by
// Session.Clone, so no cyclic references escape the package.
package core
