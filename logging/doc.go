// Package logging provides a tiny abstraction over slog so the coordination
// and ledger packages can depend on a minimal interface (Logger) while hosts
// plug in any structured logger. It also offers a richer BlockOpsLogger with
// contextual helpers (component, session) and domain specific logging helpers
// for agent calls, negotiation rounds and ledger commits.
package logging
