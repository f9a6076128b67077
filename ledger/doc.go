// Package ledger implements the append-only, cryptographically chained block
// store that records executed coordination agreements. It bundles the
// immutable Block/Transaction model, the pluggable smart-contract Validator
// gating writes on policy predicates, and the Ledger itself: genesis
// bootstrap, pending pool, batched commit behind a simulated consensus delay,
// chain validation and queries.
//
// The simulated consensus sleep is confined to the commit path so it can be
// swapped for a real ordering protocol without touching the coordination
// engine. All state is in-process and lost on restart.
package ledger
