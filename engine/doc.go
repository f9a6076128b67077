// Package engine drives the eight-step coordination protocol: intent
// broadcast, constraint collection, proposal generation, critique/refine
// negotiation rounds, smart-contract dry run and ledger execution. Each
// session is owned by exactly one Coordinate call from creation to a terminal
// state; external readers only ever receive snapshot copies.
//
// The engine holds no lock across an agent capability call and enforces the
// session deadline around every one of them.
package engine
