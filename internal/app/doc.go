// Package app composes the surety layer: the operational switch, airline
// governance, the insurance ledger and the oracle consensus engine, wired
// over a pluggable store set and managed through the system lifecycle.
package app
