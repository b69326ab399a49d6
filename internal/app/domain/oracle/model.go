// Package oracle holds the oracle identity and per-flight round models.
package oracle

import (
	"time"

	"github.com/SuretyLabs/surety_layer/internal/app/domain/flight"
)

// IndexBuckets is the number of index buckets oracles are assigned from.
const IndexBuckets = 10

// IndexesPerOracle is the size of the index set assigned at registration.
const IndexesPerOracle = 3

// Oracle is a registered off-ledger reporting agent. Indexes are assigned
// once at registration and immutable thereafter; duplicates are tolerated.
type Oracle struct {
	Address      string
	Indexes      [IndexesPerOracle]uint8
	RegisteredAt time.Time
}

// HasIndex reports whether idx is one of the oracle's assigned indexes.
func (o Oracle) HasIndex(idx uint8) bool {
	for _, assigned := range o.Indexes {
		if assigned == idx {
			return true
		}
	}
	return false
}

// RoundState is the lifecycle of a flight-resolution round.
type RoundState string

const (
	RoundRequested RoundState = "requested"
	RoundFinalized RoundState = "finalized"
)

// Round tracks one flight-resolution round. Responses maps each responding
// oracle to the status code it submitted; an oracle appears at most once, so
// the per-status bucket count is simply the number of matching entries.
type Round struct {
	FlightKey      string
	RequestedIndex uint8
	State          RoundState
	Responses      map[string]flight.StatusCode
	FinalStatus    flight.StatusCode
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// CountFor returns the number of distinct oracles that submitted status.
func (r Round) CountFor(status flight.StatusCode) int {
	n := 0
	for _, code := range r.Responses {
		if code == status {
			n++
		}
	}
	return n
}

// Responded reports whether the oracle already submitted for this round.
func (r Round) Responded(address string) bool {
	_, ok := r.Responses[address]
	return ok
}
