// Package airline holds the governance-side data model.
package airline

import "time"

// Airline is a governance participant. It is created by registration, funded
// by its own contributions and never deleted.
type Airline struct {
	Address      string
	Registered   bool
	FundedAmount uint64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Funded reports whether the cumulative contribution meets the threshold that
// makes the airline vote-eligible.
func (a Airline) Funded(threshold uint64) bool {
	return a.FundedAmount >= threshold
}
