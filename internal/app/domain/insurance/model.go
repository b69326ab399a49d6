// Package insurance holds passenger policy and credit models.
package insurance

import "time"

// Payout multiplier, fixed-point. A settled LATE_AIRLINE policy credits the
// passenger premium * 3 / 2.
const (
	PayoutNumerator   = 3
	PayoutDenominator = 2
)

// Policy is a passenger's purchase record for one flight. At most one policy
// exists per (flight, passenger); Settled guards against double credit.
type Policy struct {
	FlightKey string
	Passenger string
	Premium   uint64
	Purchased bool
	Settled   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Payout returns the credit owed for a premium using integer arithmetic only.
func Payout(premium uint64) uint64 {
	return premium * PayoutNumerator / PayoutDenominator
}
