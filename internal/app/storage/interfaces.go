// Package storage defines the ledger store interfaces the engines depend on.
// Each call executes atomically against the underlying ledger; engines never
// observe partial state from a single call.
package storage

import (
	"context"

	"github.com/SuretyLabs/surety_layer/internal/app/domain/airline"
	"github.com/SuretyLabs/surety_layer/internal/app/domain/flight"
	"github.com/SuretyLabs/surety_layer/internal/app/domain/insurance"
	"github.com/SuretyLabs/surety_layer/internal/app/domain/oracle"
)

// ControlStore persists the process-wide operational switch.
type ControlStore interface {
	GetOperational(ctx context.Context) (bool, error)
	SetOperational(ctx context.Context, operational bool) error
}

// AirlineStore persists airlines and registration vote records.
type AirlineStore interface {
	CreateAirline(ctx context.Context, a airline.Airline) (airline.Airline, error)
	UpdateAirline(ctx context.Context, a airline.Airline) (airline.Airline, error)
	GetAirline(ctx context.Context, address string) (airline.Airline, error)
	ListAirlines(ctx context.Context) ([]airline.Airline, error)

	// AddVote records voter's vote for candidate and returns the distinct
	// vote count. Voting twice is a no-op on the count.
	AddVote(ctx context.Context, candidate, voter string) (int, error)
	VoteCount(ctx context.Context, candidate string) (int, error)
	ClearVotes(ctx context.Context, candidate string) error
}

// FlightStore persists registered flights.
type FlightStore interface {
	CreateFlight(ctx context.Context, f flight.Flight) (flight.Flight, error)
	UpdateFlight(ctx context.Context, f flight.Flight) (flight.Flight, error)
	GetFlight(ctx context.Context, key string) (flight.Flight, error)
	ListFlights(ctx context.Context) ([]flight.Flight, error)
}

// PolicyStore persists insurance policies and passenger credit balances.
type PolicyStore interface {
	CreatePolicy(ctx context.Context, p insurance.Policy) (insurance.Policy, error)
	UpdatePolicy(ctx context.Context, p insurance.Policy) (insurance.Policy, error)
	GetPolicy(ctx context.Context, flightKey, passenger string) (insurance.Policy, error)
	ListPoliciesByFlight(ctx context.Context, flightKey string) ([]insurance.Policy, error)

	// AddCredit accumulates a payout for the passenger and returns the new
	// balance. Balances only decrease through withdrawal, which is outside
	// this core.
	AddCredit(ctx context.Context, passenger string, amount uint64) (uint64, error)
	GetCredit(ctx context.Context, passenger string) (uint64, error)
}

// OracleStore persists oracle registrations and flight-resolution rounds.
type OracleStore interface {
	CreateOracle(ctx context.Context, o oracle.Oracle) (oracle.Oracle, error)
	GetOracle(ctx context.Context, address string) (oracle.Oracle, error)
	ListOracles(ctx context.Context) ([]oracle.Oracle, error)

	CreateRound(ctx context.Context, r oracle.Round) (oracle.Round, error)
	UpdateRound(ctx context.Context, r oracle.Round) (oracle.Round, error)
	GetRound(ctx context.Context, flightKey string) (oracle.Round, error)
	ListRounds(ctx context.Context, state oracle.RoundState) ([]oracle.Round, error)
}
