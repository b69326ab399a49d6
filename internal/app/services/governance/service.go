// Package governance implements the airline lifecycle: registration, funding
// and the escalating multiparty consensus rule, plus flight registration.
package governance

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/SuretyLabs/surety_layer/internal/app/domain/airline"
	"github.com/SuretyLabs/surety_layer/internal/app/domain/flight"
	"github.com/SuretyLabs/surety_layer/internal/app/domain/protocol"
	"github.com/SuretyLabs/surety_layer/internal/app/services/operations"
	"github.com/SuretyLabs/surety_layer/internal/app/storage"
	"github.com/SuretyLabs/surety_layer/pkg/logger"
)

// ConsensusThreshold is the registered-airline count from which registration
// requires a multiparty vote instead of a single funded sponsor.
const ConsensusThreshold = 4

// Service is the governance engine.
type Service struct {
	gate             operations.Gate
	store            storage.AirlineStore
	flights          storage.FlightStore
	fundingThreshold uint64
	log              *logger.Logger

	// Mutating operations serialize here, standing in for the ledger's
	// transaction ordering.
	mu sync.Mutex
}

// New constructs the governance engine.
func New(gate operations.Gate, store storage.AirlineStore, flights storage.FlightStore, fundingThreshold uint64, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("governance")
	}
	return &Service{
		gate:             gate,
		store:            store,
		flights:          flights,
		fundingThreshold: fundingThreshold,
		log:              log,
	}
}

// RegisterAirline registers candidate on behalf of caller. Below the
// consensus threshold a single funded sponsor suffices; from the threshold on
// the caller's vote is recorded and the candidate becomes registered once a
// strict majority of funded-and-registered airlines has voted for it.
// It returns the candidate's post-call registration state and the vote tally.
func (s *Service) RegisterAirline(ctx context.Context, candidate, caller string) (bool, int, error) {
	if err := s.gate.Guard(ctx); err != nil {
		return false, 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sponsor, err := s.store.GetAirline(ctx, caller)
	if err != nil {
		return false, 0, fmt.Errorf("caller %s is not an airline: %w", caller, protocol.ErrUnauthorized)
	}
	if !sponsor.Registered || !sponsor.Funded(s.fundingThreshold) {
		return false, 0, fmt.Errorf("caller %s is not a funded airline: %w", caller, protocol.ErrUnauthorized)
	}

	if existing, err := s.store.GetAirline(ctx, candidate); err == nil && existing.Registered {
		votes, _ := s.store.VoteCount(ctx, candidate)
		return true, votes, nil
	}

	registered, funded, err := s.countAirlines(ctx)
	if err != nil {
		return false, 0, err
	}

	if registered < ConsensusThreshold {
		if err := s.register(ctx, candidate); err != nil {
			return false, 0, err
		}
		s.log.WithField("airline", candidate).
			WithField("sponsor", caller).
			Info("airline registered")
		return true, 0, nil
	}

	votes, err := s.store.AddVote(ctx, candidate, caller)
	if err != nil {
		return false, 0, fmt.Errorf("record vote: %w", err)
	}

	// Strict majority of the funded-and-registered airlines, counted fresh
	// per candidate.
	if 2*votes <= funded {
		s.log.WithField("airline", candidate).
			WithField("votes", votes).
			WithField("electorate", funded).
			Info("registration vote recorded")
		return false, votes, nil
	}

	if err := s.register(ctx, candidate); err != nil {
		return false, votes, err
	}
	if err := s.store.ClearVotes(ctx, candidate); err != nil {
		return true, votes, fmt.Errorf("clear votes for %s: %w", candidate, err)
	}
	s.log.WithField("airline", candidate).
		WithField("votes", votes).
		Info("airline registered by consensus")
	return true, votes, nil
}

// Fund accumulates an airline's own contribution. Only the airline itself may
// fund, and it must already be registered.
func (s *Service) Fund(ctx context.Context, airlineAddr string, amount uint64, caller string) (airline.Airline, error) {
	if err := s.gate.Guard(ctx); err != nil {
		return airline.Airline{}, err
	}
	if caller != airlineAddr {
		return airline.Airline{}, fmt.Errorf("airline %s can only be funded by itself: %w", airlineAddr, protocol.ErrUnauthorized)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a, err := s.store.GetAirline(ctx, airlineAddr)
	if err != nil {
		return airline.Airline{}, fmt.Errorf("airline %s: %w", airlineAddr, protocol.ErrNotRegistered)
	}
	if !a.Registered {
		return airline.Airline{}, fmt.Errorf("airline %s: %w", airlineAddr, protocol.ErrNotRegistered)
	}

	a.FundedAmount += amount
	a, err = s.store.UpdateAirline(ctx, a)
	if err != nil {
		return airline.Airline{}, fmt.Errorf("update airline funding: %w", err)
	}

	s.log.WithField("airline", airlineAddr).
		WithField("funding", a.FundedAmount).
		WithField("funded", a.Funded(s.fundingThreshold)).
		Info("airline funded")
	return a, nil
}

// RegisterFlight registers a flight for insurance purchase. The caller must
// be the operating airline and must be funded.
func (s *Service) RegisterFlight(ctx context.Context, airlineAddr, code string, timestamp int64, caller string) (flight.Flight, error) {
	if err := s.gate.Guard(ctx); err != nil {
		return flight.Flight{}, err
	}
	if caller != airlineAddr {
		return flight.Flight{}, fmt.Errorf("flights are registered by their operating airline: %w", protocol.ErrUnauthorized)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a, err := s.store.GetAirline(ctx, airlineAddr)
	if err != nil || !a.Registered {
		return flight.Flight{}, fmt.Errorf("airline %s: %w", airlineAddr, protocol.ErrNotRegistered)
	}
	if !a.Funded(s.fundingThreshold) {
		return flight.Flight{}, fmt.Errorf("airline %s is not funded: %w", airlineAddr, protocol.ErrUnauthorized)
	}

	f := flight.Flight{
		Key:       flight.MakeKey(airlineAddr, code, timestamp),
		Airline:   airlineAddr,
		Code:      code,
		Timestamp: timestamp,
		Status:    flight.StatusUnknown,
	}
	f, err = s.flights.CreateFlight(ctx, f)
	if err != nil {
		return flight.Flight{}, fmt.Errorf("flight %s: %w", f.Key, protocol.ErrAlreadyRegistered)
	}

	s.log.WithField("flight", f.Key).Info("flight registered")
	return f, nil
}

// IsAirline reports whether an address is a registered airline.
func (s *Service) IsAirline(ctx context.Context, address string) (bool, error) {
	a, err := s.store.GetAirline(ctx, address)
	if err != nil {
		return false, nil
	}
	return a.Registered, nil
}

// IsFunded reports whether an airline has met the funding threshold.
func (s *Service) IsFunded(ctx context.Context, address string) (bool, error) {
	a, err := s.store.GetAirline(ctx, address)
	if err != nil {
		return false, nil
	}
	return a.Funded(s.fundingThreshold), nil
}

// FetchFunding returns an airline's cumulative contribution.
func (s *Service) FetchFunding(ctx context.Context, address string) (uint64, error) {
	a, err := s.store.GetAirline(ctx, address)
	if err != nil {
		return 0, fmt.Errorf("airline %s: %w", address, protocol.ErrNotRegistered)
	}
	return a.FundedAmount, nil
}

// RegisteredCount returns the number of registered airlines.
func (s *Service) RegisteredCount(ctx context.Context) (int, error) {
	registered, _, err := s.countAirlines(ctx)
	return registered, err
}

// ActiveAirlines returns the registered airline addresses, sorted.
func (s *Service) ActiveAirlines(ctx context.Context) ([]string, error) {
	airlines, err := s.store.ListAirlines(ctx)
	if err != nil {
		return nil, err
	}
	result := make([]string, 0, len(airlines))
	for _, a := range airlines {
		if a.Registered {
			result = append(result, a.Address)
		}
	}
	sort.Strings(result)
	return result, nil
}

// VoteTally returns the current vote count for a candidate.
func (s *Service) VoteTally(ctx context.Context, candidate string) (int, error) {
	return s.store.VoteCount(ctx, candidate)
}

func (s *Service) register(ctx context.Context, candidate string) error {
	if existing, err := s.store.GetAirline(ctx, candidate); err == nil {
		existing.Registered = true
		if _, err := s.store.UpdateAirline(ctx, existing); err != nil {
			return fmt.Errorf("register airline %s: %w", candidate, err)
		}
		return nil
	}
	if _, err := s.store.CreateAirline(ctx, airline.Airline{Address: candidate, Registered: true}); err != nil {
		return fmt.Errorf("register airline %s: %w", candidate, err)
	}
	return nil
}

func (s *Service) countAirlines(ctx context.Context) (registered, funded int, err error) {
	airlines, err := s.store.ListAirlines(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("list airlines: %w", err)
	}
	for _, a := range airlines {
		if !a.Registered {
			continue
		}
		registered++
		if a.Funded(s.fundingThreshold) {
			funded++
		}
	}
	return registered, funded, nil
}
