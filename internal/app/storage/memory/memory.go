package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/SuretyLabs/surety_layer/internal/app/domain/airline"
	"github.com/SuretyLabs/surety_layer/internal/app/domain/flight"
	"github.com/SuretyLabs/surety_layer/internal/app/domain/insurance"
	"github.com/SuretyLabs/surety_layer/internal/app/domain/oracle"
	"github.com/SuretyLabs/surety_layer/internal/app/storage"
)

// Store is an in-memory implementation of the ledger store interfaces. It is
// safe for concurrent use; each call holds the lock for its full duration,
// which gives the per-call atomicity the engines assume of the ledger.
type Store struct {
	mu          sync.RWMutex
	operational bool
	airlines    map[string]airline.Airline
	votes       map[string]map[string]struct{}
	flights     map[string]flight.Flight
	policies    map[string]insurance.Policy
	credits     map[string]uint64
	oracles     map[string]oracle.Oracle
	rounds      map[string]oracle.Round
}

var _ storage.ControlStore = (*Store)(nil)
var _ storage.AirlineStore = (*Store)(nil)
var _ storage.FlightStore = (*Store)(nil)
var _ storage.PolicyStore = (*Store)(nil)
var _ storage.OracleStore = (*Store)(nil)

// New creates an empty store with the operational switch on.
func New() *Store {
	return &Store{
		operational: true,
		airlines:    make(map[string]airline.Airline),
		votes:       make(map[string]map[string]struct{}),
		flights:     make(map[string]flight.Flight),
		policies:    make(map[string]insurance.Policy),
		credits:     make(map[string]uint64),
		oracles:     make(map[string]oracle.Oracle),
		rounds:      make(map[string]oracle.Round),
	}
}

func policyKey(flightKey, passenger string) string {
	return flightKey + "|" + passenger
}

// ControlStore implementation ------------------------------------------------

func (s *Store) GetOperational(_ context.Context) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.operational, nil
}

func (s *Store) SetOperational(_ context.Context, operational bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.operational = operational
	return nil
}

// AirlineStore implementation ------------------------------------------------

func (s *Store) CreateAirline(_ context.Context, a airline.Airline) (airline.Airline, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.airlines[a.Address]; exists {
		return airline.Airline{}, fmt.Errorf("airline %s already exists", a.Address)
	}

	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now

	s.airlines[a.Address] = a
	return a, nil
}

func (s *Store) UpdateAirline(_ context.Context, a airline.Airline) (airline.Airline, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.airlines[a.Address]
	if !ok {
		return airline.Airline{}, fmt.Errorf("airline %s not found", a.Address)
	}

	a.CreatedAt = original.CreatedAt
	a.UpdatedAt = time.Now().UTC()

	s.airlines[a.Address] = a
	return a, nil
}

func (s *Store) GetAirline(_ context.Context, address string) (airline.Airline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.airlines[address]
	if !ok {
		return airline.Airline{}, fmt.Errorf("airline %s not found", address)
	}
	return a, nil
}

func (s *Store) ListAirlines(_ context.Context) ([]airline.Airline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]airline.Airline, 0, len(s.airlines))
	for _, a := range s.airlines {
		result = append(result, a)
	}
	return result, nil
}

func (s *Store) AddVote(_ context.Context, candidate, voter string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.votes[candidate]
	if !ok {
		set = make(map[string]struct{})
		s.votes[candidate] = set
	}
	set[voter] = struct{}{}
	return len(set), nil
}

func (s *Store) VoteCount(_ context.Context, candidate string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.votes[candidate]), nil
}

func (s *Store) ClearVotes(_ context.Context, candidate string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.votes, candidate)
	return nil
}

// FlightStore implementation -------------------------------------------------

func (s *Store) CreateFlight(_ context.Context, f flight.Flight) (flight.Flight, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.flights[f.Key]; exists {
		return flight.Flight{}, fmt.Errorf("flight %s already exists", f.Key)
	}

	now := time.Now().UTC()
	f.CreatedAt = now
	f.UpdatedAt = now

	s.flights[f.Key] = f
	return f, nil
}

func (s *Store) UpdateFlight(_ context.Context, f flight.Flight) (flight.Flight, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.flights[f.Key]
	if !ok {
		return flight.Flight{}, fmt.Errorf("flight %s not found", f.Key)
	}

	f.CreatedAt = original.CreatedAt
	f.UpdatedAt = time.Now().UTC()

	s.flights[f.Key] = f
	return f, nil
}

func (s *Store) GetFlight(_ context.Context, key string) (flight.Flight, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.flights[key]
	if !ok {
		return flight.Flight{}, fmt.Errorf("flight %s not found", key)
	}
	return f, nil
}

func (s *Store) ListFlights(_ context.Context) ([]flight.Flight, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]flight.Flight, 0, len(s.flights))
	for _, f := range s.flights {
		result = append(result, f)
	}
	return result, nil
}

// PolicyStore implementation -------------------------------------------------

func (s *Store) CreatePolicy(_ context.Context, p insurance.Policy) (insurance.Policy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := policyKey(p.FlightKey, p.Passenger)
	if _, exists := s.policies[key]; exists {
		return insurance.Policy{}, fmt.Errorf("policy for %s already exists", key)
	}

	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	s.policies[key] = p
	return p, nil
}

func (s *Store) UpdatePolicy(_ context.Context, p insurance.Policy) (insurance.Policy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := policyKey(p.FlightKey, p.Passenger)
	original, ok := s.policies[key]
	if !ok {
		return insurance.Policy{}, fmt.Errorf("policy for %s not found", key)
	}

	p.CreatedAt = original.CreatedAt
	p.UpdatedAt = time.Now().UTC()

	s.policies[key] = p
	return p, nil
}

func (s *Store) GetPolicy(_ context.Context, flightKey, passenger string) (insurance.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.policies[policyKey(flightKey, passenger)]
	if !ok {
		return insurance.Policy{}, fmt.Errorf("policy for %s|%s not found", flightKey, passenger)
	}
	return p, nil
}

func (s *Store) ListPoliciesByFlight(_ context.Context, flightKey string) ([]insurance.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]insurance.Policy, 0)
	for _, p := range s.policies {
		if p.FlightKey == flightKey {
			result = append(result, p)
		}
	}
	return result, nil
}

func (s *Store) AddCredit(_ context.Context, passenger string, amount uint64) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.credits[passenger] += amount
	return s.credits[passenger], nil
}

func (s *Store) GetCredit(_ context.Context, passenger string) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.credits[passenger], nil
}

// OracleStore implementation -------------------------------------------------

func (s *Store) CreateOracle(_ context.Context, o oracle.Oracle) (oracle.Oracle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.oracles[o.Address]; exists {
		return oracle.Oracle{}, fmt.Errorf("oracle %s already exists", o.Address)
	}

	if o.RegisteredAt.IsZero() {
		o.RegisteredAt = time.Now().UTC()
	}
	s.oracles[o.Address] = o
	return o, nil
}

func (s *Store) GetOracle(_ context.Context, address string) (oracle.Oracle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.oracles[address]
	if !ok {
		return oracle.Oracle{}, fmt.Errorf("oracle %s not found", address)
	}
	return o, nil
}

func (s *Store) ListOracles(_ context.Context) ([]oracle.Oracle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]oracle.Oracle, 0, len(s.oracles))
	for _, o := range s.oracles {
		result = append(result, o)
	}
	return result, nil
}

func (s *Store) CreateRound(_ context.Context, r oracle.Round) (oracle.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rounds[r.FlightKey]; exists {
		return oracle.Round{}, fmt.Errorf("round for %s already exists", r.FlightKey)
	}

	now := time.Now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now
	r.Responses = cloneResponses(r.Responses)

	s.rounds[r.FlightKey] = r
	return cloneRound(r), nil
}

func (s *Store) UpdateRound(_ context.Context, r oracle.Round) (oracle.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.rounds[r.FlightKey]
	if !ok {
		return oracle.Round{}, fmt.Errorf("round for %s not found", r.FlightKey)
	}

	r.CreatedAt = original.CreatedAt
	r.UpdatedAt = time.Now().UTC()
	r.Responses = cloneResponses(r.Responses)

	s.rounds[r.FlightKey] = r
	return cloneRound(r), nil
}

func (s *Store) GetRound(_ context.Context, flightKey string) (oracle.Round, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rounds[flightKey]
	if !ok {
		return oracle.Round{}, fmt.Errorf("round for %s not found", flightKey)
	}
	return cloneRound(r), nil
}

func (s *Store) ListRounds(_ context.Context, state oracle.RoundState) ([]oracle.Round, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]oracle.Round, 0)
	for _, r := range s.rounds {
		if state == "" || r.State == state {
			result = append(result, cloneRound(r))
		}
	}
	return result, nil
}

// Helpers --------------------------------------------------------------------

func cloneResponses(src map[string]flight.StatusCode) map[string]flight.StatusCode {
	if len(src) == 0 {
		return nil
	}
	dst := make(map[string]flight.StatusCode, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func cloneRound(r oracle.Round) oracle.Round {
	r.Responses = cloneResponses(r.Responses)
	return r
}
