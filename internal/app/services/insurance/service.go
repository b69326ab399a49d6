// Package insurance implements the passenger policy ledger: purchase escrow,
// payout crediting and credit balance reads.
package insurance

import (
	"context"
	"fmt"
	"sync"

	domain "github.com/SuretyLabs/surety_layer/internal/app/domain/insurance"
	"github.com/SuretyLabs/surety_layer/internal/app/domain/protocol"
	"github.com/SuretyLabs/surety_layer/internal/app/metrics"
	"github.com/SuretyLabs/surety_layer/internal/app/services/operations"
	"github.com/SuretyLabs/surety_layer/internal/app/storage"
	"github.com/SuretyLabs/surety_layer/pkg/logger"
)

// Service is the insurance ledger engine.
type Service struct {
	gate       operations.Gate
	policies   storage.PolicyStore
	flights    storage.FlightStore
	maxPremium uint64
	log        *logger.Logger

	mu sync.Mutex
}

// New constructs the insurance ledger.
func New(gate operations.Gate, policies storage.PolicyStore, flights storage.FlightStore, maxPremium uint64, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("insurance")
	}
	return &Service{
		gate:       gate,
		policies:   policies,
		flights:    flights,
		maxPremium: maxPremium,
		log:        log,
	}
}

// Buy records a policy and escrows the premium. A failed purchase leaves no
// partial state: validation happens before the policy is written.
func (s *Service) Buy(ctx context.Context, flightKey, passenger string, premium uint64, caller string) (domain.Policy, error) {
	if err := s.gate.Guard(ctx); err != nil {
		return domain.Policy{}, err
	}
	if caller != passenger {
		return domain.Policy{}, fmt.Errorf("policies are bought by the insured passenger: %w", protocol.ErrUnauthorized)
	}
	if premium == 0 || premium > s.maxPremium {
		return domain.Policy{}, fmt.Errorf("premium %d out of range (max %d): %w", premium, s.maxPremium, protocol.ErrInvalidPremium)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.flights.GetFlight(ctx, flightKey); err != nil {
		return domain.Policy{}, fmt.Errorf("flight %s: %w", flightKey, protocol.ErrUnknownFlight)
	}
	if _, err := s.policies.GetPolicy(ctx, flightKey, passenger); err == nil {
		return domain.Policy{}, fmt.Errorf("passenger %s on flight %s: %w", passenger, flightKey, protocol.ErrAlreadyInsured)
	}

	policy := domain.Policy{
		FlightKey: flightKey,
		Passenger: passenger,
		Premium:   premium,
		Purchased: true,
	}
	policy, err := s.policies.CreatePolicy(ctx, policy)
	if err != nil {
		return domain.Policy{}, fmt.Errorf("create policy: %w", err)
	}

	metrics.RecordPolicyPurchase()
	s.log.WithField("flight", flightKey).
		WithField("passenger", passenger).
		WithField("premium", premium).
		Info("policy purchased")
	return policy, nil
}

// CreditInsurees credits every unsettled policy on the flight with
// premium * 3 / 2 and marks it settled. It is invoked by the oracle consensus
// engine's finalize path only and is idempotent per flight. It is not an
// operational entry point of its own; the finalizing submission already
// passed the gate.
func (s *Service) CreditInsurees(ctx context.Context, flightKey string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	policies, err := s.policies.ListPoliciesByFlight(ctx, flightKey)
	if err != nil {
		return 0, fmt.Errorf("list policies for %s: %w", flightKey, err)
	}

	credited := 0
	for _, policy := range policies {
		if policy.Settled || !policy.Purchased {
			continue
		}
		payout := domain.Payout(policy.Premium)
		balance, err := s.policies.AddCredit(ctx, policy.Passenger, payout)
		if err != nil {
			return credited, fmt.Errorf("credit passenger %s: %w", policy.Passenger, err)
		}
		policy.Settled = true
		if _, err := s.policies.UpdatePolicy(ctx, policy); err != nil {
			return credited, fmt.Errorf("settle policy for %s: %w", policy.Passenger, err)
		}
		credited++
		metrics.RecordCredit(payout)
		s.log.WithField("flight", flightKey).
			WithField("passenger", policy.Passenger).
			WithField("payout", payout).
			WithField("balance", balance).
			Info("insuree credited")
	}
	return credited, nil
}

// PassengerCredit returns the passenger's accumulated payout balance.
func (s *Service) PassengerCredit(ctx context.Context, passenger string) (uint64, error) {
	return s.policies.GetCredit(ctx, passenger)
}

// PolicyInfo returns the policy for (flight, passenger).
func (s *Service) PolicyInfo(ctx context.Context, flightKey, passenger string) (domain.Policy, error) {
	policy, err := s.policies.GetPolicy(ctx, flightKey, passenger)
	if err != nil {
		return domain.Policy{}, fmt.Errorf("policy for %s on %s: %w", passenger, flightKey, err)
	}
	return policy, nil
}
