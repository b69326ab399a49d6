// Package oracles implements the oracle consensus engine: agent registration
// with randomized index triples, status request broadcasting, response
// tallying and quorum finalization.
package oracles

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"
	"sync"
	"time"

	"github.com/SuretyLabs/surety_layer/internal/app/domain/flight"
	domain "github.com/SuretyLabs/surety_layer/internal/app/domain/oracle"
	"github.com/SuretyLabs/surety_layer/internal/app/domain/protocol"
	"github.com/SuretyLabs/surety_layer/internal/app/events"
	"github.com/SuretyLabs/surety_layer/internal/app/metrics"
	"github.com/SuretyLabs/surety_layer/internal/app/services/operations"
	"github.com/SuretyLabs/surety_layer/internal/app/storage"
	"github.com/SuretyLabs/surety_layer/pkg/logger"
)

// InsuranceCrediter is the finalize-path hook into the insurance ledger. It
// is an internal trust boundary: only this engine calls it.
type InsuranceCrediter interface {
	CreditInsurees(ctx context.Context, flightKey string) (int, error)
}

// Service is the oracle consensus engine.
type Service struct {
	gate         operations.Gate
	store        storage.OracleStore
	flights      storage.FlightStore
	insurance    InsuranceCrediter
	bus          *events.Bus
	fee          uint64
	minResponses int
	log          *logger.Logger

	// Mutating operations serialize here, standing in for the ledger's
	// transaction ordering; tally updates are therefore linearizable.
	mu  sync.Mutex
	rng *rand.Rand
}

// New constructs the consensus engine.
func New(gate operations.Gate, store storage.OracleStore, flights storage.FlightStore, insurance InsuranceCrediter, bus *events.Bus, fee uint64, minResponses int, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("oracles")
	}
	if bus == nil {
		bus = events.NewBus()
	}
	return &Service{
		gate:         gate,
		store:        store,
		flights:      flights,
		insurance:    insurance,
		bus:          bus,
		fee:          fee,
		minResponses: minResponses,
		log:          log,
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// WithRandSource overrides the index assignment randomness. Tests use a
// seeded source to assert exact index triples.
func (s *Service) WithRandSource(src rand.Source) {
	s.mu.Lock()
	s.rng = rand.New(src)
	s.mu.Unlock()
}

// Bus returns the broadcast channel requests are published on.
func (s *Service) Bus() *events.Bus { return s.bus }

// RegisterOracle registers the caller and assigns its immutable index triple.
// The three indexes are drawn uniformly from [0,9] and need not be distinct.
func (s *Service) RegisterOracle(ctx context.Context, caller string, feePaid uint64) (domain.Oracle, error) {
	if err := s.gate.Guard(ctx); err != nil {
		return domain.Oracle{}, err
	}
	if feePaid < s.fee {
		return domain.Oracle{}, fmt.Errorf("fee %d below required %d: %w", feePaid, s.fee, protocol.ErrInsufficientFee)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.store.GetOracle(ctx, caller); err == nil {
		return domain.Oracle{}, fmt.Errorf("oracle %s: %w", caller, protocol.ErrAlreadyRegistered)
	}

	o := domain.Oracle{Address: caller}
	for i := range o.Indexes {
		o.Indexes[i] = uint8(s.rng.Intn(domain.IndexBuckets))
	}

	o, err := s.store.CreateOracle(ctx, o)
	if err != nil {
		return domain.Oracle{}, fmt.Errorf("create oracle: %w", err)
	}

	s.log.WithField("oracle", caller).
		WithField("indexes", fmt.Sprintf("%d,%d,%d", o.Indexes[0], o.Indexes[1], o.Indexes[2])).
		Info("oracle registered")
	return o, nil
}

// MyIndexes returns the caller's assigned index triple.
func (s *Service) MyIndexes(ctx context.Context, caller string) ([domain.IndexesPerOracle]uint8, error) {
	o, err := s.store.GetOracle(ctx, caller)
	if err != nil {
		return [domain.IndexesPerOracle]uint8{}, fmt.Errorf("oracle %s: %w", caller, protocol.ErrNotRegistered)
	}
	return o.Indexes, nil
}

// RequestFlightStatus opens (or re-broadcasts) the flight-resolution round
// and publishes the request to all subscribed oracle agents. Requesting an
// already finalized flight is a no-op.
func (s *Service) RequestFlightStatus(ctx context.Context, airlineAddr, code string, timestamp int64) (events.OracleRequest, error) {
	if err := s.gate.Guard(ctx); err != nil {
		return events.OracleRequest{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := flight.MakeKey(airlineAddr, code, timestamp)
	if _, err := s.flights.GetFlight(ctx, key); err != nil {
		return events.OracleRequest{}, fmt.Errorf("flight %s: %w", key, protocol.ErrUnknownFlight)
	}

	index := RequestIndex(airlineAddr, code, timestamp)

	round, err := s.store.GetRound(ctx, key)
	switch {
	case err != nil:
		round = domain.Round{
			FlightKey:      key,
			RequestedIndex: index,
			State:          domain.RoundRequested,
		}
		if round, err = s.store.CreateRound(ctx, round); err != nil {
			return events.OracleRequest{}, fmt.Errorf("open round for %s: %w", key, err)
		}
	case round.State == domain.RoundFinalized:
		s.log.WithField("flight", key).Debug("status re-request for finalized flight ignored")
		return events.OracleRequest{
			FlightKey: key,
			Airline:   airlineAddr,
			Flight:    code,
			Timestamp: timestamp,
			Index:     round.RequestedIndex,
		}, nil
	}

	ev := events.OracleRequest{
		FlightKey: key,
		Airline:   airlineAddr,
		Flight:    code,
		Timestamp: timestamp,
		Index:     round.RequestedIndex,
	}
	s.bus.Publish(ev)

	s.log.WithField("flight", key).
		WithField("index", ev.Index).
		Info("flight status requested")
	return ev, nil
}

// SubmitOracleResponse records one oracle's answer for an open round. The
// round finalizes as soon as any status bucket reaches the response quorum;
// the finalized status is written to the flight and, for LATE_AIRLINE, the
// insurance ledger credits the flight's policies exactly once.
func (s *Service) SubmitOracleResponse(ctx context.Context, index uint8, airlineAddr, code string, timestamp int64, status flight.StatusCode, caller string) (bool, domain.Round, error) {
	if err := s.gate.Guard(ctx); err != nil {
		return false, domain.Round{}, err
	}
	if !status.Valid() || status == flight.StatusUnknown {
		return false, domain.Round{}, fmt.Errorf("status code %d is not reportable", status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	o, err := s.store.GetOracle(ctx, caller)
	if err != nil {
		return false, domain.Round{}, fmt.Errorf("caller %s is not a registered oracle: %w", caller, protocol.ErrUnauthorized)
	}
	if !o.HasIndex(index) {
		return false, domain.Round{}, fmt.Errorf("oracle %s does not hold index %d: %w", caller, index, protocol.ErrIndexMismatch)
	}

	key := flight.MakeKey(airlineAddr, code, timestamp)
	round, err := s.store.GetRound(ctx, key)
	if err != nil {
		return false, domain.Round{}, fmt.Errorf("no open round for %s: %w", key, protocol.ErrRoundNotOpen)
	}
	if round.State == domain.RoundFinalized {
		return false, round, fmt.Errorf("round for %s: %w", key, protocol.ErrRoundClosed)
	}
	if round.State != domain.RoundRequested {
		return false, round, fmt.Errorf("round for %s: %w", key, protocol.ErrRoundNotOpen)
	}
	if index != round.RequestedIndex {
		return false, round, fmt.Errorf("index %d does not match requested %d: %w", index, round.RequestedIndex, protocol.ErrIndexMismatch)
	}
	if round.Responded(caller) {
		return false, round, fmt.Errorf("oracle %s: %w", caller, protocol.ErrDuplicateResponse)
	}

	if round.Responses == nil {
		round.Responses = make(map[string]flight.StatusCode)
	}
	round.Responses[caller] = status

	if round.CountFor(status) < s.minResponses {
		if round, err = s.store.UpdateRound(ctx, round); err != nil {
			return false, domain.Round{}, fmt.Errorf("record response: %w", err)
		}
		metrics.RecordOracleResponse(status.String())
		return false, round, nil
	}

	// Quorum reached: first bucket wins, the round closes for good.
	round.State = domain.RoundFinalized
	round.FinalStatus = status
	if round, err = s.store.UpdateRound(ctx, round); err != nil {
		return false, domain.Round{}, fmt.Errorf("finalize round: %w", err)
	}
	metrics.RecordOracleResponse(status.String())

	f, err := s.flights.GetFlight(ctx, key)
	if err != nil {
		return true, round, fmt.Errorf("load flight %s: %w", key, err)
	}
	f.Status = status
	if _, err := s.flights.UpdateFlight(ctx, f); err != nil {
		return true, round, fmt.Errorf("write flight status: %w", err)
	}

	metrics.RecordRoundFinalized(status.String())
	s.log.WithField("flight", key).
		WithField("status", status.String()).
		WithField("responses", len(round.Responses)).
		Info("flight status finalized")

	if status == flight.StatusLateAirline && s.insurance != nil {
		credited, err := s.insurance.CreditInsurees(ctx, key)
		if err != nil {
			return true, round, fmt.Errorf("credit insurees for %s: %w", key, err)
		}
		s.log.WithField("flight", key).
			WithField("credited", credited).
			Info("insurees credited")
	}
	return true, round, nil
}

// FlightStatus returns the current (possibly finalized) status of a flight.
func (s *Service) FlightStatus(ctx context.Context, flightKey string) (flight.StatusCode, error) {
	f, err := s.flights.GetFlight(ctx, flightKey)
	if err != nil {
		return flight.StatusUnknown, fmt.Errorf("flight %s: %w", flightKey, protocol.ErrUnknownFlight)
	}
	return f.Status, nil
}

// OpenRounds lists rounds still waiting for quorum.
func (s *Service) OpenRounds(ctx context.Context) ([]domain.Round, error) {
	return s.store.ListRounds(ctx, domain.RoundRequested)
}

// RequestIndex derives the round's requested index from the request
// parameters alone, so any replica computes the same bucket.
func RequestIndex(airlineAddr, code string, timestamp int64) uint8 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%s|%d", airlineAddr, code, timestamp)
	return uint8(h.Sum64() % domain.IndexBuckets)
}
