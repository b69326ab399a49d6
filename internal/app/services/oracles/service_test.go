package oracles

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/SuretyLabs/surety_layer/internal/app/domain/flight"
	"github.com/SuretyLabs/surety_layer/internal/app/domain/protocol"
	"github.com/SuretyLabs/surety_layer/internal/app/services/operations"
	"github.com/SuretyLabs/surety_layer/internal/app/storage/memory"
)

const (
	fee          = 1_000_000_000
	minResponses = 3
)

type fakeCrediter struct {
	calls int
	keys  []string
}

func (f *fakeCrediter) CreditInsurees(ctx context.Context, flightKey string) (int, error) {
	f.calls++
	f.keys = append(f.keys, flightKey)
	return 1, nil
}

func newTestService(t *testing.T) (*Service, *operations.Service, *fakeCrediter, flight.Flight) {
	t.Helper()
	store := memory.New()
	ops := operations.New(store, "deployer", nil)
	crediter := &fakeCrediter{}
	svc := New(ops, store, store, crediter, nil, fee, minResponses, nil)
	svc.WithRandSource(rand.NewSource(42))

	f := flight.Flight{
		Key:       flight.MakeKey("acme-air", "SL-9", 1_700_000_000),
		Airline:   "acme-air",
		Code:      "SL-9",
		Timestamp: 1_700_000_000,
		Status:    flight.StatusUnknown,
	}
	if _, err := store.CreateFlight(context.Background(), f); err != nil {
		t.Fatalf("seed flight: %v", err)
	}
	return svc, ops, crediter, f
}

// registerHolders registers oracles until n of them hold wanted, returning
// their addresses plus one oracle that does not hold it.
func registerHolders(t *testing.T, svc *Service, wanted uint8, n int) (holders []string, outsider string) {
	t.Helper()
	ctx := context.Background()
	for i := 0; len(holders) < n || outsider == ""; i++ {
		if i > 500 {
			t.Fatal("could not assemble oracle set; randomness exhausted")
		}
		addr := fmt.Sprintf("oracle-%03d", i)
		o, err := svc.RegisterOracle(ctx, addr, fee)
		if err != nil {
			t.Fatalf("register %s: %v", addr, err)
		}
		if o.HasIndex(wanted) {
			if len(holders) < n {
				holders = append(holders, addr)
			}
		} else if outsider == "" {
			outsider = addr
		}
	}
	return holders, outsider
}

func TestRegisterOracleFee(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.RegisterOracle(ctx, "cheap", fee-1); !errors.Is(err, protocol.ErrInsufficientFee) {
		t.Fatalf("underpaid registration = %v, want ErrInsufficientFee", err)
	}

	o, err := svc.RegisterOracle(ctx, "oracle-a", fee)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	for _, idx := range o.Indexes {
		if idx > 9 {
			t.Fatalf("index %d out of range", idx)
		}
	}

	if _, err := svc.RegisterOracle(ctx, "oracle-a", fee); !errors.Is(err, protocol.ErrAlreadyRegistered) {
		t.Fatalf("duplicate registration = %v, want ErrAlreadyRegistered", err)
	}
}

func TestIndexesAreStable(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	o, err := svc.RegisterOracle(ctx, "oracle-a", fee)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	got, err := svc.MyIndexes(ctx, "oracle-a")
	if err != nil {
		t.Fatalf("my indexes: %v", err)
	}
	if got != o.Indexes {
		t.Fatalf("indexes changed: %v vs %v", got, o.Indexes)
	}

	if _, err := svc.MyIndexes(ctx, "ghost"); !errors.Is(err, protocol.ErrNotRegistered) {
		t.Fatalf("indexes for unregistered = %v, want ErrNotRegistered", err)
	}
}

func TestSeededRegistrationIsDeterministic(t *testing.T) {
	a, _, _, _ := newTestService(t)
	b, _, _, _ := newTestService(t)
	ctx := context.Background()

	oa, err := a.RegisterOracle(ctx, "oracle-a", fee)
	if err != nil {
		t.Fatalf("register a: %v", err)
	}
	ob, err := b.RegisterOracle(ctx, "oracle-a", fee)
	if err != nil {
		t.Fatalf("register b: %v", err)
	}
	if oa.Indexes != ob.Indexes {
		t.Fatalf("same seed produced different indexes: %v vs %v", oa.Indexes, ob.Indexes)
	}
}

func TestRequestFlightStatus(t *testing.T) {
	svc, _, _, f := newTestService(t)
	ctx := context.Background()

	ev, err := svc.RequestFlightStatus(ctx, f.Airline, f.Code, f.Timestamp)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if ev.FlightKey != f.Key {
		t.Fatalf("event key = %s, want %s", ev.FlightKey, f.Key)
	}
	if ev.Index != RequestIndex(f.Airline, f.Code, f.Timestamp) {
		t.Fatalf("event index %d not derived from request parameters", ev.Index)
	}
	if got := len(svc.Bus().History()); got != 1 {
		t.Fatalf("published events = %d, want 1", got)
	}

	// Re-requesting an open round re-broadcasts with the same index.
	again, err := svc.RequestFlightStatus(ctx, f.Airline, f.Code, f.Timestamp)
	if err != nil {
		t.Fatalf("re-request: %v", err)
	}
	if again.Index != ev.Index {
		t.Fatalf("re-request changed index: %d vs %d", again.Index, ev.Index)
	}
	if got := len(svc.Bus().History()); got != 2 {
		t.Fatalf("published events = %d, want 2", got)
	}

	if _, err := svc.RequestFlightStatus(ctx, "ghost-air", "GX-1", 1); !errors.Is(err, protocol.ErrUnknownFlight) {
		t.Fatalf("unknown flight = %v, want ErrUnknownFlight", err)
	}
}

func TestConsensusFinalizesAtQuorum(t *testing.T) {
	svc, _, crediter, f := newTestService(t)
	ctx := context.Background()

	wanted := RequestIndex(f.Airline, f.Code, f.Timestamp)
	holders, _ := registerHolders(t, svc, wanted, 4)

	if _, err := svc.RequestFlightStatus(ctx, f.Airline, f.Code, f.Timestamp); err != nil {
		t.Fatalf("request: %v", err)
	}

	for i := 0; i < 2; i++ {
		finalized, round, err := svc.SubmitOracleResponse(ctx, wanted, f.Airline, f.Code, f.Timestamp, flight.StatusLateAirline, holders[i])
		if err != nil {
			t.Fatalf("response %d: %v", i, err)
		}
		if finalized {
			t.Fatalf("finalized after %d responses", i+1)
		}
		if len(round.Responses) != i+1 {
			t.Fatalf("responses = %d, want %d", len(round.Responses), i+1)
		}
	}

	finalized, round, err := svc.SubmitOracleResponse(ctx, wanted, f.Airline, f.Code, f.Timestamp, flight.StatusLateAirline, holders[2])
	if err != nil {
		t.Fatalf("third response: %v", err)
	}
	if !finalized {
		t.Fatal("third matching response should finalize")
	}
	if round.FinalStatus != flight.StatusLateAirline {
		t.Fatalf("final status = %v", round.FinalStatus)
	}

	status, err := svc.FlightStatus(ctx, f.Key)
	if err != nil {
		t.Fatalf("flight status: %v", err)
	}
	if status != flight.StatusLateAirline {
		t.Fatalf("flight status = %v, want LATE_AIRLINE", status)
	}

	if crediter.calls != 1 || crediter.keys[0] != f.Key {
		t.Fatalf("crediter calls = %d keys = %v", crediter.calls, crediter.keys)
	}

	// The round is closed: the fourth holder is rejected.
	_, _, err = svc.SubmitOracleResponse(ctx, wanted, f.Airline, f.Code, f.Timestamp, flight.StatusLateAirline, holders[3])
	if !errors.Is(err, protocol.ErrRoundClosed) {
		t.Fatalf("late response = %v, want ErrRoundClosed", err)
	}
}

func TestOnTimeDoesNotCredit(t *testing.T) {
	svc, _, crediter, f := newTestService(t)
	ctx := context.Background()

	wanted := RequestIndex(f.Airline, f.Code, f.Timestamp)
	holders, _ := registerHolders(t, svc, wanted, 3)

	if _, err := svc.RequestFlightStatus(ctx, f.Airline, f.Code, f.Timestamp); err != nil {
		t.Fatalf("request: %v", err)
	}
	for _, holder := range holders {
		if _, _, err := svc.SubmitOracleResponse(ctx, wanted, f.Airline, f.Code, f.Timestamp, flight.StatusOnTime, holder); err != nil {
			t.Fatalf("response from %s: %v", holder, err)
		}
	}

	status, _ := svc.FlightStatus(ctx, f.Key)
	if status != flight.StatusOnTime {
		t.Fatalf("flight status = %v, want ON_TIME", status)
	}
	if crediter.calls != 0 {
		t.Fatalf("crediter called %d times for ON_TIME", crediter.calls)
	}
}

func TestMixedResponsesCountPerStatus(t *testing.T) {
	svc, _, _, f := newTestService(t)
	ctx := context.Background()

	wanted := RequestIndex(f.Airline, f.Code, f.Timestamp)
	holders, _ := registerHolders(t, svc, wanted, 5)

	if _, err := svc.RequestFlightStatus(ctx, f.Airline, f.Code, f.Timestamp); err != nil {
		t.Fatalf("request: %v", err)
	}

	// Two LATE_WEATHER and two ON_TIME: neither bucket reaches 3.
	statuses := []flight.StatusCode{flight.StatusLateWeather, flight.StatusOnTime, flight.StatusLateWeather, flight.StatusOnTime}
	for i, status := range statuses {
		finalized, _, err := svc.SubmitOracleResponse(ctx, wanted, f.Airline, f.Code, f.Timestamp, status, holders[i])
		if err != nil {
			t.Fatalf("response %d: %v", i, err)
		}
		if finalized {
			t.Fatalf("finalized on split vote at response %d", i)
		}
	}

	// The fifth response tips LATE_WEATHER to quorum.
	finalized, round, err := svc.SubmitOracleResponse(ctx, wanted, f.Airline, f.Code, f.Timestamp, flight.StatusLateWeather, holders[4])
	if err != nil {
		t.Fatalf("fifth response: %v", err)
	}
	if !finalized || round.FinalStatus != flight.StatusLateWeather {
		t.Fatalf("finalized=%v status=%v, want LATE_WEATHER quorum", finalized, round.FinalStatus)
	}
}

func TestSubmitRejections(t *testing.T) {
	svc, _, _, f := newTestService(t)
	ctx := context.Background()

	wanted := RequestIndex(f.Airline, f.Code, f.Timestamp)
	holders, outsider := registerHolders(t, svc, wanted, 1)
	holder := holders[0]

	// No round requested yet.
	_, _, err := svc.SubmitOracleResponse(ctx, wanted, f.Airline, f.Code, f.Timestamp, flight.StatusOnTime, holder)
	if !errors.Is(err, protocol.ErrRoundNotOpen) {
		t.Fatalf("response before request = %v, want ErrRoundNotOpen", err)
	}

	if _, err := svc.RequestFlightStatus(ctx, f.Airline, f.Code, f.Timestamp); err != nil {
		t.Fatalf("request: %v", err)
	}

	// Unregistered caller.
	_, _, err = svc.SubmitOracleResponse(ctx, wanted, f.Airline, f.Code, f.Timestamp, flight.StatusOnTime, "ghost")
	if !errors.Is(err, protocol.ErrUnauthorized) {
		t.Fatalf("unregistered caller = %v, want ErrUnauthorized", err)
	}

	// Caller does not hold the submitted index.
	_, _, err = svc.SubmitOracleResponse(ctx, wanted, f.Airline, f.Code, f.Timestamp, flight.StatusOnTime, outsider)
	if !errors.Is(err, protocol.ErrIndexMismatch) {
		t.Fatalf("outsider = %v, want ErrIndexMismatch", err)
	}

	// Holder submitting one of its own indexes that is not the requested one.
	var other uint8
	indexes, _ := svc.MyIndexes(ctx, holder)
	found := false
	for _, idx := range indexes {
		if idx != wanted {
			other = idx
			found = true
			break
		}
	}
	if found {
		_, _, err = svc.SubmitOracleResponse(ctx, other, f.Airline, f.Code, f.Timestamp, flight.StatusOnTime, holder)
		if !errors.Is(err, protocol.ErrIndexMismatch) {
			t.Fatalf("wrong index = %v, want ErrIndexMismatch", err)
		}
	}

	// Duplicate response.
	if _, _, err := svc.SubmitOracleResponse(ctx, wanted, f.Airline, f.Code, f.Timestamp, flight.StatusOnTime, holder); err != nil {
		t.Fatalf("first response: %v", err)
	}
	_, _, err = svc.SubmitOracleResponse(ctx, wanted, f.Airline, f.Code, f.Timestamp, flight.StatusOnTime, holder)
	if !errors.Is(err, protocol.ErrDuplicateResponse) {
		t.Fatalf("duplicate = %v, want ErrDuplicateResponse", err)
	}
}

func TestSubmitBlockedWhilePaused(t *testing.T) {
	svc, ops, _, f := newTestService(t)
	ctx := context.Background()

	wanted := RequestIndex(f.Airline, f.Code, f.Timestamp)
	holders, _ := registerHolders(t, svc, wanted, 1)
	if _, err := svc.RequestFlightStatus(ctx, f.Airline, f.Code, f.Timestamp); err != nil {
		t.Fatalf("request: %v", err)
	}

	if err := ops.SetOperational(ctx, false, "deployer"); err != nil {
		t.Fatalf("pause: %v", err)
	}
	_, _, err := svc.SubmitOracleResponse(ctx, wanted, f.Airline, f.Code, f.Timestamp, flight.StatusOnTime, holders[0])
	if !errors.Is(err, protocol.ErrContractPaused) {
		t.Fatalf("submit while paused = %v, want ErrContractPaused", err)
	}
	if _, err := svc.RegisterOracle(ctx, "late-oracle", fee); !errors.Is(err, protocol.ErrContractPaused) {
		t.Fatalf("register while paused = %v, want ErrContractPaused", err)
	}
}

func TestRequestIndexDeterministic(t *testing.T) {
	a := RequestIndex("acme-air", "SL-9", 1_700_000_000)
	b := RequestIndex("acme-air", "SL-9", 1_700_000_000)
	if a != b {
		t.Fatalf("same parameters produced %d and %d", a, b)
	}
	if a > 9 {
		t.Fatalf("index %d out of range", a)
	}
	if RequestIndex("acme-air", "SL-9", 1_700_000_001) == a &&
		RequestIndex("acme-air", "SL-8", 1_700_000_000) == a &&
		RequestIndex("other-air", "SL-9", 1_700_000_000) == a {
		t.Fatal("index does not vary with request parameters")
	}
}

func TestRequestAfterFinalizeIsNoop(t *testing.T) {
	svc, _, _, f := newTestService(t)
	ctx := context.Background()

	wanted := RequestIndex(f.Airline, f.Code, f.Timestamp)
	holders, _ := registerHolders(t, svc, wanted, 3)

	if _, err := svc.RequestFlightStatus(ctx, f.Airline, f.Code, f.Timestamp); err != nil {
		t.Fatalf("request: %v", err)
	}
	for _, holder := range holders {
		if _, _, err := svc.SubmitOracleResponse(ctx, wanted, f.Airline, f.Code, f.Timestamp, flight.StatusLateOther, holder); err != nil {
			t.Fatalf("response: %v", err)
		}
	}

	published := len(svc.Bus().History())
	if _, err := svc.RequestFlightStatus(ctx, f.Airline, f.Code, f.Timestamp); err != nil {
		t.Fatalf("re-request after finalize: %v", err)
	}
	if got := len(svc.Bus().History()); got != published {
		t.Fatalf("finalized re-request published an event: %d vs %d", got, published)
	}
}
