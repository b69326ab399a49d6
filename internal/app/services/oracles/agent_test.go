package oracles

import (
	"context"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SuretyLabs/surety_layer/internal/app/domain/flight"
	"github.com/SuretyLabs/surety_layer/internal/app/events"
	"github.com/SuretyLabs/surety_layer/internal/app/services/operations"
	"github.com/SuretyLabs/surety_layer/internal/app/storage/memory"
)

func TestScheduleDecider(t *testing.T) {
	decider := NewScheduleDecider(1)
	decider.Now = func() time.Time { return time.Unix(1_000_000, 0) }

	future := decider.Decide(events.OracleRequest{Timestamp: 2_000_000})
	assert.Equal(t, flight.StatusOnTime, future)

	past := decider.Decide(events.OracleRequest{Timestamp: 500_000})
	assert.NotEqual(t, flight.StatusOnTime, past)
	assert.True(t, past.Valid())
	assert.NotEqual(t, flight.StatusUnknown, past)
}

func TestHTTPDeciderParsesStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "acme-air", r.URL.Query().Get("airline"))
		w.Write([]byte(`{"flight":{"code":"SL-1"},"status":30}`))
	}))
	defer server.Close()

	decider := &HTTPDecider{URL: server.URL, Fallback: NewScheduleDecider(1)}
	got := decider.Decide(events.OracleRequest{Airline: "acme-air", Flight: "SL-1", Timestamp: 1})
	assert.Equal(t, flight.StatusLateWeather, got)
}

func TestHTTPDeciderFallsBack(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	fallback := DeciderFunc(func(events.OracleRequest) flight.StatusCode { return flight.StatusLateOther })
	decider := &HTTPDecider{URL: server.URL, Fallback: fallback}
	got := decider.Decide(events.OracleRequest{})
	assert.Equal(t, flight.StatusLateOther, got)
}

func TestAgentPoolResolvesRound(t *testing.T) {
	store := memory.New()
	ops := operations.New(store, "deployer", nil)
	crediter := &fakeCrediter{}
	svc := New(ops, store, store, crediter, nil, fee, minResponses, nil)
	svc.WithRandSource(rand.NewSource(7))

	ctx := context.Background()
	f := flight.Flight{
		Key:       flight.MakeKey("acme-air", "SL-2", 1_000), // long past: agents report a late code
		Airline:   "acme-air",
		Code:      "SL-2",
		Timestamp: 1_000,
	}
	_, err := store.CreateFlight(ctx, f)
	require.NoError(t, err)

	// Enough agents that at least three hold any given index with near
	// certainty.
	pool := NewAgentPool(svc, DeciderFunc(func(events.OracleRequest) flight.StatusCode {
		return flight.StatusLateTechnical
	}), 40, fee, nil)
	require.NoError(t, pool.Start(ctx))
	defer pool.Stop(ctx)

	_, err = svc.RequestFlightStatus(ctx, f.Airline, f.Code, f.Timestamp)
	require.NoError(t, err)

	deadline := time.After(5 * time.Second)
	for {
		status, err := svc.FlightStatus(ctx, f.Key)
		require.NoError(t, err)
		if status != flight.StatusUnknown {
			assert.Equal(t, flight.StatusLateTechnical, status)
			return
		}
		select {
		case <-deadline:
			t.Fatal("round not finalized by agent pool")
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func TestAgentPoolStopIsIdempotentPerFlight(t *testing.T) {
	store := memory.New()
	ops := operations.New(store, "deployer", nil)
	svc := New(ops, store, store, &fakeCrediter{}, nil, fee, minResponses, nil)
	svc.WithRandSource(rand.NewSource(7))

	pool := NewAgentPool(svc, nil, 3, fee, nil)
	require.NoError(t, pool.Start(context.Background()))
	require.NoError(t, pool.Stop(context.Background()))

	oracles, err := store.ListOracles(context.Background())
	require.NoError(t, err)
	assert.Len(t, oracles, 3, "agent identities stay registered after stop")
}
