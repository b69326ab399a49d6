package oracles

import (
	"context"
	"testing"
	"time"

	"github.com/SuretyLabs/surety_layer/internal/app/domain/flight"
	"github.com/SuretyLabs/surety_layer/internal/app/services/operations"
	"github.com/SuretyLabs/surety_layer/internal/app/storage/memory"
)

func TestMonitorRebroadcastsStaleRounds(t *testing.T) {
	store := memory.New()
	ops := operations.New(store, "deployer", nil)
	svc := New(ops, store, store, &fakeCrediter{}, nil, fee, minResponses, nil)
	ctx := context.Background()

	f := flight.Flight{
		Key:       flight.MakeKey("acme-air", "SL-3", 1_000),
		Airline:   "acme-air",
		Code:      "SL-3",
		Timestamp: 1_000,
	}
	if _, err := store.CreateFlight(ctx, f); err != nil {
		t.Fatalf("seed flight: %v", err)
	}
	if _, err := svc.RequestFlightStatus(ctx, f.Airline, f.Code, f.Timestamp); err != nil {
		t.Fatalf("request: %v", err)
	}

	// Zero stale age treats the open round as stale immediately; the sweep
	// must republish it with the original parameters.
	monitor := NewRoundMonitor(svc, time.Minute, time.Nanosecond, nil)
	time.Sleep(5 * time.Millisecond)
	monitor.sweep()

	history := svc.Bus().History()
	if len(history) != 2 {
		t.Fatalf("events = %d, want request + rebroadcast", len(history))
	}
	rebroadcast := history[1]
	if rebroadcast.FlightKey != f.Key || rebroadcast.Airline != f.Airline ||
		rebroadcast.Flight != f.Code || rebroadcast.Timestamp != f.Timestamp {
		t.Fatalf("rebroadcast lost request parameters: %+v", rebroadcast)
	}
	if rebroadcast.Index != history[0].Index {
		t.Fatalf("rebroadcast index %d != original %d", rebroadcast.Index, history[0].Index)
	}
}

func TestMonitorLifecycle(t *testing.T) {
	store := memory.New()
	ops := operations.New(store, "deployer", nil)
	svc := New(ops, store, store, &fakeCrediter{}, nil, fee, minResponses, nil)

	monitor := NewRoundMonitor(svc, 10*time.Millisecond, time.Minute, nil)
	if monitor.Name() != "round-monitor" {
		t.Fatalf("name = %s", monitor.Name())
	}
	if err := monitor.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := monitor.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
}
