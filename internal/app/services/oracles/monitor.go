package oracles

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/SuretyLabs/surety_layer/internal/app/domain/flight"
	"github.com/SuretyLabs/surety_layer/internal/app/events"
	"github.com/SuretyLabs/surety_layer/internal/app/system"
	"github.com/SuretyLabs/surety_layer/pkg/logger"
)

// RoundMonitor periodically re-broadcasts rounds that are still waiting for
// quorum, so agents that joined after the original request can respond.
type RoundMonitor struct {
	svc      *Service
	interval time.Duration
	staleAge time.Duration
	cron     *cron.Cron
	log      *logger.Logger
}

var _ system.Service = (*RoundMonitor)(nil)

// NewRoundMonitor builds a monitor that rescans every interval and rebroadcasts
// rounds older than staleAge.
func NewRoundMonitor(svc *Service, interval, staleAge time.Duration, log *logger.Logger) *RoundMonitor {
	if log == nil {
		log = logger.NewDefault("round-monitor")
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if staleAge <= 0 {
		staleAge = time.Minute
	}
	return &RoundMonitor{
		svc:      svc,
		interval: interval,
		staleAge: staleAge,
		log:      log,
	}
}

// Name implements system.Service.
func (m *RoundMonitor) Name() string { return "round-monitor" }

// Start implements system.Service.
func (m *RoundMonitor) Start(ctx context.Context) error {
	m.cron = cron.New()
	spec := fmt.Sprintf("@every %s", m.interval)
	if _, err := m.cron.AddFunc(spec, m.sweep); err != nil {
		return fmt.Errorf("schedule round sweep: %w", err)
	}
	m.cron.Start()
	m.log.WithField("interval", m.interval.String()).Info("round monitor started")
	return nil
}

// Stop implements system.Service.
func (m *RoundMonitor) Stop(ctx context.Context) error {
	if m.cron == nil {
		return nil
	}
	stopped := m.cron.Stop()
	select {
	case <-stopped.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (m *RoundMonitor) sweep() {
	ctx := context.Background()
	rounds, err := m.svc.OpenRounds(ctx)
	if err != nil {
		m.log.WithError(err).Error("list open rounds")
		return
	}

	cutoff := time.Now().Add(-m.staleAge)
	for _, round := range rounds {
		if round.UpdatedAt.After(cutoff) {
			continue
		}
		airline, code, timestamp, err := flight.ParseKey(round.FlightKey)
		if err != nil {
			m.log.WithError(err).Warn("skipping round with malformed key")
			continue
		}
		m.svc.Bus().Publish(events.OracleRequest{
			FlightKey: round.FlightKey,
			Airline:   airline,
			Flight:    code,
			Timestamp: timestamp,
			Index:     round.RequestedIndex,
		})
		m.log.WithField("flight", round.FlightKey).Debug("stale round rebroadcast")
	}
}
