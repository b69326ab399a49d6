package oracles

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/SuretyLabs/surety_layer/internal/app/domain/flight"
	"github.com/SuretyLabs/surety_layer/internal/app/events"
	"github.com/SuretyLabs/surety_layer/internal/app/system"
	"github.com/SuretyLabs/surety_layer/pkg/logger"
)

// StatusDecider chooses the status code an oracle agent reports for a flight.
type StatusDecider interface {
	Decide(req events.OracleRequest) flight.StatusCode
}

// DeciderFunc adapts a function to StatusDecider.
type DeciderFunc func(req events.OracleRequest) flight.StatusCode

func (f DeciderFunc) Decide(req events.OracleRequest) flight.StatusCode { return f(req) }

// ScheduleDecider reports ON_TIME for flights whose departure is still in the
// future and a random late code otherwise.
type ScheduleDecider struct {
	Now func() time.Time

	mu  sync.Mutex
	rng *rand.Rand
}

// NewScheduleDecider builds a decider with its own randomness.
func NewScheduleDecider(seed int64) *ScheduleDecider {
	return &ScheduleDecider{
		Now: time.Now,
		rng: rand.New(rand.NewSource(seed)),
	}
}

var lateCodes = []flight.StatusCode{
	flight.StatusLateAirline,
	flight.StatusLateWeather,
	flight.StatusLateTechnical,
	flight.StatusLateOther,
}

// Decide implements StatusDecider.
func (d *ScheduleDecider) Decide(req events.OracleRequest) flight.StatusCode {
	if time.Unix(req.Timestamp, 0).After(d.Now()) {
		return flight.StatusOnTime
	}
	d.mu.Lock()
	code := lateCodes[d.rng.Intn(len(lateCodes))]
	d.mu.Unlock()
	return code
}

// HTTPDecider queries an external flight status API and maps its response to
// a status code. Any failure falls back to the wrapped decider.
type HTTPDecider struct {
	URL      string
	Client   *http.Client
	Path     string
	Fallback StatusDecider
}

// Decide implements StatusDecider.
func (d *HTTPDecider) Decide(req events.OracleRequest) flight.StatusCode {
	client := d.Client
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	url := fmt.Sprintf("%s?airline=%s&flight=%s&timestamp=%d", d.URL, req.Airline, req.Flight, req.Timestamp)
	resp, err := client.Get(url)
	if err != nil {
		return d.Fallback.Decide(req)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil || resp.StatusCode != http.StatusOK {
		return d.Fallback.Decide(req)
	}

	path := d.Path
	if path == "" {
		path = "status"
	}
	code := flight.StatusCode(gjson.GetBytes(body, path).Uint())
	if !code.Valid() || code == flight.StatusUnknown {
		return d.Fallback.Decide(req)
	}
	return code
}

// AgentPool runs a set of simulated oracle agents inside the process. Each
// agent registers at startup, listens on the broadcast bus, and submits a
// response whenever its index set matches a request.
type AgentPool struct {
	svc     *Service
	decider StatusDecider
	count   int
	fee     uint64
	limiter *rate.Limiter
	log     *logger.Logger

	mu      sync.Mutex
	handled map[string]struct{}

	cancelSub func()
	stop      chan struct{}
	done      chan struct{}
}

var _ system.Service = (*AgentPool)(nil)

// NewAgentPool builds a pool of count agents that pay fee at registration.
// Submissions are rate limited so a burst of requests does not hammer the
// consensus engine.
func NewAgentPool(svc *Service, decider StatusDecider, count int, fee uint64, log *logger.Logger) *AgentPool {
	if log == nil {
		log = logger.NewDefault("oracle-agents")
	}
	if decider == nil {
		decider = NewScheduleDecider(time.Now().UnixNano())
	}
	return &AgentPool{
		svc:     svc,
		decider: decider,
		count:   count,
		fee:     fee,
		limiter: rate.NewLimiter(rate.Limit(200), 50),
		log:     log,
		handled: make(map[string]struct{}),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Name implements system.Service.
func (p *AgentPool) Name() string { return "oracle-agents" }

// Start registers the simulated oracles and begins consuming requests.
func (p *AgentPool) Start(ctx context.Context) error {
	for i := 0; i < p.count; i++ {
		addr := fmt.Sprintf("oracle-agent-%02d", i)
		if _, err := p.svc.RegisterOracle(ctx, addr, p.fee); err != nil {
			return fmt.Errorf("register agent %s: %w", addr, err)
		}
	}

	ch, cancel := p.svc.Bus().Subscribe()
	p.cancelSub = cancel

	go p.run(ch)
	p.log.WithField("agents", p.count).Info("oracle agent pool started")
	return nil
}

// Stop halts request consumption. Registered oracle identities remain on the
// ledger.
func (p *AgentPool) Stop(ctx context.Context) error {
	close(p.stop)
	if p.cancelSub != nil {
		p.cancelSub()
	}
	select {
	case <-p.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (p *AgentPool) run(ch <-chan events.OracleRequest) {
	defer close(p.done)
	for {
		select {
		case <-p.stop:
			return
		case req, ok := <-ch:
			if !ok {
				return
			}
			p.handle(req)
		}
	}
}

// handle dispatches one broadcast to every agent whose index set matches. The
// bus replays history on subscribe, so requests already answered by this pool
// are skipped.
func (p *AgentPool) handle(req events.OracleRequest) {
	p.mu.Lock()
	if _, seen := p.handled[req.FlightKey]; seen {
		p.mu.Unlock()
		return
	}
	p.handled[req.FlightKey] = struct{}{}
	p.mu.Unlock()

	ctx := context.Background()
	status := p.decider.Decide(req)

	for i := 0; i < p.count; i++ {
		addr := fmt.Sprintf("oracle-agent-%02d", i)
		indexes, err := p.svc.MyIndexes(ctx, addr)
		if err != nil {
			continue
		}
		match := false
		for _, idx := range indexes {
			if idx == req.Index {
				match = true
				break
			}
		}
		if !match {
			continue
		}

		if err := p.limiter.Wait(ctx); err != nil {
			return
		}
		finalized, _, err := p.svc.SubmitOracleResponse(ctx, req.Index, req.Airline, req.Flight, req.Timestamp, status, addr)
		if err != nil {
			p.log.WithError(err).
				WithField("agent", addr).
				WithField("flight", req.FlightKey).
				Debug("agent response rejected")
			continue
		}
		if finalized {
			p.log.WithField("flight", req.FlightKey).
				WithField("status", status.String()).
				Info("agent response finalized round")
			return
		}
	}
}
