package app

import (
	"context"
	"fmt"

	"github.com/SuretyLabs/surety_layer/internal/app/domain/airline"
	"github.com/SuretyLabs/surety_layer/internal/app/events"
	"github.com/SuretyLabs/surety_layer/internal/app/services/governance"
	"github.com/SuretyLabs/surety_layer/internal/app/services/insurance"
	"github.com/SuretyLabs/surety_layer/internal/app/services/operations"
	"github.com/SuretyLabs/surety_layer/internal/app/services/oracles"
	"github.com/SuretyLabs/surety_layer/internal/app/storage"
	"github.com/SuretyLabs/surety_layer/internal/app/storage/memory"
	"github.com/SuretyLabs/surety_layer/internal/app/system"
	"github.com/SuretyLabs/surety_layer/internal/config"
	"github.com/SuretyLabs/surety_layer/pkg/logger"
)

// Stores bundles the persistence interfaces the engines depend on. Any nil
// field falls back to a shared in-memory store.
type Stores struct {
	Control  storage.ControlStore
	Airlines storage.AirlineStore
	Flights  storage.FlightStore
	Policies storage.PolicyStore
	Oracles  storage.OracleStore
}

func (s Stores) withDefaults() Stores {
	var shared *memory.Store
	mem := func() *memory.Store {
		if shared == nil {
			shared = memory.New()
		}
		return shared
	}
	if s.Control == nil {
		s.Control = mem()
	}
	if s.Airlines == nil {
		s.Airlines = mem()
	}
	if s.Flights == nil {
		s.Flights = mem()
	}
	if s.Policies == nil {
		s.Policies = mem()
	}
	if s.Oracles == nil {
		s.Oracles = mem()
	}
	return s
}

// Application wires the protocol engines together over a shared store set.
type Application struct {
	Operations *operations.Service
	Governance *governance.Service
	Insurance  *insurance.Service
	Oracles    *oracles.Service
	Bus        *events.Bus

	cfg     config.ProtocolConfig
	manager *system.Manager
	log     *logger.Logger
}

// New builds the application from configuration and stores. The contract
// owner is seeded as the genesis airline: registered at deployment, funded by
// its own first contribution.
func New(cfg config.ProtocolConfig, stores Stores, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}
	stores = stores.withDefaults()
	bus := events.NewBus()

	ops := operations.New(stores.Control, cfg.Owner, log.WithField("component", "operations"))
	gov := governance.New(ops, stores.Airlines, stores.Flights, cfg.FundingThreshold, log.WithField("component", "governance"))
	ins := insurance.New(ops, stores.Policies, stores.Flights, cfg.MaxPremium, log.WithField("component", "insurance"))
	orc := oracles.New(ops, stores.Oracles, stores.Flights, ins, bus, cfg.RegistrationFee, cfg.MinResponses, log.WithField("component", "oracles"))

	if err := seedGenesis(context.Background(), stores.Airlines, cfg.Owner); err != nil {
		return nil, err
	}

	return &Application{
		Operations: ops,
		Governance: gov,
		Insurance:  ins,
		Oracles:    orc,
		Bus:        bus,
		cfg:        cfg,
		manager:    system.NewManager(),
		log:        log,
	}, nil
}

// seedGenesis registers the owner as the first airline if no airlines exist
// yet. It stays unfunded until it contributes like everyone else.
func seedGenesis(ctx context.Context, store storage.AirlineStore, owner string) error {
	airlines, err := store.ListAirlines(ctx)
	if err != nil {
		return fmt.Errorf("list airlines: %w", err)
	}
	if len(airlines) > 0 {
		return nil
	}
	if _, err := store.CreateAirline(ctx, airline.Airline{Address: owner, Registered: true}); err != nil {
		return fmt.Errorf("seed genesis airline: %w", err)
	}
	return nil
}

// Config returns the protocol parameters the application was built with.
func (a *Application) Config() config.ProtocolConfig { return a.cfg }

// Attach registers a lifecycle-managed component with the application.
func (a *Application) Attach(svc system.Service) error {
	return a.manager.Register(svc)
}

// Start starts all attached components.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all attached components in reverse order.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
