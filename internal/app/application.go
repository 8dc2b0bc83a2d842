package app

import (
	"context"
	"fmt"
	"time"

	"github.com/R3E-Network/agentbank/internal/app/domain/commission"
	"github.com/R3E-Network/agentbank/internal/app/services/commissions"
	"github.com/R3E-Network/agentbank/internal/app/services/operations"
	"github.com/R3E-Network/agentbank/internal/app/services/provisioning"
	"github.com/R3E-Network/agentbank/internal/app/services/queue"
	"github.com/R3E-Network/agentbank/internal/app/services/tickets"
	"github.com/R3E-Network/agentbank/internal/app/storage"
	"github.com/R3E-Network/agentbank/internal/app/storage/memory"
	"github.com/R3E-Network/agentbank/internal/app/system"
	"github.com/R3E-Network/agentbank/pkg/logger"
)

// Options tunes the services. Zero values fall back to defaults.
type Options struct {
	Commission     commission.Policy
	Currency       string
	Queue          queue.Options
	ReaperSchedule string
	// StatsCache caches queue statistics; nil disables caching.
	StatsCache queue.StatsCache
	// BcryptCost overrides the password hashing cost.
	BcryptCost int
	// DisableReaper skips registering the stale claim reaper.
	DisableReaper bool
}

// Application ties domain services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	store   storage.Store
	log     *logger.Logger

	Provisioning *provisioning.Service
	Operations   *operations.Service
	Commissions  *commissions.Engine
	Queue        *queue.Coordinator
	Tickets      *tickets.Service
}

// New builds a fully initialised application. A nil store defaults to the
// in-memory implementation.
func New(store storage.Store, opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}
	if store == nil {
		log.Warn("no store configured; using in-memory storage")
		store = memory.New()
	}

	engine := commissions.New(store, opts.Commission, log.WithComponent("commissions"))
	ops := operations.New(store, engine, log.WithComponent("operations")).WithCurrency(opts.Currency)
	provision := provisioning.New(store, log.WithComponent("provisioning"))
	if opts.BcryptCost > 0 {
		provision.WithBcryptCost(opts.BcryptCost)
	}
	coordinator := queue.New(store, opts.Queue, log.WithComponent("queue"))
	if opts.StatsCache != nil {
		coordinator.WithCache(opts.StatsCache)
	}
	ticketSvc := tickets.New(store, ops, log.WithComponent("tickets")).WithPolicy(engine.Policy())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := ops.EnsureSystemTypes(ctx); err != nil {
		return nil, fmt.Errorf("ensure system operation types: %w", err)
	}

	manager := system.NewManager()
	if !opts.DisableReaper {
		reaper, err := queue.NewReaper(coordinator, opts.ReaperSchedule, log.WithComponent("queue-reaper"))
		if err != nil {
			return nil, fmt.Errorf("configure queue reaper: %w", err)
		}
		if err := manager.Register(reaper); err != nil {
			return nil, fmt.Errorf("register %s: %w", reaper.Name(), err)
		}
	}

	return &Application{
		manager:      manager,
		store:        store,
		log:          log,
		Provisioning: provision,
		Operations:   ops,
		Commissions:  engine,
		Queue:        coordinator,
		Tickets:      ticketSvc,
	}, nil
}

// Store exposes the underlying store.
func (a *Application) Store() storage.Store { return a.store }

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Services lists the registered background services.
func (a *Application) Services() []string {
	return a.manager.Services()
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
