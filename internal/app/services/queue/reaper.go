package queue

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/R3E-Network/agentbank/internal/app/metrics"
	"github.com/R3E-Network/agentbank/internal/app/system"
	"github.com/R3E-Network/agentbank/pkg/logger"
)

// DefaultReaperSchedule runs the reaper once a minute.
const DefaultReaperSchedule = "@every 1m"

// Reaper periodically releases claims held past the claim TTL.
type Reaper struct {
	coordinator *Coordinator
	schedule    string
	timeout     time.Duration
	log         *logger.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	cancel  context.CancelFunc
	running bool
}

var _ system.Service = (*Reaper)(nil)

// NewReaper builds a reaper for the cron schedule (standard five-field
// syntax or descriptors such as "@every 30s").
func NewReaper(coordinator *Coordinator, schedule string, log *logger.Logger) (*Reaper, error) {
	if log == nil {
		log = logger.NewDefault("queue-reaper")
	}
	if schedule == "" {
		schedule = DefaultReaperSchedule
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, err
	}
	return &Reaper{
		coordinator: coordinator,
		schedule:    schedule,
		timeout:     30 * time.Second,
		log:         log,
	}, nil
}

func (r *Reaper) Name() string { return "queue-reaper" }

func (r *Reaper) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(r.schedule, func() { r.RunOnce(runCtx) }); err != nil {
		cancel()
		return err
	}
	c.Start()
	r.cron = c
	r.cancel = cancel
	r.running = true
	r.log.WithField("schedule", r.schedule).Info("queue reaper started")
	return nil
}

func (r *Reaper) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	c, cancel := r.cron, r.cancel
	r.running = false
	r.cron = nil
	r.cancel = nil
	r.mu.Unlock()

	cancel()
	done := c.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	r.log.Info("queue reaper stopped")
	return nil
}

// RunOnce performs a single reaper pass.
func (r *Reaper) RunOnce(ctx context.Context) int {
	if ctx.Err() != nil {
		return 0
	}
	start := time.Now()
	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	released, err := r.coordinator.ReleaseStale(runCtx)
	metrics.ObserveReaper(time.Since(start))
	if err != nil {
		r.log.WithError(err).Warn("stale claim release failed")
	}
	if released > 0 {
		r.log.WithField("released", released).Info("stale claims returned to queue")
	}
	return released
}
