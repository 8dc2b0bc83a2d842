// Package queue hands pending operations to validators. Binding uses the
// store's claim-if-unbound primitive so two validators never hold the same
// operation.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/R3E-Network/agentbank/internal/app/domain/identity"
	"github.com/R3E-Network/agentbank/internal/app/domain/operation"
	"github.com/R3E-Network/agentbank/internal/app/metrics"
	"github.com/R3E-Network/agentbank/internal/app/services/actors"
	"github.com/R3E-Network/agentbank/internal/app/storage"
	apperrors "github.com/R3E-Network/agentbank/internal/errors"
	"github.com/R3E-Network/agentbank/pkg/logger"
)

// ErrQueueEmpty is returned by Claim when nothing is claimable in scope.
var ErrQueueEmpty = errors.New("queue: no operation available")

// StatsCache stores computed queue statistics for a short time.
type StatsCache interface {
	Get(ctx context.Context, key string) (operation.QueueStats, bool, error)
	Set(ctx context.Context, key string, stats operation.QueueStats) error
}

// Options tunes the coordinator.
type Options struct {
	ClaimTTL    time.Duration
	UrgentAfter time.Duration
	MaxRetries  int
}

func (o Options) withDefaults() Options {
	if o.ClaimTTL <= 0 {
		o.ClaimTTL = 15 * time.Minute
	}
	if o.UrgentAfter <= 0 {
		o.UrgentAfter = 30 * time.Minute
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	return o
}

// Coordinator implements claim, release and queue statistics.
type Coordinator struct {
	store storage.Store
	opts  Options
	cache StatsCache
	log   *logger.Logger
	clock func() time.Time
}

// New constructs a coordinator.
func New(store storage.Store, opts Options, log *logger.Logger) *Coordinator {
	if log == nil {
		log = logger.NewDefault("queue")
	}
	return &Coordinator{
		store: store,
		opts:  opts.withDefaults(),
		log:   log,
		clock: func() time.Time { return time.Now().UTC() },
	}
}

// WithCache enables statistics caching.
func (c *Coordinator) WithCache(cache StatsCache) *Coordinator {
	c.cache = cache
	return c
}

// WithClock overrides the time source.
func (c *Coordinator) WithClock(clock func() time.Time) *Coordinator {
	c.clock = clock
	return c
}

// Options returns the effective options.
func (c *Coordinator) Options() Options { return c.opts }

// scope returns the agency a validator may claim from; empty means all.
func scope(validator identity.User) (string, error) {
	if !validator.Role.CanValidate() {
		return "", apperrors.Forbidden("role %s cannot validate operations", validator.Role)
	}
	if validator.Role.IsAdministrator() {
		return "", nil
	}
	if validator.AgencyID == "" {
		return "", apperrors.Forbidden("validator %s has no agency", validator.Identifier)
	}
	return validator.AgencyID, nil
}

// Claim binds the oldest unbound pending operation in the validator's
// scope. A lost race retries against the next candidate; ErrQueueEmpty is
// returned when none remains.
func (c *Coordinator) Claim(ctx context.Context, validatorID string) (operation.Operation, error) {
	validator, err := actors.Active(ctx, c.store, validatorID)
	if err != nil {
		return operation.Operation{}, err
	}
	agencyID, err := scope(validator)
	if err != nil {
		return operation.Operation{}, err
	}

	for attempt := 0; attempt < c.opts.MaxRetries; attempt++ {
		var claimed operation.Operation
		err := c.store.Atomic(ctx, func(tx storage.Tx) error {
			var err error
			claimed, err = tx.ClaimNextOperation(ctx, storage.ClaimRequest{
				ValidatorID: validator.ID,
				AgencyID:    agencyID,
				At:          c.clock(),
			})
			return err
		})
		switch {
		case err == nil:
			metrics.RecordClaim("claimed")
			c.log.WithContext(ctx).WithFields(map[string]any{
				"operation_id": claimed.ID,
				"validator_id": validator.ID,
				"attempt":      attempt + 1,
			}).Info("operation claimed")
			return claimed, nil
		case errors.Is(err, storage.ErrNotFound):
			metrics.RecordClaim("empty")
			return operation.Operation{}, ErrQueueEmpty
		case errors.Is(err, storage.ErrClaimLost):
			metrics.RecordClaim("lost")
			continue
		default:
			metrics.RecordClaim("error")
			return operation.Operation{}, storage.Classify(err, "operation", "queue")
		}
	}
	c.log.WithContext(ctx).WithField("validator_id", validator.ID).Warn("claim retries exhausted")
	return operation.Operation{}, ErrQueueEmpty
}

// ClaimOperation binds a specific operation. Claiming an operation already
// bound to the same validator is a no-op.
func (c *Coordinator) ClaimOperation(ctx context.Context, operationID, validatorID string) (operation.Operation, error) {
	var claimed operation.Operation
	err := c.store.Atomic(ctx, func(tx storage.Tx) error {
		validator, err := actors.Active(ctx, tx, validatorID)
		if err != nil {
			return err
		}
		agencyID, err := scope(validator)
		if err != nil {
			return err
		}
		op, err := tx.GetOperation(ctx, operationID)
		if err != nil {
			return storage.Classify(err, "operation", operationID)
		}
		if agencyID != "" && op.AgencyID != agencyID {
			return apperrors.Forbidden("operation %s is outside the agency of %s", op.Reference, validator.Identifier)
		}
		if op.Status == operation.StatusAssigned && op.ValidatorID == validator.ID {
			claimed = op
			return nil
		}
		if !op.Unbound() {
			return apperrors.Conflict("operation %s is %s", op.Reference, describe(op))
		}
		claimed, err = tx.ClaimOperation(ctx, op.ID, validator.ID, c.clock())
		if errors.Is(err, storage.ErrClaimLost) {
			return apperrors.Conflict("operation %s was claimed by another validator", op.Reference)
		}
		return storage.Classify(err, "operation", op.ID)
	})
	if err != nil {
		metrics.RecordClaim("error")
		return operation.Operation{}, err
	}
	metrics.RecordClaim("claimed")
	c.log.WithContext(ctx).WithField("operation_id", claimed.ID).WithField("validator_id", validatorID).Info("operation claimed by id")
	return claimed, nil
}

func describe(op operation.Operation) string {
	if op.Status == operation.StatusAssigned {
		return "already assigned"
	}
	return fmt.Sprintf("already %s", op.Status)
}

// Release returns an assigned operation to the queue. Only the bound
// validator may release it.
func (c *Coordinator) Release(ctx context.Context, operationID, validatorID string) (operation.Operation, error) {
	var released operation.Operation
	err := c.store.Atomic(ctx, func(tx storage.Tx) error {
		op, err := tx.LockOperation(ctx, operationID)
		if err != nil {
			return storage.Classify(err, "operation", operationID)
		}
		if op.Status != operation.StatusAssigned {
			return apperrors.Conflict("operation %s is not assigned", op.Reference)
		}
		if op.ValidatorID != validatorID {
			return apperrors.Forbidden("operation %s is bound to another validator", op.Reference)
		}
		released, err = tx.ReleaseOperation(ctx, op.ID, validatorID, c.clock())
		if errors.Is(err, storage.ErrClaimLost) {
			return apperrors.Conflict("operation %s is no longer bound to %s", op.Reference, validatorID)
		}
		return storage.Classify(err, "operation", op.ID)
	})
	if err != nil {
		return operation.Operation{}, err
	}
	metrics.RecordRelease("explicit", 1)
	c.log.WithContext(ctx).WithField("operation_id", released.ID).WithField("validator_id", validatorID).Info("operation released")
	return released, nil
}

// ReleaseStale returns operations held longer than the claim TTL to the
// queue and reports how many were released.
func (c *Coordinator) ReleaseStale(ctx context.Context) (int, error) {
	cutoff := c.clock().Add(-c.opts.ClaimTTL)
	stale, err := c.store.ListStaleAssignments(ctx, cutoff)
	if err != nil {
		return 0, storage.Classify(err, "operation", "stale")
	}
	released := 0
	for _, op := range stale {
		err := c.store.Atomic(ctx, func(tx storage.Tx) error {
			_, err := tx.ReleaseOperation(ctx, op.ID, op.ValidatorID, c.clock())
			return err
		})
		switch {
		case err == nil:
			released++
			c.log.WithFields(map[string]any{
				"operation_id": op.ID,
				"validator_id": op.ValidatorID,
			}).Info("stale claim released")
		case errors.Is(err, storage.ErrClaimLost), errors.Is(err, storage.ErrNotFound):
			// settled or released since listing
		default:
			return released, storage.Classify(err, "operation", op.ID)
		}
	}
	metrics.RecordRelease("timeout", released)
	return released, nil
}

// Pending lists unbound pending operations in the validator's scope,
// oldest first.
func (c *Coordinator) Pending(ctx context.Context, validatorID string, limit int) ([]operation.Operation, error) {
	validator, err := actors.Active(ctx, c.store, validatorID)
	if err != nil {
		return nil, err
	}
	agencyID, err := scope(validator)
	if err != nil {
		return nil, err
	}
	ops, err := c.store.ListOperations(ctx, operation.Filter{AgencyID: agencyID, Status: operation.StatusPending})
	if err != nil {
		return nil, storage.Classify(err, "operation", "queue")
	}
	out := ops[:0]
	for _, op := range ops {
		if op.Unbound() {
			out = append(out, op)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Stats reports queue counters for the validator's scope.
func (c *Coordinator) Stats(ctx context.Context, validatorID string) (operation.QueueStats, error) {
	validator, err := actors.Active(ctx, c.store, validatorID)
	if err != nil {
		return operation.QueueStats{}, err
	}
	agencyID, err := scope(validator)
	if err != nil {
		return operation.QueueStats{}, err
	}

	key := fmt.Sprintf("queue:stats:%s:%s", agencyOrAll(agencyID), validator.ID)
	if c.cache != nil {
		stats, ok, err := c.cache.Get(ctx, key)
		if err != nil {
			c.log.WithError(err).Warn("queue stats cache read failed")
		} else if ok {
			return stats, nil
		}
	}

	stats, err := c.store.QueueStats(ctx, storage.QueueScope{
		ValidatorID:  validator.ID,
		AgencyID:     agencyID,
		UrgentBefore: c.clock().Add(-c.opts.UrgentAfter),
	})
	if err != nil {
		return operation.QueueStats{}, storage.Classify(err, "queue", "stats")
	}
	if c.cache != nil {
		if err := c.cache.Set(ctx, key, stats); err != nil {
			c.log.WithError(err).Warn("queue stats cache write failed")
		}
	}
	return stats, nil
}

func agencyOrAll(agencyID string) string {
	if agencyID == "" {
		return "all"
	}
	return agencyID
}
