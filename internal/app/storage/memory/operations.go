package memory

import (
	"context"
	"time"

	"github.com/R3E-Network/agentbank/internal/app/domain/operation"
	"github.com/R3E-Network/agentbank/internal/app/storage"
)

func (t *tx) CreateOperation(_ context.Context, op operation.Operation) (operation.Operation, error) {
	defer t.lock()()
	st := t.st()
	if op.ID == "" {
		op.ID = newID()
	} else if _, exists := st.operations[op.ID]; exists {
		return operation.Operation{}, storage.ErrDuplicate
	}
	for _, existing := range st.operations {
		if existing.Reference == op.Reference {
			return operation.Operation{}, storage.ErrDuplicate
		}
	}
	st.operations[op.ID] = op
	st.opOrder = append(st.opOrder, op.ID)
	return op, nil
}

func (t *tx) GetOperation(_ context.Context, id string) (operation.Operation, error) {
	defer t.lock()()
	op, ok := t.st().operations[id]
	if !ok {
		return operation.Operation{}, storage.ErrNotFound
	}
	return op, nil
}

func (t *tx) LockOperation(ctx context.Context, id string) (operation.Operation, error) {
	return t.GetOperation(ctx, id)
}

func (t *tx) UpdateOperation(_ context.Context, op operation.Operation) (operation.Operation, error) {
	defer t.lock()()
	st := t.st()
	if _, ok := st.operations[op.ID]; !ok {
		return operation.Operation{}, storage.ErrNotFound
	}
	st.operations[op.ID] = op
	return op, nil
}

func (t *tx) ListOperations(_ context.Context, filter operation.Filter) ([]operation.Operation, error) {
	defer t.lock()()
	st := t.st()
	var out []operation.Operation
	for _, id := range st.opOrder {
		op := st.operations[id]
		if filter.InitiatorID != "" && op.InitiatorID != filter.InitiatorID {
			continue
		}
		if filter.AgencyID != "" && op.AgencyID != filter.AgencyID {
			continue
		}
		if filter.ValidatorID != "" && op.ValidatorID != filter.ValidatorID {
			continue
		}
		if filter.Status != "" && op.Status != filter.Status {
			continue
		}
		out = append(out, op)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

// oldestUnbound returns the id of the oldest unbound pending operation in
// scope. Ties on creation time keep insertion order.
func (st *state) oldestUnbound(agencyID string) (string, bool) {
	var (
		best  string
		found bool
	)
	for _, id := range st.opOrder {
		op := st.operations[id]
		if !op.Unbound() {
			continue
		}
		if agencyID != "" && op.AgencyID != agencyID {
			continue
		}
		if !found || op.CreatedAt.Before(st.operations[best].CreatedAt) {
			best, found = id, true
		}
	}
	return best, found
}

func bind(op operation.Operation, validatorID string, at time.Time) operation.Operation {
	op.Status = operation.StatusAssigned
	op.ValidatorID = validatorID
	assigned := at
	op.AssignedAt = &assigned
	op.UpdatedAt = at
	return op
}

func (t *tx) ClaimNextOperation(_ context.Context, req storage.ClaimRequest) (operation.Operation, error) {
	defer t.lock()()
	st := t.st()
	id, ok := st.oldestUnbound(req.AgencyID)
	if !ok {
		return operation.Operation{}, storage.ErrNotFound
	}
	op := bind(st.operations[id], req.ValidatorID, req.At)
	st.operations[id] = op
	return op, nil
}

func (t *tx) ClaimOperation(_ context.Context, id, validatorID string, at time.Time) (operation.Operation, error) {
	defer t.lock()()
	st := t.st()
	op, ok := st.operations[id]
	if !ok {
		return operation.Operation{}, storage.ErrNotFound
	}
	if !op.Unbound() {
		return operation.Operation{}, storage.ErrClaimLost
	}
	op = bind(op, validatorID, at)
	st.operations[id] = op
	return op, nil
}

func (t *tx) ReleaseOperation(_ context.Context, id, validatorID string, at time.Time) (operation.Operation, error) {
	defer t.lock()()
	st := t.st()
	op, ok := st.operations[id]
	if !ok {
		return operation.Operation{}, storage.ErrNotFound
	}
	if op.Status != operation.StatusAssigned || op.ValidatorID != validatorID {
		return operation.Operation{}, storage.ErrClaimLost
	}
	op.Status = operation.StatusPending
	op.ValidatorID = ""
	op.AssignedAt = nil
	op.UpdatedAt = at
	st.operations[id] = op
	return op, nil
}

func (t *tx) ListStaleAssignments(_ context.Context, assignedBefore time.Time) ([]operation.Operation, error) {
	defer t.lock()()
	st := t.st()
	var out []operation.Operation
	for _, id := range st.opOrder {
		op := st.operations[id]
		if op.Status == operation.StatusAssigned && op.AssignedAt != nil && op.AssignedAt.Before(assignedBefore) {
			out = append(out, op)
		}
	}
	return out, nil
}

func (t *tx) QueueStats(_ context.Context, scope storage.QueueScope) (operation.QueueStats, error) {
	defer t.lock()()
	var stats operation.QueueStats
	for _, op := range t.st().operations {
		if scope.AgencyID != "" && op.AgencyID != scope.AgencyID {
			continue
		}
		switch op.Status {
		case operation.StatusPending:
			stats.AllActive++
			if op.ValidatorID == "" {
				stats.Unassigned++
			}
			if !scope.UrgentBefore.IsZero() && op.CreatedAt.Before(scope.UrgentBefore) {
				stats.Urgent++
			}
		case operation.StatusAssigned:
			stats.AllActive++
			if scope.ValidatorID != "" && op.ValidatorID == scope.ValidatorID {
				stats.AssignedToMe++
			}
			if !scope.UrgentBefore.IsZero() && op.CreatedAt.Before(scope.UrgentBefore) {
				stats.Urgent++
			}
		}
	}
	return stats, nil
}
