package memory

import (
	"context"
	"sort"

	"github.com/R3E-Network/agentbank/internal/app/domain/commission"
	"github.com/R3E-Network/agentbank/internal/app/domain/operation"
	"github.com/R3E-Network/agentbank/internal/app/storage"
)

func (t *tx) CreateOperationType(_ context.Context, typ operation.Type) (operation.Type, error) {
	defer t.lock()()
	st := t.st()
	if typ.ID == "" {
		typ.ID = newID()
	} else if _, exists := st.types[typ.ID]; exists {
		return operation.Type{}, storage.ErrDuplicate
	}
	if _, taken := st.typeByName[typ.Name]; taken {
		return operation.Type{}, storage.ErrDuplicate
	}
	st.types[typ.ID] = typ
	st.typeByName[typ.Name] = typ.ID
	return typ, nil
}

func (t *tx) GetOperationType(_ context.Context, id string) (operation.Type, error) {
	defer t.lock()()
	typ, ok := t.st().types[id]
	if !ok {
		return operation.Type{}, storage.ErrNotFound
	}
	return typ, nil
}

func (t *tx) GetOperationTypeByName(_ context.Context, name string) (operation.Type, error) {
	defer t.lock()()
	st := t.st()
	id, ok := st.typeByName[name]
	if !ok {
		return operation.Type{}, storage.ErrNotFound
	}
	return st.types[id], nil
}

func (t *tx) ListOperationTypes(_ context.Context) ([]operation.Type, error) {
	defer t.lock()()
	out := make([]operation.Type, 0, len(t.st().types))
	for _, typ := range t.st().types {
		out = append(out, typ)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (t *tx) CreateCommissionRule(_ context.Context, rule commission.Rule) (commission.Rule, error) {
	defer t.lock()()
	st := t.st()
	if _, ok := st.types[rule.OperationTypeID]; !ok {
		return commission.Rule{}, storage.ErrNotFound
	}
	if rule.ID == "" {
		rule.ID = newID()
	}
	if rule.Active {
		for _, existing := range st.rules {
			if existing.OperationTypeID == rule.OperationTypeID && existing.Active {
				return commission.Rule{}, storage.ErrDuplicate
			}
		}
	}
	st.rules[rule.ID] = rule
	st.ruleOrder = append(st.ruleOrder, rule.ID)
	return rule, nil
}

func (t *tx) DeactivateCommissionRules(_ context.Context, operationTypeID string) (int, error) {
	defer t.lock()()
	st := t.st()
	n := 0
	for id, rule := range st.rules {
		if rule.OperationTypeID == operationTypeID && rule.Active {
			rule.Active = false
			st.rules[id] = rule
			n++
		}
	}
	return n, nil
}

func (t *tx) GetActiveCommissionRule(_ context.Context, operationTypeID string) (commission.Rule, error) {
	defer t.lock()()
	for _, rule := range t.st().rules {
		if rule.OperationTypeID == operationTypeID && rule.Active {
			return rule, nil
		}
	}
	return commission.Rule{}, storage.ErrNotFound
}

func (t *tx) ListCommissionRules(_ context.Context, operationTypeID string) ([]commission.Rule, error) {
	defer t.lock()()
	st := t.st()
	var out []commission.Rule
	for _, id := range st.ruleOrder {
		rule := st.rules[id]
		if operationTypeID == "" || rule.OperationTypeID == operationTypeID {
			out = append(out, rule)
		}
	}
	return out, nil
}
