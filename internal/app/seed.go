package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/R3E-Network/agentbank/internal/app/domain/commission"
	"github.com/R3E-Network/agentbank/internal/app/domain/operation"
	"github.com/R3E-Network/agentbank/internal/app/services/commissions"
	"github.com/R3E-Network/agentbank/internal/app/services/operations"
	"github.com/R3E-Network/agentbank/internal/app/services/provisioning"
	"github.com/R3E-Network/agentbank/internal/app/storage"
	"github.com/R3E-Network/agentbank/internal/config"
	apperrors "github.com/R3E-Network/agentbank/internal/errors"
)

// SeedResult counts what a catalog seed created.
type SeedResult struct {
	Agencies       int
	OperationTypes int
	Rules          int
	Skipped        int
}

// Seed loads a catalog on behalf of an administrator identified by
// actorIdentifier. Agencies and operation types that already exist are
// skipped, so seeding twice is harmless.
func (a *Application) Seed(ctx context.Context, actorIdentifier string, cat *config.Catalog) (SeedResult, error) {
	var res SeedResult
	if cat == nil {
		return res, nil
	}
	actor, err := a.store.GetUserByIdentifier(ctx, strings.ToLower(strings.TrimSpace(actorIdentifier)))
	if err != nil {
		return res, storage.Classify(err, "user", actorIdentifier)
	}

	for _, seed := range cat.Agencies {
		_, err := a.Provisioning.CreateAgency(ctx, actor.ID, provisioning.AgencySpec{Code: seed.Code, Name: seed.Name, City: seed.City})
		switch {
		case apperrors.IsKind(err, apperrors.KindConflict):
			res.Skipped++
		case err != nil:
			return res, fmt.Errorf("seed agency %s: %w", seed.Code, err)
		default:
			res.Agencies++
		}
	}

	for _, seed := range cat.OperationTypes {
		spec := operations.TypeSpec{
			Name:           seed.Name,
			Description:    seed.Description,
			ImpactsBalance: boolOr(seed.ImpactsBalance, true),
			Direction:      operation.Direction(strings.ToLower(seed.Direction)),
			RequiresAgency: boolOr(seed.RequiresAgency, true),
			RequiredFields: seed.RequiredFields,
		}
		typ, err := a.Operations.CreateType(ctx, actor.ID, spec)
		switch {
		case apperrors.IsKind(err, apperrors.KindConflict):
			res.Skipped++
			continue
		case err != nil:
			return res, fmt.Errorf("seed operation type %s: %w", seed.Name, err)
		}
		res.OperationTypes++

		if seed.Commission == nil {
			continue
		}
		rule, err := ruleSpec(typ.ID, *seed.Commission)
		if err != nil {
			return res, fmt.Errorf("seed commission for %s: %w", seed.Name, err)
		}
		if _, err := a.Commissions.SetRule(ctx, actor.ID, rule); err != nil {
			return res, fmt.Errorf("seed commission for %s: %w", seed.Name, err)
		}
		res.Rules++
	}

	a.log.WithFields(map[string]any{
		"agencies":        res.Agencies,
		"operation_types": res.OperationTypes,
		"rules":           res.Rules,
		"skipped":         res.Skipped,
	}).Info("catalog seeded")
	return res, nil
}

func ruleSpec(typeID string, seed config.CommissionSeed) (commissions.RuleSpec, error) {
	spec := commissions.RuleSpec{OperationTypeID: typeID, Kind: commission.Kind(strings.ToLower(seed.Kind))}
	var err error
	if spec.Rate, err = decimalOrZero(seed.Rate); err != nil {
		return spec, err
	}
	if spec.FixedAmount, err = decimalOrZero(seed.FixedAmount); err != nil {
		return spec, err
	}
	if spec.Min, err = nullDecimal(seed.Min); err != nil {
		return spec, err
	}
	if spec.Max, err = nullDecimal(seed.Max); err != nil {
		return spec, err
	}
	return spec, nil
}

func decimalOrZero(s string) (decimal.Decimal, error) {
	if strings.TrimSpace(s) == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(strings.TrimSpace(s))
}

func nullDecimal(s string) (decimal.NullDecimal, error) {
	if strings.TrimSpace(s) == "" {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(d), nil
}

func boolOr(v *bool, fallback bool) bool {
	if v == nil {
		return fallback
	}
	return *v
}
