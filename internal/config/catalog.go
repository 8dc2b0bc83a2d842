package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Catalog is the seed data loaded by the seed command.
type Catalog struct {
	Agencies       []AgencySeed        `yaml:"agencies"`
	OperationTypes []OperationTypeSeed `yaml:"operation_types"`
}

type AgencySeed struct {
	Code string `yaml:"code"`
	Name string `yaml:"name"`
	City string `yaml:"city"`
}

type OperationTypeSeed struct {
	Name           string          `yaml:"name"`
	Description    string          `yaml:"description"`
	ImpactsBalance *bool           `yaml:"impacts_balance"`
	Direction      string          `yaml:"direction"`
	RequiresAgency *bool           `yaml:"requires_agency"`
	RequiredFields []string        `yaml:"required_fields"`
	Commission     *CommissionSeed `yaml:"commission"`
}

// CommissionSeed mirrors a commission rule. Amounts are decimal strings.
type CommissionSeed struct {
	Kind        string `yaml:"kind"`
	Rate        string `yaml:"rate"`
	FixedAmount string `yaml:"fixed_amount"`
	Min         string `yaml:"min"`
	Max         string `yaml:"max"`
}

// LoadCatalog parses a YAML catalog file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog parses YAML catalog bytes and checks required fields.
func ParseCatalog(data []byte) (*Catalog, error) {
	var cat Catalog
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	for i, a := range cat.Agencies {
		if a.Code == "" || a.Name == "" {
			return nil, fmt.Errorf("agency %d: code and name are required", i)
		}
	}
	for i, t := range cat.OperationTypes {
		if t.Name == "" {
			return nil, fmt.Errorf("operation type %d: name is required", i)
		}
		if t.Commission != nil && t.Commission.Kind == "" {
			return nil, fmt.Errorf("operation type %s: commission kind is required", t.Name)
		}
	}
	return &cat, nil
}
