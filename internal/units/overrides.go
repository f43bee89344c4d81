package units

import (
	"context"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// OverrideEntry declares that one From equals Factor To for a product.
type OverrideEntry struct {
	ProductID int64   `yaml:"product_id"`
	From      string  `yaml:"from"`
	To        string  `yaml:"to"`
	Factor    float64 `yaml:"factor"`
	Note      string  `yaml:"note,omitempty"`
}

type overrideFile struct {
	Overrides []OverrideEntry `yaml:"overrides"`
}

type overrideKey struct {
	productID int64
	from      string
	to        string
}

// StaticOverrides is an in-memory override table.
type StaticOverrides struct {
	entries map[overrideKey]decimal.Decimal
}

// NewStaticOverrides builds a table from entries. Entries with a non-positive
// factor are rejected.
func NewStaticOverrides(entries []OverrideEntry) (*StaticOverrides, error) {
	table := &StaticOverrides{entries: make(map[overrideKey]decimal.Decimal, len(entries))}
	for i, entry := range entries {
		if entry.ProductID <= 0 || entry.From == "" || entry.To == "" {
			return nil, fmt.Errorf("units: override %d: product_id, from and to required", i)
		}
		if entry.Factor <= 0 {
			return nil, fmt.Errorf("units: override %d: factor must be positive", i)
		}
		key := overrideKey{productID: entry.ProductID, from: Key(entry.From), to: Key(entry.To)}
		table.entries[key] = decimal.NewFromFloat(entry.Factor)
	}
	return table, nil
}

// LoadOverridesFile parses a YAML override file.
func LoadOverridesFile(path string) (*StaticOverrides, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("units: read overrides: %w", err)
	}
	var file overrideFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("units: parse overrides: %w", err)
	}
	return NewStaticOverrides(file.Overrides)
}

// LookupOverride implements OverrideSource.
func (s *StaticOverrides) LookupOverride(_ context.Context, productID int64, from, to string) (decimal.Decimal, bool, error) {
	if s == nil {
		return decimal.Zero, false, nil
	}
	factor, ok := s.entries[overrideKey{productID: productID, from: Key(from), to: Key(to)}]
	return factor, ok, nil
}

// Len reports the number of entries.
func (s *StaticOverrides) Len() int {
	if s == nil {
		return 0
	}
	return len(s.entries)
}

// ChainOverrides consults each source in order and returns the first hit.
type ChainOverrides []OverrideSource

// LookupOverride implements OverrideSource.
func (c ChainOverrides) LookupOverride(ctx context.Context, productID int64, from, to string) (decimal.Decimal, bool, error) {
	for _, source := range c {
		if source == nil {
			continue
		}
		factor, ok, err := source.LookupOverride(ctx, productID, from, to)
		if err != nil {
			return decimal.Zero, false, err
		}
		if ok {
			return factor, true, nil
		}
	}
	return decimal.Zero, false, nil
}
