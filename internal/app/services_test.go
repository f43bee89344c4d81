package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aydarnuman/catering-pro-sub001/internal/units"
)

func TestNewServicesRequiresConfig(t *testing.T) {
	_, err := NewServices(ServicesParams{})
	require.Error(t, err)
}

func TestNewServicesLoadsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "units.yml")
	require.NoError(t, os.WriteFile(path, []byte(`overrides:
  - product_id: 12
    from: adet
    to: kg
    factor: 0.25
    note: bir demet maydanoz
`), 0o600))

	cfg, err := LoadConfig()
	require.NoError(t, err)
	cfg.UnitOverridesFile = path

	services, err := NewServices(ServicesParams{Config: cfg})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, services.Close(context.Background())) })
	require.NotNil(t, services.Pricing)
	require.NotNil(t, services.Costing)

	conv, err := services.Converter.Factor(context.Background(), units.Request{ProductID: 12, From: "adet", To: "kg"})
	require.NoError(t, err)
	require.Equal(t, units.MethodOverride, conv.Method)
	require.Equal(t, "0.25", conv.Factor.String())
}

func TestNewServicesRejectsBadOverrideFile(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)
	cfg.UnitOverridesFile = filepath.Join(t.TempDir(), "missing.yml")

	_, err = NewServices(ServicesParams{Config: cfg})
	require.Error(t, err)
}
