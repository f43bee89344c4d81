package units

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"
)

// Method records how a conversion factor was obtained.
type Method string

const (
	MethodIdentity Method = "identity"
	MethodOverride Method = "override"
	MethodClass    Method = "class"
	MethodBridge   Method = "bridge"
	MethodMismatch Method = "mismatch"
)

// Request describes one conversion. ProductName feeds the piece-weight and
// density tables.
type Request struct {
	ProductID   int64
	ProductName string
	From        string
	To          string
}

// Conversion is the multiplicative factor turning a quantity in From into To.
type Conversion struct {
	Factor   decimal.Decimal
	Method   Method
	Mismatch bool
}

// OverrideSource provides product specific conversion factors.
type OverrideSource interface {
	LookupOverride(ctx context.Context, productID int64, from, to string) (decimal.Decimal, bool, error)
}

// MismatchWarning is emitted when two units cannot be reconciled.
type MismatchWarning struct {
	ProductID   int64
	ProductName string
	From        string
	To          string
	Reason      string
}

// WarningSink receives conversion mismatch warnings. Implementations must not block.
type WarningSink interface {
	ConversionMismatch(ctx context.Context, warning MismatchWarning)
}

// Converter resolves conversion factors using overrides first, then the
// generic unit table.
type Converter struct {
	overrides OverrideSource
	warnings  WarningSink
	logger    *slog.Logger
}

// NewConverter constructs a Converter. Both overrides and warnings may be nil.
func NewConverter(overrides OverrideSource, warnings WarningSink, logger *slog.Logger) *Converter {
	return &Converter{overrides: overrides, warnings: warnings, logger: logger}
}

// Factor returns the factor that converts a quantity expressed in req.From
// into req.To. Unreconcilable units yield factor 1 with Mismatch set; the
// only error is context cancellation.
func (c *Converter) Factor(ctx context.Context, req Request) (Conversion, error) {
	if err := ctx.Err(); err != nil {
		return Conversion{}, err
	}
	fromKey, toKey := Key(req.From), Key(req.To)
	if fromKey == toKey && fromKey != "" {
		return Conversion{Factor: decimal.NewFromInt(1), Method: MethodIdentity}, nil
	}

	if factor, ok := c.override(ctx, req.ProductID, fromKey, toKey); ok {
		return Conversion{Factor: factor, Method: MethodOverride}, nil
	}

	fromDef, fromOK := lookup(fromKey)
	toDef, toOK := lookup(toKey)
	if !fromOK || !toOK {
		return c.mismatch(ctx, req, "unknown unit"), nil
	}
	if fromDef.class == toDef.class {
		return Conversion{Factor: fromDef.toBase.Div(toDef.toBase), Method: MethodClass}, nil
	}
	if bridge, ok := bridgeFactor(fromDef.class, toDef.class, req.ProductName); ok {
		factor := fromDef.toBase.Mul(bridge).Div(toDef.toBase)
		return Conversion{Factor: factor, Method: MethodBridge}, nil
	}
	return c.mismatch(ctx, req, "class mismatch: "+string(fromDef.class)+" to "+string(toDef.class)), nil
}

func (c *Converter) override(ctx context.Context, productID int64, from, to string) (decimal.Decimal, bool) {
	if c == nil || c.overrides == nil || productID == 0 {
		return decimal.Zero, false
	}
	factor, ok, err := c.overrides.LookupOverride(ctx, productID, from, to)
	if err != nil {
		c.log().Warn("unit override lookup failed", slog.Int64("product_id", productID), slog.Any("error", err))
		return decimal.Zero, false
	}
	if ok && factor.IsPositive() {
		return factor, true
	}
	factor, ok, err = c.overrides.LookupOverride(ctx, productID, to, from)
	if err != nil {
		c.log().Warn("unit override lookup failed", slog.Int64("product_id", productID), slog.Any("error", err))
		return decimal.Zero, false
	}
	if ok && factor.IsPositive() {
		return decimal.NewFromInt(1).Div(factor), true
	}
	return decimal.Zero, false
}

func (c *Converter) mismatch(ctx context.Context, req Request, reason string) Conversion {
	if c != nil && c.warnings != nil {
		c.warnings.ConversionMismatch(ctx, MismatchWarning{
			ProductID:   req.ProductID,
			ProductName: req.ProductName,
			From:        req.From,
			To:          req.To,
			Reason:      reason,
		})
	}
	return Conversion{Factor: decimal.NewFromInt(1), Method: MethodMismatch, Mismatch: true}
}

func (c *Converter) log() *slog.Logger {
	if c != nil && c.logger != nil {
		return c.logger
	}
	return slog.Default()
}
