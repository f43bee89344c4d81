package pricing

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultFreshness is how long a last-invoice price counts as current.
const DefaultFreshness = 90 * 24 * time.Hour

// ResolveInput carries the per-call facts a rule can look at.
type ResolveInput struct {
	Card         ProductCard
	VariantPrice decimal.NullDecimal
	Now          time.Time
	Freshness    time.Duration
}

// Rule is one step of the resolution policy. Value returns a non-positive
// price when the rule does not apply.
type Rule struct {
	Name        string
	Source      Provenance
	Stale       bool
	Preferences []Preference
	Value       func(in ResolveInput) (decimal.Decimal, Provenance)
}

func (r Rule) allows(pref Preference) bool {
	for _, p := range r.Preferences {
		if p == pref {
			return true
		}
	}
	return false
}

// DefaultRules is the resolution order applied to every product.
var DefaultRules = []Rule{
	{
		Name:        "active",
		Preferences: []Preference{PreferenceAuto},
		Value: func(in ResolveInput) (decimal.Decimal, Provenance) {
			source := in.Card.ActiveSource
			if source == "" {
				source = SourceActive
			}
			return in.Card.ActivePrice, source
		},
	},
	{
		Name:        "invoice",
		Source:      SourceInvoice,
		Preferences: []Preference{PreferenceAuto, PreferenceInvoice},
		Value: func(in ResolveInput) (decimal.Decimal, Provenance) {
			if !invoiceFresh(in) {
				return decimal.Zero, SourceInvoice
			}
			return in.Card.LastInvoicePrice, SourceInvoice
		},
	},
	{
		Name:        "market",
		Source:      SourceMarket,
		Preferences: []Preference{PreferenceAuto, PreferenceMarket},
		Value: func(in ResolveInput) (decimal.Decimal, Provenance) {
			return in.Card.SummaryPrice, SourceMarket
		},
	},
	{
		Name:        "invoice_stale",
		Source:      SourceInvoiceStale,
		Stale:       true,
		Preferences: []Preference{PreferenceAuto, PreferenceInvoice},
		Value: func(in ResolveInput) (decimal.Decimal, Provenance) {
			if invoiceFresh(in) {
				return decimal.Zero, SourceInvoiceStale
			}
			return in.Card.LastInvoicePrice, SourceInvoiceStale
		},
	},
	{
		Name:        "manual",
		Source:      SourceManual,
		Preferences: []Preference{PreferenceAuto},
		Value: func(in ResolveInput) (decimal.Decimal, Provenance) {
			return in.Card.ManualPrice, SourceManual
		},
	},
	{
		Name:        "variant",
		Source:      SourceVariant,
		Preferences: []Preference{PreferenceAuto},
		Value: func(in ResolveInput) (decimal.Decimal, Provenance) {
			if !in.VariantPrice.Valid {
				return decimal.Zero, SourceVariant
			}
			return in.VariantPrice.Decimal, SourceVariant
		},
	},
}

// invoiceFresh reports whether the last-invoice date lies inside the window.
// Dates in the future count as fresh.
func invoiceFresh(in ResolveInput) bool {
	if in.Card.LastInvoiceDate == nil {
		return false
	}
	age := in.Now.Sub(*in.Card.LastInvoiceDate)
	if age <= 0 {
		return true
	}
	window := in.Freshness
	if window <= 0 {
		window = DefaultFreshness
	}
	days := int(age / (24 * time.Hour))
	return days <= int(window/(24*time.Hour))
}

// Resolver applies an ordered rule list. It is pure given its clock.
type Resolver struct {
	rules     []Rule
	freshness time.Duration
	clock     func() time.Time
}

// NewResolver builds a Resolver with DefaultRules. A zero freshness uses DefaultFreshness.
func NewResolver(freshness time.Duration, clock func() time.Time) *Resolver {
	return NewResolverWithRules(DefaultRules, freshness, clock)
}

// NewResolverWithRules builds a Resolver with a custom policy.
func NewResolverWithRules(rules []Rule, freshness time.Duration, clock func() time.Time) *Resolver {
	if freshness <= 0 {
		freshness = DefaultFreshness
	}
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &Resolver{rules: rules, freshness: freshness, clock: clock}
}

// Resolve runs the full policy.
func (r *Resolver) Resolve(card ProductCard, variantPrice decimal.NullDecimal) Resolution {
	return r.ResolveWithPreference(card, variantPrice, PreferenceAuto)
}

// ResolveWithPreference runs only the rules the preference allows. The first
// rule yielding a positive price wins.
func (r *Resolver) ResolveWithPreference(card ProductCard, variantPrice decimal.NullDecimal, pref Preference) Resolution {
	if pref == "" {
		pref = PreferenceAuto
	}
	in := ResolveInput{Card: card, VariantPrice: variantPrice, Now: r.clock(), Freshness: r.freshness}
	for _, rule := range r.rules {
		if !rule.allows(pref) {
			continue
		}
		price, source := rule.Value(in)
		if !price.IsPositive() {
			continue
		}
		res := Resolution{
			ProductID: card.ID,
			Price:     price,
			Source:    source,
			Unit:      card.PriceUnit,
			Stale:     rule.Stale,
		}
		switch source {
		case SourceInvoiceStale:
			res.Warning = fmt.Sprintf("invoice price older than %d days", int(r.freshness/(24*time.Hour)))
		case SourceManual:
			res.Warning = "manual price in use"
		case SourceVariant:
			res.Warning = "variant price in use"
		}
		return res
	}
	res := Resolution{ProductID: card.ID, Price: decimal.Zero, Source: SourceNone, Unit: card.PriceUnit, Unpriced: true}
	switch pref {
	case PreferenceInvoice:
		res.Warning = "no invoice price"
	case PreferenceMarket:
		res.Warning = "no market price"
	default:
		res.Warning = "no price available"
	}
	return res
}
