package pricing

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2025, 3, 15, 9, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func daysAgo(n int) *time.Time {
	t := fixedNow.AddDate(0, 0, -n)
	return &t
}

func TestResolvePriorityOrder(t *testing.T) {
	r := NewResolver(0, fixedClock)
	none := decimal.NullDecimal{}
	variant := decimal.NullDecimal{Decimal: d("42"), Valid: true}

	cases := []struct {
		name    string
		card    ProductCard
		variant decimal.NullDecimal
		price   string
		source  Provenance
		stale   bool
	}{
		{
			name:   "pinned active price wins with stored provenance",
			card:   ProductCard{ActivePrice: d("80"), ActiveSource: SourceManual, LastInvoicePrice: d("50"), LastInvoiceDate: daysAgo(10), SummaryPrice: d("60")},
			price:  "80",
			source: SourceManual,
		},
		{
			name:   "pinned active price without provenance",
			card:   ProductCard{ActivePrice: d("80")},
			price:  "80",
			source: SourceActive,
		},
		{
			name:   "fresh invoice beats market",
			card:   ProductCard{LastInvoicePrice: d("50"), LastInvoiceDate: daysAgo(10), SummaryPrice: d("60")},
			price:  "50",
			source: SourceInvoice,
		},
		{
			name:   "zero active price is absent",
			card:   ProductCard{ActivePrice: decimal.Zero, LastInvoicePrice: d("50"), LastInvoiceDate: daysAgo(10)},
			price:  "50",
			source: SourceInvoice,
		},
		{
			name:   "invoice exactly at the window edge is fresh",
			card:   ProductCard{LastInvoicePrice: d("50"), LastInvoiceDate: daysAgo(90), SummaryPrice: d("60")},
			price:  "50",
			source: SourceInvoice,
		},
		{
			name:   "future invoice date is fresh",
			card:   ProductCard{LastInvoicePrice: d("50"), LastInvoiceDate: daysAgo(-5), SummaryPrice: d("60")},
			price:  "50",
			source: SourceInvoice,
		},
		{
			name:   "stale invoice loses to market",
			card:   ProductCard{LastInvoicePrice: d("50"), LastInvoiceDate: daysAgo(120), SummaryPrice: d("60")},
			price:  "60",
			source: SourceMarket,
		},
		{
			name:   "stale invoice beats manual",
			card:   ProductCard{LastInvoicePrice: d("50"), LastInvoiceDate: daysAgo(120), ManualPrice: d("70")},
			price:  "50",
			source: SourceInvoiceStale,
			stale:  true,
		},
		{
			name:   "invoice without date is stale",
			card:   ProductCard{LastInvoicePrice: d("50"), ManualPrice: d("70")},
			price:  "50",
			source: SourceInvoiceStale,
			stale:  true,
		},
		{
			name:    "manual beats variant",
			card:    ProductCard{ManualPrice: d("70")},
			variant: variant,
			price:   "70",
			source:  SourceManual,
		},
		{
			name:    "variant fallback",
			card:    ProductCard{},
			variant: variant,
			price:   "42",
			source:  SourceVariant,
		},
		{
			name:    "nothing priced",
			card:    ProductCard{},
			variant: none,
			price:   "0",
			source:  SourceNone,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := r.Resolve(tc.card, tc.variant)
			require.True(t, res.Price.Equal(d(tc.price)), "price %s", res.Price)
			require.Equal(t, tc.source, res.Source)
			require.Equal(t, tc.stale, res.Stale)
			require.Equal(t, tc.source == SourceNone, res.Unpriced)
		})
	}
}

func TestResolveIsDeterministic(t *testing.T) {
	r := NewResolver(0, fixedClock)
	card := ProductCard{ID: 3, LastInvoicePrice: d("50"), LastInvoiceDate: daysAgo(30), SummaryPrice: d("55"), ManualPrice: d("10")}
	first := r.Resolve(card, decimal.NullDecimal{})
	for i := 0; i < 5; i++ {
		require.Equal(t, first, r.Resolve(card, decimal.NullDecimal{}))
	}
}

func TestResolveWithPreference(t *testing.T) {
	r := NewResolver(0, fixedClock)
	card := ProductCard{ActivePrice: d("99"), LastInvoicePrice: d("50"), LastInvoiceDate: daysAgo(200), SummaryPrice: d("60")}

	res := r.ResolveWithPreference(card, decimal.NullDecimal{}, PreferenceInvoice)
	require.True(t, res.Price.Equal(d("50")))
	require.Equal(t, SourceInvoiceStale, res.Source)
	require.NotEmpty(t, res.Warning)

	res = r.ResolveWithPreference(card, decimal.NullDecimal{}, PreferenceMarket)
	require.True(t, res.Price.Equal(d("60")))
	require.Equal(t, SourceMarket, res.Source)

	res = r.ResolveWithPreference(ProductCard{ActivePrice: d("99")}, decimal.NullDecimal{}, PreferenceMarket)
	require.True(t, res.Unpriced)
	require.Equal(t, "no market price", res.Warning)
}

func TestCustomFreshnessWindow(t *testing.T) {
	r := NewResolver(30*24*time.Hour, fixedClock)
	res := r.Resolve(ProductCard{LastInvoicePrice: d("50"), LastInvoiceDate: daysAgo(45), SummaryPrice: d("60")}, decimal.NullDecimal{})
	require.Equal(t, SourceMarket, res.Source)
}

func TestParsePreference(t *testing.T) {
	require.Equal(t, PreferenceInvoice, ParsePreference("fatura"))
	require.Equal(t, PreferenceMarket, ParsePreference("piyasa"))
	require.Equal(t, PreferenceMarket, ParsePreference("market"))
	require.Equal(t, PreferenceAuto, ParsePreference(""))
	require.Equal(t, PreferenceAuto, ParsePreference("whatever"))
}
