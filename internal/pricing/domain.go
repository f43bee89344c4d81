package pricing

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Provenance tags where a resolved price came from.
type Provenance string

const (
	// SourceActive is used for a pinned active price stored without provenance.
	SourceActive Provenance = "AKTIF"
	// SourceInvoice is a last-invoice price inside the freshness window.
	SourceInvoice Provenance = "FATURA"
	// SourceMarket is the market summary price.
	SourceMarket Provenance = "PIYASA"
	// SourceInvoiceStale is a last-invoice price older than the freshness window.
	SourceInvoiceStale Provenance = "FATURA_ESKI"
	// SourceManual is an operator entered price.
	SourceManual Provenance = "MANUEL"
	// SourceVariant is the cheapest price among the product's variants.
	SourceVariant Provenance = "VARYANT"
	// SourceNone marks an unpriced product.
	SourceNone Provenance = "yok"
)

// Preference restricts which price sources an ingredient may use.
type Preference string

const (
	PreferenceAuto    Preference = "auto"
	PreferenceInvoice Preference = "invoice"
	PreferenceMarket  Preference = "market"
)

// ParsePreference maps stored values, including the legacy Turkish spellings,
// to a Preference. Unknown values fall back to auto.
func ParsePreference(raw string) Preference {
	switch raw {
	case "invoice", "fatura":
		return PreferenceInvoice
	case "market", "piyasa":
		return PreferenceMarket
	default:
		return PreferenceAuto
	}
}

// Unit types accepted on price observations.
const (
	UnitKilogram = "kg"
	UnitLitre    = "L"
	UnitPiece    = "adet"
)

// Sentinel errors.
var (
	ErrProductNotFound = errors.New("pricing: product not found")
	ErrVariantCycle    = errors.New("pricing: product cannot be its own variant")
	ErrInvalidBatch    = errors.New("pricing: invalid observation batch")
)

// ProductCard is the canonical product record prices are resolved for.
// Zero decimals mean the value is absent.
type ProductCard struct {
	ID                int64
	Name              string
	DefaultUnit       string
	ParentID          *int64
	ManualPrice       decimal.Decimal
	LastInvoicePrice  decimal.Decimal
	LastInvoiceDate   *time.Time
	ActivePrice       decimal.Decimal
	ActiveSource      Provenance
	PriceUnit         string
	SummaryPrice      decimal.Decimal
	SummaryConfidence float64
	Active            bool
	UpdatedAt         time.Time
}

// IsVariant reports whether the card hangs below a parent product.
func (c ProductCard) IsVariant() bool {
	return c.ParentID != nil
}

// Observation is one price point collected from an invoice or a market scrape.
type Observation struct {
	ID           int64
	ProductID    *int64
	StockItemID  *int64
	ProductName  string
	Source       string
	Brand        string
	PackagePrice decimal.Decimal
	UnitPrice    decimal.Decimal
	UnitType     string
	PackageSize  *decimal.Decimal
	Metadata     map[string]any
	ObservedAt   time.Time
	MatchScore   *float64
	SearchTerm   string
}

// Summary is the statistical digest of recent observations for one product.
type Summary struct {
	ProductID       int64
	EconomicalPrice decimal.Decimal
	UnitType        string
	Confidence      float64
	SampleCount     int
	RetainedCount   int
	MinPrice        decimal.Decimal
	MaxPrice        decimal.Decimal
	MedianPrice     decimal.Decimal
	RefreshedAt     time.Time
}

// Resolution is the outcome of resolving one product's price.
type Resolution struct {
	ProductID int64
	Price     decimal.Decimal
	Source    Provenance
	Unit      string
	Stale     bool
	Unpriced  bool
	Warning   string
}

// ObservationInput is one raw price point submitted for ingestion.
type ObservationInput struct {
	ProductName  string
	Source       string
	Brand        string
	PackagePrice decimal.Decimal
	UnitPrice    decimal.Decimal
	UnitType     string
	PackageSize  *decimal.Decimal
	Barcode      string
	MatchScore   *float64
	SearchTerm   string
}

// ObservationBatch groups observations of one product. Rows already recorded
// for the product today are replaced unless KeepToday is set.
type ObservationBatch struct {
	ProductID    *int64
	StockItemID  *int64
	ProductName  string
	SourceKind   string
	SearchTerm   string
	KeepToday    bool
	MaxRecords   int
	Observations []ObservationInput
}

// BatchOutcome reports what ingestion did with a batch.
type BatchOutcome struct {
	Saved   int
	Skipped int
	Refresh *RefreshResult
}

// RefreshResult describes a summary refresh.
type RefreshResult struct {
	ProductID     int64
	Written       bool
	Summary       Summary
	ParentID      *int64
	ParentWritten bool
}

// SweepOptions tune the anomaly sweep.
type SweepOptions struct {
	Ratio         float64
	MinConfidence float64
	DryRun        bool
}

// Correction records one rewritten active price.
type Correction struct {
	ProductID    int64
	Name         string
	UnitType     string
	OldPrice     decimal.Decimal
	NewPrice     decimal.Decimal
	Confidence   float64
	PreviousType Provenance
}

// SweepResult summarises an anomaly sweep.
type SweepResult struct {
	Corrected   int
	Corrections []Correction
	DryRun      bool
}
