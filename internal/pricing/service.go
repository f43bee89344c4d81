package pricing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/aydarnuman/catering-pro-sub001/internal/diagnostics"
	"github.com/aydarnuman/catering-pro-sub001/internal/pricing/nameparse"
)

// TxStore exposes the writes that must happen atomically.
type TxStore interface {
	DeleteObservationsOn(ctx context.Context, productID int64, day time.Time) (int64, error)
	InsertObservation(ctx context.Context, obs Observation) (int64, error)
	ReplaceSummary(ctx context.Context, summary Summary) error
}

// Store abstracts persistence used by Service.
type Store interface {
	WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error
	GetProduct(ctx context.Context, id int64) (ProductCard, error)
	ListVariants(ctx context.Context, parentID int64) ([]ProductCard, error)
	ListObservations(ctx context.Context, productIDs []int64, since time.Time) ([]Observation, error)
	ListObservedProducts(ctx context.Context, since time.Time) ([]int64, error)
	ListAnomalyCandidates(ctx context.Context, minConfidence float64) ([]ProductCard, error)
	CorrectAnomalies(ctx context.Context, ratio, minConfidence float64) ([]Correction, error)
	SetParent(ctx context.Context, productID int64, parentID *int64) error
}

// NameParser extracts brand and package size from product names.
type NameParser interface {
	Parse(name string) nameparse.Result
}

// EventSink receives diagnostic events. Emit must not block.
type EventSink interface {
	Emit(ctx context.Context, event diagnostics.Event)
}

// CorrectionRecorder counts rewritten active prices.
type CorrectionRecorder interface {
	AddCorrections(unitType string, count int)
}

// Config tunes the service.
type Config struct {
	Freshness     time.Duration
	Window        time.Duration
	Band          Band
	Ceilings      map[string]decimal.Decimal
	MaxBatch      int
	AnomalyRatio  float64
	MinConfidence float64
}

// DefaultWindow is how far back observations feed a summary.
const DefaultWindow = 30 * 24 * time.Hour

// DefaultMaxBatch caps how many observations one ingestion call stores.
const DefaultMaxBatch = 20

func (c Config) withDefaults() Config {
	if c.Freshness <= 0 {
		c.Freshness = DefaultFreshness
	}
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	c.Band = c.Band.normalized()
	if c.MaxBatch <= 0 {
		c.MaxBatch = DefaultMaxBatch
	}
	if c.AnomalyRatio <= 0 {
		c.AnomalyRatio = DefaultAnomalyRatio
	}
	if c.MinConfidence <= 0 {
		c.MinConfidence = DefaultAnomalyMinConfidence
	}
	return c
}

// Service resolves prices and maintains price summaries.
type Service struct {
	store    Store
	resolver *Resolver
	parser   NameParser
	ceiling  CeilingFilter
	sink     EventSink
	metrics  CorrectionRecorder
	logger   *slog.Logger
	cfg      Config
	clock    func() time.Time
	flight   singleflight.Group
}

// Options carries optional collaborators.
type Options struct {
	Parser  NameParser
	Sink    EventSink
	Metrics CorrectionRecorder
	Logger  *slog.Logger
	Clock   func() time.Time
}

// NewService builds Service.
func NewService(store Store, cfg Config, opts Options) *Service {
	cfg = cfg.withDefaults()
	clock := opts.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	var parser NameParser = nameparse.New()
	if opts.Parser != nil {
		parser = opts.Parser
	}
	return &Service{
		store:    store,
		resolver: NewResolver(cfg.Freshness, clock),
		parser:   parser,
		ceiling:  NewCeilingFilter(cfg.Ceilings),
		sink:     opts.Sink,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
		cfg:      cfg,
		clock:    clock,
	}
}

// ResolvePrice resolves the canonical price of a product.
func (s *Service) ResolvePrice(ctx context.Context, productID int64) (Resolution, error) {
	return s.ResolvePriceWithPreference(ctx, productID, PreferenceAuto)
}

// ResolvePriceWithPreference resolves a product price restricted to a preference.
func (s *Service) ResolvePriceWithPreference(ctx context.Context, productID int64, pref Preference) (Resolution, error) {
	card, err := s.store.GetProduct(ctx, productID)
	if err != nil {
		return Resolution{}, err
	}
	return s.ResolveCard(ctx, card, pref)
}

// ResolveCard resolves an already loaded card. The variant lookup only runs
// when nothing else prices the card.
func (s *Service) ResolveCard(ctx context.Context, card ProductCard, pref Preference) (Resolution, error) {
	res := s.resolver.ResolveWithPreference(card, decimal.NullDecimal{}, pref)
	if !res.Unpriced || card.IsVariant() || (pref != PreferenceAuto && pref != "") {
		return res, nil
	}
	variant, err := s.BestVariantPrice(ctx, card.ID)
	if err != nil {
		return Resolution{}, err
	}
	if !variant.Valid {
		return res, nil
	}
	return s.resolver.ResolveWithPreference(card, variant, pref), nil
}

// BestVariantPrice returns the lowest positive resolved price among the
// direct variants of parentID, or an invalid NullDecimal when none is priced.
// Variants are resolved without their own variant fallback.
func (s *Service) BestVariantPrice(ctx context.Context, parentID int64) (decimal.NullDecimal, error) {
	v, err, _ := s.flight.Do("variant:"+strconv.FormatInt(parentID, 10), func() (any, error) {
		variants, err := s.store.ListVariants(ctx, parentID)
		if err != nil {
			return decimal.NullDecimal{}, fmt.Errorf("pricing: list variants: %w", err)
		}
		return cheapestVariant(s.resolver, parentID, variants), nil
	})
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return v.(decimal.NullDecimal), nil
}

// ParentProduct returns the direct parent of productID, or nil when the
// product is not a variant or does not exist.
func (s *Service) ParentProduct(ctx context.Context, productID int64) (*int64, error) {
	card, err := s.store.GetProduct(ctx, productID)
	if errors.Is(err, ErrProductNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if parentID, ok := parentOf(card); ok {
		return &parentID, nil
	}
	return nil, nil
}

// AssignParent makes productID a variant of parentID, or detaches it when
// parentID is nil. Variants are one level deep.
func (s *Service) AssignParent(ctx context.Context, productID int64, parentID *int64) error {
	card, err := s.store.GetProduct(ctx, productID)
	if err != nil {
		return err
	}
	if parentID != nil {
		parent, err := s.store.GetProduct(ctx, *parentID)
		if err != nil {
			return err
		}
		if err := ValidateParent(card, &parent); err != nil {
			return err
		}
		children, err := s.store.ListVariants(ctx, productID)
		if err != nil {
			return fmt.Errorf("pricing: list variants: %w", err)
		}
		if len(children) > 0 {
			return ErrVariantCycle
		}
	}
	if err := s.store.SetParent(ctx, productID, parentID); err != nil {
		return fmt.Errorf("pricing: set parent: %w", err)
	}
	for _, id := range []*int64{card.ParentID, parentID} {
		if id == nil {
			continue
		}
		if _, err := s.refreshParent(ctx, *id); err != nil {
			s.log().Warn("parent summary refresh failed", slog.Int64("parent_id", *id), slog.Any("error", err))
		}
	}
	return nil
}

// RefreshPriceSummary recomputes the summary of one product and then the
// summary of its direct parent, if any.
func (s *Service) RefreshPriceSummary(ctx context.Context, productID int64) (RefreshResult, error) {
	return s.refresh(ctx, productID, true)
}

func (s *Service) refresh(ctx context.Context, productID int64, cascade bool) (RefreshResult, error) {
	card, err := s.store.GetProduct(ctx, productID)
	if err != nil {
		return RefreshResult{}, err
	}
	now := s.clock()
	observations, err := s.store.ListObservations(ctx, []int64{productID}, now.Add(-s.cfg.Window))
	if err != nil {
		return RefreshResult{}, fmt.Errorf("pricing: list observations: %w", err)
	}
	result := RefreshResult{ProductID: productID}
	if summary, ok := Aggregate(productID, observations, s.cfg.Band, now); ok {
		if err := s.replaceSummary(ctx, summary); err != nil {
			return RefreshResult{}, err
		}
		result.Written = true
		result.Summary = summary
	} else {
		s.log().Debug("no retained observations, summary kept", slog.Int64("product_id", productID), slog.Int("observations", len(observations)))
	}

	if parentID, ok := parentOf(card); ok {
		result.ParentID = &parentID
		if cascade {
			written, err := s.refreshParent(ctx, parentID)
			if err != nil {
				s.log().Warn("parent summary refresh failed", slog.Int64("product_id", productID), slog.Int64("parent_id", parentID), slog.Any("error", err))
			}
			result.ParentWritten = written
		}
	}
	return result, nil
}

// refreshParent summarises the parent's own observations together with those
// of its variants. It never cascades further.
func (s *Service) refreshParent(ctx context.Context, parentID int64) (bool, error) {
	v, err, _ := s.flight.Do("parent:"+strconv.FormatInt(parentID, 10), func() (any, error) {
		variants, err := s.store.ListVariants(ctx, parentID)
		if err != nil {
			return false, fmt.Errorf("pricing: list variants: %w", err)
		}
		ids := []int64{parentID}
		for _, variant := range variants {
			if variant.ID != parentID {
				ids = append(ids, variant.ID)
			}
		}
		now := s.clock()
		observations, err := s.store.ListObservations(ctx, ids, now.Add(-s.cfg.Window))
		if err != nil {
			return false, fmt.Errorf("pricing: list observations: %w", err)
		}
		summary, ok := Aggregate(parentID, observations, s.cfg.Band, now)
		if !ok {
			return false, nil
		}
		if err := s.replaceSummary(ctx, summary); err != nil {
			return false, err
		}
		return true, nil
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

func (s *Service) replaceSummary(ctx context.Context, summary Summary) error {
	err := s.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		return tx.ReplaceSummary(ctx, summary)
	})
	if err != nil {
		return fmt.Errorf("pricing: replace summary %d: %w", summary.ProductID, err)
	}
	return nil
}

// RefreshReport summarises a bulk summary refresh.
type RefreshReport struct {
	Refreshed int
	Unchanged int
	Parents   int
	Failed    map[int64]error
	// Written lists every product whose summary was rewritten, parents
	// included, in refresh order.
	Written []int64
}

// RefreshAll refreshes every product observed within the window. Parents of
// refreshed variants are refreshed once at the end.
func (s *Service) RefreshAll(ctx context.Context) (RefreshReport, error) {
	ids, err := s.store.ListObservedProducts(ctx, s.clock().Add(-s.cfg.Window))
	if err != nil {
		return RefreshReport{}, fmt.Errorf("pricing: list observed products: %w", err)
	}
	report := RefreshReport{Failed: make(map[int64]error)}
	parents := make(map[int64]struct{})
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		res, err := s.refresh(ctx, id, false)
		if err != nil {
			report.Failed[id] = err
			s.log().Warn("summary refresh failed", slog.Int64("product_id", id), slog.Any("error", err))
			continue
		}
		if res.Written {
			report.Refreshed++
			report.Written = append(report.Written, id)
		} else {
			report.Unchanged++
		}
		if res.ParentID != nil {
			parents[*res.ParentID] = struct{}{}
		}
	}
	for parentID := range parents {
		written, err := s.refreshParent(ctx, parentID)
		if err != nil {
			report.Failed[parentID] = err
			continue
		}
		if written {
			report.Parents++
			report.Written = append(report.Written, parentID)
		}
	}
	return report, nil
}

// RecordObservations stores a batch of observations for one product after
// unit fix-up and ceiling filtering, then refreshes the product summary.
func (s *Service) RecordObservations(ctx context.Context, batch ObservationBatch) (BatchOutcome, error) {
	if len(batch.Observations) == 0 {
		return BatchOutcome{}, nil
	}
	if batch.ProductID == nil && batch.ProductName == "" {
		return BatchOutcome{}, fmt.Errorf("%w: product id or name required", ErrInvalidBatch)
	}
	defaultUnit := ""
	if batch.ProductID != nil {
		card, err := s.store.GetProduct(ctx, *batch.ProductID)
		if err != nil {
			return BatchOutcome{}, err
		}
		defaultUnit = card.DefaultUnit
	}
	limit := batch.MaxRecords
	if limit <= 0 || limit > s.cfg.MaxBatch {
		limit = s.cfg.MaxBatch
	}
	inputs := batch.Observations
	if len(inputs) > limit {
		inputs = inputs[:limit]
	}

	now := s.clock()
	outcome := BatchOutcome{}
	accepted := make([]Observation, 0, len(inputs))
	for _, in := range inputs {
		obs := s.buildObservation(batch, in, defaultUnit, now)
		if !s.ceiling.Allow(obs.UnitType, obs.UnitPrice) {
			outcome.Skipped++
			s.emit(ctx, diagnostics.Event{
				Kind:       diagnostics.KindObservationSkipped,
				Level:      slog.LevelDebug,
				EntityType: "product",
				EntityID:   derefInt64(batch.ProductID),
				Message:    "observation rejected by unit price ceiling",
				Meta: map[string]any{
					"product_name": obs.ProductName,
					"unit_price":   obs.UnitPrice.String(),
					"unit_type":    obs.UnitType,
					"ceiling":      s.ceiling.Ceiling(obs.UnitType).String(),
					"source":       obs.Source,
				},
			})
			continue
		}
		accepted = append(accepted, obs)
	}

	err := s.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		if !batch.KeepToday && batch.ProductID != nil {
			if _, err := tx.DeleteObservationsOn(ctx, *batch.ProductID, now); err != nil {
				return err
			}
		}
		for _, obs := range accepted {
			if _, err := tx.InsertObservation(ctx, obs); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return BatchOutcome{}, fmt.Errorf("pricing: record observations: %w", err)
	}
	outcome.Saved = len(accepted)

	if outcome.Saved > 0 && batch.ProductID != nil {
		refresh, err := s.RefreshPriceSummary(ctx, *batch.ProductID)
		if err != nil {
			return outcome, err
		}
		outcome.Refresh = &refresh
	}
	return outcome, nil
}

func (s *Service) buildObservation(batch ObservationBatch, in ObservationInput, defaultUnit string, now time.Time) Observation {
	name := in.ProductName
	if name == "" {
		name = batch.ProductName
	}
	parsed := s.parser.Parse(name)
	brand := parsed.Brand
	if brand == "" {
		brand = in.Brand
	}
	packageSize := parsed.PackageSize
	if packageSize == nil {
		packageSize = in.PackageSize
	}
	unitPrice := in.UnitPrice
	if !unitPrice.IsPositive() {
		unitPrice = in.PackagePrice
	}
	rawUnit := in.UnitType
	if rawUnit == "" {
		rawUnit = UnitPiece
	}
	source := in.Source
	if source == "" {
		source = "Piyasa"
	}
	searchTerm := in.SearchTerm
	if searchTerm == "" {
		searchTerm = batch.SearchTerm
	}
	kind := batch.SourceKind
	if kind == "" {
		kind = "market"
	}
	return Observation{
		ProductID:    batch.ProductID,
		StockItemID:  batch.StockItemID,
		ProductName:  name,
		Source:       source,
		Brand:        brand,
		PackagePrice: in.PackagePrice,
		UnitPrice:    unitPrice,
		UnitType:     FixUnitType(rawUnit, defaultUnit, packageSize),
		PackageSize:  packageSize,
		Metadata: map[string]any{
			"barcode":       in.Barcode,
			"raw_unit_type": rawUnit,
			"source_kind":   kind,
		},
		ObservedAt: now,
		MatchScore: in.MatchScore,
		SearchTerm: searchTerm,
	}
}

// RunAnomalySweep rewrites active prices that exceed a confident market
// summary by more than the ratio. Running it twice changes nothing the second time.
func (s *Service) RunAnomalySweep(ctx context.Context, opts SweepOptions) (SweepResult, error) {
	if opts.Ratio <= 0 {
		opts.Ratio = s.cfg.AnomalyRatio
	}
	if opts.MinConfidence <= 0 {
		opts.MinConfidence = s.cfg.MinConfidence
	}
	logger := s.log().With(slog.Float64("ratio", opts.Ratio), slog.Float64("min_confidence", opts.MinConfidence), slog.Bool("dry_run", opts.DryRun))

	var corrections []Correction
	if opts.DryRun {
		cards, err := s.store.ListAnomalyCandidates(ctx, opts.MinConfidence)
		if err != nil {
			return SweepResult{}, fmt.Errorf("pricing: list anomaly candidates: %w", err)
		}
		corrections = DetectAnomalies(cards, opts)
	} else {
		var err error
		corrections, err = s.store.CorrectAnomalies(ctx, opts.Ratio, opts.MinConfidence)
		if err != nil {
			logger.Error("anomaly sweep failed", slog.Any("error", err))
			return SweepResult{}, fmt.Errorf("pricing: correct anomalies: %w", err)
		}
		for _, c := range corrections {
			s.emit(ctx, diagnostics.Event{
				Kind:       diagnostics.KindPriceCorrected,
				Level:      slog.LevelInfo,
				EntityType: "product",
				EntityID:   c.ProductID,
				Message:    "active price replaced by market summary",
				Meta: map[string]any{
					"product_name":  c.Name,
					"old_price":     c.OldPrice.String(),
					"new_price":     c.NewPrice.String(),
					"confidence":    c.Confidence,
					"previous_type": string(c.PreviousType),
				},
			})
			if s.metrics != nil {
				s.metrics.AddCorrections(c.UnitType, 1)
			}
		}
	}
	logger.Info("anomaly sweep completed", slog.Int("corrected", len(corrections)))
	return SweepResult{Corrected: len(corrections), Corrections: corrections, DryRun: opts.DryRun}, nil
}

func (s *Service) emit(ctx context.Context, event diagnostics.Event) {
	if s.sink != nil {
		s.sink.Emit(ctx, event)
	}
}

func (s *Service) log() *slog.Logger {
	if s.logger != nil {
		return s.logger
	}
	return slog.Default()
}

// IsNotFound reports whether err means the product does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrProductNotFound)
}

func derefInt64(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}
