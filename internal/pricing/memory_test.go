package pricing

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

type memoryStore struct {
	mu           sync.Mutex
	products     map[int64]ProductCard
	summaries    map[int64]Summary
	observations []Observation
	nextObsID    int64
	replaced     map[int64]int
	failReplace  map[int64]bool
}

type memoryTx struct {
	store   *memoryStore
	pending []func()
}

func newMemoryStore(cards ...ProductCard) *memoryStore {
	s := &memoryStore{
		products:    make(map[int64]ProductCard),
		summaries:   make(map[int64]Summary),
		replaced:    make(map[int64]int),
		failReplace: make(map[int64]bool),
	}
	for _, c := range cards {
		s.products[c.ID] = c
	}
	return s
}

func (s *memoryStore) addObservation(obs Observation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextObsID++
	obs.ID = s.nextObsID
	s.observations = append(s.observations, obs)
}

func (s *memoryStore) WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error {
	tx := &memoryTx{store: s}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, apply := range tx.pending {
		apply()
	}
	return nil
}

func (s *memoryStore) withSummary(card ProductCard) ProductCard {
	if sum, ok := s.summaries[card.ID]; ok {
		card.SummaryPrice = sum.EconomicalPrice
		card.SummaryConfidence = sum.Confidence
	}
	return card
}

func (s *memoryStore) GetProduct(_ context.Context, id int64) (ProductCard, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	card, ok := s.products[id]
	if !ok {
		return ProductCard{}, ErrProductNotFound
	}
	return s.withSummary(card), nil
}

func (s *memoryStore) ListVariants(_ context.Context, parentID int64) ([]ProductCard, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []ProductCard{}
	for _, card := range s.products {
		if card.ParentID != nil && *card.ParentID == parentID && card.ID != parentID {
			out = append(out, s.withSummary(card))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memoryStore) ListObservations(_ context.Context, productIDs []int64, since time.Time) ([]Observation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wanted := make(map[int64]bool, len(productIDs))
	for _, id := range productIDs {
		wanted[id] = true
	}
	out := []Observation{}
	for _, obs := range s.observations {
		if obs.ProductID == nil || !wanted[*obs.ProductID] || obs.ObservedAt.Before(since) {
			continue
		}
		out = append(out, obs)
	}
	return out, nil
}

func (s *memoryStore) ListObservedProducts(_ context.Context, since time.Time) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[int64]bool{}
	ids := []int64{}
	for _, obs := range s.observations {
		if obs.ProductID == nil || obs.ObservedAt.Before(since) || seen[*obs.ProductID] {
			continue
		}
		seen[*obs.ProductID] = true
		ids = append(ids, *obs.ProductID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *memoryStore) ListAnomalyCandidates(_ context.Context, minConfidence float64) ([]ProductCard, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []ProductCard{}
	for _, card := range s.products {
		card = s.withSummary(card)
		if card.SummaryConfidence >= minConfidence {
			out = append(out, card)
		}
	}
	return out, nil
}

func (s *memoryStore) CorrectAnomalies(_ context.Context, ratio, minConfidence float64) ([]Correction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cards := make([]ProductCard, 0, len(s.products))
	for _, card := range s.products {
		cards = append(cards, s.withSummary(card))
	}
	corrections := DetectAnomalies(cards, SweepOptions{Ratio: ratio, MinConfidence: minConfidence})
	for i, c := range corrections {
		card := s.products[c.ProductID]
		card.ActivePrice = c.NewPrice
		card.ActiveSource = SourceMarket
		s.products[c.ProductID] = card
		corrections[i].UnitType = s.summaries[c.ProductID].UnitType
	}
	return corrections, nil
}

func (s *memoryStore) SetParent(_ context.Context, productID int64, parentID *int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	card, ok := s.products[productID]
	if !ok {
		return ErrProductNotFound
	}
	card.ParentID = parentID
	s.products[productID] = card
	return nil
}

func (tx *memoryTx) DeleteObservationsOn(_ context.Context, productID int64, day time.Time) (int64, error) {
	tx.pending = append(tx.pending, func() {
		kept := tx.store.observations[:0]
		y, m, d := day.Date()
		for _, obs := range tx.store.observations {
			oy, om, od := obs.ObservedAt.Date()
			if obs.ProductID != nil && *obs.ProductID == productID && oy == y && om == m && od == d {
				continue
			}
			kept = append(kept, obs)
		}
		tx.store.observations = kept
	})
	return 0, nil
}

func (tx *memoryTx) InsertObservation(_ context.Context, obs Observation) (int64, error) {
	tx.pending = append(tx.pending, func() {
		tx.store.nextObsID++
		obs.ID = tx.store.nextObsID
		tx.store.observations = append(tx.store.observations, obs)
	})
	return 0, nil
}

func (tx *memoryTx) ReplaceSummary(_ context.Context, summary Summary) error {
	tx.store.mu.Lock()
	fail := tx.store.failReplace[summary.ProductID]
	tx.store.mu.Unlock()
	if fail {
		return errors.New("replace failed")
	}
	tx.pending = append(tx.pending, func() {
		tx.store.summaries[summary.ProductID] = summary
		tx.store.replaced[summary.ProductID]++
	})
	return nil
}

func int64Ptr(v int64) *int64 {
	return &v
}
