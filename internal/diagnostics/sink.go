// Package diagnostics collects warnings and correction events raised while
// resolving prices and rolling up costs. Emitting never blocks the caller.
package diagnostics

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aydarnuman/catering-pro-sub001/internal/units"
)

// Kind classifies diagnostic events.
type Kind string

const (
	KindConversionMismatch Kind = "conversion_mismatch"
	KindPriceCorrected     Kind = "price_corrected"
	KindCostChanged        Kind = "cost_changed"
	KindObservationSkipped Kind = "observation_skipped"
)

// Event is a single diagnostic record.
type Event struct {
	Kind       Kind
	Level      slog.Level
	EntityType string
	EntityID   int64
	Message    string
	Meta       map[string]any
	At         time.Time
}

// Writer persists events.
type Writer interface {
	InsertEvent(ctx context.Context, event Event) error
}

// Sink logs every event and hands it to a background writer through a bounded
// buffer. Events are dropped when the buffer is full.
type Sink struct {
	logger  *slog.Logger
	writer  Writer
	events  chan Event
	done    chan struct{}
	wg      sync.WaitGroup
	dropped atomic.Int64
	closed  atomic.Bool
	once    sync.Once
	clock   func() time.Time
}

// NewSink starts the background writer when writer is not nil.
func NewSink(writer Writer, logger *slog.Logger, buffer int) *Sink {
	if buffer <= 0 {
		buffer = 256
	}
	s := &Sink{
		logger: logger,
		writer: writer,
		done:   make(chan struct{}),
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
	if writer != nil {
		s.events = make(chan Event, buffer)
		s.wg.Add(1)
		go s.run()
	}
	return s
}

// Emit records the event. It is safe to call on a nil Sink.
func (s *Sink) Emit(ctx context.Context, event Event) {
	if s == nil {
		return
	}
	if event.At.IsZero() {
		event.At = s.clock()
	}
	attrs := []any{
		slog.String("kind", string(event.Kind)),
		slog.String("entity", event.EntityType),
		slog.Int64("entity_id", event.EntityID),
	}
	for k, v := range event.Meta {
		attrs = append(attrs, slog.Any(k, v))
	}
	s.log().Log(ctx, event.Level, event.Message, attrs...)

	if s.events == nil || s.closed.Load() {
		return
	}
	select {
	case s.events <- event:
	default:
		s.dropped.Add(1)
	}
}

// ConversionMismatch implements units.WarningSink.
func (s *Sink) ConversionMismatch(ctx context.Context, w units.MismatchWarning) {
	s.Emit(ctx, Event{
		Kind:       KindConversionMismatch,
		Level:      slog.LevelWarn,
		EntityType: "product",
		EntityID:   w.ProductID,
		Message:    "unit conversion mismatch",
		Meta: map[string]any{
			"product_name": w.ProductName,
			"from_unit":    w.From,
			"to_unit":      w.To,
			"reason":       w.Reason,
		},
	})
}

// Dropped reports how many events were discarded because the buffer was full.
func (s *Sink) Dropped() int64 {
	if s == nil {
		return 0
	}
	return s.dropped.Load()
}

// Close stops accepting events and waits for the writer to drain or for ctx to end.
func (s *Sink) Close(ctx context.Context) error {
	if s == nil {
		return nil
	}
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.done)
	})
	finished := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sink) run() {
	defer s.wg.Done()
	for {
		select {
		case event := <-s.events:
			s.write(event)
		case <-s.done:
			for {
				select {
				case event := <-s.events:
					s.write(event)
				default:
					return
				}
			}
		}
	}
}

func (s *Sink) write(event Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.writer.InsertEvent(ctx, event); err != nil {
		s.log().Warn("diagnostics write failed", slog.String("kind", string(event.Kind)), slog.Any("error", err))
	}
}

func (s *Sink) log() *slog.Logger {
	if s.logger != nil {
		return s.logger
	}
	return slog.Default()
}
