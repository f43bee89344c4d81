package diagnostics

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/aydarnuman/catering-pro-sub001/internal/units"
)

type memoryWriter struct {
	mu     sync.Mutex
	events []Event
	block  chan struct{}
	err    error
}

func (w *memoryWriter) InsertEvent(ctx context.Context, event Event) error {
	if w.block != nil {
		<-w.block
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.events = append(w.events, event)
	return w.err
}

func (w *memoryWriter) snapshot() []Event {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]Event, len(w.events))
	copy(out, w.events)
	return out
}

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestSinkWritesAndDrainsOnClose(t *testing.T) {
	writer := &memoryWriter{}
	sink := NewSink(writer, slog.Default(), 8)

	sink.ConversionMismatch(context.Background(), units.MismatchWarning{ProductID: 4, From: "adet", To: "kg", Reason: "class mismatch"})
	sink.Emit(context.Background(), Event{Kind: KindPriceCorrected, Level: slog.LevelInfo, EntityType: "product", EntityID: 5, Message: "active price corrected"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, sink.Close(ctx))

	events := writer.snapshot()
	require.Len(t, events, 2)
	require.Equal(t, KindConversionMismatch, events[0].Kind)
	require.Equal(t, int64(4), events[0].EntityID)
	require.Equal(t, "adet", events[0].Meta["from_unit"])
	require.False(t, events[0].At.IsZero())
	require.Equal(t, KindPriceCorrected, events[1].Kind)
}

func TestSinkDropsWhenFull(t *testing.T) {
	writer := &memoryWriter{block: make(chan struct{})}
	sink := NewSink(writer, slog.Default(), 1)

	for i := 0; i < 10; i++ {
		sink.Emit(context.Background(), Event{Kind: KindObservationSkipped, EntityID: int64(i)})
	}
	require.Positive(t, sink.Dropped())

	close(writer.block)
	require.NoError(t, sink.Close(context.Background()))
	require.LessOrEqual(t, len(writer.snapshot()), 2)
}

func TestSinkWithoutWriterOnlyLogs(t *testing.T) {
	sink := NewSink(nil, nil, 0)
	sink.Emit(context.Background(), Event{Kind: KindCostChanged})
	require.Zero(t, sink.Dropped())
	require.NoError(t, sink.Close(context.Background()))

	var nilSink *Sink
	nilSink.Emit(context.Background(), Event{})
	require.NoError(t, nilSink.Close(context.Background()))
}

func TestSinkWriterErrorsAreSwallowed(t *testing.T) {
	writer := &memoryWriter{err: errors.New("insert failed")}
	sink := NewSink(writer, nil, 4)
	sink.Emit(context.Background(), Event{Kind: KindCostChanged, EntityType: "recipe", EntityID: 1})
	require.NoError(t, sink.Close(context.Background()))
	require.Len(t, writer.snapshot(), 1)
}
