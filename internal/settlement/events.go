package settlement

import (
	"context"
	"sync"

	"github.com/alanyoungcy/bettogether/internal/domain"
)

// EventSink receives advisory market events. Emit is called after the
// market has released its lock and must not fail the operation that
// produced the event.
type EventSink interface {
	Emit(ctx context.Context, ev domain.MarketEvent)
}

// SinkFunc adapts a function to EventSink.
type SinkFunc func(ctx context.Context, ev domain.MarketEvent)

func (f SinkFunc) Emit(ctx context.Context, ev domain.MarketEvent) { f(ctx, ev) }

type nopSink struct{}

func (nopSink) Emit(context.Context, domain.MarketEvent) {}

// Recorder is an in-memory EventSink that keeps every event in order.
type Recorder struct {
	mu     sync.Mutex
	events []domain.MarketEvent
}

func (r *Recorder) Emit(_ context.Context, ev domain.MarketEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

// Events returns the recorded events.
func (r *Recorder) Events() []domain.MarketEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.MarketEvent(nil), r.events...)
}
