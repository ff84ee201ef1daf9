package progress

import (
	"context"
	"sync"
)

// Event is one progress increment. An event with Done set is terminal.
type Event struct {
	N    uint64
	Done bool
}

// Observer receives cumulative positions. Implementations must not block for
// long; they run on the aggregator's goroutine.
type Observer interface {
	Start(total uint64)
	Advance(pos, total uint64)
	Finish(pos, total uint64)
}

// Total returns the number of steps for units acquisition units: a download
// and a parse step per unit plus one persistence step, each of weight.
func Total(units int, weight uint64) uint64 {
	return uint64(units)*weight*2 + weight
}

// Aggregator is the single consumer of worker progress events.
type Aggregator struct {
	events   chan Event
	total    uint64
	observer Observer
	done     chan struct{}
	once     sync.Once

	mu  sync.Mutex
	pos uint64
}

// NewAggregator creates an aggregator whose channel can hold a final event
// from every worker plus the terminal event without blocking.
func NewAggregator(total uint64, workers int, observer Observer) *Aggregator {
	if observer == nil {
		observer = Discard{}
	}
	return &Aggregator{
		events:   make(chan Event, 2*max(workers, 1)+1),
		total:    total,
		observer: observer,
		done:     make(chan struct{}),
	}
}

// Events returns the shared send side of the channel.
func (a *Aggregator) Events() chan<- Event { return a.events }

// Total returns the precomputed step count.
func (a *Aggregator) Total() uint64 { return a.total }

// Position returns the cumulative position consumed so far.
func (a *Aggregator) Position() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pos
}

// Run consumes events until a terminal event arrives or ctx is cancelled,
// and returns the final position. The position never exceeds the total.
func (a *Aggregator) Run(ctx context.Context) uint64 {
	defer a.once.Do(func() { close(a.done) })

	a.observer.Start(a.total)
	for {
		select {
		case <-ctx.Done():
			pos := a.Position()
			a.observer.Finish(pos, a.total)
			return pos
		case ev := <-a.events:
			if ev.Done {
				pos := a.advance(ev.N)
				a.observer.Finish(pos, a.total)
				return pos
			}
			if ev.N == 0 {
				continue
			}
			a.observer.Advance(a.advance(ev.N), a.total)
		}
	}
}

// Finish sends the terminal event and waits for Run to return.
func (a *Aggregator) Finish(ctx context.Context) {
	_ = Send(ctx, a.events, 0, true)
	select {
	case <-a.done:
	case <-ctx.Done():
	}
}

// Done is closed once Run has returned.
func (a *Aggregator) Done() <-chan struct{} { return a.done }

func (a *Aggregator) advance(n uint64) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pos = min(a.pos+n, a.total)
	return a.pos
}

// Send delivers an event, blocking while the channel is full. It gives up
// when ctx is cancelled so a stopped consumer cannot wedge a producer.
func Send(ctx context.Context, ch chan<- Event, n uint64, done bool) error {
	select {
	case ch <- Event{N: n, Done: done}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Discard is an Observer that ignores everything.
type Discard struct{}

func (Discard) Start(uint64)           {}
func (Discard) Advance(uint64, uint64) {}
func (Discard) Finish(uint64, uint64)  {}
